package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chimerakang/authkit-go/backend/local"
)

func newUsersCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage accounts in a SQLite user store",
	}
	cmd.PersistentFlags().String("db", "", "Path to the SQLite user database (default: store.path setting)")
	_ = v.BindPFlag("db", cmd.PersistentFlags().Lookup("db"))

	cmd.AddCommand(
		newUsersListCmd(v),
		newUsersAddCmd(v),
		newUsersDeleteCmd(v),
		newUsersPasswdCmd(v),
		newUsersGroupsCmd(v),
		newUsersEnableCmd(v, true),
		newUsersEnableCmd(v, false),
	)
	return cmd
}

// withProvider opens the user store named by --db, or by store.path in the
// configuration file, and runs fn against it.
func withProvider(ctx context.Context, v *viper.Viper, fn func(*local.Provider) error) error {
	path := v.GetString("db")
	if path == "" {
		s, err := loadSettings(v)
		if err != nil {
			return err
		}
		path = s.Store.Path
	}
	if path == "" {
		return errors.New("no user database: set --db or store.path")
	}

	store, err := local.OpenSQLite(ctx, path)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(local.NewProvider(store))
}

func newUsersListCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProvider(cmd.Context(), v, func(p *local.Provider) error {
				users, err := p.Store().ListUsers(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "USERNAME\tENABLED\tGROUPS\tUPDATED")
				for _, u := range users {
					fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", u.Username, u.Enabled,
						strings.Join(u.Groups, ","), time.Unix(u.UpdatedAt, 0).UTC().Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}
}

func newUsersAddCmd(v *viper.Viper) *cobra.Command {
	var groups []string
	cmd := &cobra.Command{
		Use:   "add <username> <password>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProvider(cmd.Context(), v, func(p *local.Provider) error {
				return p.AddUser(cmd.Context(), args[0], args[1], groups...)
			})
		},
	}
	cmd.Flags().StringSliceVar(&groups, "group", nil, "Group membership (repeatable)")
	return cmd
}

func newUsersDeleteCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <username>",
		Short: "Remove an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProvider(cmd.Context(), v, func(p *local.Provider) error {
				return p.Store().DeleteUser(cmd.Context(), args[0])
			})
		},
	}
}

func newUsersPasswdCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "passwd <username> <password>",
		Short: "Replace an account's password",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProvider(cmd.Context(), v, func(p *local.Provider) error {
				return p.SetPassword(cmd.Context(), args[0], args[1])
			})
		},
	}
}

func newUsersGroupsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "groups <username> [group...]",
		Short: "Replace an account's groups",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProvider(cmd.Context(), v, func(p *local.Provider) error {
				return p.Store().UpdateGroups(cmd.Context(), args[0], args[1:])
			})
		},
	}
}

func newUsersEnableCmd(v *viper.Viper, enabled bool) *cobra.Command {
	use, short := "enable <username>", "Allow an account to log in"
	if !enabled {
		use, short = "disable <username>", "Prevent an account from logging in"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProvider(cmd.Context(), v, func(p *local.Provider) error {
				return p.Store().SetEnabled(cmd.Context(), args[0], enabled)
			})
		},
	}
}
