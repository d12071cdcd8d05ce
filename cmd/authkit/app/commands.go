// Package app provides the authkit command-line application.
package app

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chimerakang/authkit-go/config"
)

// NewRootCmd creates the root command. Each call returns an independent
// command tree with its own flag bindings.
func NewRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:               "authkit",
		DisableAutoGenTag: true,
		Short:             "Issue and validate session tokens",
		Long: `authkit authenticates users against a local credential store, issues
signed session tokens and validates them on every request.

It can run as an HTTP (and optionally gRPC) service or be used offline
to hash passwords, mint and inspect tokens and manage users.`,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			slog.SetDefault(newLogger(cmd.ErrOrStderr(), v.GetBool("debug")))
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	_ = v.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML, TOML or JSON)")
	_ = v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(newServeCmd(v))
	rootCmd.AddCommand(newHashPasswordCmd())
	rootCmd.AddCommand(newTokenCmd(v))
	rootCmd.AddCommand(newUsersCmd(v))

	// Silence printing the usage on error
	rootCmd.SilenceUsage = true

	return rootCmd
}

// newLogger returns a JSON logger, or a text logger at debug level.
func newLogger(w io.Writer, debug bool) *slog.Logger {
	if debug {
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(w, nil))
}

func loadSettings(v *viper.Viper) (*config.Settings, error) {
	return config.Load(v.GetString("config"))
}
