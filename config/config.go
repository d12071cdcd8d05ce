// Package config loads authkit settings from a file and the environment.
//
// Files may be YAML, TOML or JSON. Every key can be overridden by an
// environment variable with the AUTHKIT_ prefix, nested keys joined by
// underscores (cache.ttl becomes AUTHKIT_CACHE_TTL).
package config

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"

	authkit "github.com/chimerakang/authkit-go"
	"github.com/chimerakang/authkit-go/backend/local"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "AUTHKIT"

// Defaults for the listener settings.
const (
	DefaultHTTPListen = ":8080"
	DefaultGRPCListen = ""
)

// Settings is the full on-disk configuration.
type Settings struct {
	Secret        string        `mapstructure:"secret"`
	Issuer        string        `mapstructure:"issuer"`
	TokenLifetime time.Duration `mapstructure:"token_lifetime"`

	Cache struct {
		TTL        time.Duration `mapstructure:"ttl"`
		MaxEntries int           `mapstructure:"max_entries"`
	} `mapstructure:"cache"`

	RateLimit struct {
		General int `mapstructure:"general"`
		Auth    int `mapstructure:"auth"`
	} `mapstructure:"rate_limit"`

	HTTP struct {
		Listen string `mapstructure:"listen"`
		// TrustedProxies are the IPs or CIDRs whose X-Forwarded-For header
		// is believed. Empty means the peer address is the client.
		TrustedProxies []string `mapstructure:"trusted_proxies"`
	} `mapstructure:"http"`

	GRPC struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"grpc"`

	// Store.Path is the SQLite database file. Empty keeps users in memory.
	Store struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"store"`

	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`

	Audit struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"audit"`

	// Admin enables the /admin user-management routes, authenticated with
	// HTTP basic auth against these master credentials.
	Admin struct {
		Username     string `mapstructure:"username"`
		PasswordHash string `mapstructure:"password_hash"`
	} `mapstructure:"admin"`

	// Users are created in the local store at startup if absent.
	Users []User `mapstructure:"users"`
}

// User is a seed account. Exactly one of Password and PasswordHash is set.
type User struct {
	Username     string   `mapstructure:"username"`
	Password     string   `mapstructure:"password"`
	PasswordHash string   `mapstructure:"password_hash"`
	Groups       []string `mapstructure:"groups"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("secret", "")
	v.SetDefault("issuer", "")
	v.SetDefault("token_lifetime", authkit.DefaultTokenLifetime)
	v.SetDefault("cache.ttl", authkit.DefaultCacheTTL)
	v.SetDefault("cache.max_entries", authkit.DefaultCacheMaxEntries)
	v.SetDefault("rate_limit.general", authkit.DefaultGeneralRateLimit)
	v.SetDefault("rate_limit.auth", authkit.DefaultAuthRateLimit)
	v.SetDefault("http.listen", DefaultHTTPListen)
	v.SetDefault("http.trusted_proxies", []string{})
	v.SetDefault("grpc.listen", DefaultGRPCListen)
	v.SetDefault("store.path", "")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("audit.enabled", true)
	v.SetDefault("admin.username", "")
	v.SetDefault("admin.password_hash", "")
}

// Load reads path (if non-empty), applies environment overrides and
// validates the result.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("authkit/config: read %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("authkit/config: decode: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Config returns the toolkit configuration part of s.
func (s *Settings) Config() authkit.Config {
	return authkit.Config{
		Secret:           s.Secret,
		Issuer:           s.Issuer,
		TokenLifetime:    s.TokenLifetime,
		CacheTTL:         s.Cache.TTL,
		CacheMaxEntries:  s.Cache.MaxEntries,
		GeneralRateLimit: s.RateLimit.General,
		AuthRateLimit:    s.RateLimit.Auth,
	}
}

// Validate checks the toolkit settings and the seed users.
func (s *Settings) Validate() error {
	if err := s.Config().WithDefaults().Validate(); err != nil {
		return fmt.Errorf("authkit/config: %w", err)
	}
	if (s.Admin.Username == "") != (s.Admin.PasswordHash == "") {
		return fmt.Errorf("authkit/config: admin needs both username and password_hash: %w", authkit.ErrInvalidConfig)
	}
	for _, p := range s.HTTP.TrustedProxies {
		if !validProxy(p) {
			return fmt.Errorf("authkit/config: http.trusted_proxies: %q is not an IP or CIDR: %w", p, authkit.ErrInvalidConfig)
		}
	}
	seen := make(map[string]bool, len(s.Users))
	for i, u := range s.Users {
		switch {
		case u.Username == "":
			return fmt.Errorf("authkit/config: users[%d]: username is required: %w", i, authkit.ErrInvalidConfig)
		case seen[u.Username]:
			return fmt.Errorf("authkit/config: users[%d]: duplicate username %q: %w", i, u.Username, authkit.ErrInvalidConfig)
		case (u.Password == "") == (u.PasswordHash == ""):
			return fmt.Errorf("authkit/config: user %q: set exactly one of password and password_hash: %w", u.Username, authkit.ErrInvalidConfig)
		}
		seen[u.Username] = true
	}
	return nil
}

func validProxy(s string) bool {
	if strings.Contains(s, "/") {
		_, err := netip.ParsePrefix(s)
		return err == nil
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

// Seed creates the configured users in p's store. Existing accounts are
// left untouched. It returns how many users were created.
func Seed(ctx context.Context, p *local.Provider, users []User) (int, error) {
	created := 0
	for _, u := range users {
		var err error
		if u.PasswordHash != "" {
			err = p.Store().CreateUser(ctx, local.NewUserRecord(u.Username, u.PasswordHash, u.Groups...))
		} else {
			err = p.AddUser(ctx, u.Username, u.Password, u.Groups...)
		}
		switch {
		case errors.Is(err, local.ErrUserExists):
			continue
		case err != nil:
			return created, fmt.Errorf("authkit/config: seed %q: %w", u.Username, err)
		}
		created++
	}
	return created, nil
}
