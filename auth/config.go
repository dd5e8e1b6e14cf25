package auth

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Spotify Accounts and Web API defaults
const (
	DefaultAuthURL  = "https://accounts.spotify.com/authorize"
	DefaultTokenURL = "https://accounts.spotify.com/api/token"
	DefaultAPIURL   = "https://api.spotify.com/v1"
	DefaultEnvFile  = ".env"

	DefaultHTTPTimeout     = 30 * time.Second
	DefaultCallbackTimeout = 5 * time.Minute
)

// DefaultScopes are the capabilities requested for a stats-style app.
var DefaultScopes = []string{
	"user-read-currently-playing",
	"user-read-recently-played",
	"user-top-read",
}

// Config captures the tool configuration loaded from YAML and environment variables.
type Config struct {
	Provider        ProviderConfig `yaml:"provider"`
	Scopes          []string       `yaml:"scopes"`
	ClientID        string         `yaml:"client_id,omitempty"`
	RedirectURI     string         `yaml:"redirect_uri,omitempty"`
	EnvFile         string         `yaml:"env_file"`
	HTTPTimeout     string         `yaml:"http_timeout"`
	CallbackTimeout string         `yaml:"callback_timeout"`
}

// ProviderConfig holds the endpoints of the authorization server and the Web API.
type ProviderConfig struct {
	AuthURL  string `yaml:"auth_url"`
	TokenURL string `yaml:"token_url"`
	APIURL   string `yaml:"api_url"`
}

// LoadConfig reads the YAML config file and merges environment overrides.
// An empty path yields the defaults plus overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		decoder := yaml.NewDecoder(bytes.NewReader(stripYAMLComments(b)))
		decoder.KnownFields(true)

		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
				slog.Error("configuration contains unknown keys", "error", err, "file", path)
				return Config{}, fmt.Errorf("invalid config: %w (check for typos)", err)
			}
			slog.Error("failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Provider: ProviderConfig{
			AuthURL:  DefaultAuthURL,
			TokenURL: DefaultTokenURL,
			APIURL:   DefaultAPIURL,
		},
		Scopes:          append([]string(nil), DefaultScopes...),
		EnvFile:         DefaultEnvFile,
		HTTPTimeout:     DefaultHTTPTimeout.String(),
		CallbackTimeout: DefaultCallbackTimeout.String(),
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

// WriteConfig marshals cfg as YAML and writes it to path.
func WriteConfig(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func stripYAMLComments(in []byte) []byte {
	lines := bytes.Split(in, []byte("\n"))
	out := make([][]byte, 0, len(lines))
	for _, line := range lines {
		trim := bytes.TrimLeft(line, " \t")
		if len(trim) > 0 && trim[0] == '#' {
			continue
		}
		out = append(out, line)
	}
	return bytes.Join(out, []byte("\n"))
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"SPOTOKEN_AUTH_URL":         func(v string) { cfg.Provider.AuthURL = v },
		"SPOTOKEN_TOKEN_URL":        func(v string) { cfg.Provider.TokenURL = v },
		"SPOTOKEN_API_URL":          func(v string) { cfg.Provider.APIURL = v },
		"SPOTOKEN_SCOPES":           func(v string) { cfg.Scopes = splitScopes(v) },
		"SPOTOKEN_CLIENT_ID":        func(v string) { cfg.ClientID = v },
		"SPOTOKEN_REDIRECT_URI":     func(v string) { cfg.RedirectURI = v },
		"SPOTOKEN_ENV_FILE":         func(v string) { cfg.EnvFile = v },
		"SPOTOKEN_HTTP_TIMEOUT":     func(v string) { cfg.HTTPTimeout = v },
		"SPOTOKEN_CALLBACK_TIMEOUT": func(v string) { cfg.CallbackTimeout = v },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

// splitScopes accepts both space and comma separated lists.
func splitScopes(val string) []string {
	return strings.Fields(strings.ReplaceAll(val, ",", " "))
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// HTTPTimeoutDuration returns the token and API request timeout.
func (c Config) HTTPTimeoutDuration() time.Duration {
	return parseDuration(c.HTTPTimeout, DefaultHTTPTimeout)
}

// CallbackTimeoutDuration bounds how long the loopback listener waits.
func (c Config) CallbackTimeoutDuration() time.Duration {
	return parseDuration(c.CallbackTimeout, DefaultCallbackTimeout)
}

// Validate performs sanity checks on the config.
func (c Config) Validate() error {
	endpoints := []struct {
		field string
		value string
	}{
		{"provider.auth_url", c.Provider.AuthURL},
		{"provider.token_url", c.Provider.TokenURL},
		{"provider.api_url", c.Provider.APIURL},
	}
	for _, e := range endpoints {
		if e.value == "" {
			slog.Error("missing required configuration", "field", e.field)
			return fmt.Errorf("%s is required", e.field)
		}
		if !strings.HasPrefix(e.value, "http://") && !strings.HasPrefix(e.value, "https://") {
			slog.Error("invalid configuration value", "field", e.field, "value", e.value, "reason", "must start with http:// or https://")
			return fmt.Errorf("%s must start with http:// or https://, got: %s", e.field, e.value)
		}
	}

	if len(c.Scopes) == 0 {
		slog.Error("missing required configuration", "field", "scopes")
		return errors.New("at least one scope is required")
	}

	if c.RedirectURI != "" {
		if err := ValidateRedirectURI(c.RedirectURI); err != nil {
			slog.Error("invalid redirect URI", "field", "redirect_uri", "value", c.RedirectURI, "error", err)
			return fmt.Errorf("redirect_uri: %w", err)
		}
	}

	if strings.TrimSpace(c.EnvFile) == "" {
		slog.Error("missing required configuration", "field", "env_file")
		return errors.New("env_file is required")
	}

	durations := []struct {
		field string
		value string
	}{
		{"http_timeout", c.HTTPTimeout},
		{"callback_timeout", c.CallbackTimeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			slog.Error("invalid duration", "field", d.field, "value", d.value, "error", err)
			return fmt.Errorf("invalid %s duration '%s': %w", d.field, d.value, err)
		}
	}

	return nil
}

// ValidateRedirectURI checks that raw is an absolute http(s) URL with a host.
func ValidateRedirectURI(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse redirect uri: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("redirect uri must start with http:// or https://, got: %s", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("redirect uri has no host: %s", raw)
	}
	return nil
}
