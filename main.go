package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"spotoken/auth"
)

const defaultConfigFile = "spotoken.yaml"

// errFlowFailed marks errors whose diagnostic was already printed by the run.
var errFlowFailed = errors.New("token flow failed")

type options struct {
	configPath string
	logLevel   string
	envFile    string
	noBrowser  bool
	listen     bool
	verify     bool
	timeout    time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err == nil {
		return
	}
	if !errors.Is(err, errFlowFailed) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	stop()
	os.Exit(1)
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "spotoken",
		Short:         "Obtain a Spotify refresh token through the authorization code flow",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), opts.logLevel)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(opts.configPath, configExplicit(cmd), logger)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if opts.envFile != "" {
				cfg.EnvFile = opts.envFile
			}
			if opts.timeout > 0 {
				cfg.CallbackTimeout = opts.timeout.String()
			}

			f := &flow{
				in:        bufio.NewReader(cmd.InOrStdin()),
				out:       cmd.OutOrStdout(),
				logger:    logger,
				cfg:       cfg,
				exchanger: auth.NewExchanger(cfg.Provider.TokenURL, cfg.HTTPTimeoutDuration(), logger),
				persist:   auth.WriteEnvFile,
				listen:    opts.listen,
				verify:    opts.verify,
			}
			if !opts.noBrowser {
				f.openBrowser = auth.OpenBrowser
			}
			return f.run(cmd.Context())
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", envOr("SPOTOKEN_CONFIG", defaultConfigFile), "Path to YAML config")
	pf.StringVarP(&opts.logLevel, "log-level", "l", "warn", "Logging level (debug, info, warn, error)")

	fs := cmd.Flags()
	fs.StringVar(&opts.envFile, "env-file", "", "File the credentials and refresh token are saved to (default from config, .env)")
	fs.BoolVar(&opts.noBrowser, "no-browser", false, "Do not open the authorization page automatically")
	fs.BoolVar(&opts.listen, "listen", false, "Serve a loopback redirect URI and capture the code instead of asking for the URL")
	fs.BoolVar(&opts.verify, "verify", false, "Call the Web API with the new access token after the exchange")
	fs.DurationVar(&opts.timeout, "timeout", 0, "How long --listen waits for the callback (default from config, 5m)")

	cmd.AddCommand(newConfigCmd(opts))
	return cmd
}

func newConfigCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the YAML configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create a configuration file with guided prompts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), opts.logLevel)
			if err != nil {
				return err
			}
			if err := runConfigInit(opts.configPath, bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout()); err != nil {
				return fmt.Errorf("config init failed: %w", err)
			}
			logger.Info("configuration initialized successfully", "path", opts.configPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), opts.logLevel)
			if err != nil {
				return err
			}
			if _, err := auth.LoadConfig(opts.configPath); err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}
			logger.Info("configuration is valid", "path", opts.configPath)
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", opts.configPath)
			return nil
		},
	})

	return cmd
}

func newLogger(w io.Writer, levelName string) (*slog.Logger, error) {
	level, err := parseLogLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", levelName, err)
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, nil
}

// loadConfig falls back to defaults when the default config file is absent.
// A path given explicitly must exist.
func loadConfig(path string, explicit bool, logger *slog.Logger) (auth.Config, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if explicit {
				return auth.Config{}, fmt.Errorf("config file not found at %s. Run 'spotoken config init' to create it", path)
			}
			logger.Debug("no config file, using defaults", "path", path)
			return auth.LoadConfig("")
		}
		return auth.Config{}, fmt.Errorf("stat config: %w", err)
	}
	logger.Debug("loading config", "path", path)
	return auth.LoadConfig(path)
}

func runConfigInit(path string, reader *bufio.Reader, out io.Writer) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s. Remove it first or use a different path", path)
	}

	fmt.Fprintf(out, "Creating %s. Press Enter to accept defaults.\n", path)
	cfg := auth.DefaultConfig()

	clientID, err := ask(reader, out, "Spotify client ID (optional)", "")
	if err != nil {
		return err
	}
	cfg.ClientID = clientID

	for {
		redirect, err := ask(reader, out, "Callback URL (optional)", "")
		if err != nil {
			return err
		}
		if redirect == "" {
			break
		}
		if err := auth.ValidateRedirectURI(redirect); err != nil {
			fmt.Fprintf(out, "%v\n", err)
			continue
		}
		cfg.RedirectURI = redirect
		break
	}

	scopes, err := ask(reader, out, "Scopes (space separated)", strings.Join(cfg.Scopes, " "))
	if err != nil {
		return err
	}
	if list := strings.Fields(scopes); len(list) > 0 {
		cfg.Scopes = list
	}

	envFile, err := ask(reader, out, "Env file to save tokens to", cfg.EnvFile)
	if err != nil {
		return err
	}
	cfg.EnvFile = envFile

	if err := cfg.Validate(); err != nil {
		return err
	}
	return auth.WriteConfig(path, cfg)
}

func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level")
	}
}

// configExplicit reports whether the config path was chosen by the user,
// either with --config or SPOTOKEN_CONFIG.
func configExplicit(cmd *cobra.Command) bool {
	return cmd.Flags().Changed("config") || os.Getenv("SPOTOKEN_CONFIG") != ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
