package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mockstage/mockstage/pkg/logging"
)

// Environment variables read for flag defaults.
const (
	EnvConfig   = "MOCKSTAGE_CONFIG"
	EnvCertDir  = "MOCKSTAGE_CERT_DIR"
	EnvLogLevel = "MOCKSTAGE_LOG_LEVEL"
)

var (
	// Persistent flags available to all subcommands
	jsonOutput bool
	logLevel   string
	logFormat  string
	logFile    string

	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mockstage",
	Short: "mockstage serves mock HTTP, WebSocket, SSE, FTP and MQTT endpoints",
	Long: `mockstage runs fake endpoints for local development and testing.

Definitions and listener settings are read from an engine file (YAML or JSON).
HTTP listeners can also act as an intercepting proxy, minting per-host
certificates from a local identity keystore.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output command results in JSON format")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envOr(EnvLogLevel, "info"), "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this file")
}

// envOr returns the environment variable key, or def when it is unset.
func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// newLogger builds the logger described by the persistent flags. The
// returned function closes the log file, if any.
func newLogger(stderr io.Writer) (*slog.Logger, func(), error) {
	cfg := logging.Config{
		Level:  logging.ParseLevel(logLevel),
		Format: logging.ParseFormat(logFormat),
		Output: stderr,
	}
	closeFn := func() {}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		cfg.Tee = f
		closeFn = func() { _ = f.Close() }
	}
	return logging.New(cfg), closeFn, nil
}
