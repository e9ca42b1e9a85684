package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// shutdownTimeout is the maximum time to wait for graceful shutdown.
const shutdownTimeout = 30 * time.Second

// serveFlags holds the parsed flags of the serve command.
type serveFlags struct {
	configFile string
	certDir    string
}

var serveFlagVals serveFlags

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the listeners declared in an engine file",
	Long: `Run the listeners declared in an engine file until interrupted.

Every server entry with autoStart set is started. Servers with autoRefresh
read definitions on every request and are restarted when the file changes.`,
	Example: `  # Serve from a YAML engine file
  mockstage serve --config mocks.yaml

  # Keep the identity keystore somewhere else
  mockstage serve --config mocks.yaml --cert-dir /var/lib/mockstage/certs

  # Configure through the environment
  MOCKSTAGE_CONFIG=mocks.yaml MOCKSTAGE_LOG_LEVEL=debug mockstage serve`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, closeLog, err := newLogger(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer closeLog()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, &serveFlagVals, log, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := &serveFlagVals
	serveCmd.Flags().StringVarP(&f.configFile, "config", "c", os.Getenv(EnvConfig), "Path to the engine file")
	serveCmd.Flags().StringVar(&f.certDir, "cert-dir", os.Getenv(EnvCertDir), "Directory of the identity keystore")
}

// runServe starts the configured listeners and blocks until ctx is done.
func runServe(ctx context.Context, f *serveFlags, log *slog.Logger, out io.Writer) error {
	srv, err := newServer(f.configFile, f.certDir, log)
	if err != nil {
		return err
	}

	if err := srv.start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.stop(stopCtx)
		return err
	}
	if err := srv.printSummary(out, jsonOutput); err != nil {
		log.Warn("failed to print summary", "error", err)
	}
	log.Info("mockstage started", "config", f.configFile, "certificate", srv.certs.CertPath())

	srv.watch(ctx)
	<-ctx.Done()

	log.Info("shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.stop(stopCtx)
}
