package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mockstage/mockstage/pkg/cli/internal/output"
	"github.com/mockstage/mockstage/pkg/config"
	"github.com/mockstage/mockstage/pkg/logging"
)

// CertsOutput is the JSON form of the certs command.
type CertsOutput struct {
	Keystore    string `json:"keystore"`
	Certificate string `json:"certificate"`
	Fingerprint string `json:"fingerprint"`
}

var (
	certsConfigFile string
	certsDir        string
)

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Show the identity certificate, generating it if needed",
	Long: `Open the identity keystore, generating it on first use, and print where the
identity certificate was exported and its SHA-256 fingerprint. Import the
certificate into a client's trust store to accept intercepted connections.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var cc config.CertConfig
		if certsConfigFile != "" {
			file, err := config.LoadFromFile(certsConfigFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cc = file.Certificates
		}

		log, closeLog, err := newLogger(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer closeLog()
		if !cmd.Flags().Changed("log-level") && os.Getenv(EnvLogLevel) == "" {
			log = logging.Nop()
		}

		a, err := openAuthority(cc, certsDir, log)
		if err != nil {
			return err
		}
		out := CertsOutput{
			Keystore:    a.KeystorePath(),
			Certificate: a.CertPath(),
			Fingerprint: a.Fingerprint(),
		}
		if jsonOutput {
			return output.JSON(cmd.OutOrStdout(), out)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Keystore:    %s\n", out.Keystore)
		fmt.Fprintf(w, "Certificate: %s\n", out.Certificate)
		fmt.Fprintf(w, "Fingerprint: %s\n", out.Fingerprint)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(certsCmd)
	certsCmd.Flags().StringVarP(&certsConfigFile, "config", "c", os.Getenv(EnvConfig), "Engine file to read certificate settings from")
	certsCmd.Flags().StringVar(&certsDir, "cert-dir", os.Getenv(EnvCertDir), "Directory of the identity keystore")
}
