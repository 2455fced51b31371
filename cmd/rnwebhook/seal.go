package main

import (
	"fmt"
	"os"

	"github.com/goliatone/go-request-network/security"
	"github.com/spf13/cobra"
)

const sealKeyEnv = "RN_WEBHOOK_SEAL_KEY"

var sealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Encrypt webhook secrets for storage in config or env",
	Long: `Seal each --secret with the key in RN_WEBHOOK_SEAL_KEY.

Sealed values can be passed back through --secret or RN_WEBHOOK_SECRETS;
serve opens them with the same key.

Examples:
  RN_WEBHOOK_SEAL_KEY=app-key rnwebhook seal --secret whsec`,
	Args: cobra.NoArgs,
	RunE: runSeal,
}

func init() {
	rootCmd.AddCommand(sealCmd)
}

func runSeal(cmd *cobra.Command, args []string) error {
	candidates := resolveSecrets()
	if len(candidates) == 0 {
		return fmt.Errorf("seal: a secret is required")
	}
	sealer, err := security.NewSealer([]byte(os.Getenv(sealKeyEnv)))
	if err != nil {
		return fmt.Errorf("seal: %w", err)
	}
	for _, secret := range candidates {
		sealed, err := sealer.Seal(cmd.Context(), secret)
		if err != nil {
			return fmt.Errorf("seal: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(sealed))
	}
	return nil
}
