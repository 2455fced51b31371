package main

import (
	"fmt"

	"github.com/goliatone/go-request-network/webhooks"
	"github.com/spf13/cobra"
)

var (
	signPayload string
	signRaw     bool
)

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Compute the signature header for a payload",
	Long: `Compute the HMAC-SHA256 signature of a payload with the first secret.

Examples:
  rnwebhook sign --secret whsec --payload event.json
  cat event.json | rnwebhook sign --secret whsec --raw`,
	Args: cobra.NoArgs,
	RunE: runSign,
}

func init() {
	rootCmd.AddCommand(signCmd)

	signCmd.Flags().StringVarP(&signPayload, "payload", "p", "-", "payload file (- for stdin)")
	signCmd.Flags().BoolVar(&signRaw, "raw", false, "print the bare hex digest without the sha256= prefix")
}

func runSign(cmd *cobra.Command, args []string) error {
	candidates := resolveSecrets()
	if len(candidates) == 0 {
		return fmt.Errorf("sign: a secret is required")
	}
	payload, err := readPayload(cmd, signPayload)
	if err != nil {
		return err
	}
	if signRaw {
		fmt.Fprintln(cmd.OutOrStdout(), webhooks.Sign(payload, candidates[0]))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), webhooks.SignHeader(payload, candidates[0]))
	return nil
}
