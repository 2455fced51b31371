package main

import (
	"fmt"
	"time"

	"github.com/goliatone/go-request-network/webhooks"
	"github.com/spf13/cobra"
)

var (
	verifyPayload   string
	verifySignature string
	verifyTimestamp float64
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check a payload against a signature",
	Long: `Verify a payload signature against every configured secret.

The command exits non-zero and prints the failure reason
(missing_signature, invalid_format, invalid_signature,
tolerance_exceeded) when the signature does not verify.

Examples:
  rnwebhook verify --secret whsec --payload event.json --signature sha256=ab12...`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVarP(&verifyPayload, "payload", "p", "-", "payload file (- for stdin)")
	verifyCmd.Flags().StringVar(&verifySignature, "signature", "", "signature value, bare hex or sha256=<hex>")
	verifyCmd.Flags().Float64Var(&verifyTimestamp, "timestamp", 0, "delivery timestamp (seconds or milliseconds)")
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	payload, err := readPayload(cmd, verifyPayload)
	if err != nil {
		return err
	}

	result, err := webhooks.Verify(payload, resolveSecrets(), nil, webhooks.VerifyOptions{
		Signature: verifySignature,
		Header:    cfg.Webhook.SignatureHeader,
		Timestamp: verifyTimestamp,
		Tolerance: time.Duration(cfg.Webhook.ToleranceMS) * time.Millisecond,
	})
	if err != nil {
		if sigErr, ok := webhooks.AsSignatureError(err); ok {
			fmt.Fprintf(cmd.OutOrStdout(), "invalid: %s\n", sigErr.Reason)
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "valid: secret #%d\n", result.MatchedIndex+1)
	return nil
}
