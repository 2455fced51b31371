package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goliatone/go-request-network/core"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	secrets []string
)

var rootCmd = &cobra.Command{
	Use:   "rnwebhook",
	Short: "Sign, verify and receive Request Network webhooks",
	Long: `rnwebhook works with Request Network webhook deliveries.

Commands:
  rnwebhook sign     # Compute the signature header for a payload
  rnwebhook verify   # Check a payload against a signature
  rnwebhook serve    # Run a verifying webhook endpoint

Secrets come from --secret (repeatable) or RN_WEBHOOK_SECRETS
(comma separated). The first secret signs; all of them verify.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "rnwebhook.yaml", "config file path")
	rootCmd.PersistentFlags().StringArrayVarP(&secrets, "secret", "s", nil, "webhook secret (repeatable)")
	rootCmd.Version = fmt.Sprintf("%s (commit: %s)", version, commit)
}

// loadConfig resolves defaults < config file < nothing. The file is optional
// so the commands work without one.
func loadConfig(ctx context.Context) (core.Config, error) {
	return core.LoadConfig(ctx, core.FileConfigLoader{Path: cfgFile, Optional: true}, core.Config{})
}

func resolveSecrets() [][]byte {
	values := append([]string(nil), secrets...)
	if len(values) == 0 {
		values = strings.Split(os.Getenv("RN_WEBHOOK_SECRETS"), ",")
	}
	out := make([][]byte, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, []byte(value))
		}
	}
	return out
}

// readPayload reads the named file, or stdin for "" and "-".
func readPayload(cmd *cobra.Command, path string) ([]byte, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return data, nil
}
