package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-request-network/core"
	"github.com/goliatone/go-request-network/webhooks"
	"github.com/spf13/cobra"
)

const confirmedPayload = `{"event":"payment.confirmed","requestId":"req-cli-1","txHash":"0xabc"}`

func newTestCommand(stdin string) (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{}
	out := &bytes.Buffer{}
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(out)
	cmd.SetContext(context.Background())
	return cmd, out
}

func withSecrets(t *testing.T, values ...string) {
	t.Helper()
	previous := secrets
	secrets = values
	t.Cleanup(func() { secrets = previous })
}

func TestRunSign_PrintsPrefixedHeader(t *testing.T) {
	withSecrets(t, "whsec-cli")
	signPayload, signRaw = "-", false

	cmd, out := newTestCommand(confirmedPayload)
	if err := runSign(cmd, nil); err != nil {
		t.Fatalf("sign: %v", err)
	}
	want := webhooks.SignHeader([]byte(confirmedPayload), []byte("whsec-cli"))
	if got := strings.TrimSpace(out.String()); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestRunSign_RequiresSecret(t *testing.T) {
	withSecrets(t)
	t.Setenv("RN_WEBHOOK_SECRETS", "")

	cmd, _ := newTestCommand(confirmedPayload)
	if err := runSign(cmd, nil); err == nil {
		t.Fatalf("expected missing secret to fail")
	}
}

func TestRunVerify_AcceptsRotatedSecret(t *testing.T) {
	withSecrets(t, "whsec-new", "whsec-old")
	cfgFile = ""
	verifyPayload = "-"
	verifyTimestamp = 0
	verifySignature = webhooks.SignHeader([]byte(confirmedPayload), []byte("whsec-old"))

	cmd, out := newTestCommand(confirmedPayload)
	if err := runVerify(cmd, nil); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "valid: secret #2" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestRunVerify_ReportsReason(t *testing.T) {
	withSecrets(t, "whsec-cli")
	cfgFile = ""
	verifyPayload = "-"
	verifyTimestamp = 0
	verifySignature = "sha256=" + strings.Repeat("0", 64)

	cmd, out := newTestCommand(confirmedPayload)
	err := runVerify(cmd, nil)
	if !webhooks.IsSignatureError(err) {
		t.Fatalf("expected signature error, got %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "invalid: invalid_signature" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestRunSeal_OutputOpensInServeRing(t *testing.T) {
	withSecrets(t, "whsec-sealed")
	t.Setenv(sealKeyEnv, "local-seal-key")

	cmd, out := newTestCommand("")
	if err := runSeal(cmd, nil); err != nil {
		t.Fatalf("seal: %v", err)
	}
	sealed := strings.TrimSpace(out.String())
	if sealed == "" || strings.Contains(sealed, "whsec-sealed") {
		t.Fatalf("expected sealed output, got %q", sealed)
	}

	ring, err := secretRing([][]byte{[]byte(sealed)}, []byte("local-seal-key"))
	if err != nil {
		t.Fatalf("secret ring: %v", err)
	}
	opened, err := ring.Secrets(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("open secrets: %v", err)
	}
	if len(opened) != 1 || string(opened[0]) != "whsec-sealed" {
		t.Fatalf("expected sealed secret to open, got %q", opened)
	}
}

func TestServeApp_ProcessesRedeliversAndExposesMetrics(t *testing.T) {
	ctx := context.Background()
	healthy := false
	handled := 0
	application, err := newApp(ctx, core.DefaultConfig(), appOptions{
		Secrets:   [][]byte{[]byte("whsec-serve")},
		LogOutput: io.Discard,
		LogLevel:  "error",
		Handler: func(context.Context, webhooks.ParsedEvent, webhooks.DispatchContext) error {
			if !healthy {
				return errors.New("downstream unavailable")
			}
			handled++
			return nil
		},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer application.Close()

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, defaultWebhookPath, strings.NewReader(confirmedPayload))
		req.Header.Set("X-Request-Network-Signature", webhooks.SignHeader([]byte(confirmedPayload), []byte("whsec-serve")))
		req.Header.Set("X-Request-Network-Delivery", "dlv-serve-1")
		rec := httptest.NewRecorder()
		application.router.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := post(); code != http.StatusInternalServerError {
		t.Fatalf("expected failing handler to surface 500, got %d", code)
	}

	healthy = true
	enqueued, err := application.redeliverOnce(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if enqueued != 1 || handled != 1 {
		t.Fatalf("expected one redelivery to reach the handler, got enqueued=%d handled=%d", enqueued, handled)
	}
	record, err := application.ledger.Get(ctx, "payment.confirmed", "dlv-serve-1")
	if err != nil {
		t.Fatalf("ledger get: %v", err)
	}
	if record.Status != webhooks.DeliveryStatusProcessed || record.Attempts != 2 {
		t.Fatalf("expected processed after two attempts, got %s/%d", record.Status, record.Attempts)
	}

	if code := post(); code != http.StatusNoContent {
		t.Fatalf("expected duplicate delivery to be acknowledged, got %d", code)
	}
	if handled != 1 {
		t.Fatalf("expected duplicate not to dispatch again, got %d", handled)
	}

	rec := httptest.NewRecorder()
	application.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected metrics endpoint, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"requestnetwork_webhook_process_total", "requestnetwork_webhook_redeliver_total"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in metrics output", want)
		}
	}
}

func TestServeApp_RequiresSecret(t *testing.T) {
	if _, err := newApp(context.Background(), core.DefaultConfig(), appOptions{LogOutput: io.Discard}); err == nil {
		t.Fatalf("expected missing secrets to fail")
	}
}
