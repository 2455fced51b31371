package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goliatone/go-request-network/adapters/gojob"
	"github.com/goliatone/go-request-network/adapters/gologger"
	rnprom "github.com/goliatone/go-request-network/adapters/prometheus"
	"github.com/goliatone/go-request-network/core"
	"github.com/goliatone/go-request-network/inbound"
	"github.com/goliatone/go-request-network/retry"
	"github.com/goliatone/go-request-network/security"
	sqlstore "github.com/goliatone/go-request-network/store/sql"
	"github.com/goliatone/go-request-network/webhooks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

const defaultWebhookPath = "/webhooks/request-network"

var (
	serveAddr          string
	servePath          string
	serveRedeliverTick time.Duration
	serveLogLevel      string
	serveLogFormat     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a verifying webhook endpoint",
	Long: `Start an HTTP server that verifies, deduplicates and dispatches
Request Network webhook deliveries.

The server will:
  - Load configuration from rnwebhook.yaml (or --config) when present
  - Record deliveries in the ledger (sqlite/postgres when ledger.dsn is set,
    memory otherwise)
  - Log every known event
  - Redeliver failed deliveries on --redeliver-interval
  - Expose Prometheus metrics on /metrics

Examples:
  rnwebhook serve --secret whsec
  RN_WEBHOOK_SECRETS=old,new rnwebhook serve --addr :9000 --log-format console`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	serveCmd.Flags().StringVar(&servePath, "path", defaultWebhookPath, "webhook route")
	serveCmd.Flags().DurationVar(&serveRedeliverTick, "redeliver-interval", 30*time.Second, "how often due deliveries are redelivered (0 disables)")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "info", "log level: trace, debug, info, warn, error")
	serveCmd.Flags().StringVar(&serveLogFormat, "log-format", "json", "log format: json or console")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	application, err := newApp(ctx, cfg, appOptions{
		Path:      servePath,
		Secrets:   resolveSecrets(),
		SealKey:   []byte(os.Getenv(sealKeyEnv)),
		LogOutput: os.Stdout,
		LogLevel:  serveLogLevel,
		LogFormat: serveLogFormat,
	})
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}
	defer application.Close()

	logger := application.loggers.Component("rnwebhook.serve")
	server := &http.Server{
		Addr:              serveAddr,
		Handler:           application.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if serveRedeliverTick > 0 {
		go application.runRedelivery(ctx, serveRedeliverTick)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", "addr", serveAddr, "path", servePath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

type appOptions struct {
	Path      string
	Secrets   [][]byte
	SealKey   []byte
	LogOutput io.Writer
	LogLevel  string
	LogFormat string
	Handler   webhooks.HandlerFunc
}

// app is the wired serve process: router, processor, ledger and the
// redelivery queue.
type app struct {
	router    chi.Router
	processor *webhooks.Processor
	ledger    webhooks.DeliveryLedger
	lister    webhooks.DueDeliveryLister
	queue     *gojob.MemoryQueue
	worker    *gojob.RedeliveryWorker
	loggers   gologger.Loggers
	closers   []func() error
}

func newApp(ctx context.Context, cfg core.Config, opts appOptions) (*app, error) {
	if len(opts.Secrets) == 0 {
		return nil, fmt.Errorf("at least one webhook secret is required")
	}
	ring, err := secretRing(opts.Secrets, opts.SealKey)
	if err != nil {
		return nil, err
	}

	loggers := gologger.Resolve(cfg.ServiceName, gologger.NewZerologProvider(opts.LogOutput, opts.LogLevel, opts.LogFormat), nil)
	registry := prometheus.NewRegistry()
	recorder := rnprom.New(registry)
	observer := core.NewObserver("requestnetwork", loggers.Component("observer"), recorder)

	a := &app{loggers: loggers}
	if err := a.openLedger(ctx, cfg.Ledger); err != nil {
		return nil, err
	}

	parser := webhooks.NewParser(webhooks.WithLoggerProvider(loggers.Provider))
	dispatcher := webhooks.NewDispatcher(webhooks.WithDispatcherLogger(loggers.Component("webhooks.dispatcher")))
	handler := opts.Handler
	if handler == nil {
		handler = logEvent(loggers.Component("rnwebhook.events"))
	}
	for _, name := range parser.Registry().Names() {
		dispatcher.On(name, handler)
	}

	retryCfg := retry.FromCoreConfig(cfg.Retry)
	processor := webhooks.NewProcessor(parser, ring, a.ledger, dispatcher)
	processor.ParseOptions = inbound.OptionsFromConfig(cfg.Webhook).ParseOptions
	processor.DeliveryHeader = cfg.Webhook.DeliveryHeader
	processor.Observer = observer
	if cfg.Ledger.ClaimLeaseMS > 0 {
		processor.ClaimLease = time.Duration(cfg.Ledger.ClaimLeaseMS) * time.Millisecond
	}
	if cfg.Ledger.MaxAttempts > 0 {
		processor.MaxAttempts = cfg.Ledger.MaxAttempts
		retryCfg.MaxAttempts = cfg.Ledger.MaxAttempts
	}
	processor.RetryPolicy = webhooks.BackoffPolicy{Config: retryCfg}
	a.processor = processor

	a.queue = gojob.NewMemoryQueue()
	a.closers = append(a.closers, func() error {
		a.queue.Close()
		return nil
	})
	a.worker = gojob.NewRedeliveryWorker(a.queue, processor, gojob.RetryPolicy{
		MaxAttempts:     processor.MaxAttempts,
		MaxDelay:        retryCfg.MaxDelay,
		DeadLetterOnMax: true,
	})
	a.worker.Retry = retryCfg
	a.worker.Hook = gojob.NewObserverHook(observer)
	a.worker.Logger = loggers.Component("gojob.redelivery")

	inboundOpts := inbound.OptionsFromConfig(cfg.Webhook)
	inboundOpts.Processor = processor
	inboundOpts.Logger = loggers.Component("inbound.webhook")

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	router.Method(http.MethodGet, "/metrics", recorder.Handler())
	path := opts.Path
	if path == "" {
		path = defaultWebhookPath
	}
	inbound.Mount(router, path, inboundOpts)
	a.router = router
	return a, nil
}

func (a *app) openLedger(ctx context.Context, cfg core.LedgerConfig) error {
	if cfg.DSN == "" {
		memory := webhooks.NewMemoryDeliveryLedger()
		a.ledger = memory
		a.lister = memory
		return nil
	}
	factory, err := sqlstore.OpenLedgerConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	a.closers = append(a.closers, factory.DB().Close)
	a.ledger = factory.Ledger()
	lister, ok := a.ledger.(webhooks.DueDeliveryLister)
	if !ok {
		return fmt.Errorf("ledger %T cannot list due deliveries", a.ledger)
	}
	a.lister = lister
	return nil
}

// redeliverOnce enqueues due deliveries and drains the queue.
func (a *app) redeliverOnce(ctx context.Context, now time.Time) (int, error) {
	enqueued, err := gojob.EnqueueDue(ctx, a.lister, a.queue, now, 0)
	if err != nil {
		return enqueued, err
	}
	for a.queue.Len() > 0 {
		if err := a.worker.RunOnce(ctx); err != nil {
			return enqueued, err
		}
	}
	return enqueued, nil
}

func (a *app) runRedelivery(ctx context.Context, interval time.Duration) {
	logger := a.loggers.Component("rnwebhook.redelivery")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			enqueued, err := a.redeliverOnce(ctx, time.Now().UTC())
			if err != nil && ctx.Err() == nil {
				logger.Error("redelivery pass failed", "error", err.Error())
				continue
			}
			if enqueued > 0 {
				logger.Info("redelivery pass", "enqueued", enqueued)
			}
		}
	}
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// secretRing turns the CLI secrets into an always-open ring; the first
// secret is tried first. Sealed values are opened with sealKey.
func secretRing(values [][]byte, sealKey []byte) (*security.SecretRing, error) {
	var opts []security.RingOption
	if len(sealKey) > 0 {
		sealer, err := security.NewSealer(sealKey)
		if err != nil {
			return nil, err
		}
		opts = append(opts, security.WithOpener(sealer))
	}
	entries := make([]security.RingSecret, 0, len(values))
	for i, value := range values {
		entries = append(entries, security.RingSecret{
			ID:      fmt.Sprintf("cli-%d", i+1),
			Version: len(values) - i,
			Value:   value,
		})
	}
	return security.NewSecretRing(entries, opts...)
}

func logEvent(logger core.Logger) webhooks.HandlerFunc {
	return func(ctx context.Context, evt webhooks.ParsedEvent, dc webhooks.DispatchContext) error {
		logger.WithContext(ctx).Info("webhook event",
			"event", string(evt.Event),
			"request_id", evt.RequestID(),
			"attempt", dc.Attempt,
		)
		return nil
	}
}
