package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/roseglass/pkg/api"
	"github.com/Mindburn-Labs/roseglass/pkg/artifacts"
	"github.com/Mindburn-Labs/roseglass/pkg/auth"
	"github.com/Mindburn-Labs/roseglass/pkg/cocreate"
	"github.com/Mindburn-Labs/roseglass/pkg/config"
	"github.com/Mindburn-Labs/roseglass/pkg/events"
	"github.com/Mindburn-Labs/roseglass/pkg/finance"
	"github.com/Mindburn-Labs/roseglass/pkg/limiter"
	"github.com/Mindburn-Labs/roseglass/pkg/llm"
	"github.com/Mindburn-Labs/roseglass/pkg/observability"
	"github.com/Mindburn-Labs/roseglass/pkg/policy"
	"github.com/Mindburn-Labs/roseglass/pkg/store"
)

func newServeCmd(stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Start the HTTP API",
		GroupID: "server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), stderr)
		},
	}
}

func setupLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if cfg.IsDevelopment() {
		h = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(h).With("service", "roseglass")
	slog.SetDefault(logger)
	return logger
}

// app is the wired server and everything it must release on shutdown.
type app struct {
	cfg     *config.Config
	handler *api.Server
	closers []func(context.Context) error
}

func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func keySet(cfg *config.Config) (auth.KeySet, error) {
	switch {
	case cfg.JWTPublicKeyPEM != "":
		return auth.NewRSAKeySet([]byte(cfg.JWTPublicKeyPEM))
	case cfg.JWTSecret != "":
		return auth.NewHMACKeySet(cfg.JWTSecret)
	case cfg.IsDevelopment():
		return auth.NewInMemoryKeySet()
	default:
		return nil, nil
	}
}

// buildApp wires every component from cfg. Optional backends fall back to
// in-process implementations when unset.
func buildApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	logger := slog.Default()
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		st = pg
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		st = store.NewMemoryStore()
	}
	a.onClose(func(context.Context) error { return st.Close() })

	var table *finance.PricingTable
	if cfg.PricingFile != "" {
		if table, err = finance.LoadPricingTable(cfg.PricingFile); err != nil {
			return nil, err
		}
	}
	meter, err := finance.NewUsageMeter(table, cfg.Markup)
	if err != nil {
		return nil, err
	}

	var rules []policy.Rule
	if cfg.AdmissionPolicy != "" {
		rules = policy.WithRule("admission_policy", cfg.AdmissionPolicy, "Rejected by admission policy")
	}
	engine, err := policy.NewEngine(rules)
	if err != nil {
		return nil, fmt.Errorf("ADMISSION_POLICY: %w", err)
	}

	var llmOpts []llm.AnthropicOption
	if cfg.AnthropicBaseURL != "" {
		llmOpts = append(llmOpts, llm.WithBaseURL(cfg.AnthropicBaseURL))
	}
	client := llm.NewAnthropicClient(cfg.AnthropicAPIKey, llmOpts...)

	archive, err := artifacts.NewStore(ctx, cfg.Artifacts)
	if err != nil {
		return nil, err
	}
	if c, ok := archive.(interface{ Close() error }); ok {
		a.onClose(func(context.Context) error { return c.Close() })
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		publisher = pub
		logger.Info("events enabled", "nats_url", cfg.NATSURL)
	}
	a.onClose(func(context.Context) error { return publisher.Close() })

	telemetry, err := observability.New(ctx, &cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	a.onClose(telemetry.Shutdown)

	var users limiter.Store = limiter.NewMemoryStore()
	if cfg.RedisURL != "" {
		rs, rc, err := limiter.NewRedisStoreFromURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		users = rs
		a.onClose(func(context.Context) error { return rc.Close() })
	}

	ks, err := keySet(cfg)
	if err != nil {
		return nil, err
	}
	if ks == nil {
		logger.Warn("no JWT key configured, bearer tokens will be rejected")
	}

	svc, err := cocreate.NewService(cocreate.Deps{
		LLM:            client,
		Router:         llm.NewRouter(cfg.DefaultModel, cfg.PremiumModel),
		Meter:          meter,
		Store:          st,
		Policy:         engine,
		Artifacts:      archive,
		Events:         publisher,
		Telemetry:      telemetry,
		MinCredits:     cfg.MinCredits,
		SignupCredits:  cfg.SignupCredits,
		DevUserCredits: cfg.DevUserCredits,
	})
	if err != nil {
		return nil, err
	}

	srv, err := api.NewServer(api.Options{
		Service:             svc,
		Database:            st,
		Validator:           auth.NewJWTValidator(ks),
		Telemetry:           telemetry,
		Environment:         cfg.Environment,
		LLMConfigured:       cfg.AnthropicAPIKey != "",
		AllowDevUser:        cfg.IsDevelopment(),
		CORSOrigins:         cfg.CORSOrigins,
		IPRate:              cfg.IPRateLimit,
		IPBurst:             cfg.IPRateBurst,
		UserLimiter:         users,
		UserPolicy:          limiter.Policy{RPM: cfg.RateLimitRPM},
		Idempotency:         api.NewIdempotencyCache(10 * time.Minute),
		StripeWebhookSecret: cfg.StripeWebhookSecret,
		MaxUploadBytes:      cfg.MaxUploadBytes,
	})
	if err != nil {
		return nil, err
	}
	a.handler = srv
	a.onClose(func(context.Context) error { srv.Close(); return nil })
	return a, nil
}

func runServe(ctx context.Context, stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := setupLogger(cfg, stderr)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", server.Addr, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			_ = a.Close(context.Background())
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	return a.Close(shutdownCtx)
}
