// Package api provides the HTTP control plane and the main server
// wiring for Conversia.
//
// It exposes the tenant onboarding endpoints (connect / status / qr),
// flow refresh triggers and Prometheus metrics, and assembles the
// stores, channel transport, dispatcher, scheduler and conversation
// engine into a running service.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conversia/conversia/internal/flow"
	"github.com/conversia/conversia/internal/flowsource"
	"github.com/conversia/conversia/internal/genai"
	"github.com/conversia/conversia/internal/lifecycle"
	"github.com/conversia/conversia/internal/messaging"
	"github.com/conversia/conversia/internal/models"
	"github.com/conversia/conversia/internal/scheduler"
	"github.com/conversia/conversia/internal/store"
	"github.com/conversia/conversia/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultAddr is the default API server listen address.
	DefaultAddr = ":8080"
	// DefaultRefreshInterval is how often every tenant's flows are re-fetched.
	DefaultRefreshInterval = 5 * time.Minute
	// DefaultShutdownTimeout bounds the graceful HTTP shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr             string
	RefreshInterval  time.Duration
	RedisAddr        string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	BootstrapTenants []models.TenantConfig
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the API server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithRefreshInterval sets the flow refresh sweep interval.
func WithRefreshInterval(d time.Duration) Option {
	return func(o *Opts) { o.RefreshInterval = d }
}

// WithRedisAddr stores conversation state in Redis instead of memory.
func WithRedisAddr(addr string) Option {
	return func(o *Opts) { o.RedisAddr = addr }
}

// WithTwilio switches the transport from Whatsmeow sessions to the
// Twilio WhatsApp Business API.
func WithTwilio(accountSID, authToken, from string) Option {
	return func(o *Opts) {
		o.TwilioAccountSID = accountSID
		o.TwilioAuthToken = authToken
		o.TwilioFrom = from
	}
}

// WithBootstrapTenants registers tenants at startup and brings their
// channel sessions up.
func WithBootstrapTenants(tenants []models.TenantConfig) Option {
	return func(o *Opts) { o.BootstrapTenants = append(o.BootstrapTenants, tenants...) }
}

// Server holds the control plane's collaborators.
type Server struct {
	tenants    store.TenantFlowStore
	manager    *whatsapp.Manager
	msgService messaging.Service
	loader     *flowsource.Loader
	twilio     *messaging.TwilioService // nil when running Whatsmeow sessions
}

// Run assembles every module and serves the control plane until the
// process receives SIGINT or SIGTERM.
func Run(waOpts []whatsapp.Option, storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []Option) error {
	cfg := Opts{
		Addr:            DefaultAddr,
		RefreshInterval: DefaultRefreshInterval,
	}
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tenants, convs, err := buildStores(cfg, storeOpts)
	if err != nil {
		return err
	}

	manager := whatsapp.NewManager(waOpts...)

	var (
		msgService messaging.Service
		twilioSvc  *messaging.TwilioService
	)
	if cfg.TwilioAccountSID != "" {
		twilioSvc, err = messaging.NewTwilioService(
			messaging.WithAccountSID(cfg.TwilioAccountSID),
			messaging.WithAuthToken(cfg.TwilioAuthToken),
			messaging.WithFromWhats(cfg.TwilioFrom),
		)
		if err != nil {
			return fmt.Errorf("failed to create Twilio service: %w", err)
		}
		msgService = twilioSvc
		slog.Info("Using Twilio transport")
	} else {
		msgService = messaging.NewWhatsAppService(manager)
		slog.Info("Using Whatsmeow transport")
	}

	loader := flowsource.NewLoader(tenants)
	hook := lifecycle.NewHook(tenants)

	engineOpts := []flow.EngineOption{flow.WithNotifier(hook)}
	if gaClient, gaErr := genai.NewClient(genaiOpts...); gaErr != nil {
		slog.Info("GenAI clarifier disabled", "reason", gaErr)
	} else {
		engineOpts = append(engineOpts, flow.WithClarifier(gaClient))
	}
	engine := flow.NewEngine(tenants, convs, msgService, engineOpts...)

	dispatcher := messaging.NewDispatcher(engine.HandleMessage)
	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	dispatcher.Run(ctx, msgService)

	// A freshly connected session reloads its tenant's flows right away
	// instead of waiting for the sweep.
	manager.OnReady(func(tenantID string) {
		if err := loader.LoadFlows(ctx, tenantID); err != nil {
			slog.Warn("Flow load on session ready failed", "error", err, "tenantID", tenantID)
		}
	})

	sched := scheduler.NewScheduler()
	if err := sched.AddEvery(cfg.RefreshInterval, func() { loader.LoadAll(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule flow refresh sweep: %w", err)
	}

	srv := &Server{
		tenants:    tenants,
		manager:    manager,
		msgService: msgService,
		loader:     loader,
		twilio:     twilioSvc,
	}
	srv.bootstrap(ctx, cfg.BootstrapTenants)

	httpServer := &http.Server{Addr: cfg.Addr, Handler: srv.routes()}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Conversia API running", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info("Shutting down on signal", "signal", sig)
	case err := <-errCh:
		slog.Error("HTTP server failed", "error", err)
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	sched.Stop()
	dispatcher.Stop()
	if err := msgService.Stop(); err != nil {
		slog.Error("Messaging service stop failed", "error", err)
	}
	cancel()
	slog.Info("Conversia stopped")
	return nil
}

// buildStores picks storage backends from the DSN options: Postgres or
// SQLite for tenant configs and the flow cache, memory otherwise;
// conversation state lives in Redis when an address is configured and
// in memory otherwise.
func buildStores(cfg Opts, storeOpts []store.Option) (store.TenantFlowStore, store.ConversationStore, error) {
	var so store.Opts
	for _, opt := range storeOpts {
		opt(&so)
	}

	var (
		tenants store.TenantFlowStore
		err     error
	)
	switch {
	case so.DSN == "":
		slog.Debug("No database DSN provided, using in-memory store")
		tenants = store.NewInMemoryStore()
	case store.DetectDSNType(so.DSN) == "postgres":
		slog.Debug("Detected PostgreSQL DSN", "dsn_set", true)
		tenants, err = store.NewPostgresStore(store.WithPostgresDSN(so.DSN))
	default:
		slog.Debug("Detected SQLite DSN", "db_path", so.DSN)
		tenants, err = store.NewSQLiteStore(store.WithSQLiteDSN(so.DSN))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize tenant store: %w", err)
	}

	var convs store.ConversationStore
	if cfg.RedisAddr != "" {
		convs = store.NewRedisConversationStore(cfg.RedisAddr, "", 0)
		slog.Info("Conversation state in Redis", "addr", cfg.RedisAddr)
	} else if mem, ok := tenants.(*store.InMemoryStore); ok {
		convs = mem
	} else {
		convs = store.NewInMemoryStore()
	}
	return tenants, convs, nil
}

// bootstrap registers preconfigured tenants and revives their sessions,
// so a restart does not wait for each site to call connect again.
func (s *Server) bootstrap(ctx context.Context, tenants []models.TenantConfig) {
	for _, cfg := range tenants {
		merged, err := s.tenants.UpsertTenant(cfg)
		if err != nil {
			slog.Error("Bootstrap tenant upsert failed", "error", err, "tenantID", cfg.TenantID)
			continue
		}
		slog.Info("Bootstrapped tenant", "tenantID", merged.TenantID)
		if s.twilio == nil {
			if err := s.manager.StartSession(ctx, merged.TenantID); err != nil {
				slog.Error("Bootstrap session start failed", "error", err, "tenantID", merged.TenantID)
			}
		}
	}
}

// routes builds the chi router for the control plane.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", s.healthHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Endpoint layout kept compatible with the WordPress plugin.
	r.Route("/wp-json/convers-ia/v1", func(r chi.Router) {
		r.HandleFunc("/connect", s.connectHandler)
		r.Get("/status", s.statusHandler)
		r.Get("/qr", s.qrHandler)
	})

	r.Route("/v1/tenants/{tenantID}", func(r chi.Router) {
		r.Post("/flows/refresh", s.refreshHandler)
		r.Get("/status", s.tenantStatusHandler)
		r.Get("/qr", s.tenantQRHandler)
		if s.twilio != nil {
			r.Post("/twilio/webhook", s.twilio.WebhookHandler(func(req *http.Request) string {
				return chi.URLParam(req, "tenantID")
			}))
		}
	})
	return r
}
