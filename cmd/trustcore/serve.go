package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/trustcore/internal/adminapi"
	"github.com/vitaliisemenov/trustcore/internal/config"
	"github.com/vitaliisemenov/trustcore/internal/coordination"
	"github.com/vitaliisemenov/trustcore/internal/flags"
	"github.com/vitaliisemenov/trustcore/internal/kvstore"
	"github.com/vitaliisemenov/trustcore/internal/metrics"
	"github.com/vitaliisemenov/trustcore/internal/reminder"
	"github.com/vitaliisemenov/trustcore/internal/ssrfguard"
	"github.com/vitaliisemenov/trustcore/internal/transport"
	"github.com/vitaliisemenov/trustcore/internal/truststore"
	"github.com/vitaliisemenov/trustcore/internal/verification"
	"github.com/vitaliisemenov/trustcore/internal/webhook"
	"github.com/vitaliisemenov/trustcore/pkg/logger"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP surface and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return newExitError(exitConfigError, fmt.Errorf("load config: %w", err))
	}

	log := logger.NewLogger(cfg.Log)
	slog.SetDefault(log)

	store, err := openStore(cfg)
	if err != nil {
		return newExitError(exitBackendUnreachable, fmt.Errorf("open kv store: %w", err))
	}
	if err := store.Ping(ctx); err != nil {
		return newExitError(exitBackendUnreachable, fmt.Errorf("ping kv store: %w", err))
	}

	registry := metrics.New()

	policy := ssrfguard.DefaultPolicy()
	policy.AllowPrivateIPs = cfg.SSRF.WebFetchAllowPrivateIPs
	policy.AllowLoopback = cfg.SSRF.WebFetchAllowLocalhost
	policy.BlockAlternateEncoding = cfg.SSRF.BlockAlternateEncoding
	policy.BlockEmbeddedIP = cfg.SSRF.BlockEmbeddedIP
	policy.BlockIDN = cfg.SSRF.BlockIDN
	policy.AllowUserinfo = cfg.SSRF.AllowUserinfo
	if len(cfg.SSRF.AllowedPorts) > 0 {
		policy.AllowedPorts = cfg.SSRF.AllowedPorts
	}
	if len(cfg.SSRF.HostnameBlocklist) > 0 {
		policy.HostnameBlocklist = cfg.SSRF.HostnameBlocklist
	}
	policy.HostnameAllowlist = cfg.SSRF.HostnameAllowlist
	policy.DNSTimeoutMs = cfg.SSRF.DNSTimeoutMs
	policy.DNSCacheCeilingS = cfg.SSRF.DNSCacheCeilingS
	policy.DNSCacheDefaultS = cfg.SSRF.DNSCacheDefaultS
	policy.MaxResponseBytes = cfg.SSRF.MaxResponseBytes
	policy.ConnectTimeoutMs = cfg.SSRF.ConnectTimeoutMs
	policy.ReadTimeoutMs = cfg.SSRF.ReadTimeoutMs
	policy.AllowRedirects = cfg.SSRF.AllowRedirects
	policy.MaxRedirects = cfg.SSRF.MaxRedirects
	policy.CertificatePins = cfg.SSRF.CertificatePins

	guard := ssrfguard.New(store, policy)
	trans := transport.New()

	static := flags.NewStatic(cfg.Flags.WebFetchEnabled, cfg.Flags.VerificationEnabled,
		cfg.SSRF.WebFetchAllowPrivateIPs, cfg.SSRF.WebFetchAllowLocalhost, cfg.SSRF.WebFetchValidateCerts)
	_ = verification.New(store, nil, static, verification.Config{
		MaxVerificationsPerRequest: cfg.Verification.MaxVerificationsPerRequest,
		MaxConcurrentVerifications: cfg.Verification.MaxConcurrentVerifications,
		CacheTTL:                   cfg.Verification.CacheTTL,
		TrustedSources:             cfg.Verification.TrustedSources,
		GeneralSources:             cfg.Verification.GeneralSources,
	})

	queue := webhook.NewQueue(store)
	dispatcher := webhook.NewDispatcher(guard, trans)
	engine := webhook.NewEngine(queue, dispatcher)
	reaperLockCfg := coordination.DefaultConfig()
	reaperLockCfg.TTL = cfg.Webhook.ReaperInterval
	reaper := webhook.NewReaper(queue, log, cfg.Webhook.ReaperStaleAfter).
		WithLeaderLock(coordination.New(store, "webhook-reaper", reaperLockCfg, log))

	gate := truststore.NewGate(truststore.NewBlockStore(store), truststore.NewRateLimitStore(store))

	sender := reminder.NoopSender{Logger: log}
	reminderScheduler := reminder.New(store, sender, log, reminder.Options{
		MaxAge:           cfg.Reminder.MaxAge,
		MaxSendsPerBatch: cfg.Reminder.MaxSendsPerBatch,
	})

	router := adminapi.New(queue, gate, registry, log)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	go runDeliveryLoop(workerCtx, engine, queue, store)
	go reaper.Run(workerCtx, cfg.Webhook.ReaperInterval, func() []string { return activeUsers(workerCtx, store) })
	go runReminderLoop(workerCtx, reminderScheduler, store)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("trustcore: serving", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return newExitError(exitBackendUnreachable, fmt.Errorf("server failed: %w", err))
	case <-quit:
		log.Info("trustcore: shutdown signal received")
	}

	cancelWorkers()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("trustcore: forced shutdown", slog.Any("error", err))
	}
	return newExitError(exitSignalTermination, fmt.Errorf("terminated by signal"))
}

func openStore(cfg *config.Config) (kvstore.Store, error) {
	if cfg.Cache.Backend == "redis" {
		return kvstore.NewRedisStore(&cfg.Cache.Redis, slog.Default())
	}
	return kvstore.NewMemoryStore(nil), nil
}

// runDeliveryLoop drains every known user's webhook queue on a short tick.
// activeUsers is the same user-discovery helper the reaper uses; a real
// deployment would replace both with a user directory lookup.
func runDeliveryLoop(ctx context.Context, engine *webhook.Engine, queue *webhook.Queue, store kvstore.Store) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, userID := range activeUsers(ctx, store) {
				for {
					processed, err := engine.ProcessOne(ctx, userID)
					if err != nil || !processed {
						break
					}
				}
			}
		}
	}
}

func runReminderLoop(ctx context.Context, scheduler *reminder.Scheduler, store kvstore.Store) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			for _, userID := range activeUsers(ctx, store) {
				_, _ = scheduler.ProcessPending(ctx, userID, now)
			}
		}
	}
}

// activeUsers discovers user ids with a non-empty webhook index. This
// core has no user directory of its own; callers embedding trustcore in a
// larger service should supply their own user enumeration instead.
func activeUsers(ctx context.Context, store kvstore.Store) []string {
	keys, err := store.Keys(ctx, "webhook:index:*")
	if err != nil {
		return nil
	}
	users := make([]string, 0, len(keys))
	for _, k := range keys {
		users = append(users, k[len("webhook:index:"):])
	}
	return users
}
