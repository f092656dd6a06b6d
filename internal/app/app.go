// Package app wires configuration, infrastructure and services into
// the running HTTP server.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rbeam/rbeam/internal/cache"
	"github.com/rbeam/rbeam/internal/captcha"
	"github.com/rbeam/rbeam/internal/config"
	"github.com/rbeam/rbeam/internal/httpserver"
	"github.com/rbeam/rbeam/internal/platform"
	"github.com/rbeam/rbeam/internal/telemetry"
	"github.com/rbeam/rbeam/pkg/cascade"
	"github.com/rbeam/rbeam/pkg/ipban"
	"github.com/rbeam/rbeam/pkg/label"
	"github.com/rbeam/rbeam/pkg/mail"
	"github.com/rbeam/rbeam/pkg/market"
	"github.com/rbeam/rbeam/pkg/notify"
	"github.com/rbeam/rbeam/pkg/profile"
	"github.com/rbeam/rbeam/pkg/relation"
	"github.com/rbeam/rbeam/pkg/remote"
)

// Run is the main application entry point.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting rbeam", "listen", cfg.ListenAddr(), "citrus_id", cfg.CitrusID)

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	kv := cache.NewRedis(rdb, logger, telemetry.CacheHitsTotal, telemetry.CacheMissesTotal)
	now := func() uint64 { return uint64(time.Now().UnixMilli()) }

	// Services. The identity service sits in the middle: moderation and
	// cascade are attached after construction.
	remoteClient := remote.NewClient(nil, cfg.Secure, cfg.BlockedHosts, logger)

	profileSvc := profile.NewService(
		profile.NewStore(db), kv, captcha.New(cfg.CaptchaSecret), remoteClient,
		profile.ServiceConfig{
			RegistrationEnabled: cfg.RegistrationEnabled,
			CitrusID:            cfg.CitrusID,
		}, logger)

	notifySvc := notify.NewService(notify.NewStore(db), kv, profileSvc, logger, now)
	ipbanSvc := ipban.NewService(ipban.NewStore(db), kv, profileSvc, notifySvc, logger, now)
	profileSvc.SetBanChecker(ipbanSvc)
	profileSvc.SetDeleter(cascade.NewDeleter(db, kv, cfg.MediaDir, logger))

	relationSvc := relation.NewService(relation.NewStore(db), kv, profileSvc, notifySvc, logger, now)
	mailSvc := mail.NewService(mail.NewStore(db), kv, profileSvc, relationSvc, notifySvc,
		remoteClient, cfg.CitrusID, logger, now)
	marketSvc := market.NewService(market.NewStore(db), kv, profileSvc, notifySvc, logger, now)
	labelSvc := label.NewService(label.NewStore(db), kv, profileSvc, logger, now)

	// HTTP surface.
	srv := httpserver.NewServer(httpserver.ServerConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MetricsPath:        cfg.MetricsPath,
	}, logger, metricsReg)

	authn := profile.NewAuthenticator(profileSvc)

	profileHandler := profile.NewHandler(profileSvc, logger, cfg.RealIPHeader, cfg.Secure)
	relationHandler := relation.NewHandler(relationSvc, profileSvc, logger)
	notifyHandler := notify.NewHandler(notifySvc, logger)
	ipbanHandler := ipban.NewHandler(ipbanSvc, logger)
	mailHandler := mail.NewHandler(mailSvc, logger)
	marketHandler := market.NewHandler(marketSvc, logger)
	labelHandler := label.NewHandler(labelSvc, logger)

	srv.Router.Route("/api/v0/auth", func(r chi.Router) {
		r.Use(authn.Middleware)
		r.Mount("/", profileHandler.Routes())
		r.Mount("/relationships", relationHandler.Routes())
		r.Mount("/notifications", notifyHandler.Routes())
		r.Mount("/warnings", notifyHandler.WarningRoutes())
		r.Mount("/ipbans", ipbanHandler.BanRoutes())
		r.Mount("/ipblocks", ipbanHandler.BlockRoutes())
		r.Mount("/mail", mailHandler.Routes())
		r.Mount("/labels", labelHandler.Routes())
		r.Mount("/items", marketHandler.ItemRoutes())
		r.Mount("/transactions", marketHandler.TransactionRoutes())
	})

	// Peer descriptor so other servers can federate with this one. The
	// descriptor is bare JSON, not the response envelope.
	srv.Router.Get("/.well-known/citrus/citrus.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(remote.Descriptor{
			ID:      cfg.CitrusID,
			Schemas: []string{remote.SchemaProfile, remote.SchemaMail},
		})
	})

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
