package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yishengjiang99/Performance-checker/internal/app/migrate"
	httpx "github.com/yishengjiang99/Performance-checker/internal/http"
	"github.com/yishengjiang99/Performance-checker/internal/inspector"
	"github.com/yishengjiang99/Performance-checker/internal/probe"
	"github.com/yishengjiang99/Performance-checker/internal/repository"
	"github.com/yishengjiang99/Performance-checker/internal/repository/memory"
	"github.com/yishengjiang99/Performance-checker/internal/repository/postgres"
	"github.com/yishengjiang99/Performance-checker/internal/repository/redishist"
	"github.com/yishengjiang99/Performance-checker/internal/service/session"
	"github.com/yishengjiang99/Performance-checker/pkg/config"
	"github.com/yishengjiang99/Performance-checker/pkg/jwt"
	"github.com/yishengjiang99/Performance-checker/pkg/logger"
)

func main() {
	cfg := config.LoadServiceConfig()
	log := logger.New("perfcheckd", logger.ParseLevel(config.GetString("LOG_LEVEL", "info")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var history repository.HistoryStore = memory.NewHistoryStore()
	if addr := strings.TrimSpace(cfg.HistoryRedisAddr); addr != "" {
		redisHistory, err := redishist.New(addr, cfg.HistoryRedisPass, cfg.HistoryRedisDB, log)
		if err != nil {
			log.Warn("redis history unavailable, falling back to memory", "error", err)
		} else {
			defer redisHistory.Close()
			history = redisHistory
		}
	}

	var archive repository.ReportArchive
	var health func(context.Context) error
	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		runner, err := migrate.New(pool, dsn, cfg.MigrationsDir, log)
		if err != nil {
			log.Error("failed to configure migrations", "error", err)
			os.Exit(1)
		}
		defer runner.Close()
		if err := runner.Ping(ctx); err != nil {
			log.Error("database ping failed", "error", err)
			os.Exit(1)
		}
		if err := runner.Ensure(ctx); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		archive = postgres.NewArchive(pool)
		health = pool.Ping
	}

	dialer := inspector.NewWSDialer(cfg.InspectorURL, cfg.EventBuffer, cfg.AttachTimeout, cfg.CommandTimeout, log)
	pageProbe := probe.NewClient(log)
	engineMetrics := session.NewMetrics(prometheus.DefaultRegisterer)
	engine := session.NewEngine(session.NewStore(), dialer, pageProbe, history, archive, engineMetrics, log, cfg.TraceGracePeriod)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	// Local setups get a ready-to-use token instead of a separate issuance
	// flow. Never logged outside development.
	if cfg.Environment == "development" && cfg.JWTSecret != "" {
		token, err := jwt.GenerateToken("dev", "measure", cfg.JWTSecret, cfg.AccessTokenTTL)
		if err != nil {
			log.Warn("could not issue development token", "error", err)
		} else {
			log.Info("development access token issued", "token", token)
		}
	}

	router := httpx.NewRouter(log, engine, history, archive, limiter, cfg.JWTSecret, health)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("measurement server starting", "addr", cfg.Addr, "inspector", cfg.InspectorURL)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("measurement server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
