package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/aitalentmarketplace/gateway/internal/auth"
	"github.com/aitalentmarketplace/gateway/internal/config"
	"github.com/aitalentmarketplace/gateway/internal/logger"
	"github.com/aitalentmarketplace/gateway/internal/monitoring"
	"github.com/aitalentmarketplace/gateway/internal/pipeline"
	"github.com/aitalentmarketplace/gateway/internal/proxy"
	"github.com/aitalentmarketplace/gateway/internal/ratelimit"
	"github.com/aitalentmarketplace/gateway/internal/registry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Server.LoggingLevel)

	log.Info("Starting gateway",
		"logging_level", cfg.Server.LoggingLevel,
		"port", cfg.Server.Port,
		"dev_mode", cfg.Server.DevMode,
	)

	log.Info("Loaded services", "count", len(cfg.Services))
	for i, svc := range cfg.Services {
		log.Info("Service configured",
			"index", i+1,
			"name", svc.Name,
			"base_url", svc.BaseURL,
		)
	}

	metrics := monitoring.New(cfg.Monitoring.PrometheusEnabled)

	reg := registry.New(log, metrics, cfg.Health.FailureThreshold)
	for _, svc := range cfg.Services {
		reg.Register(svc.Name, svc.BaseURL)
	}

	prober := registry.NewProber(reg, cfg.Health.ProbeTimeout.Std(), log)
	gate, err := registry.NewGate(reg, prober, cfg.Health.CacheTTL.Std(), cfg.Server.DevMode, log)
	if err != nil {
		log.Error("Failed to create health gate", "error", err)
		os.Exit(1)
	}

	proberCtx, stopProber := context.WithCancel(context.Background())
	defer stopProber()
	if !cfg.Server.DevMode {
		go prober.Start(proberCtx, cfg.Health.ProbeInterval.Std())
	} else {
		log.Info("Dev mode: background health probing disabled, all services treated as healthy")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		// The limiter degrades to its local fallback until Redis comes back.
		log.Warn("Redis unreachable at startup, rate limiting will run degraded", "error", err)
	}
	cancelPing()

	limiter := ratelimit.New(redisClient, cfg.RateLimit, metrics, log)
	authenticator := auth.NewTokenAuthenticator(cfg.JWT, log)
	authorizer := auth.NewRoleAuthorizer(log)
	dispatcher := proxy.NewDispatcher(reg, cfg.Server.ForwardTimeout.Std(), metrics, log)

	p := pipeline.New(cfg, gate, authenticator, authorizer, limiter, dispatcher, reg, log)
	log.Info("Request pipeline assembled", "stages", p.StageNames())

	mux := http.NewServeMux()
	mux.Handle("/", p)

	if cfg.Monitoring.PrometheusEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		log.Info("Prometheus metrics enabled", "path", "/metrics")
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: mux,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down server...")
	stopProber()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
	}
	if err := redisClient.Close(); err != nil {
		log.Error("Failed to close Redis client", "error", err)
	}

	log.Info("Server stopped")
}
