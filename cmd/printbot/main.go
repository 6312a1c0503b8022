package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/printbot/internal/config"
	dbRedis "github.com/kailas-cloud/printbot/internal/db/redis"
	"github.com/kailas-cloud/printbot/internal/domain"
	logpkg "github.com/kailas-cloud/printbot/internal/logger"
	"github.com/kailas-cloud/printbot/internal/metrics"
	"github.com/kailas-cloud/printbot/internal/ratelimit"
	quotarepo "github.com/kailas-cloud/printbot/internal/repository/quota"
	chiTransport "github.com/kailas-cloud/printbot/internal/transport/chi"
	lineTransport "github.com/kailas-cloud/printbot/internal/transport/line"
	openaiLLM "github.com/kailas-cloud/printbot/internal/transport/openai"
	"github.com/kailas-cloud/printbot/internal/transport/tesseract"
	healthuc "github.com/kailas-cloud/printbot/internal/usecase/health"
	quotauc "github.com/kailas-cloud/printbot/internal/usecase/quota"
	relayuc "github.com/kailas-cloud/printbot/internal/usecase/relay"
	"github.com/kailas-cloud/printbot/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting printbot",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("quota_backend", cfg.Quota.Backend),
		zap.Int("daily_limit", cfg.Quota.DailyLimit),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterRelayMetrics()

	ctx := context.Background()

	quotaStore, storePinger, closeStore := buildQuotaStore(ctx, cfg, logger)
	defer closeStore()

	loc, err := cfg.Quota.Location()
	if err != nil {
		logger.Fatal("Invalid quota timezone", zap.Error(err))
	}
	quotaSvc := quotauc.New(quotaStore, cfg.Quota.DailyLimit, logger).WithLocation(loc)

	systemPrompt := cfg.LLM.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = domain.DefaultSystemPrompt
	}
	completer := openaiLLM.NewCompleter(&openaiLLM.Config{
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		Model:        cfg.LLM.Model,
		Temperature:  cfg.LLM.Temperature,
		SystemPrompt: systemPrompt,
		Logger:       logger,
	})

	ocr := tesseract.NewEngine(tesseract.Config{
		Languages:   cfg.OCR.Languages,
		PageSegMode: cfg.OCR.PageSegMode,
		Logger:      logger,
	})

	lineClient, err := lineTransport.NewClient(lineTransport.Config{
		ChannelSecret:      cfg.LINE.ChannelSecret,
		ChannelAccessToken: cfg.LINE.ChannelAccessToken,
		MaxImageBytes:      cfg.LINE.MaxImageBytes,
		Logger:             logger,
	})
	if err != nil {
		logger.Fatal("Failed to create LINE client", zap.Error(err))
	}

	relaySvc := relayuc.New(quotaSvc, lineClient, ocr, completer, lineClient, logger)
	// Pass the limiter only when configured: a typed nil pointer would still be a non-nil interface.
	if limiter := ratelimit.NewPerMinute(cfg.RateLimit.EventsPerMinute); limiter != nil {
		relaySvc.WithLimiter(limiter)
	}

	healthSvc := healthuc.New(storePinger, completer)

	server := chiTransport.NewServer(lineClient, relaySvc, quotaSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildQuotaStore selects the quota persistence backend.
func buildQuotaStore(
	ctx context.Context,
	cfg config.Config,
	logger *zap.Logger,
) (quotauc.Store, healthuc.StorePinger, func()) {
	if cfg.Quota.Backend != config.QuotaBackendRedis {
		fs := quotarepo.NewFileStore(cfg.Quota.Path)
		logger.Info("Using file quota store", zap.String("path", fs.Path()))
		return fs, fs, func() {}
	}

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}

	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database",
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.String("quota_key", cfg.Quota.Key),
	)

	kv := quotarepo.NewKVStore(store, cfg.Quota.Key, time.Duration(cfg.Quota.LockTTLSec)*time.Second)
	return kv, store, store.Close
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.String("path", r.URL.Path),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(chiTransport.ErrorResponse{
						Code:    chiTransport.ErrorCodeInternal,
						Message: "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line, one per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
