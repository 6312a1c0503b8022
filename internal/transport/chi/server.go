package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/printbot/internal/domain"
	logpkg "github.com/kailas-cloud/printbot/internal/logger"
	healthuc "github.com/kailas-cloud/printbot/internal/usecase/health"
	"github.com/kailas-cloud/printbot/internal/version"
)

// Error codes returned in ErrorResponse.
const (
	ErrorCodeBadRequest         = "bad_request"
	ErrorCodeInvalidSignature   = "invalid_signature"
	ErrorCodeUnauthorized       = "unauthorized"
	ErrorCodeStorageUnavailable = "storage_unavailable"
	ErrorCodeInternal           = "internal_error"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UsageResponse is the GET /usage body.
type UsageResponse struct {
	Date        string    `json:"date"`
	Used        int       `json:"used"`
	Limit       int       `json:"limit"`
	Remaining   int       `json:"remaining"`
	IsExhausted bool      `json:"is_exhausted"`
	ResetsAt    time.Time `json:"resets_at"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

// Server serves the webhook, usage, health and metrics endpoints.
type Server struct {
	webhook WebhookParser
	events  EventHandler
	quota   QuotaReporter
	health  HealthChecker
	logger  *zap.Logger
}

// NewServer creates an HTTP server.
func NewServer(
	webhook WebhookParser,
	events EventHandler,
	quota QuotaReporter,
	health HealthChecker,
	logger *zap.Logger,
) *Server {
	return &Server{
		webhook: webhook,
		events:  events,
		quota:   quota,
		health:  health,
		logger:  logger,
	}
}

// Register mounts all routes on r.
func (s *Server) Register(r chi.Router) {
	r.Post("/callback", s.Callback)
	r.Get("/usage", s.GetUsage)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// Callback handles POST /callback.
func (s *Server) Callback(w http.ResponseWriter, r *http.Request) {
	events, err := s.webhook.ParseEvents(r)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			s.log(r.Context()).Warn("Rejected webhook with invalid signature")
			writeError(w, http.StatusBadRequest, ErrorCodeInvalidSignature, "invalid signature")
			return
		}
		s.log(r.Context()).Warn("Failed to parse webhook", zap.Error(err))
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "invalid request")
		return
	}

	// Handling continues if the platform drops the connection.
	s.events.HandleEvents(context.WithoutCancel(r.Context()), events)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// GetUsage handles GET /usage.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	st, err := s.quota.Status(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrQuotaStorageUnavailable) {
			writeError(w, http.StatusServiceUnavailable, ErrorCodeStorageUnavailable, domain.ErrQuotaStorageUnavailable.Error())
			return
		}
		s.log(r.Context()).Error("Failed to read quota status", zap.Error(err))
		writeError(w, http.StatusInternalServerError, ErrorCodeInternal, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, UsageResponse{
		Date:        st.Date(),
		Used:        st.Used(),
		Limit:       st.Limit(),
		Remaining:   st.Remaining(),
		IsExhausted: st.IsExhausted(),
		ResetsAt:    st.ResetsAt(),
	})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status:  string(report.Status),
		Version: version.Version,
		Checks:  checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) log(ctx context.Context) *zap.Logger {
	return logpkg.FromContextOr(ctx, s.logger)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}
