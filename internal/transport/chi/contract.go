package chi

import (
	"context"
	"net/http"

	"github.com/kailas-cloud/printbot/internal/domain/chat"
	domquota "github.com/kailas-cloud/printbot/internal/domain/quota"
	healthuc "github.com/kailas-cloud/printbot/internal/usecase/health"
)

// WebhookParser verifies and decodes a chat platform webhook request.
type WebhookParser interface {
	ParseEvents(r *http.Request) ([]chat.Event, error)
}

// EventHandler processes decoded chat events.
type EventHandler interface {
	HandleEvents(ctx context.Context, events []chat.Event)
}

// QuotaReporter reports today's quota usage.
type QuotaReporter interface {
	Status(ctx context.Context) (domquota.Status, error)
}

// HealthChecker aggregates component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}
