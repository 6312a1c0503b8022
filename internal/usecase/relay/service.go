package relay

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/printbot/internal/domain/chat"
	domquota "github.com/kailas-cloud/printbot/internal/domain/quota"
	logpkg "github.com/kailas-cloud/printbot/internal/logger"
	"github.com/kailas-cloud/printbot/internal/metrics"
)

// Event outcomes reported in metrics.
const (
	outcomeReplied     = "replied"
	outcomeAnswered    = "answered"
	outcomeRateLimited = "rate_limited"
	outcomeQuotaDenied = "quota_denied"
	outcomeQuotaError  = "quota_error"
	outcomeFetchError  = "fetch_error"
	outcomeOCREmpty    = "ocr_empty"
	outcomeLLMError    = "llm_error"
	outcomeIgnored     = "ignored"
	outcomePanic       = "panic"
)

// DefaultEventTimeout bounds the handling of one event, including OCR and completion.
const DefaultEventTimeout = 60 * time.Second

// replyTimeout bounds the reply call. It runs even after the event deadline has passed.
const replyTimeout = 10 * time.Second

// Service relays chat events: text is echoed, images go through OCR and the
// quota-gated completion call.
type Service struct {
	quota   Quota
	content ContentFetcher
	ocr     Recognizer
	llm     Completer
	reply   Replier
	limiter Limiter
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a relay service.
func New(
	quota Quota, content ContentFetcher, ocr Recognizer,
	llm Completer, reply Replier, logger *zap.Logger,
) *Service {
	return &Service{
		quota:   quota,
		content: content,
		ocr:     ocr,
		llm:     llm,
		reply:   reply,
		timeout: DefaultEventTimeout,
		logger:  logger,
	}
}

// WithLimiter enables per-source throttling of image events.
func (s *Service) WithLimiter(l Limiter) *Service {
	s.limiter = l
	return s
}

// WithEventTimeout overrides DefaultEventTimeout. d <= 0 is ignored.
func (s *Service) WithEventTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// HandleEvents processes events one by one. A failing event does not stop the rest.
func (s *Service) HandleEvents(ctx context.Context, events []chat.Event) {
	for _, ev := range events {
		s.HandleEvent(ctx, ev)
	}
}

// HandleEvent processes a single inbound event.
// A panic while handling is logged and answered with the unavailable message.
func (s *Service) HandleEvent(ctx context.Context, ev chat.Event) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var outcome string
	defer func() {
		if r := recover(); r != nil {
			s.log(ctx).Error("Panic while handling chat event",
				zap.String("kind", string(ev.Kind)),
				zap.String("message_id", ev.MessageID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			s.send(ctx, ev, msgUnavailable)
			outcome = outcomePanic
		}
		metrics.ChatEventsTotal.WithLabelValues(string(ev.Kind), outcome).Inc()
	}()

	switch ev.Kind {
	case chat.KindText:
		outcome = s.handleText(ctx, ev)
	case chat.KindImage:
		outcome = s.handleImage(ctx, ev)
	default:
		outcome = outcomeIgnored
	}
}

func (s *Service) handleText(ctx context.Context, ev chat.Event) string {
	s.send(ctx, ev, ev.Text)
	return outcomeReplied
}

func (s *Service) handleImage(ctx context.Context, ev chat.Event) string {
	log := s.log(ctx).With(zap.String("message_id", ev.MessageID))

	if s.limiter != nil && !s.limiter.Allow(ev.SourceID) {
		log.Info("Image event rate limited", zap.String("source_id", ev.SourceID))
		s.send(ctx, ev, msgRateLimited)
		return outcomeRateLimited
	}

	res, ok, err := s.quota.Reserve(ctx)
	if err != nil {
		log.Error("Quota check failed, refusing request", zap.Error(err))
		s.send(ctx, ev, msgUnavailable)
		return outcomeQuotaError
	}
	if !ok {
		log.Info("Daily quota exhausted", zap.Int("limit", s.quota.Limit()))
		s.send(ctx, ev, msgQuotaExceeded(s.quota.Limit()))
		return outcomeQuotaDenied
	}
	// Release is a no-op once the reservation is committed.
	defer s.release(ctx, res)

	image, err := s.content.FetchContent(ctx, ev.MessageID)
	if err != nil {
		log.Error("Failed to fetch image content", zap.Error(err))
		s.send(ctx, ev, msgUnavailable)
		return outcomeFetchError
	}

	text, err := s.ocr.Recognize(ctx, image)
	if err != nil {
		log.Warn("OCR failed", zap.Error(err))
	}
	text = strings.TrimSpace(text)
	if text == "" {
		s.send(ctx, ev, msgOCRNotConfigured)
		return outcomeOCREmpty
	}

	answer, err := s.llm.Complete(ctx, text)
	if err != nil {
		log.Error("Completion failed", zap.Error(err))
		s.send(ctx, ev, msgCompletionError(err))
		return outcomeLLMError
	}

	if err := res.Commit(ctx); err != nil {
		// The completion already happened; the user still gets the answer.
		log.Error("Failed to record quota use", zap.Error(err))
	}

	s.send(ctx, ev, strings.TrimSpace(answer))
	return outcomeAnswered
}

// release returns an unused slot. It runs even after the event deadline has passed.
func (s *Service) release(ctx context.Context, res domquota.Reservation) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replyTimeout)
	defer cancel()

	if err := res.Release(rctx); err != nil {
		s.log(ctx).Error("Failed to release quota slot", zap.Error(err))
	}
}

func (s *Service) send(ctx context.Context, ev chat.Event, text string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replyTimeout)
	defer cancel()

	if err := s.reply.ReplyText(rctx, ev.ReplyToken, text); err != nil {
		s.log(ctx).Error("Failed to send reply",
			zap.String("message_id", ev.MessageID),
			zap.Error(err),
		)
	}
}

func (s *Service) log(ctx context.Context) *zap.Logger {
	return logpkg.FromContextOr(ctx, s.logger)
}
