package relay

import (
	"context"

	domquota "github.com/kailas-cloud/printbot/internal/domain/quota"
)

// Quota hands out slots for the gated completion call.
type Quota interface {
	Reserve(ctx context.Context) (res domquota.Reservation, ok bool, err error)
	Limit() int
}

// ContentFetcher downloads the binary content of an inbound message.
type ContentFetcher interface {
	FetchContent(ctx context.Context, messageID string) ([]byte, error)
}

// Recognizer extracts text from an image.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// Completer structures recognized text through the language model.
type Completer interface {
	Complete(ctx context.Context, text string) (string, error)
}

// Replier sends a text reply to an inbound event.
type Replier interface {
	ReplyText(ctx context.Context, replyToken, text string) error
}

// Limiter throttles events per source.
type Limiter interface {
	Allow(key string) bool
}
