// Package line adapts the LINE Messaging API to the relay's chat contracts.
package line

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/line/line-bot-sdk-go/v7/linebot"
	"go.uber.org/zap"

	"github.com/kailas-cloud/printbot/internal/domain"
	"github.com/kailas-cloud/printbot/internal/domain/chat"
)

// DefaultMaxImageBytes caps downloaded image content.
const DefaultMaxImageBytes int64 = 10 << 20

// Config holds the LINE channel settings.
type Config struct {
	ChannelSecret      string
	ChannelAccessToken string
	MaxImageBytes      int64
	// EndpointBase overrides both API hosts. Empty uses the LINE defaults.
	EndpointBase string
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// Client wraps linebot.Client.
type Client struct {
	bot      *linebot.Client
	maxBytes int64
	logger   *zap.Logger
}

// NewClient creates a LINE client.
func NewClient(cfg Config) (*Client, error) {
	var opts []linebot.ClientOption
	if cfg.EndpointBase != "" {
		opts = append(opts,
			linebot.WithEndpointBase(cfg.EndpointBase),
			linebot.WithEndpointBaseData(cfg.EndpointBase),
		)
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, linebot.WithHTTPClient(cfg.HTTPClient))
	}

	bot, err := linebot.New(cfg.ChannelSecret, cfg.ChannelAccessToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("create line client: %w", err)
	}

	maxBytes := cfg.MaxImageBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{bot: bot, maxBytes: maxBytes, logger: logger}, nil
}

// ParseEvents verifies the webhook signature and converts supported events.
// Non-message events and unsupported message types are dropped.
func (c *Client) ParseEvents(r *http.Request) ([]chat.Event, error) {
	events, err := c.bot.ParseRequest(r)
	if err != nil {
		if errors.Is(err, linebot.ErrInvalidSignature) {
			return nil, domain.ErrInvalidSignature
		}
		return nil, fmt.Errorf("parse webhook: %w", err)
	}

	out := make([]chat.Event, 0, len(events))
	for _, ev := range events {
		if ev.Type != linebot.EventTypeMessage {
			continue
		}
		ce := chat.Event{ReplyToken: ev.ReplyToken, SourceID: sourceID(ev.Source)}
		switch m := ev.Message.(type) {
		case *linebot.TextMessage:
			ce.Kind = chat.KindText
			ce.MessageID = m.ID
			ce.Text = m.Text
		case *linebot.ImageMessage:
			ce.Kind = chat.KindImage
			ce.MessageID = m.ID
		default:
			c.logger.Debug("Skipping unsupported message type", zap.String("reply_token", ev.ReplyToken))
			continue
		}
		out = append(out, ce)
	}
	return out, nil
}

// FetchContent downloads the binary content of a message.
func (c *Client) FetchContent(ctx context.Context, messageID string) ([]byte, error) {
	resp, err := c.bot.GetMessageContent(messageID).WithContext(ctx).Do()
	if err != nil {
		return nil, wrapAPIError("get content", err)
	}
	defer resp.Content.Close()

	if resp.ContentLength > c.maxBytes {
		return nil, fmt.Errorf("content length %d: %w", resp.ContentLength, domain.ErrImageTooLarge)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Content, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read content: %w: %w", domain.ErrChatProviderError, err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("content exceeds %d bytes: %w", c.maxBytes, domain.ErrImageTooLarge)
	}
	return data, nil
}

// ReplyText answers a webhook event with a single text message.
func (c *Client) ReplyText(ctx context.Context, replyToken, text string) error {
	if _, err := c.bot.ReplyMessage(replyToken, linebot.NewTextMessage(text)).WithContext(ctx).Do(); err != nil {
		return wrapAPIError("reply", err)
	}
	return nil
}

func sourceID(src *linebot.EventSource) string {
	if src == nil {
		return ""
	}
	switch {
	case src.UserID != "":
		return src.UserID
	case src.GroupID != "":
		return src.GroupID
	default:
		return src.RoomID
	}
}

func wrapAPIError(op string, err error) error {
	var apiErr *linebot.APIError
	if errors.As(err, &apiErr) {
		msg := ""
		if apiErr.Response != nil {
			msg = apiErr.Response.Message
		}
		return fmt.Errorf("line %s: status %d: %s: %w", op, apiErr.Code, msg, domain.ErrChatProviderError)
	}
	return fmt.Errorf("line %s: %w: %w", op, domain.ErrChatProviderError, err)
}
