// Package tesseract recognizes text in images with the Tesseract OCR engine.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/printbot/internal/domain"
	"github.com/kailas-cloud/printbot/internal/metrics"
)

// DefaultLanguages are used when no languages are configured.
var DefaultLanguages = []string{"jpn", "eng"}

// Config holds the OCR settings.
type Config struct {
	Languages []string
	// PageSegMode is the tesseract --psm value. Zero keeps the engine default.
	PageSegMode int
	Logger      *zap.Logger
}

// Engine implements OCR using a fresh gosseract client per image.
type Engine struct {
	clientFactory func() *gosseract.Client
	languages     []string
	psm           int
	logger        *zap.Logger
}

// NewEngine constructs a Tesseract-backed OCR engine.
func NewEngine(cfg Config) *Engine {
	langs := cfg.Languages
	if len(langs) == 0 {
		langs = DefaultLanguages
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		clientFactory: gosseract.NewClient,
		languages:     langs,
		psm:           cfg.PageSegMode,
		logger:        logger,
	}
}

// Languages returns the configured recognition languages.
func (e *Engine) Languages() []string { return e.languages }

// Recognize returns the trimmed plain text found in the image.
func (e *Engine) Recognize(ctx context.Context, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(image) == 0 {
		metrics.OCRRequestsTotal.WithLabelValues("empty").Inc()
		return "", nil
	}

	c := e.clientFactory()
	defer c.Close()

	text, err := e.recognizeWithClient(c, image)
	if err != nil {
		metrics.OCRRequestsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: %w", domain.ErrOCRFailed, err)
	}
	if text == "" {
		metrics.OCRRequestsTotal.WithLabelValues("empty").Inc()
		return "", nil
	}

	metrics.OCRRequestsTotal.WithLabelValues("success").Inc()
	e.logger.Debug("OCR finished", zap.Int("chars", len([]rune(text))))
	return text, nil
}

func (e *Engine) recognizeWithClient(c *gosseract.Client, image []byte) (string, error) {
	if err := c.SetLanguage(e.languages...); err != nil {
		return "", fmt.Errorf("set languages: %w", err)
	}
	if e.psm > 0 {
		if err := c.SetPageSegMode(gosseract.PageSegMode(e.psm)); err != nil {
			return "", fmt.Errorf("set page seg mode: %w", err)
		}
	}
	if err := c.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return strings.TrimSpace(text), nil
}
