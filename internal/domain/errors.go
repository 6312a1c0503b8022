package domain

import "errors"

var (
	// ErrQuotaStorageUnavailable signals that the quota record could not be read or written.
	ErrQuotaStorageUnavailable = errors.New("quota storage unavailable")
	// ErrQuotaStorageCorrupt signals a quota record that exists but does not parse.
	ErrQuotaStorageCorrupt = errors.New("quota storage corrupt")

	// ErrInvalidSignature signals a webhook request whose signature does not verify.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrChatProviderError signals a messaging platform API failure.
	ErrChatProviderError = errors.New("chat provider error")
	// ErrImageTooLarge signals message content over the configured size cap.
	ErrImageTooLarge = errors.New("image too large")

	// ErrOCRFailed signals an OCR engine failure.
	ErrOCRFailed = errors.New("ocr failed")
	// ErrLLMProviderError signals a completion provider failure.
	ErrLLMProviderError = errors.New("llm provider error")
)
