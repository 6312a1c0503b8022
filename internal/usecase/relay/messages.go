package relay

import "fmt"

// Reply texts shown to chat users.
const (
	msgOCRNotConfigured = "OCR設定が正しく行われていません。"
	msgUnavailable      = "⚠️ 現在サービスを一時的に利用できません。しばらくしてから再度お試しください。"
	msgRateLimited      = "⚠️ 短時間に送信が集中しています。少し時間をおいてからお試しください。"
)

func msgQuotaExceeded(limit int) string {
	return fmt.Sprintf("⚠️ GPTの利用回数が本日の上限（%d回）に達しました。明日またご利用ください。", limit)
}

func msgCompletionError(err error) string {
	return fmt.Sprintf("OpenAI APIリクエストエラー: %v", err)
}
