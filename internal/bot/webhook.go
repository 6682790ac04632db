package bot

import (
	"crypto/subtle"
	"io"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

const (
	maxUpdateBytes = 1 << 20
	secretHeader   = "X-Telegram-Bot-Api-Secret-Token"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WebhookHandler receives updates pushed by Telegram. Requests without the
// secret registered by StartWebhook are refused.
func (b *Bot) WebhookHandler(secret string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(secretHeader)
		if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			b.logger.Warn("Webhook request with invalid secret token", zap.String("remote_addr", r.RemoteAddr))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateBytes))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var update tgbotapi.Update
		if err := json.Unmarshal(body, &update); err != nil {
			b.logger.Warn("Error decoding webhook update", zap.Error(err))
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		// Process update in background to respond quickly to Telegram
		go b.HandleUpdate(update)

		w.WriteHeader(http.StatusOK)
	})
}
