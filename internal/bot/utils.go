package bot

import (
	"errors"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"booklending/internal/models"
)

// sendMessage sends a message and logs delivery failures
func (b *Bot) sendMessage(msg tgbotapi.MessageConfig) error {
	if b.api == nil {
		return nil
	}
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("Failed to send message", zap.Error(err), zap.Int64("chat_id", msg.ChatID))
		return err
	}
	return nil
}

func (b *Bot) reply(chatID int64, text string) {
	_ = b.sendMessage(tgbotapi.NewMessage(chatID, text))
}

// answerCallback clears the loading state of a button, optionally with a toast
func (b *Bot) answerCallback(query *tgbotapi.CallbackQuery, text string) {
	if b.api == nil {
		return
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, text)); err != nil {
		b.logger.Debug("Failed to answer callback", zap.Error(err))
	}
}

// userKey is the lending user ID of a Telegram user
func userKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// chatOf returns the private chat of a lending user, if the user is a Telegram user
func chatOf(userID string) (int64, bool) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// describeError turns a service error into a message for the user
func describeError(err error) string {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return "That book or loan no longer exists."
	case errors.Is(err, models.ErrUnavailable):
		return "This book is currently lent out."
	case errors.Is(err, models.ErrConflict):
		return "This book already has a loan in progress."
	case errors.Is(err, models.ErrInvalidTransition):
		return "This loan has already been handled."
	case errors.Is(err, models.ErrInvalidArgument):
		var validation *models.ValidationError
		if errors.As(err, &validation) {
			return "Please check your input (" + validation.Error() + ")."
		}
		return "You cannot borrow your own book."
	default:
		return "Something went wrong, please try again later."
	}
}
