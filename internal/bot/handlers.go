package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// handleMessage processes a single message
func (b *Bot) handleMessage(message *tgbotapi.Message) {
	// Recover from panics to prevent bot crashes
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleMessage", zap.Any("panic", r))
			b.reply(message.Chat.ID, "An error occurred while processing your request. Please try again.")
		}
	}()

	userID := message.From.ID
	ctx := context.Background()

	// Any command interrupts an ongoing conversation
	if state := b.state(userID); state != nil {
		if message.IsCommand() {
			b.clearState(userID)
		} else {
			b.handleConversation(ctx, message, state)
			return
		}
	}

	if !message.IsCommand() {
		return
	}

	switch message.Command() {
	case "start", "help":
		b.handleStart(message)
	case "books":
		b.handleBooks(message)
	case "my_books":
		b.handleMyBooks(message)
	case "new_book":
		b.handleNewBookStart(message)
	case "requests":
		b.handleRequests(message)
	case "loans":
		b.handleLoans(message)
	default:
		b.reply(message.Chat.ID, "Unknown command. Use /start to see available commands.")
	}
}

// handleCallbackQuery processes inline keyboard button clicks
func (b *Bot) handleCallbackQuery(query *tgbotapi.CallbackQuery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleCallbackQuery", zap.Any("panic", r))
		}
	}()

	ctx := context.Background()
	data := query.Data

	switch {
	case strings.HasPrefix(data, callbackRequest):
		b.handleRequestCallback(ctx, query, strings.TrimPrefix(data, callbackRequest))
	case strings.HasPrefix(data, callbackApprove):
		b.handleDecisionCallback(ctx, query, strings.TrimPrefix(data, callbackApprove), true)
	case strings.HasPrefix(data, callbackReject):
		b.handleDecisionCallback(ctx, query, strings.TrimPrefix(data, callbackReject), false)
	case strings.HasPrefix(data, callbackReturn):
		b.handleReturnCallback(ctx, query, strings.TrimPrefix(data, callbackReturn))
	default:
		b.answerCallback(query, "")
	}
}

func (b *Bot) state(userID int64) *ConversationState {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()
	return b.states[userID]
}

func (b *Bot) setState(userID int64, state *ConversationState) {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()
	b.states[userID] = state
}

func (b *Bot) clearState(userID int64) {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()
	delete(b.states, userID)
}
