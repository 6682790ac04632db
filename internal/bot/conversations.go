package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"booklending/internal/models"
)

// handleConversation processes multi-step conversations
func (b *Bot) handleConversation(ctx context.Context, message *tgbotapi.Message, state *ConversationState) {
	switch state.Command {
	case "new_book":
		b.handleNewBookConversation(ctx, message, state)
	default:
		state.Step = -1
	}

	// Clean up completed conversations
	if state.Step == -1 {
		b.clearState(message.From.ID)
	}
}

// handleNewBookConversation asks for the title, then the author, then registers the book
func (b *Bot) handleNewBookConversation(ctx context.Context, message *tgbotapi.Message, state *ConversationState) {
	text := strings.TrimSpace(message.Text)

	switch state.Step {
	case 1: // Waiting for title
		if text == "" {
			b.reply(message.Chat.ID, "The title cannot be empty. Please enter the book title:")
			return
		}
		state.Data["title"] = text
		state.Step = 2
		b.reply(message.Chat.ID, "Please enter the author:")

	case 2: // Waiting for author
		if text == "" {
			b.reply(message.Chat.ID, "The author cannot be empty. Please enter the author:")
			return
		}

		book, err := b.service.AddBook(ctx, models.Book{
			Title:   state.Data["title"],
			Author:  text,
			OwnerID: userKey(message.From.ID),
		})
		if err != nil {
			b.logger.Warn("Failed to add book from chat",
				zap.Error(err),
				zap.Int64("user_id", message.From.ID),
			)
			b.reply(message.Chat.ID, describeError(err))
		} else {
			b.reply(message.Chat.ID, fmt.Sprintf("Book added successfully!\n%s", describeBook(book)))
		}

		state.Step = -1 // Mark conversation as complete
	}
}
