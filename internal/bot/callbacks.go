package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"booklending/internal/models"
)

// handleRequestCallback asks the owner of a book to lend it
func (b *Bot) handleRequestCallback(ctx context.Context, query *tgbotapi.CallbackQuery, bookID string) {
	loan, err := b.service.RequestLoan(ctx, bookID, userKey(query.From.ID))
	if err != nil {
		b.answerCallback(query, describeError(err))
		return
	}

	b.answerCallback(query, "Request sent")
	if query.Message != nil {
		b.reply(query.Message.Chat.ID, fmt.Sprintf("Your request was sent to the owner (user %s).", loan.OwnerID))
	}
}

// handleDecisionCallback approves or rejects a pending request. Only the owner may answer.
func (b *Bot) handleDecisionCallback(ctx context.Context, query *tgbotapi.CallbackQuery, loanID string, approve bool) {
	loan, err := b.service.Loan(loanID)
	if err != nil {
		b.answerCallback(query, describeError(err))
		return
	}
	if loan.OwnerID != userKey(query.From.ID) {
		b.answerCallback(query, "Only the owner can answer this request.")
		return
	}

	decision := models.Reject
	if approve {
		decision = models.Approve
	}
	loan, err = b.service.RespondToLoan(ctx, loanID, decision)
	if err != nil {
		b.answerCallback(query, describeError(err))
		return
	}

	b.answerCallback(query, "")
	text := fmt.Sprintf("You rejected the request of user %s.", loan.RequesterID)
	if loan.Status == models.LoanApproved {
		text = fmt.Sprintf("You lent the book to user %s until %s.", loan.RequesterID, loan.DueDate.Format(dateLayout))
	}
	b.editCallbackMessage(query, text)
}

// handleReturnCallback marks an approved loan as returned. Either party may confirm.
func (b *Bot) handleReturnCallback(ctx context.Context, query *tgbotapi.CallbackQuery, loanID string) {
	loan, err := b.service.Loan(loanID)
	if err != nil {
		b.answerCallback(query, describeError(err))
		return
	}
	me := userKey(query.From.ID)
	if loan.OwnerID != me && loan.RequesterID != me {
		b.answerCallback(query, "This is not one of your loans.")
		return
	}

	if _, err := b.service.ReturnLoan(ctx, loanID); err != nil {
		b.answerCallback(query, describeError(err))
		return
	}

	b.answerCallback(query, "Marked as returned")
	if query.Message != nil {
		b.reply(query.Message.Chat.ID, "The book is back on the shelf. Thanks!")
	}
}

// editCallbackMessage replaces the text and buttons of the message holding the button
func (b *Bot) editCallbackMessage(query *tgbotapi.CallbackQuery, text string) {
	if b.api == nil || query.Message == nil {
		return
	}
	edit := tgbotapi.NewEditMessageText(query.Message.Chat.ID, query.Message.MessageID, text)
	if _, err := b.api.Send(edit); err != nil {
		b.logger.Warn("Failed to edit message",
			zap.Error(err),
			zap.Int64("chat_id", query.Message.Chat.ID),
		)
	}
}
