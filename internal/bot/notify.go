package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"booklending/internal/loans"
	"booklending/internal/models"
)

var _ loans.Notifier = (*Bot)(nil)

// LoanRequested asks the owner to approve or reject a new request
func (b *Bot) LoanRequested(ctx context.Context, loan models.Loan, book models.Book) error {
	chatID, ok := chatOf(loan.OwnerID)
	if !ok {
		return nil
	}

	text := fmt.Sprintf("📬 User %s asks to borrow %s", loan.RequesterID, describeBook(book))
	if loan.ReturnBy != nil {
		text += fmt.Sprintf(" until %s", loan.ReturnBy.Format(dateLayout))
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = decisionKeyboard(loan.ID)
	return b.sendMessage(msg)
}

// LoanResponded tells the requester what the owner decided
func (b *Bot) LoanResponded(ctx context.Context, loan models.Loan, book models.Book) error {
	chatID, ok := chatOf(loan.RequesterID)
	if !ok {
		return nil
	}

	text := fmt.Sprintf("❌ Your request for %s was declined.", book.Title)
	if loan.Status == models.LoanApproved {
		text = fmt.Sprintf("✅ Your request for %s was approved. Please return it by %s.",
			book.Title, loan.DueDate.Format(dateLayout))
	}
	return b.sendMessage(tgbotapi.NewMessage(chatID, text))
}

// LoanReturned confirms the return to both parties
func (b *Bot) LoanReturned(ctx context.Context, loan models.Loan, book models.Book) error {
	text := fmt.Sprintf("↩️ %s has been returned.", book.Title)

	var errs []error
	for _, userID := range []string{loan.OwnerID, loan.RequesterID} {
		if chatID, ok := chatOf(userID); ok {
			errs = append(errs, b.sendMessage(tgbotapi.NewMessage(chatID, text)))
		}
	}
	return errors.Join(errs...)
}
