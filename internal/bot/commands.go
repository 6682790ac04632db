package bot

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"booklending/internal/models"
)

const dateLayout = "2006-01-02"

// handleStart shows welcome message and available commands
func (b *Bot) handleStart(message *tgbotapi.Message) {
	text := `Welcome to the Book Lending Bot! 📚

Available commands:
/books - Browse books you can borrow
/my_books - Show the books you own
/new_book - Register a new book
/requests - Answer loan requests for your books
/loans - Show what you borrowed and lent`

	b.reply(message.Chat.ID, text)
}

// handleBooks lists the available books of other users with a request button each
func (b *Bot) handleBooks(message *tgbotapi.Message) {
	me := userKey(message.From.ID)

	var rows [][]tgbotapi.InlineKeyboardButton
	var text strings.Builder
	text.WriteString("Books you can borrow:\n\n")
	for _, book := range b.service.Books() {
		if !book.Available || book.OwnerID == me {
			continue
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📖 "+book.Title, callbackRequest+book.ID),
		))
		text.WriteString(fmt.Sprintf("%d. %s\n", len(rows), describeBook(book)))
	}

	if len(rows) == 0 {
		b.reply(message.Chat.ID, "No books are available right now.")
		return
	}

	text.WriteString("\nTap a book to ask its owner to lend it.")
	msg := tgbotapi.NewMessage(message.Chat.ID, text.String())
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	_ = b.sendMessage(msg)
}

// handleMyBooks lists the books owned by the user
func (b *Bot) handleMyBooks(message *tgbotapi.Message) {
	books := b.service.BooksByOwner(userKey(message.From.ID))
	if len(books) == 0 {
		b.reply(message.Chat.ID, "You have no books yet. Add one with /new_book")
		return
	}

	var text strings.Builder
	text.WriteString("Your books:\n\n")
	for i, book := range books {
		status := "available"
		if !book.Available {
			status = "lent out"
		}
		text.WriteString(fmt.Sprintf("%d. %s (%s)\n", i+1, describeBook(book), status))
	}
	b.reply(message.Chat.ID, text.String())
}

// handleNewBookStart initiates the new book conversation
func (b *Bot) handleNewBookStart(message *tgbotapi.Message) {
	b.setState(message.From.ID, &ConversationState{
		Command: "new_book",
		Step:    1,
		Data:    make(map[string]string),
	})

	b.reply(message.Chat.ID, "Please enter the book title:")
}

// handleRequests lists pending requests for the user's books
func (b *Bot) handleRequests(message *tgbotapi.Message) {
	me := userKey(message.From.ID)

	sent := 0
	for _, loan := range b.service.Loans(models.LoanPending) {
		if loan.OwnerID != me {
			continue
		}
		book, err := b.service.Book(loan.BookID)
		if err != nil {
			continue
		}

		text := fmt.Sprintf("User %s asks to borrow %s", loan.RequesterID, describeBook(book))
		if loan.ReturnBy != nil {
			text += fmt.Sprintf(" until %s", loan.ReturnBy.Format(dateLayout))
		}
		msg := tgbotapi.NewMessage(message.Chat.ID, text)
		msg.ReplyMarkup = decisionKeyboard(loan.ID)
		_ = b.sendMessage(msg)
		sent++
	}

	if sent == 0 {
		b.reply(message.Chat.ID, "No pending requests for your books.")
	}
}

// handleLoans shows the loans in progress the user takes part in
func (b *Bot) handleLoans(message *tgbotapi.Message) {
	me := userKey(message.From.ID)

	var borrowed, lent strings.Builder
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, loan := range b.service.LoansForUser(me) {
		if loan.Status.Terminal() {
			continue
		}
		title := loan.BookID
		if book, err := b.service.Book(loan.BookID); err == nil {
			title = book.Title
		}

		line := fmt.Sprintf("• %s - %s", title, loan.Status)
		if loan.DueDate != nil {
			line += fmt.Sprintf(", due %s", loan.DueDate.Format(dateLayout))
		}
		if loan.RequesterID == me {
			borrowed.WriteString(line + fmt.Sprintf(" (from %s)\n", loan.OwnerID))
		} else {
			lent.WriteString(line + fmt.Sprintf(" (to %s)\n", loan.RequesterID))
		}

		if loan.Status == models.LoanApproved {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("↩️ Returned: "+title, callbackReturn+loan.ID),
			))
		}
	}

	if borrowed.Len() == 0 && lent.Len() == 0 {
		b.reply(message.Chat.ID, "You have no loans in progress.")
		return
	}

	var text strings.Builder
	if borrowed.Len() > 0 {
		text.WriteString("Borrowed:\n" + borrowed.String() + "\n")
	}
	if lent.Len() > 0 {
		text.WriteString("Lent:\n" + lent.String())
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, strings.TrimSpace(text.String()))
	if len(rows) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	_ = b.sendMessage(msg)
}

func decisionKeyboard(loanID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Approve", callbackApprove+loanID),
			tgbotapi.NewInlineKeyboardButtonData("❌ Reject", callbackReject+loanID),
		),
	)
}

func describeBook(book models.Book) string {
	return fmt.Sprintf("%s by %s", book.Title, book.Author)
}
