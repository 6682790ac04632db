package bot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"booklending/internal/catalog"
	"booklending/internal/ledger"
	"booklending/internal/loans"
	"booklending/internal/models"
	"booklending/internal/storage/stubs"
)

const (
	owner    = int64(100)
	borrower = int64(200)
	stranger = int64(300)
)

// fakeAPI records everything the bot sends to Telegram
type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	calls    map[string]tgbotapi.Params
	sendErr  error
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.sendErr
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]tgbotapi.Params)
	}
	f.calls[endpoint] = params
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	ch := make(chan tgbotapi.Update)
	close(ch)
	return ch
}

func (f *fakeAPI) StopReceivingUpdates() {}

func (f *fakeAPI) GetWebhookInfo() (tgbotapi.WebhookInfo, error) {
	return tgbotapi.WebhookInfo{URL: "https://example.org/telegram-webhook"}, nil
}

// messagesTo returns the plain messages sent to chatID
func (f *fakeAPI) messagesTo(chatID int64) []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []tgbotapi.MessageConfig
	for _, c := range f.sent {
		if msg, ok := c.(tgbotapi.MessageConfig); ok && msg.ChatID == chatID {
			out = append(out, msg)
		}
	}
	return out
}

func (f *fakeAPI) lastTo(t *testing.T, chatID int64) tgbotapi.MessageConfig {
	t.Helper()
	msgs := f.messagesTo(chatID)
	require.NotEmpty(t, msgs, "no message sent to %d", chatID)
	return msgs[len(msgs)-1]
}

func (f *fakeAPI) lastAnswer(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if answer, ok := f.requests[i].(tgbotapi.CallbackConfig); ok {
			return answer.Text
		}
	}
	t.Fatal("no callback answered")
	return ""
}

func (f *fakeAPI) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
	f.requests = nil
}

func newTestBot(t *testing.T) (*Bot, *fakeAPI, *loans.Service) {
	t.Helper()

	db := stubs.NewMockDB()
	svc := loans.New(catalog.New(db), ledger.New(db), zap.NewNop())
	api := &fakeAPI{}
	b := newBot(api, svc, []int64{owner, borrower, stranger}, zap.NewNop())
	svc.SetNotifier(b)
	return b, api, svc
}

func command(userID int64, text string) *tgbotapi.Message {
	name := strings.Fields(text)[0]
	return &tgbotapi.Message{
		From:     &tgbotapi.User{ID: userID},
		Chat:     &tgbotapi.Chat{ID: userID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}
}

func text(userID int64, body string) *tgbotapi.Message {
	return &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: userID},
		Text: body,
	}
}

func callback(userID int64, data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      "query",
		From:    &tgbotapi.User{ID: userID},
		Message: &tgbotapi.Message{MessageID: 42, Chat: &tgbotapi.Chat{ID: userID}},
		Data:    data,
	}
}

func buttons(msg tgbotapi.MessageConfig) []string {
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		return nil
	}
	var data []string
	for _, row := range markup.InlineKeyboard {
		for _, button := range row {
			if button.CallbackData != nil {
				data = append(data, *button.CallbackData)
			}
		}
	}
	return data
}

func TestBot_NewBookConversation(t *testing.T) {
	b, api, svc := newTestBot(t)

	b.handleMessage(command(owner, "/new_book"))
	state := b.state(owner)
	require.NotNil(t, state)
	assert.Equal(t, "new_book", state.Command)
	assert.Equal(t, 1, state.Step)

	b.handleMessage(text(owner, "   "))
	assert.Equal(t, 1, b.state(owner).Step, "empty title is asked again")

	b.handleMessage(text(owner, "Dune"))
	assert.Equal(t, 2, b.state(owner).Step)
	assert.Contains(t, api.lastTo(t, owner).Text, "author")

	b.handleMessage(text(owner, "Frank Herbert"))
	assert.Nil(t, b.state(owner), "conversation is finished")
	assert.Contains(t, api.lastTo(t, owner).Text, "Dune by Frank Herbert")

	books := svc.BooksByOwner("100")
	require.Len(t, books, 1)
	assert.Equal(t, "Dune", books[0].Title)
	assert.Equal(t, "Frank Herbert", books[0].Author)
	assert.True(t, books[0].Available)
}

func TestBot_CommandInterruptsConversation(t *testing.T) {
	b, api, svc := newTestBot(t)

	b.handleMessage(command(owner, "/new_book"))
	b.handleMessage(command(owner, "/my_books"))

	assert.Nil(t, b.state(owner))
	assert.Contains(t, api.lastTo(t, owner).Text, "no books")
	assert.Empty(t, svc.Books())
}

func TestBot_LendingFlow(t *testing.T) {
	b, api, svc := newTestBot(t)
	ctx := context.Background()

	book, err := svc.AddBook(ctx, models.Book{Title: "Emma", Author: "Jane Austen", OwnerID: "100"})
	require.NoError(t, err)

	// The owner does not see their own book
	b.handleMessage(command(owner, "/books"))
	assert.Contains(t, api.lastTo(t, owner).Text, "No books")

	b.handleMessage(command(borrower, "/books"))
	browse := api.lastTo(t, borrower)
	assert.Equal(t, []string{callbackRequest + book.ID}, buttons(browse))

	b.handleCallbackQuery(callback(borrower, callbackRequest+book.ID))
	assert.Equal(t, "Request sent", api.lastAnswer(t))

	pending := svc.Loans(models.LoanPending)
	require.Len(t, pending, 1)
	loanID := pending[0].ID

	// The owner is notified with approve and reject buttons
	request := api.lastTo(t, owner)
	assert.Contains(t, request.Text, "asks to borrow Emma")
	assert.Equal(t, []string{callbackApprove + loanID, callbackReject + loanID}, buttons(request))

	b.handleMessage(command(owner, "/requests"))
	assert.Equal(t, []string{callbackApprove + loanID, callbackReject + loanID}, buttons(api.lastTo(t, owner)))

	// Only the owner may decide
	b.handleCallbackQuery(callback(stranger, callbackApprove+loanID))
	assert.Equal(t, "Only the owner can answer this request.", api.lastAnswer(t))
	loan, err := svc.Loan(loanID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanPending, loan.Status)

	b.handleCallbackQuery(callback(owner, callbackApprove+loanID))
	loan, err = svc.Loan(loanID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanApproved, loan.Status)
	assert.Contains(t, api.lastTo(t, borrower).Text, "approved")

	current, err := svc.Book(book.ID)
	require.NoError(t, err)
	assert.False(t, current.Available)

	// Answering twice is refused
	b.handleCallbackQuery(callback(owner, callbackReject+loanID))
	assert.Equal(t, "This loan has already been handled.", api.lastAnswer(t))

	b.handleMessage(command(borrower, "/loans"))
	loansMsg := api.lastTo(t, borrower)
	assert.Contains(t, loansMsg.Text, "Borrowed:")
	assert.Contains(t, loansMsg.Text, "Emma - approved")
	assert.Equal(t, []string{callbackReturn + loanID}, buttons(loansMsg))

	b.handleCallbackQuery(callback(stranger, callbackReturn+loanID))
	assert.Equal(t, "This is not one of your loans.", api.lastAnswer(t))

	b.handleCallbackQuery(callback(borrower, callbackReturn+loanID))
	assert.Equal(t, "Marked as returned", api.lastAnswer(t))
	assert.Contains(t, api.lastTo(t, owner).Text, "has been returned")

	current, err = svc.Book(book.ID)
	require.NoError(t, err)
	assert.True(t, current.Available)

	b.handleMessage(command(borrower, "/loans"))
	assert.Contains(t, api.lastTo(t, borrower).Text, "no loans in progress")
}

func TestBot_RejectedRequest(t *testing.T) {
	b, api, svc := newTestBot(t)
	ctx := context.Background()

	book, err := svc.AddBook(ctx, models.Book{Title: "Emma", Author: "Jane Austen", OwnerID: "100"})
	require.NoError(t, err)
	loan, err := svc.RequestLoan(ctx, book.ID, "200")
	require.NoError(t, err)

	b.handleCallbackQuery(callback(owner, callbackReject+loan.ID))

	assert.Contains(t, api.lastTo(t, borrower).Text, "declined")
	loan, err = svc.Loan(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanRejected, loan.Status)

	// The button message is replaced with the outcome
	api.mu.Lock()
	edited := false
	for _, c := range api.sent {
		if edit, ok := c.(tgbotapi.EditMessageTextConfig); ok {
			edited = edit.MessageID == 42 && strings.Contains(edit.Text, "rejected")
		}
	}
	api.mu.Unlock()
	assert.True(t, edited)
}

func TestBot_RequestErrors(t *testing.T) {
	b, api, svc := newTestBot(t)
	ctx := context.Background()

	book, err := svc.AddBook(ctx, models.Book{Title: "Emma", Author: "Jane Austen", OwnerID: "100"})
	require.NoError(t, err)

	b.handleCallbackQuery(callback(owner, callbackRequest+book.ID))
	assert.Equal(t, "You cannot borrow your own book.", api.lastAnswer(t))

	b.handleCallbackQuery(callback(borrower, callbackRequest+"missing"))
	assert.Equal(t, "That book or loan no longer exists.", api.lastAnswer(t))

	b.handleCallbackQuery(callback(borrower, callbackRequest+book.ID))
	b.handleCallbackQuery(callback(stranger, callbackRequest+book.ID))
	assert.Equal(t, "This book already has a loan in progress.", api.lastAnswer(t))
}

func TestBot_UnauthorizedUser(t *testing.T) {
	b, api, _ := newTestBot(t)

	b.HandleUpdate(tgbotapi.Update{Message: command(999, "/new_book")})

	assert.Nil(t, b.state(999))
	assert.Contains(t, api.lastTo(t, 999).Text, "not authorized")

	api.reset()
	b.HandleUpdate(tgbotapi.Update{CallbackQuery: callback(999, callbackRequest+"x")})
	assert.Empty(t, api.requests)
}

func TestBot_UnknownCommand(t *testing.T) {
	b, api, _ := newTestBot(t)

	b.HandleUpdate(tgbotapi.Update{Message: command(owner, "/stats")})
	assert.Contains(t, api.lastTo(t, owner).Text, "Unknown command")

	b.HandleUpdate(tgbotapi.Update{Message: command(owner, "/start")})
	assert.Contains(t, api.lastTo(t, owner).Text, "/requests")
}

func TestBot_NotifierSkipsNonTelegramUsers(t *testing.T) {
	b, api, _ := newTestBot(t)
	ctx := context.Background()

	loan := models.Loan{ID: "L1", BookID: "b1", RequesterID: "bob", OwnerID: "alice", Status: models.LoanPending}
	book := models.Book{ID: "b1", Title: "Emma", Author: "Jane Austen", OwnerID: "alice"}

	assert.NoError(t, b.LoanRequested(ctx, loan, book))
	assert.NoError(t, b.LoanResponded(ctx, loan, book))
	assert.NoError(t, b.LoanReturned(ctx, loan, book))
	assert.Empty(t, api.sent)
}

func TestBot_NotifierReportsSendFailure(t *testing.T) {
	b, api, _ := newTestBot(t)
	api.sendErr = errors.New("chat not found")

	loan := models.Loan{ID: "L1", BookID: "b1", RequesterID: "200", OwnerID: "100", Status: models.LoanRejected}
	book := models.Book{ID: "b1", Title: "Emma", Author: "Jane Austen", OwnerID: "100"}

	assert.Error(t, b.LoanResponded(context.Background(), loan, book))
	assert.Error(t, b.LoanReturned(context.Background(), loan, book))
}

func TestDescribeError(t *testing.T) {
	validation := models.NewValidationError()
	validation.Add("title", "must be provided")

	tests := []struct {
		err  error
		want string
	}{
		{models.ErrNotFound, "That book or loan no longer exists."},
		{models.ErrUnavailable, "This book is currently lent out."},
		{models.ErrConflict, "This book already has a loan in progress."},
		{models.ErrInvalidTransition, "This loan has already been handled."},
		{models.ErrInvalidArgument, "You cannot borrow your own book."},
		{validation, "Please check your input (invalid argument: title must be provided)."},
		{errors.New("connection reset"), "Something went wrong, please try again later."},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, describeError(tt.err))
	}
}

func TestChatOf(t *testing.T) {
	id, ok := chatOf("12345")
	assert.True(t, ok)
	assert.Equal(t, int64(12345), id)

	_, ok = chatOf("alice")
	assert.False(t, ok)

	_, ok = chatOf("-5")
	assert.False(t, ok)
}

func TestBot_Lifecycle(t *testing.T) {
	b, api, _ := newTestBot(t)

	// The fake update channel is already closed, so polling returns at once
	require.NoError(t, b.Start())
	_, ok := api.requests[0].(tgbotapi.DeleteWebhookConfig)
	assert.True(t, ok)

	require.NoError(t, b.StartWebhook("https://example.org", "s3cret"))
	params, ok := api.calls["setWebhook"]
	require.True(t, ok)
	assert.Equal(t, "https://example.org/telegram-webhook", params["url"])
	assert.Equal(t, "s3cret", params["secret_token"])
	assert.Equal(t, "40", params["max_connections"])
}

func TestBot_WebhookHandler(t *testing.T) {
	b, _, _ := newTestBot(t)
	h := b.WebhookHandler("s3cret")

	post := func(body string, headers ...string) int {
		req := httptest.NewRequest(http.MethodPost, "/telegram-webhook", strings.NewReader(body))
		for i := 0; i+1 < len(headers); i += 2 {
			req.Header.Set(headers[i], headers[i+1])
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, post(`{"update_id":1}`, secretHeader, "s3cret"))
	assert.Equal(t, http.StatusBadRequest, post(`{"update_id":`, secretHeader, "s3cret"))

	assert.Equal(t, http.StatusUnauthorized, post(`{"update_id":2}`))
	assert.Equal(t, http.StatusUnauthorized, post(`{"update_id":3}`, secretHeader, "guess"))

	// Without a configured secret every update is refused
	open := b.WebhookHandler("")
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/telegram-webhook", strings.NewReader(`{"update_id":4}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
