// Package loans orchestrates the lending workflow over the catalog and the ledger.
package loans

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"booklending/internal/catalog"
	"booklending/internal/ledger"
	"booklending/internal/models"
)

// Loader reads persisted state
type Loader interface {
	ListBooks(ctx context.Context) ([]models.Book, error)
	ListDeletedBookIDs(ctx context.Context) ([]string, error)
	ListLoans(ctx context.Context) ([]models.Loan, error)
}

// Service is the operations surface for requesting, answering and returning loans.
//
// Operations are serialised by mu. Within an operation the single persisted
// loan write comes first; the in-memory updates that follow cannot fail, so
// callers never observe a loan and its book out of step.
type Service struct {
	mu       sync.RWMutex
	catalog  *catalog.Store
	ledger   *ledger.Ledger
	notifier Notifier
	logger   *zap.Logger
}

// New creates a Service over the given stores
func New(c *catalog.Store, l *ledger.Ledger, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		catalog:  c,
		ledger:   l,
		notifier: nopNotifier{},
		logger:   logger,
	}
}

// SetNotifier registers the receiver of lending notifications
func (s *Service) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n == nil {
		n = nopNotifier{}
	}
	s.notifier = n
}

// Load restores books and loans from storage and derives availability
// from the loans in progress
func (s *Service) Load(ctx context.Context, db Loader) error {
	books, err := db.ListBooks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load books: %w", err)
	}
	deleted, err := db.ListDeletedBookIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load deleted books: %w", err)
	}
	loans, err := db.ListLoans(ctx)
	if err != nil {
		return fmt.Errorf("failed to load loans: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ledger.Restore(loans); err != nil {
		return fmt.Errorf("failed to restore loans: %w", err)
	}
	s.catalog.Restore(books, deleted)

	active, lent := 0, 0
	for _, book := range books {
		loan, busy := s.ledger.Active(book.ID)
		if !busy {
			continue
		}
		active++
		if loan.Status == models.LoanApproved {
			lent++
			if err := s.catalog.SetAvailability(book.ID, false); err != nil {
				return err
			}
		}
	}

	s.logger.Info("Lending state loaded",
		zap.Int("books", len(books)),
		zap.Int("loans", len(loans)),
		zap.Int("active_loans", active),
		zap.Int("lent_books", lent),
	)
	return nil
}

// RequestLoan asks the owner of a book to lend it to requesterID.
// The book stays available until the owner approves.
func (s *Service) RequestLoan(ctx context.Context, bookID, requesterID string) (models.Loan, error) {
	return s.requestLoan(ctx, bookID, requesterID, nil)
}

// RequestLoanUntil is RequestLoan with the return date the requester asks for
func (s *Service) RequestLoanUntil(ctx context.Context, bookID, requesterID string, returnBy time.Time) (models.Loan, error) {
	return s.requestLoan(ctx, bookID, requesterID, &returnBy)
}

func (s *Service) requestLoan(ctx context.Context, bookID, requesterID string, returnBy *time.Time) (models.Loan, error) {
	res, err := s.commitRequest(ctx, bookID, requesterID, returnBy)
	if err != nil {
		s.logFailure("request", err, zap.String("book_id", bookID), zap.String("requester_id", requesterID))
		return models.Loan{}, err
	}

	s.logger.Info("Loan requested",
		zap.String("loan_id", res.loan.ID),
		zap.String("book_id", res.loan.BookID),
		zap.String("requester_id", res.loan.RequesterID),
		zap.String("owner_id", res.loan.OwnerID),
	)
	s.notify(ctx, "requested", res, res.notifier.LoanRequested)
	return res.loan, nil
}

// RespondToLoan approves or rejects a pending loan. Approval makes the book unavailable.
func (s *Service) RespondToLoan(ctx context.Context, loanID string, decision models.Decision) (models.Loan, error) {
	var target models.LoanStatus
	switch decision {
	case models.Approve:
		target = models.LoanApproved
	case models.Reject:
		target = models.LoanRejected
	default:
		return models.Loan{}, fmt.Errorf("unknown decision %q: %w", decision, models.ErrInvalidArgument)
	}

	res, err := s.commitTransition(ctx, loanID, models.LoanPending, target)
	if err != nil {
		s.logFailure("respond", err, zap.String("loan_id", loanID), zap.String("decision", string(decision)))
		return models.Loan{}, err
	}

	s.logger.Info("Loan answered",
		zap.String("loan_id", res.loan.ID),
		zap.String("book_id", res.loan.BookID),
		zap.String("status", string(res.loan.Status)),
	)
	s.notify(ctx, "responded", res, res.notifier.LoanResponded)
	return res.loan, nil
}

// ReturnLoan completes an approved loan and makes the book available again
func (s *Service) ReturnLoan(ctx context.Context, loanID string) (models.Loan, error) {
	res, err := s.commitTransition(ctx, loanID, models.LoanApproved, models.LoanCompleted)
	if err != nil {
		s.logFailure("return", err, zap.String("loan_id", loanID))
		return models.Loan{}, err
	}

	s.logger.Info("Loan returned",
		zap.String("loan_id", res.loan.ID),
		zap.String("book_id", res.loan.BookID),
	)
	s.notify(ctx, "returned", res, res.notifier.LoanReturned)
	return res.loan, nil
}

// committed is the outcome of an operation, notified after the lock is released
type committed struct {
	loan     models.Loan
	book     models.Book
	notifier Notifier
}

func (s *Service) commitRequest(ctx context.Context, bookID, requesterID string, returnBy *time.Time) (committed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, err := s.catalog.Get(bookID)
	if err != nil {
		return committed{}, err
	}
	if !book.Available {
		return committed{}, fmt.Errorf("book %s: %w", bookID, models.ErrUnavailable)
	}
	if requesterID == "" {
		return committed{}, fmt.Errorf("requester must be provided: %w", models.ErrInvalidArgument)
	}
	if requesterID == book.OwnerID {
		return committed{}, fmt.Errorf("user %s owns book %s: %w", requesterID, bookID, models.ErrInvalidArgument)
	}

	loan, err := s.ledger.Create(ctx, models.LoanRequest{
		BookID:      book.ID,
		RequesterID: requesterID,
		OwnerID:     book.OwnerID,
		ReturnBy:    returnBy,
	})
	if err != nil {
		return committed{}, err
	}
	return committed{loan: loan, book: book, notifier: s.notifier}, nil
}

// commitTransition moves a loan from the expected status to target and
// applies the matching availability change to its book
func (s *Service) commitTransition(ctx context.Context, loanID string, from, target models.LoanStatus) (committed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.ledger.Get(loanID)
	if err != nil {
		return committed{}, err
	}
	if current.Status != from {
		return committed{}, fmt.Errorf("loan %s is %s: %w", loanID, current.Status, models.ErrInvalidTransition)
	}
	book, err := s.catalog.Get(current.BookID)
	if err != nil {
		return committed{}, err
	}

	loan, err := s.ledger.Transition(ctx, loanID, target)
	if err != nil {
		return committed{}, err
	}

	// Books with a loan in progress are never deleted, so these cannot fail.
	switch target {
	case models.LoanApproved:
		_ = s.catalog.SetAvailability(book.ID, false)
		book.Available = false
	case models.LoanCompleted:
		_ = s.catalog.SetAvailability(book.ID, true)
		book.Available = true
	}

	return committed{loan: loan, book: book, notifier: s.notifier}, nil
}

// AddBook registers a new book for its owner
func (s *Service) AddBook(ctx context.Context, book models.Book) (models.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.catalog.Add(ctx, book)
}

// ImportBooks adds books fetched from another service. IDs present in the
// catalog or deleted from it are skipped. A record the catalog refuses is
// reported under its ID in Rejected and the import goes on with the next one.
func (s *Service) ImportBooks(ctx context.Context, books []models.Book) (models.ImportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := models.ImportResult{Rejected: make(map[string]string)}
	for _, book := range books {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := s.catalog.Get(book.ID); err == nil || s.catalog.Deleted(book.ID) {
			result.Skipped++
			continue
		}
		if _, err := s.catalog.Add(ctx, book); err != nil {
			s.logFailure("import_book", err, zap.String("book_id", book.ID))
			result.Rejected[book.ID] = err.Error()
			continue
		}
		result.Added++
	}
	return result, nil
}

// UpdateBook edits the descriptive fields of a book
func (s *Service) UpdateBook(ctx context.Context, bookID string, changes models.BookChanges) (models.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.catalog.Update(ctx, bookID, changes)
}

// DeleteBook removes a book that has no loan in progress
func (s *Service) DeleteBook(ctx context.Context, bookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if loan, busy := s.ledger.Active(bookID); busy {
		return fmt.Errorf("book %s has loan %s in progress: %w", bookID, loan.ID, models.ErrConflict)
	}
	return s.catalog.Delete(ctx, bookID)
}

// Book returns a single book
func (s *Service) Book(bookID string) (models.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.catalog.Get(bookID)
}

// Books returns the whole catalog
func (s *Service) Books() []models.Book {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.catalog.List()
}

// BooksByOwner returns the books owned by ownerID
func (s *Service) BooksByOwner(ownerID string) []models.Book {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.catalog.ListByOwner(ownerID)
}

// Loan returns a single loan
func (s *Service) Loan(loanID string) (models.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.ledger.Get(loanID)
}

// Loans returns every loan, or only those in status when it is not empty
func (s *Service) Loans(status models.LoanStatus) []models.Loan {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if status == "" {
		return s.ledger.List()
	}
	return s.ledger.ListByStatus(status)
}

// LoansForUser returns the loans where userID borrows or lends
func (s *Service) LoansForUser(userID string) []models.Loan {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.ledger.ListByUser(userID)
}

func (s *Service) notify(ctx context.Context, event string, res committed,
	send func(context.Context, models.Loan, models.Book) error) {
	if err := send(ctx, res.loan, res.book); err != nil {
		s.logger.Warn("Failed to send loan notification",
			zap.String("event", event),
			zap.String("loan_id", res.loan.ID),
			zap.Error(err),
		)
	}
}

func (s *Service) logFailure(op string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("operation", op), zap.Error(err))
	if isDomainError(err) {
		s.logger.Debug("Loan operation refused", fields...)
		return
	}
	s.logger.Error("Loan operation failed", fields...)
}

func isDomainError(err error) bool {
	for _, target := range []error{
		models.ErrNotFound,
		models.ErrUnavailable,
		models.ErrInvalidArgument,
		models.ErrConflict,
		models.ErrInvalidTransition,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
