// Package ledger owns loan records and their status transitions.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"booklending/internal/models"
)

// DefaultLoanPeriod is used for the due date when the requester did not ask for one
const DefaultLoanPeriod = 14 * 24 * time.Hour

// Writer persists loan versions
type Writer interface {
	SaveLoan(ctx context.Context, loan models.Loan) error
}

// Ledger holds loan records in insertion order.
// Every change is saved through the Writer before it becomes visible.
type Ledger struct {
	mu     sync.RWMutex
	db     Writer
	loans  map[string]*models.Loan
	order  []string
	active map[string]string // book ID -> non-terminal loan ID
	seq    uint64
	period time.Duration
	now    func() time.Time
	newID  func() string
}

// Option configures a Ledger
type Option func(*Ledger)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator overrides how loan IDs are generated
func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) { l.newID = newID }
}

// WithLoanPeriod sets the default time between approval and the due date
func WithLoanPeriod(period time.Duration) Option {
	return func(l *Ledger) {
		if period > 0 {
			l.period = period
		}
	}
}

// New creates an empty Ledger writing through db
func New(db Writer, opts ...Option) *Ledger {
	l := &Ledger{
		db:     db,
		loans:  make(map[string]*models.Loan),
		active: make(map[string]string),
		period: DefaultLoanPeriod,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Restore replaces the ledger content with persisted loans given in Seq order.
// It fails if the records break the one-active-loan-per-book rule.
func (l *Ledger) Restore(loans []models.Loan) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	restored := make(map[string]*models.Loan, len(loans))
	active := make(map[string]string)
	order := make([]string, 0, len(loans))
	var seq uint64

	for _, loan := range loans {
		loan := loan
		if !loan.Status.Valid() {
			return fmt.Errorf("loan %s has unknown status %q: %w", loan.ID, loan.Status, models.ErrInvalidArgument)
		}
		if _, exists := restored[loan.ID]; exists {
			return fmt.Errorf("loan %s restored twice: %w", loan.ID, models.ErrConflict)
		}
		if !loan.Status.Terminal() {
			if other, busy := active[loan.BookID]; busy {
				return fmt.Errorf("book %s has active loans %s and %s: %w", loan.BookID, other, loan.ID, models.ErrConflict)
			}
			active[loan.BookID] = loan.ID
		}
		if loan.Seq > seq {
			seq = loan.Seq
		}
		restored[loan.ID] = &loan
		order = append(order, loan.ID)
	}

	l.loans = restored
	l.active = active
	l.order = order
	l.seq = seq
	return nil
}

// Create records a new pending loan
func (l *Ledger) Create(ctx context.Context, req models.LoanRequest) (models.Loan, error) {
	v := models.NewValidationError()
	v.Check(strings.TrimSpace(req.BookID) != "", "book_id", "must be provided")
	v.Check(strings.TrimSpace(req.RequesterID) != "", "requester_id", "must be provided")
	v.Check(strings.TrimSpace(req.OwnerID) != "", "owner_id", "must be provided")
	if req.RequesterID != "" && req.RequesterID == req.OwnerID {
		v.Add("requester_id", "must differ from the book owner")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	if req.ReturnBy != nil {
		v.Check(req.ReturnBy.After(now), "return_by", "must be in the future")
	}
	if !v.Valid() {
		return models.Loan{}, v
	}

	if loanID, busy := l.active[req.BookID]; busy {
		return models.Loan{}, fmt.Errorf("book %s already has loan %s in progress: %w", req.BookID, loanID, models.ErrConflict)
	}

	loan := models.Loan{
		ID:          l.newID(),
		BookID:      req.BookID,
		RequesterID: req.RequesterID,
		OwnerID:     req.OwnerID,
		RequestDate: now,
		Status:      models.LoanPending,
		Seq:         l.seq + 1,
		Version:     1,
	}
	if req.ReturnBy != nil {
		returnBy := req.ReturnBy.UTC()
		loan.ReturnBy = &returnBy
	}

	if err := l.db.SaveLoan(ctx, loan); err != nil {
		return models.Loan{}, fmt.Errorf("failed to save loan: %w", err)
	}

	l.seq = loan.Seq
	l.loans[loan.ID] = &loan
	l.order = append(l.order, loan.ID)
	l.active[loan.BookID] = loan.ID
	return loan, nil
}

// Get returns the loan with the given ID
func (l *Ledger) Get(loanID string) (models.Loan, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	loan, ok := l.loans[loanID]
	if !ok {
		return models.Loan{}, fmt.Errorf("loan %s: %w", loanID, models.ErrNotFound)
	}
	return *loan, nil
}

// Active returns the non-terminal loan of a book, if any
func (l *Ledger) Active(bookID string) (models.Loan, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	loanID, ok := l.active[bookID]
	if !ok {
		return models.Loan{}, false
	}
	return *l.loans[loanID], true
}

// Transition moves a loan to target. Approval stamps the due date and
// completion stamps the completed date. A requested return date that passed
// while the loan was pending gives way to the loan period.
func (l *Ledger) Transition(ctx context.Context, loanID string, target models.LoanStatus) (models.Loan, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.loans[loanID]
	if !ok {
		return models.Loan{}, fmt.Errorf("loan %s: %w", loanID, models.ErrNotFound)
	}
	if !models.CanTransition(current.Status, target) {
		return models.Loan{}, fmt.Errorf("loan %s cannot go from %s to %s: %w",
			loanID, current.Status, target, models.ErrInvalidTransition)
	}

	now := l.now().UTC()
	next := *current
	next.Status = target
	next.Version++

	switch target {
	case models.LoanApproved:
		due := now.Add(l.period)
		if next.ReturnBy != nil && next.ReturnBy.After(now) {
			due = *next.ReturnBy
		}
		next.DueDate = &due
	case models.LoanCompleted:
		next.CompletedDate = &now
	}

	if err := l.db.SaveLoan(ctx, next); err != nil {
		return models.Loan{}, fmt.Errorf("failed to save loan: %w", err)
	}

	l.loans[loanID] = &next
	if target.Terminal() {
		delete(l.active, next.BookID)
	}
	return next, nil
}

// ListByStatus returns the loans in the given status in insertion order
func (l *Ledger) ListByStatus(status models.LoanStatus) []models.Loan {
	return l.filter(func(loan *models.Loan) bool { return loan.Status == status })
}

// ListByUser returns the loans where userID is the requester or the owner
func (l *Ledger) ListByUser(userID string) []models.Loan {
	return l.filter(func(loan *models.Loan) bool {
		return loan.RequesterID == userID || loan.OwnerID == userID
	})
}

// List returns every loan in insertion order
func (l *Ledger) List() []models.Loan {
	return l.filter(func(*models.Loan) bool { return true })
}

func (l *Ledger) filter(keep func(*models.Loan) bool) []models.Loan {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var loans []models.Loan
	for _, id := range l.order {
		if loan := l.loans[id]; keep(loan) {
			loans = append(loans, *loan)
		}
	}
	return loans
}
