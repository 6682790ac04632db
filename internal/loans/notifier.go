package loans

import (
	"context"

	"booklending/internal/models"
)

// Notifier is told about committed lending operations
type Notifier interface {
	LoanRequested(ctx context.Context, loan models.Loan, book models.Book) error
	LoanResponded(ctx context.Context, loan models.Loan, book models.Book) error
	LoanReturned(ctx context.Context, loan models.Loan, book models.Book) error
}

type nopNotifier struct{}

func (nopNotifier) LoanRequested(context.Context, models.Loan, models.Book) error { return nil }
func (nopNotifier) LoanResponded(context.Context, models.Loan, models.Book) error { return nil }
func (nopNotifier) LoanReturned(context.Context, models.Loan, models.Book) error  { return nil }
