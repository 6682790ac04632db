package storage

import (
	"context"

	"booklending/internal/models"
)

// Storage defines the interface for data storage operations
type Storage interface {
	// Book operations
	CreateBook(ctx context.Context, book models.Book) error
	UpdateBook(ctx context.Context, book models.Book) error
	DeleteBook(ctx context.Context, book models.Book) error

	// ListBooks returns every book that has not been deleted, oldest first.
	// The Available flag of the returned books is not meaningful: availability
	// is derived from the loans on load.
	ListBooks(ctx context.Context) ([]models.Book, error)

	// ListDeletedBookIDs returns the IDs of deleted books, which stay reserved
	ListDeletedBookIDs(ctx context.Context) ([]string, error)

	// Loan operations

	// SaveLoan writes the given loan version. A loan is never deleted, every
	// status change is saved as a new version of the same record.
	SaveLoan(ctx context.Context, loan models.Loan) error

	// ListLoans returns the latest version of every loan ordered by Seq
	ListLoans(ctx context.Context) ([]models.Loan, error)

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}
