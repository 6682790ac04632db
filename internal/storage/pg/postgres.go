package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"booklending/internal/models"
	"booklending/internal/storage"
)

const uniqueViolation = "23505"

var _ storage.Storage = (*PostgresDB)(nil)

// PostgresDB stores books and loans in PostgreSQL. Each write is one statement.
type PostgresDB struct {
	pool *pgxpool.Pool
}

// NewPostgresDB opens a connection pool for dsn
func NewPostgresDB(ctx context.Context, dsn string) (*PostgresDB, error) {
	const defaultMaxConnections = int32(8)
	const defaultMinConnections = int32(1)
	const defaultMaxConnLifetime = time.Hour
	const defaultMaxConnIdleTime = time.Minute * 5
	const defaultHealthCheckPeriod = time.Minute
	const defaultConnectTimeout = time.Second * 5

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres DSN: %w", err)
	}

	config.MaxConns = defaultMaxConnections
	config.MinConns = defaultMinConnections
	config.MaxConnLifetime = defaultMaxConnLifetime
	config.MaxConnIdleTime = defaultMaxConnIdleTime
	config.HealthCheckPeriod = defaultHealthCheckPeriod
	config.ConnConfig.ConnectTimeout = defaultConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// Pool exposes the underlying pool, e.g. for running migrations
func (db *PostgresDB) Pool() *pgxpool.Pool {
	return db.pool
}

// Initialize is a no-op - tables are managed via migrations
func (db *PostgresDB) Initialize(ctx context.Context) error {
	return nil
}

// CreateBook inserts a new book
func (db *PostgresDB) CreateBook(ctx context.Context, book models.Book) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO books (id, title, author, publication_date, genre, owner_id, created_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		book.ID, book.Title, book.Author, book.PublicationDate, book.Genre, book.OwnerID, book.CreatedAt, book.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to create book %s: %w", book.ID, models.ErrConflict)
		}
		return fmt.Errorf("failed to create book: %w", err)
	}
	return nil
}

// UpdateBook writes a new version of a book. The stored version must be the previous one.
func (db *PostgresDB) UpdateBook(ctx context.Context, book models.Book) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE books
		SET title = $2, author = $3, publication_date = $4, genre = $5, version = $6
		WHERE id = $1 AND version = $6 - 1 AND NOT deleted`,
		book.ID, book.Title, book.Author, book.PublicationDate, book.Genre, book.Version)
	if err != nil {
		return fmt.Errorf("failed to update book: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update book %s version %d: %w", book.ID, book.Version, models.ErrConflict)
	}
	return nil
}

// DeleteBook marks a book as deleted
func (db *PostgresDB) DeleteBook(ctx context.Context, book models.Book) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE books SET deleted = TRUE, version = $2
		WHERE id = $1 AND NOT deleted`,
		book.ID, book.Version)
	if err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to delete book %s: %w", book.ID, models.ErrNotFound)
	}
	return nil
}

// ListBooks returns every book that is not deleted, oldest first
func (db *PostgresDB) ListBooks(ctx context.Context) ([]models.Book, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, title, author, publication_date, genre, owner_id, created_at, version
		FROM books
		WHERE NOT deleted
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}

	books, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Book, error) {
		var book models.Book
		err := row.Scan(&book.ID, &book.Title, &book.Author, &book.PublicationDate, &book.Genre,
			&book.OwnerID, &book.CreatedAt, &book.Version)
		book.Available = true
		return book, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan books: %w", err)
	}
	return books, nil
}

// ListDeletedBookIDs returns the IDs of soft-deleted books
func (db *PostgresDB) ListDeletedBookIDs(ctx context.Context) ([]string, error) {
	rows, err := db.pool.Query(ctx, `SELECT id FROM books WHERE deleted ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list deleted books: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan book ids: %w", err)
	}
	return ids, nil
}

// SaveLoan inserts a loan or replaces it with a newer version
func (db *PostgresDB) SaveLoan(ctx context.Context, loan models.Loan) error {
	tag, err := db.pool.Exec(ctx, `
		INSERT INTO loans (id, book_id, requester_id, owner_id, request_date, return_by, status,
			due_date, completed_date, seq, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
			due_date = EXCLUDED.due_date,
			completed_date = EXCLUDED.completed_date,
			version = EXCLUDED.version
		WHERE loans.version < EXCLUDED.version`,
		loan.ID, loan.BookID, loan.RequesterID, loan.OwnerID, loan.RequestDate, loan.ReturnBy,
		string(loan.Status), loan.DueDate, loan.CompletedDate, loan.Seq, loan.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to save loan %s: %w", loan.ID, models.ErrConflict)
		}
		return fmt.Errorf("failed to save loan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to save loan %s version %d: %w", loan.ID, loan.Version, models.ErrConflict)
	}
	return nil
}

// ListLoans returns every loan ordered by sequence
func (db *PostgresDB) ListLoans(ctx context.Context) ([]models.Loan, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, book_id, requester_id, owner_id, request_date, return_by, status,
			due_date, completed_date, seq, version
		FROM loans
		ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}

	loans, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Loan, error) {
		var (
			loan   models.Loan
			status string
		)
		err := row.Scan(&loan.ID, &loan.BookID, &loan.RequesterID, &loan.OwnerID, &loan.RequestDate,
			&loan.ReturnBy, &status, &loan.DueDate, &loan.CompletedDate, &loan.Seq, &loan.Version)
		loan.Status = models.LoanStatus(status)
		return loan, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan loans: %w", err)
	}
	return loans, nil
}

// Close closes the connection pool
func (db *PostgresDB) Close() error {
	if db.pool != nil {
		db.pool.Close()
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
