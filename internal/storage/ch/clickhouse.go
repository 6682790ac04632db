package ch

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"booklending/internal/models"
	"booklending/internal/storage"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ClickHouseDB stores books and loans as versioned rows in ReplacingMergeTree
// tables. Every write is a single row insert; reads use FINAL to see only the
// latest version of each record.
type ClickHouseDB struct {
	conn clickhouse.Conn
}

var _ storage.Storage = (*ClickHouseDB)(nil)

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(host string, port int, database, user, password string, useTLS bool) (*ClickHouseDB, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	options := &clickhouse.Options{
		Addr:     []string{addr},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
		DialTimeout: 10 * time.Second,
	}

	// Configure TLS if enabled
	if useTLS {
		options.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	// Test the connection
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Initialize is a no-op - tables are managed via migrations
func (db *ClickHouseDB) Initialize(ctx context.Context) error {
	// Tables are managed via migrations (see migrations/clickhouse)
	return nil
}

// CreateBook inserts the first version of a book
func (db *ClickHouseDB) CreateBook(ctx context.Context, book models.Book) error {
	if err := db.insertBook(ctx, book, false); err != nil {
		return fmt.Errorf("failed to create book: %w", err)
	}
	return nil
}

// UpdateBook inserts a newer version of a book
func (db *ClickHouseDB) UpdateBook(ctx context.Context, book models.Book) error {
	if err := db.insertBook(ctx, book, false); err != nil {
		return fmt.Errorf("failed to update book: %w", err)
	}
	return nil
}

// DeleteBook inserts a deleted version of a book
func (db *ClickHouseDB) DeleteBook(ctx context.Context, book models.Book) error {
	if err := db.insertBook(ctx, book, true); err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	return nil
}

func (db *ClickHouseDB) insertBook(ctx context.Context, book models.Book, deleted bool) error {
	batch, err := db.conn.PrepareBatch(ctx, `INSERT INTO books
		(id, title, author, publication_date, genre, owner_id, created_at, version, deleted)`)
	if err != nil {
		return err
	}

	var publicationDate *string
	if book.PublicationDate != nil {
		formatted := book.PublicationDate.Format(time.DateOnly)
		publicationDate = &formatted
	}

	if err := batch.Append(
		book.ID,
		book.Title,
		book.Author,
		publicationDate,
		book.Genre,
		book.OwnerID,
		book.CreatedAt,
		book.Version,
		deleted,
	); err != nil {
		return err
	}
	return batch.Send()
}

// ListBooks returns the latest version of every book that is not deleted
func (db *ClickHouseDB) ListBooks(ctx context.Context) ([]models.Book, error) {
	rows, err := db.conn.Query(ctx, `SELECT id, title, author, publication_date, genre, owner_id, created_at, version
		FROM books FINAL
		WHERE deleted = false
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	var books []models.Book
	for rows.Next() {
		var (
			book            models.Book
			publicationDate *string
		)
		if err := rows.Scan(&book.ID, &book.Title, &book.Author, &publicationDate, &book.Genre,
			&book.OwnerID, &book.CreatedAt, &book.Version); err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		if publicationDate != nil {
			date, err := time.Parse(time.DateOnly, *publicationDate)
			if err != nil {
				return nil, fmt.Errorf("book %s has invalid publication date %q: %w", book.ID, *publicationDate, err)
			}
			book.PublicationDate = &date
		}
		book.Available = true
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return books, nil
}

// ListDeletedBookIDs returns the IDs whose latest version is a tombstone
func (db *ClickHouseDB) ListDeletedBookIDs(ctx context.Context) ([]string, error) {
	rows, err := db.conn.Query(ctx, `SELECT id FROM books FINAL WHERE deleted = true ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list deleted books: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan book id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list deleted books: %w", err)
	}
	return ids, nil
}

// SaveLoan inserts a loan version
func (db *ClickHouseDB) SaveLoan(ctx context.Context, loan models.Loan) error {
	batch, err := db.conn.PrepareBatch(ctx, `INSERT INTO loans
		(id, book_id, requester_id, owner_id, request_date, return_by, status, due_date, completed_date, seq, version)`)
	if err != nil {
		return fmt.Errorf("failed to save loan: %w", err)
	}

	if err := batch.Append(
		loan.ID,
		loan.BookID,
		loan.RequesterID,
		loan.OwnerID,
		loan.RequestDate,
		loan.ReturnBy,
		string(loan.Status),
		loan.DueDate,
		loan.CompletedDate,
		loan.Seq,
		loan.Version,
	); err != nil {
		return fmt.Errorf("failed to save loan: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to save loan: %w", err)
	}
	return nil
}

// ListLoans returns the latest version of every loan ordered by sequence
func (db *ClickHouseDB) ListLoans(ctx context.Context) ([]models.Loan, error) {
	rows, err := db.conn.Query(ctx, `SELECT id, book_id, requester_id, owner_id, request_date, return_by,
		status, due_date, completed_date, seq, version
		FROM loans FINAL
		ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	var loans []models.Loan
	for rows.Next() {
		var (
			loan   models.Loan
			status string
		)
		if err := rows.Scan(&loan.ID, &loan.BookID, &loan.RequesterID, &loan.OwnerID, &loan.RequestDate,
			&loan.ReturnBy, &status, &loan.DueDate, &loan.CompletedDate, &loan.Seq, &loan.Version); err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		loan.Status = models.LoanStatus(status)
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	return loans, nil
}

// Close closes the database connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
