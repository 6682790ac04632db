package stubs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"booklending/internal/models"
	"booklending/internal/storage"
)

// MockDB is an in-memory implementation of the Storage interface for testing
// and for running without a database
type MockDB struct {
	mu      sync.RWMutex
	books   map[string]models.Book
	deleted map[string]bool
	loans   map[string]models.Loan
	failErr error
}

var _ storage.Storage = (*MockDB)(nil)

// NewMockDB creates a new mock database
func NewMockDB() *MockDB {
	return &MockDB{
		books:   make(map[string]models.Book),
		deleted: make(map[string]bool),
		loans:   make(map[string]models.Loan),
	}
}

// Initialize sets up a few demo books when the database is empty
func (m *MockDB) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.books) > 0 {
		return nil
	}

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	demo := []models.Book{
		{ID: "demo-1", Title: "The Little Prince", Author: "Antoine de Saint-Exupéry", OwnerID: "1"},
		{ID: "demo-2", Title: "Les Misérables", Author: "Victor Hugo", OwnerID: "1"},
		{ID: "demo-3", Title: "Madame Bovary", Author: "Gustave Flaubert", OwnerID: "2"},
	}
	for i, book := range demo {
		book.CreatedAt = created.Add(time.Duration(i) * time.Minute)
		book.Version = 1
		m.books[book.ID] = book
	}

	return nil
}

// FailWith makes every following write return err. Pass nil to recover.
func (m *MockDB) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// CreateBook stores a new book
func (m *MockDB) CreateBook(ctx context.Context, book models.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return fmt.Errorf("failed to create book: %w", m.failErr)
	}
	if _, exists := m.books[book.ID]; exists {
		return fmt.Errorf("failed to create book %s: %w", book.ID, models.ErrConflict)
	}

	m.books[book.ID] = book
	return nil
}

// UpdateBook replaces a stored book
func (m *MockDB) UpdateBook(ctx context.Context, book models.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return fmt.Errorf("failed to update book: %w", m.failErr)
	}
	if _, exists := m.books[book.ID]; !exists || m.deleted[book.ID] {
		return fmt.Errorf("failed to update book %s: %w", book.ID, models.ErrNotFound)
	}

	m.books[book.ID] = book
	return nil
}

// DeleteBook marks a book as deleted
func (m *MockDB) DeleteBook(ctx context.Context, book models.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return fmt.Errorf("failed to delete book: %w", m.failErr)
	}
	if _, exists := m.books[book.ID]; !exists || m.deleted[book.ID] {
		return fmt.Errorf("failed to delete book %s: %w", book.ID, models.ErrNotFound)
	}

	m.deleted[book.ID] = true
	return nil
}

// ListBooks returns all books that were not deleted, oldest first
func (m *MockDB) ListBooks(ctx context.Context) ([]models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var books []models.Book
	for id, book := range m.books {
		if !m.deleted[id] {
			books = append(books, book)
		}
	}

	// Sort by creation time, then by id
	sort.Slice(books, func(i, j int) bool {
		if !books[i].CreatedAt.Equal(books[j].CreatedAt) {
			return books[i].CreatedAt.Before(books[j].CreatedAt)
		}
		return books[i].ID < books[j].ID
	})

	return books, nil
}

// ListDeletedBookIDs returns the IDs of deleted books in ascending order
func (m *MockDB) ListDeletedBookIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, deleted := range m.deleted {
		if deleted {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// SaveLoan stores the given loan version, keeping the highest version
func (m *MockDB) SaveLoan(ctx context.Context, loan models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return fmt.Errorf("failed to save loan: %w", m.failErr)
	}
	if current, exists := m.loans[loan.ID]; exists && current.Version >= loan.Version {
		return fmt.Errorf("failed to save loan %s version %d: %w", loan.ID, loan.Version, models.ErrConflict)
	}

	m.loans[loan.ID] = loan
	return nil
}

// ListLoans returns all loans ordered by sequence
func (m *MockDB) ListLoans(ctx context.Context) ([]models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	loans := make([]models.Loan, 0, len(m.loans))
	for _, loan := range m.loans {
		loans = append(loans, loan)
	}

	sort.Slice(loans, func(i, j int) bool {
		return loans[i].Seq < loans[j].Seq
	})

	return loans, nil
}

// Close does nothing for mock DB
func (m *MockDB) Close() error {
	return nil
}
