// Package catalog owns book identity and availability.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"booklending/internal/models"
)

// MaxTitleBytes is the longest title the catalog accepts
const MaxTitleBytes = 500

// Writer persists catalog changes
type Writer interface {
	CreateBook(ctx context.Context, book models.Book) error
	UpdateBook(ctx context.Context, book models.Book) error
	DeleteBook(ctx context.Context, book models.Book) error
}

// Store holds the set of books and their availability.
// Writes reach the Writer before the in-memory state changes.
type Store struct {
	mu      sync.RWMutex
	db      Writer
	books   map[string]*models.Book
	order   []string
	deleted map[string]bool // IDs of removed books, never reused
	now     func() time.Time
	newID   func() string
	logger  *zap.Logger
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides how new book IDs are generated
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates an empty Store writing through db
func New(db Writer, opts ...Option) *Store {
	s := &Store{
		db:      db,
		books:   make(map[string]*models.Book),
		deleted: make(map[string]bool),
		now:     time.Now,
		newID:   uuid.NewString,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore replaces the content of the store with already persisted books and
// the IDs of deleted ones. Every book starts available; the caller reconciles
// availability with the loans.
func (s *Store) Restore(books []models.Book, deletedIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleted = make(map[string]bool, len(deletedIDs))
	for _, id := range deletedIDs {
		s.deleted[id] = true
	}

	s.books = make(map[string]*models.Book, len(books))
	s.order = s.order[:0]
	for _, book := range books {
		book := book
		book.Available = true
		if _, exists := s.books[book.ID]; !exists {
			s.order = append(s.order, book.ID)
		}
		s.books[book.ID] = &book
	}
}

// Get returns the book with the given ID
func (s *Store) Get(bookID string) (models.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	book, ok := s.books[bookID]
	if !ok {
		return models.Book{}, fmt.Errorf("book %s: %w", bookID, models.ErrNotFound)
	}
	return *book, nil
}

// Deleted reports whether bookID belonged to a book that was removed
func (s *Store) Deleted(bookID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.deleted[bookID]
}

// SetAvailability changes the availability flag of a book
func (s *Store) SetAvailability(bookID string, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.books[bookID]
	if !ok {
		return fmt.Errorf("book %s: %w", bookID, models.ErrNotFound)
	}
	book.Available = available
	return nil
}

// List returns all books in insertion order
func (s *Store) List() []models.Book {
	s.mu.RLock()
	defer s.mu.RUnlock()

	books := make([]models.Book, 0, len(s.order))
	for _, id := range s.order {
		books = append(books, *s.books[id])
	}
	return books
}

// ListByOwner returns the books owned by ownerID in insertion order
func (s *Store) ListByOwner(ownerID string) []models.Book {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var books []models.Book
	for _, id := range s.order {
		if book := s.books[id]; book.OwnerID == ownerID {
			books = append(books, *book)
		}
	}
	return books
}

// Add registers a new available book. An empty ID is generated.
func (s *Store) Add(ctx context.Context, book models.Book) (models.Book, error) {
	book.Title = strings.TrimSpace(book.Title)
	book.Author = strings.TrimSpace(book.Author)
	book.OwnerID = strings.TrimSpace(book.OwnerID)
	if err := validateBook(book); err != nil {
		return models.Book{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if book.ID == "" {
		book.ID = s.newID()
	}
	if _, exists := s.books[book.ID]; exists {
		return models.Book{}, fmt.Errorf("book %s already exists: %w", book.ID, models.ErrConflict)
	}
	if s.deleted[book.ID] {
		return models.Book{}, fmt.Errorf("book %s was deleted: %w", book.ID, models.ErrConflict)
	}
	if book.CreatedAt.IsZero() {
		book.CreatedAt = s.now().UTC()
	}
	book.Available = true
	book.Version = 1

	if err := s.db.CreateBook(ctx, book); err != nil {
		return models.Book{}, fmt.Errorf("failed to create book: %w", err)
	}

	s.books[book.ID] = &book
	s.order = append(s.order, book.ID)

	s.logger.Info("Book added",
		zap.String("book_id", book.ID),
		zap.String("title", book.Title),
		zap.String("owner_id", book.OwnerID),
	)
	return book, nil
}

// Update applies changes to the descriptive fields of a book.
// Availability and ownership are not editable.
func (s *Store) Update(ctx context.Context, bookID string, changes models.BookChanges) (models.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.books[bookID]
	if !ok {
		return models.Book{}, fmt.Errorf("book %s: %w", bookID, models.ErrNotFound)
	}

	updated := *current
	if changes.Title != nil {
		updated.Title = strings.TrimSpace(*changes.Title)
	}
	if changes.Author != nil {
		updated.Author = strings.TrimSpace(*changes.Author)
	}
	if changes.PublicationDate != nil {
		updated.PublicationDate = changes.PublicationDate
	}
	if changes.Genre != nil {
		updated.Genre = changes.Genre
	}
	if err := validateBook(updated); err != nil {
		return models.Book{}, err
	}
	updated.Version++

	if err := s.db.UpdateBook(ctx, updated); err != nil {
		return models.Book{}, fmt.Errorf("failed to update book: %w", err)
	}

	s.books[bookID] = &updated
	return updated, nil
}

// Delete removes a book from the catalog
func (s *Store) Delete(ctx context.Context, bookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.books[bookID]
	if !ok {
		return fmt.Errorf("book %s: %w", bookID, models.ErrNotFound)
	}

	tombstone := *book
	tombstone.Version++
	if err := s.db.DeleteBook(ctx, tombstone); err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}

	delete(s.books, bookID)
	s.deleted[bookID] = true
	for i, id := range s.order {
		if id == bookID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	s.logger.Info("Book deleted", zap.String("book_id", bookID))
	return nil
}

func validateBook(book models.Book) error {
	v := models.NewValidationError()
	v.Check(book.Title != "", "title", "must be provided")
	v.Check(len(book.Title) <= MaxTitleBytes, "title", fmt.Sprintf("must not be more than %d bytes long", MaxTitleBytes))
	v.Check(book.Author != "", "author", "must be provided")
	v.Check(book.OwnerID != "", "owner_id", "must be provided")
	if book.Genre != nil {
		v.Check(strings.TrimSpace(*book.Genre) != "", "genre", "must not be blank when provided")
	}
	if !v.Valid() {
		return v
	}
	return nil
}
