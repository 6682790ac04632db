package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgresTC "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"booklending/internal/models"
	"booklending/migrations"
)

// setupTestDB creates a migrated PostgreSQL instance using testcontainers
func setupTestDB(t *testing.T) (*PostgresDB, func()) {
	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}

	ctx := context.Background()

	container, err := postgresTC.Run(ctx,
		"postgres:16-alpine",
		postgresTC.WithDatabase("lending"),
		postgresTC.WithUsername("lending"),
		postgresTC.WithPassword("lending"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := NewPostgresDB(ctx, dsn)
	require.NoError(t, err, "Failed to create PostgresDB")

	sqlDB := stdlib.OpenDBFromPool(db.Pool())
	require.NoError(t, migrations.Up(sqlDB, "postgres"), "Failed to run migrations")
	require.NoError(t, sqlDB.Close())

	cleanup := func() {
		db.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

func TestPostgresDB_Books(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	published := time.Date(1885, 3, 1, 0, 0, 0, 0, time.UTC)
	genre := "Adventure"
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	book := models.Book{
		ID:              "b1",
		Title:           "King Solomon's Mines",
		Author:          "H. Rider Haggard",
		PublicationDate: &published,
		Genre:           &genre,
		OwnerID:         "u1",
		CreatedAt:       created,
		Version:         1,
	}
	require.NoError(t, db.CreateBook(ctx, book))

	err := db.CreateBook(ctx, book)
	assert.True(t, errors.Is(err, models.ErrConflict), "duplicate insert: %v", err)

	second := models.Book{ID: "b2", Title: "Dune", Author: "Frank Herbert", OwnerID: "u2", CreatedAt: created.Add(time.Hour), Version: 1}
	require.NoError(t, db.CreateBook(ctx, second))

	books, err := db.ListBooks(ctx)
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, "b1", books[0].ID)
	require.NotNil(t, books[0].PublicationDate)
	assert.True(t, published.Equal(*books[0].PublicationDate))
	assert.Equal(t, "Adventure", *books[0].Genre)
	assert.True(t, books[0].Available)
	assert.Nil(t, books[1].Genre)
	assert.Nil(t, books[1].PublicationDate)

	book.Title = "Allan Quatermain"
	book.Version = 2
	require.NoError(t, db.UpdateBook(ctx, book))

	// A stale version is rejected
	err = db.UpdateBook(ctx, book)
	assert.True(t, errors.Is(err, models.ErrConflict), "stale update: %v", err)

	second.Version = 2
	require.NoError(t, db.DeleteBook(ctx, second))
	err = db.DeleteBook(ctx, second)
	assert.True(t, errors.Is(err, models.ErrNotFound), "second delete: %v", err)

	books, err = db.ListBooks(ctx)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "Allan Quatermain", books[0].Title)
	assert.Equal(t, uint64(2), books[0].Version)

	deleted, err := db.ListDeletedBookIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID}, deleted)
}

func TestPostgresDB_Loans(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	requested := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	first := models.Loan{
		ID:          "l1",
		BookID:      "b1",
		RequesterID: "u2",
		OwnerID:     "u1",
		RequestDate: requested,
		Status:      models.LoanPending,
		Seq:         1,
		Version:     1,
	}
	require.NoError(t, db.SaveLoan(ctx, first))

	// Second active loan for the same book violates the partial unique index
	clash := first
	clash.ID = "l2"
	clash.Seq = 2
	err := db.SaveLoan(ctx, clash)
	assert.True(t, errors.Is(err, models.ErrConflict), "second active loan: %v", err)

	due := requested.Add(14 * 24 * time.Hour)
	first.Status = models.LoanApproved
	first.DueDate = &due
	first.Version = 2
	require.NoError(t, db.SaveLoan(ctx, first))

	// Replaying an older version does not overwrite the newer row
	stale := first
	stale.Status = models.LoanPending
	stale.Version = 1
	err = db.SaveLoan(ctx, stale)
	assert.True(t, errors.Is(err, models.ErrConflict), "stale loan: %v", err)

	completed := due.Add(-time.Hour)
	first.Status = models.LoanCompleted
	first.CompletedDate = &completed
	first.Version = 3
	require.NoError(t, db.SaveLoan(ctx, first))

	// Book is free again, so a new request for it is accepted
	next := clash
	next.ID = "l3"
	next.Seq = 3
	require.NoError(t, db.SaveLoan(ctx, next))

	loans, err := db.ListLoans(ctx)
	require.NoError(t, err)
	require.Len(t, loans, 2)
	assert.Equal(t, "l1", loans[0].ID)
	assert.Equal(t, models.LoanCompleted, loans[0].Status)
	assert.Equal(t, uint64(3), loans[0].Version)
	require.NotNil(t, loans[0].DueDate)
	assert.True(t, due.Equal(*loans[0].DueDate))
	require.NotNil(t, loans[0].CompletedDate)
	assert.Nil(t, loans[0].ReturnBy)
	assert.Equal(t, "l3", loans[1].ID)
	assert.Equal(t, models.LoanPending, loans[1].Status)
}
