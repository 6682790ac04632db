package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booklending/internal/models"
	"booklending/internal/storage/stubs"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*Ledger, *stubs.MockDB) {
	t.Helper()

	db := stubs.NewMockDB()
	n := 0
	l := New(db,
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("loan-%d", n)
		}),
		WithLoanPeriod(7*24*time.Hour),
	)
	return l, db
}

func TestLedger_Create(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	loan, err := l.Create(ctx, models.LoanRequest{BookID: "b1", RequesterID: "u2", OwnerID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, "loan-1", loan.ID)
	assert.Equal(t, models.LoanPending, loan.Status)
	assert.Equal(t, testNow, loan.RequestDate)
	assert.Equal(t, uint64(1), loan.Seq)
	assert.Nil(t, loan.DueDate)
	assert.Nil(t, loan.CompletedDate)

	stored, err := db.ListLoans(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, loan, stored[0])

	active, ok := l.Active("b1")
	require.True(t, ok)
	assert.Equal(t, loan.ID, active.ID)
}

func TestLedger_Create_SelfLoan(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.Create(context.Background(), models.LoanRequest{BookID: "b1", RequesterID: "u1", OwnerID: "u1"})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
	assert.Empty(t, l.List())
}

func TestLedger_Create_MissingIDs(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.Create(context.Background(), models.LoanRequest{})
	require.Error(t, err)

	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Fields, 3)
}

func TestLedger_Create_Conflict(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Create(ctx, models.LoanRequest{BookID: "b1", RequesterID: "u2", OwnerID: "u1"})
	require.NoError(t, err)

	_, err = l.Create(ctx, models.LoanRequest{BookID: "b1", RequesterID: "u3", OwnerID: "u1"})
	assert.ErrorIs(t, err, models.ErrConflict)

	// Another book is unaffected
	_, err = l.Create(ctx, models.LoanRequest{BookID: "b2", RequesterID: "u3", OwnerID: "u1"})
	assert.NoError(t, err)
}

func TestLedger_Create_AfterTerminal(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	first, err := l.Create(ctx, models.LoanRequest{BookID: "b1", RequesterID: "u2", OwnerID: "u1"})
	require.NoError(t, err)
	_, err = l.Transition(ctx, first.ID, models.LoanRejected)
	require.NoError(t, err)

	second, err := l.Create(ctx, models.LoanRequest{BookID: "b1", RequesterID: "u3", OwnerID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Seq)
}

func TestLedger_Transition_Lifecycle(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	loan, err := l.Create(ctx, models.LoanRequest{BookID: "b1", RequesterID: "u2", OwnerID: "u1"})
	require.NoError(t, err)

	approved, err := l.Transition(ctx, loan.ID, models.LoanApproved)
	require.NoError(t, err)
	assert.Equal(t, models.LoanApproved, approved.Status)
	require.NotNil(t, approved.DueDate)
	assert.Equal(t, testNow.Add(7*24*time.Hour), *approved.DueDate)
	assert.Equal(t, uint64(2), approved.Version)

	completed, err := l.Transition(ctx, loan.ID, models.LoanCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.LoanCompleted, completed.Status)
	require.NotNil(t, completed.CompletedDate)
	assert.Equal(t, testNow, *completed.CompletedDate)
	assert.Equal(t, approved.DueDate, completed.DueDate)

	_, ok := l.Active("b1")
	assert.False(t, ok)

	stored, _ := db.ListLoans(ctx)
	require.Len(t, stored, 1)
	assert.Equal(t, models.LoanCompleted, stored[0].Status)
}

func TestLedger_Transition_RequestedReturnDate(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	wanted := testNow.Add(3 * 24 * time.Hour)
	loan, err := l.Create(ctx, models.LoanRequest{BookID: "b1", RequesterID: "u2", OwnerID: "u1", ReturnBy: &wanted})
	require.NoError(t, err)

	approved, err := l.Transition(ctx, loan.ID, models.LoanApproved)
	require.NoError(t, err)
	require.NotNil(t, approved.DueDate)
	assert.Equal(t, wanted, *approved.DueDate)

}

func TestLedger_Create_PastReturnDate(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	for _, returnBy := range []time.Time{testNow.Add(-time.Hour), testNow} {
		_, err := l.Create(ctx, models.LoanRequest{BookID: "b1", RequesterID: "u2", OwnerID: "u1", ReturnBy: &returnBy})
		assert.ErrorIs(t, err, models.ErrInvalidArgument)

		var verr *models.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Contains(t, verr.Fields, "return_by")
	}

	_, busy := l.Active("b1")
	assert.False(t, busy)
	stored, _ := db.ListLoans(ctx)
	assert.Empty(t, stored)
}

func TestLedger_Transition_ReturnDatePassedWhilePending(t *testing.T) {
	now := testNow
	l := New(stubs.NewMockDB(),
		WithClock(func() time.Time { return now }),
		WithLoanPeriod(7*24*time.Hour),
	)
	ctx := context.Background()

	wanted := testNow.Add(24 * time.Hour)
	loan, err := l.Create(ctx, models.LoanRequest{BookID: "b1", RequesterID: "u2", OwnerID: "u1", ReturnBy: &wanted})
	require.NoError(t, err)

	now = testNow.Add(48 * time.Hour)
	approved, err := l.Transition(ctx, loan.ID, models.LoanApproved)
	require.NoError(t, err)
	require.NotNil(t, approved.DueDate)
	assert.Equal(t, now.Add(7*24*time.Hour), *approved.DueDate)
}

func TestLedger_Transition_Invalid(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Transition(ctx, "missing", models.LoanApproved)
	assert.ErrorIs(t, err, models.ErrNotFound)

	loan, _ := l.Create(ctx, models.LoanRequest{BookID: "b1", RequesterID: "u2", OwnerID: "u1"})

	_, err = l.Transition(ctx, loan.ID, models.LoanCompleted)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = l.Transition(ctx, loan.ID, models.LoanRejected)
	require.NoError(t, err)

	for _, target := range []models.LoanStatus{models.LoanPending, models.LoanApproved, models.LoanCompleted, models.LoanRejected} {
		_, err = l.Transition(ctx, loan.ID, target)
		assert.ErrorIs(t, err, models.ErrInvalidTransition, "rejected loans are immutable (%s)", target)
	}
}

func TestLedger_WriteFailureLeavesStateUntouched(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	loan, err := l.Create(ctx, models.LoanRequest{BookID: "b1", RequesterID: "u2", OwnerID: "u1"})
	require.NoError(t, err)

	db.FailWith(errors.New("timeout"))

	_, err = l.Transition(ctx, loan.ID, models.LoanApproved)
	require.Error(t, err)
	got, _ := l.Get(loan.ID)
	assert.Equal(t, models.LoanPending, got.Status)

	_, err = l.Create(ctx, models.LoanRequest{BookID: "b2", RequesterID: "u2", OwnerID: "u1"})
	require.Error(t, err)
	assert.Len(t, l.List(), 1)

	db.FailWith(nil)
	next, err := l.Create(ctx, models.LoanRequest{BookID: "b2", RequesterID: "u2", OwnerID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next.Seq, "a failed create must not consume a sequence number")
}

func TestLedger_ListByStatus(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	a, _ := l.Create(ctx, models.LoanRequest{BookID: "b1", RequesterID: "u2", OwnerID: "u1"})
	b, _ := l.Create(ctx, models.LoanRequest{BookID: "b2", RequesterID: "u3", OwnerID: "u1"})
	c, _ := l.Create(ctx, models.LoanRequest{BookID: "b3", RequesterID: "u1", OwnerID: "u3"})
	_, _ = l.Transition(ctx, b.ID, models.LoanApproved)

	pending := l.ListByStatus(models.LoanPending)
	require.Len(t, pending, 2)
	assert.Equal(t, a.ID, pending[0].ID)
	assert.Equal(t, c.ID, pending[1].ID)

	approved := l.ListByStatus(models.LoanApproved)
	require.Len(t, approved, 1)
	assert.Equal(t, b.ID, approved[0].ID)

	assert.Empty(t, l.ListByStatus(models.LoanCompleted))

	mine := l.ListByUser("u3")
	require.Len(t, mine, 2)
	assert.Equal(t, b.ID, mine[0].ID)
	assert.Equal(t, c.ID, mine[1].ID)
}

func TestLedger_Restore(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	err := l.Restore([]models.Loan{
		{ID: "old", BookID: "b1", RequesterID: "u2", OwnerID: "u1", Status: models.LoanCompleted, Seq: 1, Version: 3},
		{ID: "cur", BookID: "b1", RequesterID: "u3", OwnerID: "u1", Status: models.LoanApproved, Seq: 4, Version: 2},
	})
	require.NoError(t, err)

	active, ok := l.Active("b1")
	require.True(t, ok)
	assert.Equal(t, "cur", active.ID)

	loan, err := l.Create(ctx, models.LoanRequest{BookID: "b2", RequesterID: "u2", OwnerID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), loan.Seq, "sequence continues after restored loans")

	_, err = l.Create(ctx, models.LoanRequest{BookID: "b1", RequesterID: "u4", OwnerID: "u1"})
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestLedger_Restore_Inconsistent(t *testing.T) {
	l, _ := newTestLedger(t)

	err := l.Restore([]models.Loan{
		{ID: "a", BookID: "b1", Status: models.LoanPending, Seq: 1},
		{ID: "b", BookID: "b1", Status: models.LoanApproved, Seq: 2},
	})
	assert.ErrorIs(t, err, models.ErrConflict)

	err = l.Restore([]models.Loan{{ID: "a", BookID: "b1", Status: "lost", Seq: 1}})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}
