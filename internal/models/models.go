package models

import "time"

// Book represents a book in the catalog
type Book struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Author          string     `json:"author"`
	PublicationDate *time.Time `json:"publication_date,omitempty"`
	Genre           *string    `json:"genre,omitempty"`
	Available       bool       `json:"available"`
	OwnerID         string     `json:"owner_id"`
	CreatedAt       time.Time  `json:"created_at"`
	Version         uint64     `json:"-"`
}

// BookChanges holds the editable fields of a book. Nil fields are left as is.
type BookChanges struct {
	Title           *string
	Author          *string
	PublicationDate *time.Time
	Genre           *string
}

// LoanStatus is the lifecycle state of a loan
type LoanStatus string

const (
	LoanPending   LoanStatus = "pending"
	LoanApproved  LoanStatus = "approved"
	LoanRejected  LoanStatus = "rejected"
	LoanCompleted LoanStatus = "completed"
)

// Valid reports whether s is one of the known statuses
func (s LoanStatus) Valid() bool {
	switch s {
	case LoanPending, LoanApproved, LoanRejected, LoanCompleted:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s
func (s LoanStatus) Terminal() bool {
	return s == LoanRejected || s == LoanCompleted
}

// CanTransition reports whether from -> to is an allowed edge
func CanTransition(from, to LoanStatus) bool {
	switch from {
	case LoanPending:
		return to == LoanApproved || to == LoanRejected
	case LoanApproved:
		return to == LoanCompleted
	}
	return false
}

// Loan represents one user borrowing one book from another
type Loan struct {
	ID            string     `json:"id"`
	BookID        string     `json:"book_id"`
	RequesterID   string     `json:"requester_id"`
	OwnerID       string     `json:"owner_id"`
	RequestDate   time.Time  `json:"request_date"`
	ReturnBy      *time.Time `json:"return_by,omitempty"`
	Status        LoanStatus `json:"status"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	CompletedDate *time.Time `json:"completed_date,omitempty"`
	Seq           uint64     `json:"-"`
	Version       uint64     `json:"-"`
}

// LoanRequest carries the input for a new loan record
type LoanRequest struct {
	BookID      string
	RequesterID string
	OwnerID     string
	ReturnBy    *time.Time
}

// Decision is the owner's answer to a pending loan
type Decision string

const (
	Approve Decision = "approve"
	Reject  Decision = "reject"
)

// ImportResult reports the outcome of a batch book import
type ImportResult struct {
	Added    int               `json:"added"`
	Skipped  int               `json:"skipped"`
	Rejected map[string]string `json:"rejected"`
}
