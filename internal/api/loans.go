package api

import (
	"fmt"
	"net/http"
	"strings"

	"booklending/internal/models"
)

type createLoanInput struct {
	BookID      string  `json:"book_id"`
	RequesterID string  `json:"requester_id"`
	ReturnBy    *string `json:"return_by"`
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	status := models.LoanStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	if status != "" && !status.Valid() {
		v := models.NewValidationError()
		v.Add("status", "must be one of pending, approved, rejected, completed")
		s.failedValidationResponse(w, r, v.Fields)
		return
	}

	loans := s.service.Loans(status)
	if err := s.encodeJSON(w, http.StatusOK, envelope{"loans": nonNil(loans)}, nil); err != nil {
		s.serverErrorResponse(w, r, err)
	}
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var input createLoanInput
	if err := decodeJSON(w, r, &input); err != nil {
		s.badRequestResponse(w, r, err)
		return
	}

	v := models.NewValidationError()
	returnBy := parseOptionalDate(v, "return_by", input.ReturnBy)
	if !v.Valid() {
		s.failedValidationResponse(w, r, v.Fields)
		return
	}

	var (
		loan models.Loan
		err  error
	)
	if returnBy != nil {
		loan, err = s.service.RequestLoanUntil(r.Context(), input.BookID, input.RequesterID, *returnBy)
	} else {
		loan, err = s.service.RequestLoan(r.Context(), input.BookID, input.RequesterID)
	}
	if err != nil {
		s.lendingErrorResponse(w, r, err)
		return
	}

	headers := make(http.Header)
	headers.Set("Location", fmt.Sprintf("/api/loans/%s", loan.ID))
	if err := s.encodeJSON(w, http.StatusCreated, envelope{"loan": loan}, headers); err != nil {
		s.serverErrorResponse(w, r, err)
	}
}

func (s *Server) showLoanHandler(w http.ResponseWriter, r *http.Request) {
	loan, err := s.service.Loan(readIDParam(r))
	if err != nil {
		s.lendingErrorResponse(w, r, err)
		return
	}
	if err := s.encodeJSON(w, http.StatusOK, envelope{"loan": loan}, nil); err != nil {
		s.serverErrorResponse(w, r, err)
	}
}

func (s *Server) respondHandler(decision models.Decision) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loan, err := s.service.RespondToLoan(r.Context(), readIDParam(r), decision)
		if err != nil {
			s.lendingErrorResponse(w, r, err)
			return
		}
		if err := s.encodeJSON(w, http.StatusOK, envelope{"loan": loan}, nil); err != nil {
			s.serverErrorResponse(w, r, err)
		}
	}
}

func (s *Server) returnLoanHandler(w http.ResponseWriter, r *http.Request) {
	loan, err := s.service.ReturnLoan(r.Context(), readIDParam(r))
	if err != nil {
		s.lendingErrorResponse(w, r, err)
		return
	}
	if err := s.encodeJSON(w, http.StatusOK, envelope{"loan": loan}, nil); err != nil {
		s.serverErrorResponse(w, r, err)
	}
}

func (s *Server) listUserLoansHandler(w http.ResponseWriter, r *http.Request) {
	userID := readIDParam(r)

	borrowed, lent := []models.Loan{}, []models.Loan{}
	for _, loan := range s.service.LoansForUser(userID) {
		if loan.RequesterID == userID {
			borrowed = append(borrowed, loan)
		} else {
			lent = append(lent, loan)
		}
	}

	env := envelope{"borrowed": borrowed, "lent": lent}
	if err := s.encodeJSON(w, http.StatusOK, env, nil); err != nil {
		s.serverErrorResponse(w, r, err)
	}
}
