package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"booklending/internal/catalog"
	"booklending/internal/models"
)

type createBookInput struct {
	Title           string  `json:"title"`
	Author          string  `json:"author"`
	PublicationDate *string `json:"publication_date"`
	Genre           *string `json:"genre"`
	OwnerID         string  `json:"owner_id"`
}

type updateBookInput struct {
	Title           *string `json:"title"`
	Author          *string `json:"author"`
	PublicationDate *string `json:"publication_date"`
	Genre           *string `json:"genre"`
}

func (s *Server) listBooksHandler(w http.ResponseWriter, r *http.Request) {
	books := s.service.Books()
	if err := s.encodeJSON(w, http.StatusOK, envelope{"books": nonNil(books)}, nil); err != nil {
		s.serverErrorResponse(w, r, err)
	}
}

func (s *Server) createBookHandler(w http.ResponseWriter, r *http.Request) {
	var input createBookInput
	if err := decodeJSON(w, r, &input); err != nil {
		s.badRequestResponse(w, r, err)
		return
	}

	v := models.NewValidationError()
	book := models.Book{
		Title:   input.Title,
		Author:  input.Author,
		Genre:   input.Genre,
		OwnerID: input.OwnerID,
	}
	book.PublicationDate = parseOptionalDate(v, "publication_date", input.PublicationDate)
	if !v.Valid() {
		s.failedValidationResponse(w, r, v.Fields)
		return
	}

	book, err := s.service.AddBook(r.Context(), book)
	if err != nil {
		s.lendingErrorResponse(w, r, err)
		return
	}

	headers := make(http.Header)
	headers.Set("Location", fmt.Sprintf("/api/books/%s", book.ID))
	if err := s.encodeJSON(w, http.StatusCreated, envelope{"book": book}, headers); err != nil {
		s.serverErrorResponse(w, r, err)
	}
}

// importBooksHandler accepts records in the upstream book service format,
// either a bare array or a {"data": [...]} envelope. Malformed records are
// listed under their position, records the catalog refuses under their ID.
func (s *Server) importBooksHandler(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.badRequestResponse(w, r, err)
		return
	}

	books, err := catalog.ParseBooks(body)
	if books == nil && err != nil {
		s.lendingErrorResponse(w, r, err)
		return
	}
	rejected := map[string]string{}
	var validation *models.ValidationError
	if errors.As(err, &validation) {
		for field, message := range validation.Fields {
			rejected[field] = message
		}
	}

	result, err := s.service.ImportBooks(r.Context(), books)
	if err != nil {
		s.serverErrorResponse(w, r, err)
		return
	}
	for bookID, reason := range result.Rejected {
		rejected[bookID] = reason
	}

	env := envelope{"added": result.Added, "skipped": result.Skipped, "rejected": rejected}
	if err := s.encodeJSON(w, http.StatusOK, env, nil); err != nil {
		s.serverErrorResponse(w, r, err)
	}
}

func (s *Server) showBookHandler(w http.ResponseWriter, r *http.Request) {
	book, err := s.service.Book(readIDParam(r))
	if err != nil {
		s.lendingErrorResponse(w, r, err)
		return
	}
	if err := s.encodeJSON(w, http.StatusOK, envelope{"book": book}, nil); err != nil {
		s.serverErrorResponse(w, r, err)
	}
}

func (s *Server) updateBookHandler(w http.ResponseWriter, r *http.Request) {
	var input updateBookInput
	if err := decodeJSON(w, r, &input); err != nil {
		s.badRequestResponse(w, r, err)
		return
	}

	v := models.NewValidationError()
	changes := models.BookChanges{
		Title:  input.Title,
		Author: input.Author,
		Genre:  input.Genre,
	}
	changes.PublicationDate = parseOptionalDate(v, "publication_date", input.PublicationDate)
	if !v.Valid() {
		s.failedValidationResponse(w, r, v.Fields)
		return
	}

	book, err := s.service.UpdateBook(r.Context(), readIDParam(r), changes)
	if err != nil {
		s.lendingErrorResponse(w, r, err)
		return
	}
	if err := s.encodeJSON(w, http.StatusOK, envelope{"book": book}, nil); err != nil {
		s.serverErrorResponse(w, r, err)
	}
}

func (s *Server) deleteBookHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteBook(r.Context(), readIDParam(r)); err != nil {
		s.lendingErrorResponse(w, r, err)
		return
	}
	env := envelope{"message": "book successfully deleted"}
	if err := s.encodeJSON(w, http.StatusOK, env, nil); err != nil {
		s.serverErrorResponse(w, r, err)
	}
}

func (s *Server) listUserBooksHandler(w http.ResponseWriter, r *http.Request) {
	books := s.service.BooksByOwner(readIDParam(r))
	if err := s.encodeJSON(w, http.StatusOK, envelope{"books": nonNil(books)}, nil); err != nil {
		s.serverErrorResponse(w, r, err)
	}
}

// parseOptionalDate records a validation failure for field when raw is not a date
func parseOptionalDate(v *models.ValidationError, field string, raw *string) *time.Time {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil
	}
	date, err := catalog.ParseDate(strings.TrimSpace(*raw))
	if err != nil {
		v.Add(field, "must be a date in YYYY-MM-DD format")
		return nil
	}
	return &date
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
