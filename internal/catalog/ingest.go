package catalog

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"booklending/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	statusAvailable = "available"
	statusBorrowed  = "borrowed"
)

// remoteID accepts both JSON numbers and strings
type remoteID string

func (id *remoteID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = remoteID(strings.TrimSpace(s))
	default:
		if _, err := strconv.ParseInt(string(data), 10, 64); err != nil {
			return fmt.Errorf("id must be an integer or a string, got %s", data)
		}
		*id = remoteID(data)
	}
	return nil
}

// bookPayload is the record shape served by the upstream book service
type bookPayload struct {
	ID              *remoteID `json:"id"`
	Title           *string   `json:"title"`
	Author          *string   `json:"author"`
	PublicationDate *string   `json:"publication_date"`
	Genre           *string   `json:"genre"`
	Status          *string   `json:"status"`
	OwnerID         *remoteID `json:"owner_id"`
}

// ParseBook validates a single remote book record
func ParseBook(raw []byte) (models.Book, error) {
	var payload bookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		v := models.NewValidationError()
		v.Add("body", err.Error())
		return models.Book{}, v
	}

	v := models.NewValidationError()
	book := payload.toBook(v, "")
	if !v.Valid() {
		return models.Book{}, v
	}
	return book, nil
}

// ParseBooks validates a list of remote book records. The payload is either
// a bare array or an object with a "data" array. Valid records are returned
// even when others are rejected; the returned error then lists the rejected
// fields prefixed with the record index.
func ParseBooks(raw []byte) ([]models.Book, error) {
	raw = bytes.TrimSpace(raw)

	var records []jsoniter.RawMessage
	switch {
	case len(raw) > 0 && raw[0] == '[':
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, bodyError(err)
		}
	case len(raw) > 0 && raw[0] == '{':
		var envelope struct {
			Data *[]jsoniter.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, bodyError(err)
		}
		if envelope.Data == nil {
			v := models.NewValidationError()
			v.Add("data", "must be provided")
			return nil, v
		}
		records = *envelope.Data
	default:
		return nil, bodyError(fmt.Errorf("expected a JSON array or object"))
	}

	books := make([]models.Book, 0, len(records))
	rejected := models.NewValidationError()
	for i, record := range records {
		prefix := fmt.Sprintf("[%d].", i)

		var payload bookPayload
		if err := json.Unmarshal(record, &payload); err != nil {
			rejected.Add(prefix+"record", err.Error())
			continue
		}

		v := models.NewValidationError()
		book := payload.toBook(v, prefix)
		if !v.Valid() {
			for field, message := range v.Fields {
				rejected.Add(field, message)
			}
			continue
		}
		books = append(books, book)
	}

	if !rejected.Valid() {
		return books, rejected
	}
	return books, nil
}

func (p bookPayload) toBook(v *models.ValidationError, prefix string) models.Book {
	var book models.Book

	if p.ID == nil || *p.ID == "" {
		v.Add(prefix+"id", "must be provided")
	} else {
		book.ID = string(*p.ID)
	}

	switch {
	case p.Title == nil || strings.TrimSpace(*p.Title) == "":
		v.Add(prefix+"title", "must be provided")
	case len(strings.TrimSpace(*p.Title)) > MaxTitleBytes:
		v.Add(prefix+"title", fmt.Sprintf("must not be more than %d bytes long", MaxTitleBytes))
	default:
		book.Title = strings.TrimSpace(*p.Title)
	}

	if p.Author == nil || strings.TrimSpace(*p.Author) == "" {
		v.Add(prefix+"author", "must be provided")
	} else {
		book.Author = strings.TrimSpace(*p.Author)
	}

	if p.OwnerID == nil || *p.OwnerID == "" {
		v.Add(prefix+"owner_id", "must be provided")
	} else {
		book.OwnerID = string(*p.OwnerID)
	}

	switch {
	case p.Status == nil:
		v.Add(prefix+"status", "must be provided")
	case *p.Status == statusAvailable:
		book.Available = true
	case *p.Status == statusBorrowed:
		book.Available = false
	default:
		v.Add(prefix+"status", fmt.Sprintf("must be %q or %q", statusAvailable, statusBorrowed))
	}

	if p.PublicationDate != nil && *p.PublicationDate != "" {
		date, err := ParseDate(*p.PublicationDate)
		if err != nil {
			v.Add(prefix+"publication_date", "must be a date in YYYY-MM-DD format")
		} else {
			book.PublicationDate = &date
		}
	}

	if p.Genre != nil && strings.TrimSpace(*p.Genre) != "" {
		genre := strings.TrimSpace(*p.Genre)
		book.Genre = &genre
	}

	return book
}

// ParseDate accepts YYYY-MM-DD and RFC 3339 timestamps
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func bodyError(err error) error {
	v := models.NewValidationError()
	v.Add("body", err.Error())
	return v
}
