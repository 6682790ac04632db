package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/julienschmidt/httprouter"
)

const maxBodyBytes = 1_048_576

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// strict rejects request bodies with fields the handler does not know
var strict = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	DisallowUnknownFields:  true,
}.Froze()

type envelope map[string]any

// readIDParam pulls the :id parameter from the request
func readIDParam(r *http.Request) string {
	params := httprouter.ParamsFromContext(r.Context())
	return strings.TrimSpace(params.ByName("id"))
}

// encodeJSON writes data with the given status code and headers
func (s *Server) encodeJSON(w http.ResponseWriter, status int, data envelope, headers http.Header) error {
	js, err := json.MarshalIndent(data, "", "\t")
	if err != nil {
		return err
	}
	js = append(js, '\n')
	for k, v := range headers {
		w.Header()[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(js)
	return nil
}

// readBody returns the request body, capped at maxBodyBytes
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			return nil, fmt.Errorf("body must not be larger than %d bytes", maxBodyBytes)
		}
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("body must not be empty")
	}
	return body, nil
}

// decodeJSON reads a single JSON object into dst
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := strict.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("body contains invalid JSON: %w", err)
	}
	return nil
}
