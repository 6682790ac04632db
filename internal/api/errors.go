package api

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"booklending/internal/models"
)

func (s *Server) logError(r *http.Request, err error) {
	s.logger.Error("Request failed",
		zap.Error(err),
		zap.String("request_method", r.Method),
		zap.String("request_url", r.URL.String()),
	)
}

func (s *Server) errorResponse(w http.ResponseWriter, r *http.Request, status int, message any) {
	env := envelope{"error": message}
	if err := s.encodeJSON(w, status, env, nil); err != nil {
		s.logError(r, err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func (s *Server) serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	s.logError(r, err)
	message := "the server encountered a problem and could not process your request"
	s.errorResponse(w, r, http.StatusInternalServerError, message)
}

func (s *Server) notFoundResponse(w http.ResponseWriter, r *http.Request) {
	message := "the requested resource could not be found"
	s.errorResponse(w, r, http.StatusNotFound, message)
}

func (s *Server) methodNotAllowedResponse(w http.ResponseWriter, r *http.Request) {
	message := fmt.Sprintf("the %s method is not supported for this resource", r.Method)
	s.errorResponse(w, r, http.StatusMethodNotAllowed, message)
}

func (s *Server) badRequestResponse(w http.ResponseWriter, r *http.Request, err error) {
	s.errorResponse(w, r, http.StatusBadRequest, err.Error())
}

func (s *Server) failedValidationResponse(w http.ResponseWriter, r *http.Request, fields map[string]string) {
	s.errorResponse(w, r, http.StatusUnprocessableEntity, fields)
}

func (s *Server) rateLimitExceededResponse(w http.ResponseWriter, r *http.Request) {
	message := "rate limit exceeded"
	s.errorResponse(w, r, http.StatusTooManyRequests, message)
}

func (s *Server) invalidAuthenticationTokenResponse(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	message := "invalid or missing authentication token"
	s.errorResponse(w, r, http.StatusUnauthorized, message)
}

// lendingErrorResponse maps service errors to HTTP statuses
func (s *Server) lendingErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	var validation *models.ValidationError
	switch {
	case errors.As(err, &validation):
		s.failedValidationResponse(w, r, validation.Fields)
	case errors.Is(err, models.ErrInvalidArgument):
		s.errorResponse(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, models.ErrNotFound):
		s.notFoundResponse(w, r)
	case errors.Is(err, models.ErrUnavailable),
		errors.Is(err, models.ErrConflict),
		errors.Is(err, models.ErrInvalidTransition):
		s.errorResponse(w, r, http.StatusConflict, err.Error())
	default:
		s.serverErrorResponse(w, r, err)
	}
}
