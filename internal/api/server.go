// Package api exposes the lending service over HTTP.
package api

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"booklending/internal/loans"
	"booklending/internal/models"
)

// WebhookPath is where Telegram delivers updates in webhook mode
const WebhookPath = "/telegram-webhook"

// Options configures the HTTP layer
type Options struct {
	APIToken       string  // Bearer token required on /api routes; empty disables the check
	RateLimitRPS   float64 // Requests per second per client IP; 0 disables rate limiting
	RateLimitBurst int
	Webhook        http.Handler // Mounted at WebhookPath when set
}

// Server serves the REST API
type Server struct {
	service *loans.Service
	logger  *zap.Logger
	opts    Options
}

// New creates a Server for svc
func New(svc *loans.Service, logger *zap.Logger, opts Options) *Server {
	return &Server{
		service: svc,
		logger:  logger,
		opts:    opts,
	}
}

// Routes builds the handler tree
func (s *Server) Routes() http.Handler {
	router := httprouter.New()

	router.NotFound = http.HandlerFunc(s.notFoundResponse)
	router.MethodNotAllowed = http.HandlerFunc(s.methodNotAllowedResponse)

	router.HandlerFunc(http.MethodGet, "/health", s.healthHandler)

	router.Handler(http.MethodGet, "/api/books", s.authenticate(s.listBooksHandler))
	router.Handler(http.MethodPost, "/api/books", s.authenticate(s.createBookHandler))
	router.Handler(http.MethodPost, "/api/books/import", s.authenticate(s.importBooksHandler))
	router.Handler(http.MethodGet, "/api/books/:id", s.authenticate(s.showBookHandler))
	router.Handler(http.MethodPut, "/api/books/:id", s.authenticate(s.updateBookHandler))
	router.Handler(http.MethodDelete, "/api/books/:id", s.authenticate(s.deleteBookHandler))

	router.Handler(http.MethodGet, "/api/users/:id/books", s.authenticate(s.listUserBooksHandler))
	router.Handler(http.MethodGet, "/api/users/:id/loans", s.authenticate(s.listUserLoansHandler))

	router.Handler(http.MethodGet, "/api/loans", s.authenticate(s.listLoansHandler))
	router.Handler(http.MethodPost, "/api/loans", s.authenticate(s.createLoanHandler))
	router.Handler(http.MethodGet, "/api/loans/:id", s.authenticate(s.showLoanHandler))
	router.Handler(http.MethodPost, "/api/loans/:id/approve", s.authenticate(s.respondHandler(models.Approve)))
	router.Handler(http.MethodPost, "/api/loans/:id/reject", s.authenticate(s.respondHandler(models.Reject)))
	router.Handler(http.MethodPost, "/api/loans/:id/return", s.authenticate(s.returnLoanHandler))

	if s.opts.Webhook != nil {
		router.Handler(http.MethodPost, WebhookPath, s.opts.Webhook)
	}

	return s.recoverPanic(s.logRequests(s.rateLimit(router)))
}
