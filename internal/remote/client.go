// Package remote pulls book records from the upstream book service.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"booklending/internal/catalog"
	"booklending/internal/models"
)

const maxResponseBytes = 10 << 20

// Importer receives the fetched books
type Importer interface {
	ImportBooks(ctx context.Context, books []models.Book) (models.ImportResult, error)
}

// Client fetches the upstream book index
type Client struct {
	http   *http.Client
	url    string
	token  string
	logger *zap.Logger
}

// NewHTTPClient returns the HTTP client used for upstream calls
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: time.Minute,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          25,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		CheckRedirect: redirectPolicyFunc,
	}
}

func redirectPolicyFunc(req *http.Request, via []*http.Request) error {
	if len(via) >= 2 {
		return fmt.Errorf("attempted redirect to %s", req.URL)
	}
	return nil
}

// New creates a Client for the book index at url. An empty token sends no
// Authorization header.
func New(httpClient *http.Client, url, token string, logger *zap.Logger) *Client {
	return &Client{
		http:   httpClient,
		url:    url,
		token:  token,
		logger: logger,
	}
}

// FetchBooks downloads and validates the book index. Records that fail
// validation are logged and left out.
func (c *Client) FetchBooks(ctx context.Context) ([]models.Book, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch books: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("book service responded with %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read books: %w", err)
	}

	books, err := catalog.ParseBooks(body)
	if err != nil {
		var validation *models.ValidationError
		if books == nil || !errors.As(err, &validation) {
			return nil, fmt.Errorf("failed to parse books: %w", err)
		}
		for field, message := range validation.Fields {
			c.logger.Warn("Rejected upstream book record",
				zap.String("field", field),
				zap.String("reason", message),
			)
		}
	}
	return books, nil
}

// Sync fetches the book index and hands it to importer
func (c *Client) Sync(ctx context.Context, importer Importer) (models.ImportResult, error) {
	books, err := c.FetchBooks(ctx)
	if err != nil {
		return models.ImportResult{}, err
	}

	result, err := importer.ImportBooks(ctx, books)
	if err != nil {
		return result, err
	}

	for bookID, reason := range result.Rejected {
		c.logger.Warn("Upstream book not imported",
			zap.String("book_id", bookID),
			zap.String("reason", reason),
		)
	}
	c.logger.Info("Upstream books imported",
		zap.String("url", c.url),
		zap.Int("fetched", len(books)),
		zap.Int("added", result.Added),
		zap.Int("skipped", result.Skipped),
		zap.Int("rejected", len(result.Rejected)),
	)
	return result, nil
}
