package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// recoverPanic turns a panicking handler into a 500 response
func (s *Server) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				w.Header().Set("Connection", "close")
				s.serverErrorResponse(w, r, fmt.Errorf("%s", err))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// rateLimit applies a token bucket per client IP
func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.opts.RateLimitRPS <= 0 {
		return next
	}

	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	var (
		mu        sync.Mutex
		clients   = make(map[string]*client)
		lastSweep = time.Now()
	)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		mu.Lock()
		now := time.Now()
		// Forget clients that have been idle for three minutes
		if now.Sub(lastSweep) > time.Minute {
			for addr, c := range clients {
				if now.Sub(c.lastSeen) > 3*time.Minute {
					delete(clients, addr)
				}
			}
			lastSweep = now
		}

		c, found := clients[ip]
		if !found {
			c = &client{limiter: rate.NewLimiter(rate.Limit(s.opts.RateLimitRPS), s.opts.RateLimitBurst)}
			clients[ip] = c
		}
		c.lastSeen = now
		allowed := c.limiter.Allow()
		mu.Unlock()

		if !allowed {
			s.rateLimitExceededResponse(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate requires the configured bearer token
func (s *Server) authenticate(next http.HandlerFunc) http.Handler {
	if s.opts.APIToken == "" {
		return next
	}
	expected := sha256.Sum256([]byte(s.opts.APIToken))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Authorization")

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			s.invalidAuthenticationTokenResponse(w, r)
			return
		}
		got := sha256.Sum256([]byte(strings.TrimSpace(token)))
		if subtle.ConstantTimeCompare(got[:], expected[:]) != 1 {
			s.invalidAuthenticationTokenResponse(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// logRequests writes one access log line per request
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics := httpsnoop.CaptureMetrics(next, w, r)
		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", metrics.Code),
			zap.Int64("bytes", metrics.Written),
			zap.Duration("duration", metrics.Duration),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}
