// Package httputil carries the HTTP middleware shared by the service's
// endpoints: permissive CORS, request ids, and basic-auth checking.
package httputil

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type ctxKey int

const requestIDKey ctxKey = 0

// RequestID attaches a fresh request id to the context of every request and
// echoes it in the X-Request-Id response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFrom returns the request id attached by [RequestID], if any.
func RequestIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok
}

// LogAttrs returns the slog attributes describing the request.
func LogAttrs(r *http.Request) []any {
	attrs := []any{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	}
	if id, ok := RequestIDFrom(r.Context()); ok {
		attrs = append(attrs, slog.String("request_id", id))
	}
	return attrs
}

const corsMethods = "GET, HEAD, POST, OPTIONS"

// AllowCORS wraps next with the permissive CORS policy every endpoint
// shares, and answers OPTIONS itself.
//
// Preflights (an OPTIONS with Origin, Access-Control-Request-Method, and
// Access-Control-Request-Headers) get the full CORS response with a one-day
// max-age; other OPTIONS get a plain Allow header.
func AllowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", corsMethods)
		if r.Method != http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Origin") != "" &&
			r.Header.Get("Access-Control-Request-Method") != "" &&
			r.Header.Get("Access-Control-Request-Headers") != "" {
			h.Set("Access-Control-Allow-Headers", r.Header.Get("Access-Control-Request-Headers"))
			h.Set("Access-Control-Max-Age", "86400")
		} else {
			h.Set("Allow", corsMethods)
		}
		w.WriteHeader(http.StatusOK)
	})
}

// Auth errors distinguish a malformed Authorization header (a 400) from bad
// credentials (a 401).
var (
	ErrBadAuthScheme = errors.New("malformed Authorization header")
	ErrBadCreds      = errors.New("bad credentials")
)

// CheckBasicAuth verifies that r carries HTTP basic auth for the "admin"
// user with the given token.
//
// The comparison runs over fixed-size digests so its timing does not leak
// how much of the credential matched.
func CheckBasicAuth(r *http.Request, token string) error {
	hdr := r.Header.Get("Authorization")
	scheme, b64, ok := strings.Cut(hdr, " ")
	if !ok || !strings.EqualFold(scheme, "Basic") {
		return ErrBadAuthScheme
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return ErrBadAuthScheme
	}
	want := sha256.Sum256([]byte("admin:" + token))
	got := sha256.Sum256(raw)
	if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
		return ErrBadCreds
	}
	return nil
}
