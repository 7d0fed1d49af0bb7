package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// QueryParam carries the token for clients that cannot set headers, such as
// browser EventSource streams.
const QueryParam = "access_token"

var (
	// ErrMissingToken indicates that no token was provided.
	ErrMissingToken = errors.New("missing access token")
	// ErrInvalidPrefix indicates the header did not use the Bearer scheme.
	ErrInvalidPrefix = errors.New("invalid authorization prefix")
	// ErrInvalidToken indicates the token did not match.
	ErrInvalidToken = errors.New("invalid access token")
)

// ExtractToken reads a Bearer token from the Authorization header, falling
// back to the access_token query parameter.
func ExtractToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if token := r.URL.Query().Get(QueryParam); token != "" {
			return token, nil
		}
		return "", ErrMissingToken
	}

	if !strings.HasPrefix(header, "Bearer ") {
		return "", ErrInvalidPrefix
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", ErrMissingToken
	}

	return token, nil
}

// Require rejects requests whose token does not match expected. An empty
// expected token disables the check. deny writes the rejection.
func Require(expected string, deny func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if expected == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := ExtractToken(r)
			if err == nil && subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				err = ErrInvalidToken
			}
			if err != nil {
				deny(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
