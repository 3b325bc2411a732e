package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"net/http"
)

const HeaderAPIKey = "X-API-Key"

var (
	ErrMissingKey = errors.New("missing api key")
	ErrInvalidKey = errors.New("invalid api key")
)

// CheckAPIKey compares presented against expected in constant time.
func CheckAPIKey(expected, presented string) error {
	if presented == "" {
		return ErrMissingKey
	}
	a := sha256.Sum256([]byte(expected))
	b := sha256.Sum256([]byte(presented))
	if expected == "" || !hmac.Equal(a[:], b[:]) {
		return ErrInvalidKey
	}
	return nil
}

// RequireAPIKey rejects requests whose X-API-Key header does not match key.
func RequireAPIKey(key string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := CheckAPIKey(key, r.Header.Get(HeaderAPIKey)); err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"detail":"` + detail + `"}`))
}
