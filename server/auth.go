package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

const (
	authCookieName = "auth_token"
	// 30 days in seconds
	authCookieMaxAge = 30 * 24 * 60 * 60
)

// Authenticator implements the single-user cookie scheme: the session token
// is the hex SHA-256 of the shared password, compared in constant time.
type Authenticator struct {
	token string
}

// NewAuthenticator derives the session token from the configured password
func NewAuthenticator(password string) *Authenticator {
	sum := sha256.Sum256([]byte(password))
	return &Authenticator{token: hex.EncodeToString(sum[:])}
}

// ValidatePassword checks a login attempt
func (a *Authenticator) ValidatePassword(password string) bool {
	sum := sha256.Sum256([]byte(password))
	attempt := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(attempt), []byte(a.token)) == 1
}

// Cookie returns the session cookie to set after a successful login
func (a *Authenticator) Cookie() *http.Cookie {
	return &http.Cookie{
		Name:     authCookieName,
		Value:    a.token,
		Path:     "/",
		MaxAge:   authCookieMaxAge,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	}
}

// VerifyRequest reports whether the request carries a valid session cookie
func (a *Authenticator) VerifyRequest(r *http.Request) bool {
	cookie, err := r.Cookie(authCookieName)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(a.token)) == 1
}

// Middleware guards a route group. Unauthenticated API calls and mutations
// get 401; unauthenticated page loads get the login page.
func (a *Authenticator) Middleware(onUnauthenticated http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a.VerifyRequest(r) {
				next.ServeHTTP(w, r)
				return
			}
			if strings.HasPrefix(r.URL.Path, "/api/") || r.Method != http.MethodGet {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			onUnauthenticated(w, r)
		})
	}
}
