package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"golang.org/x/crypto/bcrypt"
)

type credential struct {
	token []byte
	hash  []byte
}

// Authenticator checks bearer tokens against a plain shared secret or a
// bcrypt hash of it. The credential can be swapped while requests are in
// flight.
type Authenticator struct {
	cred atomic.Pointer[credential]
}

// NewAuthenticator returns an Authenticator for token and bcryptHash.
// At least one must be set.
func NewAuthenticator(token, bcryptHash string) (*Authenticator, error) {
	a := &Authenticator{}
	if err := a.Set(token, bcryptHash); err != nil {
		return nil, err
	}
	return a, nil
}

// Set replaces the accepted credential. A request is accepted if it
// matches either the token or the hash.
func (a *Authenticator) Set(token, bcryptHash string) error {
	if token == "" && bcryptHash == "" {
		return errors.New("auth: no token configured")
	}
	c := &credential{}
	if token != "" {
		c.token = []byte(token)
	}
	if bcryptHash != "" {
		if _, err := bcrypt.Cost([]byte(bcryptHash)); err != nil {
			return fmt.Errorf("auth: bad bcrypt hash: %w", err)
		}
		c.hash = []byte(bcryptHash)
	}
	a.cred.Store(c)
	return nil
}

// Check reports whether presented is an accepted token.
func (a *Authenticator) Check(presented string) bool {
	c := a.cred.Load()
	if c == nil || presented == "" {
		return false
	}
	if c.token != nil && subtle.ConstantTimeCompare([]byte(presented), c.token) == 1 {
		return true
	}
	if c.hash != nil && bcrypt.CompareHashAndPassword(c.hash, []byte(presented)) == nil {
		return true
	}
	return false
}

// Require rejects requests without an accepted "Authorization: Bearer"
// header with 401 before they reach next.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || !a.Check(token) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="relay-board"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
