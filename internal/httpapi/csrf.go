package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const csrfKeyLabel = "stockmaster/csrf/v1"

// csrfSigner issues stateless tokens bound to an hour bucket. A token is
// accepted during its own hour and the next one.
type csrfSigner struct {
	secret []byte
	now    func() time.Time
}

// newCSRFSigner derives the signing key from the auth secret so every API
// instance sharing AUTH_SECRET accepts the same tokens. Without a secret the
// key is random and tokens only hold for this process.
func newCSRFSigner(authSecret []byte) *csrfSigner {
	if len(authSecret) == 0 {
		authSecret = make([]byte, 32)
		if _, err := rand.Read(authSecret); err != nil {
			panic(fmt.Sprintf("csrf: read random secret: %v", err))
		}
	}
	mac := hmac.New(sha256.New, authSecret)
	mac.Write([]byte(csrfKeyLabel))
	return &csrfSigner{secret: mac.Sum(nil), now: time.Now}
}

func (s *csrfSigner) tokenFor(bucket int64) string {
	h := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(h, "%d", bucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (s *csrfSigner) Issue() string {
	return s.tokenFor(s.now().UTC().Truncate(time.Hour).Unix())
}

func (s *csrfSigner) Valid(token string) bool {
	if token == "" {
		return false
	}
	current := s.now().UTC().Truncate(time.Hour).Unix()
	return hmac.Equal([]byte(token), []byte(s.tokenFor(current))) ||
		hmac.Equal([]byte(token), []byte(s.tokenFor(current-3600)))
}

// Login is reachable without a prior token fetch.
var csrfExemptPaths = map[string]struct{}{
	"/api/v1/auth/login": {},
}

func (a *API) checkCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := csrfExemptPaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}
		if !a.csrf.Valid(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
			a.writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"csrf_token": a.csrf.Issue()})
}
