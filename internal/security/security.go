// internal/security/security.go
package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"interactionlog/internal/logger"
)

// CSRFStore issues single-use tokens for the public form.
type CSRFStore struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
}

func NewCSRFStore(ttl time.Duration, now func() time.Time) *CSRFStore {
	if now == nil {
		now = time.Now
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CSRFStore{tokens: make(map[string]time.Time), ttl: ttl, now: now}
}

// Generate creates and remembers a new token.
func (s *CSRFStore) Generate() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(b)

	s.mu.Lock()
	s.tokens[token] = s.now().Add(s.ttl)
	s.mu.Unlock()
	return token, nil
}

// Validate consumes token. It reports false for unknown, reused or expired
// tokens.
func (s *CSRFStore) Validate(token string) bool {
	if token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.tokens[token]
	if !ok {
		return false
	}
	delete(s.tokens, token)
	return !s.now().After(expiry)
}

// Sweep drops expired tokens and returns how many were removed.
func (s *CSRFStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for token, expiry := range s.tokens {
		if now.After(expiry) {
			delete(s.tokens, token)
			removed++
		}
	}
	return removed
}

func (s *CSRFStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// Handler returns a fresh token as {"csrf_token": "..."}.
func (s *CSRFStore) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger.LogHTTPRequest(r)

		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		token, err := s.Generate()
		if err != nil {
			logger.LogHTTPError(r, http.StatusInternalServerError, err)
			http.Error(w, "could not generate token", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		json.NewEncoder(w).Encode(map[string]string{"csrf_token": token})
	}
}

// Window remembers keys for a fixed period. It backs both the per-IP rate
// limit and the duplicate-submission guard.
type Window struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	period time.Duration
	now    func() time.Time
}

func NewWindow(period time.Duration, now func() time.Time) *Window {
	if now == nil {
		now = time.Now
	}
	return &Window{seen: make(map[string]time.Time), period: period, now: now}
}

// Allow records key and reports whether it was not seen within the period.
func (w *Window) Allow(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if last, ok := w.seen[key]; ok && now.Sub(last) < w.period {
		return false
	}
	w.seen[key] = now
	return true
}

// Seen reports whether key was marked within the period without recording it.
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	last, ok := w.seen[key]
	return ok && w.now().Sub(last) < w.period
}

// Forget drops key so it can be allowed again, releasing a reservation taken
// by Allow when the guarded work failed.
func (w *Window) Forget(key string) {
	w.mu.Lock()
	delete(w.seen, key)
	w.mu.Unlock()
}

// Sweep forgets keys older than the period.
func (w *Window) Sweep() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	removed := 0
	for key, last := range w.seen {
		if now.Sub(last) >= w.period {
			delete(w.seen, key)
			removed++
		}
	}
	return removed
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// SubmissionKey hashes the identifying parts of a submission. Case and
// surrounding whitespace are ignored.
func SubmissionKey(parts ...string) string {
	normalized := make([]string, len(parts))
	for i, p := range parts {
		normalized[i] = strings.ToLower(strings.TrimSpace(p))
	}
	sum := sha256.Sum256([]byte(strings.Join(normalized, "\x1f")))
	return hex.EncodeToString(sum[:])
}
