// Package engine holds the answer state of one form and submits it once it
// validates.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"interactionlog/internal/apperrors"
	"interactionlog/internal/rules"
)

// Gateway persists a validated record and returns it as stored, with the
// id and timestamp the store assigned.
type Gateway interface {
	Submit(ctx context.Context, rec rules.InteractionRecord) (rules.InteractionRecord, error)
}

var (
	// ErrSubmitInFlight is returned when Submit is called while a previous
	// call on the same engine has not returned yet.
	ErrSubmitInFlight = errors.New("a submission is already in progress")
	// ErrFieldHidden is returned when a field is set that the current
	// answers do not show. The value is discarded.
	ErrFieldHidden = errors.New("field is not shown for the current answers")
)

// Engine is safe for concurrent use. Only one Submit runs at a time.
type Engine struct {
	gateway   Gateway
	validator *rules.Validator
	timeout   time.Duration

	mu       sync.Mutex
	answers  rules.Answers
	version  uint64 // bumped on every change to answers
	inFlight atomic.Bool
}

type Option func(*Engine)

// WithTimeout bounds every Submit call. Without it only the caller's
// context applies.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithValidator replaces the default validator, which checks enumerated
// fields against the built-in option sets.
func WithValidator(v *rules.Validator) Option {
	return func(e *Engine) { e.validator = v }
}

// New returns an engine with an empty answer set. A nil gateway leaves the
// engine usable for answering but Submit fails with a configuration error.
func New(gw Gateway, opts ...Option) *Engine {
	e := &Engine{gateway: gw}
	for _, opt := range opts {
		opt(e)
	}
	if e.validator == nil {
		e.validator = rules.NewValidator(nil, nil)
	}
	return e
}

// CanSubmit reports whether a gateway is configured.
func (e *Engine) CanSubmit() bool {
	return e.gateway != nil
}

// SetText answers a text or enumerated field and prunes fields the new
// answer hides.
func (e *Engine) SetText(f rules.Field, v string) error {
	return e.update(f, func(a *rules.Answers) error { return a.SetText(f, v) })
}

// SetBool answers a boolean field and prunes fields the new answer hides.
func (e *Engine) SetBool(f rules.Field, v bool) error {
	return e.update(f, func(a *rules.Answers) error { return a.SetBool(f, v) })
}

// Clear unanswers f and prunes fields that depended on it.
func (e *Engine) Clear(f rules.Field) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.answers.Clear(f)
	e.answers = rules.Prune(e.answers)
	e.version++
}

func (e *Engine) update(f rules.Field, set func(*rules.Answers) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.answers
	if err := set(&next); err != nil {
		return err
	}
	next = rules.Prune(next)
	if !rules.Resolve(next).Visible.Has(f) {
		return fmt.Errorf("%s: %w", f, ErrFieldHidden)
	}
	e.answers = next
	e.version++
	return nil
}

// Answers returns a snapshot of the current answers.
func (e *Engine) Answers() rules.Answers {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyAnswers(e.answers)
}

// Requirements returns the fields the current answers show and require.
func (e *Engine) Requirements() rules.Requirements {
	e.mu.Lock()
	defer e.mu.Unlock()
	return rules.Resolve(e.answers)
}

// Violations validates the current answers without submitting them.
func (e *Engine) Violations() map[string]string {
	return e.validator.Violations(e.Answers())
}

// Reset discards every answer.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.answers = rules.Answers{}
	e.version++
	e.mu.Unlock()
}

// Submit validates the current answers and hands the record to the gateway.
// On success the engine is reset to an empty answer set, unless the answers
// were changed while the gateway call ran. A second call while one is
// running fails with ErrSubmitInFlight.
func (e *Engine) Submit(ctx context.Context) (rules.InteractionRecord, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return rules.InteractionRecord{}, ErrSubmitInFlight
	}
	defer e.inFlight.Store(false)

	if e.gateway == nil {
		return rules.InteractionRecord{}, apperrors.Configuration("no persistence gateway configured", nil)
	}

	e.mu.Lock()
	answers, version := copyAnswers(e.answers), e.version
	e.mu.Unlock()

	rec, err := e.validator.Validate(answers)
	if err != nil {
		return rules.InteractionRecord{}, err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	stored, err := e.gateway.Submit(ctx, rec)
	if err != nil {
		return rules.InteractionRecord{}, classify(ctx, err)
	}

	e.mu.Lock()
	if e.version == version {
		e.answers = rules.Answers{}
		e.version++
	}
	e.mu.Unlock()
	return stored, nil
}

// classify makes sure every gateway failure carries an error kind.
func classify(ctx context.Context, err error) error {
	if apperrors.KindOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.Timeout("submission timed out", err)
	}
	return apperrors.Transport("submission failed", err)
}

func copyAnswers(a rules.Answers) rules.Answers {
	out := a
	if a.Purchased != nil {
		out.Purchased = rules.BoolPtr(*a.Purchased)
	}
	if a.OutOfStock != nil {
		out.OutOfStock = rules.BoolPtr(*a.OutOfStock)
	}
	return out
}
