// Package options keeps the dropdown option sets the validator checks
// enumerated answers against.
package options

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"interactionlog/internal/logger"
	"interactionlog/internal/rules"
)

// Source fetches the active names of one option set, in display order.
type Source interface {
	Fetch(ctx context.Context, set rules.OptionSet) ([]string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, set rules.OptionSet) ([]string, error)

func (f SourceFunc) Fetch(ctx context.Context, set rules.OptionSet) ([]string, error) {
	return f(ctx, set)
}

// Origin says where the names currently served for a set came from.
type Origin string

const (
	OriginSource        Origin = "source"
	OriginLastKnownGood Origin = "last_known_good"
	OriginDefaults      Origin = "defaults"
)

var errEmptySet = errors.New("source returned no options")

const (
	defaultMaxAge         = 5 * time.Minute
	defaultRefreshTimeout = 3 * time.Second
	defaultRetryInterval  = 30 * time.Second
)

type entry struct {
	names      []string
	fetched    time.Time
	failedAt   time.Time
	origin     Origin
	lastErr    error
	refreshing bool
}

// Cache serves option sets from a Source, refreshing a set once it is older
// than MaxAge. When a refresh fails the last names fetched successfully are
// served, and before any success the built-in defaults. After a failure the
// set is not fetched again until the retry interval has passed. Get never
// returns an empty set.
type Cache struct {
	source         Source
	now            func() time.Time
	maxAge         time.Duration
	refreshTimeout time.Duration
	retryInterval  time.Duration
	defaults       rules.OptionSets

	mu      sync.Mutex
	entries map[rules.OptionSet]*entry
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithMaxAge(d time.Duration) Option {
	return func(c *Cache) { c.maxAge = d }
}

func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Cache) { c.refreshTimeout = d }
}

// WithRetryInterval sets how long a set whose refresh failed is served from
// last-known-good or defaults before the source is tried again. It never
// exceeds MaxAge.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Cache) { c.retryInterval = d }
}

// WithDefaults replaces the built-in fallback names for the sets present in d.
func WithDefaults(d rules.OptionSets) Option {
	return func(c *Cache) {
		for set, names := range d {
			if len(names) > 0 {
				c.defaults[set] = append([]string(nil), names...)
			}
		}
	}
}

// NewCache builds a cache over source. A nil source serves defaults only.
func NewCache(source Source, opts ...Option) *Cache {
	c := &Cache{
		source:         source,
		now:            time.Now,
		maxAge:         defaultMaxAge,
		refreshTimeout: defaultRefreshTimeout,
		retryInterval:  defaultRetryInterval,
		defaults:       rules.DefaultOptionSets(),
		entries:        make(map[rules.OptionSet]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the names of set. A stale set is refreshed inline, bounded by
// the refresh timeout; concurrent callers get the current names instead of
// waiting on the same refresh.
func (c *Cache) Get(ctx context.Context, set rules.OptionSet) []string {
	c.mu.Lock()
	e := c.entryLocked(set)
	if !c.needsRefreshLocked(e) || e.refreshing {
		names := append([]string(nil), e.names...)
		c.mu.Unlock()
		return names
	}
	e.refreshing = true
	c.mu.Unlock()

	names, err := c.fetch(ctx, set)

	c.mu.Lock()
	defer c.mu.Unlock()
	e.refreshing = false
	if err != nil {
		e.lastErr = err
		e.failedAt = c.now()
		if e.origin == OriginSource {
			e.origin = OriginLastKnownGood
		}
		logger.LogWarn("Options refresh for %s failed, serving %s: %v", set, e.origin, err)
	} else {
		e.names = names
		e.origin = OriginSource
		e.fetched = c.now()
		e.failedAt = time.Time{}
		e.lastErr = nil
	}
	return append([]string(nil), e.names...)
}

// All returns every option set. Stale sets are refreshed in parallel.
func (c *Cache) All(ctx context.Context) rules.OptionSets {
	sets := rules.AllOptionSets()
	results := make([][]string, len(sets))

	var wg sync.WaitGroup
	for i, set := range sets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.Get(ctx, set)
		}()
	}
	wg.Wait()

	out := make(rules.OptionSets, len(sets))
	for i, set := range sets {
		out[set] = results[i]
	}
	return out
}

// Invalidate marks sets stale so the next Get refreshes them. With no
// arguments every set is invalidated.
func (c *Cache) Invalidate(sets ...rules.OptionSet) {
	if len(sets) == 0 {
		sets = rules.AllOptionSets()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, set := range sets {
		if e, ok := c.entries[set]; ok {
			e.fetched = time.Time{}
			e.failedAt = time.Time{}
		}
	}
}

// SetStatus describes one cached set.
type SetStatus struct {
	Set       rules.OptionSet `json:"set"`
	Origin    Origin          `json:"origin"`
	Count     int             `json:"count"`
	FetchedAt *time.Time      `json:"fetchedAt,omitempty"`
	Stale     bool            `json:"stale"`
	LastError string          `json:"lastError,omitempty"`
}

// Status reports the state of every set without refreshing.
func (c *Cache) Status() []SetStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]SetStatus, 0, len(rules.AllOptionSets()))
	for _, set := range rules.AllOptionSets() {
		e := c.entryLocked(set)
		st := SetStatus{
			Set:    set,
			Origin: e.origin,
			Count:  len(e.names),
			Stale:  c.staleLocked(e),
		}
		if !e.fetched.IsZero() {
			fetched := e.fetched
			st.FetchedAt = &fetched
		}
		if e.lastErr != nil {
			st.LastError = e.lastErr.Error()
		}
		out = append(out, st)
	}
	return out
}

func (c *Cache) entryLocked(set rules.OptionSet) *entry {
	e, ok := c.entries[set]
	if !ok {
		e = &entry{names: append([]string(nil), c.defaults[set]...), origin: OriginDefaults}
		c.entries[set] = e
	}
	return e
}

func (c *Cache) staleLocked(e *entry) bool {
	if c.source == nil {
		return false
	}
	return e.fetched.IsZero() || c.now().Sub(e.fetched) >= c.maxAge
}

func (c *Cache) needsRefreshLocked(e *entry) bool {
	if !c.staleLocked(e) {
		return false
	}
	if e.failedAt.IsZero() {
		return true
	}
	retry := c.retryInterval
	if retry <= 0 || retry > c.maxAge {
		retry = c.maxAge
	}
	return c.now().Sub(e.failedAt) >= retry
}

func (c *Cache) fetch(ctx context.Context, set rules.OptionSet) ([]string, error) {
	if c.refreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.refreshTimeout)
		defer cancel()
	}
	names, err := c.source.Fetch(ctx, set)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", set, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("fetch %s: %w", set, errEmptySet)
	}
	return append([]string(nil), names...), nil
}
