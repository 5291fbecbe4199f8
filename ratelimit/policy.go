package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-dirsync/core"
	goerrors "github.com/goliatone/go-errors"
)

// State is the last known vendor quota snapshot for one rate-limit bucket.
type State struct {
	Limit          int
	Remaining      int
	ResetAt        time.Time
	ThrottledUntil time.Time
	UpdatedAt      time.Time
}

// StateStore persists bucket state between calls. Implementations must treat
// missing keys as ErrStateNotFound, not as an error condition.
type StateStore interface {
	Get(ctx context.Context, key core.RateLimitKey) (State, error)
	Upsert(ctx context.Context, key core.RateLimitKey, state State) error
}

// ErrStateNotFound reports that no state exists yet for a bucket.
var ErrStateNotFound = fmt.Errorf("ratelimit: state not found")

// ThrottledError reports that a bucket is throttled and when it may be
// retried. It carries the resolved delay so callers can schedule the retry at
// the exact vendor-specified time.
type ThrottledError struct {
	Key        core.RateLimitKey
	RetryAfter time.Duration
	Until      time.Time
}

func (e *ThrottledError) Error() string {
	if e == nil {
		return "ratelimit: throttled"
	}
	return fmt.Sprintf("ratelimit: bucket %s throttled for %s", formatKey(e.Key), e.RetryAfter)
}

// RetryAfterDuration reports the resolved wait before the next attempt.
func (e *ThrottledError) RetryAfterDuration() time.Duration {
	if e == nil {
		return 0
	}
	return e.RetryAfter
}

// ToEngineError maps the throttle into the engine's error taxonomy.
func (e *ThrottledError) ToEngineError() *goerrors.Error {
	return goerrors.Wrap(e, goerrors.CategoryRateLimit, "vendor rate limit exceeded").
		WithTextCode(core.EngineErrorRateLimited).
		WithMetadata(map[string]any{
			"retry_after_ms": e.RetryAfter.Milliseconds(),
			"bucket":         formatKey(e.Key),
		})
}

var _ core.RetryAfterCarrier = (*ThrottledError)(nil)

// DefaultRetryHint is applied when a throttled response carries neither a
// Retry-After header nor a known vendor error code.
const DefaultRetryHint = 60 * time.Second

// AdaptivePolicy tracks vendor quota headers per bucket and blocks calls that
// would land inside a known throttle window. Delay resolution order on a
// throttled response: Retry-After header, then the vendor code table, then
// DefaultRetryHint.
type AdaptivePolicy struct {
	Store StateStore
	Now   func() time.Time

	// VendorDelays maps vendor-specific error codes to retry delays used
	// when the response has no Retry-After header.
	VendorDelays map[string]time.Duration

	// RetryHint overrides DefaultRetryHint when positive.
	RetryHint time.Duration
}

var _ core.RateLimitPolicy = (*AdaptivePolicy)(nil)

// NewAdaptivePolicy returns a policy backed by the given store, defaulting to
// an in-memory store when nil.
func NewAdaptivePolicy(store StateStore) *AdaptivePolicy {
	if store == nil {
		store = NewMemoryStateStore()
	}
	return &AdaptivePolicy{Store: store}
}

// BeforeCall blocks when the bucket is inside a throttle window or its known
// quota is exhausted until the vendor reset time.
func (p *AdaptivePolicy) BeforeCall(ctx context.Context, key core.RateLimitKey) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = normalizeKey(key)
	state, err := p.Store.Get(ctx, key)
	if err != nil {
		if err == ErrStateNotFound {
			return nil
		}
		return fmt.Errorf("ratelimit: load state: %w", err)
	}
	now := p.now()
	if state.ThrottledUntil.After(now) {
		return &ThrottledError{Key: key, RetryAfter: state.ThrottledUntil.Sub(now), Until: state.ThrottledUntil}
	}
	if state.Remaining == 0 && state.ResetAt.After(now) && !state.UpdatedAt.IsZero() {
		return &ThrottledError{Key: key, RetryAfter: state.ResetAt.Sub(now), Until: state.ResetAt}
	}
	return nil
}

// AfterCall ingests vendor quota headers and records throttle windows. When
// the call itself failed with a throttled response the resolved delay is
// returned as a ThrottledError so the caller can reschedule precisely; a
// successful call never produces an error, the window only gates later calls.
func (p *AdaptivePolicy) AfterCall(ctx context.Context, key core.RateLimitKey, meta core.VendorResponseMeta, callErr error) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = normalizeKey(key)
	now := p.now()
	if !meta.ReceivedAt.IsZero() {
		now = meta.ReceivedAt.UTC()
	}

	state, err := p.Store.Get(ctx, key)
	if err != nil && err != ErrStateNotFound {
		return fmt.Errorf("ratelimit: load state: %w", err)
	}
	state.UpdatedAt = now

	headers := lowerHeaders(meta.Headers)
	if limit, ok := headerInt(headers, "x-ratelimit-limit"); ok {
		state.Limit = limit
	}
	if remaining, ok := headerInt(headers, "x-ratelimit-remaining"); ok {
		state.Remaining = remaining
	} else {
		// No quota signal on this response; do not let a stale zero keep
		// blocking the bucket.
		state.Remaining = -1
	}
	if reset, ok := headerReset(headers, now); ok {
		state.ResetAt = reset
	}

	throttled := isThrottledResponse(meta.StatusCode, state, headers)
	var throttleErr *ThrottledError
	if throttled {
		delay := p.resolveDelay(headers, meta.VendorCode, now)
		state.ThrottledUntil = now.Add(delay)
		throttleErr = &ThrottledError{Key: key, RetryAfter: delay, Until: state.ThrottledUntil}
	} else {
		state.ThrottledUntil = time.Time{}
	}

	if err := p.Store.Upsert(ctx, key, state); err != nil {
		return fmt.Errorf("ratelimit: save state: %w", err)
	}
	if throttleErr != nil && callErr != nil {
		return throttleErr
	}
	return nil
}

// resolveDelay picks the retry delay for a throttled response.
func (p *AdaptivePolicy) resolveDelay(headers map[string]string, vendorCode string, now time.Time) time.Duration {
	if delay := core.ParseRetryAfter(headers[core.HeaderRetryAfter], now); delay > 0 {
		return delay
	}
	if code := strings.ToLower(strings.TrimSpace(vendorCode)); code != "" {
		if delay, ok := p.VendorDelays[code]; ok && delay > 0 {
			return delay
		}
	}
	if p.RetryHint > 0 {
		return p.RetryHint
	}
	return DefaultRetryHint
}

func (p *AdaptivePolicy) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// isThrottledResponse reports whether the response indicates throttling: a
// 429 always does, a 5xx never does, and an exhausted quota with a reset hint
// does regardless of status.
func isThrottledResponse(statusCode int, state State, headers map[string]string) bool {
	if statusCode == 429 {
		return true
	}
	if statusCode >= 500 {
		return false
	}
	if state.Remaining == 0 {
		if !state.ResetAt.IsZero() {
			return true
		}
		if _, ok := headers[core.HeaderRetryAfter]; ok {
			return true
		}
	}
	return false
}

func headerInt(headers map[string]string, name string) (int, bool) {
	raw, ok := headers[name]
	if !ok {
		return 0, false
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}
	return value, true
}

// headerReset accepts either epoch seconds or delta seconds in
// x-ratelimit-reset, disambiguated by magnitude.
func headerReset(headers map[string]string, now time.Time) (time.Time, bool) {
	raw, ok := headers["x-ratelimit-reset"]
	if !ok {
		return time.Time{}, false
	}
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || value <= 0 {
		return time.Time{}, false
	}
	if value > 1_000_000_000 {
		return time.Unix(value, 0).UTC(), true
	}
	return now.Add(time.Duration(value) * time.Second), true
}

func lowerHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		out[strings.ToLower(strings.TrimSpace(name))] = value
	}
	return out
}

func normalizeKey(key core.RateLimitKey) core.RateLimitKey {
	key.ConnectorID = strings.ToLower(strings.TrimSpace(key.ConnectorID))
	key.TenantID = strings.ToLower(strings.TrimSpace(key.TenantID))
	key.BucketKey = strings.ToLower(strings.TrimSpace(key.BucketKey))
	if key.BucketKey == "" {
		key.BucketKey = "default"
	}
	return key
}

func formatKey(key core.RateLimitKey) string {
	return strings.Join([]string{key.ConnectorID, key.TenantID, key.BucketKey}, "|")
}

// MemoryStateStore is a process-local StateStore used in tests and single
// node deployments.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]State
}

var _ StateStore = (*MemoryStateStore)(nil)

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: map[string]State{}}
}

func (s *MemoryStateStore) Get(ctx context.Context, key core.RateLimitKey) (State, error) {
	if s == nil {
		return State{}, ErrStateNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[formatKey(normalizeKey(key))]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) Upsert(ctx context.Context, key core.RateLimitKey, state State) error {
	if s == nil {
		return fmt.Errorf("ratelimit: store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states == nil {
		s.states = map[string]State{}
	}
	s.states[formatKey(normalizeKey(key))] = state
	return nil
}
