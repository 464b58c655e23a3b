package session

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/aussiebroadwan/stsession/pkg/jwtx"
)

// Keys of a stored claim value inside the access token payload.
const (
	claimValueKey     = "v"
	claimFetchedAtKey = "t"
)

// FetchFunc loads the current value of a claim for a user. ok=false means
// the claim has no value and is removed from the payload.
type FetchFunc func(ctx context.Context, userID, tenantID string) (value any, ok bool, err error)

// Claim is a named value kept in the access token payload, refreshed from
// its source by Fetch and checked at request time by Validators.
type Claim struct {
	Key   string
	Fetch FetchFunc

	// Validators run on every verification unless the caller overrides them.
	Validators []Validator
}

// ClaimValue is a claim as stored in a payload.
type ClaimValue struct {
	Value     any
	FetchedAt time.Time
	Present   bool
}

// Validator checks one claim against the payload snapshot. Check returns
// the empty string when the claim passes, otherwise the reason it failed.
// It must not look anywhere but its arguments.
type Validator struct {
	ClaimKey string
	ID       string
	Check    func(v ClaimValue, now time.Time) string
}

// ReadClaim extracts key from payload.
func ReadClaim(payload map[string]any, key string) ClaimValue {
	raw, ok := payload[key].(map[string]any)
	if !ok {
		return ClaimValue{}
	}
	v, ok := raw[claimValueKey]
	if !ok {
		return ClaimValue{}
	}

	out := ClaimValue{Value: v, Present: true}
	if ms, ok := toInt64(raw[claimFetchedAtKey]); ok {
		out.FetchedAt = time.UnixMilli(ms)
	}
	return out
}

func storedClaim(v any, now time.Time) map[string]any {
	return map[string]any{claimValueKey: v, claimFetchedAtKey: now.UnixMilli()}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// Registry holds the claims attached to every new session and fetched again
// whenever it refreshes. Registration
// copies the Claim, so later edits to the caller's value are not seen.
type Registry struct {
	mu     sync.RWMutex
	claims []Claim
	now    func() time.Time
}

// NewRegistry returns an empty registry. A Manager that owns it stamps
// fetched values with its own clock.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends claims in order. A protected or duplicate key rejects
// the whole call.
func (r *Registry) Register(claims ...Claim) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(r.claims)+len(claims))
	for _, c := range r.claims {
		seen[c.Key] = true
	}
	for _, c := range claims {
		switch {
		case c.Key == "":
			return fmt.Errorf("session: claim without key")
		case jwtx.IsProtectedClaim(c.Key):
			return fmt.Errorf("%w: %q", ErrProtectedClaim, c.Key)
		case seen[c.Key]:
			return fmt.Errorf("session: claim %q already registered", c.Key)
		}
		seen[c.Key] = true
	}

	r.claims = append(r.claims, claims...)
	return nil
}

// Claims returns the registered claims in registration order.
func (r *Registry) Claims() []Claim {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Claim, len(r.claims))
	copy(out, r.claims)
	return out
}

// DefaultValidators returns every claim's validators, in registration order
// then validator order.
func (r *Registry) DefaultValidators() []Validator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Validator
	for _, c := range r.claims {
		out = append(out, c.Validators...)
	}
	return out
}

// BuildPayloadUpdate fetches every registered claim and returns existing
// with the results merged in. existing is not modified.
func (r *Registry) BuildPayloadUpdate(ctx context.Context, userID, tenantID string, existing map[string]any) (map[string]any, error) {
	out := maps.Clone(existing)
	if out == nil {
		out = make(map[string]any)
	}

	now := r.clock()
	for _, c := range r.Claims() {
		if c.Fetch == nil {
			continue
		}
		v, ok, err := c.Fetch(ctx, userID, tenantID)
		if err != nil {
			return nil, fmt.Errorf("session: fetch claim %q: %w", c.Key, err)
		}
		if !ok {
			delete(out, c.Key)
			continue
		}
		out[c.Key] = storedClaim(v, now)
	}
	return out, nil
}

func (r *Registry) hasFetchers() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.claims {
		if c.Fetch != nil {
			return true
		}
	}
	return false
}

// Validate runs the default validators against payload.
func (r *Registry) Validate(payload map[string]any, now time.Time) error {
	return ValidateClaims(payload, r.DefaultValidators(), now)
}

func (r *Registry) clock() time.Time {
	r.mu.RLock()
	now := r.now
	r.mu.RUnlock()
	if now == nil {
		return time.Now()
	}
	return now()
}

func (r *Registry) setClockIfUnset(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.now == nil {
		r.now = now
	}
}

// ValidateClaims runs validators in order and returns the first failure as
// an *InvalidClaimError.
func ValidateClaims(payload map[string]any, validators []Validator, now time.Time) error {
	for _, v := range validators {
		if v.Check == nil {
			continue
		}
		if reason := v.Check(ReadClaim(payload, v.ClaimKey), now); reason != "" {
			return &InvalidClaimError{Key: v.ClaimKey, ValidatorID: v.ID, Reason: reason}
		}
	}
	return nil
}

// MergePayload returns base with update applied. A nil value in update
// removes the key. Protected names are rejected.
func MergePayload(base, update map[string]any) (map[string]any, error) {
	if err := jwtx.CheckPayload(update); err != nil {
		return nil, err
	}

	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any, len(update))
	}
	for k, v := range update {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out, nil
}
