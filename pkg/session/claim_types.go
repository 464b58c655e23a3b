package session

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// PrimitiveClaim holds a single comparable value.
type PrimitiveClaim[T comparable] struct {
	Claim
}

// NewPrimitiveClaim builds a claim whose value comes from fetch.
func NewPrimitiveClaim[T comparable](key string, fetch func(ctx context.Context, userID, tenantID string) (T, bool, error)) *PrimitiveClaim[T] {
	c := &PrimitiveClaim[T]{Claim: Claim{Key: key}}
	if fetch != nil {
		c.Fetch = func(ctx context.Context, userID, tenantID string) (any, bool, error) {
			return fetch(ctx, userID, tenantID)
		}
	}
	return c
}

// Get reads the value from payload.
func (c *PrimitiveClaim[T]) Get(payload map[string]any) (T, bool) {
	v := ReadClaim(payload, c.Key)
	if !v.Present {
		var zero T
		return zero, false
	}
	return decodeAs[T](v.Value)
}

// HasValue passes when the stored value equals want and, if maxAge is
// positive, was fetched no longer than maxAge ago.
func (c *PrimitiveClaim[T]) HasValue(want T, maxAge time.Duration) Validator {
	return Validator{
		ClaimKey: c.Key,
		ID:       c.Key + "-hasValue",
		Check: func(v ClaimValue, now time.Time) string {
			if reason := checkPresentAndFresh(v, maxAge, now); reason != "" {
				return reason
			}
			got, ok := decodeAs[T](v.Value)
			if !ok || got != want {
				return fmt.Sprintf("wrong value: want %v", want)
			}
			return ""
		},
	}
}

// BooleanClaim is a PrimitiveClaim of bool.
type BooleanClaim struct {
	PrimitiveClaim[bool]
}

func NewBooleanClaim(key string, fetch func(ctx context.Context, userID, tenantID string) (bool, bool, error)) *BooleanClaim {
	return &BooleanClaim{PrimitiveClaim: *NewPrimitiveClaim(key, fetch)}
}

func (c *BooleanClaim) IsTrue(maxAge time.Duration) Validator {
	v := c.HasValue(true, maxAge)
	v.ID = c.Key + "-isTrue"
	return v
}

func (c *BooleanClaim) IsFalse(maxAge time.Duration) Validator {
	v := c.HasValue(false, maxAge)
	v.ID = c.Key + "-isFalse"
	return v
}

// ArrayClaim holds a list of comparable values.
type ArrayClaim[T comparable] struct {
	Claim
}

func NewArrayClaim[T comparable](key string, fetch func(ctx context.Context, userID, tenantID string) ([]T, bool, error)) *ArrayClaim[T] {
	c := &ArrayClaim[T]{Claim: Claim{Key: key}}
	if fetch != nil {
		c.Fetch = func(ctx context.Context, userID, tenantID string) (any, bool, error) {
			return fetch(ctx, userID, tenantID)
		}
	}
	return c
}

// Get reads the list from payload.
func (c *ArrayClaim[T]) Get(payload map[string]any) ([]T, bool) {
	v := ReadClaim(payload, c.Key)
	if !v.Present {
		return nil, false
	}
	return decodeAs[[]T](v.Value)
}

func (c *ArrayClaim[T]) Includes(want T, maxAge time.Duration) Validator {
	return c.validator("includes", maxAge, func(got []T) string {
		if !slices.Contains(got, want) {
			return fmt.Sprintf("wrong value: missing %v", want)
		}
		return ""
	})
}

func (c *ArrayClaim[T]) Excludes(unwanted T, maxAge time.Duration) Validator {
	return c.validator("excludes", maxAge, func(got []T) string {
		if slices.Contains(got, unwanted) {
			return fmt.Sprintf("wrong value: contains %v", unwanted)
		}
		return ""
	})
}

func (c *ArrayClaim[T]) IncludesAll(want []T, maxAge time.Duration) Validator {
	return c.validator("includesAll", maxAge, func(got []T) string {
		for _, w := range want {
			if !slices.Contains(got, w) {
				return fmt.Sprintf("wrong value: missing %v", w)
			}
		}
		return ""
	})
}

func (c *ArrayClaim[T]) IncludesAny(want []T, maxAge time.Duration) Validator {
	return c.validator("includesAny", maxAge, func(got []T) string {
		for _, w := range want {
			if slices.Contains(got, w) {
				return ""
			}
		}
		return fmt.Sprintf("wrong value: none of %v", want)
	})
}

func (c *ArrayClaim[T]) validator(kind string, maxAge time.Duration, check func([]T) string) Validator {
	return Validator{
		ClaimKey: c.Key,
		ID:       c.Key + "-" + kind,
		Check: func(v ClaimValue, now time.Time) string {
			if reason := checkPresentAndFresh(v, maxAge, now); reason != "" {
				return reason
			}
			got, ok := decodeAs[[]T](v.Value)
			if !ok {
				return "wrong value: not a list"
			}
			return check(got)
		},
	}
}

func checkPresentAndFresh(v ClaimValue, maxAge time.Duration, now time.Time) string {
	if !v.Present {
		return "value does not exist"
	}
	if maxAge > 0 && now.Sub(v.FetchedAt) > maxAge {
		return fmt.Sprintf("expired: fetched %s ago, max age %s", now.Sub(v.FetchedAt).Truncate(time.Millisecond), maxAge)
	}
	return ""
}

// decodeAs converts a payload value to T. Values that came through JSON
// (numbers as float64, lists as []any) are converted by re-encoding.
func decodeAs[T any](raw any) (T, bool) {
	if v, ok := raw.(T); ok {
		return v, true
	}

	var out T
	buf, err := json.Marshal(raw)
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(buf, &out); err != nil {
		return out, false
	}
	return out, true
}
