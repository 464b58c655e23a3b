package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/stsession/pkg/session"
)

func fixed[T any](v T) func(context.Context, string, string) (T, bool, error) {
	return func(context.Context, string, string) (T, bool, error) { return v, true, nil }
}

func TestRegisterRejectsProtectedAndDuplicateKeys(t *testing.T) {
	t.Parallel()

	reg := session.NewRegistry()
	require.NoError(t, reg.Register(session.Claim{Key: "role"}))

	err := reg.Register(session.Claim{Key: "sub"})
	require.ErrorIs(t, err, session.ErrProtectedClaim)

	err = reg.Register(session.Claim{Key: "a"}, session.Claim{Key: "a"})
	require.Error(t, err)

	err = reg.Register(session.Claim{Key: "role"})
	require.Error(t, err)

	// a rejected call registers nothing
	require.Len(t, reg.Claims(), 1)
}

func TestBuildPayloadUpdate(t *testing.T) {
	t.Parallel()

	var order []string
	track := func(key string, v any, ok bool) session.Claim {
		return session.Claim{Key: key, Fetch: func(context.Context, string, string) (any, bool, error) {
			order = append(order, key)
			return v, ok, nil
		}}
	}

	reg := session.NewRegistry()
	require.NoError(t, reg.Register(
		track("first", 1, true),
		track("gone", nil, false),
		track("second", "x", true),
	))

	existing := map[string]any{"keep": true, "gone": "stale"}
	out, err := reg.BuildPayloadUpdate(context.Background(), "u1", "public", existing)
	require.NoError(t, err)

	require.Equal(t, []string{"first", "gone", "second"}, order)
	require.Equal(t, map[string]any{"keep": true, "gone": "stale"}, existing, "input must not change")
	require.NotContains(t, out, "gone")
	require.Equal(t, true, out["keep"])

	first := session.ReadClaim(out, "first")
	require.True(t, first.Present)
	require.Equal(t, 1, first.Value)
	require.False(t, first.FetchedAt.IsZero())
}

func TestBuildPayloadUpdateFetchError(t *testing.T) {
	t.Parallel()

	boom := errors.New("db down")
	reg := session.NewRegistry()
	require.NoError(t, reg.Register(session.Claim{Key: "x", Fetch: func(context.Context, string, string) (any, bool, error) {
		return nil, false, boom
	}}))

	_, err := reg.BuildPayloadUpdate(context.Background(), "u1", "", nil)
	require.ErrorIs(t, err, boom)
}

func TestValidateReturnsFirstFailureInOrder(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	payload := map[string]any{
		"a": map[string]any{"v": "ok", "t": now.UnixMilli()},
		"b": map[string]any{"v": "bad", "t": now.UnixMilli()},
		"c": map[string]any{"v": "bad", "t": now.UnixMilli()},
	}

	a := session.NewPrimitiveClaim[string]("a", nil)
	b := session.NewPrimitiveClaim[string]("b", nil)
	c := session.NewPrimitiveClaim[string]("c", nil)
	a.Validators = []session.Validator{a.HasValue("ok", 0)}
	b.Validators = []session.Validator{b.HasValue("ok", 0)}
	c.Validators = []session.Validator{c.HasValue("ok", 0)}

	reg := session.NewRegistry()
	require.NoError(t, reg.Register(a.Claim, c.Claim, b.Claim))

	err := reg.Validate(payload, now)
	var ice *session.InvalidClaimError
	require.True(t, errors.As(err, &ice))
	require.Equal(t, "c", ice.Key, "registration order decides")
	require.Equal(t, "c-hasValue", ice.ValidatorID)
	require.ErrorIs(t, err, session.ErrInvalidClaim)
}

func TestPrimitiveAndBooleanValidators(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	fetched := now.Add(-10 * time.Minute).UnixMilli()

	level := session.NewPrimitiveClaim("level", fixed(3))
	verified := session.NewBooleanClaim("verified", fixed(true))

	// values that went through JSON come back as float64
	var payload map[string]any
	raw, err := json.Marshal(map[string]any{
		"level":    map[string]any{"v": 3, "t": fetched},
		"verified": map[string]any{"v": true, "t": fetched},
	})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &payload))

	tests := []struct {
		name   string
		v      session.Validator
		reason string
	}{
		{"has value", level.HasValue(3, 0), ""},
		{"wrong value", level.HasValue(4, 0), "wrong value"},
		{"fresh enough", level.HasValue(3, time.Hour), ""},
		{"too old", level.HasValue(3, time.Minute), "expired"},
		{"is true", verified.IsTrue(0), ""},
		{"is false", verified.IsFalse(0), "wrong value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := session.ValidateClaims(payload, []session.Validator{tt.v}, now)
			if tt.reason == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, session.ErrInvalidClaim)
			require.Contains(t, err.Error(), tt.reason)
		})
	}

	got, ok := level.Get(payload)
	require.True(t, ok)
	require.Equal(t, 3, got)

	err = session.ValidateClaims(map[string]any{}, []session.Validator{verified.IsTrue(0)}, now)
	require.ErrorContains(t, err, "does not exist")
}

func TestArrayValidators(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	roles := session.NewArrayClaim("roles", fixed([]string{"admin", "staff"}))
	payload := map[string]any{"roles": map[string]any{"v": []any{"admin", "staff"}, "t": float64(now.UnixMilli())}}

	tests := []struct {
		name string
		v    session.Validator
		ok   bool
	}{
		{"includes", roles.Includes("admin", 0), true},
		{"includes missing", roles.Includes("owner", 0), false},
		{"excludes", roles.Excludes("owner", 0), true},
		{"excludes present", roles.Excludes("staff", 0), false},
		{"includes all", roles.IncludesAll([]string{"admin", "staff"}, 0), true},
		{"includes all missing one", roles.IncludesAll([]string{"admin", "owner"}, 0), false},
		{"includes any", roles.IncludesAny([]string{"owner", "staff"}, 0), true},
		{"includes any none", roles.IncludesAny([]string{"owner", "guest"}, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := session.ValidateClaims(payload, []session.Validator{tt.v}, now)
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, session.ErrInvalidClaim)
			}
		})
	}

	got, ok := roles.Get(payload)
	require.True(t, ok)
	require.Equal(t, []string{"admin", "staff"}, got)
}

func TestMergePayload(t *testing.T) {
	t.Parallel()

	base := map[string]any{"a": 1, "b": 2}

	out, err := session.MergePayload(base, map[string]any{"b": nil, "c": 3})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"a": 1, "c": 3}, out)
	require.Equal(t, map[string]any{"a": 1, "b": 2}, base)

	for _, name := range []string{"sub", "exp", "sessionHandle", "antiCsrfToken", "tId", "stt"} {
		_, err := session.MergePayload(base, map[string]any{name: "x"})
		require.ErrorIs(t, err, session.ErrProtectedClaim, name)
	}
}
