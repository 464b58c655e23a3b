package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/stsession/pkg/jwtx"
	"github.com/aussiebroadwan/stsession/pkg/slogx"
)

// ErrUnknownKey is returned when retiring a kid the authority does not hold.
var ErrUnknownKey = errors.New("unknown_key")

// KeyRotationService rotates and retires access token signing keys at
// runtime. Persistence is up to the KeyManager: with a store, keys survive
// restarts encrypted at rest; without one they are ephemeral.
type KeyRotationService struct {
	Keys *jwtx.KeyManager
}

// Rotate generates a key and makes it the signing key. Existing keys keep
// verifying until retired.
func (s *KeyRotationService) Rotate(ctx context.Context) (jwtx.KeyInfo, error) {
	info, err := s.Keys.Rotate(ctx)
	if err != nil {
		return jwtx.KeyInfo{}, fmt.Errorf("failed to rotate signing key: %w", err)
	}
	slogx.FromContext(ctx).Info("signing key rotated",
		slog.String("kid", info.Kid), slog.String("alg", info.Algorithm))
	return info, nil
}

// List returns every key the authority holds, newest first.
func (s *KeyRotationService) List(context.Context) []jwtx.KeyInfo {
	return s.Keys.Keys()
}

// Retire stops kid from signing new tokens. It stays in the JWKS for the
// grace period so tokens it already signed keep verifying. Retiring the last
// active key fails with jwtx.ErrLastActiveKey.
func (s *KeyRotationService) Retire(ctx context.Context, kid string) (jwtx.KeyInfo, error) {
	info, err := s.Keys.Retire(ctx, kid)
	switch {
	case errors.Is(err, jwtx.ErrNoKey):
		return jwtx.KeyInfo{}, ErrUnknownKey
	case err != nil:
		return jwtx.KeyInfo{}, err
	}
	slogx.FromContext(ctx).Info("signing key retired",
		slog.String("kid", kid), slog.Any("expires_at", info.ExpiresAt))
	return info, nil
}
