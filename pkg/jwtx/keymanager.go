package jwtx

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/aussiebroadwan/stsession/pkg/cryptox"
	"github.com/aussiebroadwan/stsession/pkg/idx"
)

// DefaultGracePeriod keeps retired keys published long enough for every
// access token they signed to expire.
const DefaultGracePeriod = 24 * time.Hour

// ErrLastActiveKey is returned when retiring would leave nothing to sign with.
var ErrLastActiveKey = errors.New("jwtx: cannot retire the last active signing key")

// SigningKeyRecord is a signing key as persisted by a KeyStore.
type SigningKeyRecord struct {
	ID                  string
	Kid                 string
	Algorithm           string
	PrivateKeyEncrypted []byte
	CreatedAt           time.Time
	RetiredAt           *time.Time
	ExpiresAt           *time.Time
}

// KeyStore persists signing keys. The jwtx package only needs these three
// operations so it never has to import the authority's store.
type KeyStore interface {
	ListSigningKeys(ctx context.Context) ([]SigningKeyRecord, error)
	CreateSigningKey(ctx context.Context, key SigningKeyRecord) error
	RetireSigningKey(ctx context.Context, kid string, retiredAt, expiresAt time.Time) error
}

// KeyInfo describes a managed key without exposing private material.
type KeyInfo struct {
	Kid       string     `json:"kid"`
	Algorithm string     `json:"alg"`
	CreatedAt time.Time  `json:"createdAt"`
	RetiredAt *time.Time `json:"retiredAt,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Active    bool       `json:"active"`
}

// KeyManagerOptions configures a KeyManager.
type KeyManagerOptions struct {
	// Algorithm for newly generated keys: "RS256", "ES256" or "EdDSA".
	// Loaded keys keep their stored algorithm.
	Algorithm string

	// RSABits for RS256 keys. Defaults to 4096, must be at least 2048.
	RSABits int

	// GracePeriod a retired key stays in the JWKS.
	GracePeriod time.Duration

	// Store persists keys encrypted with cryptox. Nil means ephemeral keys
	// that vanish with the process.
	Store KeyStore

	// Now overrides the clock.
	Now func() time.Time
}

type managedKey struct {
	signer    Signer
	createdAt time.Time
	retiredAt *time.Time
	expiresAt *time.Time
}

func (m *managedKey) info() KeyInfo {
	return KeyInfo{
		Kid:       m.signer.KID(),
		Algorithm: m.signer.Alg(),
		CreatedAt: m.createdAt,
		RetiredAt: m.retiredAt,
		ExpiresAt: m.expiresAt,
		Active:    m.retiredAt == nil,
	}
}

// KeyManager owns the authority's signing keys. The newest active key signs;
// every key that has not passed its grace period is published in KeySet.
type KeyManager struct {
	opts KeyManagerOptions
	keys *KeySet

	mu      sync.RWMutex
	managed []*managedKey // newest first
}

// NewKeyManager loads keys from opts.Store, if any, and generates a first key
// when none are active.
func NewKeyManager(ctx context.Context, opts KeyManagerOptions) (*KeyManager, error) {
	switch opts.Algorithm {
	case AlgorithmRS256, AlgorithmES256, AlgorithmEdDSA:
	default:
		return nil, fmt.Errorf("jwtx: unsupported algorithm %q (supported: RS256, ES256, EdDSA)", opts.Algorithm)
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	km := &KeyManager{opts: opts, keys: NewKeySet()}

	if opts.Store != nil {
		if err := km.load(ctx); err != nil {
			return nil, err
		}
	}

	if km.Signer() == nil {
		if _, err := km.Rotate(ctx); err != nil {
			return nil, err
		}
	}
	return km, nil
}

func (km *KeyManager) load(ctx context.Context) error {
	records, err := km.opts.Store.ListSigningKeys(ctx)
	if err != nil {
		return fmt.Errorf("jwtx: failed to load signing keys: %w", err)
	}

	now := km.opts.Now()
	for _, rec := range records {
		if rec.ExpiresAt != nil && !now.Before(*rec.ExpiresAt) {
			continue
		}

		pemData, err := cryptox.DecryptPrivateKey(rec.PrivateKeyEncrypted)
		if err != nil {
			return fmt.Errorf("jwtx: failed to decrypt key %s: %w", rec.Kid, err)
		}
		signer, err := NewSigner(rec.Algorithm, rec.Kid, pemData)
		if err != nil {
			return fmt.Errorf("jwtx: failed to load key %s: %w", rec.Kid, err)
		}

		km.managed = append(km.managed, &managedKey{
			signer:    signer,
			createdAt: rec.CreatedAt,
			retiredAt: rec.RetiredAt,
			expiresAt: rec.ExpiresAt,
		})
	}

	slices.SortStableFunc(km.managed, func(a, b *managedKey) int {
		return b.createdAt.Compare(a.createdAt)
	})
	return km.publishLocked()
}

// Signer returns the newest active signer, or nil when there is none.
func (km *KeyManager) Signer() Signer {
	km.mu.RLock()
	defer km.mu.RUnlock()

	for _, m := range km.managed {
		if m.retiredAt == nil {
			return m.signer
		}
	}
	return nil
}

// KeySet is the published verification set.
func (km *KeyManager) KeySet() *KeySet { return km.keys }

// Algorithm for newly generated keys.
func (km *KeyManager) Algorithm() string { return km.opts.Algorithm }

// IsReady reports whether a signing key is available.
func (km *KeyManager) IsReady() bool { return km.Signer() != nil && km.keys.IsReady() }

// Keys lists every managed key, newest first.
func (km *KeyManager) Keys() []KeyInfo {
	km.mu.RLock()
	defer km.mu.RUnlock()

	out := make([]KeyInfo, len(km.managed))
	for i, m := range km.managed {
		out[i] = m.info()
	}
	return out
}

// Rotate generates a new key and makes it the signing key. Older keys stay
// active for verification until retired.
func (km *KeyManager) Rotate(ctx context.Context) (KeyInfo, error) {
	kid := "s-" + idx.New().String()

	pemData, err := cryptox.GenerateSigningKey(km.opts.Algorithm, km.opts.RSABits)
	if err != nil {
		return KeyInfo{}, fmt.Errorf("jwtx: failed to generate key: %w", err)
	}
	signer, err := NewSigner(km.opts.Algorithm, kid, pemData)
	if err != nil {
		return KeyInfo{}, err
	}

	m := &managedKey{signer: signer, createdAt: km.opts.Now().UTC()}

	if km.opts.Store != nil {
		encrypted, err := cryptox.EncryptPrivateKey(pemData)
		if err != nil {
			return KeyInfo{}, fmt.Errorf("jwtx: failed to encrypt key: %w", err)
		}
		err = km.opts.Store.CreateSigningKey(ctx, SigningKeyRecord{
			ID:                  idx.New().String(),
			Kid:                 kid,
			Algorithm:           signer.Alg(),
			PrivateKeyEncrypted: encrypted,
			CreatedAt:           m.createdAt,
		})
		if err != nil {
			return KeyInfo{}, fmt.Errorf("jwtx: failed to store key: %w", err)
		}
	}

	km.mu.Lock()
	defer km.mu.Unlock()

	km.managed = slices.Insert(km.managed, 0, m)
	if err := km.publishLocked(); err != nil {
		return KeyInfo{}, err
	}
	return m.info(), nil
}

// Retire stops kid from signing. It stays published for GracePeriod.
func (km *KeyManager) Retire(ctx context.Context, kid string) (KeyInfo, error) {
	km.mu.Lock()
	defer km.mu.Unlock()

	var target *managedKey
	active := 0
	for _, m := range km.managed {
		if m.retiredAt == nil {
			active++
		}
		if m.signer.KID() == kid {
			target = m
		}
	}

	switch {
	case target == nil:
		return KeyInfo{}, fmt.Errorf("%w: %q", ErrNoKey, kid)
	case target.retiredAt != nil:
		return target.info(), nil
	case active <= 1:
		return KeyInfo{}, ErrLastActiveKey
	}

	retiredAt := km.opts.Now().UTC()
	expiresAt := retiredAt.Add(km.opts.GracePeriod)

	if km.opts.Store != nil {
		if err := km.opts.Store.RetireSigningKey(ctx, kid, retiredAt, expiresAt); err != nil {
			return KeyInfo{}, fmt.Errorf("jwtx: failed to retire key: %w", err)
		}
	}

	target.retiredAt = &retiredAt
	target.expiresAt = &expiresAt
	return target.info(), nil
}

// Prune drops retired keys whose grace period has ended and republishes the
// key set. It returns how many keys were dropped.
func (km *KeyManager) Prune(now time.Time) (int, error) {
	km.mu.Lock()
	defer km.mu.Unlock()

	before := len(km.managed)
	km.managed = slices.DeleteFunc(km.managed, func(m *managedKey) bool {
		return m.expiresAt != nil && !now.Before(*m.expiresAt)
	})

	dropped := before - len(km.managed)
	if dropped == 0 {
		return 0, nil
	}
	return dropped, km.publishLocked()
}

// publishLocked rebuilds the KeySet from managed. Callers hold mu (or own km
// exclusively during construction).
func (km *KeyManager) publishLocked() error {
	jwks := JWKS{Keys: make([]JWK, 0, len(km.managed))}
	for _, m := range km.managed {
		jwks.Keys = append(jwks.Keys, m.signer.PublicJWK())
	}
	return km.keys.ResetFromJWKS(jwks)
}
