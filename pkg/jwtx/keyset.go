package jwtx

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"slices"
	"sync"
)

var ErrNoKey = errors.New("jwtx: key not found")

// SigningKey is a public verification key and the algorithm it verifies.
type SigningKey struct {
	KeyID     string
	Algorithm string
	PublicKey crypto.PublicKey
}

// KeyProvider resolves verification keys. An empty kid asks for the most
// recent key.
type KeyProvider interface {
	GetKey(ctx context.Context, kid string) (SigningKey, error)
}

// KeySet is an ordered, newest first, collection of verification keys.
// Readers never observe a partially applied update.
type KeySet struct {
	mu   sync.RWMutex
	jwks JWKS
	keys []SigningKey
	kids map[string]int
}

// NewKeySet returns an empty KeySet.
func NewKeySet() *KeySet {
	return &KeySet{kids: make(map[string]int)}
}

// Get returns the key with the given kid.
func (k *KeySet) Get(kid string) (SigningKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if i, ok := k.kids[kid]; ok {
		return k.keys[i], nil
	}
	return SigningKey{}, fmt.Errorf("%w: %q", ErrNoKey, kid)
}

// Latest returns the newest key.
func (k *KeySet) Latest() (SigningKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if len(k.keys) == 0 {
		return SigningKey{}, ErrNoKey
	}
	return k.keys[0], nil
}

// GetKey makes a KeySet usable as a static KeyProvider.
func (k *KeySet) GetKey(_ context.Context, kid string) (SigningKey, error) {
	if kid == "" {
		return k.Latest()
	}
	return k.Get(kid)
}

// PublicJWKS returns a copy of the published key set.
func (k *KeySet) PublicJWKS() JWKS {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return JWKS{Keys: slices.Clone(k.jwks.Keys)}
}

// KeyIDs lists the kids, newest first.
func (k *KeySet) KeyIDs() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := make([]string, len(k.keys))
	for i, key := range k.keys {
		out[i] = key.KeyID
	}
	return out
}

// IsReady reports whether at least one key is loaded.
func (k *KeySet) IsReady() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys) > 0
}

// ResetFromJWKS replaces every key. The new set is fully parsed before it is
// swapped in, so a bad entry leaves the previous set untouched.
func (k *KeySet) ResetFromJWKS(jwks JWKS) error {
	keys := make([]SigningKey, 0, len(jwks.Keys))
	kids := make(map[string]int, len(jwks.Keys))
	for _, j := range jwks.Keys {
		if j.Kid == "" {
			return errors.New("jwtx: JWK without kid")
		}
		if _, dup := kids[j.Kid]; dup {
			return fmt.Errorf("jwtx: duplicate kid %q", j.Kid)
		}
		sk, err := j.SigningKey()
		if err != nil {
			return err
		}
		kids[j.Kid] = len(keys)
		keys = append(keys, sk)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys = keys
	k.kids = kids
	k.jwks = JWKS{Keys: slices.Clone(jwks.Keys)}
	return nil
}
