package jwtx

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultLeeway is the clock skew tolerated on exp.
const DefaultLeeway = time.Second

var supportedMethods = []string{AlgorithmRS256, AlgorithmES256, AlgorithmEdDSA}

// Encode signs claims with signer. The body serialises deterministically and
// no random jti is added, so RS256 and EdDSA produce identical tokens for
// identical input.
func Encode(signer Signer, claims Claims) (string, error) {
	if signer == nil {
		return "", errors.New("jwtx: nil signer")
	}
	if err := CheckPayload(claims.Payload); err != nil {
		return "", err
	}
	return signer.Sign(claims)
}

// Decoder verifies access tokens against keys from Keys.
type Decoder struct {
	Keys KeyProvider

	// Leeway tolerates clock skew on exp. Zero means DefaultLeeway.
	Leeway time.Duration

	// Now overrides the clock, mostly for tests.
	Now func() time.Time
}

// Decode verifies the signature, exp and protected claims of token.
//
// The header kid selects the key; tokens without one are tried against the
// most recent key. Errors wrap ErrMalformed, ErrInvalidSig, ErrExpired,
// ErrUnknownKID, ErrAlgMismatch, ErrInvalidClaim or ErrKeyUnavailable.
func (d Decoder) Decode(ctx context.Context, token string) (*Claims, error) {
	return d.decode(ctx, token, true)
}

// DecodeIgnoringExpiry verifies the signature and claim structure but
// accepts expired tokens. Used to recover linkage from an old access token
// during refresh.
func (d Decoder) DecodeIgnoringExpiry(ctx context.Context, token string) (*Claims, error) {
	return d.decode(ctx, token, false)
}

func (d Decoder) decode(ctx context.Context, token string, checkExpiry bool) (*Claims, error) {
	if d.Keys == nil {
		return nil, errors.New("jwtx: decoder has no key provider")
	}
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformed)
	}

	leeway := d.Leeway
	if leeway <= 0 {
		leeway = DefaultLeeway
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(supportedMethods),
		jwt.WithLeeway(leeway),
		jwt.WithExpirationRequired(),
	}
	if d.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(d.Now))
	}
	if !checkExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := &Claims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, d.keyFunc(ctx))
	if err != nil {
		return nil, classify(err)
	}

	if !checkExpiry {
		if err := claims.Validate(); err != nil {
			return nil, err
		}
	}

	return claims, nil
}

func (d Decoder) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)

		key, err := d.Keys.GetKey(ctx, kid)
		if err != nil {
			if errors.Is(err, ErrNoKey) {
				return nil, fmt.Errorf("%w %q: %w", ErrUnknownKID, kid, err)
			}
			return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
		}

		if key.Algorithm != t.Method.Alg() {
			return nil, fmt.Errorf("%w: token %s, key %s", ErrAlgMismatch, t.Method.Alg(), key.Algorithm)
		}

		switch key.PublicKey.(type) {
		case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
			return key.PublicKey, nil
		default:
			return nil, fmt.Errorf("%w: unusable key type %T", ErrAlgMismatch, key.PublicKey)
		}
	}
}

// classify maps jwt parser failures onto our sentinels, keeping the cause.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrKeyUnavailable),
		errors.Is(err, ErrUnknownKID),
		errors.Is(err, ErrAlgMismatch),
		errors.Is(err, ErrInvalidClaim):
		return err
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %w", ErrInvalidSig, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing),
		errors.Is(err, jwt.ErrTokenInvalidClaims):
		return fmt.Errorf("%w: %w", ErrInvalidClaim, err)
	default:
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
}
