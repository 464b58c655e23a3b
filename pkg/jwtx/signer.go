package jwtx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Supported JWT signing algorithms
const (
	AlgorithmRS256 = "RS256"
	AlgorithmES256 = "ES256"
	AlgorithmEdDSA = "EdDSA"
)

// Signer is our interface for anything that can sign access tokens.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)
	PublicJWK() JWK
}

// NewSigner creates a signer for alg from a PEM encoded private key. RSA keys
// may be PKCS1 or PKCS8; EC and Ed25519 keys must be PKCS8.
func NewSigner(alg, kid string, pemKey []byte) (Signer, error) {
	if kid == "" {
		return nil, errors.New("jwtx: signer needs a kid")
	}

	key, err := parsePrivateKey(pemKey)
	if err != nil {
		return nil, err
	}

	s := &keySigner{kid: kid, key: key}
	switch k := key.(type) {
	case *rsa.PrivateKey:
		s.method, s.jwk = jwt.SigningMethodRS256, NewRSAJWK(kid, AlgorithmRS256, &k.PublicKey)
	case *ecdsa.PrivateKey:
		if k.Curve != elliptic.P256() {
			return nil, errors.New("jwtx: only P-256 ECDSA keys are supported")
		}
		s.method, s.jwk = jwt.SigningMethodES256, NewES256JWK(kid, &k.PublicKey)
	case ed25519.PrivateKey:
		s.method, s.jwk = jwt.SigningMethodEdDSA, NewEd25519JWK(kid, k.Public().(ed25519.PublicKey))
	default:
		return nil, fmt.Errorf("jwtx: unsupported private key type %T", key)
	}

	if s.method.Alg() != alg {
		return nil, fmt.Errorf("%w: %s key cannot sign %s", ErrAlgMismatch, s.method.Alg(), alg)
	}
	return s, nil
}

type keySigner struct {
	kid    string
	key    any
	method jwt.SigningMethod
	jwk    JWK
}

func (s *keySigner) Alg() string    { return s.method.Alg() }
func (s *keySigner) KID() string    { return s.kid }
func (s *keySigner) PublicJWK() JWK { return s.jwk }

// Sign serialises claims and signs them, stamping kid into the header.
func (s *keySigner) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(s.method, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}

// parsePrivateKey handles both PKCS1 and PKCS8 because otherwise we will be
// chasing a bug for longer than we would be willing to admit.
func parsePrivateKey(pemKey []byte) (any, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("jwtx: invalid PEM private key")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("jwtx: parse PKCS1: %w", err)
		}
		return key, nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("jwtx: parse PKCS8: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("jwtx: unsupported PEM type %q", block.Type)
	}
}
