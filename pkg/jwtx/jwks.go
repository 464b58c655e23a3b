package jwtx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
)

// JWK represents a public key in JSON Web Key format (RFC 7517).
type JWK struct {
	Kty string `json:"kty"`           // "RSA", "OKP", "EC"
	Use string `json:"use,omitempty"` // always "sig" for us
	Alg string `json:"alg,omitempty"` // "RS256", "EdDSA", "ES256"
	Kid string `json:"kid,omitempty"`

	// RSA
	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`

	// OKP and EC
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// JWKS is a JSON Web Key Set (RFC 7517). The authority publishes it newest
// key first.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// NewRSAJWK builds a JWK for an RSA public key.
func NewRSAJWK(kid, alg string, pub *rsa.PublicKey) JWK {
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Alg: alg,
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// NewEd25519JWK builds an OKP JWK for an Ed25519 public key.
func NewEd25519JWK(kid string, pub ed25519.PublicKey) JWK {
	return JWK{
		Kty: "OKP",
		Use: "sig",
		Alg: AlgorithmEdDSA,
		Kid: kid,
		Crv: "Ed25519",
		X:   base64.RawURLEncoding.EncodeToString(pub),
	}
}

// NewES256JWK builds an EC JWK for a P-256 public key. Coordinates are left
// padded to the 32 byte field size.
func NewES256JWK(kid string, pub *ecdsa.PublicKey) JWK {
	x := make([]byte, 32)
	y := make([]byte, 32)
	pub.X.FillBytes(x)
	pub.Y.FillBytes(y)

	return JWK{
		Kty: "EC",
		Use: "sig",
		Alg: AlgorithmES256,
		Kid: kid,
		Crv: "P-256",
		X:   base64.RawURLEncoding.EncodeToString(x),
		Y:   base64.RawURLEncoding.EncodeToString(y),
	}
}

// SigningKey converts the JWK into a usable verification key. When alg is
// absent it is inferred from the key type.
func (j JWK) SigningKey() (SigningKey, error) {
	if j.Use != "" && j.Use != "sig" {
		return SigningKey{}, fmt.Errorf("jwtx: key %q is not a signing key (use=%q)", j.Kid, j.Use)
	}

	pub, alg, err := parsePublicKey(j)
	if err != nil {
		return SigningKey{}, err
	}
	if j.Alg != "" && j.Alg != alg {
		return SigningKey{}, fmt.Errorf("%w: kid %q declares %s for %s key", ErrAlgMismatch, j.Kid, j.Alg, j.Kty)
	}

	return SigningKey{KeyID: j.Kid, Algorithm: alg, PublicKey: pub}, nil
}

// PEM converts the JWK to a PKIX "PUBLIC KEY" block, handy for jwt.io.
func (j JWK) PEM() (string, error) {
	pub, _, err := parsePublicKey(j)
	if err != nil {
		return "", err
	}

	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}

	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

func parsePublicKey(j JWK) (any, string, error) {
	switch j.Kty {
	case "RSA":
		nb, err := base64.RawURLEncoding.DecodeString(j.N)
		if err != nil {
			return nil, "", fmt.Errorf("jwtx: bad RSA modulus: %w", err)
		}
		eb, err := base64.RawURLEncoding.DecodeString(j.E)
		if err != nil {
			return nil, "", fmt.Errorf("jwtx: bad RSA exponent: %w", err)
		}
		if len(nb) == 0 || len(eb) == 0 {
			return nil, "", errors.New("jwtx: empty RSA key")
		}
		return &rsa.PublicKey{
			N: new(big.Int).SetBytes(nb),
			E: int(new(big.Int).SetBytes(eb).Int64()),
		}, AlgorithmRS256, nil

	case "OKP":
		if j.Crv != "Ed25519" {
			return nil, "", errors.New("jwtx: unsupported OKP curve " + j.Crv)
		}
		xb, err := base64.RawURLEncoding.DecodeString(j.X)
		if err != nil {
			return nil, "", fmt.Errorf("jwtx: bad Ed25519 key: %w", err)
		}
		if len(xb) != ed25519.PublicKeySize {
			return nil, "", errors.New("jwtx: invalid Ed25519 public key size")
		}
		return ed25519.PublicKey(xb), AlgorithmEdDSA, nil

	case "EC":
		if j.Crv != "P-256" {
			return nil, "", errors.New("jwtx: unsupported EC curve " + j.Crv)
		}
		xb, err := base64.RawURLEncoding.DecodeString(j.X)
		if err != nil {
			return nil, "", fmt.Errorf("jwtx: bad EC x: %w", err)
		}
		yb, err := base64.RawURLEncoding.DecodeString(j.Y)
		if err != nil {
			return nil, "", fmt.Errorf("jwtx: bad EC y: %w", err)
		}
		pub := &ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(xb),
			Y:     new(big.Int).SetBytes(yb),
		}
		if !pub.Curve.IsOnCurve(pub.X, pub.Y) {
			return nil, "", errors.New("jwtx: EC point not on P-256")
		}
		return pub, AlgorithmES256, nil

	default:
		return nil, "", errors.New("jwtx: unsupported kty " + j.Kty)
	}
}
