package authsdk

import (
	"context"
	"net/http"

	"github.com/aussiebroadwan/stsession/pkg/jwtx"
)

// GetJWKS retrieves the JSON Web Key Set for token verification.
func (c *SDKClient) GetJWKS(ctx context.Context) (*JWKSResponse, error) {
	var jwks JWKSResponse
	if err := c.call(ctx, http.MethodGet, "/.well-known/jwks.json", nil, &jwks); err != nil {
		return nil, err
	}
	return &jwks, nil
}

// FetchJWKS implements keycache.Fetcher.
func (c *SDKClient) FetchJWKS(ctx context.Context) (jwtx.JWKS, error) {
	jwks, err := c.GetJWKS(ctx)
	if err != nil {
		return jwtx.JWKS{}, err
	}
	return *jwks, nil
}

// ListKeys returns every signing key the authority still publishes.
func (c *SDKClient) ListKeys(ctx context.Context) (*ListKeysResponse, error) {
	var out ListKeysResponse
	if err := c.call(ctx, http.MethodGet, "/v1/keys", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RotateKey makes the authority sign with a freshly generated key.
func (c *SDKClient) RotateKey(ctx context.Context) (*KeyResponse, error) {
	var out KeyResponse
	if err := c.call(ctx, http.MethodPost, "/v1/keys/rotate", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RetireKey stops signing with kid. It stays published for the grace period.
func (c *SDKClient) RetireKey(ctx context.Context, kid string) (*KeyResponse, error) {
	var out KeyResponse
	if err := c.call(ctx, http.MethodPost, "/v1/keys/"+kid+"/retire", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
