/*
Package authsdk is the HTTP client for a session authority.

# Overview

The authority owns session state: it mints access and refresh tokens, rotates
refresh tokens, detects reuse of a rotated refresh token, and publishes the
public half of its signing keys as a JWKS. This package speaks its JSON
protocol and nothing more; request verification, anti-forgery and claim
handling live in the session package, which consumes an SDKClient through
the session.Authority interface.

	client := authsdk.NewSDKClient("https://authority.internal:3567", apiKey)

	// Check service health
	health, err := client.GetReadiness(ctx)

	// Start a session
	resp, err := client.CreateSession(ctx, authsdk.CreateSessionRequest{
		UserID:   "u1",
		TenantID: "public",
	})

# Protocol Outcomes

Every response body carries a status. Protocol outcomes are returned as
values, not errors:

  - StatusOK: the operation succeeded
  - StatusUnauthorised: the session or refresh token is unknown or revoked
  - StatusTokenTheftDetected: a rotated refresh token was replayed; the
    response names the session and user involved

Only transport failures and non-2xx responses are errors. Non-2xx responses
decode into *APIError:

	resp, err := client.RefreshSession(ctx, req)
	var apiErr *authsdk.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		// back off
	}

# Keys

FetchJWKS makes an SDKClient usable as a keycache.Fetcher. The returned set
is ordered newest first.

# Thread Safety

SDKClient holds no per-request state and is safe for concurrent use.
*/
package authsdk
