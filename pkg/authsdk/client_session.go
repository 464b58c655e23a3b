package authsdk

import (
	"context"
	"net/http"
	"net/url"
)

// CreateSession starts a new session.
func (c *SDKClient) CreateSession(ctx context.Context, req CreateSessionRequest) (*SessionResponse, error) {
	var out SessionResponse
	if err := c.call(ctx, http.MethodPost, "/recipe/session", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshSession rotates the refresh token identified by req.RefreshTokenHash1.
// UNAUTHORISED and TOKEN_THEFT_DETECTED come back in the response status.
func (c *SDKClient) RefreshSession(ctx context.Context, req RefreshSessionRequest) (*SessionResponse, error) {
	var out SessionResponse
	if err := c.call(ctx, http.MethodPost, "/recipe/session/refresh", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegenerateAccessToken stores a new custom payload for the session and
// returns a token carrying it.
func (c *SDKClient) RegenerateAccessToken(ctx context.Context, req RegenerateAccessTokenRequest) (*RegenerateAccessTokenResponse, error) {
	var out RegenerateAccessTokenResponse
	if err := c.call(ctx, http.MethodPost, "/recipe/session/regenerate", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RevokeSessions revokes by handle, or every session of a user.
func (c *SDKClient) RevokeSessions(ctx context.Context, req RevokeSessionsRequest) (*RevokeSessionsResponse, error) {
	var out RevokeSessionsResponse
	if err := c.call(ctx, http.MethodPost, "/recipe/session/remove", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSessionInformation looks a session up by handle.
func (c *SDKClient) GetSessionInformation(ctx context.Context, handle string) (*SessionInformation, error) {
	var out SessionInformation
	path := "/recipe/session?" + url.Values{"sessionHandle": {handle}}.Encode()
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateSessionData replaces the server-side data of a session.
func (c *SDKClient) UpdateSessionData(ctx context.Context, req UpdateSessionDataRequest) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.call(ctx, http.MethodPut, "/recipe/session/data", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
