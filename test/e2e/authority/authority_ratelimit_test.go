package authority_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/stsession/pkg/authsdk"
)

// TestRefreshRateLimit runs with production limits and hammers refresh until
// the limiter answers 429.
func TestRefreshRateLimit(t *testing.T) {
	baseURL := startAuthority(t, nil)
	ctx := t.Context()
	client := authsdk.NewSDKClient(baseURL, apiKey)

	limited := false
	for i := 0; i < 100 && !limited; i++ {
		_, err := client.RefreshSession(ctx, authsdk.RefreshSessionRequest{RefreshTokenHash1: "not-a-token"})
		var apiErr *authsdk.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
			require.Equal(t, authsdk.StatusRateLimited, apiErr.Status)
			require.True(t, apiErr.Temporary())
			limited = true
			t.Logf("rate limited after %d requests", i+1)
			continue
		}
		require.NoError(t, err)
	}
	require.True(t, limited, "refresh should be rate limited")
}

func assertAPIError(t *testing.T, err error, code int, status string) {
	t.Helper()
	var apiErr *authsdk.APIError
	require.True(t, errors.As(err, &apiErr), "expected *authsdk.APIError, got %v", err)
	require.Equal(t, code, apiErr.StatusCode)
	require.Equal(t, status, apiErr.Status)
}
