package authsdk

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// APIKeyHeader carries the shared secret on every authority call.
const APIKeyHeader = "api-key"

// ClientIPHeader forwards the end user's address so the authority can rate
// limit per user rather than per application server.
const ClientIPHeader = "x-session-client-ip"

type ctxKey struct{}

// WithClientIP attaches the end user's IP to calls made with ctx.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKey{}, ip)
}

// ClientIPFromContext returns the IP set by WithClientIP.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(ctxKey{}).(string)
	return ip
}

// DefaultTimeout bounds each authority call.
const DefaultTimeout = 10 * time.Second

// SDKClient is a client for the session authority.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client

	// APIKey is sent in the api-key header when non-empty.
	APIKey string
}

// NewSDKClient creates a client with the default timeout.
func NewSDKClient(baseURL, apiKey string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		APIKey: apiKey,
	}
}
