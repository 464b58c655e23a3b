package session

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/stsession/pkg/jwtx"
)

// DefaultCustomHeader is the header checked by AntiCsrfViaCustomHeader.
const DefaultCustomHeader = "rid"

// CheckAntiForgery enforces mode on a request whose access token arrived in
// a cookie. Header-borne tokens cannot be forged cross-site and are not
// checked here. Every failure wraps ErrTryRefreshToken.
func CheckAntiForgery(r *http.Request, claims *jwtx.Claims, mode AntiCsrfMode, customHeader string) error {
	switch mode {
	case AntiCsrfNone:
		return nil

	case AntiCsrfViaToken:
		if claims == nil || claims.AntiCsrfToken == "" {
			return fmt.Errorf("%w: access token carries no anti-csrf token", ErrTryRefreshToken)
		}
		got := r.Header.Get(HeaderAntiCsrf)
		if got == "" {
			return fmt.Errorf("%w: missing %s header", ErrTryRefreshToken, HeaderAntiCsrf)
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(claims.AntiCsrfToken)) != 1 {
			return fmt.Errorf("%w: anti-csrf token mismatch", ErrTryRefreshToken)
		}
		return nil

	case AntiCsrfViaCustomHeader:
		if customHeader == "" {
			customHeader = DefaultCustomHeader
		}
		if r.Header.Get(customHeader) == "" {
			return fmt.Errorf("%w: missing %s header", ErrTryRefreshToken, customHeader)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown anti-csrf mode %q", ErrTryRefreshToken, mode)
	}
}
