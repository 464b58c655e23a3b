package session

// Wire names. Clients and frontends depend on these exact strings.
const (
	HeaderAccessToken  = "st-access-token"
	HeaderRefreshToken = "st-refresh-token"
	HeaderAntiCsrf     = "anti-csrf"
	HeaderAuthMode     = "st-auth-mode"
	HeaderFrontToken   = "front-token"

	CookieAccessToken  = "sAccessToken"
	CookieRefreshToken = "sRefreshToken"
)

// AntiCsrfMode selects how cookie-borne sessions are protected against
// cross-site request forgery.
type AntiCsrfMode string

const (
	// AntiCsrfViaToken requires the anti-csrf header to echo the token
	// embedded in the access token.
	AntiCsrfViaToken AntiCsrfMode = "VIA_TOKEN"

	// AntiCsrfViaCustomHeader requires a non-empty custom header, which a
	// cross-site form post cannot set.
	AntiCsrfViaCustomHeader AntiCsrfMode = "VIA_CUSTOM_HEADER"

	AntiCsrfNone AntiCsrfMode = "NONE"
)

// TransferMethod is where tokens travel: cookies or headers.
type TransferMethod string

const (
	TransferCookie TransferMethod = "cookie"
	TransferHeader TransferMethod = "header"
	TransferAny    TransferMethod = "any"
)

func parseTransferMethod(s string) TransferMethod {
	switch TransferMethod(s) {
	case TransferCookie:
		return TransferCookie
	case TransferHeader:
		return TransferHeader
	default:
		return TransferAny
	}
}
