package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// accessCookieLifetime keeps the access cookie around after the token inside
// it expires, so the server can tell "expired" from "never logged in".
const accessCookieLifetime = 100 * 365 * 24 * time.Hour

var exposedHeaders = []string{HeaderFrontToken, HeaderAntiCsrf, HeaderAccessToken, HeaderRefreshToken}

// FrontToken is the non-secret summary handed to frontends alongside the
// access token.
type FrontToken struct {
	UserID  string         `json:"uid"`
	Expiry  int64          `json:"ate"`
	Payload map[string]any `json:"up"`
}

// EncodeFrontToken returns base64(JSON{uid, ate, up}).
func EncodeFrontToken(userID string, accessExpiry time.Time, payload map[string]any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	buf, err := json.Marshal(FrontToken{UserID: userID, Expiry: accessExpiry.UnixMilli(), Payload: payload})
	if err != nil {
		return "", fmt.Errorf("session: encode front token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// DecodeFrontToken reverses EncodeFrontToken.
func DecodeFrontToken(s string) (FrontToken, error) {
	var ft FrontToken
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return ft, fmt.Errorf("session: decode front token: %w", err)
	}
	if err := json.Unmarshal(buf, &ft); err != nil {
		return ft, fmt.Errorf("session: decode front token: %w", err)
	}
	return ft, nil
}

// readPreference is the transport to read tokens from. TransferAny means
// header first, then cookie.
func (m *Manager) readPreference(r *http.Request) TransferMethod {
	if hint := parseTransferMethod(r.Header.Get(HeaderAuthMode)); hint != TransferAny {
		return hint
	}
	return m.cfg.GetTokenTransferMethod(r, false)
}

// writePreference is the transport for a brand new session. Cookies win
// when nothing decides.
func (m *Manager) writePreference(r *http.Request) TransferMethod {
	if hint := parseTransferMethod(r.Header.Get(HeaderAuthMode)); hint != TransferAny {
		return hint
	}
	if pref := m.cfg.GetTokenTransferMethod(r, true); pref != TransferAny {
		return pref
	}
	return TransferCookie
}

func (m *Manager) extract(r *http.Request, cookieName, headerName string) (string, TransferMethod) {
	fromHeader := strings.TrimSpace(r.Header.Get(headerName))
	fromCookie := ""
	if c, err := r.Cookie(cookieName); err == nil {
		fromCookie = c.Value
	}

	switch m.readPreference(r) {
	case TransferCookie:
		return fromCookie, TransferCookie
	case TransferHeader:
		return fromHeader, TransferHeader
	}

	if fromHeader != "" {
		return fromHeader, TransferHeader
	}
	if fromCookie != "" {
		return fromCookie, TransferCookie
	}
	return "", TransferAny
}

func (m *Manager) accessTokenFrom(r *http.Request) (string, TransferMethod) {
	return m.extract(r, CookieAccessToken, HeaderAccessToken)
}

func (m *Manager) refreshTokenFrom(r *http.Request) (string, TransferMethod) {
	return m.extract(r, CookieRefreshToken, HeaderRefreshToken)
}

// hasRefreshToken looks in both places regardless of preference.
func hasRefreshToken(r *http.Request) bool {
	if r.Header.Get(HeaderRefreshToken) != "" {
		return true
	}
	c, err := r.Cookie(CookieRefreshToken)
	return err == nil && c.Value != ""
}

// WriteTokens puts a freshly minted token pair on the response.
func (m *Manager) WriteTokens(w http.ResponseWriter, t *Tokens, method TransferMethod) {
	if method == TransferAny {
		method = TransferCookie
	}

	m.writeAccessToken(w, t.AccessToken, t.FrontToken, method)

	switch method {
	case TransferCookie:
		m.setCookie(w, CookieRefreshToken, t.RefreshToken, m.cfg.RefreshPath, t.RefreshTokenExpiry)
	case TransferHeader:
		w.Header().Set(HeaderRefreshToken, t.RefreshToken)
	}

	if t.AntiCsrfToken != "" {
		w.Header().Set(HeaderAntiCsrf, t.AntiCsrfToken)
	}
}

func (m *Manager) writeAccessToken(w http.ResponseWriter, token, frontToken string, method TransferMethod) {
	switch method {
	case TransferHeader:
		w.Header().Set(HeaderAccessToken, token)
	default:
		m.setCookie(w, CookieAccessToken, token, m.cfg.AccessTokenPath, m.now().Add(accessCookieLifetime))
	}
	if frontToken != "" {
		w.Header().Set(HeaderFrontToken, frontToken)
	}
	exposeHeaders(w)
}

// ClearTokens removes both tokens. TransferAny clears both transports.
func (m *Manager) ClearTokens(w http.ResponseWriter, method TransferMethod) {
	if method != TransferHeader {
		m.expireCookie(w, CookieAccessToken, m.cfg.AccessTokenPath)
		m.expireCookie(w, CookieRefreshToken, m.cfg.RefreshPath)
	}
	if method != TransferCookie {
		w.Header().Set(HeaderAccessToken, "")
		w.Header().Set(HeaderRefreshToken, "")
	}
	w.Header().Set(HeaderFrontToken, "remove")
	exposeHeaders(w)
}

func (m *Manager) setCookie(w http.ResponseWriter, name, value, path string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   m.cfg.CookieDomain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   m.cfg.CookieSecure,
		SameSite: m.cfg.CookieSameSite,
	})
}

func (m *Manager) expireCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Domain:   m.cfg.CookieDomain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cfg.CookieSecure,
		SameSite: m.cfg.CookieSameSite,
	})
}

func exposeHeaders(w http.ResponseWriter) {
	existing := w.Header().Values("Access-Control-Expose-Headers")
	var missing []string
	for _, h := range exposedHeaders {
		found := false
		for _, e := range existing {
			for _, part := range strings.Split(e, ",") {
				if strings.EqualFold(strings.TrimSpace(part), h) {
					found = true
				}
			}
		}
		if !found {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		w.Header().Add("Access-Control-Expose-Headers", strings.Join(missing, ", "))
	}
}
