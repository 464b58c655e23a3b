package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/stsession/internal/authority/service"
	"github.com/aussiebroadwan/stsession/internal/authority/store"
	"github.com/aussiebroadwan/stsession/pkg/authsdk"
	"github.com/aussiebroadwan/stsession/pkg/httpx"
	"github.com/aussiebroadwan/stsession/pkg/jwtx"
	"github.com/aussiebroadwan/stsession/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.KeyManager
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	store        store.Store

	SessionService     *service.SessionService
	KeyRotationService *service.KeyRotationService

	// APIKey validates the api-key header on every recipe and admin route.
	// Nil leaves them open.
	APIKey func(key string) bool
}

func NewRouter(keys *jwtx.KeyManager, buildVersion string, st store.Store, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerSessions()
	r.registerKeyRotation()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerSessions() {
	h := &SessionHandler{SessionService: r.SessionService}

	secured := func(fn http.HandlerFunc, limit httpx.Middleware) http.Handler {
		return httpx.Chain(fn,
			httpx.RequireAPIKey(r.APIKey),
			limit,
		)
	}
	perServer := httpx.RateLimitByIP(httpx.SessionLimit)

	r.Mux.Handle("POST /recipe/session", secured(h.HandleCreate, perServer))
	r.Mux.Handle("GET /recipe/session", secured(h.HandleGet, perServer))
	r.Mux.Handle("POST /recipe/session/remove", secured(h.HandleRemove, perServer))
	r.Mux.Handle("POST /recipe/session/regenerate", secured(h.HandleRegenerate, perServer))
	r.Mux.Handle("PUT /recipe/session/data", secured(h.HandleUpdateData, perServer))

	// refresh is where replayed tokens land. It gets the strictest limit,
	// counted per end user when the application server forwards their IP.
	perClient := httpx.RateLimitMiddleware(httpx.RefreshLimit, httpx.CompositeKeyExtractor("/",
		httpx.IPKeyExtractor,
		httpx.HeaderKeyExtractor(authsdk.ClientIPHeader),
	))
	r.Mux.Handle("POST /recipe/session/refresh", secured(h.HandleRefresh, perClient))
}

func (r *Router) registerKeyRotation() {
	h := &KeyRotationHandler{KeyRotationService: r.KeyRotationService}

	admin := func(fn http.HandlerFunc) http.Handler {
		return httpx.Chain(fn,
			httpx.RequireAPIKey(r.APIKey),
			httpx.RateLimitByIP(httpx.AdminLimit),
		)
	}

	r.Mux.Handle("POST /v1/keys/rotate", admin(h.HandleRotate))
	r.Mux.Handle("GET /v1/keys", admin(h.HandleListKeys))
	r.Mux.Handle("POST /v1/keys/{kid}/retire", admin(h.HandleRetireKey))
}

func (r *Router) registerSystem() {
	public := func(h http.Handler) http.Handler {
		return httpx.Chain(h, httpx.RateLimitByIP(httpx.PublicLimit))
	}

	r.Mux.Handle("GET /.well-known/jwks.json", public(JWKSHandler(r.keys.KeySet())))
	r.Mux.Handle("GET /livez", public(LivezHandler(r.startTime, r.buildVersion)))
	r.Mux.Handle("GET /readyz", public(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.keys)))
}
