package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/tamv/mdx/internal/mdx/service"
	"github.com/tamv/mdx/internal/mdx/store"
	"github.com/tamv/mdx/pkg/httpx"
	"github.com/tamv/mdx/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store             store.Store
	CredentialService *service.CredentialService
	TOTPService       *service.TOTPService
	DrawService       *service.DrawService

	// FunctionsSecret verifies the HS256 bearer tokens the gateway mints.
	// Empty disables the authn gate (local development).
	FunctionsSecret []byte
}

func NewRouter(buildVersion string, st store.Store, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	// Clients invoke the function endpoints cross-origin, so the whole
	// surface answers preflight with permissive CORS and an empty 200.
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:       []string{"*"},
		AllowedMethods:       []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:       []string{"*"},
		OptionsSuccessStatus: http.StatusOK,
	})
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		corsHandler.Handler,
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerCredentialChallenge()
	r.registerVerifiableDraw()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// authn returns the bearer gate, or a no-op when no secret is configured.
func (r *Router) authn() httpx.Middleware {
	if len(r.FunctionsSecret) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httpx.AuthnHS256(r.FunctionsSecret)
}

func (r *Router) registerCredentialChallenge() {
	h := &CredentialChallengeHandler{
		Credentials: r.CredentialService,
		TOTP:        r.TOTPService,
	}

	// Single action-discriminated endpoint. Strict limit: every action is
	// either a verification attempt or mints a secret.
	r.Mux.Handle("POST /functions/credential-challenge",
		httpx.Chain(h,
			r.authn(),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerVerifiableDraw() {
	h := &VerifiableDrawHandler{DrawService: r.DrawService}

	r.Mux.Handle("POST /functions/verifiable-draw",
		httpx.Chain(h,
			r.authn(),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
}
