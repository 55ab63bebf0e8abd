package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/smartbag/authgate/middleware"
)

// Options wires a router.
type Options struct {
	Gate      Gate
	Registrar Registrar
	// DefaultRole is given to self-registered identities. Empty disables
	// POST /auth/register.
	DefaultRole string
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	Log     logrus.FieldLogger
	// TrustedProxies is the number of reverse proxies in front of the
	// server whose X-Forwarded-For hops are believed.
	TrustedProxies int
	// HSTS adds Strict-Transport-Security to every response.
	HSTS bool
}

// NewRouter mounts the auth routes behind the rate limiter. /health and
// /metrics are exempt from it.
func NewRouter(opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	h := &Handler{
		gate:        opts.Gate,
		registrar:   opts.Registrar,
		defaultRole: opts.DefaultRole,
		log:         log,
	}

	r := mux.NewRouter()
	r.Use(middleware.SecurityHeaders(opts.HSTS))
	r.Use(middleware.RateLimit(opts.Gate, middleware.WithTrustedProxies(opts.TrustedProxies)))

	r.HandleFunc("/health", Health).Methods(http.MethodGet)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}

	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	auth.HandleFunc("/refresh", h.Refresh).Methods(http.MethodPost)
	auth.HandleFunc("/logout", h.Logout).Methods(http.MethodPost)
	if opts.Registrar != nil && opts.DefaultRole != "" {
		auth.HandleFunc("/register", h.Register).Methods(http.MethodPost)
	}

	guard := middleware.Guard(opts.Gate)
	auth.Handle("/me", guard(http.HandlerFunc(h.Me))).Methods(http.MethodGet)
	auth.Handle("/logout-all", guard(http.HandlerFunc(h.LogoutAll))).Methods(http.MethodPost)

	return r
}
