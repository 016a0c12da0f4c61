package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kinship-app/kinship/internal/components/api"
	"github.com/kinship-app/kinship/internal/frameworks/service"
	"github.com/kinship-app/kinship/internal/platform/deps"
	"github.com/kinship-app/kinship/internal/platform/http/auth"
	httpmw "github.com/kinship-app/kinship/internal/platform/http/middleware"
)

// RouteGroup defines an endpoint group with its auth requirements.
type RouteGroup struct {
	Name         string
	PathPrefix   string
	RequiresAuth bool
}

// routeGroups is the single source of truth for gating decisions.
// Services carve exceptions out of their group via Service.Unprotected().
var routeGroups = []RouteGroup{
	{Name: "metrics", PathPrefix: "/metrics", RequiresAuth: false},
	{Name: "api", PathPrefix: "/api", RequiresAuth: true},
}

// GetRouteGroups returns the route group definitions for testing.
func GetRouteGroups() []RouteGroup {
	return routeGroups
}

// IsAuthRequired reports whether path needs a session. Unknown paths do.
func IsAuthRequired(path string, mountedServices []service.Service) bool {
	for _, svc := range mountedServices {
		if svc == nil {
			continue
		}
		base := "/" + svc.Prefix()
		for _, unprotected := range svc.Unprotected() {
			if pathMatchesPrefix(path, base+unprotected) {
				return false
			}
		}
	}

	for _, rg := range routeGroups {
		if pathMatchesPrefix(path, rg.PathPrefix) {
			return rg.RequiresAuth
		}
	}
	return true
}

// pathMatchesPrefix checks if path equals or is a subpath of prefix.
func pathMatchesPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix) && path[len(prefix)] == '/'
}

// setupRoutes creates the chi router with every service mounted.
func (s *Server) setupRoutes(services []service.Service) chi.Router {
	d := deps.GetDeps()
	r := chi.NewRouter()

	// RequestID -> request-scoped logger -> access log -> recoverer -> auth gate
	r.Use(chimw.RequestID)
	r.Use(httpmw.RequestLogger(s.logger))
	r.Use(httpmw.AccessLog(s.logger, d.Metrics))
	r.Use(chimw.Recoverer)
	r.Use(auth.NewAuthGate(auth.AuthGateConfig{
		RequireAuth: func(path string) bool { return IsAuthRequired(path, s.mountedServices) },
		Log:         s.logger,
		SessionRepo: d.SessionRepo,
		PartyRepo:   d.PartyRepo,
	}))

	// Set before mounting so subrouters inherit the JSON envelopes.
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		api.WriteNotFound(w, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		api.WriteError(w, http.StatusMethodNotAllowed, api.ReasonBadRequest, "Method not allowed")
	})

	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	for _, svc := range services {
		if svc == nil {
			continue
		}
		r.Mount("/"+svc.Prefix(), svc.Handler())
		s.mountedServices = append(s.mountedServices, svc)
	}

	return r
}
