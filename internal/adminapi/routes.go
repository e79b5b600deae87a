// SPDX-License-Identifier: MPL-2.0

package adminapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the router. It is exposed for tests and for embedding the
// API in another server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/live", s.health.LiveEndpoint)
	r.Get("/ready", s.health.ReadyEndpoint)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Use(middleware.AllowContentType("application/json"))

		r.Get("/catalog", s.handleCatalog)
		r.Get("/guilds", s.handleGuilds)
		r.Route("/guilds/{guild}", func(r chi.Router) {
			r.Get("/modules", s.handleListModules)
			r.Post("/modules/{module}/enable", s.handleEnableModule)
			r.Post("/modules/{module}/disable", s.handleDisableModule)

			r.Get("/commands", s.handleListCommands)
			r.Patch("/commands/{command}", s.handlePatchCommand)

			r.Get("/settings", s.handleGetSettings)
			r.Patch("/settings", s.handlePatchSettings)

			r.Get("/admins", s.handleListAdmins)
			r.Put("/admins/{user}", s.handleAddAdmin)
			r.Delete("/admins/{user}", s.handleRemoveAdmin)
		})
	})
	return r
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing or invalid token"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
