package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stanstork/aggregator-router/internal/handlers"
)

// NewRouter wires the ops surface. auth guards everything under /api.
func NewRouter(conns *handlers.ConnectionHandler, sessions *handlers.SessionHandler, auth mux.MiddlewareFunc) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(auth)

	api.HandleFunc("/resolve", conns.Resolve).Methods(http.MethodPost)
	api.HandleFunc("/connections", conns.Create).Methods(http.MethodPost)
	api.HandleFunc("/connections/{id}/status", conns.Status).Methods(http.MethodGet)
	api.HandleFunc("/connections/{id}/challenge", conns.AnswerChallenge).Methods(http.MethodPost)
	api.HandleFunc("/connections/{id}", conns.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/connections/{id}/oauth-complete", conns.CompleteOAuth).Methods(http.MethodPost)

	api.HandleFunc("/resilience/stats", sessions.Stats).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{connectionId}/heartbeat", sessions.Heartbeat).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{connectionId}/pause", sessions.Pause).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{connectionId}/resume", sessions.Resume).Methods(http.MethodPost)

	return router
}
