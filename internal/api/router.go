// Package api - Router setup
package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRouter creates and configures the HTTP router
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(NotFoundHandler)

	r.Use(h.RecoveryMiddleware)
	r.Use(CORSMiddleware)
	r.Use(h.LoggingMiddleware)

	// Public routes
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/ws/jackpots", h.JackpotFeed).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(h.AuthMiddleware)

	// Games
	api.HandleFunc("/games", h.GetGames).Methods("GET")
	api.HandleFunc("/games/{id}", h.GetGame).Methods("GET")

	// Sessions
	api.HandleFunc("/sessions", h.OpenSession).Methods("POST")
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.CloseSession).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/spin", h.Spin).Methods("POST")
	api.HandleFunc("/sessions/{id}/history", h.GetHistory).Methods("GET")

	// Wallet
	api.HandleFunc("/wallet/balance", h.GetBalance).Methods("GET")

	// Jackpots
	api.HandleFunc("/jackpots/{game_id}", h.GetJackpot).Methods("GET")

	// Operator
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(OperatorMiddleware)
	admin.HandleFunc("/status", h.GetStatus).Methods("GET")
	admin.HandleFunc("/gaming/disable", h.DisableGaming).Methods("POST")
	admin.HandleFunc("/gaming/enable", h.EnableGaming).Methods("POST")
	admin.HandleFunc("/games/{id}/disable", h.DisableGame).Methods("POST")
	admin.HandleFunc("/games/{id}/enable", h.EnableGame).Methods("POST")
	admin.HandleFunc("/reconciliation", h.GetReconciliation).Methods("GET")
	admin.HandleFunc("/reconciliation/spins/{id}", h.ReconcileSpin).Methods("POST")
	admin.HandleFunc("/reconciliation/jackpots/{id}", h.ReconcileJackpot).Methods("POST")
	admin.HandleFunc("/rng/health", h.RNGHealth).Methods("GET")

	return r
}

// NotFoundHandler handles 404 errors
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
}
