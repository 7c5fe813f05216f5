// Package api provides the HTTP API of the slot engine
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/alexbotov/slotengine/internal/auth"
	"github.com/alexbotov/slotengine/internal/control"
	"github.com/alexbotov/slotengine/internal/domain"
	"github.com/alexbotov/slotengine/internal/engine"
	"github.com/alexbotov/slotengine/internal/game"
	"github.com/alexbotov/slotengine/internal/jackpot"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handler contains all HTTP handlers
type Handler struct {
	engine   *engine.Engine
	control  *control.Service
	verifier *auth.Verifier
	log      *zap.Logger
}

// New creates a new API handler
func New(eng *engine.Engine, ctl *control.Service, verifier *auth.Verifier, log *zap.Logger) *Handler {
	return &Handler{
		engine:   eng,
		control:  ctl,
		verifier: verifier,
		log:      log.Named("api"),
	}
}

// Response helpers

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
	})
}

// errorStatus maps domain errors to an HTTP status and error code
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrSessionNotFound):
		return http.StatusNotFound, "SESSION_NOT_FOUND"
	case errors.Is(err, engine.ErrSpinNotFound):
		return http.StatusNotFound, "SPIN_NOT_FOUND"
	case errors.Is(err, game.ErrGameNotFound):
		return http.StatusNotFound, "GAME_NOT_FOUND"
	case errors.Is(err, jackpot.ErrNoJackpot):
		return http.StatusNotFound, "JACKPOT_NOT_FOUND"
	case errors.Is(err, jackpot.ErrAwardNotFound):
		return http.StatusNotFound, "AWARD_NOT_FOUND"
	case errors.Is(err, engine.ErrInvalidConfig):
		return http.StatusBadRequest, "INVALID_GAME"
	case errors.Is(err, engine.ErrBetOutOfRange):
		return http.StatusBadRequest, "INVALID_BET"
	case errors.Is(err, engine.ErrInsufficientBalance):
		return http.StatusBadRequest, "INSUFFICIENT_BALANCE"
	case errors.Is(err, engine.ErrSessionClosed):
		return http.StatusConflict, "SESSION_CLOSED"
	case errors.Is(err, engine.ErrSpinInProgress):
		return http.StatusConflict, "SPIN_IN_PROGRESS"
	case errors.Is(err, engine.ErrNotPending):
		return http.StatusConflict, "NOT_PENDING"
	case errors.Is(err, engine.ErrGamingDisabled):
		return http.StatusForbidden, "GAMING_DISABLED"
	case errors.Is(err, engine.ErrGameDisabled):
		return http.StatusForbidden, "GAME_DISABLED"
	case errors.Is(err, engine.ErrJackpotAwardUnconfirmed):
		return http.StatusBadGateway, "JACKPOT_AWARD_UNCONFIRMED"
	case errors.Is(err, engine.ErrCreditUnconfirmed):
		return http.StatusBadGateway, "CREDIT_UNCONFIRMED"
	case errors.Is(err, engine.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable, "LEDGER_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		if status == http.StatusInternalServerError {
			respondError(w, status, code, "Internal server error")
			return
		}
	}
	respondError(w, status, code, err.Error())
}

func queryLimit(r *http.Request, def, max int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= max {
			return n
		}
	}
	return def
}

// === Health ===

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"gaming_enabled": h.control.IsGamingEnabled(),
	})
}

// === Games ===

type gameView struct {
	ID         string                      `json:"id"`
	Name       string                      `json:"name"`
	Reels      int                         `json:"reels"`
	Rows       int                         `json:"rows"`
	RTP        float64                     `json:"rtp"`
	Volatility domain.Volatility           `json:"volatility"`
	Bets       map[string]domain.BetLimits `json:"bets"`
	Jackpot    bool                        `json:"jackpot"`
	Enabled    bool                        `json:"enabled"`
}

func (h *Handler) viewGame(g *domain.GameConfig) gameView {
	return gameView{
		ID:         g.ID,
		Name:       g.Name,
		Reels:      g.Reels,
		Rows:       g.Rows,
		RTP:        g.RTP,
		Volatility: g.Volatility,
		Bets:       g.Bets,
		Jackpot:    g.Jackpot.Enabled(),
		Enabled:    h.control.IsGameEnabled(g.ID),
	}
}

// GetGames handles GET /api/v1/games
func (h *Handler) GetGames(w http.ResponseWriter, r *http.Request) {
	games := h.engine.Games()
	list := make([]gameView, len(games))
	for i, g := range games {
		list[i] = h.viewGame(g)
	}
	respondJSON(w, http.StatusOK, list)
}

// GetGame handles GET /api/v1/games/{id}
func (h *Handler) GetGame(w http.ResponseWriter, r *http.Request) {
	g, err := h.engine.Game(mux.Vars(r)["id"])
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.viewGame(g))
}

// === Sessions ===

// ownedSession loads the session in the path and checks it belongs to the caller
func (h *Handler) ownedSession(w http.ResponseWriter, r *http.Request) (*domain.Session, bool) {
	sess, err := h.engine.Session(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondErr(w, r, err)
		return nil, false
	}
	id := identityFrom(r)
	if sess.PlayerID != id.PlayerID && !id.IsOperator() {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "Session belongs to another player")
		return nil, false
	}
	return sess, true
}

// OpenSession handles POST /api/v1/sessions
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GameID   string `json:"game_id"`
		Currency string `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if req.Currency == "" {
		g, err := h.engine.Game(req.GameID)
		if err != nil {
			h.respondErr(w, r, err)
			return
		}
		if cs := g.Currencies(); len(cs) == 1 {
			req.Currency = cs[0]
		} else {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "currency is required")
			return
		}
	}

	sess, err := h.engine.OpenSession(r.Context(), req.GameID, identityFrom(r).PlayerID, req.Currency)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

// GetSession handles GET /api/v1/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// pendingUnrecorded marks a settled spin whose record could not be stored
const pendingUnrecorded = "spin_unrecorded"

// spinResponse adds the pending reconciliation state to a spin result
type spinResponse struct {
	*domain.SpinResult
	Pending string `json:"pending,omitempty"`
}

// Spin handles POST /api/v1/sessions/{id}/spin
func (h *Handler) Spin(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	var req struct {
		Bet int64 `json:"bet"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	res, err := h.engine.Spin(r.Context(), sess.ID, req.Bet)
	var rerr *engine.ReconciliationError
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, spinResponse{SpinResult: res})
	case res != nil && errors.As(err, &rerr):
		// the outcome stands; the money movement awaits an operator
		pending := string(domain.SpinCreditPending)
		switch {
		case errors.Is(err, engine.ErrSpinNotRecorded):
			pending = pendingUnrecorded
		case errors.Is(err, engine.ErrJackpotAwardUnconfirmed):
			pending = string(domain.SpinJackpotPending)
		}
		h.log.Warn("spin settled with pending reconciliation",
			zap.String("spin_id", rerr.SpinID),
			zap.String("session_id", rerr.SessionID),
			zap.Int64("amount", rerr.Amount),
			zap.String("pending", pending))
		respondJSON(w, http.StatusAccepted, spinResponse{SpinResult: res, Pending: pending})
	default:
		h.respondErr(w, r, err)
	}
}

// CloseSession handles DELETE /api/v1/sessions/{id}
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	closed, err := h.engine.CloseSession(r.Context(), sess.ID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, closed)
}

// GetHistory handles GET /api/v1/sessions/{id}/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	spins, err := h.engine.History(r.Context(), sess.ID, queryLimit(r, 20, 100))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	if spins == nil {
		spins = []*domain.SpinRecord{}
	}
	respondJSON(w, http.StatusOK, spins)
}

// === Wallet ===

// GetBalance handles GET /api/v1/wallet/balance?currency=GC
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	currency := r.URL.Query().Get("currency")
	if currency == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "currency is required")
		return
	}
	playerID := identityFrom(r).PlayerID
	balance, err := h.engine.Balance(r.Context(), playerID, currency)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"player_id": playerID,
		"currency":  currency,
		"balance":   balance,
	})
}

// === Jackpots ===

// GetJackpot handles GET /api/v1/jackpots/{game_id}
func (h *Handler) GetJackpot(w http.ResponseWriter, r *http.Request) {
	j, err := h.engine.Jackpot(r.Context(), mux.Vars(r)["game_id"])
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"game_id":     j.GameID,
		"type":        j.Type,
		"amount":      j.Amount,
		"payable":     j.Payable(),
		"currency":    j.Currency,
		"min_bet":     j.MinBet,
		"last_won_at": j.LastWonAt,
	})
}

// === Operator ===

func decodeReason(r *http.Request) string {
	var req struct {
		Reason string `json:"reason"`
	}
	// body is optional
	json.NewDecoder(r.Body).Decode(&req)
	return req.Reason
}

// GetStatus handles GET /api/v1/admin/status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.control.Status())
}

// DisableGaming handles POST /api/v1/admin/gaming/disable
func (h *Handler) DisableGaming(w http.ResponseWriter, r *http.Request) {
	if err := h.control.DisableAllGaming(r.Context(), decodeReason(r), identityFrom(r).PlayerID); err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.control.Status())
}

// EnableGaming handles POST /api/v1/admin/gaming/enable
func (h *Handler) EnableGaming(w http.ResponseWriter, r *http.Request) {
	if err := h.control.EnableAllGaming(r.Context(), identityFrom(r).PlayerID); err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.control.Status())
}

// DisableGame handles POST /api/v1/admin/games/{id}/disable
func (h *Handler) DisableGame(w http.ResponseWriter, r *http.Request) {
	g, err := h.engine.Game(mux.Vars(r)["id"])
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	if err := h.control.DisableGame(r.Context(), g.ID, decodeReason(r), identityFrom(r).PlayerID); err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.viewGame(g))
}

// EnableGame handles POST /api/v1/admin/games/{id}/enable
func (h *Handler) EnableGame(w http.ResponseWriter, r *http.Request) {
	g, err := h.engine.Game(mux.Vars(r)["id"])
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	if err := h.control.EnableGame(r.Context(), g.ID, identityFrom(r).PlayerID); err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.viewGame(g))
}

// GetReconciliation handles GET /api/v1/admin/reconciliation
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.PendingReconciliation(r.Context())
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// ReconcileSpin handles POST /api/v1/admin/reconciliation/spins/{id}
func (h *Handler) ReconcileSpin(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.ReconcileCredit(r.Context(), mux.Vars(r)["id"], identityFrom(r).PlayerID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// ReconcileJackpot handles POST /api/v1/admin/reconciliation/jackpots/{id}
func (h *Handler) ReconcileJackpot(w http.ResponseWriter, r *http.Request) {
	win, err := h.engine.ReconcileJackpot(r.Context(), mux.Vars(r)["id"], identityFrom(r).PlayerID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, win)
}

// RNGHealth handles GET /api/v1/admin/rng/health
func (h *Handler) RNGHealth(w http.ResponseWriter, r *http.Request) {
	res := h.engine.RNGHealth(r.Context())
	status := http.StatusOK
	if !res.Healthy {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{Success: res.Healthy, Data: res})
}
