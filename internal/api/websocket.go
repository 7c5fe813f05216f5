// Package api - WebSocket feed of jackpot meters
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/alexbotov/slotengine/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// meters are public
		return true
	},
}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string              `json:"type"`
	Payload jsoniter.RawMessage `json:"payload,omitempty"`
}

// meter is one jackpot value pushed to clients
type meter struct {
	GameID    string          `json:"game_id"`
	JackpotID string          `json:"jackpot_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	At        time.Time       `json:"at"`
}

// JackpotFeed handles GET /ws/jackpots[?game_id=...].
// A snapshot of the current meters is sent first, then every update and win.
func (h *Handler) JackpotFeed(w http.ResponseWriter, r *http.Request) {
	gameID := r.URL.Query().Get("game_id")
	if gameID != "" {
		if _, err := h.engine.Jackpot(r.Context(), gameID); err != nil {
			h.respondErr(w, r, err)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// subscribe before the snapshot so no update falls in between
	feed, cancel := h.engine.Subscribe(64)
	defer cancel()

	pools, err := h.engine.Jackpots(r.Context())
	if err != nil {
		h.log.Error("jackpot snapshot failed", zap.Error(err))
		return
	}
	snapshot := make([]meter, 0, len(pools))
	for _, j := range pools {
		if gameID == "" || j.GameID == gameID {
			snapshot = append(snapshot, meter{
				GameID:    j.GameID,
				JackpotID: j.ID,
				Amount:    j.Amount,
				Currency:  j.Currency,
				At:        j.UpdatedAt,
			})
		}
	}
	if err := writeMessage(conn, "snapshot", snapshot); err != nil {
		return
	}

	closed := make(chan struct{})
	go readPump(conn, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-feed:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if e.Type == events.TypeAlert || (gameID != "" && e.GameID != gameID) {
				continue
			}
			m := meter{GameID: e.GameID, JackpotID: e.JackpotID, Amount: e.Amount, Currency: e.Currency, At: e.At}
			if err := writeMessage(conn, string(e.Type), m); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// readPump discards client frames and signals when the peer goes away
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeMessage(conn *websocket.Conn, msgType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(WSMessage{Type: msgType, Payload: body})
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, msg)
}
