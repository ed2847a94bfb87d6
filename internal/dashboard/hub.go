package dashboard

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/marketstructure/sdfib-analyzer/pkg/types"
)

const (
	sendBufferSize = 256
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 512 * 1024
)

// subscribeMessage is the only inbound message a client can send: a
// subscription/unsubscription to a (symbol, timeframe) channel name.
type subscribeMessage struct {
	Method  string `json:"method"`
	Channel string `json:"channel"`
}

func channelName(symbol string, tf types.Timeframe) string {
	return symbol + "|" + string(tf)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{ID: uuid.New().String(), Conn: conn, Send: make(chan []byte, sendBufferSize)}
	s.mu.Lock()
	s.clients[client.ID] = client
	s.mu.Unlock()

	s.logger.Info("dashboard client connected", zap.String("id", client.ID))

	go s.writePump(client)
	go s.readPump(client)
}

func (s *Server) readPump(client *Client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.ID)
		s.mu.Unlock()
		client.Conn.Close()
		s.logger.Info("dashboard client disconnected", zap.String("id", client.ID))
	}()

	client.Conn.SetReadLimit(maxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		var msg subscribeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("invalid websocket message", zap.Error(err))
			continue
		}
		// Subscriptions are currently advisory only: every delta is
		// broadcast to every connected client, filtered client-side.
		// Kept as a typed no-op handler so the wire protocol has a place
		// to grow per-channel filtering without a breaking change.
	}
}

func (s *Server) writePump(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// relayDeltas fans every analyzer delta out to connected clients,
// best-effort: a client whose send buffer is full has the delta dropped.
func (s *Server) relayDeltas() {
	for delta := range s.deltaCh {
		data, err := json.Marshal(delta)
		if err != nil {
			continue
		}
		s.mu.RLock()
		for id, client := range s.clients {
			select {
			case client.Send <- data:
			default:
				s.logger.Warn("dropping delta for slow dashboard client", zap.String("id", id))
			}
		}
		s.mu.RUnlock()
	}
}
