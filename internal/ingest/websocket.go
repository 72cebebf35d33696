package ingest

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WebSocketHandler accepts a stream of ChunkMessage frames and answers each
// with an Ack frame.
type WebSocketHandler struct {
	sink     Sink
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a handler feeding sink.
func NewWebSocketHandler(sink Sink, log zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		sink: sink,
		log:  log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer ws.Close()

	h.log.Info().Str("remote", r.RemoteAddr).Msg("chunk producer connected")
	defer h.log.Info().Str("remote", r.RemoteAddr).Msg("chunk producer disconnected")

	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}

		var m ChunkMessage
		if err := json.Unmarshal(data, &m); err != nil {
			m.Index = -1
			err = fmt.Errorf("decode chunk message: %w", err)
			if werr := ws.WriteJSON(ack(m.Index, err)); werr != nil {
				return
			}
			continue
		}
		err = Dispatch(h.sink, m)
		if err != nil {
			h.log.Warn().Err(err).Int("index", m.Index).Msg("chunk rejected")
		}
		if werr := ws.WriteJSON(ack(m.Index, err)); werr != nil {
			return
		}
	}
}
