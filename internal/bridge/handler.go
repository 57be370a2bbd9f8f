package bridge

import (
	"net/http"

	ws "github.com/coder/websocket"
)

// HandleWebSocket upgrades connections and runs them as hub clients,
// routing inbound messages to the handler.
func HandleWebSocket(hub *Hub, handler Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // same-device clients, origin is not meaningful
		})
		if err != nil {
			hub.logger.Warn().Err(err).Msg("websocket accept")
			return
		}

		client := NewClient(hub, conn, handler)
		client.Run(r.Context())
	}
}
