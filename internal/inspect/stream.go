package inspect

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// handleStream upgrades to a websocket and pushes a StatisticsView every
// push interval until the client goes away or the server stops.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.logger.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	// The read side only watches for the close handshake.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.PushInterval)
	defer ticker.Stop()

	s.logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("Stream opened")
	for {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(statisticsView(s.prof.Statistics())); err != nil {
			s.logger.Debug().Err(err).Msg("Stream write failed")
			return
		}

		select {
		case <-gone:
			s.logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("Stream closed by client")
			return
		case <-s.quit:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		case <-ticker.C:
		}
	}
}
