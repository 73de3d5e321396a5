package httpserver

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/linkforty/linkforty/internal/eventbus"
	"go.uber.org/zap"
)

const (
	liveWriteTimeout = 10 * time.Second
	livePingInterval = 30 * time.Second
)

var liveUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The debug stream carries no credentials and no mutations.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleLiveStream streams click events over a websocket, optionally
// filtered by owner_id and link_id query parameters.
func (s *Server) handleLiveStream(w http.ResponseWriter, r *http.Request) {
	filter, err := liveFilter(r)
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := liveUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// The bus serializes callbacks per subscriber, so writes to the
	// connection never race. The ping loop uses the websocket write lock
	// via WriteControl.
	cancel := s.bus.Subscribe(filter, func(ev eventbus.ClickStreamEvent) {
		conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			s.logger.Debug("live stream write failed, closing", zap.Error(err))
			conn.Close()
		}
	})
	defer cancel()

	s.logger.Info("live stream subscriber connected",
		zap.String("remote_addr", r.RemoteAddr))

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Drain control and client frames; exit on close or error.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(livePingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			s.logger.Info("live stream subscriber disconnected",
				zap.String("remote_addr", r.RemoteAddr))
			return
		case <-ticker.C:
			deadline := time.Now().Add(liveWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func liveFilter(r *http.Request) (eventbus.Filter, error) {
	var filter eventbus.Filter

	if raw := r.URL.Query().Get("owner_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, errInvalidFilter("owner_id")
		}
		filter.OwnerID = &id
	}
	if raw := r.URL.Query().Get("link_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, errInvalidFilter("link_id")
		}
		filter.LinkID = &id
	}
	return filter, nil
}

type errInvalidFilter string

func (e errInvalidFilter) Error() string { return "invalid " + string(e) + " filter" }
