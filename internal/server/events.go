package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hazz-dev/reachprobe/internal/prober"
)

const (
	eventsWriteTimeout = 5 * time.Second
	eventsBuffer       = 16
)

var eventsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

// streamMessage is one frame on /api/events. The first frame carries the
// current state; every later frame carries a transition.
type streamMessage struct {
	Type  string        `json:"type"`
	State *prober.State `json:"state,omitempty"`
	Event *prober.Event `json:"event,omitempty"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := eventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.serveEvents(conn)
}

func (s *Server) serveEvents(conn *websocket.Conn) {
	defer conn.Close()

	events := make(chan prober.Event, eventsBuffer)
	unsubscribe := s.prober.Subscribe(func(ev prober.Event) {
		// Never block the prober on a slow client.
		select {
		case events <- ev:
		default:
			s.logger.Warn("dropping event for slow websocket client", "event", ev.Kind)
		}
	})
	defer unsubscribe()

	st := s.prober.State()
	if err := writeStream(conn, streamMessage{Type: "state", State: &st}); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-events:
			if err := writeStream(conn, streamMessage{Type: "transition", Event: &ev}); err != nil {
				return
			}
		case <-done:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func writeStream(conn *websocket.Conn, msg streamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteTimeout))
	return conn.WriteJSON(msg)
}
