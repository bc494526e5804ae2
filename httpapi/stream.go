package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/rustyeddy/vtrader/broker"
)

const (
	EventAccount        = "account"
	EventPositionClosed = "position_closed"

	streamBuffer = 32
	pingInterval = 30 * time.Second
	writeTimeout = 5 * time.Second
)

type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type client struct {
	user string
	ch   chan Event
}

// hub fans facade notifications out to stream clients of the same user.
// A client that falls behind loses events rather than blocking the
// facade.
type hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*client]struct{})}
}

func (h *hub) OnAccountUpdated(s broker.Summary) {
	h.publish(s.UserID, Event{Type: EventAccount, Data: s})
}

func (h *hub) OnPositionClosed(rec broker.TradeRecord) {
	h.publish(rec.UserID, Event{Type: EventPositionClosed, Data: rec})
}

func (h *hub) publish(user string, e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.user != user {
			continue
		}
		select {
		case c.ch <- e:
		default:
			log.Debug().Str("user", user).Str("event", e.Type).Msg("stream client behind, dropping event")
		}
	}
}

func (h *hub) add(user string) *client {
	c := &client{user: user, ch: make(chan Event, streamBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// stream sends the current summary, then every account and close event
// for the user until the client goes away.
func (h *handler) stream(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	s, err := h.d.Facade.AccountSummary(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	c := h.hub.add(user)
	defer h.hub.remove(c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(e Event) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(e) == nil
	}
	if !write(Event{Type: EventAccount, Data: s}) {
		return
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case e := <-c.ch:
			if !write(e) {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
