package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"catersync/internal/model"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 20 * time.Second
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// wsMessage is the single frame shape used in both directions on the
// dispatch socket.
type wsMessage struct {
	Type        string       `json:"type"`
	OrderNumber string       `json:"orderNumber,omitempty"`
	Status      model.Status `json:"status,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	Changed     *bool        `json:"changed,omitempty"`
	Message     string       `json:"message,omitempty"`
	Code        int          `json:"code,omitempty"`
	Event       *FeedEvent   `json:"event,omitempty"`
}

// DispatchWSHandler handles /internal/dispatch/ws. Clients receive every
// status change as an "event" frame and may send "status" frames to drive
// transitions.
func (s *Server) DispatchWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	principal := principalFrom(r.Context())
	log := s.Log.With("subject", principal.Subject)
	log.Info("dispatch socket connected")
	defer log.Info("dispatch socket closed")

	var wmu sync.Mutex
	write := func(v wsMessage) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(v)
	}

	ch := s.Broker.Subscribe(FeedTopic)
	defer s.Broker.Unsubscribe(FeedTopic, ch)

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if err := write(wsMessage{Type: "event", Event: &evt}); err != nil {
					return
				}
			case <-ticker.C:
				wmu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
				wmu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadLimit(maxBodyBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsReadTimeout)) })

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		switch msg.Type {
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "status":
			_ = write(s.applyWSTransition(r.Context(), msg))
		default:
			_ = write(wsMessage{Type: "error", Message: "unknown message type", Code: http.StatusBadRequest})
		}
	}
}

func (s *Server) applyWSTransition(ctx context.Context, msg wsMessage) wsMessage {
	o, changed, err := s.Orders.Transition(ctx, msg.OrderNumber, msg.Status, msg.Reason)
	if err != nil {
		code, title, detail := classify(err)
		if detail == "" {
			detail = title
		}
		return wsMessage{Type: "error", OrderNumber: msg.OrderNumber, Message: detail, Code: code}
	}
	return wsMessage{Type: "ack", OrderNumber: o.OrderNumber, Status: o.Status, Changed: &changed}
}
