// Package main runs a dispatch WebSocket client: it prints the order feed
// and can push one status change.
//
//	DISPATCH_JWT_SECRET=... go run ./scripts -order CAT-000001 -status ASSIGNED
package main

import (
	"flag"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"catersync/internal/auth"
)

type wsMessage struct {
	Type        string         `json:"type"`
	OrderNumber string         `json:"orderNumber,omitempty"`
	Status      string         `json:"status,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Changed     *bool          `json:"changed,omitempty"`
	Message     string         `json:"message,omitempty"`
	Code        int            `json:"code,omitempty"`
	Event       map[string]any `json:"event,omitempty"`
}

func main() {
	host := flag.String("host", "localhost:8080", "api host:port")
	order := flag.String("order", "", "order number to transition")
	status := flag.String("status", "", "target status, e.g. ASSIGNED")
	reason := flag.String("reason", "", "cancel reason")
	wait := flag.Duration("wait", 10*time.Second, "how long to listen for feed events")
	flag.Parse()

	secret := os.Getenv("DISPATCH_JWT_SECRET")
	token, err := auth.Issue(secret, "ws-client", auth.RoleDispatch, time.Hour)
	if err != nil {
		log.Fatalf("mint token: %v", err)
	}

	u := url.URL{Scheme: "ws", Host: *host, Path: "/internal/dispatch/ws", RawQuery: url.Values{"access_token": {token}}.Encode()}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			switch m.Type {
			case "event":
				log.Printf("WS <- event %v", m.Event)
			case "ack":
				log.Printf("WS <- ack %s %s changed=%t", m.OrderNumber, m.Status, m.Changed != nil && *m.Changed)
			case "error":
				log.Printf("WS <- error %d %s: %s", m.Code, m.OrderNumber, m.Message)
			default:
				log.Printf("WS <- %s", m.Type)
			}
		}
	}()

	if *order != "" && *status != "" {
		msg := wsMessage{Type: "status", OrderNumber: *order, Status: *status, Reason: *reason}
		if err := c.WriteJSON(msg); err != nil {
			log.Fatal(err)
		}
	}

	select {
	case <-time.After(*wait):
	case <-done:
	}
}
