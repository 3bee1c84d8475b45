// Package monitor exposes a websocket endpoint that streams every decoded
// bus telegram and sensor update to connected diagnostic clients.
package monitor

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pilinski/ems-collector/internal/datalog"
	"github.com/pilinski/ems-collector/internal/ems"
)

// Event is the JSON structure sent to monitor clients.
type Event struct {
	Kind     string            `json:"kind"` // "frame" or "values"
	Stamp    int64             `json:"stamp"`
	Source   string            `json:"source,omitempty"`
	Dest     string            `json:"dest,omitempty"`
	Type     uint8             `json:"type,omitempty"`
	Data     string            `json:"data,omitempty"` // hex
	Readings []datalog.Reading `json:"readings,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Monitor broadcasts bus activity to websocket clients. Slow clients are
// skipped rather than allowed to stall the bus path.
type Monitor struct {
	cache    *datalog.Cache
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// New creates a Monitor; cache provides the value snapshot sent to clients
// on connect.
func New(cache *datalog.Cache) *Monitor {
	return &Monitor{
		cache: cache,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// ListenAndServe runs the monitor HTTP server until ctx is cancelled.
func (m *Monitor) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", m.handleWS)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[monitor] listening on %s", addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (m *Monitor) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[monitor] upgrade error: %v", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 64)}

	m.mu.Lock()
	m.clients[client] = struct{}{}
	n := len(m.clients)
	m.mu.Unlock()
	log.Printf("[monitor] client connected (%d total)", n)

	if snapshot := m.cache.Snapshot(); len(snapshot) > 0 {
		if data, err := json.Marshal(Event{
			Kind:     "values",
			Stamp:    time.Now().UnixMilli(),
			Readings: snapshot,
		}); err == nil {
			client.send <- data
		}
	}

	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.clients, client)
			n := len(m.clients)
			m.mu.Unlock()
			close(client.send)
			log.Printf("[monitor] client disconnected (%d total)", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// BroadcastFrame pushes one decoded telegram to all clients.
func (m *Monitor) BroadcastFrame(msg *ems.Message) {
	m.broadcast(Event{
		Kind:   "frame",
		Stamp:  time.Now().UnixMilli(),
		Source: ems.PeerName(msg.Source),
		Dest:   ems.PeerName(msg.Destination),
		Type:   msg.Type,
		Data:   hex.EncodeToString(msg.Data),
	})
}

// BroadcastReadings pushes changed sensor values to all clients.
func (m *Monitor) BroadcastReadings(rs []datalog.Reading) {
	if len(rs) == 0 {
		return
	}
	m.broadcast(Event{
		Kind:     "values",
		Stamp:    time.Now().UnixMilli(),
		Readings: rs,
	})
}

func (m *Monitor) broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for client := range m.clients {
		select {
		case client.send <- data:
		default:
			// client too slow, skip
		}
	}
}
