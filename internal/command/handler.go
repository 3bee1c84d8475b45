// Package command implements the control port: a line-oriented TCP protocol
// that translates operator commands into EMS bus requests, correlates the
// asynchronously arriving replies, and streams formatted responses back to
// the originating client.
package command

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/pilinski/ems-collector/internal/ems"
)

// minRequestGap is the minimum spacing between consecutive telegrams sent to
// the same destination; the bus is half-duplex and peers drop back-to-back
// requests.
const minRequestGap = 100 * time.Millisecond

// Sender hands telegrams to the bus gateway.
type Sender interface {
	Send(*ems.Message) error
}

// Handler accepts control connections and owns the shared send path toward
// the bus: per-destination pacing and the last-communication bookkeeping that
// drives it. Every PC-directed bus message is fanned out to all live
// connections; each connection decides whether the message belongs to it.
type Handler struct {
	gw Sender
	ln net.Listener

	mu        sync.Mutex
	conns     map[*Connection]struct{}
	lastComm  map[ems.Address]time.Time
	sendTimer *time.Timer
	closed    bool

	now func() time.Time
}

// NewHandler creates a Handler sending through gw.
func NewHandler(gw Sender) *Handler {
	return &Handler{
		gw:       gw,
		conns:    make(map[*Connection]struct{}),
		lastComm: make(map[ems.Address]time.Time),
		now:      time.Now,
	}
}

// ListenAndServe binds the control port and accepts connections until Close.
func (h *Handler) ListenAndServe(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("command: listen: %w", err)
	}
	log.Printf("[command] listening on %s", ln.Addr())
	h.Serve(ln)
	return nil
}

// Serve accepts control connections on ln until Close.
func (h *Handler) Serve(ln net.Listener) {
	h.mu.Lock()
	h.ln = ln
	h.mu.Unlock()
	h.acceptLoop(ln)
}

func (h *Handler) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			h.mu.Lock()
			closed := h.closed
			h.mu.Unlock()
			if !closed {
				log.Printf("[command] accept error: %v", err)
			}
			return
		}
		c := newConnection(h, conn)
		h.mu.Lock()
		h.conns[c] = struct{}{}
		n := len(h.conns)
		h.mu.Unlock()
		log.Printf("[command] client %s connected (%d total)", conn.RemoteAddr(), n)
		go c.run()
	}
}

// HandleBusMessage is invoked by the gateway for every inbound telegram. It
// records peer activity for pacing and routes PC-directed messages to every
// session.
func (h *Handler) HandleBusMessage(msg *ems.Message) {
	h.mu.Lock()
	h.lastComm[msg.Source] = h.now()
	var conns []*Connection
	if msg.Destination == ems.AddrPC {
		conns = make([]*Connection, 0, len(h.conns))
		for c := range h.conns {
			conns = append(conns, c)
		}
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.handleBusMessage(msg)
	}
}

// Send queues msg toward the bus, deferring it when the destination has seen
// traffic within minRequestGap. At most one deferred send is pending at a
// time: a new deferral stops the timer of a still-pending one, and that
// earlier frame is not sent. Each session keeps one request in flight, but
// sends from different sessions are not coordinated.
func (h *Handler) Send(msg *ems.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if last, ok := h.lastComm[msg.Destination]; ok {
		if wait := minRequestGap - h.now().Sub(last); wait > 0 {
			if h.sendTimer != nil {
				h.sendTimer.Stop()
			}
			h.sendTimer = time.AfterFunc(wait, func() { h.doSend(msg) })
			return
		}
	}
	h.doSendLocked(msg)
}

func (h *Handler) doSend(msg *ems.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.doSendLocked(msg)
}

func (h *Handler) doSendLocked(msg *ems.Message) {
	if err := h.gw.Send(msg); err != nil {
		log.Printf("[command] bus send failed: %v", err)
	}
	h.lastComm[msg.Destination] = h.now()
}

func (h *Handler) removeConnection(c *Connection) {
	h.mu.Lock()
	delete(h.conns, c)
	n := len(h.conns)
	closed := h.closed
	h.mu.Unlock()
	if !closed {
		log.Printf("[command] client disconnected (%d total)", n)
	}
}

// Close tears down the listener, all sessions, and any pending deferred send.
func (h *Handler) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	ln := h.ln
	if h.sendTimer != nil {
		h.sendTimer.Stop()
	}
	conns := make([]*Connection, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, c := range conns {
		c.close()
	}
}
