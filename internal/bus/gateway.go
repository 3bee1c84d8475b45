// Package bus connects the collector to the EMS bus adapter, either through
// a local serial device or a TCP tunnel, and converts between the raw byte
// stream and parsed telegrams.
package bus

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/pilinski/ems-collector/internal/ems"
)

// watchdogInterval is the maximum silence tolerated on the bus before the
// transport is torn down for a reconnect. The EMS bus broadcasts monitor
// telegrams every few seconds, so two minutes of silence means the adapter
// link is dead.
const watchdogInterval = 2 * time.Minute

// telegramBreak terminates every telegram on the adapter link.
const telegramBreak = 0x00

// maxTelegramSize bounds the resync buffer; EMS telegrams stay well below
// this.
const maxTelegramSize = 64

// Transport is a byte-stream link to the bus adapter.
type Transport interface {
	io.ReadWriteCloser
	Name() string
}

// Sink receives every telegram the gateway decodes.
type Sink func(*ems.Message)

// Gateway owns the transport, frames the inbound byte stream into telegrams,
// and serializes outbound writes.
type Gateway struct {
	tr   Transport
	sink Sink

	writeMu  sync.Mutex
	mu       sync.Mutex
	watchdog *time.Timer
	closed   bool
}

// NewGateway wraps tr; decoded telegrams are delivered to sink.
func NewGateway(tr Transport, sink Sink) *Gateway {
	return &Gateway{tr: tr, sink: sink}
}

// Send encodes and writes one telegram.
func (g *Gateway) Send(msg *ems.Message) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	raw := append(msg.Encode(), telegramBreak)
	if _, err := g.tr.Write(raw); err != nil {
		return fmt.Errorf("bus: write to %s: %w", g.tr.Name(), err)
	}
	return nil
}

// Run reads the transport until it fails or Close is called. Telegrams with
// a bad checksum are dropped; the break byte resynchronizes the stream.
func (g *Gateway) Run() error {
	g.resetWatchdog()
	defer g.stopWatchdog()

	reader := bufio.NewReader(g.tr)
	buf := make([]byte, 0, maxTelegramSize)

	for {
		b, err := reader.ReadByte()
		if err != nil {
			g.mu.Lock()
			closed := g.closed
			g.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("bus: read from %s: %w", g.tr.Name(), err)
		}
		g.resetWatchdog()

		if b != telegramBreak {
			if len(buf) < maxTelegramSize {
				buf = append(buf, b)
			}
			continue
		}
		if len(buf) == 0 {
			continue
		}
		msg, err := ems.Decode(buf)
		buf = buf[:0]
		if err != nil {
			log.Printf("[bus] dropping telegram: %v", err)
			continue
		}
		if g.sink != nil {
			g.sink(msg)
		}
	}
}

// Close tears down the transport; a blocked Run returns nil.
func (g *Gateway) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.mu.Unlock()
	g.tr.Close()
}

func (g *Gateway) resetWatchdog() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	if g.watchdog == nil {
		g.watchdog = time.AfterFunc(watchdogInterval, func() {
			log.Printf("[bus] no traffic on %s for %v, closing for reconnect", g.tr.Name(), watchdogInterval)
			g.tr.Close()
		})
		return
	}
	g.watchdog.Stop()
	g.watchdog.Reset(watchdogInterval)
}

func (g *Gateway) stopWatchdog() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.watchdog != nil {
		g.watchdog.Stop()
		g.watchdog = nil
	}
}
