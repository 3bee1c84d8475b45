package command

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pilinski/ems-collector/internal/ems"
)

// responseTimeout is how long a session waits for the next reply telegram
// after handing a request to the dispatcher. Every continuation re-arms it.
const responseTimeout = 2 * time.Second

// versionProbeOrder is the fixed peer sequence walked by getversion.
var versionProbeOrder = []ems.Address{ems.AddrUBA, ems.AddrBC10, ems.AddrRC}

// Connection is one control-port session. It owns at most one outstanding
// logical bus request at a time; while that request is live every further
// command line is rejected with ERRBUSY. Reply telegrams are appended to the
// response buffer and drained via the offset+length continuation protocol
// until the logical payload is complete.
type Connection struct {
	h    *Handler
	conn net.Conn

	mu sync.Mutex
	w  io.Writer // response sink; conn in production

	closed             bool
	waitingForResponse bool
	responseTimer      *time.Timer
	timeoutSeq         uint64
	timeout            time.Duration

	// outstanding request
	reqDestination  ems.Address
	reqType         uint8
	reqOffset       int
	reqLength       int
	response        []byte
	parsePosition   int
	responseCounter int
}

func newConnection(h *Handler, conn net.Conn) *Connection {
	return &Connection{h: h, conn: conn, w: conn, timeout: responseTimeout}
}

// run reads command lines until the client disconnects. Lines are processed
// in arrival order; a session never interleaves two commands.
func (c *Connection) run() {
	defer func() {
		c.close()
		c.h.removeConnection(c)
	}()

	scanner := bufio.NewScanner(c.conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if c.handleLine(line) {
			return
		}
	}
}

// handleLine processes one complete command line. It returns true when the
// session asked to terminate.
func (c *Connection) handleLine(line string) (quit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	if c.waitingForResponse {
		c.respond("ERRBUSY")
		return false
	}

	tokens := strings.Fields(line)
	if tokens[0] == "close" {
		return true
	}
	switch c.handleCommand(tokens) {
	case resultOK:
	case resultInvalidCmd:
		c.respond("ERRCMD")
	case resultInvalidArgs:
		c.respond("ERRARGS")
	}
	return false
}

// respond writes one response line. Callers hold c.mu.
func (c *Connection) respond(line string) {
	if c.closed {
		return
	}
	if _, err := c.w.Write([]byte(line + "\n")); err != nil {
		c.teardownLocked()
	}
}

func (c *Connection) respondf(format string, args ...any) {
	c.respond(fmt.Sprintf(format, args...))
}

// handleBusMessage is invoked for every PC-directed telegram the bus
// delivers. A session without an outstanding request ignores the traffic;
// the rest of the logic classifies the telegram as terminator, continuation
// chunk, or completed reply.
func (c *Connection) handleBusMessage(msg *ems.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.waitingForResponse {
		return
	}

	data := msg.Data

	if msg.Type == 0xff {
		c.waitingForResponse = false
		c.cancelTimeout()
		if len(data) > 0 && data[0] == 0x04 {
			c.respond("FAIL")
		} else {
			c.respond("OK")
		}
		return
	}

	c.cancelTimeout()
	if len(data) > 1 {
		// leading byte echoes the addressed offset
		c.response = append(c.response, data[1:]...)
	}

	done := false

	switch msg.Type {
	case 0x02:
		done = c.handleVersionReply(msg)

	case 0x10, 0x11, 0x12, 0x13:
		prefix := "B"
		switch msg.Type {
		case 0x12:
			prefix = "S"
		case 0x11:
			prefix = "L"
		}
		exhausted := c.emitErrorRecords(prefix)
		if !exhausted {
			exhausted = !c.continueRequest()
		}
		if exhausted {
			if msg.Type == 0x10 || msg.Type == 0x12 {
				// the short-form log chains into the long-form one,
				// keeping the record numbering
				c.respond("OK")
				count := 5
				if msg.Type == 0x12 {
					count = 4
				}
				c.startRequest(msg.Source, msg.Type+1, 0, count*ems.ErrorRecordSize, false)
			} else {
				done = true
			}
		}

	case 0x3f, 0x49, 0x53, 0x5d:
		if c.reqOffset > 80 {
			// requests addressed past the schedule area read the
			// holiday/vacation date pair
			if len(c.response) >= 2*ems.HolidayEntrySize {
				begin := ems.ParseHolidayEntry(c.response[0:])
				end := ems.ParseHolidayEntry(c.response[ems.HolidayEntrySize:])
				c.respond(begin.Format("BEGIN"))
				c.respond(end.Format("END"))
				done = true
			} else {
				c.waitingForResponse = false
				c.respond("FAIL")
				return
			}
		} else {
			done = c.emitScheduleEntries()
			if !done {
				done = !c.continueRequest()
			}
		}

	case 0x38, 0x39:
		done = c.emitScheduleEntries()
		if !done {
			done = !c.continueRequest()
		}

	case 0xa4:
		// an RC30 answers with just the echoed offset byte; treat that
		// as "feature absent" and finish with an empty body
		done = len(data) == 1 || !c.continueRequest()
		if done {
			for i := 0; i < len(c.response); i += contactLineWidth {
				end := i + contactLineWidth
				if end > len(c.response) {
					end = len(c.response)
				}
				line := c.response[i:end]
				if nul := bytes.IndexByte(line, 0); nul >= 0 {
					line = line[:nul]
				}
				c.respond(string(line))
			}
		}
	}

	if done {
		c.waitingForResponse = false
		c.respond("OK")
	}
}

// handleVersionReply emits the version line for the answering peer and
// chain-starts the next peer in the fixed probe order. Reports done after
// the last peer answered.
func (c *Connection) handleVersionReply(msg *ems.Message) bool {
	if len(msg.Data) >= 4 {
		for i, addr := range versionProbeOrder {
			if msg.Source != addr {
				continue
			}
			major, minor := msg.Data[2], msg.Data[3]
			c.respondf("%s version: %d.%02d", ems.PeerName(addr), major, minor)
			if i < len(versionProbeOrder)-1 {
				c.startRequest(versionProbeOrder[i+1], 0x02, 0, 3, true)
				return false
			}
			return true
		}
	}
	return true
}

// emitErrorRecords renders complete error records from the parse cursor
// onward. An empty slot terminates the log; the counter advances for every
// consumed record so chained reads keep their numbering.
func (c *Connection) emitErrorRecords(prefix string) bool {
	for c.parsePosition+ems.ErrorRecordSize <= len(c.response) {
		rec := ems.ParseErrorRecord(c.response[c.parsePosition:])
		c.parsePosition += ems.ErrorRecordSize
		c.responseCounter++
		line := rec.Format()
		if line == "" {
			return true
		}
		c.respondf("%s%02d %s", prefix, c.responseCounter, line)
	}
	return false
}

// emitScheduleEntries renders complete schedule entries from the parse
// cursor onward. An unset entry marks end-of-valid-entries.
func (c *Connection) emitScheduleEntries() bool {
	for c.parsePosition+ems.ScheduleEntrySize <= len(c.response) {
		entry := ems.ParseScheduleEntry(c.response[c.parsePosition:])
		c.parsePosition += ems.ScheduleEntrySize
		c.responseCounter++
		line := entry.Format()
		if line == "" {
			return true
		}
		c.respondf("%02d %s", c.responseCounter, line)
	}
	return false
}

// startRequest arms the outstanding request and issues its first read. When
// newSequence is false the response counter carries over, so chained reads
// (long-form error logs) continue the numbering of the short form.
func (c *Connection) startRequest(dest ems.Address, typ uint8, offset, length int, newSequence bool) {
	c.reqDestination = dest
	c.reqType = typ
	c.reqOffset = offset
	c.reqLength = length
	c.response = c.response[:0]
	c.parsePosition = 0
	if newSequence {
		c.responseCounter = 0
	}
	c.continueRequest()
}

// continueRequest issues the next windowed read of the outstanding request.
// It returns false once the buffer covers the full requested length.
func (c *Connection) continueRequest() bool {
	received := len(c.response)
	if received >= c.reqLength {
		return false
	}
	remaining := byte(c.reqLength - received)
	c.sendCommand(c.reqDestination, c.reqType, byte(c.reqOffset+received), []byte{remaining})
	return true
}

// sendCommand frames and dispatches one telegram, arming the response
// timeout. The offset byte leads the payload on the wire.
func (c *Connection) sendCommand(dest ems.Address, typ uint8, offset byte, data []byte) {
	payload := make([]byte, 0, 1+len(data))
	payload = append(payload, offset)
	payload = append(payload, data...)

	c.scheduleResponseTimeout()
	c.h.Send(ems.NewMessage(dest, typ, payload, true))
}

func (c *Connection) scheduleResponseTimeout() {
	c.waitingForResponse = true
	if c.responseTimer != nil {
		c.responseTimer.Stop()
	}
	c.timeoutSeq++
	seq := c.timeoutSeq
	c.responseTimer = time.AfterFunc(c.timeout, func() { c.onResponseTimeout(seq) })
}

func (c *Connection) cancelTimeout() {
	if c.responseTimer != nil {
		c.responseTimer.Stop()
		c.responseTimer = nil
	}
	c.timeoutSeq++
}

func (c *Connection) onResponseTimeout(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || seq != c.timeoutSeq || !c.waitingForResponse {
		return
	}
	c.waitingForResponse = false
	c.respond("ERRTIMEOUT")
}

func (c *Connection) close() {
	c.mu.Lock()
	c.teardownLocked()
	c.mu.Unlock()
}

func (c *Connection) teardownLocked() {
	if c.closed {
		return
	}
	c.closed = true
	c.waitingForResponse = false
	if c.responseTimer != nil {
		c.responseTimer.Stop()
		c.responseTimer = nil
	}
	c.timeoutSeq++
	if c.conn != nil {
		c.conn.Close()
	}
}
