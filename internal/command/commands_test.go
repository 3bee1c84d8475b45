package command

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pilinski/ems-collector/internal/ems"
)

type fakeGateway struct {
	mu   sync.Mutex
	sent []*ems.Message
	at   []time.Time
}

func (g *fakeGateway) Send(m *ems.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, m)
	g.at = append(g.at, time.Now())
	return nil
}

func (g *fakeGateway) messages() []*ems.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*ems.Message(nil), g.sent...)
}

func newTestSession(t *testing.T) (*Connection, *fakeGateway, *bytes.Buffer) {
	t.Helper()
	gw := &fakeGateway{}
	h := NewHandler(gw)
	// advance the pacing clock past minRequestGap on every observation so
	// continuations and chained reads go out synchronously
	base := time.Unix(1700000000, 0)
	var ticks int64
	h.now = func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks) * time.Second)
	}
	buf := &bytes.Buffer{}
	c := &Connection{h: h, w: buf, timeout: responseTimeout}
	t.Cleanup(c.close)
	return c, gw, buf
}

func responseLines(buf *bytes.Buffer) []string {
	out := strings.TrimRight(buf.String(), "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func TestCommandDispatch(t *testing.T) {
	tests := []struct {
		line     string
		wantDest ems.Address
		wantType uint8
		wantData []byte
	}{
		{"hk1 mode day", ems.AddrRC, 61, []byte{7, 0x01}},
		{"hk1 mode night", ems.AddrRC, 61, []byte{7, 0x00}},
		{"hk2 mode auto", ems.AddrRC, 71, []byte{7, 0x02}},
		{"hk1 daytemperature 21.5", ems.AddrRC, 61, []byte{2, 43}},
		{"hk1 daytemperature 10.0", ems.AddrRC, 61, []byte{2, 20}},
		{"hk1 daytemperature 30.0", ems.AddrRC, 61, []byte{2, 60}},
		{"hk3 nighttemperature 16", ems.AddrRC, 81, []byte{1, 32}},
		{"hk4 holidaytemperature 15", ems.AddrRC, 91, []byte{3, 30}},
		{"hk1 partymode 4", ems.AddrRC, 61, []byte{86, 4}},
		{"hk1 holidaymode 2025-05-01 2025-05-10", ems.AddrRC, 63, []byte{93, 25, 5, 1, 25, 5, 10}},
		{"hk1 vacationmode 2025-07-01 2025-07-14", ems.AddrRC, 63, []byte{87, 25, 7, 1, 25, 7, 14}},
		{"hk1 schedule 1 MO 06:30 ON", ems.AddrRC, 63, []byte{0, 1, 0, 39}},
		{"hk1 schedule 42 MO 00:00 ON", ems.AddrRC, 63, []byte{123, 1, 0, 0}},
		{"hk1 schedule 2 unset", ems.AddrRC, 63, []byte{3, 7, 0xe, 0x90}},
		{"ww mode on", ems.AddrRC, 0x37, []byte{2, 0x01}},
		{"ww mode auto", ems.AddrRC, 0x37, []byte{2, 0x02}},
		{"ww temperature 60", ems.AddrUBA, 0x33, []byte{2, 60}},
		{"ww limittemperature 80", ems.AddrRC, 0x37, []byte{8, 80}},
		{"ww loadonce", ems.AddrUBA, 0x35, []byte{0, 35}},
		{"ww cancelload", ems.AddrUBA, 0x35, []byte{0, 3}},
		{"ww showloadindicator on", ems.AddrRC, 0x37, []byte{9, 0xff}},
		{"ww showloadindicator off", ems.AddrRC, 0x37, []byte{9, 0x00}},
		{"ww schedule 1 MO 06:30 ON", ems.AddrRC, 0x38, []byte{0, 1, 0, 39}},
		{"ww selectschedule custom", ems.AddrRC, 0x37, []byte{0, 0xff}},
		{"ww selectschedule hk", ems.AddrRC, 0x37, []byte{0, 0x00}},
		{"ww thermdesinfect mode on", ems.AddrRC, 0x37, []byte{4, 0xff}},
		{"ww thermdesinfect day wednesday", ems.AddrRC, 0x37, []byte{5, 0x02}},
		{"ww thermdesinfect day everyday", ems.AddrRC, 0x37, []byte{5, 0x07}},
		{"ww thermdesinfect hour 2", ems.AddrRC, 0x37, []byte{6, 2}},
		{"ww thermdesinfect temperature 70", ems.AddrUBA, 0x33, []byte{8, 70}},
		{"ww zirkpump mode off", ems.AddrRC, 0x37, []byte{3, 0x00}},
		{"ww zirkpump count 3", ems.AddrUBA, 0x33, []byte{7, 3}},
		{"ww zirkpump count alwayson", ems.AddrUBA, 0x33, []byte{7, 0x07}},
		{"ww zirkpump schedule 1 SU 22:00 OFF", ems.AddrRC, 0x39, []byte{0, 0, 12, 132}},
		{"ww zirkpump selectschedule custom", ems.AddrRC, 0x37, []byte{1, 0xff}},
		{"uba antipendel 10", ems.AddrUBA, 0x16, []byte{6, 10}},
		{"uba hyst on 15", ems.AddrUBA, 0x16, []byte{5, 15}},
		{"uba hyst off 10", ems.AddrUBA, 0x16, []byte{4, 10}},
		{"uba pumpmodulation 40 50", ems.AddrUBA, 0x16, []byte{9, 50, 40}},
		{"uba pumpdelay 5", ems.AddrUBA, 0x16, []byte{8, 5}},
		{"rc setcontactinfo 2 Service Hotline", ems.AddrRC, 0xa4,
			append([]byte{2}, []byte("Service Hotline      ")...)},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			c, gw, buf := newTestSession(t)
			c.handleLine(tt.line)

			msgs := gw.messages()
			if len(msgs) != 1 {
				t.Fatalf("sent %d frames, want 1 (responses: %q)", len(msgs), buf.String())
			}
			msg := msgs[0]
			if msg.Destination != tt.wantDest {
				t.Errorf("destination = 0x%02x, want 0x%02x", uint8(msg.Destination), uint8(tt.wantDest))
			}
			if msg.Type != tt.wantType {
				t.Errorf("type = %d, want %d", msg.Type, tt.wantType)
			}
			if !bytes.Equal(msg.Data, tt.wantData) {
				t.Errorf("data = % x, want % x", msg.Data, tt.wantData)
			}
			if !msg.ExpectResponse {
				t.Error("frame should expect a response")
			}
			if !c.waitingForResponse {
				t.Error("session should be waiting for the bus reply")
			}
		})
	}
}

func TestReadCommands(t *testing.T) {
	tests := []struct {
		line     string
		wantDest ems.Address
		wantType uint8
		wantData []byte
	}{
		{"hk1 getschedule", ems.AddrRC, 63, []byte{0, 126}},
		{"hk2 getschedule", ems.AddrRC, 73, []byte{0, 126}},
		{"hk1 getvacation", ems.AddrRC, 63, []byte{87, 6}},
		{"hk1 getholiday", ems.AddrRC, 63, []byte{93, 6}},
		{"ww getschedule", ems.AddrRC, 0x38, []byte{0, 126}},
		{"ww zirkpump getschedule", ems.AddrRC, 0x39, []byte{0, 126}},
		{"rc geterrors", ems.AddrRC, 0x12, []byte{0, 48}},
		{"rc getcontactinfo", ems.AddrRC, 0xa4, []byte{0, 42}},
		{"uba geterrors", ems.AddrUBA, 0x10, []byte{0, 96}},
		{"getversion", ems.AddrUBA, 0x02, []byte{0, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			c, gw, _ := newTestSession(t)
			c.handleLine(tt.line)

			msgs := gw.messages()
			if len(msgs) != 1 {
				t.Fatalf("sent %d frames, want 1", len(msgs))
			}
			msg := msgs[0]
			if msg.Destination != tt.wantDest || msg.Type != tt.wantType {
				t.Errorf("frame = dest 0x%02x type %d, want dest 0x%02x type %d",
					uint8(msg.Destination), msg.Type, uint8(tt.wantDest), tt.wantType)
			}
			if !bytes.Equal(msg.Data, tt.wantData) {
				t.Errorf("data = % x, want % x", msg.Data, tt.wantData)
			}
		})
	}
}

func TestInvalidArguments(t *testing.T) {
	lines := []string{
		"hk1 mode sometimes",
		"hk1 daytemperature",
		"hk1 daytemperature 9.5",
		"hk1 daytemperature 30.5",
		"hk1 daytemperature warm",
		"hk1 partymode 100",
		"hk1 holidaymode 2025-05-02 2025-05-01",
		"hk1 holidaymode 1999-05-01 2025-05-01",
		"hk1 holidaymode 2025-13-01 2025-12-01",
		"hk1 holidaymode 2025-05-01",
		"hk1 schedule 0 MO 06:30 ON",
		"hk1 schedule 43 MO 06:30 ON",
		"hk1 schedule 1 MO 00:05 ON",
		"hk1 schedule 1 XX 06:30 ON",
		"hk1 schedule 1 MO 24:00 ON",
		"hk1 schedule 1 MO 0630 ON",
		"hk1 schedule 1 MO 06:30 MAYBE",
		"ww temperature 29",
		"ww temperature 81",
		"ww thermdesinfect day someday",
		"ww thermdesinfect hour 24",
		"ww thermdesinfect temperature 59",
		"ww zirkpump count 0",
		"ww zirkpump count 7",
		"rc setcontactinfo 3 hello",
		"rc setcontactinfo x hello",
		"uba antipendel 121",
		"uba hyst sideways 5",
		"uba hyst on 21",
		"uba pumpmodulation 50 40",
		"uba pumpmodulation 40 101",
		"uba pumpdelay 121",
	}
	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			c, gw, buf := newTestSession(t)
			c.handleLine(line)

			if got := responseLines(buf); len(got) != 1 || got[0] != "ERRARGS" {
				t.Errorf("response = %q, want [ERRARGS]", got)
			}
			if n := len(gw.messages()); n != 0 {
				t.Errorf("sent %d frames, want 0", n)
			}
		})
	}
}

func TestUnknownCommands(t *testing.T) {
	lines := []string{
		"frobnicate",
		"hk5 mode day",
		"hk1 defrost",
		"ww explode",
		"ww thermdesinfect boil",
		"ww zirkpump reverse",
		"rc reboot",
		"uba overclock",
		"hk1",
		"ww",
	}
	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			c, gw, buf := newTestSession(t)
			c.handleLine(line)

			if got := responseLines(buf); len(got) != 1 || got[0] != "ERRCMD" {
				t.Errorf("response = %q, want [ERRCMD]", got)
			}
			if n := len(gw.messages()); n != 0 {
				t.Errorf("sent %d frames, want 0", n)
			}
		})
	}
}

func TestHelpEmitsTextWithoutBusTraffic(t *testing.T) {
	for _, line := range []string{"help", "hk1 help", "ww help", "rc help", "uba help"} {
		t.Run(line, func(t *testing.T) {
			c, gw, buf := newTestSession(t)
			c.handleLine(line)

			if buf.Len() == 0 {
				t.Fatal("help should produce output")
			}
			if got := responseLines(buf); got[len(got)-1] == "ERRCMD" {
				t.Errorf("help rejected: %q", got)
			}
			if n := len(gw.messages()); n != 0 {
				t.Errorf("sent %d frames, want 0", n)
			}
		})
	}
}

func TestScheduleEntryParseFormatIdentity(t *testing.T) {
	// a parsed entry rendered back must reproduce the command arguments
	inputs := [][]string{
		{"MO", "06:30", "ON"},
		{"TU", "23:50", "OFF"},
		{"SU", "00:00", "ON"},
	}
	for _, in := range inputs {
		entry, ok := parseScheduleEntry(in)
		if !ok {
			t.Fatalf("parseScheduleEntry(%v) rejected", in)
		}
		if got, want := entry.Format(), strings.Join(in, " "); got != want {
			t.Errorf("Format() = %q, want %q", got, want)
		}
	}
}

func TestHolidayEntryParseFormatIdentity(t *testing.T) {
	entry, ok := parseHolidayEntry("2031-12-24")
	if !ok {
		t.Fatal("parseHolidayEntry rejected valid date")
	}
	if got, want := entry.Format("BEGIN"), "BEGIN 24-12-2031"; got != want {
		t.Errorf("Format() = %q, want %q", got, want)
	}
}

func TestUnsetTokenYieldsSentinel(t *testing.T) {
	entry, ok := parseScheduleEntry([]string{"unset"})
	if !ok {
		t.Fatal("unset token rejected")
	}
	if entry.On != 7 || entry.Day != 0xe || entry.Time != 0x90 {
		t.Errorf("unset entry = %+v, want {7, 0xe, 0x90}", entry)
	}
}
