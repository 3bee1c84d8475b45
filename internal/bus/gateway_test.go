package bus

import (
	"bytes"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pilinski/ems-collector/internal/ems"
)

type pipeTransport struct {
	io.ReadWriteCloser
}

func (pipeTransport) Name() string { return "pipe" }

func TestGatewayDecodesTelegrams(t *testing.T) {
	ours, theirs := net.Pipe()

	var mu sync.Mutex
	var got []*ems.Message
	g := NewGateway(pipeTransport{ours}, func(m *ems.Message) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})
	done := make(chan error, 1)
	go func() { done <- g.Run() }()

	msg := ems.NewMessage(ems.AddrRC, 0x37, []byte{2, 1}, false)
	msg.Source = ems.AddrUBA
	raw := append(msg.Encode(), 0x00)
	// corrupted telegram first: must be dropped, stream resyncs
	bad := append([]byte{0x08, 0x0b, 0x18, 0x00, 0xff}, 0x00)
	theirs.Write(bad)
	theirs.Write(raw)

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("decoded %d telegrams, want 1", len(got))
	}
	m := got[0]
	if m.Source != ems.AddrUBA || m.Destination != ems.AddrRC || m.Type != 0x37 {
		t.Errorf("decoded header %+v", m)
	}
	if !bytes.Equal(m.Data, []byte{2, 1}) {
		t.Errorf("decoded data % x, want 02 01", m.Data)
	}

	g.Close()
	theirs.Close()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v after Close, want nil", err)
	}
}

func TestGatewaySendFrames(t *testing.T) {
	ours, theirs := net.Pipe()
	g := NewGateway(pipeTransport{ours}, nil)

	msg := ems.NewMessage(ems.AddrRC, 61, []byte{7, 1}, true)
	errc := make(chan error, 1)
	go func() { errc <- g.Send(msg) }()

	buf := make([]byte, 64)
	theirs.SetReadDeadline(time.Now().Add(time.Second))
	n, err := theirs.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Send: %v", err)
	}

	want := append(msg.Encode(), 0x00)
	if !bytes.Equal(buf[:n], want) {
		t.Errorf("wire bytes % x, want % x", buf[:n], want)
	}
}

func TestGatewayRunFailsOnTransportLoss(t *testing.T) {
	ours, theirs := net.Pipe()
	g := NewGateway(pipeTransport{ours}, nil)

	done := make(chan error, 1)
	go func() { done <- g.Run() }()

	theirs.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Run returned nil on transport loss, want error")
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after transport loss")
	}
}
