package ems

import (
	"bytes"
	"testing"
)

func TestChecksumKnownValues(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want byte
	}{
		{"empty", nil, 0x00},
		{"single byte", []byte{0x0b}, 0x0b},
		{"two bytes", []byte{0x0b, 0x90}, 0x86},
		{"read request header", []byte{0x0b, 0x90, 0x02}, 0x17},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Checksum(tt.data); got != tt.want {
				t.Errorf("Checksum(% x) = 0x%02x, want 0x%02x", tt.data, got, tt.want)
			}
		})
	}
}

func TestEncodeSetsReadFlag(t *testing.T) {
	msg := NewMessage(AddrRC, 0x3f, []byte{93, 6}, true)
	raw := msg.Encode()

	if raw[0] != byte(AddrPC) {
		t.Errorf("source byte = 0x%02x, want 0x%02x", raw[0], byte(AddrPC))
	}
	if raw[1] != byte(AddrRC)|0x80 {
		t.Errorf("destination byte = 0x%02x, want read flag set", raw[1])
	}
	if raw[2] != 0x3f {
		t.Errorf("type byte = 0x%02x, want 0x3f", raw[2])
	}
	if !bytes.Equal(raw[3:5], []byte{93, 6}) {
		t.Errorf("data bytes = % x, want 5d 06", raw[3:5])
	}
	if got, want := raw[len(raw)-1], Checksum(raw[:len(raw)-1]); got != want {
		t.Errorf("checksum byte = 0x%02x, want 0x%02x", got, want)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
	}{
		{"write without response", NewMessage(AddrRC, 61, []byte{7, 0x01}, false)},
		{"read expecting response", NewMessage(AddrUBA, 0x10, []byte{0, 96}, true)},
		{"empty data", NewMessage(AddrBC10, 0x02, nil, false)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.msg.Encode())
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Source != tt.msg.Source || got.Destination != tt.msg.Destination ||
				got.Type != tt.msg.Type || got.ExpectResponse != tt.msg.ExpectResponse {
				t.Errorf("decoded header %+v, want %+v", got, tt.msg)
			}
			if !bytes.Equal(got.Data, tt.msg.Data) {
				t.Errorf("decoded data % x, want % x", got.Data, tt.msg.Data)
			}
		})
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	if _, err := Decode([]byte{0x08, 0x0b}); err == nil {
		t.Error("expected error for short telegram")
	}

	raw := NewMessage(AddrRC, 0x37, []byte{2, 1}, false).Encode()
	raw[len(raw)-1] ^= 0xff
	if _, err := Decode(raw); err == nil {
		t.Error("expected error for corrupted checksum")
	}
}

func TestPeerName(t *testing.T) {
	tests := []struct {
		addr Address
		want string
	}{
		{AddrUBA, "UBA"},
		{AddrBC10, "BC10"},
		{AddrRC, "RC"},
		{Address(0x21), "0x21"},
	}
	for _, tt := range tests {
		if got := PeerName(tt.addr); got != tt.want {
			t.Errorf("PeerName(0x%02x) = %q, want %q", uint8(tt.addr), got, tt.want)
		}
	}
}
