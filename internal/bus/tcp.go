package bus

import (
	"fmt"
	"net"
	"time"
)

// dialTimeout bounds the connect attempt to a remote bus adapter.
const dialTimeout = 10 * time.Second

// TCP is a Transport over a network tunnel to a remote bus adapter.
type TCP struct {
	net.Conn
	target string
}

// DialTCP connects to a remote bus adapter at host:port.
func DialTCP(host string, port int) (*TCP, error) {
	target := fmt.Sprintf("%s:%d", host, port)
	conn, err := net.DialTimeout("tcp", target, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("bus: connect %s: %w", target, err)
	}
	return &TCP{Conn: conn, target: target}, nil
}

func (t *TCP) Name() string { return t.target }
