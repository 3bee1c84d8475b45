package bus

import (
	"fmt"

	"go.bug.st/serial"
)

// emsBaudRate is fixed by the bus hardware.
const emsBaudRate = 9600

// Serial is a Transport over a local serial bus adapter.
type Serial struct {
	serial.Port
	device string
}

// OpenSerial opens the bus adapter at device with the EMS line settings.
func OpenSerial(device string) (*Serial, error) {
	mode := &serial.Mode{
		BaudRate: emsBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("bus: open %s: %w", device, err)
	}
	return &Serial{Port: port, device: device}, nil
}

func (s *Serial) Name() string { return s.device }
