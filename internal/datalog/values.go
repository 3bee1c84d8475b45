// Package datalog decodes the periodic monitor telegrams the bus peers
// broadcast, keeps the latest value per sensor, streams changes to data-port
// subscribers, and optionally persists a history to SQLite.
package datalog

import (
	"time"

	"github.com/pilinski/ems-collector/internal/ems"
)

// Reading is one decoded sensor value.
type Reading struct {
	Sensor string    `json:"sensor"`
	Value  float64   `json:"value"`
	At     time.Time `json:"at"`
}

// invalidTemp is the sentinel the UBA sends for a disconnected sensor.
const invalidTemp = 0x8000

// Decode extracts sensor readings from a broadcast monitor telegram. Unknown
// telegrams yield no readings. Only full telegrams starting at offset 0 are
// decoded; the command side's windowed reads never match that shape.
func Decode(msg *ems.Message, now time.Time) []Reading {
	d := msg.Data
	if len(d) == 0 || d[0] != 0 {
		return nil
	}

	switch {
	case msg.Source == ems.AddrUBA && msg.Type == 0x18:
		return decodeUbaMonitorFast(d, now)
	case msg.Source == ems.AddrUBA && msg.Type == 0x19:
		return decodeUbaMonitorSlow(d, now)
	case msg.Source == ems.AddrUBA && msg.Type == 0x34:
		return decodeWwMonitor(d, now)
	}
	return nil
}

// decodeUbaMonitorFast handles the UBA monitor fast telegram (0x18).
func decodeUbaMonitorFast(d []byte, now time.Time) []Reading {
	if len(d) < 10 {
		return nil
	}
	rs := []Reading{
		{Sensor: "targetFlowTemp", Value: float64(d[1]), At: now},
		{Sensor: "modulation", Value: float64(d[5]), At: now},
		{Sensor: "burnerActive", Value: flag(d[8]&0x01 != 0), At: now},
		{Sensor: "heatPumpActive", Value: flag(d[8]&0x20 != 0), At: now},
	}
	if t, ok := temp10(d[2:4]); ok {
		rs = append(rs, Reading{Sensor: "flowTemp", Value: t, At: now})
	}
	return rs
}

// decodeUbaMonitorSlow handles the UBA monitor slow telegram (0x19).
func decodeUbaMonitorSlow(d []byte, now time.Time) []Reading {
	if len(d) < 17 {
		return nil
	}
	rs := []Reading{
		{Sensor: "pumpModulation", Value: float64(d[10]), At: now},
		{Sensor: "burnerStarts", Value: float64(be24(d[11:14])), At: now},
		{Sensor: "burnerRuntimeMinutes", Value: float64(be24(d[14:17])), At: now},
	}
	if t, ok := temp10(d[1:3]); ok {
		rs = append(rs, Reading{Sensor: "outdoorTemp", Value: t, At: now})
	}
	if t, ok := temp10(d[3:5]); ok {
		rs = append(rs, Reading{Sensor: "boilerTemp", Value: t, At: now})
	}
	return rs
}

// decodeWwMonitor handles the hot water monitor telegram (0x34).
func decodeWwMonitor(d []byte, now time.Time) []Reading {
	if len(d) < 4 {
		return nil
	}
	rs := []Reading{
		{Sensor: "wwTargetTemp", Value: float64(d[1]), At: now},
	}
	if t, ok := temp10(d[2:4]); ok {
		rs = append(rs, Reading{Sensor: "wwTemp", Value: t, At: now})
	}
	return rs
}

// temp10 decodes a signed big-endian temperature in tenths of a degree.
func temp10(b []byte) (float64, bool) {
	raw := uint16(b[0])<<8 | uint16(b[1])
	if raw == invalidTemp {
		return 0, false
	}
	return float64(int16(raw)) / 10, true
}

func be24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func flag(on bool) float64 {
	if on {
		return 1
	}
	return 0
}
