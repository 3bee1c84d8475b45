package ems

import (
	"encoding/binary"
	"fmt"
)

// Record sizes on the bus.
const (
	ScheduleEntrySize = 3
	HolidayEntrySize  = 3
	ErrorRecordSize   = 12
)

// Schedule sentinels. An entry whose time byte is >= ScheduleTimeUnset marks
// the end of the valid entries in a week schedule.
const (
	ScheduleOnUnset   = 7
	ScheduleDayUnset  = 0xe
	ScheduleTimeUnset = 0x90
)

var dayNames = [...]string{"MO", "TU", "WE", "TH", "FR", "SA", "SU"}

// DayName returns the two-letter abbreviation for day index 0..6.
func DayName(i int) string {
	return dayNames[i]
}

// ScheduleEntry is one switching point of a week schedule. Day is twice the
// day index in the week; Time counts minutes since midnight in units of 10.
type ScheduleEntry struct {
	On   uint8
	Day  uint8
	Time uint8
}

// UnsetScheduleEntry returns the sentinel entry the controller recognises as
// "slot not programmed".
func UnsetScheduleEntry() ScheduleEntry {
	return ScheduleEntry{On: ScheduleOnUnset, Day: ScheduleDayUnset, Time: ScheduleTimeUnset}
}

// IsUnset reports whether the entry marks an unprogrammed slot.
func (e ScheduleEntry) IsUnset() bool {
	return e.Time >= ScheduleTimeUnset
}

// Bytes returns the bus representation of the entry.
func (e ScheduleEntry) Bytes() []byte {
	return []byte{e.On, e.Day, e.Time}
}

// ParseScheduleEntry decodes a bus-format entry from b.
func ParseScheduleEntry(b []byte) ScheduleEntry {
	return ScheduleEntry{On: b[0], Day: b[1], Time: b[2]}
}

// Format renders the entry as "DAY HH:MM ON|OFF", or "" for an unset slot.
// Entries with a day byte outside the week render as unset.
func (e ScheduleEntry) Format() string {
	if e.IsUnset() || int(e.Day/2) >= len(dayNames) {
		return ""
	}
	minutes := int(e.Time) * 10
	state := "OFF"
	if e.On != 0 {
		state = "ON"
	}
	return fmt.Sprintf("%s %02d:%02d %s", dayNames[e.Day/2], minutes/60, minutes%60, state)
}

// HolidayEntry is one end of a holiday or vacation date range. Year is stored
// as an offset from 2000.
type HolidayEntry struct {
	Year  uint8
	Month uint8
	Day   uint8
}

// Bytes returns the bus representation of the entry.
func (e HolidayEntry) Bytes() []byte {
	return []byte{e.Year, e.Month, e.Day}
}

// ParseHolidayEntry decodes a bus-format entry from b.
func ParseHolidayEntry(b []byte) HolidayEntry {
	return HolidayEntry{Year: b[0], Month: b[1], Day: b[2]}
}

// After reports whether e is a later date than o.
func (e HolidayEntry) After(o HolidayEntry) bool {
	if e.Year != o.Year {
		return e.Year > o.Year
	}
	if e.Month != o.Month {
		return e.Month > o.Month
	}
	return e.Day > o.Day
}

// Format renders the entry as "<label> DD-MM-YYYY".
func (e HolidayEntry) Format(label string) string {
	return fmt.Sprintf("%s %02d-%02d-%04d", label, e.Day, e.Month, 2000+int(e.Year))
}

// ErrorRecord is one slot of a controller's error log. A zero first display
// character marks an empty slot. The date is only meaningful when the high
// bit of the year byte is set.
type ErrorRecord struct {
	Source     uint8
	ErrorAscii [2]byte
	Code       uint16
	HasDate    bool
	Year       uint8
	Month      uint8
	Day        uint8
	Hour       uint8
	Minute     uint8
	Duration   uint16 // minutes
}

// errDateValid gates the date fields inside the year byte.
const errDateValid = 0x80

// ParseErrorRecord decodes a bus-format record from b.
func ParseErrorRecord(b []byte) ErrorRecord {
	return ErrorRecord{
		Source:     b[0],
		ErrorAscii: [2]byte{b[1], b[2]},
		Code:       binary.BigEndian.Uint16(b[3:5]),
		HasDate:    b[5]&errDateValid != 0,
		Year:       b[5] &^ errDateValid,
		Month:      b[6],
		Day:        b[7],
		Hour:       b[8],
		Minute:     b[9],
		Duration:   binary.BigEndian.Uint16(b[10:12]),
	}
}

// Bytes returns the bus representation of the record.
func (r ErrorRecord) Bytes() []byte {
	year := r.Year
	if r.HasDate {
		year |= errDateValid
	}
	b := []byte{
		r.Source, r.ErrorAscii[0], r.ErrorAscii[1],
		byte(r.Code >> 8), byte(r.Code),
		year, r.Month, r.Day, r.Hour, r.Minute,
		byte(r.Duration >> 8), byte(r.Duration),
	}
	return b
}

// IsEmpty reports whether the slot holds no error.
func (r ErrorRecord) IsEmpty() bool {
	return r.ErrorAscii[0] == 0
}

// Format renders the record as
// "YYYY-MM-DD HH:MM <src> <AA> <code> <duration>"; records without a stored
// date use "xxxx-xx-xx xx:xx" in place of the timestamp. Empty slots render
// as "".
func (r ErrorRecord) Format() string {
	if r.IsEmpty() {
		return ""
	}
	date := "xxxx-xx-xx xx:xx"
	if r.HasDate {
		date = fmt.Sprintf("%04d-%02d-%02d %02d:%02d",
			2000+int(r.Year), r.Month, r.Day, r.Hour, r.Minute)
	}
	return fmt.Sprintf("%s %x %c%c %d %d",
		date, r.Source, r.ErrorAscii[0], r.ErrorAscii[1], r.Code, r.Duration)
}
