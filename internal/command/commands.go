package command

import (
	"math"
	"strconv"
	"strings"

	"github.com/pilinski/ems-collector/internal/ems"
)

// contactLineWidth is the fixed width of one RC contact-info line.
const contactLineWidth = 21

// maxScheduleIndex is the number of switching points in a week schedule.
const maxScheduleIndex = 42

type commandResult int

const (
	resultOK commandResult = iota
	resultInvalidCmd
	resultInvalidArgs
)

// handleCommand dispatches one tokenized command line. Callers hold c.mu.
func (c *Connection) handleCommand(tokens []string) commandResult {
	category, args := tokens[0], tokens[1:]

	switch category {
	case "help":
		c.respond("Available commands (help with '<command> help'):\nhk[1|2|3|4]\nww\nuba\nrc\ngetversion")
		return resultOK
	case "hk1":
		return c.handleHkCommand(args, 61)
	case "hk2":
		return c.handleHkCommand(args, 71)
	case "hk3":
		return c.handleHkCommand(args, 81)
	case "hk4":
		return c.handleHkCommand(args, 91)
	case "ww":
		return c.handleWwCommand(args)
	case "rc":
		return c.handleRcCommand(args)
	case "uba":
		return c.handleUbaCommand(args)
	case "getversion":
		c.startRequest(versionProbeOrder[0], 0x02, 0, 3, true)
		return resultOK
	}

	return resultInvalidCmd
}

func (c *Connection) handleHkCommand(args []string, typ uint8) commandResult {
	if len(args) == 0 {
		return resultInvalidCmd
	}
	cmd, args := args[0], args[1:]

	switch cmd {
	case "help":
		c.respond("Available subcommands:\n" +
			"mode [day|night|auto]\n" +
			"daytemperature <temp>\n" +
			"nighttemperature <temp>\n" +
			"holidaytemperature <temp>\n" +
			"getholiday\n" +
			"holidaymode <start:YYYY-MM-DD> <end:YYYY-MM-DD>\n" +
			"getvacation\n" +
			"vacationmode <start:YYYY-MM-DD> <end:YYYY-MM-DD>\n" +
			"partymode <hours>\n" +
			"getschedule\n" +
			"schedule <index> unset\n" +
			"schedule <index> [MO|TU|WE|TH|FR|SA|SU] HH:MM [ON|OFF]")
		return resultOK
	case "mode":
		if len(args) != 1 {
			return resultInvalidArgs
		}
		var data byte
		switch args[0] {
		case "day":
			data = 0x01
		case "night":
			data = 0x00
		case "auto":
			data = 0x02
		default:
			return resultInvalidArgs
		}
		c.sendCommand(ems.AddrRC, typ, 7, []byte{data})
		return resultOK
	case "daytemperature":
		return c.handleHkTemperature(args, typ, 2)
	case "nighttemperature":
		return c.handleHkTemperature(args, typ, 1)
	case "holidaytemperature":
		return c.handleHkTemperature(args, typ, 3)
	case "holidaymode":
		return c.handleSetHoliday(args, typ+2, 93)
	case "vacationmode":
		return c.handleSetHoliday(args, typ+2, 87)
	case "partymode":
		hours, ok := parseByteArg(args, 0, 99)
		if !ok {
			return resultInvalidArgs
		}
		c.sendCommand(ems.AddrRC, typ, 86, []byte{hours})
		return resultOK
	case "schedule":
		return c.handleSetSchedule(args, ems.AddrRC, typ+2)
	case "getschedule":
		c.startRequest(ems.AddrRC, typ+2, 0, maxScheduleIndex*ems.ScheduleEntrySize, true)
		return resultOK
	case "getvacation":
		c.startRequest(ems.AddrRC, typ+2, 87, 2*ems.HolidayEntrySize, true)
		return resultOK
	case "getholiday":
		c.startRequest(ems.AddrRC, typ+2, 93, 2*ems.HolidayEntrySize, true)
		return resultOK
	}

	return resultInvalidCmd
}

// handleHkTemperature writes a half-degree setpoint. The controller stores
// temperatures as twice the Celsius value; the valid stored range is 20..60.
func (c *Connection) handleHkTemperature(args []string, typ uint8, offset byte) commandResult {
	if len(args) != 1 {
		return resultInvalidArgs
	}
	value, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return resultInvalidArgs
	}
	stored := math.Round(2 * value)
	if stored < 20 || stored > 60 {
		return resultInvalidArgs
	}
	c.sendCommand(ems.AddrRC, typ, offset, []byte{byte(stored)})
	return resultOK
}

func (c *Connection) handleSetHoliday(args []string, typ uint8, offset byte) commandResult {
	if len(args) != 2 {
		return resultInvalidArgs
	}
	begin, ok := parseHolidayEntry(args[0])
	if !ok {
		return resultInvalidArgs
	}
	end, ok := parseHolidayEntry(args[1])
	if !ok {
		return resultInvalidArgs
	}
	if begin.After(end) {
		return resultInvalidArgs
	}
	data := append(begin.Bytes(), end.Bytes()...)
	c.sendCommand(ems.AddrRC, typ, offset, data)
	return resultOK
}

func (c *Connection) handleSetSchedule(args []string, dest ems.Address, typ uint8) commandResult {
	if len(args) < 2 {
		return resultInvalidArgs
	}
	index, err := strconv.Atoi(args[0])
	if err != nil || index < 1 || index > maxScheduleIndex {
		return resultInvalidArgs
	}
	entry, ok := parseScheduleEntry(args[1:])
	if !ok {
		return resultInvalidArgs
	}
	c.sendCommand(dest, typ, byte((index-1)*ems.ScheduleEntrySize), entry.Bytes())
	return resultOK
}

func (c *Connection) handleWwCommand(args []string) commandResult {
	if len(args) == 0 {
		return resultInvalidCmd
	}
	cmd, args := args[0], args[1:]

	switch cmd {
	case "help":
		c.respond("Available subcommands:\n" +
			"mode [on|off|auto]\n" +
			"temperature <temp>\n" +
			"limittemperature <temp>\n" +
			"loadonce\n" +
			"cancelload\n" +
			"getschedule\n" +
			"schedule <index> unset\n" +
			"schedule <index> [MO|TU|WE|TH|FR|SA|SU] HH:MM [ON|OFF]\n" +
			"selectschedule [custom|hk]\n" +
			"showloadindicator [on|off]\n" +
			"thermdesinfect mode [on|off]\n" +
			"thermdesinfect day [monday|...|sunday|everyday]\n" +
			"thermdesinfect hour <hour>\n" +
			"thermdesinfect temperature <temp>\n" +
			"zirkpump mode [on|off|auto]\n" +
			"zirkpump count [1|2|3|4|5|6|alwayson]\n" +
			"zirkpump getschedule\n" +
			"zirkpump schedule <index> unset\n" +
			"zirkpump schedule <index> [MO|TU|WE|TH|FR|SA|SU] HH:MM [ON|OFF]\n" +
			"zirkpump selectschedule [custom|hk]")
		return resultOK
	case "thermdesinfect":
		return c.handleThermDesinfectCommand(args)
	case "zirkpump":
		return c.handleZirkPumpCommand(args)
	case "mode":
		data, ok := parseOnOffAuto(args)
		if !ok {
			return resultInvalidArgs
		}
		c.sendCommand(ems.AddrRC, 0x37, 2, []byte{data})
		return resultOK
	case "temperature":
		temp, ok := parseByteArg(args, 30, 80)
		if !ok {
			return resultInvalidArgs
		}
		c.sendCommand(ems.AddrUBA, 0x33, 2, []byte{temp})
		return resultOK
	case "limittemperature":
		temp, ok := parseByteArg(args, 30, 80)
		if !ok {
			return resultInvalidArgs
		}
		c.sendCommand(ems.AddrRC, 0x37, 8, []byte{temp})
		return resultOK
	case "loadonce":
		c.sendCommand(ems.AddrUBA, 0x35, 0, []byte{35})
		return resultOK
	case "cancelload":
		c.sendCommand(ems.AddrUBA, 0x35, 0, []byte{3})
		return resultOK
	case "showloadindicator":
		data, ok := parseOnOffFlag(args)
		if !ok {
			return resultInvalidArgs
		}
		c.sendCommand(ems.AddrRC, 0x37, 9, []byte{data})
		return resultOK
	case "getschedule":
		c.startRequest(ems.AddrRC, 0x38, 0, maxScheduleIndex*ems.ScheduleEntrySize, true)
		return resultOK
	case "schedule":
		return c.handleSetSchedule(args, ems.AddrRC, 0x38)
	case "selectschedule":
		data, ok := parseScheduleSelector(args)
		if !ok {
			return resultInvalidArgs
		}
		c.sendCommand(ems.AddrRC, 0x37, 0, []byte{data})
		return resultOK
	}

	return resultInvalidCmd
}

func (c *Connection) handleThermDesinfectCommand(args []string) commandResult {
	if len(args) == 0 {
		return resultInvalidCmd
	}
	cmd, args := args[0], args[1:]

	switch cmd {
	case "mode":
		data, ok := parseOnOffFlag(args)
		if !ok {
			return resultInvalidArgs
		}
		c.sendCommand(ems.AddrRC, 0x37, 4, []byte{data})
		return resultOK
	case "day":
		if len(args) != 1 {
			return resultInvalidArgs
		}
		days := []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday", "everyday"}
		for i, day := range days {
			if args[0] == day {
				c.sendCommand(ems.AddrRC, 0x37, 5, []byte{byte(i)})
				return resultOK
			}
		}
		return resultInvalidArgs
	case "hour":
		hour, ok := parseByteArg(args, 0, 23)
		if !ok {
			return resultInvalidArgs
		}
		c.sendCommand(ems.AddrRC, 0x37, 6, []byte{hour})
		return resultOK
	case "temperature":
		temp, ok := parseByteArg(args, 60, 80)
		if !ok {
			return resultInvalidArgs
		}
		c.sendCommand(ems.AddrUBA, 0x33, 8, []byte{temp})
		return resultOK
	}

	return resultInvalidCmd
}

func (c *Connection) handleZirkPumpCommand(args []string) commandResult {
	if len(args) == 0 {
		return resultInvalidCmd
	}
	cmd, args := args[0], args[1:]

	switch cmd {
	case "mode":
		data, ok := parseOnOffAuto(args)
		if !ok {
			return resultInvalidArgs
		}
		c.sendCommand(ems.AddrRC, 0x37, 3, []byte{data})
		return resultOK
	case "count":
		if len(args) != 1 {
			return resultInvalidArgs
		}
		var count byte
		if args[0] == "alwayson" {
			count = 0x07
		} else {
			v, err := strconv.Atoi(args[0])
			if err != nil || v < 1 || v > 6 {
				return resultInvalidArgs
			}
			count = byte(v)
		}
		c.sendCommand(ems.AddrUBA, 0x33, 7, []byte{count})
		return resultOK
	case "getschedule":
		c.startRequest(ems.AddrRC, 0x39, 0, maxScheduleIndex*ems.ScheduleEntrySize, true)
		return resultOK
	case "schedule":
		return c.handleSetSchedule(args, ems.AddrRC, 0x39)
	case "selectschedule":
		data, ok := parseScheduleSelector(args)
		if !ok {
			return resultInvalidArgs
		}
		c.sendCommand(ems.AddrRC, 0x37, 1, []byte{data})
		return resultOK
	}

	return resultInvalidCmd
}

func (c *Connection) handleRcCommand(args []string) commandResult {
	if len(args) == 0 {
		return resultInvalidCmd
	}
	cmd, args := args[0], args[1:]

	switch cmd {
	case "help":
		c.respond("Available subcommands:\n" +
			"geterrors\n" +
			"getcontactinfo\n" +
			"setcontactinfo [1|2] <text>")
		return resultOK
	case "getcontactinfo":
		c.startRequest(ems.AddrRC, 0xa4, 0, 2*contactLineWidth, true)
		return resultOK
	case "setcontactinfo":
		if len(args) < 1 {
			return resultInvalidArgs
		}
		line, err := strconv.Atoi(args[0])
		if err != nil || line < 1 || line > 2 {
			return resultInvalidArgs
		}
		text := strings.Join(args[1:], " ")
		if len(text) > contactLineWidth {
			text = text[:contactLineWidth]
		} else {
			text += strings.Repeat(" ", contactLineWidth-len(text))
		}
		c.sendCommand(ems.AddrRC, 0xa4, byte(line), []byte(text))
		return resultOK
	case "geterrors":
		c.startRequest(ems.AddrRC, 0x12, 0, 4*ems.ErrorRecordSize, true)
		return resultOK
	}

	return resultInvalidCmd
}

func (c *Connection) handleUbaCommand(args []string) commandResult {
	if len(args) == 0 {
		return resultInvalidCmd
	}
	cmd, args := args[0], args[1:]

	switch cmd {
	case "help":
		c.respond("Available subcommands:\n" +
			"antipendel <minutes>\n" +
			"hyst [on|off] <kelvin>\n" +
			"pumpmodulation <minpercent> <maxpercent>\n" +
			"pumpdelay <minutes>\n" +
			"geterrors")
		return resultOK
	case "geterrors":
		c.startRequest(ems.AddrUBA, 0x10, 0, 8*ems.ErrorRecordSize, true)
		return resultOK
	case "antipendel":
		minutes, ok := parseByteArg(args, 0, 120)
		if !ok {
			return resultInvalidArgs
		}
		c.sendCommand(ems.AddrUBA, 0x16, 6, []byte{minutes})
		return resultOK
	case "hyst":
		if len(args) != 2 {
			return resultInvalidArgs
		}
		var offset byte
		switch args[0] {
		case "on":
			offset = 5
		case "off":
			offset = 4
		default:
			return resultInvalidArgs
		}
		kelvin, ok := parseByteArg(args[1:], 0, 20)
		if !ok {
			return resultInvalidArgs
		}
		c.sendCommand(ems.AddrUBA, 0x16, offset, []byte{kelvin})
		return resultOK
	case "pumpmodulation":
		if len(args) != 2 {
			return resultInvalidArgs
		}
		min, err1 := strconv.Atoi(args[0])
		max, err2 := strconv.Atoi(args[1])
		if err1 != nil || err2 != nil || min < 0 || min > max || max > 100 {
			return resultInvalidArgs
		}
		c.sendCommand(ems.AddrUBA, 0x16, 9, []byte{byte(max), byte(min)})
		return resultOK
	case "pumpdelay":
		minutes, ok := parseByteArg(args, 0, 120)
		if !ok {
			return resultInvalidArgs
		}
		c.sendCommand(ems.AddrUBA, 0x16, 8, []byte{minutes})
		return resultOK
	}

	return resultInvalidCmd
}

// parseByteArg parses the single argument in args as an integer in
// [min, max].
func parseByteArg(args []string, min, max int) (byte, bool) {
	if len(args) != 1 {
		return 0, false
	}
	v, err := strconv.Atoi(args[0])
	if err != nil || v < min || v > max {
		return 0, false
	}
	return byte(v), true
}

// parseOnOffAuto maps on/off/auto to the 0x01/0x00/0x02 mode byte.
func parseOnOffAuto(args []string) (byte, bool) {
	if len(args) != 1 {
		return 0, false
	}
	switch args[0] {
	case "on":
		return 0x01, true
	case "off":
		return 0x00, true
	case "auto":
		return 0x02, true
	}
	return 0, false
}

// parseOnOffFlag maps on/off to the 0xff/0x00 flag byte.
func parseOnOffFlag(args []string) (byte, bool) {
	if len(args) != 1 {
		return 0, false
	}
	switch args[0] {
	case "on":
		return 0xff, true
	case "off":
		return 0x00, true
	}
	return 0, false
}

// parseScheduleSelector maps custom/hk to the 0xff/0x00 selector byte.
func parseScheduleSelector(args []string) (byte, bool) {
	if len(args) != 1 {
		return 0, false
	}
	switch args[0] {
	case "custom":
		return 0xff, true
	case "hk":
		return 0x00, true
	}
	return 0, false
}

// parseScheduleEntry parses either the single token "unset" or
// "DAY HH:MM ON|OFF". Minutes must fall on a 10-minute boundary.
func parseScheduleEntry(args []string) (ems.ScheduleEntry, bool) {
	if len(args) == 1 && args[0] == "unset" {
		return ems.UnsetScheduleEntry(), true
	}
	if len(args) != 3 {
		return ems.ScheduleEntry{}, false
	}

	var entry ems.ScheduleEntry

	day := -1
	for i := 0; i < 7; i++ {
		if args[0] == ems.DayName(i) {
			day = i
			break
		}
	}
	if day < 0 {
		return ems.ScheduleEntry{}, false
	}
	entry.Day = byte(2 * day)

	hhmm := strings.SplitN(args[1], ":", 2)
	if len(hhmm) != 2 {
		return ems.ScheduleEntry{}, false
	}
	hours, err1 := strconv.Atoi(hhmm[0])
	minutes, err2 := strconv.Atoi(hhmm[1])
	if err1 != nil || err2 != nil ||
		hours < 0 || hours > 23 || minutes < 0 || minutes >= 60 || minutes%10 != 0 {
		return ems.ScheduleEntry{}, false
	}
	entry.Time = byte((hours*60 + minutes) / 10)

	switch args[2] {
	case "ON":
		entry.On = 1
	case "OFF":
		entry.On = 0
	default:
		return ems.ScheduleEntry{}, false
	}

	return entry, true
}

// parseHolidayEntry parses a YYYY-MM-DD date in the controller's supported
// range.
func parseHolidayEntry(s string) (ems.HolidayEntry, bool) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return ems.HolidayEntry{}, false
	}
	year, err1 := strconv.Atoi(parts[0])
	month, err2 := strconv.Atoi(parts[1])
	day, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return ems.HolidayEntry{}, false
	}
	if year < 2000 || year > 2100 || month < 1 || month > 12 || day < 1 || day > 31 {
		return ems.HolidayEntry{}, false
	}
	return ems.HolidayEntry{Year: byte(year - 2000), Month: byte(month), Day: byte(day)}, true
}
