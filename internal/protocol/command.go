// Package protocol implements the DT5533E line protocol: command encoding,
// reply classification, STAT decoding and tolerant numeric parsing.
// Everything here is pure; no I/O happens in this package.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Terminator ends every command line sent to the device.
const Terminator = "\r\n"

// Op is the command operation.
type Op string

const (
	OpMonitor Op = "MON"
	OpSet     Op = "SET"
)

// Param is a parameter name from the device vocabulary.
type Param string

const (
	ParamVSet Param = "VSET"
	ParamVMon Param = "VMON"
	ParamISet Param = "ISET"
	ParamIMon Param = "IMON"
	ParamStat Param = "STAT"
	ParamTrip Param = "TRIP"
	ParamOn   Param = "ON"
	ParamOff  Param = "OFF"
	ParamPW   Param = "PW"
	ParamPDwn Param = "PDWN"
)

// Values used with SET PW and SET PDWN.
const (
	ValueOn   = "ON"
	ValueOff  = "OFF"
	ValueKill = "KILL"
)

// MonitorParams lists the MON parameters read by one sampling tick, in order.
var MonitorParams = [...]Param{ParamVSet, ParamVMon, ParamISet, ParamIMon, ParamStat, ParamTrip}

// IsMonitorParam reports whether p can be read with MON.
func IsMonitorParam(p Param) bool {
	for _, m := range MonitorParams {
		if m == p {
			return true
		}
	}
	return false
}

// Command is one request to the device. It is built per request and never retained.
type Command struct {
	Op       Op
	Channel  int
	Param    Param
	Value    string
	HasValue bool
}

// BuildCommand creates a command; at most the first value is used.
// Channel range and vocabulary are not checked.
func BuildCommand(op Op, channel int, par Param, value ...string) Command {
	c := Command{Op: op, Channel: channel, Param: par}
	if len(value) > 0 {
		c.Value = value[0]
		c.HasValue = true
	}
	return c
}

// Wire returns the terminated line for c, e.g. "$CMD:MON,CH:0,PAR:VMON\r\n".
func (c Command) Wire() string {
	var b strings.Builder
	b.WriteString("$CMD:")
	b.WriteString(string(c.Op))
	b.WriteString(",CH:")
	b.WriteString(strconv.Itoa(c.Channel))
	b.WriteString(",PAR:")
	b.WriteString(string(c.Param))
	if c.HasValue {
		b.WriteString(",VAL:")
		b.WriteString(c.Value)
	}
	b.WriteString(Terminator)
	return b.String()
}

// String returns the command without its terminator.
func (c Command) String() string {
	return strings.TrimSuffix(c.Wire(), Terminator)
}

// ParseCommand is the inverse of Wire. It accepts lines with or without the
// terminator and expects the fields in wire order.
func ParseCommand(line string) (Command, error) {
	s := strings.TrimRight(line, "\r\n")
	parts := strings.Split(s, ",")
	if len(parts) < 3 || len(parts) > 4 {
		return Command{}, fmt.Errorf("malformed command %q: expected 3 or 4 fields, got %d", s, len(parts))
	}

	op, ok := strings.CutPrefix(parts[0], "$CMD:")
	if !ok {
		return Command{}, fmt.Errorf("malformed command %q: missing $CMD prefix", s)
	}
	chText, ok := strings.CutPrefix(parts[1], "CH:")
	if !ok {
		return Command{}, fmt.Errorf("malformed command %q: missing CH field", s)
	}
	ch, err := strconv.Atoi(chText)
	if err != nil {
		return Command{}, fmt.Errorf("malformed command %q: bad channel: %w", s, err)
	}
	par, ok := strings.CutPrefix(parts[2], "PAR:")
	if !ok {
		return Command{}, fmt.Errorf("malformed command %q: missing PAR field", s)
	}

	c := Command{Op: Op(op), Channel: ch, Param: Param(par)}
	if len(parts) == 4 {
		val, ok := strings.CutPrefix(parts[3], "VAL:")
		if !ok {
			return Command{}, fmt.Errorf("malformed command %q: missing VAL field", s)
		}
		c.Value = val
		c.HasValue = true
	}
	return c, nil
}

// EnsureTerminator appends the line terminator to a raw payload when missing.
func EnsureTerminator(payload string) string {
	if strings.HasSuffix(payload, Terminator) {
		return payload
	}
	return strings.TrimRight(payload, "\r\n") + Terminator
}
