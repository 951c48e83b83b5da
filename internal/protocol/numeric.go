package protocol

import (
	"strconv"
	"strings"
)

// ParseFloatOpt parses a decimal float token; ok is false for anything malformed.
func ParseFloatOpt(s string) (v float64, ok bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ParseIntOpt parses a decimal integer or a "0x"-prefixed hexadecimal one
// (prefix case-insensitive); ok is false for anything malformed.
func ParseIntOpt(s string) (v int64, ok bool) {
	t := strings.ToLower(strings.TrimSpace(s))
	var (
		n   int64
		err error
	)
	if hex, found := strings.CutPrefix(t, "0x"); found {
		n, err = strconv.ParseInt(hex, 16, 64)
	} else {
		n, err = strconv.ParseInt(t, 10, 64)
	}
	if err != nil {
		return 0, false
	}
	return n, true
}
