package protocol

import (
	"strings"

	"caen-hv-bridge/internal/errors"
)

const (
	successPrefix = "#CMD:OK"
	errorPrefix   = "#ERR"
	valueMarker   = "VAL:"

	// UnrecognizedPrefix starts the error text of replies matching neither grammar.
	UnrecognizedPrefix = "unrecognized_reply:"
)

// Reply is one decoded device answer.
type Reply struct {
	Raw      string
	OK       bool
	Value    string
	HasValue bool
	Error    string
}

// ParseReply classifies a reply line. It never fails: every line yields a Reply.
//
// A line starting with "#CMD:OK" is a success even if it carries an error
// marker further on.
func ParseReply(line string) Reply {
	s := strings.TrimSpace(line)
	r := Reply{Raw: s}

	switch {
	case strings.HasPrefix(s, successPrefix):
		r.OK = true
		for _, tok := range strings.Split(s, ",") {
			if _, after, found := strings.Cut(tok, valueMarker); found {
				r.Value = strings.TrimRight(after, ";")
				r.HasValue = true
				break
			}
		}
	case strings.HasPrefix(s, errorPrefix):
		r.Error = s
	default:
		r.Error = UnrecognizedPrefix + s
	}
	return r
}

// Err returns a ProtocolError describing a failed reply, or nil when r.OK.
func (r Reply) Err() error {
	if r.OK {
		return nil
	}
	return errors.NewProtocolError("reply", r.Error, r.Raw)
}

// Float returns the reply value as a float when the reply succeeded and the
// value parses.
func (r Reply) Float() (float64, bool) {
	if !r.OK || !r.HasValue {
		return 0, false
	}
	return ParseFloatOpt(r.Value)
}

// Int returns the reply value as an integer when the reply succeeded and the
// value parses.
func (r Reply) Int() (int64, bool) {
	if !r.OK || !r.HasValue {
		return 0, false
	}
	return ParseIntOpt(r.Value)
}
