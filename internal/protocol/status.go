package protocol

// StatusBit names one bit of the STAT word.
type StatusBit struct {
	Name string
	Mask uint16
}

// StatusBits is the STAT bit table in bit order.
var StatusBits = [...]StatusBit{
	{"IS_ON", 0x0001},     // channel on
	{"IS_UP", 0x0002},     // ramping up
	{"IS_DOWN", 0x0004},   // ramping down
	{"IS_OVC", 0x0008},    // overcurrent
	{"IS_OVV", 0x0010},    // overvoltage
	{"IS_UNV", 0x0020},    // undervoltage
	{"IS_MAXV", 0x0040},   // max voltage reached
	{"IS_TRIP", 0x0080},   // tripped
	{"IS_MAXPW", 0x0100},  // max power
	{"IS_TWARN", 0x0200},  // temperature > 80C
	{"IS_OVT", 0x0400},    // temperature > 125C
	{"IS_KILL", 0x0800},   // channel killed
	{"IS_INTLCK", 0x1000}, // interlock
}

// DecodeStatus maps every flag of the table to 1 when its bit is set in word
// and 0 otherwise. Bits outside the table are ignored.
func DecodeStatus(word uint16) map[string]int {
	out := make(map[string]int, len(StatusBits))
	for _, b := range StatusBits {
		if word&b.Mask != 0 {
			out[b.Name] = 1
		} else {
			out[b.Name] = 0
		}
	}
	return out
}

// ActiveFlags returns the names of the set flags in table order.
func ActiveFlags(word uint16) []string {
	var names []string
	for _, b := range StatusBits {
		if word&b.Mask != 0 {
			names = append(names, b.Name)
		}
	}
	return names
}
