// Package telemetry defines the field set produced by one sampling tick and
// the sinks that persist it.
package telemetry

import (
	"sort"
)

// Metric names of a field set. The 13 STAT flags use the names of
// protocol.StatusBits.
const (
	FieldVSet = "VSET"
	FieldVMon = "VMON"
	FieldISet = "ISET"
	FieldIMon = "IMON"
	FieldStat = "STAT"
	FieldTrip = "TRIP"
)

// FieldSet maps a metric name to its value. A nil value marks a reading that
// was unavailable this tick; it is distinct from zero.
// VSET, VMON, ISET, IMON and TRIP hold float64, STAT holds int64 and the
// STAT flags hold int (0 or 1).
type FieldSet map[string]any

// Present returns a copy without absent values.
func (f FieldSet) Present() map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

// Missing returns the sorted names of absent values.
func (f FieldSet) Missing() []string {
	var names []string
	for k, v := range f {
		if v == nil {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// Float returns a float field.
func (f FieldSet) Float(name string) (float64, bool) {
	v, ok := f[name].(float64)
	return v, ok
}

// Int returns an integer field (STAT or a flag).
func (f FieldSet) Int(name string) (int64, bool) {
	switch v := f[name].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}
