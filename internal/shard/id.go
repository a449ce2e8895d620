package shard

import "fmt"

// DurationClass is one of a small fixed set of shard window widths. A
// series is pinned to one class for its lifetime (spec.md §4.3).
type DurationClass uint8

const (
	DurationHour DurationClass = iota
	DurationDay
	DurationWeek
)

// Seconds returns the window width for the class.
func (d DurationClass) Seconds() int64 {
	switch d {
	case DurationHour:
		return 3600
	case DurationDay:
		return 86400
	case DurationWeek:
		return 7 * 86400
	default:
		return 0
	}
}

func (d DurationClass) String() string {
	switch d {
	case DurationHour:
		return "hour"
	case DurationDay:
		return "day"
	case DurationWeek:
		return "week"
	default:
		return fmt.Sprintf("duration-class(%d)", uint8(d))
	}
}

// ParseDurationClass maps a config string ("hour", "day", "week") to its
// DurationClass, so the duration every new series is pinned to (spec.md
// §4.3) comes from configuration rather than a hardcoded constant.
func ParseDurationClass(s string) (DurationClass, error) {
	switch s {
	case "hour":
		return DurationHour, nil
	case "day":
		return DurationDay, nil
	case "week":
		return DurationWeek, nil
	default:
		return 0, fmt.Errorf("shard: unknown duration class %q", s)
	}
}

// windowIndexMask keeps the low 56 bits of an ID for the window index,
// leaving the top byte for the duration class.
const windowIndexMask = 0x00FFFFFFFFFFFFFF

// ID identifies one shard file: a duration class and a window index within
// that class (window k spans [k*duration, (k+1)*duration)).
type ID uint64

// NewID packs a duration class and an absolute window-start timestamp
// (seconds) into a shard ID.
func NewID(class DurationClass, windowStart int64) ID {
	idx := windowStart / class.Seconds()
	return ID(uint64(class)<<56 | uint64(idx)&windowIndexMask)
}

func (id ID) Class() DurationClass { return DurationClass(id >> 56) }

func (id ID) WindowIndex() int64 { return int64(uint64(id) & windowIndexMask) }

func (id ID) WindowStart() int64 { return id.WindowIndex() * id.Class().Seconds() }

func (id ID) String() string {
	return fmt.Sprintf("%s-%d", id.Class(), id.WindowIndex())
}

// WindowStartFor floors ts (seconds) to the start of the window of class
// that contains it. Handles negative timestamps via floor (not truncating)
// division so pre-epoch series still land in a sensible window.
func WindowStartFor(class DurationClass, ts int64) int64 {
	sec := class.Seconds()
	q := ts / sec
	if ts%sec != 0 && (ts < 0) != (sec < 0) {
		q--
	}
	return q * sec
}
