package tzoffset

import (
	"fmt"
	"math"
	"sort"
	"time"
)

const (
	roundToMinutes = 30
	// changes larger than this are clock resets rather than timezone moves
	maxTimezoneShift = 1560
	dayMinutes       = 1440
)

// Change is a device clock change read from the data itself.
type Change struct {
	From time.Time
	To   time.Time
	// Index orders changes by position in the device log.
	Index int
}

// Bootstrap derives a transition table from the clock changes in an upload.
// current is the timezone offset in force at the most recent record. Changes
// are walked from newest to oldest: each one shifts the timezone offset by
// its size rounded to 30 minutes, and the remainder accumulates as clock
// drift. Shifts too large to be a timezone move go to the conversion offset.
// The returned base offsets apply before the oldest change. Transitions are
// keyed by the log index of their change, so they belong in a resolver from
// NewIndexedResolver: the record of the change and everything logged after
// it take the new offsets.
func Bootstrap(changes []Change, current int) ([]Transition, Offsets, error) {
	if err := checkOffset(current); err != nil {
		return nil, Offsets{}, err
	}
	sorted := append([]Change(nil), changes...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index > sorted[j].Index })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Index == sorted[i-1].Index {
			return nil, Offsets{}, fmt.Errorf("%w: two clock changes at index %d", ErrAmbiguousTransitionTable, sorted[i].Index)
		}
	}

	off := Offsets{Timezone: current}
	out := make([]Transition, len(sorted))
	for i, ch := range sorted {
		idx := ch.Index
		out[len(sorted)-1-i] = Transition{Effective: naive(ch.To), LogIndex: &idx, Offsets: off}
		off = adjust(off, ch)
	}
	return out, off, nil
}

func adjust(off Offsets, ch Change) Offsets {
	raw := naive(ch.From).Sub(naive(ch.To))
	rawMs := raw.Milliseconds()
	// halves round up, toward positive infinity
	diff := int(math.Floor(raw.Minutes()/roundToMinutes+0.5)) * roundToMinutes
	if abs(diff) <= maxTimezoneShift {
		off.Timezone += diff
		off.ClockDrift += rawMs - int64(diff)*int64(time.Minute/time.Millisecond)
	} else {
		off.Conversion += rawMs
	}
	dayMs := int64(dayMinutes) * int64(time.Minute/time.Millisecond)
	for off.Timezone > MaxOffset {
		off.Timezone -= dayMinutes
		off.Conversion += dayMs
	}
	for off.Timezone < MinOffset {
		off.Timezone += dayMinutes
		off.Conversion -= dayMs
	}
	return off
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
