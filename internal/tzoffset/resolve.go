// Package tzoffset converts device-local timestamps to UTC from an ordered
// table of offset transitions.
package tzoffset

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"example.com/uploadcore/internal/records"
)

var (
	ErrAmbiguousTransitionTable = errors.New("transition table not strictly ordered")
	ErrUnresolvedTimestamp      = errors.New("timestamp outside known transition range")
	ErrOffsetRange              = errors.New("timezone offset out of range")
)

const (
	MinOffset = -720
	MaxOffset = 840
)

// Offsets are the corrections applied to one stretch of device time.
type Offsets struct {
	// Timezone is in minutes east of UTC.
	Timezone int `json:"timezoneOffset" yaml:"timezoneOffset"`
	// ClockDrift and Conversion are in milliseconds.
	ClockDrift int64 `json:"clockDriftOffset" yaml:"clockDriftOffset"`
	Conversion int64 `json:"conversionOffset" yaml:"conversionOffset"`
}

// Transition starts a new set of offsets at a device-local wall time. A
// transition derived from the device log also carries the log index of the
// clock change; records at or after that index take its offsets.
type Transition struct {
	Effective time.Time `json:"effective"`
	LogIndex  *int      `json:"logIndex,omitempty"`
	Offsets
}

type Options struct {
	// RejectExtrapolation fails timestamps outside [From, Until] instead of
	// using the nearest known offsets. From defaults to the first
	// transition; a zero Until leaves the range open ended.
	RejectExtrapolation bool
	From                time.Time
	Until               time.Time
}

// Resolution is the UTC instant of a local timestamp and the offsets used.
type Resolution struct {
	Time time.Time
	Offsets
}

// Resolver is an immutable, validated transition table, keyed either by
// wall time or by log index.
type Resolver struct {
	transitions []Transition
	base        Offsets
	opts        Options
	byIndex     bool
}

// NewResolver validates that transitions are strictly ordered by effective
// time and that every offset is a real timezone offset.
func NewResolver(transitions []Transition, base Offsets, opts Options) (*Resolver, error) {
	if err := checkOffset(base.Timezone); err != nil {
		return nil, fmt.Errorf("base: %w", err)
	}
	ts := make([]Transition, len(transitions))
	for i, tr := range transitions {
		if err := checkOffset(tr.Timezone); err != nil {
			return nil, fmt.Errorf("transition %d: %w", i, err)
		}
		if i > 0 && !tr.Effective.After(transitions[i-1].Effective) {
			return nil, fmt.Errorf("%w: transition %d at %s does not follow %s", ErrAmbiguousTransitionTable,
				i, records.LocalTime(tr.Effective), records.LocalTime(transitions[i-1].Effective))
		}
		ts[i] = Transition{Effective: naive(tr.Effective), Offsets: tr.Offsets}
	}
	if opts.From.IsZero() && len(ts) > 0 {
		opts.From = ts[0].Effective
	}
	return &Resolver{transitions: ts, base: base, opts: opts}, nil
}

// NewIndexedResolver builds a table that selects offsets by log index, as
// returned by Bootstrap. Wall times may run backwards across a clock change,
// so they are only used for the extrapolation range when one is set.
func NewIndexedResolver(transitions []Transition, base Offsets, opts Options) (*Resolver, error) {
	if err := checkOffset(base.Timezone); err != nil {
		return nil, fmt.Errorf("base: %w", err)
	}
	ts := make([]Transition, len(transitions))
	for i, tr := range transitions {
		if err := checkOffset(tr.Timezone); err != nil {
			return nil, fmt.Errorf("transition %d: %w", i, err)
		}
		if tr.LogIndex == nil {
			return nil, fmt.Errorf("%w: transition %d has no log index", ErrAmbiguousTransitionTable, i)
		}
		if i > 0 && *tr.LogIndex <= *transitions[i-1].LogIndex {
			return nil, fmt.Errorf("%w: transition %d at index %d does not follow index %d", ErrAmbiguousTransitionTable,
				i, *tr.LogIndex, *transitions[i-1].LogIndex)
		}
		idx := *tr.LogIndex
		ts[i] = Transition{Effective: naive(tr.Effective), LogIndex: &idx, Offsets: tr.Offsets}
	}
	return &Resolver{transitions: ts, base: base, opts: opts, byIndex: true}, nil
}

func checkOffset(m int) error {
	if m < MinOffset || m > MaxOffset {
		return fmt.Errorf("%w: %d minutes", ErrOffsetRange, m)
	}
	return nil
}

// naive drops any location so wall clock fields compare directly.
func naive(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// Transitions returns a copy of the table.
func (r *Resolver) Transitions() []Transition {
	return append([]Transition(nil), r.transitions...)
}

func (r *Resolver) Base() Offsets { return r.base }

// Indexed reports whether offsets are selected by log index.
func (r *Resolver) Indexed() bool { return r.byIndex }

// Lookup returns the offsets in force at local: those of the latest
// transition at or before it, or the base offsets. An indexed table needs
// the record's log position and must use LookupAt.
func (r *Resolver) Lookup(local time.Time) (Offsets, error) {
	return r.LookupAt(local, -1)
}

// LookupAt is Lookup for a record at log index. Wall-time tables ignore
// index.
func (r *Resolver) LookupAt(local time.Time, index int) (Offsets, error) {
	local = naive(local)
	if r.opts.RejectExtrapolation {
		if (!r.opts.From.IsZero() && local.Before(r.opts.From)) || (!r.opts.Until.IsZero() && local.After(r.opts.Until)) {
			return Offsets{}, fmt.Errorf("%w: %s", ErrUnresolvedTimestamp, records.LocalTime(local))
		}
	}
	var i int
	if r.byIndex {
		if index < 0 {
			return Offsets{}, fmt.Errorf("%w: %s has no log index", ErrUnresolvedTimestamp, records.LocalTime(local))
		}
		i = sort.Search(len(r.transitions), func(i int) bool {
			return *r.transitions[i].LogIndex > index
		})
	} else {
		i = sort.Search(len(r.transitions), func(i int) bool {
			return r.transitions[i].Effective.After(local)
		})
	}
	if i == 0 {
		return r.base, nil
	}
	return r.transitions[i-1].Offsets, nil
}

// Resolve converts a device-local timestamp to UTC.
func (r *Resolver) Resolve(local time.Time) (Resolution, error) {
	return r.ResolveAt(local, -1)
}

// ResolveAt converts the timestamp of the record at log index to UTC.
func (r *Resolver) ResolveAt(local time.Time, index int) (Resolution, error) {
	off, err := r.LookupAt(local, index)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Time: Apply(local, off), Offsets: off}, nil
}

// Apply subtracts the timezone and conversion offsets from a local time.
func Apply(local time.Time, off Offsets) time.Time {
	return naive(local).
		Add(-time.Duration(off.Timezone) * time.Minute).
		Add(-time.Duration(off.Conversion) * time.Millisecond)
}

// Fill sets the UTC time and offsets of rec from its device time.
func (r *Resolver) Fill(rec records.Record) error {
	b := rec.Header()
	index := -1
	if len(b.Payload.LogIndices) > 0 {
		index = b.Payload.LogIndices[0]
	}
	res, err := r.ResolveAt(b.DeviceTime.Time(), index)
	if err != nil {
		return err
	}
	b.Time = res.Time
	b.TimezoneOffset = res.Timezone
	b.ClockDriftOffset = res.ClockDrift
	b.ConversionOffset = res.Conversion
	return nil
}

// Resolve is the one-shot form: offsets are in minutes and the table is
// validated on every call.
func Resolve(local time.Time, transitions []Transition, baseOffset int) (time.Time, error) {
	r, err := NewResolver(transitions, Offsets{Timezone: baseOffset}, Options{})
	if err != nil {
		return time.Time{}, err
	}
	res, err := r.Resolve(local)
	if err != nil {
		return time.Time{}, err
	}
	return res.Time, nil
}
