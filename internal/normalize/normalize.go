// Package normalize maps decoded packets to clinical records.
package normalize

import (
	"errors"
	"fmt"

	"example.com/uploadcore/internal/pages"
	"example.com/uploadcore/internal/records"
)

var (
	ErrNoMapping    = errors.New("no mapping for packet type")
	ErrNoDeviceTime = errors.New("record has no device time")
	ErrFieldRange   = errors.New("field value out of range")
)

// MapFunc converts one packet. It must be pure: the same packet always gives
// an equal record.
type MapFunc func(pages.Packet) (records.Record, error)

// Normalizer dispatches packets to mapping functions by packet type name.
type Normalizer struct {
	maps map[string]MapFunc
}

func New(maps map[string]MapFunc) *Normalizer {
	n := &Normalizer{maps: make(map[string]MapFunc, len(maps))}
	for name, fn := range maps {
		n.maps[name] = fn
	}
	return n
}

// Handles reports whether a mapping exists for the packet type.
func (n *Normalizer) Handles(packetType string) bool {
	_, ok := n.maps[packetType]
	return ok
}

// Normalize maps p and fills the provenance and device time the mapping
// left unset.
func (n *Normalizer) Normalize(p pages.Packet) (records.Record, error) {
	fn, ok := n.maps[p.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoMapping, p.Type)
	}
	r, err := fn(p)
	if err != nil {
		return nil, fmt.Errorf("%s packet %d: %w", p.Type, p.Index, err)
	}
	b := r.Header()
	if b.DeviceTime.Time().IsZero() {
		if p.Date.IsZero() {
			return nil, fmt.Errorf("%s packet %d: %w", p.Type, p.Index, ErrNoDeviceTime)
		}
		b.DeviceTime = records.LocalTime(p.Date)
	}
	if len(b.Payload.LogIndices) == 0 {
		b.Payload.LogIndices = []int{p.Index}
	}
	return r, nil
}
