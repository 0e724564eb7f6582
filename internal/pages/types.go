// Package pages turns raw device pages into decoded packets using a
// per-family packet type table.
package pages

import (
	"errors"
	"fmt"
	"time"

	"example.com/uploadcore/internal/structs"
)

var (
	ErrUnknownPacketType      = errors.New("unknown packet type")
	ErrIncompletePageSequence = errors.New("incomplete page sequence")
	ErrPageOrder              = errors.New("page ordinal out of order")
	ErrPageTooLarge           = errors.New("page exceeds table page size")
	ErrLayoutMismatch         = errors.New("declared section length does not match layout")
	ErrDuplicateDiscriminator = errors.New("duplicate packet discriminator")
	ErrInvalidDate            = errors.New("invalid packet date")
)

// RawPage is one block read from the device.
type RawPage struct {
	Ordinal int    `json:"ordinal"`
	Data    []byte `json:"data"`
	NAK     bool   `json:"nak,omitempty"`
	Valid   bool   `json:"valid"`
}

// Packet is one structurally decoded packet.
type Packet struct {
	Type          string
	Discriminator byte
	Head          structs.Record
	// Date is the device-local wall time, carried in UTC with no offset
	// applied. It is zero for types without a date section.
	Date time.Time
	Body structs.Record
	// Page is the ordinal of the page the packet starts in.
	Page int
	// Index counts packets across the whole read.
	Index  int
	Offset int
}

type GapReason string

const (
	GapNAK         GapReason = "nak"
	GapInvalid     GapReason = "invalid"
	GapMissing     GapReason = "missing"
	GapCorrupt     GapReason = "corrupt"
	GapUnknownType GapReason = "unknown_packet_type"
	GapBadPacket   GapReason = "bad_packet"
	GapTruncated   GapReason = "truncated"
)

// Gap is a page or part of a page that produced no packets.
type Gap struct {
	Page   int       `json:"page"`
	Reason GapReason `json:"reason"`
	// Count is the number of consecutive missing ordinals for GapMissing.
	Count         int   `json:"count,omitempty"`
	Offset        int   `json:"offset,omitempty"`
	Discriminator byte  `json:"discriminator,omitempty"`
	Err           error `json:"-"`
}

func (g Gap) String() string {
	s := fmt.Sprintf("page %d: %s", g.Page, g.Reason)
	if g.Count > 1 {
		s += fmt.Sprintf(" x%d", g.Count)
	}
	if g.Err != nil {
		s += ": " + g.Err.Error()
	}
	return s
}

// PageError is a failure that stops the read at a page.
type PageError struct {
	Page   int
	Offset int
	Err    error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d offset %d: %v", e.Page, e.Offset, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

// Result is the output of a read: packets in page order plus every gap seen.
type Result struct {
	Packets []Packet
	Gaps    []Gap
}
