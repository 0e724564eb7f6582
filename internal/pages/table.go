package pages

import (
	"fmt"
	"sort"
	"time"

	"example.com/uploadcore/internal/structs"
)

type DateKind string

const (
	DateNone DateKind = ""
	// DateComponents reads year, month, day, hour, minute and second fields.
	// Two-digit years are taken as 20xx.
	DateComponents DateKind = "components"
	// DateEpochSeconds reads a "seconds" field counted from the table epoch.
	DateEpochSeconds DateKind = "epoch"
)

type Compression string

const (
	CompressionNone Compression = "none"
	CompressionLZO  Compression = "lzo"
)

// Section is one of the head, date or body layouts of a packet type.
type Section struct {
	Format structs.Format
	// Len is the declared byte length. It must equal Format.Size().
	Len int
}

// PacketType describes one packet layout. A packet on the wire is the
// discriminator byte followed by the head, date and body sections.
type PacketType struct {
	Name          string
	Discriminator byte
	Head          Section
	Date          Section
	Body          Section
	DateKind      DateKind
}

// Len is the total wire length including the discriminator.
func (p PacketType) Len() int {
	return 1 + p.Head.Len + p.Date.Len + p.Body.Len
}

func (p PacketType) validate() error {
	for _, s := range []struct {
		name string
		sec  Section
	}{{"head", p.Head}, {"date", p.Date}, {"body", p.Body}} {
		if got := s.sec.Format.Size(); got != s.sec.Len {
			return fmt.Errorf("%w: %s %s declares %d bytes, layout is %d", ErrLayoutMismatch, p.Name, s.name, s.sec.Len, got)
		}
	}
	switch p.DateKind {
	case DateNone:
		if p.Date.Len != 0 {
			return fmt.Errorf("%w: %s has a date section but no date kind", ErrLayoutMismatch, p.Name)
		}
	case DateComponents, DateEpochSeconds:
		if p.Date.Len == 0 {
			return fmt.Errorf("%w: %s date kind %s with empty date section", ErrLayoutMismatch, p.Name, p.DateKind)
		}
	default:
		return fmt.Errorf("%s: unknown date kind %q", p.Name, p.DateKind)
	}
	return nil
}

type TableOptions struct {
	// PageSize is the maximum page length after decompression; 0 is unlimited.
	PageSize    int
	Compression Compression
	// EndMarker stops packet parsing within a page unless NoEndMarker is set.
	EndMarker   byte
	NoEndMarker bool
	// Spanning lets a packet continue into the next page.
	Spanning bool
	Epoch    time.Time
}

// Table is an immutable set of packet types keyed by discriminator.
type Table struct {
	family string
	opts   TableOptions
	types  map[byte]PacketType
}

// NewTable validates types and builds a table.
func NewTable(family string, opts TableOptions, types ...PacketType) (*Table, error) {
	if opts.Compression == "" {
		opts.Compression = CompressionNone
	}
	if opts.Compression != CompressionNone && opts.Compression != CompressionLZO {
		return nil, fmt.Errorf("%s: unknown compression %q", family, opts.Compression)
	}
	t := &Table{family: family, opts: opts, types: make(map[byte]PacketType, len(types))}
	names := make(map[string]bool, len(types))
	for _, pt := range types {
		if err := pt.validate(); err != nil {
			return nil, err
		}
		if _, exists := t.types[pt.Discriminator]; exists {
			return nil, fmt.Errorf("%w: 0x%02X", ErrDuplicateDiscriminator, pt.Discriminator)
		}
		if names[pt.Name] {
			return nil, fmt.Errorf("%s: duplicate packet type name %q", family, pt.Name)
		}
		if !opts.NoEndMarker && pt.Discriminator == opts.EndMarker {
			return nil, fmt.Errorf("%s: discriminator 0x%02X collides with end marker", pt.Name, pt.Discriminator)
		}
		if pt.DateKind == DateEpochSeconds && opts.Epoch.IsZero() {
			return nil, fmt.Errorf("%s: epoch date without table epoch", pt.Name)
		}
		names[pt.Name] = true
		t.types[pt.Discriminator] = pt
	}
	return t, nil
}

func (t *Table) Family() string { return t.family }

func (t *Table) Options() TableOptions { return t.opts }

func (t *Table) Lookup(disc byte) (PacketType, bool) {
	if t == nil {
		return PacketType{}, false
	}
	pt, ok := t.types[disc]
	return pt, ok
}

// Types returns the packet types ordered by discriminator.
func (t *Table) Types() []PacketType {
	out := make([]PacketType, 0, len(t.types))
	for _, pt := range t.types {
		out = append(out, pt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Discriminator < out[j].Discriminator })
	return out
}

func (t *Table) decodeDate(pt PacketType, rec structs.Record) (time.Time, error) {
	switch pt.DateKind {
	case DateComponents:
		return componentDate(rec)
	case DateEpochSeconds:
		return t.opts.Epoch.Add(time.Duration(rec.Num("seconds")) * time.Second), nil
	}
	return time.Time{}, nil
}

// componentDate reads the year, month, day, hour, minute and second fields.
func componentDate(rec structs.Record) (time.Time, error) {
	return ComponentDate(int(rec.Num("year")), int(rec.Num("month")), int(rec.Num("day")),
		int(rec.Num("hour")), int(rec.Num("minute")), int(rec.Num("second")))
}

// ComponentDate builds a naive local time, rejecting values that time.Date
// would silently normalise. Years below 100 are taken as 20xx.
func ComponentDate(year, month, day, hour, minute, second int) (time.Time, error) {
	if year < 100 {
		year += 2000
	}
	if month < 1 || month > 12 || day < 1 || hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 59 {
		return time.Time{}, fmt.Errorf("%w: %04d-%02d-%02d %02d:%02d:%02d", ErrInvalidDate, year, month, day, hour, minute, second)
	}
	ts := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
	if ts.Day() != day {
		return time.Time{}, fmt.Errorf("%w: day %d out of range for %04d-%02d", ErrInvalidDate, day, year, month)
	}
	return ts, nil
}

// ComponentRecord is the inverse of ComponentDate for one-byte fields.
func ComponentRecord(ts time.Time) structs.Record {
	u8 := func(v int) structs.Value { return structs.Uint(structs.KindUint8, uint32(v)) }
	return structs.Record{
		"year":   u8(ts.Year() - 2000),
		"month":  u8(int(ts.Month())),
		"day":    u8(ts.Day()),
		"hour":   u8(ts.Hour()),
		"minute": u8(ts.Minute()),
		"second": u8(ts.Second()),
	}
}

// EncodePacket lays out one packet of the named type.
func (t *Table) EncodePacket(name string, head, date, body structs.Record) ([]byte, error) {
	var pt PacketType
	found := false
	for _, cand := range t.types {
		if cand.Name == name {
			pt, found = cand, true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPacketType, name)
	}
	buf := make([]byte, pt.Len())
	buf[0] = pt.Discriminator
	off := 1
	for _, s := range []struct {
		sec Section
		rec structs.Record
	}{{pt.Head, head}, {pt.Date, date}, {pt.Body, body}} {
		if _, err := structs.Pack(s.rec, s.sec.Format, buf, off); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		off += s.sec.Len
	}
	return buf, nil
}
