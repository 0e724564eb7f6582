package structs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind is one entry of the closed set of field kinds understood by the codec.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindUint8
	KindInt8
	KindUint16LE
	KindUint16BE
	KindInt16LE
	KindInt16BE
	KindUint32LE
	KindUint32BE
	KindInt32LE
	KindInt32BE
	KindFloat32LE
	KindFloat32BE
	KindZString
	KindString
	KindBytes
	KindPad
)

var ErrBadFormat = errors.New("malformed struct format")

// kindCodes maps the format mini-language characters to kinds.
var kindCodes = map[byte]Kind{
	'b': KindUint8,
	'y': KindInt8,
	's': KindUint16LE,
	'S': KindUint16BE,
	'h': KindInt16LE,
	'H': KindInt16BE,
	'i': KindUint32LE,
	'I': KindUint32BE,
	'n': KindInt32LE,
	'N': KindInt32BE,
	'f': KindFloat32LE,
	'F': KindFloat32BE,
	'z': KindZString,
	'Z': KindString,
	'B': KindBytes,
	'.': KindPad,
}

// Width returns the fixed byte width of numeric kinds and 0 for kinds whose
// width is declared per field.
func (k Kind) Width() int {
	switch k {
	case KindUint8, KindInt8:
		return 1
	case KindUint16LE, KindUint16BE, KindInt16LE, KindInt16BE:
		return 2
	case KindUint32LE, KindUint32BE, KindInt32LE, KindInt32BE, KindFloat32LE, KindFloat32BE:
		return 4
	default:
		return 0
	}
}

func (k Kind) sized() bool {
	return k == KindZString || k == KindString || k == KindBytes || k == KindPad
}

func (k Kind) String() string {
	for c, kind := range kindCodes {
		if kind == k {
			return string(c)
		}
	}
	return "?"
}

// Field is one element of a Format.
type Field struct {
	Name string
	Kind Kind
	// Len is the storage length of string, byte and padding fields.
	Len int
}

// Width is the number of bytes the field occupies.
func (f Field) Width() int {
	if f.Kind.sized() {
		return f.Len
	}
	return f.Kind.Width()
}

// HasValue reports whether the field carries a value (padding does not).
func (f Field) HasValue() bool {
	return f.Kind != KindPad
}

// Format is an ordered field layout.
type Format []Field

// Size returns the total byte width of the format.
func (f Format) Size() int {
	total := 0
	for _, fld := range f {
		total += fld.Width()
	}
	return total
}

// ValueCount returns the number of value-bearing fields.
func (f Format) ValueCount() int {
	n := 0
	for _, fld := range f {
		if fld.HasValue() {
			n++
		}
	}
	return n
}

// Names returns the names of value-bearing fields in order.
func (f Format) Names() []string {
	out := make([]string, 0, len(f))
	for _, fld := range f {
		if fld.HasValue() {
			out = append(out, fld.Name)
		}
	}
	return out
}

// Parse compiles a format string such as "2bs4.i16Z" into a Format. A count
// before a numeric kind repeats it; before z, Z, B or . it is the byte length.
// Names are assigned in order to value-bearing fields; fields without a name
// get "_field_N".
func Parse(format string, names ...string) (Format, error) {
	var out Format
	nameIdx := 0
	nextName := func() string {
		idx := nameIdx
		nameIdx++
		if idx < len(names) && names[idx] != "" {
			return names[idx]
		}
		return "_field_" + strconv.Itoa(idx)
	}
	i := 0
	for i < len(format) {
		c := format[i]
		if c == ' ' {
			i++
			continue
		}
		start := i
		for i < len(format) && format[i] >= '0' && format[i] <= '9' {
			i++
		}
		count := 1
		if i > start {
			n, err := strconv.Atoi(format[start:i])
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
			}
			count = n
		}
		if i >= len(format) {
			return nil, fmt.Errorf("%w: dangling count at offset %d", ErrBadFormat, start)
		}
		kind, ok := kindCodes[format[i]]
		if !ok {
			return nil, fmt.Errorf("%w: unknown field kind %q at offset %d", ErrBadFormat, format[i], i)
		}
		i++
		if kind.sized() {
			fld := Field{Kind: kind, Len: count}
			if kind != KindPad {
				fld.Name = nextName()
			}
			out = append(out, fld)
			continue
		}
		for j := 0; j < count; j++ {
			out = append(out, Field{Name: nextName(), Kind: kind})
		}
	}
	if nameIdx < len(names) {
		return nil, fmt.Errorf("%w: %d names for %d fields", ErrBadFormat, len(names), nameIdx)
	}
	return out, nil
}

// MustParse is Parse for static tables; it panics on error.
func MustParse(format string, names ...string) Format {
	f, err := Parse(format, names...)
	if err != nil {
		panic(err)
	}
	return f
}

// String renders the format back into the mini-language, one field at a time.
func (f Format) String() string {
	var b strings.Builder
	for _, fld := range f {
		if fld.Kind.sized() {
			b.WriteString(strconv.Itoa(fld.Len))
		}
		b.WriteString(fld.Kind.String())
	}
	return b.String()
}
