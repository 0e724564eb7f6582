// Package structs decodes and encodes fixed binary layouts described by a
// Format, the way device pages lay out their packet heads, dates and bodies.
package structs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrBufferUnderrun     = errors.New("buffer underrun")
	ErrFieldCountMismatch = errors.New("field count mismatch")
	ErrValueOutOfRange    = errors.New("value out of range")
)

// FieldError attaches the failing field to a codec error.
type FieldError struct {
	Field  string
	Kind   Kind
	Offset int
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s (%s) at offset %d: %v", e.Field, e.Kind, e.Offset, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Value is one decoded field. Integer kinds use Num, float kinds Float,
// string kinds Str and byte kinds Bytes.
type Value struct {
	Kind  Kind
	Num   int64
	Float float64
	Str   string
	Bytes []byte
}

func Uint(k Kind, v uint32) Value { return Value{Kind: k, Num: int64(v)} }

func Int(k Kind, v int64) Value { return Value{Kind: k, Num: v} }

func Str(k Kind, s string) Value { return Value{Kind: k, Str: s} }

func Raw(b []byte) Value { return Value{Kind: KindBytes, Bytes: b} }

func Float(k Kind, f float64) Value { return Value{Kind: k, Float: f} }

// Decode reads the value-bearing fields of f from buf starting at off.
func Decode(buf []byte, off int, f Format) ([]Value, error) {
	size := f.Size()
	if off < 0 || off+size > len(buf) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrBufferUnderrun, size, off, len(buf))
	}
	out := make([]Value, 0, f.ValueCount())
	pos := off
	for _, fld := range f {
		w := fld.Width()
		b := buf[pos : pos+w]
		pos += w
		if !fld.HasValue() {
			continue
		}
		out = append(out, decodeField(fld, b))
	}
	return out, nil
}

// extractUint32 assembles a little-endian word from its bytes.
// The top byte is scaled by multiplication so the result stays non-negative
// at 0xFFFFFFFF.
func extractUint32(b0, b1, b2, b3 byte) int64 {
	return 16777216*int64(b3) + int64(b2)<<16 + int64(b1)<<8 + int64(b0)
}

func decodeField(fld Field, b []byte) Value {
	v := Value{Kind: fld.Kind}
	switch fld.Kind {
	case KindUint8:
		v.Num = int64(b[0])
	case KindInt8:
		v.Num = int64(int8(b[0]))
	case KindUint16LE:
		v.Num = int64(binary.LittleEndian.Uint16(b))
	case KindUint16BE:
		v.Num = int64(binary.BigEndian.Uint16(b))
	case KindInt16LE:
		v.Num = int64(int16(binary.LittleEndian.Uint16(b)))
	case KindInt16BE:
		v.Num = int64(int16(binary.BigEndian.Uint16(b)))
	case KindUint32LE:
		v.Num = extractUint32(b[0], b[1], b[2], b[3])
	case KindUint32BE:
		v.Num = extractUint32(b[3], b[2], b[1], b[0])
	case KindInt32LE:
		v.Num = int64(int32(binary.LittleEndian.Uint32(b)))
	case KindInt32BE:
		v.Num = int64(int32(binary.BigEndian.Uint32(b)))
	case KindFloat32LE:
		v.Float = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case KindFloat32BE:
		v.Float = float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
	case KindZString:
		n := 0
		for n < len(b) && b[n] != 0 {
			n++
		}
		v.Str = string(b[:n])
	case KindString:
		v.Str = string(b)
	case KindBytes:
		v.Bytes = append([]byte(nil), b...)
	}
	return v
}

// Encode writes vals into buf at off according to f and returns the number of
// bytes written. Padding bytes are zeroed.
func Encode(vals []Value, f Format, buf []byte, off int) (int, error) {
	if len(vals) != f.ValueCount() {
		return 0, fmt.Errorf("%w: %d values for %d fields", ErrFieldCountMismatch, len(vals), f.ValueCount())
	}
	size := f.Size()
	if off < 0 || off+size > len(buf) {
		return 0, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrBufferUnderrun, size, off, len(buf))
	}
	pos := off
	vi := 0
	for _, fld := range f {
		w := fld.Width()
		b := buf[pos : pos+w]
		if !fld.HasValue() {
			clear(b)
			pos += w
			continue
		}
		if err := encodeField(fld, vals[vi], b); err != nil {
			return 0, &FieldError{Field: fld.Name, Kind: fld.Kind, Offset: pos, Err: err}
		}
		vi++
		pos += w
	}
	return size, nil
}

func checkRange(n, lo, hi int64) error {
	if n < lo || n > hi {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrValueOutOfRange, n, lo, hi)
	}
	return nil
}

func encodeField(fld Field, v Value, b []byte) error {
	switch fld.Kind {
	case KindUint8:
		if err := checkRange(v.Num, 0, math.MaxUint8); err != nil {
			return err
		}
		b[0] = byte(v.Num)
	case KindInt8:
		if err := checkRange(v.Num, math.MinInt8, math.MaxInt8); err != nil {
			return err
		}
		b[0] = byte(int8(v.Num))
	case KindUint16LE, KindUint16BE:
		if err := checkRange(v.Num, 0, math.MaxUint16); err != nil {
			return err
		}
		putUint16(fld.Kind == KindUint16BE, b, uint16(v.Num))
	case KindInt16LE, KindInt16BE:
		if err := checkRange(v.Num, math.MinInt16, math.MaxInt16); err != nil {
			return err
		}
		putUint16(fld.Kind == KindInt16BE, b, uint16(int16(v.Num)))
	case KindUint32LE, KindUint32BE:
		if err := checkRange(v.Num, 0, math.MaxUint32); err != nil {
			return err
		}
		putUint32(fld.Kind == KindUint32BE, b, uint32(v.Num))
	case KindInt32LE, KindInt32BE:
		if err := checkRange(v.Num, math.MinInt32, math.MaxInt32); err != nil {
			return err
		}
		putUint32(fld.Kind == KindInt32BE, b, uint32(int32(v.Num)))
	case KindFloat32LE, KindFloat32BE:
		if math.Abs(v.Float) > math.MaxFloat32 && !math.IsInf(v.Float, 0) {
			return fmt.Errorf("%w: %g overflows float32", ErrValueOutOfRange, v.Float)
		}
		putUint32(fld.Kind == KindFloat32BE, b, math.Float32bits(float32(v.Float)))
	case KindZString, KindString:
		if len(v.Str) > len(b) {
			return fmt.Errorf("%w: string of %d bytes exceeds %d", ErrValueOutOfRange, len(v.Str), len(b))
		}
		for i := 0; i < len(v.Str); i++ {
			if v.Str[i] > 0x7f {
				return fmt.Errorf("%w: non-ASCII byte 0x%02x", ErrValueOutOfRange, v.Str[i])
			}
		}
		clear(b)
		copy(b, v.Str)
	case KindBytes:
		if len(v.Bytes) > len(b) {
			return fmt.Errorf("%w: %d bytes exceed %d", ErrValueOutOfRange, len(v.Bytes), len(b))
		}
		clear(b)
		copy(b, v.Bytes)
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrBadFormat, fld.Kind)
	}
	return nil
}

func putUint16(big bool, b []byte, v uint16) {
	if big {
		binary.BigEndian.PutUint16(b, v)
		return
	}
	binary.LittleEndian.PutUint16(b, v)
}

func putUint32(big bool, b []byte, v uint32) {
	if big {
		binary.BigEndian.PutUint32(b, v)
		return
	}
	binary.LittleEndian.PutUint32(b, v)
}
