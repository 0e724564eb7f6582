package structs

import "fmt"

// Record is a decoded format keyed by field name.
type Record map[string]Value

// Num returns the integer value of name, or 0 when absent.
func (r Record) Num(name string) int64 { return r[name].Num }

func (r Record) Float(name string) float64 { return r[name].Float }

func (r Record) Str(name string) string { return r[name].Str }

func (r Record) Bytes(name string) []byte { return r[name].Bytes }

// Unpack decodes f at off into a Record. Fields named "_" are read but dropped.
func Unpack(buf []byte, off int, f Format) (Record, error) {
	vals, err := Decode(buf, off, f)
	if err != nil {
		return nil, err
	}
	rec := make(Record, len(vals))
	i := 0
	for _, fld := range f {
		if !fld.HasValue() {
			continue
		}
		if fld.Name != "_" {
			rec[fld.Name] = vals[i]
		}
		i++
	}
	return rec, nil
}

// Pack encodes rec into buf at off. Every value-bearing field of f must be
// present in rec, except those named "_" which encode as zero.
func Pack(rec Record, f Format, buf []byte, off int) (int, error) {
	vals := make([]Value, 0, f.ValueCount())
	for _, fld := range f {
		if !fld.HasValue() {
			continue
		}
		v, ok := rec[fld.Name]
		if !ok && fld.Name == "_" {
			v, ok = Value{Kind: fld.Kind}, true
		}
		if !ok {
			return 0, fmt.Errorf("%w: missing field %q", ErrFieldCountMismatch, fld.Name)
		}
		vals = append(vals, v)
	}
	return Encode(vals, f, buf, off)
}
