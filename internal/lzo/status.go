package lzo

import (
	"fmt"
	"sort"
)

// Status is an LZO result code. Every non-zero Status is an error; the numeric
// values are the liblzo codes and must not change.
type Status int

const (
	StatusOK Status = 0

	ErrError             Status = -1
	ErrOutOfMemory       Status = -2
	ErrNotCompressible   Status = -3
	ErrInputOverrun      Status = -4
	ErrOutputOverrun     Status = -5
	ErrLookbehindOverrun Status = -6
	ErrEOFNotFound       Status = -7
	ErrInputNotConsumed  Status = -8
	ErrNotYetImplemented Status = -9
	ErrInvalidArgument   Status = -10
	ErrInvalidAlignment  Status = -11
	ErrOutputNotConsumed Status = -12
	ErrInternalError     Status = -99
	ErrInitFailed        Status = -128
)

var statusNames = map[Status]string{
	StatusOK:             "LZO_E_OK",
	ErrError:             "LZO_E_ERROR",
	ErrOutOfMemory:       "LZO_E_OUT_OF_MEMORY",
	ErrNotCompressible:   "LZO_E_NOT_COMPRESSIBLE",
	ErrInputOverrun:      "LZO_E_INPUT_OVERRUN",
	ErrOutputOverrun:     "LZO_E_OUTPUT_OVERRUN",
	ErrLookbehindOverrun: "LZO_E_LOOKBEHIND_OVERRUN",
	ErrEOFNotFound:       "LZO_E_EOF_NOT_FOUND",
	ErrInputNotConsumed:  "LZO_E_INPUT_NOT_CONSUMED",
	ErrNotYetImplemented: "LZO_E_NOT_YET_IMPLEMENTED",
	ErrInvalidArgument:   "LZO_E_INVALID_ARGUMENT",
	ErrInvalidAlignment:  "LZO_E_INVALID_ALIGNMENT",
	ErrOutputNotConsumed: "LZO_E_OUTPUT_NOT_CONSUMED",
	ErrInternalError:     "LZO_E_INTERNAL_ERROR",
	ErrInitFailed:        "ERR_LZO_INIT_FAILED",
}

// String returns the stable liblzo name of s.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("LZO_E_UNKNOWN(%d)", int(s))
}

func (s Status) Error() string { return "lzo: " + s.String() }

// Code returns the numeric status.
func (s Status) Code() int { return int(s) }

// StatusFromCode maps a numeric liblzo code to its Status.
func StatusFromCode(code int) (Status, bool) {
	s := Status(code)
	_, ok := statusNames[s]
	return s, ok
}

// Statuses lists every known error status, most negative last.
func Statuses() []Status {
	out := make([]Status, 0, len(statusNames)-1)
	for s := range statusNames {
		if s != StatusOK {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

// Error reports where a compress or decompress call failed.
type Error struct {
	Op     string
	Status Status
	// Offset is the input position at which the failure was detected.
	Offset int
}

func (e *Error) Error() string {
	return fmt.Sprintf("lzo %s: %s at input offset %d", e.Op, e.Status, e.Offset)
}

func (e *Error) Unwrap() error { return e.Status }
