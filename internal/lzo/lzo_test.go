package lzo

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func randomBytes(n int, seed int64) []byte {
	r := rand.New(rand.NewSource(seed))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.Intn(256))
	}
	return b
}

// historyLike mimics pump history pages: short records with repeating
// headers and slowly changing counters.
func historyLike(n int) []byte {
	b := make([]byte, 0, n)
	for i := 0; len(b) < n; i++ {
		b = append(b, 0x01, 0x3C, byte(i), byte(i>>8), 0x00, 0x00, 0xE8, 0x03, byte(i%7))
	}
	return b[:n]
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{name: "empty", in: []byte{}},
		{name: "one byte", in: []byte{0x42}},
		{name: "short text", in: []byte("BOLUS BOLUS BOLUS BASAL")},
		{name: "tail over 238", in: randomBytes(300, 7)},
		{name: "zeros 200k", in: make([]byte, 200*1024)},
		{name: "random 70k", in: randomBytes(70*1024, 1)},
		{name: "history 100k", in: historyLike(100 * 1024)},
		{name: "block edge", in: historyLike(blockSize + 21)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := Compress(tc.in, 0)
			if err != nil {
				t.Fatalf("Compress error: %v", err)
			}
			if len(c) > CompressBound(len(tc.in)) {
				t.Fatalf("compressed %d bytes > bound %d", len(c), CompressBound(len(tc.in)))
			}
			got, err := Decompress(c, 0)
			if err != nil {
				t.Fatalf("Decompress error: %v", err)
			}
			if !bytes.Equal(got, tc.in) {
				t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(tc.in))
			}
			if len(tc.in) == 0 {
				return
			}
			got, err = Decompress(c, len(tc.in))
			if err != nil {
				t.Fatalf("Decompress exact length error: %v", err)
			}
			if !bytes.Equal(got, tc.in) {
				t.Fatalf("exact length round trip mismatch")
			}
		})
	}
}

func TestCompressShrinksRepetitiveInput(t *testing.T) {
	in := historyLike(4096)
	c, err := Compress(in, 0)
	if err != nil {
		t.Fatalf("Compress error: %v", err)
	}
	if len(c) >= len(in)/2 {
		t.Fatalf("compressed %d bytes, want < %d", len(c), len(in)/2)
	}
}

func TestEmptyEncoding(t *testing.T) {
	c, err := Compress(nil, 0)
	if err != nil {
		t.Fatalf("Compress error: %v", err)
	}
	if want := []byte{17, 0, 0}; !bytes.Equal(c, want) {
		t.Fatalf("Compress(nil) = %v, want %v", c, want)
	}
}

// Streams in the byte layout lzo1x_1_compress emits. Inputs of 20 bytes or
// less are written as one literal run; the match streams use the M2 and M3
// instruction forms directly.
func TestReferenceStreams(t *testing.T) {
	tests := []struct {
		name     string
		stream   []byte
		want     []byte
		compress bool
	}{
		{name: "empty", stream: []byte{0x11, 0x00, 0x00}, want: []byte{}, compress: true},
		{name: "hello", stream: []byte{0x16, 'h', 'e', 'l', 'l', 'o', 0x11, 0x00, 0x00}, want: []byte("hello"), compress: true},
		{
			name:     "twenty literals",
			stream:   append(append([]byte{0x25}, "0123456789abcdefghij"...), 0x11, 0x00, 0x00),
			want:     []byte("0123456789abcdefghij"),
			compress: true,
		},
		{
			name:   "m2 match",
			stream: []byte{0x15, 'a', 'b', 'c', 'd', 0xEC, 0x00, 0x11, 0x00, 0x00},
			want:   []byte("abcdabcdabcd"),
		},
		{
			name:   "m2 match with trailing literals",
			stream: []byte{0x15, 'a', 'b', 'c', 'd', 0xEE, 0x00, 'X', 'Y', 0x11, 0x00, 0x00},
			want:   []byte("abcdabcdabcdXY"),
		},
		{
			name:   "m3 match",
			stream: []byte{0x15, 'a', 'b', 'c', 'd', 0x32, 0x0C, 0x00, 0x11, 0x00, 0x00},
			want:   bytes.Repeat([]byte("abcd"), 6),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decompress(tc.stream, 0)
			if err != nil {
				t.Fatalf("Decompress error: %v", err)
			}
			if !bytes.Equal(got, tc.want) {
				t.Fatalf("Decompress = %q, want %q", got, tc.want)
			}
			if !tc.compress {
				return
			}
			c, err := Compress(tc.want, 0)
			if err != nil {
				t.Fatalf("Compress error: %v", err)
			}
			if !bytes.Equal(c, tc.stream) {
				t.Fatalf("Compress = % x, want % x", c, tc.stream)
			}
		})
	}
}

func TestDecompressErrors(t *testing.T) {
	valid, err := Compress([]byte("abcdefghabcdefghabcdefghabcdefgh-0123456789"), 0)
	if err != nil {
		t.Fatalf("Compress error: %v", err)
	}
	tests := []struct {
		name   string
		in     []byte
		length int
		want   Status
	}{
		{name: "too short", in: []byte{17}, want: ErrInputOverrun},
		{name: "truncated", in: valid[:len(valid)-4], want: ErrInputOverrun},
		{name: "trailing bytes", in: append(append([]byte{}, valid...), 0xAA), want: ErrInputNotConsumed},
		{name: "lookbehind", in: []byte{18, 'x', 64, 1, 17, 0, 0}, want: ErrLookbehindOverrun},
		{name: "bad eof length", in: []byte{18, 'x', 16 | 2, 0, 0}, want: ErrError},
		{name: "output overrun", in: valid, length: 10, want: ErrOutputOverrun},
		{name: "negative length", in: valid, length: -1, want: ErrInvalidArgument},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decompress(tc.in, tc.length)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Decompress error = %v, want %v", err, tc.want)
			}
			var le *Error
			if !errors.As(err, &le) || le.Op != "decompress" {
				t.Fatalf("error %v is not a decompress *Error", err)
			}
		})
	}
}

func TestCompressLengthCap(t *testing.T) {
	in := randomBytes(512, 3)
	if _, err := Compress(in, 16); !errors.Is(err, ErrOutputOverrun) {
		t.Fatalf("Compress error = %v, want %v", err, ErrOutputOverrun)
	}
	if _, err := Compress(in, -5); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("Compress error = %v, want %v", err, ErrInvalidArgument)
	}
}

func TestStatusTable(t *testing.T) {
	tests := []struct {
		code int
		name string
	}{
		{-1, "LZO_E_ERROR"},
		{-4, "LZO_E_INPUT_OVERRUN"},
		{-6, "LZO_E_LOOKBEHIND_OVERRUN"},
		{-12, "LZO_E_OUTPUT_NOT_CONSUMED"},
		{-99, "LZO_E_INTERNAL_ERROR"},
		{-128, "ERR_LZO_INIT_FAILED"},
	}
	for _, tc := range tests {
		s, ok := StatusFromCode(tc.code)
		if !ok {
			t.Fatalf("StatusFromCode(%d) not found", tc.code)
		}
		if s.String() != tc.name {
			t.Fatalf("Status(%d) = %s, want %s", tc.code, s, tc.name)
		}
	}
	if _, ok := StatusFromCode(-50); ok {
		t.Fatalf("StatusFromCode(-50) found, want unknown")
	}
	all := Statuses()
	if len(all) != 14 || all[0] != ErrError || all[len(all)-1] != ErrInitFailed {
		t.Fatalf("Statuses = %v", all)
	}
}
