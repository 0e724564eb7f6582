// Package lzo implements the LZO1X-1 compressed data format used by pumps
// that ship their history pages compressed.
package lzo

// CompressBound is the worst-case compressed size of n input bytes.
func CompressBound(n int) int {
	return n + n/16 + 64 + 3
}

// DecompressBound is the default output size assumed for n compressed bytes.
func DecompressBound(n int) int {
	return n * 3
}

// Compress returns the LZO1X-1 encoding of src. A positive length caps the
// output size and ErrOutputOverrun is returned when the encoding does not fit.
func Compress(src []byte, length int) ([]byte, error) {
	if length < 0 {
		return nil, &Error{Op: "compress", Status: ErrInvalidArgument}
	}
	out := compress1x1(src)
	if length > 0 && len(out) > length {
		return nil, &Error{Op: "compress", Status: ErrOutputOverrun, Offset: len(src)}
	}
	return out, nil
}

// Decompress decodes an LZO1X stream. A positive length is the expected
// uncompressed size. Output beyond it fails with ErrOutputOverrun; it is not
// cut to length the way the uploader's decoder does, so an oversized page
// shows up as a corrupt page instead of silently losing its tail. With
// length 0 the output grows as needed and DecompressBound is only the
// initial capacity.
func Decompress(src []byte, length int) ([]byte, error) {
	switch {
	case length < 0:
		return nil, &Error{Op: "decompress", Status: ErrInvalidArgument}
	case length > 0:
		return decompress1x(src, length, length)
	default:
		return decompress1x(src, -1, DecompressBound(len(src)))
	}
}
