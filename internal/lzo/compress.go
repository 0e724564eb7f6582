package lzo

import "encoding/binary"

const (
	dictBits = 13
	dictSize = 1 << dictBits

	m2MaxLen    = 8
	m2MaxOffset = 0x0800
	m3MaxLen    = 33
	m3MaxOffset = 0x4000
	m4MaxLen    = 9
	m4MaxOffset = 0xbfff

	m3Marker = 32
	m4Marker = 16

	// blocks are compressed independently so dictionary offsets fit uint16
	blockSize = m4MaxOffset + 1
)

// compress1x1 is the LZO1X-1 compressor. Its output never exceeds
// CompressBound(len(src)).
func compress1x1(src []byte) []byte {
	dst := make([]byte, 0, CompressBound(len(src)))
	dict := make([]uint16, dictSize)
	ip, l, t := 0, len(src), 0
	for l > 20 {
		ll := min(l, blockSize)
		clear(dict)
		dst, t = compressBlock(src, ip, ll, dst, t, dict)
		ip += ll
		l -= ll
	}
	t += l
	if t > 0 {
		ii := len(src) - t
		switch {
		case len(dst) == 0 && t <= 238:
			dst = append(dst, byte(17+t))
		case t <= 3:
			dst[len(dst)-2] |= byte(t)
		default:
			dst = appendLiteralLen(dst, t)
		}
		dst = append(dst, src[ii:]...)
	}
	return append(dst, m4Marker|1, 0, 0)
}

// appendLiteralLen writes the length instruction of a literal run of t > 3
// bytes.
func appendLiteralLen(dst []byte, t int) []byte {
	if t <= 18 {
		return append(dst, byte(t-3))
	}
	tt := t - 18
	dst = append(dst, 0)
	for tt > 255 {
		tt -= 255
		dst = append(dst, 0)
	}
	return append(dst, byte(tt))
}

// compressBlock compresses src[in:in+n]. ti literal bytes immediately before
// in are still pending from the previous block. It returns the count of
// trailing literal bytes that were not emitted.
func compressBlock(src []byte, in, n int, dst []byte, ti int, dict []uint16) ([]byte, int) {
	inEnd := in + n
	ipEnd := inEnd - 20
	ip := in
	ii := ip
	if ti < 4 {
		ip += 4 - ti
	}
	matched := false
	for {
		if !matched {
			ip += 1 + (ip-ii)>>5
		}
		matched = false
		if ip >= ipEnd {
			break
		}
		dv := binary.LittleEndian.Uint32(src[ip:])
		h := (dv * 0x1824429d) >> (32 - dictBits)
		mPos := in + int(dict[h])
		dict[h] = uint16(ip - in)
		if dv != binary.LittleEndian.Uint32(src[mPos:]) {
			continue
		}

		ii -= ti
		ti = 0
		if t := ip - ii; t != 0 {
			if t <= 3 {
				dst[len(dst)-2] |= byte(t)
			} else {
				dst = appendLiteralLen(dst, t)
			}
			dst = append(dst, src[ii:ip]...)
		}

		mLen := 4
		for ip+mLen < ipEnd && src[ip+mLen] == src[mPos+mLen] {
			mLen++
		}
		mOff := ip - mPos
		ip += mLen
		ii = ip
		dst = appendMatch(dst, mLen, mOff)
		matched = true
	}
	return dst, inEnd - (ii - ti)
}

func appendMatch(dst []byte, mLen, mOff int) []byte {
	switch {
	case mLen <= m2MaxLen && mOff <= m2MaxOffset:
		mOff--
		return append(dst, byte((mLen-1)<<5|(mOff&7)<<2), byte(mOff>>3))
	case mOff <= m3MaxOffset:
		mOff--
		if mLen <= m3MaxLen {
			dst = append(dst, byte(m3Marker|(mLen-2)))
		} else {
			dst = appendExtLen(append(dst, m3Marker), mLen-m3MaxLen)
		}
	default:
		mOff -= 0x4000
		hi := byte((mOff >> 11) & 8)
		if mLen <= m4MaxLen {
			dst = append(dst, m4Marker|hi|byte(mLen-2))
		} else {
			dst = appendExtLen(append(dst, m4Marker|hi), mLen-m4MaxLen)
		}
	}
	return append(dst, byte(mOff<<2), byte(mOff>>6))
}

func appendExtLen(dst []byte, n int) []byte {
	for n > 255 {
		n -= 255
		dst = append(dst, 0)
	}
	return append(dst, byte(n))
}
