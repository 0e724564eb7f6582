package lzo

type decoder struct {
	src []byte
	ip  int
	out []byte
	// limit caps len(out); negative means unbounded.
	limit int
}

func (d *decoder) fail(s Status) error {
	return &Error{Op: "decompress", Status: s, Offset: d.ip}
}

func (d *decoder) needIn(n int) error {
	if len(d.src)-d.ip < n {
		return d.fail(ErrInputOverrun)
	}
	return nil
}

func (d *decoder) needOut(n int) error {
	if d.limit >= 0 && d.limit-len(d.out) < n {
		return d.fail(ErrOutputOverrun)
	}
	return nil
}

func (d *decoder) literals(n int) error {
	if err := d.needIn(n); err != nil {
		return err
	}
	if err := d.needOut(n); err != nil {
		return err
	}
	d.out = append(d.out, d.src[d.ip:d.ip+n]...)
	d.ip += n
	return nil
}

// extLen decodes a zero-run extended length and adds base to it.
func (d *decoder) extLen(base int) (int, error) {
	n := 0
	for {
		if err := d.needIn(1); err != nil {
			return 0, err
		}
		b := d.src[d.ip]
		d.ip++
		if b != 0 {
			return n + base + int(b), nil
		}
		n += 255
	}
}

func (d *decoder) le16() (int, error) {
	if err := d.needIn(2); err != nil {
		return 0, err
	}
	v := int(d.src[d.ip]) | int(d.src[d.ip+1])<<8
	d.ip += 2
	return v, nil
}

// decompress1x decodes an LZO1X stream, rejecting anything that would read
// or write out of bounds.
func decompress1x(src []byte, limit, capHint int) ([]byte, error) {
	d := &decoder{src: src, limit: limit, out: make([]byte, 0, capHint)}
	if len(src) < 3 {
		return nil, d.fail(ErrInputOverrun)
	}
	// state 0: next short instruction is a literal run.
	// state 1-3: previous match carried that many literals.
	// state 4: previous instruction was a literal run.
	state := 0
	if src[0] > 17 {
		t := int(src[0]) - 17
		d.ip = 1
		if err := d.literals(t); err != nil {
			return nil, err
		}
		state = 4
		if t < 4 {
			state = t
		}
	}
	for {
		if err := d.needIn(1); err != nil {
			return nil, err
		}
		t := int(src[d.ip])
		d.ip++
		var dist, mLen, next int
		switch {
		case t < 16 && state == 0:
			if t == 0 {
				n, err := d.extLen(15)
				if err != nil {
					return nil, err
				}
				t = n
			}
			if err := d.literals(t + 3); err != nil {
				return nil, err
			}
			state = 4
			continue
		case t < 16:
			if err := d.needIn(1); err != nil {
				return nil, err
			}
			next = t & 3
			dist = 1 + t>>2 + int(src[d.ip])<<2
			d.ip++
			mLen = 2
			if state == 4 {
				dist += m2MaxOffset
				mLen = 3
			}
		case t >= 64:
			if err := d.needIn(1); err != nil {
				return nil, err
			}
			next = t & 3
			dist = 1 + (t>>2)&7 + int(src[d.ip])<<3
			d.ip++
			mLen = t>>5 + 1
		case t >= 32:
			mLen = t & 31
			if mLen == 0 {
				n, err := d.extLen(31)
				if err != nil {
					return nil, err
				}
				mLen = n
			}
			mLen += 2
			v, err := d.le16()
			if err != nil {
				return nil, err
			}
			dist = 1 + v>>2
			next = v & 3
		default:
			dist = (t & 8) << 11
			mLen = t & 7
			if mLen == 0 {
				n, err := d.extLen(7)
				if err != nil {
					return nil, err
				}
				mLen = n
			}
			mLen += 2
			v, err := d.le16()
			if err != nil {
				return nil, err
			}
			dist += v >> 2
			next = v & 3
			if dist == 0 {
				return d.eof(mLen)
			}
			dist += 0x4000
		}
		if dist > len(d.out) {
			return nil, d.fail(ErrLookbehindOverrun)
		}
		if err := d.needOut(mLen); err != nil {
			return nil, err
		}
		// byte at a time: source and destination overlap for runs
		start := len(d.out) - dist
		for i := 0; i < mLen; i++ {
			d.out = append(d.out, d.out[start+i])
		}
		state = next
		if next > 0 {
			if err := d.literals(next); err != nil {
				return nil, err
			}
		}
	}
}

func (d *decoder) eof(mLen int) ([]byte, error) {
	switch {
	case mLen != 3:
		return nil, d.fail(ErrError)
	case d.ip < len(d.src):
		return nil, d.fail(ErrInputNotConsumed)
	}
	return d.out, nil
}
