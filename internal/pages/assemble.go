package pages

import (
	"context"
	"fmt"

	"example.com/uploadcore/internal/common"
	"example.com/uploadcore/internal/lzo"
	"example.com/uploadcore/internal/structs"
)

type Options struct {
	// Strict fails the read on the first gap.
	Strict bool
	// FailOnUnknown makes an unknown discriminator fatal instead of a gap.
	FailOnUnknown bool
}

// Assembler decodes page sequences against one table. It holds no per-read
// state and may be shared.
type Assembler struct {
	table *Table
	opts  Options
}

func NewAssembler(t *Table, opts Options) *Assembler {
	return &Assembler{table: t, opts: opts}
}

func (a *Assembler) Table() *Table { return a.table }

// Assemble decodes a complete read. On error the packets and gaps of the
// pages decoded before the failing page are returned with it.
func (a *Assembler) Assemble(ctx context.Context, pages []RawPage) (Result, error) {
	var res Result
	s := a.NewSession()
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		pr, err := s.Feed(p)
		if err != nil {
			return res, err
		}
		res.Packets = append(res.Packets, pr.Packets...)
		res.Gaps = append(res.Gaps, pr.Gaps...)
	}
	pr, err := s.Finish()
	if err != nil {
		return res, err
	}
	res.Gaps = append(res.Gaps, pr.Gaps...)
	return res, nil
}

// Session is the state of one read: the last ordinal seen, the packet counter
// and, for spanning tables, the unfinished packet carried from the last page.
type Session struct {
	a         *Assembler
	havePrev  bool
	prev      int
	next      int
	carry     []byte
	carryPage int
	carryOff  int
}

func (a *Assembler) NewSession() *Session {
	return &Session{a: a}
}

// Feed decodes one page. If it returns an error the session is unchanged and
// nothing from the page is returned.
func (s *Session) Feed(p RawPage) (Result, error) {
	var res Result
	if s.havePrev && p.Ordinal <= s.prev {
		return res, &PageError{Page: p.Ordinal, Err: fmt.Errorf("%w: %d after %d", ErrPageOrder, p.Ordinal, s.prev)}
	}
	st := *s
	var pageGap *Gap
	var data []byte
	switch {
	case p.NAK:
		pageGap = &Gap{Page: p.Ordinal, Reason: GapNAK}
	case !p.Valid:
		pageGap = &Gap{Page: p.Ordinal, Reason: GapInvalid}
	default:
		var err error
		data, err = s.a.pageData(p)
		if err != nil {
			pageGap = &Gap{Page: p.Ordinal, Reason: GapCorrupt, Err: err}
		}
	}
	missing := st.havePrev && p.Ordinal > st.prev+1
	if (missing || pageGap != nil) && len(st.carry) > 0 {
		res.Gaps = append(res.Gaps, st.dropCarry())
	}
	if missing {
		res.Gaps = append(res.Gaps, Gap{Page: st.prev + 1, Reason: GapMissing, Count: p.Ordinal - st.prev - 1})
	}
	if pageGap != nil {
		res.Gaps = append(res.Gaps, *pageGap)
	} else {
		packets, gaps, err := st.parse(p.Ordinal, data)
		if err != nil {
			return Result{}, err
		}
		res.Packets = packets
		res.Gaps = append(res.Gaps, gaps...)
	}
	if err := s.a.checkStrict(res.Gaps); err != nil {
		return Result{}, err
	}
	st.havePrev = true
	st.prev = p.Ordinal
	*s = st
	for _, g := range res.Gaps {
		common.Logf("%s skipped", g)
	}
	return res, nil
}

// Finish reports a packet left unfinished by the last page.
func (s *Session) Finish() (Result, error) {
	var res Result
	if len(s.carry) == 0 {
		return res, nil
	}
	g := s.dropCarry()
	res.Gaps = append(res.Gaps, g)
	if err := s.a.checkStrict(res.Gaps); err != nil {
		return Result{}, err
	}
	common.Logf("%s skipped", g)
	return res, nil
}

func (s *Session) dropCarry() Gap {
	g := Gap{
		Page:          s.carryPage,
		Reason:        GapTruncated,
		Offset:        s.carryOff,
		Discriminator: s.carry[0],
		Err:           fmt.Errorf("%w: packet continues past the last readable page", structs.ErrBufferUnderrun),
	}
	s.carry = nil
	return g
}

func (a *Assembler) checkStrict(gaps []Gap) error {
	if !a.opts.Strict || len(gaps) == 0 {
		return nil
	}
	g := gaps[0]
	err := fmt.Errorf("%w: %s", ErrIncompletePageSequence, g.Reason)
	if g.Err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrIncompletePageSequence, g.Reason, g.Err)
	}
	return &PageError{Page: g.Page, Offset: g.Offset, Err: err}
}

func (a *Assembler) pageData(p RawPage) ([]byte, error) {
	opts := a.table.opts
	data := p.Data
	if opts.Compression == CompressionLZO {
		out, err := lzo.Decompress(p.Data, opts.PageSize)
		if err != nil {
			return nil, err
		}
		data = out
	}
	if opts.PageSize > 0 && len(data) > opts.PageSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrPageTooLarge, len(data), opts.PageSize)
	}
	return data, nil
}

func (s *Session) parse(ordinal int, data []byte) ([]Packet, []Gap, error) {
	opts := s.a.table.opts
	carryLen := len(s.carry)
	buf := data
	if carryLen > 0 {
		buf = make([]byte, 0, carryLen+len(data))
		buf = append(append(buf, s.carry...), data...)
	}
	s.carry = nil
	var packets []Packet
	var gaps []Gap
	for off := 0; off < len(buf); {
		page, pageOff := ordinal, off-carryLen
		if off < carryLen {
			page, pageOff = s.carryPage, s.carryOff+off
		}
		disc := buf[off]
		if !opts.NoEndMarker && disc == opts.EndMarker {
			break
		}
		pt, ok := s.a.table.Lookup(disc)
		if !ok {
			err := fmt.Errorf("%w: 0x%02X", ErrUnknownPacketType, disc)
			if s.a.opts.FailOnUnknown {
				return nil, nil, &PageError{Page: page, Offset: pageOff, Err: err}
			}
			// the packet length is unknown so the rest of the page is lost
			gaps = append(gaps, Gap{Page: page, Reason: GapUnknownType, Offset: pageOff, Discriminator: disc, Err: err})
			break
		}
		if off+pt.Len() > len(buf) {
			if opts.Spanning {
				s.carry = append([]byte(nil), buf[off:]...)
				s.carryPage, s.carryOff = page, pageOff
				break
			}
			gaps = append(gaps, Gap{
				Page: page, Reason: GapTruncated, Offset: pageOff, Discriminator: disc,
				Err: fmt.Errorf("%w: %s needs %d bytes, %d left", structs.ErrBufferUnderrun, pt.Name, pt.Len(), len(buf)-off),
			})
			break
		}
		pkt, err := s.a.table.decode(pt, buf, off)
		if err != nil {
			gaps = append(gaps, Gap{Page: page, Reason: GapBadPacket, Offset: pageOff, Discriminator: disc, Err: err})
		} else {
			pkt.Page, pkt.Offset, pkt.Index = page, pageOff, s.next
			s.next++
			packets = append(packets, pkt)
		}
		off += pt.Len()
	}
	return packets, gaps, nil
}

func (t *Table) decode(pt PacketType, buf []byte, off int) (Packet, error) {
	pkt := Packet{Type: pt.Name, Discriminator: pt.Discriminator}
	pos := off + 1
	head, err := structs.Unpack(buf, pos, pt.Head.Format)
	if err != nil {
		return pkt, fmt.Errorf("%s head: %w", pt.Name, err)
	}
	pos += pt.Head.Len
	dateRec, err := structs.Unpack(buf, pos, pt.Date.Format)
	if err != nil {
		return pkt, fmt.Errorf("%s date: %w", pt.Name, err)
	}
	pos += pt.Date.Len
	body, err := structs.Unpack(buf, pos, pt.Body.Format)
	if err != nil {
		return pkt, fmt.Errorf("%s body: %w", pt.Name, err)
	}
	date, err := t.decodeDate(pt, dateRec)
	if err != nil {
		return pkt, fmt.Errorf("%s: %w", pt.Name, err)
	}
	pkt.Head, pkt.Date, pkt.Body = head, date, body
	return pkt, nil
}
