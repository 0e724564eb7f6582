// Package pipeline runs one upload session through page assembly,
// normalization, timezone resolution and sequencing.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"example.com/uploadcore/internal/common"
	"example.com/uploadcore/internal/devices"
	"example.com/uploadcore/internal/normalize"
	"example.com/uploadcore/internal/pages"
	"example.com/uploadcore/internal/records"
	"example.com/uploadcore/internal/sequence"
	"example.com/uploadcore/internal/tzoffset"
)

// Stages name where a run failed or a record was dropped.
const (
	StageAssemble  = "assemble"
	StageNormalize = "normalize"
	StageResolve   = "resolve"
	StageSequence  = "sequence"
)

// Error is a failure that stopped a run. Page is the ordinal of the page
// being processed, or -1 when the failure came after the last page.
type Error struct {
	Stage string
	Page  int
	Err   error
}

func (e *Error) Error() string {
	if e.Page < 0 {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s page %d: %v", e.Stage, e.Page, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Rejection is a packet or record dropped from the output in lenient mode.
type Rejection struct {
	Stage  string `json:"stage"`
	Page   int    `json:"page"`
	Packet int    `json:"packet"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

// Output is the result of a run. After a failure it holds the processed
// prefix: every page committed before the failing one.
type Output struct {
	Records     []records.Record      `json:"records"`
	Gaps        []pages.Gap           `json:"gaps"`
	Duplicates  []sequence.Duplicate  `json:"duplicates"`
	Rejected    []Rejection           `json:"rejected"`
	Overlaps    []sequence.Overlap    `json:"overlaps"`
	Transitions []tzoffset.Transition `json:"transitions"`
	Pages       int                   `json:"pages"`
}

// Pipeline is built once from a config and may run any number of sessions,
// concurrently if the caller wishes.
type Pipeline struct {
	cfg        Config
	family     *devices.Family
	assembler  *pages.Assembler
	normalizer *normalize.Normalizer
	policy     sequence.Policy
	tzOpts     tzoffset.Options
	resolver   *tzoffset.Resolver
	metrics    *common.Metrics
	log        *logrus.Entry
}

type Option func(*Pipeline)

// WithMetrics counts pages, packets and records into m.
func WithMetrics(m *common.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New builds a pipeline for fam. The family table is used as is; cfg.Table
// is only read by FromConfig.
func New(cfg Config, fam *devices.Family, opts ...Option) (*Pipeline, error) {
	if fam == nil {
		return nil, fmt.Errorf("%w: no device family", ErrInvalidConfig)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, _ := sequence.ParsePolicy(cfg.Dedup)
	tzOpts, _ := cfg.Timezone.options()
	p := &Pipeline{
		cfg:    cfg,
		family: fam,
		assembler: pages.NewAssembler(fam.Table, pages.Options{
			Strict:        cfg.Strict,
			FailOnUnknown: cfg.UnknownPackets == UnknownFail,
		}),
		normalizer: fam.Normalizer(),
		policy:     policy,
		tzOpts:     tzOpts,
		log:        common.WithComponent("pipeline").WithField("family", fam.Name),
	}
	if !cfg.Timezone.DeriveFromData {
		transitions, _ := cfg.Timezone.transitions()
		r, err := tzoffset.NewResolver(transitions, tzoffset.Offsets{Timezone: cfg.Timezone.BaseOffset}, tzOpts)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		p.resolver = r
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// FromConfig looks up the configured family and, if cfg.Table is set, swaps
// in the table loaded from that file.
func FromConfig(cfg Config, opts ...Option) (*Pipeline, error) {
	cfg = cfg.WithDefaults()
	fam, err := devices.Lookup(cfg.Family)
	if err != nil {
		return nil, err
	}
	if cfg.Table != "" {
		table, err := pages.LoadTable(cfg.Table)
		if err != nil {
			return nil, err
		}
		if fam, err = fam.WithTable(table); err != nil {
			return nil, err
		}
	}
	return New(cfg, fam, opts...)
}

func (p *Pipeline) Config() Config { return p.cfg }

func (p *Pipeline) Family() *devices.Family { return p.family }

// Run decodes one session. Pages are committed one at a time: a page's
// records join the output only once all of its packets were decoded and
// normalized. When Run fails, the committed pages are still resolved,
// ordered and returned alongside the error.
func (p *Pipeline) Run(ctx context.Context, raw []pages.RawPage) (Output, error) {
	if m := p.metrics; m != nil {
		m.SetTotalPages(int64(len(raw)))
		m.Start()
		defer m.Stop()
	}
	var out Output
	var recs []records.Record
	pageOf := make(map[int]int)
	var committed []int
	sess := p.assembler.NewSession()
	var fatal error
	for _, rp := range raw {
		if err := ctx.Err(); err != nil {
			fatal = &Error{Stage: StageAssemble, Page: rp.Ordinal, Err: err}
			break
		}
		res, err := sess.Feed(rp)
		if err != nil {
			fatal = &Error{Stage: StageAssemble, Page: rp.Ordinal, Err: err}
			break
		}
		pageRecs, rejected, err := p.normalizePage(rp.Ordinal, res.Packets)
		if err != nil {
			fatal = &Error{Stage: StageNormalize, Page: rp.Ordinal, Err: err}
			break
		}
		for _, pk := range res.Packets {
			pageOf[pk.Index] = rp.Ordinal
		}
		recs = append(recs, pageRecs...)
		out.Gaps = append(out.Gaps, res.Gaps...)
		out.Rejected = append(out.Rejected, rejected...)
		out.Pages++
		committed = append(committed, rp.Ordinal)
		if m := p.metrics; m != nil {
			m.AddPage(int64(len(rp.Data)), len(res.Packets), len(res.Gaps))
			m.AddRejected(len(rejected))
		}
	}
	if fatal == nil {
		res, err := sess.Finish()
		if err != nil {
			fatal = &Error{Stage: StageAssemble, Page: -1, Err: err}
		} else {
			out.Gaps = append(out.Gaps, res.Gaps...)
			if p.metrics != nil {
				p.metrics.AddGaps(len(res.Gaps))
			}
		}
	}

	err := p.finish(&out, recs, pageOf, committed)
	switch {
	case fatal != nil && err != nil:
		err = errors.Join(fatal, err)
	case fatal != nil:
		err = fatal
	}
	entry := p.log.WithFields(logrus.Fields{
		"pages":      out.Pages,
		"records":    len(out.Records),
		"gaps":       len(out.Gaps),
		"rejected":   len(out.Rejected),
		"duplicates": len(out.Duplicates),
	})
	if err != nil {
		entry.WithError(err).Warn("upload session failed")
	} else {
		entry.Info("upload session decoded")
	}
	return out, err
}

func (p *Pipeline) normalizePage(page int, packets []pages.Packet) ([]records.Record, []Rejection, error) {
	var recs []records.Record
	var rejected []Rejection
	for _, pk := range packets {
		r, err := p.normalizer.Normalize(pk)
		if err != nil {
			if p.cfg.Strict {
				return nil, nil, err
			}
			rejected = append(rejected, Rejection{
				Stage: StageNormalize, Page: page, Packet: pk.Index, Type: pk.Type,
				Reason: err.Error(), Err: err,
			})
			p.log.WithField("page", page).Warnf("packet %d dropped: %v", pk.Index, err)
			continue
		}
		recs = append(recs, r)
	}
	return recs, rejected, nil
}

// finish resolves, orders and numbers the committed records. In strict mode
// a record that cannot be resolved fails its page: that page and the ones
// after it are dropped from the output and the earlier pages are still
// returned.
func (p *Pipeline) finish(out *Output, recs []records.Record, pageOf map[int]int, committed []int) error {
	resolver, err := p.resolverFor(recs)
	if err != nil {
		return &Error{Stage: StageResolve, Page: -1, Err: err}
	}
	out.Transitions = resolver.Transitions()
	var fatal error
	resolved := make([]records.Record, 0, len(recs))
	for _, r := range recs {
		if err := resolver.Fill(r); err != nil {
			b := r.Header()
			idx := b.Payload.LogIndices[0]
			if p.cfg.Strict {
				fatal = &Error{Stage: StageResolve, Page: pageOf[idx], Err: err}
				resolved = out.truncate(pageOf[idx], resolved, pageOf, committed)
				break
			}
			out.Rejected = append(out.Rejected, Rejection{
				Stage: StageResolve, Page: pageOf[idx], Packet: idx, Type: b.Type,
				Reason: err.Error(), Err: err,
			})
			if p.metrics != nil {
				p.metrics.AddRejected(1)
			}
			continue
		}
		resolved = append(resolved, r)
	}

	res, err := sequence.Order(resolved, sequence.Options{Policy: p.policy})
	out.Duplicates = res.Duplicates
	if err != nil {
		err = &Error{Stage: StageSequence, Page: -1, Err: err}
		if fatal != nil {
			return errors.Join(fatal, err)
		}
		return err
	}
	for _, r := range res.Records {
		r.Header().ID = records.NewID(p.cfg.DeviceID, r)
	}
	out.Records = res.Records
	out.Overlaps = sequence.Overlaps(res.Records)
	for _, o := range out.Overlaps {
		p.log.Warnf("uploads %s and %s overlap", o.Earlier, o.Later)
	}
	if p.metrics != nil {
		p.metrics.SetResult(len(out.Records), len(out.Duplicates))
	}
	return fatal
}

// truncate drops everything from page on: resolved records, gaps and
// rejections. It returns the records kept.
func (o *Output) truncate(page int, resolved []records.Record, pageOf map[int]int, committed []int) []records.Record {
	kept := resolved[:0]
	for _, r := range resolved {
		if pageOf[r.Header().Payload.LogIndices[0]] < page {
			kept = append(kept, r)
		}
	}
	gaps := o.Gaps[:0]
	for _, g := range o.Gaps {
		if g.Page < page {
			gaps = append(gaps, g)
		}
	}
	o.Gaps = gaps
	rejected := o.Rejected[:0]
	for _, r := range o.Rejected {
		if r.Page < page {
			rejected = append(rejected, r)
		}
	}
	o.Rejected = rejected
	o.Pages = 0
	for _, ord := range committed {
		if ord < page {
			o.Pages++
		}
	}
	return kept
}

// resolverFor returns the configured resolver, or bootstraps one from the
// clock changes in recs.
func (p *Pipeline) resolverFor(recs []records.Record) (*tzoffset.Resolver, error) {
	if p.resolver != nil {
		return p.resolver, nil
	}
	var changes []tzoffset.Change
	for _, r := range recs {
		tc, ok := r.(*records.TimeChange)
		if !ok {
			continue
		}
		changes = append(changes, tzoffset.Change{
			From:  tc.Change.From.Time(),
			To:    tc.Change.To.Time(),
			Index: tc.Payload.LogIndices[0],
		})
	}
	transitions, base, err := tzoffset.Bootstrap(changes, p.cfg.Timezone.BaseOffset)
	if err != nil {
		return nil, err
	}
	return tzoffset.NewIndexedResolver(transitions, base, p.tzOpts)
}
