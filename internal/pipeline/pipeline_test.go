package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"example.com/uploadcore/internal/common"
	"example.com/uploadcore/internal/devices"
	"example.com/uploadcore/internal/pages"
	"example.com/uploadcore/internal/records"
	"example.com/uploadcore/internal/sequence"
	"example.com/uploadcore/internal/structs"
	"example.com/uploadcore/internal/tzoffset"
)

func num(v int64) structs.Value { return structs.Value{Num: v} }

func local(s string) time.Time {
	ts, err := records.ParseLocalTime(s)
	if err != nil {
		panic(err)
	}
	return ts.Time()
}

type builder struct {
	t   *testing.T
	fam *devices.Family
}

func newBuilder(t *testing.T) builder {
	t.Helper()
	fam, err := devices.Podlog()
	if err != nil {
		t.Fatalf("Podlog error: %v", err)
	}
	return builder{t: t, fam: fam}
}

func (b builder) packet(name, upload string, seq int64, at string, body structs.Record) []byte {
	b.t.Helper()
	head := structs.Record{"uploadId": {Str: upload}, "seq": num(seq)}
	data, err := b.fam.Table.EncodePacket(name, head, pages.ComponentRecord(local(at)), body)
	if err != nil {
		b.t.Fatalf("EncodePacket(%s) error: %v", name, err)
	}
	return data
}

func (b builder) cbg(upload string, seq int64, at string, value int64) []byte {
	return b.packet("cbg", upload, seq, at, structs.Record{"value": num(value), "trend": num(4)})
}

func (b builder) timeChange(upload string, seq int64, from, to string) []byte {
	f := local(from)
	return b.packet("timechange", upload, seq, to, structs.Record{
		"fromYear": num(int64(f.Year() - 2000)), "fromMonth": num(int64(f.Month())), "fromDay": num(int64(f.Day())),
		"fromHour": num(int64(f.Hour())), "fromMinute": num(int64(f.Minute())), "fromSecond": num(int64(f.Second())),
		"pumpUploadId": {Str: upload}, "pumpSeq": num(seq),
	})
}

func page(ordinal int, packets ...[]byte) pages.RawPage {
	var data []byte
	for _, p := range packets {
		data = append(data, p...)
	}
	return pages.RawPage{Ordinal: ordinal, Valid: true, Data: data}
}

func mustNew(t *testing.T, cfg Config, fam *devices.Family, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(cfg, fam, opts...)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return p
}

func TestRunNAKLenientAndStrict(t *testing.T) {
	b := newBuilder(t)
	raw := []pages.RawPage{
		page(0, b.cbg("A", 1, "2017-01-01T10:00:00", 100), b.cbg("A", 2, "2017-01-01T10:05:00", 110)),
		{Ordinal: 1, NAK: true, Data: b.cbg("A", 3, "2017-01-01T10:10:00", 120)},
		page(2, b.cbg("A", 4, "2017-01-01T10:15:00", 130)),
	}

	out, err := mustNew(t, Config{}, b.fam).Run(context.Background(), raw)
	if err != nil {
		t.Fatalf("lenient Run error: %v", err)
	}
	if len(out.Gaps) != 1 || out.Gaps[0].Page != 1 || out.Gaps[0].Reason != pages.GapNAK {
		t.Fatalf("Gaps = %v, want one nak gap on page 1", out.Gaps)
	}
	if len(out.Records) != 3 || out.Pages != 3 {
		t.Fatalf("Run = %d records over %d pages, want 3 over 3", len(out.Records), out.Pages)
	}
	for i, r := range out.Records {
		if r.Header().Index != i {
			t.Fatalf("record %d Index = %d", i, r.Header().Index)
		}
	}
	if got := out.Records[2].Header().Identity.Seq; got != 4 {
		t.Fatalf("last seq = %d, want 4", got)
	}

	out, err = mustNew(t, Config{Strict: true}, b.fam).Run(context.Background(), raw)
	if !errors.Is(err, pages.ErrIncompletePageSequence) {
		t.Fatalf("strict Run error = %v, want ErrIncompletePageSequence", err)
	}
	var perr *Error
	if !errors.As(err, &perr) || perr.Stage != StageAssemble || perr.Page != 1 {
		t.Fatalf("strict Run error = %#v, want assemble error on page 1", err)
	}
	if len(out.Records) != 2 || out.Pages != 1 {
		t.Fatalf("strict prefix = %d records over %d pages, want 2 over 1", len(out.Records), out.Pages)
	}
}

func TestRunResolvesConfiguredTransitions(t *testing.T) {
	b := newBuilder(t)
	cfg := Config{Timezone: TimezoneConfig{
		BaseOffset: -420,
		Transitions: []TransitionConfig{
			{Effective: "2016-11-06T02:00:00", Offset: -420},
			{Effective: "2017-03-12T03:00:00", Offset: -480},
		},
	}}
	raw := []pages.RawPage{page(0,
		b.cbg("A", 1, "2016-12-01T00:00:00", 100),
		b.cbg("A", 2, "2017-04-01T00:00:00", 100),
	)}
	out, err := mustNew(t, cfg, b.fam).Run(context.Background(), raw)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	tests := []struct {
		offset int
		utc    time.Time
	}{
		{-420, time.Date(2016, 12, 1, 7, 0, 0, 0, time.UTC)},
		{-480, time.Date(2017, 4, 1, 8, 0, 0, 0, time.UTC)},
	}
	for i, tt := range tests {
		h := out.Records[i].Header()
		if h.TimezoneOffset != tt.offset || !h.Time.Equal(tt.utc) {
			t.Fatalf("record %d = %d %v, want %d %v", i, h.TimezoneOffset, h.Time, tt.offset, tt.utc)
		}
	}
	if len(out.Transitions) != 2 {
		t.Fatalf("Transitions = %d, want 2", len(out.Transitions))
	}
}

func TestRunDerivesTransitionsFromClockChanges(t *testing.T) {
	b := newBuilder(t)
	cfg := Config{Timezone: TimezoneConfig{BaseOffset: -420, DeriveFromData: true}}
	raw := []pages.RawPage{page(0,
		b.cbg("A", 1, "2017-03-12T01:00:00", 100),
		b.timeChange("A", 2, "2017-03-12T02:00:00", "2017-03-12T03:00:00"),
		b.cbg("A", 3, "2017-03-13T10:00:00", 100),
	)}
	out, err := mustNew(t, cfg, b.fam).Run(context.Background(), raw)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(out.Records) != 3 {
		t.Fatalf("Records = %d, want 3", len(out.Records))
	}
	// ordinary records first, clock changes after them within the upload
	first, second := out.Records[0].Header(), out.Records[1].Header()
	if first.TimezoneOffset != -480 || !first.Time.Equal(time.Date(2017, 3, 12, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("before change = %d %v", first.TimezoneOffset, first.Time)
	}
	if second.TimezoneOffset != -420 || !second.Time.Equal(time.Date(2017, 3, 13, 17, 0, 0, 0, time.UTC)) {
		t.Fatalf("after change = %d %v", second.TimezoneOffset, second.Time)
	}
	if !records.IsTimeChange(out.Records[2]) {
		t.Fatalf("last record is %T, want a time change", out.Records[2])
	}
}

func TestRunDerivesByLogPosition(t *testing.T) {
	b := newBuilder(t)
	tests := []struct {
		name    string
		current int
		raw     []pages.RawPage
		want    map[int64]time.Time
	}{
		{
			name:    "clock corrected after a wrong set",
			current: -420,
			raw: []pages.RawPage{
				page(0, b.cbg("A", 1, "2017-05-01T09:50:00", 100),
					b.timeChange("A", 2, "2017-05-01T10:00:00", "2017-05-01T12:00:00")),
				page(1, b.cbg("A", 3, "2017-05-01T12:05:00", 110),
					b.timeChange("A", 4, "2017-05-01T12:10:00", "2017-05-01T10:10:00")),
				page(2, b.cbg("A", 5, "2017-05-01T10:20:00", 120)),
			},
			want: map[int64]time.Time{
				1: time.Date(2017, 5, 1, 16, 50, 0, 0, time.UTC),
				3: time.Date(2017, 5, 1, 17, 5, 0, 0, time.UTC),
				5: time.Date(2017, 5, 1, 17, 20, 0, 0, time.UTC),
			},
		},
		{
			name:    "fall back repeats an hour",
			current: -480,
			raw: []pages.RawPage{page(0,
				b.cbg("A", 1, "2016-11-06T01:30:00", 100),
				b.timeChange("A", 2, "2016-11-06T02:00:00", "2016-11-06T01:00:00"),
				b.cbg("A", 3, "2016-11-06T01:30:00", 100),
			)},
			want: map[int64]time.Time{
				1: time.Date(2016, 11, 6, 8, 30, 0, 0, time.UTC),
				3: time.Date(2016, 11, 6, 9, 30, 0, 0, time.UTC),
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{Timezone: TimezoneConfig{BaseOffset: tc.current, DeriveFromData: true}}
			out, err := mustNew(t, cfg, b.fam).Run(context.Background(), tc.raw)
			if err != nil {
				t.Fatalf("Run error: %v", err)
			}
			if len(out.Rejected) != 0 {
				t.Fatalf("Rejected = %+v", out.Rejected)
			}
			seen := 0
			for _, r := range out.Records {
				h := r.Header()
				want, ok := tc.want[h.Identity.Seq]
				if !ok || records.IsTimeChange(r) {
					continue
				}
				seen++
				if !h.Time.Equal(want) {
					t.Fatalf("seq %d Time = %v, want %v", h.Identity.Seq, h.Time, want)
				}
			}
			if seen != len(tc.want) {
				t.Fatalf("matched %d readings, want %d", seen, len(tc.want))
			}
		})
	}
}

func TestRunStrictResolveKeepsEarlierPages(t *testing.T) {
	b := newBuilder(t)
	cfg := Config{Strict: true, Timezone: TimezoneConfig{
		BaseOffset:          60,
		RejectExtrapolation: true,
		ValidFrom:           "2017-01-01T00:00:00",
	}}
	raw := []pages.RawPage{
		page(0, b.cbg("A", 1, "2017-01-01T01:00:00", 100), b.cbg("A", 2, "2017-01-01T01:05:00", 100)),
		page(1, b.cbg("A", 3, "2017-01-01T01:10:00", 100), b.cbg("A", 4, "2016-12-31T23:00:00", 100)),
		page(2, b.cbg("A", 5, "2017-01-01T01:20:00", 100)),
	}
	out, err := mustNew(t, cfg, b.fam).Run(context.Background(), raw)
	var perr *Error
	if !errors.As(err, &perr) || perr.Stage != StageResolve || perr.Page != 1 {
		t.Fatalf("Run error = %v, want resolve error on page 1", err)
	}
	if !errors.Is(err, tzoffset.ErrUnresolvedTimestamp) {
		t.Fatalf("Run error = %v, want ErrUnresolvedTimestamp", err)
	}
	if len(out.Records) != 2 || out.Pages != 1 {
		t.Fatalf("prefix = %d records over %d pages, want 2 over 1", len(out.Records), out.Pages)
	}
	for i, r := range out.Records {
		h := r.Header()
		if h.Index != i || h.Identity.Seq != int64(i+1) || h.Time.IsZero() {
			t.Fatalf("record %d = seq %d index %d time %v", i, h.Identity.Seq, h.Index, h.Time)
		}
	}
}

func TestRunRejectsBadRecords(t *testing.T) {
	b := newBuilder(t)
	raw := []pages.RawPage{
		page(0, b.cbg("A", 1, "2017-01-01T10:00:00", 100)),
		page(1, b.cbg("A", 2, "2017-01-01T10:05:00", 5), b.cbg("A", 3, "2017-01-01T10:10:00", 120)),
	}
	out, err := mustNew(t, Config{}, b.fam).Run(context.Background(), raw)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(out.Records) != 2 || len(out.Rejected) != 1 {
		t.Fatalf("Run = %d records %d rejected, want 2 and 1", len(out.Records), len(out.Rejected))
	}
	if r := out.Rejected[0]; r.Stage != StageNormalize || r.Page != 1 || r.Packet != 1 || r.Type != "cbg" {
		t.Fatalf("Rejected = %+v", r)
	}

	out, err = mustNew(t, Config{Strict: true}, b.fam).Run(context.Background(), raw)
	var perr *Error
	if !errors.As(err, &perr) || perr.Stage != StageNormalize || perr.Page != 1 {
		t.Fatalf("strict Run error = %v, want normalize error on page 1", err)
	}
	if len(out.Records) != 1 {
		t.Fatalf("strict prefix = %d records, want 1", len(out.Records))
	}
}

func TestRunRejectExtrapolation(t *testing.T) {
	b := newBuilder(t)
	cfg := Config{Timezone: TimezoneConfig{
		BaseOffset:          60,
		RejectExtrapolation: true,
		ValidFrom:           "2017-01-01T00:00:00",
	}}
	raw := []pages.RawPage{page(0,
		b.cbg("A", 1, "2016-12-31T23:00:00", 100),
		b.cbg("A", 2, "2017-01-01T01:00:00", 100),
	)}
	out, err := mustNew(t, cfg, b.fam).Run(context.Background(), raw)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(out.Records) != 1 || len(out.Rejected) != 1 || out.Rejected[0].Stage != StageResolve {
		t.Fatalf("Run = %d records, rejected %+v", len(out.Records), out.Rejected)
	}
}

func TestRunDedupPolicies(t *testing.T) {
	b := newBuilder(t)
	raw := []pages.RawPage{
		page(0, b.cbg("A", 1, "2017-01-01T10:00:00", 100)),
		page(1, b.cbg("A", 1, "2017-01-01T10:00:00", 140)),
	}
	out, err := mustNew(t, Config{Dedup: "last-wins"}, b.fam).Run(context.Background(), raw)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(out.Records) != 1 || len(out.Duplicates) != 1 {
		t.Fatalf("Run = %d records %d duplicates, want 1 and 1", len(out.Records), len(out.Duplicates))
	}
	if got := out.Records[0].(*records.CBG).Value; got != 140 {
		t.Fatalf("kept value = %d, want 140", got)
	}

	out, err = mustNew(t, Config{Dedup: "reject"}, b.fam).Run(context.Background(), raw)
	if !errors.Is(err, sequence.ErrDuplicateIdentity) {
		t.Fatalf("Run error = %v, want ErrDuplicateIdentity", err)
	}
	if len(out.Records) != 0 || len(out.Duplicates) != 1 {
		t.Fatalf("rejected batch = %d records %d duplicates", len(out.Records), len(out.Duplicates))
	}
}

func TestRunIDsAreStable(t *testing.T) {
	b := newBuilder(t)
	raw := []pages.RawPage{page(0, b.cbg("A", 1, "2017-01-01T10:00:00", 100))}
	p := mustNew(t, Config{DeviceID: "pdm-1"}, b.fam)
	first, err := p.Run(context.Background(), raw)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	second, err := p.Run(context.Background(), raw)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	id := first.Records[0].Header().ID
	if id == "" || id != second.Records[0].Header().ID {
		t.Fatalf("IDs = %q and %q, want equal and set", id, second.Records[0].Header().ID)
	}
}

func TestRunCancelled(t *testing.T) {
	b := newBuilder(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := mustNew(t, Config{}, b.fam).Run(ctx, []pages.RawPage{page(0, b.cbg("A", 1, "2017-01-01T10:00:00", 100))})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if out.Pages != 0 || len(out.Records) != 0 {
		t.Fatalf("cancelled Run committed %d pages", out.Pages)
	}
}

func TestRunMetrics(t *testing.T) {
	b := newBuilder(t)
	m := common.NewMetrics()
	raw := []pages.RawPage{
		page(0, b.cbg("A", 1, "2017-01-01T10:00:00", 100)),
		{Ordinal: 1, Valid: false},
	}
	if _, err := mustNew(t, Config{}, b.fam, WithMetrics(m)).Run(context.Background(), raw); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	s := m.Snapshot()
	if s.Pages != 2 || s.TotalPages != 2 || s.Packets != 1 || s.Gaps != 1 || s.Records != 1 {
		t.Fatalf("Snapshot = %+v", s)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "table.yaml"), []byte("family: podlog\n"), 0o644); err != nil {
		t.Fatalf("write table: %v", err)
	}
	path := filepath.Join(dir, "config.yaml")
	doc := `deviceId: pdm-1
table: table.yaml
timezone:
  baseOffset: -300
  transitions:
    - effective: "2017-03-12T03:00:00"
      offset: -240
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Family != "podlog" || cfg.UnknownPackets != UnknownSkip || cfg.Dedup != "first-wins" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if want := filepath.Join(dir, "table.yaml"); cfg.Table != want {
		t.Fatalf("Table = %q, want %q", cfg.Table, want)
	}
	if len(cfg.Timezone.Transitions) != 1 || cfg.Timezone.Transitions[0].Offset != -240 {
		t.Fatalf("Transitions = %+v", cfg.Timezone.Transitions)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown policy", Config{Dedup: "newest"}},
		{"unknown packets", Config{UnknownPackets: "ignore"}},
		{"derive and table", Config{Timezone: TimezoneConfig{
			DeriveFromData: true,
			Transitions:    []TransitionConfig{{Effective: "2017-01-01T00:00:00"}},
		}}},
		{"bad effective", Config{Timezone: TimezoneConfig{
			Transitions: []TransitionConfig{{Effective: "yesterday"}},
		}}},
		{"base offset out of range", Config{Timezone: TimezoneConfig{BaseOffset: 900}}},
		{"until before from", Config{Timezone: TimezoneConfig{
			ValidFrom: "2017-02-01T00:00:00", ValidUntil: "2017-01-01T00:00:00",
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.WithDefaults().Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestNewRejectsUnorderedTransitions(t *testing.T) {
	b := newBuilder(t)
	cfg := Config{Timezone: TimezoneConfig{Transitions: []TransitionConfig{
		{Effective: "2017-03-12T03:00:00", Offset: -240},
		{Effective: "2017-03-12T03:00:00", Offset: -300},
	}}}
	if _, err := New(cfg, b.fam); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("New error = %v, want ErrInvalidConfig", err)
	}
}
