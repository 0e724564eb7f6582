package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"

	"example.com/uploadcore/internal/records"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger", "test.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func cbg(upload string, seq int64) records.Record {
	return &records.CBG{Base: records.Base{
		Type:     records.TypeCBG,
		Identity: records.Identity{UploadID: upload, Seq: seq},
	}}
}

func TestCommitAndFilter(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	first := []records.Record{cbg("A", 1), cbg("A", 2)}
	b, err := l.Commit(ctx, Batch{Family: "podlog", DeviceID: "pdm-1"}, first)
	if err != nil {
		t.Fatalf("Commit error: %v", err)
	}
	if _, err := ulid.Parse(b.ID); err != nil {
		t.Fatalf("batch id %q is not a ULID: %v", b.ID, err)
	}
	if b.Records != 2 {
		t.Fatalf("Records = %d, want 2", b.Records)
	}

	next := []records.Record{cbg("A", 2), cbg("A", 3), cbg("B", 1)}
	fresh, dropped, err := l.Filter(ctx, "pdm-1", next)
	if err != nil {
		t.Fatalf("Filter error: %v", err)
	}
	if dropped != 1 || len(fresh) != 2 {
		t.Fatalf("Filter = %d fresh %d dropped, want 2 and 1", len(fresh), dropped)
	}
	for i, r := range fresh {
		if r.Header().Index != i {
			t.Fatalf("fresh[%d].Index = %d", i, r.Header().Index)
		}
	}

	// other devices are separate
	fresh, dropped, err = l.Filter(ctx, "pdm-2", next)
	if err != nil || dropped != 0 || len(fresh) != 3 {
		t.Fatalf("Filter other device = %d fresh %d dropped, %v", len(fresh), dropped, err)
	}
}

func TestTimeChangeKeyIsSeparate(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	if _, err := l.Commit(ctx, Batch{Family: "podlog", DeviceID: "d"}, []records.Record{cbg("A", 1)}); err != nil {
		t.Fatalf("Commit error: %v", err)
	}
	tc := &records.TimeChange{Base: records.Base{
		Type: records.TypeDeviceEvt, SubType: records.SubTimeChange,
		Identity: records.Identity{UploadID: "A", Seq: 1},
	}}
	seen, err := l.Seen(ctx, "d", []records.Record{tc})
	if err != nil {
		t.Fatalf("Seen error: %v", err)
	}
	if len(seen) != 0 {
		t.Fatalf("Seen = %v, want none", seen)
	}
}

func TestBatches(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	for _, dev := range []string{"d1", "d1", "d2"} {
		if _, err := l.Commit(ctx, Batch{Family: "podlog", DeviceID: dev, Digest: "ff"}, nil); err != nil {
			t.Fatalf("Commit error: %v", err)
		}
	}
	all, err := l.Batches(ctx, "")
	if err != nil {
		t.Fatalf("Batches error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Batches = %d, want 3", len(all))
	}
	d1, err := l.Batches(ctx, "d1")
	if err != nil {
		t.Fatalf("Batches error: %v", err)
	}
	if len(d1) != 2 || d1[0].Digest != "ff" || d1[0].CreatedAt.IsZero() {
		t.Fatalf("Batches(d1) = %+v", d1)
	}
}

func TestBatchesRejectsBadTimestamp(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO batches (id, family, device_id, created_at, records) VALUES (?, ?, ?, ?, ?)`,
		"b1", "podlog", "d1", "last tuesday", 0)
	if err != nil {
		t.Fatalf("insert batch: %v", err)
	}
	if _, err := l.Batches(ctx, "d1"); err == nil || !strings.Contains(err.Error(), "b1 created_at") {
		t.Fatalf("Batches error = %v, want created_at parse error for b1", err)
	}
}
