// Package store keeps a SQLite ledger of committed upload batches so that
// a later session can drop records an earlier one already delivered.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"example.com/uploadcore/internal/records"
)

// Batch is one committed decode run.
type Batch struct {
	ID        string    `json:"id"`
	Family    string    `json:"family"`
	DeviceID  string    `json:"deviceId"`
	CreatedAt time.Time `json:"createdAt"`
	Records   int       `json:"records"`
	Output    string    `json:"output,omitempty"`
	Digest    string    `json:"digest,omitempty"`
}

// Key identifies a record across sessions of one device.
type Key struct {
	Identity records.Identity
	Type     string
	SubType  string
}

func KeyOf(r records.Record) Key {
	b := r.Header()
	return Key{Identity: b.Identity, Type: b.Type, SubType: b.SubType}
}

type Ledger struct {
	db      *sql.DB
	mu      sync.Mutex
	entropy *rand.Rand
}

// Open opens or creates the ledger database at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	l := &Ledger{db: db, entropy: rand.New(rand.NewSource(time.Now().UnixNano()))}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return l, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) newID(now time.Time) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), l.entropy).String()
}

func (l *Ledger) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS batches (
		id          TEXT PRIMARY KEY,
		family      TEXT NOT NULL,
		device_id   TEXT NOT NULL,
		created_at  TEXT NOT NULL,
		records     INTEGER NOT NULL,
		output      TEXT,
		digest      TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_batches_device ON batches(device_id, created_at);

	CREATE TABLE IF NOT EXISTS identities (
		device_id   TEXT NOT NULL,
		upload_id   TEXT NOT NULL,
		seq         INTEGER NOT NULL,
		type        TEXT NOT NULL,
		sub_type    TEXT NOT NULL,
		record_id   TEXT,
		batch_id    TEXT NOT NULL REFERENCES batches(id),
		PRIMARY KEY (device_id, upload_id, seq, type, sub_type)
	);
	CREATE INDEX IF NOT EXISTS idx_identities_batch ON identities(batch_id);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Seen returns the batch id of every key of recs already committed for
// deviceID.
func (l *Ledger) Seen(ctx context.Context, deviceID string, recs []records.Record) (map[Key]string, error) {
	seen := make(map[Key]string)
	stmt, err := l.db.PrepareContext(ctx, `
		SELECT batch_id FROM identities
		WHERE device_id = ? AND upload_id = ? AND seq = ? AND type = ? AND sub_type = ?`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	for _, r := range recs {
		k := KeyOf(r)
		if _, ok := seen[k]; ok {
			continue
		}
		var batch string
		err := stmt.QueryRowContext(ctx, deviceID, k.Identity.UploadID, k.Identity.Seq, k.Type, k.SubType).Scan(&batch)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return nil, fmt.Errorf("lookup %s: %w", k.Identity, err)
		default:
			seen[k] = batch
		}
	}
	return seen, nil
}

// Filter drops records already committed for deviceID and renumbers the rest
// so Index stays dense.
func (l *Ledger) Filter(ctx context.Context, deviceID string, recs []records.Record) (fresh []records.Record, dropped int, err error) {
	seen, err := l.Seen(ctx, deviceID, recs)
	if err != nil {
		return nil, 0, err
	}
	fresh = make([]records.Record, 0, len(recs))
	for _, r := range recs {
		if _, ok := seen[KeyOf(r)]; ok {
			dropped++
			continue
		}
		r.Header().Index = len(fresh)
		fresh = append(fresh, r)
	}
	return fresh, dropped, nil
}

// Commit records b and the identities of recs in one transaction. The batch
// id and creation time are assigned here.
func (l *Ledger) Commit(ctx context.Context, b Batch, recs []records.Record) (Batch, error) {
	now := time.Now().UTC()
	b.ID = l.newID(now)
	b.CreatedAt = now
	b.Records = len(recs)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return b, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO batches (id, family, device_id, created_at, records, output, digest) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Family, b.DeviceID, now.Format(time.RFC3339Nano), b.Records, b.Output, b.Digest)
	if err != nil {
		return b, fmt.Errorf("insert batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO identities (device_id, upload_id, seq, type, sub_type, record_id, batch_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return b, err
	}
	defer stmt.Close()
	for _, r := range recs {
		k := KeyOf(r)
		if _, err := stmt.ExecContext(ctx, b.DeviceID, k.Identity.UploadID, k.Identity.Seq, k.Type, k.SubType, r.Header().ID, b.ID); err != nil {
			return b, fmt.Errorf("insert %s: %w", k.Identity, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	return b, nil
}

// Batches lists the batches of deviceID, newest first. An empty deviceID
// lists every device.
func (l *Ledger) Batches(ctx context.Context, deviceID string) ([]Batch, error) {
	query := `SELECT id, family, device_id, created_at, records, COALESCE(output, ''), COALESCE(digest, '') FROM batches`
	var args []any
	if deviceID != "" {
		query += ` WHERE device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Batch
	for rows.Next() {
		var b Batch
		var created string
		if err := rows.Scan(&b.ID, &b.Family, &b.DeviceID, &created, &b.Records, &b.Output, &b.Digest); err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("batch %s created_at: %w", b.ID, err)
		}
		b.CreatedAt = ts
		out = append(out, b)
	}
	return out, rows.Err()
}
