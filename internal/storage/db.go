package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"offerwatch/internal"
)

type DB struct {
	conn *sql.DB
	now  func() time.Time
}

func Open(ctx context.Context, path string) (*DB, error) {
	const opn = "storage.Open"

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%s: %w", opn, err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opn, err)
	}
	if _, err := conn.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: wal: %w", opn, err)
	}

	db := New(conn)
	if err := db.init(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", opn, err)
	}
	return db, nil
}

// New wraps an open handle without touching the schema.
func New(conn *sql.DB) *DB {
	return &DB{conn: conn, now: time.Now}
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS laptop_criteria (
  id TEXT PRIMARY KEY,
  model TEXT NOT NULL,
  ram_from TEXT NOT NULL DEFAULT '',
  ram_to TEXT NOT NULL DEFAULT '',
  storage_from TEXT NOT NULL DEFAULT '',
  storage_to TEXT NOT NULL DEFAULT '',
  grade_from TEXT NOT NULL DEFAULT '',
  grade_to TEXT NOT NULL DEFAULT '',
  graphics_card TEXT NOT NULL DEFAULT '',
  max_price_worst TEXT NOT NULL DEFAULT '',
  max_price_best TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS monitor_criteria (
  id TEXT PRIMARY KEY,
  size_inches_min REAL,
  size_inches_max REAL,
  resolution_min TEXT NOT NULL DEFAULT '',
  resolution_max TEXT NOT NULL DEFAULT '',
  max_price TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS desktop_criteria (
  id TEXT PRIMARY KEY,
  case_type TEXT NOT NULL,
  ram_from TEXT NOT NULL DEFAULT '',
  ram_to TEXT NOT NULL DEFAULT '',
  storage_from TEXT NOT NULL DEFAULT '',
  storage_to TEXT NOT NULL DEFAULT '',
  max_price TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS settings (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS email_stats (
  id TEXT PRIMARY KEY,
  status TEXT NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  subject TEXT NOT NULL DEFAULT '',
  sender TEXT NOT NULL DEFAULT '',
  product_type TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_email_stats_created ON email_stats(created_at);
`
	_, err := d.conn.ExecContext(ctx, schema)
	return err
}

func (d *DB) ListLaptopCriteria(ctx context.Context) ([]internal.LaptopCriterion, error) {
	const opn = "storage.ListLaptopCriteria"

	rows, err := d.conn.QueryContext(ctx, `
SELECT id, model, ram_from, ram_to, storage_from, storage_to, grade_from, grade_to,
       graphics_card, max_price_worst, max_price_best
FROM laptop_criteria ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opn, err)
	}
	defer rows.Close()

	var out []internal.LaptopCriterion
	for rows.Next() {
		var c internal.LaptopCriterion
		if err := rows.Scan(&c.ID, &c.Model, &c.RAMFrom, &c.RAMTo, &c.StorageFrom, &c.StorageTo,
			&c.GradeFrom, &c.GradeTo, &c.GraphicsCard, &c.MaxPriceWorst, &c.MaxPriceBest); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", opn, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", opn, err)
	}
	return out, nil
}

func (d *DB) ListMonitorCriteria(ctx context.Context) ([]internal.MonitorCriterion, error) {
	const opn = "storage.ListMonitorCriteria"

	rows, err := d.conn.QueryContext(ctx, `
SELECT id, size_inches_min, size_inches_max, resolution_min, resolution_max, max_price
FROM monitor_criteria ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opn, err)
	}
	defer rows.Close()

	var out []internal.MonitorCriterion
	for rows.Next() {
		var (
			c      internal.MonitorCriterion
			lo, hi sql.NullFloat64
		)
		if err := rows.Scan(&c.ID, &lo, &hi, &c.ResolutionMin, &c.ResolutionMax, &c.MaxPrice); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", opn, err)
		}
		if lo.Valid {
			c.SizeInchesMin = &lo.Float64
		}
		if hi.Valid {
			c.SizeInchesMax = &hi.Float64
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", opn, err)
	}
	return out, nil
}

func (d *DB) ListDesktopCriteria(ctx context.Context) ([]internal.DesktopCriterion, error) {
	const opn = "storage.ListDesktopCriteria"

	rows, err := d.conn.QueryContext(ctx, `
SELECT id, case_type, ram_from, ram_to, storage_from, storage_to, max_price
FROM desktop_criteria ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opn, err)
	}
	defer rows.Close()

	var out []internal.DesktopCriterion
	for rows.Next() {
		var c internal.DesktopCriterion
		if err := rows.Scan(&c.ID, &c.CaseType, &c.RAMFrom, &c.RAMTo, &c.StorageFrom, &c.StorageTo, &c.MaxPrice); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", opn, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", opn, err)
	}
	return out, nil
}

// ReplaceLaptopCriteria swaps the whole laptop watch list in one transaction.
func (d *DB) ReplaceLaptopCriteria(ctx context.Context, items []internal.LaptopCriterion) error {
	return d.replace(ctx, "storage.ReplaceLaptopCriteria", "laptop_criteria", `
INSERT INTO laptop_criteria (id, model, ram_from, ram_to, storage_from, storage_to, grade_from, grade_to,
  graphics_card, max_price_worst, max_price_best)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, len(items), func(i int) []any {
		c := items[i]
		return []any{idOrNew(c.ID), c.Model, c.RAMFrom, c.RAMTo, c.StorageFrom, c.StorageTo,
			c.GradeFrom, c.GradeTo, c.GraphicsCard, c.MaxPriceWorst, c.MaxPriceBest}
	})
}

func (d *DB) ReplaceMonitorCriteria(ctx context.Context, items []internal.MonitorCriterion) error {
	return d.replace(ctx, "storage.ReplaceMonitorCriteria", "monitor_criteria", `
INSERT INTO monitor_criteria (id, size_inches_min, size_inches_max, resolution_min, resolution_max, max_price)
VALUES (?, ?, ?, ?, ?, ?)`, len(items), func(i int) []any {
		c := items[i]
		return []any{idOrNew(c.ID), nullFloat(c.SizeInchesMin), nullFloat(c.SizeInchesMax),
			c.ResolutionMin, c.ResolutionMax, c.MaxPrice}
	})
}

func (d *DB) ReplaceDesktopCriteria(ctx context.Context, items []internal.DesktopCriterion) error {
	return d.replace(ctx, "storage.ReplaceDesktopCriteria", "desktop_criteria", `
INSERT INTO desktop_criteria (id, case_type, ram_from, ram_to, storage_from, storage_to, max_price)
VALUES (?, ?, ?, ?, ?, ?, ?)`, len(items), func(i int) []any {
		c := items[i]
		return []any{idOrNew(c.ID), c.CaseType, c.RAMFrom, c.RAMTo, c.StorageFrom, c.StorageTo, c.MaxPrice}
	})
}

func (d *DB) replace(ctx context.Context, opn, table, insert string, n int, args func(i int) []any) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", opn, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("%s: clear: %w", opn, err)
	}
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("%s: prepare: %w", opn, err)
	}
	defer stmt.Close()

	for i := range n {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return fmt.Errorf("%s: insert row %d: %w", opn, i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", opn, err)
	}
	return nil
}

// GetSetting reports ok=false when the key was never set.
func (d *DB) GetSetting(ctx context.Context, key string) (string, bool, error) {
	const opn = "storage.GetSetting"

	var value string
	err := d.conn.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%s: %s: %w", opn, key, err)
	}
	return value, true, nil
}

func (d *DB) SetSetting(ctx context.Context, key, value string) error {
	const opn = "storage.SetSetting"

	_, err := d.conn.ExecContext(ctx, `
INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`, key, value, d.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("%s: %s: %w", opn, key, err)
	}
	return nil
}

// InsertStat fills ID and CreatedAt when they are zero and returns the
// stored record.
func (d *DB) InsertStat(ctx context.Context, rec internal.StatRecord) (internal.StatRecord, error) {
	const opn = "storage.InsertStat"

	rec.ID = idOrNew(rec.ID)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = d.now()
	}
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO email_stats (id, status, reason, subject, sender, product_type, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, rec.ID, string(rec.Status), rec.Reason, rec.Subject, rec.From, string(rec.ProductType), rec.CreatedAt.UnixMilli())
	if err != nil {
		return internal.StatRecord{}, fmt.Errorf("%s: %w", opn, err)
	}
	return rec, nil
}

// ListStats returns the records of the last days, newest first.
func (d *DB) ListStats(ctx context.Context, days int) ([]internal.StatRecord, error) {
	const opn = "storage.ListStats"

	rows, err := d.conn.QueryContext(ctx, `
SELECT id, status, reason, subject, sender, product_type, created_at
FROM email_stats WHERE created_at >= ? ORDER BY created_at DESC, rowid DESC
`, d.since(days))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opn, err)
	}
	defer rows.Close()

	var out []internal.StatRecord
	for rows.Next() {
		var (
			rec         internal.StatRecord
			status, pt  string
			createdAtMs int64
		)
		if err := rows.Scan(&rec.ID, &status, &rec.Reason, &rec.Subject, &rec.From, &pt, &createdAtMs); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", opn, err)
		}
		rec.Status = internal.StatStatus(status)
		rec.ProductType = internal.ProductType(pt)
		rec.CreatedAt = time.UnixMilli(createdAtMs)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", opn, err)
	}
	return out, nil
}

func (d *DB) StatsSummary(ctx context.Context, days int) (internal.StatsSummary, error) {
	const opn = "storage.StatsSummary"

	rows, err := d.conn.QueryContext(ctx, `
SELECT status, COUNT(*) FROM email_stats WHERE created_at >= ? GROUP BY status
`, d.since(days))
	if err != nil {
		return internal.StatsSummary{}, fmt.Errorf("%s: %w", opn, err)
	}
	defer rows.Close()

	sum := internal.StatsSummary{Days: days}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return internal.StatsSummary{}, fmt.Errorf("%s: scan: %w", opn, err)
		}
		switch internal.StatStatus(status) {
		case internal.StatProcessed:
			sum.Processed = n
		case internal.StatAccepted:
			sum.Accepted = n
		case internal.StatRejected:
			sum.Rejected = n
		}
	}
	if err := rows.Err(); err != nil {
		return internal.StatsSummary{}, fmt.Errorf("%s: %w", opn, err)
	}
	return sum, nil
}

func (d *DB) since(days int) int64 {
	if days <= 0 {
		days = 7
	}
	return d.now().Add(-time.Duration(days) * 24 * time.Hour).UnixMilli()
}

func idOrNew(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
