package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/pageshot/coverage"
	"github.com/hazyhaar/pageshot/shot"
)

// StoreSchema holds the latest composite per page and the failure log.
const StoreSchema = `
CREATE TABLE IF NOT EXISTS shot_composites (
	page_id      TEXT PRIMARY KEY,
	page_url     TEXT NOT NULL,
	composite_id TEXT NOT NULL,
	seq          INTEGER NOT NULL,
	width        INTEGER NOT NULL,
	height       INTEGER NOT NULL,
	covered      TEXT NOT NULL DEFAULT '[]',
	png          BLOB NOT NULL,
	updated_at   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS shot_failures (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	page_id     TEXT NOT NULL,
	stage       TEXT NOT NULL,
	error       TEXT NOT NULL,
	delta       TEXT NOT NULL DEFAULT '[]',
	attempts    INTEGER NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_shot_failures_page ON shot_failures(page_id);
`

// Store keeps the latest composite of every page in SQLite. Each delivery
// overwrites the previous row of its page; a session delivers in order.
type Store struct {
	db *sql.DB
}

// NewStore wraps a database that already has StoreSchema applied.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Deliver(ctx context.Context, c shot.Composite) error {
	data, err := shot.EncodePNG(&c)
	if err != nil {
		return err
	}
	covered, err := json.Marshal(c.Covered)
	if err != nil {
		return fmt.Errorf("store: marshal covered: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shot_composites (page_id, page_url, composite_id, seq, width, height, covered, png, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(page_id) DO UPDATE SET
			page_url = excluded.page_url,
			composite_id = excluded.composite_id,
			seq = excluded.seq,
			width = excluded.width,
			height = excluded.height,
			covered = excluded.covered,
			png = excluded.png,
			updated_at = excluded.updated_at`,
		c.PageID, c.PageURL, c.ID, c.Seq, c.Width, c.Height, string(covered), data, c.Timestamp)
	if err != nil {
		return fmt.Errorf("store: upsert composite: %w", err)
	}
	return nil
}

func (s *Store) Report(ctx context.Context, f shot.Failure) error {
	delta, err := json.Marshal(f.Delta)
	if err != nil {
		return fmt.Errorf("store: marshal delta: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shot_failures (page_id, stage, error, delta, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.PageID, string(f.Stage), f.Error, string(delta), f.Attempts, f.Timestamp)
	if err != nil {
		return fmt.Errorf("store: insert failure: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return nil }

// StoredComposite is a row of shot_composites.
type StoredComposite struct {
	PageID      string
	PageURL     string
	CompositeID string
	Seq         uint64
	Width       int
	Height      int
	Covered     []coverage.Span
	PNG         []byte
	UpdatedAt   int64
}

// Latest returns the stored composite of a page, or sql.ErrNoRows.
func (s *Store) Latest(ctx context.Context, pageID string) (*StoredComposite, error) {
	var sc StoredComposite
	var covered string
	err := s.db.QueryRowContext(ctx, `
		SELECT page_id, page_url, composite_id, seq, width, height, covered, png, updated_at
		FROM shot_composites WHERE page_id = ?`, pageID).
		Scan(&sc.PageID, &sc.PageURL, &sc.CompositeID, &sc.Seq, &sc.Width, &sc.Height, &covered, &sc.PNG, &sc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(covered), &sc.Covered); err != nil {
		return nil, fmt.Errorf("store: unmarshal covered: %w", err)
	}
	return &sc, nil
}

// FailureCount returns the number of failures logged for a page.
func (s *Store) FailureCount(ctx context.Context, pageID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM shot_failures WHERE page_id = ?`, pageID).Scan(&n)
	return n, err
}
