package config

import (
	"context"
	"database/sql"
	"time"
)

// Schema for the shot_pages table.
const Schema = `
CREATE TABLE IF NOT EXISTS shot_pages (
	id                 TEXT PRIMARY KEY,
	url                TEXT NOT NULL,
	autoscroll         INTEGER DEFAULT 1,
	scroll_interval_ms INTEGER DEFAULT 0,
	scroll_overlap     INTEGER DEFAULT 0,
	status             TEXT DEFAULT 'active',
	updated_at         INTEGER NOT NULL
);
`

// LoadPages reads all active pages from the database. cooldown seeds the
// default scroll interval as for YAML pages.
func LoadPages(ctx context.Context, db *sql.DB, cooldown time.Duration) ([]PageConfig, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, url, autoscroll, scroll_interval_ms, scroll_overlap
		FROM shot_pages
		WHERE status = 'active'
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []PageConfig
	for rows.Next() {
		var p PageConfig
		var auto int
		var intervalMs int64
		if err := rows.Scan(&p.ID, &p.URL, &auto, &intervalMs, &p.ScrollOverlap); err != nil {
			return nil, err
		}
		p.AutoScroll = auto != 0
		p.ScrollInterval = time.Duration(intervalMs) * time.Millisecond
		p.ApplyDefaults(cooldown)
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// UpsertPage inserts or replaces a page row.
func UpsertPage(ctx context.Context, db *sql.DB, p PageConfig) error {
	auto := 0
	if p.AutoScroll {
		auto = 1
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO shot_pages (id, url, autoscroll, scroll_interval_ms, scroll_overlap, status, updated_at)
		VALUES (?, ?, ?, ?, ?, 'active', ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			autoscroll = excluded.autoscroll,
			scroll_interval_ms = excluded.scroll_interval_ms,
			scroll_overlap = excluded.scroll_overlap,
			status = 'active',
			updated_at = excluded.updated_at`,
		p.ID, p.URL, auto, p.ScrollInterval.Milliseconds(), p.ScrollOverlap, time.Now().UnixMilli())
	return err
}
