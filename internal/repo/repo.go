// Package repo implements ports.Repo against the two backends the
// teacher's internal/database package supports: SQLite (via
// modernc.org/sqlite, the teacher's embedded default) and PostgreSQL
// (via github.com/lib/pq, the teacher's high-concurrency option). Both
// constructors build a *sqlRepo around the same query set; only
// connection setup, migration DDL, and placeholder style differ between
// them, so that divergence stays isolated to sqlite.go and postgres.go
// rather than duplicated across every method the way the teacher's
// database.go/postgres.go pair does it.
package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bryan-buckman/feedscheduler/internal/model"
)

// sqlRepo implements ports.Repo over a *sql.DB. pg selects $N placeholder
// rebinding and ON CONFLICT compatible with PostgreSQL; false uses
// SQLite's ? placeholders.
type sqlRepo struct {
	db *sql.DB
	pg bool
}

// rebind rewrites a query written with '?' placeholders into PostgreSQL's
// '$1', '$2', ... form when pg is true; otherwise it returns q unchanged.
func rebind(q string, pg bool) string {
	if !pg {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (r *sqlRepo) q(query string) string { return rebind(query, r.pg) }

// Close closes the underlying connection pool.
func (r *sqlRepo) Close() error { return r.db.Close() }

// DatabaseType reports the backend name, mirroring the teacher's Store
// interface method of the same name (internal/database/store.go).
func (r *sqlRepo) DatabaseType() string {
	if r.pg {
		return "PostgreSQL"
	}
	return "SQLite"
}

// SupportsHighConcurrency reports whether the backend tolerates many
// concurrent writers; SQLite serializes writes behind a single lock.
func (r *sqlRepo) SupportsHighConcurrency() bool { return r.pg }

func (r *sqlRepo) DueFeeds(ctx context.Context, nowMs int64, limit int) ([]model.FeedConfig, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT fc.feed_id, fc.url, fc.domain, fc.base_poll_seconds
		FROM feed_configs fc
		LEFT JOIN link_states ls ON ls.feed_id = fc.feed_id
		WHERE ls.feed_id IS NULL OR ls.next_poll_at_ms <= ?
		ORDER BY COALESCE(ls.next_poll_at_ms, 0) ASC, fc.feed_id ASC
		LIMIT ?
	`), nowMs, limit)
	if err != nil {
		return nil, fmt.Errorf("repo: due feeds query: %w", err)
	}
	defer rows.Close()

	var out []model.FeedConfig
	for rows.Next() {
		var fc model.FeedConfig
		if err := rows.Scan(&fc.ID, &fc.URL, &fc.Domain, &fc.BasePollSeconds); err != nil {
			return nil, fmt.Errorf("repo: due feeds scan: %w", err)
		}
		out = append(out, fc)
	}
	return out, rows.Err()
}

func (r *sqlRepo) LatestState(ctx context.Context, feedID string) (model.LinkState, bool, error) {
	row := r.db.QueryRowContext(ctx, r.q(`
		SELECT feed_id, current_poll_seconds, jitter_fraction, max_poll_seconds,
		       next_poll_at_ms, last_status, failure_streak, etag, last_modified,
		       content_hash, last_success_at_ms
		FROM link_states WHERE feed_id = ?
	`), feedID)

	var (
		s            model.LinkState
		etag         sql.NullString
		lastModified sql.NullString
		contentHash  sql.NullString
		lastSuccess  sql.NullInt64
	)
	err := row.Scan(&s.FeedID, &s.CurrentPollSeconds, &s.JitterFraction, &s.MaxPollSeconds,
		&s.NextPollAtMs, &s.LastStatus, &s.FailureStreak, &etag, &lastModified,
		&contentHash, &lastSuccess)
	if err == sql.ErrNoRows {
		return model.LinkState{}, false, nil
	}
	if err != nil {
		return model.LinkState{}, false, fmt.Errorf("repo: latest state: %w", err)
	}
	s.ETag = etag.String
	s.LastModified = lastModified.String
	s.ContentHash = contentHash.String
	s.LastSuccessAtMs = lastSuccess.Int64
	return s, true, nil
}

func (r *sqlRepo) UpsertLatestState(ctx context.Context, state model.LinkState) error {
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO link_states (
			feed_id, current_poll_seconds, jitter_fraction, max_poll_seconds,
			next_poll_at_ms, last_status, failure_streak, etag, last_modified,
			content_hash, last_success_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (feed_id) DO UPDATE SET
			current_poll_seconds = excluded.current_poll_seconds,
			jitter_fraction      = excluded.jitter_fraction,
			max_poll_seconds     = excluded.max_poll_seconds,
			next_poll_at_ms      = excluded.next_poll_at_ms,
			last_status          = excluded.last_status,
			failure_streak       = excluded.failure_streak,
			etag                 = excluded.etag,
			last_modified        = excluded.last_modified,
			content_hash         = excluded.content_hash,
			last_success_at_ms   = excluded.last_success_at_ms
	`), state.FeedID, state.CurrentPollSeconds, state.JitterFraction, state.MaxPollSeconds,
		state.NextPollAtMs, state.LastStatus, state.FailureStreak, nullIfEmpty(state.ETag),
		nullIfEmpty(state.LastModified), nullIfEmpty(state.ContentHash), nullIfZero(state.LastSuccessAtMs))
	if err != nil {
		return fmt.Errorf("repo: upsert latest state: %w", err)
	}
	return nil
}

func (r *sqlRepo) RecordHistory(ctx context.Context, rec model.HistoryRecord) error {
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO history_records (
			feed_id, attempted_at_ms, method, status_class, http_code,
			bytes_read, duration_ms, outcome
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), rec.FeedID, rec.AttemptedAtMs, rec.Method, rec.StatusClass, nullIfZero(int64(rec.HTTPCode)),
		rec.BytesRead, rec.DurationMs, rec.Outcome)
	if err != nil {
		return fmt.Errorf("repo: record history: %w", err)
	}
	return nil
}

func (r *sqlRepo) UpsertItems(ctx context.Context, feedID string, items []model.FeedItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repo: upsert items begin: %w", err)
	}
	defer tx.Rollback()

	stmt := r.q(`
		INSERT INTO feed_items (feed_id, item_id, title, link, content, published_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (feed_id, item_id) DO UPDATE SET
			title           = excluded.title,
			link            = excluded.link,
			content         = excluded.content,
			published_at_ms = excluded.published_at_ms
	`)
	for _, it := range items {
		if _, err := tx.ExecContext(ctx, stmt, feedID, it.ItemID, it.Title, it.Link, it.Content, it.PublishedAtMs); err != nil {
			return fmt.Errorf("repo: upsert item %s: %w", it.ItemID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("repo: upsert items commit: %w", err)
	}
	return nil
}

// AllFeeds returns every FeedConfig row, ordered by FeedID. Not part of
// ports.Repo (spec.md §6.1 fixes that contract's method set) — it backs
// cmd/seedfeeds's -export flag, which needs the full catalog back out to
// hand to opml.Export.
func (r *sqlRepo) AllFeeds(ctx context.Context) ([]model.FeedConfig, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT feed_id, url, domain, base_poll_seconds
		FROM feed_configs
		ORDER BY feed_id ASC
	`))
	if err != nil {
		return nil, fmt.Errorf("repo: all feeds query: %w", err)
	}
	defer rows.Close()

	var out []model.FeedConfig
	for rows.Next() {
		var fc model.FeedConfig
		if err := rows.Scan(&fc.ID, &fc.URL, &fc.Domain, &fc.BasePollSeconds); err != nil {
			return nil, fmt.Errorf("repo: all feeds scan: %w", err)
		}
		out = append(out, fc)
	}
	return out, rows.Err()
}

func (r *sqlRepo) UpsertFeedsBulk(ctx context.Context, feeds []model.FeedConfig, chunkSize int, timezone string) error {
	if _, err := time.LoadLocation(timezone); err != nil {
		return fmt.Errorf("repo: upsert feeds: invalid timezone %q: %w", timezone, err)
	}
	if chunkSize <= 0 {
		chunkSize = 200
	}
	stmt := r.q(`
		INSERT INTO feed_configs (feed_id, url, domain, base_poll_seconds)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (feed_id) DO UPDATE SET
			url               = excluded.url,
			domain            = excluded.domain,
			base_poll_seconds = excluded.base_poll_seconds
	`)

	for start := 0; start < len(feeds); start += chunkSize {
		end := start + chunkSize
		if end > len(feeds) {
			end = len(feeds)
		}
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("repo: upsert feeds begin: %w", err)
		}
		for _, fc := range feeds[start:end] {
			if _, err := tx.ExecContext(ctx, stmt, fc.ID, fc.URL, fc.Domain, fc.BasePollSeconds); err != nil {
				tx.Rollback()
				return fmt.Errorf("repo: upsert feed %s: %w", fc.ID, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("repo: upsert feeds commit: %w", err)
		}
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullIfZero(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}
