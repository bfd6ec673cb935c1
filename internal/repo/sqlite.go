package repo

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/bryan-buckman/feedscheduler/internal/ports"
)

// SQLiteRepo is the embedded-database ports.Repo implementation, grounded
// in the teacher's internal/database/database.go: same PRAGMAs (foreign
// keys, WAL, busy timeout), same create-if-not-exists migration style.
type SQLiteRepo struct {
	*sqlRepo
}

var _ ports.Repo = (*SQLiteRepo)(nil)

// NewSQLite opens or creates a SQLite database at path and migrates it.
func NewSQLite(path string) (*SQLiteRepo, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repo: open sqlite: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("repo: sqlite pragma %q: %w", pragma, err)
		}
	}
	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("repo: sqlite migrate: %w", err)
	}
	return &SQLiteRepo{&sqlRepo{db: conn, pg: false}}, nil
}
