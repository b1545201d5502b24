// Package sqlite is the record store: articles, fetch logs, summaries and users
// persisted with sqlx on top of modernc's sqlite driver.
package sqlite

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"

	"github.com/jdholdren/digest/internal/digest"
)

// Ensure Repo implements the Repository interface
var _ digest.Repository = (*Repo)(nil)

// Extended result codes from sqlite for constraint failures.
const (
	codeConstraintForeignKey = 787
	codeConstraintUnique     = 2067
)

type Repo struct {
	db  *sqlx.DB
	now func() time.Time
}

func New(db *sqlx.DB) Repo {
	return Repo{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Open connects to the sqlite database at path with foreign keys enforced.
func Open(path string) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("%s?_txlock=immediate&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	dbx, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	return dbx, nil
}

func sqliteCode(err error) int {
	sqliteErr := &sqlite.Error{}
	if !errors.As(err, &sqliteErr) {
		return 0
	}
	return sqliteErr.Code()
}
