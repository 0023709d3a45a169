package database

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

type PgQnaRepository struct {
	conn *sql.DB
}

func NewPgQnaRepository(dsn string) (*PgQnaRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgQnaRepository{conn: db}, nil
}

func (db *PgQnaRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgQnaRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation, e.g. a duplicate vote created by a concurrent toggle.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
