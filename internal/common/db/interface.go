package db

import (
	"context"
	"database/sql"
	"errors"
)

// Database is the subset of database/sql used by the history repository.
type Database interface {
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Ping(ctx context.Context) error
	Close() error
}

// Result summarizes an executed statement.
type Result interface {
	RowsAffected() (int64, error)
}

// Row is a single-row query result.
type Row interface {
	Scan(dest ...interface{}) error
}

// IsNoRows checks if the error is sql.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
