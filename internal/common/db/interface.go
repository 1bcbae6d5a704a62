package db

import (
	"context"
	"database/sql"
)

// Database is the connection pool used by repositories.
type Database interface {
	Querier

	// Transaction runs fn inside a transaction, committing when fn returns nil.
	Transaction(ctx context.Context, fn func(tx Transaction) error) error
	BeginTx(ctx context.Context, opts *TxOptions) (Transaction, error)
	Ping(ctx context.Context) error
	Close() error
}

// Transaction is an open database transaction.
type Transaction interface {
	Querier
	Commit() error
	Rollback() error
}

// Rows is the result of a query that returns many rows.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Row is the result of a query that returns at most one row.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result summarizes an executed statement.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

// TxOptions holds the transaction options.
type TxOptions struct {
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

// ConvertTxOptions maps TxOptions onto database/sql options.
func ConvertTxOptions(opts *TxOptions) *sql.TxOptions {
	if opts == nil {
		return nil
	}
	return &sql.TxOptions{Isolation: opts.Isolation, ReadOnly: opts.ReadOnly}
}
