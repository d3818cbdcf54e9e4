package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// MySQL error numbers that signal a lost race rather than a bug.
const (
	mysqlDuplicateEntry  = 1062
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// querier is satisfied by both *sql.DB and *sql.Tx so read queries can be
// shared between the store and its transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqlReader implements Reader on top of a querier.
type sqlReader struct {
	q querier
}

// MySQLStore implements Store against the schema in internal/database.
// Seat counts are changed with a conditional UPDATE on the instance
// version and instance rows are locked with SELECT ... FOR UPDATE, so
// several API processes can share one database safely.
type MySQLStore struct {
	sqlReader
	db *sql.DB
}

// NewMySQLStore returns a store bound to db.
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{sqlReader: sqlReader{q: db}, db: db}
}

// DB exposes the underlying handle (health checks, migrations).
func (s *MySQLStore) DB() *sql.DB { return s.db }

type mysqlTx struct {
	sqlReader
	tx *sql.Tx
}

// txOptions makes every read after the instance row lock observe rows
// committed by the previous lock holder.
var txOptions = &sql.TxOptions{Isolation: sql.LevelReadCommitted}

// WithTx runs fn inside a database transaction.
func (s *MySQLStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, txOptions)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(&mysqlTx{sqlReader: sqlReader{q: tx}, tx: tx}); err != nil {
		return translate(err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", translate(err))
	}
	committed = true
	return nil
}

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlDuplicateEntry, mysqlLockWaitTimeout, mysqlDeadlock:
			return fmt.Errorf("%w: %s", ErrConflict, me.Message)
		}
	}
	return err
}

// expectOne turns a zero-row conditional update into ErrConflict.
func expectOne(res sql.Result, err error) error {
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
