package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"regexp"
	"strings"
	"sync"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var errUnsupported = errors.New("not supported by recording driver")

// recorder captures every statement gorm sends through the postgres dialector
// and answers with scripted results.
type recorder struct {
	mu       sync.Mutex
	stmts    []recordedStmt
	affected []int64
	rows     []scriptedRows
}

type recordedStmt struct {
	SQL  string
	Args []driver.Value
}

type scriptedRows struct {
	columns []string
	values  [][]driver.Value
}

// expectExec queues the RowsAffected of the next UPDATE or INSERT.
func (r *recorder) expectExec(rowsAffected int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.affected = append(r.affected, rowsAffected)
}

// expectQuery queues the result set of the next SELECT.
func (r *recorder) expectQuery(columns []string, values ...[]driver.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, scriptedRows{columns: columns, values: values})
}

func (r *recorder) updates(t *testing.T) []recordedStmt {
	t.Helper()
	return r.matching("UPDATE")
}

func (r *recorder) inserts(t *testing.T) []recordedStmt {
	t.Helper()
	return r.matching("INSERT")
}

func (r *recorder) matching(verb string) []recordedStmt {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedStmt
	for _, stmt := range r.stmts {
		if strings.HasPrefix(stmt.SQL, verb) {
			out = append(out, stmt)
		}
	}
	return out
}

func (r *recorder) exec(query string, args []driver.NamedValue) (driver.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stmts = append(r.stmts, recordedStmt{SQL: query, Args: namedValues(args)})

	n := int64(1)
	if len(r.affected) > 0 {
		n, r.affected = r.affected[0], r.affected[1:]
	}
	return driver.RowsAffected(n), nil
}

func (r *recorder) query(query string, args []driver.NamedValue) (driver.Rows, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stmts = append(r.stmts, recordedStmt{SQL: query, Args: namedValues(args)})

	if len(r.rows) == 0 {
		return &fakeRows{}, nil
	}
	next := r.rows[0]
	r.rows = r.rows[1:]
	return &fakeRows{columns: next.columns, values: next.values}, nil
}

func namedValues(args []driver.NamedValue) []driver.Value {
	out := make([]driver.Value, 0, len(args))
	for _, a := range args {
		out = append(out, a.Value)
	}
	return out
}

type recordingConnector struct{ rec *recorder }

func (c recordingConnector) Connect(context.Context) (driver.Conn, error) {
	return recordingConn(c), nil
}

func (c recordingConnector) Driver() driver.Driver { return recordingDriver(c) }

type recordingDriver struct{ rec *recorder }

func (d recordingDriver) Open(string) (driver.Conn, error) { return recordingConn(d), nil }

type recordingConn struct{ rec *recorder }

func (c recordingConn) Prepare(string) (driver.Stmt, error) { return nil, errUnsupported }
func (c recordingConn) Close() error                        { return nil }
func (c recordingConn) Begin() (driver.Tx, error)           { return noopTx{}, nil }

func (c recordingConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	return c.rec.exec(query, args)
}

func (c recordingConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	return c.rec.query(query, args)
}

type noopTx struct{}

func (noopTx) Commit() error   { return nil }
func (noopTx) Rollback() error { return nil }

type fakeRows struct {
	columns []string
	values  [][]driver.Value
	next    int
}

func (r *fakeRows) Columns() []string { return r.columns }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.next >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.next])
	r.next++
	return nil
}

// newRecordingDB opens gorm on the real postgres dialector over the recorder.
func newRecordingDB(t *testing.T) (*gorm.DB, *recorder) {
	t.Helper()

	rec := &recorder{}
	sqlDB := sql.OpenDB(recordingConnector{rec: rec})
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		DisableAutomaticPing: true,
		TranslateError:       true,
		Logger:               logger.Discard,
	})
	if err != nil {
		t.Fatalf("gorm.Open() error = %v", err)
	}
	return db, rec
}

var placeholderPattern = regexp.MustCompile(`\$\d+`)

// whereClause returns the WHERE part of stmt with postgres placeholders shown as ?.
func whereClause(t *testing.T, stmt recordedStmt) string {
	t.Helper()

	idx := strings.Index(stmt.SQL, " WHERE ")
	if idx < 0 {
		t.Fatalf("statement has no WHERE clause: %s", stmt.SQL)
	}
	return placeholderPattern.ReplaceAllString(stmt.SQL[idx+1:], "?")
}

// insertedValue returns the argument bound to column in a single-row INSERT.
func insertedValue(t *testing.T, stmt recordedStmt, column string) driver.Value {
	t.Helper()

	open := strings.Index(stmt.SQL, "(")
	end := strings.Index(stmt.SQL, ") VALUES")
	if open < 0 || end < open {
		t.Fatalf("statement is not an INSERT with a column list: %s", stmt.SQL)
	}
	for i, col := range strings.Split(stmt.SQL[open+1:end], ",") {
		if strings.Trim(col, `" `) == column {
			if i >= len(stmt.Args) {
				t.Fatalf("column %s has no bound value: %s", column, stmt.SQL)
			}
			return stmt.Args[i]
		}
	}
	t.Fatalf("column %s not inserted: %s", column, stmt.SQL)
	return nil
}

// whereArgs returns the trailing n arguments, which bind the WHERE clause of an UPDATE.
func whereArgs(t *testing.T, stmt recordedStmt, n int) []driver.Value {
	t.Helper()

	if len(stmt.Args) < n {
		t.Fatalf("statement has %d args, want at least %d: %s", len(stmt.Args), n, stmt.SQL)
	}
	return stmt.Args[len(stmt.Args)-n:]
}
