package store

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// memDriver is a database/sql driver that understands exactly the
// statements this package issues against policy_overrides. Each DSN names
// an isolated database.
type memDriver struct {
	mu  sync.Mutex
	dbs map[string]*memDB
}

var testDriver = &memDriver{dbs: make(map[string]*memDB)}

func init() {
	sql.Register("policy-memdb", testDriver)
}

type memRow struct {
	policy    []byte
	createdAt time.Time
	updatedAt time.Time
}

type memDB struct {
	mu   sync.Mutex
	rows map[[2]string]memRow
	now  time.Time
}

func (d *memDriver) Open(name string) (driver.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	db, ok := d.dbs[name]
	if !ok {
		db = &memDB{rows: make(map[[2]string]memRow), now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		d.dbs[name] = db
	}
	return &memConn{db: db}, nil
}

type memConn struct{ db *memDB }

func (c *memConn) Prepare(query string) (driver.Stmt, error) {
	return &memStmt{db: c.db, query: strings.Join(strings.Fields(query), " ")}, nil
}
func (c *memConn) Close() error              { return nil }
func (c *memConn) Begin() (driver.Tx, error) { return nil, fmt.Errorf("transactions unsupported") }

type memStmt struct {
	db    *memDB
	query string
}

func (s *memStmt) Close() error  { return nil }
func (s *memStmt) NumInput() int { return -1 }

func (s *memStmt) Exec(args []driver.Value) (driver.Result, error) {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()

	switch {
	case strings.HasPrefix(s.query, "CREATE TABLE"):
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(s.query, "INSERT INTO policy_overrides"):
		k := [2]string{args[0].(string), args[1].(string)}
		db.now = db.now.Add(time.Second)
		row, ok := db.rows[k]
		if !ok {
			row.createdAt = db.now
		}
		row.policy = append([]byte(nil), args[2].([]byte)...)
		row.updatedAt = db.now
		db.rows[k] = row
		return driver.RowsAffected(1), nil
	case strings.HasPrefix(s.query, "DELETE FROM policy_overrides"):
		k := [2]string{args[0].(string), args[1].(string)}
		if _, ok := db.rows[k]; !ok {
			return driver.RowsAffected(0), nil
		}
		delete(db.rows, k)
		return driver.RowsAffected(1), nil
	}
	return nil, fmt.Errorf("unsupported exec: %s", s.query)
}

func (s *memStmt) Query(args []driver.Value) (driver.Rows, error) {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()

	switch {
	case strings.HasPrefix(s.query, "SELECT scope, key, policy FROM"):
		keys := make([][2]string, 0, len(db.rows))
		for k := range db.rows {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i][0] != keys[j][0] {
				return keys[i][0] < keys[j][0]
			}
			return keys[i][1] < keys[j][1]
		})
		out := &memRows{cols: []string{"scope", "key", "policy"}}
		for _, k := range keys {
			out.data = append(out.data, []driver.Value{k[0], k[1], db.rows[k].policy})
		}
		return out, nil
	case strings.HasPrefix(s.query, "SELECT scope, key, policy, created_at, updated_at"):
		k := [2]string{args[0].(string), args[1].(string)}
		out := &memRows{cols: []string{"scope", "key", "policy", "created_at", "updated_at"}}
		if row, ok := db.rows[k]; ok {
			out.data = append(out.data, []driver.Value{k[0], k[1], row.policy, row.createdAt, row.updatedAt})
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported query: %s", s.query)
}

type memRows struct {
	cols []string
	data [][]driver.Value
	pos  int
}

func (r *memRows) Columns() []string { return r.cols }
func (r *memRows) Close() error      { return nil }

func (r *memRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.pos])
	r.pos++
	return nil
}
