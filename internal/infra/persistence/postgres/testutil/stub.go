// Package testutil fakes the kv table behind a database/sql driver so the
// postgres store can be exercised without a server.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// KVConn is a single fake connection holding the kv table. Writes issued
// inside a transaction are staged and only land on Commit.
type KVConn struct {
	mu sync.Mutex

	KV    map[string][]byte
	Execs []string

	FailPing   bool
	FailQuery  bool
	FailCommit bool
	Rollbacks  int

	staged []kvWrite
	inTx   bool
}

type kvWrite struct {
	key    string
	value  []byte
	delete bool
}

var driverSeq atomic.Int64

// NewStubDB registers a fresh driver instance and opens a pool on it.
func NewStubDB() (*sql.DB, *KVConn) {
	conn := &KVConn{KV: make(map[string][]byte)}
	name := fmt.Sprintf("fakekv%d", driverSeq.Add(1))
	sql.Register(name, kvDriver{conn: conn})
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Value returns the committed value for key.
func (c *KVConn) Value(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.KV[key]
	return v, ok
}

type kvDriver struct{ conn *KVConn }

func (d kvDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

func (c *KVConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("fakekv: prepared statements unsupported")
}

func (c *KVConn) Close() error { return nil }

func (c *KVConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *KVConn) Ping(context.Context) error {
	if c.FailPing {
		return errors.New("fakekv: connection refused")
	}
	return nil
}

func (c *KVConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inTx = true
	c.staged = nil
	return kvTx{conn: c}, nil
}

// ExecContext understands the DDL, the upsert and the delete issued by the store.
func (c *KVConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)

	stmt := strings.ToUpper(strings.TrimSpace(query))
	var w kvWrite
	switch {
	case strings.HasPrefix(stmt, "CREATE TABLE"):
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(stmt, "INSERT INTO KV"):
		if len(args) != 2 {
			return nil, fmt.Errorf("fakekv: upsert wants 2 args, got %d", len(args))
		}
		key, _ := args[0].Value.(string)
		value, _ := args[1].Value.([]byte)
		w = kvWrite{key: key, value: append([]byte(nil), value...)}
	case strings.HasPrefix(stmt, "DELETE FROM KV"):
		if len(args) != 1 {
			return nil, fmt.Errorf("fakekv: delete wants 1 arg, got %d", len(args))
		}
		key, _ := args[0].Value.(string)
		w = kvWrite{key: key, delete: true}
	default:
		return nil, fmt.Errorf("fakekv: unsupported statement %q", query)
	}
	if c.inTx {
		c.staged = append(c.staged, w)
	} else {
		c.apply(w)
	}
	return driver.RowsAffected(1), nil
}

func (c *KVConn) apply(w kvWrite) {
	if w.delete {
		delete(c.KV, w.key)
		return
	}
	c.KV[w.key] = w.value
}

// QueryContext answers the full-table scan used to hydrate the cache.
func (c *KVConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailQuery {
		return nil, errors.New("fakekv: relation kv is unavailable")
	}
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT KEY, VALUE FROM KV") {
		return nil, fmt.Errorf("fakekv: unsupported query %q", query)
	}
	keys := make([]string, 0, len(c.KV))
	for k := range c.KV {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := &kvRows{}
	for _, k := range keys {
		rows.rows = append(rows.rows, [2]driver.Value{k, c.KV[k]})
	}
	return rows, nil
}

type kvTx struct{ conn *KVConn }

func (t kvTx) Commit() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	staged := c.staged
	c.staged, c.inTx = nil, false
	if c.FailCommit {
		return errors.New("fakekv: commit aborted")
	}
	for _, w := range staged {
		c.apply(w)
	}
	return nil
}

func (t kvTx) Rollback() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	c.staged, c.inTx = nil, false
	c.Rollbacks++
	return nil
}

type kvRows struct {
	rows [][2]driver.Value
	next int
}

func (r *kvRows) Columns() []string { return []string{"key", "value"} }
func (r *kvRows) Close() error      { return nil }

func (r *kvRows) Next(dest []driver.Value) error {
	if r.next >= len(r.rows) {
		return io.EOF
	}
	dest[0], dest[1] = r.rows[r.next][0], r.rows[r.next][1]
	r.next++
	return nil
}
