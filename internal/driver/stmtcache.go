package driver

import (
	"container/list"
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// DefaultStmtCacheCapacity bounds how many prepared statements a
// StmtCache keeps live at once before evicting the least recently used.
const DefaultStmtCacheCapacity = 256

type stmtEntry struct {
	sql  string
	stmt *sql.Stmt
}

// StmtCache is an LRU cache of prepared statements over one *sql.DB,
// keyed by the exact SQL text so the frequently-repeated statements
// sqlgen produces (one insert per collection shape, one select per
// distinct filter/order/join combination) don't get re-prepared on
// every call.
type StmtCache struct {
	mu       sync.Mutex
	db       *sql.DB
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

// NewStmtCache wraps db with a bounded prepared-statement cache.
func NewStmtCache(db *sql.DB, capacity int) *StmtCache {
	if capacity <= 0 {
		capacity = DefaultStmtCacheCapacity
	}
	return &StmtCache{db: db, capacity: capacity, order: list.New(), index: make(map[string]*list.Element)}
}

// Prepare returns a cached *sql.Stmt for query, preparing and caching it
// on first use.
func (c *StmtCache) Prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	c.mu.Lock()
	if el, ok := c.index[query]; ok {
		c.order.MoveToFront(el)
		stmt := el.Value.(*stmtEntry).stmt
		c.mu.Unlock()
		return stmt, nil
	}
	c.mu.Unlock()

	stmt, err := c.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("driver: prepare statement: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another goroutine may have raced us to prepare the same query;
	// keep theirs and close ours rather than leaking a stale *sql.Stmt.
	if el, ok := c.index[query]; ok {
		c.order.MoveToFront(el)
		existing := el.Value.(*stmtEntry).stmt
		stmt.Close()
		return existing, nil
	}

	el := c.order.PushFront(&stmtEntry{sql: query, stmt: stmt})
	c.index[query] = el
	if c.order.Len() > c.capacity {
		back := c.order.Back()
		c.order.Remove(back)
		evicted := back.Value.(*stmtEntry)
		delete(c.index, evicted.sql)
		evicted.stmt.Close()
	}
	return stmt, nil
}

// Len returns the number of statements currently cached.
func (c *StmtCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Close closes every cached statement.
func (c *StmtCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for el := c.order.Front(); el != nil; el = el.Next() {
		if err := el.Value.(*stmtEntry).stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.order.Init()
	c.index = make(map[string]*list.Element)
	return firstErr
}
