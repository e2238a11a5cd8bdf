package main

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// fakePool 内存连接池，记录并发度和写入的行
type fakePool struct {
	slots chan struct{}
	max   int

	// failBatch 返回非 nil 时该批次写入失败
	failBatch  func(users []user) error
	acquireErr error
	delay      time.Duration

	mu    sync.Mutex
	users []user

	acquired    atomic.Int64
	inflight    atomic.Int64
	maxInflight atomic.Int64
	closed      atomic.Int64
}

func newFakePool(maxConns int) *fakePool {
	return &fakePool{
		slots: make(chan struct{}, maxConns),
		max:   maxConns,
	}
}

func (p *fakePool) Acquire(ctx context.Context) (Conn, error) {
	if p.acquireErr != nil {
		return nil, &ConnectionError{Op: "acquire", Err: p.acquireErr}
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, &ConnectionError{Op: "acquire", Err: ctx.Err()}
	}
	p.acquired.Add(1)
	return &fakeConn{pool: p}, nil
}

func (p *fakePool) Stats() PoolStats {
	return PoolStats{
		Acquired: int(p.acquired.Load()),
		Total:    p.max,
		Max:      p.max,
	}
}

func (p *fakePool) Close() error {
	p.closed.Add(1)
	return nil
}

func (p *fakePool) rows() []user {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]user(nil), p.users...)
}

type fakeConn struct {
	pool *fakePool
	once sync.Once
}

func (c *fakeConn) CountUsers(ctx context.Context) (int64, error) {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	return int64(len(c.pool.users)), nil
}

func (c *fakeConn) InsertUsers(ctx context.Context, users []user) (int64, error) {
	n := c.pool.inflight.Add(1)
	defer c.pool.inflight.Add(-1)
	for {
		old := c.pool.maxInflight.Load()
		if n <= old || c.pool.maxInflight.CompareAndSwap(old, n) {
			break
		}
	}

	if c.pool.delay > 0 {
		time.Sleep(c.pool.delay)
	}
	if c.pool.failBatch != nil {
		if err := c.pool.failBatch(users); err != nil {
			return 0, err
		}
	}

	c.pool.mu.Lock()
	c.pool.users = append(c.pool.users, users...)
	c.pool.mu.Unlock()
	return int64(len(users)), nil
}

func (c *fakeConn) Release() {
	c.once.Do(func() {
		c.pool.acquired.Add(-1)
		<-c.pool.slots
	})
}

var errBoom = errors.New("boom")

// failContaining 包含第 i 行的批次失败
func failContaining(i int) func(users []user) error {
	email := userEmail(i)
	return func(users []user) error {
		for _, u := range users {
			if u.Email == email {
				return errBoom
			}
		}
		return nil
	}
}

func fakeOpener(p *fakePool, opened *atomic.Int64) openFunc {
	return func(ctx context.Context, dsn string, opts poolOptions) (Pool, error) {
		if opened != nil {
			opened.Add(1)
		}
		return p, nil
	}
}
