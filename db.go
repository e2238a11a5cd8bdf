package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const (
	insertModeCopy  = "copy"
	insertModeBatch = "batch"
)

// Pool 有界连接池
type Pool interface {
	// Acquire 取一个连接，没有空闲连接时阻塞，用完必须 Release
	Acquire(ctx context.Context) (Conn, error)
	Stats() PoolStats
	// Close 释放全部连接，可重复调用
	Close() error
}

// Conn 从连接池取出的单个连接
type Conn interface {
	CountUsers(ctx context.Context) (int64, error)
	// InsertUsers 在一个原子单元内写入 users，返回写入行数
	InsertUsers(ctx context.Context, users []user) (int64, error)
	Release()
}

// PoolStats 连接池状态
type PoolStats struct {
	Acquired int
	Idle     int
	Total    int
	Max      int
}

type poolOptions struct {
	MaxConns int
	Mode     string
	Pragma   Pragma
}

type openFunc func(ctx context.Context, dsn string, opts poolOptions) (Pool, error)

// openPool 按连接串选择后端
//
//	sqlite://path   use modernc.org/sqlite
//	sqlite3://path  use github.com/mattn/go-sqlite3
//	其它            postgresql, use github.com/jackc/pgx/v4/pgxpool
func openPool(ctx context.Context, dsn string, opts poolOptions) (Pool, error) {
	if dsn == "" {
		return nil, &ConfigurationError{Key: envDatabaseURL}
	}
	if opts.MaxConns <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", opts.MaxConns)
	}

	var (
		pool Pool
		err  error
	)
	if driver, file, ok := sqliteDSN(dsn); ok {
		pool, err = newSQLitePool(ctx, driver, file, opts)
	} else {
		pool, err = newPGPool(ctx, dsn, opts)
	}
	if err != nil {
		return nil, &ConnectionError{Op: "open", Err: err}
	}
	return pool, nil
}

func sqliteDSN(dsn string) (driver, file string, ok bool) {
	switch {
	case strings.HasPrefix(dsn, "sqlite3://"):
		return "sqlite3", strings.TrimPrefix(dsn, "sqlite3://"), true
	case strings.HasPrefix(dsn, "sqlite://"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite://"), true
	}
	return "", "", false
}

// Pragma sqlite数据库配置
//
// https://www.sqlite.org/pragma.html
type Pragma struct {
	WithMutex bool `koanf:"with_mutex"`

	BusyTimeout int    `koanf:"busy_timeout"`
	JournalMode string `koanf:"journal_mode"`
	Synchronous string `koanf:"synchronous"`
	CacheSize   int    `koanf:"cache_size"`
}

func (p Pragma) encode(driver string) string {
	switch driver {
	case "sqlite3":
		return p.encodeMattn()
	case "sqlite":
		return p.encodeModernc()
	}
	return ""
}

func (p Pragma) encodeMattn() string {
	val := url.Values{}

	if v := p.JournalMode; v != "" {
		val.Set("_journal_mode", v)
	}
	if v := p.Synchronous; v != "" {
		val.Set("_synchronous", v)
	}
	if v := p.CacheSize; v != 0 {
		val.Set("_cache_size", fmt.Sprintf("%d", v))
	}
	if v := p.BusyTimeout; v != 0 {
		val.Set("_busy_timeout", fmt.Sprintf("%d", v))
	}

	result, _ := url.QueryUnescape(val.Encode())
	return result
}

func (p Pragma) encodeModernc() string {
	val := url.Values{}

	if v := p.JournalMode; v != "" {
		val.Add("_pragma", fmt.Sprintf("journal_mode(%s)", v))
	}
	if v := p.Synchronous; v != "" {
		val.Add("_pragma", fmt.Sprintf("synchronous(%s)", v))
	}
	if v := p.CacheSize; v != 0 {
		val.Add("_pragma", fmt.Sprintf("cache_size(%d)", v))
	}
	if v := p.BusyTimeout; v != 0 {
		val.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", v))
	}

	result, _ := url.QueryUnescape(val.Encode())
	return result
}

// DB 数据库连接
type DB struct {
	*sync.RWMutex
	*sqlx.DB

	withMutex bool
	dsn       string
}

// NewDB 创建数据库连接
//
//	dirver=sqlite3 use github.com/mattn/go-sqlite3
//	driver=sqlite use modernc.org/sqlite
func NewDB(driver, file string, pragma Pragma) (*DB, error) {
	dsn := file
	if query := pragma.encode(driver); query != "" {
		dsn = fmt.Sprintf("%s?%s", file, query)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, err
	}

	return &DB{
		RWMutex:   &sync.RWMutex{},
		DB:        db,
		withMutex: pragma.WithMutex,
		dsn:       dsn,
	}, nil
}

// GetContext 查询单条
func (db *DB) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	if db.withMutex {
		db.RLock()
		defer db.RUnlock()
	}

	return db.DB.GetContext(ctx, dest, query, args...)
}

// ExecContext 执行
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if db.withMutex {
		db.Lock()
		defer db.Unlock()
	}

	return db.DB.ExecContext(ctx, query, args...)
}

// lockWrite 写锁，未开启 WithMutex 时为空操作
func (db *DB) lockWrite() func() {
	if !db.withMutex {
		return func() {}
	}
	db.Lock()
	return db.Unlock
}

func (db *DB) lockRead() func() {
	if !db.withMutex {
		return func() {}
	}
	db.RLock()
	return db.RUnlock
}
