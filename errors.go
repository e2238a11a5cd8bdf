package main

import (
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
)

// ConfigurationError 缺少必需配置
type ConfigurationError struct {
	Key string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s not set in environment", e.Key)
}

// ConnectionError 连接池创建或获取连接失败
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s connection, %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// BatchFailure 至少一个批次写入失败
//
// First 是最先完成的失败批次，其余批次照常执行完毕
type BatchFailure struct {
	First   batchOutcome
	Failed  int
	Batches int
}

func (e *BatchFailure) Error() string {
	return fmt.Sprintf("%d of %d batches failed, first batch [%d, %d): %v",
		e.Failed, e.Batches, e.First.Batch.Start, e.First.Batch.End, e.First.Err)
}

func (e *BatchFailure) Unwrap() error {
	return e.First.Err
}

// failureReason 错误分类，用于日志和指标
func failureReason(err error) string {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return "connection"
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return "unique_violation"
		case pgerrcode.CheckViolation:
			return "check_violation"
		case pgerrcode.NotNullViolation:
			return "not_null_violation"
		case pgerrcode.UndefinedTable:
			return "undefined_table"
		case pgerrcode.QueryCanceled:
			return "timeout"
		}
		if pgerrcode.IsConnectionException(pgErr.Code) {
			return "connection"
		}
		return "postgres_" + pgErr.Code
	}

	return "unknown"
}
