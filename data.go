package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	usersTable = "users"

	insertUserSQL = `INSERT INTO users (id, email) VALUES ($1, $2)`
	countUsersSQL = `SELECT COUNT(*) FROM users`
)

var userColumns = []string{"id", "email"}

type user struct {
	ID    string `db:"id"`
	Email string `db:"email"`
}

// batch 一个并发单元负责的行号区间 [Start, End)
type batch struct {
	Start int
	End   int
}

// Len 区间内的行数
func (b batch) Len() int {
	return b.End - b.Start
}

// generateUsers 生成 [start, end) 区间的用户
//
// email 由行号决定，id 每次随机
func generateUsers(start, end int) []user {
	if end <= start {
		return nil
	}

	users := make([]user, 0, end-start)
	for i := start; i < end; i++ {
		users = append(users, user{
			ID:    uuid.NewString(),
			Email: userEmail(i),
		})
	}
	return users
}

func userEmail(i int) string {
	return fmt.Sprintf("user%d@test.com", i)
}

// partition 把 total 行切分为连续且不重叠的批次，最后一批吸收余数
func partition(total, batchSize int) ([]batch, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if total < 0 {
		return nil, errors.New("total must not be negative")
	}

	batches := make([]batch, 0, (total+batchSize-1)/batchSize)
	for start := 0; start < total; start += batchSize {
		batches = append(batches, batch{
			Start: start,
			End:   min(start+batchSize, total),
		})
	}
	return batches, nil
}
