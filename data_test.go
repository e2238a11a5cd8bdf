package main

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartition(t *testing.T) {
	batches, err := partition(1_000_000, 10_000)
	require.NoError(t, err)
	require.Len(t, batches, 100)

	next := 0
	for _, b := range batches {
		assert.Equal(t, next, b.Start, "no gap or overlap")
		assert.Equal(t, 10_000, b.Len())
		next = b.End
	}
	assert.Equal(t, 1_000_000, next)
}

func TestPartitionRemainder(t *testing.T) {
	cases := []struct {
		Name      string
		Total     int
		BatchSize int
		Want      []batch
	}{
		{
			Name:      "remainder",
			Total:     25,
			BatchSize: 10,
			Want:      []batch{{0, 10}, {10, 20}, {20, 25}},
		},
		{
			Name:      "smaller than batch",
			Total:     3,
			BatchSize: 10,
			Want:      []batch{{0, 3}},
		},
		{
			Name:      "exact",
			Total:     20,
			BatchSize: 10,
			Want:      []batch{{0, 10}, {10, 20}},
		},
		{
			Name:      "empty",
			Total:     0,
			BatchSize: 10,
			Want:      []batch{},
		},
	}

	for _, c := range cases {
		t.Run(c.Name, func(t *testing.T) {
			got, err := partition(c.Total, c.BatchSize)
			require.NoError(t, err)
			assert.Equal(t, c.Want, got)
		})
	}
}

func TestPartitionInvalid(t *testing.T) {
	_, err := partition(100, 0)
	assert.Error(t, err)

	_, err = partition(100, -1)
	assert.Error(t, err)

	_, err = partition(-1, 10)
	assert.Error(t, err)
}

func TestGenerateUsers(t *testing.T) {
	users := generateUsers(40, 45)
	require.Len(t, users, 5)

	for i, u := range users {
		assert.Equal(t, userEmail(40+i), u.Email)
		_, err := uuid.Parse(u.ID)
		assert.NoError(t, err)
	}
	assert.Equal(t, "user40@test.com", users[0].Email)

	assert.Empty(t, generateUsers(10, 10))
	assert.Empty(t, generateUsers(10, 5))
}

func TestGenerateUsersAcrossRun(t *testing.T) {
	if testing.Short() {
		t.Skip("generates one million rows")
	}

	batches, err := partition(1_000_000, 10_000)
	require.NoError(t, err)

	ids := make(map[string]struct{}, 1_000_000)
	for _, b := range batches {
		for i, u := range generateUsers(b.Start, b.End) {
			if u.Email != userEmail(b.Start+i) {
				t.Fatalf("row %d has email %s", b.Start+i, u.Email)
			}
			if _, ok := ids[u.ID]; ok {
				t.Fatalf("duplicate id %s", u.ID)
			}
			ids[u.ID] = struct{}{}
		}
	}
	assert.Len(t, ids, 1_000_000)
}
