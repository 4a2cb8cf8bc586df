package store_test

import (
	"context"
	"fmt"
	"testing"

	"chain-gateway/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *store.AccountStore {
	t.Helper()
	db, err := store.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	s, err := store.NewAccountStore(db)
	require.NoError(t, err)
	return s
}

func TestUpsertMergesExistingRows(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []store.AccountRow{
		{Address: "a1", Username: "alice", Balance: 10},
		{Address: "a2", Balance: 20},
	}))
	// a1 already exists, so the batch insert fails and falls back to per-row upserts
	require.NoError(t, s.Upsert(ctx, []store.AccountRow{
		{Address: "a1", Username: "alice", PublicKey: "pk1", Balance: 15},
		{Address: "a3", Balance: 30},
	}))

	rows, err := s.Find(ctx, store.Query{Where: map[string]any{"publicKey": "pk1"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a1", rows[0].Address)
	assert.Equal(t, uint64(15), rows[0].Balance)

	n, err := s.Count(ctx, store.Query{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestFindSortBetweenAndPage(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	var rows []store.AccountRow
	for i := 1; i <= 5; i++ {
		rows = append(rows, store.AccountRow{Address: fmt.Sprintf("a%d", i), Balance: uint64(i * 100)})
	}
	require.NoError(t, s.Upsert(ctx, rows))

	got, err := s.Find(ctx, store.Query{Sort: "balance:desc", Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a4", got[0].Address)
	assert.Equal(t, "a3", got[1].Address)

	got, err = s.Find(ctx, store.Query{Between: &store.Between{Prop: "balance", From: 200, To: 400}, Sort: "balance:asc"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a2", got[0].Address)

	_, err = s.Find(ctx, store.Query{Sort: "drop table:asc"})
	assert.Error(t, err)
	_, err = s.Find(ctx, store.Query{Where: map[string]any{"1=1 or address": "x"}})
	assert.Error(t, err)
}

func TestRecordKeysKeepsOtherColumns(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, []store.AccountRow{{Address: "a1", Username: "alice", Balance: 10}}))

	require.NoError(t, s.RecordKeys(ctx, map[string]string{"a1": "pk1", "a2": "pk2"}))

	rows, err := s.Find(ctx, store.Query{Where: map[string]any{"address": "a1"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "pk1", rows[0].PublicKey)
	assert.Equal(t, "alice", rows[0].Username)
	assert.Equal(t, uint64(10), rows[0].Balance)

	keys, err := s.PublicKeys(ctx, []string{"a1", "a2", "a3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a1": "pk1", "a2": "pk2"}, keys)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := store.Open("oracle", "dsn")
	assert.Error(t, err)
}
