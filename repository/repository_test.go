package repository_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"chain-gateway/db"
	"chain-gateway/repository"
)

type blockDoc struct {
	ID        string `json:"id"`
	Height    int64  `json:"height"`
	Timestamp int64  `json:"timestamp"`
}

func newRepo(t *testing.T) *repository.IndexRepository {
	t.Helper()
	ldb, err := db.NewMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { ldb.Close() })
	return repository.NewIndexRepository(ldb, "blocks")
}

func writeBlock(t *testing.T, repo *repository.IndexRepository, b blockDoc) {
	t.Helper()
	require.NoError(t, repo.Write(repository.Document{
		ID:     b.ID,
		Value:  b,
		Scores: map[string]int64{"timestamp": b.Timestamp},
		Props:  map[string]string{"height": "h" + b.ID},
	}))
}

func TestFindByRangeOrdersByScore(t *testing.T) {
	repo := newRepo(t)
	writeBlock(t, repo, blockDoc{ID: "c", Height: 3, Timestamp: 300})
	writeBlock(t, repo, blockDoc{ID: "a", Height: 1, Timestamp: 100})
	writeBlock(t, repo, blockDoc{ID: "b", Height: 2, Timestamp: 200})
	writeBlock(t, repo, blockDoc{ID: "d", Height: 4, Timestamp: 400})

	ids, err := repo.FindByRange("timestamp", 100, 300, false, 10, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, ids)

	ids, err = repo.FindByRange("timestamp", 100, 400, true, 2, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b"}, ids)
}

func TestFindByRangeHandlesNegativeScores(t *testing.T) {
	repo := newRepo(t)
	require.NoError(t, repo.WriteRange("score", -5, "neg"))
	require.NoError(t, repo.WriteRange("score", 5, "pos"))

	ids, err := repo.FindByRange("score", -10, 10, false, 10, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"neg", "pos"}, ids)
}

func TestRewriteDropsStaleScore(t *testing.T) {
	repo := newRepo(t)
	writeBlock(t, repo, blockDoc{ID: "a", Timestamp: 100})
	writeBlock(t, repo, blockDoc{ID: "a", Timestamp: 500})

	ids, err := repo.FindByRange("timestamp", 0, 200, false, 10, 0)
	require.NoError(t, err)
	require.Empty(t, ids)

	n, err := repo.Count()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestFindOneByProperty(t *testing.T) {
	repo := newRepo(t)
	writeBlock(t, repo, blockDoc{ID: "a", Height: 1, Timestamp: 100})

	var got blockDoc
	require.NoError(t, repo.FindOneByProperty("height", "ha", &got))
	require.Equal(t, int64(1), got.Height)

	got = blockDoc{}
	require.NoError(t, repo.FindOneByProperty("timestamp", "100", &got))
	require.Equal(t, "a", got.ID)

	err := repo.FindOneByProperty("height", "missing", &got)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDeleteByProperty(t *testing.T) {
	repo := newRepo(t)
	writeBlock(t, repo, blockDoc{ID: "a", Timestamp: 100})
	writeBlock(t, repo, blockDoc{ID: "b", Timestamp: 200})

	n, err := repo.DeleteByProperty("timestamp", "100")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var got blockDoc
	require.ErrorIs(t, repo.FindByID("a", &got), repository.ErrNotFound)
	require.ErrorIs(t, repo.FindOneByProperty("height", "ha", &got), repository.ErrNotFound)

	ids, err := repo.FindByRange("timestamp", 0, 1000, false, 10, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, ids)
}
