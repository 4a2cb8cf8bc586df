package accounts_test

import (
	"context"
	"fmt"
	"testing"

	"chain-gateway/accounts"
	"chain-gateway/compat"
	"chain-gateway/compat/compattest"
	"chain-gateway/delegates"
	"chain-gateway/models"
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

func chainAccounts() []models.Account {
	return []models.Account{
		{Address: "a1", Username: "alice", PublicKey: "pk1", Balance: 100, IsDelegate: true},
		{Address: "a2", Username: "bob", Balance: 300},
		{Address: "a3", Balance: 50},
	}
}

func TestIndexedLookupsGoThroughStore(t *testing.T) {
	ctx := context.Background()
	adapter := &compattest.Adapter{Ver: compat.SDKv5, Accounts: chainAccounts()}
	svc := accounts.NewService(adapter, newStore(t))

	_, err := svc.GetAccounts(ctx, models.AccountParams{Username: "carol"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	res, err := svc.GetAccounts(ctx, models.AccountParams{Addresses: []string{"a1", "a2", "a3"}})
	require.NoError(t, err)
	assert.Len(t, res.Data, 3)

	res, err = svc.GetAccounts(ctx, models.AccountParams{Username: "alice"})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "a1", res.Data[0].Address)

	res, err = svc.GetAccounts(ctx, models.AccountParams{PublicKey: "pk1"})
	require.NoError(t, err)
	assert.Equal(t, "a1", res.Data[0].Address)

	top, err := svc.GetTopAccounts(ctx, models.Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, top.Data, 2)
	assert.Equal(t, "a2", top.Data[0].Address)
	assert.Equal(t, "a1", top.Data[1].Address)
	assert.Equal(t, 3, top.Meta.Total)

	delegates, err := svc.GetAccounts(ctx, models.AccountParams{IsDelegate: true})
	require.NoError(t, err)
	require.Len(t, delegates.Data, 1)
	assert.Equal(t, "alice", delegates.Data[0].Username)
}

type tip int64

func (h tip) CurrentHeight() int64 { return int64(h) }

func TestDelegateReloadFillsIndex(t *testing.T) {
	ctx := context.Background()
	adapter := &compattest.Adapter{
		Ver:      compat.SDKv5,
		Accounts: chainAccounts(),
		Delegates: []models.Delegate{
			{Address: "a1", Username: "alice", PublicKey: "pk1", Weight: 100, IsDelegate: true},
		},
	}
	svc := accounts.NewService(adapter, newStore(t))
	engine := delegates.NewEngine(adapter, tip(1), nil, 0)
	engine.OnReload(svc.IndexDelegates)
	require.NoError(t, engine.Reload(ctx))

	res, err := svc.GetAccounts(ctx, models.AccountParams{Username: "alice"})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "a1", res.Data[0].Address)
	assert.Equal(t, uint64(100), res.Data[0].Balance)

	top, err := svc.GetTopAccounts(ctx, models.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, top.Meta.Total)
	assert.Equal(t, "a1", top.Data[0].Address)
}

func TestIndexDelegatesSkipsDirectCores(t *testing.T) {
	adapter := &compattest.Adapter{Ver: compat.SDKv4, Accounts: chainAccounts()}
	st := newStore(t)
	svc := accounts.NewService(adapter, st)
	svc.IndexDelegates(context.Background(), []models.Delegate{{Address: "a1"}})

	assert.Zero(t, adapter.Calls("GetAccounts"))
	n, err := st.Count(context.Background(), store.Query{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDirectLookupsBelowIndexedCores(t *testing.T) {
	ctx := context.Background()
	adapter := &compattest.Adapter{Ver: compat.SDKv4, Accounts: chainAccounts()}
	svc := accounts.NewService(adapter, nil)

	res, err := svc.GetAccounts(ctx, models.AccountParams{Username: "bob"})
	require.NoError(t, err)
	assert.Equal(t, "a2", res.Data[0].Address)

	_, err = svc.GetAccounts(ctx, models.AccountParams{Address: "nope"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	top, err := svc.GetTopAccounts(ctx, models.Page{})
	require.NoError(t, err)
	assert.Equal(t, "a2", top.Data[0].Address)
}

func TestAdapterFailureDegradesToEmpty(t *testing.T) {
	adapter := &compattest.Adapter{Ver: compat.SDKv4, Accounts: chainAccounts()}
	adapter.SetErr(compat.ErrAdapterUnavailable)
	svc := accounts.NewService(adapter, nil)

	res, err := svc.GetAccounts(context.Background(), models.AccountParams{Address: "a1"})
	require.NoError(t, err)
	assert.Empty(t, res.Data)
}
