// Package compattest provides an in-memory compat.Adapter for tests.
package compattest

import (
	"context"
	"sort"
	"sync"
	"time"

	"chain-gateway/compat"
	"chain-gateway/models"
)

// Adapter serves canned records the way a core of version Ver would. Set Err to make every
// call fail. It is safe for concurrent use once populated.
type Adapter struct {
	Ver          compat.ProtocolVersion
	Epoch        time.Time
	Status       models.NetworkStatus
	Blocks       []models.Block
	Accounts     []models.Account
	Transactions []models.Transaction
	Peers        []models.Peer
	Delegates    []models.Delegate
	Forgers      []models.Delegate

	mu    sync.Mutex
	err   error
	calls map[string]int
	sink  func(compat.NodeEvent)
}

var _ compat.Adapter = (*Adapter)(nil)

// SetErr makes every following call fail with err; nil restores normal answers.
func (a *Adapter) SetErr(err error) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
}

// Calls reports how many times method was called.
func (a *Adapter) Calls(method string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[method]
}

// Emit delivers a native event to the subscriber, if any.
func (a *Adapter) Emit(ev compat.NodeEvent) {
	a.mu.Lock()
	sink := a.sink
	a.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
}

func (a *Adapter) enter(method string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.calls == nil {
		a.calls = map[string]int{}
	}
	a.calls[method]++
	return a.err
}

func (a *Adapter) Version() compat.ProtocolVersion { return a.Ver }

func (a *Adapter) ChainEpoch() time.Time { return a.Epoch }

func (a *Adapter) GetNetworkStatus(context.Context) (models.NetworkStatus, error) {
	if err := a.enter("GetNetworkStatus"); err != nil {
		return models.NetworkStatus{}, err
	}
	return a.Status, nil
}

func page[T any](items []T, offset, limit int) models.Result[T] {
	start, end := models.Page{Offset: offset, Limit: limit}.Bounds(len(items), 10)
	return models.NewResult(append([]T(nil), items[start:end]...), start, len(items))
}

func (a *Adapter) GetBlocks(_ context.Context, p models.BlockParams) (models.Result[models.Block], error) {
	if err := a.enter("GetBlocks"); err != nil {
		return models.Result[models.Block]{}, err
	}
	var out []models.Block
	switch {
	case p.ID != "":
		for _, b := range a.Blocks {
			if b.ID == p.ID {
				out = append(out, b)
			}
		}
		return models.NewResult(out, 0, len(out)), nil
	case len(p.IDs) > 0:
		for _, id := range p.IDs {
			for _, b := range a.Blocks {
				if b.ID == id {
					out = append(out, b)
				}
			}
		}
		return models.NewResult(out, 0, len(out)), nil
	case p.Height > 0:
		for _, b := range a.Blocks {
			if b.Height == p.Height {
				out = append(out, b)
			}
		}
		return models.NewResult(out, 0, len(out)), nil
	}

	for _, b := range a.Blocks {
		if p.HeightFrom > 0 && b.Height < p.HeightFrom || p.HeightTo > 0 && b.Height > p.HeightTo {
			continue
		}
		if p.FromTimestamp > 0 && b.Timestamp < p.FromTimestamp || p.ToTimestamp > 0 && b.Timestamp > p.ToTimestamp {
			continue
		}
		if p.GeneratorKey != "" && b.GeneratorPublicKey != p.GeneratorKey {
			continue
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Height > out[j].Height })
	if p.HeightFrom > 0 || p.HeightTo > 0 {
		return models.NewResult(out, 0, len(out)), nil
	}
	return page(out, p.Offset, p.Limit), nil
}

func (a *Adapter) GetAccounts(_ context.Context, p models.AccountParams) (models.Result[models.Account], error) {
	if err := a.enter("GetAccounts"); err != nil {
		return models.Result[models.Account]{}, err
	}
	match := func(acc models.Account) bool {
		switch {
		case p.Address != "":
			return acc.Address == p.Address
		case len(p.Addresses) > 0:
			for _, addr := range p.Addresses {
				if acc.Address == addr {
					return true
				}
			}
			return false
		case a.Ver >= compat.SDKv5:
			// only address lookups reach an indexed-accounts core
			return false
		case p.PublicKey != "":
			return acc.PublicKey == p.PublicKey
		case p.SecondPublicKey != "":
			return acc.SecondPublicKey == p.SecondPublicKey
		case p.Username != "":
			return acc.Username == p.Username
		}
		return !p.IsDelegate || acc.IsDelegate
	}
	var out []models.Account
	for _, acc := range a.Accounts {
		if match(acc) {
			out = append(out, acc)
		}
	}
	if p.Sort == "balance:desc" {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Balance > out[j].Balance })
	}
	return page(out, p.Offset, p.Limit), nil
}

func (a *Adapter) GetTransactions(_ context.Context, q compat.TransactionQuery) (models.Result[models.Transaction], error) {
	if err := a.enter("GetTransactions"); err != nil {
		return models.Result[models.Transaction]{}, err
	}
	var out []models.Transaction
	for _, tx := range a.Transactions {
		switch {
		case q.ID != "":
			if tx.ID != q.ID {
				continue
			}
		case len(q.IDs) > 0:
			found := false
			for _, id := range q.IDs {
				found = found || tx.ID == id
			}
			if !found {
				continue
			}
		case q.BlockID != "":
			if tx.BlockID != q.BlockID {
				continue
			}
		}
		out = append(out, tx)
	}
	return models.NewResult(out, 0, len(out)), nil
}

func (a *Adapter) GetPeers(_ context.Context, state models.PeerState) (models.Result[models.Peer], error) {
	if err := a.enter("GetPeers"); err != nil {
		return models.Result[models.Peer]{}, err
	}
	var out []models.Peer
	for _, p := range a.Peers {
		if state == "" || p.State == state {
			out = append(out, p)
		}
	}
	return models.NewResult(out, 0, len(out)), nil
}

func (a *Adapter) GetNextForgers(_ context.Context, p models.Page) (models.Result[models.Delegate], error) {
	if err := a.enter("GetNextForgers"); err != nil {
		return models.Result[models.Delegate]{}, err
	}
	return page(a.Forgers, p.Offset, p.Limit), nil
}

func (a *Adapter) GetDelegates(_ context.Context, p models.Page) (models.Result[models.Delegate], error) {
	if err := a.enter("GetDelegates"); err != nil {
		return models.Result[models.Delegate]{}, err
	}
	return page(a.Delegates, p.Offset, p.Limit), nil
}

func (a *Adapter) Subscribe(_ context.Context, sink func(compat.NodeEvent)) error {
	if err := a.enter("Subscribe"); err != nil {
		return err
	}
	a.mu.Lock()
	a.sink = sink
	a.mu.Unlock()
	return nil
}
