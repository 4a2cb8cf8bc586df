package compat

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"chain-gateway/logger"
	"chain-gateway/models"
	"chain-gateway/transport"

	"go.uber.org/zap"
)

// roundLength is the number of blocks per forging round on cores with dynamic rounds.
const roundLength = 103

// sdkV5 talks to 3.0.0-beta.2 and later over websocket channel invocations. Records arrive
// as hex-encoded binary and only accounts keyed by address can be looked up.
type sdkV5 struct {
	ws   Invoker
	keys *keyBook

	// registry is the delegate address list fetched for the page at offset zero. Later pages
	// of the same walk reuse it.
	mu       sync.Mutex
	registry []string
}

func (a *sdkV5) Version() ProtocolVersion { return SDKv5 }

func (a *sdkV5) ChainEpoch() time.Time { return time.Time{} }

// invoke calls the core; an error object from the core on a keyed lookup means the key is
// unknown, which the caller turns into an empty result when lookup is set.
func (a *sdkV5) invoke(ctx context.Context, method string, params, out any, lookup bool) (bool, error) {
	err := a.ws.Invoke(ctx, method, params, out)
	if err == nil {
		return true, nil
	}
	var rpcErr *transport.RPCError
	if lookup && errors.As(err, &rpcErr) {
		return false, nil
	}
	return false, classify(method, err)
}

func (a *sdkV5) GetNetworkStatus(ctx context.Context) (models.NetworkStatus, error) {
	var info struct {
		Version           string `json:"version"`
		NetworkIdentifier string `json:"networkIdentifier"`
		Height            int64  `json:"height"`
		FinalizedHeight   int64  `json:"finalizedHeight"`
		Syncing           bool   `json:"syncing"`
		GenesisConfig     struct {
			BlockTime int `json:"blockTime"`
		} `json:"genesisConfig"`
	}
	if _, err := a.invoke(ctx, "app:getNodeInfo", nil, &info, false); err != nil {
		return models.NetworkStatus{}, err
	}
	return models.NetworkStatus{
		Version:         info.Version,
		NetworkID:       info.NetworkIdentifier,
		Height:          info.Height,
		FinalizedHeight: info.FinalizedHeight,
		BlockTime:       info.GenesisConfig.BlockTime,
		Syncing:         info.Syncing,
	}, nil
}

// blocks decodes a list of hex block payloads, newest first.
func (a *sdkV5) blocks(ctx context.Context, method string, params any) ([]models.Block, []models.Transaction, error) {
	var payloads []string
	ok, err := a.invoke(ctx, method, params, &payloads, true)
	if err != nil || !ok {
		return nil, nil, err
	}
	blocks := make([]models.Block, 0, len(payloads))
	var txs []models.Transaction
	for _, p := range payloads {
		raw, err := hexPayload(p)
		if err != nil {
			return nil, nil, decodeErr(method, err)
		}
		b, blockTxs, err := decodeBlock(raw)
		if err != nil {
			return nil, nil, decodeErr(method, err)
		}
		blocks = append(blocks, b)
		txs = append(txs, blockTxs...)
	}
	a.keys.learn(ctx, blocks, txs)
	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].Height > blocks[j].Height })
	return blocks, txs, nil
}

func (a *sdkV5) lastBlock(ctx context.Context) (models.Block, error) {
	var payload string
	if _, err := a.invoke(ctx, "app:getLastBlock", nil, &payload, false); err != nil {
		return models.Block{}, err
	}
	raw, err := hexPayload(payload)
	if err != nil {
		return models.Block{}, decodeErr("app:getLastBlock", err)
	}
	b, txs, err := decodeBlock(raw)
	if err != nil {
		return models.Block{}, decodeErr("app:getLastBlock", err)
	}
	a.keys.learn(ctx, []models.Block{b}, txs)
	return b, nil
}

type heightRange struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

func (a *sdkV5) GetBlocks(ctx context.Context, p models.BlockParams) (models.Result[models.Block], error) {
	var (
		data []models.Block
		err  error
	)
	switch {
	case p.ID != "":
		data, _, err = a.blocks(ctx, "app:getBlocksByIDs", map[string][]string{"ids": {p.ID}})
	case len(p.IDs) > 0:
		data, _, err = a.blocks(ctx, "app:getBlocksByIDs", map[string][]string{"ids": p.IDs})
	case p.Height > 0:
		data, _, err = a.blocks(ctx, "app:getBlocksByHeightBetween", heightRange{From: p.Height, To: p.Height})
	case p.HeightFrom > 0 || p.HeightTo > 0:
		var heights []int64
		heights, err = heightSpan(p.HeightFrom, p.HeightTo)
		if err == nil {
			data, _, err = a.blocks(ctx, "app:getBlocksByHeightBetween",
				heightRange{From: heights[len(heights)-1], To: heights[0]})
		}
	default:
		return a.latestBlocks(ctx, p)
	}
	if err != nil {
		return models.Result[models.Block]{}, err
	}
	return models.NewResult(data, 0, len(data)), nil
}

// latestBlocks pages backwards from the chain tip. Generator filtering applies to the
// fetched window only.
func (a *sdkV5) latestBlocks(ctx context.Context, p models.BlockParams) (models.Result[models.Block], error) {
	last, err := a.lastBlock(ctx)
	if err != nil {
		return models.Result[models.Block]{}, err
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 10
	}
	to := last.Height - int64(p.Offset)
	if to < 1 {
		return models.NewResult[models.Block](nil, p.Offset, int(last.Height)), nil
	}
	from := to - int64(limit) + 1
	if from < 1 {
		from = 1
	}
	data, _, err := a.blocks(ctx, "app:getBlocksByHeightBetween", heightRange{From: from, To: to})
	if err != nil {
		return models.Result[models.Block]{}, err
	}
	if p.Sort == "height:asc" {
		sort.SliceStable(data, func(i, j int) bool { return data[i].Height < data[j].Height })
	}
	if p.GeneratorKey != "" {
		filtered := data[:0]
		for _, b := range data {
			if strings.EqualFold(b.GeneratorPublicKey, p.GeneratorKey) {
				filtered = append(filtered, b)
			}
		}
		data = filtered
	}
	return models.NewResult(data, p.Offset, int(last.Height)), nil
}

func (a *sdkV5) accounts(ctx context.Context, addresses []string) ([]models.Account, error) {
	var payloads []string
	ok, err := a.invoke(ctx, "app:getAccounts", map[string][]string{"address": addresses}, &payloads, true)
	if err != nil || !ok {
		return nil, err
	}
	out := make([]models.Account, 0, len(payloads))
	for _, p := range payloads {
		raw, err := hexPayload(p)
		if err != nil {
			return nil, decodeErr("app:getAccounts", err)
		}
		acc, err := decodeAccount(raw)
		if err != nil {
			return nil, decodeErr("app:getAccounts", err)
		}
		out = append(out, acc)
	}
	a.keys.fill(ctx, out)
	return out, nil
}

// GetAccounts answers address lookups only; other selectors are resolved by the account
// index before reaching the adapter and yield an empty result here.
func (a *sdkV5) GetAccounts(ctx context.Context, p models.AccountParams) (models.Result[models.Account], error) {
	addresses := p.Addresses
	if p.Address != "" {
		addresses = []string{p.Address}
	}
	if len(addresses) == 0 {
		return models.Empty[models.Account](), nil
	}
	data, err := a.accounts(ctx, addresses)
	if err != nil {
		return models.Result[models.Account]{}, err
	}
	return models.NewResult(data, 0, len(data)), nil
}

func (a *sdkV5) GetTransactions(ctx context.Context, tq TransactionQuery) (models.Result[models.Transaction], error) {
	ids := tq.IDs
	if tq.ID != "" {
		ids = []string{tq.ID}
	}
	if len(ids) > 0 {
		var payloads []string
		ok, err := a.invoke(ctx, "app:getTransactionsByIDs", map[string][]string{"ids": ids}, &payloads, true)
		if err != nil {
			return models.Result[models.Transaction]{}, err
		}
		if !ok {
			return models.Empty[models.Transaction](), nil
		}
		out := make([]models.Transaction, 0, len(payloads))
		for _, p := range payloads {
			raw, err := hexPayload(p)
			if err != nil {
				return models.Result[models.Transaction]{}, decodeErr("app:getTransactionsByIDs", err)
			}
			tx, err := decodeTransaction(raw)
			if err != nil {
				return models.Result[models.Transaction]{}, decodeErr("app:getTransactionsByIDs", err)
			}
			out = append(out, tx)
		}
		a.keys.learn(ctx, nil, out)
		return models.NewResult(out, 0, len(out)), nil
	}
	if tq.BlockID != "" {
		_, txs, err := a.blocks(ctx, "app:getBlocksByIDs", map[string][]string{"ids": {tq.BlockID}})
		if err != nil {
			return models.Result[models.Transaction]{}, err
		}
		if tq.Limit > 0 && len(txs) > tq.Limit {
			txs = txs[:tq.Limit]
		}
		return models.NewResult(txs, 0, len(txs)), nil
	}
	return models.Empty[models.Transaction](), nil
}

func (a *sdkV5) GetPeers(ctx context.Context, state models.PeerState) (models.Result[models.Peer], error) {
	var out []models.Peer
	fetch := func(method string, st models.PeerState) error {
		var raw []rawPeer
		if _, err := a.invoke(ctx, method, nil, &raw, false); err != nil {
			return err
		}
		for _, p := range raw {
			out = append(out, p.peer(st))
		}
		return nil
	}
	if state == "" || state == models.PeerConnected {
		if err := fetch("app:getConnectedPeers", models.PeerConnected); err != nil {
			return models.Result[models.Peer]{}, err
		}
	}
	if state == "" || state == models.PeerDisconnected {
		if err := fetch("app:getDisconnectedPeers", models.PeerDisconnected); err != nil {
			return models.Result[models.Peer]{}, err
		}
	}
	return models.NewResult(out, 0, len(out)), nil
}

// completeDelegates turns a page of addresses into full delegate records, keeping order.
func (a *sdkV5) completeDelegates(ctx context.Context, addresses []string, offset, total int) (models.Result[models.Delegate], error) {
	if len(addresses) == 0 {
		return models.NewResult[models.Delegate](nil, offset, total), nil
	}
	accounts, err := a.accounts(ctx, addresses)
	if err != nil {
		return models.Result[models.Delegate]{}, err
	}
	byAddress := make(map[string]models.Account, len(accounts))
	for _, acc := range accounts {
		byAddress[acc.Address] = acc
	}
	out := make([]models.Delegate, 0, len(addresses))
	for _, addr := range addresses {
		acc, ok := byAddress[addr]
		if !ok {
			continue
		}
		d := acc.AsDelegate()
		d.IsDelegate = true
		out = append(out, d)
	}
	return models.NewResult(out, offset, total), nil
}

func (a *sdkV5) GetNextForgers(ctx context.Context, page models.Page) (models.Result[models.Delegate], error) {
	var forgers []struct {
		Address string `json:"address"`
	}
	if _, err := a.invoke(ctx, "app:getForgers", nil, &forgers, false); err != nil {
		return models.Result[models.Delegate]{}, err
	}
	start, end := page.Bounds(len(forgers), len(forgers))
	addresses := make([]string, 0, end-start)
	for _, f := range forgers[start:end] {
		addresses = append(addresses, f.Address)
	}
	return a.completeDelegates(ctx, addresses, start, len(forgers))
}

// GetDelegates pages the registry. The core only lists it whole, so the list is fetched for
// the page at offset zero and reused for the pages that follow it.
func (a *sdkV5) GetDelegates(ctx context.Context, page models.Page) (models.Result[models.Delegate], error) {
	all, err := a.delegateAddresses(ctx, page.Offset > 0)
	if err != nil {
		return models.Result[models.Delegate]{}, err
	}
	start, end := page.Bounds(len(all), len(all))
	return a.completeDelegates(ctx, all[start:end], start, len(all))
}

func (a *sdkV5) delegateAddresses(ctx context.Context, reuse bool) ([]string, error) {
	if reuse {
		a.mu.Lock()
		cached := a.registry
		a.mu.Unlock()
		if cached != nil {
			return cached, nil
		}
	}

	var all []struct {
		Address  string `json:"address"`
		Username string `json:"username"`
	}
	if _, err := a.invoke(ctx, "dpos:getAllDelegates", nil, &all, false); err != nil {
		return nil, err
	}
	addresses := make([]string, 0, len(all))
	for _, d := range all {
		addresses = append(addresses, d.Address)
	}
	a.mu.Lock()
	a.registry = addresses
	a.mu.Unlock()
	return addresses, nil
}

// Subscribe decodes app:block:new notifications and derives a round change from every
// block that opens a round.
func (a *sdkV5) Subscribe(ctx context.Context, sink func(NodeEvent)) error {
	unsubscribe, err := a.ws.Subscribe(ctx, "app:block:new", func(params json.RawMessage) {
		var msg struct {
			Block string `json:"block"`
		}
		if err := json.Unmarshal(params, &msg); err != nil {
			logger.Logger.Warn("Dropping malformed block notification", zap.Error(err))
			return
		}
		raw, err := hexPayload(msg.Block)
		if err != nil {
			logger.Logger.Warn("Dropping malformed block notification", zap.Error(err))
			return
		}
		b, txs, err := decodeBlock(raw)
		if err != nil {
			logger.Logger.Warn("Dropping undecodable block", zap.Error(err))
			return
		}
		a.keys.learn(ctx, []models.Block{b}, txs)
		sink(NodeEvent{Kind: EventNewBlock, Block: &b})
		if (b.Height-1)%roundLength == 0 {
			sink(NodeEvent{Kind: EventNewRound})
		}
	})
	if err != nil {
		return classify("subscribe app:block:new", err)
	}
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
	return nil
}
