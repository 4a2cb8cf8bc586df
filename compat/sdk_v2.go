package compat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"chain-gateway/logger"
	"chain-gateway/models"
	"chain-gateway/transport"

	"go.uber.org/zap"
)

// maxHeightSpan caps how many heights one range lookup may fan out to.
const maxHeightSpan = 100

// sdkV2 talks to cores of the 1.x and 2.x lines over the HTTP API. Block timestamps count
// from the chain epoch and peers report numeric states.
type sdkV2 struct {
	http  Requester
	ws    Invoker
	epoch time.Time
}

func newSDKv2(deps Deps) *sdkV2 {
	return &sdkV2{http: deps.HTTP, ws: deps.WS, epoch: deps.Epoch}
}

func (a *sdkV2) Version() ProtocolVersion { return SDKv2 }

func (a *sdkV2) ChainEpoch() time.Time { return a.epoch }

// list issues one GET and treats a 404 as an empty page.
func list[T any](ctx context.Context, r Requester, path string, q url.Values) (rawList[T], error) {
	var out rawList[T]
	if err := r.Request(ctx, path, q, &out); err != nil {
		if transport.IsNotFound(err) {
			return rawList[T]{}, nil
		}
		return rawList[T]{}, classify("GET "+path, err)
	}
	return out, nil
}

func pageQuery(q url.Values, offset, limit int) url.Values {
	if q == nil {
		q = url.Values{}
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	return q
}

func total(meta rawMeta, offset, count int) int {
	if meta.Total > 0 {
		return meta.Total
	}
	return offset + count
}

func (a *sdkV2) GetNetworkStatus(ctx context.Context) (models.NetworkStatus, error) {
	var status struct {
		Data struct {
			Height                  int64 `json:"height"`
			ChainMaxHeightFinalized int64 `json:"chainMaxHeightFinalized"`
			Syncing                 bool  `json:"syncing"`
		} `json:"data"`
	}
	if err := a.http.Request(ctx, "node/status", nil, &status); err != nil {
		return models.NetworkStatus{}, classify("GET node/status", err)
	}
	var constants struct {
		Data struct {
			Version   string `json:"version"`
			Nethash   string `json:"nethash"`
			NetworkID string `json:"networkIdentifier"`
			Epoch     string `json:"epoch"`
			BlockTime int    `json:"blockTime"`
		} `json:"data"`
	}
	if err := a.http.Request(ctx, "node/constants", nil, &constants); err != nil {
		return models.NetworkStatus{}, classify("GET node/constants", err)
	}
	ns := models.NetworkStatus{
		Version:         constants.Data.Version,
		NetworkID:       constants.Data.NetworkID,
		Height:          status.Data.Height,
		FinalizedHeight: status.Data.ChainMaxHeightFinalized,
		Epoch:           constants.Data.Epoch,
		BlockTime:       constants.Data.BlockTime,
		Syncing:         status.Data.Syncing,
	}
	if ns.NetworkID == "" {
		ns.NetworkID = constants.Data.Nethash
	}
	return ns, nil
}

func (a *sdkV2) blocks(ctx context.Context, q url.Values) ([]models.Block, rawMeta, error) {
	raw, err := list[rawBlock](ctx, a.http, "blocks", q)
	if err != nil {
		return nil, rawMeta{}, err
	}
	out := make([]models.Block, 0, len(raw.Data))
	for _, b := range raw.Data {
		out = append(out, b.block())
	}
	return out, raw.Meta, nil
}

func (a *sdkV2) GetBlocks(ctx context.Context, p models.BlockParams) (models.Result[models.Block], error) {
	switch {
	case p.ID != "":
		data, _, err := a.blocks(ctx, url.Values{"blockId": {p.ID}})
		if err != nil {
			return models.Result[models.Block]{}, err
		}
		return models.NewResult(data, 0, len(data)), nil

	case len(p.IDs) > 0:
		data, err := fetchEach(ctx, p.IDs, func(ctx context.Context, id string) ([]models.Block, error) {
			data, _, err := a.blocks(ctx, url.Values{"blockId": {id}})
			return data, err
		})
		if err != nil {
			return models.Result[models.Block]{}, err
		}
		return models.NewResult(data, 0, len(data)), nil

	case p.Height > 0:
		data, _, err := a.blocks(ctx, url.Values{"height": {strconv.FormatInt(p.Height, 10)}})
		if err != nil {
			return models.Result[models.Block]{}, err
		}
		return models.NewResult(data, 0, len(data)), nil

	case p.HeightFrom > 0 || p.HeightTo > 0:
		heights, err := heightSpan(p.HeightFrom, p.HeightTo)
		if err != nil {
			return models.Result[models.Block]{}, err
		}
		data, err := fetchEach(ctx, heights, func(ctx context.Context, h int64) ([]models.Block, error) {
			data, _, err := a.blocks(ctx, url.Values{"height": {strconv.FormatInt(h, 10)}})
			return data, err
		})
		if err != nil {
			return models.Result[models.Block]{}, err
		}
		return models.NewResult(data, 0, len(data)), nil
	}

	q := pageQuery(nil, p.Offset, p.Limit)
	sort := p.Sort
	if sort == "" {
		sort = "height:desc"
	}
	q.Set("sort", sort)
	if p.FromTimestamp > 0 {
		q.Set("fromTimestamp", strconv.FormatInt(p.FromTimestamp, 10))
	}
	if p.ToTimestamp > 0 {
		q.Set("toTimestamp", strconv.FormatInt(p.ToTimestamp, 10))
	}
	if p.GeneratorKey != "" {
		q.Set("generatorPublicKey", p.GeneratorKey)
	}
	data, meta, err := a.blocks(ctx, q)
	if err != nil {
		return models.Result[models.Block]{}, err
	}
	return models.NewResult(data, p.Offset, total(meta, p.Offset, len(data))), nil
}

// heightSpan lists the heights of an inclusive range in descending order, newest first.
func heightSpan(from, to int64) ([]int64, error) {
	if from <= 0 {
		from = 1
	}
	if to <= 0 {
		to = from
	}
	if to < from {
		return nil, fmt.Errorf("%w: height range %d..%d is inverted", ErrDecode, from, to)
	}
	if to-from+1 > maxHeightSpan {
		from = to - maxHeightSpan + 1
	}
	heights := make([]int64, 0, to-from+1)
	for h := to; h >= from; h-- {
		heights = append(heights, h)
	}
	return heights, nil
}

func (a *sdkV2) accounts(ctx context.Context, q url.Values, weighted bool) ([]models.Account, rawMeta, error) {
	raw, err := list[rawAccount](ctx, a.http, "accounts", q)
	if err != nil {
		return nil, rawMeta{}, err
	}
	out := make([]models.Account, 0, len(raw.Data))
	for _, acc := range raw.Data {
		out = append(out, acc.account(weighted))
	}
	return out, raw.Meta, nil
}

func (a *sdkV2) GetAccounts(ctx context.Context, p models.AccountParams) (models.Result[models.Account], error) {
	return a.getAccounts(ctx, p, false)
}

func (a *sdkV2) getAccounts(ctx context.Context, p models.AccountParams, weighted bool) (models.Result[models.Account], error) {
	if p.Address == "" && len(p.Addresses) > 0 {
		data, err := fetchEach(ctx, p.Addresses, func(ctx context.Context, addr string) ([]models.Account, error) {
			data, _, err := a.accounts(ctx, url.Values{"address": {addr}}, weighted)
			return data, err
		})
		if err != nil {
			return models.Result[models.Account]{}, err
		}
		return models.NewResult(data, 0, len(data)), nil
	}

	q := pageQuery(nil, p.Offset, p.Limit)
	switch {
	case p.Address != "":
		q.Set("address", p.Address)
	case p.PublicKey != "":
		q.Set("publicKey", p.PublicKey)
	case p.SecondPublicKey != "":
		q.Set("secondPublicKey", p.SecondPublicKey)
	case p.Username != "":
		q.Set("username", p.Username)
	}
	if p.IsDelegate {
		q.Set("isDelegate", "true")
	}
	if p.Sort != "" {
		q.Set("sort", p.Sort)
	}
	data, meta, err := a.accounts(ctx, q, weighted)
	if err != nil {
		return models.Result[models.Account]{}, err
	}
	return models.NewResult(data, p.Offset, total(meta, p.Offset, len(data))), nil
}

func (a *sdkV2) transactions(ctx context.Context, q url.Values) ([]models.Transaction, error) {
	raw, err := list[rawTransaction](ctx, a.http, "transactions", q)
	if err != nil {
		return nil, err
	}
	out := make([]models.Transaction, 0, len(raw.Data))
	for _, tx := range raw.Data {
		out = append(out, tx.transaction())
	}
	return out, nil
}

func (a *sdkV2) GetTransactions(ctx context.Context, tq TransactionQuery) (models.Result[models.Transaction], error) {
	var (
		data []models.Transaction
		err  error
	)
	switch {
	case tq.ID != "":
		data, err = a.transactions(ctx, url.Values{"id": {tq.ID}})
	case len(tq.IDs) > 0:
		data, err = fetchEach(ctx, tq.IDs, func(ctx context.Context, id string) ([]models.Transaction, error) {
			return a.transactions(ctx, url.Values{"id": {id}})
		})
	case tq.BlockID != "":
		data, err = a.transactions(ctx, pageQuery(url.Values{"blockId": {tq.BlockID}}, 0, tq.Limit))
	default:
		data, err = a.transactions(ctx, pageQuery(nil, 0, tq.Limit))
	}
	if err != nil {
		return models.Result[models.Transaction]{}, err
	}
	return models.NewResult(data, 0, len(data)), nil
}

// peerStateCode is the numeric state filter of this core line.
func peerStateCode(state models.PeerState) string {
	switch state {
	case models.PeerConnected:
		return "2"
	case models.PeerDisconnected:
		return "1"
	default:
		return "0"
	}
}

func (a *sdkV2) GetPeers(ctx context.Context, state models.PeerState) (models.Result[models.Peer], error) {
	return a.peers(ctx, state, peerStateCode(state))
}

func (a *sdkV2) peers(ctx context.Context, state models.PeerState, stateParam string) (models.Result[models.Peer], error) {
	q := url.Values{"limit": {"100"}}
	if state != "" {
		q.Set("state", stateParam)
	}
	raw, err := list[rawPeer](ctx, a.http, "peers", q)
	if err != nil {
		return models.Result[models.Peer]{}, err
	}
	out := make([]models.Peer, 0, len(raw.Data))
	for _, p := range raw.Data {
		out = append(out, p.peer(state))
	}
	return models.NewResult(out, 0, total(raw.Meta, 0, len(out))), nil
}

func (a *sdkV2) GetDelegates(ctx context.Context, page models.Page) (models.Result[models.Delegate], error) {
	return a.delegates(ctx, "delegates", page, false)
}

// GetNextForgers returns rotation entries carrying only address and public key; the
// registry join happens in the delegate engine.
func (a *sdkV2) GetNextForgers(ctx context.Context, page models.Page) (models.Result[models.Delegate], error) {
	return a.delegates(ctx, "delegates/forgers", page, false)
}

func (a *sdkV2) delegates(ctx context.Context, path string, page models.Page, weighted bool) (models.Result[models.Delegate], error) {
	raw, err := list[rawDelegate](ctx, a.http, path, pageQuery(nil, page.Offset, page.Limit))
	if err != nil {
		return models.Result[models.Delegate]{}, err
	}
	out := make([]models.Delegate, 0, len(raw.Data))
	for _, d := range raw.Data {
		out = append(out, d.delegate(weighted))
	}
	return models.NewResult(out, page.Offset, total(raw.Meta, page.Offset, len(out))), nil
}

// Subscribe forwards blocks/change and rounds/change notifications.
func (a *sdkV2) Subscribe(ctx context.Context, sink func(NodeEvent)) error {
	if a.ws == nil {
		return ErrNoEventSource
	}
	unsubBlocks, err := a.ws.Subscribe(ctx, "blocks/change", func(params json.RawMessage) {
		var rb rawBlock
		if err := json.Unmarshal(params, &rb); err != nil {
			logger.Logger.Warn("Dropping undecodable block notification", zap.Error(err))
			return
		}
		b := rb.block()
		sink(NodeEvent{Kind: EventNewBlock, Block: &b})
	})
	if err != nil {
		return classify("subscribe blocks/change", err)
	}
	unsubRounds, err := a.ws.Subscribe(ctx, "rounds/change", func(json.RawMessage) {
		sink(NodeEvent{Kind: EventNewRound})
	})
	if err != nil {
		unsubBlocks()
		return classify("subscribe rounds/change", err)
	}
	go func() {
		<-ctx.Done()
		unsubBlocks()
		unsubRounds()
	}()
	return nil
}
