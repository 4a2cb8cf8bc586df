package compat

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"chain-gateway/models"
	"chain-gateway/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// fakeHTTP answers GET requests from canned bodies keyed by "path?query".
type fakeHTTP struct {
	mu     sync.Mutex
	bodies map[string]string
	calls  []string
	err    error
}

func (f *fakeHTTP) Request(_ context.Context, path string, q url.Values, out any) error {
	key := path
	if len(q) > 0 {
		key += "?" + q.Encode()
	}
	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	body, ok := f.bodies[key]
	if !ok {
		return &transport.StatusError{Code: 404, Body: path}
	}
	return json.Unmarshal([]byte(body), out)
}

// fakeWS answers invocations from canned results keyed by method.
type fakeWS struct {
	mu      sync.Mutex
	results map[string]any
	params  map[string]any
	errs    map[string]error
	subs    map[string]func(json.RawMessage)
	calls   map[string]int
}

func newFakeWS() *fakeWS {
	return &fakeWS{
		results: map[string]any{},
		params:  map[string]any{},
		errs:    map[string]error{},
		subs:    map[string]func(json.RawMessage){},
		calls:   map[string]int{},
	}
}

func (f *fakeWS) Invoke(_ context.Context, method string, params any, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params[method] = params
	f.calls[method]++
	if err := f.errs[method]; err != nil {
		return err
	}
	res, ok := f.results[method]
	if !ok {
		return fmt.Errorf("%w: %s: %w", transport.ErrUnavailable, method, &transport.RPCError{Code: -32601, Message: "method not found"})
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (f *fakeWS) Subscribe(_ context.Context, event string, fn func(json.RawMessage)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[event] = fn
	return func() {}, nil
}

func (f *fakeWS) emit(event, params string) {
	f.mu.Lock()
	fn := f.subs[event]
	f.mu.Unlock()
	fn(json.RawMessage(params))
}

func TestSDKv2Blocks(t *testing.T) {
	http := &fakeHTTP{bodies: map[string]string{
		"blocks?blockId=b1":                 `{"data":[{"id":"b1","height":10,"timestamp":500,"totalFee":"30","reward":"500000000"}]}`,
		"blocks?height=9":                   `{"data":[{"id":"b0","height":9}]}`,
		"blocks?height=10":                  `{"data":[{"id":"b1","height":10}]}`,
		"blocks?limit=2&sort=height%3Adesc": `{"data":[{"id":"b1","height":10},{"id":"b0","height":9}],"meta":{"total":10}}`,
	}}
	a, err := New(SDKv2, Deps{HTTP: http, Epoch: time.Unix(1464109200, 0)})
	require.NoError(t, err)
	ctx := context.Background()

	res, err := a.GetBlocks(ctx, models.BlockParams{ID: "b1"})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Equal(t, uint64(30), res.Data[0].TotalFee)
	assert.Equal(t, uint64(500000000), res.Data[0].Reward)

	res, err = a.GetBlocks(ctx, models.BlockParams{HeightFrom: 9, HeightTo: 10})
	require.NoError(t, err)
	require.Len(t, res.Data, 2)
	assert.Equal(t, int64(10), res.Data[0].Height)
	assert.Equal(t, int64(9), res.Data[1].Height)

	res, err = a.GetBlocks(ctx, models.BlockParams{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Meta.Total)
	assert.Equal(t, 2, res.Meta.Count)

	res, err = a.GetBlocks(ctx, models.BlockParams{ID: "nope"})
	require.NoError(t, err)
	assert.Empty(t, res.Data)
	assert.NotNil(t, res.Data)

	assert.Equal(t, time.Unix(1464109200, 0), a.ChainEpoch())
}

func TestSDKv2TransportFailure(t *testing.T) {
	a, err := New(SDKv2, Deps{HTTP: &fakeHTTP{err: transport.ErrUnavailable}})
	require.NoError(t, err)

	_, err = a.GetBlocks(context.Background(), models.BlockParams{})
	assert.ErrorIs(t, err, ErrAdapterUnavailable)

	a, err = New(SDKv2, Deps{HTTP: &fakeHTTP{err: fmt.Errorf("%w: bad json", transport.ErrMalformed)}})
	require.NoError(t, err)
	_, err = a.GetDelegates(context.Background(), models.Page{Limit: 10})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestSDKv2Peers(t *testing.T) {
	http := &fakeHTTP{bodies: map[string]string{
		"peers?limit=100&state=2": `{"data":[{"ip":"1.2.3.4","wsPort":5001,"height":7,"state":2,"version":"1.0.0"}]}`,
	}}
	a, err := New(SDKv2, Deps{HTTP: http})
	require.NoError(t, err)

	res, err := a.GetPeers(context.Background(), models.PeerConnected)
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Equal(t, models.PeerConnected, res.Data[0].State)
	assert.Equal(t, "1.0.0", res.Data[0].NetworkVersion)
}

func TestSDKv3PeersUseNamedState(t *testing.T) {
	http := &fakeHTTP{bodies: map[string]string{
		"peers?limit=100&state=disconnected": `{"data":[{"ip":"1.2.3.4","state":"disconnected"}]}`,
		"node/status":                       `{"data":{"height":50,"chainMaxHeightFinalized":40}}`,
		"node/constants":                    `{"data":{"version":"3.0.0-alpha.1","networkIdentifier":"net"}}`,
	}}
	a, err := New(SDKv3, Deps{HTTP: http})
	require.NoError(t, err)

	res, err := a.GetPeers(context.Background(), models.PeerDisconnected)
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Equal(t, models.PeerDisconnected, res.Data[0].State)

	status, err := a.GetNetworkStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(40), status.FinalizedHeight)
	assert.Equal(t, "net", status.NetworkID)
}

func TestDelegateWeightFieldByVersion(t *testing.T) {
	body := `{"data":[{"username":"genesis_1","vote":"100","delegateWeight":"900","isBanned":true,
		"pomHeights":[{"start":10,"end":20}],"account":{"address":"addr1","publicKey":"pk1"}}],"meta":{"total":1}}`
	http := &fakeHTTP{bodies: map[string]string{"delegates?limit=10": body, "delegates/forgers?limit=10": body}}

	v2, err := New(SDKv2, Deps{HTTP: http})
	require.NoError(t, err)
	res, err := v2.GetDelegates(context.Background(), models.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Equal(t, uint64(100), res.Data[0].Weight)
	assert.Equal(t, "addr1", res.Data[0].Address)

	v4, err := New(SDKv4, Deps{HTTP: http})
	require.NoError(t, err)
	res, err = v4.GetNextForgers(context.Background(), models.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	d := res.Data[0]
	assert.Equal(t, uint64(900), d.Weight)
	assert.True(t, d.IsBanned)
	assert.Equal(t, []models.PomHeight{{Start: 10, End: 20}}, d.PomHeights)
	assert.True(t, v4.ChainEpoch().IsZero())
}

func TestSDKv2SubscribeNeedsWebsocket(t *testing.T) {
	a, err := New(SDKv2, Deps{HTTP: &fakeHTTP{}})
	require.NoError(t, err)
	err = a.Subscribe(context.Background(), func(NodeEvent) {})
	assert.ErrorIs(t, err, ErrNoEventSource)
}

func TestSDKv2SubscribeForwardsEvents(t *testing.T) {
	ws := newFakeWS()
	a, err := New(SDKv3, Deps{HTTP: &fakeHTTP{}, WS: ws})
	require.NoError(t, err)

	var got []NodeEvent
	require.NoError(t, a.Subscribe(context.Background(), func(ev NodeEvent) { got = append(got, ev) }))

	ws.emit("blocks/change", `{"id":"b9","height":9,"reward":"5"}`)
	ws.emit("rounds/change", `{"round":3}`)

	require.Len(t, got, 2)
	assert.Equal(t, EventNewBlock, got[0].Kind)
	assert.Equal(t, "b9", got[0].Block.ID)
	assert.Equal(t, EventNewRound, got[1].Kind)
}

// encodeHeader builds a binary block header for tests.
func encodeHeader(height, timestamp int64, generator []byte) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 2)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(timestamp))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(height))
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte{0xaa, 0xbb})
	b = protowire.AppendTag(b, 6, protowire.BytesType)
	b = protowire.AppendBytes(b, generator)
	b = protowire.AppendTag(b, 7, protowire.VarintType)
	b = protowire.AppendVarint(b, 500000000)
	return b
}

func encodeTx(nonce, fee uint64) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 2)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, 0)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, nonce)
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, fee)
	b = protowire.AppendTag(b, 5, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte{0x01, 0x02})
	return b
}

func encodeBlock(height, timestamp int64, txs ...[]byte) string {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, encodeHeader(height, timestamp, []byte{0x0f}))
	for _, tx := range txs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, tx)
	}
	return hex.EncodeToString(b)
}

func encodeAccount(address []byte, balance uint64, username string, weight uint64, pom ...uint64) string {
	var token, seq, delegate, dpos, b []byte
	token = protowire.AppendTag(token, 1, protowire.VarintType)
	token = protowire.AppendVarint(token, balance)
	seq = protowire.AppendTag(seq, 1, protowire.VarintType)
	seq = protowire.AppendVarint(seq, 3)
	if username != "" {
		delegate = protowire.AppendTag(delegate, 1, protowire.BytesType)
		delegate = protowire.AppendString(delegate, username)
		var packed []byte
		for _, h := range pom {
			packed = protowire.AppendVarint(packed, h)
		}
		if len(packed) > 0 {
			delegate = protowire.AppendTag(delegate, 2, protowire.BytesType)
			delegate = protowire.AppendBytes(delegate, packed)
		}
		delegate = protowire.AppendTag(delegate, 6, protowire.VarintType)
		delegate = protowire.AppendVarint(delegate, weight)
		dpos = protowire.AppendTag(dpos, 1, protowire.BytesType)
		dpos = protowire.AppendBytes(dpos, delegate)
	}
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, address)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, token)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, seq)
	if dpos != nil {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, dpos)
	}
	return hex.EncodeToString(b)
}

func TestDecodeBlock(t *testing.T) {
	tx1, tx2 := encodeTx(1, 100), encodeTx(2, 250)
	raw, err := hex.DecodeString(encodeBlock(42, 1600000000, tx1, tx2))
	require.NoError(t, err)

	block, txs, err := decodeBlock(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(42), block.Height)
	assert.Equal(t, int64(1600000000), block.Timestamp)
	assert.Equal(t, "aabb", block.PreviousBlockID)
	assert.Equal(t, "0f", block.GeneratorPublicKey)
	assert.Len(t, block.GeneratorAddress, 40)
	assert.Equal(t, hashID(encodeHeader(42, 1600000000, []byte{0x0f})), block.ID)
	assert.Equal(t, 2, block.NumberOfTransactions)
	assert.Equal(t, uint64(350), block.TotalFee)
	assert.Equal(t, len(tx1)+len(tx2), block.PayloadLength)
	require.Len(t, txs, 2)
	assert.Equal(t, block.ID, txs[0].BlockID)
	assert.Equal(t, hashID(tx2), txs[1].ID)

	_, _, err = decodeBlock([]byte{0xff})
	assert.Error(t, err)
}

func TestDecodeAccountPomHeights(t *testing.T) {
	raw, err := hex.DecodeString(encodeAccount([]byte{0xab, 0xcd}, 1000, "genesis_7", 77, 10, 20))
	require.NoError(t, err)
	acc, err := decodeAccount(raw)
	require.NoError(t, err)
	assert.Equal(t, "abcd", acc.Address)
	assert.Equal(t, uint64(1000), acc.Balance)
	assert.Equal(t, uint64(3), acc.Nonce)
	assert.Equal(t, "genesis_7", acc.Username)
	assert.True(t, acc.IsDelegate)
	assert.Equal(t, uint64(77), acc.Weight)
	assert.Equal(t, []models.PomHeight{{Start: 10, End: 780010}, {Start: 20, End: 780020}}, acc.PomHeights)

	// unpacked repeated heights decode the same way
	var delegate []byte
	delegate = protowire.AppendTag(delegate, 2, protowire.VarintType)
	delegate = protowire.AppendVarint(delegate, 5)
	var out models.Account
	require.NoError(t, decodeDelegateInfo(delegate, &out))
	assert.Equal(t, []models.PomHeight{{Start: 5, End: 780005}}, out.PomHeights)
}

func TestSDKv5Blocks(t *testing.T) {
	ws := newFakeWS()
	ws.results["app:getLastBlock"] = encodeBlock(20, 1600000200)
	ws.results["app:getBlocksByHeightBetween"] = []string{encodeBlock(18, 1600000180), encodeBlock(19, 1600000190), encodeBlock(20, 1600000200)}
	a, err := New(SDKv5, Deps{WS: ws})
	require.NoError(t, err)

	res, err := a.GetBlocks(context.Background(), models.BlockParams{Limit: 3})
	require.NoError(t, err)
	require.Len(t, res.Data, 3)
	assert.Equal(t, int64(20), res.Data[0].Height)
	assert.Equal(t, 20, res.Meta.Total)
	assert.Equal(t, heightRange{From: 18, To: 20}, ws.params["app:getBlocksByHeightBetween"])

	// unknown ids come back as an error object from the core
	res, err = a.GetBlocks(context.Background(), models.BlockParams{ID: "missing"})
	require.NoError(t, err)
	assert.Empty(t, res.Data)

	ws.errs["app:getLastBlock"] = transport.ErrClosed
	_, err = a.GetBlocks(context.Background(), models.BlockParams{})
	assert.ErrorIs(t, err, ErrAdapterUnavailable)

	ws.results["app:getBlocksByIDs"] = []string{"zz"}
	_, err = a.GetBlocks(context.Background(), models.BlockParams{ID: "x"})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestSDKv5AccountsOnlyByAddress(t *testing.T) {
	ws := newFakeWS()
	ws.results["app:getAccounts"] = []string{encodeAccount([]byte{0x01}, 5, "", 0)}
	a, err := New(SDKv5, Deps{WS: ws})
	require.NoError(t, err)

	res, err := a.GetAccounts(context.Background(), models.AccountParams{Address: "01"})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Equal(t, map[string][]string{"address": {"01"}}, ws.params["app:getAccounts"])

	res, err = a.GetAccounts(context.Background(), models.AccountParams{Username: "genesis_1"})
	require.NoError(t, err)
	assert.Empty(t, res.Data)
}

func TestSDKv5Delegates(t *testing.T) {
	ws := newFakeWS()
	ws.results["dpos:getAllDelegates"] = []map[string]string{
		{"address": "0a", "username": "a"}, {"address": "0b", "username": "b"}, {"address": "0c", "username": "c"},
	}
	ws.results["app:getForgers"] = []map[string]any{{"address": "0c", "forging": true}}
	ws.results["app:getAccounts"] = []string{
		encodeAccount([]byte{0x0b}, 1, "b", 20),
		encodeAccount([]byte{0x0c}, 1, "c", 30),
	}
	a, err := New(SDKv5, Deps{WS: ws})
	require.NoError(t, err)

	res, err := a.GetDelegates(context.Background(), models.Page{Offset: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Meta.Total)
	assert.Equal(t, map[string][]string{"address": {"0b", "0c"}}, ws.params["app:getAccounts"])
	require.Len(t, res.Data, 2)
	assert.Equal(t, "b", res.Data[0].Username)
	assert.Equal(t, uint64(30), res.Data[1].Weight)

	res, err = a.GetNextForgers(context.Background(), models.Page{})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "0c", res.Data[0].Address)
	assert.True(t, res.Data[0].IsDelegate)
}

func TestSDKv5DelegatePagesShareOneRegistryFetch(t *testing.T) {
	ws := newFakeWS()
	ws.results["dpos:getAllDelegates"] = []map[string]string{
		{"address": "0a", "username": "a"}, {"address": "0b", "username": "b"}, {"address": "0c", "username": "c"},
	}
	ws.results["app:getAccounts"] = []string{encodeAccount([]byte{0x0a}, 1, "a", 10)}
	a, err := New(SDKv5, Deps{WS: ws})
	require.NoError(t, err)

	ctx := context.Background()
	for offset := 0; offset < 3; offset++ {
		res, err := a.GetDelegates(ctx, models.Page{Offset: offset, Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, 3, res.Meta.Total)
	}
	assert.Equal(t, 1, ws.calls["dpos:getAllDelegates"])

	// a new walk starts from offset zero and sees the current registry
	_, err = a.GetDelegates(ctx, models.Page{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, ws.calls["dpos:getAllDelegates"])
}

// memoryKeys is a KeyStore kept in a map.
type memoryKeys struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memoryKeys) RecordKeys(_ context.Context, keys map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for addr, pk := range keys {
		m.keys[addr] = pk
	}
	return nil
}

func (m *memoryKeys) PublicKeys(_ context.Context, addresses []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for _, addr := range addresses {
		if pk, ok := m.keys[addr]; ok {
			out[addr] = pk
		}
	}
	return out, nil
}

func TestSDKv5JoinsPublicKeysSeenInBlocks(t *testing.T) {
	generator := addressFromPublicKey([]byte{0x0f})
	sender := addressFromPublicKey([]byte{0x01, 0x02})
	generatorRaw, err := hex.DecodeString(generator)
	require.NoError(t, err)
	senderRaw, err := hex.DecodeString(sender)
	require.NoError(t, err)

	ws := newFakeWS()
	ws.results["app:getLastBlock"] = encodeBlock(1, 1600000000)
	ws.results["app:getBlocksByHeightBetween"] = []string{encodeBlock(1, 1600000000, encodeTx(1, 10))}
	ws.results["dpos:getAllDelegates"] = []map[string]string{{"address": generator, "username": "gen"}}
	ws.results["app:getAccounts"] = []string{
		encodeAccount(generatorRaw, 5, "gen", 10),
		encodeAccount(senderRaw, 7, "", 0),
	}
	keys := &memoryKeys{keys: map[string]string{}}
	a, err := New(SDKv5, Deps{WS: ws, Keys: keys})
	require.NoError(t, err)
	ctx := context.Background()

	// nothing signed yet, so the records carry no key
	res, err := a.GetAccounts(ctx, models.AccountParams{Addresses: []string{generator, sender}})
	require.NoError(t, err)
	require.Len(t, res.Data, 2)
	assert.Empty(t, res.Data[0].PublicKey)

	_, err = a.GetBlocks(ctx, models.BlockParams{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{generator: "0f", sender: "0102"}, keys.keys)

	res, err = a.GetAccounts(ctx, models.AccountParams{Addresses: []string{generator, sender}})
	require.NoError(t, err)
	assert.Equal(t, "0f", res.Data[0].PublicKey)
	assert.Equal(t, "0102", res.Data[1].PublicKey)

	delegates, err := a.GetDelegates(ctx, models.Page{Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, delegates.Data)
	assert.Equal(t, "0f", delegates.Data[0].PublicKey)

	// a restarted gateway finds the keys in the store
	fresh, err := New(SDKv5, Deps{WS: ws, Keys: keys})
	require.NoError(t, err)
	res, err = fresh.GetAccounts(ctx, models.AccountParams{Address: generator})
	require.NoError(t, err)
	assert.Equal(t, "0f", res.Data[0].PublicKey)
}

func TestSDKv5SubscribeDerivesRounds(t *testing.T) {
	ws := newFakeWS()
	a, err := New(SDKv5, Deps{WS: ws})
	require.NoError(t, err)

	var got []NodeEvent
	require.NoError(t, a.Subscribe(context.Background(), func(ev NodeEvent) { got = append(got, ev) }))

	ws.emit("app:block:new", `{"block":"`+encodeBlock(104, 1)+`"}`)
	ws.emit("app:block:new", `{"block":"`+encodeBlock(105, 2)+`"}`)
	ws.emit("app:block:new", `{"block":"nothex"}`)

	require.Len(t, got, 3)
	assert.Equal(t, EventNewBlock, got[0].Kind)
	assert.Equal(t, int64(104), got[0].Block.Height)
	assert.Equal(t, EventNewRound, got[1].Kind)
	assert.Equal(t, int64(105), got[2].Block.Height)
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify("op", nil))
	assert.ErrorIs(t, classify("op", transport.ErrUnavailable), ErrAdapterUnavailable)
	assert.ErrorIs(t, classify("op", transport.ErrMalformed), ErrDecode)
	already := decodeErr("op", errors.New("x"))
	assert.Equal(t, already, classify("again", already))
}
