package compat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"chain-gateway/models"
	"chain-gateway/transport"
)

var (
	// ErrAdapterUnavailable wraps transport failures talking to the core.
	ErrAdapterUnavailable = errors.New("compat: adapter unavailable")
	// ErrDecode wraps payloads the adapter could not turn into records.
	ErrDecode = errors.New("compat: decode error")
	// ErrNoEventSource is returned by Subscribe when no websocket endpoint is configured.
	ErrNoEventSource = errors.New("compat: no event source")
)

// Requester performs request/response calls against the core's HTTP API.
type Requester interface {
	Request(ctx context.Context, path string, query url.Values, out any) error
}

// Invoker performs channel invocations and event subscriptions over the core's websocket.
type Invoker interface {
	Invoke(ctx context.Context, method string, params any, out any) error
	Subscribe(ctx context.Context, event string, fn func(json.RawMessage)) (func(), error)
}

// Deps are the transports an adapter may use. Either may be nil when not configured.
type Deps struct {
	HTTP Requester
	WS   Invoker
	// Epoch is the genesis time of cores whose block timestamps count from genesis.
	Epoch time.Time
	// Keys keeps the public keys learned from binary records. It may be nil.
	Keys KeyStore
}

// TransactionQuery selects transactions by id, id list or containing block.
type TransactionQuery struct {
	ID      string
	IDs     []string
	BlockID string
	Limit   int
}

// EventKind is a native core event the gateway reacts to.
type EventKind int

const (
	EventNewBlock EventKind = iota + 1
	EventNewRound
)

// NodeEvent is one normalized native event. Block is set for EventNewBlock.
type NodeEvent struct {
	Kind  EventKind
	Block *models.Block
}

// Adapter normalizes one native protocol version. Every list call returns an ordered
// slice, never a bare record.
type Adapter interface {
	Version() ProtocolVersion
	// ChainEpoch is the zero point of native block timestamps; the zero Time means unix time.
	ChainEpoch() time.Time
	GetNetworkStatus(ctx context.Context) (models.NetworkStatus, error)
	// GetBlocks expects FromTimestamp/ToTimestamp already expressed in chain time.
	GetBlocks(ctx context.Context, params models.BlockParams) (models.Result[models.Block], error)
	GetAccounts(ctx context.Context, params models.AccountParams) (models.Result[models.Account], error)
	GetTransactions(ctx context.Context, query TransactionQuery) (models.Result[models.Transaction], error)
	GetPeers(ctx context.Context, state models.PeerState) (models.Result[models.Peer], error)
	GetNextForgers(ctx context.Context, page models.Page) (models.Result[models.Delegate], error)
	GetDelegates(ctx context.Context, page models.Page) (models.Result[models.Delegate], error)
	// Subscribe forwards native block and round events to sink until ctx ends.
	Subscribe(ctx context.Context, sink func(NodeEvent)) error
}

// New returns the adapter for a resolved protocol version.
func New(version ProtocolVersion, deps Deps) (Adapter, error) {
	switch version {
	case SDKv2:
		if deps.HTTP == nil {
			return nil, fmt.Errorf("compat: %s needs the core HTTP API", version)
		}
		return newSDKv2(deps), nil
	case SDKv3:
		if deps.HTTP == nil {
			return nil, fmt.Errorf("compat: %s needs the core HTTP API", version)
		}
		return &sdkV3{sdkV2: *newSDKv2(deps)}, nil
	case SDKv4:
		if deps.HTTP == nil {
			return nil, fmt.Errorf("compat: %s needs the core HTTP API", version)
		}
		return &sdkV4{sdkV3: sdkV3{sdkV2: *newSDKv2(deps)}}, nil
	case SDKv5:
		if deps.WS == nil {
			return nil, fmt.Errorf("compat: %s needs the core websocket API", version)
		}
		return &sdkV5{ws: deps.WS, keys: newKeyBook(deps.Keys)}, nil
	default:
		return nil, fmt.Errorf("compat: unsupported protocol version %d", int(version))
	}
}

// classify maps a transport error onto the adapter error taxonomy.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDecode), errors.Is(err, ErrAdapterUnavailable):
		return err
	case errors.Is(err, transport.ErrMalformed):
		return fmt.Errorf("%w: %s: %v", ErrDecode, op, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrAdapterUnavailable, op, err)
	}
}

// decodeErr builds an ErrDecode for a payload problem found by the adapter itself.
func decodeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrDecode, op, err)
}
