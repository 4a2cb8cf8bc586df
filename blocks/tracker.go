package blocks

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"chain-gateway/compat"
	"chain-gateway/logger"
	"chain-gateway/models"
	"chain-gateway/repository"

	"go.uber.org/zap"
)

// DefaultConfirmationDepth is how many blocks must sit on top of a block before it is
// reported immutable.
const DefaultConfirmationDepth = 202

const (
	scoreTimestamp = "timestamp"
	scoreHeight    = "height"
	propHeight     = "height"
)

// ToChainTime converts a unix timestamp into the chain's native time. Values earlier than
// the epoch are taken to be native already, so converting twice is harmless.
func ToChainTime(unix int64, epoch time.Time) int64 {
	if epoch.IsZero() {
		return unix
	}
	e := epoch.Unix()
	if unix < e {
		return unix
	}
	return unix - e
}

// ToUnixTime converts a native block timestamp into unix seconds.
func ToUnixTime(native int64, epoch time.Time) int64 {
	if epoch.IsZero() {
		return native
	}
	return native + epoch.Unix()
}

// Tracker annotates blocks with finality information and keeps the chain heights seen so far.
type Tracker struct {
	adapter compat.Adapter
	index   repository.IndexRepositoryInterface
	depth   int64

	maxHeight atomic.Int64
	finalized atomic.Int64
}

// NewTracker creates a tracker. index may be nil, which disables the timestamp index and
// with it time filtering on cores that cannot filter by time.
func NewTracker(adapter compat.Adapter, index repository.IndexRepositoryInterface, depth int64) *Tracker {
	if depth < 0 {
		depth = DefaultConfirmationDepth
	}
	return &Tracker{adapter: adapter, index: index, depth: depth}
}

// CurrentHeight is the highest block height observed.
func (t *Tracker) CurrentHeight() int64 { return t.maxHeight.Load() }

// FinalizedHeight is the finalized height last reported by the core.
func (t *Tracker) FinalizedHeight() int64 { return t.finalized.Load() }

// raiseMaxHeight moves the tracked height up to h, never down.
func (t *Tracker) raiseMaxHeight(h int64) {
	for {
		cur := t.maxHeight.Load()
		if h <= cur || t.maxHeight.CompareAndSwap(cur, h) {
			return
		}
	}
}

// GetBlocks fetches blocks through the adapter and annotates them. Adapter failures are
// logged and yield an empty result; id and height lookups that match nothing return
// models.ErrNotFound.
func (t *Tracker) GetBlocks(ctx context.Context, p models.BlockParams) (models.Result[models.Block], error) {
	epoch := t.adapter.ChainEpoch()
	if p.FromTimestamp > 0 {
		p.FromTimestamp = ToChainTime(p.FromTimestamp, epoch)
	}
	if p.ToTimestamp > 0 {
		p.ToTimestamp = ToChainTime(p.ToTimestamp, epoch)
	}

	offset := p.Offset
	timeFiltered := p.FromTimestamp > 0 || p.ToTimestamp > 0
	if timeFiltered && !hasSelector(p) && !t.adapter.Version().Capabilities().TimeFilteredBlocks {
		ids, err := t.idsByTime(p)
		if err != nil {
			logger.Logger.Error("Block index lookup failed", zap.Error(err))
			return models.Empty[models.Block](), nil
		}
		if len(ids) == 0 {
			return models.NewResult[models.Block](nil, offset, 0), nil
		}
		p = models.BlockParams{IDs: ids}
	}

	res, err := t.adapter.GetBlocks(ctx, p)
	if err != nil {
		logger.Logger.Error("Failed to fetch blocks",
			zap.String("protocol", t.adapter.Version().String()), zap.Error(err))
		return models.Empty[models.Block](), nil
	}
	t.annotate(res.Data, epoch)

	if (p.ID != "" || p.Height > 0) && len(res.Data) == 0 {
		return res, models.ErrNotFound
	}
	if len(p.IDs) > 0 && timeFiltered {
		res.Meta.Offset = offset
	}
	return res, nil
}

func hasSelector(p models.BlockParams) bool {
	return p.ID != "" || len(p.IDs) > 0 || p.Height > 0 || p.HeightFrom > 0 || p.HeightTo > 0
}

// idsByTime resolves a chain-time window to block ids through the timestamp index.
func (t *Tracker) idsByTime(p models.BlockParams) ([]string, error) {
	if t.index == nil {
		return nil, nil
	}
	to := p.ToTimestamp
	if to <= 0 {
		to = math.MaxInt64
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 10
	}
	reverse := !strings.HasSuffix(p.Sort, ":asc")
	return t.index.FindByRange(scoreTimestamp, p.FromTimestamp, to, reverse, limit, p.Offset)
}

// annotate raises the tracked height to the batch maximum first, then derives finality and
// unix time for every block and records it in the index.
func (t *Tracker) annotate(blocks []models.Block, epoch time.Time) {
	var batchMax int64
	for _, b := range blocks {
		if b.Height > batchMax {
			batchMax = b.Height
		}
	}
	t.raiseMaxHeight(batchMax)

	tracked := t.maxHeight.Load()
	for i := range blocks {
		b := &blocks[i]
		b.IsImmutable = tracked-b.Height >= t.depth
		b.UnixTimestamp = ToUnixTime(b.Timestamp, epoch)
		t.store(*b)
	}
}

func (t *Tracker) store(b models.Block) {
	if t.index == nil || b.ID == "" {
		return
	}
	err := t.index.Write(repository.Document{
		ID:     b.ID,
		Value:  b,
		Scores: map[string]int64{scoreTimestamp: b.Timestamp, scoreHeight: b.Height},
		Props:  map[string]string{propHeight: strconv.FormatInt(b.Height, 10)},
	})
	if err != nil {
		logger.Logger.Warn("Failed to index block", zap.String("id", b.ID), zap.Error(err))
	}
}

// ObserveBlock records a block pushed by the core and returns it annotated.
func (t *Tracker) ObserveBlock(b models.Block) models.Block {
	blocks := []models.Block{b}
	t.annotate(blocks, t.adapter.ChainEpoch())
	return blocks[0]
}

// UpdateFinalizedHeight refreshes the finalized height from the core's status.
func (t *Tracker) UpdateFinalizedHeight(ctx context.Context) error {
	status, err := t.adapter.GetNetworkStatus(ctx)
	if err != nil {
		return err
	}
	t.finalized.Store(status.FinalizedHeight)
	t.raiseMaxHeight(status.Height)
	return nil
}

// LastBlock returns the chain tip.
func (t *Tracker) LastBlock(ctx context.Context) (models.Block, error) {
	res, err := t.GetBlocks(ctx, models.BlockParams{Limit: 1})
	if err != nil {
		return models.Block{}, err
	}
	if len(res.Data) == 0 {
		return models.Block{}, models.ErrNotFound
	}
	return res.Data[0], nil
}
