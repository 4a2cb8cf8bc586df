package fees

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"chain-gateway/compat"
	"chain-gateway/logger"
	"chain-gateway/models"

	"go.uber.org/zap"
)

// ErrUnsupported is returned when the core has no dynamic fees.
var ErrUnsupported = errors.New("fees: dynamic fees not supported by the core")

// Config tunes the estimator.
type Config struct {
	QuickAlgorithmEnabled bool
	FullAlgorithmEnabled  bool
	// BatchSize is how many recent blocks the full algorithm folds in.
	BatchSize int
	// EMADecay weighs the newest block against the running average, in (0, 1].
	EMADecay        float64
	LowerPercentile float64
	UpperPercentile float64
	// FullnessThreshold is the payload share above which a block counts as congested.
	FullnessThreshold float64
	MaxPayloadLength  int
}

// BlockSource serves annotated blocks.
type BlockSource interface {
	LastBlock(ctx context.Context) (models.Block, error)
	GetBlocks(ctx context.Context, p models.BlockParams) (models.Result[models.Block], error)
}

// TransactionSource serves the transactions of a block.
type TransactionSource interface {
	GetTransactions(ctx context.Context, q compat.TransactionQuery) (models.Result[models.Transaction], error)
}

type average struct {
	low, medium, high float64
	height            int64
	blockID           string
}

// Estimator derives fee-per-byte tiers from recent blocks, smoothed by an exponential
// moving average.
type Estimator struct {
	blocks  BlockSource
	txs     TransactionSource
	enabled bool
	cfg     Config

	mu     sync.Mutex
	avg    *average
	latest *models.FeeEstimate
}

func NewEstimator(blocks BlockSource, txs TransactionSource, caps compat.Capabilities, cfg Config) *Estimator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.EMADecay <= 0 || cfg.EMADecay > 1 {
		cfg.EMADecay = 0.5
	}
	if cfg.MaxPayloadLength <= 0 {
		cfg.MaxPayloadLength = 15 * 1024
	}
	return &Estimator{blocks: blocks, txs: txs, enabled: caps.FeeEstimates, cfg: cfg}
}

// Latest returns the last computed estimate.
func (e *Estimator) Latest() (models.FeeEstimate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.latest == nil {
		return models.FeeEstimate{}, false
	}
	return *e.latest, true
}

// Calculate runs the enabled algorithms and returns the new estimate.
func (e *Estimator) Calculate(ctx context.Context) (models.FeeEstimate, error) {
	if !e.enabled {
		return models.FeeEstimate{}, ErrUnsupported
	}
	if e.cfg.FullAlgorithmEnabled {
		if err := e.full(ctx); err != nil {
			logger.Logger.Warn("Full fee estimation failed", zap.Error(err))
		}
	}
	if e.cfg.QuickAlgorithmEnabled {
		if err := e.quick(ctx); err != nil {
			return models.FeeEstimate{}, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.avg == nil {
		return models.FeeEstimate{}, models.ErrNotFound
	}
	est := models.FeeEstimate{
		FeeEstimatePerByte: models.FeeEstimatePerByte{
			Low:    uint64(math.Ceil(e.avg.low)),
			Medium: uint64(math.Ceil(e.avg.medium)),
			High:   uint64(math.Ceil(e.avg.high)),
		},
		BlockHeight: e.avg.height,
		BlockID:     e.avg.blockID,
		Updated:     time.Now().Unix(),
	}
	e.latest = &est
	return est, nil
}

// quick folds the chain tip into the running average.
func (e *Estimator) quick(ctx context.Context) error {
	tip, err := e.blocks.LastBlock(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	seen := e.avg != nil && e.avg.height >= tip.Height
	e.mu.Unlock()
	if seen {
		return nil
	}

	stats, err := e.blockStats(ctx, tip)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.avg = e.fold(e.avg, stats, tip)
	e.mu.Unlock()
	return nil
}

// full rebuilds the running average from the last BatchSize blocks, oldest first.
func (e *Estimator) full(ctx context.Context) error {
	tip, err := e.blocks.LastBlock(ctx)
	if err != nil {
		return err
	}
	from := tip.Height - int64(e.cfg.BatchSize) + 1
	if from < 1 {
		from = 1
	}
	res, err := e.blocks.GetBlocks(ctx, models.BlockParams{HeightFrom: from, HeightTo: tip.Height})
	if err != nil {
		return err
	}
	blocks := res.Data
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Height < blocks[j].Height })

	var avg *average
	for _, b := range blocks {
		stats, err := e.blockStats(ctx, b)
		if err != nil {
			return err
		}
		avg = e.fold(avg, stats, b)
	}
	if avg == nil {
		return nil
	}
	e.mu.Lock()
	e.avg = avg
	e.mu.Unlock()
	return nil
}

func (e *Estimator) fold(prev *average, s Stats, b models.Block) *average {
	next := &average{low: s.Low, medium: s.Medium, high: s.High, height: b.Height, blockID: b.ID}
	if prev != nil {
		d := e.cfg.EMADecay
		next.low = d*s.Low + (1-d)*prev.low
		next.medium = d*s.Medium + (1-d)*prev.medium
		next.high = d*s.High + (1-d)*prev.high
	}
	return next
}

func (e *Estimator) blockStats(ctx context.Context, b models.Block) (Stats, error) {
	if b.NumberOfTransactions == 0 {
		return Stats{}, nil
	}
	res, err := e.txs.GetTransactions(ctx, compat.TransactionQuery{BlockID: b.ID, Limit: b.NumberOfTransactions})
	if err != nil {
		return Stats{}, err
	}
	return BlockStats(b, res.Data, e.cfg), nil
}

// Stats are the fee-per-byte targets one block contributes.
type Stats struct {
	Low, Medium, High float64
}

// BlockStats computes the fee-per-byte percentiles of a block. A block below the fullness
// threshold shows no competition for space and contributes zero.
func BlockStats(b models.Block, txs []models.Transaction, cfg Config) Stats {
	payload := b.PayloadLength
	if payload == 0 {
		for _, tx := range txs {
			payload += tx.Size
		}
	}
	if cfg.MaxPayloadLength > 0 && float64(payload)/float64(cfg.MaxPayloadLength) < cfg.FullnessThreshold {
		return Stats{}
	}

	perByte := make([]float64, 0, len(txs))
	for _, tx := range txs {
		if tx.Size > 0 {
			perByte = append(perByte, float64(tx.Fee)/float64(tx.Size))
		}
	}
	if len(perByte) == 0 {
		return Stats{}
	}
	sort.Float64s(perByte)
	return Stats{
		Low:    percentile(perByte, cfg.LowerPercentile),
		Medium: percentile(perByte, 50),
		High:   percentile(perByte, cfg.UpperPercentile),
	}
}

// percentile uses the nearest-rank method on sorted values.
func percentile(sorted []float64, p float64) float64 {
	if p <= 0 {
		return sorted[0]
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
