package delegates

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"chain-gateway/cache"
	"chain-gateway/compat"
	"chain-gateway/logger"
	"chain-gateway/models"
	"chain-gateway/pagination"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxCount caps how many registry entries one reload reads.
const DefaultMaxCount = 10000

// State is the lifecycle of the delegate registry.
type State int32

const (
	StateEmpty State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "LOADING"
	case StateReady:
		return "READY"
	default:
		return "EMPTY"
	}
}

// HeightSource reports the latest tracked block height.
type HeightSource interface {
	CurrentHeight() int64
}

// snapshot is an immutable view of the registry and the forger rotation. It is replaced as a
// whole, never edited after publication.
type snapshot struct {
	delegates []models.Delegate
	forgers   []models.Delegate
	height    int64
}

// Engine keeps the delegate registry and the upcoming forger rotation in memory.
type Engine struct {
	adapter  compat.Adapter
	caps     compat.Capabilities
	heights  HeightSource
	cache    cache.Cache
	maxCount int
	onReload func(ctx context.Context, registry []models.Delegate)

	reloadMu sync.Mutex
	state    atomic.Int32
	snap     atomic.Pointer[snapshot]
}

// NewEngine creates an engine in the EMPTY state. c may be nil to skip cache mirroring.
func NewEngine(adapter compat.Adapter, heights HeightSource, c cache.Cache, maxCount int) *Engine {
	if maxCount <= 0 {
		maxCount = DefaultMaxCount
	}
	return &Engine{
		adapter:  adapter,
		caps:     adapter.Version().Capabilities(),
		heights:  heights,
		cache:    c,
		maxCount: maxCount,
	}
}

// State reports where the engine is in its lifecycle.
func (e *Engine) State() State { return State(e.state.Load()) }

// Reload rebuilds the registry and the rotation and publishes them together. On failure the
// previous snapshot stays in place.
func (e *Engine) Reload(ctx context.Context) error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	e.state.Store(int32(StateLoading))

	var registry, rotation []models.Delegate
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		registry, err = pagination.RequestAll(gctx, func(ctx context.Context, p models.Page) ([]models.Delegate, error) {
			res, err := e.adapter.GetDelegates(ctx, p)
			return res.Data, err
		}, models.Page{Limit: pagination.DefaultPageSize}, e.maxCount)
		return err
	})
	g.Go(func() error {
		res, err := e.adapter.GetNextForgers(gctx, models.Page{Limit: e.caps.ActiveForgers})
		rotation = res.Data
		return err
	})
	if err := g.Wait(); err != nil {
		if e.snap.Load() != nil {
			e.state.Store(int32(StateReady))
		} else {
			e.state.Store(int32(StateEmpty))
		}
		logger.Logger.Error("Delegate reload failed, keeping previous snapshot", zap.Error(err))
		return err
	}

	if e.caps.Ranking {
		rank(registry)
	}
	next := e.build(registry, rotation, e.heights.CurrentHeight())
	next = e.publish(next)
	e.state.Store(int32(StateReady))

	logger.Logger.Info("Delegate registry reloaded",
		zap.Int("delegates", len(next.delegates)),
		zap.Int("forgers", len(next.forgers)),
		zap.Int64("height", next.height))

	e.mirror(ctx, next.delegates)
	if e.onReload != nil {
		e.onReload(ctx, next.delegates)
	}
	return nil
}

// publish swaps next in, re-deriving its statuses first whenever the tracked height moved
// since it was built. A concurrent RefreshStatus is never overwritten with an older height.
func (e *Engine) publish(next *snapshot) *snapshot {
	for {
		old := e.snap.Load()
		if h := e.heights.CurrentHeight(); h != next.height {
			next = e.atHeight(next, h)
		}
		if e.snap.CompareAndSwap(old, next) {
			return next
		}
	}
}

// OnReload registers fn to receive the registry after every successful reload. It must be
// set before the first Reload and must not modify the slice.
func (e *Engine) OnReload(fn func(ctx context.Context, registry []models.Delegate)) {
	e.onReload = fn
}

// rank orders delegates by weight, heaviest first, ties by address bytes, and numbers them
// from 1.
func rank(ds []models.Delegate) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].Weight != ds[j].Weight {
			return ds[i].Weight > ds[j].Weight
		}
		return bytes.Compare([]byte(ds[i].Address), []byte(ds[j].Address)) < 0
	})
	for i := range ds {
		ds[i].Rank = i + 1
	}
}

// build derives statuses and resolves the rotation against the registry.
func (e *Engine) build(registry, rotation []models.Delegate, height int64) *snapshot {
	active := activeSet(rotation, e.caps.ActiveForgers)
	for i := range registry {
		registry[i].Status = e.status(registry[i], active, height)
	}

	byAddress := make(map[string]models.Delegate, len(registry))
	for _, d := range registry {
		byAddress[d.Address] = d
	}

	forgers := make([]models.Delegate, 0, len(rotation))
	dropped := 0
	for _, f := range rotation {
		if d, ok := byAddress[f.Address]; ok {
			forgers = append(forgers, d)
			continue
		}
		if e.caps.ResolveForgers {
			dropped++
			continue
		}
		f.Status = e.status(f, active, height)
		forgers = append(forgers, f)
	}
	if dropped > 0 {
		logger.Logger.Warn("Dropped forger rotation entries missing from the registry", zap.Int("dropped", dropped))
	}
	return &snapshot{delegates: registry, forgers: forgers, height: height}
}

func activeSet(rotation []models.Delegate, n int) map[string]bool {
	if n > len(rotation) {
		n = len(rotation)
	}
	active := make(map[string]bool, n)
	for _, f := range rotation[:n] {
		active[f.Address] = true
	}
	return active
}

func (e *Engine) status(d models.Delegate, active map[string]bool, height int64) models.DelegateStatus {
	if e.caps.Ranking {
		if !d.IsDelegate {
			return models.StatusNonEligible
		}
		if d.IsBanned {
			return models.StatusBanned
		}
		for _, pom := range d.PomHeights {
			if pom.Contains(height) {
				return models.StatusPunished
			}
		}
	}
	if active[d.Address] {
		return models.StatusActive
	}
	return models.StatusStandby
}

// RefreshStatus recomputes statuses against the latest tracked height without any I/O. It
// gives way to a reload that publishes in the meantime.
func (e *Engine) RefreshStatus() {
	for {
		old := e.snap.Load()
		if old == nil {
			return
		}
		height := e.heights.CurrentHeight()
		if height == old.height {
			return
		}
		if e.snap.CompareAndSwap(old, e.atHeight(old, height)) {
			return
		}
	}
}

// atHeight copies s with every status derived for height.
func (e *Engine) atHeight(s *snapshot, height int64) *snapshot {
	delegates := append([]models.Delegate(nil), s.delegates...)
	rotation := append([]models.Delegate(nil), s.forgers...)
	active := activeSet(rotation, e.caps.ActiveForgers)
	for i := range delegates {
		delegates[i].Status = e.status(delegates[i], active, height)
	}
	for i := range rotation {
		rotation[i].Status = e.status(rotation[i], active, height)
	}
	return &snapshot{delegates: delegates, forgers: rotation, height: height}
}

func (e *Engine) mirror(ctx context.Context, ds []models.Delegate) {
	if e.cache == nil {
		return
	}
	failed := 0
	for _, d := range ds {
		if err := e.cache.Set(ctx, "delegates:"+d.Address, d); err != nil {
			failed++
		}
		if d.Username == "" {
			continue
		}
		if err := e.cache.Set(ctx, "delegates:"+d.Username, d); err != nil {
			failed++
		}
	}
	if failed > 0 {
		logger.Logger.Warn("Failed to mirror delegates to cache", zap.Int("failed", failed))
	}
}
