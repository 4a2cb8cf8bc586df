package events

import (
	"context"
	"errors"
	"time"

	"chain-gateway/compat"
	"chain-gateway/logger"
	"chain-gateway/models"

	"go.uber.org/zap"
)

// BlockTracker is the part of the block tracker the handlers drive.
type BlockTracker interface {
	ObserveBlock(b models.Block) models.Block
	UpdateFinalizedHeight(ctx context.Context) error
}

// DelegateEngine is the part of the delegate engine the handlers drive.
type DelegateEngine interface {
	Reload(ctx context.Context) error
	RefreshStatus()
	GetNextForgers(page models.Page) models.Result[models.Delegate]
}

// FeeEstimator recomputes the dynamic fee estimate.
type FeeEstimator interface {
	Calculate(ctx context.Context) (models.FeeEstimate, error)
}

// Services are the components the event handlers update. Fees may be nil.
type Services struct {
	Tracker BlockTracker
	Engine  DelegateEngine
	Fees    FeeEstimator
}

// Init registers the handlers of every kind and wires the adapter's native events to them.
// A core without an event channel is not an error; RunRefresh covers it.
func (d *Dispatcher) Init(ctx context.Context, adapter compat.Adapter, svc Services) error {
	caps := adapter.Version().Capabilities()

	err := d.Handle(NewBlock, func(payload any) {
		if b, ok := payload.(*models.Block); ok && b != nil {
			d.Publish(SignalNewBlock, svc.Tracker.ObserveBlock(*b))
		}
		if err := svc.Tracker.UpdateFinalizedHeight(ctx); err != nil {
			logger.Logger.Warn("Failed to update finalized height", zap.Error(err))
		}
		svc.Engine.RefreshStatus()
		if caps.FeeEstimates && svc.Fees != nil {
			d.Dispatch(CalculateFeeEstimate, nil)
		}
	})
	if err != nil {
		return err
	}

	err = d.Handle(NewRound, func(any) {
		if err := svc.Engine.Reload(ctx); err != nil {
			return
		}
		forgers := svc.Engine.GetNextForgers(models.Page{Limit: caps.ActiveForgers})
		addresses := make([]string, 0, len(forgers.Data))
		for _, f := range forgers.Data {
			addresses = append(addresses, f.Address)
		}
		d.Publish(SignalNewRound, RoundPayload{NextForgers: addresses})
	})
	if err != nil {
		return err
	}

	err = d.Handle(CalculateFeeEstimate, func(any) {
		if svc.Fees == nil {
			return
		}
		estimate, err := svc.Fees.Calculate(ctx)
		if err != nil {
			logger.Logger.Warn("Fee estimation failed", zap.Error(err))
			return
		}
		d.Publish(SignalNewFeeEstimate, estimate)
	})
	if err != nil {
		return err
	}

	err = adapter.Subscribe(ctx, func(ev compat.NodeEvent) {
		switch ev.Kind {
		case compat.EventNewBlock:
			d.Dispatch(NewBlock, ev.Block)
		case compat.EventNewRound:
			d.Dispatch(NewRound, nil)
		}
	})
	if errors.Is(err, compat.ErrNoEventSource) {
		logger.Logger.Warn("Core has no event channel, relying on periodic refresh",
			zap.String("protocol", adapter.Version().String()))
		return nil
	}
	return err
}

// RunRefresh dispatches NewRound every interval until ctx ends.
func (d *Dispatcher) RunRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Dispatch(NewRound, nil)
		}
	}
}
