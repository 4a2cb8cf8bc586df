package compat

import (
	"context"
	"time"

	"chain-gateway/models"
)

// sdkV4 covers 3.0.0-beta.1. Delegates carry a weight, a ban flag and punishment intervals,
// rotation entries are complete records and block timestamps are unix seconds.
type sdkV4 struct {
	sdkV3
}

func (a *sdkV4) Version() ProtocolVersion { return SDKv4 }

func (a *sdkV4) ChainEpoch() time.Time { return time.Time{} }

func (a *sdkV4) GetAccounts(ctx context.Context, p models.AccountParams) (models.Result[models.Account], error) {
	return a.getAccounts(ctx, p, true)
}

func (a *sdkV4) GetDelegates(ctx context.Context, page models.Page) (models.Result[models.Delegate], error) {
	return a.delegates(ctx, "delegates", page, true)
}

func (a *sdkV4) GetNextForgers(ctx context.Context, page models.Page) (models.Result[models.Delegate], error) {
	return a.delegates(ctx, "delegates/forgers", page, true)
}
