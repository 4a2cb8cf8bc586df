package compat

import (
	"context"

	"chain-gateway/models"
)

// sdkV3 covers the 3.0 alpha cores: same resources as sdkV2, but peers are filtered by
// named state and node status reports the finalized height.
type sdkV3 struct {
	sdkV2
}

func (a *sdkV3) Version() ProtocolVersion { return SDKv3 }

func (a *sdkV3) GetPeers(ctx context.Context, state models.PeerState) (models.Result[models.Peer], error) {
	return a.peers(ctx, state, string(state))
}
