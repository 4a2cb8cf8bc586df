package network

import (
	"context"
	"sort"
	"strings"

	"chain-gateway/compat"
	"chain-gateway/logger"
	"chain-gateway/models"

	"go.uber.org/zap"
)

const (
	defaultSort  = "height:desc"
	defaultLimit = 10
)

// HeightSource reports the finalized height tracked for the chain.
type HeightSource interface {
	FinalizedHeight() int64
}

// Service serves peer listings and the core's status.
type Service struct {
	adapter compat.Adapter
	heights HeightSource
}

func NewService(adapter compat.Adapter, heights HeightSource) *Service {
	return &Service{adapter: adapter, heights: heights}
}

// GetNetworkStatus passes the core's status through.
func (s *Service) GetNetworkStatus(ctx context.Context) (models.NetworkStatus, error) {
	return s.adapter.GetNetworkStatus(ctx)
}

// GetFinalizedHeight is the finalized height last reported by the core.
func (s *Service) GetFinalizedHeight() int64 {
	return s.heights.FinalizedHeight()
}

// ParseState accepts both the named and the numeric peer states.
func ParseState(s string) (models.PeerState, bool) {
	switch strings.ToLower(s) {
	case "":
		return "", true
	case "connected", "2":
		return models.PeerConnected, true
	case "disconnected", "1":
		return models.PeerDisconnected, true
	case "unknown", "0":
		return models.PeerUnknown, true
	}
	return "", false
}

// GetPeers lists peers matching p. Adapter failures and unknown states yield an empty result.
func (s *Service) GetPeers(ctx context.Context, p models.PeerParams) models.Result[models.Peer] {
	state, ok := ParseState(p.State)
	if !ok {
		return models.Empty[models.Peer]()
	}
	res, err := s.adapter.GetPeers(ctx, state)
	if err != nil {
		logger.Logger.Error("Failed to fetch peers",
			zap.String("protocol", s.adapter.Version().String()), zap.Error(err))
		return models.Empty[models.Peer]()
	}

	peers := make([]models.Peer, 0, len(res.Data))
	for _, peer := range res.Data {
		if state != "" && peer.State != state {
			continue
		}
		if p.IP != "" && peer.IP != p.IP {
			continue
		}
		if p.NetworkVersion != "" && peer.NetworkVersion != p.NetworkVersion {
			continue
		}
		if p.Height > 0 && peer.Height != p.Height {
			continue
		}
		peers = append(peers, peer)
	}

	sortPeers(peers, p.Sort)
	start, end := models.Page{Offset: p.Offset, Limit: p.Limit}.Bounds(len(peers), defaultLimit)
	return models.NewResult(peers[start:end], start, len(peers))
}

func sortPeers(peers []models.Peer, order string) {
	if order == "" {
		order = defaultSort
	}
	field, dir, _ := strings.Cut(order, ":")
	desc := dir != "asc"
	less := func(a, b models.Peer) bool {
		switch field {
		case "ip":
			return a.IP < b.IP
		case "networkVersion":
			return a.NetworkVersion < b.NetworkVersion
		case "wsPort":
			return a.WSPort < b.WSPort
		default:
			return a.Height < b.Height
		}
	}
	sort.SliceStable(peers, func(i, j int) bool {
		if desc {
			return less(peers[j], peers[i])
		}
		return less(peers[i], peers[j])
	})
}
