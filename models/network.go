package models

// NetworkStatus is the node's self-reported state.
type NetworkStatus struct {
	Version         string `json:"version"`
	NetworkID       string `json:"networkIdentifier"`
	Height          int64  `json:"height"`
	FinalizedHeight int64  `json:"finalizedHeight"`
	Epoch           string `json:"epoch,omitempty"`
	BlockTime       int    `json:"blockTime,omitempty"`
	Syncing         bool   `json:"syncing"`
}

// PeerState is the normalized connection state of a peer.
type PeerState string

const (
	PeerConnected    PeerState = "connected"
	PeerDisconnected PeerState = "disconnected"
	PeerUnknown      PeerState = "unknown"
)

// Peer is a node known to the core.
type Peer struct {
	IP             string    `json:"ip"`
	WSPort         int       `json:"wsPort"`
	Height         int64     `json:"height"`
	NetworkVersion string    `json:"networkVersion"`
	Nonce          string    `json:"nonce,omitempty"`
	OS             string    `json:"os,omitempty"`
	State          PeerState `json:"state"`
}

// PeerParams filters the peer list.
type PeerParams struct {
	State          string
	IP             string
	NetworkVersion string
	Height         int64
	Sort           string
	Offset         int
	Limit          int
}

// FeeEstimatePerByte holds the three fee tiers, in the smallest currency unit per byte.
type FeeEstimatePerByte struct {
	Low    uint64 `json:"low"`
	Medium uint64 `json:"medium"`
	High   uint64 `json:"high"`
}

// FeeEstimate is the latest dynamic fee estimate.
type FeeEstimate struct {
	FeeEstimatePerByte FeeEstimatePerByte `json:"feeEstimatePerByte"`
	BlockHeight        int64              `json:"blockHeight"`
	BlockID            string             `json:"blockId"`
	Updated            int64              `json:"updated"`
}
