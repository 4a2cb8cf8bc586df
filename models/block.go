package models

// Block is a normalized block header. UnixTimestamp and IsImmutable are filled by the tracker.
type Block struct {
	ID                   string `json:"id"`
	Height               int64  `json:"height"`
	Version              int    `json:"version"`
	Timestamp            int64  `json:"timestamp"`
	UnixTimestamp        int64  `json:"unixTimestamp"`
	IsImmutable          bool   `json:"isImmutable"`
	PreviousBlockID      string `json:"previousBlockId,omitempty"`
	GeneratorPublicKey   string `json:"generatorPublicKey,omitempty"`
	GeneratorAddress     string `json:"generatorAddress,omitempty"`
	NumberOfTransactions int    `json:"numberOfTransactions"`
	TotalFee             uint64 `json:"totalFee,string"`
	Reward               uint64 `json:"reward,string"`
	PayloadLength        int    `json:"payloadLength"`
}

// BlockParams are the query parameters accepted by the block tracker. The first non-empty
// selector among ID, IDs, Height and HeightRange wins; otherwise the latest blocks are listed.
type BlockParams struct {
	ID            string
	IDs           []string
	Height        int64
	HeightFrom    int64
	HeightTo      int64
	FromTimestamp int64
	ToTimestamp   int64
	GeneratorKey  string
	Sort          string
	Offset        int
	Limit         int
}

// Transaction is a normalized transaction.
type Transaction struct {
	ID              string `json:"id"`
	BlockID         string `json:"blockId,omitempty"`
	Height          int64  `json:"height,omitempty"`
	ModuleID        int    `json:"moduleID"`
	AssetID         int    `json:"assetID"`
	Type            int    `json:"type"`
	Nonce           uint64 `json:"nonce,string"`
	Fee             uint64 `json:"fee,string"`
	SenderPublicKey string `json:"senderPublicKey"`
	Size            int    `json:"size"`
}
