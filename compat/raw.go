package compat

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"chain-gateway/models"

	"golang.org/x/sync/errgroup"
)

// amount accepts the core's balances and weights both as JSON strings and as numbers.
type amount uint64

func (a *amount) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*a = 0
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return err
	}
	*a = amount(v)
	return nil
}

type rawMeta struct {
	Count  int `json:"count"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

type rawList[T any] struct {
	Data []T    `json:"data"`
	Meta rawMeta `json:"meta"`
}

type rawBlock struct {
	ID                   string `json:"id"`
	Height               int64  `json:"height"`
	Version              int    `json:"version"`
	Timestamp            int64  `json:"timestamp"`
	PreviousBlockID      string `json:"previousBlockId"`
	GeneratorPublicKey   string `json:"generatorPublicKey"`
	GeneratorAddress     string `json:"generatorAddress"`
	NumberOfTransactions int    `json:"numberOfTransactions"`
	TotalFee             amount `json:"totalFee"`
	Reward               amount `json:"reward"`
	PayloadLength        int    `json:"payloadLength"`
}

func (r rawBlock) block() models.Block {
	return models.Block{
		ID:                   r.ID,
		Height:               r.Height,
		Version:              r.Version,
		Timestamp:            r.Timestamp,
		PreviousBlockID:      r.PreviousBlockID,
		GeneratorPublicKey:   r.GeneratorPublicKey,
		GeneratorAddress:     r.GeneratorAddress,
		NumberOfTransactions: r.NumberOfTransactions,
		TotalFee:             uint64(r.TotalFee),
		Reward:               uint64(r.Reward),
		PayloadLength:        r.PayloadLength,
	}
}

type rawDelegateInfo struct {
	Username       string             `json:"username"`
	Vote           amount             `json:"vote"`
	DelegateWeight amount             `json:"delegateWeight"`
	IsBanned       bool               `json:"isBanned"`
	PomHeights     []models.PomHeight `json:"pomHeights"`
}

type rawAccount struct {
	Address         string           `json:"address"`
	PublicKey       string           `json:"publicKey"`
	SecondPublicKey string           `json:"secondPublicKey"`
	Balance         amount           `json:"balance"`
	Nonce           amount           `json:"nonce"`
	IsDelegate      *bool            `json:"isDelegate"`
	Delegate        *rawDelegateInfo `json:"delegate"`
}

func (r rawAccount) account(weighted bool) models.Account {
	acc := models.Account{
		Address:         r.Address,
		PublicKey:       r.PublicKey,
		SecondPublicKey: r.SecondPublicKey,
		Balance:         uint64(r.Balance),
		Nonce:           uint64(r.Nonce),
	}
	if r.Delegate != nil {
		acc.Username = r.Delegate.Username
		acc.IsDelegate = r.Delegate.Username != ""
		acc.IsBanned = r.Delegate.IsBanned
		acc.PomHeights = r.Delegate.PomHeights
		acc.Weight = uint64(r.Delegate.Vote)
		if weighted {
			acc.Weight = uint64(r.Delegate.DelegateWeight)
		}
	}
	if r.IsDelegate != nil {
		acc.IsDelegate = *r.IsDelegate
	}
	return acc
}

type rawDelegate struct {
	Username       string             `json:"username"`
	Vote           amount             `json:"vote"`
	DelegateWeight amount             `json:"delegateWeight"`
	IsBanned       bool               `json:"isBanned"`
	IsDelegate     *bool              `json:"isDelegate"`
	PomHeights     []models.PomHeight `json:"pomHeights"`
	Address        string             `json:"address"`
	PublicKey      string             `json:"publicKey"`
	Account        struct {
		Address         string `json:"address"`
		PublicKey       string `json:"publicKey"`
		SecondPublicKey string `json:"secondPublicKey"`
	} `json:"account"`
}

// delegate normalizes a registry entry. Older cores report weight as "vote".
func (r rawDelegate) delegate(weighted bool) models.Delegate {
	d := models.Delegate{
		Address:         r.Account.Address,
		PublicKey:       r.Account.PublicKey,
		SecondPublicKey: r.Account.SecondPublicKey,
		Username:        r.Username,
		Weight:          uint64(r.Vote),
		IsBanned:        r.IsBanned,
		IsDelegate:      true,
		PomHeights:      r.PomHeights,
	}
	if d.Address == "" {
		d.Address = r.Address
	}
	if d.PublicKey == "" {
		d.PublicKey = r.PublicKey
	}
	if weighted {
		d.Weight = uint64(r.DelegateWeight)
	}
	if r.IsDelegate != nil {
		d.IsDelegate = *r.IsDelegate
	}
	return d
}

type rawTransaction struct {
	ID              string `json:"id"`
	BlockID         string `json:"blockId"`
	Height          int64  `json:"height"`
	Type            int    `json:"type"`
	ModuleID        int    `json:"moduleID"`
	AssetID         int    `json:"assetID"`
	Nonce           amount `json:"nonce"`
	Fee             amount `json:"fee"`
	SenderPublicKey string `json:"senderPublicKey"`
	Size            int    `json:"size"`
}

func (r rawTransaction) transaction() models.Transaction {
	return models.Transaction{
		ID:              r.ID,
		BlockID:         r.BlockID,
		Height:          r.Height,
		Type:            r.Type,
		ModuleID:        r.ModuleID,
		AssetID:         r.AssetID,
		Nonce:           uint64(r.Nonce),
		Fee:             uint64(r.Fee),
		SenderPublicKey: r.SenderPublicKey,
		Size:            r.Size,
	}
}

type rawPeer struct {
	IP             string          `json:"ip"`
	IPAddress      string          `json:"ipAddress"`
	WSPort         int             `json:"wsPort"`
	Port           int             `json:"port"`
	Height         int64           `json:"height"`
	Version        string          `json:"version"`
	NetworkVersion string          `json:"networkVersion"`
	Nonce          string          `json:"nonce"`
	OS             string          `json:"os"`
	State          json.RawMessage `json:"state"`
	Options        struct {
		Height int64 `json:"height"`
	} `json:"options"`
}

func (r rawPeer) peer(fallback models.PeerState) models.Peer {
	p := models.Peer{
		IP:             r.IP,
		WSPort:         r.WSPort,
		Height:         r.Height,
		NetworkVersion: r.NetworkVersion,
		Nonce:          r.Nonce,
		OS:             r.OS,
		State:          parsePeerState(r.State, fallback),
	}
	if p.IP == "" {
		p.IP = r.IPAddress
	}
	if p.WSPort == 0 {
		p.WSPort = r.Port
	}
	if p.Height == 0 {
		p.Height = r.Options.Height
	}
	if p.NetworkVersion == "" {
		p.NetworkVersion = r.Version
	}
	return p
}

// parsePeerState accepts both the numeric (0/1/2) and the named peer states.
func parsePeerState(raw json.RawMessage, fallback models.PeerState) models.PeerState {
	switch strings.Trim(string(raw), `"`) {
	case "2", string(models.PeerConnected):
		return models.PeerConnected
	case "1", string(models.PeerDisconnected):
		return models.PeerDisconnected
	case "0", string(models.PeerUnknown):
		return models.PeerUnknown
	default:
		return fallback
	}
}

const fetchConcurrency = 8

// fetchEach runs one fetch per key with bounded concurrency and concatenates the results
// in key order. It emulates batch lookups on cores that only answer one key at a time.
func fetchEach[K any, T any](ctx context.Context, keys []K, fetch func(context.Context, K) ([]T, error)) ([]T, error) {
	results := make([][]T, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, key := range keys {
		g.Go(func() error {
			items, err := fetch(gctx, key)
			if err != nil {
				return err
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []T
	for _, items := range results {
		out = append(out, items...)
	}
	return out, nil
}
