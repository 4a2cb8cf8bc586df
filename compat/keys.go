package compat

import (
	"context"
	"encoding/hex"
	"sync"

	"chain-gateway/logger"
	"chain-gateway/models"

	"go.uber.org/zap"
)

// KeyStore persists public keys by address across restarts.
type KeyStore interface {
	RecordKeys(ctx context.Context, keys map[string]string) error
	PublicKeys(ctx context.Context, addresses []string) (map[string]string, error)
}

// keyBook maps addresses to the public keys seen signing blocks and transactions. Binary
// account records carry no key, so it is joined onto them from here.
type keyBook struct {
	store KeyStore

	mu    sync.RWMutex
	known map[string]string
}

func newKeyBook(store KeyStore) *keyBook {
	return &keyBook{store: store, known: make(map[string]string)}
}

// learn records the generator and sender keys of decoded blocks. Only keys not seen before
// reach the store.
func (k *keyBook) learn(ctx context.Context, blocks []models.Block, txs []models.Transaction) {
	fresh := make(map[string]string)
	k.mu.Lock()
	add := func(address, pk string) {
		if address == "" || pk == "" || k.known[address] == pk {
			return
		}
		k.known[address] = pk
		fresh[address] = pk
	}
	for _, b := range blocks {
		add(b.GeneratorAddress, b.GeneratorPublicKey)
	}
	for _, tx := range txs {
		raw, err := hex.DecodeString(tx.SenderPublicKey)
		if err != nil {
			continue
		}
		add(addressFromPublicKey(raw), tx.SenderPublicKey)
	}
	k.mu.Unlock()

	if k.store == nil || len(fresh) == 0 {
		return
	}
	if err := k.store.RecordKeys(ctx, fresh); err != nil {
		logger.Logger.Warn("Failed to record public keys", zap.Int("keys", len(fresh)), zap.Error(err))
	}
}

// fill sets the public key of accounts that have none, asking the store about addresses
// this process has not seen sign anything.
func (k *keyBook) fill(ctx context.Context, accounts []models.Account) {
	var missing []string
	k.mu.RLock()
	for i := range accounts {
		if accounts[i].PublicKey != "" {
			continue
		}
		if pk, ok := k.known[accounts[i].Address]; ok {
			accounts[i].PublicKey = pk
		} else {
			missing = append(missing, accounts[i].Address)
		}
	}
	k.mu.RUnlock()
	if k.store == nil || len(missing) == 0 {
		return
	}

	found, err := k.store.PublicKeys(ctx, missing)
	if err != nil {
		logger.Logger.Warn("Public key lookup failed", zap.Error(err))
		return
	}
	if len(found) == 0 {
		return
	}
	k.mu.Lock()
	for addr, pk := range found {
		k.known[addr] = pk
	}
	k.mu.Unlock()
	for i := range accounts {
		if accounts[i].PublicKey == "" {
			accounts[i].PublicKey = found[accounts[i].Address]
		}
	}
}
