package accounts

import (
	"context"

	"chain-gateway/compat"
	"chain-gateway/logger"
	"chain-gateway/models"
	"chain-gateway/store"

	"go.uber.org/zap"
)

const (
	defaultSort  = "balance:asc"
	defaultLimit = 10
	indexBatch   = 100
)

// Store persists account rows for lookups the core cannot serve.
type Store interface {
	Upsert(ctx context.Context, rows []store.AccountRow) error
	Find(ctx context.Context, q store.Query) ([]store.AccountRow, error)
	Count(ctx context.Context, q store.Query) (int64, error)
}

// Service answers account queries. On cores that only look accounts up by address,
// alternate keys and listings go through the store, which is fed by every account seen.
type Service struct {
	adapter compat.Adapter
	store   Store
}

// NewService creates the account service. st may be nil, which disables indexed lookups.
func NewService(adapter compat.Adapter, st Store) *Service {
	return &Service{adapter: adapter, store: st}
}

func (s *Service) indexed() bool {
	return s.store != nil && s.adapter.Version().Capabilities().IndexedAccounts
}

// GetAccounts returns the accounts matching p. Adapter failures are logged and yield an
// empty result; single-account lookups that match nothing return models.ErrNotFound.
func (s *Service) GetAccounts(ctx context.Context, p models.AccountParams) (models.Result[models.Account], error) {
	if p.Sort == "" {
		p.Sort = defaultSort
	}
	single := p.IsSingleLookup()

	if s.indexed() && p.Address == "" && len(p.Addresses) == 0 {
		if !single {
			return s.fromStore(ctx, p), nil
		}
		addr, err := s.resolve(ctx, p)
		if err != nil {
			logger.Logger.Error("Account lookup failed", zap.Error(err))
			return models.Empty[models.Account](), nil
		}
		if addr == "" {
			return models.Empty[models.Account](), models.ErrNotFound
		}
		p = models.AccountParams{Address: addr, Sort: p.Sort}
	}

	res, err := s.adapter.GetAccounts(ctx, p)
	if err != nil {
		logger.Logger.Error("Failed to fetch accounts",
			zap.String("protocol", s.adapter.Version().String()), zap.Error(err))
		return models.Empty[models.Account](), nil
	}
	s.remember(ctx, res.Data)

	if single && len(res.Data) == 0 {
		return res, models.ErrNotFound
	}
	return res, nil
}

// GetTopAccounts lists accounts by balance, richest first.
func (s *Service) GetTopAccounts(ctx context.Context, page models.Page) (models.Result[models.Account], error) {
	return s.GetAccounts(ctx, models.AccountParams{Sort: "balance:desc", Offset: page.Offset, Limit: page.Limit})
}

// IndexDelegates refreshes the stored rows of every registered delegate from the core, so
// alternate keys and listings cover the registry before anyone looks an account up.
func (s *Service) IndexDelegates(ctx context.Context, registry []models.Delegate) {
	if !s.indexed() || len(registry) == 0 {
		return
	}
	addrs := make([]string, 0, len(registry))
	for _, d := range registry {
		addrs = append(addrs, d.Address)
	}
	indexed := 0
	for start := 0; start < len(addrs); start += indexBatch {
		end := min(start+indexBatch, len(addrs))
		res, err := s.adapter.GetAccounts(ctx, models.AccountParams{Addresses: addrs[start:end], Limit: end - start})
		if err != nil {
			logger.Logger.Warn("Failed to index delegate accounts", zap.Int("indexed", indexed), zap.Error(err))
			return
		}
		s.remember(ctx, res.Data)
		indexed += len(res.Data)
	}
	logger.Logger.Debug("Indexed delegate accounts", zap.Int("accounts", indexed))
}

// resolve maps an alternate key to an address through the store.
func (s *Service) resolve(ctx context.Context, p models.AccountParams) (string, error) {
	var where map[string]any
	switch {
	case p.PublicKey != "":
		where = map[string]any{"publicKey": p.PublicKey}
	case p.SecondPublicKey != "":
		where = map[string]any{"secondPublicKey": p.SecondPublicKey}
	default:
		where = map[string]any{"username": p.Username}
	}
	rows, err := s.store.Find(ctx, store.Query{Where: where, Limit: 1})
	if err != nil || len(rows) == 0 {
		return "", err
	}
	return rows[0].Address, nil
}

// fromStore pages through the stored rows and refreshes them from the core. Rows the core
// no longer returns are served as stored.
func (s *Service) fromStore(ctx context.Context, p models.AccountParams) models.Result[models.Account] {
	q := store.Query{Sort: p.Sort, Limit: p.Limit, Offset: p.Offset}
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if p.IsDelegate {
		q.Where = map[string]any{"isDelegate": true}
	}
	rows, err := s.store.Find(ctx, q)
	if err != nil {
		logger.Logger.Error("Account listing failed", zap.Error(err))
		return models.Empty[models.Account]()
	}
	total, err := s.store.Count(ctx, q)
	if err != nil {
		logger.Logger.Error("Account count failed", zap.Error(err))
		return models.Empty[models.Account]()
	}
	if len(rows) == 0 {
		return models.NewResult[models.Account](nil, p.Offset, int(total))
	}

	addrs := make([]string, len(rows))
	for i, r := range rows {
		addrs[i] = r.Address
	}
	fresh := map[string]models.Account{}
	res, err := s.adapter.GetAccounts(ctx, models.AccountParams{Addresses: addrs, Limit: len(addrs)})
	if err != nil {
		logger.Logger.Warn("Serving stored accounts", zap.Error(err))
	} else {
		for _, a := range res.Data {
			fresh[a.Address] = a
		}
		s.remember(ctx, res.Data)
	}

	out := make([]models.Account, len(rows))
	for i, r := range rows {
		if a, ok := fresh[r.Address]; ok {
			out[i] = a
		} else {
			out[i] = r.Account()
		}
	}
	return models.NewResult(out, p.Offset, int(total))
}

func (s *Service) remember(ctx context.Context, accounts []models.Account) {
	if s.store == nil || len(accounts) == 0 {
		return
	}
	rows := make([]store.AccountRow, 0, len(accounts))
	for _, a := range accounts {
		if a.Address != "" {
			rows = append(rows, store.RowFromAccount(a))
		}
	}
	if err := s.store.Upsert(ctx, rows); err != nil {
		logger.Logger.Warn("Failed to store accounts", zap.Int("count", len(rows)), zap.Error(err))
	}
}
