package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chain-gateway/logger"
	"chain-gateway/models"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const batchSize = 100

// AccountRow is the persisted form of an account, used to resolve alternate keys to an
// address on cores that only look accounts up by address.
type AccountRow struct {
	Address         string `gorm:"primaryKey;size:64"`
	PublicKey       string `gorm:"index;size:128"`
	SecondPublicKey string `gorm:"index;size:128"`
	Username        string `gorm:"index;size:64"`
	Balance         uint64 `gorm:"index"`
	Nonce           uint64
	IsDelegate      bool `gorm:"index"`
	UpdatedAt       time.Time
}

func (AccountRow) TableName() string { return "accounts" }

// RowFromAccount keeps the fields the index needs.
func RowFromAccount(a models.Account) AccountRow {
	return AccountRow{
		Address:         a.Address,
		PublicKey:       a.PublicKey,
		SecondPublicKey: a.SecondPublicKey,
		Username:        a.Username,
		Balance:         a.Balance,
		Nonce:           a.Nonce,
		IsDelegate:      a.IsDelegate,
	}
}

func (r AccountRow) Account() models.Account {
	return models.Account{
		Address:         r.Address,
		PublicKey:       r.PublicKey,
		SecondPublicKey: r.SecondPublicKey,
		Username:        r.Username,
		Balance:         r.Balance,
		Nonce:           r.Nonce,
		IsDelegate:      r.IsDelegate,
	}
}

// Open connects to the relational store. Only sqlite is built in.
func Open(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "", "sqlite":
		return gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}
}

// Between restricts a numeric column to [From, To].
type Between struct {
	Prop     string
	From, To uint64
}

// Query selects account rows. Where keys and Sort fields are JSON field names.
type Query struct {
	Where   map[string]any
	Between *Between
	Sort    string
	Limit   int
	Offset  int
}

var columns = map[string]string{
	"address":         "address",
	"publicKey":       "public_key",
	"secondPublicKey": "second_public_key",
	"username":        "username",
	"balance":         "balance",
	"nonce":           "nonce",
	"isDelegate":      "is_delegate",
}

// AccountStore is the accounts table.
type AccountStore struct {
	db *gorm.DB
}

// NewAccountStore migrates the accounts table.
func NewAccountStore(db *gorm.DB) (*AccountStore, error) {
	if err := db.AutoMigrate(&AccountRow{}); err != nil {
		return nil, fmt.Errorf("store: migrate accounts: %w", err)
	}
	return &AccountStore{db: db}, nil
}

// Upsert inserts rows in batches. When a batch fails, typically on an existing key, the rows
// are written again one by one inside a transaction, merging into existing rows.
func (s *AccountStore) Upsert(ctx context.Context, rows []AccountRow) error {
	if len(rows) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).CreateInBatches(rows, batchSize).Error
	if err == nil {
		return nil
	}
	logger.Logger.Debug("Batch insert failed, upserting row by row", zap.Int("rows", len(rows)), zap.Error(err))

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows[i]).Error; err != nil {
				return fmt.Errorf("store: upsert %s: %w", rows[i].Address, err)
			}
		}
		return nil
	})
}

// RecordKeys sets the public key of each address, creating bare rows for addresses not
// stored yet. Other columns of existing rows are left alone.
func (s *AccountStore) RecordKeys(ctx context.Context, keys map[string]string) error {
	if len(keys) == 0 {
		return nil
	}
	rows := make([]AccountRow, 0, len(keys))
	for addr, pk := range keys {
		rows = append(rows, AccountRow{Address: addr, PublicKey: pk})
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"public_key", "updated_at"}),
	}).CreateInBatches(rows, batchSize).Error
	if err != nil {
		return fmt.Errorf("store: record keys: %w", err)
	}
	return nil
}

// PublicKeys returns the stored public keys of addresses, skipping those without one.
func (s *AccountStore) PublicKeys(ctx context.Context, addresses []string) (map[string]string, error) {
	out := make(map[string]string, len(addresses))
	if len(addresses) == 0 {
		return out, nil
	}
	var rows []AccountRow
	err := s.db.WithContext(ctx).
		Select("address", "public_key").
		Where("address IN ? AND public_key <> ''", addresses).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: public keys: %w", err)
	}
	for _, r := range rows {
		out[r.Address] = r.PublicKey
	}
	return out, nil
}

func (s *AccountStore) scope(ctx context.Context, q Query) (*gorm.DB, error) {
	tx := s.db.WithContext(ctx).Model(&AccountRow{})
	for field, value := range q.Where {
		col, ok := columns[field]
		if !ok {
			return nil, fmt.Errorf("store: unknown field %q", field)
		}
		tx = tx.Where(col+" = ?", value)
	}
	if q.Between != nil {
		col, ok := columns[q.Between.Prop]
		if !ok {
			return nil, fmt.Errorf("store: unknown field %q", q.Between.Prop)
		}
		tx = tx.Where(col+" BETWEEN ? AND ?", q.Between.From, q.Between.To)
	}
	return tx, nil
}

// Find returns the rows matching q, sorted by "field:direction".
func (s *AccountStore) Find(ctx context.Context, q Query) ([]AccountRow, error) {
	tx, err := s.scope(ctx, q)
	if err != nil {
		return nil, err
	}
	if q.Sort != "" {
		field, dir, _ := strings.Cut(q.Sort, ":")
		col, ok := columns[field]
		if !ok {
			return nil, fmt.Errorf("store: unknown sort field %q", field)
		}
		tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: col}, Desc: dir == "desc"})
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if q.Offset > 0 {
		tx = tx.Offset(q.Offset)
	}
	var rows []AccountRow
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Count returns how many rows match q, ignoring paging.
func (s *AccountStore) Count(ctx context.Context, q Query) (int64, error) {
	tx, err := s.scope(ctx, q)
	if err != nil {
		return 0, err
	}
	var n int64
	err = tx.Count(&n).Error
	return n, err
}
