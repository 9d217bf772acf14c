package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/tallyapp/tally/internal/schema"
)

// Store persists transactions and their monthly aggregates.
type Store struct {
	db *gorm.DB
}

// OpenStore opens (creating if needed) the SQLite database at path and
// migrates the schema.
func OpenStore(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&Transaction{}, &MonthlySummary{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Create stores p for userID. When key is non-empty and a transaction with
// the same key already exists for the user, its ID is returned with
// created=false and nothing is written.
func (s *Store) Create(ctx context.Context, userID, key string, p schema.Payload) (id string, created bool, err error) {
	id, err = newTransactionID()
	if err != nil {
		return "", false, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if key != "" {
			existing, err := findByKey(tx, userID, key)
			if err != nil {
				return err
			}
			if existing != "" {
				id = existing
				return nil
			}
		}

		row := newTransaction(id, userID, key, p)
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("failed to save transaction: %w", err)
		}
		created = true
		return addToSummary(tx, row)
	})
	if err != nil {
		// A concurrent insert with the same key wins the unique index.
		if key != "" {
			if existing, ferr := findByKey(s.db.WithContext(ctx), userID, key); ferr == nil && existing != "" {
				return existing, false, nil
			}
		}
		return "", false, err
	}
	return id, created, nil
}

func findByKey(tx *gorm.DB, userID, key string) (string, error) {
	var row Transaction
	err := tx.Select("id").Where("user_id = ? AND idempotency_key = ?", userID, key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	return row.ID, nil
}

func addToSummary(tx *gorm.DB, row *Transaction) error {
	summary := MonthlySummary{
		UserID: row.UserID,
		Month:  row.OccurredAt.UTC().Format(MonthLayout),
		Count:  1,
	}
	if row.Type == string(schema.KindIncome) {
		summary.IncomeCents = row.AmountCents
	} else {
		summary.ExpenseCents = row.AmountCents
	}

	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "month"}},
		DoUpdates: clause.Assignments(map[string]any{
			"income_cents":  gorm.Expr("income_cents + ?", summary.IncomeCents),
			"expense_cents": gorm.Expr("expense_cents + ?", summary.ExpenseCents),
			"count":         gorm.Expr("count + 1"),
			"updated_at":    time.Now().UTC(),
		}),
	}).Create(&summary).Error
	if err != nil {
		return fmt.Errorf("failed to update monthly summary: %w", err)
	}
	return nil
}

// List returns the user's most recent transactions, newest first.
func (s *Store) List(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []Transaction
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("occurred_at DESC").
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return rows, nil
}

// Overview returns the user's summary for month (YYYY-MM). A month without
// transactions yields a zero summary.
func (s *Store) Overview(ctx context.Context, userID, month string) (*MonthlySummary, error) {
	summary := MonthlySummary{UserID: userID, Month: month}
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND month = ?", userID, month).
		Take(&summary).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to read overview: %w", err)
	}
	return &summary, nil
}

func newTransactionID() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return "txn_" + hex.EncodeToString(buf), nil
}
