// Package journal is the durable write-ahead record of trade intents.
// Rows only ever move forward through the state machine and are never
// deleted; after a crash it is the single source of truth for recovery.
package journal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tradeguard/internal/domain"
)

// Store is a SQLite-backed TradeJournal.
type Store struct {
	db *gorm.DB
}

// NewStore opens (or creates) the journal database at path.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	// Pure Go SQLite
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	if err := db.AutoMigrate(&domain.TradeIntent{}); err != nil {
		return nil, fmt.Errorf("failed to migrate journal database: %w", err)
	}

	// SQLite allows a single writer. One connection serializes the symbol
	// coordinators at the driver level instead of surfacing SQLITE_BUSY.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return &Store{db: db}, nil
}

// Append persists a freshly created intent. Only Pending intents may enter
// the journal; everything after that goes through Update.
func (s *Store) Append(ctx context.Context, intent *domain.TradeIntent) error {
	if intent.State != domain.StatePending {
		return fmt.Errorf("append requires a PENDING intent, got %s", intent.State)
	}
	return s.db.WithContext(ctx).Create(intent).Error
}

// Update moves an intent to a new state, applying optional fields. The
// transition must be a legal forward step and refs are write-once. The
// read-check-write runs in a transaction so concurrent updates to distinct
// intents never interleave within a record.
func (s *Store) Update(ctx context.Context, id string, state domain.State, fields domain.IntentUpdate) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var intent domain.TradeIntent
		if err := tx.First(&intent, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", domain.ErrIntentNotFound, id)
			}
			return err
		}

		if !domain.CanTransition(intent.State, state) {
			return fmt.Errorf("%w: %s -> %s (id=%s)", domain.ErrStateRegression, intent.State, state, id)
		}

		if fields.OrderRef != "" {
			if intent.OrderRef != "" && intent.OrderRef != fields.OrderRef {
				return fmt.Errorf("%w: orderRef (id=%s)", domain.ErrRefImmutable, id)
			}
			intent.OrderRef = fields.OrderRef
		}
		if fields.LedgerRef != "" {
			if intent.LedgerRef != "" && intent.LedgerRef != fields.LedgerRef {
				return fmt.Errorf("%w: ledgerRef (id=%s)", domain.ErrRefImmutable, id)
			}
			intent.LedgerRef = fields.LedgerRef
		}
		if fields.FailureReason != "" {
			intent.FailureReason = fields.FailureReason
		}

		intent.State = state
		return tx.Save(&intent).Error
	})
}

// Get retrieves an intent by id. A miss returns ErrIntentNotFound.
func (s *Store) Get(ctx context.Context, id string) (*domain.TradeIntent, error) {
	var intent domain.TradeIntent
	err := s.db.WithContext(ctx).First(&intent, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrIntentNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// ListNonTerminal returns every intent the reconciler needs to look at,
// oldest first.
func (s *Store) ListNonTerminal(ctx context.Context) ([]domain.TradeIntent, error) {
	var intents []domain.TradeIntent
	err := s.db.WithContext(ctx).
		Where("state IN ?", domain.NonTerminalStates()).
		Order("created_at ASC").
		Find(&intents).Error
	return intents, err
}

// IncrementReconcilePasses bumps the pass counter and returns the new
// value.
func (s *Store) IncrementReconcilePasses(ctx context.Context, id string) (int, error) {
	var passes int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var intent domain.TradeIntent
		if err := tx.First(&intent, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", domain.ErrIntentNotFound, id)
			}
			return err
		}
		intent.ReconcilePasses++
		passes = intent.ReconcilePasses
		return tx.Save(&intent).Error
	})
	return passes, err
}
