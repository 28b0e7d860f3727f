package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"limit_go/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage is the SQLite-backed order store (pure Go driver).
type Storage struct {
	db *gorm.DB
}

// NewStorage creates a new SQLite storage instance at the given path.
func NewStorage(dbPath string) (*Storage, error) {
	// Ensure directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&domain.LimitOrder{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// NewStorageWithDB wraps an existing gorm handle. Used by tests.
func NewStorageWithDB(db *gorm.DB) (*Storage, error) {
	if err := db.AutoMigrate(&domain.LimitOrder{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Storage{db: db}, nil
}

// Create persists a new limit order.
func (s *Storage) Create(ctx context.Context, order *domain.LimitOrder) error {
	return s.db.WithContext(ctx).Create(order).Error
}

// Get retrieves an order by ID.
func (s *Storage) Get(ctx context.Context, orderID string) (*domain.LimitOrder, error) {
	var order domain.LimitOrder
	err := s.db.WithContext(ctx).First(&order, "id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListActive returns all orders still in the ACTIVE state.
func (s *Storage) ListActive(ctx context.Context) ([]*domain.LimitOrder, error) {
	var orders []*domain.LimitOrder
	err := s.db.WithContext(ctx).
		Where("status = ?", domain.StatusActive).
		Order("created_at asc").
		Find(&orders).Error
	return orders, err
}

// ListActiveForUser returns a user's active orders.
func (s *Storage) ListActiveForUser(ctx context.Context, userID int64) ([]*domain.LimitOrder, error) {
	var orders []*domain.LimitOrder
	err := s.db.WithContext(ctx).
		Where("status = ? AND user_id = ?", domain.StatusActive, userID).
		Order("created_at asc").
		Find(&orders).Error
	return orders, err
}

// UpdateObservedPrice stores the latest observed market price.
func (s *Storage) UpdateObservedPrice(ctx context.Context, orderID string, price decimal.Decimal) error {
	res := s.db.WithContext(ctx).
		Model(&domain.LimitOrder{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"last_observed_price": price,
			"updated_at":          time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// TransitionStatus moves an order between states with a CAS guard on
// the expected current status.
func (s *Storage) TransitionStatus(ctx context.Context, orderID string, expected, next domain.OrderStatus, txReference string) error {
	updates := map[string]interface{}{
		"status":     next,
		"updated_at": time.Now(),
	}
	if txReference != "" {
		updates["tx_reference"] = txReference
	}

	res := s.db.WithContext(ctx).
		Model(&domain.LimitOrder{}).
		Where("id = ? AND status = ?", orderID, expected).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.missReason(ctx, orderID)
	}
	return nil
}

// IncrementRetry bumps retry_count of an ACTIVE order and returns the
// new count.
func (s *Storage) IncrementRetry(ctx context.Context, orderID string) (int, error) {
	res := s.db.WithContext(ctx).
		Model(&domain.LimitOrder{}).
		Where("id = ? AND status = ?", orderID, domain.StatusActive).
		Updates(map[string]interface{}{
			"retry_count": gorm.Expr("retry_count + 1"),
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, s.missReason(ctx, orderID)
	}

	order, err := s.Get(ctx, orderID)
	if err != nil {
		return 0, err
	}
	return order.RetryCount, nil
}

// Cancel is the user-initiated ACTIVE -> CANCELLED transition.
func (s *Storage) Cancel(ctx context.Context, orderID string) error {
	return s.TransitionStatus(ctx, orderID, domain.StatusActive, domain.StatusCancelled, "")
}

// missReason distinguishes a missing order from a CAS miss.
func (s *Storage) missReason(ctx context.Context, orderID string) error {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&domain.LimitOrder{}).
		Where("id = ?", orderID).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrOrderNotFound
	}
	return domain.ErrOrderNotActive
}
