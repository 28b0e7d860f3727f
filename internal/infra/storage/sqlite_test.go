package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"limit_go/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *Storage {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	s, err := NewStorageWithDB(db)
	if err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	return s
}

func newTestOrder(id string, userID int64, side domain.OrderSide) *domain.LimitOrder {
	return &domain.LimitOrder{
		ID:           id,
		UserID:       userID,
		TokenAddress: "So11111111111111111111111111111111111111112",
		TokenSymbol:  "WSOL",
		Side:         side,
		LimitPrice:   decimal.NewFromFloat(0.5),
		Amount:       decimal.NewFromInt(20),
		TotalValue:   decimal.NewFromInt(10),
		Status:       domain.StatusActive,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
}

func TestCreateAndGet(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	order := newTestOrder("ord-1", 100, domain.SideBuy)
	if err := s.Create(ctx, order); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	fetched, err := s.Get(ctx, "ord-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.Side != domain.SideBuy {
		t.Errorf("expected side BUY, got %s", fetched.Side)
	}
	if !fetched.LimitPrice.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("expected limit price 0.5, got %v", fetched.LimitPrice)
	}
	if fetched.Status != domain.StatusActive {
		t.Errorf("expected ACTIVE, got %s", fetched.Status)
	}
}

func TestGetMissing(t *testing.T) {
	s := setupTestDB(t)

	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestListActive(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	s.Create(ctx, newTestOrder("ord-1", 100, domain.SideBuy))
	s.Create(ctx, newTestOrder("ord-2", 200, domain.SideSell))

	filled := newTestOrder("ord-3", 100, domain.SideBuy)
	filled.Status = domain.StatusFilled
	s.Create(ctx, filled)

	active, err := s.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("expected 2 active orders, got %d", len(active))
	}

	mine, err := s.ListActiveForUser(ctx, 100)
	if err != nil {
		t.Fatalf("ListActiveForUser failed: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != "ord-1" {
		t.Errorf("expected only ord-1 for user 100, got %v", mine)
	}
}

func TestUpdateObservedPrice(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	s.Create(ctx, newTestOrder("ord-1", 100, domain.SideBuy))

	price := decimal.NewFromFloat(0.42)
	if err := s.UpdateObservedPrice(ctx, "ord-1", price); err != nil {
		t.Fatalf("UpdateObservedPrice failed: %v", err)
	}

	fetched, _ := s.Get(ctx, "ord-1")
	if !fetched.LastObservedPrice.Valid {
		t.Fatal("observed price should be set")
	}
	if !fetched.LastObservedPrice.Decimal.Equal(price) {
		t.Errorf("expected 0.42, got %v", fetched.LastObservedPrice.Decimal)
	}
}

func TestTransitionStatus_CAS(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	s.Create(ctx, newTestOrder("ord-1", 100, domain.SideBuy))

	// Active -> Filled succeeds and stores the tx reference
	err := s.TransitionStatus(ctx, "ord-1", domain.StatusActive, domain.StatusFilled, "sig123")
	if err != nil {
		t.Fatalf("TransitionStatus failed: %v", err)
	}

	fetched, _ := s.Get(ctx, "ord-1")
	if fetched.Status != domain.StatusFilled {
		t.Errorf("expected FILLED, got %s", fetched.Status)
	}
	if fetched.TxReference != "sig123" {
		t.Errorf("expected tx reference sig123, got %q", fetched.TxReference)
	}

	// A second transition must miss: the order is terminal
	err = s.TransitionStatus(ctx, "ord-1", domain.StatusActive, domain.StatusFailed, "")
	if !errors.Is(err, domain.ErrOrderNotActive) {
		t.Errorf("expected ErrOrderNotActive, got %v", err)
	}

	// A missing order is reported as such, not as a CAS miss
	err = s.TransitionStatus(ctx, "ord-404", domain.StatusActive, domain.StatusFilled, "")
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestIncrementRetry(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	s.Create(ctx, newTestOrder("ord-1", 100, domain.SideBuy))

	n, err := s.IncrementRetry(ctx, "ord-1")
	if err != nil {
		t.Fatalf("IncrementRetry failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected retry count 1, got %d", n)
	}

	n, _ = s.IncrementRetry(ctx, "ord-1")
	if n != 2 {
		t.Errorf("expected retry count 2, got %d", n)
	}

	// Cancelled orders must not accumulate retries
	if err := s.Cancel(ctx, "ord-1"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	_, err = s.IncrementRetry(ctx, "ord-1")
	if !errors.Is(err, domain.ErrOrderNotActive) {
		t.Errorf("expected ErrOrderNotActive after cancel, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	s.Create(ctx, newTestOrder("ord-1", 100, domain.SideBuy))

	if err := s.Cancel(ctx, "ord-1"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	fetched, _ := s.Get(ctx, "ord-1")
	if fetched.Status != domain.StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", fetched.Status)
	}

	// Cancelling twice is a CAS miss
	if err := s.Cancel(ctx, "ord-1"); !errors.Is(err, domain.ErrOrderNotActive) {
		t.Errorf("expected ErrOrderNotActive, got %v", err)
	}
}
