// Package service exposes the order operations the chat layer calls:
// create with validation, cancel, list. The execution lifecycle itself
// is owned by the engine.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"limit_go/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IconFetcher caches token logos locally for display.
type IconFetcher interface {
	FetchIcon(token *domain.Token) (string, error)
}

// OrderService is the intake-facing API around the order store.
type OrderService struct {
	store  domain.OrderStore
	intake *IntakeValidator
	tokens domain.TokenRegistry
	oracle domain.PriceOracle
	icons  IconFetcher // optional
}

// NewOrderService creates an OrderService. icons may be nil when no
// icon cache is configured.
func NewOrderService(store domain.OrderStore, intake *IntakeValidator, tokens domain.TokenRegistry, oracle domain.PriceOracle, icons IconFetcher) *OrderService {
	return &OrderService{
		store:  store,
		intake: intake,
		tokens: tokens,
		oracle: oracle,
		icons:  icons,
	}
}

// CreateOrder validates the raw price/volume text and persists a new
// ACTIVE order. The token symbol is resolved once and cached on the
// order for display.
func (s *OrderService) CreateOrder(ctx context.Context, userID int64, side domain.OrderSide, tokenAddress, rawText string) (*domain.LimitOrder, error) {
	token, err := s.tokens.GetToken(ctx, tokenAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token: %w", err)
	}

	// Warm the logo cache in the background so the confirmation message
	// can render it; never blocks or fails order creation.
	if s.icons != nil && token.LogoURI != "" {
		go func() {
			if _, err := s.icons.FetchIcon(token); err != nil {
				slog.Debug("Icon prefetch failed",
					slog.String("token", token.Symbol),
					slog.Any("error", err))
			}
		}()
	}

	quote, err := s.intake.ParseAndValidate(ctx, rawText, side, tokenAddress, token.Symbol, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	order := &domain.LimitOrder{
		ID:           "ord-" + uuid.NewString(),
		UserID:       userID,
		TokenAddress: tokenAddress,
		TokenSymbol:  token.Symbol,
		Side:         side,
		LimitPrice:   quote.Price,
		Amount:       quote.Amount,
		TotalValue:   quote.Total,
		Status:       domain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Best effort: record the market price at creation for display
	if current, err := s.oracle.GetPrice(ctx, tokenAddress); err == nil {
		order.LastObservedPrice = decimal.NewNullDecimal(current)
	}

	if err := s.store.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create limit order: %w", err)
	}

	slog.Info("Limit order created",
		slog.String("order_id", order.ID),
		slog.Int64("user_id", userID),
		slog.String("side", string(side)),
		slog.String("token", token.Symbol),
		slog.String("limit_price", quote.Price.String()),
		slog.String("amount", quote.Amount.String()))

	return order, nil
}

// CancelOrder cancels the user's own active order. Returns false
// without error when the order already reached a terminal state.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string, userID int64) (bool, error) {
	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return false, err
	}
	if order.UserID != userID {
		return false, domain.ErrNotOrderOwner
	}

	err = s.store.Cancel(ctx, orderID)
	if errors.Is(err, domain.ErrOrderNotActive) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	slog.Info("Limit order cancelled",
		slog.String("order_id", orderID),
		slog.Int64("user_id", userID))
	return true, nil
}

// ListOrders returns the user's active orders.
func (s *OrderService) ListOrders(ctx context.Context, userID int64) ([]*domain.LimitOrder, error) {
	return s.store.ListActiveForUser(ctx, userID)
}

// PercentageOfBalance forwards the informational helper for
// confirmation messages.
func (s *OrderService) PercentageOfBalance(ctx context.Context, amount decimal.Decimal, tokenAddress string, userID int64) *decimal.Decimal {
	return s.intake.PercentageOfBalance(ctx, amount, tokenAddress, userID)
}
