package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceOracle returns the current price of a token in SOL.
type PriceOracle interface {
	GetPrice(ctx context.Context, tokenAddress string) (decimal.Decimal, error)
}

// ExecuteRequest describes a trade the engine wants executed.
// ReferencePrice is the live market price at trigger time, not the
// order's limit price.
type ExecuteRequest struct {
	UserID         int64           `json:"user_id"`
	Side           OrderSide       `json:"side"`
	TokenAddress   string          `json:"token_address"`
	TokenSymbol    string          `json:"token_symbol"`
	Amount         decimal.Decimal `json:"amount"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
}

// ExecutionResult is the outcome reported by the trade executor.
type ExecutionResult struct {
	Success      bool   `json:"success"`
	TxReference  string `json:"tx_reference,omitempty"`
	ErrorMessage string `json:"error,omitempty"`
}

// TradeExecutor executes a buy/sell through the external swap service.
// A transport-level error and a result with Success=false are treated
// the same way by the engine: the attempt failed.
type TradeExecutor interface {
	Execute(ctx context.Context, req ExecuteRequest) (*ExecutionResult, error)
}

// BalanceProvider reads a user's current balance of a token.
type BalanceProvider interface {
	GetBalance(ctx context.Context, userID int64, tokenAddress string) (decimal.Decimal, error)
}

// WalletResolver maps a user to their wallet address. Custody is
// external; this is the only view of it the engine needs.
type WalletResolver interface {
	WalletAddress(ctx context.Context, userID int64) (string, error)
}

// Notifier delivers a user-facing message.
type Notifier interface {
	Send(ctx context.Context, userID int64, message string) error
}

// TokenRegistry resolves token metadata by mint address.
type TokenRegistry interface {
	GetToken(ctx context.Context, tokenAddress string) (*Token, error)
}

// OrderStore is the durable record of limit orders. All mutating
// operations that depend on the order still being ACTIVE use
// compare-and-swap semantics and return ErrOrderNotActive when the
// order was concurrently cancelled or finalized.
type OrderStore interface {
	Create(ctx context.Context, order *LimitOrder) error
	Get(ctx context.Context, orderID string) (*LimitOrder, error)
	ListActive(ctx context.Context) ([]*LimitOrder, error)
	ListActiveForUser(ctx context.Context, userID int64) ([]*LimitOrder, error)

	// UpdateObservedPrice persists telemetry; failures are non-fatal.
	UpdateObservedPrice(ctx context.Context, orderID string, price decimal.Decimal) error

	// TransitionStatus moves the order from expected to next, storing
	// txReference when non-empty. Fails with ErrOrderNotActive if the
	// order is no longer in the expected status.
	TransitionStatus(ctx context.Context, orderID string, expected, next OrderStatus, txReference string) error

	// IncrementRetry bumps the retry counter of an ACTIVE order and
	// returns the new count.
	IncrementRetry(ctx context.Context, orderID string) (int, error)

	// Cancel is the user-initiated ACTIVE -> CANCELLED transition.
	Cancel(ctx context.Context, orderID string) error
}
