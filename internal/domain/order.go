package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of a limit order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderStatus is the lifecycle state of a limit order.
// ACTIVE may move to any of the other three; FILLED, CANCELLED and
// FAILED are terminal and never mutated again.
type OrderStatus string

const (
	StatusActive    OrderStatus = "ACTIVE"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusFailed    OrderStatus = "FAILED"
)

// MaxRetries is how many times a failed execution is retried before the
// order is marked FAILED. 2 retries = 3 total attempts.
const MaxRetries = 2

// LimitOrder represents a price-triggered buy/sell order on an SPL token.
// Identity, owner, instrument and economics are immutable after creation;
// only the observed price, retry bookkeeping, tx reference and status change.
type LimitOrder struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	UserID       int64     `gorm:"index" json:"user_id"` // Telegram ID, doubles as the notification target
	TokenAddress string    `gorm:"index" json:"token_address"`
	TokenSymbol  string    `json:"token_symbol"` // Cached at creation for display
	Side         OrderSide `json:"side"`

	LimitPrice decimal.Decimal `gorm:"type:decimal(38,18)" json:"limit_price"` // Price per token in SOL
	Amount     decimal.Decimal `gorm:"type:decimal(38,18)" json:"amount"`      // Token quantity
	TotalValue decimal.Decimal `gorm:"type:decimal(38,18)" json:"total_value"` // amount * limit_price at creation, display only

	LastObservedPrice decimal.NullDecimal `gorm:"type:decimal(38,18)" json:"last_observed_price"`
	TxReference       string              `json:"tx_reference,omitempty"` // Set only on fill
	RetryCount        int                 `json:"retry_count"`

	Status    OrderStatus `gorm:"index" json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// IsTerminal reports whether the order has reached a final state.
func (o *LimitOrder) IsTerminal() bool {
	return o.Status == StatusFilled || o.Status == StatusCancelled || o.Status == StatusFailed
}

// TriggerMet reports whether the current market price satisfies the
// order's trigger: Buy fires at or below the limit price, Sell at or
// above it.
func (o *LimitOrder) TriggerMet(current decimal.Decimal) bool {
	switch o.Side {
	case SideBuy:
		return current.LessThanOrEqual(o.LimitPrice)
	case SideSell:
		return current.GreaterThanOrEqual(o.LimitPrice)
	default:
		return false
	}
}

// Token is instrument metadata resolved from the token registry.
type Token struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
	LogoURI  string `json:"logoURI"`
}
