package service

import (
	"context"
	"fmt"
	"strings"

	"limit_go/internal/domain"

	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

// OrderQuote is a validated (price, amount, total) triple ready to be
// turned into an order.
type OrderQuote struct {
	Price  decimal.Decimal // Limit price per token in SOL
	Amount decimal.Decimal // Token quantity
	Total  decimal.Decimal // SOL value at the limit price
}

// IntakeValidator turns raw "<price> <volume>" or "<price> <pct>%" user
// input into a validated order quote, consulting the user's balance
// when the order sells tokens.
type IntakeValidator struct {
	balances domain.BalanceProvider
}

// NewIntakeValidator creates an intake validator.
func NewIntakeValidator(balances domain.BalanceProvider) *IntakeValidator {
	return &IntakeValidator{balances: balances}
}

// ParseAndValidate parses the raw input for an order of the given side.
//
// Two grammars are accepted:
//   - "<price> <volume>": volume is the SOL value of the order;
//     amount = volume / price. Valid for both sides.
//   - "<price> <pct>%": sell orders only; amount is that percentage of
//     the user's current token balance.
//
// Sell orders are additionally checked against the user's balance.
func (v *IntakeValidator) ParseAndValidate(ctx context.Context, raw string, side domain.OrderSide, tokenAddress, tokenSymbol string, userID int64) (*OrderQuote, error) {
	parts := strings.Fields(strings.TrimSpace(raw))
	if len(parts) != 2 {
		return nil, domain.NewValidationError("input",
			"enter price and volume separated by a space (e.g. '0.5 10' or '0.5 50%' for sells)")
	}

	price, err := decimal.NewFromString(parts[0])
	if err != nil {
		return nil, domain.NewValidationError("price", "not a number")
	}
	if !price.IsPositive() {
		return nil, domain.NewValidationError("price", "must be greater than zero")
	}

	if strings.HasSuffix(parts[1], "%") {
		return v.quoteFromPercentage(ctx, price, strings.TrimSuffix(parts[1], "%"), side, tokenAddress, tokenSymbol, userID)
	}
	return v.quoteFromVolume(ctx, price, parts[1], side, tokenAddress, tokenSymbol, userID)
}

// quoteFromVolume handles the "<price> <volume>" form where volume is
// the order's SOL value.
func (v *IntakeValidator) quoteFromVolume(ctx context.Context, price decimal.Decimal, volumeText string, side domain.OrderSide, tokenAddress, tokenSymbol string, userID int64) (*OrderQuote, error) {
	volume, err := decimal.NewFromString(volumeText)
	if err != nil {
		return nil, domain.NewValidationError("volume", "not a number")
	}
	if !volume.IsPositive() {
		return nil, domain.NewValidationError("volume", "must be greater than zero")
	}

	amount := volume.Div(price)

	if side == domain.SideSell {
		if err := v.checkSellBalance(ctx, amount, tokenAddress, tokenSymbol, userID); err != nil {
			return nil, err
		}
	}

	return &OrderQuote{Price: price, Amount: amount, Total: volume}, nil
}

// quoteFromPercentage handles the sell-only "<price> <pct>%" form where
// the amount is a fraction of the user's current holdings.
func (v *IntakeValidator) quoteFromPercentage(ctx context.Context, price decimal.Decimal, pctText string, side domain.OrderSide, tokenAddress, tokenSymbol string, userID int64) (*OrderQuote, error) {
	if side != domain.SideSell {
		return nil, domain.NewValidationError("volume", "percentage amounts are only supported for sell orders")
	}

	pct, err := decimal.NewFromString(pctText)
	if err != nil {
		return nil, domain.NewValidationError("percentage", "not a number")
	}
	if !pct.IsPositive() {
		return nil, domain.NewValidationError("percentage", "must be greater than zero")
	}
	if pct.GreaterThan(oneHundred) {
		return nil, domain.NewValidationError("percentage", "cannot exceed 100")
	}

	balance, err := v.balances.GetBalance(ctx, userID, tokenAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to read token balance: %w", err)
	}
	if !balance.IsPositive() {
		return nil, &domain.InsufficientBalanceError{
			TokenSymbol: tokenSymbol,
			Required:    decimal.Zero,
			Available:   decimal.Zero,
		}
	}

	amount := balance.Mul(pct).Div(oneHundred)
	total := amount.Mul(price)

	return &OrderQuote{Price: price, Amount: amount, Total: total}, nil
}

// checkSellBalance verifies the user holds at least amount of the token.
func (v *IntakeValidator) checkSellBalance(ctx context.Context, amount decimal.Decimal, tokenAddress, tokenSymbol string, userID int64) error {
	balance, err := v.balances.GetBalance(ctx, userID, tokenAddress)
	if err != nil {
		return fmt.Errorf("failed to read token balance: %w", err)
	}
	if balance.LessThan(amount) {
		return &domain.InsufficientBalanceError{
			TokenSymbol: tokenSymbol,
			Required:    amount,
			Available:   balance,
		}
	}
	return nil
}

// PercentageOfBalance returns what fraction of the user's holdings the
// given amount represents, for confirmation text. Returns nil when the
// balance is zero or cannot be read; the value is informational only.
func (v *IntakeValidator) PercentageOfBalance(ctx context.Context, amount decimal.Decimal, tokenAddress string, userID int64) *decimal.Decimal {
	balance, err := v.balances.GetBalance(ctx, userID, tokenAddress)
	if err != nil || !balance.IsPositive() {
		return nil
	}
	pct := amount.Div(balance).Mul(oneHundred)
	return &pct
}
