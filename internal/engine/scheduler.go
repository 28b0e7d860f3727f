// Package engine drives the limit order lifecycle: a single background
// loop re-prices active orders every tick, executes the triggered ones
// at the live market price, and applies the bounded retry policy.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"limit_go/internal/domain"
	"limit_go/internal/infra"

	"github.com/shopspring/decimal"
)

const (
	defaultTickInterval    = 30 * time.Second
	defaultInstrumentDelay = 200 * time.Millisecond
)

// Scheduler is the sole driver of order status transitions besides the
// external cancel path. Instruments are processed sequentially within a
// cycle to keep pressure off the upstream price and swap APIs.
type Scheduler struct {
	store    domain.OrderStore
	oracle   domain.PriceOracle
	executor domain.TradeExecutor
	notifier domain.Notifier
	metrics  *infra.Metrics

	tickInterval    time.Duration
	instrumentDelay time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickInterval overrides the cycle interval.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// WithInstrumentDelay overrides the pause between instruments.
func WithInstrumentDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.instrumentDelay = d
		}
	}
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *infra.Metrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(store domain.OrderStore, oracle domain.PriceOracle, executor domain.TradeExecutor, notifier domain.Notifier, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:           store,
		oracle:          oracle,
		executor:        executor,
		notifier:        notifier,
		metrics:         infra.GlobalMetrics,
		tickInterval:    defaultTickInterval,
		instrumentDelay: defaultInstrumentDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background loop. It is idempotent: starting a
// running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		slog.Warn("Limit order scheduler is already running")
		return nil
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go s.runLoop(ctx)

	slog.Info("Limit order scheduler started", slog.Duration("interval", s.tickInterval))
	return nil
}

// Stop signals the loop to exit after the in-flight cycle step and
// waits for it. Safe to call on a stopped scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	slog.Info("Limit order scheduler stopped")
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) runLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	lastRun := time.Now()
	s.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			slog.Debug("Running limit order check", slog.Duration("since_last_run", time.Since(lastRun)))
			s.RunCycle(ctx)
			lastRun = time.Now()
		}
	}
}

// RunCycle performs one full pass over all active orders. Exported so
// tests and operational tooling can drive cycles directly.
func (s *Scheduler) RunCycle(ctx context.Context) {
	defer s.metrics.RecordCycle()

	orders, err := s.store.ListActive(ctx)
	if err != nil {
		slog.Error("Failed to load active orders", slog.Any("error", err))
		return
	}
	s.metrics.SetActiveOrders(int64(len(orders)))
	if len(orders) == 0 {
		slog.Debug("No active limit orders found")
		return
	}

	slog.Info("Processing active limit orders", slog.Int("count", len(orders)))
	s.metrics.RecordOrdersEvaluated(len(orders))

	// One price lookup per distinct token
	byToken := make(map[string][]*domain.LimitOrder)
	for _, order := range orders {
		byToken[order.TokenAddress] = append(byToken[order.TokenAddress], order)
	}

	tokens := make([]string, 0, len(byToken))
	for token := range byToken {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	for i, token := range tokens {
		if i > 0 {
			// Small delay between tokens to avoid upstream rate limits
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.instrumentDelay):
			}
		}
		s.processInstrument(ctx, token, byToken[token])
	}
}

// processInstrument prices one token and evaluates all of its orders.
// A failed price lookup defers the whole instrument to the next cycle.
func (s *Scheduler) processInstrument(ctx context.Context, tokenAddress string, orders []*domain.LimitOrder) {
	current, err := s.oracle.GetPrice(ctx, tokenAddress)
	if err != nil {
		s.metrics.RecordPriceError()
		slog.Warn("Price lookup failed, skipping token for this cycle",
			slog.String("token", tokenAddress),
			slog.Any("error", err))
		return
	}

	symbol := orders[0].TokenSymbol
	slog.Debug("Current price", slog.String("token", symbol), slog.String("price", current.String()))

	// Best-effort telemetry; a write failure never blocks evaluation
	for _, order := range orders {
		if err := s.store.UpdateObservedPrice(ctx, order.ID, current); err != nil {
			slog.Warn("Failed to update observed price",
				slog.String("order_id", order.ID),
				slog.Any("error", err))
		}
	}

	for _, order := range orders {
		if !order.TriggerMet(current) {
			continue
		}

		// Re-read right before acting: the order may have been
		// cancelled since the cycle loaded it.
		fresh, err := s.store.Get(ctx, order.ID)
		if err != nil {
			slog.Error("Failed to re-read triggered order",
				slog.String("order_id", order.ID),
				slog.Any("error", err))
			continue
		}
		if fresh.Status != domain.StatusActive {
			slog.Debug("Skipping order no longer active",
				slog.String("order_id", fresh.ID),
				slog.String("status", string(fresh.Status)))
			continue
		}

		s.executeOrder(ctx, fresh, current)
	}
}

// executeOrder runs one execution attempt at the live market price and
// applies the fill/retry/fail transition.
func (s *Scheduler) executeOrder(ctx context.Context, order *domain.LimitOrder, current decimal.Decimal) {
	slog.Info("Executing limit order",
		slog.String("order_id", order.ID),
		slog.String("side", string(order.Side)),
		slog.String("token", order.TokenSymbol),
		slog.String("amount", order.Amount.String()),
		slog.String("limit_price", order.LimitPrice.String()),
		slog.String("market_price", current.String()))

	result, err := s.executor.Execute(ctx, domain.ExecuteRequest{
		UserID:         order.UserID,
		Side:           order.Side,
		TokenAddress:   order.TokenAddress,
		TokenSymbol:    order.TokenSymbol,
		Amount:         order.Amount,
		ReferencePrice: current,
	})
	if err != nil {
		s.handleFailure(ctx, order, current, err.Error())
		return
	}
	if !result.Success {
		reason := result.ErrorMessage
		if reason == "" {
			reason = "unknown error"
		}
		s.handleFailure(ctx, order, current, reason)
		return
	}

	if err := s.store.TransitionStatus(ctx, order.ID, domain.StatusActive, domain.StatusFilled, result.TxReference); err != nil {
		if errors.Is(err, domain.ErrOrderNotActive) {
			slog.Warn("Order executed but no longer active at record time",
				slog.String("order_id", order.ID),
				slog.String("tx", result.TxReference))
			return
		}
		// The trade went through but the fill is unrecorded: the next
		// cycle may attempt it again. Surface loudly for the operator.
		slog.Error("Trade executed but fill not recorded, duplicate execution possible",
			slog.String("order_id", order.ID),
			slog.String("tx", result.TxReference),
			slog.Any("error", err))
		return
	}

	s.metrics.RecordOrderFilled()
	s.notify(ctx, order.UserID, fillMessage(order, current, result.TxReference))
}

// handleFailure applies the retry policy: below MaxRetries the order
// stays ACTIVE and is picked up again next cycle; at the cap it goes
// FAILED for good.
func (s *Scheduler) handleFailure(ctx context.Context, order *domain.LimitOrder, current decimal.Decimal, reason string) {
	slog.Warn("Limit order execution failed",
		slog.String("order_id", order.ID),
		slog.Int("retry_count", order.RetryCount),
		slog.String("reason", reason))

	if order.RetryCount >= domain.MaxRetries {
		if err := s.store.TransitionStatus(ctx, order.ID, domain.StatusActive, domain.StatusFailed, ""); err != nil {
			if errors.Is(err, domain.ErrOrderNotActive) {
				return
			}
			slog.Error("Failed to mark order as failed",
				slog.String("order_id", order.ID),
				slog.Any("error", err))
			return
		}
		s.metrics.RecordOrderFailed()
		s.notify(ctx, order.UserID, permanentFailureMessage(order, current, reason))
		return
	}

	newCount, err := s.store.IncrementRetry(ctx, order.ID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotActive) {
			return
		}
		// Leave the order untouched; next cycle retries as if this
		// attempt never happened.
		slog.Error("Failed to increment retry count",
			slog.String("order_id", order.ID),
			slog.Any("error", err))
		return
	}

	s.metrics.RecordRetry()
	s.notify(ctx, order.UserID, retryMessage(order, newCount, reason))
}

func (s *Scheduler) notify(ctx context.Context, userID int64, message string) {
	if err := s.notifier.Send(ctx, userID, message); err != nil {
		s.metrics.RecordNotifyError()
		slog.Warn("Failed to notify user",
			slog.Int64("user_id", userID),
			slog.Any("error", err))
	}
}

func fillMessage(order *domain.LimitOrder, current decimal.Decimal, txReference string) string {
	return fmt.Sprintf(
		"✅ <b>Limit Order Executed</b>\n\n"+
			"Your limit %s order has been filled:\n"+
			"• %s %s at %s SOL\n"+
			"• Market price: %s SOL\n"+
			"• Total: %s SOL\n"+
			"• Transaction: <a href=\"https://explorer.solana.com/tx/%s\">View on Explorer</a>",
		order.Side,
		order.Amount.String(), order.TokenSymbol, order.LimitPrice.String(),
		current.String(),
		order.Amount.Mul(current).String(),
		txReference)
}

func retryMessage(order *domain.LimitOrder, attempt int, reason string) string {
	return fmt.Sprintf(
		"⚠️ <b>Limit Order Retry</b>\n\n"+
			"Attempt %d of %d for your limit %s order on %s failed:\n"+
			"• %s\n\n"+
			"The order stays active and will be retried automatically.",
		attempt, domain.MaxRetries+1,
		order.Side, order.TokenSymbol,
		reason)
}

func permanentFailureMessage(order *domain.LimitOrder, current decimal.Decimal, reason string) string {
	return fmt.Sprintf(
		"❌ <b>Limit Order Failed</b>\n\n"+
			"Your limit %s order could not be executed:\n"+
			"• %s %s at %s SOL\n"+
			"• Market price: %s SOL\n"+
			"• Error: %s\n\n"+
			"The order has been marked as failed. Please check your wallet and place it again.",
		order.Side,
		order.Amount.String(), order.TokenSymbol, order.LimitPrice.String(),
		current.String(),
		reason)
}
