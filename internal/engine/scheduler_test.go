package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"limit_go/internal/domain"
	"limit_go/internal/infra"

	"github.com/shopspring/decimal"
)

const (
	bonkMint = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	wifMint  = "EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm"
)

type stubStore struct {
	mu     sync.Mutex
	orders map[string]*domain.LimitOrder
}

func newStubStore(orders ...*domain.LimitOrder) *stubStore {
	s := &stubStore{orders: make(map[string]*domain.LimitOrder)}
	for _, order := range orders {
		cp := *order
		s.orders[order.ID] = &cp
	}
	return s
}

func (s *stubStore) get(orderID string) *domain.LimitOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.orders[orderID]
	return &cp
}

func (s *stubStore) Create(ctx context.Context, order *domain.LimitOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *order
	s.orders[order.ID] = &cp
	return nil
}

func (s *stubStore) Get(ctx context.Context, orderID string) (*domain.LimitOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *order
	return &cp, nil
}

func (s *stubStore) ListActive(ctx context.Context) ([]*domain.LimitOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.LimitOrder
	for _, order := range s.orders {
		if order.Status == domain.StatusActive {
			cp := *order
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *stubStore) ListActiveForUser(ctx context.Context, userID int64) ([]*domain.LimitOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.LimitOrder
	for _, order := range s.orders {
		if order.Status == domain.StatusActive && order.UserID == userID {
			cp := *order
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *stubStore) UpdateObservedPrice(ctx context.Context, orderID string, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.LastObservedPrice = decimal.NewNullDecimal(price)
	return nil
}

func (s *stubStore) TransitionStatus(ctx context.Context, orderID string, expected, next domain.OrderStatus, txReference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if order.Status != expected {
		return domain.ErrOrderNotActive
	}
	order.Status = next
	if txReference != "" {
		order.TxReference = txReference
	}
	return nil
}

func (s *stubStore) IncrementRetry(ctx context.Context, orderID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return 0, domain.ErrOrderNotFound
	}
	if order.Status != domain.StatusActive {
		return 0, domain.ErrOrderNotActive
	}
	order.RetryCount++
	return order.RetryCount, nil
}

func (s *stubStore) Cancel(ctx context.Context, orderID string) error {
	return s.TransitionStatus(ctx, orderID, domain.StatusActive, domain.StatusCancelled, "")
}

// stubOracle returns a fixed price per token and an error for tokens it
// does not know.
type stubOracle struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	calls  int
}

func (o *stubOracle) GetPrice(ctx context.Context, tokenAddress string) (decimal.Decimal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	price, ok := o.prices[tokenAddress]
	if !ok {
		return decimal.Zero, domain.ErrPriceUnavailable
	}
	return price, nil
}

func (o *stubOracle) setPrice(tokenAddress string, price decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[tokenAddress] = price
}

// stubExecutor records every request and replays scripted results.
type stubExecutor struct {
	mu       sync.Mutex
	requests []domain.ExecuteRequest
	result   domain.ExecutionResult
	err      error

	// beforeExecute runs inside Execute before the result is returned,
	// letting tests race against the scheduler deterministically.
	beforeExecute func()
}

func (e *stubExecutor) Execute(ctx context.Context, req domain.ExecuteRequest) (*domain.ExecutionResult, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	before := e.beforeExecute
	result := e.result
	err := e.err
	e.mu.Unlock()

	if before != nil {
		before()
	}
	if err != nil {
		return nil, err
	}
	cp := result
	return &cp, nil
}

func (e *stubExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.requests)
}

type stubNotifier struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (n *stubNotifier) Send(ctx context.Context, userID int64, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.messages = append(n.messages, message)
	return nil
}

func (n *stubNotifier) lastMessage() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.messages) == 0 {
		return ""
	}
	return n.messages[len(n.messages)-1]
}

func buyOrder(id string, limit float64) *domain.LimitOrder {
	return &domain.LimitOrder{
		ID:           id,
		UserID:       42,
		TokenAddress: bonkMint,
		TokenSymbol:  "BONK",
		Side:         domain.SideBuy,
		LimitPrice:   decimal.NewFromFloat(limit),
		Amount:       decimal.NewFromInt(20),
		TotalValue:   decimal.NewFromInt(10),
		Status:       domain.StatusActive,
		CreatedAt:    time.Now(),
	}
}

func newTestScheduler(store domain.OrderStore, oracle domain.PriceOracle, executor domain.TradeExecutor, notifier domain.Notifier) *Scheduler {
	return NewScheduler(store, oracle, executor, notifier,
		WithInstrumentDelay(0),
		WithMetrics(&infra.Metrics{}))
}

func TestRunCycle_NoTriggerLeavesOrderActive(t *testing.T) {
	order := buyOrder("ord-1", 1.0)
	store := newStubStore(order)
	oracle := &stubOracle{prices: map[string]decimal.Decimal{bonkMint: decimal.NewFromFloat(1.2)}}
	executor := &stubExecutor{}
	notifier := &stubNotifier{}

	s := newTestScheduler(store, oracle, executor, notifier)
	s.RunCycle(context.Background())

	if executor.callCount() != 0 {
		t.Errorf("expected no execution attempts, got %d", executor.callCount())
	}

	after := store.get("ord-1")
	if after.Status != domain.StatusActive {
		t.Errorf("expected ACTIVE, got %s", after.Status)
	}
	if !after.LastObservedPrice.Valid || !after.LastObservedPrice.Decimal.Equal(decimal.NewFromFloat(1.2)) {
		t.Errorf("expected observed price 1.2, got %v", after.LastObservedPrice)
	}
}

func TestRunCycle_BuyTriggersAndFills(t *testing.T) {
	order := buyOrder("ord-1", 1.0)
	store := newStubStore(order)
	oracle := &stubOracle{prices: map[string]decimal.Decimal{bonkMint: decimal.NewFromFloat(0.9)}}
	executor := &stubExecutor{result: domain.ExecutionResult{Success: true, TxReference: "5Sig"}}
	notifier := &stubNotifier{}

	s := newTestScheduler(store, oracle, executor, notifier)
	s.RunCycle(context.Background())

	if executor.callCount() != 1 {
		t.Fatalf("expected 1 execution attempt, got %d", executor.callCount())
	}

	// Execution must use the stored amount and the live market price,
	// not the limit price.
	req := executor.requests[0]
	if !req.Amount.Equal(order.Amount) {
		t.Errorf("expected amount %v, got %v", order.Amount, req.Amount)
	}
	if !req.ReferencePrice.Equal(decimal.NewFromFloat(0.9)) {
		t.Errorf("expected reference price 0.9, got %v", req.ReferencePrice)
	}

	after := store.get("ord-1")
	if after.Status != domain.StatusFilled {
		t.Errorf("expected FILLED, got %s", after.Status)
	}
	if after.TxReference != "5Sig" {
		t.Errorf("expected tx reference 5Sig, got %q", after.TxReference)
	}

	if msg := notifier.lastMessage(); !strings.Contains(msg, "5Sig") {
		t.Errorf("fill notification should carry the tx reference, got %q", msg)
	}
}

func TestRunCycle_SellTriggersAtOrAboveLimit(t *testing.T) {
	order := buyOrder("ord-1", 2.0)
	order.Side = domain.SideSell
	store := newStubStore(order)
	// Exactly at the limit counts as triggered
	oracle := &stubOracle{prices: map[string]decimal.Decimal{bonkMint: decimal.NewFromFloat(2.0)}}
	executor := &stubExecutor{result: domain.ExecutionResult{Success: true, TxReference: "sellSig"}}
	notifier := &stubNotifier{}

	s := newTestScheduler(store, oracle, executor, notifier)
	s.RunCycle(context.Background())

	if store.get("ord-1").Status != domain.StatusFilled {
		t.Errorf("sell at the limit boundary should fill, got %s", store.get("ord-1").Status)
	}
}

func TestRunCycle_RetriesThenFails(t *testing.T) {
	order := buyOrder("ord-1", 1.0)
	store := newStubStore(order)
	oracle := &stubOracle{prices: map[string]decimal.Decimal{bonkMint: decimal.NewFromFloat(0.9)}}
	executor := &stubExecutor{result: domain.ExecutionResult{Success: false, ErrorMessage: "slippage exceeded"}}
	notifier := &stubNotifier{}

	s := newTestScheduler(store, oracle, executor, notifier)
	ctx := context.Background()

	// Attempts 1 and 2 leave the order active with a bumped retry count
	s.RunCycle(ctx)
	if got := store.get("ord-1"); got.Status != domain.StatusActive || got.RetryCount != 1 {
		t.Fatalf("after attempt 1: expected ACTIVE retry 1, got %s retry %d", got.Status, got.RetryCount)
	}
	s.RunCycle(ctx)
	if got := store.get("ord-1"); got.Status != domain.StatusActive || got.RetryCount != 2 {
		t.Fatalf("after attempt 2: expected ACTIVE retry 2, got %s retry %d", got.Status, got.RetryCount)
	}

	// Attempt 3 exhausts the retry budget
	s.RunCycle(ctx)
	if got := store.get("ord-1"); got.Status != domain.StatusFailed {
		t.Fatalf("after attempt 3: expected FAILED, got %s", got.Status)
	}
	if executor.callCount() != 3 {
		t.Errorf("expected exactly 3 execution attempts, got %d", executor.callCount())
	}
	if msg := notifier.lastMessage(); !strings.Contains(msg, "Failed") {
		t.Errorf("expected a permanent failure notification, got %q", msg)
	}

	// A further cycle must not touch the terminal order
	s.RunCycle(ctx)
	if executor.callCount() != 3 {
		t.Errorf("terminal order was re-executed, %d attempts total", executor.callCount())
	}
}

func TestRunCycle_ExecutorErrorCountsAsAttempt(t *testing.T) {
	order := buyOrder("ord-1", 1.0)
	store := newStubStore(order)
	oracle := &stubOracle{prices: map[string]decimal.Decimal{bonkMint: decimal.NewFromFloat(0.9)}}
	executor := &stubExecutor{err: errors.New("custody unreachable")}
	notifier := &stubNotifier{}

	s := newTestScheduler(store, oracle, executor, notifier)
	s.RunCycle(context.Background())

	if got := store.get("ord-1"); got.RetryCount != 1 {
		t.Errorf("transport errors should consume a retry, got count %d", got.RetryCount)
	}
	if msg := notifier.lastMessage(); !strings.Contains(msg, "Attempt 1 of 3") {
		t.Errorf("retry notification should show attempt 1 of 3, got %q", msg)
	}
}

func TestRunCycle_PriceFailureIsolatedPerToken(t *testing.T) {
	bonk := buyOrder("ord-bonk", 1.0)
	wif := buyOrder("ord-wif", 1.0)
	wif.TokenAddress = wifMint
	wif.TokenSymbol = "WIF"

	store := newStubStore(bonk, wif)
	// Only WIF is priceable this cycle
	oracle := &stubOracle{prices: map[string]decimal.Decimal{wifMint: decimal.NewFromFloat(0.5)}}
	executor := &stubExecutor{result: domain.ExecutionResult{Success: true, TxReference: "wifSig"}}
	notifier := &stubNotifier{}

	s := newTestScheduler(store, oracle, executor, notifier)
	s.RunCycle(context.Background())

	if got := store.get("ord-wif"); got.Status != domain.StatusFilled {
		t.Errorf("priceable token should still fill, got %s", got.Status)
	}
	if got := store.get("ord-bonk"); got.Status != domain.StatusActive || got.RetryCount != 0 {
		t.Errorf("unpriceable token must be deferred untouched, got %s retry %d", got.Status, got.RetryCount)
	}
}

func TestRunCycle_CancelledAfterLoadIsSkipped(t *testing.T) {
	order := buyOrder("ord-1", 1.0)
	store := newStubStore(order)
	oracle := &stubOracle{prices: map[string]decimal.Decimal{bonkMint: decimal.NewFromFloat(0.9)}}
	executor := &stubExecutor{}
	notifier := &stubNotifier{}

	// Cancel between the cycle load and execution: the re-read must
	// catch it before any executor call.
	store.Cancel(context.Background(), "ord-1")

	s := newTestScheduler(store, oracle, executor, notifier)
	s.RunCycle(context.Background())

	if executor.callCount() != 0 {
		t.Errorf("cancelled order must not be executed, got %d attempts", executor.callCount())
	}
	if got := store.get("ord-1"); got.Status != domain.StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", got.Status)
	}
}

func TestRunCycle_CancelDuringExecutionKeepsCancelled(t *testing.T) {
	order := buyOrder("ord-1", 1.0)
	store := newStubStore(order)
	oracle := &stubOracle{prices: map[string]decimal.Decimal{bonkMint: decimal.NewFromFloat(0.9)}}
	notifier := &stubNotifier{}

	executor := &stubExecutor{result: domain.ExecutionResult{Success: true, TxReference: "lateSig"}}
	executor.beforeExecute = func() {
		store.Cancel(context.Background(), "ord-1")
	}

	s := newTestScheduler(store, oracle, executor, notifier)
	s.RunCycle(context.Background())

	// The CAS write loses against the cancel; CANCELLED sticks.
	if got := store.get("ord-1"); got.Status != domain.StatusCancelled {
		t.Errorf("expected CANCELLED to win, got %s", got.Status)
	}
	if msg := notifier.lastMessage(); msg != "" {
		t.Errorf("no fill notification expected after losing the CAS, got %q", msg)
	}
}

func TestRunCycle_OnePriceLookupPerToken(t *testing.T) {
	a := buyOrder("ord-a", 1.0)
	b := buyOrder("ord-b", 0.8)
	store := newStubStore(a, b)
	oracle := &stubOracle{prices: map[string]decimal.Decimal{bonkMint: decimal.NewFromFloat(1.5)}}
	executor := &stubExecutor{}
	notifier := &stubNotifier{}

	s := newTestScheduler(store, oracle, executor, notifier)
	s.RunCycle(context.Background())

	if oracle.calls != 1 {
		t.Errorf("expected a single price lookup for a shared token, got %d", oracle.calls)
	}
}

func TestRunCycle_RecordsMetrics(t *testing.T) {
	order := buyOrder("ord-1", 1.0)
	store := newStubStore(order)
	oracle := &stubOracle{prices: map[string]decimal.Decimal{bonkMint: decimal.NewFromFloat(0.9)}}
	executor := &stubExecutor{result: domain.ExecutionResult{Success: true, TxReference: "sig"}}
	notifier := &stubNotifier{}

	metrics := &infra.Metrics{}
	s := NewScheduler(store, oracle, executor, notifier,
		WithInstrumentDelay(0), WithMetrics(metrics))
	s.RunCycle(context.Background())

	snap := metrics.GetSnapshot()
	if snap.CyclesTotal != 1 {
		t.Errorf("expected 1 cycle, got %d", snap.CyclesTotal)
	}
	if snap.OrdersEvaluated != 1 {
		t.Errorf("expected 1 order evaluated, got %d", snap.OrdersEvaluated)
	}
	if snap.OrdersFilled != 1 {
		t.Errorf("expected 1 fill, got %d", snap.OrdersFilled)
	}
}

func TestStartStop(t *testing.T) {
	store := newStubStore()
	oracle := &stubOracle{prices: map[string]decimal.Decimal{}}
	executor := &stubExecutor{}
	notifier := &stubNotifier{}

	s := NewScheduler(store, oracle, executor, notifier,
		WithTickInterval(time.Hour),
		WithInstrumentDelay(0),
		WithMetrics(&infra.Metrics{}))

	if s.IsRunning() {
		t.Fatal("new scheduler should not be running")
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !s.IsRunning() {
		t.Error("scheduler should be running after Start")
	}

	// Second start is a no-op
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start errored: %v", err)
	}

	s.Stop()
	if s.IsRunning() {
		t.Error("scheduler should not be running after Stop")
	}

	// Stop on a stopped scheduler is safe
	s.Stop()
}

func TestRunCycle_NotifierFailureDoesNotBlockFill(t *testing.T) {
	order := buyOrder("ord-1", 1.0)
	store := newStubStore(order)
	oracle := &stubOracle{prices: map[string]decimal.Decimal{bonkMint: decimal.NewFromFloat(0.9)}}
	executor := &stubExecutor{result: domain.ExecutionResult{Success: true, TxReference: "sig"}}
	notifier := &stubNotifier{err: errors.New("telegram down")}

	metrics := &infra.Metrics{}
	s := NewScheduler(store, oracle, executor, notifier,
		WithInstrumentDelay(0), WithMetrics(metrics))
	s.RunCycle(context.Background())

	if got := store.get("ord-1"); got.Status != domain.StatusFilled {
		t.Errorf("fill must be recorded despite notification failure, got %s", got.Status)
	}
	if metrics.GetSnapshot().NotifyErrors != 1 {
		t.Errorf("expected 1 notify error recorded")
	}
}
