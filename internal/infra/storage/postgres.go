package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"limit_go/internal/domain"

	"github.com/shopspring/decimal"
	_ "github.com/lib/pq"
)

// PostgresStorage is the Postgres-backed order store.
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage connects to Postgres and ensures the schema exists.
func NewPostgresStorage(connStr string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStorage{db: db}

	if err := s.initTables(); err != nil {
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	return s, nil
}

func (s *PostgresStorage) initTables() error {
	query := `
        CREATE TABLE IF NOT EXISTS limit_orders (
            id                  TEXT PRIMARY KEY,
            user_id             BIGINT NOT NULL,
            token_address       TEXT NOT NULL,
            token_symbol        TEXT NOT NULL,
            side                TEXT NOT NULL,
            limit_price         NUMERIC(38,18) NOT NULL,
            amount              NUMERIC(38,18) NOT NULL,
            total_value         NUMERIC(38,18) NOT NULL,
            last_observed_price NUMERIC(38,18),
            tx_reference        TEXT NOT NULL DEFAULT '',
            retry_count         INT NOT NULL DEFAULT 0,
            status              TEXT NOT NULL,
            created_at          TIMESTAMPTZ NOT NULL,
            updated_at          TIMESTAMPTZ NOT NULL
        );
        CREATE INDEX IF NOT EXISTS idx_limit_orders_status ON limit_orders (status);
        CREATE INDEX IF NOT EXISTS idx_limit_orders_user ON limit_orders (user_id);
        CREATE INDEX IF NOT EXISTS idx_limit_orders_token ON limit_orders (token_address);
    `
	_, err := s.db.Exec(query)
	return err
}

// Create persists a new limit order.
func (s *PostgresStorage) Create(ctx context.Context, order *domain.LimitOrder) error {
	query := `
        INSERT INTO limit_orders (
            id, user_id, token_address, token_symbol, side,
            limit_price, amount, total_value, last_observed_price,
            tx_reference, retry_count, status, created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
    `
	var observed interface{}
	if order.LastObservedPrice.Valid {
		observed = order.LastObservedPrice.Decimal.String()
	}

	_, err := s.db.ExecContext(ctx, query,
		order.ID,
		order.UserID,
		order.TokenAddress,
		order.TokenSymbol,
		string(order.Side),
		order.LimitPrice.String(),
		order.Amount.String(),
		order.TotalValue.String(),
		observed,
		order.TxReference,
		order.RetryCount,
		string(order.Status),
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create limit order: %w", err)
	}
	return nil
}

const orderColumns = `
    id, user_id, token_address, token_symbol, side,
    limit_price, amount, total_value, last_observed_price,
    tx_reference, retry_count, status, created_at, updated_at
`

func scanOrder(row interface{ Scan(...interface{}) error }) (*domain.LimitOrder, error) {
	var (
		order      domain.LimitOrder
		side       string
		status     string
		limitPrice string
		amount     string
		totalValue string
		observed   sql.NullString
	)

	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.TokenAddress,
		&order.TokenSymbol,
		&side,
		&limitPrice,
		&amount,
		&totalValue,
		&observed,
		&order.TxReference,
		&order.RetryCount,
		&status,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	order.Side = domain.OrderSide(side)
	order.Status = domain.OrderStatus(status)
	if order.LimitPrice, err = decimal.NewFromString(limitPrice); err != nil {
		return nil, fmt.Errorf("bad limit_price value: %w", err)
	}
	if order.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("bad amount value: %w", err)
	}
	if order.TotalValue, err = decimal.NewFromString(totalValue); err != nil {
		return nil, fmt.Errorf("bad total_value value: %w", err)
	}
	if observed.Valid {
		d, err := decimal.NewFromString(observed.String)
		if err != nil {
			return nil, fmt.Errorf("bad last_observed_price value: %w", err)
		}
		order.LastObservedPrice = decimal.NewNullDecimal(d)
	}

	return &order, nil
}

// Get retrieves an order by ID.
func (s *PostgresStorage) Get(ctx context.Context, orderID string) (*domain.LimitOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM limit_orders WHERE id = $1`
	order, err := scanOrder(s.db.QueryRowContext(ctx, query, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get limit order: %w", err)
	}
	return order, nil
}

func (s *PostgresStorage) listWhere(ctx context.Context, where string, args ...interface{}) ([]*domain.LimitOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM limit_orders WHERE ` + where + ` ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list limit orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.LimitOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// ListActive returns all orders still in the ACTIVE state.
func (s *PostgresStorage) ListActive(ctx context.Context) ([]*domain.LimitOrder, error) {
	return s.listWhere(ctx, "status = $1", string(domain.StatusActive))
}

// ListActiveForUser returns a user's active orders.
func (s *PostgresStorage) ListActiveForUser(ctx context.Context, userID int64) ([]*domain.LimitOrder, error) {
	return s.listWhere(ctx, "status = $1 AND user_id = $2", string(domain.StatusActive), userID)
}

// UpdateObservedPrice stores the latest observed market price.
func (s *PostgresStorage) UpdateObservedPrice(ctx context.Context, orderID string, price decimal.Decimal) error {
	query := `UPDATE limit_orders SET last_observed_price = $1, updated_at = $2 WHERE id = $3`
	res, err := s.db.ExecContext(ctx, query, price.String(), time.Now(), orderID)
	if err != nil {
		return fmt.Errorf("failed to update observed price: %w", err)
	}
	return s.checkAffected(ctx, res, orderID, false)
}

// TransitionStatus moves an order between states with a CAS guard on
// the expected current status.
func (s *PostgresStorage) TransitionStatus(ctx context.Context, orderID string, expected, next domain.OrderStatus, txReference string) error {
	query := `
        UPDATE limit_orders
        SET status = $1,
            tx_reference = CASE WHEN $2 <> '' THEN $2 ELSE tx_reference END,
            updated_at = $3
        WHERE id = $4 AND status = $5
    `
	res, err := s.db.ExecContext(ctx, query, string(next), txReference, time.Now(), orderID, string(expected))
	if err != nil {
		return fmt.Errorf("failed to transition order status: %w", err)
	}
	return s.checkAffected(ctx, res, orderID, true)
}

// IncrementRetry bumps retry_count of an ACTIVE order and returns the
// new count.
func (s *PostgresStorage) IncrementRetry(ctx context.Context, orderID string) (int, error) {
	query := `
        UPDATE limit_orders
        SET retry_count = retry_count + 1, updated_at = $1
        WHERE id = $2 AND status = $3
        RETURNING retry_count
    `
	var count int
	err := s.db.QueryRowContext(ctx, query, time.Now(), orderID, string(domain.StatusActive)).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, s.missError(ctx, orderID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment retry count: %w", err)
	}
	return count, nil
}

// Cancel is the user-initiated ACTIVE -> CANCELLED transition.
func (s *PostgresStorage) Cancel(ctx context.Context, orderID string) error {
	return s.TransitionStatus(ctx, orderID, domain.StatusActive, domain.StatusCancelled, "")
}

func (s *PostgresStorage) checkAffected(ctx context.Context, res sql.Result, orderID string, casGuarded bool) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if !casGuarded {
		return domain.ErrOrderNotFound
	}
	return s.missError(ctx, orderID)
}

// missError distinguishes a missing order from a CAS miss.
func (s *PostgresStorage) missError(ctx context.Context, orderID string) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM limit_orders WHERE id = $1)`, orderID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrOrderNotFound
	}
	return domain.ErrOrderNotActive
}

// Close releases the underlying connection pool.
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
