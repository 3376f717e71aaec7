package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/rl1809/order-service/internal/core/domain"
)

const pgUniqueViolation = "23505"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS orders (
	id           BIGSERIAL PRIMARY KEY,
	order_number TEXT NOT NULL UNIQUE,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS order_line_items (
	id       BIGSERIAL PRIMARY KEY,
	order_id BIGINT NOT NULL REFERENCES orders (id) ON DELETE CASCADE,
	sku_code TEXT NOT NULL,
	price    NUMERIC(19, 2) NOT NULL,
	quantity INT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_line_items_order ON order_line_items (order_id);
`

// PostgresAdapter is the pgx-backed OrderStore. Lines are written with a
// single batch inside the order transaction.
type PostgresAdapter struct {
	pool *pgxpool.Pool
}

func NewPostgresAdapter(pool *pgxpool.Pool) *PostgresAdapter {
	return &PostgresAdapter{pool: pool}
}

func (p *PostgresAdapter) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) Save(ctx context.Context, order domain.Order) (domain.Order, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var orderID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO orders (order_number) VALUES ($1) RETURNING id`, order.Number,
	).Scan(&orderID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.Order{}, fmt.Errorf("%w: %s", ErrDuplicateOrderNumber, order.Number)
		}
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	saved := order.WithID(orderID)
	batch := &pgx.Batch{}
	for _, line := range saved.Lines {
		batch.Queue(`
			INSERT INTO order_line_items (order_id, sku_code, price, quantity)
			VALUES ($1, $2, $3::numeric, $4) RETURNING id`,
			orderID, line.SKUCode, line.Price.String(), line.Quantity,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for i := range saved.Lines {
		if err := br.QueryRow().Scan(&saved.Lines[i].ID); err != nil {
			_ = br.Close()
			return domain.Order{}, fmt.Errorf("insert line %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return domain.Order{}, fmt.Errorf("insert lines: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, fmt.Errorf("commit: %w", err)
	}
	return saved, nil
}

func (p *PostgresAdapter) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query order: %w", err)
	}
	return exists, nil
}

func (p *PostgresAdapter) FindByID(ctx context.Context, id int64) (domain.Order, error) {
	order := domain.Order{ID: id}
	err := p.pool.QueryRow(ctx, `SELECT order_number FROM orders WHERE id = $1`, id).Scan(&order.Number)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("query order: %w", err)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, order_id, sku_code, price::text, quantity
		FROM order_line_items WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("query lines: %w", err)
	}
	order.Lines, err = pgx.CollectRows(rows, scanPgLine)
	if err != nil {
		return domain.Order{}, fmt.Errorf("read lines: %w", err)
	}
	return order, nil
}

func (p *PostgresAdapter) FindAll(ctx context.Context) ([]domain.Order, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, order_number FROM orders ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Order, error) {
		var o domain.Order
		err := row.Scan(&o.ID, &o.Number)
		return o, err
	})
	if err != nil {
		return nil, fmt.Errorf("read orders: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	rows, err = p.pool.Query(ctx, `
		SELECT id, order_id, sku_code, price::text, quantity
		FROM order_line_items ORDER BY order_id, id`)
	if err != nil {
		return nil, fmt.Errorf("query lines: %w", err)
	}
	lines, err := pgx.CollectRows(rows, scanPgLine)
	if err != nil {
		return nil, fmt.Errorf("read lines: %w", err)
	}

	index := make(map[int64]int, len(orders))
	for i, o := range orders {
		index[o.ID] = i
	}
	for _, l := range lines {
		if i, ok := index[l.OrderID]; ok {
			orders[i].Lines = append(orders[i].Lines, l)
		}
	}
	return orders, nil
}

// DeleteByID relies on ON DELETE CASCADE for the lines.
func (p *PostgresAdapter) DeleteByID(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanPgLine(row pgx.CollectableRow) (domain.OrderLine, error) {
	var (
		l     domain.OrderLine
		price string
	)
	if err := row.Scan(&l.ID, &l.OrderID, &l.SKUCode, &price, &l.Quantity); err != nil {
		return domain.OrderLine{}, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return domain.OrderLine{}, fmt.Errorf("parse price %q: %w", price, err)
	}
	l.Price = d
	return l, nil
}
