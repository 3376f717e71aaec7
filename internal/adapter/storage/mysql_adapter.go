package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/order-service/internal/core/domain"
)

var ErrDuplicateOrderNumber = errors.New("order number already exists")

const mysqlDuplicateEntry = 1062

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id           BIGINT AUTO_INCREMENT PRIMARY KEY,
		order_number VARCHAR(64) NOT NULL,
		created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_orders_number (order_number)
	)`,
	`CREATE TABLE IF NOT EXISTS order_line_items (
		id       BIGINT AUTO_INCREMENT PRIMARY KEY,
		order_id BIGINT NOT NULL,
		sku_code VARCHAR(128) NOT NULL,
		price    DECIMAL(19, 2) NOT NULL,
		quantity INT NOT NULL,
		KEY idx_line_items_order (order_id),
		CONSTRAINT fk_line_items_order FOREIGN KEY (order_id) REFERENCES orders (id)
	)`,
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// Migrate creates the order tables if they do not exist.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range mysqlSchema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Save writes the order and all of its lines in one transaction.
func (m *MySQLAdapter) Save(ctx context.Context, order domain.Order) (domain.Order, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `INSERT INTO orders (order_number) VALUES (?)`, order.Number)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
			return domain.Order{}, fmt.Errorf("%w: %s", ErrDuplicateOrderNumber, order.Number)
		}
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}
	orderID, err := result.LastInsertId()
	if err != nil {
		return domain.Order{}, fmt.Errorf("order id: %w", err)
	}

	saved := order.WithID(orderID)
	for i, line := range saved.Lines {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO order_line_items (order_id, sku_code, price, quantity)
			VALUES (?, ?, ?, ?)`,
			orderID, line.SKUCode, line.Price, line.Quantity,
		)
		if err != nil {
			return domain.Order{}, fmt.Errorf("insert line %d: %w", i, err)
		}
		if saved.Lines[i].ID, err = result.LastInsertId(); err != nil {
			return domain.Order{}, fmt.Errorf("line id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit: %w", err)
	}
	return saved, nil
}

func (m *MySQLAdapter) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := m.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = ?)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query order: %w", err)
	}
	return exists, nil
}

func (m *MySQLAdapter) FindByID(ctx context.Context, id int64) (domain.Order, error) {
	order := domain.Order{ID: id}
	err := m.db.QueryRowContext(ctx, `SELECT order_number FROM orders WHERE id = ?`, id).Scan(&order.Number)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("query order: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, order_id, sku_code, price, quantity
		FROM order_line_items WHERE order_id = ? ORDER BY id`, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("query lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return domain.Order{}, err
		}
		order.Lines = append(order.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return domain.Order{}, fmt.Errorf("read lines: %w", err)
	}
	return order, nil
}

func (m *MySQLAdapter) FindAll(ctx context.Context) ([]domain.Order, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id, order_number FROM orders ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	index := make(map[int64]int)
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.Number); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		index[o.ID] = len(orders)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read orders: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	lines, err := m.db.QueryContext(ctx, `
		SELECT id, order_id, sku_code, price, quantity
		FROM order_line_items ORDER BY order_id, id`)
	if err != nil {
		return nil, fmt.Errorf("query lines: %w", err)
	}
	defer lines.Close()

	for lines.Next() {
		line, err := scanLine(lines)
		if err != nil {
			return nil, err
		}
		if i, ok := index[line.OrderID]; ok {
			orders[i].Lines = append(orders[i].Lines, line)
		}
	}
	if err := lines.Err(); err != nil {
		return nil, fmt.Errorf("read lines: %w", err)
	}
	return orders, nil
}

// DeleteByID removes the order together with its lines.
func (m *MySQLAdapter) DeleteByID(ctx context.Context, id int64) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_line_items WHERE order_id = ?`, id); err != nil {
		return fmt.Errorf("delete lines: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return tx.Commit()
}

func scanLine(rows *sql.Rows) (domain.OrderLine, error) {
	var l domain.OrderLine
	if err := rows.Scan(&l.ID, &l.OrderID, &l.SKUCode, &l.Price, &l.Quantity); err != nil {
		return domain.OrderLine{}, fmt.Errorf("scan line: %w", err)
	}
	return l, nil
}
