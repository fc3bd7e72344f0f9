package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mmeshcher/stallorder/internal/apperr"
	"github.com/mmeshcher/stallorder/internal/model"
)

func walletExpiresAt(o *model.Order) *time.Time {
	if o.WalletPayment == nil {
		return nil
	}
	t := o.WalletPayment.ExpiresAt
	return &t
}

func decodeOrder(doc []byte) (*model.Order, error) {
	var o model.Order
	if err := json.Unmarshal(doc, &o); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &o, nil
}

// CreateOrder сохраняет новый заказ документом вместе с денормализованными колонками.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) error {
	doc, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}

	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO orders (order_id, parent_order_id, customer_id, vendor_id, status, wallet_expires_at, created_at, updated_at, doc)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			o.OrderID, o.ParentOrderID, o.CustomerID, o.VendorID, string(o.Status),
			walletExpiresAt(o), o.CreatedAt, o.UpdatedAt, doc,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return ErrOrderExists.With("order %s already exists", o.OrderID)
			}
			return fmt.Errorf("insert order: %w", err)
		}
		return nil
	})
}

// GetOrder возвращает заказ по номеру.
func (r *PostgresRepository) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM orders WHERE order_id = $1`, orderID).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound.With("order %s not found", orderID)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return decodeOrder(doc)
}

// mutateOrder блокирует строку заказа, применяет fn и сохраняет результат в одной транзакции.
// Если fn вернул apperr.ErrNoChange, транзакция откатывается, а возвращается текущее состояние.
func (r *PostgresRepository) mutateOrder(ctx context.Context, orderID string, fn func(tx pgx.Tx, o *model.Order) error) (*model.Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var doc []byte
	err = tx.QueryRow(ctx, `SELECT doc FROM orders WHERE order_id = $1 FOR UPDATE`, orderID).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound.With("order %s not found", orderID)
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}

	current, err := decodeOrder(doc)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	if err := fn(tx, next); err != nil {
		if errors.Is(err, apperr.ErrNoChange) {
			return current, nil
		}
		return nil, err
	}

	newDoc, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE orders SET status = $2, wallet_expires_at = $3, updated_at = $4, doc = $5 WHERE order_id = $1`,
		orderID, string(next.Status), walletExpiresAt(next), next.UpdatedAt, newDoc,
	)
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return next, nil
}

// UpdateOrder атомарно применяет fn к заказу.
func (r *PostgresRepository) UpdateOrder(ctx context.Context, orderID string, fn func(*model.Order) error) (*model.Order, error) {
	var res *model.Order
	err := r.withRetry(ctx, func() error {
		var err error
		res, err = r.mutateOrder(ctx, orderID, func(_ pgx.Tx, o *model.Order) error {
			return fn(o)
		})
		return err
	})
	return res, err
}

// CompleteOrder применяет fn и в той же транзакции списывает остатки.
// Остаток никогда не уходит в минус: при нехватке транзакция откатывается целиком.
func (r *PostgresRepository) CompleteOrder(ctx context.Context, orderID string, fn func(*model.Order) ([]model.StockDelta, error)) (*model.Order, error) {
	var res *model.Order
	err := r.withRetry(ctx, func() error {
		var err error
		res, err = r.mutateOrder(ctx, orderID, func(tx pgx.Tx, o *model.Order) error {
			deltas, err := fn(o)
			if err != nil {
				return err
			}

			// Единый порядок блокировок строк меню.
			sort.Slice(deltas, func(i, j int) bool { return deltas[i].MenuItemID < deltas[j].MenuItemID })

			for _, d := range deltas {
				tag, err := tx.Exec(ctx,
					`UPDATE menu_items SET stock = stock - $2 WHERE id = $1 AND stock >= $2`,
					d.MenuItemID, d.Quantity,
				)
				if err != nil {
					return fmt.Errorf("decrement stock: %w", err)
				}
				if tag.RowsAffected() == 0 {
					return apperr.ErrInsufficientStock.With("menu item %s has insufficient stock", d.MenuItemID)
				}
			}
			return nil
		})
		return err
	})
	return res, err
}

// ListOrders возвращает заказы по фильтру, новые первыми.
func (r *PostgresRepository) ListOrders(ctx context.Context, filter model.OrderFilter) ([]*model.Order, error) {
	var (
		conds []string
		args  []any
	)
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		conds = append(conds, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if filter.VendorID != "" {
		args = append(args, filter.VendorID)
		conds = append(conds, fmt.Sprintf("vendor_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT doc FROM orders`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, order_id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var res []*model.Order
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o, err := decodeOrder(doc)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListExpiredWalletOrders возвращает номера неоплаченных заказов с истёкшим окном оплаты.
// Выборка ничего не блокирует: каждую строку затем меняет UpdateOrder под FOR UPDATE с повторной проверкой статуса.
func (r *PostgresRepository) ListExpiredWalletOrders(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT order_id
		 FROM orders
		 WHERE status = $1 AND wallet_expires_at < $2
		 ORDER BY wallet_expires_at
		 LIMIT $3`,
		string(model.OrderStatusAwaitingPayment), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select expired orders: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan order id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return ids, nil
}
