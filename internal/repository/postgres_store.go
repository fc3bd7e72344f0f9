package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/stallorder/internal/apperr"
	"github.com/mmeshcher/stallorder/internal/model"
)

// UpsertVendor создаёт или обновляет продавца.
func (r *PostgresRepository) UpsertVendor(ctx context.Context, v model.Vendor) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO vendors (id, name, wallet_enabled, wallet_handle) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, wallet_enabled = EXCLUDED.wallet_enabled, wallet_handle = EXCLUDED.wallet_handle`,
		v.ID, v.Name, v.WalletEnabled, v.WalletHandle,
	)
	if err != nil {
		return fmt.Errorf("upsert vendor: %w", err)
	}
	return nil
}

// UpsertMenuItem создаёт или обновляет позицию меню.
func (r *PostgresRepository) UpsertMenuItem(ctx context.Context, item model.MenuItem) error {
	addOns, err := json.Marshal(item.AddOns)
	if err != nil {
		return fmt.Errorf("encode add-ons: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO menu_items (id, vendor_id, name, price, stock, available, add_ons) VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET vendor_id = EXCLUDED.vendor_id, name = EXCLUDED.name, price = EXCLUDED.price,
		     stock = EXCLUDED.stock, available = EXCLUDED.available, add_ons = EXCLUDED.add_ons`,
		item.ID, item.VendorID, item.Name, int64(item.Price), item.Stock, item.Available, addOns,
	)
	if err != nil {
		return fmt.Errorf("upsert menu item: %w", err)
	}
	return nil
}

// GetVendors возвращает продавцов по списку идентификаторов. Неизвестные пропускаются.
func (r *PostgresRepository) GetVendors(ctx context.Context, ids []string) (map[string]model.Vendor, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, wallet_enabled, wallet_handle FROM vendors WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select vendors: %w", err)
	}
	defer rows.Close()

	res := make(map[string]model.Vendor, len(ids))
	for rows.Next() {
		var v model.Vendor
		if err := rows.Scan(&v.ID, &v.Name, &v.WalletEnabled, &v.WalletHandle); err != nil {
			return nil, fmt.Errorf("scan vendor: %w", err)
		}
		res[v.ID] = v
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// GetMenuItems возвращает позиции меню по списку идентификаторов. Неизвестные пропускаются.
func (r *PostgresRepository) GetMenuItems(ctx context.Context, ids []string) (map[string]model.MenuItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, vendor_id, name, price, stock, available, add_ons FROM menu_items WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select menu items: %w", err)
	}
	defer rows.Close()

	res := make(map[string]model.MenuItem, len(ids))
	for rows.Next() {
		var (
			item   model.MenuItem
			price  int64
			addOns []byte
		)
		if err := rows.Scan(&item.ID, &item.VendorID, &item.Name, &price, &item.Stock, &item.Available, &addOns); err != nil {
			return nil, fmt.Errorf("scan menu item: %w", err)
		}
		item.Price = model.Money(price)
		if err := json.Unmarshal(addOns, &item.AddOns); err != nil {
			return nil, fmt.Errorf("decode add-ons: %w", err)
		}
		res[item.ID] = item
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// UpsertVoucher создаёт или обновляет ваучер.
func (r *PostgresRepository) UpsertVoucher(ctx context.Context, v model.Voucher) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO vouchers (code, discount, percent, min_spend, expires_at, used_at, used_by, order_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (code) DO UPDATE SET discount = EXCLUDED.discount, percent = EXCLUDED.percent,
		     min_spend = EXCLUDED.min_spend, expires_at = EXCLUDED.expires_at`,
		v.Code, int64(v.Discount), v.Percent, int64(v.MinSpend), v.ExpiresAt, v.UsedAt, v.UsedBy, v.OrderID,
	)
	if err != nil {
		return fmt.Errorf("upsert voucher: %w", err)
	}
	return nil
}

// GetVoucher возвращает ваучер по коду.
func (r *PostgresRepository) GetVoucher(ctx context.Context, code string) (*model.Voucher, error) {
	var (
		v                  model.Voucher
		discount, minSpend int64
	)
	err := r.pool.QueryRow(ctx,
		`SELECT code, discount, percent, min_spend, expires_at, used_at, used_by, order_id FROM vouchers WHERE code = $1`,
		code,
	).Scan(&v.Code, &discount, &v.Percent, &minSpend, &v.ExpiresAt, &v.UsedAt, &v.UsedBy, &v.OrderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound.With("voucher %s not found", code)
		}
		return nil, fmt.Errorf("get voucher: %w", err)
	}
	v.Discount = model.Money(discount)
	v.MinSpend = model.Money(minSpend)
	return &v, nil
}

// CommitVoucher помечает ваучер использованным условным обновлением: выигрывает только первый.
func (r *PostgresRepository) CommitVoucher(ctx context.Context, code, customerID, orderID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE vouchers SET used_at = NOW(), used_by = $2, order_id = $3 WHERE code = $1 AND used_at IS NULL`,
		code, customerID, orderID,
	)
	if err != nil {
		return fmt.Errorf("commit voucher: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrVoucherInvalid.With("voucher %s is no longer available", code)
	}
	return nil
}

// AddPoints атомарно увеличивает баланс баллов и возвращает новое значение.
func (r *PostgresRepository) AddPoints(ctx context.Context, customerID string, points int64) (int64, error) {
	var total int64
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`INSERT INTO loyalty_accounts (customer_id, points) VALUES ($1, $2)
			 ON CONFLICT (customer_id) DO UPDATE SET points = loyalty_accounts.points + EXCLUDED.points
			 RETURNING points`,
			customerID, points,
		).Scan(&total)
	})
	if err != nil {
		return 0, fmt.Errorf("add points: %w", err)
	}
	return total, nil
}

// GetPoints возвращает баланс баллов; для нового покупателя возвращается ноль.
func (r *PostgresRepository) GetPoints(ctx context.Context, customerID string) (int64, error) {
	var points int64
	err := r.pool.QueryRow(ctx,
		`SELECT points FROM loyalty_accounts WHERE customer_id = $1`,
		customerID,
	).Scan(&points)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get points: %w", err)
	}
	return points, nil
}

// MarkVendorVisit отмечает визит и сообщает, был ли он первым.
func (r *PostgresRepository) MarkVendorVisit(ctx context.Context, customerID, vendorID string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO vendor_visits (customer_id, vendor_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		customerID, vendorID,
	)
	if err != nil {
		return false, fmt.Errorf("mark vendor visit: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AppendVelocity сохраняет отметку о заказе.
func (r *PostgresRepository) AppendVelocity(ctx context.Context, customerID string, entry model.VelocityEntry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO velocity_events (customer_id, created_at, amount) VALUES ($1, $2, $3)`,
		customerID, entry.Timestamp, int64(entry.Amount),
	)
	if err != nil {
		return fmt.Errorf("insert velocity event: %w", err)
	}
	return nil
}

// ListVelocity возвращает отметки покупателя начиная с since.
func (r *PostgresRepository) ListVelocity(ctx context.Context, customerID string, since time.Time) ([]model.VelocityEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT created_at, amount FROM velocity_events WHERE customer_id = $1 AND created_at >= $2 ORDER BY created_at`,
		customerID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("select velocity events: %w", err)
	}
	defer rows.Close()

	var res []model.VelocityEntry
	for rows.Next() {
		var (
			e      model.VelocityEntry
			amount int64
		)
		if err := rows.Scan(&e.Timestamp, &amount); err != nil {
			return nil, fmt.Errorf("scan velocity event: %w", err)
		}
		e.Amount = model.Money(amount)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// PruneVelocity удаляет отметки старше before.
func (r *PostgresRepository) PruneVelocity(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM velocity_events WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune velocity events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetCart возвращает строки корзины в порядке добавления.
func (r *PostgresRepository) GetCart(ctx context.Context, customerID string) ([]model.CartLine, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT line FROM cart_lines WHERE customer_id = $1 ORDER BY position`,
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select cart: %w", err)
	}
	defer rows.Close()

	var res []model.CartLine
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		var line model.CartLine
		if err := json.Unmarshal(doc, &line); err != nil {
			return nil, fmt.Errorf("decode cart line: %w", err)
		}
		res = append(res, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// AddCartLine добавляет строку в корзину или заменяет строку с тем же lineId.
func (r *PostgresRepository) AddCartLine(ctx context.Context, customerID string, line model.CartLine) error {
	doc, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("encode cart line: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO cart_lines (customer_id, line_id, line) VALUES ($1, $2, $3)
		 ON CONFLICT (customer_id, line_id) DO UPDATE SET line = EXCLUDED.line`,
		customerID, line.LineID, doc,
	)
	if err != nil {
		return fmt.Errorf("insert cart line: %w", err)
	}
	return nil
}

// RemoveCartLine удаляет строку корзины.
func (r *PostgresRepository) RemoveCartLine(ctx context.Context, customerID, lineID string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM cart_lines WHERE customer_id = $1 AND line_id = $2`,
		customerID, lineID,
	)
	if err != nil {
		return fmt.Errorf("delete cart line: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound.With("cart line %s not found", lineID)
	}
	return nil
}

// ClearCart удаляет все строки корзины покупателя.
func (r *PostgresRepository) ClearCart(ctx context.Context, customerID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM cart_lines WHERE customer_id = $1`, customerID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
