package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront-payments/internal/model"
)

const selectOrder = `SELECT id::text, order_number, user_id::text, status, total_amount::text,
		shipping_name, shipping_address, shipping_phone, created_at, updated_at
	 FROM orders`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o      model.Order
		status string
		total  string
	)
	err := row.Scan(&o.ID, &o.Number, &o.UserID, &status, &total,
		&o.Shipping.Name, &o.Shipping.Address, &o.Shipping.Phone, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isPgError(err, pgerrcode.InvalidTextRepresentation) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	amount, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("parse total amount %q: %w", total, err)
	}

	o.Status = model.OrderStatus(status)
	o.TotalAmount = amount
	return &o, nil
}

// GetOrder возвращает заказ по идентификатору, если он принадлежит ownerID.
func (r *PostgresRepository) GetOrder(ctx context.Context, id, ownerID string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx, selectOrder+` WHERE id = $1 AND user_id = $2`, id, ownerID)
	return scanOrder(row)
}

// compareAndSetOrderStatus меняет статус заказа, только если текущий статус
// равен expected. Возвращает false, если статус уже изменился.
func compareAndSetOrderStatus(ctx context.Context, q querier, id string, expected, next model.OrderStatus) (bool, error) {
	if !model.CanTransition(expected, next) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, expected, next)
	}

	tag, err := q.Exec(ctx,
		`UPDATE orders SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		id, string(expected), string(next),
	)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func appendStatusHistory(ctx context.Context, q querier, orderID string, status model.OrderStatus, note string) error {
	_, err := q.Exec(ctx,
		`INSERT INTO order_status_history (order_id, status, note) VALUES ($1, $2, $3)`,
		orderID, string(status), note,
	)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

// ConfirmOrderByNumber переводит заказ с указанным номером из pending в
// confirmed и записывает историю в одной транзакции. Возвращает false, если
// заказ уже не в статусе pending.
func (r *PostgresRepository) ConfirmOrderByNumber(ctx context.Context, number, note string) (bool, error) {
	var confirmed bool

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		confirmed = false

		var id string
		err := tx.QueryRow(ctx, `SELECT id::text FROM orders WHERE order_number = $1`, number).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("select order: %w", err)
		}

		ok, err := compareAndSetOrderStatus(ctx, tx, id, model.OrderStatusPending, model.OrderStatusConfirmed)
		if err != nil || !ok {
			return err
		}

		if err := appendStatusHistory(ctx, tx, id, model.OrderStatusConfirmed, note); err != nil {
			return err
		}
		confirmed = true
		return nil
	})

	return confirmed, err
}

// UserOrders даёт доступ к заказам только одного пользователя.
type UserOrders struct {
	repo   *PostgresRepository
	userID string
}

// ForUser возвращает доступ к заказам указанного пользователя.
func (r *PostgresRepository) ForUser(userID string) *UserOrders {
	return &UserOrders{repo: r, userID: userID}
}

// UserID возвращает идентификатор пользователя, которым ограничен доступ.
func (u *UserOrders) UserID() string {
	return u.userID
}

// GetOrder возвращает заказ пользователя или ErrOrderNotFound.
func (u *UserOrders) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return u.repo.GetOrder(ctx, id, u.userID)
}
