package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
)

const pgUniqueViolation = "23505"

type orderRepository struct {
	store *Store
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
// Заказ, позиции, история статусов и outbox пишутся одной транзакцией.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{store: store}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order, outbox ...domain.OutboxMessage) error {
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return errors.Join(errs...)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.store.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (
				id, customer_id, restaurant_id, restaurant_name, status, delivery_address,
				currency, total_minor, version, created_at, confirmed_at, delivered_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`,
			order.ID,
			order.CustomerID,
			order.RestaurantID,
			order.RestaurantName,
			string(order.Status),
			order.DeliveryAddress,
			order.Currency,
			order.TotalMinor,
			order.Version,
			order.CreatedAt,
			nullTime(order.ConfirmedAt),
			nullTime(order.DeliveredAt),
			order.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", domain.ErrOrderAlreadyExists, order.ID)
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for i, item := range order.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (
					order_id, position, menu_item_id, name, unit_price_minor, quantity, subtotal_minor
				) VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, order.ID, i, item.MenuItemID, item.Name, item.UnitPriceMinor, item.Quantity, item.SubtotalMinor); err != nil {
				return fmt.Errorf("insert order item %s: %w", item.MenuItemID, err)
			}
		}

		if err := insertHistoryTx(ctx, tx, domain.StatusChange{
			OrderID:    order.ID,
			To:         order.Status,
			ActorID:    order.CustomerID,
			OccurredAt: order.CreatedAt,
		}); err != nil {
			return err
		}

		return insertOutboxTx(ctx, tx, outbox)
	})
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.store.db.QueryRowContext(ctx, `
		SELECT id, customer_id, restaurant_id, restaurant_name, status, delivery_address,
		       currency, total_minor, version, created_at, confirmed_at, delivered_at, updated_at
		FROM orders
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
		}
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}

	order.Items, err = r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT id, customer_id, restaurant_id, restaurant_name, status, delivery_address,
		       currency, total_minor, version, created_at, confirmed_at, delivered_at, updated_at
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC`
	args := []any{customerID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders by customer: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	for i := range orders {
		orders[i].Items, err = r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *orderRepository) Transition(ctx context.Context, order domain.Order, change domain.StatusChange, outbox ...domain.OutboxMessage) (domain.Order, error) {
	if !order.Status.Valid() {
		return domain.Order{}, domain.ErrUnknownStatus
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var saved domain.Order
	err := r.store.inTx(ctx, func(tx *sql.Tx) error {
		// Условный UPDATE сериализует конкурентные переходы: вторая транзакция
		// дождётся блокировки строки и не найдёт прежнюю версию.
		var version int64
		err := tx.QueryRowContext(ctx, `
			UPDATE orders
			SET status = $1,
			    version = version + 1,
			    confirmed_at = $2,
			    delivered_at = $3,
			    updated_at = $4
			WHERE id = $5 AND version = $6 AND status = $7
			RETURNING version
		`,
			string(order.Status),
			nullTime(order.ConfirmedAt),
			nullTime(order.DeliveredAt),
			order.UpdatedAt,
			order.ID,
			order.Version,
			string(change.From),
		).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			exists, existsErr := orderExistsTx(ctx, tx, order.ID)
			if existsErr != nil {
				return existsErr
			}
			if !exists {
				return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, order.ID)
			}
			return fmt.Errorf("%w: %s", domain.ErrOrderVersionConflict, order.ID)
		}
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		change.OrderID = order.ID
		if err := insertHistoryTx(ctx, tx, change); err != nil {
			return err
		}
		if err := insertOutboxTx(ctx, tx, outbox); err != nil {
			return err
		}

		saved = order.Clone()
		saved.Version = version
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return saved, nil
}

func (r *orderRepository) History(ctx context.Context, orderID string) ([]domain.StatusChange, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.store.db.QueryContext(ctx, `
		SELECT order_id, from_status, to_status, actor_id, occurred_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order history: %w", err)
	}
	defer rows.Close()

	history := make([]domain.StatusChange, 0)
	for rows.Next() {
		var (
			change   domain.StatusChange
			from, to string
		)
		if err := rows.Scan(&change.OrderID, &from, &to, &change.ActorID, &change.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan order history: %w", err)
		}
		change.From = domain.OrderStatus(from)
		change.To = domain.OrderStatus(to)
		change.OccurredAt = change.OccurredAt.UTC()
		history = append(history, change)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order history: %w", err)
	}

	if len(history) == 0 {
		var exists bool
		if err := r.store.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check order exists: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
		}
	}
	return history, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT menu_item_id, name, unit_price_minor, quantity, subtotal_minor
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.MenuItemID, &item.Name, &item.UnitPriceMinor, &item.Quantity, &item.SubtotalMinor); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order       domain.Order
		status      string
		confirmedAt sql.NullTime
		deliveredAt sql.NullTime
	)
	if err := row.Scan(
		&order.ID,
		&order.CustomerID,
		&order.RestaurantID,
		&order.RestaurantName,
		&status,
		&order.DeliveryAddress,
		&order.Currency,
		&order.TotalMinor,
		&order.Version,
		&order.CreatedAt,
		&confirmedAt,
		&deliveredAt,
		&order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}

	parsed, err := domain.ParseOrderStatus(status)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s: %w", order.ID, err)
	}
	order.Status = parsed
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	order.ConfirmedAt = timePtr(confirmedAt)
	order.DeliveredAt = timePtr(deliveredAt)
	return order, nil
}

func insertHistoryTx(ctx context.Context, tx *sql.Tx, change domain.StatusChange) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, from_status, to_status, actor_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`, change.OrderID, string(change.From), string(change.To), change.ActorID, change.OccurredAt); err != nil {
		return fmt.Errorf("insert order history: %w", err)
	}
	return nil
}

func orderExistsTx(ctx context.Context, tx *sql.Tx, orderID string) (bool, error) {
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check order exists: %w", err)
	}
	return exists, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && strings.EqualFold(pgErr.Code, pgUniqueViolation)
}

var _ domain.OrderRepository = (*orderRepository)(nil)
