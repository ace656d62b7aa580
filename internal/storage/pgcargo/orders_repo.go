package pgcargo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/lidercargo/cargotrack/internal/apperrors"
	"github.com/lidercargo/cargotrack/internal/models"
	"github.com/lidercargo/cargotrack/internal/services/claims"
	"github.com/lidercargo/cargotrack/internal/services/scans"
)

const orderColumns = `id, user_id, tracking_number, description, next_sweep_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	if err := row.Scan(
		&o.ID, &o.UserID, &o.TrackingNumber, &o.Description,
		&o.NextSweepAt, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &o, nil
}

// WithOrderTx выполняет fn над заказом, залоченным через SELECT FOR UPDATE.
// При create заказ создаётся, если трек-номер ещё не встречался; гонка двух
// первых сканов решается через ON CONFLICT DO NOTHING и последующий лок.
func (s *Storage) WithOrderTx(ctx context.Context, trackingNumber string, create bool, fn func(tx scans.OrderTx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if create {
		_, err := tx.Exec(ctx, `
INSERT INTO orders (tracking_number, created_at, updated_at)
VALUES ($1, now(), now())
ON CONFLICT (tracking_number) DO NOTHING
`, trackingNumber)
		if err != nil {
			return errors.Wrap(err, "insert order")
		}
	}

	order, err := scanOrder(tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE tracking_number = $1 FOR UPDATE`,
		trackingNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errors.Wrapf(apperrors.ErrNotFound, "order %s", trackingNumber)
		}
		return errors.Wrap(err, "lock order")
	}

	if err := fn(&orderTx{tx: tx, order: order}); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

type orderTx struct {
	tx    pgx.Tx
	order *models.Order
}

func (t *orderTx) Order() *models.Order { return t.order }

func (t *orderTx) Events(ctx context.Context) ([]*models.TrackingEvent, error) {
	rows, err := t.tx.Query(ctx, `
SELECT id, order_id, status_tag, status, location, actor_id, event_time, created_at
FROM tracking_events
WHERE order_id = $1
ORDER BY event_time ASC, id ASC
`, t.order.ID)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	var out []*models.TrackingEvent
	for rows.Next() {
		var e models.TrackingEvent
		if err := rows.Scan(
			&e.ID, &e.OrderID, &e.StatusTag, &e.Status,
			&e.Location, &e.ActorID, &e.EventTime, &e.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (t *orderTx) InsertEvent(ctx context.Context, e *models.TrackingEvent) error {
	// ON CONFLICT прикрывает гонку двух sweeper'ов вокруг одного
	// авто-события; для ручных событий конфликт невозможен.
	err := t.tx.QueryRow(ctx, `
INSERT INTO tracking_events (order_id, status_tag, status, location, actor_id, event_time, created_at)
VALUES ($1,$2,$3,$4,$5,$6, now())
ON CONFLICT DO NOTHING
RETURNING id, created_at
`, e.OrderID, e.StatusTag, e.Status, e.Location, e.ActorID, e.EventTime.UTC()).Scan(&e.ID, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return errors.Wrap(err, "insert event")
}

func (t *orderTx) SetDescription(ctx context.Context, desc string) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE orders SET description = $2, updated_at = now() WHERE id = $1`,
		t.order.ID, desc)
	return errors.Wrap(err, "set description")
}

func (t *orderTx) SetNextSweepAt(ctx context.Context, at *time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE orders SET next_sweep_at = $2, updated_at = now() WHERE id = $1`,
		t.order.ID, at)
	return errors.Wrap(err, "set next sweep at")
}

func (t *orderTx) UserPickupPoint(ctx context.Context, userID uint64) (*models.PickupPoint, *models.WarehouseCN, error) {
	row := t.tx.QueryRow(ctx, `
SELECT
  p.id, p.name_ru, p.name_kg, p.address, p.code_label,
  p.region_code, p.branch_code, p.default_cn_warehouse_id, p.is_active,
  p.created_at, p.updated_at,
  w.id, w.name, w.address_cn, w.contact_name, w.contact_phone, w.is_active,
  w.created_at, w.updated_at
FROM users u
JOIN pickup_points p ON p.id = u.pickup_point_id
LEFT JOIN warehouses_cn w ON w.id = p.default_cn_warehouse_id
WHERE u.id = $1
`, userID)

	var p models.PickupPoint
	var whID *uint64
	var whName, whAddr, whContactName, whContactPhone *string
	var whActive *bool
	var whCreated, whUpdated *time.Time
	err := row.Scan(
		&p.ID, &p.NameRU, &p.NameKG, &p.Address, &p.CodeLabel,
		&p.RegionCode, &p.BranchCode, &p.DefaultCNWarehouseID, &p.IsActive,
		&p.CreatedAt, &p.UpdatedAt,
		&whID, &whName, &whAddr, &whContactName, &whContactPhone, &whActive,
		&whCreated, &whUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// пользователь без ПВЗ — не ошибка, просто нет контекста
			return nil, nil, nil
		}
		return nil, nil, errors.Wrap(err, "select user pickup point")
	}

	var wh *models.WarehouseCN
	if whID != nil {
		wh = &models.WarehouseCN{
			ID: *whID, Name: *whName, AddressCN: *whAddr,
			ContactName: *whContactName, ContactPhone: *whContactPhone,
			IsActive: *whActive, CreatedAt: *whCreated, UpdatedAt: *whUpdated,
		}
	}
	return &p, wh, nil
}

// WithOrderClaim — тот же row-lock, но без создания заказа: claim
// несуществующего трека отдаёт ErrNotFound.
func (s *Storage) WithOrderClaim(ctx context.Context, trackingNumber string, fn func(tx claims.OrderClaim) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	order, err := scanOrder(tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE tracking_number = $1 FOR UPDATE`,
		trackingNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errors.Wrapf(apperrors.ErrNotFound, "order %s", trackingNumber)
		}
		return errors.Wrap(err, "lock order")
	}

	if err := fn(&orderClaim{tx: tx, order: order}); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

type orderClaim struct {
	tx    pgx.Tx
	order *models.Order
}

func (c *orderClaim) Order() *models.Order { return c.order }

func (c *orderClaim) SetOwner(ctx context.Context, userID uint64) error {
	_, err := c.tx.Exec(ctx,
		`UPDATE orders SET user_id = $2, updated_at = now() WHERE id = $1`,
		c.order.ID, userID)
	return errors.Wrap(err, "set owner")
}

func (s *Storage) GetOrderByTrackingNumber(ctx context.Context, trackingNumber string) (*models.Order, error) {
	order, err := scanOrder(s.db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE tracking_number = $1`,
		trackingNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(apperrors.ErrNotFound, "order %s", trackingNumber)
		}
		return nil, errors.Wrap(err, "select order")
	}
	return order, nil
}

func (s *Storage) GetOrderWithEvents(ctx context.Context, trackingNumber string) (*models.Order, []*models.TrackingEvent, error) {
	order, err := s.GetOrderByTrackingNumber(ctx, trackingNumber)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.Query(ctx, `
SELECT id, order_id, status_tag, status, location, actor_id, event_time, created_at
FROM tracking_events
WHERE order_id = $1
ORDER BY event_time ASC, id ASC
`, order.ID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	var events []*models.TrackingEvent
	for rows.Next() {
		var e models.TrackingEvent
		if err := rows.Scan(
			&e.ID, &e.OrderID, &e.StatusTag, &e.Status,
			&e.Location, &e.ActorID, &e.EventTime, &e.CreatedAt,
		); err != nil {
			return nil, nil, errors.Wrap(err, "scan event")
		}
		events = append(events, &e)
	}
	if rows.Err() != nil {
		return nil, nil, errors.Wrap(rows.Err(), "rows")
	}
	return order, events, nil
}

func (s *Storage) ListOrdersByUser(ctx context.Context, userID uint64) ([]*models.Order, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, errors.Wrap(err, "select orders")
	}
	defer rows.Close()

	out := []*models.Order{}
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(
			&o.ID, &o.UserID, &o.TrackingNumber, &o.Description,
			&o.NextSweepAt, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, &o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) LastEvents(ctx context.Context, orderIDs []uint64) (map[uint64]*models.TrackingEvent, error) {
	if len(orderIDs) == 0 {
		return map[uint64]*models.TrackingEvent{}, nil
	}

	rows, err := s.db.Query(ctx, `
SELECT DISTINCT ON (order_id)
  id, order_id, status_tag, status, location, actor_id, event_time, created_at
FROM tracking_events
WHERE order_id = ANY($1)
ORDER BY order_id, event_time DESC, id DESC
`, orderIDs)
	if err != nil {
		return nil, errors.Wrap(err, "select last events")
	}
	defer rows.Close()

	out := make(map[uint64]*models.TrackingEvent, len(orderIDs))
	for rows.Next() {
		var e models.TrackingEvent
		if err := rows.Scan(
			&e.ID, &e.OrderID, &e.StatusTag, &e.Status,
			&e.Location, &e.ActorID, &e.EventTime, &e.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		out[e.OrderID] = &e
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ClaimDueOrders выбирает пачку заказов с дозревшими авто-событиями и
// "бронирует" их сдвигом next_sweep_at на lease, чтобы они не попали в
// повторную выборку, пока sweeper их обрабатывает.
// Использует SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimDueOrders(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Order, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT `+orderColumns+`
FROM orders
WHERE next_sweep_at IS NOT NULL
  AND next_sweep_at <= $1
ORDER BY next_sweep_at ASC
LIMIT $2
FOR UPDATE SKIP LOCKED
`, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due orders")
	}
	defer rows.Close()

	var picked []*models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(
			&o.ID, &o.UserID, &o.TrackingNumber, &o.Description,
			&o.NextSweepAt, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan due order")
		}
		picked = append(picked, &o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, o := range picked {
		_, err := tx.Exec(ctx,
			`UPDATE orders SET next_sweep_at = $2, updated_at = now() WHERE id = $1`,
			o.ID, leaseUntil)
		if err != nil {
			return nil, errors.Wrap(err, "lease order")
		}
		o.NextSweepAt = &leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}
