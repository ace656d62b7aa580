package pgcargo

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"github.com/lidercargo/cargotrack/internal/apperrors"
	"github.com/lidercargo/cargotrack/internal/models"
)

const userColumns = `
  id, full_name, phone, email, password_hash, api_token,
  pickup_point_id, rack, cell, lc_number, client_code, region_code,
  is_blocked, is_active, is_employee, is_staff, is_superuser,
  date_joined, updated_at`

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(
		&u.ID, &u.FullName, &u.Phone, &u.Email, &u.PasswordHash, &u.APIToken,
		&u.PickupPointID, &u.Rack, &u.Cell, &u.LCNumber, &u.ClientCode, &u.RegionCode,
		&u.IsBlocked, &u.IsActive, &u.IsEmployee, &u.IsStaff, &u.IsSuperuser,
		&u.DateJoined, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Storage) CreateUser(ctx context.Context, u *models.User) error {
	err := s.db.QueryRow(ctx, `
INSERT INTO users (
  full_name, phone, email, password_hash, api_token,
  pickup_point_id, rack, cell, lc_number, client_code, region_code,
  is_blocked, is_active, is_employee, is_staff, is_superuser,
  date_joined, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16, now(), now())
RETURNING id, date_joined, updated_at
`, u.FullName, u.Phone, u.Email, u.PasswordHash, u.APIToken,
		u.PickupPointID, u.Rack, u.Cell, u.LCNumber, u.ClientCode, u.RegionCode,
		u.IsBlocked, u.IsActive, u.IsEmployee, u.IsStaff, u.IsSuperuser,
	).Scan(&u.ID, &u.DateJoined, &u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrap(apperrors.ErrConflict, "phone, email or client code already taken")
		}
		return errors.Wrap(err, "insert user")
	}
	return nil
}

func (s *Storage) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE phone = $1`, phone))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(apperrors.ErrNotFound, "user with phone %s", phone)
		}
		return nil, errors.Wrap(err, "select user")
	}
	return u, nil
}

func (s *Storage) GetUserByToken(ctx context.Context, token string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE api_token = $1 AND api_token <> ''`, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrap(apperrors.ErrNotFound, "user by token")
		}
		return nil, errors.Wrap(err, "select user")
	}
	return u, nil
}

func (s *Storage) GetUserByID(ctx context.Context, id uint64) (*models.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(apperrors.ErrNotFound, "user %d", id)
		}
		return nil, errors.Wrap(err, "select user")
	}
	return u, nil
}

func (s *Storage) UpdateUser(ctx context.Context, u *models.User) error {
	_, err := s.db.Exec(ctx, `
UPDATE users
SET
  full_name = $2,
  email = $3,
  pickup_point_id = $4,
  rack = $5,
  cell = $6,
  lc_number = $7,
  client_code = $8,
  region_code = $9,
  is_blocked = $10,
  is_active = $11,
  updated_at = now()
WHERE id = $1
`, u.ID, u.FullName, u.Email, u.PickupPointID, u.Rack, u.Cell,
		u.LCNumber, u.ClientCode, u.RegionCode, u.IsBlocked, u.IsActive)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrap(apperrors.ErrConflict, "email or client code already taken")
		}
		return errors.Wrap(err, "update user")
	}
	return nil
}

func (s *Storage) SetAPIToken(ctx context.Context, userID uint64, token string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE users SET api_token = $2, updated_at = now() WHERE id = $1`,
		userID, token)
	return errors.Wrap(err, "set api token")
}

func (s *Storage) GetPickupPoint(ctx context.Context, id uint64) (*models.PickupPoint, error) {
	var p models.PickupPoint
	err := s.db.QueryRow(ctx, `
SELECT id, name_ru, name_kg, address, code_label, region_code, branch_code,
       default_cn_warehouse_id, is_active, created_at, updated_at
FROM pickup_points
WHERE id = $1
`, id).Scan(
		&p.ID, &p.NameRU, &p.NameKG, &p.Address, &p.CodeLabel,
		&p.RegionCode, &p.BranchCode, &p.DefaultCNWarehouseID, &p.IsActive,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(apperrors.ErrNotFound, "pickup point %d", id)
		}
		return nil, errors.Wrap(err, "select pickup point")
	}
	return &p, nil
}

func (s *Storage) ListPickupPoints(ctx context.Context) ([]*models.PickupPoint, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, name_ru, name_kg, address, code_label, region_code, branch_code,
       default_cn_warehouse_id, is_active, created_at, updated_at
FROM pickup_points
WHERE is_active
ORDER BY region_code ASC, branch_code ASC, id ASC
`)
	if err != nil {
		return nil, errors.Wrap(err, "select pickup points")
	}
	defer rows.Close()

	out := []*models.PickupPoint{}
	for rows.Next() {
		var p models.PickupPoint
		if err := rows.Scan(
			&p.ID, &p.NameRU, &p.NameKG, &p.Address, &p.CodeLabel,
			&p.RegionCode, &p.BranchCode, &p.DefaultCNWarehouseID, &p.IsActive,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan pickup point")
		}
		out = append(out, &p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) GetWarehouse(ctx context.Context, id uint64) (*models.WarehouseCN, error) {
	var w models.WarehouseCN
	err := s.db.QueryRow(ctx, `
SELECT id, name, address_cn, contact_name, contact_phone, is_active, created_at, updated_at
FROM warehouses_cn
WHERE id = $1
`, id).Scan(
		&w.ID, &w.Name, &w.AddressCN, &w.ContactName, &w.ContactPhone,
		&w.IsActive, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(apperrors.ErrNotFound, "warehouse %d", id)
		}
		return nil, errors.Wrap(err, "select warehouse")
	}
	return &w, nil
}

func (s *Storage) ListWarehouses(ctx context.Context) ([]*models.WarehouseCN, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, name, address_cn, contact_name, contact_phone, is_active, created_at, updated_at
FROM warehouses_cn
WHERE is_active
ORDER BY id ASC
`)
	if err != nil {
		return nil, errors.Wrap(err, "select warehouses")
	}
	defer rows.Close()

	out := []*models.WarehouseCN{}
	for rows.Next() {
		var w models.WarehouseCN
		if err := rows.Scan(
			&w.ID, &w.Name, &w.AddressCN, &w.ContactName, &w.ContactPhone,
			&w.IsActive, &w.CreatedAt, &w.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan warehouse")
		}
		out = append(out, &w)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// NextClientNumber атомарно выдаёт следующий номер LC для ПВЗ.
func (s *Storage) NextClientNumber(ctx context.Context, pickupPointID uint64) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
INSERT INTO client_code_counters (pickup_point_id, last_number, updated_at)
VALUES ($1, 1, now())
ON CONFLICT (pickup_point_id)
DO UPDATE SET last_number = client_code_counters.last_number + 1, updated_at = now()
RETURNING last_number
`, pickupPointID).Scan(&n)
	return n, errors.Wrap(err, "next client number")
}

func (s *Storage) ClientCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE client_code = $1)`, code).Scan(&exists)
	return exists, errors.Wrap(err, "client code exists")
}

// CreatePickupPoint и CreateWarehouse используются при первичном наполнении
// справочников (админ-операции и интеграционные тесты).
func (s *Storage) CreatePickupPoint(ctx context.Context, p *models.PickupPoint) error {
	err := s.db.QueryRow(ctx, `
INSERT INTO pickup_points (name_ru, name_kg, address, code_label, region_code, branch_code,
                           default_cn_warehouse_id, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now(), now())
RETURNING id, created_at, updated_at
`, p.NameRU, p.NameKG, p.Address, p.CodeLabel, p.RegionCode, p.BranchCode,
		p.DefaultCNWarehouseID, p.IsActive,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	return errors.Wrap(err, "insert pickup point")
}

func (s *Storage) CreateWarehouse(ctx context.Context, w *models.WarehouseCN) error {
	err := s.db.QueryRow(ctx, `
INSERT INTO warehouses_cn (name, address_cn, contact_name, contact_phone, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5, now(), now())
RETURNING id, created_at, updated_at
`, w.Name, w.AddressCN, w.ContactName, w.ContactPhone, w.IsActive,
	).Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt)
	return errors.Wrap(err, "insert warehouse")
}
