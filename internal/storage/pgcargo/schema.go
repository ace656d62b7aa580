package pgcargo

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS warehouses_cn (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  address_cn TEXT NOT NULL,
  contact_name TEXT NOT NULL DEFAULT '',
  contact_phone TEXT NOT NULL DEFAULT '',
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS pickup_points (
  id BIGSERIAL PRIMARY KEY,
  name_ru TEXT NOT NULL,
  name_kg TEXT NOT NULL DEFAULT '',
  address TEXT NOT NULL DEFAULT '',
  code_label TEXT NOT NULL,
  region_code TEXT NOT NULL,
  branch_code TEXT NOT NULL,
  default_cn_warehouse_id BIGINT NULL REFERENCES warehouses_cn(id) ON DELETE SET NULL,
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		// Уникальности на (region_code, branch_code) нет сознательно:
		// в одном филиале может быть несколько ПВЗ.
		`CREATE INDEX IF NOT EXISTS idx_pickup_points_codes ON pickup_points(region_code, branch_code)`,
		`
CREATE TABLE IF NOT EXISTS users (
  id BIGSERIAL PRIMARY KEY,
  full_name TEXT NOT NULL,
  phone TEXT NOT NULL,
  email TEXT NULL,
  password_hash TEXT NOT NULL,
  api_token TEXT NOT NULL DEFAULT '',
  pickup_point_id BIGINT NULL REFERENCES pickup_points(id),
  rack INT NOT NULL DEFAULT 1,
  cell INT NOT NULL DEFAULT 1,
  lc_number TEXT NOT NULL DEFAULT '',
  client_code TEXT NOT NULL DEFAULT '',
  region_code TEXT NOT NULL DEFAULT '',
  is_blocked BOOLEAN NOT NULL DEFAULT FALSE,
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  is_employee BOOLEAN NOT NULL DEFAULT FALSE,
  is_staff BOOLEAN NOT NULL DEFAULT FALSE,
  is_superuser BOOLEAN NOT NULL DEFAULT FALSE,
  date_joined TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (phone)
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_users_email ON users(lower(email)) WHERE email IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_users_client_code ON users(client_code) WHERE client_code <> ''`,
		`CREATE INDEX IF NOT EXISTS idx_users_api_token ON users(api_token) WHERE api_token <> ''`,
		`
CREATE TABLE IF NOT EXISTS client_code_counters (
  pickup_point_id BIGINT PRIMARY KEY REFERENCES pickup_points(id) ON DELETE CASCADE,
  last_number INT NOT NULL DEFAULT 0,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS orders (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NULL REFERENCES users(id) ON DELETE CASCADE,
  tracking_number TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  next_sweep_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (tracking_number)
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_next_sweep_at ON orders(next_sweep_at) WHERE next_sweep_at IS NOT NULL`,
		`
CREATE TABLE IF NOT EXISTS tracking_events (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  status_tag TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  location TEXT NOT NULL DEFAULT '',
  actor_id BIGINT NULL REFERENCES users(id) ON DELETE SET NULL,
  event_time TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_events_order_id_event_time ON tracking_events(order_id, event_time)`,
		// Дедупликация авто-событий: один текст на заказ.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_tracking_events_auto ON tracking_events(order_id, status) WHERE location = '(auto)'`,
		`
CREATE TABLE IF NOT EXISTS auto_status_templates (
  id BIGSERIAL PRIMARY KEY,
  phase TEXT NOT NULL,
  order_index INT NOT NULL,
  template_text TEXT NOT NULL,
  offset_minutes INT NOT NULL DEFAULT 0,
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (phase, order_index)
)`,
		`CREATE INDEX IF NOT EXISTS idx_auto_status_templates_phase ON auto_status_templates(phase) WHERE is_active`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
