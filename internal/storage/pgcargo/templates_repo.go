package pgcargo

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/lidercargo/cargotrack/internal/models"
)

func (s *Storage) ActiveByPhase(ctx context.Context, phase models.Phase) ([]*models.AutoStatusTemplate, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, phase, order_index, template_text, offset_minutes, is_active
FROM auto_status_templates
WHERE phase = $1 AND is_active
ORDER BY order_index ASC
`, string(phase))
	if err != nil {
		return nil, errors.Wrap(err, "select templates")
	}
	defer rows.Close()

	return collectTemplates(rows)
}

func (s *Storage) List(ctx context.Context) ([]*models.AutoStatusTemplate, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, phase, order_index, template_text, offset_minutes, is_active
FROM auto_status_templates
ORDER BY phase ASC, order_index ASC
`)
	if err != nil {
		return nil, errors.Wrap(err, "select templates")
	}
	defer rows.Close()

	return collectTemplates(rows)
}

func (s *Storage) Upsert(ctx context.Context, t *models.AutoStatusTemplate) error {
	err := s.db.QueryRow(ctx, `
INSERT INTO auto_status_templates (phase, order_index, template_text, offset_minutes, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5, now(), now())
ON CONFLICT (phase, order_index)
DO UPDATE SET
  template_text = EXCLUDED.template_text,
  offset_minutes = EXCLUDED.offset_minutes,
  is_active = EXCLUDED.is_active,
  updated_at = now()
RETURNING id
`, string(t.Phase), t.OrderIndex, t.TemplateText, t.OffsetMinutes, t.IsActive).Scan(&t.ID)
	return errors.Wrap(err, "upsert template")
}

func collectTemplates(rows pgx.Rows) ([]*models.AutoStatusTemplate, error) {
	var out []*models.AutoStatusTemplate
	for rows.Next() {
		var t models.AutoStatusTemplate
		var phase string
		if err := rows.Scan(&t.ID, &phase, &t.OrderIndex, &t.TemplateText, &t.OffsetMinutes, &t.IsActive); err != nil {
			return nil, errors.Wrap(err, "scan template")
		}
		t.Phase = models.Phase(phase)
		out = append(out, &t)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
