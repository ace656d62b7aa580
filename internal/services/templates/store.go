// Package templates — справочник шаблонов авто-статусов по фазам.
package templates

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/lidercargo/cargotrack/internal/apperrors"
	"github.com/lidercargo/cargotrack/internal/cache"
	"github.com/lidercargo/cargotrack/internal/models"
)

type Repository interface {
	ActiveByPhase(ctx context.Context, phase models.Phase) ([]*models.AutoStatusTemplate, error)
	List(ctx context.Context) ([]*models.AutoStatusTemplate, error)
	Upsert(ctx context.Context, t *models.AutoStatusTemplate) error
}

// Store читает шаблоны сквозь кэш: справочник меняется редко, а читается
// на каждом сканировании. Кэш best-effort — при недоступном redis просто
// идём в БД.
type Store struct {
	repo  Repository
	cache cache.BytesCache
	ttl   time.Duration
}

func New(repo Repository, c cache.BytesCache, ttl time.Duration) *Store {
	return &Store{repo: repo, cache: c, ttl: ttl}
}

func (s *Store) ActiveByPhase(ctx context.Context, phase models.Phase) ([]*models.AutoStatusTemplate, error) {
	if !models.ValidPhase(phase) {
		return nil, errors.Wrapf(apperrors.ErrValidation, "unknown phase %q", phase)
	}

	key := phaseKey(phase)
	if s.cache != nil && s.ttl > 0 {
		if b, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var out []*models.AutoStatusTemplate
			if json.Unmarshal(b, &out) == nil {
				return out, nil
			}
		}
	}

	out, err := s.repo.ActiveByPhase(ctx, phase)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && s.ttl > 0 {
		if b, err := json.Marshal(out); err == nil {
			_ = s.cache.Set(ctx, key, b, s.ttl)
		}
	}
	return out, nil
}

func (s *Store) List(ctx context.Context) ([]*models.AutoStatusTemplate, error) {
	return s.repo.List(ctx)
}

// Upsert сохраняет шаблон и сбрасывает кэш его фазы.
func (s *Store) Upsert(ctx context.Context, t *models.AutoStatusTemplate) error {
	if !models.ValidPhase(t.Phase) {
		return errors.Wrapf(apperrors.ErrValidation, "unknown phase %q", t.Phase)
	}
	if t.TemplateText == "" {
		return errors.Wrap(apperrors.ErrValidation, "template text is empty")
	}
	if t.OffsetMinutes < 0 {
		return errors.Wrap(apperrors.ErrValidation, "offset must be >= 0")
	}

	if err := s.repo.Upsert(ctx, t); err != nil {
		return err
	}
	if s.cache != nil && s.ttl > 0 {
		_ = s.cache.Delete(ctx, phaseKey(t.Phase))
	}
	return nil
}

func phaseKey(phase models.Phase) string {
	return fmt.Sprintf("templates:%s:active", phase)
}
