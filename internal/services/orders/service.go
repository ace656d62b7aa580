package orders

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/lidercargo/cargotrack/internal/apperrors"
	"github.com/lidercargo/cargotrack/internal/broker/messages"
	"github.com/lidercargo/cargotrack/internal/cache"
	"github.com/lidercargo/cargotrack/internal/models"
	"github.com/lidercargo/cargotrack/internal/statusflow"
)

type Repository interface {
	// GetOrderWithEvents возвращает apperrors.ErrNotFound для неизвестного
	// трек-номера. События — в порядке возрастания времени.
	GetOrderWithEvents(ctx context.Context, trackingNumber string) (*models.Order, []*models.TrackingEvent, error)
	ListOrdersByUser(ctx context.Context, userID uint64) ([]*models.Order, error)
	// LastEvents — последнее событие каждого заказа из orderIDs.
	LastEvents(ctx context.Context, orderIDs []uint64) (map[uint64]*models.TrackingEvent, error)
}

// Service — читающая сторона: публичный трекинг по номеру и список
// заказов клиента. Вьюха трекинга кэшируется; кэш освежается консюмером
// по сообщениям order.updated.
type Service struct {
	repo  Repository
	cache cache.BytesCache
	ttl   time.Duration
}

// New: cache == nil или ttl == 0 выключают кэширование.
func New(repo Repository, c cache.BytesCache, ttl time.Duration) *Service {
	return &Service{repo: repo, cache: c, ttl: ttl}
}

type EventView struct {
	ID        uint64    `json:"id"`
	Status    string    `json:"status"`
	Location  string    `json:"location,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type OrderView struct {
	ID             uint64      `json:"id"`
	TrackingNumber string      `json:"tracking_number"`
	Description    string      `json:"description,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	LastStatus     string      `json:"last_status,omitempty"`
	Progress       int         `json:"progress"`
	ProgressTotal  int         `json:"progress_total"`
	Events         []EventView `json:"events"`
}

type OrderSummary struct {
	ID             uint64    `json:"id"`
	TrackingNumber string    `json:"tracking_number"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastStatus     string    `json:"last_status,omitempty"`
}

func cacheKey(trackingNumber string) string {
	return "order:" + trackingNumber + ":view"
}

/// Track собирает вьюху заказа по трек-номеру. Публичная операция:
// ни владение, ни аутентификация не требуются.
func (s *Service) Track(ctx context.Context, trackingNumber string) (*OrderView, error) {
	tn := strings.TrimSpace(trackingNumber)
	if tn == "" {
		return nil, errors.Wrap(apperrors.ErrValidation, "tracking number is empty")
	}

	if s.cacheEnabled() {
		if b, ok, err := s.cache.Get(ctx, cacheKey(tn)); err == nil && ok {
			var v OrderView
			if json.Unmarshal(b, &v) == nil {
				return &v, nil
			}
		}
	}

	v, err := s.load(ctx, tn)
	if err != nil {
		return nil, err
	}
	s.store(ctx, tn, v)
	return v, nil
}

// ListByUser — заказы клиента с последним статусом каждого.
func (s *Service) ListByUser(ctx context.Context, userID uint64) ([]*OrderSummary, error) {
	if userID == 0 {
		return nil, errors.Wrap(apperrors.ErrValidation, "user id is empty")
	}

	list, err := s.repo.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return []*OrderSummary{}, nil
	}

	ids := make([]uint64, 0, len(list))
	for _, o := range list {
		ids = append(ids, o.ID)
	}
	last, err := s.repo.LastEvents(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]*OrderSummary, 0, len(list))
	for _, o := range list {
		sum := &OrderSummary{
			ID:             o.ID,
			TrackingNumber: o.TrackingNumber,
			Description:    o.Description,
			CreatedAt:      o.CreatedAt,
		}
		if ev := last[o.ID]; ev != nil {
			sum.LastStatus = ev.Status
		}
		out = append(out, sum)
	}
	return out, nil
}

// ApplyUpdate освежает кэш по сообщению из брокера. Ошибки перечитывания
// не фатальны: на промахе Track сходит в БД сам.
func (s *Service) ApplyUpdate(ctx context.Context, msg messages.OrderUpdated) error {
	if msg.TrackingNumber == "" {
		return errors.Wrap(apperrors.ErrValidation, "tracking number is empty")
	}
	if !s.cacheEnabled() {
		return nil
	}

	v, err := s.load(ctx, msg.TrackingNumber)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return s.cache.Delete(ctx, cacheKey(msg.TrackingNumber))
		}
		slog.Warn("refresh order view", "tracking_number", msg.TrackingNumber, "error", err.Error())
		return nil
	}
	s.store(ctx, msg.TrackingNumber, v)
	return nil
}

func (s *Service) load(ctx context.Context, tn string) (*OrderView, error) {
	order, events, err := s.repo.GetOrderWithEvents(ctx, tn)
	if err != nil {
		return nil, err
	}

	v := &OrderView{
		ID:             order.ID,
		TrackingNumber: order.TrackingNumber,
		Description:    order.Description,
		CreatedAt:      order.CreatedAt,
		Progress:       statusflow.Progress(events),
		ProgressTotal:  statusflow.Terminal,
		Events:         make([]EventView, 0, len(events)),
	}
	for _, e := range events {
		v.Events = append(v.Events, EventView{
			ID:        e.ID,
			Status:    e.Status,
			Location:  e.Location,
			Timestamp: e.EventTime,
		})
	}
	if n := len(events); n > 0 {
		v.LastStatus = events[n-1].Status
	}
	return v, nil
}

func (s *Service) store(ctx context.Context, tn string, v *OrderView) {
	if !s.cacheEnabled() {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	// ошибка Set не мешает отдать ответ
	_ = s.cache.Set(ctx, cacheKey(tn), b, s.ttl)
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.ttl > 0
}
