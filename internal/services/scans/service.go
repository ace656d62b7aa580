// Package scans — машина статусов заказа: применение ручных сканирований
// и ленивое дозревание авто-событий.
package scans

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/lidercargo/cargotrack/internal/apperrors"
	"github.com/lidercargo/cargotrack/internal/broker/messages"
	"github.com/lidercargo/cargotrack/internal/models"
	"github.com/lidercargo/cargotrack/internal/render"
	"github.com/lidercargo/cargotrack/internal/statusflow"
)

// OrderTx — операции над одним заказом под эксклюзивной блокировкой его
// строки. Всё, что делает fn в WithOrderTx, сериализовано по заказу.
type OrderTx interface {
	Order() *models.Order
	Events(ctx context.Context) ([]*models.TrackingEvent, error)
	InsertEvent(ctx context.Context, e *models.TrackingEvent) error
	SetDescription(ctx context.Context, desc string) error
	SetNextSweepAt(ctx context.Context, at *time.Time) error
	// UserPickupPoint — ПВЗ пользователя и склад CN по умолчанию этого ПВЗ.
	// (nil, nil, nil), если у пользователя нет ПВЗ.
	UserPickupPoint(ctx context.Context, userID uint64) (*models.PickupPoint, *models.WarehouseCN, error)
}

type Repository interface {
	// WithOrderTx захватывает блокировку строки заказа (создавая заказ при
	// create=true, если трек ещё не встречался) и выполняет fn в транзакции.
	// Блокировки разных треков независимы.
	WithOrderTx(ctx context.Context, trackingNumber string, create bool, fn func(tx OrderTx) error) error
}

type TemplateSource interface {
	ActiveByPhase(ctx context.Context, phase models.Phase) ([]*models.AutoStatusTemplate, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

const DefaultCooldown = 5 * time.Minute

type Service struct {
	repo      Repository
	templates TemplateSource
	cooldown  time.Duration

	producer Producer
	topic    string

	now func() time.Time
}

func New(repo Repository, templates TemplateSource, cooldown time.Duration) *Service {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Service{
		repo:      repo,
		templates: templates,
		cooldown:  cooldown,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithProducer включает публикацию order.updated после успешных изменений.
func (s *Service) WithProducer(p Producer, topic string) *Service {
	s.producer = p
	s.topic = topic
	return s
}

// WithClock подменяет источник времени (для тестов).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type ScanRequest struct {
	TrackingNumber string
	Location       string
	Description    string
	Actor          *models.User
	// StrictCooldown: true — не истёкший кулдаун отдаётся ошибкой ErrThrottled;
	// false (по умолчанию) — тихий no-op, удобный для автоматических сканеров.
	StrictCooldown bool
}

type ScanResult struct {
	Order *models.Order
	// Event == nil: либо Throttled, либо заказ уже на терминальном статусе.
	Event     *models.TrackingEvent
	Throttled bool
	// AutoEvents — дозревшие при этом сканировании авто-события.
	AutoEvents []*models.TrackingEvent
}

// HandleScan применяет одно сканирование. Создаёт заказ при первом
// появлении трек-номера (владелец не назначается), проверяет кулдаун,
// добавляет следующее по потоку ручное событие и дозревает авто-события.
func (s *Service) HandleScan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	tn := strings.TrimSpace(req.TrackingNumber)
	if tn == "" {
		return nil, errors.Wrap(apperrors.ErrValidation, "tracking number is empty")
	}
	if len(tn) > models.TrackNumberMaxLength {
		return nil, errors.Wrapf(apperrors.ErrValidation, "tracking number longer than %d chars", models.TrackNumberMaxLength)
	}
	if req.Actor != nil && !req.Actor.CanScan() {
		return nil, errors.Wrap(apperrors.ErrForbidden, "actor is not allowed to scan")
	}

	res := &ScanResult{}
	err := s.repo.WithOrderTx(ctx, tn, true, func(tx OrderTx) error {
		return s.applyScan(ctx, tx, req, res)
	})
	if err != nil {
		return nil, err
	}

	if res.Event != nil || len(res.AutoEvents) > 0 {
		s.publishUpdated(ctx, res, "scan")
	}
	return res, nil
}

func (s *Service) applyScan(ctx context.Context, tx OrderTx, req ScanRequest, res *ScanResult) error {
	order := tx.Order()
	res.Order = order

	if req.Description != "" && order.Description == "" {
		if err := tx.SetDescription(ctx, req.Description); err != nil {
			return err
		}
		order.Description = req.Description
	}

	events, err := tx.Events(ctx)
	if err != nil {
		return err
	}

	now := s.now()
	if last := lastManual(events); last != nil && now.Sub(last.EventTime) < s.cooldown {
		if req.StrictCooldown {
			return errors.Wrapf(apperrors.ErrThrottled,
				"cooldown not elapsed for %s", order.TrackingNumber)
		}
		res.Throttled = true
		return nil
	}

	progress := statusflow.Progress(events)
	next, ok := statusflow.NextTag(progress)
	if !ok {
		// Заказ уже прошёл весь поток: повторный скан — идемпотентный no-op.
		return nil
	}

	rctx, err := s.renderContext(ctx, tx, req.Actor)
	if err != nil {
		return err
	}

	text := statusText(next, rctx)
	ev := &models.TrackingEvent{
		OrderID:   order.ID,
		StatusTag: next,
		Status:    text,
		Location:  req.Location,
		EventTime: now,
	}
	if req.Actor != nil {
		id := req.Actor.ID
		ev.ActorID = &id
	}
	if err := tx.InsertEvent(ctx, ev); err != nil {
		return err
	}
	res.Event = ev
	events = append(events, ev)

	return s.materializeDue(ctx, tx, events, next, ev.EventTime, rctx, res)
}

// EvaluateDue — явная переоценка дозревших авто-событий без нового
// сканирования (её же гоняет sweeper). Фаза берётся у последнего ручного
// события. Возвращает число созданных событий.
func (s *Service) EvaluateDue(ctx context.Context, trackingNumber string) (*ScanResult, error) {
	tn := strings.TrimSpace(trackingNumber)
	if tn == "" {
		return nil, errors.Wrap(apperrors.ErrValidation, "tracking number is empty")
	}

	res := &ScanResult{}
	err := s.repo.WithOrderTx(ctx, tn, false, func(tx OrderTx) error {
		res.Order = tx.Order()

		events, err := tx.Events(ctx)
		if err != nil {
			return err
		}

		last := lastManual(events)
		if last == nil {
			return tx.SetNextSweepAt(ctx, nil)
		}
		tag := statusflow.EventTag(last)
		if tag == models.StatusTagNone {
			return tx.SetNextSweepAt(ctx, nil)
		}

		rctx, err := s.renderContext(ctx, tx, nil)
		if err != nil {
			return err
		}
		return s.materializeDue(ctx, tx, events, tag, last.EventTime, rctx, res)
	})
	if err != nil {
		return nil, err
	}

	if len(res.AutoEvents) > 0 {
		s.publishUpdated(ctx, res, "sweep")
	}
	return res, nil
}

// materializeDue создаёт дозревшие авто-события фазы, следующей за ручным
// шагом tag. Временная метка авто-события — расчётный срок (base+offset),
// а не момент вычисления: история отражает, когда веха наступила.
func (s *Service) materializeDue(
	ctx context.Context,
	tx OrderTx,
	events []*models.TrackingEvent,
	tag models.StatusTag,
	base time.Time,
	rctx render.Context,
	res *ScanResult,
) error {
	phase, ok := models.PhaseForTag(tag)
	if !ok {
		return tx.SetNextSweepAt(ctx, nil)
	}

	tmpls, err := s.templates.ActiveByPhase(ctx, phase)
	if err != nil {
		return err
	}

	now := s.now()
	var nextDue *time.Time
	for _, t := range tmpls {
		due := base.Add(time.Duration(t.OffsetMinutes) * time.Minute)
		if due.After(now) {
			// Ещё не срок: дозреет на следующем скане или по sweep'у.
			if nextDue == nil || due.Before(*nextDue) {
				d := due
				nextDue = &d
			}
			continue
		}

		text := render.Render(t.TemplateText, rctx)
		if statusflow.HasStatusText(events, text) {
			continue
		}

		auto := &models.TrackingEvent{
			OrderID:   tx.Order().ID,
			Status:    text,
			Location:  models.AutoEventLocation,
			EventTime: due,
		}
		if err := tx.InsertEvent(ctx, auto); err != nil {
			return err
		}
		events = append(events, auto)
		res.AutoEvents = append(res.AutoEvents, auto)
	}

	return tx.SetNextSweepAt(ctx, nextDue)
}

// renderContext: ПВЗ берём у владельца заказа, при его отсутствии —
// у сканирующего сотрудника, иначе пустые строки.
func (s *Service) renderContext(ctx context.Context, tx OrderTx, actor *models.User) (render.Context, error) {
	order := tx.Order()

	var pp *models.PickupPoint
	var wh *models.WarehouseCN
	var err error

	if order.UserID != nil {
		pp, wh, err = tx.UserPickupPoint(ctx, *order.UserID)
		if err != nil {
			return render.Context{}, err
		}
	}
	if pp == nil && actor != nil {
		pp, wh, err = tx.UserPickupPoint(ctx, actor.ID)
		if err != nil {
			return render.Context{}, err
		}
	}

	return render.NewContext(order.TrackingNumber, pp, wh), nil
}

func statusText(tag models.StatusTag, rctx render.Context) string {
	switch tag {
	case models.StatusTagWarehouseCN:
		return models.StatusTextWarehouseCN
	case models.StatusTagDispatched:
		return models.StatusTextDispatched
	case models.StatusTagArrivedPVZ:
		return render.Render(models.ArrivedTemplate, rctx)
	case models.StatusTagCollected:
		return models.StatusTextCollected
	}
	return string(tag)
}

func lastManual(events []*models.TrackingEvent) *models.TrackingEvent {
	var last *models.TrackingEvent
	for _, e := range events {
		if !e.IsManual() {
			continue
		}
		if last == nil || e.EventTime.After(last.EventTime) || (e.EventTime.Equal(last.EventTime) && e.ID > last.ID) {
			last = e
		}
	}
	return last
}

// publishUpdated — best-effort уведомление после коммита; сканирование
// не должно падать из-за недоступного брокера.
func (s *Service) publishUpdated(ctx context.Context, res *ScanResult, source string) {
	if s.producer == nil || s.topic == "" || res.Order == nil {
		return
	}
	n := len(res.AutoEvents)
	if res.Event != nil {
		n++
	}
	msg := messages.OrderUpdated{
		OrderID:        res.Order.ID,
		TrackingNumber: res.Order.TrackingNumber,
		UpdatedAt:      s.now(),
		Source:         source,
		NewEvents:      n,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := s.producer.Publish(ctx, s.topic, []byte(res.Order.TrackingNumber), b); err != nil {
		slog.Warn("publish order.updated", "tracking_number", res.Order.TrackingNumber, "error", err.Error())
	}
}
