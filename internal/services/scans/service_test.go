package scans

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lidercargo/cargotrack/internal/apperrors"
	"github.com/lidercargo/cargotrack/internal/models"
)

// fakeRepo — заказ в памяти с той же дисциплиной, что у pg-реализации:
// fn выполняется над единственным «залоченным» заказом.
type fakeRepo struct {
	order       *models.Order
	events      []*models.TrackingEvent
	nextEventID uint64

	// ПВЗ по id пользователя
	pickups map[uint64]*models.PickupPoint
	houses  map[uint64]*models.WarehouseCN

	now func() time.Time
}

func newFakeRepo(now func() time.Time) *fakeRepo {
	return &fakeRepo{
		pickups: map[uint64]*models.PickupPoint{},
		houses:  map[uint64]*models.WarehouseCN{},
		now:     now,
	}
}

func (r *fakeRepo) WithOrderTx(ctx context.Context, tn string, create bool, fn func(tx OrderTx) error) error {
	if r.order == nil || r.order.TrackingNumber != tn {
		if r.order != nil {
			return apperrors.ErrNotFound
		}
		if !create {
			return apperrors.ErrNotFound
		}
		r.order = &models.Order{ID: 1, TrackingNumber: tn, CreatedAt: r.now()}
	}
	return fn(&fakeTx{r: r})
}

type fakeTx struct {
	r *fakeRepo
}

func (t *fakeTx) Order() *models.Order { return t.r.order }

func (t *fakeTx) Events(ctx context.Context) ([]*models.TrackingEvent, error) {
	out := make([]*models.TrackingEvent, len(t.r.events))
	copy(out, t.r.events)
	return out, nil
}

func (t *fakeTx) InsertEvent(ctx context.Context, e *models.TrackingEvent) error {
	t.r.nextEventID++
	e.ID = t.r.nextEventID
	e.CreatedAt = t.r.now()
	t.r.events = append(t.r.events, e)
	return nil
}

func (t *fakeTx) SetDescription(ctx context.Context, desc string) error {
	t.r.order.Description = desc
	return nil
}

func (t *fakeTx) SetNextSweepAt(ctx context.Context, at *time.Time) error {
	t.r.order.NextSweepAt = at
	return nil
}

func (t *fakeTx) UserPickupPoint(ctx context.Context, userID uint64) (*models.PickupPoint, *models.WarehouseCN, error) {
	return t.r.pickups[userID], t.r.houses[userID], nil
}

type fakeTemplates struct {
	byPhase map[models.Phase][]*models.AutoStatusTemplate
}

func (f *fakeTemplates) ActiveByPhase(ctx context.Context, phase models.Phase) ([]*models.AutoStatusTemplate, error) {
	return f.byPhase[phase], nil
}

type fakeProducer struct {
	topics []string
	keys   []string
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, string(key))
	return nil
}

// testClock — ручное время с шагом вперёд.
type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func employee() *models.User {
	return &models.User{ID: 42, FullName: "Айбек", IsEmployee: true}
}

func newService(t *testing.T) (*Service, *fakeRepo, *fakeTemplates, *testClock) {
	t.Helper()
	clock := newTestClock()
	repo := newFakeRepo(clock.Now)
	tmpls := &fakeTemplates{byPhase: map[models.Phase][]*models.AutoStatusTemplate{}}
	svc := New(repo, tmpls, 5*time.Minute).WithClock(clock.Now)
	return svc, repo, tmpls, clock
}

func TestHandleScan_Validation(t *testing.T) {
	svc, _, _, _ := newService(t)

	_, err := svc.HandleScan(context.Background(), ScanRequest{TrackingNumber: "   "})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.HandleScan(context.Background(), ScanRequest{TrackingNumber: strings.Repeat("A", 33)})
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestHandleScan_ActorWithoutCapability(t *testing.T) {
	svc, _, _, _ := newService(t)

	_, err := svc.HandleScan(context.Background(), ScanRequest{
		TrackingNumber: "AB123",
		Actor:          &models.User{ID: 7, FullName: "Клиент"},
	})
	require.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestHandleScan_FirstScanCreatesOrderAndWarehouseEvent(t *testing.T) {
	svc, repo, _, _ := newService(t)

	res, err := svc.HandleScan(context.Background(), ScanRequest{
		TrackingNumber: " AB123 ",
		Location:       "Склад Гуанчжоу",
		Description:    "кроссовки",
		Actor:          employee(),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Event)
	require.Equal(t, "AB123", res.Order.TrackingNumber)
	require.Nil(t, res.Order.UserID) // сканирование не назначает владельца
	require.Equal(t, "кроссовки", res.Order.Description)

	require.Equal(t, models.StatusTagWarehouseCN, res.Event.StatusTag)
	require.Equal(t, models.StatusTextWarehouseCN, res.Event.Status)
	require.Equal(t, "Склад Гуанчжоу", res.Event.Location)
	require.NotNil(t, res.Event.ActorID)
	require.Equal(t, uint64(42), *res.Event.ActorID)
	require.Len(t, repo.events, 1)
}

func TestHandleScan_CooldownSilentThenStrict(t *testing.T) {
	svc, repo, _, clock := newService(t)
	ctx := context.Background()

	_, err := svc.HandleScan(ctx, ScanRequest{TrackingNumber: "AB123", Actor: employee()})
	require.NoError(t, err)

	// минуту спустя — тихий no-op
	clock.Advance(time.Minute)
	res, err := svc.HandleScan(ctx, ScanRequest{TrackingNumber: "AB123", Actor: employee()})
	require.NoError(t, err)
	require.True(t, res.Throttled)
	require.Nil(t, res.Event)
	require.Len(t, repo.events, 1)

	// тот же момент, но strict — ошибка троттлинга
	_, err = svc.HandleScan(ctx, ScanRequest{TrackingNumber: "AB123", Actor: employee(), StrictCooldown: true})
	require.ErrorIs(t, err, apperrors.ErrThrottled)
	require.Len(t, repo.events, 1)

	// через 6 минут от первого скана — второй шаг потока
	clock.Advance(5 * time.Minute)
	res, err = svc.HandleScan(ctx, ScanRequest{TrackingNumber: "AB123", Actor: employee()})
	require.NoError(t, err)
	require.NotNil(t, res.Event)
	require.Equal(t, models.StatusTagDispatched, res.Event.StatusTag)
	require.Equal(t, models.StatusTextDispatched, res.Event.Status)
}

func TestHandleScan_CooldownIgnoresAutoEvents(t *testing.T) {
	svc, repo, tmpls, clock := newService(t)
	ctx := context.Background()

	// авто-событие с нулевым смещением дозревает сразу после первого скана
	tmpls.byPhase[models.PhaseAfterScan1] = []*models.AutoStatusTemplate{
		{ID: 1, Phase: models.PhaseAfterScan1, OrderIndex: 1, TemplateText: "Товар прошёл приёмку", OffsetMinutes: 0, IsActive: true},
	}

	_, err := svc.HandleScan(ctx, ScanRequest{TrackingNumber: "AB123", Actor: employee()})
	require.NoError(t, err)
	require.Len(t, repo.events, 2)

	// кулдаун меряется по последнему ручному событию, авто не в счёт
	clock.Advance(6 * time.Minute)
	res, err := svc.HandleScan(ctx, ScanRequest{TrackingNumber: "AB123", Actor: employee()})
	require.NoError(t, err)
	require.NotNil(t, res.Event)
}

func TestHandleScan_FullFlowAndTerminalNoop(t *testing.T) {
	svc, repo, _, clock := newService(t)
	ctx := context.Background()

	wantTags := []models.StatusTag{
		models.StatusTagWarehouseCN,
		models.StatusTagDispatched,
		models.StatusTagArrivedPVZ,
		models.StatusTagCollected,
	}
	for i, want := range wantTags {
		res, err := svc.HandleScan(ctx, ScanRequest{TrackingNumber: "AB123", Actor: employee()})
		require.NoError(t, err, "scan %d", i+1)
		require.NotNil(t, res.Event)
		require.Equal(t, want, res.Event.StatusTag)
		clock.Advance(6 * time.Minute)
	}
	require.Equal(t, models.StatusTextCollected, repo.events[3].Status)

	// пятый и последующие сканы — no-op без ошибки
	for i := 0; i < 3; i++ {
		res, err := svc.HandleScan(ctx, ScanRequest{TrackingNumber: "AB123", Actor: employee()})
		require.NoError(t, err)
		require.Nil(t, res.Event)
		require.False(t, res.Throttled)
		clock.Advance(6 * time.Minute)
	}
	require.Len(t, repo.events, 4)
}

func TestHandleScan_ArrivedRendersOwnerPickupPoint(t *testing.T) {
	svc, repo, _, clock := newService(t)
	ctx := context.Background()

	owner := uint64(9)
	repo.pickups[owner] = &models.PickupPoint{
		CodeLabel: "LIDER CARGO Бишкек", RegionCode: "01", BranchCode: "01",
		Address: "г. Бишкек, ул. Пример, 1",
	}
	// у сканирующего сотрудника другой ПВЗ — он не должен победить владельца
	repo.pickups[42] = &models.PickupPoint{
		CodeLabel: "LIDER CARGO Ош", RegionCode: "02", BranchCode: "01",
	}

	for i := 0; i < 2; i++ {
		_, err := svc.HandleScan(ctx, ScanRequest{TrackingNumber: "AB123", Actor: employee()})
		require.NoError(t, err)
		clock.Advance(6 * time.Minute)
	}
	repo.order.UserID = &owner

	res, err := svc.HandleScan(ctx, ScanRequest{TrackingNumber: "AB123", Actor: employee()})
	require.NoError(t, err)
	require.Equal(t, models.StatusTagArrivedPVZ, res.Event.StatusTag)
	require.Equal(t,
		"Прибыл в пункт выдачи LIDER CARGO Бишкек (01-01). Трек-номер: AB123. Адрес: г. Бишкек, ул. Пример, 1",
		res.Event.Status)
}

func TestHandleScan_ArrivedFallsBackToActorPickupPoint(t *testing.T) {
	svc, repo, _, clock := newService(t)
	ctx := context.Background()

	repo.pickups[42] = &models.PickupPoint{
		CodeLabel: "LIDER CARGO Ош", RegionCode: "02", BranchCode: "01", Address: "г. Ош",
	}

	for i := 0; i < 2; i++ {
		_, err := svc.HandleScan(ctx, ScanRequest{TrackingNumber: "AB123", Actor: employee()})
		require.NoError(t, err)
		clock.Advance(6 * time.Minute)
	}

	res, err := svc.HandleScan(ctx, ScanRequest{TrackingNumber: "AB123", Actor: employee()})
	require.NoError(t, err)
	require.Equal(t,
		"Прибыл в пункт выдачи LIDER CARGO Ош (02-01). Трек-номер: AB123. Адрес: г. Ош",
		res.Event.Status)
}

func TestMaterialize_DueNowAndDeferred(t *testing.T) {
	svc, repo, tmpls, clock := newService(t)
	ctx := context.Background()

	tmpls.byPhase[models.PhaseAfterScan1] = []*models.AutoStatusTemplate{
		{ID: 1, Phase: models.PhaseAfterScan1, OrderIndex: 1, TemplateText: "Товар прошёл приёмку", OffsetMinutes: 0, IsActive: true},
		{ID: 2, Phase: models.PhaseAfterScan1, OrderIndex: 2, TemplateText: "Товар отсортирован", OffsetMinutes: 30, IsActive: true},
	}

	res, err := svc.HandleScan(ctx, ScanRequest{TrackingNumber: "AB123", Actor: employee()})
	require.NoError(t, err)
	require.Len(t, res.AutoEvents, 1)

	auto := res.AutoEvents[0]
	require.Equal(t, "Товар прошёл приёмку", auto.Status)
	require.Equal(t, models.AutoEventLocation, auto.Location)
	require.Nil(t, auto.ActorID)
	require.True(t, auto.EventTime.Equal(res.Event.EventTime)) // offset 0

	// второй шаблон ещё не дозрел: отмечено время следующей проверки
	require.NotNil(t, repo.order.NextSweepAt)
	require.True(t, repo.order.NextSweepAt.Equal(res.Event.EventTime.Add(30*time.Minute)))

	// спустя 31 минуту явная переоценка дозревает второй шаблон
	clock.Advance(31 * time.Minute)
	ev, err := svc.EvaluateDue(ctx, "AB123")
	require.NoError(t, err)
	require.Len(t, ev.AutoEvents, 1)
	require.Equal(t, "Товар отсортирован", ev.AutoEvents[0].Status)
	// метка — расчётный срок, а не момент переоценки
	require.True(t, ev.AutoEvents[0].EventTime.Equal(res.Event.EventTime.Add(30*time.Minute)))
	require.Nil(t, repo.order.NextSweepAt)
}

func TestMaterialize_Idempotent(t *testing.T) {
	svc, repo, tmpls, clock := newService(t)
	ctx := context.Background()

	tmpls.byPhase[models.PhaseAfterScan1] = []*models.AutoStatusTemplate{
		{ID: 1, Phase: models.PhaseAfterScan1, OrderIndex: 1, TemplateText: "Товар прошёл приёмку", OffsetMinutes: 0, IsActive: true},
	}

	_, err := svc.HandleScan(ctx, ScanRequest{TrackingNumber: "AB123", Actor: employee()})
	require.NoError(t, err)
	require.Len(t, repo.events, 2)

	// повторные переоценки без нового ручного события дублей не создают
	clock.Advance(time.Hour)
	for i := 0; i < 2; i++ {
		ev, err := svc.EvaluateDue(ctx, "AB123")
		require.NoError(t, err)
		require.Empty(t, ev.AutoEvents)
	}
	require.Len(t, repo.events, 2)
}

func TestEvaluateDue_UnknownOrder(t *testing.T) {
	svc, _, _, _ := newService(t)
	_, err := svc.EvaluateDue(context.Background(), "NOPE")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestEvaluateDue_NoManualEventsClearsSweep(t *testing.T) {
	svc, repo, _, clock := newService(t)
	repo.order = &models.Order{ID: 1, TrackingNumber: "AB123", CreatedAt: clock.Now()}
	at := clock.Now()
	repo.order.NextSweepAt = &at

	ev, err := svc.EvaluateDue(context.Background(), "AB123")
	require.NoError(t, err)
	require.Empty(t, ev.AutoEvents)
	require.Nil(t, repo.order.NextSweepAt)
}

func TestHandleScan_PublishesOrderUpdated(t *testing.T) {
	svc, _, _, _ := newService(t)
	p := &fakeProducer{}
	svc.WithProducer(p, "order.updated")

	_, err := svc.HandleScan(context.Background(), ScanRequest{TrackingNumber: "AB123", Actor: employee()})
	require.NoError(t, err)
	require.Equal(t, []string{"order.updated"}, p.topics)
	require.Equal(t, []string{"AB123"}, p.keys)
}

func TestHandleScan_ThrottledDoesNotPublish(t *testing.T) {
	svc, _, _, clock := newService(t)
	p := &fakeProducer{}
	svc.WithProducer(p, "order.updated")
	ctx := context.Background()

	_, err := svc.HandleScan(ctx, ScanRequest{TrackingNumber: "AB123", Actor: employee()})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = svc.HandleScan(ctx, ScanRequest{TrackingNumber: "AB123", Actor: employee()})
	require.NoError(t, err)
	require.Len(t, p.topics, 1)
}
