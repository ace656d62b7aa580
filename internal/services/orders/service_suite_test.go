package orders

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/lidercargo/cargotrack/internal/apperrors"
	"github.com/lidercargo/cargotrack/internal/broker/messages"
	cachemocks "github.com/lidercargo/cargotrack/internal/cache/mocks"
	"github.com/lidercargo/cargotrack/internal/models"

	ordersmocks "github.com/lidercargo/cargotrack/internal/services/orders/mocks"
)

type ServiceSuite struct {
	suite.Suite

	repo  *ordersmocks.MockRepository
	cache *cachemocks.MockBytesCache
	svc   *Service
}

func (s *ServiceSuite) SetupTest() {
	s.repo = &ordersmocks.MockRepository{}
	s.cache = &cachemocks.MockBytesCache{}
	s.svc = New(s.repo, s.cache, 10*time.Minute)
}

func actor(id uint64) *uint64 { return &id }

func sampleOrder() (*models.Order, []*models.TrackingEvent) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	o := &models.Order{ID: 7, TrackingNumber: "AB123", Description: "кроссовки", CreatedAt: base}
	evs := []*models.TrackingEvent{
		{ID: 1, OrderID: 7, StatusTag: models.StatusTagWarehouseCN, Status: models.StatusTextWarehouseCN, ActorID: actor(3), EventTime: base},
		{ID: 2, OrderID: 7, Status: "Товар прошёл приёмку", Location: models.AutoEventLocation, EventTime: base.Add(10 * time.Minute)},
	}
	return o, evs
}

func (s *ServiceSuite) TestTrack_CacheHit_NoDB() {
	v := &OrderView{ID: 7, TrackingNumber: "AB123", LastStatus: "Получен"}
	b, _ := json.Marshal(v)

	s.cache.On("Get", mock.Anything, "order:AB123:view").
		Return(b, true, nil).
		Once()

	out, err := s.svc.Track(context.Background(), " AB123 ")
	s.Require().NoError(err)
	s.Require().Equal("Получен", out.LastStatus)
	s.repo.AssertNotCalled(s.T(), "GetOrderWithEvents", mock.Anything, mock.Anything)
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestTrack_CacheMiss_GoesToDBAndSets() {
	o, evs := sampleOrder()
	s.cache.On("Get", mock.Anything, "order:AB123:view").
		Return([]byte(nil), false, nil).
		Once()
	s.repo.On("GetOrderWithEvents", mock.Anything, "AB123").
		Return(o, evs, nil).
		Once()
	s.cache.On("Set", mock.Anything, "order:AB123:view", mock.Anything, 10*time.Minute).
		Return(nil).
		Once()

	out, err := s.svc.Track(context.Background(), "AB123")
	s.Require().NoError(err)
	s.Require().Equal("AB123", out.TrackingNumber)
	s.Require().Len(out.Events, 2)
	s.Require().Equal(1, out.Progress) // авто-событие прогресс не двигает
	s.Require().Equal(4, out.ProgressTotal)
	s.Require().Equal("Товар прошёл приёмку", out.LastStatus)
	s.repo.AssertExpectations(s.T())
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestTrack_CacheBadJSON_IsMiss() {
	o, evs := sampleOrder()
	s.cache.On("Get", mock.Anything, "order:AB123:view").
		Return([]byte("not-json"), true, nil).
		Once()
	s.repo.On("GetOrderWithEvents", mock.Anything, "AB123").
		Return(o, evs, nil).
		Once()
	s.cache.On("Set", mock.Anything, "order:AB123:view", mock.Anything, 10*time.Minute).
		Return(nil).
		Once()

	_, err := s.svc.Track(context.Background(), "AB123")
	s.Require().NoError(err)
	s.repo.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestTrack_CacheDisabled() {
	svc := New(s.repo, nil, 0)
	o, evs := sampleOrder()
	s.repo.On("GetOrderWithEvents", mock.Anything, "AB123").
		Return(o, evs, nil).
		Once()

	_, err := svc.Track(context.Background(), "AB123")
	s.Require().NoError(err)
	s.cache.AssertNotCalled(s.T(), "Get", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestTrack_Validation_AndNotFound() {
	_, err := s.svc.Track(context.Background(), "   ")
	s.Require().ErrorIs(err, apperrors.ErrValidation)

	s.cache.On("Get", mock.Anything, "order:NOPE:view").
		Return([]byte(nil), false, nil).
		Once()
	s.repo.On("GetOrderWithEvents", mock.Anything, "NOPE").
		Return((*models.Order)(nil), []*models.TrackingEvent(nil), apperrors.ErrNotFound).
		Once()

	_, err = s.svc.Track(context.Background(), "NOPE")
	s.Require().ErrorIs(err, apperrors.ErrNotFound)
}

func (s *ServiceSuite) TestListByUser() {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.repo.On("ListOrdersByUser", mock.Anything, uint64(5)).
		Return([]*models.Order{
			{ID: 1, TrackingNumber: "A", CreatedAt: base},
			{ID: 2, TrackingNumber: "B", CreatedAt: base},
		}, nil).
		Once()
	s.repo.On("LastEvents", mock.Anything, []uint64{1, 2}).
		Return(map[uint64]*models.TrackingEvent{
			2: {ID: 9, OrderID: 2, Status: models.StatusTextDispatched},
		}, nil).
		Once()

	out, err := s.svc.ListByUser(context.Background(), 5)
	s.Require().NoError(err)
	s.Require().Len(out, 2)
	s.Require().Empty(out[0].LastStatus)
	s.Require().Equal(models.StatusTextDispatched, out[1].LastStatus)
	s.repo.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestListByUser_EmptyAndValidation() {
	_, err := s.svc.ListByUser(context.Background(), 0)
	s.Require().ErrorIs(err, apperrors.ErrValidation)

	s.repo.On("ListOrdersByUser", mock.Anything, uint64(5)).
		Return([]*models.Order{}, nil).
		Once()
	out, err := s.svc.ListByUser(context.Background(), 5)
	s.Require().NoError(err)
	s.Require().Empty(out)
	s.repo.AssertNotCalled(s.T(), "LastEvents", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestApplyUpdate_RefreshesCache() {
	o, evs := sampleOrder()
	s.repo.On("GetOrderWithEvents", mock.Anything, "AB123").
		Return(o, evs, nil).
		Once()
	s.cache.On("Set", mock.Anything, "order:AB123:view", mock.Anything, 10*time.Minute).
		Return(nil).
		Once()

	err := s.svc.ApplyUpdate(context.Background(), messages.OrderUpdated{OrderID: 7, TrackingNumber: "AB123"})
	s.Require().NoError(err)
	s.repo.AssertExpectations(s.T())
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestApplyUpdate_UnknownOrderDropsKey() {
	s.repo.On("GetOrderWithEvents", mock.Anything, "GONE").
		Return((*models.Order)(nil), []*models.TrackingEvent(nil), apperrors.ErrNotFound).
		Once()
	s.cache.On("Delete", mock.Anything, "order:GONE:view").
		Return(nil).
		Once()

	err := s.svc.ApplyUpdate(context.Background(), messages.OrderUpdated{TrackingNumber: "GONE"})
	s.Require().NoError(err)
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestApplyUpdate_ReloadErrorNotFatal() {
	s.repo.On("GetOrderWithEvents", mock.Anything, "AB123").
		Return((*models.Order)(nil), []*models.TrackingEvent(nil), errors.New("db down")).
		Once()

	err := s.svc.ApplyUpdate(context.Background(), messages.OrderUpdated{TrackingNumber: "AB123"})
	s.Require().NoError(err)
	s.cache.AssertNotCalled(s.T(), "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
