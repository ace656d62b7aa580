package templates

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lidercargo/cargotrack/internal/apperrors"
	"github.com/lidercargo/cargotrack/internal/cache/mocks"
	"github.com/lidercargo/cargotrack/internal/models"
)

type fakeRepo struct {
	byPhase map[models.Phase][]*models.AutoStatusTemplate
	calls   int
	err     error
}

func (r *fakeRepo) ActiveByPhase(ctx context.Context, phase models.Phase) ([]*models.AutoStatusTemplate, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.byPhase[phase], nil
}

func (r *fakeRepo) List(ctx context.Context) ([]*models.AutoStatusTemplate, error) {
	var out []*models.AutoStatusTemplate
	for _, ts := range r.byPhase {
		out = append(out, ts...)
	}
	return out, nil
}

func (r *fakeRepo) Upsert(ctx context.Context, t *models.AutoStatusTemplate) error {
	if r.err != nil {
		return r.err
	}
	t.ID = 1
	r.byPhase[t.Phase] = append(r.byPhase[t.Phase], t)
	return nil
}

func seedRepo() *fakeRepo {
	return &fakeRepo{byPhase: map[models.Phase][]*models.AutoStatusTemplate{
		models.PhaseAfterScan1: {
			{ID: 1, Phase: models.PhaseAfterScan1, OrderIndex: 1, TemplateText: "Вылетел из Китая", OffsetMinutes: 60, IsActive: true},
			{ID: 2, Phase: models.PhaseAfterScan1, OrderIndex: 2, TemplateText: "Прошёл таможню", OffsetMinutes: 240, IsActive: true},
		},
	}}
}

func TestStore_ActiveByPhase_CacheMissThenSet(t *testing.T) {
	repo := seedRepo()
	c := &mocks.MockBytesCache{}
	c.On("Get", mock.Anything, "templates:AFTER_SCAN_1:active").Return(nil, false, nil).Once()
	c.On("Set", mock.Anything, "templates:AFTER_SCAN_1:active", mock.Anything, time.Minute).Return(nil).Once()

	s := New(repo, c, time.Minute)
	out, err := s.ActiveByPhase(context.Background(), models.PhaseAfterScan1)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, 1, repo.calls)
	c.AssertExpectations(t)
}

func TestStore_ActiveByPhase_CacheHitSkipsDB(t *testing.T) {
	repo := seedRepo()
	cached, err := json.Marshal(repo.byPhase[models.PhaseAfterScan1])
	require.NoError(t, err)

	c := &mocks.MockBytesCache{}
	c.On("Get", mock.Anything, "templates:AFTER_SCAN_1:active").Return(cached, true, nil).Once()

	s := New(repo, c, time.Minute)
	out, err := s.ActiveByPhase(context.Background(), models.PhaseAfterScan1)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "Вылетел из Китая", out[0].TemplateText)
	require.Zero(t, repo.calls)
	c.AssertExpectations(t)
}

func TestStore_ActiveByPhase_BadCachePayloadIsMiss(t *testing.T) {
	repo := seedRepo()
	c := &mocks.MockBytesCache{}
	c.On("Get", mock.Anything, mock.Anything).Return([]byte("{not json"), true, nil).Once()
	c.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	s := New(repo, c, time.Minute)
	out, err := s.ActiveByPhase(context.Background(), models.PhaseAfterScan1)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, 1, repo.calls)
}

func TestStore_ActiveByPhase_CacheErrorFallsThrough(t *testing.T) {
	repo := seedRepo()
	c := &mocks.MockBytesCache{}
	c.On("Get", mock.Anything, mock.Anything).Return(nil, false, errors.New("redis down")).Once()
	c.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down")).Once()

	s := New(repo, c, time.Minute)
	out, err := s.ActiveByPhase(context.Background(), models.PhaseAfterScan1)
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestStore_ActiveByPhase_NoCache(t *testing.T) {
	repo := seedRepo()
	s := New(repo, nil, 0)

	out, err := s.ActiveByPhase(context.Background(), models.PhaseAfterScan1)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, 1, repo.calls)
}

func TestStore_ActiveByPhase_UnknownPhase(t *testing.T) {
	s := New(seedRepo(), nil, 0)
	_, err := s.ActiveByPhase(context.Background(), models.Phase("AFTER_SCAN_9"))
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestStore_Upsert_Validation(t *testing.T) {
	s := New(seedRepo(), nil, 0)

	err := s.Upsert(context.Background(), &models.AutoStatusTemplate{Phase: "NOPE", TemplateText: "x"})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	err = s.Upsert(context.Background(), &models.AutoStatusTemplate{Phase: models.PhaseAfterScan1})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	err = s.Upsert(context.Background(), &models.AutoStatusTemplate{
		Phase: models.PhaseAfterScan1, TemplateText: "x", OffsetMinutes: -5,
	})
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestStore_Upsert_InvalidatesPhaseCache(t *testing.T) {
	repo := seedRepo()
	c := &mocks.MockBytesCache{}
	c.On("Delete", mock.Anything, "templates:AFTER_SCAN_2:active").Return(nil).Once()

	s := New(repo, c, time.Minute)
	tpl := &models.AutoStatusTemplate{
		Phase: models.PhaseAfterScan2, OrderIndex: 1, TemplateText: "Передан курьеру", IsActive: true,
	}
	require.NoError(t, s.Upsert(context.Background(), tpl))
	require.NotZero(t, tpl.ID)
	c.AssertExpectations(t)

	list, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)
}

func TestStore_Upsert_RepoError(t *testing.T) {
	repo := seedRepo()
	repo.err = errors.New("db down")

	c := &mocks.MockBytesCache{}
	s := New(repo, c, time.Minute)

	err := s.Upsert(context.Background(), &models.AutoStatusTemplate{
		Phase: models.PhaseAfterScan1, TemplateText: "x",
	})
	require.Error(t, err)
	c.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}
