package claims

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/lidercargo/cargotrack/internal/apperrors"
	"github.com/lidercargo/cargotrack/internal/models"
)

// OrderClaim — залоченный заказ на время присвоения владельца.
type OrderClaim interface {
	Order() *models.Order
	SetOwner(ctx context.Context, userID uint64) error
}

type Repository interface {
	// GetOrderByTrackingNumber возвращает apperrors.ErrNotFound для
	// неизвестного трек-номера.
	GetOrderByTrackingNumber(ctx context.Context, trackingNumber string) (*models.Order, error)
	// WithOrderClaim выполняет fn под эксклюзивной блокировкой заказа.
	WithOrderClaim(ctx context.Context, trackingNumber string, fn func(tx OrderClaim) error) error
}

// Service — поиск заказа по трек-номеру и присвоение владельца.
type Service struct {
	repo Repository
}

func New(repo Repository) *Service {
	return &Service{repo: repo}
}

type FindResult struct {
	Order   *models.Order
	IsOwner bool
	// CanClaim: владелец не назначен либо это уже сам запрашивающий.
	CanClaim bool
}

// Find ищет заказ и сообщает, может ли requester его присвоить.
func (s *Service) Find(ctx context.Context, trackingNumber string, requesterID uint64) (*FindResult, error) {
	tn := strings.TrimSpace(trackingNumber)
	if tn == "" {
		return nil, errors.Wrap(apperrors.ErrValidation, "tracking number is empty")
	}

	order, err := s.repo.GetOrderByTrackingNumber(ctx, tn)
	if err != nil {
		return nil, err
	}

	res := &FindResult{Order: order}
	switch {
	case order.UserID == nil:
		res.CanClaim = true
	case *order.UserID == requesterID:
		res.IsOwner = true
		res.CanClaim = true
	}
	return res, nil
}

// Claim присваивает заказ запрашивающему. Идемпотентен для текущего
// владельца; чужой заказ отдаёт ErrConflict — владение молча не
// переназначается.
func (s *Service) Claim(ctx context.Context, trackingNumber string, requesterID uint64) (*models.Order, error) {
	tn := strings.TrimSpace(trackingNumber)
	if tn == "" {
		return nil, errors.Wrap(apperrors.ErrValidation, "tracking number is empty")
	}
	if requesterID == 0 {
		return nil, errors.Wrap(apperrors.ErrValidation, "requester is empty")
	}

	var claimed *models.Order
	err := s.repo.WithOrderClaim(ctx, tn, func(tx OrderClaim) error {
		order := tx.Order()
		claimed = order

		if order.UserID != nil {
			if *order.UserID == requesterID {
				return nil
			}
			return errors.Wrapf(apperrors.ErrConflict,
				"order %s already claimed", order.TrackingNumber)
		}

		if err := tx.SetOwner(ctx, requesterID); err != nil {
			return err
		}
		id := requesterID
		order.UserID = &id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}
