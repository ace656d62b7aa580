package users

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/lidercargo/cargotrack/internal/apperrors"
	"github.com/lidercargo/cargotrack/internal/models"
)

// Формат телефона: +996XXXXXXXXX (Кыргызстан).
var phoneRe = regexp.MustCompile(`^\+996\d{9}$`)

const (
	minPasswordLength = 8
	// Попытки подобрать свободный клиентский код, прежде чем сдаться.
	clientCodeAttempts = 5
)

type Repository interface {
	// CreateUser возвращает apperrors.ErrConflict, если телефон или email
	// уже заняты.
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)
	GetUserByToken(ctx context.Context, token string) (*models.User, error)
	GetUserByID(ctx context.Context, id uint64) (*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
	SetAPIToken(ctx context.Context, userID uint64, token string) error

	GetPickupPoint(ctx context.Context, id uint64) (*models.PickupPoint, error)
	ListPickupPoints(ctx context.Context) ([]*models.PickupPoint, error)
	GetWarehouse(ctx context.Context, id uint64) (*models.WarehouseCN, error)
	ListWarehouses(ctx context.Context) ([]*models.WarehouseCN, error)

	// NextClientNumber атомарно инкрементит счётчик ПВЗ и возвращает
	// новое значение.
	NextClientNumber(ctx context.Context, pickupPointID uint64) (int, error)
	ClientCodeExists(ctx context.Context, code string) (bool, error)
}

// Service — регистрация, вход по телефону и профиль клиента.
type Service struct {
	repo Repository

	newToken func() string
}

func New(repo Repository) *Service {
	return &Service{
		repo:     repo,
		newToken: func() string { return uuid.NewString() },
	}
}

type RegisterInput struct {
	FullName      string
	Phone         string
	Email         string
	Password      string
	PickupPointID uint64
	// LCNumber и RegionCode могут задаваться вручную (перенос клиента
	// со старым кодом); пустые — сгенерируются/возьмутся из ПВЗ.
	LCNumber   string
	RegionCode string
}

// Profile — пользователь вместе с его ПВЗ и производными строками.
type Profile struct {
	User               *models.User
	PickupPoint        *models.PickupPoint
	Warehouse          *models.WarehouseCN
	ClientCodeDisplay  string
	CNWarehouseAddress string
}

// Register создаёт клиента и присваивает ему клиентский код его ПВЗ.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Profile, error) {
	phone := strings.ReplaceAll(in.Phone, " ", "")
	if !phoneRe.MatchString(phone) {
		return nil, apperrors.Validationf("phone must match +996XXXXXXXXX, got %q", in.Phone)
	}
	if strings.TrimSpace(in.FullName) == "" {
		return nil, errors.Wrap(apperrors.ErrValidation, "full name is empty")
	}
	if len(in.Password) < minPasswordLength {
		return nil, apperrors.Validationf("password shorter than %d characters", minPasswordLength)
	}

	pp, err := s.repo.GetPickupPoint(ctx, in.PickupPointID)
	if err != nil {
		return nil, err
	}
	if !pp.IsActive {
		return nil, apperrors.Validationf("pickup point %d is not active", pp.ID)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}

	u := &models.User{
		FullName:     strings.TrimSpace(in.FullName),
		Phone:        phone,
		PasswordHash: string(hash),
		Rack:         1,
		Cell:         1,
		LCNumber:     strings.TrimSpace(in.LCNumber),
		RegionCode:   strings.TrimSpace(in.RegionCode),
		IsActive:     true,
	}
	ppID := pp.ID
	u.PickupPointID = &ppID
	if e := strings.ToLower(strings.TrimSpace(in.Email)); e != "" {
		u.Email = &e
	}

	if err := s.assignClientCode(ctx, u, pp); err != nil {
		return nil, err
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return s.profile(ctx, u, pp)
}

// Login проверяет телефон+пароль и выдаёт новый API-токен.
func (s *Service) Login(ctx context.Context, phone, password string) (*Profile, string, error) {
	phone = strings.ReplaceAll(phone, " ", "")
	if phone == "" || password == "" {
		return nil, "", errors.Wrap(apperrors.ErrValidation, "phone and password are required")
	}

	u, err := s.repo.GetUserByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, "", errors.Wrap(apperrors.ErrUnauthorized, "invalid credentials")
		}
		return nil, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, "", errors.Wrap(apperrors.ErrUnauthorized, "invalid credentials")
	}
	if !u.IsActive || u.IsBlocked {
		return nil, "", errors.Wrap(apperrors.ErrUnauthorized, "user is blocked or inactive")
	}

	token := s.newToken()
	if err := s.repo.SetAPIToken(ctx, u.ID, token); err != nil {
		return nil, "", err
	}
	u.APIToken = token

	p, err := s.profile(ctx, u, nil)
	if err != nil {
		return nil, "", err
	}
	return p, token, nil
}

// Authenticate резолвит API-токен в пользователя.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, errors.Wrap(apperrors.ErrUnauthorized, "token is empty")
	}
	u, err := s.repo.GetUserByToken(ctx, token)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, errors.Wrap(apperrors.ErrUnauthorized, "unknown token")
		}
		return nil, err
	}
	if !u.IsActive || u.IsBlocked {
		return nil, errors.Wrap(apperrors.ErrUnauthorized, "user is blocked or inactive")
	}
	return u, nil
}

// Logout отзывает API-токен пользователя.
func (s *Service) Logout(ctx context.Context, userID uint64) error {
	return s.repo.SetAPIToken(ctx, userID, "")
}

// Me собирает профиль по id пользователя.
func (s *Service) Me(ctx context.Context, userID uint64) (*Profile, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.profile(ctx, u, nil)
}

type UpdateProfileInput struct {
	FullName      *string
	Email         *string
	PickupPointID *uint64
}

// UpdateProfile меняет ФИО/email/ПВЗ. Смена ПВЗ перевыпускает клиентский
// код в новом пункте выдачи.
func (s *Service) UpdateProfile(ctx context.Context, userID uint64, in UpdateProfileInput) (*Profile, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if in.FullName != nil {
		name := strings.TrimSpace(*in.FullName)
		if name == "" {
			return nil, errors.Wrap(apperrors.ErrValidation, "full name is empty")
		}
		u.FullName = name
	}
	if in.Email != nil {
		if e := strings.ToLower(strings.TrimSpace(*in.Email)); e != "" {
			u.Email = &e
		} else {
			u.Email = nil
		}
	}

	var pp *models.PickupPoint
	if in.PickupPointID != nil && (u.PickupPointID == nil || *u.PickupPointID != *in.PickupPointID) {
		pp, err = s.repo.GetPickupPoint(ctx, *in.PickupPointID)
		if err != nil {
			return nil, err
		}
		if !pp.IsActive {
			return nil, apperrors.Validationf("pickup point %d is not active", pp.ID)
		}
		id := pp.ID
		u.PickupPointID = &id
		u.LCNumber = "" // код перевыпускается в новом ПВЗ
		if err := s.assignClientCode(ctx, u, pp); err != nil {
			return nil, err
		}
	}

	if err := s.repo.UpdateUser(ctx, u); err != nil {
		return nil, err
	}
	return s.profile(ctx, u, pp)
}

func (s *Service) ListPickupPoints(ctx context.Context) ([]*models.PickupPoint, error) {
	return s.repo.ListPickupPoints(ctx)
}

func (s *Service) ListWarehouses(ctx context.Context) ([]*models.WarehouseCN, error) {
	return s.repo.ListWarehouses(ctx)
}

// assignClientCode выдаёт код вида "Бишкек-01-01(LC-0042)". Номер LC
// берётся из счётчика ПВЗ; занятые кандидаты пропускаются, попытки
// ограничены.
func (s *Service) assignClientCode(ctx context.Context, u *models.User, pp *models.PickupPoint) error {
	region := u.RegionCode
	if region == "" {
		region = pp.RegionCode
	}
	base := fmt.Sprintf("%s-%s-%s", pp.CodeLabel, region, pp.BranchCode)

	if u.LCNumber != "" {
		u.ClientCode = fmt.Sprintf("%s(LC-%s)", base, u.LCNumber)
		return nil
	}

	for attempt := 0; attempt < clientCodeAttempts; attempt++ {
		n, err := s.repo.NextClientNumber(ctx, pp.ID)
		if err != nil {
			return err
		}
		lc := fmt.Sprintf("%04d", n)
		candidate := fmt.Sprintf("%s(LC-%s)", base, lc)

		taken, err := s.repo.ClientCodeExists(ctx, candidate)
		if err != nil {
			return err
		}
		if taken {
			continue
		}
		u.LCNumber = lc
		u.ClientCode = candidate
		return nil
	}
	return errors.Wrapf(apperrors.ErrConflict,
		"no free client code for pickup point %d after %d attempts", pp.ID, clientCodeAttempts)
}

func (s *Service) profile(ctx context.Context, u *models.User, pp *models.PickupPoint) (*Profile, error) {
	p := &Profile{User: u}

	if pp == nil && u.PickupPointID != nil {
		var err error
		pp, err = s.repo.GetPickupPoint(ctx, *u.PickupPointID)
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}
	p.PickupPoint = pp
	if pp == nil {
		return p, nil
	}

	region := u.RegionCode
	if region == "" {
		region = pp.RegionCode
	}
	p.ClientCodeDisplay = fmt.Sprintf("%s-%s-%s(LC-%s)", pp.CodeLabel, region, pp.BranchCode, u.LCNumber)

	if pp.DefaultCNWarehouseID != nil {
		wh, err := s.repo.GetWarehouse(ctx, *pp.DefaultCNWarehouseID)
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		p.Warehouse = wh
	}
	p.CNWarehouseAddress = cnWarehouseAddress(u, p.Warehouse)
	return p, nil
}

// cnWarehouseAddress — строка для копирования в форму китайского продавца:
// адрес склада, метка полки "ряд-ячейка(LC-номер)" и контакт склада.
func cnWarehouseAddress(u *models.User, wh *models.WarehouseCN) string {
	tail := fmt.Sprintf("%02d-%02d(LC-%s)", u.Rack, u.Cell, u.LCNumber)

	parts := make([]string, 0, 3)
	if wh != nil && wh.AddressCN != "" {
		parts = append(parts, wh.AddressCN)
	}
	parts = append(parts, tail)
	if wh != nil {
		if contact := strings.TrimSpace(strings.Join(nonEmpty(wh.ContactName, wh.ContactPhone), " ")); contact != "" {
			parts = append(parts, contact)
		}
	}
	return strings.Join(parts, " ")
}

func nonEmpty(ss ...string) []string {
	out := ss[:0:0]
	for _, s := range ss {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
