// Package api — HTTP-слой поверх сервисов: JSON поверх chi. Ошибки
// сервисов мапятся на коды через errors.Is с таксономией apperrors.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/lidercargo/cargotrack/internal/apperrors"
	"github.com/lidercargo/cargotrack/internal/models"
	"github.com/lidercargo/cargotrack/internal/services/claims"
	"github.com/lidercargo/cargotrack/internal/services/orders"
	"github.com/lidercargo/cargotrack/internal/services/scans"
	"github.com/lidercargo/cargotrack/internal/services/users"
)

type UserService interface {
	Register(ctx context.Context, in users.RegisterInput) (*users.Profile, error)
	Login(ctx context.Context, phone, password string) (*users.Profile, string, error)
	Authenticate(ctx context.Context, token string) (*models.User, error)
	Logout(ctx context.Context, userID uint64) error
	Me(ctx context.Context, userID uint64) (*users.Profile, error)
	UpdateProfile(ctx context.Context, userID uint64, in users.UpdateProfileInput) (*users.Profile, error)
	ListPickupPoints(ctx context.Context) ([]*models.PickupPoint, error)
	ListWarehouses(ctx context.Context) ([]*models.WarehouseCN, error)
}

type OrderService interface {
	Track(ctx context.Context, trackingNumber string) (*orders.OrderView, error)
	ListByUser(ctx context.Context, userID uint64) ([]*orders.OrderSummary, error)
}

type ScanService interface {
	HandleScan(ctx context.Context, req scans.ScanRequest) (*scans.ScanResult, error)
}

type ClaimService interface {
	Find(ctx context.Context, trackingNumber string, requesterID uint64) (*claims.FindResult, error)
	Claim(ctx context.Context, trackingNumber string, requesterID uint64) (*models.Order, error)
}

type TemplateStore interface {
	List(ctx context.Context) ([]*models.AutoStatusTemplate, error)
	Upsert(ctx context.Context, t *models.AutoStatusTemplate) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type API struct {
	users     UserService
	orders    OrderService
	scans     ScanService
	claims    ClaimService
	templates TemplateStore

	rl                RateLimiter
	scanRatePerMinute int64
}

func New(us UserService, os OrderService, ss ScanService, cs ClaimService, ts TemplateStore) *API {
	return &API{users: us, orders: os, scans: ss, claims: cs, templates: ts}
}

// WithScanRateLimit включает redis-лимит сканирований на сотрудника.
func (a *API) WithScanRateLimit(rl RateLimiter, perMinute int64) *API {
	a.rl = rl
	a.scanRatePerMinute = perMinute
	return a
}

func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Post("/auth/register", a.handleRegister)
	r.Post("/auth/login", a.handleLogin)

	r.Get("/pickup-points", a.handleListPickupPoints)
	r.Get("/warehouses", a.handleListWarehouses)

	// публичный трекинг по номеру
	r.Get("/orders/track/{trackingNumber}", a.handleTrack)

	r.Group(func(r chi.Router) {
		r.Use(a.authMiddleware)

		r.Post("/auth/logout", a.handleLogout)
		r.Get("/me", a.handleMe)
		r.Patch("/me", a.handleUpdateProfile)

		r.Get("/orders", a.handleListOrders)
		r.Post("/orders/find", a.handleFind)
		r.Post("/orders/claim", a.handleClaim)

		r.Post("/scan", a.handleScan)

		r.Get("/admin/templates", a.handleListTemplates)
		r.Post("/admin/templates", a.handleUpsertTemplate)
	})

	return r
}

type ctxKey int

const userCtxKey ctxKey = iota

func actorFrom(ctx context.Context) *models.User {
	u, _ := ctx.Value(userCtxKey).(*models.User)
	return u
}

func (a *API) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		u, err := a.users.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userCtxKey, u)))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, apperrors.ErrUnauthorized):
		code = http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrForbidden):
		code = http.StatusForbidden
	case errors.Is(err, apperrors.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, apperrors.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, apperrors.ErrThrottled):
		code = http.StatusTooManyRequests
	}
	if code == http.StatusInternalServerError {
		slog.Error("internal error", "error", err.Error())
		writeJSON(w, code, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(apperrors.ErrValidation, "invalid json body")
	}
	return nil
}
