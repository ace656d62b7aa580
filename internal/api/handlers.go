package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/lidercargo/cargotrack/internal/apperrors"
	"github.com/lidercargo/cargotrack/internal/models"
	"github.com/lidercargo/cargotrack/internal/services/scans"
	"github.com/lidercargo/cargotrack/internal/services/users"
)

type pickupPointResponse struct {
	ID         uint64 `json:"id"`
	NameRU     string `json:"name_ru"`
	NameKG     string `json:"name_kg,omitempty"`
	Address    string `json:"address,omitempty"`
	CodeLabel  string `json:"code_label"`
	RegionCode string `json:"region_code"`
	BranchCode string `json:"branch_code"`
}

type warehouseResponse struct {
	ID           uint64 `json:"id"`
	Name         string `json:"name,omitempty"`
	AddressCN    string `json:"address_cn"`
	ContactName  string `json:"contact_name,omitempty"`
	ContactPhone string `json:"contact_phone,omitempty"`
}

type profileResponse struct {
	ID                 uint64               `json:"id"`
	FullName           string               `json:"full_name"`
	Phone              string               `json:"phone"`
	Email              string               `json:"email,omitempty"`
	ClientCode         string               `json:"client_code"`
	ClientCodeDisplay  string               `json:"client_code_display,omitempty"`
	CNWarehouseAddress string               `json:"cn_warehouse_address,omitempty"`
	IsStaff            bool                 `json:"is_staff"`
	PickupPoint        *pickupPointResponse `json:"pickup_point,omitempty"`
}

func toPickupPointResponse(p *models.PickupPoint) *pickupPointResponse {
	return &pickupPointResponse{
		ID: p.ID, NameRU: p.NameRU, NameKG: p.NameKG, Address: p.Address,
		CodeLabel: p.CodeLabel, RegionCode: p.RegionCode, BranchCode: p.BranchCode,
	}
}

func toProfileResponse(p *users.Profile) *profileResponse {
	out := &profileResponse{
		ID:                 p.User.ID,
		FullName:           p.User.FullName,
		Phone:              p.User.Phone,
		ClientCode:         p.User.ClientCode,
		ClientCodeDisplay:  p.ClientCodeDisplay,
		CNWarehouseAddress: p.CNWarehouseAddress,
		IsStaff:            p.User.IsStaff,
	}
	if p.User.Email != nil {
		out.Email = *p.User.Email
	}
	if p.PickupPoint != nil {
		out.PickupPoint = toPickupPointResponse(p.PickupPoint)
	}
	return out
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in struct {
		FullName      string `json:"full_name"`
		Phone         string `json:"phone"`
		Email         string `json:"email"`
		Password      string `json:"password"`
		PickupPointID uint64 `json:"pickup_point_id"`
		LCNumber      string `json:"lc_number"`
		RegionCode    string `json:"region_code"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}

	p, err := a.users.Register(r.Context(), users.RegisterInput{
		FullName:      in.FullName,
		Phone:         in.Phone,
		Email:         in.Email,
		Password:      in.Password,
		PickupPointID: in.PickupPointID,
		LCNumber:      in.LCNumber,
		RegionCode:    in.RegionCode,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProfileResponse(p))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Phone    string `json:"phone"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}

	p, token, err := a.users.Login(r.Context(), in.Phone, in.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  toProfileResponse(p),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.users.Logout(r.Context(), actorFrom(r.Context()).ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	p, err := a.users.Me(r.Context(), actorFrom(r.Context()).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

func (a *API) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var in struct {
		FullName      *string `json:"full_name"`
		Email         *string `json:"email"`
		PickupPointID *uint64 `json:"pickup_point_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}

	p, err := a.users.UpdateProfile(r.Context(), actorFrom(r.Context()).ID, users.UpdateProfileInput{
		FullName:      in.FullName,
		Email:         in.Email,
		PickupPointID: in.PickupPointID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

func (a *API) handleListPickupPoints(w http.ResponseWriter, r *http.Request) {
	list, err := a.users.ListPickupPoints(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]*pickupPointResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toPickupPointResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleListWarehouses(w http.ResponseWriter, r *http.Request) {
	list, err := a.users.ListWarehouses(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]*warehouseResponse, 0, len(list))
	for _, wh := range list {
		out = append(out, &warehouseResponse{
			ID: wh.ID, Name: wh.Name, AddressCN: wh.AddressCN,
			ContactName: wh.ContactName, ContactPhone: wh.ContactPhone,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleTrack(w http.ResponseWriter, r *http.Request) {
	v, err := a.orders.Track(r.Context(), chi.URLParam(r, "trackingNumber"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleListOrders(w http.ResponseWriter, r *http.Request) {
	list, err := a.orders.ListByUser(r.Context(), actorFrom(r.Context()).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleFind(w http.ResponseWriter, r *http.Request) {
	var in struct {
		TrackingNumber string `json:"tracking_number"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}

	res, err := a.claims.Find(r.Context(), in.TrackingNumber, actorFrom(r.Context()).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tracking_number": res.Order.TrackingNumber,
		"is_owner":        res.IsOwner,
		"can_claim":       res.CanClaim,
	})
}

func (a *API) handleClaim(w http.ResponseWriter, r *http.Request) {
	var in struct {
		TrackingNumber string `json:"tracking_number"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}

	order, err := a.claims.Claim(r.Context(), in.TrackingNumber, actorFrom(r.Context()).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":              order.ID,
		"tracking_number": order.TrackingNumber,
		"claimed":         true,
	})
}

type scanEventResponse struct {
	ID        uint64    `json:"id"`
	Status    string    `json:"status"`
	Location  string    `json:"location,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func toScanEventResponse(e *models.TrackingEvent) *scanEventResponse {
	return &scanEventResponse{ID: e.ID, Status: e.Status, Location: e.Location, Timestamp: e.EventTime}
}

func (a *API) handleScan(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())

	var in struct {
		TrackingNumber string `json:"tracking_number"`
		Location       string `json:"location"`
		Description    string `json:"description"`
		StrictCooldown bool   `json:"strict_cooldown"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}

	if a.rl != nil && a.scanRatePerMinute > 0 {
		key := fmt.Sprintf("rl:scan:%d:%s", actor.ID, time.Now().UTC().Format("200601021504"))
		allowed, _, err := a.rl.Allow(r.Context(), key, a.scanRatePerMinute, 70*time.Second)
		if err == nil && !allowed {
			writeError(w, errors.Wrap(apperrors.ErrThrottled, "scan rate limit exceeded"))
			return
		}
	}

	res, err := a.scans.HandleScan(r.Context(), scans.ScanRequest{
		TrackingNumber: in.TrackingNumber,
		Location:       in.Location,
		Description:    in.Description,
		Actor:          actor,
		StrictCooldown: in.StrictCooldown,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	out := map[string]any{
		"tracking_number": res.Order.TrackingNumber,
		"throttled":       res.Throttled,
	}
	if res.Event != nil {
		out["event"] = toScanEventResponse(res.Event)
	}
	if len(res.AutoEvents) > 0 {
		autos := make([]*scanEventResponse, 0, len(res.AutoEvents))
		for _, e := range res.AutoEvents {
			autos = append(autos, toScanEventResponse(e))
		}
		out["auto_events"] = autos
	}
	writeJSON(w, http.StatusOK, out)
}

type templateResponse struct {
	ID            uint64 `json:"id"`
	Phase         string `json:"phase"`
	OrderIndex    int    `json:"order_index"`
	TemplateText  string `json:"template_text"`
	OffsetMinutes int    `json:"offset_minutes"`
	IsActive      bool   `json:"is_active"`
}

func requireStaff(u *models.User) error {
	if u.IsStaff || u.IsSuperuser {
		return nil
	}
	return errors.Wrap(apperrors.ErrForbidden, "staff only")
}

func (a *API) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	if err := requireStaff(actorFrom(r.Context())); err != nil {
		writeError(w, err)
		return
	}

	list, err := a.templates.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]*templateResponse, 0, len(list))
	for _, t := range list {
		out = append(out, &templateResponse{
			ID: t.ID, Phase: string(t.Phase), OrderIndex: t.OrderIndex,
			TemplateText: t.TemplateText, OffsetMinutes: t.OffsetMinutes, IsActive: t.IsActive,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleUpsertTemplate(w http.ResponseWriter, r *http.Request) {
	if err := requireStaff(actorFrom(r.Context())); err != nil {
		writeError(w, err)
		return
	}

	var in struct {
		Phase         string `json:"phase"`
		OrderIndex    int    `json:"order_index"`
		TemplateText  string `json:"template_text"`
		OffsetMinutes int    `json:"offset_minutes"`
		IsActive      bool   `json:"is_active"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}

	t := &models.AutoStatusTemplate{
		Phase:         models.Phase(in.Phase),
		OrderIndex:    in.OrderIndex,
		TemplateText:  in.TemplateText,
		OffsetMinutes: in.OffsetMinutes,
		IsActive:      in.IsActive,
	}
	if err := a.templates.Upsert(r.Context(), t); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &templateResponse{
		ID: t.ID, Phase: string(t.Phase), OrderIndex: t.OrderIndex,
		TemplateText: t.TemplateText, OffsetMinutes: t.OffsetMinutes, IsActive: t.IsActive,
	})
}
