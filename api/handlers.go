/*
handlers.go - HTTP API handlers for the PBB engine

PURPOSE:
  Exposes the engine via a REST API. Handles HTTP request/response, JSON
  serialization and request-shape validation, and delegates everything
  else to pbb.Engine with the authenticated caller.

ENDPOINTS:
  Public:
    GET    /api/health                  Liveness + database ping
    POST   /api/auth/login              Exchange credentials for a token

  Authenticated:
    GET    /api/auth/me                 Current caller's user
    GET    /api/villages                List villages in scope
    POST   /api/villages                Create village (admin)
    GET    /api/hamlets                 List hamlets (?village_id)
    POST   /api/hamlets                 Create hamlet (admin)
    PUT    /api/hamlets/{id}            Update hamlet (admin)
    GET    /api/payments                List payments (filters below)
    POST   /api/payments                Record payment
    PUT    /api/payments/{id}           Update payment
    DELETE /api/payments/{id}           Delete payment
    GET    /api/dashboard/villages      Village dashboard
    GET    /api/dashboard/hamlets       Hamlet dashboard (?village_id)
    GET    /api/reports/payments        Payment report (filters below)
    GET    /api/users                   List users (admin)
    POST   /api/users                   Create user (admin)
    PUT    /api/users/{id}              Update user (admin)
    DELETE /api/users/{id}              Deactivate user (admin)

  Payment filters: village_id, hamlet_id, start_date, end_date
  (YYYY-MM-DD, inclusive), payment_type.

ERROR HANDLING:
  Errors are returned as JSON ErrorResponse; see errors.go for the
  kind -> status mapping.

SEE ALSO:
  - dto.go: Request/response data structures
  - middleware.go: Bearer token -> pbb.Caller
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warp/pbb-engine/auth"
	"github.com/warp/pbb-engine/pbb"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	engine   *pbb.Engine
	auth     *auth.Service
	health   Pinger
	validate *validator.Validate
}

// NewHandler creates a handler over engine. health may be nil.
func NewHandler(engine *pbb.Engine, authService *auth.Service, health Pinger) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{engine: engine, auth: authService, health: health, validate: v}
}

// decode reads a JSON body into dst and runs its validation tags. On
// failure the response has been written and decode returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "invalid JSON body: " + err.Error(),
			Kind:  string(pbb.KindInvalid),
		})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

// =============================================================================
// HEALTH AND AUTH
// =============================================================================

// Health reports liveness and database reachability.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Login exchanges credentials for an access token.
// POST /api/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.auth.Login(r.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     res.Token,
		ExpiresAt: formatTimestamp(res.ExpiresAt),
		User:      toUserDTO(res.User),
	})
}

// Me returns the authenticated caller's user.
// GET /api/auth/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	c := callerFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    c.UserID,
		"role":       c.Role,
		"village_id": c.HomeVillageID,
	})
}

// =============================================================================
// VILLAGES
// =============================================================================

// GET /api/villages
func (h *Handler) ListVillages(w http.ResponseWriter, r *http.Request) {
	villages, err := h.engine.ListVillages(r.Context(), callerFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(villages, toVillageDTO))
}

// POST /api/villages
func (h *Handler) CreateVillage(w http.ResponseWriter, r *http.Request) {
	var req CreateVillageRequest
	if !h.decode(w, r, &req) {
		return
	}

	v, err := h.engine.CreateVillage(r.Context(), callerFrom(r.Context()), pbb.NewVillage{
		Name: req.Name,
		Code: req.Code,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toVillageDTO(v))
}

// =============================================================================
// HAMLETS
// =============================================================================

// GET /api/hamlets?village_id=
func (h *Handler) ListHamlets(w http.ResponseWriter, r *http.Request) {
	filter, err := hamletFilterFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	hamlets, err := h.engine.ListHamlets(r.Context(), callerFrom(r.Context()), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(hamlets, toHamletDTO))
}

// POST /api/hamlets
func (h *Handler) CreateHamlet(w http.ResponseWriter, r *http.Request) {
	var req CreateHamletRequest
	if !h.decode(w, r, &req) {
		return
	}

	hamlet, err := h.engine.CreateHamlet(r.Context(), callerFrom(r.Context()), pbb.NewHamlet{
		VillageID:  pbb.VillageID(req.VillageID),
		Name:       req.Name,
		HeadName:   req.HeadName,
		SPPTTarget: req.SPPTTarget,
		PBBTarget:  req.PBBTarget,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toHamletDTO(hamlet))
}

// PUT /api/hamlets/{id}
func (h *Handler) UpdateHamlet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req UpdateHamletRequest
	if !h.decode(w, r, &req) {
		return
	}

	update := pbb.HamletUpdate{
		ID:         pbb.HamletID(id),
		VillageID:  villagePtr(req.VillageID),
		Name:       req.Name,
		HeadName:   req.HeadName,
		SPPTTarget: req.SPPTTarget,
		PBBTarget:  req.PBBTarget,
	}
	hamlet, err := h.engine.UpdateHamlet(r.Context(), callerFrom(r.Context()), update)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHamletDTO(hamlet))
}

// =============================================================================
// PAYMENTS
// =============================================================================

// GET /api/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	filter, err := paymentFilterFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	payments, err := h.engine.ListPayments(r.Context(), callerFrom(r.Context()), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(payments, toPaymentDTO))
}

// POST /api/payments
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := parseDate("payment_date", req.PaymentDate)
	if err != nil {
		writeError(w, r, err)
		return
	}

	c := callerFrom(r.Context())
	p, err := h.engine.CreatePayment(r.Context(), c, pbb.NewPayment{
		PaymentDate:   date,
		VillageID:     pbb.VillageID(req.VillageID),
		HamletID:      pbb.HamletID(req.HamletID),
		Amount:        req.PaymentAmount,
		SPPTPaidCount: req.SPPTPaidCount,
		Type:          pbb.PaymentType(req.PaymentType),
		Notes:         req.Notes,
		CreatedBy:     c.UserID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(p))
}

// PUT /api/payments/{id}
func (h *Handler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req UpdatePaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	update := pbb.PaymentUpdate{
		ID:            pbb.PaymentID(id),
		VillageID:     villagePtr(req.VillageID),
		Amount:        req.PaymentAmount,
		SPPTPaidCount: req.SPPTPaidCount,
		Notes:         req.Notes,
	}
	if req.PaymentDate != nil {
		date, err := parseDate("payment_date", *req.PaymentDate)
		if err != nil {
			writeError(w, r, err)
			return
		}
		update.PaymentDate = &date
	}
	if req.HamletID != nil {
		hid := pbb.HamletID(*req.HamletID)
		update.HamletID = &hid
	}
	if req.PaymentType != nil {
		t := pbb.PaymentType(*req.PaymentType)
		update.Type = &t
	}

	p, err := h.engine.UpdatePayment(r.Context(), callerFrom(r.Context()), update)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// DELETE /api/payments/{id}
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.engine.DeletePayment(r.Context(), callerFrom(r.Context()), pbb.PaymentID(id)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// DASHBOARDS AND REPORTS
// =============================================================================

// GET /api/dashboard/villages
func (h *Handler) VillageDashboard(w http.ResponseWriter, r *http.Request) {
	rows, err := h.engine.VillageDashboard(r.Context(), callerFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(rows, toVillageDashboardDTO))
}

// GET /api/dashboard/hamlets?village_id=
func (h *Handler) HamletDashboard(w http.ResponseWriter, r *http.Request) {
	filter, err := hamletFilterFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows, err := h.engine.HamletDashboard(r.Context(), callerFrom(r.Context()), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(rows, toHamletDashboardDTO))
}

// GET /api/reports/payments
func (h *Handler) PaymentReport(w http.ResponseWriter, r *http.Request) {
	filter, err := paymentFilterFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows, err := h.engine.PaymentReport(r.Context(), callerFrom(r.Context()), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(rows, toReportRowDTO))
}

// =============================================================================
// USERS
// =============================================================================

// GET /api/users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.engine.ListUsers(r.Context(), callerFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(users, toUserDTO))
}

// POST /api/users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	u, err := h.engine.CreateUser(r.Context(), callerFrom(r.Context()), pbb.NewUser{
		Username:  req.Username,
		Password:  req.Password,
		FullName:  req.FullName,
		Role:      pbb.Role(req.Role),
		VillageID: villagePtr(req.VillageID),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(u))
}

// PUT /api/users/{id}
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req UpdateUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	update := pbb.UserUpdate{
		ID:           pbb.UserID(id),
		Username:     req.Username,
		Password:     req.Password,
		FullName:     req.FullName,
		VillageID:    villagePtr(req.VillageID),
		ClearVillage: req.ClearVillage,
		IsActive:     req.IsActive,
	}
	if req.Role != nil {
		role := pbb.Role(*req.Role)
		update.Role = &role
	}

	u, err := h.engine.UpdateUser(r.Context(), callerFrom(r.Context()), update)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(u))
}

// DELETE /api/users/{id}
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.engine.DeleteUser(r.Context(), callerFrom(r.Context()), pbb.UserID(id)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PARAMETERS
// =============================================================================

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &pbb.ValidationError{Field: "id", Message: "must be a positive integer"}
	}
	return id, nil
}

func queryID(r *http.Request, key string) (*int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, &pbb.ValidationError{Field: key, Message: "must be a positive integer"}
	}
	return &id, nil
}

func queryDate(r *http.Request, key string) (*time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := parseDate(key, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func hamletFilterFrom(r *http.Request) (pbb.HamletFilter, error) {
	villageID, err := queryID(r, "village_id")
	if err != nil {
		return pbb.HamletFilter{}, err
	}
	return pbb.HamletFilter{VillageID: villagePtr(villageID)}, nil
}

func paymentFilterFrom(r *http.Request) (pbb.PaymentFilter, error) {
	var f pbb.PaymentFilter

	villageID, err := queryID(r, "village_id")
	if err != nil {
		return f, err
	}
	f.VillageID = villagePtr(villageID)

	hamletID, err := queryID(r, "hamlet_id")
	if err != nil {
		return f, err
	}
	if hamletID != nil {
		id := pbb.HamletID(*hamletID)
		f.HamletID = &id
	}

	if f.StartDate, err = queryDate(r, "start_date"); err != nil {
		return f, err
	}
	if f.EndDate, err = queryDate(r, "end_date"); err != nil {
		return f, err
	}

	if raw := r.URL.Query().Get("payment_type"); raw != "" {
		t := pbb.PaymentType(raw)
		f.PaymentType = &t
	}
	return f, nil
}

func villagePtr(id *int64) *pbb.VillageID {
	if id == nil {
		return nil
	}
	v := pbb.VillageID(*id)
	return &v
}
