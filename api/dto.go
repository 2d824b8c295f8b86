/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's types from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Responses carry money and percentages as fixed 2-decimal strings
  ("25000.50", "33.33"). Requests accept a JSON number or string; the
  decimal is parsed from its literal text, never through float64.

VALIDATION:
  Shape constraints are struct tags checked by go-playground/validator
  before the engine is called. Domain constraints (scale, scope, caps)
  stay in the engine.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/pbb-engine/pbb"
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = time.RFC3339
)

// =============================================================================
// REQUESTS
// =============================================================================

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type CreateVillageRequest struct {
	Name string `json:"name" validate:"required,max=255"`
	Code string `json:"code" validate:"required,max=50"`
}

type CreateHamletRequest struct {
	VillageID  int64           `json:"village_id" validate:"required,gt=0"`
	Name       string          `json:"name" validate:"required,max=255"`
	HeadName   string          `json:"head_name" validate:"required,max=255"`
	SPPTTarget int64           `json:"sppt_target" validate:"gte=0"`
	PBBTarget  decimal.Decimal `json:"pbb_target"`
}

type UpdateHamletRequest struct {
	VillageID  *int64           `json:"village_id" validate:"omitempty,gt=0"`
	Name       *string          `json:"name" validate:"omitempty,max=255"`
	HeadName   *string          `json:"head_name" validate:"omitempty,max=255"`
	SPPTTarget *int64           `json:"sppt_target" validate:"omitempty,gte=0"`
	PBBTarget  *decimal.Decimal `json:"pbb_target"`
}

type CreatePaymentRequest struct {
	PaymentDate   string          `json:"payment_date" validate:"required,datetime=2006-01-02"`
	VillageID     int64           `json:"village_id" validate:"required,gt=0"`
	HamletID      int64           `json:"hamlet_id" validate:"required,gt=0"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	SPPTPaidCount int64           `json:"sppt_paid_count" validate:"required,gt=0"`
	PaymentType   string          `json:"payment_type" validate:"required,oneof=tunai transfer setoran"`
	Notes         *string         `json:"notes"`
}

type UpdatePaymentRequest struct {
	PaymentDate   *string          `json:"payment_date" validate:"omitempty,datetime=2006-01-02"`
	VillageID     *int64           `json:"village_id" validate:"omitempty,gt=0"`
	HamletID      *int64           `json:"hamlet_id" validate:"omitempty,gt=0"`
	PaymentAmount *decimal.Decimal `json:"payment_amount"`
	SPPTPaidCount *int64           `json:"sppt_paid_count" validate:"omitempty,gt=0"`
	PaymentType   *string          `json:"payment_type" validate:"omitempty,oneof=tunai transfer setoran"`
	Notes         *string          `json:"notes"`
}

type CreateUserRequest struct {
	Username  string `json:"username" validate:"required,min=3,max=50"`
	Password  string `json:"password" validate:"required,min=6"`
	FullName  string `json:"full_name" validate:"required,max=255"`
	Role      string `json:"role" validate:"required,oneof=super_admin village_user"`
	VillageID *int64 `json:"village_id" validate:"omitempty,gt=0"`
}

// UpdateUserRequest changes only the fields present. ClearVillage removes
// the village assignment.
type UpdateUserRequest struct {
	Username     *string `json:"username" validate:"omitempty,min=3,max=50"`
	Password     *string `json:"password" validate:"omitempty,min=6"`
	FullName     *string `json:"full_name" validate:"omitempty,max=255"`
	Role         *string `json:"role" validate:"omitempty,oneof=super_admin village_user"`
	VillageID    *int64  `json:"village_id" validate:"omitempty,gt=0"`
	ClearVillage bool    `json:"clear_village"`
	IsActive     *bool   `json:"is_active"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type VillageDTO struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Code      string `json:"code"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type HamletDTO struct {
	ID         int64  `json:"id"`
	VillageID  int64  `json:"village_id"`
	Name       string `json:"name"`
	HeadName   string `json:"head_name"`
	SPPTTarget int64  `json:"sppt_target"`
	PBBTarget  string `json:"pbb_target"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type PaymentDTO struct {
	ID            int64   `json:"id"`
	PaymentDate   string  `json:"payment_date"`
	VillageID     int64   `json:"village_id"`
	HamletID      int64   `json:"hamlet_id"`
	PaymentAmount string  `json:"payment_amount"`
	SPPTPaidCount int64   `json:"sppt_paid_count"`
	PaymentType   string  `json:"payment_type"`
	Notes         *string `json:"notes"`
	CreatedBy     int64   `json:"created_by"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

// UserDTO never carries the password hash.
type UserDTO struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FullName  string `json:"full_name"`
	Role      string `json:"role"`
	VillageID *int64 `json:"village_id"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type LoginResponse struct {
	Token     string  `json:"token"`
	ExpiresAt string  `json:"expires_at"`
	User      UserDTO `json:"user"`
}

type VillageDashboardDTO struct {
	VillageID             int64  `json:"village_id"`
	VillageName           string `json:"village_name"`
	TotalSPPTTarget       int64  `json:"total_sppt_target"`
	TotalPBBTarget        string `json:"total_pbb_target"`
	TotalSPPTPaid         int64  `json:"total_sppt_paid"`
	TotalPBBPaid          string `json:"total_pbb_paid"`
	AchievementPercentage string `json:"achievement_percentage"`
}

type HamletDashboardDTO struct {
	HamletID              int64  `json:"hamlet_id"`
	HamletName            string `json:"hamlet_name"`
	VillageID             int64  `json:"village_id"`
	VillageName           string `json:"village_name"`
	SPPTTarget            int64  `json:"sppt_target"`
	PBBTarget             string `json:"pbb_target"`
	SPPTPaid              int64  `json:"sppt_paid"`
	PBBPaid               string `json:"pbb_paid"`
	AchievementPercentage string `json:"achievement_percentage"`
}

type ReportRowDTO struct {
	PaymentID             int64  `json:"payment_id"`
	PaymentDate           string `json:"payment_date"`
	VillageID             int64  `json:"village_id"`
	VillageName           string `json:"village_name"`
	HamletID              int64  `json:"hamlet_id"`
	HamletName            string `json:"hamlet_name"`
	PaymentAmount         string `json:"payment_amount"`
	SPPTPaidCount         int64  `json:"sppt_paid_count"`
	PaymentType           string `json:"payment_type"`
	AchievementPercentage string `json:"achievement_percentage"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Kind   string            `json:"kind"`
	Fields map[string]string `json:"fields,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toVillageDTO(v pbb.Village) VillageDTO {
	return VillageDTO{
		ID:        int64(v.ID),
		Name:      v.Name,
		Code:      v.Code,
		CreatedAt: formatTimestamp(v.CreatedAt),
		UpdatedAt: formatTimestamp(v.UpdatedAt),
	}
}

func toHamletDTO(h pbb.Hamlet) HamletDTO {
	return HamletDTO{
		ID:         int64(h.ID),
		VillageID:  int64(h.VillageID),
		Name:       h.Name,
		HeadName:   h.HeadName,
		SPPTTarget: h.SPPTTarget,
		PBBTarget:  pbb.FormatMoney(h.PBBTarget),
		CreatedAt:  formatTimestamp(h.CreatedAt),
		UpdatedAt:  formatTimestamp(h.UpdatedAt),
	}
}

func toPaymentDTO(p pbb.Payment) PaymentDTO {
	return PaymentDTO{
		ID:            int64(p.ID),
		PaymentDate:   p.PaymentDate.Format(dateLayout),
		VillageID:     int64(p.VillageID),
		HamletID:      int64(p.HamletID),
		PaymentAmount: pbb.FormatMoney(p.Amount),
		SPPTPaidCount: p.SPPTPaidCount,
		PaymentType:   string(p.Type),
		Notes:         p.Notes,
		CreatedBy:     int64(p.CreatedBy),
		CreatedAt:     formatTimestamp(p.CreatedAt),
		UpdatedAt:     formatTimestamp(p.UpdatedAt),
	}
}

func toUserDTO(u pbb.User) UserDTO {
	dto := UserDTO{
		ID:        int64(u.ID),
		Username:  u.Username,
		FullName:  u.FullName,
		Role:      string(u.Role),
		IsActive:  u.IsActive,
		CreatedAt: formatTimestamp(u.CreatedAt),
		UpdatedAt: formatTimestamp(u.UpdatedAt),
	}
	if u.VillageID != nil {
		id := int64(*u.VillageID)
		dto.VillageID = &id
	}
	return dto
}

func toVillageDashboardDTO(r pbb.VillageDashboardRow) VillageDashboardDTO {
	return VillageDashboardDTO{
		VillageID:             int64(r.VillageID),
		VillageName:           r.VillageName,
		TotalSPPTTarget:       r.TotalSPPTTarget,
		TotalPBBTarget:        pbb.FormatMoney(r.TotalPBBTarget),
		TotalSPPTPaid:         r.TotalSPPTPaid,
		TotalPBBPaid:          pbb.FormatMoney(r.TotalPBBPaid),
		AchievementPercentage: pbb.FormatMoney(r.AchievementPercentage),
	}
}

func toHamletDashboardDTO(r pbb.HamletDashboardRow) HamletDashboardDTO {
	return HamletDashboardDTO{
		HamletID:              int64(r.HamletID),
		HamletName:            r.HamletName,
		VillageID:             int64(r.VillageID),
		VillageName:           r.VillageName,
		SPPTTarget:            r.SPPTTarget,
		PBBTarget:             pbb.FormatMoney(r.PBBTarget),
		SPPTPaid:              r.SPPTPaid,
		PBBPaid:               pbb.FormatMoney(r.PBBPaid),
		AchievementPercentage: pbb.FormatMoney(r.AchievementPercentage),
	}
}

func toReportRowDTO(r pbb.ReportRow) ReportRowDTO {
	return ReportRowDTO{
		PaymentID:             int64(r.PaymentID),
		PaymentDate:           r.PaymentDate.Format(dateLayout),
		VillageID:             int64(r.VillageID),
		VillageName:           r.VillageName,
		HamletID:              int64(r.HamletID),
		HamletName:            r.HamletName,
		PaymentAmount:         pbb.FormatMoney(r.PaymentAmount),
		SPPTPaidCount:         r.SPPTPaidCount,
		PaymentType:           string(r.PaymentType),
		AchievementPercentage: pbb.FormatMoney(r.AchievementPercentage),
	}
}

// mapSlice converts every element of in with fn. Never returns nil, so
// empty lists encode as [].
func mapSlice[T, U any](in []T, fn func(T) U) []U {
	out := make([]U, len(in))
	for i, v := range in {
		out[i] = fn(v)
	}
	return out
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timestampLayout)
}

func parseDate(field, s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, &pbb.ValidationError{Field: field, Message: "must be a date in YYYY-MM-DD format"}
	}
	return t, nil
}
