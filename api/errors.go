package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warp/pbb-engine/auth"
	"github.com/warp/pbb-engine/logging"
	"github.com/warp/pbb-engine/pbb"
)

const kindUnauthenticated = "unauthenticated"

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) (int, string) {
	if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrUnauthenticated) {
		return http.StatusUnauthorized, kindUnauthenticated
	}

	kind := pbb.KindOf(err)
	switch kind {
	case pbb.KindInvalid:
		return http.StatusBadRequest, string(kind)
	case pbb.KindForbidden:
		return http.StatusForbidden, string(kind)
	case pbb.KindNotFound:
		return http.StatusNotFound, string(kind)
	case pbb.KindConflict, pbb.KindCapacityExceeded:
		return http.StatusConflict, string(kind)
	case pbb.KindMismatch:
		return http.StatusUnprocessableEntity, string(kind)
	}
	return http.StatusInternalServerError, string(pbb.KindInternal)
}

// writeError renders err as an ErrorResponse. Internal errors are logged
// and replaced by a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusFor(err)
	resp := ErrorResponse{Error: err.Error(), Kind: kind}

	var ve *pbb.ValidationError
	if errors.As(err, &ve) {
		resp.Fields = map[string]string{ve.Field: ve.Message}
	}

	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context()).ErrorContext(r.Context(), "request failed",
			logging.FieldOperation, operation(r),
			logging.FieldError, err.Error(),
			logging.FieldErrorKind, kind)
		resp.Error = "internal server error"
	}
	writeJSON(w, status, resp)
}

// operation names the matched route, e.g. "POST /api/payments/", falling
// back to the raw path outside the router.
func operation(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return r.Method + " " + pattern
		}
	}
	return r.Method + " " + r.URL.Path
}

// writeValidationError renders validator failures as one 400 carrying
// every failing field.
func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid input", Kind: string(pbb.KindInvalid)})
		return
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		msg := fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		fields[fe.Field()] = msg
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:  "validation failed",
		Kind:   string(pbb.KindInvalid),
		Fields: fields,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
