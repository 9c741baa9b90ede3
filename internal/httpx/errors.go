package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ariefcatur/go-prepaid-orders/internal/orders"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(k orders.Kind) int {
	switch k {
	case orders.KindValidation:
		return http.StatusUnprocessableEntity
	case orders.KindNotFound:
		return http.StatusNotFound
	case orders.KindConflict:
		return http.StatusConflict
	case orders.KindAuth:
		return http.StatusUnauthorized
	case orders.KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders a domain error. Internal errors never leak their text.
func writeError(w http.ResponseWriter, err error) {
	var e *orders.Error
	if !errors.As(err, &e) {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "INTERNAL"})
		return
	}
	writeJSON(w, statusFor(e.Kind), errorBody{Error: e.Message, Code: e.Code, Field: e.Field})
}

func writeBadRequest(w http.ResponseWriter, err error) {
	body := errorBody{Error: "invalid request", Code: "INVALID_REQUEST"}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		body.Field = fieldName(verrs[0].Namespace())
		body.Error = "field failed " + verrs[0].Tag() + " validation"
	}
	writeJSON(w, http.StatusBadRequest, body)
}

// fieldName drops the struct prefix from a validator namespace.
func fieldName(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
