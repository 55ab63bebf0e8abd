package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

var validate = validator.New()

type loginRequest struct {
	Identity string `json:"identity" validate:"required,max=254"`
	Secret   string `json:"secret" validate:"required,max=1024"`
}

type registerRequest struct {
	Identity string `json:"identity" validate:"required,email,max=254"`
	Secret   string `json:"secret" validate:"required,max=1024"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type badRequest struct {
	Detail string `json:"detail"`
}

// decodeAndValidate reads a JSON body into payload and runs its validate
// tags. It writes a 400 and returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, payload any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(payload); err != nil {
		writeJSON(w, http.StatusBadRequest, badRequest{Detail: "invalid request body"})
		return false
	}

	if err := validate.Struct(payload); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, badRequest{Detail: "invalid request body"})
			return false
		}
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, strings.ToLower(fe.Field())+" "+fe.Tag())
		}
		writeJSON(w, http.StatusBadRequest, badRequest{Detail: "invalid fields: " + strings.Join(fields, ", ")})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
