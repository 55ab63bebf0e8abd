package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/smartbag/authgate"
)

type errorBody struct {
	Detail     string `json:"detail"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// StatusCode maps a gate error to its HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, authgate.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, authgate.ErrStoreUnavailable), errors.Is(err, authgate.ErrGateNotReady):
		return http.StatusServiceUnavailable
	case authgate.IsAuthFailure(err):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as a JSON body carrying only the public message.
// Authentication failures get a Bearer challenge and rate limits a
// Retry-After header.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	body := errorBody{Detail: authgate.PublicMessage(err)}

	switch status {
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", "Bearer")
	case http.StatusTooManyRequests:
		var limited *authgate.RateLimitedError
		if errors.As(err, &limited) {
			body.RetryAfter = limited.RetryAfterSeconds()
			w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfter))
		}
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
