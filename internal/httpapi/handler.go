package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartbag/authgate"
	"github.com/smartbag/authgate/credential"
	"github.com/smartbag/authgate/middleware"
	"github.com/smartbag/authgate/password"
)

// Gate is the subset of *authgate.Gate the handlers call.
type Gate interface {
	Login(ctx context.Context, identity, secret string) (*authgate.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*authgate.TokenPair, error)
	Authenticate(ctx context.Context, accessToken string) (*authgate.Claim, error)
	LogoutByAccessToken(ctx context.Context, accessToken string) error
	LogoutAll(ctx context.Context, subject string) error
	Admit(ctx context.Context, class authgate.TrafficClass) (authgate.Decision, error)
}

// Registrar creates credentials.
type Registrar interface {
	Register(ctx context.Context, identity, secret, role string) (*credential.Credential, error)
}

type Handler struct {
	gate        Gate
	registrar   Registrar
	defaultRole string
	log         logrus.FieldLogger
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type meResponse struct {
	Subject   string   `json:"subject"`
	Role      string   `json:"role,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
	ExpiresAt int64    `json:"expires_at"`
}

type registerResponse struct {
	ID       string `json:"id"`
	Identity string `json:"identity"`
	Role     string `json:"role"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	pair, err := h.gate.Login(r.Context(), req.Identity, req.Secret)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTokenResponse(pair))
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	pair, err := h.gate.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTokenResponse(pair))
}

// Logout ends the session family the bearer token belongs to.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		h.fail(w, r, authgate.ErrMalformed)
		return
	}
	if err := h.gate.LogoutByAccessToken(r.Context(), token); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll runs behind the guard and ends every family of the caller.
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claim, ok := middleware.ClaimFromContext(r.Context())
	if !ok {
		h.fail(w, r, authgate.ErrMalformed)
		return
	}
	if err := h.gate.LogoutAll(r.Context(), claim.Subject); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claim, ok := middleware.ClaimFromContext(r.Context())
	if !ok {
		h.fail(w, r, authgate.ErrMalformed)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		Subject:   claim.Subject,
		Role:      claim.Role,
		Scopes:    claim.Scopes,
		ExpiresAt: claim.ExpiresAt.Unix(),
	})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	cred, err := h.registrar.Register(r.Context(), req.Identity, req.Secret, h.defaultRole)
	switch {
	case err == nil:
	case errors.Is(err, credential.ErrExists):
		writeJSON(w, http.StatusConflict, badRequest{Detail: "identity already registered"})
		return
	case errors.Is(err, credential.ErrInvalidIdentity), errors.Is(err, password.ErrPolicy):
		writeJSON(w, http.StatusBadRequest, badRequest{Detail: err.Error()})
		return
	default:
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		ID:       strconv.FormatInt(cred.ID, 10),
		Identity: cred.Identity,
		Role:     cred.Role,
	})
}

func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status := middleware.StatusCode(err); status >= http.StatusInternalServerError {
		h.log.WithError(err).WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status_code": status,
		}).Error("authgate: request failed")
	}
	middleware.WriteError(w, err)
}

func toTokenResponse(p *authgate.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    p.TokenType,
		ExpiresIn:    p.ExpiresIn,
	}
}
