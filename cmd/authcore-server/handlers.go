package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/MrEthical07/authcore/permission"
)

const (
	refreshCookie  = "refresh_token"
	maxRequestBody = 1 << 16
)

type handlers struct {
	engine        *authcore.Engine
	log           *slog.Logger
	secureCookies bool
}

type tokensResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	SessionID        string    `json:"session_id"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type userResponse struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Name        string   `json:"name,omitempty"`
	Role        string   `json:"role"`
	Status      string   `json:"status,omitempty"`
	Permissions []string `json:"permissions"`
	MFAEnabled  bool     `json:"mfa_enabled"`
}

type loginResponse struct {
	MFARequired  bool            `json:"mfa_required"`
	MFAChallenge string          `json:"mfa_challenge,omitempty"`
	User         *userResponse   `json:"user,omitempty"`
	Tokens       *tokensResponse `json:"tokens,omitempty"`
}

type sessionResponse struct {
	ID           string    `json:"id"`
	Current      bool      `json:"current"`
	DeviceID     string    `json:"device_id,omitempty"`
	IP           string    `json:"ip,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity"`
}

func toTokens(t authcore.Tokens) *tokensResponse {
	return &tokensResponse{
		AccessToken:      t.AccessToken,
		RefreshToken:     t.RefreshToken,
		SessionID:        t.SessionID,
		TokenType:        "Bearer",
		AccessExpiresAt:  t.AccessExpiresAt,
		RefreshExpiresAt: t.RefreshExpiresAt,
	}
}

func toUser(u authcore.User) *userResponse {
	return &userResponse{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		Role:        u.Role.String(),
		Status:      u.Status.String(),
		Permissions: u.Permissions.Names(),
		MFAEnabled:  u.MFAEnabled,
	}
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if !decode(w, r, &body) {
		return
	}
	user, err := h.engine.Register(r.Context(), authcore.RegisterRequest{
		Email:    body.Email,
		Name:     body.Name,
		Password: body.Password,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUser(user))
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		DeviceID string `json:"device_id"`
	}
	if !decode(w, r, &body) {
		return
	}
	res, err := h.engine.Login(r.Context(), body.Email, body.Password, authcore.ClientInfo{DeviceID: body.DeviceID})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	h.writeLogin(w, res)
}

func (h *handlers) verifyMFA(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Challenge string `json:"mfa_challenge"`
		Code      string `json:"code"`
	}
	if !decode(w, r, &body) {
		return
	}
	res, err := h.engine.VerifyMFA(r.Context(), body.Challenge, body.Code)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	h.writeLogin(w, res)
}

func (h *handlers) writeLogin(w http.ResponseWriter, res authcore.LoginResult) {
	if res.MFARequired {
		writeJSON(w, http.StatusAccepted, loginResponse{MFARequired: true, MFAChallenge: res.MFAChallenge})
		return
	}
	h.setRefreshCookie(w, res.Tokens)
	writeJSON(w, http.StatusOK, loginResponse{User: toUser(res.User), Tokens: toTokens(res.Tokens)})
}

// refresh takes the token from the JSON body, falling back to the cookie.
func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if r.ContentLength != 0 && !decode(w, r, &body) {
		return
	}
	token := body.RefreshToken
	if token == "" {
		if c, err := r.Cookie(refreshCookie); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		middleware.WriteError(w, authcore.ErrUnauthorized)
		return
	}
	tokens, err := h.engine.Refresh(r.Context(), token)
	if err != nil {
		h.clearRefreshCookie(w)
		middleware.WriteError(w, err)
		return
	}
	h.setRefreshCookie(w, tokens)
	writeJSON(w, http.StatusOK, toTokens(tokens))
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	claims := mustClaims(r)
	if err := h.engine.Logout(r.Context(), claims.SessionID); err != nil {
		middleware.WriteError(w, err)
		return
	}
	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) logoutAll(w http.ResponseWriter, r *http.Request) {
	claims := mustClaims(r)
	n, err := h.engine.LogoutAll(r.Context(), claims.UserID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	h.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	claims := mustClaims(r)
	writeJSON(w, http.StatusOK, userResponse{
		ID:          claims.UserID,
		Email:       claims.Email,
		Name:        claims.Name,
		Role:        claims.Role.String(),
		Permissions: claims.Permissions.Names(),
	})
}

func (h *handlers) sessions(w http.ResponseWriter, r *http.Request) {
	claims := mustClaims(r)
	list, err := h.engine.ListSessions(r.Context(), claims.UserID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	out := make([]sessionResponse, len(list))
	for i, s := range list {
		out[i] = sessionResponse{
			ID:           s.ID,
			Current:      s.ID == claims.SessionID,
			DeviceID:     s.DeviceID,
			IP:           s.IP,
			UserAgent:    s.UserAgent,
			IssuedAt:     s.IssuedAt,
			ExpiresAt:    s.ExpiresAt,
			LastActivity: s.LastActivity,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *handlers) changePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Current string `json:"current_password"`
		New     string `json:"new_password"`
	}
	if !decode(w, r, &body) {
		return
	}
	claims := mustClaims(r)
	if err := h.engine.ChangePassword(r.Context(), claims.UserID, body.Current, body.New); err != nil {
		middleware.WriteError(w, err)
		return
	}
	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) beginMFA(w http.ResponseWriter, r *http.Request) {
	claims := mustClaims(r)
	enrollment, err := h.engine.BeginMFAEnrollment(r.Context(), claims.UserID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"secret":      enrollment.Secret,
		"otpauth_uri": enrollment.URI,
		"expires_at":  enrollment.ExpiresAt,
	})
}

func (h *handlers) confirmMFA(w http.ResponseWriter, r *http.Request) {
	h.withCode(w, r, h.engine.ConfirmMFAEnrollment)
}

func (h *handlers) disableMFA(w http.ResponseWriter, r *http.Request) {
	h.withCode(w, r, h.engine.DisableMFA)
}

func (h *handlers) withCode(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, userID, code string) error) {
	var body struct {
		Code string `json:"code"`
	}
	if !decode(w, r, &body) {
		return
	}
	claims := mustClaims(r)
	if err := op(r.Context(), claims.UserID, body.Code); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) setRole(target func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Role permission.Role `json:"role"`
		}
		if !decode(w, r, &body) {
			return
		}
		h.admin(w, r, h.engine.SetRole(r.Context(), mustClaims(r), target(r), body.Role))
	}
}

func (h *handlers) setStatus(target func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Status string `json:"status"`
		}
		if !decode(w, r, &body) {
			return
		}
		status, err := identity.ParseStatus(body.Status)
		if err != nil {
			middleware.WriteError(w, fmt.Errorf("%w: %v", authcore.ErrInvalidInput, err))
			return
		}
		h.admin(w, r, h.engine.SetStatus(r.Context(), mustClaims(r), target(r), status))
	}
}

func (h *handlers) setOverrides(target func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Add    []string `json:"add"`
			Remove []string `json:"remove"`
		}
		if !decode(w, r, &body) {
			return
		}
		add, err := permission.ParseNames(body.Add)
		if err != nil {
			middleware.WriteError(w, fmt.Errorf("%w: %v", authcore.ErrInvalidInput, err))
			return
		}
		remove, err := permission.ParseNames(body.Remove)
		if err != nil {
			middleware.WriteError(w, fmt.Errorf("%w: %v", authcore.ErrInvalidInput, err))
			return
		}
		o := permission.Overrides{Add: add, Remove: remove}
		h.admin(w, r, h.engine.SetPermissionOverrides(r.Context(), mustClaims(r), target(r), o))
	}
}

func (h *handlers) unlock(target func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.admin(w, r, h.engine.Unlock(r.Context(), mustClaims(r), target(r)))
	}
}

func (h *handlers) admin(w http.ResponseWriter, _ *http.Request, err error) {
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// mustClaims reads the claims placed by middleware.Authorize. Routes using
// it are always mounted behind that middleware.
func mustClaims(r *http.Request) authcore.Claims {
	claims, ok := authcore.ClaimsFromContext(r.Context())
	if !ok {
		panic("authcore-server: handler mounted without Authorize")
	}
	return claims
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		middleware.WriteError(w, fmt.Errorf("%w: %v", authcore.ErrInvalidInput, err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *handlers) setRefreshCookie(w http.ResponseWriter, t authcore.Tokens) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    t.RefreshToken,
		Path:     "/auth",
		Expires:  t.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *handlers) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}
