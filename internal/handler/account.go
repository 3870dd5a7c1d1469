package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/course-session/internal/api"
	"github.com/sakif/course-session/internal/apperror"
	"github.com/sakif/course-session/internal/auth"
	"github.com/sakif/course-session/internal/model"
	"github.com/sakif/course-session/internal/service"
)

// AccountHandler serves the identity API consumed by remote.Client.
//
//	POST  /api/auth/register → HandleRegister (201)
//	POST  /api/auth/login    → HandleLogin
//	POST  /api/auth/logout   → HandleLogout   (bearer)
//	GET   /api/users/me      → HandleMe       (bearer)
//	PATCH /api/users/me      → HandleUpdateMe (bearer)
//
// The bearer routes sit behind auth.RequireAuth, which puts the claims in
// the request context.
type AccountHandler struct {
	accounts *service.AccountService
	logger   *slog.Logger
}

func NewAccountHandler(accounts *service.AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

func (h *AccountHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		h.logFailure("register", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse(res))
}

func (h *AccountHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.accounts.Login(r.Context(), req)
	if err != nil {
		h.logFailure("login", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse(res))
}

// HandleLogout revokes the presented token. The client clears its session
// whatever this returns.
func (h *AccountHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("Please sign in again."))
		return
	}
	if err := h.accounts.Logout(r.Context(), claims); err != nil {
		h.logFailure("logout", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.MessageResponse{Message: "logged out"})
}

func (h *AccountHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("Please sign in again."))
		return
	}
	account, err := h.accounts.Me(r.Context(), claims.UserID)
	if err != nil {
		h.logFailure("me", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse(account))
}

func (h *AccountHandler) HandleUpdateMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("Please sign in again."))
		return
	}

	var req api.ProfileUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	account, err := h.accounts.UpdateProfile(r.Context(), claims.UserID, req)
	if err != nil {
		h.logFailure("update profile", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse(account))
}

// logFailure logs unexpected errors; rejections the user caused are the
// normal path and stay at debug.
func (h *AccountHandler) logFailure(op string, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		h.logger.Debug(op+" rejected", slog.String("error", err.Error()))
		return
	}
	h.logger.Error(op+" failed", slog.String("error", err.Error()))
}

func authResponse(res *service.AuthResult) api.AuthResponse {
	a := res.Account
	return api.AuthResponse{
		UserID:       a.ID,
		Name:         a.FullName,
		Email:        a.Email,
		Token:        res.Token,
		Role:         a.Role,
		IsAdmin:      a.IsAdmin,
		Subscription: a.Subscription,
	}
}

func profileResponse(a *model.Account) api.ProfileResponse {
	return api.ProfileResponse{Name: a.FullName, Email: a.Email}
}
