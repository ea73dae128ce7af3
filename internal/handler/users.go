package handler

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/devroom-ai/devroom/internal/auth"
	"github.com/devroom-ai/devroom/internal/middleware"
	"github.com/devroom-ai/devroom/internal/model"
	"github.com/devroom-ai/devroom/internal/store"
)

const minPasswordLength = 3

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

// RegisterUser creates a new account and signs the user in.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if _, err := mail.ParseAddress(req.Email); err != nil {
		h.Error(w, http.StatusBadRequest, "Email must be a valid email address")
		return
	}
	if len(req.Password) < minPasswordLength {
		h.Error(w, http.StatusBadRequest, "Password must be at least 3 characters long")
		return
	}

	if _, err := h.store.GetUserByEmail(r.Context(), req.Email); err == nil {
		h.Error(w, http.StatusConflict, "User already exists")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		h.Error(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	user := &model.User{Email: req.Email, PasswordHash: hash}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		h.Error(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	token, _, err := h.authService.IssueToken(user.ID, user.Email)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	h.JSON(w, http.StatusCreated, authResponse{User: user, Token: token})
}

// LoginUser verifies credentials and issues a token.
func (h *Handler) LoginUser(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	user, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		h.Error(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		h.Error(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, _, err := h.authService.IssueToken(user.ID, user.Email)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	h.JSON(w, http.StatusOK, authResponse{User: user, Token: token})
}

// Profile returns the authenticated user.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	user, err := h.store.GetUserByID(r.Context(), userID)
	if err != nil {
		h.Error(w, http.StatusNotFound, "User not found")
		return
	}

	h.JSON(w, http.StatusOK, map[string]*model.User{"user": user})
}

// LogoutUser revokes the presented token for the remainder of its life.
func (h *Handler) LogoutUser(w http.ResponseWriter, r *http.Request) {
	token := middleware.GetToken(r.Context())

	if err := h.authService.RevokeToken(r.Context(), token); err != nil {
		h.Error(w, http.StatusInternalServerError, "Failed to log out")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

// ListUsers returns every user except the caller, for project invites.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	users, err := h.store.ListUsersExcept(r.Context(), userID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "Failed to list users")
		return
	}

	h.JSON(w, http.StatusOK, map[string][]*model.User{"users": users})
}
