package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"huddle/internal/auth"
	"huddle/internal/chat"
	"huddle/internal/models"
)

// AdminHandler serves the provisioning endpoints bound to the localhost
// admin listener. There is no authentication here; the listener address is
// the access control.
type AdminHandler struct {
	authService *auth.AuthService
	chats       *chat.Service
}

func NewAdminHandler(authService *auth.AuthService, chats *chat.Service) *AdminHandler {
	return &AdminHandler{authService: authService, chats: chats}
}

type addUserRequest struct {
	Email    string `json:"email"`
	UserName string `json:"userName"`
	Password string `json:"password"`
}

type addUserResponse struct {
	apiResponse
	User models.User `json:"user,omitempty"`
}

func (h *AdminHandler) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	var req addUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserName == "" {
		req.UserName = req.Email
	}

	user, err := h.authService.CreateAccount(req.Email, req.UserName, req.Password)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, addUserResponse{
			apiResponse: apiResponse{Message: fmt.Sprintf("Failed to create user: %v", err)},
		})
		return
	}

	// Open a DM with every existing user so the new account starts with a
	// full conversation list.
	if all, err := h.authService.GetUsers(); err == nil {
		for _, other := range all {
			if other.ID == user.ID {
				continue
			}
			if _, err := h.chats.EnsureDM(user.ID, other.ID); err != nil {
				writeJSON(w, http.StatusInternalServerError, addUserResponse{
					apiResponse: apiResponse{Message: fmt.Sprintf("Failed to create conversations: %v", err)},
				})
				return
			}
		}
	}

	writeJSON(w, http.StatusOK, addUserResponse{
		apiResponse: apiResponse{Success: true},
		User:        user,
	})
}

func (h *AdminHandler) DeleteUserHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("id")
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	if err := h.authService.DeactivateUser(userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to delete user: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: fmt.Sprintf("User %s deleted", userID),
	})
}

type resetPasswordResponse struct {
	apiResponse
	Password string `json:"password,omitempty"`
}

func (h *AdminHandler) ResetUserPasswordHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("id")
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	password, err := h.authService.ResetPassword(userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to reset user password: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, resetPasswordResponse{
		apiResponse: apiResponse{
			Success: true,
			Message: fmt.Sprintf("Password for user %s reset", userID),
		},
		Password: password,
	})
}
