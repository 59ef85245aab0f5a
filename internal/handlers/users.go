package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/telegraphhq/telegraph/internal/services"
	"github.com/telegraphhq/telegraph/pkg/response"
)

// UserHandler exposes HTTP endpoints for managing notification recipients.
type UserHandler struct {
	users *services.UserService
}

// NewUserHandler constructs a user handler.
func NewUserHandler(users *services.UserService) (*UserHandler, error) {
	if users == nil {
		return nil, errors.New("handlers: user service is required")
	}
	return &UserHandler{users: users}, nil
}

type createUserRequest struct {
	ID    string `json:"id" validate:"required"`
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"omitempty,email"`
}

// Create registers a new recipient together with a default preference row.
func (h *UserHandler) Create(c *gin.Context) {
	var req createUserRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Create(c.Request.Context(), services.CreateUserInput{
		ID:    strings.TrimSpace(req.ID),
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, user)
}

// Get returns a single recipient by id.
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// List returns all recipients.
func (h *UserHandler) List(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, users)
}

type updateUserRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email" validate:"omitempty,email"`
}

// Update modifies a recipient's mutable attributes.
func (h *UserHandler) Update(c *gin.Context) {
	var req updateUserRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Update(c.Request.Context(), c.Param("id"), services.UpdateUserInput{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// Delete removes a recipient and their preference row.
func (h *UserHandler) Delete(c *gin.Context) {
	if err := h.users.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": c.Param("id")})
}
