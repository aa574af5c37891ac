package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusgate/campusgate/internal/middleware"
	"github.com/campusgate/campusgate/internal/services"
	"github.com/campusgate/campusgate/pkg/errors"
	"github.com/campusgate/campusgate/pkg/response"
)

// ProfileHandler manages the authenticated user's profile.
type ProfileHandler struct {
	users *services.UserService
}

func NewProfileHandler(users *services.UserService) *ProfileHandler {
	return &ProfileHandler{users: users}
}

type updateProfileRequest struct {
	Name              *string `json:"name" validate:"omitempty,max=200"`
	PreferredLanguage *string `json:"preferredLanguage" validate:"omitempty,max=16"`
	MarketingConsent  *bool   `json:"marketingConsent"`
}

// PATCH /me
func (h *ProfileHandler) Update(c *gin.Context) {
	principal, ok := middleware.PrincipalFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req updateProfileRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.UpdateProfile(requestContext(c), principal.UserID, services.UpdateProfileInput{
		Name:              req.Name,
		PreferredLanguage: req.PreferredLanguage,
		MarketingConsent:  req.MarketingConsent,
	})
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"user": user})
}
