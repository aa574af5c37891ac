package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	iauth "github.com/campusgate/campusgate/internal/auth"
	"github.com/campusgate/campusgate/internal/middleware"
	"github.com/campusgate/campusgate/internal/services"
	"github.com/campusgate/campusgate/pkg/errors"
	"github.com/campusgate/campusgate/pkg/response"
)

// SessionHandler exposes the session list and per-session revocation.
type SessionHandler struct {
	sessions *iauth.SessionService
	audit    *services.AuditService
}

func NewSessionHandler(sessions *iauth.SessionService, audit *services.AuditService) *SessionHandler {
	return &SessionHandler{sessions: sessions, audit: audit}
}

// GET /sessions
func (h *SessionHandler) List(c *gin.Context) {
	principal, ok := middleware.PrincipalFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	sessions, err := h.sessions.ListForUser(requestContext(c), principal.UserID)
	if err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}

	type sessionView struct {
		ID             string `json:"id"`
		IPAddress      string `json:"ip_address"`
		UserAgent      string `json:"user_agent"`
		RememberMe     bool   `json:"remember_me"`
		Current        bool   `json:"current"`
		ExpiresAt      string `json:"expires_at"`
		LastActivityAt string `json:"last_activity_at"`
		CreatedAt      string `json:"created_at"`
	}

	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView{
			ID:             s.ID,
			IPAddress:      s.IPAddress,
			UserAgent:      s.UserAgent,
			RememberMe:     s.RememberMe,
			Current:        s.ID == principal.SessionID,
			ExpiresAt:      s.ExpiresAt.UTC().Format(time.RFC3339),
			LastActivityAt: s.LastActivityAt.UTC().Format(time.RFC3339),
			CreatedAt:      s.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	response.Success(c, http.StatusOK, gin.H{"sessions": views})
}

// POST /sessions/revoke/:id
func (h *SessionHandler) Revoke(c *gin.Context) {
	principal, ok := middleware.PrincipalFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	sessionID := strings.TrimSpace(c.Param("id"))
	if sessionID == "" {
		response.Error(c, errors.NewBadRequest("session id is required"))
		return
	}

	ctx := requestContext(c)

	owns, err := h.sessions.Owns(ctx, principal.UserID, sessionID)
	if err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}
	if !owns {
		response.Error(c, errors.ErrNotFound)
		return
	}

	if err := h.sessions.RevokeByID(ctx, sessionID); err != nil {
		response.Error(c, mapServiceError(err))
		return
	}

	if h.audit != nil {
		userID := principal.UserID
		h.audit.Record(services.AuditEntry{
			UserID:    &userID,
			Action:    services.AuditActionSessionRevoke,
			Result:    services.AuditResultSuccess,
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			Metadata:  map[string]any{"session_id": sessionID},
		})
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}
