package handlers

import (
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/campusgate/campusgate/internal/auth"
	"github.com/campusgate/campusgate/internal/middleware"
	"github.com/campusgate/campusgate/internal/services"
	"github.com/campusgate/campusgate/pkg/errors"
	"github.com/campusgate/campusgate/pkg/response"
)

// AuthHandler manages registration, credential flows, and the session lifecycle.
type AuthHandler struct {
	users        *services.UserService
	sessions     *iauth.SessionService
	verification *services.EmailVerificationService
	resets       *services.PasswordResetService
	audit        *services.AuditService
}

func NewAuthHandler(
	users *services.UserService,
	sessions *iauth.SessionService,
	verification *services.EmailVerificationService,
	resets *services.PasswordResetService,
	audit *services.AuditService,
) *AuthHandler {
	return &AuthHandler{
		users:        users,
		sessions:     sessions,
		verification: verification,
		resets:       resets,
		audit:        audit,
	}
}

type registerRequest struct {
	Email             string `json:"email" validate:"required,email"`
	Password          string `json:"password" validate:"required,min=10,max=128"`
	Name              string `json:"name" validate:"max=200"`
	PreferredLanguage string `json:"preferredLanguage" validate:"omitempty,max=16"`
	TermsAccepted     bool   `json:"termsAccepted"`
	MarketingConsent  bool   `json:"marketingConsent"`
}

// POST /register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Register(requestContext(c), services.RegisterInput{
		Email:             req.Email,
		Password:          req.Password,
		Name:              req.Name,
		PreferredLanguage: req.PreferredLanguage,
		TermsAccepted:     req.TermsAccepted,
		MarketingConsent:  req.MarketingConsent,
	})
	if err != nil {
		h.recordAudit(c, nil, req.Email, services.AuditActionRegister, services.AuditResultFailure)
		response.Error(c, mapServiceError(err))
		return
	}

	h.recordAudit(c, &user.ID, user.Email, services.AuditActionRegister, services.AuditResultSuccess)
	response.Success(c, http.StatusCreated, gin.H{"user": user})
}

// GET /verify-email/:token
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))

	user, err := h.verification.Redeem(requestContext(c), token)
	if err != nil {
		h.recordAudit(c, nil, "", services.AuditActionVerifyEmail, services.AuditResultFailure)
		response.Error(c, mapServiceError(err))
		return
	}

	h.recordAudit(c, &user.ID, user.Email, services.AuditActionVerifyEmail, services.AuditResultSuccess)
	response.Success(c, http.StatusOK, gin.H{"verified": true})
}

type loginRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	RememberMe bool   `json:"rememberMe"`
}

// POST /login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)

	user, err := h.users.Authenticate(ctx, req.Email, req.Password, c.ClientIP())
	if err != nil {
		h.recordAudit(c, nil, req.Email, services.AuditActionLogin, services.AuditResultFailure)
		response.Error(c, mapServiceError(err))
		return
	}

	rawToken, session, err := h.sessions.Create(ctx, user, iauth.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}, req.RememberMe)
	if err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}

	maxAge := int(session.ExpiresAt.Sub(session.CreatedAt).Seconds())
	setSessionCookie(c, rawToken, maxAge)
	middleware.SetCSRFCookie(c, session.CSRFSecret, maxAge)

	h.recordAudit(c, &user.ID, user.Email, services.AuditActionLogin, services.AuditResultSuccess)
	response.Success(c, http.StatusOK, gin.H{
		"user":      user,
		"csrfToken": session.CSRFSecret,
	})
}

// POST /logout
func (h *AuthHandler) Logout(c *gin.Context) {
	token := middleware.SessionTokenFromContext(c)

	err := h.sessions.Revoke(requestContext(c), token)
	if err != nil && !stderrors.Is(err, iauth.ErrSessionNotFound) && !stderrors.Is(err, iauth.ErrSessionInvalidToken) {
		response.Error(c, errors.ErrInternalServer)
		return
	}

	clearSessionCookie(c)
	middleware.ClearCSRFCookie(c)

	if principal, ok := middleware.PrincipalFromContext(c); ok {
		h.recordAudit(c, &principal.UserID, "", services.AuditActionLogout, services.AuditResultSuccess)
	}

	response.Success(c, http.StatusOK, gin.H{"loggedOut": true})
}

// GET /me
func (h *AuthHandler) Me(c *gin.Context) {
	principal, ok := middleware.PrincipalFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	user, err := h.users.GetByID(requestContext(c), principal.UserID)
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"user": user})
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// POST /forgot-password
//
// Always answers 200 with the same message, whether or not the email maps to
// an account.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.resets.Request(requestContext(c), req.Email); err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}

	h.recordAudit(c, nil, req.Email, services.AuditActionResetRequest, services.AuditResultSuccess)
	response.Success(c, http.StatusOK, gin.H{
		"message": "If that email is registered, a reset link is on its way.",
	})
}

type resetPasswordRequest struct {
	Token    string `json:"token" validate:"required,hextoken"`
	Password string `json:"password" validate:"required,min=10,max=128"`
}

// POST /reset-password
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.resets.Redeem(requestContext(c), req.Token, req.Password)
	if err != nil {
		h.recordAudit(c, nil, "", services.AuditActionResetRedeem, services.AuditResultFailure)
		response.Error(c, mapServiceError(err))
		return
	}

	h.recordAudit(c, &user.ID, user.Email, services.AuditActionResetRedeem, services.AuditResultSuccess)
	response.Success(c, http.StatusOK, gin.H{"reset": true})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=10,max=128"`
}

// POST /change-password
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	principal, ok := middleware.PrincipalFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req changePasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	err := h.users.ChangePassword(requestContext(c), principal.UserID, req.CurrentPassword, req.NewPassword, principal.SessionID)
	if err != nil {
		h.recordAudit(c, &principal.UserID, "", services.AuditActionPasswordChange, services.AuditResultFailure)
		response.Error(c, mapServiceError(err))
		return
	}

	h.recordAudit(c, &principal.UserID, "", services.AuditActionPasswordChange, services.AuditResultSuccess)
	response.Success(c, http.StatusOK, gin.H{"changed": true})
}

type eraseAccountRequest struct {
	Password string `json:"password" validate:"required"`
}

// POST /account/erase
func (h *AuthHandler) EraseAccount(c *gin.Context) {
	principal, ok := middleware.PrincipalFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req eraseAccountRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.users.Erase(requestContext(c), principal.UserID, req.Password); err != nil {
		h.recordAudit(c, &principal.UserID, "", services.AuditActionAccountErase, services.AuditResultFailure)
		response.Error(c, mapServiceError(err))
		return
	}

	clearSessionCookie(c)
	middleware.ClearCSRFCookie(c)

	h.recordAudit(c, &principal.UserID, "", services.AuditActionAccountErase, services.AuditResultSuccess)
	response.Success(c, http.StatusOK, gin.H{"erased": true})
}

func (h *AuthHandler) recordAudit(c *gin.Context, userID *string, email, action, result string) {
	if h.audit == nil {
		return
	}
	h.audit.Record(services.AuditEntry{
		UserID:    userID,
		Email:     email,
		Action:    action,
		Result:    result,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
}

func setSessionCookie(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteStrictMode)
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		Secure:   middleware.IsSecureRequest(c.Request),
		HttpOnly: true,
		MaxAge:   maxAge,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Secure:   middleware.IsSecureRequest(c.Request),
		HttpOnly: true,
		MaxAge:   -1,
		SameSite: http.SameSiteStrictMode,
	})
}

// mapServiceError translates service sentinels into client-facing errors with
// deliberately generic messages.
func mapServiceError(err error) error {
	switch {
	case stderrors.Is(err, services.ErrEmailExists):
		return errors.ErrEmailTaken
	case stderrors.Is(err, services.ErrInvalidCredentials):
		return errors.ErrInvalidCredentials
	case stderrors.Is(err, services.ErrEmailUnverified):
		return errors.ErrAccountUnverified
	case stderrors.Is(err, services.ErrResetInvalid),
		stderrors.Is(err, services.ErrVerificationInvalid):
		return errors.ErrTokenInvalid
	case stderrors.Is(err, services.ErrUserNotFound):
		return errors.ErrNotFound
	case stderrors.Is(err, iauth.ErrSessionNotFound),
		stderrors.Is(err, iauth.ErrSessionExpired),
		stderrors.Is(err, iauth.ErrSessionInvalidToken):
		return errors.ErrUnauthorized
	default:
		return errors.ErrInternalServer
	}
}
