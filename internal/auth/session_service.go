package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/campusgate/campusgate/internal/models"
	"github.com/campusgate/campusgate/pkg/crypto"
	"github.com/campusgate/campusgate/pkg/logger"
	"github.com/campusgate/campusgate/pkg/metrics"
)

// Default session lifetimes. A plain login gets the short expiry; opting into
// "remember me" gets the long one.
const (
	DefaultSessionTTL    = 12 * time.Hour
	DefaultRememberMeTTL = 14 * 24 * time.Hour
)

// defaultTokenLength is the number of random bytes per bearer token.
const defaultTokenLength = 32

const activityWriteTimeout = 5 * time.Second

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	SessionTTL    time.Duration
	RememberMeTTL time.Duration
	TokenLength   int
	Clock         func() time.Time
	Cache         SessionCache
}

// SessionMetadata captures contextual information about the client.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
}

// Principal is the authenticated identity attached to a validated session.
// It is reconstructable from the cache projection alone so that the hot
// validation path never touches the durable store.
type Principal struct {
	SessionID  string
	UserID     string
	Role       string
	CSRFSecret string
	ExpiresAt  time.Time
	RememberMe bool
}

var (
	// ErrSessionNotFound indicates that no session matches the provided token or identifier.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionExpired signals that a session has reached its expiry.
	ErrSessionExpired = errors.New("session: expired")
	// ErrSessionInvalidToken is returned when the supplied bearer token is malformed.
	ErrSessionInvalidToken = errors.New("session: invalid token")
)

var errSessionCacheMiss = errors.New("session cache miss")

// SessionCache is the fast lookup tier for session projections, keyed by the
// raw bearer token. It is advisory only: entries may be stale or absent, and
// every consumer re-checks expiry against the projection itself.
type SessionCache interface {
	Get(ctx context.Context, rawToken string) (*Principal, error)
	Set(ctx context.Context, rawToken string, principal *Principal, ttl time.Duration) error
	Delete(ctx context.Context, rawTokens ...string) error
	DeleteByID(ctx context.Context, sessionIDs ...string) error
}

// SessionService manages creation, validation, and revocation of user
// sessions across the durable store and the cache tier. The durable store is
// the source of truth; the cache accelerates validation and is always treated
// as possibly stale.
type SessionService struct {
	db          *gorm.DB
	sessionTTL  time.Duration
	rememberTTL time.Duration
	tokenLen    int
	now         func() time.Time
	cache       SessionCache
	log         *zap.Logger
}

// NewSessionService constructs a session manager backed by the provided database.
func NewSessionService(db *gorm.DB, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}

	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	rememberTTL := cfg.RememberMeTTL
	if rememberTTL <= 0 {
		rememberTTL = DefaultRememberMeTTL
	}

	length := cfg.TokenLength
	if length <= 0 {
		length = defaultTokenLength
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionService{
		db:          db,
		sessionTTL:  ttl,
		rememberTTL: rememberTTL,
		tokenLen:    length,
		now:         clock,
		cache:       cfg.Cache,
		log:         logger.WithModule("session"),
	}, nil
}

// Create issues a new session for the user. Only the hash of the generated
// bearer token is persisted; the raw token is returned exactly once. The cache
// projection is written best-effort with a TTL equal to the remaining validity.
func (s *SessionService) Create(ctx context.Context, user *models.User, meta SessionMetadata, rememberMe bool) (string, *models.Session, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return "", nil, errors.New("session service: user is required")
	}

	rawToken, err := crypto.GenerateToken(s.tokenLen)
	if err != nil {
		return "", nil, fmt.Errorf("session service: generate token: %w", err)
	}

	csrfSecret, err := crypto.GenerateToken(s.tokenLen)
	if err != nil {
		return "", nil, fmt.Errorf("session service: generate csrf secret: %w", err)
	}

	now := s.now()
	ttl := s.sessionTTL
	if rememberMe {
		ttl = s.rememberTTL
	}

	session := &models.Session{
		UserID:         user.ID,
		TokenHash:      crypto.HashToken(rawToken),
		CSRFSecret:     csrfSecret,
		IPAddress:      strings.TrimSpace(meta.IPAddress),
		UserAgent:      strings.TrimSpace(meta.UserAgent),
		RememberMe:     rememberMe,
		ExpiresAt:      now.Add(ttl),
		LastActivityAt: now,
	}

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return "", nil, fmt.Errorf("session service: create session: %w", err)
	}

	metrics.ActiveSessions.Inc()

	s.cacheSession(ctx, rawToken, session, user.Role)

	return rawToken, session, nil
}

// Validate resolves a raw bearer token to a Principal. The cache is consulted
// first; on a miss the durable store is read and the cache repopulated with
// the remaining validity. Expired sessions are invalid regardless of which
// tier answered. Successful validations update last-activity asynchronously;
// that bookkeeping never blocks or fails the request.
func (s *SessionService) Validate(ctx context.Context, rawToken string) (*Principal, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, ErrSessionInvalidToken
	}

	now := s.now()

	if s.cache != nil {
		principal, err := s.cache.Get(ctx, rawToken)
		switch {
		case err == nil && principal != nil:
			metrics.SessionCacheLookups.WithLabelValues("hit").Inc()
			if !principal.ExpiresAt.After(now) {
				_ = s.cache.Delete(ctx, rawToken)
				return nil, ErrSessionExpired
			}
			s.touchActivity(principal.SessionID)
			return principal, nil
		case errors.Is(err, errSessionCacheMiss):
			metrics.SessionCacheLookups.WithLabelValues("miss").Inc()
		case err != nil:
			// Cache tier unreachable; fall back to the durable store.
			metrics.SessionCacheLookups.WithLabelValues("error").Inc()
			s.log.Warn("session cache lookup failed", zap.Error(err))
		}
	}

	var session models.Session
	err := s.db.WithContext(ctx).
		Preload("User").
		Take(&session, "token_hash = ?", crypto.HashToken(rawToken)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session service: find session: %w", err)
	}

	if session.Expired(now) {
		return nil, ErrSessionExpired
	}

	role := ""
	if session.User != nil {
		role = session.User.Role
	}

	s.cacheSession(ctx, rawToken, &session, role)
	s.touchActivity(session.ID)

	return &Principal{
		SessionID:  session.ID,
		UserID:     session.UserID,
		Role:       role,
		CSRFSecret: session.CSRFSecret,
		ExpiresAt:  session.ExpiresAt,
		RememberMe: session.RememberMe,
	}, nil
}

// Revoke destroys the session identified by a raw bearer token: the durable
// row is deleted first, then the cache entry. A failed cache delete leaves at
// most a stale projection bounded by its own recorded expiry.
func (s *SessionService) Revoke(ctx context.Context, rawToken string) error {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return ErrSessionInvalidToken
	}

	result := s.db.WithContext(ctx).
		Where("token_hash = ?", crypto.HashToken(rawToken)).
		Delete(&models.Session{})
	if result.Error != nil {
		return fmt.Errorf("session service: revoke session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}

	metrics.ActiveSessions.Sub(float64(result.RowsAffected))

	if s.cache != nil {
		if err := s.cache.Delete(ctx, rawToken); err != nil {
			s.log.Warn("session cache delete failed", zap.Error(err))
		}
	}

	return nil
}

// RevokeByID destroys a session by its identifier, e.g. from the session list
// of the owning user. Ownership must be checked by the caller.
func (s *SessionService) RevokeByID(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrSessionInvalidToken
	}

	result := s.db.WithContext(ctx).
		Where("id = ?", sessionID).
		Delete(&models.Session{})
	if result.Error != nil {
		return fmt.Errorf("session service: revoke session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}

	metrics.ActiveSessions.Sub(float64(result.RowsAffected))

	if s.cache != nil {
		if err := s.cache.DeleteByID(ctx, sessionID); err != nil {
			s.log.Warn("session cache delete failed", zap.Error(err), zap.String("session_id", sessionID))
		}
	}

	return nil
}

// RevokeAllForUser destroys every session belonging to a user, e.g. after a
// password reset, forcing re-authentication everywhere.
func (s *SessionService) RevokeAllForUser(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("session service: user id is required")
	}

	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("user_id = ?", userID).
		Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("session service: list sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	result := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.Session{})
	if result.Error != nil {
		return fmt.Errorf("session service: revoke sessions: %w", result.Error)
	}

	metrics.ActiveSessions.Sub(float64(result.RowsAffected))

	if s.cache != nil {
		if err := s.cache.DeleteByID(ctx, ids...); err != nil {
			s.log.Warn("session cache delete failed", zap.Error(err), zap.String("user_id", userID))
		}
	}

	return nil
}

// RevokeOthers destroys every session belonging to a user except the one
// identified by keepSessionID, e.g. after a password change from a logged-in
// session.
func (s *SessionService) RevokeOthers(ctx context.Context, userID, keepSessionID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("session service: user id is required")
	}

	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("user_id = ? AND id <> ?", userID, keepSessionID).
		Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("session service: list sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	result := s.db.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&models.Session{})
	if result.Error != nil {
		return fmt.Errorf("session service: revoke sessions: %w", result.Error)
	}

	metrics.ActiveSessions.Sub(float64(result.RowsAffected))

	if s.cache != nil {
		if err := s.cache.DeleteByID(ctx, ids...); err != nil {
			s.log.Warn("session cache delete failed", zap.Error(err), zap.String("user_id", userID))
		}
	}

	return nil
}

// ListForUser returns the user's sessions ordered by most recent activity.
func (s *SessionService) ListForUser(ctx context.Context, userID string) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_activity_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("session service: list sessions: %w", err)
	}
	return sessions, nil
}

// Owns reports whether the session belongs to the given user.
func (s *SessionService) Owns(ctx context.Context, userID, sessionID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND user_id = ?", sessionID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("session service: check ownership: %w", err)
	}
	return count > 0, nil
}

// CleanupExpired removes sessions past their expiry from the durable store.
// Cache projections carry matching TTLs and lapse on their own.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	result := s.db.WithContext(ctx).
		Where("expires_at < ?", s.now()).
		Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: cleanup expired sessions: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	}

	return result.RowsAffected, nil
}

func (s *SessionService) cacheSession(ctx context.Context, rawToken string, session *models.Session, role string) {
	if s.cache == nil {
		return
	}

	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return
	}

	principal := &Principal{
		SessionID:  session.ID,
		UserID:     session.UserID,
		Role:       role,
		CSRFSecret: session.CSRFSecret,
		ExpiresAt:  session.ExpiresAt,
		RememberMe: session.RememberMe,
	}

	if err := s.cache.Set(ctx, rawToken, principal, ttl); err != nil {
		s.log.Warn("session cache write failed", zap.Error(err))
	}
}

// touchActivity records last-activity in the durable store without blocking
// the request path. The write uses a fresh background context so a client
// disconnect cannot abort it mid-flight; failures are logged and swallowed.
func (s *SessionService) touchActivity(sessionID string) {
	now := s.now()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), activityWriteTimeout)
		defer cancel()

		err := s.db.WithContext(ctx).
			Model(&models.Session{}).
			Where("id = ?", sessionID).
			Update("last_activity_at", now).Error
		if err != nil {
			s.log.Warn("session activity update failed", zap.Error(err), zap.String("session_id", sessionID))
		}
	}()
}
