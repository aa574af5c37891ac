package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/campusgate/campusgate/internal/cache"
)

const (
	sessionCacheKeyPrefix = "auth:sessions:token:"
	sessionCacheIDPrefix  = "auth:sessions:id:"
)

// NewStoreSessionCache wraps a shared cache.Store (Redis or the database
// fallback) inside a SessionCache. Projections are keyed by the raw bearer
// token; a secondary id-to-token index supports revocation by session id.
func NewStoreSessionCache(store cache.Store) SessionCache {
	if store == nil {
		return nil
	}
	return &sessionStoreCache{store: store}
}

type sessionStoreCache struct {
	store cache.Store
}

func (c *sessionStoreCache) Get(ctx context.Context, rawToken string) (*Principal, error) {
	key := sessionTokenKey(rawToken)
	if key == "" {
		return nil, errSessionCacheMiss
	}

	data, found, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errSessionCacheMiss
	}

	var principal Principal
	if err := json.Unmarshal(data, &principal); err != nil {
		return nil, fmt.Errorf("session cache: decode: %w", err)
	}
	return &principal, nil
}

func (c *sessionStoreCache) Set(ctx context.Context, rawToken string, principal *Principal, ttl time.Duration) error {
	if principal == nil {
		return errors.New("session cache: principal is nil")
	}
	key := sessionTokenKey(rawToken)
	if key == "" {
		return errors.New("session cache: token missing")
	}
	if ttl <= 0 {
		ttl = time.Second
	}

	payload, err := json.Marshal(principal)
	if err != nil {
		return fmt.Errorf("session cache: marshal: %w", err)
	}

	if err := c.store.Set(ctx, key, payload, ttl); err != nil {
		return err
	}

	// Index the token by session id so revocation by id can find the entry.
	return c.store.Set(ctx, sessionIDKey(principal.SessionID), []byte(rawToken), ttl)
}

func (c *sessionStoreCache) Delete(ctx context.Context, rawTokens ...string) error {
	keys := make([]string, 0, len(rawTokens))
	for _, token := range rawTokens {
		if key := sessionTokenKey(token); key != "" {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return c.store.Delete(ctx, keys...)
}

func (c *sessionStoreCache) DeleteByID(ctx context.Context, sessionIDs ...string) error {
	keys := make([]string, 0, 2*len(sessionIDs))
	for _, id := range sessionIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}

		idKey := sessionIDKey(id)
		keys = append(keys, idKey)

		token, found, err := c.store.Get(ctx, idKey)
		if err != nil || !found {
			continue
		}
		if key := sessionTokenKey(string(token)); key != "" {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return c.store.Delete(ctx, keys...)
}

func sessionTokenKey(rawToken string) string {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return ""
	}
	return sessionCacheKeyPrefix + token
}

func sessionIDKey(sessionID string) string {
	return sessionCacheIDPrefix + sessionID
}
