package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultSessionPrefix = "inactu:session:"

// SessionProvider resolves a session cookie against the Redis session store
// shared with the sign-in service. A session value is either a JSON
// UserIdentity or a bare user id.
type SessionProvider struct {
	client redis.UniversalClient
	cookie string
	prefix string
}

func NewSessionProvider(client redis.UniversalClient, cookie string) *SessionProvider {
	if cookie == "" {
		cookie = "inactu_session"
	}
	return &SessionProvider{client: client, cookie: cookie, prefix: defaultSessionPrefix}
}

func (p *SessionProvider) AuthenticateHTTP(r *http.Request) (*UserIdentity, error) {
	if p == nil || p.client == nil {
		return nil, ErrUnauthorized
	}
	c, err := r.Cookie(p.cookie)
	if err != nil || strings.TrimSpace(c.Value) == "" {
		return nil, ErrUnauthorized
	}
	raw, err := p.client.Get(r.Context(), p.prefix+strings.TrimSpace(c.Value)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}
	return parseSession(raw)
}

func parseSession(raw string) (*UserIdentity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrUnauthorized
	}
	if strings.HasPrefix(raw, "{") {
		var id UserIdentity
		if err := json.Unmarshal([]byte(raw), &id); err != nil {
			return nil, ErrUnauthorized
		}
		if strings.TrimSpace(id.UserID) == "" {
			return nil, ErrUnauthorized
		}
		id.UserID = strings.TrimSpace(id.UserID)
		return &id, nil
	}
	return &UserIdentity{UserID: raw}, nil
}
