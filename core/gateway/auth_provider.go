package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthorized is returned by providers when no identity can be resolved.
var ErrUnauthorized = errors.New("unauthorized")

// UserIdentity is the authenticated caller as resolved from the session
// subsystem. UserID becomes the delegation token subject.
type UserIdentity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
}

type identityContextKey struct{}

// AuthProvider resolves the caller of an inbound HTTP request.
type AuthProvider interface {
	AuthenticateHTTP(r *http.Request) (*UserIdentity, error)
}

// ChainProvider tries providers in order and returns the first identity.
type ChainProvider []AuthProvider

func (c ChainProvider) AuthenticateHTTP(r *http.Request) (*UserIdentity, error) {
	var lastErr error = ErrUnauthorized
	for _, p := range c {
		if p == nil {
			continue
		}
		id, err := p.AuthenticateHTTP(r)
		if err == nil && id != nil && strings.TrimSpace(id.UserID) != "" {
			return id, nil
		}
		if err != nil && !errors.Is(err, ErrUnauthorized) {
			lastErr = err
		}
	}
	return nil, lastErr
}

// HeaderProvider trusts a user id header set by a fronting proxy. Only enable
// it behind a proxy that strips the header from client traffic.
type HeaderProvider struct {
	Header string
}

const defaultUserHeader = "X-Inactu-User"

func (h HeaderProvider) AuthenticateHTTP(r *http.Request) (*UserIdentity, error) {
	name := h.Header
	if name == "" {
		name = defaultUserHeader
	}
	user := strings.TrimSpace(r.Header.Get(name))
	if user == "" {
		return nil, ErrUnauthorized
	}
	return &UserIdentity{UserID: user}, nil
}

func withIdentity(ctx context.Context, id *UserIdentity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

func identityFromContext(ctx context.Context) *UserIdentity {
	if ctx == nil {
		return nil
	}
	if id, ok := ctx.Value(identityContextKey{}).(*UserIdentity); ok {
		return id
	}
	return nil
}

// UserID returns the authenticated user id of r, or "".
func UserID(r *http.Request) string {
	if r == nil {
		return ""
	}
	if id := identityFromContext(r.Context()); id != nil {
		return strings.TrimSpace(id.UserID)
	}
	return ""
}
