// Package delegation mints the short-lived tokens the gateway presents to the
// control plane on behalf of a signed-in user.
package delegation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/inactu/inactu-web/core/infra/metrics"
)

const (
	DefaultIssuer   = "inactu-web"
	DefaultAudience = "inactu-control"
	// TTL is the fixed lifetime of every delegation token.
	TTL = 5 * time.Minute
)

var (
	// ErrMissingSecret is a configuration fault: tokens are never minted unsigned.
	ErrMissingSecret = errors.New("delegation: signing secret not configured")
	// ErrMissingSubject is returned for an empty user identity.
	ErrMissingSubject = errors.New("delegation: subject is required")
	// ErrInvalidToken wraps every Verify failure.
	ErrInvalidToken = errors.New("delegation: invalid token")
)

// Options configures an Issuer. Zero values fall back to the defaults above.
type Options struct {
	Secret   string
	Issuer   string
	Audience string
	Now      func() time.Time
	Metrics  metrics.DelegationMetrics
}

// Token is a minted delegation token and the claims it carries.
type Token struct {
	Raw       string
	Subject   string
	Issuer    string
	Audience  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
}

// Issuer signs delegation tokens. It holds no mutable state and is safe for
// concurrent use.
type Issuer struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
	metrics  metrics.DelegationMetrics
}

func NewIssuer(opts Options) *Issuer {
	iss := &Issuer{
		secret:   []byte(opts.Secret),
		issuer:   opts.Issuer,
		audience: opts.Audience,
		now:      opts.Now,
		metrics:  opts.Metrics,
	}
	if iss.issuer == "" {
		iss.issuer = DefaultIssuer
	}
	if iss.audience == "" {
		iss.audience = DefaultAudience
	}
	if iss.now == nil {
		iss.now = time.Now
	}
	if iss.metrics == nil {
		iss.metrics = metrics.Noop{}
	}
	return iss
}

// Configured reports whether a signing secret is present.
func (i *Issuer) Configured() bool {
	return i != nil && len(i.secret) > 0
}

// Mint signs a token asserting userID for a single downstream call.
func (i *Issuer) Mint(userID string) (Token, error) {
	if !i.Configured() {
		i.observe("missing_secret")
		return Token{}, ErrMissingSecret
	}
	if strings.TrimSpace(userID) == "" {
		i.observe("missing_subject")
		return Token{}, ErrMissingSubject
	}

	now := i.now()
	tok := Token{
		Subject:   userID,
		Issuer:    i.issuer,
		Audience:  i.audience,
		IssuedAt:  now,
		ExpiresAt: now.Add(TTL),
		ID:        uuid.NewString(),
	}
	claims := jwt.RegisteredClaims{
		Subject:   tok.Subject,
		Issuer:    tok.Issuer,
		Audience:  jwt.ClaimStrings{tok.Audience},
		IssuedAt:  jwt.NewNumericDate(tok.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(tok.ExpiresAt),
		ID:        tok.ID,
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		i.observe("sign_error")
		return Token{}, fmt.Errorf("delegation: sign token: %w", err)
	}
	tok.Raw = raw
	i.observe("ok")
	return tok, nil
}

// Verify parses raw with this issuer's secret, issuer and audience. The
// control plane has its own verifier; this one serves tests and the CLI.
func (i *Issuer) Verify(raw string) (Token, error) {
	if !i.Configured() {
		return Token{}, ErrMissingSecret
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	tok := Token{Raw: raw, Subject: claims.Subject, Issuer: claims.Issuer, ID: claims.ID}
	if len(claims.Audience) > 0 {
		tok.Audience = claims.Audience[0]
	}
	if claims.IssuedAt != nil {
		tok.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		tok.ExpiresAt = claims.ExpiresAt.Time
	}
	return tok, nil
}

func (i *Issuer) observe(result string) {
	if i != nil && i.metrics != nil {
		i.metrics.IncTokens(result)
	}
}
