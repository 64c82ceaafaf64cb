// Package authn resolves the bearer token the data connection authenticates
// with. The wire protocol only needs a token string; how it is obtained
// (explicit value, on-disk cache, password sign-in) is this package's
// concern, behind the TokenProvider interface.
package authn

import (
	"context"
	"errors"
)

// AnonymousToken grants unauthenticated access with the lowest plan limits.
const AnonymousToken = "unauthorized_user_token"

var (
	// ErrNoToken is returned when a provider has no token to offer.
	ErrNoToken = errors.New("no auth token available")
	// ErrRefreshUnavailable is returned by providers that cannot replace a
	// rejected token (e.g. a fixed token supplied by the caller).
	ErrRefreshUnavailable = errors.New("token refresh not available")
	// ErrCapacityExceeded is returned when the upstream rate/plan limits the
	// sign-in flow. It is surfaced instead of silently retried: retrying
	// without backoff would make the limiting worse.
	ErrCapacityExceeded = errors.New("sign-in capacity exceeded")
	// ErrInteractiveLoginRequired is returned when the upstream demands a
	// CAPTCHA or another interactive step this package does not perform.
	ErrInteractiveLoginRequired = errors.New("interactive login required")
)

// TokenProvider hands out bearer tokens for the data connection.
//
// Token returns the current token. Refresh is called when the upstream has
// rejected a token; it must produce a different, fresh token or fail.
// Refresh may take arbitrarily long (it can involve a full sign-in flow), so
// implementations must honor ctx.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context, rejected string) (string, error)
}

// PlanReporter is implemented by providers that learn the account's
// subscription tier while obtaining a token. An empty string means the tier
// is unknown.
type PlanReporter interface {
	Plan() string
}

// StaticToken is a TokenProvider for a caller-supplied fixed token. It
// cannot refresh.
type StaticToken string

var _ TokenProvider = StaticToken("")

func (t StaticToken) Token(_ context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

func (t StaticToken) Refresh(_ context.Context, _ string) (string, error) {
	return "", ErrRefreshUnavailable
}

// Anonymous is a TokenProvider for the no-login token.
func Anonymous() TokenProvider {
	return StaticToken(AnonymousToken)
}

// Chain tries a ranked list of providers in priority order. Token returns
// the first provider's token; Refresh walks the list until one produces a
// token different from the rejected one.
type Chain struct {
	providers []TokenProvider
}

var _ TokenProvider = (*Chain)(nil)

func NewChain(providers ...TokenProvider) *Chain {
	return &Chain{providers: providers}
}

func (c *Chain) Token(ctx context.Context) (string, error) {
	var lastErr error = ErrNoToken
	for _, p := range c.providers {
		token, err := p.Token(ctx)
		if err == nil && token != "" {
			return token, nil
		}
		if err != nil {
			lastErr = err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

// Plan reports the first tier any chained provider has learned.
func (c *Chain) Plan() string {
	for _, p := range c.providers {
		if r, ok := p.(PlanReporter); ok {
			if plan := r.Plan(); plan != "" {
				return plan
			}
		}
	}
	return ""
}

func (c *Chain) Refresh(ctx context.Context, rejected string) (string, error) {
	var lastErr error = ErrRefreshUnavailable
	for _, p := range c.providers {
		token, err := p.Refresh(ctx, rejected)
		if err == nil && token != "" && token != rejected {
			return token, nil
		}
		if err != nil && !errors.Is(err, ErrRefreshUnavailable) && !errors.Is(err, ErrNoToken) {
			lastErr = err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", lastErr
}
