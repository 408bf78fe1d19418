package github

import (
	"context"
	"fmt"
	"time"

	"github.com/clintrovert/gitpulse/pkg/types"
)

// CredentialProvider resolves the access token used on behalf of an owner.
// An empty token means unauthenticated requests.
type CredentialProvider interface {
	Token(ctx context.Context, ownerID int64) (string, error)
}

// OwnerGetter loads connected owners.
type OwnerGetter interface {
	GetOwner(ctx context.Context, id int64) (*types.Owner, error)
}

// StoreCredentials serves the token stored with each owner and falls back to
// a static token for owners connected without one.
type StoreCredentials struct {
	owners   OwnerGetter
	fallback string
	now      func() time.Time
}

// NewStoreCredentials creates a credential provider backed by the owner store
func NewStoreCredentials(owners OwnerGetter, fallback string) *StoreCredentials {
	return &StoreCredentials{owners: owners, fallback: fallback, now: time.Now}
}

// Token returns the owner's token, or ErrUnauthorized when it has expired.
func (s *StoreCredentials) Token(ctx context.Context, ownerID int64) (string, error) {
	if ownerID == 0 {
		return s.fallback, nil
	}
	owner, err := s.owners.GetOwner(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("failed to load credentials: %w", err)
	}
	if owner.AccessToken == "" {
		return s.fallback, nil
	}
	if owner.TokenExpiresAt != nil && !owner.TokenExpiresAt.After(s.now()) {
		return "", fmt.Errorf("%w: token of %s expired at %s", types.ErrUnauthorized,
			owner.Login, owner.TokenExpiresAt.Format(time.RFC3339))
	}
	return owner.AccessToken, nil
}

// StaticToken always returns the same token.
type StaticToken string

// Token implements CredentialProvider.
func (t StaticToken) Token(context.Context, int64) (string, error) {
	return string(t), nil
}
