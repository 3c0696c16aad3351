package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"pandora-chat/internal/auth"
	"pandora-chat/internal/directory"
)

// AuthenticatorMock is a testify mock for auth.Authenticator.
type AuthenticatorMock struct {
	mock.Mock
}

var _ auth.Authenticator = (*AuthenticatorMock)(nil)

func (m *AuthenticatorMock) Authenticate(ctx context.Context, identity string) (*auth.Session, error) {
	args := m.Called(ctx, identity)
	var session *auth.Session
	if val := args.Get(0); val != nil {
		session = val.(*auth.Session)
	}
	return session, args.Error(1)
}

// ResolverMock is a testify mock for directory.Resolver.
type ResolverMock struct {
	mock.Mock
}

var _ directory.Resolver = (*ResolverMock)(nil)

func (m *ResolverMock) DisplayName(ctx context.Context, identity string) (string, error) {
	args := m.Called(ctx, identity)
	return args.String(0), args.Error(1)
}
