package user

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/clipmeter/pkg/config"
)

func TestIdentity_Normalize(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.AdminEmails = []string{"Ops@Example.com"}

	id := Identity{UserID: "u1", Email: "  OPS@example.COM "}.Normalize(cfg)
	require.Equal(t, "ops@example.com", id.Email)
	require.True(t, id.IsAdmin)

	id = Identity{UserID: "u2", Email: "someone@example.com"}.Normalize(cfg)
	require.False(t, id.IsAdmin)

	id = Identity{UserID: "u3", Email: "x@y.z", IsAdmin: true}.Normalize(nil)
	require.True(t, id.IsAdmin, "claim-granted admin is kept")
}

func TestEnsureUser_RequiresUserID(t *testing.T) {
	s := NewService(&config.Config{}, nil, zap.NewNop().Sugar())
	_, err := s.EnsureUser(context.Background(), Identity{Email: "a@b.c"})
	require.Error(t, err)
}

func TestEnsureUser_CachedIdentitySkipsStore(t *testing.T) {
	s := NewService(&config.Config{}, nil, zap.NewNop().Sugar())
	id := Identity{UserID: "u1", Email: "a@b.c"}
	s.seen.Store("u1", id)

	created, err := s.EnsureUser(context.Background(), id)
	require.NoError(t, err)
	require.False(t, created)
}

func TestFindByEmail_Empty(t *testing.T) {
	s := NewService(&config.Config{}, nil, zap.NewNop().Sugar())
	_, err := s.FindByEmail(context.Background(), "   ")
	require.ErrorIs(t, err, ErrUserNotFound)
}
