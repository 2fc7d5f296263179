package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	cfg.HealthCheckInterval = 0

	s, err := NewRedisStore(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisStore_SaveLoadSession(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, "s1", []byte("{}")))
	blob, err := s.LoadSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "{}", string(blob))
}

func TestRedisStore_LoadMissingReturnsNotFound(t *testing.T) {
	s := newTestRedisStore(t)
	_, err := s.LoadSession(context.Background(), "missing")
	require.Error(t, err)
	var nf *ErrNotFound
	require.ErrorAs(t, err, &nf)
}

func TestRedisStore_DeleteSession(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveSession(ctx, "s1", []byte("x")))
	require.NoError(t, s.DeleteSession(ctx, "s1"))
	_, err := s.LoadSession(ctx, "s1")
	require.Error(t, err)
}

func TestRedisStore_ReplayKeysIndependentOfSessionKeys(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveSession(ctx, "s1", []byte("session-blob")))
	require.NoError(t, s.SaveReplay(ctx, "s1", []byte("replay-blob")))

	sessionBlob, err := s.LoadSession(ctx, "s1")
	require.NoError(t, err)
	replayBlob, err := s.LoadReplay(ctx, "s1")
	require.NoError(t, err)

	require.Equal(t, "session-blob", string(sessionBlob))
	require.Equal(t, "replay-blob", string(replayBlob))
}
