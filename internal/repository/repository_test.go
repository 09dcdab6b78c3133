package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type kvStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

func exerciseStore(t *testing.T, s kvStore) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "auth_token")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "auth_token", "tok-1"))
	v, err := s.Get(ctx, "auth_token")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", v)

	require.NoError(t, s.Set(ctx, "auth_token", "tok-2"))
	v, err = s.Get(ctx, "auth_token")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", v)

	require.NoError(t, s.Delete(ctx, "auth_token"))
	_, err = s.Get(ctx, "auth_token")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(ctx, "auth_token"))
}

func TestFileRepository(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	exerciseStore(t, NewFileRepository(path))
}

func TestFileRepository_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	ctx := context.Background()

	require.NoError(t, NewFileRepository(path).Set(ctx, "auth_token", "persisted"))

	v, err := NewFileRepository(path).Get(ctx, "auth_token")
	require.NoError(t, err)
	assert.Equal(t, "persisted", v)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileRepository_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileRepository(path).Get(context.Background(), "auth_token")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisRepository(t *testing.T) {
	_, client := setupTestRedis(t)
	exerciseStore(t, NewRedisRepositoryFromClient(client))
}

func TestRedisRepository_KeyPrefix(t *testing.T) {
	mr, client := setupTestRedis(t)
	repo := NewRedisRepositoryFromClient(client)

	require.NoError(t, repo.Set(context.Background(), "auth_token", "abc"))

	v, err := mr.Get("kpabk:auth_token")
	require.NoError(t, err)
	assert.Equal(t, "abc", v)
}

func TestNewRedisRepository_PingFails(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisRepository(context.Background(), addr)
	assert.Error(t, err)
}
