package shop

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, time.Hour), mr
}

func TestRedisStore_GetMissing(t *testing.T) {
	s, _ := newRedisStore(t)
	data, err := s.Get(context.Background(), cartKey("nobody"))
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestRedisStore_PutGetDelete(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()
	key := cartKey("sess-1")

	require.NoError(t, s.Put(ctx, key, []byte(`{"items":[]}`)))
	assert.Equal(t, time.Hour, mr.TTL(key))

	data, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[]}`, string(data))

	require.NoError(t, s.Delete(ctx, key, draftKey("owner")))
	assert.False(t, mr.Exists(key))
}

func TestRedisStore_ExpiresAfterTTL(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "cart:x", []byte("{}")))

	mr.FastForward(2 * time.Hour)

	data, err := s.Get(ctx, "cart:x")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestRedisStore_Unavailable(t *testing.T) {
	s, mr := newRedisStore(t)
	mr.Close()
	_, err := s.Get(context.Background(), "cart:x")
	assert.Error(t, err)
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	in := []byte("abc")
	require.NoError(t, s.Put(ctx, "k", in))
	in[0] = 'z'

	out, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(out))

	require.NoError(t, s.Delete(ctx, "k"))
	out, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "cart:abc", cartKey("abc"))
	assert.Equal(t, "ship:42", draftKey("42"))
}
