package rediscache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockClient struct {
	mock.Mock
}

func (m *MockClient) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(ctx, key)
	return args.Get(0).(*redis.StringCmd)
}

func (m *MockClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(ctx, key, value, expiration)
	return args.Get(0).(*redis.StatusCmd)
}

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func (m *MockEmbedder) Model() string { return "gemini-embedding-001" }

func TestCachingEmbedder_Embed(t *testing.T) {
	ctx := context.Background()
	key := Key("gemini-embedding-001", "billing cycle")

	t.Run("Hit", func(t *testing.T) {
		client := new(MockClient)
		next := new(MockEmbedder)
		client.On("Get", ctx, key).Return(redis.NewStringResult("[0.5,0.25]", nil))

		vec, err := NewCachingEmbedder(next, client, time.Hour).Embed(ctx, "billing cycle")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.5, 0.25}, vec)
		next.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
	})

	t.Run("Miss Stores Result", func(t *testing.T) {
		client := new(MockClient)
		next := new(MockEmbedder)
		client.On("Get", ctx, key).Return(redis.NewStringResult("", redis.Nil))
		next.On("Embed", ctx, "billing cycle").Return([]float32{1, 2}, nil)
		client.On("Set", ctx, key, []byte("[1,2]"), time.Hour).Return(redis.NewStatusResult("OK", nil))

		vec, err := NewCachingEmbedder(next, client, time.Hour).Embed(ctx, "billing cycle")
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 2}, vec)
		client.AssertExpectations(t)
	})

	t.Run("Redis Down Falls Through", func(t *testing.T) {
		client := new(MockClient)
		next := new(MockEmbedder)
		client.On("Get", ctx, key).Return(redis.NewStringResult("", errors.New("connection refused")))
		next.On("Embed", ctx, "billing cycle").Return([]float32{3}, nil)
		client.On("Set", ctx, key, mock.Anything, time.Hour).Return(redis.NewStatusResult("", errors.New("connection refused")))

		vec, err := NewCachingEmbedder(next, client, time.Hour).Embed(ctx, "billing cycle")
		require.NoError(t, err)
		assert.Equal(t, []float32{3}, vec)
	})

	t.Run("Embedding Error Not Cached", func(t *testing.T) {
		client := new(MockClient)
		next := new(MockEmbedder)
		client.On("Get", ctx, key).Return(redis.NewStringResult("", redis.Nil))
		next.On("Embed", ctx, "billing cycle").Return(nil, errors.New("quota"))

		_, err := NewCachingEmbedder(next, client, time.Hour).Embed(ctx, "billing cycle")
		assert.ErrorContains(t, err, "quota")
		client.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestKey(t *testing.T) {
	assert.NotEqual(t, Key("m1", "same"), Key("m2", "same"))
	assert.Equal(t, Key("m1", "same"), Key("m1", "same"))
	assert.Contains(t, Key("m1", "x"), "emb:m1:")
}
