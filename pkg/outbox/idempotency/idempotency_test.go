package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/netcomp-backend/pkg/redis"
)

type fakeStore struct {
	markers map[string]time.Duration
	failSet error
}

func newFakeStore() *fakeStore {
	return &fakeStore{markers: map[string]time.Duration{}}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if _, ok := f.markers[key]; !ok {
		return "", redis.Nil
	}
	return "marked", nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, _ any, ttl time.Duration) (bool, error) {
	if f.failSet != nil {
		return false, f.failSet
	}
	if _, ok := f.markers[key]; ok {
		return false, nil
	}
	f.markers[key] = ttl
	return true, nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "nc:idempotency:" + scope + ":" + id
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.markers, key)
	}
	return nil
}

func TestNewManagerValidates(t *testing.T) {
	_, err := NewManager(nil, time.Hour)
	assert.Error(t, err)
	_, err = NewManager(newFakeStore(), -time.Second)
	assert.Error(t, err)
}

func TestCheckAndMarkProcessedClaimsOnce(t *testing.T) {
	store := newFakeStore()
	manager, err := NewManager(store, 24*time.Hour)
	require.NoError(t, err)

	eventID := uuid.New()
	already, err := manager.CheckAndMarkProcessed(context.Background(), "analytics", eventID)
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, 24*time.Hour, store.markers["nc:idempotency:evt:processed:analytics:"+eventID.String()])

	already, err = manager.CheckAndMarkProcessed(context.Background(), "analytics", eventID)
	require.NoError(t, err)
	assert.True(t, already)
}

func TestConsumersAreIsolated(t *testing.T) {
	manager, err := NewManager(newFakeStore(), time.Hour)
	require.NoError(t, err)

	already, err := manager.CheckAndMarkKey(context.Background(), "order-paid-settlement", "ord-1")
	require.NoError(t, err)
	require.False(t, already)

	already, err = manager.CheckAndMarkKey(context.Background(), "analytics", "ord-1")
	require.NoError(t, err)
	assert.False(t, already)
}

func TestStoreErrorPropagates(t *testing.T) {
	store := newFakeStore()
	store.failSet = errors.New("redis down")
	manager, err := NewManager(store, time.Hour)
	require.NoError(t, err)

	_, err = manager.CheckAndMarkProcessed(context.Background(), "analytics", uuid.New())
	assert.ErrorIs(t, err, store.failSet)
}

func TestBlankInputRejected(t *testing.T) {
	manager, err := NewManager(newFakeStore(), time.Hour)
	require.NoError(t, err)

	_, err = manager.CheckAndMarkKey(context.Background(), " ", "ord-1")
	assert.ErrorIs(t, err, ErrConsumerRequired)
	_, err = manager.CheckAndMarkKey(context.Background(), "order-paid-settlement", "  ")
	assert.ErrorIs(t, err, ErrKeyRequired)
	_, err = manager.CheckAndMarkProcessed(context.Background(), "order-paid-settlement", uuid.Nil)
	assert.ErrorIs(t, err, ErrKeyRequired)
}

func TestDeleteAllowsReprocessing(t *testing.T) {
	manager, err := NewManager(newFakeStore(), time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = manager.CheckAndMarkKey(ctx, "order-paid-settlement", "ord-77")
	require.NoError(t, err)
	require.NoError(t, manager.Delete(ctx, "order-paid-settlement", "ord-77"))

	already, err := manager.CheckAndMarkKey(ctx, "order-paid-settlement", "ord-77")
	require.NoError(t, err)
	assert.False(t, already)
}

func TestSeenDoesNotClaim(t *testing.T) {
	store := newFakeStore()
	manager, err := NewManager(store, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	seen, err := manager.Seen(ctx, "order-paid-settlement", "ord-9")
	require.NoError(t, err)
	assert.False(t, seen)
	assert.Empty(t, store.markers)

	require.NoError(t, manager.MarkKey(ctx, "order-paid-settlement", "ord-9"))
	require.NoError(t, manager.MarkKey(ctx, "order-paid-settlement", "ord-9"))

	seen, err = manager.Seen(ctx, "order-paid-settlement", "ord-9")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Len(t, store.markers, 1)
}

func TestMarkKeySurfacesStoreErrors(t *testing.T) {
	store := newFakeStore()
	store.failSet = errors.New("redis down")
	manager, err := NewManager(store, time.Hour)
	require.NoError(t, err)

	assert.Error(t, manager.MarkKey(context.Background(), "order-paid-settlement", "ord-9"))
}
