package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/netcomp-backend/pkg/redis"
)

const processedScope = "evt:processed"

var (
	ErrConsumerRequired = errors.New("consumer name is required")
	ErrKeyRequired      = errors.New("event id is required")
)

// Manager remembers which messages a consumer has already handled. A marker
// lives at nc:idempotency:evt:processed:<consumer>:<id> until the TTL lapses;
// a zero TTL keeps it forever.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// CheckAndMarkProcessed reports whether eventID was seen before and, when it
// was not, claims it in the same round trip.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	if eventID == uuid.Nil {
		return false, ErrKeyRequired
	}
	return m.CheckAndMarkKey(ctx, consumer, eventID.String())
}

// CheckAndMarkKey does the same for producer-assigned keys such as order ids.
func (m *Manager) CheckAndMarkKey(ctx context.Context, consumer, id string) (bool, error) {
	key, err := m.Key(consumer, id)
	if err != nil {
		return false, err
	}
	claimed, err := m.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), m.ttl)
	if err != nil {
		return false, err
	}
	return !claimed, nil
}

// Seen reports whether a marker exists for id without claiming it. Consumers
// whose handler is idempotent on its own use Seen + MarkKey so that a crash
// between claim and commit cannot strand a message.
func (m *Manager) Seen(ctx context.Context, consumer, id string) (bool, error) {
	key, err := m.Key(consumer, id)
	if err != nil {
		return false, err
	}
	_, err = m.store.Get(ctx, key)
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// MarkKey records id as handled. An existing marker is left as is.
func (m *Manager) MarkKey(ctx context.Context, consumer, id string) error {
	key, err := m.Key(consumer, id)
	if err != nil {
		return err
	}
	_, err = m.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), m.ttl)
	return err
}

// Delete drops the marker so the next delivery is processed again. Consumers
// call it when handling failed after the claim.
func (m *Manager) Delete(ctx context.Context, consumer, id string) error {
	key, err := m.Key(consumer, id)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) Key(consumer, id string) (string, error) {
	consumer, id = strings.TrimSpace(consumer), strings.TrimSpace(id)
	if consumer == "" {
		return "", ErrConsumerRequired
	}
	if id == "" {
		return "", ErrKeyRequired
	}
	return m.store.IdempotencyKey(processedScope+":"+consumer, id), nil
}
