package registry

import (
	"encoding/json"
	"fmt"

	"github.com/angelmondragon/netcomp-backend/pkg/enums"
	"github.com/angelmondragon/netcomp-backend/pkg/outbox"
)

// Decoder turns published messages of one event type into *T. Version 1 is
// plain JSON; later payload versions register an upgrade that produces the
// current shape. Register versions before the consumer starts receiving.
type Decoder[T any] struct {
	eventType enums.OutboxEventType
	versions  map[int]func(json.RawMessage) (*T, error)
}

func NewDecoder[T any](eventType enums.OutboxEventType) *Decoder[T] {
	return &Decoder[T]{
		eventType: eventType,
		versions:  map[int]func(json.RawMessage) (*T, error){1: decodeJSON[T]},
	}
}

// WithVersion installs fn for payloads stamped with version.
func (d *Decoder[T]) WithVersion(version int, fn func(json.RawMessage) (*T, error)) *Decoder[T] {
	d.versions[version] = fn
	return d
}

// Decode unwraps the envelope and decodes its data. Every failure is
// non-retryable: the same bytes will never decode on redelivery.
func (d *Decoder[T]) Decode(body []byte) (outbox.PayloadEnvelope, *T, error) {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return envelope, nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}
	version := max(envelope.Version, 1)
	fn, ok := d.versions[version]
	if !ok {
		return envelope, nil, NewNonRetryableError(fmt.Errorf("no decoder for %s@v%d", d.eventType, version))
	}
	payload, err := fn(envelope.Data)
	if err != nil {
		return envelope, nil, NewNonRetryableError(fmt.Errorf("decode %s@v%d: %w", d.eventType, version, err))
	}
	return envelope, payload, nil
}

func decodeJSON[T any](data json.RawMessage) (*T, error) {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}
