package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	cbigquery "cloud.google.com/go/bigquery"

	"github.com/angelmondragon/netcomp-backend/internal/analytics/types"
)

const (
	defaultBatchSize      = 1
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
)

type Config struct {
	Table       string
	BatchSize   int
	RetryPolicy RetryPolicy
}

// RetryPolicy bounds insert retries; backoff doubles up to MaximumBackoff.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaultInitialBackoff
	}
	if p.MaximumBackoff < p.InitialBackoff {
		p.MaximumBackoff = max(defaultMaximumBackoff, p.InitialBackoff)
	}
	return p
}

// TableInserter streams rows into a table; *bigquery.Client satisfies it.
type TableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// BigQueryWriter buffers settlement rows and flushes them once BatchSize is
// reached. Pub/Sub callbacks call Insert concurrently.
type BigQueryWriter struct {
	client    TableInserter
	table     string
	batchSize int
	retry     RetryPolicy

	mu      sync.Mutex
	pending []types.SettlementEventRow
}

func New(client TableInserter, cfg Config) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		return nil, errors.New("settlement table is required")
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &BigQueryWriter{
		client:    client,
		table:     table,
		batchSize: batch,
		retry:     cfg.RetryPolicy.withDefaults(),
	}, nil
}

// Insert queues row and flushes when the batch is full. On a failed flush
// the rows stay queued for the next attempt.
func (w *BigQueryWriter) Insert(ctx context.Context, row types.SettlementEventRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, row)
	if len(w.pending) < w.batchSize {
		return nil
	}
	return w.flush(ctx)
}

// Flush writes whatever is queued.
func (w *BigQueryWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flush(ctx)
}

// flush expects w.mu to be held.
func (w *BigQueryWriter) flush(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	rows := make([]any, len(w.pending))
	for i := range w.pending {
		rows[i] = w.pending[i]
	}
	if err := w.send(ctx, rows); err != nil {
		return err
	}
	w.pending = w.pending[:0]
	return nil
}

func (w *BigQueryWriter) send(ctx context.Context, rows []any) error {
	backoff := w.retry.InitialBackoff
	for attempt := 1; ; attempt++ {
		err := w.client.InsertRows(ctx, w.table, rows)
		if err == nil {
			return nil
		}
		if attempt >= w.retry.MaxAttempts || !retryable(err) {
			return fmt.Errorf("insert %d rows into %s after %d attempt(s): %w", len(rows), w.table, attempt, err)
		}

		wait := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			wait.Stop()
			return ctx.Err()
		case <-wait.C:
		}
		backoff = min(backoff*2, w.retry.MaximumBackoff)
	}
}

// EncodeJSON prepares a payload for a JSON column. Nil and empty raw
// messages become NULL.
func EncodeJSON(payload any) (cbigquery.NullJSON, error) {
	switch v := payload.(type) {
	case nil:
		return cbigquery.NullJSON{}, nil
	case json.RawMessage:
		if len(v) == 0 {
			return cbigquery.NullJSON{}, nil
		}
		return cbigquery.NullJSON{Valid: true, JSONVal: string(v)}, nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return cbigquery.NullJSON{}, fmt.Errorf("marshal json: %w", err)
	}
	return cbigquery.NullJSON{Valid: true, JSONVal: string(encoded)}, nil
}
