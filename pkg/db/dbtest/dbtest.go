// Package dbtest opens throwaway SQLite databases carrying the service schema.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/netcomp-backend/pkg/db"
)

var schema = []string{
	`CREATE TABLE members (
  id TEXT PRIMARY KEY,
  sponsor_id TEXT REFERENCES members(id),
  display_name TEXT NOT NULL,
  email TEXT,
  active INTEGER NOT NULL DEFAULT 0,
  enrolled_at DATETIME NOT NULL,
  updated_at DATETIME
);`,
	`CREATE INDEX idx_members_sponsor ON members (sponsor_id, enrolled_at);`,
	`CREATE TABLE compensation_plans (
  id TEXT PRIMARY KEY,
  version INTEGER NOT NULL UNIQUE,
  name TEXT NOT NULL,
  document TEXT NOT NULL,
  active INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME
);`,
	`CREATE TABLE phase_overrides (
  member_id TEXT PRIMARY KEY,
  tier INTEGER NOT NULL,
  reason TEXT NOT NULL,
  set_by TEXT NOT NULL,
  set_at DATETIME
);`,
	`CREATE TABLE tier_awards (
  id TEXT PRIMARY KEY,
  member_id TEXT NOT NULL,
  tier INTEGER NOT NULL,
  plan_version INTEGER NOT NULL,
  credit_cents INTEGER NOT NULL,
  free_product_value_cents INTEGER NOT NULL,
  wallet_transaction_id TEXT,
  awarded_by TEXT NOT NULL,
  created_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_tier_awards_member_tier ON tier_awards (member_id, tier);`,
	`CREATE TABLE wallet_accounts (
  user_id TEXT PRIMARY KEY,
  created_at DATETIME
);`,
	`CREATE TABLE wallet_transactions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  delta_cents INTEGER NOT NULL,
  reason TEXT NOT NULL,
  reference TEXT,
  created_by TEXT NOT NULL,
  created_at DATETIME
);`,
	`CREATE INDEX idx_wallet_transactions_user ON wallet_transactions (user_id, created_at);`,
	`CREATE TABLE commission_settlements (
  order_id TEXT PRIMARY KEY,
  buyer_id TEXT NOT NULL,
  paid_amount_cents INTEGER NOT NULL,
  plan_version INTEGER NOT NULL,
  distributed_cents INTEGER NOT NULL,
  record_count INTEGER NOT NULL,
  settled_at DATETIME
);`,
	`CREATE TABLE commission_records (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES commission_settlements(order_id),
  buyer_id TEXT NOT NULL,
  recipient_id TEXT NOT NULL,
  level INTEGER NOT NULL,
  tier INTEGER NOT NULL,
  rate NUMERIC NOT NULL,
  amount_cents INTEGER NOT NULL,
  plan_version INTEGER NOT NULL,
  wallet_transaction_id TEXT NOT NULL,
  created_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_commission_records_order_recipient_level ON commission_records (order_id, recipient_id, level);`,
	`CREATE TABLE payout_wallets (
  id TEXT PRIMARY KEY,
  provider TEXT NOT NULL,
  name TEXT NOT NULL,
  active INTEGER NOT NULL DEFAULT 1,
  min_amount_cents INTEGER NOT NULL,
  max_amount_cents INTEGER NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE payment_requests (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  wallet_id TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  status TEXT NOT NULL,
  proof_url TEXT,
  processed_by TEXT,
  rejection_reason TEXT,
  hold_transaction_id TEXT NOT NULL,
  release_transaction_id TEXT,
  expires_at DATETIME NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	`CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_outbox_dlq_event ON outbox_dlq (event_id);`,
}

// Open returns a private in-memory database with every service table. The
// pool is pinned to a single connection so concurrent callers queue instead of
// tripping SQLite's shared-cache table locks.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}

// Client wraps Open in the shared db client.
func Client(t *testing.T) *db.Client {
	t.Helper()
	return db.Wrap(Open(t))
}
