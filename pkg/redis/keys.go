package redis

import (
	"strconv"
	"strings"
)

const defaultNamespace = "nc"

const (
	idempotencyPrefix = "idempotency"
	lockPrefix        = "lock"
	cachePrefix       = "cache"
)

// Keyspace joins key parts under a shared namespace with ':' separators.
// Blank parts are dropped so optional segments never leave "::" behind.
type Keyspace struct {
	namespace string
}

func NewKeyspace(namespace string) Keyspace {
	namespace = strings.Trim(strings.TrimSpace(namespace), ":")
	if namespace == "" {
		namespace = defaultNamespace
	}
	return Keyspace{namespace: namespace}
}

func (k Keyspace) Key(parts ...string) string {
	ns := k.namespace
	if ns == "" {
		ns = defaultNamespace
	}
	var b strings.Builder
	b.WriteString(ns)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}

func (k Keyspace) IdempotencyKey(scope, id string) string {
	return k.Key(idempotencyPrefix, scope, id)
}

func (k Keyspace) LockKey(parts ...string) string {
	return k.Key(append([]string{lockPrefix}, parts...)...)
}

func (k Keyspace) CacheKey(parts ...string) string {
	return k.Key(append([]string{cachePrefix}, parts...)...)
}

// DownlineCacheKey scopes a cached downline by root and depth.
func DownlineCacheKey(keys interface{ CacheKey(...string) string }, rootID string, depth int) string {
	return keys.CacheKey("downline", rootID, strconv.Itoa(depth))
}
