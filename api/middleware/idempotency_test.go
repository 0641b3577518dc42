package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/netcomp-backend/pkg/errors"
)

type fakeStore struct {
	data map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string)}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	f.data[key] = str
	return true, nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

const withdrawalsPattern = "/api/v1/withdrawals"

func requestWithPattern(method, url, pattern string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, url, body)
	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{pattern}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func TestRouteTTLSelection(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		pattern string
		want    time.Duration
		ok      bool
	}{
		{"create withdrawal", http.MethodPost, "/api/v1/withdrawals", criticalIdempotencyTTL, true},
		{"approve", http.MethodPost, "/api/admin/v1/withdrawals/{requestId}/approve", criticalIdempotencyTTL, true},
		{"reject", http.MethodPost, "/api/admin/v1/withdrawals/{requestId}/reject", criticalIdempotencyTTL, true},
		{"proof", http.MethodPost, "/api/v1/withdrawals/{requestId}/proof", defaultIdempotencyTTL, true},
		{"enroll", http.MethodPost, "/api/admin/v1/members", defaultIdempotencyTTL, true},
		{"rewards", http.MethodPost, "/api/admin/v1/members/{memberId}/rewards", defaultIdempotencyTTL, true},
		{"list withdrawals", http.MethodGet, "/api/v1/withdrawals", 0, false},
		{"order webhook", http.MethodPost, "/api/v1/webhooks/orders/paid", 0, false},
	}

	for _, tt := range tests {
		ttl, ok := routeTTL(tt.method, tt.pattern)
		require.Equal(t, tt.ok, ok, tt.name)
		if ok {
			assert.Equal(t, tt.want, ttl, tt.name)
		}
	}
}

func TestIdempotencyMiddlewareRequiresHeader(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusCreated)
	})

	req := requestWithPattern(http.MethodPost, withdrawalsPattern, withdrawalsPattern, strings.NewReader(`{"amountCents":1000}`))
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.False(t, handlerCalled, "handler should not run without idempotency key")
}

func TestIdempotencyMiddlewareReplaysStoredResponse(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	for i := 0; i < 2; i++ {
		req := requestWithPattern(http.MethodPost, withdrawalsPattern, withdrawalsPattern, strings.NewReader(`{"amountCents":1000}`))
		req.Header.Set("Idempotency-Key", "abc")
		rec := httptest.NewRecorder()
		mw(handler).ServeHTTP(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Equal(t, `{"ok":true}`, strings.TrimSpace(rec.Body.String()))
	}
	assert.Equal(t, 1, calls)
}

func TestIdempotencyMiddlewareScopesByUser(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	})

	for _, user := range []string{"user-a", "user-b"} {
		req := requestWithPattern(http.MethodPost, withdrawalsPattern, withdrawalsPattern, strings.NewReader(`{}`))
		req = req.WithContext(WithUserID(req.Context(), user))
		req.Header.Set("Idempotency-Key", "shared")
		mw(handler).ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, 2, calls)
}

func TestIdempotencyMiddlewareDoesNotStoreServerErrors(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})

	codes := []int{}
	for i := 0; i < 2; i++ {
		req := requestWithPattern(http.MethodPost, withdrawalsPattern, withdrawalsPattern, strings.NewReader(`{}`))
		req.Header.Set("Idempotency-Key", "retry")
		rec := httptest.NewRecorder()
		mw(handler).ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusServiceUnavailable, http.StatusCreated}, codes)
	assert.Equal(t, 2, calls)
}

func TestIdempotencyMiddlewareDetectsBodyChange(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := requestWithPattern(http.MethodPost, withdrawalsPattern, withdrawalsPattern, strings.NewReader(`{"amountCents":1000}`))
	req.Header.Set("Idempotency-Key", "xyz")
	mw(handler).ServeHTTP(httptest.NewRecorder(), req)

	replay := requestWithPattern(http.MethodPost, withdrawalsPattern, withdrawalsPattern, strings.NewReader(`{"amountCents":2000}`))
	replay.Header.Set("Idempotency-Key", "xyz")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, replay)

	require.Equal(t, http.StatusConflict, resp.Code)
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	assert.Equal(t, string(pkgerrors.CodeConflict), payload.Error.Code)
}

func TestIdempotencyMiddlewareIgnoresUnlistedRoutes(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := requestWithPattern(http.MethodGet, withdrawalsPattern, withdrawalsPattern, nil)
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)
	assert.True(t, called)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestIdempotencyMiddlewareMarksReplays(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	headers := []string{}
	for i := 0; i < 2; i++ {
		req := requestWithPattern(http.MethodPost, withdrawalsPattern, withdrawalsPattern, strings.NewReader(`{}`))
		req.Header.Set("Idempotency-Key", "replay")
		rec := httptest.NewRecorder()
		mw(handler).ServeHTTP(rec, req)
		headers = append(headers, rec.Header().Get(replayedHeader))
	}
	assert.Equal(t, []string{"", "true"}, headers)
}

func TestIdempotencyMiddlewareRejectsConcurrentDuplicate(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)

	var inner *httptest.ResponseRecorder
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inner == nil {
			dup := requestWithPattern(http.MethodPost, withdrawalsPattern, withdrawalsPattern, strings.NewReader(`{}`))
			dup.Header.Set("Idempotency-Key", "busy")
			inner = httptest.NewRecorder()
			Idempotency(store, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatal("duplicate must not reach the handler")
			})).ServeHTTP(inner, dup)
		}
		w.WriteHeader(http.StatusCreated)
	})

	req := requestWithPattern(http.MethodPost, withdrawalsPattern, withdrawalsPattern, strings.NewReader(`{}`))
	req.Header.Set("Idempotency-Key", "busy")
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, inner)
	assert.Equal(t, http.StatusConflict, inner.Code)
	assert.Len(t, store.data, 1)
}

func TestSamePathMatchesOnlyParameterSegments(t *testing.T) {
	assert.True(t, samePath("/api/v1/withdrawals/*/proof", "/api/v1/withdrawals/{requestId}/proof"))
	assert.True(t, samePath("/api/v1/withdrawals", "/api/v1/withdrawals/"))
	assert.False(t, samePath("/api/v1/withdrawals/*/proof", "/api/v1/withdrawals/literal/proof"))
	assert.False(t, samePath("/api/v1/withdrawals", "/api/v1/withdrawals/{requestId}/proof"))
}
