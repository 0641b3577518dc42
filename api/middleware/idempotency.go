package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/netcomp-backend/api/responses"
	pkgerrors "github.com/angelmondragon/netcomp-backend/pkg/errors"
	"github.com/angelmondragon/netcomp-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/netcomp-backend/pkg/redis"
)

const (
	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	inFlightTTL            = 2 * time.Minute

	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
)

// idempotentRoutes lists the POST routes guarded by Idempotency-Key. A "*"
// segment matches one chi URL parameter.
var idempotentRoutes = map[string]time.Duration{
	"/api/v1/withdrawals":                 criticalIdempotencyTTL,
	"/api/admin/v1/withdrawals/*/approve": criticalIdempotencyTTL,
	"/api/admin/v1/withdrawals/*/reject":  criticalIdempotencyTTL,
	"/api/v1/withdrawals/*/proof":         defaultIdempotencyTTL,
	"/api/admin/v1/members":               defaultIdempotencyTTL,
	"/api/admin/v1/members/*/rewards":     defaultIdempotencyTTL,
	"/api/admin/v1/payout-wallets":        defaultIdempotencyTTL,
}

var (
	errInFlight    = pkgerrors.New(pkgerrors.CodeConflict, "idempotent request still in progress")
	errKeyReused   = pkgerrors.New(pkgerrors.CodeConflict, "idempotency key reused with different request body")
	errKeyRequired = pkgerrors.New(pkgerrors.CodeValidation, idempotencyHeader+" header required")
)

// storedResponse is what a key holds in Redis: a claim while the first
// request runs, then the response it produced.
type storedResponse struct {
	Pending     bool   `json:"pending,omitempty"`
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency makes the guarded mutating routes safe to retry. The first
// request under a key claims it, later ones replay the stored response, and
// a key reused with a different body is a conflict. Server errors are not
// stored so the caller may retry under the same key.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, guarded := routeTTL(r.Method, routePattern(r))
			if !guarded || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			g := guard{store: store, logg: logg, ttl: ttl}
			g.serve(w, r, next)
		})
	}
}

type guard struct {
	store pkgredis.IdempotencyStore
	logg  *logger.Logger
	ttl   time.Duration
}

func (g guard) fail(w http.ResponseWriter, r *http.Request, err error) {
	responses.WriteError(r.Context(), g.logg, w, err)
}

func (g guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if clientKey == "" {
		g.fail(w, r, errKeyRequired)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		g.fail(w, r, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request"))
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	sum := sha256.Sum256(body)
	fingerprint := base64.RawStdEncoding.EncodeToString(sum[:])
	key := g.store.IdempotencyKey(requestScope(r), clientKey)

	claimed, err := g.put(r.Context(), key, storedResponse{Pending: true, Fingerprint: fingerprint}, inFlightTTL)
	if err != nil {
		g.fail(w, r, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
		return
	}
	if !claimed {
		g.replay(w, r, key, fingerprint)
		return
	}

	capture := &responseCapture{ResponseWriter: w}
	next.ServeHTTP(capture, r)
	g.record(context.WithoutCancel(r.Context()), key, fingerprint, capture)
}

// record swaps the claim for the captured response.
func (g guard) record(ctx context.Context, key, fingerprint string, capture *responseCapture) {
	if err := g.store.Del(ctx, key); err != nil {
		g.logError(ctx, "release idempotency claim", err)
		return
	}
	status := capture.statusOrOK()
	if status >= http.StatusInternalServerError {
		return
	}
	resp := storedResponse{
		Fingerprint: fingerprint,
		Status:      status,
		ContentType: capture.Header().Get("Content-Type"),
		Body:        capture.body.Bytes(),
	}
	if _, err := g.put(ctx, key, resp, g.ttl); err != nil {
		g.logError(ctx, "persist idempotency record", err)
	}
}

func (g guard) put(ctx context.Context, key string, resp storedResponse, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return false, err
	}
	return g.store.SetNX(ctx, key, string(raw), ttl)
}

// replay answers a request whose key is already taken.
func (g guard) replay(w http.ResponseWriter, r *http.Request, key, fingerprint string) {
	raw, err := g.store.Get(r.Context(), key)
	if errors.Is(err, redis.Nil) {
		// claim released between SetNX and Get: the first request is finishing
		g.fail(w, r, errInFlight)
		return
	}
	if err != nil {
		g.fail(w, r, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
		return
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		g.fail(w, r, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	if stored.Fingerprint != fingerprint {
		g.fail(w, r, errKeyReused)
		return
	}
	if stored.Pending {
		g.fail(w, r, errInFlight)
		return
	}

	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

func (g guard) logError(ctx context.Context, msg string, err error) {
	if g.logg != nil {
		g.logg.Error(ctx, msg, err)
	}
}

// requestScope keeps keys from colliding across callers and endpoints.
func requestScope(r *http.Request) string {
	return UserIDFromContext(r.Context()) + "|" + r.Method + "|" + r.URL.Path
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func routeTTL(method, pattern string) (time.Duration, bool) {
	if method != http.MethodPost || pattern == "" {
		return 0, false
	}
	for route, ttl := range idempotentRoutes {
		if samePath(route, pattern) {
			return ttl, true
		}
	}
	return 0, false
}

func samePath(route, pattern string) bool {
	want := strings.Split(route, "/")
	got := strings.Split(strings.TrimSuffix(pattern, "/"), "/")
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if want[i] == "*" && strings.HasPrefix(got[i], "{") {
			continue
		}
		if want[i] != got[i] {
			return false
		}
	}
	return true
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) statusOrOK() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func (c *responseCapture) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}
