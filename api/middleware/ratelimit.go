package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/angelmondragon/netcomp-backend/api/responses"
	pkgerrors "github.com/angelmondragon/netcomp-backend/pkg/errors"
	"github.com/angelmondragon/netcomp-backend/pkg/logger"
)

const limiterIdleTTL = 10 * time.Minute

type callerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet keeps one token bucket per caller and forgets callers idle for
// longer than limiterIdleTTL.
type limiterSet struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	callers   map[string]*callerLimiter
	lastSweep time.Time
	now       func() time.Time
}

func newLimiterSet(rps float64, burst int) *limiterSet {
	return &limiterSet{
		limit:   rate.Limit(rps),
		burst:   max(burst, 1),
		callers: map[string]*callerLimiter{},
		now:     time.Now,
	}
}

func (s *limiterSet) allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if now.Sub(s.lastSweep) > limiterIdleTTL {
		for k, c := range s.callers {
			if now.Sub(c.lastSeen) > limiterIdleTTL {
				delete(s.callers, k)
			}
		}
		s.lastSweep = now
	}
	c, ok := s.callers[key]
	if !ok {
		c = &callerLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.callers[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// RateLimit throttles each caller to rps requests per second with the given
// burst. Authenticated callers are keyed by member id, others by remote
// address. A non-positive rps disables the limit.
func RateLimit(rps float64, burst int, logg *logger.Logger) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	set := newLimiterSet(rps, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !set.allow(callerKey(r)) {
				w.Header().Set("Retry-After", "1")
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeRateLimited, "too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func callerKey(r *http.Request) string {
	if id := UserIDFromContext(r.Context()); id != "" {
		return "member:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
