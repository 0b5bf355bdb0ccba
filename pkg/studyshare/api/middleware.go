package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/jwtauth"
	"github.com/google/uuid"
	"github.com/tendant/studyshare/pkg/studyshare"
	"github.com/tendant/studyshare/pkg/studyshare/metrics"
	"golang.org/x/time/rate"
)

type contextKey string

const actorKey contextKey = "actor"

// ActorFromContext returns the authenticated actor set by ActorMiddleware.
func ActorFromContext(ctx context.Context) (studyshare.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(studyshare.Actor)
	return actor, ok
}

// WithActor stores an actor in ctx.
func WithActor(ctx context.Context, actor studyshare.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorMiddleware turns the verified JWT claims into a studyshare.Actor.
// It must run after jwtauth.Verifier. Claims: sub (uuid), name, role, sid.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, claims, err := jwtauth.FromContext(r.Context())
		if err != nil {
			writeErrorCode(w, r, http.StatusUnauthorized, "unauthorized", "Authentication required")
			return
		}

		actor, err := actorFromClaims(claims)
		if err != nil {
			writeErrorCode(w, r, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

func actorFromClaims(claims map[string]interface{}) (studyshare.Actor, error) {
	sub, _ := claims["sub"].(string)
	id, err := uuid.Parse(sub)
	if err != nil {
		return studyshare.Actor{}, fmt.Errorf("token subject must be a uuid")
	}

	actor := studyshare.Actor{ID: id, Role: studyshare.RoleUser}
	actor.Name, _ = claims["name"].(string)
	actor.SessionID, _ = claims["sid"].(string)
	if role, _ := claims["role"].(string); role == string(studyshare.RoleAdmin) {
		actor.Role = studyshare.RoleAdmin
	}
	return actor, nil
}

// RequireAdmin rejects actors without the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok || !actor.IsAdmin() {
			writeErrorCode(w, r, http.StatusForbidden, "forbidden", "Admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limiterIdleTTL is the shortest time an actor's bucket survives without
// requests. Buckets also live at least as long as a full refill takes.
const limiterIdleTTL = 10 * time.Minute

// ActorRateLimiter applies a token bucket per actor.
type ActorRateLimiter struct {
	name    string
	limit   rate.Limit
	burst   int
	metrics *metrics.Collector
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	limiters  map[uuid.UUID]*actorLimiter
	lastSweep time.Time
}

type actorLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewActorRateLimiter allows perSecond requests per actor with the given burst.
// Collector may be nil.
func NewActorRateLimiter(name string, perSecond float64, burst int, collector *metrics.Collector) *ActorRateLimiter {
	idle := limiterIdleTTL
	if perSecond > 0 {
		if refill := time.Duration(float64(burst) / perSecond * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	return &ActorRateLimiter{
		name:      name,
		limit:     rate.Limit(perSecond),
		burst:     burst,
		metrics:   collector,
		idleTTL:   idle,
		now:       time.Now,
		limiters:  make(map[uuid.UUID]*actorLimiter),
		lastSweep: time.Now(),
	}
}

func (l *ActorRateLimiter) limiter(id uuid.UUID) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idleTTL {
		l.sweep(now)
	}

	entry, ok := l.limiters[id]
	if !ok {
		entry = &actorLimiter{lim: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[id] = entry
	}
	entry.lastSeen = now
	return entry.lim
}

// sweep drops buckets idle for idleTTL. Callers hold mu.
func (l *ActorRateLimiter) sweep(now time.Time) {
	for id, entry := range l.limiters {
		if now.Sub(entry.lastSeen) >= l.idleTTL {
			delete(l.limiters, id)
		}
	}
	l.lastSweep = now
}

// Middleware rejects requests beyond the actor's budget with 429.
func (l *ActorRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())
		lim := l.limiter(actor.ID)
		if !lim.Allow() {
			if l.metrics != nil {
				l.metrics.RateLimitRejected.WithLabelValues(l.name).Inc()
			}
			retry := time.Second
			if l.limit > 0 {
				retry = time.Duration(float64(time.Second) / float64(l.limit))
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds()+0.5)))
			writeErrorCode(w, r, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many submissions, slow down")
			return
		}
		if l.metrics != nil {
			l.metrics.RateLimitAllowed.WithLabelValues(l.name).Inc()
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter captures the status code and response size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// LoggingMiddleware logs one line per request.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.statusCode,
				"bytes", rw.bytesWritten,
				"duration", time.Since(start))
		})
	}
}
