// Package httpapi wires the platform's four cores onto the versioned /v1
// HTTP surface: router shape, middleware ordering, the per-handler
// narrow-interface idiom, JWT bearer auth with an HS256-claims shape
// (sub/role/exp/iat), and per-subject rate limiting.
package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/routecore/platform/internal/apierr"
	"github.com/routecore/platform/internal/platformlog"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Role is one of the three principal roles the API recognizes.
type Role string

const (
	RoleRider  Role = "RIDER"
	RoleDriver Role = "DRIVER"
	RoleAdmin  Role = "ADMIN"
)

// Principal is the authenticated caller, extracted from the JWT's claims
// and stored in the request context by authMiddleware.
type Principal struct {
	UserID uuid.UUID
	Role   Role
}

type principalKey struct{}

// PrincipalFromContext returns the authenticated caller, or false if the
// request was never authenticated (only possible on routes that skip
// authMiddleware, e.g. the webhook endpoint).
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// authMiddleware validates the Bearer JWT and injects a Principal into
// the request context. Unlike the cinema example's echo middleware, which
// stores untyped claims, this stores a typed Principal so handlers never
// re-parse claims.
func authMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				apierr.WriteHTTPError(w, apierr.Authorization("MISSING_BEARER_TOKEN", "missing bearer token"))
				return
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, apierr.Authorization("UNSUPPORTED_SIGNING_METHOD", "unsupported token signing method")
				}
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				apierr.WriteHTTPError(w, apierr.Authorization("INVALID_TOKEN", "invalid or expired token"))
				return
			}

			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				apierr.WriteHTTPError(w, apierr.Authorization("INVALID_CLAIMS", "token claims are malformed"))
				return
			}

			sub, _ := claims["sub"].(string)
			userID, err := uuid.Parse(sub)
			if err != nil {
				apierr.WriteHTTPError(w, apierr.Authorization("INVALID_SUBJECT", "token subject is not a valid user id"))
				return
			}
			role, _ := claims["role"].(string)

			ctx := context.WithValue(r.Context(), principalKey{}, Principal{UserID: userID, Role: Role(role)})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireRole rejects requests whose Principal role is not one of allowed.
// Must run after authMiddleware.
func requireRole(allowed ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				apierr.WriteHTTPError(w, apierr.Authorization("UNAUTHENTICATED", "authentication required"))
				return
			}
			for _, role := range allowed {
				if principal.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			apierr.WriteHTTPError(w, apierr.Authorization("ROLE_NOT_PERMITTED", "caller's role is not permitted for this operation"))
		})
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		platformlog.FromContext(r.Context()).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// perUserLimiters keys a rate.Limiter per JWT subject (default 100
// req/min, burst 20). The router installs it after authMiddleware, so
// authenticated routes are limited per subject; a request with no Principal
// in its context (the gateway webhook) is keyed by remote IP.
type perUserLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newPerUserLimiters(requestsPerMinute, burst int) *perUserLimiters {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 100
	}
	if burst <= 0 {
		burst = 20
	}
	return &perUserLimiters{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
	}
}

func (p *perUserLimiters) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[key]
	if !ok {
		l = rate.NewLimiter(p.rps, p.burst)
		p.limiters[key] = l
	}
	return l
}

func (p *perUserLimiters) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !p.get(key).Allow() {
			apierr.WriteHTTPError(w, apierr.RateLimited("RATE_LIMITED", "too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if principal, ok := PrincipalFromContext(r.Context()); ok {
		return principal.UserID.String()
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// throttleMiddleware caps total in-flight requests, mirroring the
// semaphore-based throttle.
func throttleMiddleware(maxInFlight int) func(http.Handler) http.Handler {
	if maxInFlight <= 0 {
		maxInFlight = 200
	}
	sem := make(chan struct{}, maxInFlight)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
				next.ServeHTTP(w, r)
			default:
				apierr.WriteHTTPError(w, apierr.Unavailable("SERVER_BUSY", "server is busy, please try again later"))
			}
		})
	}
}
