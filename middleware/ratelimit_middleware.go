package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/upb/repairdesk-core/services"
	"github.com/upb/repairdesk-core/services/access"
	"github.com/upb/repairdesk-core/services/ratelimit"
	"github.com/upb/repairdesk-core/utils"
	"go.uber.org/zap"
)

// RateLimiter decides whether a request may proceed
type RateLimiter interface {
	Allow(ctx context.Context, class ratelimit.Class, key string) (ratelimit.Decision, error)
}

// RateLimit applies the rate-limit tiers. PreAuth runs before credentials
// are checked and keys on the client IP; PostAuth keys on the account.
type RateLimit struct {
	limiter   RateLimiter
	logger    *zap.Logger
	authPaths map[string]bool
	exempt    map[string]bool
}

// NewRateLimit creates the rate-limit middleware. Requests to the login,
// refresh and invitation endpoints count against the auth tier.
func NewRateLimit(limiter RateLimiter, logger *zap.Logger) *RateLimit {
	return &RateLimit{
		limiter: limiter,
		logger:  logger,
		authPaths: map[string]bool{
			access.RouteLogin:            true,
			access.RouteRefresh:          true,
			access.RouteAcceptInvitation: true,
		},
		exempt: map[string]bool{
			access.RouteHealth:  true,
			access.RouteReady:   true,
			access.RouteMetrics: true,
		},
	}
}

// PreAuth limits by client IP: the global tier on every request, then the
// auth tier for credential endpoints. The api tier applies only to requests
// without a token; those with one are metered per account by PostAuth, and
// an invalid token is refused by access control after the global tier.
func (m *RateLimit) PreAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimSuffix(r.URL.Path, "/")
		if m.exempt[path] {
			next.ServeHTTP(w, r)
			return
		}

		classes := []ratelimit.Class{ratelimit.ClassGlobal}
		switch {
		case m.authPaths[path]:
			classes = append(classes, ratelimit.ClassAuth)
		case extractToken(r) == "":
			classes = append(classes, ratelimit.ClassAPI)
		}
		if !m.check(w, r, ClientIP(r), classes...) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PostAuth limits authenticated callers by account id. Requests without an
// identity, i.e. public routes, pass through.
func (m *RateLimit) PostAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := GetIdentityFromContext(r.Context())
		if identity == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := "account:" + identity.AccountID.String()
		if !m.check(w, r, key, ratelimit.ClassAuthenticatedGlobal, ratelimit.ClassAuthenticatedAPI) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// check evaluates classes in order and writes the denial for the first
// that refuses. Headers describe the last class evaluated.
func (m *RateLimit) check(w http.ResponseWriter, r *http.Request, key string, classes ...ratelimit.Class) bool {
	ctx := r.Context()
	for _, class := range classes {
		d, err := m.limiter.Allow(ctx, class, key)
		if err != nil {
			m.logger.Warn("rate limit check failed, allowing request",
				zap.String("request_id", GetRequestIDFromContext(ctx)),
				zap.String("class", string(class)),
				zap.Error(err))
			continue
		}

		setRateLimitHeaders(w, d)
		if d.Allowed {
			continue
		}

		retry := retryAfter(d.RetryAfter)
		if retry < 1 {
			retry = 1
		}
		denial := services.ErrRateLimited
		if d.Blocked {
			denial = services.ErrIPBlocked
		}
		m.logger.Debug("rate limited",
			zap.String("request_id", GetRequestIDFromContext(ctx)),
			zap.String("class", string(class)),
			zap.Bool("blocked", d.Blocked))
		utils.WriteDomainError(w, denial.WithDetail("class", string(class)).WithDetail("retry_after", retry), m.logger)
		return false
	}
	return true
}

func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

// retryAfter rounds d up to whole seconds
func retryAfter(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
