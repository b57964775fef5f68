package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/circulation-backend/api/responses"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
)

// RateLimiterStore is a fixed-window counter keyed by scope.
type RateLimiterStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// RateLimitPolicy throttles one surface. Each limit counts a different
// subject: the client address, the username in the body, or the signed-in
// member. A zero limit switches that subject off.
type RateLimitPolicy struct {
	name       string
	window     time.Duration
	ipLimit    int64
	identLimit int64
	actorLimit int64
}

// LoginPolicy guards login and registration against credential stuffing.
func LoginPolicy(window time.Duration, ipLimit, identLimit int) RateLimitPolicy {
	return RateLimitPolicy{name: "login", window: window, ipLimit: int64(ipLimit), identLimit: int64(identLimit)}
}

// BorrowPolicy caps how many borrow requests and renewals a member can fire
// at the desk queue. Must run after Auth.
func BorrowPolicy(window time.Duration, perMember int) RateLimitPolicy {
	return RateLimitPolicy{name: "borrow", window: window, actorLimit: int64(perMember)}
}

func (p RateLimitPolicy) enabled() bool {
	return p.window > 0 && (p.ipLimit > 0 || p.identLimit > 0 || p.actorLimit > 0)
}

type rateSubject struct {
	kind  string
	value string
	limit int64
}

func (p RateLimitPolicy) scope(s rateSubject) string {
	return p.name + ":" + s.kind + ":" + s.value
}

// RateLimit rejects a request with 429 once any subject of the policy is over
// its limit in the current window.
func RateLimit(policy RateLimitPolicy, store RateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			subjects := make([]rateSubject, 0, 3)
			if policy.ipLimit > 0 {
				if ip := clientIP(r); ip != "" {
					subjects = append(subjects, rateSubject{kind: "ip", value: ip, limit: policy.ipLimit})
				}
			}
			if policy.actorLimit > 0 {
				if userID := UserIDFromContext(ctx); userID != "" {
					subjects = append(subjects, rateSubject{kind: "member", value: userID, limit: policy.actorLimit})
				}
			}
			if policy.identLimit > 0 {
				body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBody))
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
				if ident := usernameFromBody(body); ident != "" {
					subjects = append(subjects, rateSubject{kind: "ident", value: hashValue(ident), limit: policy.identLimit})
				}
			}

			for _, subject := range subjects {
				allowed, count, err := store.FixedWindowAllow(ctx, policy.scope(subject), subject.limit, policy.window)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
					return
				}
				if !allowed {
					respondRateLimited(ctx, logg, w, policy, subject, count)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func respondRateLimited(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, policy RateLimitPolicy, subject rateSubject, count int64) {
	if logg != nil {
		fields := map[string]any{
			"policy":         policy.name,
			"subject":        subject.kind,
			"attempts":       count,
			"limit":          subject.limit,
			"window_seconds": int(policy.window.Seconds()),
		}
		// usernames are only ever logged hashed
		fields[subject.kind] = subject.value
		logg.Warn(logg.WithFields(ctx, fields), "rate_limit.blocked")
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(policy.window.Seconds())))
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many "+policy.name+" attempts, try again later"))
}

func clientIP(r *http.Request) string {
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

// usernameFromBody returns the lower-cased username a login or register body
// targets, or "" when the body has none.
func usernameFromBody(payload []byte) string {
	var body struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(body.Username))
}

func hashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
