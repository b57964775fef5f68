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
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/circulation-backend/api/responses"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"

	defaultIdempotencyTTL = 24 * time.Hour
	// Loan decisions, returns and payments are kept for a week: a desk client
	// replaying a return days later must not assess a second fine.
	decisionIdempotencyTTL = 7 * 24 * time.Hour
	// A reservation outlives the slowest handler but not a crashed one.
	inflightIdempotencyTTL = time.Minute

	maxIdempotentBody = 1 << 20
)

var idempotencyKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// lendingOp is a write the circulation desk may safely resend. Segments are
// matched against r.URL.Path because subrouter middleware runs before chi has
// the full route pattern; a "*" segment is the resource id the key is bound to.
type lendingOp struct {
	name     string
	method   string
	segments []string
	decision bool
}

var lendingOps = []lendingOp{
	{name: "register", method: http.MethodPost, segments: segs("api/v1/auth/register")},
	{name: "borrow_request", method: http.MethodPost, segments: segs("api/v1/ledger/requests")},
	{name: "renew", method: http.MethodPost, segments: segs("api/v1/ledger/*/renew")},
	{name: "add_copies", method: http.MethodPost, segments: segs("api/v1/titles/*/copies")},
	{name: "approve", method: http.MethodPost, segments: segs("api/v1/ledger/*/approve"), decision: true},
	{name: "reject", method: http.MethodPost, segments: segs("api/v1/ledger/*/reject"), decision: true},
	{name: "return", method: http.MethodPost, segments: segs("api/v1/ledger/*/return"), decision: true},
	{name: "fine_pay", method: http.MethodPost, segments: segs("api/v1/fines/*/pay"), decision: true},
}

func segs(p string) []string { return strings.Split(p, "/") }

// matchLendingOp returns the operation for method and path plus the resource
// id captured by its wildcard, if any.
func matchLendingOp(method, urlPath string) (lendingOp, string, bool) {
	parts := strings.Split(strings.Trim(urlPath, "/"), "/")
	for _, op := range lendingOps {
		if op.method != method || len(op.segments) != len(parts) {
			continue
		}
		resource, ok := "", true
		for i, seg := range op.segments {
			if seg == "*" {
				if parts[i] == "" {
					ok = false
					break
				}
				resource = parts[i]
				continue
			}
			if seg != parts[i] {
				ok = false
				break
			}
		}
		if ok {
			return op, resource, true
		}
	}
	return lendingOp{}, "", false
}

func (op lendingOp) ttl(base time.Duration) time.Duration {
	if base <= 0 {
		base = defaultIdempotencyTTL
	}
	if op.decision && base < decisionIdempotencyTTL {
		return decisionIdempotencyTTL
	}
	return base
}

// IdempotencyStore is the subset of the redis client the middleware needs.
type IdempotencyStore interface {
	Get(context.Context, string) (string, error)
	Set(context.Context, string, any, time.Duration) error
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	Del(context.Context, ...string) error
	IdempotencyKey(scope, id string) string
}

type idempotencyRecord struct {
	Pending     bool              `json:"pending,omitempty"`
	Status      int               `json:"status,omitempty"`
	Body        string            `json:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	RequestHash string            `json:"request_hash"`
}

// Idempotency replays the stored response when a lending write is resent with
// the same Idempotency-Key. Keys are scoped to the caller, the operation and
// the entry, title or fine it targets, so it must run after Auth. A 5xx result
// is not stored and the key becomes free for a retry.
func Idempotency(store IdempotencyStore, baseTTL time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op, resource, ok := matchLendingOp(r.Method, r.URL.Path)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithField(ctx, "idempotent_op", op.name)
			}

			idempotencyKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if idempotencyKey == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			}
			if !idempotencyKeyPattern.MatchString(idempotencyKey) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key must be 1-128 url-safe characters"))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBody))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			requestHash := hashBody(body)
			key := store.IdempotencyKey(lendingScope(r.Context(), op, resource), idempotencyKey)

			reservation, _ := json.Marshal(idempotencyRecord{Pending: true, RequestHash: requestHash})
			acquired, err := store.SetNX(ctx, key, string(reservation), inflightIdempotencyTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !acquired {
				replayStored(ctx, store, key, requestHash, w, logg)
				return
			}

			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r.WithContext(ctx))
			status := defaultStatus(rec.status)

			if status >= http.StatusInternalServerError {
				if delErr := store.Del(ctx, key); delErr != nil {
					logError(ctx, logg, "release idempotency key", delErr)
				}
				return
			}

			record := idempotencyRecord{
				Status:      status,
				Body:        base64.StdEncoding.EncodeToString(rec.body.Bytes()),
				RequestHash: requestHash,
			}
			if ct := rec.Header().Get("Content-Type"); ct != "" {
				record.Headers = map[string]string{"Content-Type": ct}
			}
			payload, marshalErr := json.Marshal(record)
			if marshalErr != nil {
				logError(ctx, logg, "marshal idempotency record", marshalErr)
				return
			}
			if setErr := store.Set(ctx, key, string(payload), op.ttl(baseTTL)); setErr != nil {
				logError(ctx, logg, "persist idempotency record", setErr)
			}
		})
	}
}

func replayStored(ctx context.Context, store IdempotencyStore, key, requestHash string, w http.ResponseWriter, logg *logger.Logger) {
	stored, err := store.Get(ctx, key)
	switch {
	case errors.Is(err, redis.Nil):
		// the first attempt failed and released the key between our calls
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this Idempotency-Key was not completed, retry"))
		return
	case err != nil:
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
		return
	}
	record, err := decodeRecord(stored)
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	if record.RequestHash != requestHash {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
		return
	}
	if record.Pending {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this Idempotency-Key is still in progress"))
		return
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "replayed_status", record.Status), "idempotency.replayed")
	}
	writeStoredResponse(w, record)
}

// lendingScope binds a key to who sent it, what it does and which resource it
// touches. Registration has no caller yet.
func lendingScope(ctx context.Context, op lendingOp, resource string) string {
	caller := UserIDFromContext(ctx)
	if caller == "" {
		caller = "anonymous"
	}
	parts := []string{caller, op.name}
	if resource != "" {
		parts = append(parts, resource)
	}
	return strings.Join(parts, ":")
}

func decodeRecord(payload string) (*idempotencyRecord, error) {
	var record idempotencyRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func writeStoredResponse(w http.ResponseWriter, record *idempotencyRecord) {
	if ct, ok := record.Headers["Content-Type"]; ok && ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(record.Status)
	if decoded, err := base64.StdEncoding.DecodeString(record.Body); err == nil {
		_, _ = w.Write(decoded)
	}
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func defaultStatus(value int) int {
	if value == 0 {
		return http.StatusOK
	}
	return value
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
