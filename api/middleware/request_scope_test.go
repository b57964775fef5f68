package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/pkg/enums"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
)

func bufferLogger(buf *bytes.Buffer) *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: buf, Format: "json"})
}

// logLine returns the first JSON log record whose message is msg.
func logLine(t *testing.T, buf *bytes.Buffer, msg string) map[string]any {
	t.Helper()
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec["message"] == msg {
			return rec
		}
	}
	t.Fatalf("no %q log line in:\n%s", msg, buf.String())
	return nil
}

func TestRequestScopeKeepsWellFormedInboundID(t *testing.T) {
	var seen string
	handler := RequestScope(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "desk-7f3a91c2")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "desk-7f3a91c2" || rec.Header().Get(requestIDHeader) != "desk-7f3a91c2" {
		t.Fatalf("expected inbound id kept, got ctx=%q header=%q", seen, rec.Header().Get(requestIDHeader))
	}
}

func TestRequestScopeReplacesMalformedInboundID(t *testing.T) {
	handler := RequestScope(nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "bad id\nwith newline")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if _, err := uuid.Parse(rec.Header().Get(requestIDHeader)); err != nil {
		t.Fatalf("expected a minted uuid, got %q", rec.Header().Get(requestIDHeader))
	}
}

func TestRequestScopeRecoversWithLendingContext(t *testing.T) {
	var buf bytes.Buffer
	logg := bufferLogger(&buf)
	librarian := uuid.New()
	token := mintTestToken(t, librarian, enums.UserRoleLibrarian)
	entryID := uuid.NewString()

	r := chi.NewRouter()
	r.Use(RequestScope(logg))
	r.With(Auth(testJWTConfig, stubRevocations{}, logg)).Post("/ledger/{entryId}/return", func(w http.ResponseWriter, r *http.Request) {
		panic("copy row vanished")
	})

	req := httptest.NewRequest(http.MethodPost, "/ledger/"+entryID+"/return", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
	line := logLine(t, &buf, "panic.recovered")
	if line["entry_id"] != entryID {
		t.Fatalf("expected entry_id %s, got %v", entryID, line["entry_id"])
	}
	if line["user_id"] != librarian.String() || line["actor_role"] != enums.UserRoleLibrarian.String() {
		t.Fatalf("expected librarian actor on panic log, got %v / %v", line["user_id"], line["actor_role"])
	}
	if line["route"] != "/ledger/{entryId}/return" {
		t.Fatalf("unexpected route %v", line["route"])
	}
	if line["request_id"] != rec.Header().Get(requestIDHeader) {
		t.Fatalf("panic log must carry the request id")
	}
}

func TestLoggingCompletionCarriesActorAndFine(t *testing.T) {
	var buf bytes.Buffer
	logg := bufferLogger(&buf)
	member := uuid.New()
	token := mintTestToken(t, member, enums.UserRoleMember)
	fineID := uuid.NewString()

	r := chi.NewRouter()
	r.Use(RequestScope(logg), Logging(logg))
	r.With(Auth(testJWTConfig, stubRevocations{}, logg)).Post("/fines/{fineId}/pay", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	req := httptest.NewRequest(http.MethodPost, "/fines/"+fineID+"/pay", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(httptest.NewRecorder(), req)

	line := logLine(t, &buf, "request.complete")
	if line["fine_id"] != fineID || line["user_id"] != member.String() {
		t.Fatalf("expected fine and member on completion log, got %v", line)
	}
	if status, _ := line["status"].(float64); int(status) != http.StatusForbidden {
		t.Fatalf("unexpected status %v", line["status"])
	}
}
