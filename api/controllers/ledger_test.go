package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/circulation-backend/internal/ledger"
	"github.com/angelmondragon/circulation-backend/pkg/auth"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
)

type stubLedgerService struct {
	requestFn func(ctx context.Context, input ledger.RequestBorrowInput) (*models.LedgerEntry, error)
	approveFn func(ctx context.Context, input ledger.DecisionInput) (*models.LedgerEntry, error)
	rejectFn  func(ctx context.Context, input ledger.DecisionInput) (*models.LedgerEntry, error)
	renewFn   func(ctx context.Context, input ledger.RenewInput) (time.Time, error)
	returnFn  func(ctx context.Context, input ledger.DecisionInput) (*ledger.ReturnResult, error)
	getFn     func(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.LedgerEntry, error)
	listFn    func(ctx context.Context, borrowerID uuid.UUID) ([]models.LedgerEntry, error)
}

func (s stubLedgerService) RequestBorrow(ctx context.Context, input ledger.RequestBorrowInput) (*models.LedgerEntry, error) {
	return s.requestFn(ctx, input)
}

func (s stubLedgerService) ApproveBorrow(ctx context.Context, input ledger.DecisionInput) (*models.LedgerEntry, error) {
	return s.approveFn(ctx, input)
}

func (s stubLedgerService) RejectBorrow(ctx context.Context, input ledger.DecisionInput) (*models.LedgerEntry, error) {
	return s.rejectFn(ctx, input)
}

func (s stubLedgerService) Renew(ctx context.Context, input ledger.RenewInput) (time.Time, error) {
	return s.renewFn(ctx, input)
}

func (s stubLedgerService) ReturnEntry(ctx context.Context, input ledger.DecisionInput) (*ledger.ReturnResult, error) {
	return s.returnFn(ctx, input)
}

func (s stubLedgerService) Get(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.LedgerEntry, error) {
	return s.getFn(ctx, id, actor)
}

func (s stubLedgerService) ListForBorrower(ctx context.Context, borrowerID uuid.UUID) ([]models.LedgerEntry, error) {
	return s.listFn(ctx, borrowerID)
}

func TestRequestBorrowUsesCallerAsBorrower(t *testing.T) {
	titleID := uuid.New()
	var got ledger.RequestBorrowInput
	svc := stubLedgerService{requestFn: func(ctx context.Context, input ledger.RequestBorrowInput) (*models.LedgerEntry, error) {
		got = input
		return &models.LedgerEntry{ID: uuid.New(), BorrowerID: input.Borrower.UserID, TitleID: input.TitleID, Status: enums.LedgerStatusPending}, nil
	}}

	req := newRequest(http.MethodPost, "/api/v1/ledger/requests", `{"title_id":"`+titleID.String()+`"}`, &testMember, nil)
	rec := httptest.NewRecorder()
	RequestBorrow(svc, testLogger).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if got.Borrower != testMember || got.TitleID != titleID {
		t.Fatalf("unexpected input %+v", got)
	}
	var dto ledger.EntryDTO
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &dto); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if dto.Status != enums.LedgerStatusPending {
		t.Fatalf("expected pending got %s", dto.Status)
	}
}

func TestRequestBorrowRejectsUnknownFields(t *testing.T) {
	svc := stubLedgerService{}
	req := newRequest(http.MethodPost, "/api/v1/ledger/requests", `{"title_id":"`+uuid.NewString()+`","borrower_id":"x"}`, &testMember, nil)
	rec := httptest.NewRecorder()
	RequestBorrow(svc, testLogger).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestRequestBorrowAlreadyRequested(t *testing.T) {
	svc := stubLedgerService{requestFn: func(ctx context.Context, input ledger.RequestBorrowInput) (*models.LedgerEntry, error) {
		return nil, pkgerrors.New(pkgerrors.CodeAlreadyRequested, "already requested")
	}}
	req := newRequest(http.MethodPost, "/api/v1/ledger/requests", `{"title_id":"`+uuid.NewString()+`"}`, &testMember, nil)
	rec := httptest.NewRecorder()
	RequestBorrow(svc, testLogger).ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
	if code := decodeEnvelope(t, rec).Error.Code; code != string(pkgerrors.CodeAlreadyRequested) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestApproveBorrowMapsNoStock(t *testing.T) {
	entryID := uuid.New()
	var got ledger.DecisionInput
	svc := stubLedgerService{approveFn: func(ctx context.Context, input ledger.DecisionInput) (*models.LedgerEntry, error) {
		got = input
		return nil, pkgerrors.New(pkgerrors.CodeNoStock, "no copies available")
	}}

	req := newRequest(http.MethodPost, "/api/v1/ledger/"+entryID.String()+"/approve", "", &testLibrarian, map[string]string{"entryId": entryID.String()})
	rec := httptest.NewRecorder()
	ApproveBorrow(svc, testLogger).ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
	if got.EntryID != entryID || got.Actor != testLibrarian {
		t.Fatalf("unexpected decision input %+v", got)
	}
	if code := decodeEnvelope(t, rec).Error.Code; code != string(pkgerrors.CodeNoStock) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestLedgerDecisionValidatesPath(t *testing.T) {
	req := newRequest(http.MethodPost, "/api/v1/ledger/nope/reject", "", &testLibrarian, map[string]string{"entryId": "nope"})
	rec := httptest.NewRecorder()
	RejectBorrow(stubLedgerService{}, testLogger).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestLedgerDecisionRequiresActor(t *testing.T) {
	entryID := uuid.New()
	req := newRequest(http.MethodPost, "/", "", nil, map[string]string{"entryId": entryID.String()})
	rec := httptest.NewRecorder()
	ApproveBorrow(stubLedgerService{}, testLogger).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestReturnLoanIncludesFine(t *testing.T) {
	entryID := uuid.New()
	due := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	returned := due.Add(72 * time.Hour)
	svc := stubLedgerService{returnFn: func(ctx context.Context, input ledger.DecisionInput) (*ledger.ReturnResult, error) {
		return &ledger.ReturnResult{
			Entry: &models.LedgerEntry{ID: entryID, Status: enums.LedgerStatusReturned, DueAt: &due, ReturnedAt: &returned},
			Fine:  &models.Fine{ID: uuid.New(), LedgerEntryID: entryID, Amount: decimal.RequireFromString("15.00"), Status: enums.FineStatusUnpaid},
		}, nil
	}}

	req := newRequest(http.MethodPost, "/", "", &testLibrarian, map[string]string{"entryId": entryID.String()})
	rec := httptest.NewRecorder()
	ReturnLoan(svc, testLogger).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var dto ledger.ReturnDTO
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &dto); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dto.Fine == nil || !dto.Fine.Amount.Equal(decimal.RequireFromString("15")) {
		t.Fatalf("expected fine of 15, got %+v", dto.Fine)
	}
	if dto.Entry.Overdue {
		t.Fatalf("returned entry must not be overdue")
	}
}

func TestRenewLoanPassesCaller(t *testing.T) {
	entryID := uuid.New()
	due := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	var got ledger.RenewInput
	svc := stubLedgerService{renewFn: func(ctx context.Context, input ledger.RenewInput) (time.Time, error) {
		got = input
		return due, nil
	}}

	req := newRequest(http.MethodPost, "/", "", &testMember, map[string]string{"entryId": entryID.String()})
	rec := httptest.NewRecorder()
	RenewLoan(svc, testLogger).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if got.Borrower != testMember || got.EntryID != entryID {
		t.Fatalf("unexpected renew input %+v", got)
	}
}

func TestMyLoansFlagsOverdue(t *testing.T) {
	past := time.Now().Add(-48 * time.Hour)
	svc := stubLedgerService{listFn: func(ctx context.Context, borrowerID uuid.UUID) ([]models.LedgerEntry, error) {
		return []models.LedgerEntry{{ID: uuid.New(), BorrowerID: borrowerID, Status: enums.LedgerStatusActive, DueAt: &past}}, nil
	}}

	req := newRequest(http.MethodGet, "/api/v1/ledger/me", "", &testMember, nil)
	rec := httptest.NewRecorder()
	MyLoans(svc, testLogger).ServeHTTP(rec, req)

	var rows []ledger.EntryDTO
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 1 || !rows[0].Overdue {
		t.Fatalf("expected one overdue row, got %+v", rows)
	}
}
