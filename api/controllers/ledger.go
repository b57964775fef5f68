package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/api/responses"
	"github.com/angelmondragon/circulation-backend/api/validators"
	"github.com/angelmondragon/circulation-backend/internal/ledger"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
)

type borrowRequest struct {
	TitleID uuid.UUID `json:"title_id" validate:"required"`
}

// RequestBorrow opens a Pending entry for the calling member.
func RequestBorrow(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("ledger"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body borrowRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entry, err := svc.RequestBorrow(r.Context(), ledger.RequestBorrowInput{Borrower: actor, TitleID: body.TitleID})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, ledger.EntryFromModel(entry, renderNow()))
	}
}

type decisionFunc func(svc ledger.Service, r *http.Request, input ledger.DecisionInput) (any, error)

// ledgerDecision adapts one librarian transition on /ledger/{entryId}/... .
func ledgerDecision(svc ledger.Service, logg *logger.Logger, fn decisionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("ledger"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entryID, err := validators.ParseUUIDParam(r, "entryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out, err := fn(svc, r, ledger.DecisionInput{EntryID: entryID, Actor: actor})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	}
}

func ApproveBorrow(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return ledgerDecision(svc, logg, func(svc ledger.Service, r *http.Request, input ledger.DecisionInput) (any, error) {
		entry, err := svc.ApproveBorrow(r.Context(), input)
		if err != nil {
			return nil, err
		}
		return ledger.EntryFromModel(entry, renderNow()), nil
	})
}

func RejectBorrow(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return ledgerDecision(svc, logg, func(svc ledger.Service, r *http.Request, input ledger.DecisionInput) (any, error) {
		entry, err := svc.RejectBorrow(r.Context(), input)
		if err != nil {
			return nil, err
		}
		return ledger.EntryFromModel(entry, renderNow()), nil
	})
}

func ReturnLoan(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return ledgerDecision(svc, logg, func(svc ledger.Service, r *http.Request, input ledger.DecisionInput) (any, error) {
		res, err := svc.ReturnEntry(r.Context(), input)
		if err != nil {
			return nil, err
		}
		return ledger.ReturnFromResult(res, renderNow()), nil
	})
}

// RenewLoan extends the caller's own active loan.
func RenewLoan(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return ledgerDecision(svc, logg, func(svc ledger.Service, r *http.Request, input ledger.DecisionInput) (any, error) {
		due, err := svc.Renew(r.Context(), ledger.RenewInput{EntryID: input.EntryID, Borrower: input.Actor})
		if err != nil {
			return nil, err
		}
		return map[string]any{"entry_id": input.EntryID, "due_at": due}, nil
	})
}

func GetEntry(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return ledgerDecision(svc, logg, func(svc ledger.Service, r *http.Request, input ledger.DecisionInput) (any, error) {
		entry, err := svc.Get(r.Context(), input.EntryID, input.Actor)
		if err != nil {
			return nil, err
		}
		return ledger.EntryFromModel(entry, renderNow()), nil
	})
}

// MyLoans lists the caller's entries, newest first.
func MyLoans(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("ledger"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListForBorrower(r.Context(), actor.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, ledger.EntriesFromModels(rows, renderNow()))
	}
}
