package controllers

import (
	"net/http"

	"github.com/angelmondragon/circulation-backend/api/responses"
	"github.com/angelmondragon/circulation-backend/api/validators"
	"github.com/angelmondragon/circulation-backend/internal/copies"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
)

type setCopyStatusRequest struct {
	Status string `json:"status" validate:"required,copy_status"`
}

// ListTitleCopies returns every physical copy of a title.
func ListTitleCopies(svc copies.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("copies"))
			return
		}
		titleID, err := validators.ParseUUIDParam(r, "titleId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListByTitle(r.Context(), titleID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, copies.FromModels(rows))
	}
}

// SetCopyStatus moves a copy between available, lost and maintenance.
func SetCopyStatus(svc copies.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("copies"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		copyID, err := validators.ParseUUIDParam(r, "copyId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body setCopyStatusRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseCopyStatus(body.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid copy status"))
			return
		}
		updated, err := svc.SetStatus(r.Context(), copies.SetStatusInput{CopyID: copyID, Status: status, Actor: actor})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, copies.FromModel(updated))
	}
}
