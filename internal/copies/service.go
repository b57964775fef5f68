package copies

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/pkg/auth"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service covers the librarian-facing copy operations. Borrowed is owned by
// the ledger and can never be set or cleared here.
type Service interface {
	SetStatus(ctx context.Context, input SetStatusInput) (*models.Copy, error)
	ListByTitle(ctx context.Context, titleID uuid.UUID) ([]models.Copy, error)
}

type SetStatusInput struct {
	CopyID uuid.UUID
	Status enums.CopyStatus
	Actor  auth.Actor
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
}

func NewService(repo Repository, tx txRunner, outbox outboxPublisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("copy repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{repo: repo, tx: tx, outbox: outbox}, nil
}

func (s *service) SetStatus(ctx context.Context, input SetStatusInput) (*models.Copy, error) {
	if err := auth.RequireCapability(input.Actor, auth.CapabilityManageCatalog); err != nil {
		return nil, err
	}
	if input.CopyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "copy id required")
	}
	if !input.Status.IsValid() || input.Status == enums.CopyStatusBorrowed {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "status %q cannot be set by hand", input.Status)
	}

	var result *models.Copy
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindByIDForUpdate(ctx, input.CopyID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "copy not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load copy")
		}
		if current.Status == input.Status {
			result = current
			return nil
		}
		if current.Status == enums.CopyStatusBorrowed {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "copy is on loan")
		}

		from := current.Status
		if err := repo.UpdateStatus(ctx, current.ID, input.Status); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update copy status")
		}
		current.Status = input.Status

		event := outbox.DomainEvent{
			EventType:     enums.EventCopyStatusSet,
			AggregateType: enums.AggregateCopy,
			AggregateID:   current.ID,
			Actor:         &outbox.ActorRef{UserID: input.Actor.UserID, Role: input.Actor.Role.String()},
			Data: outbox.CopyStatusEvent{
				CopyID:  current.ID,
				TitleID: current.TitleID,
				From:    from.String(),
				To:      input.Status.String(),
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit copy event")
		}
		result = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) ListByTitle(ctx context.Context, titleID uuid.UUID) ([]models.Copy, error) {
	if titleID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title id required")
	}
	rows, err := s.repo.ListByTitle(ctx, titleID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list copies")
	}
	return rows, nil
}
