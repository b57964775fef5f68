package fines

import (
	"context"
	"errors"
	"fmt"
	"time"

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

// Service records fine payments. Money is never moved here, the paid flag
// only reflects what the desk collected.
type Service interface {
	MarkPaid(ctx context.Context, input MarkPaidInput) (*models.Fine, error)
	ListForBorrower(ctx context.Context, borrowerID uuid.UUID) ([]models.Fine, error)
}

type MarkPaidInput struct {
	FineID uuid.UUID
	Actor  auth.Actor
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	now    func() time.Time
}

func NewService(repo Repository, tx txRunner, outbox outboxPublisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("fine repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		repo:   repo,
		tx:     tx,
		outbox: outbox,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) MarkPaid(ctx context.Context, input MarkPaidInput) (*models.Fine, error) {
	if err := auth.RequireCapability(input.Actor, auth.CapabilityManageFines); err != nil {
		return nil, err
	}
	if input.FineID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "fine id required")
	}

	var result *models.Fine
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		fine, err := repo.FindByIDForUpdate(ctx, input.FineID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "fine not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load fine")
		}
		if fine.Status == enums.FineStatusPaid {
			result = fine
			return nil
		}

		paidAt := s.now()
		if err := repo.MarkPaid(ctx, fine.ID, paidAt); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark fine paid")
		}
		fine.Status = enums.FineStatusPaid
		fine.PaidAt = &paidAt

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventFinePaid,
			AggregateType: enums.AggregateFine,
			AggregateID:   fine.ID,
			Actor:         &outbox.ActorRef{UserID: input.Actor.UserID, Role: input.Actor.Role.String()},
			Data: outbox.FineEvent{
				FineID:        fine.ID,
				LedgerEntryID: fine.LedgerEntryID,
				BorrowerID:    fine.BorrowerID,
				Amount:        fine.Amount,
				Status:        fine.Status.String(),
			},
			OccurredAt: paidAt,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit fine event")
		}
		result = fine
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) ListForBorrower(ctx context.Context, borrowerID uuid.UUID) ([]models.Fine, error) {
	if borrowerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "borrower id required")
	}
	rows, err := s.repo.ListForBorrower(ctx, borrowerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list fines")
	}
	return rows, nil
}
