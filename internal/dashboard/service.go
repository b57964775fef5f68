package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/internal/ledger"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/pagination"
)

type copyCounter interface {
	AvailableCount(ctx context.Context, titleID uuid.UUID) (int64, error)
}

// Counts summarizes the open ledger. Overdue is a subset of Active.
type Counts struct {
	Pending int64 `json:"pending"`
	Active  int64 `json:"active"`
	Overdue int64 `json:"overdue"`
}

// Summary is the librarian landing page.
type Summary struct {
	Counts          Counts              `json:"counts"`
	Pending         []EntryRow          `json:"pending"`
	Active          []EntryRow          `json:"active"`
	Returned        []EntryRow          `json:"returned"`
	Members         []MemberRow         `json:"members"`
	AvailableTitles []TitleAvailability `json:"available_titles"`
}

// Service is read-only. Nothing here takes a lock or writes.
type Service interface {
	ListPending(ctx context.Context) ([]EntryRow, error)
	ListActive(ctx context.Context) ([]EntryRow, error)
	Counts(ctx context.Context) (Counts, error)
	ListReturned(ctx context.Context, limit int) ([]EntryRow, error)
	AvailableCount(ctx context.Context, titleID uuid.UUID) (int64, error)
	Summary(ctx context.Context, returnedLimit int) (*Summary, error)
}

type service struct {
	repo   Repository
	copies copyCounter
	now    func() time.Time
}

func NewService(repo Repository, copies copyCounter, now func() time.Time) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("dashboard repository required")
	}
	if copies == nil {
		return nil, fmt.Errorf("copy counter required")
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{repo: repo, copies: copies, now: now}, nil
}

func (s *service) ListPending(ctx context.Context) ([]EntryRow, error) {
	rows, err := s.repo.ListByStatus(ctx, enums.LedgerStatusPending, "le.requested_at ASC", 0)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending entries")
	}
	return rows, nil
}

// ListActive flags each row overdue against the current clock.
func (s *service) ListActive(ctx context.Context) ([]EntryRow, error) {
	rows, err := s.repo.ListByStatus(ctx, enums.LedgerStatusActive, "le.due_at ASC", 0)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list active entries")
	}
	now := s.now()
	for i := range rows {
		rows[i].Overdue = ledger.IsOverdue(models.LedgerEntry{DueAt: rows[i].DueAt, ReturnedAt: rows[i].ReturnedAt}, now)
	}
	return rows, nil
}

func (s *service) Counts(ctx context.Context) (Counts, error) {
	pending, err := s.repo.CountByStatus(ctx, enums.LedgerStatusPending)
	if err != nil {
		return Counts{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count pending entries")
	}
	active, err := s.ListActive(ctx)
	if err != nil {
		return Counts{}, err
	}
	return countsFrom(pending, active), nil
}

func countsFrom(pending int64, active []EntryRow) Counts {
	c := Counts{Pending: pending, Active: int64(len(active))}
	for _, row := range active {
		if row.Overdue {
			c.Overdue++
		}
	}
	return c
}

func (s *service) ListReturned(ctx context.Context, limit int) ([]EntryRow, error) {
	rows, err := s.repo.ListByStatus(ctx, enums.LedgerStatusReturned, "le.returned_at DESC", pagination.NormalizeLimit(limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list returned entries")
	}
	return rows, nil
}

func (s *service) AvailableCount(ctx context.Context, titleID uuid.UUID) (int64, error) {
	n, err := s.copies.AvailableCount(ctx, titleID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count available copies")
	}
	return n, nil
}

func (s *service) Summary(ctx context.Context, returnedLimit int) (*Summary, error) {
	pending, err := s.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	active, err := s.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	returned, err := s.ListReturned(ctx, returnedLimit)
	if err != nil {
		return nil, err
	}
	members, err := s.repo.ListMembers(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list members")
	}
	titles, err := s.repo.ListAvailableTitles(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list available titles")
	}
	return &Summary{
		Counts:          countsFrom(int64(len(pending)), active),
		Pending:         pending,
		Active:          active,
		Returned:        returned,
		Members:         members,
		AvailableTitles: titles,
	}, nil
}
