package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/internal/copies"
	"github.com/angelmondragon/circulation-backend/internal/fines"
	"github.com/angelmondragon/circulation-backend/pkg/auth"
	"github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/metrics"
	"github.com/angelmondragon/circulation-backend/pkg/outbox"
)

const (
	defaultLoanPeriod = 7 * 24 * time.Hour
	defaultMaxRetries = 5
	retryBase         = 10 * time.Millisecond
	retryCap          = 500 * time.Millisecond
)

const (
	transitionRequest = "request"
	transitionApprove = "approve"
	transitionReject  = "reject"
	transitionRenew   = "renew"
	transitionReturn  = "return"
)

type txRunner interface {
	WithSerializableTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the borrowing state machine.
//
//	Pending -> Active | Rejected
//	Active  -> Active (renew) | Returned
type Service interface {
	RequestBorrow(ctx context.Context, input RequestBorrowInput) (*models.LedgerEntry, error)
	ApproveBorrow(ctx context.Context, input DecisionInput) (*models.LedgerEntry, error)
	RejectBorrow(ctx context.Context, input DecisionInput) (*models.LedgerEntry, error)
	Renew(ctx context.Context, input RenewInput) (time.Time, error)
	ReturnEntry(ctx context.Context, input DecisionInput) (*ReturnResult, error)
	Get(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.LedgerEntry, error)
	ListForBorrower(ctx context.Context, borrowerID uuid.UUID) ([]models.LedgerEntry, error)
}

// RequestBorrowInput carries the caller, who becomes the borrower, and the
// title asked for.
type RequestBorrowInput struct {
	Borrower auth.Actor
	TitleID  uuid.UUID
}

// DecisionInput identifies an entry and the librarian acting on it.
type DecisionInput struct {
	EntryID uuid.UUID
	Actor   auth.Actor
}

type RenewInput struct {
	EntryID  uuid.UUID
	Borrower auth.Actor
}

// ReturnResult carries the returned entry and the fine it produced, if any.
type ReturnResult struct {
	Entry *models.LedgerEntry
	Fine  *models.Fine
}

type ServiceParams struct {
	Repository Repository
	Copies     copies.Repository
	Fines      fines.Repository
	Calculator fines.Calculator
	Tx         txRunner
	Outbox     outboxPublisher
	Logger     *logger.Logger
	Metrics    *metrics.LendingMetrics
	LoanPeriod time.Duration
	MaxRetries int
	Now        func() time.Time
}

type service struct {
	repo       Repository
	copies     copies.Repository
	fines      fines.Repository
	calc       fines.Calculator
	tx         txRunner
	outbox     outboxPublisher
	logg       *logger.Logger
	metrics    *metrics.LendingMetrics
	loanPeriod time.Duration
	maxRetries int
	now        func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Copies == nil {
		return nil, fmt.Errorf("copy repository required")
	}
	if params.Fines == nil {
		return nil, fmt.Errorf("fine repository required")
	}
	if !params.Calculator.Configured() {
		return nil, fmt.Errorf("fine calculator required")
	}
	if params.Calculator.Rate().IsNegative() {
		return nil, fmt.Errorf("fine rate must not be negative")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	period := params.LoanPeriod
	if period <= 0 {
		period = defaultLoanPeriod
	}
	retries := params.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:       params.Repository,
		copies:     params.Copies,
		fines:      params.Fines,
		calc:       params.Calculator,
		tx:         params.Tx,
		outbox:     params.Outbox,
		logg:       logg,
		metrics:    params.Metrics,
		loanPeriod: period,
		maxRetries: retries,
		now:        now,
	}, nil
}

// RequireCapability is the single authorization guard for ledger mutations.
func RequireCapability(actor auth.Actor, c auth.Capability) error {
	return auth.RequireCapability(actor, c)
}

// IsOverdue reports whether an entry is past due at now. It is derived on
// read and never stored.
func IsOverdue(entry models.LedgerEntry, now time.Time) bool {
	return entry.DueAt != nil && entry.ReturnedAt == nil && now.After(*entry.DueAt)
}

func (s *service) RequestBorrow(ctx context.Context, input RequestBorrowInput) (*models.LedgerEntry, error) {
	if err := requireBorrower(input.Borrower); err != nil {
		return nil, err
	}
	if input.TitleID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title id required")
	}

	var created *models.LedgerEntry
	err := s.inTx(ctx, transitionRequest, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		exists, err := repo.TitleExists(ctx, input.TitleID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load title")
		}
		if !exists {
			return pkgerrors.New(pkgerrors.CodeNotFound, "title not found")
		}

		open, err := repo.HasOpenEntry(ctx, input.Borrower.UserID, input.TitleID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check open entries")
		}
		if open {
			return pkgerrors.New(pkgerrors.CodeAlreadyRequested, "title already requested or on loan")
		}

		available, err := s.copies.WithTx(tx).AvailableCount(ctx, input.TitleID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count available copies")
		}
		if available == 0 {
			return noStock(input.TitleID)
		}

		entry := &models.LedgerEntry{
			BorrowerID:  input.Borrower.UserID,
			TitleID:     input.TitleID,
			RequestedAt: s.now(),
			Status:      enums.LedgerStatusPending,
		}
		if _, err := repo.Create(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create ledger entry")
		}
		if err := s.emit(ctx, tx, enums.EventBorrowRequested, entry, &input.Borrower); err != nil {
			return err
		}
		created = entry
		return nil
	})
	if err != nil {
		s.record(ctx, transitionRequest, err, false)
		return nil, err
	}
	s.record(s.logg.WithEntryID(ctx, created.ID.String()), transitionRequest, nil, true)
	return created, nil
}

func (s *service) ApproveBorrow(ctx context.Context, input DecisionInput) (*models.LedgerEntry, error) {
	if err := RequireCapability(input.Actor, auth.CapabilityManageLoans); err != nil {
		s.record(ctx, transitionApprove, err, false)
		return nil, err
	}

	var (
		result  *models.LedgerEntry
		applied bool
	)
	err := s.inTx(ctx, transitionApprove, func(tx *gorm.DB) error {
		applied = false
		repo := s.repo.WithTx(tx)
		entry, err := s.loadForUpdate(ctx, repo, input.EntryID)
		if err != nil {
			return err
		}
		result = entry
		if entry.Status != enums.LedgerStatusPending {
			return nil
		}

		copyRepo := s.copies.WithTx(tx)
		c, err := copyRepo.FindAvailableCopy(ctx, entry.TitleID)
		if err != nil {
			return stageFailed(err, "find available copy", "pick_copy")
		}
		if c == nil {
			return noStock(entry.TitleID)
		}
		if err := copyRepo.MarkBorrowed(ctx, c.ID); err != nil {
			return stageFailed(err, "mark copy borrowed", "claim_copy")
		}

		now := s.now()
		due := now.Add(s.loanPeriod)
		copyID := c.ID
		entry.CopyID = &copyID
		entry.Status = enums.LedgerStatusActive
		entry.RequestedAt = now
		entry.DueAt = &due
		entry.UpdatedAt = now
		if err := repo.SaveTransition(ctx, entry); err != nil {
			if db.IsUniqueViolation(err, "ux_ledger_entries_active_copy") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "copy already on loan")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save ledger entry")
		}
		if err := s.emit(ctx, tx, enums.EventBorrowApproved, entry, &input.Actor); err != nil {
			return err
		}
		applied = true
		return nil
	})
	ctx = s.logCtx(ctx, result, input.Actor)
	s.record(ctx, transitionApprove, err, applied)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) RejectBorrow(ctx context.Context, input DecisionInput) (*models.LedgerEntry, error) {
	if err := RequireCapability(input.Actor, auth.CapabilityManageLoans); err != nil {
		s.record(ctx, transitionReject, err, false)
		return nil, err
	}

	var (
		result  *models.LedgerEntry
		applied bool
	)
	err := s.inTx(ctx, transitionReject, func(tx *gorm.DB) error {
		applied = false
		repo := s.repo.WithTx(tx)
		entry, err := s.loadForUpdate(ctx, repo, input.EntryID)
		if err != nil {
			return err
		}
		result = entry
		if entry.Status != enums.LedgerStatusPending {
			return nil
		}

		entry.Status = enums.LedgerStatusRejected
		entry.UpdatedAt = s.now()
		if err := repo.SaveTransition(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save ledger entry")
		}
		if err := s.emit(ctx, tx, enums.EventBorrowRejected, entry, &input.Actor); err != nil {
			return err
		}
		applied = true
		return nil
	})
	ctx = s.logCtx(ctx, result, input.Actor)
	s.record(ctx, transitionReject, err, applied)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Renew pushes the due date out by one loan period. Renewal count is not
// capped.
func (s *service) Renew(ctx context.Context, input RenewInput) (time.Time, error) {
	if err := requireBorrower(input.Borrower); err != nil {
		return time.Time{}, err
	}

	var (
		entry  *models.LedgerEntry
		newDue time.Time
	)
	err := s.inTx(ctx, transitionRenew, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		loaded, err := s.loadForUpdate(ctx, repo, input.EntryID)
		if err != nil {
			return err
		}
		entry = loaded
		if loaded.Status != enums.LedgerStatusActive || loaded.DueAt == nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "loan is not active")
		}
		if loaded.BorrowerID != input.Borrower.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "loan belongs to another borrower")
		}

		due := loaded.DueAt.Add(s.loanPeriod)
		loaded.DueAt = &due
		loaded.RenewCount++
		loaded.UpdatedAt = s.now()
		if err := repo.SaveTransition(ctx, loaded); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save ledger entry")
		}
		if err := s.emit(ctx, tx, enums.EventLoanRenewed, loaded, &input.Borrower); err != nil {
			return err
		}
		newDue = due
		return nil
	})
	ctx = s.logCtx(ctx, entry, input.Borrower)
	s.record(ctx, transitionRenew, err, err == nil)
	if err != nil {
		return time.Time{}, err
	}
	return newDue, nil
}

func (s *service) ReturnEntry(ctx context.Context, input DecisionInput) (*ReturnResult, error) {
	if err := RequireCapability(input.Actor, auth.CapabilityManageLoans); err != nil {
		s.record(ctx, transitionReturn, err, false)
		return nil, err
	}

	var (
		result  *ReturnResult
		applied bool
	)
	err := s.inTx(ctx, transitionReturn, func(tx *gorm.DB) error {
		applied = false
		repo := s.repo.WithTx(tx)
		entry, err := s.loadForUpdate(ctx, repo, input.EntryID)
		if err != nil {
			return err
		}
		result = &ReturnResult{Entry: entry}
		if entry.Status != enums.LedgerStatusActive {
			return nil
		}

		now := s.now()
		entry.ReturnedAt = &now
		entry.Status = enums.LedgerStatusReturned
		entry.UpdatedAt = now
		if err := repo.SaveTransition(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save ledger entry")
		}
		if entry.CopyID != nil {
			if err := s.copies.WithTx(tx).MarkAvailable(ctx, *entry.CopyID); err != nil {
				return stageFailed(err, "release copy", "release_copy")
			}
		}
		if err := s.emit(ctx, tx, enums.EventLoanReturned, entry, &input.Actor); err != nil {
			return err
		}

		amount := s.calc.Compute(entry.DueAt, now)
		if amount.IsPositive() {
			fine, err := s.fines.WithTx(tx).Create(ctx, &models.Fine{
				LedgerEntryID: entry.ID,
				BorrowerID:    entry.BorrowerID,
				Amount:        amount,
				Status:        enums.FineStatusUnpaid,
			})
			if err != nil {
				if db.IsUniqueViolation(err, "ux_fines_ledger_entry") {
					return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "fine already assessed")
				}
				return stageFailed(err, "create fine", "assess_fine")
			}
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventFineAssessed,
				AggregateType: enums.AggregateFine,
				AggregateID:   fine.ID,
				Actor:         actorRef(&input.Actor),
				Data: outbox.FineEvent{
					FineID:        fine.ID,
					LedgerEntryID: entry.ID,
					BorrowerID:    entry.BorrowerID,
					Amount:        fine.Amount,
					Status:        fine.Status.String(),
				},
				OccurredAt: now,
			}); err != nil {
				return stageFailed(err, "emit fine event", "emit_fine_event")
			}
			result.Fine = fine
		}
		applied = true
		return nil
	})
	var entry *models.LedgerEntry
	if result != nil {
		entry = result.Entry
	}
	ctx = s.logCtx(ctx, entry, input.Actor)
	s.record(ctx, transitionReturn, err, applied)
	if err != nil {
		return nil, err
	}
	if applied && result.Fine != nil {
		s.metrics.FineAssessed()
		s.logg.Info(s.logg.WithField(ctx, "amount", result.Fine.Amount.StringFixed(2)), "fine assessed")
	}
	return result, nil
}

// Get returns one entry. Members may only read their own.
func (s *service) Get(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.LedgerEntry, error) {
	entry, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "ledger entry not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger entry")
	}
	if entry.BorrowerID != actor.UserID && !actor.Can(auth.CapabilityManageLoans) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "ledger entry belongs to another borrower")
	}
	return entry, nil
}

func (s *service) ListForBorrower(ctx context.Context, borrowerID uuid.UUID) ([]models.LedgerEntry, error) {
	if borrowerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "borrower id required")
	}
	rows, err := s.repo.ListForBorrower(ctx, borrowerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries")
	}
	return rows, nil
}

// inTx runs fn in a serializable transaction and replays it from the top when
// the database reports a serialization conflict.
func (s *service) inTx(ctx context.Context, transition string, fn func(tx *gorm.DB) error) error {
	backoff := retry.NewExponential(retryBase)
	backoff = retry.WithCappedDuration(retryCap, backoff)
	backoff = retry.WithMaxRetries(uint64(s.maxRetries), backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.tx.WithSerializableTx(ctx, fn)
		if err != nil && db.IsSerializationFailure(err) {
			s.metrics.Retry(transition)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && db.IsSerializationFailure(err) {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "concurrent update, try again")
	}
	return err
}

func (s *service) loadForUpdate(ctx context.Context, repo Repository, id uuid.UUID) (*models.LedgerEntry, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "entry id required")
	}
	entry, err := repo.FindByIDForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "ledger entry not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger entry")
	}
	return entry, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, entry *models.LedgerEntry, actor *auth.Actor) error {
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateLedgerEntry,
		AggregateID:   entry.ID,
		Actor:         actorRef(actor),
		Data:          transitionPayload(entry),
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit ledger event")
	}
	return nil
}

func (s *service) logCtx(ctx context.Context, entry *models.LedgerEntry, actor auth.Actor) context.Context {
	fields := map[string]any{}
	if actor.UserID != uuid.Nil {
		fields["user_id"] = actor.UserID.String()
	}
	if actor.Role != "" {
		fields["actor_role"] = actor.Role.String()
	}
	if entry != nil {
		fields["entry_id"] = entry.ID.String()
		fields["title_id"] = entry.TitleID.String()
		fields["status"] = entry.Status.String()
		if entry.CopyID != nil {
			fields["copy_id"] = entry.CopyID.String()
		}
	}
	return s.logg.WithFields(ctx, fields)
}

// record counts the transition and logs its outcome. Business refusals log
// at info, everything else unexpected at error.
func (s *service) record(ctx context.Context, transition string, err error, applied bool) {
	ctx = s.logg.WithField(ctx, "transition", transition)
	switch {
	case err == nil && applied:
		s.metrics.Transition(transition, metrics.OutcomeApplied)
		s.logg.Info(ctx, "ledger transition applied")
	case err == nil:
		s.metrics.Transition(transition, metrics.OutcomeNoop)
		s.logg.Debug(ctx, "ledger transition skipped")
	case isRefusal(err):
		s.metrics.Transition(transition, metrics.OutcomeRefused)
		s.logg.Info(s.logg.WithField(ctx, "reason", err.Error()), "ledger transition refused")
	default:
		s.metrics.Transition(transition, metrics.OutcomeFailed)
		s.logg.Error(ctx, "ledger transition failed", err)
	}
}

func isRefusal(err error) bool {
	e := pkgerrors.As(err)
	if e == nil {
		return false
	}
	switch e.Code() {
	case pkgerrors.CodeDependency, pkgerrors.CodeInternal:
		return false
	default:
		return true
	}
}

func requireBorrower(actor auth.Actor) error {
	if actor.UserID == uuid.Nil || !actor.Role.IsValid() {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "borrower identity missing")
	}
	return nil
}

func noStock(titleID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeNoStock, "no copy of this title is available").
		WithDetails(map[string]any{"title_id": titleID.String()})
}

func actorRef(actor *auth.Actor) *outbox.ActorRef {
	if actor == nil || actor.UserID == uuid.Nil {
		return nil
	}
	return &outbox.ActorRef{UserID: actor.UserID, Role: actor.Role.String()}
}

func transitionPayload(entry *models.LedgerEntry) outbox.LedgerTransitionEvent {
	return outbox.LedgerTransitionEvent{
		EntryID:    entry.ID,
		BorrowerID: entry.BorrowerID,
		TitleID:    entry.TitleID,
		CopyID:     entry.CopyID,
		Status:     entry.Status.String(),
		DueAt:      entry.DueAt,
		ReturnedAt: entry.ReturnedAt,
		RenewCount: entry.RenewCount,
	}
}

// stageFailed marks which stage of a multi-step transition broke so the
// request log can say more than "dependency error".
func stageFailed(err error, msg, step string) *pkgerrors.Error {
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg).WithDetails(map[string]any{"step": step})
}
