package outbox

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:outbox_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.OutboxEvent{}))
	return conn
}

func sampleEvent() DomainEvent {
	entryID := uuid.New()
	return DomainEvent{
		EventType:     enums.EventBorrowApproved,
		AggregateType: enums.AggregateLedgerEntry,
		AggregateID:   entryID,
		Actor:         &ActorRef{UserID: uuid.New(), Role: "librarian"},
		Data:          LedgerTransitionEvent{EntryID: entryID, Status: "active"},
	}
}

func TestEmitWritesEnvelope(t *testing.T) {
	conn := openTestDB(t)
	svc := NewService(NewRepository(conn), logger.Nop())

	event := sampleEvent()
	require.NoError(t, svc.Emit(context.Background(), conn, event))

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.EventBorrowApproved, rows[0].EventType)
	assert.Equal(t, event.AggregateID, rows[0].AggregateID)

	env, err := DecodeEnvelope(rows[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, 1, env.Version)
	assert.NotEmpty(t, env.EventID)
	require.NotNil(t, env.Actor)
	assert.Equal(t, "librarian", env.Actor.Role)
	assert.Contains(t, string(env.Data), `"status":"active"`)
}

func TestEmitRequiresTransaction(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	assert.Error(t, svc.Emit(context.Background(), nil, sampleEvent()))
}

func TestEmitOnceDeduplicates(t *testing.T) {
	conn := openTestDB(t)
	svc := NewService(NewRepository(conn), nil)

	event := sampleEvent()
	event.EventType = enums.EventLoanOverdue
	event.DedupeKey = "loan_overdue:" + event.AggregateID.String() + ":2026-10-17"

	wrote, err := svc.EmitOnce(context.Background(), conn, event)
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = svc.EmitOnce(context.Background(), conn, event)
	require.NoError(t, err)
	assert.False(t, wrote)

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := openTestDB(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	ctx := context.Background()

	require.NoError(t, svc.Emit(ctx, conn, sampleEvent()))
	require.NoError(t, svc.Emit(ctx, conn, sampleEvent()))

	batch, err := repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	require.NoError(t, repo.MarkPublishedTx(conn, batch[0].ID))
	require.NoError(t, repo.MarkFailedTx(conn, batch[1].ID, fmt.Errorf("unavailable")))

	batch, err = repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, 1, batch[0].AttemptCount)
	require.NotNil(t, batch[0].LastError)

	require.NoError(t, repo.MarkTerminalTx(conn, batch[0].ID, fmt.Errorf("unknown event"), 3))
	batch, err = repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, batch)

	removed, err := repo.DeletePublishedBefore(conn, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
}
