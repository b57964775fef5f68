package copies

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/pkg/auth"
	"github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/db/dbtest"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/outbox"
)

func newTestService(t *testing.T, conn *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(NewRepository(conn), db.Wrap(conn), outbox.NewService(outbox.NewRepository(conn), logger.Nop()))
	require.NoError(t, err)
	return svc
}

func librarian() auth.Actor {
	return auth.Actor{UserID: uuid.New(), Role: enums.UserRoleLibrarian}
}

func TestSetStatusMovesCopyAndEmits(t *testing.T) {
	conn := dbtest.Open(t)
	title := dbtest.Title(t, conn)
	c := dbtest.Copies(t, conn, title.ID, 1, enums.CopyStatusAvailable)[0]
	svc := newTestService(t, conn)

	got, err := svc.SetStatus(context.Background(), SetStatusInput{CopyID: c.ID, Status: enums.CopyStatusMaintenance, Actor: librarian()})
	require.NoError(t, err)
	assert.Equal(t, enums.CopyStatusMaintenance, got.Status)

	var events []models.OutboxEvent
	require.NoError(t, conn.Where("aggregate_id = ?", c.ID).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventCopyStatusSet, events[0].EventType)
}

func TestSetStatusSameStatusIsNoop(t *testing.T) {
	conn := dbtest.Open(t)
	title := dbtest.Title(t, conn)
	c := dbtest.Copies(t, conn, title.ID, 1, enums.CopyStatusLost)[0]
	svc := newTestService(t, conn)

	_, err := svc.SetStatus(context.Background(), SetStatusInput{CopyID: c.ID, Status: enums.CopyStatusLost, Actor: librarian()})
	require.NoError(t, err)

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSetStatusRefusesBorrowed(t *testing.T) {
	conn := dbtest.Open(t)
	title := dbtest.Title(t, conn)
	c := dbtest.Copies(t, conn, title.ID, 1, enums.CopyStatusBorrowed)[0]
	svc := newTestService(t, conn)

	_, err := svc.SetStatus(context.Background(), SetStatusInput{CopyID: c.ID, Status: enums.CopyStatusAvailable, Actor: librarian()})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))

	_, err = svc.SetStatus(context.Background(), SetStatusInput{CopyID: c.ID, Status: enums.CopyStatusBorrowed, Actor: librarian()})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestSetStatusGuards(t *testing.T) {
	conn := dbtest.Open(t)
	svc := newTestService(t, conn)
	member := auth.Actor{UserID: uuid.New(), Role: enums.UserRoleMember}

	_, err := svc.SetStatus(context.Background(), SetStatusInput{CopyID: uuid.New(), Status: enums.CopyStatusLost, Actor: member})
	assert.True(t, pkgerrors.IsForbidden(err))

	_, err = svc.SetStatus(context.Background(), SetStatusInput{CopyID: uuid.New(), Status: enums.CopyStatusLost, Actor: librarian()})
	assert.True(t, pkgerrors.IsNotFound(err))
}
