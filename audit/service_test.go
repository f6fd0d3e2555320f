package audit

import (
	"context"
	"testing"
	"time"

	"github.com/decantapp/decant/server/model"
	"github.com/decantapp/decant/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nop() *zap.Logger { return zap.NewNop() }

func TestNew_StartsWorker(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())
	require.NotNil(t, svc)
	svc.Stop(context.Background())
}

func TestLog_EnqueuedAndFlushed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())

	actorID := int64(1)
	subjectID := int64(2)
	svc.Log(AuditEntry{
		TraceID:   "trace-123",
		ActorID:   &actorID,
		SubjectID: &subjectID,
		Action:    "user.blocked",
		Detail:    map[string]int64{"blocked_id": 2},
		IP:        "127.0.0.1",
	})

	// Stop flushes remaining entries
	svc.Stop(context.Background())

	var logs []model.AuditLog
	db.Find(&logs)
	require.Len(t, logs, 1)
	assert.Equal(t, "trace-123", logs[0].TraceID)
	assert.Equal(t, "user.blocked", logs[0].Action)
	assert.Equal(t, "127.0.0.1", logs[0].IP)
	require.NotNil(t, logs[0].ActorID)
	assert.Equal(t, int64(1), *logs[0].ActorID)
	assert.JSONEq(t, `{"blocked_id":2}`, string(logs[0].Detail))
}

func TestLog_MultipleLogs(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())

	for i := 0; i < 10; i++ {
		svc.Log(AuditEntry{
			Action: "action",
			IP:     "10.0.0.1",
		})
	}

	svc.Stop(context.Background())

	var count int64
	db.Model(&model.AuditLog{}).Count(&count)
	assert.Equal(t, int64(10), count)
}

func TestLog_BatchFlush(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())

	// Send 100 entries to trigger immediate batch flush
	for i := 0; i < 100; i++ {
		svc.Log(AuditEntry{Action: "batch"})
	}

	// Stop waits (via WaitGroup) until the worker has finished flushing.
	// The 100-entry batch flush is triggered synchronously inside the worker, so
	// after Stop() the data is guaranteed to be committed.
	svc.Stop(context.Background())

	var count int64
	db.Model(&model.AuditLog{}).Count(&count)
	assert.GreaterOrEqual(t, count, int64(100))
}

func TestLog_TimerFlush(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())
	defer svc.Stop(context.Background())

	svc.Log(AuditEntry{Action: "timer_test"})

	// The 2s ticker flushes without Stop being called.
	require.Eventually(t, func() bool {
		var count int64
		db.Model(&model.AuditLog{}).Count(&count)
		return count == 1
	}, 4*time.Second, 100*time.Millisecond)
}

func TestStop_Idempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())
	svc.Stop(context.Background())
	svc.Stop(context.Background()) // must not panic
}

func TestLog_NilFields(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())

	// Log with nil ActorID/SubjectID
	svc.Log(AuditEntry{
		Action: "system.migrate",
	})

	svc.Stop(context.Background())

	var logs []model.AuditLog
	db.Find(&logs)
	require.Len(t, logs, 1)
	assert.Nil(t, logs[0].ActorID)
	assert.Nil(t, logs[0].SubjectID)
}

func TestLog_DropsWhenFull(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())

	// The channel capacity is 1024; flooding past it must drop, not
	// block or panic.
	for i := 0; i < 1030; i++ {
		svc.Log(AuditEntry{Action: "flood"})
	}
	svc.Stop(context.Background())
}

func TestRecent_Filters(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nop())

	alice := int64(1)
	bob := int64(2)
	svc.Log(AuditEntry{Action: "user.blocked", ActorID: &alice})
	svc.Log(AuditEntry{Action: "user.blocked", ActorID: &bob})
	svc.Log(AuditEntry{Action: "relation.accepted", ActorID: &alice})
	svc.Stop(context.Background())

	ctx := context.Background()

	rows, err := svc.Recent(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	rows, err = svc.Recent(ctx, "user.blocked", 0, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = svc.Recent(ctx, "user.blocked", alice, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, alice, *rows[0].ActorID)

	rows, err = svc.Recent(ctx, "", 0, 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
