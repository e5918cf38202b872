package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifuryst/reelwave/internal/models"
	"github.com/ifuryst/reelwave/internal/service/monitoring"
	"github.com/ifuryst/reelwave/internal/service/store"
	"github.com/ifuryst/reelwave/internal/testutil"
)

func TestRetentionRunOnce(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	old := now.Add(-100 * 24 * time.Hour)

	require.NoError(t, db.Create(&models.MetricsSample{MetricName: "old", MetricType: monitoring.MetricCounter, Value: 1, Timestamp: old}).Error)
	require.NoError(t, db.Create(&models.MetricsSample{MetricName: "new", MetricType: monitoring.MetricCounter, Value: 1, Timestamp: now}).Error)

	resolvedAt := old
	require.NoError(t, db.Create(&models.ErrorLog{Level: monitoring.LevelError, Source: "pipeline", Title: "resolved", Message: "m", Resolved: true, ResolvedAt: &resolvedAt, CreatedAt: old}).Error)
	require.NoError(t, db.Create(&models.ErrorLog{Level: monitoring.LevelError, Source: "pipeline", Title: "open", Message: "m", CreatedAt: old}).Error)

	require.NoError(t, db.Create(&models.ScheduledTask{TaskID: "t-done", Kind: models.TaskKindApprovalNotice, RunAt: old, Status: models.TaskStatusDone, FinishedAt: &old}).Error)
	require.NoError(t, db.Create(&models.ScheduledTask{TaskID: "t-pending", Kind: models.TaskKindApprovalNotice, RunAt: old, Status: models.TaskStatusPending}).Error)

	w := NewRetentionWorker(monitoring.NewService(db, testutil.Logger()), store.New(db, testutil.Logger()), testutil.Logger(), time.Hour, 90)
	defer w.ticker.Stop()
	w.RunOnce(ctx)

	var metrics []models.MetricsSample
	require.NoError(t, db.Find(&metrics).Error)
	require.Len(t, metrics, 1)
	assert.Equal(t, "new", metrics[0].MetricName)

	var logs []models.ErrorLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "open", logs[0].Title)

	var tasks []models.ScheduledTask
	require.NoError(t, db.Find(&tasks).Error)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t-pending", tasks[0].TaskID)
}

func TestRetentionStartStop(t *testing.T) {
	db := testutil.OpenDB(t)
	w := NewRetentionWorker(monitoring.NewService(db, testutil.Logger()), store.New(db, testutil.Logger()), testutil.Logger(), 10*time.Millisecond, 90)

	w.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	w.Stop()
}
