package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifuryst/reelwave/internal/models"
	"github.com/ifuryst/reelwave/internal/service/integrity"
	"github.com/ifuryst/reelwave/internal/testutil"
)

func newStore(t *testing.T) *Store {
	return New(testutil.OpenDB(t), testutil.Logger())
}

func drafts(n int) []models.ScriptDraft {
	out := make([]models.ScriptDraft, n)
	for i := range out {
		out[i] = models.ScriptDraft{
			Title:         fmt.Sprintf("Script %d", i+1),
			Content:       fmt.Sprintf("Narration number %d.", i+1),
			Reasoning:     "hooks early",
			TargetMetrics: []string{"ctr", "hook_rate"},
		}
	}
	return out
}

func seedBatch(t *testing.T, s *Store, n int) *models.ScriptBatch {
	t.Helper()
	ctx := context.Background()
	batch, err := s.CreateBatch(ctx, NewBatch{SpreadsheetID: "sheet", TabName: "Scripts", VoiceID: "voice", ScriptCount: n})
	require.NoError(t, err)
	_, err = s.AddScripts(ctx, batch.BatchID, drafts(n))
	require.NoError(t, err)
	return batch
}

func TestCreateBatchAndAddScripts(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	batch, err := s.CreateBatch(ctx, NewBatch{ScriptCount: 3, VoiceID: "voice"})
	require.NoError(t, err)
	assert.Regexp(t, `^batch_\d+_[0-9a-f]{8}$`, batch.BatchID)
	assert.Equal(t, models.BatchStatusGenerating, batch.Status)

	_, err = s.AddScripts(ctx, batch.BatchID, drafts(3))
	require.NoError(t, err)

	scripts, err := s.ListScripts(ctx, batch.BatchID)
	require.NoError(t, err)
	require.Len(t, scripts, 3)
	for i, script := range scripts {
		assert.Equal(t, i, script.ScriptIndex)
		assert.True(t, integrity.Verify(script.Content, script.ContentHash))
		assert.Equal(t, fmt.Sprintf("%02d_script-%d", i+1, i+1), script.FileName)
		assert.Equal(t, models.StringArray{"ctr", "hook_rate"}, script.TargetMetrics)
	}

	withScripts, err := s.GetBatchWithScripts(ctx, batch.BatchID)
	require.NoError(t, err)
	assert.Len(t, withScripts.Scripts, 3)
}

func TestAddScriptsCountMismatchFailsBatch(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	batch, err := s.CreateBatch(ctx, NewBatch{ScriptCount: 3})
	require.NoError(t, err)

	_, err = s.AddScripts(ctx, batch.BatchID, drafts(2))
	assert.ErrorIs(t, err, ErrCountMismatch)

	got, err := s.GetBatch(ctx, batch.BatchID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusFailed, got.Status)
	assert.NotEmpty(t, got.FailureReason)

	scripts, err := s.ListScripts(ctx, batch.BatchID)
	require.NoError(t, err)
	assert.Empty(t, scripts)
}

func TestAddScriptsRejectsEmptyDraftAtomically(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	batch, err := s.CreateBatch(ctx, NewBatch{ScriptCount: 2})
	require.NoError(t, err)

	bad := drafts(2)
	bad[1].Content = "  "
	_, err = s.AddScripts(ctx, batch.BatchID, bad)
	require.Error(t, err)

	scripts, err := s.ListScripts(ctx, batch.BatchID)
	require.NoError(t, err)
	assert.Empty(t, scripts)
}

func TestAddScriptsTwiceKeepsBatch(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	batch := seedBatch(t, s, 2)

	_, err := s.AddScripts(ctx, batch.BatchID, drafts(2))
	assert.ErrorIs(t, err, ErrScriptsExist)

	got, err := s.GetBatch(ctx, batch.BatchID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusGenerating, got.Status)
}

func TestAdvanceStatusIsMonotonic(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	batch := seedBatch(t, s, 2)

	require.NoError(t, s.AdvanceStatus(ctx, batch.BatchID, models.BatchStatusVideosGenerated))
	require.NoError(t, s.AdvanceStatus(ctx, batch.BatchID, models.BatchStatusVideosGenerated))

	err := s.AdvanceStatus(ctx, batch.BatchID, models.BatchStatusGenerating)
	assert.ErrorIs(t, err, ErrStatusRegression)

	got, err := s.GetBatch(ctx, batch.BatchID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusVideosGenerated, got.Status)

	require.NoError(t, s.AdvanceStatus(ctx, batch.BatchID, models.BatchStatusSlackSent))
	assert.ErrorIs(t, s.AdvanceStatus(ctx, batch.BatchID, models.BatchStatusVideosGenerated), ErrStatusRegression)

	require.NoError(t, s.MarkFailed(ctx, batch.BatchID, "operator abort"))
	assert.ErrorIs(t, s.AdvanceStatus(ctx, batch.BatchID, models.BatchStatusSlackSent), ErrStatusRegression)
}

func TestAdvanceStatusChecksScriptCount(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	batch, err := s.CreateBatch(ctx, NewBatch{ScriptCount: 2})
	require.NoError(t, err)

	err = s.AdvanceStatus(ctx, batch.BatchID, models.BatchStatusVideosGenerated)
	assert.ErrorIs(t, err, ErrCountMismatch)
}

func TestAdvanceStatusUnknownBatch(t *testing.T) {
	s := newStore(t)
	assert.ErrorIs(t, s.AdvanceStatus(context.Background(), "batch_missing", models.BatchStatusSlackSent), ErrNotFound)
}

func TestUpdateScriptFieldsAreIsolated(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	batch := seedBatch(t, s, 1)

	scripts, err := s.ListScripts(ctx, batch.BatchID)
	require.NoError(t, err)
	id := scripts[0].ID

	audio, err := s.UpdateScriptAudio(ctx, id, AudioFields{Path: "/work/a.mp3", DurationMs: 12_000})
	require.NoError(t, err)
	assert.Equal(t, int64(12_000), audio.AudioDurationMs)

	video, err := s.UpdateScriptVideo(ctx, id, VideoFields{Path: "/work/v.mp4", URL: "https://drive/v", FileID: "f1"})
	require.NoError(t, err)
	assert.Equal(t, "f1", video.VideoFileID)
	assert.Equal(t, "/work/a.mp3", video.AudioPath)
	assert.True(t, video.HasVideo())

	failed, err := s.RecordVideoError(ctx, id, "composite failed")
	require.NoError(t, err)
	assert.Equal(t, "composite failed", failed.VideoError)
	assert.Equal(t, "f1", failed.VideoFileID)

	_, err = s.UpdateScriptVideo(ctx, 9999, VideoFields{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecentBatchesCountsVideos(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	older := seedBatch(t, s, 2)
	newer := seedBatch(t, s, 3)

	scripts, err := s.ListScripts(ctx, newer.BatchID)
	require.NoError(t, err)
	_, err = s.UpdateScriptVideo(ctx, scripts[0].ID, VideoFields{FileID: "f0"})
	require.NoError(t, err)
	_, err = s.UpdateScriptVideo(ctx, scripts[2].ID, VideoFields{URL: "https://drive/2"})
	require.NoError(t, err)
	_, err = s.UpdateScriptVideo(ctx, scripts[1].ID, VideoFields{Path: "/local/only.mp4"})
	require.NoError(t, err)

	recent, err := s.RecentBatches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, newer.BatchID, recent[0].BatchID)
	assert.Equal(t, 2, recent[0].VideoCount)
	assert.Equal(t, older.BatchID, recent[1].BatchID)
	assert.Equal(t, 0, recent[1].VideoCount)

	limited, err := s.RecentBatches(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSaveRenderedAssetUpserts(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	batch := seedBatch(t, s, 1)
	scripts, err := s.ListScripts(ctx, batch.BatchID)
	require.NoError(t, err)

	asset := &models.RenderedAsset{ScriptBatchID: scripts[0].ScriptBatchID, BatchScriptID: scripts[0].ID, FootageID: "foot-1", FileName: "a.mp4", FileID: "f1"}
	require.NoError(t, s.SaveRenderedAsset(ctx, asset))
	again := &models.RenderedAsset{ScriptBatchID: scripts[0].ScriptBatchID, BatchScriptID: scripts[0].ID, FootageID: "foot-1", FileName: "a.mp4", FileID: "f2"}
	require.NoError(t, s.SaveRenderedAsset(ctx, again))

	got, err := s.GetRenderedAsset(ctx, scripts[0].ID, "foot-1")
	require.NoError(t, err)
	assert.Equal(t, "f2", got.FileID)

	all, err := s.ListRenderedAssets(ctx, batch.BatchID)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = s.GetRenderedAsset(ctx, scripts[0].ID, "foot-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRenderedAssetsFollowsFootageOrder(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	batch := seedBatch(t, s, 2)
	scripts, err := s.ListScripts(ctx, batch.BatchID)
	require.NoError(t, err)

	// renders finish out of order: second script first, later footage first
	save := func(script models.BatchScript, footage string, order int) {
		require.NoError(t, s.SaveRenderedAsset(ctx, &models.RenderedAsset{
			ScriptBatchID: script.ScriptBatchID,
			BatchScriptID: script.ID,
			FootageID:     footage,
			FootageOrder:  order,
			FileName:      fmt.Sprintf("%s__%s.mp4", script.FileName, footage),
			FileID:        script.FileName + "-" + footage,
		}))
	}
	save(scripts[1], "city", 1)
	save(scripts[0], "city", 1)
	save(scripts[1], "beach", 0)
	save(scripts[0], "beach", 0)

	assets, err := s.ListRenderedAssets(ctx, batch.BatchID)
	require.NoError(t, err)
	var got []string
	for _, a := range assets {
		got = append(got, a.FileID)
	}
	assert.Equal(t, []string{"01_script-1-beach", "01_script-1-city", "02_script-2-beach", "02_script-2-city"}, got)
}

func TestApprovalRequestRecordsPostedItems(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveApprovalRequest(ctx, &models.ApprovalRequest{BatchName: "batch_1", ItemCount: 30, PostedItems: 24, MessageTS: "1.0"}))
	req, err := s.GetApprovalRequest(ctx, "batch_1")
	require.NoError(t, err)
	assert.False(t, req.FullyPosted())

	require.NoError(t, s.SaveApprovalRequest(ctx, &models.ApprovalRequest{BatchName: "batch_1", ItemCount: 30, PostedItems: 30, MessageTS: "1.0"}))
	req, err = s.GetApprovalRequest(ctx, "batch_1")
	require.NoError(t, err)
	assert.True(t, req.FullyPosted())
	assert.Equal(t, "1.0", req.MessageTS)
}

func TestSaveDecisionOverwrites(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDecision(ctx, &models.ApprovalDecision{BatchName: "batch_1", ItemNumber: 1, FileID: "f1", Approved: true}))
	require.NoError(t, s.SaveDecision(ctx, &models.ApprovalDecision{BatchName: "batch_1", ItemNumber: 1, FileID: "f1", Approved: false}))
	require.NoError(t, s.SaveDecision(ctx, &models.ApprovalDecision{BatchName: "batch_1", ItemNumber: 2, FileID: "f2", Approved: true}))

	decisions, err := s.ListDecisions(ctx, "batch_1")
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.Equal(t, 1, decisions[0].ItemNumber)
	assert.False(t, decisions[0].Approved)
	assert.True(t, decisions[1].Approved)
}

func TestApprovalRequestCompletesOnce(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveApprovalRequest(ctx, &models.ApprovalRequest{BatchName: "batch_1", ItemCount: 2, MessageTS: "1.0"}))

	first, err := s.MarkApprovalCompleted(ctx, "batch_1", time.Now())
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.MarkApprovalCompleted(ctx, "batch_1", time.Now())
	require.NoError(t, err)
	assert.False(t, second)

	req, err := s.GetApprovalRequest(ctx, "batch_1")
	require.NoError(t, err)
	assert.NotNil(t, req.CompletedAt)
}

func TestTaskLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now()

	due := &models.ScheduledTask{Kind: models.TaskKindApprovalNotice, BatchName: "batch_1", RunAt: now.Add(-time.Minute)}
	later := &models.ScheduledTask{Kind: models.TaskKindApprovalNotice, BatchName: "batch_1", RunAt: now.Add(time.Hour)}
	require.NoError(t, s.CreateTask(ctx, due))
	require.NoError(t, s.CreateTask(ctx, later))
	assert.NotEmpty(t, due.TaskID)

	tasks, err := s.DueTasks(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, due.ID, tasks[0].ID)

	claimed, err := s.ClaimTask(ctx, due.ID, now)
	require.NoError(t, err)
	assert.True(t, claimed)
	claimed, err = s.ClaimTask(ctx, due.ID, now)
	require.NoError(t, err)
	assert.False(t, claimed)

	requeued, err := s.RequeueStaleTasks(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), requeued)

	claimed, err = s.ClaimTask(ctx, due.ID, now)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, s.FinishTask(ctx, due.ID, models.TaskStatusDone, ""))

	all, err := s.ListTasks(ctx, "batch_1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, models.TaskStatusDone, all[0].Status)
	assert.Equal(t, 2, all[0].Attempts)
	assert.Equal(t, models.TaskStatusPending, all[1].Status)

	purged, err := s.PurgeFinishedTasks(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}
