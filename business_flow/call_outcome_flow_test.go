package businessflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/amirphl/yamata-dialer/models"
	"github.com/amirphl/yamata-dialer/repository"
	testingutil "github.com/amirphl/yamata-dialer/testing"
	"github.com/amirphl/yamata-dialer/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type outcomeEnv struct {
	fx   *testingutil.TestFixtures
	flow *CallOutcomeFlowImpl
	now  time.Time
}

func newOutcomeEnv(t *testing.T) *outcomeEnv {
	t.Helper()
	tdb := testingutil.NewTestDB(t)
	env := &outcomeEnv{fx: testingutil.NewTestFixtures(tdb), now: t0}
	env.flow = NewCallOutcomeFlow(
		repository.NewCallTargetRepository(tdb.DB),
		repository.NewCallCampaignRepository(tdb.DB),
		repository.NewCallAttemptRepository(tdb.DB),
		tdb.DB,
		zap.NewNop(),
	).WithClock(func() time.Time { return env.now })
	return env
}

// callingTarget inserts a target in flight on callID together with its attempt row
func (e *outcomeEnv) callingTarget(t *testing.T, campaign *models.CallCampaign, phone, callID string, attempts int) *models.CallTarget {
	t.Helper()
	token := uuid.NewString()
	target, err := e.fx.CreateTarget(campaign, phone, e.now, func(tg *models.CallTarget) {
		tg.Status = models.CallTargetStatusCalling
		tg.AttemptsMade = attempts
		tg.LastCallID = utils.ToPtr(callID)
		tg.LastAttemptAt = utils.ToPtr(e.now.Add(-time.Minute))
		tg.DispatchToken = utils.ToPtr(token)
	})
	require.NoError(t, err)
	require.NoError(t, e.fx.DB.DB.Create(&models.CallAttempt{
		TargetID:       target.ID,
		CampaignID:     campaign.ID,
		AttemptNumber:  attempts,
		DispatchToken:  token,
		ProviderCallID: utils.ToPtr(callID),
		DispatchedAt:   e.now.Add(-time.Minute),
	}).Error)
	return target
}

func webhook(callID, status, disposition string) []byte {
	return fmt.Appendf(nil, `{"call_id":%q,"status":%q,"disposition":%q}`, callID, status, disposition)
}

func TestReconcile_SuccessCompletesTargetAndCampaign(t *testing.T) {
	env := newOutcomeEnv(t)
	ctx := context.Background()

	campaign, err := env.fx.CreateCampaign(nil)
	require.NoError(t, err)
	target := env.callingTarget(t, campaign, testingutil.Phone(1), "prov-1", 1)

	res, err := env.flow.Reconcile(ctx, webhook("prov-1", "completed", ""))
	require.NoError(t, err)
	assert.Equal(t, ReconcileApplied, res.Result)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.True(t, res.CampaignComplete)

	reloaded, err := env.fx.ReloadTarget(target.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallTargetStatusCompleted, reloaded.Status)
	assert.Equal(t, DefaultSuccessDisposition, utils.Deref(reloaded.LastDisposition))
	assert.Equal(t, "completed", utils.Deref(reloaded.LastCallStatus))
	assert.Contains(t, utils.Deref(reloaded.LastWebhookPayload), `"prov-1"`)
	assert.Nil(t, reloaded.NextAttemptAt)
	require.NotNil(t, reloaded.CompletedAt)

	c, err := env.fx.ReloadCampaign(campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallCampaignStatusCompleted, c.Status)
	require.NotNil(t, c.CompletedAt)

	var attempt models.CallAttempt
	require.NoError(t, env.fx.DB.DB.Where("target_id = ?", target.ID).First(&attempt).Error)
	assert.Equal(t, models.CallAttemptOutcomeSuccess, utils.Deref(attempt.Outcome))
	assert.NotNil(t, attempt.ResolvedAt)
}

func TestReconcile_DuplicateWebhookIsNoOp(t *testing.T) {
	env := newOutcomeEnv(t)
	ctx := context.Background()

	campaign, err := env.fx.CreateCampaign(nil)
	require.NoError(t, err)
	target := env.callingTarget(t, campaign, testingutil.Phone(1), "prov-1", 1)
	// A second target keeps the campaign open.
	_, err = env.fx.CreateTarget(campaign, testingutil.Phone(2), t0, nil)
	require.NoError(t, err)

	first, err := env.flow.Reconcile(ctx, webhook("prov-1", "ended", "busy"))
	require.NoError(t, err)
	assert.Equal(t, ReconcileApplied, first.Result)

	afterFirst, err := env.fx.ReloadTarget(target.ID)
	require.NoError(t, err)

	env.now = t0.Add(5 * time.Minute)
	second, err := env.flow.Reconcile(ctx, webhook("prov-1", "ended", "busy"))
	require.NoError(t, err)
	assert.Equal(t, ReconcileAlreadyResolved, second.Result)

	afterSecond, err := env.fx.ReloadTarget(target.ID)
	require.NoError(t, err)
	assert.Equal(t, afterFirst.Status, afterSecond.Status)
	assert.Equal(t, afterFirst.AttemptsMade, afterSecond.AttemptsMade)
	require.NotNil(t, afterSecond.NextAttemptAt)
	assert.True(t, afterFirst.NextAttemptAt.Equal(*afterSecond.NextAttemptAt))
	assert.True(t, afterFirst.UpdatedAt.Equal(afterSecond.UpdatedAt))
}

func TestReconcile_RetryableReschedules(t *testing.T) {
	env := newOutcomeEnv(t)

	campaign, err := env.fx.CreateCampaign(nil)
	require.NoError(t, err)
	target := env.callingTarget(t, campaign, testingutil.Phone(1), "prov-1", 1)

	res, err := env.flow.Reconcile(context.Background(), webhook("prov-1", "completed", "no-answer"))
	require.NoError(t, err)
	assert.Equal(t, ReconcileApplied, res.Result)
	assert.False(t, res.CampaignComplete)

	reloaded, err := env.fx.ReloadTarget(target.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallTargetStatusPending, reloaded.Status)
	require.NotNil(t, reloaded.NextAttemptAt)
	assert.True(t, reloaded.NextAttemptAt.Equal(t0.Add(10*time.Minute)))
	assert.Equal(t, "no-answer", utils.Deref(reloaded.LastDisposition))
}

func TestReconcile_RetryableAtCapExhausts(t *testing.T) {
	env := newOutcomeEnv(t)

	campaign, err := env.fx.CreateCampaign(nil)
	require.NoError(t, err)
	target := env.callingTarget(t, campaign, testingutil.Phone(1), "prov-3", campaign.MaxAttempts)

	res, err := env.flow.Reconcile(context.Background(), webhook("prov-3", "busy", ""))
	require.NoError(t, err)
	assert.True(t, res.CampaignComplete)

	reloaded, err := env.fx.ReloadTarget(target.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallTargetStatusExhausted, reloaded.Status)
	assert.Nil(t, reloaded.NextAttemptAt)
}

func TestReconcile_PermanentFailsImmediately(t *testing.T) {
	env := newOutcomeEnv(t)

	campaign, err := env.fx.CreateCampaign(nil)
	require.NoError(t, err)
	target := env.callingTarget(t, campaign, testingutil.Phone(1), "prov-1", 1)

	_, err = env.flow.Reconcile(context.Background(), webhook("prov-1", "failed", "invalid-number"))
	require.NoError(t, err)

	reloaded, err := env.fx.ReloadTarget(target.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallTargetStatusFailed, reloaded.Status)
	assert.Equal(t, 1, reloaded.AttemptsMade)
	assert.Nil(t, reloaded.NextAttemptAt)
}

func TestReconcile_ProgressKeepsCalling(t *testing.T) {
	env := newOutcomeEnv(t)

	campaign, err := env.fx.CreateCampaign(nil)
	require.NoError(t, err)
	target := env.callingTarget(t, campaign, testingutil.Phone(1), "prov-1", 1)

	res, err := env.flow.Reconcile(context.Background(), webhook("prov-1", "ringing", ""))
	require.NoError(t, err)
	assert.Equal(t, ReconcileProgress, res.Result)

	reloaded, err := env.fx.ReloadTarget(target.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallTargetStatusCalling, reloaded.Status)
	assert.Equal(t, "ringing", utils.Deref(reloaded.LastCallStatus))

	c, err := env.fx.ReloadCampaign(campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallCampaignStatusRunning, c.Status)
}

func TestReconcile_UnknownAndMalformed(t *testing.T) {
	env := newOutcomeEnv(t)
	ctx := context.Background()

	res, err := env.flow.Reconcile(ctx, webhook("nobody", "completed", ""))
	require.NoError(t, err)
	assert.Equal(t, ReconcileUnknownCall, res.Result)

	res, err = env.flow.Reconcile(ctx, []byte(`{"status":"completed"}`))
	require.NoError(t, err)
	assert.Equal(t, ReconcileIgnored, res.Result)

	_, err = env.flow.Reconcile(ctx, []byte(`{{{`))
	require.Error(t, err)
	assert.True(t, IsInvalidWebhookPayload(err))
	assert.False(t, IsReconcileRetryable(err))
}

func TestReconcile_PausedCampaignStillReconciles(t *testing.T) {
	env := newOutcomeEnv(t)

	campaign, err := env.fx.CreateCampaign(func(c *models.CallCampaign) { c.Status = models.CallCampaignStatusPaused })
	require.NoError(t, err)
	target := env.callingTarget(t, campaign, testingutil.Phone(1), "prov-1", 1)

	res, err := env.flow.Reconcile(context.Background(), webhook("prov-1", "completed", "answered"))
	require.NoError(t, err)
	assert.Equal(t, ReconcileApplied, res.Result)
	assert.True(t, res.CampaignComplete)

	reloaded, err := env.fx.ReloadTarget(target.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallTargetStatusCompleted, reloaded.Status)
}

func TestReconcile_UnknownCallLoggedAsWarning(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	tdb := testingutil.NewTestDB(t)
	flow := NewCallOutcomeFlow(
		repository.NewCallTargetRepository(tdb.DB),
		repository.NewCallCampaignRepository(tdb.DB),
		repository.NewCallAttemptRepository(tdb.DB),
		tdb.DB,
		zap.New(core),
	)

	res, err := flow.Reconcile(context.Background(), webhook("arrived-before-store", "completed", ""))
	require.NoError(t, err)
	assert.Equal(t, ReconcileUnknownCall, res.Result)

	dropped := logs.FilterMessage("webhook for unknown call dropped").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, zapcore.WarnLevel, dropped[0].Level)
	assert.Equal(t, "arrived-before-store", dropped[0].ContextMap()["call_id"])
}
