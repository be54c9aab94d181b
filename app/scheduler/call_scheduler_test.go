package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/yamata-dialer/app/services"
	businessflow "github.com/amirphl/yamata-dialer/business_flow"
	"github.com/amirphl/yamata-dialer/models"
	"github.com/amirphl/yamata-dialer/repository"
	testingutil "github.com/amirphl/yamata-dialer/testing"
	"github.com/amirphl/yamata-dialer/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type schedulerEnv struct {
	tdb       *testingutil.TestDB
	fx        *testingutil.TestFixtures
	provider  *services.MockVoiceProvider
	targets   repository.CallTargetRepository
	campaigns repository.CallCampaignRepository
	attempts  repository.CallAttemptRepository
	scheduler *CallScheduler
	outcomes  *businessflow.CallOutcomeFlowImpl
	now       time.Time
}

func newSchedulerEnv(t *testing.T) *schedulerEnv {
	t.Helper()
	tdb := testingutil.NewTestDB(t)
	env := &schedulerEnv{
		tdb:       tdb,
		fx:        testingutil.NewTestFixtures(tdb),
		provider:  services.NewMockVoiceProvider(),
		targets:   repository.NewCallTargetRepository(tdb.DB),
		campaigns: repository.NewCallCampaignRepository(tdb.DB),
		attempts:  repository.NewCallAttemptRepository(tdb.DB),
		now:       t0,
	}
	clock := func() time.Time { return env.now }

	dispatcher := NewCallDispatcher(env.targets, env.campaigns, env.attempts, env.provider, tdb.DB, zap.NewNop())
	env.scheduler = NewCallScheduler(env.campaigns, env.targets, env.attempts, dispatcher, NewLocalLease(), tdb.DB, zap.NewNop(),
		SchedulerOptions{Interval: 10 * time.Millisecond}).WithClock(clock)
	env.outcomes = businessflow.NewCallOutcomeFlow(env.targets, env.campaigns, env.attempts, tdb.DB, zap.NewNop()).WithClock(clock)
	return env
}

func (e *schedulerEnv) campaign(t *testing.T, mutate func(*models.CallCampaign)) *models.CallCampaign {
	t.Helper()
	c, err := e.fx.CreateCampaign(mutate)
	require.NoError(t, err)
	return c
}

func (e *schedulerEnv) target(t *testing.T, c *models.CallCampaign, i int, due time.Time) *models.CallTarget {
	t.Helper()
	tg, err := e.fx.CreateTarget(c, testingutil.Phone(i), due, nil)
	require.NoError(t, err)
	return tg
}

func (e *schedulerEnv) reload(t *testing.T, id uint) *models.CallTarget {
	t.Helper()
	tg, err := e.fx.ReloadTarget(id)
	require.NoError(t, err)
	return tg
}

func (e *schedulerEnv) webhook(t *testing.T, callID, status string) *businessflow.ReconcileResult {
	t.Helper()
	res, err := e.outcomes.Reconcile(context.Background(), []byte(`{"call_id":"`+callID+`","status":"`+status+`"}`))
	require.NoError(t, err)
	return res
}

func TestProcessCampaign_RespectsRateLimitAndOrder(t *testing.T) {
	env := newSchedulerEnv(t)
	ctx := context.Background()

	c := env.campaign(t, func(c *models.CallCampaign) { c.RateLimitPerMinute = 2 })
	late := env.target(t, c, 1, t0.Add(-time.Minute))
	early := env.target(t, c, 2, t0.Add(-3*time.Minute))
	middle := env.target(t, c, 3, t0.Add(-2*time.Minute))

	report, err := env.scheduler.ProcessCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, report.Leased)
	assert.Equal(t, 2, report.Selected)
	assert.Equal(t, 2, report.Placed)

	placed := env.provider.Placed()
	require.Len(t, placed, 2)
	phones := []string{placed[0].PhoneNumber, placed[1].PhoneNumber}
	assert.ElementsMatch(t, []string{early.PhoneNumber, middle.PhoneNumber}, phones)
	assert.Equal(t, c.CallPurpose, placed[0].CallPurpose)
	assert.Equal(t, "1", placed[0].Metadata["attempt"])

	waiting := env.reload(t, late.ID)
	assert.Equal(t, models.CallTargetStatusPending, waiting.Status)
	require.NotNil(t, waiting.NextAttemptAt)
	assert.True(t, waiting.NextAttemptAt.Equal(t0.Add(-time.Minute)))

	calling := env.reload(t, early.ID)
	assert.Equal(t, models.CallTargetStatusCalling, calling.Status)
	assert.Equal(t, 1, calling.AttemptsMade)
	assert.Nil(t, calling.NextAttemptAt)
	assert.Contains(t, utils.Deref(calling.LastCallID), "mock-")

	// The window is full until a minute has passed.
	env.now = t0.Add(30 * time.Second)
	report, err = env.scheduler.ProcessCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, report.Selected)

	env.now = t0.Add(61 * time.Second)
	report, err = env.scheduler.ProcessCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Placed)
	assert.Len(t, env.provider.Placed(), 3)
}

func TestProcessCampaign_NoDoubleDispatch(t *testing.T) {
	env := newSchedulerEnv(t)
	ctx := context.Background()

	c := env.campaign(t, nil)
	tg := env.target(t, c, 1, t0)

	_, err := env.scheduler.ProcessCampaign(ctx, c.ID)
	require.NoError(t, err)
	_, err = env.scheduler.ProcessCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, env.provider.Placed(), 1)

	// A stale selection loses its claim.
	claimed, err := env.scheduler.claim(ctx, c, tg, t0)
	require.NoError(t, err)
	assert.Nil(t, claimed)

	count, err := env.attempts.Count(ctx, models.CallAttemptFilter{TargetID: &tg.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestProcessCampaign_LeaseHeldElsewhere(t *testing.T) {
	env := newSchedulerEnv(t)
	ctx := context.Background()

	c := env.campaign(t, nil)
	env.target(t, c, 1, t0)

	release, ok, err := env.scheduler.lease.Acquire(ctx, c.ID, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	report, err := env.scheduler.ProcessCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, report.Leased)
	assert.Empty(t, env.provider.Placed())

	release()
	report, err = env.scheduler.ProcessCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Placed)
}

func TestSelectDueTargets_OnlyRunningCampaigns(t *testing.T) {
	env := newSchedulerEnv(t)
	ctx := context.Background()

	paused := env.campaign(t, func(c *models.CallCampaign) { c.Status = models.CallCampaignStatusPaused })
	env.target(t, paused, 1, t0)

	_, err := env.scheduler.SelectDueTargets(ctx, paused.ID, t0)
	assert.ErrorIs(t, err, ErrCampaignNotRunning)

	_, err = env.scheduler.SelectDueTargets(ctx, 9999, t0)
	assert.ErrorIs(t, err, ErrCampaignNotFound)

	report, err := env.scheduler.ProcessCampaign(ctx, paused.ID)
	require.NoError(t, err)
	assert.Zero(t, report.Selected)
	assert.Empty(t, env.provider.Placed())
}

func TestSelectDueTargets_SkipsFutureAndExhausted(t *testing.T) {
	env := newSchedulerEnv(t)
	ctx := context.Background()

	c := env.campaign(t, nil)
	due := env.target(t, c, 1, t0)
	env.target(t, c, 2, t0.Add(time.Minute))
	_, err := env.fx.CreateTarget(c, testingutil.Phone(3), t0, func(tg *models.CallTarget) { tg.AttemptsMade = 3 })
	require.NoError(t, err)
	_, err = env.fx.CreateTarget(c, testingutil.Phone(4), t0, func(tg *models.CallTarget) {
		tg.Status = models.CallTargetStatusFailed
		tg.NextAttemptAt = nil
	})
	require.NoError(t, err)

	selected, err := env.scheduler.SelectDueTargets(ctx, c.ID, t0)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, due.ID, selected[0].ID)
}

func TestRetryCycle_EndsExhausted(t *testing.T) {
	env := newSchedulerEnv(t)
	ctx := context.Background()

	c := env.campaign(t, nil)
	tg := env.target(t, c, 1, t0)

	for attempt := 1; attempt <= 3; attempt++ {
		report, err := env.scheduler.ProcessCampaign(ctx, c.ID)
		require.NoError(t, err)
		require.Equal(t, 1, report.Placed, "attempt %d", attempt)

		current := env.reload(t, tg.ID)
		require.Equal(t, attempt, current.AttemptsMade)
		res := env.webhook(t, utils.Deref(current.LastCallID), "no-answer")
		require.Equal(t, businessflow.ReconcileApplied, res.Result)

		if attempt < 3 {
			retry := env.reload(t, tg.ID)
			require.Equal(t, models.CallTargetStatusPending, retry.Status)
			require.True(t, retry.NextAttemptAt.Equal(env.now.Add(10*time.Minute)))

			// Not selected until the retry delay has passed.
			env.now = env.now.Add(9 * time.Minute)
			selected, err := env.scheduler.SelectDueTargets(ctx, c.ID, env.now)
			require.NoError(t, err)
			assert.Empty(t, selected)
			env.now = env.now.Add(time.Minute)
		}
	}

	final := env.reload(t, tg.ID)
	assert.Equal(t, models.CallTargetStatusExhausted, final.Status)
	assert.Equal(t, 3, final.AttemptsMade)
	assert.Len(t, env.provider.Placed(), 3)

	campaign, err := env.fx.ReloadCampaign(c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallCampaignStatusCompleted, campaign.Status)
}

func TestProcessCampaign_SubmitFailure(t *testing.T) {
	env := newSchedulerEnv(t)
	ctx := context.Background()
	env.provider.FailWith = errors.New("provider unavailable")

	c := env.campaign(t, func(c *models.CallCampaign) { c.MaxAttempts = 2 })
	tg := env.target(t, c, 1, t0)

	report, err := env.scheduler.ProcessCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SubmitFailed)

	retry := env.reload(t, tg.ID)
	assert.Equal(t, models.CallTargetStatusPending, retry.Status)
	assert.Equal(t, 1, retry.AttemptsMade)
	assert.True(t, retry.NextAttemptAt.Equal(t0.Add(10*time.Minute)))
	assert.Contains(t, utils.Deref(retry.LastError), "provider unavailable")

	attempt, err := env.attempts.ByDispatchToken(ctx, utils.Deref(retry.DispatchToken))
	require.NoError(t, err)
	require.NotNil(t, attempt)
	assert.Equal(t, models.CallAttemptOutcomeSubmitFailed, utils.Deref(attempt.Outcome))

	env.now = t0.Add(10 * time.Minute)
	report, err = env.scheduler.ProcessCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SubmitFailed)

	final := env.reload(t, tg.ID)
	assert.Equal(t, models.CallTargetStatusExhausted, final.Status)
	assert.Nil(t, final.NextAttemptAt)

	campaign, err := env.fx.ReloadCampaign(c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallCampaignStatusCompleted, campaign.Status)
}

func TestTick_ProcessesEveryRunningCampaign(t *testing.T) {
	env := newSchedulerEnv(t)

	a := env.campaign(t, nil)
	b := env.campaign(t, nil)
	paused := env.campaign(t, func(c *models.CallCampaign) { c.Status = models.CallCampaignStatusPaused })
	env.target(t, a, 1, t0)
	env.target(t, b, 2, t0)
	env.target(t, paused, 3, t0)

	env.scheduler.Tick(context.Background())
	assert.Len(t, env.provider.Placed(), 2)
}

func TestStart_StopsCleanly(t *testing.T) {
	env := newSchedulerEnv(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := env.campaign(t, nil)
	env.target(t, c, 1, t0)

	stop := env.scheduler.Start(context.Background())
	require.Eventually(t, func() bool { return len(env.provider.Placed()) == 1 }, 2*time.Second, 10*time.Millisecond)
	stop()
}

// countingProvider records how many PlaceCall requests overlap
type countingProvider struct {
	*services.MockVoiceProvider
	mu       sync.Mutex
	inFlight int
	peak     int
}

func (p *countingProvider) PlaceCall(ctx context.Context, in services.PlaceCallInput) (*services.CallInfo, error) {
	p.mu.Lock()
	p.inFlight++
	p.peak = max(p.peak, p.inFlight)
	p.mu.Unlock()

	time.Sleep(5 * time.Millisecond)
	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()
	return p.MockVoiceProvider.PlaceCall(ctx, in)
}

func TestProcessCampaign_BoundsDispatchConcurrency(t *testing.T) {
	env := newSchedulerEnv(t)
	ctx := context.Background()

	provider := &countingProvider{MockVoiceProvider: env.provider}
	dispatcher := NewCallDispatcher(env.targets, env.campaigns, env.attempts, provider, env.tdb.DB, zap.NewNop())
	sched := NewCallScheduler(env.campaigns, env.targets, env.attempts, dispatcher, NewLocalLease(), env.tdb.DB, zap.NewNop(),
		SchedulerOptions{Interval: 10 * time.Millisecond, DispatchConcurrency: 2}).
		WithClock(func() time.Time { return env.now })

	c := env.campaign(t, nil)
	for i := 1; i <= 6; i++ {
		env.target(t, c, i, t0)
	}

	report, err := sched.ProcessCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, report.Claimed)
	assert.Equal(t, 6, report.Placed)
	assert.Len(t, env.provider.Placed(), 6)
	assert.LessOrEqual(t, provider.peak, 2)
}
