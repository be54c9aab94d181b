package businessflow

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/amirphl/yamata-dialer/app/dto"
	"github.com/amirphl/yamata-dialer/models"
	"github.com/amirphl/yamata-dialer/repository"
	testingutil "github.com/amirphl/yamata-dialer/testing"
	"github.com/amirphl/yamata-dialer/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type campaignEnv struct {
	fx   *testingutil.TestFixtures
	flow *CallCampaignFlowImpl
}

func newCampaignEnv(t *testing.T) *campaignEnv {
	t.Helper()
	tdb := testingutil.NewTestDB(t)
	flow := NewCallCampaignFlow(
		repository.NewCallCampaignRepository(tdb.DB),
		repository.NewCallTargetRepository(tdb.DB),
		repository.NewContactRepository(tdb.DB),
		tdb.DB,
		"US",
		zap.NewNop(),
	).WithClock(func() time.Time { return t0 })
	return &campaignEnv{fx: testingutil.NewTestFixtures(tdb), flow: flow}
}

func (e *campaignEnv) draft(t *testing.T, mutate func(*models.CallCampaign)) *models.CallCampaign {
	t.Helper()
	c, err := e.fx.CreateCampaign(func(c *models.CallCampaign) {
		c.Status = models.CallCampaignStatusDraft
		c.StartedAt = nil
		if mutate != nil {
			mutate(c)
		}
	})
	require.NoError(t, err)
	return c
}

func action(c *models.CallCampaign) *dto.CampaignActionRequest {
	return &dto.CampaignActionRequest{CampaignUUID: c.UUID.String(), AgentID: c.AgentID}
}

func enrollRequest(c *models.CallCampaign, phones ...string) *dto.EnrollTargetsRequest {
	req := &dto.EnrollTargetsRequest{CampaignUUID: c.UUID.String(), AgentID: c.AgentID}
	for _, p := range phones {
		req.Targets = append(req.Targets, dto.EnrollTargetItem{PhoneNumber: p})
	}
	return req
}

func TestCreateCampaign(t *testing.T) {
	env := newCampaignEnv(t)
	ctx := context.Background()

	t.Run("applies defaults", func(t *testing.T) {
		resp, err := env.flow.CreateCampaign(ctx, &dto.CreateCallCampaignRequest{
			AgentID:      7,
			Title:        "Vacant units",
			CallPurpose:  "Confirm the unit is still for rent",
			ContactRoles: []string{" Owner ", "owner", "Tenant"},
		})
		require.NoError(t, err)
		assert.Equal(t, models.CallCampaignStatusDraft.String(), resp.Status)

		got, err := env.flow.GetCampaign(ctx, &dto.CampaignActionRequest{CampaignUUID: resp.UUID, AgentID: 7})
		require.NoError(t, err)
		assert.Equal(t, utils.DefaultMaxAttempts, got.MaxAttempts)
		assert.Equal(t, utils.DefaultRetryDelayMinutes, got.RetryDelayMinutes)
		assert.Equal(t, utils.DefaultRateLimitPerMinute, got.RateLimitPerMinute)
		assert.ElementsMatch(t, []string{"owner", "tenant"}, got.ContactRoles)
		assert.Empty(t, got.TargetCounts)
	})

	t.Run("rejects missing purpose", func(t *testing.T) {
		_, err := env.flow.CreateCampaign(ctx, &dto.CreateCallCampaignRequest{AgentID: 7, Title: "x"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCampaignPurposeRequired)
		assert.True(t, IsValidationError(err))
	})

	t.Run("rejects zero attempts", func(t *testing.T) {
		_, err := env.flow.CreateCampaign(ctx, &dto.CreateCallCampaignRequest{
			AgentID: 7, Title: "x", CallPurpose: "y", MaxAttempts: utils.ToPtr(0),
		})
		assert.ErrorIs(t, err, ErrInvalidCampaignSettings)
	})
}

func TestGetCampaign_Ownership(t *testing.T) {
	env := newCampaignEnv(t)
	ctx := context.Background()
	c := env.draft(t, nil)

	_, err := env.flow.GetCampaign(ctx, &dto.CampaignActionRequest{CampaignUUID: c.UUID.String(), AgentID: 99})
	assert.True(t, IsCampaignAccessDenied(err))

	_, err = env.flow.GetCampaign(ctx, &dto.CampaignActionRequest{CampaignUUID: "not-a-uuid", AgentID: c.AgentID})
	assert.True(t, IsCampaignNotFound(err))

	_, err = env.flow.GetCampaign(ctx, &dto.CampaignActionRequest{CampaignUUID: "7d3c2e0a-3c4b-4f3c-9b6e-1d2a3b4c5d6e", AgentID: c.AgentID})
	assert.True(t, IsCampaignNotFound(err))
}

func TestUpdateCampaign(t *testing.T) {
	env := newCampaignEnv(t)
	ctx := context.Background()

	c := env.draft(t, nil)
	resp, err := env.flow.UpdateCampaign(ctx, &dto.UpdateCallCampaignRequest{
		UUID: c.UUID.String(), AgentID: c.AgentID, RateLimitPerMinute: utils.ToPtr(30),
	})
	require.NoError(t, err)
	assert.Equal(t, 30, resp.RateLimitPerMinute)

	running, err := env.fx.CreateCampaign(nil)
	require.NoError(t, err)
	_, err = env.flow.UpdateCampaign(ctx, &dto.UpdateCallCampaignRequest{
		UUID: running.UUID.String(), AgentID: running.AgentID, Title: utils.ToPtr("new"),
	})
	assert.True(t, IsCampaignUpdateNotAllowed(err))

	_, err = env.flow.UpdateCampaign(ctx, &dto.UpdateCallCampaignRequest{UUID: c.UUID.String(), AgentID: c.AgentID})
	assert.ErrorIs(t, err, ErrCampaignUpdateRequired)
}

func TestUpdateCampaign_MaxAttemptsFloor(t *testing.T) {
	env := newCampaignEnv(t)
	ctx := context.Background()

	c, err := env.fx.CreateCampaign(func(c *models.CallCampaign) { c.Status = models.CallCampaignStatusPaused })
	require.NoError(t, err)
	_, err = env.fx.CreateTarget(c, testingutil.Phone(1), t0, func(tg *models.CallTarget) { tg.AttemptsMade = 2 })
	require.NoError(t, err)

	_, err = env.flow.UpdateCampaign(ctx, &dto.UpdateCallCampaignRequest{
		UUID: c.UUID.String(), AgentID: c.AgentID, MaxAttempts: utils.ToPtr(1),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCampaignSettings)
	assert.True(t, IsValidationError(err))

	reloaded, err := env.fx.ReloadCampaign(c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, reloaded.MaxAttempts)

	// Lowering to the attempts already spent is allowed; the target resolves on its next outcome.
	resp, err := env.flow.UpdateCampaign(ctx, &dto.UpdateCallCampaignRequest{
		UUID: c.UUID.String(), AgentID: c.AgentID, MaxAttempts: utils.ToPtr(2),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.MaxAttempts)
}

func TestEnrollTargets(t *testing.T) {
	ctx := context.Background()

	t.Run("normalizes and schedules immediately", func(t *testing.T) {
		env := newCampaignEnv(t)
		c := env.draft(t, nil)

		resp, err := env.flow.EnrollTargets(ctx, enrollRequest(c, "(650) 253-0001", testingutil.Phone(2)))
		require.NoError(t, err)
		assert.Equal(t, 2, resp.Enrolled)

		var targets []models.CallTarget
		require.NoError(t, env.fx.DB.DB.Order("id").Find(&targets).Error)
		require.Len(t, targets, 2)
		assert.Equal(t, testingutil.Phone(1), targets[0].PhoneNumber)
		assert.Equal(t, models.CallTargetStatusPending, targets[0].Status)
		require.NotNil(t, targets[0].NextAttemptAt)
		assert.True(t, targets[0].NextAttemptAt.Equal(t0))
	})

	t.Run("duplicate within the request rejects the batch", func(t *testing.T) {
		env := newCampaignEnv(t)
		c := env.draft(t, nil)

		_, err := env.flow.EnrollTargets(ctx, enrollRequest(c, testingutil.Phone(1), "+1 650-253-0001"))
		require.Error(t, err)
		assert.True(t, IsDuplicatePhoneNumber(err))
		assert.Equal(t, []string{testingutil.Phone(1)}, PhoneNumbersOf(err))

		var n int64
		require.NoError(t, env.fx.DB.DB.Model(&models.CallTarget{}).Count(&n).Error)
		assert.Zero(t, n)
	})

	t.Run("number already enrolled rejects the batch", func(t *testing.T) {
		env := newCampaignEnv(t)
		c := env.draft(t, nil)
		_, err := env.fx.CreateTarget(c, testingutil.Phone(1), t0, nil)
		require.NoError(t, err)

		_, err = env.flow.EnrollTargets(ctx, enrollRequest(c, testingutil.Phone(2), testingutil.Phone(1)))
		require.Error(t, err)
		assert.True(t, IsDuplicatePhoneNumber(err))
		assert.Equal(t, []string{testingutil.Phone(1)}, PhoneNumbersOf(err))

		var n int64
		require.NoError(t, env.fx.DB.DB.Model(&models.CallTarget{}).Where("campaign_id = ?", c.ID).Count(&n).Error)
		assert.Equal(t, int64(1), n)
	})

	t.Run("same number in another campaign is allowed", func(t *testing.T) {
		env := newCampaignEnv(t)
		first := env.draft(t, nil)
		second := env.draft(t, nil)

		_, err := env.flow.EnrollTargets(ctx, enrollRequest(first, testingutil.Phone(1)))
		require.NoError(t, err)
		_, err = env.flow.EnrollTargets(ctx, enrollRequest(second, testingutil.Phone(1)))
		require.NoError(t, err)
	})

	t.Run("invalid number rejects the batch", func(t *testing.T) {
		env := newCampaignEnv(t)
		c := env.draft(t, nil)

		_, err := env.flow.EnrollTargets(ctx, enrollRequest(c, testingutil.Phone(1), "12"))
		require.Error(t, err)
		assert.True(t, IsInvalidPhoneNumber(err))
		assert.Equal(t, []string{"12"}, PhoneNumbersOf(err))
	})

	t.Run("completed campaign refuses enrollment", func(t *testing.T) {
		env := newCampaignEnv(t)
		c := env.draft(t, func(c *models.CallCampaign) { c.Status = models.CallCampaignStatusCompleted })

		_, err := env.flow.EnrollTargets(ctx, enrollRequest(c, testingutil.Phone(1)))
		assert.True(t, IsCampaignCompleted(err))
	})
}

func TestEnrollFromContacts(t *testing.T) {
	env := newCampaignEnv(t)
	ctx := context.Background()

	propertyID := uint(42)
	c := env.draft(t, func(c *models.CallCampaign) {
		c.PropertyID = &propertyID
		c.ContactRoles = models.ContactRoles{"owner"}
	})

	for _, row := range []struct{ role, name, phone string }{
		{"Owner", "Dana", testingutil.Phone(1)},
		{"owner", "Dana again", "650 253 0001"},
		{"owner", "Broken", "n/a"},
		{"tenant", "Sam", testingutil.Phone(2)},
		{"owner", "Lee", testingutil.Phone(3)},
	} {
		_, err := env.fx.CreateContact(propertyID, row.role, row.name, row.phone)
		require.NoError(t, err)
	}
	_, err := env.fx.CreateContact(7, "owner", "Other property", testingutil.Phone(4))
	require.NoError(t, err)
	_, err = env.fx.CreateTarget(c, testingutil.Phone(3), t0, nil)
	require.NoError(t, err)

	resp, err := env.flow.EnrollFromContacts(ctx, action(c))
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Enrolled)
	assert.Equal(t, 2, resp.Skipped)
	assert.Equal(t, []string{"n/a"}, resp.Invalid)

	var target models.CallTarget
	require.NoError(t, env.fx.DB.DB.Where("phone_number = ?", testingutil.Phone(1)).First(&target).Error)
	require.NotNil(t, target.PropertyID)
	assert.Equal(t, propertyID, *target.PropertyID)
	assert.NotNil(t, target.ContactID)

	withoutProperty := env.draft(t, nil)
	_, err = env.flow.EnrollFromContacts(ctx, action(withoutProperty))
	assert.True(t, IsCampaignPropertyRequired(err))
}

func TestCampaignLifecycle(t *testing.T) {
	env := newCampaignEnv(t)
	ctx := context.Background()
	c := env.draft(t, nil)

	_, err := env.flow.StartCampaign(ctx, action(c))
	assert.True(t, IsCampaignHasNoTargets(err))

	_, err = env.fx.CreateTarget(c, testingutil.Phone(1), t0, nil)
	require.NoError(t, err)
	_, err = env.fx.CreateTarget(c, testingutil.Phone(2), t0, func(tg *models.CallTarget) {
		tg.Status = models.CallTargetStatusCalling
		tg.LastCallID = utils.ToPtr("prov-2")
	})
	require.NoError(t, err)
	_, err = env.fx.CreateTarget(c, testingutil.Phone(3), t0, func(tg *models.CallTarget) {
		tg.Status = models.CallTargetStatusCompleted
		tg.NextAttemptAt = nil
	})
	require.NoError(t, err)

	started, err := env.flow.StartCampaign(ctx, action(c))
	require.NoError(t, err)
	assert.Equal(t, models.CallCampaignStatusRunning.String(), started.Status)

	reloaded, err := env.fx.ReloadCampaign(c.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.StartedAt)
	assert.True(t, reloaded.StartedAt.Equal(t0))

	_, err = env.flow.StartCampaign(ctx, action(c))
	assert.True(t, IsInvalidStatusTransition(err))

	paused, err := env.flow.PauseCampaign(ctx, action(c))
	require.NoError(t, err)
	assert.Equal(t, models.CallCampaignStatusPaused.String(), paused.Status)

	_, err = env.flow.PauseCampaign(ctx, action(c))
	assert.True(t, IsInvalidStatusTransition(err))

	cancelled, err := env.flow.CancelCampaign(ctx, action(c))
	require.NoError(t, err)
	assert.Equal(t, models.CallCampaignStatusCompleted.String(), cancelled.Status)
	assert.Equal(t, int64(1), cancelled.Cancelled)

	got, err := env.flow.GetCampaign(ctx, action(c))
	require.NoError(t, err)
	assert.Equal(t, models.CallCampaignStatusCompleted.String(), got.Status)
	assert.Equal(t, int64(1), got.TargetCounts[models.CallTargetStatusCancelled.String()])
	assert.Equal(t, int64(1), got.TargetCounts[models.CallTargetStatusCalling.String()])
	assert.Equal(t, int64(1), got.TargetCounts[models.CallTargetStatusCompleted.String()])

	_, err = env.flow.CancelCampaign(ctx, action(c))
	assert.True(t, IsInvalidStatusTransition(err))
	_, err = env.flow.StartCampaign(ctx, action(c))
	assert.True(t, IsInvalidStatusTransition(err))
}

func TestListCampaignsAndTargets(t *testing.T) {
	env := newCampaignEnv(t)
	ctx := context.Background()

	var last *models.CallCampaign
	for i := 0; i < 3; i++ {
		last = env.draft(t, nil)
	}
	_, err := env.fx.CreateCampaign(func(c *models.CallCampaign) { c.AgentID = 2 })
	require.NoError(t, err)

	list, err := env.flow.ListCampaigns(ctx, &dto.ListCallCampaignsRequest{AgentID: 1, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, list.Items, 2)
	assert.Equal(t, last.UUID.String(), list.Items[0].UUID)
	assert.Equal(t, int64(3), list.Pagination.TotalItems)
	assert.Equal(t, 2, list.Pagination.TotalPages)

	_, err = env.flow.ListCampaigns(ctx, &dto.ListCallCampaignsRequest{AgentID: 1, Status: utils.ToPtr("archived")})
	assert.ErrorIs(t, err, ErrInvalidCampaignStatusFilter)

	for i := 1; i <= 3; i++ {
		_, err := env.fx.CreateTarget(last, testingutil.Phone(i), t0, nil)
		require.NoError(t, err)
	}
	targets, err := env.flow.ListTargets(ctx, &dto.ListCallTargetsRequest{
		CampaignUUID: last.UUID.String(), AgentID: last.AgentID, Status: utils.ToPtr("pending"),
	})
	require.NoError(t, err)
	require.Len(t, targets.Items, 3)
	assert.Equal(t, testingutil.Phone(1), targets.Items[0].PhoneNumber)
}

func TestExportTargets(t *testing.T) {
	env := newCampaignEnv(t)
	c := env.draft(t, nil)
	for i := 1; i <= 2; i++ {
		_, err := env.fx.CreateTarget(c, testingutil.Phone(i), t0, nil)
		require.NoError(t, err)
	}

	name, data, err := env.flow.ExportTargets(context.Background(), action(c))
	require.NoError(t, err)
	assert.Equal(t, "call_campaign_"+c.UUID.String()+"_targets.xlsx", name)

	xl, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = xl.Close() }()

	rows, err := xl.GetRows("targets")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "phone_number", rows[0][1])
	assert.Equal(t, testingutil.Phone(1), rows[1][1])
	assert.Equal(t, "pending", rows[1][2])
}
