package repository

import (
	"context"
	"testing"
	"time"

	"github.com/amirphl/yamata-dialer/models"
	testingutil "github.com/amirphl/yamata-dialer/testing"
	"github.com/amirphl/yamata-dialer/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallCampaignRepository_CompleteIfResolved(t *testing.T) {
	tdb, fx := setup(t)
	repo := NewCallCampaignRepository(tdb.DB)
	ctx := context.Background()

	campaign, err := fx.CreateCampaign(nil)
	require.NoError(t, err)
	target, err := fx.CreateTarget(campaign, testingutil.Phone(1), t0, nil)
	require.NoError(t, err)

	completed, err := repo.CompleteIfResolved(ctx, campaign.ID, t0)
	require.NoError(t, err)
	assert.False(t, completed, "pending target keeps the campaign open")

	require.NoError(t, tdb.DB.Model(target).Updates(map[string]any{
		"status":          models.CallTargetStatusCompleted,
		"next_attempt_at": nil,
	}).Error)

	completed, err = repo.CompleteIfResolved(ctx, campaign.ID, t0)
	require.NoError(t, err)
	assert.True(t, completed)

	reloaded, err := fx.ReloadCampaign(campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallCampaignStatusCompleted, reloaded.Status)
	require.NotNil(t, reloaded.CompletedAt)
	assert.True(t, reloaded.CompletedAt.Equal(t0))

	completed, err = repo.CompleteIfResolved(ctx, campaign.ID, t0)
	require.NoError(t, err)
	assert.False(t, completed, "already completed")
}

func TestCallCampaignRepository_CompleteIfResolvedIgnoresDraft(t *testing.T) {
	tdb, fx := setup(t)
	repo := NewCallCampaignRepository(tdb.DB)

	draft, err := fx.CreateCampaign(func(c *models.CallCampaign) { c.Status = models.CallCampaignStatusDraft })
	require.NoError(t, err)

	completed, err := repo.CompleteIfResolved(context.Background(), draft.ID, t0)
	require.NoError(t, err)
	assert.False(t, completed)
}

func TestCallCampaignRepository_TransitionStatus(t *testing.T) {
	tdb, fx := setup(t)
	repo := NewCallCampaignRepository(tdb.DB)
	ctx := context.Background()

	campaign, err := fx.CreateCampaign(func(c *models.CallCampaign) { c.Status = models.CallCampaignStatusDraft })
	require.NoError(t, err)

	ok, err := repo.TransitionStatus(ctx, campaign.ID,
		[]models.CallCampaignStatus{models.CallCampaignStatusDraft},
		models.CallCampaignStatusRunning,
		map[string]any{"started_at": t0})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.TransitionStatus(ctx, campaign.ID,
		[]models.CallCampaignStatus{models.CallCampaignStatusDraft},
		models.CallCampaignStatusRunning, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	running, err := repo.ListRunning(ctx, 0)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, campaign.ID, running[0].ID)
	require.NotNil(t, running[0].StartedAt)
	assert.True(t, running[0].StartedAt.Equal(t0))
}

func TestCallCampaignRepository_ByUUIDAndUpdate(t *testing.T) {
	tdb, fx := setup(t)
	repo := NewCallCampaignRepository(tdb.DB)
	ctx := context.Background()

	campaign, err := fx.CreateCampaign(nil)
	require.NoError(t, err)

	found, err := repo.ByUUID(ctx, campaign.UUID.String())
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, models.ContactRoles{"owner"}, found.ContactRoles)
	assert.Equal(t, "calm", found.AssistantOverrides["voice"])

	missing, err := repo.ByUUID(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = repo.ByUUID(ctx, "not-a-uuid")
	require.Error(t, err)

	found.Title = "Renamed"
	found.ContactRoles = models.ContactRoles{"owner", "lawyer"}
	found.PropertyID = utils.ToPtr(uint(42))
	require.NoError(t, repo.Update(ctx, found))

	reloaded, err := repo.ByID(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", reloaded.Title)
	assert.Equal(t, models.ContactRoles{"owner", "lawyer"}, reloaded.ContactRoles)
	assert.Equal(t, uint(42), utils.Deref(reloaded.PropertyID))
}

func TestCallAttemptRepository_CountDispatchedSince(t *testing.T) {
	tdb, fx := setup(t)
	repo := NewCallAttemptRepository(tdb.DB)
	ctx := context.Background()

	campaign, err := fx.CreateCampaign(nil)
	require.NoError(t, err)
	target, err := fx.CreateTarget(campaign, testingutil.Phone(1), t0, nil)
	require.NoError(t, err)

	for i, at := range []time.Time{t0.Add(-90 * time.Second), t0.Add(-30 * time.Second), t0.Add(-time.Second)} {
		require.NoError(t, repo.Save(ctx, &models.CallAttempt{
			TargetID:      target.ID,
			CampaignID:    campaign.ID,
			AttemptNumber: i + 1,
			DispatchToken: uuid.NewString(),
			DispatchedAt:  at,
		}))
	}

	count, err := repo.CountDispatchedSince(ctx, campaign.ID, t0.Add(-utils.RateLimitWindow))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	other, err := repo.CountDispatchedSince(ctx, campaign.ID+1, t0.Add(-utils.RateLimitWindow))
	require.NoError(t, err)
	assert.Zero(t, other)
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	tdb, fx := setup(t)
	repo := NewCallTargetRepository(tdb.DB)

	campaign, err := fx.CreateCampaign(nil)
	require.NoError(t, err)

	err = WithTransaction(context.Background(), tdb.DB, func(txCtx context.Context) error {
		if err := repo.Save(txCtx, &models.CallTarget{CampaignID: campaign.ID, PhoneNumber: testingutil.Phone(1)}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	count, err := repo.Count(context.Background(), models.CallTargetFilter{CampaignID: &campaign.ID})
	require.NoError(t, err)
	assert.Zero(t, count)
}
