package scheduler

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/amirphl/yamata-dialer/app/metrics"
	"github.com/amirphl/yamata-dialer/app/services"
	"github.com/amirphl/yamata-dialer/models"
	"github.com/amirphl/yamata-dialer/repository"
	"github.com/amirphl/yamata-dialer/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dispatch results
const (
	DispatchPlaced       = "placed"
	DispatchSubmitFailed = "submit_failed"
	DispatchSkipped      = "skipped"
)

// CallDispatcher places the call of a claimed target and records the provider call id
type CallDispatcher struct {
	targetRepo   repository.CallTargetRepository
	campaignRepo repository.CallCampaignRepository
	attemptRepo  repository.CallAttemptRepository
	provider     services.VoiceProvider
	db           *gorm.DB
	logger       *zap.Logger
	now          func() time.Time
}

func NewCallDispatcher(
	targetRepo repository.CallTargetRepository,
	campaignRepo repository.CallCampaignRepository,
	attemptRepo repository.CallAttemptRepository,
	provider services.VoiceProvider,
	db *gorm.DB,
	logger *zap.Logger,
) *CallDispatcher {
	return &CallDispatcher{
		targetRepo:   targetRepo,
		campaignRepo: campaignRepo,
		attemptRepo:  attemptRepo,
		provider:     provider,
		db:           db,
		logger:       logger.Named("dispatcher"),
		now:          utils.UTCNow,
	}
}

// WithClock replaces the time source
func (d *CallDispatcher) WithClock(now func() time.Time) *CallDispatcher {
	d.now = now
	return d
}

// Dispatch places the call for target, which must have been claimed with its dispatch token.
// Provider failures are absorbed: the target is rescheduled and only database errors are returned.
func (d *CallDispatcher) Dispatch(ctx context.Context, target *models.CallTarget, campaign *models.CallCampaign) (string, error) {
	if target.DispatchToken == nil {
		return DispatchSkipped, errors.New("target was not claimed")
	}
	token := *target.DispatchToken
	log := d.logger.With(zap.Uint("campaign_id", campaign.ID), zap.Uint("target_id", target.ID), zap.Int("attempt", target.AttemptsMade))

	current, err := d.targetRepo.ByID(ctx, target.ID)
	if err != nil {
		return DispatchSkipped, err
	}
	if current == nil || current.Status != models.CallTargetStatusCalling || utils.Deref(current.DispatchToken) != token {
		log.Info("claim superseded before dispatch")
		return d.skipped(), nil
	}
	if callID := utils.Deref(current.LastCallID); callID != token {
		// The provider already accepted this attempt.
		status := "unknown"
		if info, err := d.provider.GetCall(ctx, callID); err == nil {
			status = info.Status
		}
		log.Info("call already placed for this attempt", zap.String("call_id", callID), zap.String("provider_status", status),
			zap.Bool("ongoing", services.IsCallOngoing(status)))
		return d.skipped(), nil
	}

	info, err := d.provider.PlaceCall(ctx, services.PlaceCallInput{
		PhoneNumber:        current.PhoneNumber,
		CallPurpose:        campaign.CallPurpose,
		AssistantOverrides: campaign.AssistantOverrides,
		Metadata: map[string]string{
			"campaign_id":    strconv.FormatUint(uint64(campaign.ID), 10),
			"campaign_uuid":  campaign.UUID.String(),
			"target_id":      strconv.FormatUint(uint64(current.ID), 10),
			"attempt":        strconv.Itoa(current.AttemptsMade),
			"dispatch_token": token,
		},
	})
	if err != nil {
		log.Warn("call submission failed", zap.Error(err))
		return DispatchSubmitFailed, d.recordSubmitFailure(ctx, current, campaign, token, err)
	}

	applied := false
	err = repository.WithTransaction(ctx, d.db, func(txCtx context.Context) error {
		var err error
		applied, err = d.targetRepo.ConditionalUpdate(txCtx, current.ID, repository.TargetCondition{
			Statuses:      []models.CallTargetStatus{models.CallTargetStatusCalling},
			LastCallID:    &token,
			DispatchToken: &token,
		}, map[string]any{
			"last_call_id":     info.ProviderCallID,
			"last_call_status": nullableString(info.Status),
		})
		if err != nil || !applied {
			return err
		}
		return d.attemptRepo.UpdateByToken(txCtx, token, map[string]any{"provider_call_id": info.ProviderCallID})
	})
	if err != nil {
		return DispatchPlaced, err
	}
	if !applied {
		metrics.ClaimsLost.Inc()
		log.Warn("provider accepted a call for a target that moved on", zap.String("call_id", info.ProviderCallID))
	}

	metrics.Dispatches.WithLabelValues(DispatchPlaced).Inc()
	log.Info("call placed", zap.String("call_id", info.ProviderCallID), zap.String("phone", current.PhoneNumber))
	return DispatchPlaced, nil
}

func (d *CallDispatcher) recordSubmitFailure(ctx context.Context, target *models.CallTarget, campaign *models.CallCampaign, token string, cause error) error {
	metrics.Dispatches.WithLabelValues(DispatchSubmitFailed).Inc()

	now := d.now()
	msg := "submit failed: " + cause.Error()
	patch := map[string]any{"last_error": msg}
	if target.AttemptsMade >= campaign.MaxAttempts {
		patch["status"] = models.CallTargetStatusExhausted
		patch["next_attempt_at"] = nil
		patch["completed_at"] = now
	} else {
		patch["status"] = models.CallTargetStatusPending
		patch["next_attempt_at"] = now.Add(campaign.RetryDelay())
	}

	return repository.WithTransaction(ctx, d.db, func(txCtx context.Context) error {
		applied, err := d.targetRepo.ConditionalUpdate(txCtx, target.ID, repository.TargetCondition{
			Statuses:      []models.CallTargetStatus{models.CallTargetStatusCalling},
			LastCallID:    &token,
			DispatchToken: &token,
		}, patch)
		if err != nil || !applied {
			return err
		}
		if err := d.attemptRepo.UpdateByToken(txCtx, token, map[string]any{
			"outcome":     models.CallAttemptOutcomeSubmitFailed,
			"error":       msg,
			"resolved_at": now,
		}); err != nil {
			return err
		}
		_, err = d.campaignRepo.CompleteIfResolved(txCtx, campaign.ID, now)
		return err
	})
}

func (d *CallDispatcher) skipped() string {
	metrics.Dispatches.WithLabelValues(DispatchSkipped).Inc()
	return DispatchSkipped
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
