package businessflow

import (
	"context"
	"errors"
	"time"

	"github.com/amirphl/yamata-dialer/app/metrics"
	"github.com/amirphl/yamata-dialer/models"
	"github.com/amirphl/yamata-dialer/repository"
	"github.com/amirphl/yamata-dialer/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReconcileResult values
const (
	ReconcileApplied         = "applied"
	ReconcileProgress        = "progress"
	ReconcileUnknownCall     = "unknown_call"
	ReconcileAlreadyResolved = "already_resolved"
	ReconcileSuperseded      = "superseded"
	ReconcileIgnored         = "ignored"
)

// ReconcileResult describes what a webhook did
type ReconcileResult struct {
	Result           string
	CallID           string
	TargetID         uint
	Outcome          Outcome
	TargetStatus     models.CallTargetStatus
	CampaignComplete bool
}

// CallOutcomeFlow turns provider webhooks into target transitions
type CallOutcomeFlow interface {
	Reconcile(ctx context.Context, raw []byte) (*ReconcileResult, error)
}

type CallOutcomeFlowImpl struct {
	targetRepo   repository.CallTargetRepository
	campaignRepo repository.CallCampaignRepository
	attemptRepo  repository.CallAttemptRepository
	db           *gorm.DB
	logger       *zap.Logger
	now          func() time.Time
}

func NewCallOutcomeFlow(
	targetRepo repository.CallTargetRepository,
	campaignRepo repository.CallCampaignRepository,
	attemptRepo repository.CallAttemptRepository,
	db *gorm.DB,
	logger *zap.Logger,
) *CallOutcomeFlowImpl {
	return &CallOutcomeFlowImpl{
		targetRepo:   targetRepo,
		campaignRepo: campaignRepo,
		attemptRepo:  attemptRepo,
		db:           db,
		logger:       logger.Named("reconciler"),
		now:          utils.UTCNow,
	}
}

// WithClock replaces the time source
func (f *CallOutcomeFlowImpl) WithClock(now func() time.Time) *CallOutcomeFlowImpl {
	f.now = now
	return f
}

// Reconcile applies one webhook. Webhooks for unknown calls, for targets that already left
// calling, and duplicates are acknowledged without effect.
func (f *CallOutcomeFlowImpl) Reconcile(ctx context.Context, raw []byte) (*ReconcileResult, error) {
	payload, err := ParseWebhookPayload(raw)
	if err != nil {
		metrics.Webhooks.WithLabelValues("invalid", "").Inc()
		return nil, NewBusinessError("INVALID_WEBHOOK_PAYLOAD", "Invalid webhook payload", err)
	}

	result := &ReconcileResult{CallID: payload.CallID, Outcome: ClassifyOutcome(payload)}
	defer func() {
		if result.Result != "" {
			metrics.Webhooks.WithLabelValues(result.Result, string(result.Outcome)).Inc()
		}
	}()

	if payload.CallID == "" {
		f.logger.Info("webhook without call_id ignored", zap.String("status", payload.Status))
		result.Result = ReconcileIgnored
		return result, nil
	}

	target, err := f.targetRepo.ByLastCallID(ctx, payload.CallID)
	if err != nil {
		return nil, NewBusinessError("TARGET_LOOKUP_FAILED", "Failed to look up call target", err)
	}
	if target == nil {
		f.logger.Warn("webhook for unknown call dropped", zap.String("call_id", payload.CallID), zap.String("status", payload.Status))
		result.Result = ReconcileUnknownCall
		return result, nil
	}
	result.TargetID = target.ID
	result.TargetStatus = target.Status

	if target.Status != models.CallTargetStatusCalling {
		f.logger.Info("webhook for resolved target ignored",
			zap.Uint("target_id", target.ID),
			zap.String("call_id", payload.CallID),
			zap.String("target_status", target.Status.String()))
		result.Result = ReconcileAlreadyResolved
		return result, nil
	}

	campaign, err := f.campaignRepo.ByID(ctx, target.CampaignID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to look up call campaign", err)
	}
	if campaign == nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to look up call campaign", ErrCampaignNotFound)
	}

	now := f.now()
	plan := PlanTransition(target, campaign, payload, now)

	var applied bool
	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		callID := payload.CallID
		var err error
		applied, err = f.targetRepo.ConditionalUpdate(txCtx, target.ID, repository.TargetCondition{
			Statuses:   []models.CallTargetStatus{models.CallTargetStatusCalling},
			LastCallID: &callID,
		}, plan.Patch())
		if err != nil || !applied || !plan.Resolves() {
			return err
		}

		if target.DispatchToken != nil {
			attemptPatch := map[string]any{
				"provider_call_id": callID,
				"outcome":          plan.AttemptOutcome(),
				"resolved_at":      now,
			}
			if plan.LastError != "" {
				attemptPatch["error"] = plan.LastError
			}
			if err := f.attemptRepo.UpdateByToken(txCtx, *target.DispatchToken, attemptPatch); err != nil {
				return err
			}
		}

		result.CampaignComplete, err = f.campaignRepo.CompleteIfResolved(txCtx, campaign.ID, now)
		return err
	})
	if err != nil {
		return nil, NewBusinessError("RECONCILE_FAILED", "Failed to apply webhook", err)
	}

	if !applied {
		f.logger.Info("webhook lost the race to another update", zap.Uint("target_id", target.ID), zap.String("call_id", payload.CallID))
		result.Result = ReconcileSuperseded
		return result, nil
	}

	result.TargetStatus = plan.Status
	if plan.Resolves() {
		result.Result = ReconcileApplied
	} else {
		result.Result = ReconcileProgress
	}
	if result.CampaignComplete {
		metrics.CampaignsCompleted.Inc()
		f.logger.Info("campaign completed", zap.Uint("campaign_id", campaign.ID))
	}

	f.logger.Info("webhook reconciled",
		zap.Uint("target_id", target.ID),
		zap.String("call_id", payload.CallID),
		zap.String("outcome", string(plan.Outcome)),
		zap.String("status", plan.Status.String()),
		zap.Int("attempts_made", target.AttemptsMade))

	return result, nil
}

// IsReconcileRetryable reports whether a failed reconciliation may succeed on redelivery
func IsReconcileRetryable(err error) bool {
	return err != nil && !errors.Is(err, ErrInvalidWebhookPayload)
}
