package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/yamata-dialer/app/metrics"
	"github.com/amirphl/yamata-dialer/app/services"
	businessflow "github.com/amirphl/yamata-dialer/business_flow"
	"github.com/amirphl/yamata-dialer/models"
	"github.com/amirphl/yamata-dialer/repository"
	"github.com/amirphl/yamata-dialer/utils"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const staleSweepBatch = 500

// StaleCallSweeper releases targets stuck in calling because their final webhook never arrived
type StaleCallSweeper struct {
	targetRepo   repository.CallTargetRepository
	campaignRepo repository.CallCampaignRepository
	attemptRepo  repository.CallAttemptRepository
	provider     services.VoiceProvider
	db           *gorm.DB
	logger       *zap.Logger
	timeout      time.Duration
	schedule     string
	now          func() time.Time
}

func NewStaleCallSweeper(
	targetRepo repository.CallTargetRepository,
	campaignRepo repository.CallCampaignRepository,
	attemptRepo repository.CallAttemptRepository,
	provider services.VoiceProvider,
	db *gorm.DB,
	logger *zap.Logger,
	timeout time.Duration,
	schedule string,
) *StaleCallSweeper {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	if schedule == "" {
		schedule = "@every 5m"
	}
	return &StaleCallSweeper{
		targetRepo:   targetRepo,
		campaignRepo: campaignRepo,
		attemptRepo:  attemptRepo,
		provider:     provider,
		db:           db,
		logger:       logger.Named("sweeper"),
		timeout:      timeout,
		schedule:     schedule,
		now:          utils.UTCNow,
	}
}

// WithClock replaces the time source
func (s *StaleCallSweeper) WithClock(now func() time.Time) *StaleCallSweeper {
	s.now = now
	return s
}

// Start registers the sweep on a cron runner and returns a stop function that waits for a running sweep
func (s *StaleCallSweeper) Start(parent context.Context) (func(), error) {
	ctx, cancel := context.WithCancel(parent)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	_, err := c.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("stale call sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	c.Start()

	return func() {
		cancel()
		<-c.Stop().Done()
	}, nil
}

// Sweep releases targets whose attempt started more than the timeout ago. It returns the number
// of released targets.
func (s *StaleCallSweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	stale, err := s.targetRepo.ListStaleCalling(ctx, now.Add(-s.timeout), staleSweepBatch)
	if err != nil {
		return 0, err
	}

	campaigns := make(map[uint]*models.CallCampaign)
	released := 0
	for _, t := range stale {
		campaign, ok := campaigns[t.CampaignID]
		if !ok {
			campaign, err = s.campaignRepo.ByID(ctx, t.CampaignID)
			if err != nil {
				return released, err
			}
			campaigns[t.CampaignID] = campaign
		}
		if campaign == nil {
			continue
		}

		ok, err := s.release(ctx, t, campaign, now)
		if err != nil {
			s.logger.Error("failed to release stale target", zap.Uint("target_id", t.ID), zap.Error(err))
			continue
		}
		if ok {
			released++
		}
	}

	if released > 0 {
		s.logger.Info("stale calls released", zap.Int("count", released))
	}
	return released, nil
}

// release resolves one stale target. A final status reported by the provider is applied as if
// its webhook had arrived. Calls the provider still reports as ongoing, or cannot report on, are
// left alone until they pass twice the timeout; then they are released as timed out.
func (s *StaleCallSweeper) release(ctx context.Context, target *models.CallTarget, campaign *models.CallCampaign, now time.Time) (bool, error) {
	callID := utils.Deref(target.LastCallID)
	overdue := target.LastAttemptAt != nil && now.Sub(*target.LastAttemptAt) >= 2*s.timeout

	payload := &businessflow.WebhookPayload{
		CallID: callID,
		Status: "timeout",
		Error:  fmt.Sprintf("no final webhook within %s", s.timeout),
	}
	fromProvider := false
	if callID != "" && callID != utils.Deref(target.DispatchToken) {
		info, err := s.provider.GetCall(ctx, callID)
		switch {
		case errors.Is(err, services.ErrCallNotFound):
		case err != nil:
			if !overdue {
				s.logger.Warn("provider lookup failed; stale target kept",
					zap.Uint("target_id", target.ID), zap.String("call_id", callID), zap.Error(err))
				return false, nil
			}
		case info == nil || info.Status == "" || services.IsCallOngoing(info.Status):
			if !overdue {
				return false, nil
			}
		default:
			payload = &businessflow.WebhookPayload{CallID: callID, Status: info.Status}
			fromProvider = true
		}
	}

	plan := businessflow.PlanTransition(target, campaign, payload, now)
	attemptOutcome := models.CallAttemptOutcomeStale
	if fromProvider {
		attemptOutcome = plan.AttemptOutcome()
	}

	patch := plan.Patch()
	delete(patch, "last_webhook_payload")

	var applied bool
	err := repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		var err error
		applied, err = s.targetRepo.ConditionalUpdate(txCtx, target.ID, repository.TargetCondition{
			Statuses:   []models.CallTargetStatus{models.CallTargetStatusCalling},
			LastCallID: &callID,
		}, patch)
		if err != nil || !applied {
			return err
		}
		if target.DispatchToken != nil {
			if err := s.attemptRepo.UpdateByToken(txCtx, *target.DispatchToken, map[string]any{
				"outcome":     attemptOutcome,
				"error":       nullableString(plan.LastError),
				"resolved_at": now,
			}); err != nil {
				return err
			}
		}
		_, err = s.campaignRepo.CompleteIfResolved(txCtx, campaign.ID, now)
		return err
	})
	if err != nil || !applied {
		return false, err
	}

	metrics.StaleRecovered.WithLabelValues(plan.Status.String()).Inc()
	s.logger.Info("stale target released",
		zap.Uint("target_id", target.ID),
		zap.String("call_id", callID),
		zap.String("status", plan.Status.String()),
		zap.Bool("from_provider", fromProvider))
	return true, nil
}
