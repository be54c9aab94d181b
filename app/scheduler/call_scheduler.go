// Package scheduler runs the background loops of the dialer: the per-campaign dispatch tick and the stale-call sweeper
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amirphl/yamata-dialer/app/metrics"
	"github.com/amirphl/yamata-dialer/models"
	"github.com/amirphl/yamata-dialer/repository"
	"github.com/amirphl/yamata-dialer/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"
)

var (
	ErrCampaignNotFound   = errors.New("call campaign not found")
	ErrCampaignNotRunning = errors.New("call campaign is not running")
)

// SchedulerOptions tunes the dispatch loop
type SchedulerOptions struct {
	Interval            time.Duration
	CampaignsPerTick    int
	MaxBatchPerTick     int
	DispatchConcurrency int
	LeaseTTL            time.Duration
}

func (o SchedulerOptions) withDefaults() SchedulerOptions {
	if o.Interval <= 0 {
		o.Interval = 15 * time.Second
	}
	if o.CampaignsPerTick <= 0 {
		o.CampaignsPerTick = 200
	}
	if o.MaxBatchPerTick <= 0 {
		o.MaxBatchPerTick = 100
	}
	if o.DispatchConcurrency <= 0 {
		o.DispatchConcurrency = 8
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 2 * time.Minute
	}
	return o
}

// TickReport summarizes one pass over one campaign
type TickReport struct {
	CampaignID   uint
	Leased       bool
	Selected     int
	Claimed      int
	Placed       int
	SubmitFailed int
	Completed    bool
}

// CallScheduler periodically selects due targets of running campaigns, claims them and hands them to the dispatcher
type CallScheduler struct {
	campaignRepo repository.CallCampaignRepository
	targetRepo   repository.CallTargetRepository
	attemptRepo  repository.CallAttemptRepository
	dispatcher   *CallDispatcher
	lease        CampaignLease
	db           *gorm.DB
	logger       *zap.Logger
	opts         SchedulerOptions
	now          func() time.Time

	wg sync.WaitGroup
}

func NewCallScheduler(
	campaignRepo repository.CallCampaignRepository,
	targetRepo repository.CallTargetRepository,
	attemptRepo repository.CallAttemptRepository,
	dispatcher *CallDispatcher,
	lease CampaignLease,
	db *gorm.DB,
	logger *zap.Logger,
	opts SchedulerOptions,
) *CallScheduler {
	if lease == nil {
		lease = NewLocalLease()
	}
	return &CallScheduler{
		campaignRepo: campaignRepo,
		targetRepo:   targetRepo,
		attemptRepo:  attemptRepo,
		dispatcher:   dispatcher,
		lease:        lease,
		db:           db,
		logger:       logger.Named("scheduler"),
		opts:         opts.withDefaults(),
		now:          utils.UTCNow,
	}
}

// WithClock replaces the time source of the scheduler and its dispatcher
func (s *CallScheduler) WithClock(now func() time.Time) *CallScheduler {
	s.now = now
	s.dispatcher.WithClock(now)
	return s
}

// Start launches the scheduler loop in a background goroutine and returns a stop function.
// Stop cancels the loop and waits for campaign passes in flight.
func (s *CallScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()

		s.Tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()

	return func() {
		cancel()
		<-done
		s.wg.Wait()
	}
}

// Tick starts one pass per running campaign, each in its own goroutine, and waits for all of them
func (s *CallScheduler) Tick(ctx context.Context) {
	campaigns, err := s.campaignRepo.ListRunning(ctx, s.opts.CampaignsPerTick)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("failed to list running campaigns", zap.Error(err))
		}
		return
	}

	var tick sync.WaitGroup
	for _, c := range campaigns {
		s.wg.Add(1)
		tick.Add(1)
		go func(id uint) {
			defer s.wg.Done()
			defer tick.Done()
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("campaign pass panicked", zap.Uint("campaign_id", id), zap.Any("panic", r))
				}
			}()

			if _, err := s.ProcessCampaign(ctx, id); err != nil && ctx.Err() == nil {
				s.logger.Error("campaign pass failed", zap.Uint("campaign_id", id), zap.Error(err))
			}
		}(c.ID)
	}
	tick.Wait()
}

// ProcessCampaign runs one select, claim and dispatch pass over a campaign
func (s *CallScheduler) ProcessCampaign(ctx context.Context, campaignID uint) (*TickReport, error) {
	report := &TickReport{CampaignID: campaignID}

	release, ok, err := s.lease.Acquire(ctx, campaignID, s.opts.LeaseTTL)
	if err != nil {
		return report, err
	}
	if !ok {
		s.logger.Debug("campaign pass already in progress elsewhere", zap.Uint("campaign_id", campaignID))
		return report, nil
	}
	defer release()
	report.Leased = true

	started := time.Now()
	defer func() { metrics.CampaignTickDuration.Observe(time.Since(started).Seconds()) }()

	now := s.now()
	campaign, err := s.runningCampaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, ErrCampaignNotRunning) {
			return report, nil
		}
		return report, err
	}

	due, err := s.selectDue(ctx, campaign, now)
	if err != nil {
		return report, err
	}
	report.Selected = len(due)

	var claimed []*models.CallTarget
	for _, t := range due {
		c, err := s.claim(ctx, campaign, t, now)
		if err != nil {
			s.logger.Error("failed to claim target", zap.Uint("campaign_id", campaignID), zap.Uint("target_id", t.ID), zap.Error(err))
			continue
		}
		if c == nil {
			metrics.ClaimsLost.Inc()
			continue
		}
		claimed = append(claimed, c)
	}
	report.Claimed = len(claimed)

	// Every claimed target is dispatched even during shutdown, otherwise it waits for the sweeper.
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = semaphore.NewWeighted(int64(s.opts.DispatchConcurrency))
	)
	slotCtx := context.WithoutCancel(ctx)
	for _, t := range claimed {
		if err := sem.Acquire(slotCtx, 1); err != nil {
			wg.Wait()
			return report, err
		}
		wg.Go(func() {
			defer sem.Release(1)
			result, err := s.dispatcher.Dispatch(ctx, t, campaign)
			if err != nil {
				s.logger.Error("dispatch failed", zap.Uint("campaign_id", campaignID), zap.Uint("target_id", t.ID), zap.Error(err))
			}
			mu.Lock()
			defer mu.Unlock()
			switch result {
			case DispatchPlaced:
				report.Placed++
			case DispatchSubmitFailed:
				report.SubmitFailed++
			}
		})
	}
	wg.Wait()

	if err := s.campaignRepo.MarkRun(ctx, campaignID, now); err != nil {
		return report, err
	}
	completed, err := s.campaignRepo.CompleteIfResolved(ctx, campaignID, s.now())
	if err != nil {
		return report, err
	}
	if completed {
		report.Completed = true
		metrics.CampaignsCompleted.Inc()
		s.logger.Info("campaign completed", zap.Uint("campaign_id", campaignID))
	}

	if report.Selected > 0 {
		s.logger.Info("campaign pass finished",
			zap.Uint("campaign_id", campaignID),
			zap.Int("selected", report.Selected),
			zap.Int("claimed", report.Claimed),
			zap.Int("placed", report.Placed),
			zap.Int("submit_failed", report.SubmitFailed))
	}
	return report, nil
}

// SelectDueTargets returns the targets of a running campaign that may be called now,
// in dispatch order and capped by the remaining rate-limit budget
func (s *CallScheduler) SelectDueTargets(ctx context.Context, campaignID uint, now time.Time) ([]*models.CallTarget, error) {
	campaign, err := s.runningCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return s.selectDue(ctx, campaign, now)
}

func (s *CallScheduler) runningCampaign(ctx context.Context, campaignID uint) (*models.CallCampaign, error) {
	campaign, err := s.campaignRepo.ByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, ErrCampaignNotFound
	}
	if campaign.Status != models.CallCampaignStatusRunning {
		return nil, fmt.Errorf("%w: campaign %d is %s", ErrCampaignNotRunning, campaignID, campaign.Status)
	}
	return campaign, nil
}

func (s *CallScheduler) selectDue(ctx context.Context, campaign *models.CallCampaign, now time.Time) ([]*models.CallTarget, error) {
	recent, err := s.attemptRepo.CountDispatchedSince(ctx, campaign.ID, now.Add(-utils.RateLimitWindow))
	if err != nil {
		return nil, err
	}
	budget := campaign.RateLimitPerMinute - int(recent)
	if budget <= 0 {
		return nil, nil
	}
	return s.targetRepo.ListEligible(ctx, campaign.ID, campaign.MaxAttempts, now, min(budget, s.opts.MaxBatchPerTick))
}

// claim moves one selected target to calling and writes its attempt row. It returns nil when
// the target changed since selection or the campaign stopped running.
func (s *CallScheduler) claim(ctx context.Context, campaign *models.CallCampaign, target *models.CallTarget, now time.Time) (*models.CallTarget, error) {
	token := uuid.NewString()
	var claimed *models.CallTarget

	err := repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		ok, err := s.targetRepo.ConditionalUpdate(txCtx, target.ID, repository.TargetCondition{
			Statuses:        models.DispatchableCallTargetStatuses,
			CampaignRunning: true,
		}, map[string]any{
			"status":          models.CallTargetStatusCalling,
			"attempts_made":   gorm.Expr("attempts_made + 1"),
			"last_attempt_at": now,
			"next_attempt_at": nil,
			"dispatch_token":  token,
			"last_call_id":    token,
		})
		if err != nil || !ok {
			return err
		}

		if err := s.attemptRepo.Save(txCtx, &models.CallAttempt{
			TargetID:      target.ID,
			CampaignID:    campaign.ID,
			AttemptNumber: target.AttemptsMade + 1,
			DispatchToken: token,
			DispatchedAt:  now,
		}); err != nil {
			return err
		}

		c := *target
		c.Status = models.CallTargetStatusCalling
		c.AttemptsMade++
		c.LastAttemptAt = &now
		c.NextAttemptAt = nil
		c.DispatchToken = &token
		c.LastCallID = &token
		claimed = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}
