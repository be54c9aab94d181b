package businessflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/amirphl/yamata-dialer/app/dto"
	"github.com/amirphl/yamata-dialer/models"
	"github.com/amirphl/yamata-dialer/repository"
	"github.com/amirphl/yamata-dialer/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CallCampaignFlow is the operator surface of the dialer
type CallCampaignFlow interface {
	CreateCampaign(ctx context.Context, req *dto.CreateCallCampaignRequest) (*dto.CreateCallCampaignResponse, error)
	GetCampaign(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CallCampaignResponse, error)
	ListCampaigns(ctx context.Context, req *dto.ListCallCampaignsRequest) (*dto.ListCallCampaignsResponse, error)
	UpdateCampaign(ctx context.Context, req *dto.UpdateCallCampaignRequest) (*dto.CallCampaignResponse, error)
	EnrollTargets(ctx context.Context, req *dto.EnrollTargetsRequest) (*dto.EnrollTargetsResponse, error)
	EnrollFromContacts(ctx context.Context, req *dto.CampaignActionRequest) (*dto.EnrollTargetsResponse, error)
	StartCampaign(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CampaignActionResponse, error)
	PauseCampaign(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CampaignActionResponse, error)
	CancelCampaign(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CampaignActionResponse, error)
	ListTargets(ctx context.Context, req *dto.ListCallTargetsRequest) (*dto.ListCallTargetsResponse, error)
	ExportTargets(ctx context.Context, req *dto.CampaignActionRequest) (string, []byte, error)
}

// CallCampaignFlowImpl implements CallCampaignFlow
type CallCampaignFlowImpl struct {
	campaignRepo  repository.CallCampaignRepository
	targetRepo    repository.CallTargetRepository
	contactRepo   repository.ContactRepository
	db            *gorm.DB
	defaultRegion string
	logger        *zap.Logger
	now           func() time.Time
}

// NewCallCampaignFlow creates the campaign flow. defaultRegion is the ISO country used
// to read phone numbers written without a country code.
func NewCallCampaignFlow(
	campaignRepo repository.CallCampaignRepository,
	targetRepo repository.CallTargetRepository,
	contactRepo repository.ContactRepository,
	db *gorm.DB,
	defaultRegion string,
	logger *zap.Logger,
) *CallCampaignFlowImpl {
	return &CallCampaignFlowImpl{
		campaignRepo:  campaignRepo,
		targetRepo:    targetRepo,
		contactRepo:   contactRepo,
		db:            db,
		defaultRegion: defaultRegion,
		logger:        logger.Named("campaigns"),
		now:           utils.UTCNow,
	}
}

// WithClock replaces the time source
func (f *CallCampaignFlowImpl) WithClock(now func() time.Time) *CallCampaignFlowImpl {
	f.now = now
	return f
}

// CreateCampaign stores a new draft campaign
func (f *CallCampaignFlowImpl) CreateCampaign(ctx context.Context, req *dto.CreateCallCampaignRequest) (*dto.CreateCallCampaignResponse, error) {
	if err := validateCreateCampaignRequest(req); err != nil {
		return nil, NewBusinessError("CAMPAIGN_VALIDATION_FAILED", "Campaign validation failed", err)
	}

	campaign := &models.CallCampaign{
		AgentID:            req.AgentID,
		Title:              req.Title,
		Status:             models.CallCampaignStatusDraft,
		CallPurpose:        req.CallPurpose,
		PropertyID:         req.PropertyID,
		ContactRoles:       models.ContactRoles(req.ContactRoles).Normalized(),
		MaxAttempts:        intOrDefault(req.MaxAttempts, utils.DefaultMaxAttempts),
		RetryDelayMinutes:  intOrDefault(req.RetryDelayMinutes, utils.DefaultRetryDelayMinutes),
		RateLimitPerMinute: intOrDefault(req.RateLimitPerMinute, utils.DefaultRateLimitPerMinute),
		AssistantOverrides: models.AssistantOverrides(req.AssistantOverrides),
	}
	if err := validateCampaignSettings(campaign); err != nil {
		return nil, NewBusinessError("CAMPAIGN_VALIDATION_FAILED", "Campaign validation failed", err)
	}

	if err := f.campaignRepo.Save(ctx, campaign); err != nil {
		return nil, NewBusinessError("CAMPAIGN_CREATION_FAILED", "Campaign creation failed", err)
	}

	f.logger.Info("call campaign created",
		zap.Uint("campaign_id", campaign.ID),
		zap.String("uuid", campaign.UUID.String()),
		zap.Uint("agent_id", campaign.AgentID))

	return &dto.CreateCallCampaignResponse{
		Message:   "Campaign created successfully",
		UUID:      campaign.UUID.String(),
		Status:    campaign.Status.String(),
		CreatedAt: campaign.CreatedAt.Format(time.RFC3339),
	}, nil
}

// GetCampaign returns one campaign with per-status target counts
func (f *CallCampaignFlowImpl) GetCampaign(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CallCampaignResponse, error) {
	campaign, err := f.ownedCampaign(ctx, req.CampaignUUID, req.AgentID)
	if err != nil {
		return nil, NewBusinessError("GET_CAMPAIGN_FAILED", "Failed to get campaign", err)
	}

	counts, err := f.targetRepo.CountByStatus(ctx, campaign.ID)
	if err != nil {
		return nil, NewBusinessError("GET_CAMPAIGN_FAILED", "Failed to get campaign", err)
	}

	resp := toCampaignResponse(campaign)
	resp.TargetCounts = make(map[string]int64, len(counts))
	for status, n := range counts {
		resp.TargetCounts[status.String()] = n
	}
	return &resp, nil
}

// ListCampaigns returns a page of the agent's campaigns, newest first
func (f *CallCampaignFlowImpl) ListCampaigns(ctx context.Context, req *dto.ListCallCampaignsRequest) (*dto.ListCallCampaignsResponse, error) {
	page, pageSize, err := normalizePage(req.Page, req.PageSize, 100)
	if err != nil {
		return nil, NewBusinessError("LIST_CAMPAIGNS_FAILED", "Failed to list campaigns", err)
	}

	filter := models.CallCampaignFilter{AgentID: &req.AgentID}
	if req.Status != nil {
		status := models.CallCampaignStatus(*req.Status)
		if !status.Valid() {
			return nil, NewBusinessError("LIST_CAMPAIGNS_FAILED", "Failed to list campaigns", ErrInvalidCampaignStatusFilter)
		}
		filter.Status = &status
	}

	total, err := f.campaignRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("LIST_CAMPAIGNS_FAILED", "Failed to list campaigns", err)
	}
	rows, err := f.campaignRepo.ByFilter(ctx, filter, "id DESC", pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("LIST_CAMPAIGNS_FAILED", "Failed to list campaigns", err)
	}

	items := make([]dto.CallCampaignResponse, 0, len(rows))
	for _, c := range rows {
		items = append(items, toCampaignResponse(c))
	}

	return &dto.ListCallCampaignsResponse{
		Message:    "Campaigns retrieved successfully",
		Items:      items,
		Pagination: pagination(page, pageSize, total),
	}, nil
}

// UpdateCampaign edits the settings of a draft or paused campaign
func (f *CallCampaignFlowImpl) UpdateCampaign(ctx context.Context, req *dto.UpdateCallCampaignRequest) (*dto.CallCampaignResponse, error) {
	if req.Title == nil && req.CallPurpose == nil && req.PropertyID == nil && req.ContactRoles == nil &&
		req.MaxAttempts == nil && req.RetryDelayMinutes == nil && req.RateLimitPerMinute == nil && req.AssistantOverrides == nil {
		return nil, NewBusinessError("CAMPAIGN_UPDATE_FAILED", "Campaign update failed", ErrCampaignUpdateRequired)
	}

	campaign, err := f.ownedCampaign(ctx, req.UUID, req.AgentID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_UPDATE_FAILED", "Campaign update failed", err)
	}
	if campaign.Status != models.CallCampaignStatusDraft && campaign.Status != models.CallCampaignStatusPaused {
		return nil, NewBusinessError("CAMPAIGN_UPDATE_FAILED", "Campaign update failed", ErrCampaignUpdateNotAllowed)
	}

	if req.Title != nil {
		campaign.Title = *req.Title
	}
	if req.CallPurpose != nil {
		campaign.CallPurpose = *req.CallPurpose
	}
	if req.PropertyID != nil {
		campaign.PropertyID = req.PropertyID
	}
	if req.ContactRoles != nil {
		campaign.ContactRoles = models.ContactRoles(*req.ContactRoles).Normalized()
	}
	if req.MaxAttempts != nil {
		campaign.MaxAttempts = *req.MaxAttempts
	}
	if req.RetryDelayMinutes != nil {
		campaign.RetryDelayMinutes = *req.RetryDelayMinutes
	}
	if req.RateLimitPerMinute != nil {
		campaign.RateLimitPerMinute = *req.RateLimitPerMinute
	}
	if req.AssistantOverrides != nil {
		campaign.AssistantOverrides = models.AssistantOverrides(*req.AssistantOverrides)
	}
	if err := validateCampaignSettings(campaign); err != nil {
		return nil, NewBusinessError("CAMPAIGN_UPDATE_FAILED", "Campaign update failed", err)
	}

	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		// A cap below attempts already spent would strand those targets: never eligible, never terminal.
		if req.MaxAttempts != nil {
			highest, err := f.targetRepo.MaxAttemptsMade(txCtx, campaign.ID)
			if err != nil {
				return err
			}
			if campaign.MaxAttempts < highest {
				return fmt.Errorf("%w: max_attempts cannot be lower than the %d attempts already made", ErrInvalidCampaignSettings, highest)
			}
		}
		return f.campaignRepo.Update(txCtx, campaign)
	})
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_UPDATE_FAILED", "Campaign update failed", err)
	}

	resp := toCampaignResponse(campaign)
	return &resp, nil
}

// EnrollTargets adds explicit phone numbers. The request is all-or-nothing: any invalid or
// duplicate number rejects the whole batch.
func (f *CallCampaignFlowImpl) EnrollTargets(ctx context.Context, req *dto.EnrollTargetsRequest) (*dto.EnrollTargetsResponse, error) {
	if len(req.Targets) == 0 {
		return nil, NewBusinessError("ENROLLMENT_FAILED", "Target enrollment failed", ErrNoTargetsProvided)
	}
	if len(req.Targets) > utils.MaxEnrollmentBatch {
		return nil, NewBusinessError("ENROLLMENT_FAILED", "Target enrollment failed", ErrTooManyTargets)
	}

	campaign, err := f.enrollableCampaign(ctx, req.CampaignUUID, req.AgentID)
	if err != nil {
		return nil, NewBusinessError("ENROLLMENT_FAILED", "Target enrollment failed", err)
	}

	now := f.now()
	seen := make(map[string]struct{}, len(req.Targets))
	targets := make([]*models.CallTarget, 0, len(req.Targets))
	var invalid, duplicates []string
	for _, item := range req.Targets {
		phone, err := utils.NormalizePhone(item.PhoneNumber, f.defaultRegion)
		if err != nil {
			invalid = append(invalid, item.PhoneNumber)
			continue
		}
		if _, dup := seen[phone]; dup {
			duplicates = append(duplicates, phone)
			continue
		}
		seen[phone] = struct{}{}
		targets = append(targets, newTarget(campaign, phone, item.ContactID, item.PropertyID, now))
	}
	if len(invalid) > 0 {
		return nil, NewBusinessError("INVALID_PHONE_NUMBER", "Target enrollment failed",
			&PhoneNumberError{Kind: ErrInvalidPhoneNumber, Numbers: invalid})
	}
	if len(duplicates) > 0 {
		return nil, NewBusinessError("DUPLICATE_PHONE_NUMBER", "Target enrollment failed",
			&PhoneNumberError{Kind: ErrDuplicatePhoneNumber, Numbers: duplicates})
	}

	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		existing, err := f.targetRepo.ExistingPhones(txCtx, campaign.ID, phonesOf(targets))
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return &PhoneNumberError{Kind: ErrDuplicatePhoneNumber, Numbers: existing}
		}
		return f.saveTargets(txCtx, targets)
	})
	if err != nil {
		if IsDuplicatePhoneNumber(err) {
			return nil, NewBusinessError("DUPLICATE_PHONE_NUMBER", "Target enrollment failed", err)
		}
		return nil, NewBusinessError("ENROLLMENT_FAILED", "Target enrollment failed", err)
	}

	f.logger.Info("targets enrolled", zap.Uint("campaign_id", campaign.ID), zap.Int("count", len(targets)))

	return &dto.EnrollTargetsResponse{
		Message:  "Targets enrolled successfully",
		Enrolled: len(targets),
	}, nil
}

// EnrollFromContacts enrolls the linked property's contacts whose role the campaign calls.
// Already enrolled and unusable numbers are skipped rather than rejected.
func (f *CallCampaignFlowImpl) EnrollFromContacts(ctx context.Context, req *dto.CampaignActionRequest) (*dto.EnrollTargetsResponse, error) {
	campaign, err := f.enrollableCampaign(ctx, req.CampaignUUID, req.AgentID)
	if err != nil {
		return nil, NewBusinessError("ENROLLMENT_FAILED", "Target enrollment failed", err)
	}
	if campaign.PropertyID == nil {
		return nil, NewBusinessError("ENROLLMENT_FAILED", "Target enrollment failed", ErrCampaignPropertyRequired)
	}

	contacts, err := f.contactRepo.ListByPropertyAndRoles(ctx, *campaign.PropertyID, campaign.ContactRoles)
	if err != nil {
		return nil, NewBusinessError("ENROLLMENT_FAILED", "Target enrollment failed", err)
	}

	now := f.now()
	resp := &dto.EnrollTargetsResponse{Message: "Contacts enrolled successfully"}
	seen := make(map[string]struct{}, len(contacts))
	candidates := make([]*models.CallTarget, 0, len(contacts))
	for _, c := range contacts {
		phone, err := utils.NormalizePhone(c.PhoneNumber, f.defaultRegion)
		if err != nil {
			resp.Invalid = append(resp.Invalid, c.PhoneNumber)
			continue
		}
		if _, dup := seen[phone]; dup {
			resp.Skipped++
			continue
		}
		seen[phone] = struct{}{}
		contactID := c.ID
		propertyID := c.PropertyID
		candidates = append(candidates, newTarget(campaign, phone, &contactID, &propertyID, now))
	}

	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		existing, err := f.targetRepo.ExistingPhones(txCtx, campaign.ID, phonesOf(candidates))
		if err != nil {
			return err
		}
		fresh := slices.DeleteFunc(candidates, func(t *models.CallTarget) bool {
			return slices.Contains(existing, t.PhoneNumber)
		})
		resp.Skipped += len(existing)
		resp.Enrolled = len(fresh)
		return f.saveTargets(txCtx, fresh)
	})
	if err != nil {
		return nil, NewBusinessError("ENROLLMENT_FAILED", "Target enrollment failed", err)
	}

	f.logger.Info("contacts enrolled",
		zap.Uint("campaign_id", campaign.ID),
		zap.Int("enrolled", resp.Enrolled),
		zap.Int("skipped", resp.Skipped),
		zap.Int("invalid", len(resp.Invalid)))

	return resp, nil
}

// StartCampaign moves a draft or paused campaign to running
func (f *CallCampaignFlowImpl) StartCampaign(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CampaignActionResponse, error) {
	campaign, err := f.ownedCampaign(ctx, req.CampaignUUID, req.AgentID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_START_FAILED", "Campaign start failed", err)
	}
	if !campaign.CanTransitionTo(models.CallCampaignStatusRunning) {
		return nil, NewBusinessError("CAMPAIGN_START_FAILED", "Campaign start failed", ErrInvalidStatusTransition)
	}

	pending, err := f.targetRepo.CountNonTerminal(ctx, campaign.ID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_START_FAILED", "Campaign start failed", err)
	}
	if pending == 0 {
		return nil, NewBusinessError("CAMPAIGN_START_FAILED", "Campaign start failed", ErrCampaignHasNoTargets)
	}

	patch := map[string]any{}
	if campaign.StartedAt == nil {
		patch["started_at"] = f.now()
	}
	return f.transition(ctx, campaign, models.CallCampaignStatusRunning, patch, "Campaign started successfully", "CAMPAIGN_START_FAILED")
}

// PauseCampaign stops new dispatches. Calls in flight still reconcile.
func (f *CallCampaignFlowImpl) PauseCampaign(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CampaignActionResponse, error) {
	campaign, err := f.ownedCampaign(ctx, req.CampaignUUID, req.AgentID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_PAUSE_FAILED", "Campaign pause failed", err)
	}
	if campaign.Status != models.CallCampaignStatusRunning {
		return nil, NewBusinessError("CAMPAIGN_PAUSE_FAILED", "Campaign pause failed", ErrInvalidStatusTransition)
	}
	return f.transition(ctx, campaign, models.CallCampaignStatusPaused, nil, "Campaign paused successfully", "CAMPAIGN_PAUSE_FAILED")
}

// CancelCampaign cancels every pending target and completes the campaign
func (f *CallCampaignFlowImpl) CancelCampaign(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CampaignActionResponse, error) {
	campaign, err := f.ownedCampaign(ctx, req.CampaignUUID, req.AgentID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_CANCEL_FAILED", "Campaign cancel failed", err)
	}
	if !campaign.CanTransitionTo(models.CallCampaignStatusCompleted) {
		return nil, NewBusinessError("CAMPAIGN_CANCEL_FAILED", "Campaign cancel failed", ErrInvalidStatusTransition)
	}

	now := f.now()
	var cancelled int64
	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		ok, err := f.campaignRepo.TransitionStatus(txCtx, campaign.ID,
			[]models.CallCampaignStatus{campaign.Status},
			models.CallCampaignStatusCompleted,
			map[string]any{"completed_at": now})
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidStatusTransition
		}
		cancelled, err = f.targetRepo.CancelPending(txCtx, campaign.ID, now)
		return err
	})
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_CANCEL_FAILED", "Campaign cancel failed", err)
	}

	f.logger.Info("call campaign cancelled", zap.Uint("campaign_id", campaign.ID), zap.Int64("cancelled_targets", cancelled))

	return &dto.CampaignActionResponse{
		Message:   "Campaign cancelled successfully",
		UUID:      campaign.UUID.String(),
		Status:    models.CallCampaignStatusCompleted.String(),
		Cancelled: cancelled,
	}, nil
}

// ListTargets returns a page of the campaign's targets in enrollment order
func (f *CallCampaignFlowImpl) ListTargets(ctx context.Context, req *dto.ListCallTargetsRequest) (*dto.ListCallTargetsResponse, error) {
	page, pageSize, err := normalizePage(req.Page, req.PageSize, 500)
	if err != nil {
		return nil, NewBusinessError("LIST_TARGETS_FAILED", "Failed to list targets", err)
	}

	campaign, err := f.ownedCampaign(ctx, req.CampaignUUID, req.AgentID)
	if err != nil {
		return nil, NewBusinessError("LIST_TARGETS_FAILED", "Failed to list targets", err)
	}

	filter := models.CallTargetFilter{CampaignID: &campaign.ID}
	if req.Status != nil {
		status := models.CallTargetStatus(*req.Status)
		if !status.Valid() {
			return nil, NewBusinessError("LIST_TARGETS_FAILED", "Failed to list targets", ErrInvalidTargetStatuses)
		}
		filter.Status = &status
	}

	total, err := f.targetRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("LIST_TARGETS_FAILED", "Failed to list targets", err)
	}
	rows, err := f.targetRepo.ByFilter(ctx, filter, "id ASC", pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("LIST_TARGETS_FAILED", "Failed to list targets", err)
	}

	items := make([]dto.CallTargetItem, 0, len(rows))
	for _, t := range rows {
		items = append(items, toTargetItem(t))
	}

	return &dto.ListCallTargetsResponse{
		Message:    "Targets retrieved successfully",
		Items:      items,
		Pagination: pagination(page, pageSize, total),
	}, nil
}

func (f *CallCampaignFlowImpl) transition(ctx context.Context, campaign *models.CallCampaign, to models.CallCampaignStatus, patch map[string]any, message, code string) (*dto.CampaignActionResponse, error) {
	ok, err := f.campaignRepo.TransitionStatus(ctx, campaign.ID, []models.CallCampaignStatus{campaign.Status}, to, patch)
	if err != nil {
		return nil, NewBusinessError(code, message, err)
	}
	if !ok {
		return nil, NewBusinessError(code, "Campaign status changed concurrently", ErrInvalidStatusTransition)
	}

	f.logger.Info("call campaign status changed",
		zap.Uint("campaign_id", campaign.ID),
		zap.String("from", campaign.Status.String()),
		zap.String("to", to.String()))

	return &dto.CampaignActionResponse{
		Message: message,
		UUID:    campaign.UUID.String(),
		Status:  to.String(),
	}, nil
}

func (f *CallCampaignFlowImpl) ownedCampaign(ctx context.Context, campaignUUID string, agentID uint) (*models.CallCampaign, error) {
	if campaignUUID == "" {
		return nil, ErrCampaignUUIDRequired
	}
	if _, err := uuid.Parse(campaignUUID); err != nil {
		return nil, ErrCampaignNotFound
	}
	campaign, err := f.campaignRepo.ByUUID(ctx, campaignUUID)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, ErrCampaignNotFound
	}
	if campaign.AgentID != agentID {
		return nil, ErrCampaignAccessDenied
	}
	return campaign, nil
}

func (f *CallCampaignFlowImpl) enrollableCampaign(ctx context.Context, campaignUUID string, agentID uint) (*models.CallCampaign, error) {
	campaign, err := f.ownedCampaign(ctx, campaignUUID, agentID)
	if err != nil {
		return nil, err
	}
	if !campaign.AcceptsEnrollment() {
		return nil, ErrCampaignCompleted
	}
	return campaign, nil
}

func (f *CallCampaignFlowImpl) saveTargets(ctx context.Context, targets []*models.CallTarget) error {
	if err := f.targetRepo.SaveBatch(ctx, targets); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %v", ErrDuplicatePhoneNumber, err)
		}
		return err
	}
	return nil
}

func newTarget(campaign *models.CallCampaign, phone string, contactID, propertyID *uint, now time.Time) *models.CallTarget {
	if propertyID == nil {
		propertyID = campaign.PropertyID
	}
	due := now
	return &models.CallTarget{
		CampaignID:    campaign.ID,
		ContactID:     contactID,
		PropertyID:    propertyID,
		PhoneNumber:   phone,
		Status:        models.CallTargetStatusPending,
		NextAttemptAt: &due,
		EnrolledAt:    now,
	}
}

func phonesOf(targets []*models.CallTarget) []string {
	phones := make([]string, 0, len(targets))
	for _, t := range targets {
		phones = append(phones, t.PhoneNumber)
	}
	return phones
}

func validateCreateCampaignRequest(req *dto.CreateCallCampaignRequest) error {
	if req.Title == "" {
		return ErrCampaignTitleRequired
	}
	if req.CallPurpose == "" {
		return ErrCampaignPurposeRequired
	}
	return nil
}

func validateCampaignSettings(c *models.CallCampaign) error {
	switch {
	case c.Title == "":
		return ErrCampaignTitleRequired
	case c.CallPurpose == "":
		return ErrCampaignPurposeRequired
	case c.MaxAttempts < 1:
		return fmt.Errorf("%w: max_attempts must be at least 1", ErrInvalidCampaignSettings)
	case c.RetryDelayMinutes < 1:
		return fmt.Errorf("%w: retry_delay_minutes must be at least 1", ErrInvalidCampaignSettings)
	case c.RateLimitPerMinute < 1:
		return fmt.Errorf("%w: rate_limit_per_minute must be at least 1", ErrInvalidCampaignSettings)
	}
	return nil
}

func intOrDefault(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func normalizePage(page, pageSize, maxPageSize int) (int, int, error) {
	if page == 0 {
		page = 1
	}
	if pageSize == 0 {
		pageSize = 20
	}
	if page < 1 {
		return 0, 0, ErrInvalidPage
	}
	if pageSize < 1 || pageSize > maxPageSize {
		return 0, 0, ErrInvalidPageSize
	}
	return page, pageSize, nil
}

func pagination(page, pageSize int, total int64) dto.PaginationInfo {
	return dto.PaginationInfo{
		Page:       page,
		PageSize:   pageSize,
		TotalItems: total,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	}
}

func toCampaignResponse(c *models.CallCampaign) dto.CallCampaignResponse {
	roles := []string(c.ContactRoles)
	if roles == nil {
		roles = []string{}
	}
	return dto.CallCampaignResponse{
		UUID:               c.UUID.String(),
		Title:              c.Title,
		Status:             c.Status.String(),
		CallPurpose:        c.CallPurpose,
		PropertyID:         c.PropertyID,
		ContactRoles:       roles,
		MaxAttempts:        c.MaxAttempts,
		RetryDelayMinutes:  c.RetryDelayMinutes,
		RateLimitPerMinute: c.RateLimitPerMinute,
		AssistantOverrides: c.AssistantOverrides,
		StartedAt:          c.StartedAt,
		CompletedAt:        c.CompletedAt,
		LastRunAt:          c.LastRunAt,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

func toTargetItem(t *models.CallTarget) dto.CallTargetItem {
	return dto.CallTargetItem{
		ID:              t.ID,
		PhoneNumber:     t.PhoneNumber,
		Status:          t.Status.String(),
		ContactID:       t.ContactID,
		PropertyID:      t.PropertyID,
		AttemptsMade:    t.AttemptsMade,
		NextAttemptAt:   t.NextAttemptAt,
		LastAttemptAt:   t.LastAttemptAt,
		LastCallID:      t.LastCallID,
		LastCallStatus:  t.LastCallStatus,
		LastDisposition: t.LastDisposition,
		LastError:       t.LastError,
		EnrolledAt:      t.EnrolledAt,
		CompletedAt:     t.CompletedAt,
	}
}
