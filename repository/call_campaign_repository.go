package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/yamata-dialer/models"
	"github.com/amirphl/yamata-dialer/utils"
	"gorm.io/gorm"
)

// CallCampaignRepositoryImpl implements CallCampaignRepository interface
type CallCampaignRepositoryImpl struct {
	*BaseRepository[models.CallCampaign, models.CallCampaignFilter]
}

// NewCallCampaignRepository creates a new call campaign repository
func NewCallCampaignRepository(db *gorm.DB) CallCampaignRepository {
	return &CallCampaignRepositoryImpl{
		BaseRepository: NewBaseRepository[models.CallCampaign, models.CallCampaignFilter](db),
	}
}

// ByUUID retrieves a campaign by UUID (string)
func (r *CallCampaignRepositoryImpl) ByUUID(ctx context.Context, uuid string) (*models.CallCampaign, error) {
	parsed, err := utils.ParseUUID(uuid)
	if err != nil {
		return nil, err
	}

	db := r.getDB(ctx)
	var campaign models.CallCampaign
	err = db.Where("uuid = ?", parsed).Last(&campaign).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find call campaign by uuid: %w", err)
	}
	return &campaign, nil
}

// ListRunning returns running campaigns ordered by id
func (r *CallCampaignRepositoryImpl) ListRunning(ctx context.Context, limit int) ([]*models.CallCampaign, error) {
	status := models.CallCampaignStatusRunning
	return r.ByFilter(ctx, models.CallCampaignFilter{Status: &status}, "id ASC", limit, 0)
}

// applyFilter applies filter criteria to a GORM query
func (r *CallCampaignRepositoryImpl) applyFilter(query *gorm.DB, filter models.CallCampaignFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		query = query.Where("uuid = ?", *filter.UUID)
	}
	if filter.AgentID != nil {
		query = query.Where("agent_id = ?", *filter.AgentID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.PropertyID != nil {
		query = query.Where("property_id = ?", *filter.PropertyID)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	return query
}

// ByFilter retrieves campaigns based on filter criteria
func (r *CallCampaignRepositoryImpl) ByFilter(ctx context.Context, filter models.CallCampaignFilter, orderBy string, limit, offset int) ([]*models.CallCampaign, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.CallCampaign{}), filter)

	if orderBy == "" {
		orderBy = "id DESC"
	}
	query = query.Order(orderBy)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var campaigns []*models.CallCampaign
	if err := query.Find(&campaigns).Error; err != nil {
		return nil, fmt.Errorf("failed to list call campaigns: %w", err)
	}
	return campaigns, nil
}

// Count returns the number of campaigns matching the filter
func (r *CallCampaignRepositoryImpl) Count(ctx context.Context, filter models.CallCampaignFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.CallCampaign{}), filter)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any campaign matching the filter exists
func (r *CallCampaignRepositoryImpl) Exists(ctx context.Context, filter models.CallCampaignFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Update writes the editable settings of a campaign
func (r *CallCampaignRepositoryImpl) Update(ctx context.Context, campaign *models.CallCampaign) error {
	if campaign == nil {
		return errors.New("call campaign payload is nil")
	}
	if campaign.ID == 0 {
		return errors.New("call campaign ID is required for update")
	}

	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}
	if shouldCommit {
		defer func() {
			if err != nil {
				db.Rollback()
			} else {
				db.Commit()
			}
		}()
	}

	updates := withUpdatedAt(map[string]any{
		"title":                 campaign.Title,
		"call_purpose":          campaign.CallPurpose,
		"property_id":           campaign.PropertyID,
		"contact_roles":         campaign.ContactRoles,
		"max_attempts":          campaign.MaxAttempts,
		"retry_delay_minutes":   campaign.RetryDelayMinutes,
		"rate_limit_per_minute": campaign.RateLimitPerMinute,
		"assistant_overrides":   campaign.AssistantOverrides,
	})

	result := db.Model(&models.CallCampaign{}).Where("id = ?", campaign.ID).Updates(updates)
	if result.Error != nil {
		err = fmt.Errorf("failed to update call campaign: %w", result.Error)
		return err
	}
	if result.RowsAffected == 0 {
		err = fmt.Errorf("call campaign not found with ID: %d", campaign.ID)
		return err
	}
	return nil
}

// TransitionStatus performs a guarded status change
func (r *CallCampaignRepositoryImpl) TransitionStatus(ctx context.Context, id uint, from []models.CallCampaignStatus, to models.CallCampaignStatus, patch map[string]any) (bool, error) {
	db := r.getDB(ctx)

	updates := withUpdatedAt(patch)
	updates["status"] = to

	result := db.Model(&models.CallCampaign{}).
		Where("id = ?", id).
		Where("status IN ?", from).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to transition call campaign %d to %s: %w", id, to, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// MarkRun stamps the last scheduler pass over the campaign
func (r *CallCampaignRepositoryImpl) MarkRun(ctx context.Context, id uint, at time.Time) error {
	db := r.getDB(ctx)
	err := db.Model(&models.CallCampaign{}).
		Where("id = ?", id).
		UpdateColumn("last_run_at", at).Error
	if err != nil {
		return fmt.Errorf("failed to mark call campaign %d run: %w", id, err)
	}
	return nil
}

// CompleteIfResolved completes the campaign in a single statement so that a concurrent
// enrollment or retry cannot be lost between the check and the write
func (r *CallCampaignRepositoryImpl) CompleteIfResolved(ctx context.Context, id uint, at time.Time) (bool, error) {
	db := r.getDB(ctx)

	result := db.Model(&models.CallCampaign{}).
		Where("id = ?", id).
		Where("status IN ?", []models.CallCampaignStatus{models.CallCampaignStatusRunning, models.CallCampaignStatusPaused}).
		Where("NOT EXISTS (SELECT 1 FROM call_targets t WHERE t.campaign_id = call_campaigns.id AND t.status IN ?)", models.NonTerminalCallTargetStatuses).
		Updates(map[string]any{
			"status":       models.CallCampaignStatusCompleted,
			"completed_at": at,
			"updated_at":   at,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to complete call campaign %d: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}
