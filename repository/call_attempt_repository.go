package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/yamata-dialer/models"
	"gorm.io/gorm"
)

// CallAttemptRepositoryImpl implements CallAttemptRepository interface
type CallAttemptRepositoryImpl struct {
	*BaseRepository[models.CallAttempt, models.CallAttemptFilter]
}

// NewCallAttemptRepository creates a new call attempt repository
func NewCallAttemptRepository(db *gorm.DB) CallAttemptRepository {
	return &CallAttemptRepositoryImpl{
		BaseRepository: NewBaseRepository[models.CallAttempt, models.CallAttemptFilter](db),
	}
}

// applyFilter applies filter criteria to a GORM query
func (r *CallAttemptRepositoryImpl) applyFilter(query *gorm.DB, filter models.CallAttemptFilter) *gorm.DB {
	if filter.TargetID != nil {
		query = query.Where("target_id = ?", *filter.TargetID)
	}
	if filter.CampaignID != nil {
		query = query.Where("campaign_id = ?", *filter.CampaignID)
	}
	if filter.ProviderCallID != nil {
		query = query.Where("provider_call_id = ?", *filter.ProviderCallID)
	}
	if filter.DispatchedFrom != nil {
		query = query.Where("dispatched_at > ?", *filter.DispatchedFrom)
	}
	return query
}

// ByFilter retrieves attempts based on filter criteria
func (r *CallAttemptRepositoryImpl) ByFilter(ctx context.Context, filter models.CallAttemptFilter, orderBy string, limit, offset int) ([]*models.CallAttempt, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.CallAttempt{}), filter)

	if orderBy == "" {
		orderBy = "id ASC"
	}
	query = query.Order(orderBy)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var attempts []*models.CallAttempt
	if err := query.Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("failed to list call attempts: %w", err)
	}
	return attempts, nil
}

// Count returns the number of attempts matching the filter
func (r *CallAttemptRepositoryImpl) Count(ctx context.Context, filter models.CallAttemptFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.CallAttempt{}), filter)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any attempt matching the filter exists
func (r *CallAttemptRepositoryImpl) Exists(ctx context.Context, filter models.CallAttemptFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ByDispatchToken retrieves the attempt created by a claim
func (r *CallAttemptRepositoryImpl) ByDispatchToken(ctx context.Context, token string) (*models.CallAttempt, error) {
	db := r.getDB(ctx)

	var attempt models.CallAttempt
	err := db.Where("dispatch_token = ?", token).Last(&attempt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find call attempt by dispatch token: %w", err)
	}
	return &attempt, nil
}

// CountDispatchedSince counts dispatches of a campaign strictly after since
func (r *CallAttemptRepositoryImpl) CountDispatchedSince(ctx context.Context, campaignID uint, since time.Time) (int64, error) {
	return r.Count(ctx, models.CallAttemptFilter{CampaignID: &campaignID, DispatchedFrom: &since})
}

// UpdateByToken patches the attempt created by a claim
func (r *CallAttemptRepositoryImpl) UpdateByToken(ctx context.Context, token string, patch map[string]any) error {
	db := r.getDB(ctx)

	err := db.Model(&models.CallAttempt{}).
		Where("dispatch_token = ?", token).
		Updates(patch).Error
	if err != nil {
		return fmt.Errorf("failed to update call attempt: %w", err)
	}
	return nil
}
