package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/yamata-dialer/models"
	"gorm.io/gorm"
)

// CallTargetRepositoryImpl implements CallTargetRepository interface
type CallTargetRepositoryImpl struct {
	*BaseRepository[models.CallTarget, models.CallTargetFilter]
}

// NewCallTargetRepository creates a new call target repository
func NewCallTargetRepository(db *gorm.DB) CallTargetRepository {
	return &CallTargetRepositoryImpl{
		BaseRepository: NewBaseRepository[models.CallTarget, models.CallTargetFilter](db),
	}
}

// applyFilter applies filter criteria to a GORM query
func (r *CallTargetRepositoryImpl) applyFilter(query *gorm.DB, filter models.CallTargetFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.CampaignID != nil {
		query = query.Where("campaign_id = ?", *filter.CampaignID)
	}
	if filter.ContactID != nil {
		query = query.Where("contact_id = ?", *filter.ContactID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.PhoneNumber != nil {
		query = query.Where("phone_number = ?", *filter.PhoneNumber)
	}
	if filter.LastCallID != nil {
		query = query.Where("last_call_id = ?", *filter.LastCallID)
	}
	return query
}

// ByFilter retrieves targets based on filter criteria
func (r *CallTargetRepositoryImpl) ByFilter(ctx context.Context, filter models.CallTargetFilter, orderBy string, limit, offset int) ([]*models.CallTarget, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.CallTarget{}), filter)

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

	var targets []*models.CallTarget
	if err := query.Find(&targets).Error; err != nil {
		return nil, fmt.Errorf("failed to list call targets: %w", err)
	}
	return targets, nil
}

// Count returns the number of targets matching the filter
func (r *CallTargetRepositoryImpl) Count(ctx context.Context, filter models.CallTargetFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.CallTarget{}), filter)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any target matching the filter exists
func (r *CallTargetRepositoryImpl) Exists(ctx context.Context, filter models.CallTargetFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListEligible returns due targets in dispatch order
func (r *CallTargetRepositoryImpl) ListEligible(ctx context.Context, campaignID uint, maxAttempts int, now time.Time, limit int) ([]*models.CallTarget, error) {
	if limit <= 0 {
		return nil, nil
	}

	db := r.getDB(ctx)
	var targets []*models.CallTarget
	err := db.Model(&models.CallTarget{}).
		Where("campaign_id = ?", campaignID).
		Where("status IN ?", models.DispatchableCallTargetStatuses).
		Where("attempts_made < ?", maxAttempts).
		Where("next_attempt_at IS NOT NULL AND next_attempt_at <= ?", now).
		Order("next_attempt_at ASC, id ASC").
		Limit(limit).
		Find(&targets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible call targets for campaign %d: %w", campaignID, err)
	}
	return targets, nil
}

// ByLastCallID retrieves the target currently bound to a call id
func (r *CallTargetRepositoryImpl) ByLastCallID(ctx context.Context, callID string) (*models.CallTarget, error) {
	db := r.getDB(ctx)

	var target models.CallTarget
	err := db.Where("last_call_id = ?", callID).Last(&target).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find call target by call id: %w", err)
	}
	return &target, nil
}

// ConditionalUpdate is the compare-and-set primitive every target transition goes through
func (r *CallTargetRepositoryImpl) ConditionalUpdate(ctx context.Context, id uint, cond TargetCondition, patch map[string]any) (bool, error) {
	db := r.getDB(ctx)

	query := db.Model(&models.CallTarget{}).Where("id = ?", id)
	if len(cond.Statuses) > 0 {
		query = query.Where("status IN ?", cond.Statuses)
	}
	if cond.LastCallID != nil {
		query = query.Where("last_call_id = ?", *cond.LastCallID)
	}
	if cond.DispatchToken != nil {
		query = query.Where("dispatch_token = ?", *cond.DispatchToken)
	}
	if cond.CampaignRunning {
		query = query.Where("EXISTS (SELECT 1 FROM call_campaigns c WHERE c.id = call_targets.campaign_id AND c.status = ?)", models.CallCampaignStatusRunning)
	}

	result := query.Updates(withUpdatedAt(patch))
	if result.Error != nil {
		return false, fmt.Errorf("failed to update call target %d: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// CountByStatus returns target counts of a campaign grouped by status
func (r *CallTargetRepositoryImpl) CountByStatus(ctx context.Context, campaignID uint) (map[models.CallTargetStatus]int64, error) {
	db := r.getDB(ctx)

	var rows []struct {
		Status models.CallTargetStatus
		Count  int64
	}
	err := db.Model(&models.CallTarget{}).
		Select("status, COUNT(*) AS count").
		Where("campaign_id = ?", campaignID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count call targets by status: %w", err)
	}

	counts := make(map[models.CallTargetStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// CountNonTerminal returns the number of pending or calling targets of a campaign
func (r *CallTargetRepositoryImpl) CountNonTerminal(ctx context.Context, campaignID uint) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	err := db.Model(&models.CallTarget{}).
		Where("campaign_id = ?", campaignID).
		Where("status IN ?", models.NonTerminalCallTargetStatuses).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count non-terminal call targets: %w", err)
	}
	return count, nil
}

// MaxAttemptsMade returns the highest attempts_made in the campaign, 0 when it has no targets
func (r *CallTargetRepositoryImpl) MaxAttemptsMade(ctx context.Context, campaignID uint) (int, error) {
	db := r.getDB(ctx)

	var highest int
	err := db.Model(&models.CallTarget{}).
		Where("campaign_id = ?", campaignID).
		Select("COALESCE(MAX(attempts_made), 0)").
		Scan(&highest).Error
	if err != nil {
		return 0, fmt.Errorf("failed to read max attempts made: %w", err)
	}
	return highest, nil
}

// ExistingPhones returns which of phones are already enrolled in the campaign
func (r *CallTargetRepositoryImpl) ExistingPhones(ctx context.Context, campaignID uint, phones []string) ([]string, error) {
	if len(phones) == 0 {
		return nil, nil
	}

	db := r.getDB(ctx)
	var existing []string
	err := db.Model(&models.CallTarget{}).
		Where("campaign_id = ?", campaignID).
		Where("phone_number IN ?", phones).
		Pluck("phone_number", &existing).Error
	if err != nil {
		return nil, fmt.Errorf("failed to look up enrolled phone numbers: %w", err)
	}
	return existing, nil
}

// CancelPending resolves every pending target of the campaign as cancelled
func (r *CallTargetRepositoryImpl) CancelPending(ctx context.Context, campaignID uint, at time.Time) (int64, error) {
	db := r.getDB(ctx)

	result := db.Model(&models.CallTarget{}).
		Where("campaign_id = ?", campaignID).
		Where("status = ?", models.CallTargetStatusPending).
		Updates(map[string]any{
			"status":          models.CallTargetStatusCancelled,
			"next_attempt_at": nil,
			"completed_at":    at,
			"updated_at":      at,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to cancel pending call targets: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ListStaleCalling returns calling targets whose last attempt started before the cutoff
func (r *CallTargetRepositoryImpl) ListStaleCalling(ctx context.Context, before time.Time, limit int) ([]*models.CallTarget, error) {
	db := r.getDB(ctx)

	query := db.Model(&models.CallTarget{}).
		Where("status = ?", models.CallTargetStatusCalling).
		Where("last_attempt_at < ?", before).
		Order("last_attempt_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var targets []*models.CallTarget
	if err := query.Find(&targets).Error; err != nil {
		return nil, fmt.Errorf("failed to list stale call targets: %w", err)
	}
	return targets, nil
}
