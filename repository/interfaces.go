// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/amirphl/yamata-dialer/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// CallCampaignRepository defines operations for call campaigns
type CallCampaignRepository interface {
	Repository[models.CallCampaign, models.CallCampaignFilter]
	ByUUID(ctx context.Context, uuid string) (*models.CallCampaign, error)
	ListRunning(ctx context.Context, limit int) ([]*models.CallCampaign, error)
	Update(ctx context.Context, campaign *models.CallCampaign) error
	// TransitionStatus moves the campaign to `to` only while its status is one of `from`.
	TransitionStatus(ctx context.Context, id uint, from []models.CallCampaignStatus, to models.CallCampaignStatus, patch map[string]any) (bool, error)
	MarkRun(ctx context.Context, id uint, at time.Time) error
	// CompleteIfResolved completes a running or paused campaign once none of its targets is pending or calling.
	CompleteIfResolved(ctx context.Context, id uint, at time.Time) (bool, error)
}

// TargetCondition guards a conditional target update. Empty fields are not checked.
type TargetCondition struct {
	Statuses      []models.CallTargetStatus
	LastCallID    *string
	DispatchToken *string
	// CampaignRunning requires the owning campaign to be running at update time
	CampaignRunning bool
}

// CallTargetRepository defines operations for call targets
type CallTargetRepository interface {
	Repository[models.CallTarget, models.CallTargetFilter]
	ListEligible(ctx context.Context, campaignID uint, maxAttempts int, now time.Time, limit int) ([]*models.CallTarget, error)
	ByLastCallID(ctx context.Context, callID string) (*models.CallTarget, error)
	// ConditionalUpdate applies patch to the target only when cond holds and reports whether a row changed.
	ConditionalUpdate(ctx context.Context, id uint, cond TargetCondition, patch map[string]any) (bool, error)
	CountByStatus(ctx context.Context, campaignID uint) (map[models.CallTargetStatus]int64, error)
	CountNonTerminal(ctx context.Context, campaignID uint) (int64, error)
	MaxAttemptsMade(ctx context.Context, campaignID uint) (int, error)
	ExistingPhones(ctx context.Context, campaignID uint, phones []string) ([]string, error)
	CancelPending(ctx context.Context, campaignID uint, at time.Time) (int64, error)
	ListStaleCalling(ctx context.Context, before time.Time, limit int) ([]*models.CallTarget, error)
}

// CallAttemptRepository defines operations for the dispatch audit log
type CallAttemptRepository interface {
	Repository[models.CallAttempt, models.CallAttemptFilter]
	ByDispatchToken(ctx context.Context, token string) (*models.CallAttempt, error)
	CountDispatchedSince(ctx context.Context, campaignID uint, since time.Time) (int64, error)
	UpdateByToken(ctx context.Context, token string, patch map[string]any) error
}

// ContactRepository reads contacts owned by the CRM
type ContactRepository interface {
	ListByPropertyAndRoles(ctx context.Context, propertyID uint, roles []string) ([]*models.Contact, error)
}
