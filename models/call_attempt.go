package models

import (
	"time"

	"github.com/amirphl/yamata-dialer/utils"
	"gorm.io/gorm"
)

// CallAttempt outcomes recorded once an attempt resolves
const (
	CallAttemptOutcomeSuccess         = "success"
	CallAttemptOutcomeRetryable       = "retryable"
	CallAttemptOutcomePermanent       = "permanent"
	CallAttemptOutcomeSubmitFailed    = "submit_failed"
	CallAttemptOutcomeStale           = "stale"
	CallAttemptOutcomeCampaignStopped = "campaign_stopped"
)

// CallAttempt is the audit record of one dispatch. Rows inside the trailing minute
// drive the per-campaign rate limit.
type CallAttempt struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	TargetID       uint       `gorm:"not null;index:idx_call_attempts_target_id" json:"target_id"`
	CampaignID     uint       `gorm:"not null;index:idx_call_attempts_campaign_dispatched,priority:1" json:"campaign_id"`
	AttemptNumber  int        `gorm:"not null" json:"attempt_number"`
	DispatchToken  string     `gorm:"size:64;not null;uniqueIndex:uk_call_attempts_dispatch_token" json:"dispatch_token"`
	ProviderCallID *string    `gorm:"size:128;index:idx_call_attempts_provider_call_id" json:"provider_call_id,omitempty"`
	Outcome        *string    `gorm:"size:32" json:"outcome,omitempty"`
	Error          *string    `gorm:"type:text" json:"error,omitempty"`
	DispatchedAt   time.Time  `gorm:"not null;index:idx_call_attempts_campaign_dispatched,priority:2" json:"dispatched_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`

	Target *CallTarget `gorm:"foreignKey:TargetID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for the model
func (CallAttempt) TableName() string {
	return "call_attempts"
}

// BeforeCreate is called before creating a new record
func (a *CallAttempt) BeforeCreate(tx *gorm.DB) error {
	if a.DispatchedAt.IsZero() {
		a.DispatchedAt = utils.UTCNow()
	}
	return nil
}

// CallAttemptFilter represents filter criteria for call attempts
type CallAttemptFilter struct {
	TargetID       *uint      `json:"target_id,omitempty"`
	CampaignID     *uint      `json:"campaign_id,omitempty"`
	ProviderCallID *string    `json:"provider_call_id,omitempty"`
	DispatchedFrom *time.Time `json:"dispatched_from,omitempty"`
}
