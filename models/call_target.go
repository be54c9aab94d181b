package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/amirphl/yamata-dialer/utils"
	"gorm.io/gorm"
)

// CallTargetStatus represents the dialing state of a single phone number within a campaign
type CallTargetStatus string

const (
	CallTargetStatusPending   CallTargetStatus = "pending"
	CallTargetStatusCalling   CallTargetStatus = "calling"
	CallTargetStatusCompleted CallTargetStatus = "completed"
	CallTargetStatusFailed    CallTargetStatus = "failed"
	CallTargetStatusExhausted CallTargetStatus = "exhausted"
	CallTargetStatusCancelled CallTargetStatus = "cancelled"
)

// NonTerminalCallTargetStatuses are the statuses that keep a campaign open
var NonTerminalCallTargetStatuses = []CallTargetStatus{
	CallTargetStatusPending,
	CallTargetStatusCalling,
}

// DispatchableCallTargetStatuses are the statuses a target may be claimed from
var DispatchableCallTargetStatuses = []CallTargetStatus{
	CallTargetStatusPending,
	CallTargetStatusFailed,
}

// String returns the string representation of the status
func (s CallTargetStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s CallTargetStatus) Valid() bool {
	switch s {
	case CallTargetStatusPending, CallTargetStatusCalling,
		CallTargetStatusCompleted, CallTargetStatusFailed,
		CallTargetStatusExhausted, CallTargetStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is final
func (s CallTargetStatus) IsTerminal() bool {
	switch s {
	case CallTargetStatusCompleted, CallTargetStatusFailed,
		CallTargetStatusExhausted, CallTargetStatusCancelled:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for CallTargetStatus
func (s *CallTargetStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = CallTargetStatus(v)
	case []byte:
		*s = CallTargetStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into CallTargetStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for CallTargetStatus
func (s CallTargetStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid CallTargetStatus: %s", s)
	}
	return string(s), nil
}

// CallTarget is one phone number enrolled in a campaign.
// A calling target always carries a LastCallID: the dispatch token until the provider
// accepts the call, the provider's call id afterwards.
type CallTarget struct {
	ID                 uint             `gorm:"primaryKey" json:"id"`
	CampaignID         uint             `gorm:"not null;uniqueIndex:uk_call_targets_campaign_phone,priority:1;index:idx_call_targets_campaign_status,priority:1" json:"campaign_id"`
	ContactID          *uint            `gorm:"index:idx_call_targets_contact_id" json:"contact_id,omitempty"`
	PropertyID         *uint            `json:"property_id,omitempty"`
	PhoneNumber        string           `gorm:"size:20;not null;uniqueIndex:uk_call_targets_campaign_phone,priority:2" json:"phone_number"`
	Status             CallTargetStatus `gorm:"size:20;not null;default:'pending';index:idx_call_targets_campaign_status,priority:2" json:"status"`
	AttemptsMade       int              `gorm:"not null;default:0" json:"attempts_made"`
	NextAttemptAt      *time.Time       `gorm:"index:idx_call_targets_next_attempt_at" json:"next_attempt_at,omitempty"`
	LastAttemptAt      *time.Time       `json:"last_attempt_at,omitempty"`
	LastCallID         *string          `gorm:"size:128;index:idx_call_targets_last_call_id" json:"last_call_id,omitempty"`
	LastCallStatus     *string          `gorm:"size:64" json:"last_call_status,omitempty"`
	LastDisposition    *string          `gorm:"size:64" json:"last_disposition,omitempty"`
	LastError          *string          `gorm:"type:text" json:"last_error,omitempty"`
	LastWebhookPayload *string          `gorm:"type:text" json:"last_webhook_payload,omitempty"`
	DispatchToken      *string          `gorm:"size:64" json:"-"`
	EnrolledAt         time.Time        `gorm:"not null" json:"enrolled_at"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt          time.Time        `gorm:"not null" json:"updated_at"`

	Campaign *CallCampaign `gorm:"foreignKey:CampaignID;references:ID" json:"-"`
}

// TableName returns the table name for the model
func (CallTarget) TableName() string {
	return "call_targets"
}

// BeforeCreate is called before creating a new record
func (t *CallTarget) BeforeCreate(tx *gorm.DB) error {
	now := utils.UTCNow()
	if t.Status == "" {
		t.Status = CallTargetStatusPending
	}
	if t.EnrolledAt.IsZero() {
		t.EnrolledAt = now
	}
	if t.NextAttemptAt == nil && t.Status == CallTargetStatusPending {
		t.NextAttemptAt = &t.EnrolledAt
	}
	t.UpdatedAt = now
	return nil
}

// IsDue reports whether the target satisfies the dispatch eligibility predicate at now
func (t *CallTarget) IsDue(maxAttempts int, now time.Time) bool {
	if t.Status != CallTargetStatusPending && t.Status != CallTargetStatusFailed {
		return false
	}
	if t.AttemptsMade >= maxAttempts || t.NextAttemptAt == nil {
		return false
	}
	return !t.NextAttemptAt.After(now)
}

// CallTargetFilter represents filter criteria for call targets
type CallTargetFilter struct {
	ID          *uint             `json:"id,omitempty"`
	CampaignID  *uint             `json:"campaign_id,omitempty"`
	ContactID   *uint             `json:"contact_id,omitempty"`
	Status      *CallTargetStatus `json:"status,omitempty"`
	PhoneNumber *string           `json:"phone_number,omitempty"`
	LastCallID  *string           `json:"last_call_id,omitempty"`
}
