// Package models contains domain entities for the outbound voice campaign engine
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/amirphl/yamata-dialer/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CallCampaignStatus represents the lifecycle state of a call campaign
type CallCampaignStatus string

const (
	CallCampaignStatusDraft     CallCampaignStatus = "draft"
	CallCampaignStatusRunning   CallCampaignStatus = "running"
	CallCampaignStatusPaused    CallCampaignStatus = "paused"
	CallCampaignStatusCompleted CallCampaignStatus = "completed"
)

// String returns the string representation of the status
func (s CallCampaignStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s CallCampaignStatus) Valid() bool {
	switch s {
	case CallCampaignStatusDraft, CallCampaignStatusRunning,
		CallCampaignStatusPaused, CallCampaignStatusCompleted:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for CallCampaignStatus
func (s *CallCampaignStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = CallCampaignStatus(v)
	case []byte:
		*s = CallCampaignStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into CallCampaignStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for CallCampaignStatus
func (s CallCampaignStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid CallCampaignStatus: %s", s)
	}
	return string(s), nil
}

// AssistantOverrides holds provider assistant settings forwarded verbatim on every call
type AssistantOverrides map[string]any

// Value implements the driver.Valuer interface for AssistantOverrides
func (o AssistantOverrides) Value() (driver.Value, error) {
	if o == nil {
		return "{}", nil
	}
	b, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for AssistantOverrides
func (o *AssistantOverrides) Scan(value any) error {
	if value == nil {
		*o = AssistantOverrides{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into AssistantOverrides", value)
	}

	if len(bytes) == 0 {
		*o = AssistantOverrides{}
		return nil
	}
	return json.Unmarshal(bytes, o)
}

// CallCampaign is an agent-owned outbound calling campaign
type CallCampaign struct {
	ID                 uint               `gorm:"primaryKey" json:"id"`
	UUID               uuid.UUID          `gorm:"type:uuid;not null;uniqueIndex:uk_call_campaigns_uuid" json:"uuid"`
	AgentID            uint               `gorm:"not null;index:idx_call_campaigns_agent_id" json:"agent_id"`
	Title              string             `gorm:"size:255;not null" json:"title"`
	Status             CallCampaignStatus `gorm:"size:20;not null;default:'draft';index:idx_call_campaigns_status" json:"status"`
	CallPurpose        string             `gorm:"type:text;not null" json:"call_purpose"`
	PropertyID         *uint              `gorm:"index:idx_call_campaigns_property_id" json:"property_id,omitempty"`
	ContactRoles       ContactRoles       `json:"contact_roles"`
	MaxAttempts        int                `gorm:"not null" json:"max_attempts"`
	RetryDelayMinutes  int                `gorm:"not null" json:"retry_delay_minutes"`
	RateLimitPerMinute int                `gorm:"not null" json:"rate_limit_per_minute"`
	AssistantOverrides AssistantOverrides `gorm:"type:jsonb" json:"assistant_overrides,omitempty"`
	StartedAt          *time.Time         `json:"started_at,omitempty"`
	CompletedAt        *time.Time         `json:"completed_at,omitempty"`
	LastRunAt          *time.Time         `json:"last_run_at,omitempty"`
	CreatedAt          time.Time          `gorm:"not null;index:idx_call_campaigns_created_at" json:"created_at"`
	UpdatedAt          time.Time          `gorm:"not null" json:"updated_at"`

	Targets []CallTarget `gorm:"foreignKey:CampaignID;constraint:OnDelete:CASCADE" json:"targets,omitempty"`
}

// TableName returns the table name for the model
func (CallCampaign) TableName() string {
	return "call_campaigns"
}

// BeforeCreate is called before creating a new record
func (c *CallCampaign) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	if c.Status == "" {
		c.Status = CallCampaignStatusDraft
	}
	if c.AssistantOverrides == nil {
		c.AssistantOverrides = AssistantOverrides{}
	}
	now := utils.UTCNow()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	return nil
}

// IsTerminal reports whether the campaign will never dispatch again
func (c *CallCampaign) IsTerminal() bool {
	return c.Status == CallCampaignStatusCompleted
}

// AcceptsEnrollment reports whether new targets may still be added
func (c *CallCampaign) AcceptsEnrollment() bool {
	return c.Status != CallCampaignStatusCompleted
}

// RetryDelay returns the linear backoff between attempts
func (c *CallCampaign) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMinutes) * time.Minute
}

// CanTransitionTo checks if the campaign can transition to the given status
func (c *CallCampaign) CanTransitionTo(newStatus CallCampaignStatus) bool {
	switch c.Status {
	case CallCampaignStatusDraft:
		return newStatus == CallCampaignStatusRunning ||
			newStatus == CallCampaignStatusCompleted
	case CallCampaignStatusRunning:
		return newStatus == CallCampaignStatusPaused ||
			newStatus == CallCampaignStatusCompleted
	case CallCampaignStatusPaused:
		return newStatus == CallCampaignStatusRunning ||
			newStatus == CallCampaignStatusCompleted
	default:
		return false
	}
}

// CallCampaignFilter represents filter criteria for call campaigns
type CallCampaignFilter struct {
	ID            *uint               `json:"id,omitempty"`
	UUID          *uuid.UUID          `json:"uuid,omitempty"`
	AgentID       *uint               `json:"agent_id,omitempty"`
	Status        *CallCampaignStatus `json:"status,omitempty"`
	PropertyID    *uint               `json:"property_id,omitempty"`
	CreatedAfter  *time.Time          `json:"created_after,omitempty"`
	CreatedBefore *time.Time          `json:"created_before,omitempty"`
}
