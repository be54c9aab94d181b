package dto

import (
	"time"
)

// CreateCallCampaignRequest represents the request to create a new call campaign
type CreateCallCampaignRequest struct {
	AgentID            uint           `json:"-"`
	Title              string         `json:"title" validate:"required,max=255"`
	CallPurpose        string         `json:"call_purpose" validate:"required,max=4000"`
	PropertyID         *uint          `json:"property_id,omitempty"`
	ContactRoles       []string       `json:"contact_roles,omitempty" validate:"omitempty,max=10,dive,min=1,max=50"`
	MaxAttempts        *int           `json:"max_attempts,omitempty" validate:"omitempty,gte=1,lte=10"`
	RetryDelayMinutes  *int           `json:"retry_delay_minutes,omitempty" validate:"omitempty,gte=1,lte=10080"`
	RateLimitPerMinute *int           `json:"rate_limit_per_minute,omitempty" validate:"omitempty,gte=1,lte=600"`
	AssistantOverrides map[string]any `json:"assistant_overrides,omitempty"`
}

// UpdateCallCampaignRequest represents a partial update of a draft or paused campaign
type UpdateCallCampaignRequest struct {
	UUID               string          `json:"-"`
	AgentID            uint            `json:"-"`
	Title              *string         `json:"title,omitempty" validate:"omitempty,min=1,max=255"`
	CallPurpose        *string         `json:"call_purpose,omitempty" validate:"omitempty,min=1,max=4000"`
	PropertyID         *uint           `json:"property_id,omitempty"`
	ContactRoles       *[]string       `json:"contact_roles,omitempty" validate:"omitempty,max=10,dive,min=1,max=50"`
	MaxAttempts        *int            `json:"max_attempts,omitempty" validate:"omitempty,gte=1,lte=10"`
	RetryDelayMinutes  *int            `json:"retry_delay_minutes,omitempty" validate:"omitempty,gte=1,lte=10080"`
	RateLimitPerMinute *int            `json:"rate_limit_per_minute,omitempty" validate:"omitempty,gte=1,lte=600"`
	AssistantOverrides *map[string]any `json:"assistant_overrides,omitempty"`
}

// CallCampaignResponse is the representation of a call campaign in responses
type CallCampaignResponse struct {
	UUID               string           `json:"uuid"`
	Title              string           `json:"title"`
	Status             string           `json:"status"`
	CallPurpose        string           `json:"call_purpose"`
	PropertyID         *uint            `json:"property_id,omitempty"`
	ContactRoles       []string         `json:"contact_roles"`
	MaxAttempts        int              `json:"max_attempts"`
	RetryDelayMinutes  int              `json:"retry_delay_minutes"`
	RateLimitPerMinute int              `json:"rate_limit_per_minute"`
	AssistantOverrides map[string]any   `json:"assistant_overrides,omitempty"`
	TargetCounts       map[string]int64 `json:"target_counts,omitempty"`
	StartedAt          *time.Time       `json:"started_at,omitempty"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty"`
	LastRunAt          *time.Time       `json:"last_run_at,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// CreateCallCampaignResponse represents the response to campaign creation
type CreateCallCampaignResponse struct {
	Message   string `json:"message"`
	UUID      string `json:"uuid"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// ListCallCampaignsRequest represents paginated campaign listing of one agent
type ListCallCampaignsRequest struct {
	AgentID  uint    `json:"-"`
	Status   *string `json:"status,omitempty" validate:"omitempty,oneof=draft running paused completed"`
	Page     int     `json:"page" validate:"omitempty,gte=1"`
	PageSize int     `json:"page_size" validate:"omitempty,gte=1,lte=100"`
}

// PaginationInfo describes a page of results
type PaginationInfo struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
}

// ListCallCampaignsResponse represents a page of campaigns
type ListCallCampaignsResponse struct {
	Message    string                 `json:"message"`
	Items      []CallCampaignResponse `json:"items"`
	Pagination PaginationInfo         `json:"pagination"`
}

// EnrollTargetItem is one phone number to enroll
type EnrollTargetItem struct {
	PhoneNumber string `json:"phone_number" validate:"required,max=32"`
	ContactID   *uint  `json:"contact_id,omitempty"`
	PropertyID  *uint  `json:"property_id,omitempty"`
}

// EnrollTargetsRequest represents explicit enrollment of phone numbers
type EnrollTargetsRequest struct {
	CampaignUUID string             `json:"-"`
	AgentID      uint               `json:"-"`
	Targets      []EnrollTargetItem `json:"targets" validate:"required,min=1,max=5000,dive"`
}

// EnrollTargetsResponse reports the outcome of an enrollment
type EnrollTargetsResponse struct {
	Message  string   `json:"message"`
	Enrolled int      `json:"enrolled"`
	Skipped  int      `json:"skipped"`
	Invalid  []string `json:"invalid,omitempty"`
}

// CampaignActionRequest addresses one campaign for start, pause or cancel
type CampaignActionRequest struct {
	CampaignUUID string `json:"-"`
	AgentID      uint   `json:"-"`
}

// CampaignActionResponse reports the campaign status after an action
type CampaignActionResponse struct {
	Message   string `json:"message"`
	UUID      string `json:"uuid"`
	Status    string `json:"status"`
	Cancelled int64  `json:"cancelled_targets,omitempty"`
}

// ListCallTargetsRequest represents paginated target listing of a campaign
type ListCallTargetsRequest struct {
	CampaignUUID string  `json:"-"`
	AgentID      uint    `json:"-"`
	Status       *string `json:"status,omitempty" validate:"omitempty,oneof=pending calling completed failed exhausted cancelled"`
	Page         int     `json:"page" validate:"omitempty,gte=1"`
	PageSize     int     `json:"page_size" validate:"omitempty,gte=1,lte=500"`
}

// CallTargetItem is the representation of a call target in responses
type CallTargetItem struct {
	ID              uint       `json:"id"`
	PhoneNumber     string     `json:"phone_number"`
	Status          string     `json:"status"`
	ContactID       *uint      `json:"contact_id,omitempty"`
	PropertyID      *uint      `json:"property_id,omitempty"`
	AttemptsMade    int        `json:"attempts_made"`
	NextAttemptAt   *time.Time `json:"next_attempt_at,omitempty"`
	LastAttemptAt   *time.Time `json:"last_attempt_at,omitempty"`
	LastCallID      *string    `json:"last_call_id,omitempty"`
	LastCallStatus  *string    `json:"last_call_status,omitempty"`
	LastDisposition *string    `json:"last_disposition,omitempty"`
	LastError       *string    `json:"last_error,omitempty"`
	EnrolledAt      time.Time  `json:"enrolled_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// ListCallTargetsResponse represents a page of targets
type ListCallTargetsResponse struct {
	Message    string           `json:"message"`
	Items      []CallTargetItem `json:"items"`
	Pagination PaginationInfo   `json:"pagination"`
}

// VoiceWebhookResponse acknowledges a provider webhook
type VoiceWebhookResponse struct {
	Message string `json:"message"`
	Result  string `json:"result"`
}
