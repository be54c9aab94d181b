package testing

import (
	"fmt"
	"time"

	"github.com/amirphl/yamata-dialer/models"
	"github.com/amirphl/yamata-dialer/utils"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateCampaign inserts a running campaign with small, predictable settings; mutate adjusts it before insert
func (tf *TestFixtures) CreateCampaign(mutate func(*models.CallCampaign)) (*models.CallCampaign, error) {
	campaign := &models.CallCampaign{
		AgentID:            1,
		Title:              "Spring listings follow-up",
		Status:             models.CallCampaignStatusRunning,
		CallPurpose:        "Ask the owner whether the listing is still available",
		ContactRoles:       models.ContactRoles{"owner"},
		MaxAttempts:        3,
		RetryDelayMinutes:  10,
		RateLimitPerMinute: 10,
		AssistantOverrides: models.AssistantOverrides{"voice": "calm"},
		StartedAt:          utils.UTCNowPtr(),
	}
	if mutate != nil {
		mutate(campaign)
	}

	if err := tf.DB.DB.Create(campaign).Error; err != nil {
		return nil, fmt.Errorf("failed to create test campaign: %w", err)
	}
	return campaign, nil
}

// CreateTarget inserts a pending target due at dueAt
func (tf *TestFixtures) CreateTarget(campaign *models.CallCampaign, phone string, dueAt time.Time, mutate func(*models.CallTarget)) (*models.CallTarget, error) {
	due := dueAt.UTC()
	target := &models.CallTarget{
		CampaignID:    campaign.ID,
		PhoneNumber:   phone,
		Status:        models.CallTargetStatusPending,
		NextAttemptAt: &due,
		EnrolledAt:    due,
	}
	if mutate != nil {
		mutate(target)
	}

	if err := tf.DB.DB.Create(target).Error; err != nil {
		return nil, fmt.Errorf("failed to create test target %s: %w", phone, err)
	}
	return target, nil
}

// CreateContact inserts a CRM contact
func (tf *TestFixtures) CreateContact(propertyID uint, role, name, phone string) (*models.Contact, error) {
	contact := &models.Contact{
		PropertyID:  propertyID,
		Role:        role,
		FullName:    name,
		PhoneNumber: phone,
	}
	if err := tf.DB.DB.Create(contact).Error; err != nil {
		return nil, fmt.Errorf("failed to create test contact: %w", err)
	}
	return contact, nil
}

// ReloadTarget reads the current row of a target
func (tf *TestFixtures) ReloadTarget(id uint) (*models.CallTarget, error) {
	var target models.CallTarget
	if err := tf.DB.DB.First(&target, id).Error; err != nil {
		return nil, err
	}
	return &target, nil
}

// ReloadCampaign reads the current row of a campaign
func (tf *TestFixtures) ReloadCampaign(id uint) (*models.CallCampaign, error) {
	var campaign models.CallCampaign
	if err := tf.DB.DB.First(&campaign, id).Error; err != nil {
		return nil, err
	}
	return &campaign, nil
}

// Phone returns a valid, distinct US number for index i
func Phone(i int) string {
	return fmt.Sprintf("+1650253%04d", i)
}
