// Package businessflow contains the use cases of the outbound voice campaign engine
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Campaign-related errors
	ErrCampaignNotFound            = errors.New("campaign not found")
	ErrCampaignAccessDenied        = errors.New("campaign access denied")
	ErrCampaignUpdateNotAllowed    = errors.New("campaign update not allowed")
	ErrCampaignTitleRequired       = errors.New("campaign title is required")
	ErrCampaignPurposeRequired     = errors.New("campaign call purpose is required")
	ErrCampaignUUIDRequired        = errors.New("campaign UUID is required")
	ErrCampaignCompleted           = errors.New("campaign is completed")
	ErrInvalidStatusTransition     = errors.New("invalid campaign status transition")
	ErrCampaignHasNoTargets        = errors.New("campaign has no targets")
	ErrCampaignPropertyRequired    = errors.New("campaign has no linked property")
	ErrInvalidCampaignSettings     = errors.New("invalid campaign settings")
	ErrCampaignUpdateRequired      = errors.New("at least one field must be provided for update")
	ErrInvalidCampaignStatusFilter = errors.New("invalid campaign status filter")

	// Enrollment errors
	ErrNoTargetsProvided     = errors.New("no targets provided")
	ErrTooManyTargets        = errors.New("too many targets in one request")
	ErrInvalidPhoneNumber    = errors.New("invalid phone number")
	ErrDuplicatePhoneNumber  = errors.New("duplicate phone number in campaign")
	ErrInvalidTargetStatuses = errors.New("invalid target status filter")

	// Webhook errors
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")
	ErrMissingCallID         = errors.New("webhook payload has no call_id")

	// Filter errors
	ErrInvalidPage     = errors.New("page must be at least 1")
	ErrInvalidPageSize = errors.New("page size is out of range")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// PhoneNumberError names the offending inputs of a rejected enrollment
type PhoneNumberError struct {
	Kind    error
	Numbers []string
}

func (e *PhoneNumberError) Error() string {
	return fmt.Sprintf("%v: %v", e.Kind, e.Numbers)
}

func (e *PhoneNumberError) Unwrap() error {
	return e.Kind
}

func IsCampaignNotFound(err error) bool {
	return errors.Is(err, ErrCampaignNotFound)
}

func IsCampaignAccessDenied(err error) bool {
	return errors.Is(err, ErrCampaignAccessDenied)
}

func IsCampaignUpdateNotAllowed(err error) bool {
	return errors.Is(err, ErrCampaignUpdateNotAllowed)
}

func IsCampaignCompleted(err error) bool {
	return errors.Is(err, ErrCampaignCompleted)
}

func IsInvalidStatusTransition(err error) bool {
	return errors.Is(err, ErrInvalidStatusTransition)
}

func IsCampaignHasNoTargets(err error) bool {
	return errors.Is(err, ErrCampaignHasNoTargets)
}

func IsCampaignPropertyRequired(err error) bool {
	return errors.Is(err, ErrCampaignPropertyRequired)
}

func IsInvalidPhoneNumber(err error) bool {
	return errors.Is(err, ErrInvalidPhoneNumber)
}

func IsDuplicatePhoneNumber(err error) bool {
	return errors.Is(err, ErrDuplicatePhoneNumber)
}

func IsInvalidWebhookPayload(err error) bool {
	return errors.Is(err, ErrInvalidWebhookPayload)
}

// IsValidationError reports errors caused by the caller's input
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrCampaignTitleRequired, ErrCampaignPurposeRequired, ErrCampaignUUIDRequired,
		ErrInvalidCampaignSettings, ErrCampaignUpdateRequired, ErrInvalidCampaignStatusFilter,
		ErrNoTargetsProvided, ErrTooManyTargets, ErrInvalidTargetStatuses,
		ErrInvalidPage, ErrInvalidPageSize,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// PhoneNumbersOf returns the numbers attached to an enrollment rejection
func PhoneNumbersOf(err error) []string {
	var pe *PhoneNumberError
	if errors.As(err, &pe) {
		return pe.Numbers
	}
	return nil
}
