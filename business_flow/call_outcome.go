package businessflow

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/yamata-dialer/models"
)

// Outcome is the reconciler's reading of a provider webhook
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRetryable Outcome = "retryable"
	OutcomePermanent Outcome = "permanent"
	OutcomeProgress  Outcome = "progress"
)

// DefaultSuccessDisposition is recorded when a successful call carries no disposition
const DefaultSuccessDisposition = "answered"

var (
	permanentValues = map[string]struct{}{
		"invalid-number":      {},
		"invalid":             {},
		"unallocated-number":  {},
		"carrier-rejected":    {},
		"rejected-by-carrier": {},
		"blocked":             {},
		"do-not-call":         {},
		"number-disconnected": {},
	}
	retryableValues = map[string]struct{}{
		"no-answer":        {},
		"busy":             {},
		"voicemail":        {},
		"machine-detected": {},
		"timeout":          {},
		"failed":           {},
		"canceled":         {},
		"cancelled":        {},
		"provider-error":   {},
	}
	progressStatuses = map[string]struct{}{
		"queued":      {},
		"ringing":     {},
		"in-progress": {},
		"initiated":   {},
		"dialing":     {},
	}
	successValues = map[string]struct{}{
		"completed": {},
		"ended":     {},
		"answered":  {},
		"connected": {},
		"success":   {},
	}
)

// WebhookPayload is the subset of a provider callback the reconciler acts on
type WebhookPayload struct {
	CallID          string
	Status          string
	Disposition     string
	DurationSeconds *float64
	Error           string
	Raw             []byte
}

// ParseWebhookPayload decodes a callback body. Fields of the wrong JSON type are ignored
// instead of failing the whole payload; only a body that is not a JSON object is rejected.
func ParseWebhookPayload(raw []byte) (*WebhookPayload, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhookPayload, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: body is not an object", ErrInvalidWebhookPayload)
	}

	p := &WebhookPayload{
		CallID:      stringField(fields, "call_id"),
		Status:      stringField(fields, "status"),
		Disposition: stringField(fields, "disposition"),
		Error:       stringField(fields, "error"),
		Raw:         raw,
	}
	if d, ok := fields["duration_seconds"].(float64); ok && d >= 0 {
		p.DurationSeconds = &d
	}
	return p, nil
}

func stringField(fields map[string]any, key string) string {
	s, ok := fields[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// NormalizeDisposition lower-cases a provider value and folds '_' and spaces into '-'
func NormalizeDisposition(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	return strings.NewReplacer("_", "-", " ", "-").Replace(v)
}

// ClassifyOutcome maps a payload onto the disposition table. The disposition is consulted
// before the status; anything unrecognised is retryable.
func ClassifyOutcome(p *WebhookPayload) Outcome {
	if p == nil {
		return OutcomeRetryable
	}

	if d := NormalizeDisposition(p.Disposition); d != "" {
		if _, ok := permanentValues[d]; ok {
			return OutcomePermanent
		}
		if _, ok := retryableValues[d]; ok {
			return OutcomeRetryable
		}
		if _, ok := successValues[d]; ok {
			return OutcomeSuccess
		}
	}

	s := NormalizeDisposition(p.Status)
	if _, ok := permanentValues[s]; ok {
		return OutcomePermanent
	}
	if _, ok := retryableValues[s]; ok {
		return OutcomeRetryable
	}
	if _, ok := progressStatuses[s]; ok {
		return OutcomeProgress
	}
	if _, ok := successValues[s]; ok {
		return OutcomeSuccess
	}
	return OutcomeRetryable
}

// Transition is the planned effect of one webhook on one target
type Transition struct {
	Outcome       Outcome
	Status        models.CallTargetStatus
	NextAttemptAt *time.Time
	CompletedAt   *time.Time
	CallStatus    string
	Disposition   string
	LastError     string
	RawPayload    string
}

// Resolves reports whether the transition moves the target out of calling
func (t Transition) Resolves() bool {
	return t.Status != models.CallTargetStatusCalling
}

// AttemptOutcome is the value recorded on the attempt row
func (t Transition) AttemptOutcome() string {
	switch t.Outcome {
	case OutcomeSuccess:
		return models.CallAttemptOutcomeSuccess
	case OutcomePermanent:
		return models.CallAttemptOutcomePermanent
	default:
		return models.CallAttemptOutcomeRetryable
	}
}

// Patch renders the transition as column updates
func (t Transition) Patch() map[string]any {
	patch := map[string]any{
		"last_call_status":     nullable(t.CallStatus),
		"last_webhook_payload": nullable(t.RawPayload),
	}
	if !t.Resolves() {
		return patch
	}

	patch["status"] = t.Status
	patch["last_disposition"] = nullable(t.Disposition)
	patch["next_attempt_at"] = t.NextAttemptAt
	patch["completed_at"] = t.CompletedAt
	if t.LastError != "" {
		patch["last_error"] = t.LastError
	}
	return patch
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// PlanTransition decides the next state of a calling target from a webhook. It has no
// side effects; the caller applies the result with a compare-and-set.
func PlanTransition(target *models.CallTarget, campaign *models.CallCampaign, p *WebhookPayload, now time.Time) Transition {
	outcome := ClassifyOutcome(p)
	t := Transition{
		Outcome:    outcome,
		CallStatus: p.Status,
		RawPayload: string(p.Raw),
	}

	disposition := NormalizeDisposition(p.Disposition)
	if disposition == "" {
		disposition = NormalizeDisposition(p.Status)
	}

	switch outcome {
	case OutcomeProgress:
		t.Status = models.CallTargetStatusCalling
		return t

	case OutcomeSuccess:
		t.Status = models.CallTargetStatusCompleted
		t.CompletedAt = &now
		t.Disposition = NormalizeDisposition(p.Disposition)
		if t.Disposition == "" {
			t.Disposition = DefaultSuccessDisposition
		}

	case OutcomePermanent:
		t.Status = models.CallTargetStatusFailed
		t.CompletedAt = &now
		t.Disposition = disposition
		t.LastError = firstNonEmpty(p.Error, "permanent failure: "+disposition)

	default:
		t.Disposition = disposition
		t.LastError = firstNonEmpty(p.Error, "call not completed: "+firstNonEmpty(disposition, "unknown"))
		switch {
		case campaign.IsTerminal():
			t.Status = models.CallTargetStatusCancelled
			t.CompletedAt = &now
		case target.AttemptsMade >= campaign.MaxAttempts:
			t.Status = models.CallTargetStatusExhausted
			t.CompletedAt = &now
		default:
			next := now.Add(campaign.RetryDelay())
			t.Status = models.CallTargetStatusPending
			t.NextAttemptAt = &next
		}
	}

	return t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
