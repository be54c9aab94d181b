package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ErrCallNotFound is returned by GetCall when the provider does not know the call
var ErrCallNotFound = errors.New("call not found at provider")

type PlaceCallInput struct {
	PhoneNumber        string
	CallPurpose        string
	AssistantOverrides map[string]any
	Metadata           map[string]string
}

type CallInfo struct {
	ProviderCallID string
	Status         string
}

// VoiceProvider is the single outbound-call surface the dialer depends on
type VoiceProvider interface {
	Name() string
	PlaceCall(ctx context.Context, in PlaceCallInput) (*CallInfo, error)
	GetCall(ctx context.Context, providerCallID string) (*CallInfo, error)
}

var ongoingCallStatuses = map[string]struct{}{
	"queued":      {},
	"initiated":   {},
	"dialing":     {},
	"ringing":     {},
	"in-progress": {},
}

// IsCallOngoing reports whether a provider status means the call has not ended yet
func IsCallOngoing(status string) bool {
	s := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(status)), "_", "-")
	_, ok := ongoingCallStatuses[s]
	return ok
}

type VoiceClientConfig struct {
	BaseURL           string
	APIKey            string
	AssistantID       string
	FromNumber        string
	WebhookURL        string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// HTTPVoiceClient talks to a REST voice-agent provider. Requests are paced by a token bucket.
type HTTPVoiceClient struct {
	cfg        VoiceClientConfig
	HTTPClient *http.Client
	limiter    *rate.Limiter
}

func NewHTTPVoiceClient(cfg VoiceClientConfig) *HTTPVoiceClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPVoiceClient{
		cfg:        cfg,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, cfg.Burst),
	}
}

func (c *HTTPVoiceClient) Name() string { return "http" }

type placeCallReq struct {
	PhoneNumber        string            `json:"phone_number"`
	AssistantID        string            `json:"assistant_id,omitempty"`
	FromNumber         string            `json:"from_number,omitempty"`
	Purpose            string            `json:"purpose"`
	AssistantOverrides map[string]any    `json:"assistant_overrides,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	WebhookURL         string            `json:"webhook_url,omitempty"`
}

type callResp struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// PlaceCall submits one outbound call. The dispatch token in Metadata doubles as the idempotency key.
func (c *HTTPVoiceClient) PlaceCall(ctx context.Context, in PlaceCallInput) (*CallInfo, error) {
	body := placeCallReq{
		PhoneNumber:        in.PhoneNumber,
		AssistantID:        c.cfg.AssistantID,
		FromNumber:         c.cfg.FromNumber,
		Purpose:            in.CallPurpose,
		AssistantOverrides: in.AssistantOverrides,
		Metadata:           in.Metadata,
		WebhookURL:         c.cfg.WebhookURL,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode call request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/calls", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key := in.Metadata["dispatch_token"]; key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	var out callResp
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("place call: %w", err)
	}
	if out.ID == "" {
		return nil, errors.New("place call: provider returned no call id")
	}
	return &CallInfo{ProviderCallID: out.ID, Status: out.Status}, nil
}

// GetCall reads the current provider status of a call
func (c *HTTPVoiceClient) GetCall(ctx context.Context, providerCallID string) (*CallInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/calls/"+url.PathEscape(providerCallID), nil)
	if err != nil {
		return nil, err
	}

	var out callResp
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("get call %s: %w", providerCallID, err)
	}
	if out.ID == "" {
		out.ID = providerCallID
	}
	return &CallInfo{ProviderCallID: out.ID, Status: out.Status}, nil
}

func (c *HTTPVoiceClient) do(req *http.Request, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrCallNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider http status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// MockVoiceProvider accepts every call and keeps them in memory. Used for local runs and tests.
type MockVoiceProvider struct {
	mu     sync.Mutex
	calls  map[string]*CallInfo
	placed []PlaceCallInput

	// FailWith, when set, is returned by PlaceCall instead of accepting the call
	FailWith error
}

func NewMockVoiceProvider() *MockVoiceProvider {
	return &MockVoiceProvider{calls: make(map[string]*CallInfo)}
}

func (m *MockVoiceProvider) Name() string { return "mock" }

func (m *MockVoiceProvider) PlaceCall(ctx context.Context, in PlaceCallInput) (*CallInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.placed = append(m.placed, in)
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	info := &CallInfo{ProviderCallID: "mock-" + uuid.NewString(), Status: "queued"}
	m.calls[info.ProviderCallID] = info
	return &CallInfo{ProviderCallID: info.ProviderCallID, Status: info.Status}, nil
}

func (m *MockVoiceProvider) GetCall(ctx context.Context, providerCallID string) (*CallInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.calls[providerCallID]
	if !ok {
		return nil, ErrCallNotFound
	}
	return &CallInfo{ProviderCallID: info.ProviderCallID, Status: info.Status}, nil
}

// SetStatus changes the status GetCall reports for a call
func (m *MockVoiceProvider) SetStatus(providerCallID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[providerCallID] = &CallInfo{ProviderCallID: providerCallID, Status: status}
}

// Placed returns a copy of every PlaceCall input seen so far
func (m *MockVoiceProvider) Placed() []PlaceCallInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PlaceCallInput(nil), m.placed...)
}
