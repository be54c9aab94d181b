package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPVoiceClient_PlaceCall(t *testing.T) {
	var got placeCallReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/calls", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "tok-1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"call-123","status":"queued"}`))
	}))
	defer srv.Close()

	c := NewHTTPVoiceClient(VoiceClientConfig{
		BaseURL:     srv.URL + "/",
		APIKey:      "secret",
		AssistantID: "asst-1",
		WebhookURL:  "https://dialer.example.com/api/v1/webhooks/voice",
		Timeout:     time.Second,
	})

	info, err := c.PlaceCall(context.Background(), PlaceCallInput{
		PhoneNumber:        "+16502530001",
		CallPurpose:        "Ask about the listing",
		AssistantOverrides: map[string]any{"voice": "calm"},
		Metadata:           map[string]string{"campaign_id": "1", "dispatch_token": "tok-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "call-123", info.ProviderCallID)
	assert.Equal(t, "queued", info.Status)

	assert.Equal(t, "+16502530001", got.PhoneNumber)
	assert.Equal(t, "asst-1", got.AssistantID)
	assert.Equal(t, "Ask about the listing", got.Purpose)
	assert.Equal(t, "calm", got.AssistantOverrides["voice"])
	assert.Equal(t, "1", got.Metadata["campaign_id"])
	assert.NotEmpty(t, got.WebhookURL)
}

func TestHTTPVoiceClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/calls":
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
		case "/calls/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/calls/empty":
			_, _ = w.Write([]byte(`{"status":"ringing"}`))
		}
	}))
	defer srv.Close()

	c := NewHTTPVoiceClient(VoiceClientConfig{BaseURL: srv.URL, RequestsPerSecond: 100, Burst: 5})
	ctx := context.Background()

	_, err := c.PlaceCall(ctx, PlaceCallInput{PhoneNumber: "+16502530001"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	_, err = c.GetCall(ctx, "missing")
	assert.True(t, errors.Is(err, ErrCallNotFound))

	info, err := c.GetCall(ctx, "empty")
	require.NoError(t, err)
	assert.Equal(t, "empty", info.ProviderCallID)
	assert.True(t, IsCallOngoing(info.Status))
}

func TestHTTPVoiceClient_LimiterHonoursContext(t *testing.T) {
	c := NewHTTPVoiceClient(VoiceClientConfig{BaseURL: "http://127.0.0.1:1", RequestsPerSecond: 0.001, Burst: 1})
	// Drain the single token.
	require.True(t, c.limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.GetCall(ctx, "x")
	require.Error(t, err)
}

func TestMockVoiceProvider(t *testing.T) {
	m := NewMockVoiceProvider()
	ctx := context.Background()

	info, err := m.PlaceCall(ctx, PlaceCallInput{PhoneNumber: "+16502530001"})
	require.NoError(t, err)

	got, err := m.GetCall(ctx, info.ProviderCallID)
	require.NoError(t, err)
	assert.True(t, IsCallOngoing(got.Status))

	m.SetStatus(info.ProviderCallID, "completed")
	got, err = m.GetCall(ctx, info.ProviderCallID)
	require.NoError(t, err)
	assert.False(t, IsCallOngoing(got.Status))

	m.FailWith = errors.New("boom")
	_, err = m.PlaceCall(ctx, PlaceCallInput{PhoneNumber: "+16502530002"})
	require.Error(t, err)
	assert.Len(t, m.Placed(), 2)

	_, err = m.GetCall(ctx, "nope")
	assert.ErrorIs(t, err, ErrCallNotFound)
}
