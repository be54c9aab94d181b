package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *ProductionConfig {
	return &ProductionConfig{
		Database: DatabaseConfig{Host: "db", Port: 5432, Name: "dialer", User: "u", Password: "p"},
		Server:   ServerConfig{Port: 8080, ReadTimeout: time.Second, WriteTimeout: time.Second},
		JWT: JWTConfig{
			SecretKey:       strings.Repeat("k", 32),
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: time.Hour,
		},
		Voice: VoiceConfig{ProviderDomain: "mock", WebhookSecret: "s"},
		Dialer: DialerConfig{
			Enabled:             true,
			TickInterval:        time.Second,
			MaxBatchPerTick:     10,
			DispatchConcurrency: 2,
			LeaseTTL:            time.Minute,
			StaleCallTimeout:    time.Minute,
			SweepSchedule:       "@every 1m",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

func TestValidateProductionConfig(t *testing.T) {
	require.NoError(t, ValidateProductionConfig(validConfig()))

	tests := []struct {
		name   string
		mutate func(*ProductionConfig)
		want   []string
	}{
		{
			name:   "short jwt secret",
			mutate: func(c *ProductionConfig) { c.JWT.SecretKey = "short" },
			want:   []string{"JWT_SECRET_KEY"},
		},
		{
			name: "real provider needs credentials",
			mutate: func(c *ProductionConfig) {
				c.Voice.ProviderDomain = "https://api.voice.example.com"
			},
			want: []string{"VOICE_API_KEY", "VOICE_WEBHOOK_URL"},
		},
		{
			name: "all problems reported together",
			mutate: func(c *ProductionConfig) {
				c.Database.Password = ""
				c.Dialer.TickInterval = 0
				c.Dialer.SweepSchedule = ""
				c.Logging.Level = "verbose"
			},
			want: []string{"DB_PASSWORD", "DIALER_TICK_INTERVAL", "DIALER_SWEEP_SCHEDULE", "LOG_LEVEL"},
		},
		{
			name: "disabled dialer skips dialer checks",
			mutate: func(c *ProductionConfig) {
				c.Dialer = DialerConfig{}
				c.Queue = QueueConfig{Enabled: true}
			},
			want: []string{"QUEUE_AMQP_URL"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := ValidateProductionConfig(cfg)
			require.Error(t, err)
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
			assert.NotContains(t, err.Error(), "DIALER_LEASE_TTL")
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nDIALER_TEST_A=\"from file\"\nDIALER_TEST_B=file\n"), 0o600))

	t.Setenv("DIALER_TEST_B", "from env")
	require.NoError(t, loadEnvFile(path))
	t.Cleanup(func() { _ = os.Unsetenv("DIALER_TEST_A") })

	assert.Equal(t, "from file", os.Getenv("DIALER_TEST_A"))
	assert.Equal(t, "from env", os.Getenv("DIALER_TEST_B"))

	require.NoError(t, loadEnvFile(filepath.Join(dir, "missing.env")))
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("DIALER_TEST_INT", "12")
	t.Setenv("DIALER_TEST_BAD_INT", "twelve")
	t.Setenv("DIALER_TEST_FLOAT", "2.5")
	t.Setenv("DIALER_TEST_DUR", "90s")
	t.Setenv("DIALER_TEST_LIST", " a, ,b ")

	assert.Equal(t, 12, getEnvInt("DIALER_TEST_INT", 1))
	assert.Equal(t, 1, getEnvInt("DIALER_TEST_BAD_INT", 1))
	assert.InDelta(t, 2.5, getEnvFloat("DIALER_TEST_FLOAT", 0), 0.0001)
	assert.Equal(t, 90*time.Second, getEnvDuration("DIALER_TEST_DUR", time.Second))
	assert.Equal(t, []string{"a", "b"}, getEnvStringSlice("DIALER_TEST_LIST", nil))
	assert.Equal(t, "fallback", getEnvString("DIALER_TEST_UNSET", "fallback"))
}
