package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"appointly/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("APPOINTLY_TEST_DB", "test.db")
	yamlContent := `
database:
  path: "${APPOINTLY_TEST_DB}"
business_hours:
  open: "08:30"
  close: "18:00"
  weekdays: [monday, saturday]
  timezone: "UTC"
lifecycle:
  grace_period: 20m
kafka:
  enabled: true
  brokers: ["localhost:9092"]
  topic: bookings
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "test.db", cfg.Database.Path)
	assert.Equal(t, 20*time.Minute, cfg.Lifecycle.GracePeriod)
	assert.Equal(t, models.DefaultReminderWindow, cfg.Lifecycle.ReminderWindow)
	assert.Equal(t, time.Hour, cfg.Lifecycle.SweepInterval)
	assert.Equal(t, GatewayStripe, cfg.Payment.Gateway)
	assert.Equal(t, ChannelNoop, cfg.Notify.Channel)
	assert.Equal(t, 8080, cfg.API.HTTP.Port)
	assert.Equal(t, 8081, cfg.API.GRPC.Port)
	assert.Equal(t, "appointly", cfg.Kafka.ClientID)
	assert.Equal(t, 5*time.Second, cfg.Hub.Timeout)

	hours, err := cfg.BusinessHours.Hours()
	require.NoError(t, err)
	assert.Equal(t, 8, hours.Open.Hour)
	assert.Equal(t, 30, hours.Open.Minute)
	assert.Equal(t, []time.Weekday{time.Monday, time.Saturday}, hours.Days)
	assert.Equal(t, time.UTC, hours.Location)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func validConfig() Config {
	c := Config{Database: DatabaseConfig{Path: "path"}}
	c.applyDefaults()
	return c
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, true},
		{"bad open clock", func(c *Config) { c.BusinessHours.Open = "nine" }, true},
		{"close before open", func(c *Config) { c.BusinessHours.Close = "08:00" }, true},
		{"unknown weekday", func(c *Config) { c.BusinessHours.Weekdays = []string{"funday"} }, true},
		{"bad timezone", func(c *Config) { c.BusinessHours.Timezone = "Mars/Base" }, true},
		{"unknown gateway", func(c *Config) { c.Payment.Gateway = "paypal" }, true},
		{"manual gateway", func(c *Config) { c.Payment.Gateway = GatewayManual }, false},
		{"telegram without chat", func(c *Config) {
			c.Notify.Channel = ChannelTelegram
			c.Notify.Telegram.BotToken = "token"
		}, true},
		{"telegram complete", func(c *Config) {
			c.Notify.Channel = ChannelTelegram
			c.Notify.Telegram.BotToken = "token"
			c.Notify.Telegram.ChatID = 42
		}, false},
		{"email without smtp host", func(c *Config) { c.Notify.Channel = ChannelEmail }, true},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }, true},
		{"hub without url", func(c *Config) { c.Hub.Enabled = true }, true},
		{"negative grace", func(c *Config) { c.Lifecycle.GracePeriod = -time.Minute }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadServices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	content := `
services:
  - id: haircut
    name: Haircut
    duration_minutes: 45
    price_cents: 3000
    is_active: true
  - id: massage
    name: Massage
    duration_minutes: 60
    price_cents: 7000
    currency: EUR
    is_active: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	services, err := LoadServices(path)
	require.NoError(t, err)
	require.Len(t, services, 2)
	assert.Equal(t, "USD", services[0].Currency)
	assert.Equal(t, "EUR", services[1].Currency)
	assert.Equal(t, 45, services[0].DurationMinutes)
}

func TestValidateServices(t *testing.T) {
	tests := []struct {
		name     string
		services []models.Service
		wantErr  bool
	}{
		{"valid", []models.Service{{ID: "a", DurationMinutes: 30}}, false},
		{"empty id", []models.Service{{Name: "x", DurationMinutes: 30}}, true},
		{"duplicate id", []models.Service{{ID: "a", DurationMinutes: 30}, {ID: "a", DurationMinutes: 60}}, true},
		{"zero duration", []models.Service{{ID: "a"}}, true},
		{"too long", []models.Service{{ID: "a", DurationMinutes: 481}}, true},
		{"negative price", []models.Service{{ID: "a", DurationMinutes: 30, PriceCents: -1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServices(tt.services)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
