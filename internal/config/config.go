package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"appointly/internal/models"
	"appointly/internal/slots"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Backup        BackupConfig        `yaml:"backup"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Logging       LoggingConfig       `yaml:"logging"`
	API           APIConfig           `yaml:"api"`
	BusinessHours BusinessHoursConfig `yaml:"business_hours"`
	Lifecycle     LifecycleConfig     `yaml:"lifecycle"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Hub           HubConfig           `yaml:"hub"`
	Payment       PaymentConfig       `yaml:"payment"`
	Notify        NotifyConfig        `yaml:"notify"`
	Exports       ExportConfig        `yaml:"exports"`
	Google        GoogleConfig        `yaml:"google"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// BusinessHoursConfig is the weekly opening window used to generate slots.
type BusinessHoursConfig struct {
	Open     string   `yaml:"open"`
	Close    string   `yaml:"close"`
	Weekdays []string `yaml:"weekdays"`
	Timezone string   `yaml:"timezone"`
}

type LifecycleConfig struct {
	GracePeriod    time.Duration `yaml:"grace_period"`
	ReminderWindow time.Duration `yaml:"reminder_window"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	SweepEnabled   bool          `yaml:"sweep_enabled"`
}

type KafkaConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`
}

type HubConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Source  string        `yaml:"source"`
	Timeout time.Duration `yaml:"timeout"`
}

type PaymentConfig struct {
	Gateway    string       `yaml:"gateway"`
	SuccessURL string       `yaml:"success_url"`
	CancelURL  string       `yaml:"cancel_url"`
	Stripe     StripeConfig `yaml:"stripe"`
}

type StripeConfig struct {
	SecretKey string `yaml:"secret_key"`
}

type NotifyConfig struct {
	Channel  string               `yaml:"channel"`
	Timeout  time.Duration        `yaml:"timeout"`
	Telegram TelegramNotifyConfig `yaml:"telegram"`
	Email    EmailConfig          `yaml:"email"`
}

type TelegramNotifyConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
	Debug    bool   `yaml:"debug"`
}

type EmailConfig struct {
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort string `yaml:"smtp_port"`
	From     string `yaml:"from"`
}

type GoogleConfig struct {
	GoogleCredentialsFile string `yaml:"credentials_file"`
	BookingSpreadSheetID  string `yaml:"bookings_spreadsheet_id"`
}

// Notification channels.
const (
	ChannelTelegram = "telegram"
	ChannelEmail    = "email"
	ChannelNoop     = "noop"
)

// Payment gateways.
const (
	GatewayStripe = "stripe"
	GatewayManual = "manual"
)

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if _, err := c.BusinessHours.Hours(); err != nil {
		return fmt.Errorf("business_hours: %w", err)
	}

	switch c.Payment.Gateway {
	case GatewayStripe, GatewayManual:
	default:
		return fmt.Errorf("unsupported payment gateway %q", c.Payment.Gateway)
	}

	switch c.Notify.Channel {
	case ChannelTelegram:
		if c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == 0 {
			return errors.New("telegram notify channel requires bot_token and chat_id")
		}
	case ChannelEmail:
		if c.Notify.Email.SMTPHost == "" {
			return errors.New("email notify channel requires smtp_host")
		}
	case ChannelNoop:
	default:
		return fmt.Errorf("unsupported notify channel %q", c.Notify.Channel)
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errors.New("kafka requires brokers and topic")
	}
	if c.Hub.Enabled && c.Hub.URL == "" {
		return errors.New("hub url is required when hub is enabled")
	}
	if c.Lifecycle.GracePeriod < 0 || c.Lifecycle.ReminderWindow <= 0 || c.Lifecycle.SweepInterval <= 0 {
		return errors.New("lifecycle durations must be positive")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "appointly"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	if c.BusinessHours.Open == "" {
		c.BusinessHours.Open = "09:00"
	}
	if c.BusinessHours.Close == "" {
		c.BusinessHours.Close = "17:00"
	}
	if len(c.BusinessHours.Weekdays) == 0 {
		c.BusinessHours.Weekdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday"}
	}

	if c.Lifecycle.GracePeriod == 0 {
		c.Lifecycle.GracePeriod = models.DefaultGracePeriod
	}
	if c.Lifecycle.ReminderWindow == 0 {
		c.Lifecycle.ReminderWindow = models.DefaultReminderWindow
	}
	if c.Lifecycle.SweepInterval == 0 {
		c.Lifecycle.SweepInterval = models.DefaultSweepInterval
	}

	if c.Kafka.ClientID == "" {
		c.Kafka.ClientID = c.App.Name
	}
	if c.Hub.Source == "" {
		c.Hub.Source = c.App.Name
	}
	if c.Hub.Timeout == 0 {
		c.Hub.Timeout = 5 * time.Second
	}
	if c.Payment.Gateway == "" {
		c.Payment.Gateway = GatewayStripe
	}
	if c.Notify.Channel == "" {
		c.Notify.Channel = ChannelNoop
	}
	if c.Notify.Timeout == 0 {
		c.Notify.Timeout = 5 * time.Second
	}
	if c.Notify.Email.SMTPPort == "" {
		c.Notify.Email.SMTPPort = "25"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Hours converts the section into generator hours.
func (b BusinessHoursConfig) Hours() (slots.Hours, error) {
	open, err := slots.ParseClock(b.Open)
	if err != nil {
		return slots.Hours{}, err
	}
	closeAt, err := slots.ParseClock(b.Close)
	if err != nil {
		return slots.Hours{}, err
	}
	if closeAt.Hour*60+closeAt.Minute <= open.Hour*60+open.Minute {
		return slots.Hours{}, fmt.Errorf("close %s must be after open %s", closeAt, open)
	}

	days := make([]time.Weekday, 0, len(b.Weekdays))
	for _, raw := range b.Weekdays {
		d, ok := weekdays[strings.ToLower(strings.TrimSpace(raw))]
		if !ok {
			return slots.Hours{}, fmt.Errorf("unknown weekday %q", raw)
		}
		days = append(days, d)
	}

	loc := time.Local
	if b.Timezone != "" {
		if loc, err = time.LoadLocation(b.Timezone); err != nil {
			return slots.Hours{}, fmt.Errorf("load timezone: %w", err)
		}
	}

	return slots.Hours{Open: open, Close: closeAt, Days: days, Location: loc}, nil
}
