package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"appointly/internal/config"
	"appointly/internal/metrics"

	"github.com/rs/zerolog"
)

const (
	HubInteractionDetected = "InteractionDetected"
	HubAgentHeartbeat      = "AgentHeartbeat"

	hubEnvelopeVersion = 1
	hubDefaultTimeout  = 5 * time.Second
)

var ErrHubNotConfigured = errors.New("hub reporter is not configured")

// HubEnvelope is the body posted to {url}/events.
type HubEnvelope struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Version    int                    `json:"version"`
	Source     string                 `json:"source"`
	OccurredAt string                 `json:"occurred_at"`
	Payload    map[string]interface{} `json:"payload"`
}

// HubReporter forwards domain events to the supervisor hub.
// A disabled reporter accepts every event and sends nothing.
type HubReporter struct {
	cfg    config.HubConfig
	client *http.Client
	logger *zerolog.Logger
	now    func() time.Time
}

func NewHubReporter(cfg config.HubConfig, logger *zerolog.Logger) *HubReporter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = hubDefaultTimeout
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &HubReporter{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
		now:    time.Now,
	}
}

// IsConfigured reports whether url, token and source are all set.
func (h *HubReporter) IsConfigured() bool {
	return len(h.missingConfig()) == 0
}

func (h *HubReporter) missingConfig() []string {
	var missing []string
	if h.cfg.URL == "" {
		missing = append(missing, "hub.url")
	}
	if h.cfg.Token == "" {
		missing = append(missing, "hub.token")
	}
	if h.cfg.Source == "" {
		missing = append(missing, "hub.source")
	}
	return missing
}

// Handle is an EventHandler. Booking and payment events become
// InteractionDetected with the event type as the action.
func (h *HubReporter) Handle(event *Event) error {
	payload := map[string]interface{}{}
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", event.Type, err)
		}
	}
	payload["action"] = event.Type

	ctx, cancel := context.WithTimeout(context.Background(), h.client.Timeout)
	defer cancel()
	return h.send(ctx, HubInteractionDetected, payload, event.CreatedAt)
}

// Report sends an arbitrary hub event type.
func (h *HubReporter) Report(ctx context.Context, eventType string, payload map[string]interface{}) error {
	return h.send(ctx, eventType, payload, time.Time{})
}

// Heartbeat sends AgentHeartbeat with status, uptime and the given snapshot.
func (h *HubReporter) Heartbeat(ctx context.Context, uptimeSeconds int64, snapshot map[string]interface{}) error {
	payload := make(map[string]interface{}, len(snapshot)+2)
	for k, v := range snapshot {
		payload[k] = v
	}
	payload["status"] = "healthy"
	payload["uptime_seconds"] = uptimeSeconds
	return h.send(ctx, HubAgentHeartbeat, payload, time.Time{})
}

func (h *HubReporter) send(ctx context.Context, eventType string, payload map[string]interface{}, occurredAt time.Time) error {
	if !h.cfg.Enabled {
		h.logger.Debug().Str("type", eventType).Msg("hub reporter disabled, event skipped")
		return nil
	}
	if missing := h.missingConfig(); len(missing) > 0 {
		h.logger.Error().Strs("missing", missing).Msg("hub reporter not configured")
		return ErrHubNotConfigured
	}

	if occurredAt.IsZero() {
		occurredAt = h.now()
	}
	envelope := HubEnvelope{
		ID:         newEventID(),
		Type:       eventType,
		Version:    hubEnvelopeVersion,
		Source:     h.cfg.Source,
		OccurredAt: occurredAt.UTC().Format(time.RFC3339),
		Payload:    payload,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode hub event: %w", err)
	}

	url := strings.TrimRight(h.cfg.URL, "/") + "/events"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build hub request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.cfg.Token)

	resp, err := h.client.Do(req)
	if err != nil {
		metrics.ObserveEvent("hub", false)
		return fmt.Errorf("send hub event %s: %w", eventType, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		metrics.ObserveEvent("hub", false)
		h.logger.Error().
			Str("type", eventType).
			Int("status", resp.StatusCode).
			Str("body", string(msg)).
			Msg("hub rejected event")
		return fmt.Errorf("hub returned status %d for %s", resp.StatusCode, eventType)
	}

	metrics.ObserveEvent("hub", true)
	h.logger.Info().Str("type", eventType).Str("id", envelope.ID).Msg("hub event sent")
	return nil
}
