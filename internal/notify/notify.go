package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"appointly/internal/config"
	"appointly/internal/domain"
	"appointly/internal/models"

	"github.com/rs/zerolog"
)

// New builds the reminder dispatcher selected by cfg.Channel.
func New(cfg config.NotifyConfig, logger *zerolog.Logger) (domain.ReminderDispatcher, error) {
	switch cfg.Channel {
	case config.ChannelTelegram:
		return NewTelegramDispatcher(cfg, logger)
	case config.ChannelEmail:
		return NewEmailDispatcher(NewSMTPSender(cfg.Email, cfg.Timeout), logger), nil
	case config.ChannelNoop, "":
		return NewNoopDispatcher(logger), nil
	default:
		return nil, fmt.Errorf("unknown notify channel %q", cfg.Channel)
	}
}

// NoopDispatcher only logs. Every reminder counts as delivered.
type NoopDispatcher struct {
	logger *zerolog.Logger
}

func NewNoopDispatcher(logger *zerolog.Logger) *NoopDispatcher {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &NoopDispatcher{logger: logger}
}

func (d *NoopDispatcher) SendReminder(_ context.Context, b *models.Booking) error {
	d.logger.Info().
		Str("booking_id", b.ID).
		Time("scheduled_at", b.ScheduledAt).
		Msg("reminder delivery skipped (noop channel)")
	return nil
}

func reminderSubject(b *models.Booking) string {
	return fmt.Sprintf("Reminder: %s on %s", b.ServiceName, b.ScheduledAt.Format("Mon 02 Jan"))
}

func reminderText(b *models.Booking, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	at := b.ScheduledAt.In(loc)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Hello %s,\n\n", b.ClientName)
	fmt.Fprintf(&sb, "this is a reminder of your %s appointment on %s at %s (%d min).\n",
		b.ServiceName, at.Format("Monday, 02 January 2006"), at.Format("15:04"), b.DurationMinutes)
	if b.AmountCents > 0 && !b.IsPaid {
		fmt.Fprintf(&sb, "Amount due: %s %s\n", b.FormattedAmount(), b.Currency)
	}
	sb.WriteString("\nBooking reference: " + b.ID + "\n")
	return sb.String()
}
