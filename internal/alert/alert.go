package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"topup-bot/internal/metrics"
	"topup-bot/internal/telegram"
)

const defaultTimeout = 3 * time.Second

// ErrNoSinks is returned when an alert is raised with nothing to deliver it.
var ErrNoSinks = errors.New("no alert sinks configured")

// Sink delivers operator alerts to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// Dispatcher fans an alert out to every sink, each under its own timeout.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewDispatcher builds a dispatcher. A zero timeout selects 3s.
func NewDispatcher(timeout time.Duration, logger *slog.Logger, metricRegistry *metrics.Metrics, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Dispatcher{
		sinks:   sinks,
		timeout: timeout,
		logger:  logger.With("component", "alert"),
		metrics: metricRegistry,
	}
}

// Alert sends text to all sinks. It succeeds when at least one sink delivered.
func (d *Dispatcher) Alert(ctx context.Context, text string) error {
	if len(d.sinks) == 0 {
		d.logger.Error("operator alert dropped", "error", ErrNoSinks, "text", text)
		return ErrNoSinks
	}

	var errs []error
	for _, sink := range d.sinks {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := sink.Send(sendCtx, text)
		cancel()
		if err != nil {
			d.observe(sink.Name(), "error")
			d.logger.Warn("operator alert failed", "sink", sink.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
			continue
		}
		d.observe(sink.Name(), "ok")
	}
	if len(errs) == len(d.sinks) {
		return errors.Join(errs...)
	}
	return nil
}

func (d *Dispatcher) observe(sink, status string) {
	if d.metrics == nil {
		return
	}
	d.metrics.AlertsSent.WithLabelValues(sink, status).Inc()
}

// TelegramSink posts alerts through the notify bot.
type TelegramSink struct {
	client *telegram.Client
	token  string
	chatID string
}

// NewTelegramSink creates a sink for the given bot token and chat.
func NewTelegramSink(client *telegram.Client, token, chatID string) *TelegramSink {
	return &TelegramSink{client: client, token: token, chatID: chatID}
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Send(ctx context.Context, text string) error {
	// the dispatcher context already carries the deadline
	_, err := s.client.SendMessage(ctx, s.token, s.chatID, text, 0)
	return err
}
