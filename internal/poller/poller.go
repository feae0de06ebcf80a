package poller

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"topup-bot/internal/metrics"
	"topup-bot/internal/repo"
	"topup-bot/internal/telegram"
)

const (
	defaultInterval = 10 * time.Second
	defaultWait     = 20 * time.Second
)

// Handler processes one inbound update.
type Handler func(ctx context.Context, upd telegram.Update) error

// Transport fetches updates for a bot token.
type Transport interface {
	GetUpdates(ctx context.Context, token string, after int64, wait time.Duration) ([]telegram.Update, error)
}

// Bot is one polled bot identity.
type Bot struct {
	Name    string
	Token   string
	Handler Handler
}

// CursorKey identifies the bot's cursor without persisting the token itself.
// A rotated token starts from a fresh cursor.
func (b Bot) CursorKey() string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(b.Token)))
	return b.Name + ":" + hex.EncodeToString(sum[:])[:12]
}

// Config controls polling cadence.
type Config struct {
	Interval time.Duration
	Wait     time.Duration
}

// Poller drives per-bot update cursors.
type Poller struct {
	store     *repo.Store
	transport Transport
	interval  time.Duration
	wait      time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New creates a poller.
func New(store *repo.Store, transport Transport, cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Wait <= 0 {
		cfg.Wait = defaultWait
	}
	return &Poller{
		store:     store,
		transport: transport,
		interval:  cfg.Interval,
		wait:      cfg.Wait,
		logger:    logger.With("component", "poller"),
		metrics:   metricRegistry,
	}
}

// PollOnce fetches updates newer than the bot's cursor and dispatches each
// at most once, in ascending order. The cursor advances before the handler
// runs and handler failures are not retried. The document is persisted once
// after a non-empty batch. It returns the number of dispatched updates.
func (p *Poller) PollOnce(ctx context.Context, bot Bot) (int, error) {
	key := bot.CursorKey()
	var cursor int64
	p.store.View(func(doc *repo.Document) { cursor = doc.Cursors[key] })

	updates, err := p.transport.GetUpdates(ctx, bot.Token, cursor, p.wait)
	if err != nil {
		p.metrics.IncError("poller")
		return 0, fmt.Errorf("get updates for %s: %w", bot.Name, err)
	}
	if len(updates) == 0 {
		return 0, nil
	}
	sort.SliceStable(updates, func(i, j int) bool { return updates[i].UpdateID < updates[j].UpdateID })

	dispatched := 0
	for _, upd := range updates {
		if upd.UpdateID <= cursor {
			p.observe(bot.Name, "skipped")
			continue
		}
		cursor = upd.UpdateID
		p.store.Mutate(func(doc *repo.Document) { doc.Cursors[key] = cursor })

		dispatched++
		if err := p.dispatch(ctx, bot, upd); err != nil {
			p.observe(bot.Name, "error")
			p.metrics.IncError("handler")
			p.logger.Warn("handler failed", "bot", bot.Name, "update_id", upd.UpdateID, "error", err)
			continue
		}
		p.observe(bot.Name, "ok")
	}

	if err := p.store.Persist(ctx); err != nil {
		return dispatched, fmt.Errorf("persist cursor for %s: %w", bot.Name, err)
	}
	return dispatched, nil
}

func (p *Poller) dispatch(ctx context.Context, bot Bot, upd telegram.Update) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return bot.Handler(ctx, upd)
}

// Run polls every bot in its own goroutine until ctx is cancelled. Bots
// without a token are skipped.
func (p *Poller) Run(ctx context.Context, bots ...Bot) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, bot := range bots {
		if strings.TrimSpace(bot.Token) == "" || bot.Handler == nil {
			p.logger.Info("bot not configured, not polling", "bot", bot.Name)
			continue
		}
		g.Go(func() error {
			p.loop(ctx, bot)
			return nil
		})
	}
	return g.Wait()
}

func (p *Poller) loop(ctx context.Context, bot Bot) {
	p.logger.Info("polling started", "bot", bot.Name, "interval", p.interval.String())
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("polling stopped", "bot", bot.Name)
			return
		case <-timer.C:
		}
		n, err := p.PollOnce(ctx, bot)
		if err != nil && ctx.Err() == nil {
			p.logger.Warn("poll cycle failed", "bot", bot.Name, "error", err)
		} else if n > 0 {
			p.logger.Debug("poll cycle dispatched updates", "bot", bot.Name, "count", n)
		}
		timer.Reset(p.interval)
	}
}

func (p *Poller) observe(bot, outcome string) {
	if p.metrics == nil {
		return
	}
	p.metrics.UpdatesDispatched.WithLabelValues(bot, outcome).Inc()
}
