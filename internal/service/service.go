package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"topup-bot/internal/ledger"
	"topup-bot/internal/metrics"
	"topup-bot/internal/reconcile"
	"topup-bot/internal/repo"
	"topup-bot/internal/telegram"
)

// Errors returned by Service operations. The HTTP layer maps each to a status code.
var (
	ErrMissingField        = errors.New("missing fields")
	ErrInvalidAmount       = errors.New("invalid_paid_amount")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrChatSendFailed      = errors.New("telegram_send_failed")
	ErrLedgerUpdateFailed  = errors.New("sheet_update_failed")
	ErrBlocked             = errors.New("blocked")
	ErrInvalidPassword     = errors.New("invalid_password")
	ErrEditNotAllowed      = errors.New("edit_not_allowed")
	ErrNotFound            = errors.New("not found")
)

const defaultSendTimeout = 4 * time.Second

// Sender delivers one outbound chat message.
type Sender interface {
	SendMessage(ctx context.Context, token, chatID, text string, timeout time.Duration) (telegram.SendResult, error)
}

// Balances reads and debits profile balances through the ledger.
type Balances interface {
	CurrentBalance(ctx context.Context, personal string) (decimal.Decimal, string)
	DebitOrder(ctx context.Context, personal string, amount decimal.Decimal) (reconcile.Result, error)
	PullBalance(ctx context.Context, personal string) (*ledger.Row, error)
}

// Channel is a bot token and the chat it posts to.
type Channel struct {
	Token  string
	ChatID string
}

func (c Channel) configured() bool {
	return c.Token != "" && c.ChatID != ""
}

// Config wires the outbound channels used by each operation.
type Config struct {
	Order       Channel
	Balance     Channel
	LoginReport Channel
	Help        Channel
	Offers      Channel
	SendTimeout time.Duration
}

// Service implements the customer facing operations behind the HTTP API.
type Service struct {
	store    *repo.Store
	ledger   ledger.Accessor
	balances Balances
	sender   Sender
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	randID   func() string

	background sync.WaitGroup
}

// New creates a service.
func New(store *repo.Store, accessor ledger.Accessor, balances Balances, sender Sender, cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics) *Service {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	return &Service{
		store:    store,
		ledger:   accessor,
		balances: balances,
		sender:   sender,
		cfg:      cfg,
		logger:   logger.With("component", "service"),
		metrics:  metricRegistry,
		now:      time.Now,
		randID:   randomPersonal,
	}
}

// Wait blocks until fire-and-forget reports have finished.
func (s *Service) Wait() {
	s.background.Wait()
}

func (s *Service) send(ctx context.Context, ch Channel, text string) (telegram.SendResult, error) {
	if !ch.configured() {
		return telegram.SendResult{}, telegram.ErrNotConfigured
	}
	return s.sender.SendMessage(ctx, ch.Token, ch.ChatID, text, s.cfg.SendTimeout)
}

// report sends text without blocking the caller. Failures are only logged.
func (s *Service) report(ctx context.Context, ch Channel, what, text string) {
	ctx = context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if _, err := s.send(ctx, ch, text); err != nil {
			s.logger.Warn("report send failed", "report", what, "error", err)
		}
	}()
}

func (s *Service) isBlocked(personal string) bool {
	var blocked bool
	s.store.View(func(doc *repo.Document) { blocked = doc.IsBlocked(personal) })
	return blocked
}

// syncRow pushes local profile fields to the ledger. UpsertRow leaves the
// balance of an existing row alone, so a concurrent credit is never undone.
func (s *Service) syncRow(ctx context.Context, p repo.Profile) {
	row := ledger.Row{
		Personal:    p.PersonalNumber,
		Name:        p.Name,
		Email:       p.Email,
		Password:    p.Password,
		Phone:       p.Phone,
		Balance:     p.Balance,
		LoginNumber: p.LoginNumber,
	}
	if err := s.ledger.UpsertRow(ctx, row); err != nil {
		s.logger.Warn("ledger upsert failed", "personal", p.PersonalNumber, "error", err)
	}
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func missing(fields ...string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, strings.Join(fields, ", "))
}

func parseAmount(raw string) (decimal.Decimal, error) {
	cleaned := strings.NewReplacer(",", "", " ", "").Replace(strings.TrimSpace(raw))
	amount, err := decimal.NewFromString(cleaned)
	if err != nil || !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return amount, nil
}
