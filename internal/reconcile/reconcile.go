package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/moby/locker"
	"github.com/shopspring/decimal"

	"topup-bot/internal/intent"
	"topup-bot/internal/ledger"
	"topup-bot/internal/metrics"
	"topup-bot/internal/repo"
)

var (
	// ErrReconciliationFailed means the ledger write did not go through. The
	// local balance is untouched and an operator has been alerted.
	ErrReconciliationFailed = errors.New("balance reconciliation failed")
	// ErrInsufficientBalance rejects a debit that would turn the balance negative.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidAmount rejects non-positive amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Alerter notifies operators about failures that need manual attention.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// Result reports the balance before and after a committed reconciliation.
type Result struct {
	Previous decimal.Decimal
	Balance  decimal.Decimal
	Source   string
}

// Reconciler applies balance deltas remote-first: the ledger write is the
// commit point and the local profile only mirrors a confirmed ledger value.
type Reconciler struct {
	store   *repo.Store
	ledger  ledger.Accessor
	alerter Alerter
	logger  *slog.Logger
	metrics *metrics.Metrics
	locks   *locker.Locker
	now     func() time.Time

	// commits counts local balance commits per profile; guarded by the store lock
	commits map[string]uint64
}

// New creates a reconciler.
func New(store *repo.Store, accessor ledger.Accessor, alerter Alerter, logger *slog.Logger, metricRegistry *metrics.Metrics) *Reconciler {
	return &Reconciler{
		store:   store,
		ledger:  accessor,
		alerter: alerter,
		logger:  logger.With("component", "reconcile"),
		metrics: metricRegistry,
		locks:   locker.New(),
		now:     time.Now,
		commits: map[string]uint64{},
	}
}

type operation struct {
	kind     string
	personal string
	amount   decimal.Decimal
	delta    decimal.Decimal
	chargeID int64
}

// CreditCharge credits amount to personal on behalf of a charge. On success
// the charge becomes credited; on failure it carries the ledger failure status.
func (r *Reconciler) CreditCharge(ctx context.Context, chargeID int64, personal string, amount decimal.Decimal) (Result, error) {
	return r.apply(ctx, operation{
		kind:     "credit",
		personal: strings.TrimSpace(personal),
		amount:   amount,
		delta:    amount,
		chargeID: chargeID,
	})
}

// DebitOrder deducts amount from personal to pay for an order.
func (r *Reconciler) DebitOrder(ctx context.Context, personal string, amount decimal.Decimal) (Result, error) {
	return r.apply(ctx, operation{
		kind:     "debit",
		personal: strings.TrimSpace(personal),
		amount:   amount,
		delta:    amount.Neg(),
	})
}

// CurrentBalance returns the ledger balance when reachable, else the local one.
func (r *Reconciler) CurrentBalance(ctx context.Context, personal string) (decimal.Decimal, string) {
	row, err := r.ledger.GetRow(ctx, personal)
	if err == nil {
		return row.Balance, "ledger"
	}
	if !errors.Is(err, ledger.ErrRowNotFound) {
		r.logger.Warn("ledger read failed, using local balance", "personal", personal, "error", err)
	}
	balance := decimal.Zero
	r.store.View(func(doc *repo.Document) {
		if p := doc.FindProfile(personal); p != nil {
			balance = p.Balance
		}
	})
	return balance, "local"
}

// PullBalance reads the ledger row for personal and mirrors its balance into
// the local profile. The local value is left alone when a reconciliation
// committed while the row was being read, since the read may predate it.
func (r *Reconciler) PullBalance(ctx context.Context, personal string) (*ledger.Row, error) {
	personal = strings.TrimSpace(personal)
	var seen uint64
	r.store.View(func(*repo.Document) { seen = r.commits[personal] })

	row, err := r.ledger.GetRow(ctx, personal)
	if err != nil {
		return nil, err
	}
	r.store.Mutate(func(doc *repo.Document) {
		if r.commits[personal] != seen {
			r.logger.Debug("ledger read raced a reconciliation, keeping local balance", "personal", personal)
			return
		}
		doc.EnsureProfile(personal).Balance = row.Balance
	})
	return row, nil
}

func (r *Reconciler) apply(ctx context.Context, op operation) (Result, error) {
	if !op.amount.IsPositive() {
		return Result{}, ErrInvalidAmount
	}

	r.locks.Lock(op.personal)
	defer r.locks.Unlock(op.personal)

	current, source := r.CurrentBalance(ctx, op.personal)
	next := current.Add(op.delta)
	if next.IsNegative() {
		r.observe(op.kind, "insufficient")
		return Result{}, fmt.Errorf("%w: balance %s, amount %s", ErrInsufficientBalance, current, op.amount)
	}

	if err := r.ledger.UpdateBalance(ctx, op.personal, next); err != nil {
		r.fail(ctx, op, next, err)
		return Result{}, fmt.Errorf("%w: %w", ErrReconciliationFailed, err)
	}

	res := Result{Previous: current, Balance: next, Source: source}
	err := r.store.Update(ctx, func(doc *repo.Document) error {
		p := doc.EnsureProfile(op.personal)
		p.Balance = next
		r.commits[op.personal]++
		now := r.now()
		if op.chargeID != 0 {
			if ch := doc.FindCharge(op.chargeID); ch != nil {
				ch.Status = intent.StatusCredited
				ch.Replied = true
			}
		}
		doc.Notify(op.personal, successText(op, next), notificationKind(op.kind), now)
		return nil
	})
	if err != nil {
		// the ledger holds the new balance; the in-memory document does too and
		// is written again by the next persist
		r.logger.Error("persist after reconciliation failed", "personal", op.personal, "balance", next.String(), "error", err)
	}
	r.observe(op.kind, "ok")
	r.logger.Info("balance reconciled",
		"kind", op.kind,
		"personal", op.personal,
		"delta", op.delta.String(),
		"balance", next.String(),
		"source", source,
	)
	return res, nil
}

func (r *Reconciler) fail(ctx context.Context, op operation, attempted decimal.Decimal, cause error) {
	r.observe(op.kind, "failed")
	r.metrics.IncError("reconcile")
	r.logger.Error("ledger balance update failed",
		"kind", op.kind,
		"personal", op.personal,
		"delta", op.delta.String(),
		"attempted_balance", attempted.String(),
		"error", cause,
	)

	if op.chargeID != 0 {
		r.store.Mutate(func(doc *repo.Document) {
			if ch := doc.FindCharge(op.chargeID); ch != nil {
				ch.Status = intent.StatusLedgerFailed
				ch.Replied = true
			}
		})
		if err := r.store.Persist(ctx); err != nil {
			r.logger.Error("persist failure status failed", "charge_id", op.chargeID, "error", err)
		}
	}

	if r.alerter == nil {
		return
	}
	if err := r.alerter.Alert(ctx, alertText(op)); err != nil {
		r.logger.Error("operator alert failed", "personal", op.personal, "error", err)
	}
}

func (r *Reconciler) observe(kind, outcome string) {
	if r.metrics == nil {
		return
	}
	r.metrics.Reconciliations.WithLabelValues(kind, outcome).Inc()
}

func notificationKind(kind string) string {
	if kind == "debit" {
		return "debit"
	}
	return "balance"
}

func successText(op operation, balance decimal.Decimal) string {
	if op.kind == "debit" {
		return fmt.Sprintf("تم خصم %s ل.س من رصيدك. رصيدك الآن: %s ل.س", FormatAmount(op.amount), FormatAmount(balance))
	}
	return fmt.Sprintf("تم شحن رصيدك بمبلغ %s ل.س. رصيدك الآن: %s ل.س", FormatAmount(op.amount), FormatAmount(balance))
}

func alertText(op operation) string {
	if op.kind == "debit" {
		return fmt.Sprintf("فشل تحديث الشيت عند خصم الرصيد للمستخدم %s بالمبلغ %s", op.personal, op.amount.String())
	}
	return fmt.Sprintf("فشل تحديث الشيت عند شحن الرصيد للمستخدم %s بالمبلغ %s", op.personal, op.amount.String())
}

// FormatAmount renders an amount with thousands separators, e.g. 1,500.
// The digits come from the decimal itself, never from a float.
func FormatAmount(d decimal.Decimal) string {
	whole := d.Truncate(0)
	out := humanize.BigComma(whole.BigInt())
	if d.IsNegative() && whole.IsZero() {
		out = "-" + out
	}
	if frac := d.Sub(whole).Abs(); !frac.IsZero() {
		out += strings.TrimPrefix(frac.String(), "0")
	}
	return out
}
