package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"topup-bot/internal/intent"
	"topup-bot/internal/metrics"
	"topup-bot/internal/reconcile"
	"topup-bot/internal/repo"
	"topup-bot/internal/telegram"
)

// EditApprovedText is sent to a profile whose edit request was approved.
const EditApprovedText = "تم قبول طلبك بتعديل معلوماتك الشخصية. تحقق من ذلك في ملفك الشخصي."

// Crediter applies a structured balance credit for a charge.
type Crediter interface {
	CreditCharge(ctx context.Context, chargeID int64, personal string, amount decimal.Decimal) (reconcile.Result, error)
}

// Router turns operator messages into state transitions. All mutations go
// through Store.Mutate; persisting is left to the poll cycle, except for
// balance credits which the reconciler persists itself.
type Router struct {
	store      *repo.Store
	classifier *intent.Classifier
	crediter   Crediter
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// New creates a router.
func New(store *repo.Store, classifier *intent.Classifier, crediter Crediter, logger *slog.Logger, metricRegistry *metrics.Metrics) *Router {
	if classifier == nil {
		classifier = intent.NewClassifier(nil)
	}
	return &Router{
		store:      store,
		classifier: classifier,
		crediter:   crediter,
		logger:     logger.With("component", "router"),
		metrics:    metricRegistry,
		now:        time.Now,
	}
}

type creditRequest struct {
	chargeID int64
	credit   intent.Credit
}

// HandleUpdate routes one inbound update. Replies are matched against
// orders, then charges, then profile-edit requests; anything unmatched is
// tried as a direct notification and then as an offer.
func (r *Router) HandleUpdate(ctx context.Context, upd telegram.Update) error {
	msg := upd.Message
	if msg == nil {
		return nil
	}
	text := msg.Body()

	if repliedID, ok := msg.RepliedMessageID(); ok {
		var (
			matched bool
			credit  *creditRequest
		)
		r.store.Mutate(func(doc *repo.Document) {
			matched, credit = r.resolveReply(doc, repliedID, text)
		})
		if credit != nil {
			return r.applyCredit(ctx, *credit)
		}
		if matched {
			return nil
		}
	}

	if personal, body, ok := intent.DirectNotification(text); ok {
		r.store.Mutate(func(doc *repo.Document) {
			doc.Notify(personal, body, "direct", r.now())
		})
		r.logger.Info("direct notification stored", "personal", personal, "update_id", upd.UpdateID)
		return nil
	}

	if intent.IsOffer(text) {
		r.store.Mutate(func(doc *repo.Document) {
			now := r.now()
			doc.PrependOffer(repo.Offer{ID: now.UnixMilli(), Text: strings.TrimSpace(text), CreatedAt: now.UTC()})
		})
		r.logger.Info("offer stored", "update_id", upd.UpdateID)
		return nil
	}

	r.logger.Debug("update ignored", "update_id", upd.UpdateID)
	return nil
}

func (r *Router) resolveReply(doc *repo.Document, repliedID int64, text string) (bool, *creditRequest) {
	if order := doc.OrderByMessageID(repliedID); order != nil {
		status, in := r.classifier.Status(text, intent.OrderStatuses)
		order.Status = status
		order.Replied = true
		doc.Notify(order.PersonalNumber, fmt.Sprintf("تحديث حالة الطلب #%d: %s", order.ID, status), "order", r.now())
		r.observe("order", in.String())
		return true, nil
	}

	if charge := doc.ChargeByMessageID(repliedID); charge != nil {
		if charge.Status == intent.StatusCredited {
			r.logger.Warn("reply to credited charge ignored", "charge_id", charge.ID)
			return true, nil
		}
		if credit, ok := intent.ParseCredit(text); ok && doc.FindProfile(credit.Personal) != nil {
			r.observe("charge", "credit")
			return true, &creditRequest{chargeID: charge.ID, credit: credit}
		}
		status, in := r.classifier.Status(text, intent.ChargeStatuses)
		charge.Status = status
		charge.Replied = true
		if doc.FindProfile(charge.PersonalNumber) != nil {
			doc.Notify(charge.PersonalNumber, fmt.Sprintf("تحديث حالة شحن الرصيد #%d: %s", charge.ID, status), "charge-status", r.now())
		}
		r.observe("charge", in.String())
		return true, nil
	}

	key := repo.MessageKey(repliedID)
	if personal, ok := doc.ProfileEditRequests[key]; ok {
		delete(doc.ProfileEditRequests, key)
		if !intent.IsEditApproval(text) {
			r.observe("profile_edit", "discarded")
			return true, nil
		}
		if p := doc.FindProfile(personal); p != nil {
			p.CanEdit = true
			doc.Notify(p.PersonalNumber, EditApprovedText, "edit", r.now())
		}
		r.observe("profile_edit", "approve")
		return true, nil
	}

	return false, nil
}

func (r *Router) applyCredit(ctx context.Context, req creditRequest) error {
	res, err := r.crediter.CreditCharge(ctx, req.chargeID, req.credit.Personal, req.credit.Amount)
	if err != nil {
		return fmt.Errorf("credit charge %d: %w", req.chargeID, err)
	}
	r.logger.Info("charge credited", "charge_id", req.chargeID, "personal", req.credit.Personal, "balance", res.Balance.String())
	return nil
}

// HandleAdmin applies block and unblock commands from the admin bot.
func (r *Router) HandleAdmin(_ context.Context, upd telegram.Update) error {
	if upd.Message == nil || upd.Message.Text == "" {
		return nil
	}
	action, personal := intent.ParseAdmin(upd.Message.Text)
	switch action {
	case intent.AdminBlock:
		var added bool
		r.store.Mutate(func(doc *repo.Document) { added = doc.Block(personal) })
		r.logger.Info("profile blocked", "personal", personal, "changed", added)
	case intent.AdminUnblock:
		var removed bool
		r.store.Mutate(func(doc *repo.Document) { removed = doc.Unblock(personal) })
		r.logger.Info("profile unblocked", "personal", personal, "changed", removed)
	default:
		r.logger.Debug("admin message ignored", "update_id", upd.UpdateID)
	}
	return nil
}

func (r *Router) observe(target, in string) {
	if r.metrics == nil {
		return
	}
	r.metrics.RepliesClassified.WithLabelValues(target, in).Inc()
}
