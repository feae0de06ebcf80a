package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"topup-bot/internal/reconcile"
	"topup-bot/internal/repo"
)

// OrderInput is a purchase submitted by a customer.
type OrderInput struct {
	Personal        string
	Phone           string
	Type            string
	Item            string
	IDField         string
	FileLink        string
	CashMethod      string
	PaidWithBalance bool
	PaidAmount      string
}

// OrderResult is the created order and the profile after any debit.
type OrderResult struct {
	Order   repo.Order
	Profile repo.Profile
}

// SubmitOrder announces an order to the order bot and records it. Balance
// payment is checked before the announcement and debited after it; the
// order is only created once both succeeded.
func (s *Service) SubmitOrder(ctx context.Context, in OrderInput) (OrderResult, error) {
	in.Personal = strings.TrimSpace(in.Personal)
	if in.Personal == "" || strings.TrimSpace(in.Type) == "" || strings.TrimSpace(in.Item) == "" {
		return OrderResult{}, missing("personal", "type", "item")
	}
	if s.isBlocked(in.Personal) {
		return OrderResult{}, ErrBlocked
	}

	price := decimal.Zero
	if in.PaidWithBalance {
		amount, err := parseAmount(in.PaidAmount)
		if err != nil {
			return OrderResult{}, err
		}
		price = amount
		current, source := s.balances.CurrentBalance(ctx, in.Personal)
		if current.LessThan(price) {
			s.logger.Info("order rejected, insufficient balance", "personal", in.Personal, "balance", current.String(), "source", source, "price", price.String())
			return OrderResult{}, fmt.Errorf("%w: balance %s, price %s", ErrInsufficientBalance, current, price)
		}
	} else if amount, err := decimal.NewFromString(strings.TrimSpace(in.PaidAmount)); err == nil {
		price = amount
	}

	phone := in.Phone
	s.store.View(func(doc *repo.Document) {
		if p := doc.FindProfile(in.Personal); p != nil {
			phone = orDefault(in.Phone, p.Phone)
		}
	})

	sent, err := s.send(ctx, s.cfg.Order, orderText(in, phone))
	if err != nil {
		s.metrics.IncError("service")
		s.logger.Warn("order announcement failed", "personal", in.Personal, "error", err)
		return OrderResult{}, fmt.Errorf("%w: %w", ErrChatSendFailed, err)
	}

	if in.PaidWithBalance {
		if _, err := s.balances.DebitOrder(ctx, in.Personal, price); err != nil {
			s.logger.Error("order debit failed after announcement", "personal", in.Personal, "message_id", sent.MessageID, "error", err)
			if errors.Is(err, reconcile.ErrInsufficientBalance) {
				return OrderResult{}, fmt.Errorf("%w: %w", ErrInsufficientBalance, err)
			}
			return OrderResult{}, fmt.Errorf("%w: %w", ErrLedgerUpdateFailed, err)
		}
	}

	var res OrderResult
	err = s.store.Update(ctx, func(doc *repo.Document) error {
		now := s.now()
		messageID := sent.MessageID
		order := &repo.Order{
			ID:                doc.NextRecordID(now),
			PersonalNumber:    in.Personal,
			Phone:             phone,
			Type:              in.Type,
			Item:              in.Item,
			IDField:           in.IDField,
			FileLink:          in.FileLink,
			CashMethod:        in.CashMethod,
			Status:            repo.StatusPendingReview,
			TelegramMessageID: &messageID,
			PaidWithBalance:   in.PaidWithBalance,
			PaidAmount:        price,
			CreatedAt:         now.UTC(),
		}
		doc.PrependOrder(order)
		res.Order = *order
		res.Profile = *doc.EnsureProfile(in.Personal)
		return nil
	})
	if err != nil {
		return OrderResult{}, err
	}
	s.logger.Info("order created", "order_id", res.Order.ID, "personal", in.Personal, "paid_with_balance", in.PaidWithBalance)
	return res, nil
}

func orderText(in OrderInput, phone string) string {
	return fmt.Sprintf("طلب شحن جديد:\n\nرقم شخصي: %s\nالهاتف: %s\nالنوع: %s\nالتفاصيل: %s\nالايدي: %s\nطريقة الدفع: %s\nرابط الملف: %s",
		in.Personal, orDefault(phone, "لا يوجد"), in.Type, in.Item, in.IDField, in.CashMethod, in.FileLink)
}

// ChargeInput is a balance top-up request.
type ChargeInput struct {
	Personal string
	Phone    string
	Amount   string
	Method   string
	FileLink string
}

// CreateCharge records a top-up request and announces it to the balance
// bot. The charge exists even when the announcement fails; it then has no
// message id and cannot be answered by reply.
func (s *Service) CreateCharge(ctx context.Context, in ChargeInput) (repo.Charge, error) {
	in.Personal = strings.TrimSpace(in.Personal)
	if in.Personal == "" || strings.TrimSpace(in.Amount) == "" {
		return repo.Charge{}, missing("personal", "amount")
	}
	amount, err := parseAmount(in.Amount)
	if err != nil {
		return repo.Charge{}, err
	}
	if s.isBlocked(in.Personal) {
		return repo.Charge{}, ErrBlocked
	}

	var charge repo.Charge
	err = s.store.Update(ctx, func(doc *repo.Document) error {
		now := s.now()
		c := &repo.Charge{
			ID:             doc.NextRecordID(now),
			PersonalNumber: in.Personal,
			Phone:          orDefault(in.Phone, doc.EnsureProfile(in.Personal).Phone),
			Amount:         amount,
			Method:         in.Method,
			FileLink:       in.FileLink,
			Status:         repo.StatusPendingReview,
			CreatedAt:      now.UTC(),
		}
		doc.PrependCharge(c)
		charge = *c
		return nil
	})
	if err != nil {
		return repo.Charge{}, err
	}

	sent, err := s.send(ctx, s.cfg.Balance, chargeText(charge, in.Amount))
	if err != nil {
		s.metrics.IncError("service")
		s.logger.Warn("charge announcement failed", "charge_id", charge.ID, "error", err)
		return charge, nil
	}

	messageID := sent.MessageID
	s.store.Mutate(func(doc *repo.Document) {
		if c := doc.FindCharge(charge.ID); c != nil {
			c.TelegramMessageID = &messageID
		}
	})
	charge.TelegramMessageID = &messageID
	if err := s.store.Persist(ctx); err != nil {
		s.logger.Error("persist charge message id failed", "charge_id", charge.ID, "error", err)
	}
	s.logger.Info("charge created", "charge_id", charge.ID, "personal", in.Personal, "message_id", messageID)
	return charge, nil
}

func chargeText(c repo.Charge, rawAmount string) string {
	return fmt.Sprintf("طلب شحن رصيد:\n\nرقم شخصي: %s\nالهاتف: %s\nالمبلغ: %s\nطريقة الدفع: %s\nرابط الملف: %s\nمعرف الطلب: %s",
		c.PersonalNumber, orDefault(c.Phone, "لا يوجد"), strings.TrimSpace(rawAmount), c.Method, c.FileLink, strconv.FormatInt(c.ID, 10))
}
