package router

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"topup-bot/internal/intent"
	"topup-bot/internal/ledger"
	"topup-bot/internal/logging"
	"topup-bot/internal/reconcile"
	"topup-bot/internal/repo"
	"topup-bot/internal/telegram"
)

type memBackend struct{}

func (memBackend) Name() string                                 { return "mem" }
func (memBackend) Load(context.Context) (*repo.Document, error) { return repo.NewDocument(), nil }
func (memBackend) Save(context.Context, *repo.Document) error   { return nil }
func (memBackend) Close() error                                 { return nil }

type fakeLedger struct {
	balances  map[string]decimal.Decimal
	updateErr error
}

func (f *fakeLedger) GetRow(_ context.Context, personal string) (*ledger.Row, error) {
	bal, ok := f.balances[personal]
	if !ok {
		return nil, ledger.ErrRowNotFound
	}
	return &ledger.Row{Personal: personal, Balance: bal}, nil
}

func (f *fakeLedger) UpsertRow(context.Context, ledger.Row) error { return nil }

func (f *fakeLedger) UpdateBalance(_ context.Context, personal string, balance decimal.Decimal) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.balances[personal] = balance
	return nil
}

func (f *fakeLedger) AssignLoginNumber(context.Context, string) (int64, error) { return 0, ledger.ErrUnavailable }

type fakeAlerter struct{ texts []string }

func (a *fakeAlerter) Alert(_ context.Context, text string) error {
	a.texts = append(a.texts, text)
	return nil
}

type fixture struct {
	router  *Router
	store   *repo.Store
	ledger  *fakeLedger
	alerter *fakeAlerter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := repo.NewStore(context.Background(), memBackend{}, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	l := &fakeLedger{balances: map[string]decimal.Decimal{}}
	alerter := &fakeAlerter{}
	rec := reconcile.New(store, l, alerter, logging.Discard(), nil)
	return &fixture{
		router:  New(store, nil, rec, logging.Discard(), nil),
		store:   store,
		ledger:  l,
		alerter: alerter,
	}
}

func msgID(id int64) *int64 { return &id }

func reply(updateID, to int64, text string) telegram.Update {
	return telegram.Update{
		UpdateID: updateID,
		Message: &telegram.Message{
			MessageID: updateID + 1000,
			Text:      text,
			ReplyTo:   &telegram.Message{MessageID: to},
		},
	}
}

func plain(updateID int64, text string) telegram.Update {
	return telegram.Update{UpdateID: updateID, Message: &telegram.Message{MessageID: updateID + 1000, Text: text}}
}

// seedCharge creates profile 4000001 with balance 500 and charge 1001 announced as message 77.
func (f *fixture) seedCharge() {
	f.store.Mutate(func(doc *repo.Document) {
		doc.EnsureProfile("4000001").Balance = decimal.NewFromInt(500)
		doc.PrependCharge(&repo.Charge{
			ID:                1001,
			PersonalNumber:    "4000001",
			Amount:            decimal.NewFromInt(500),
			Status:            repo.StatusPendingReview,
			TelegramMessageID: msgID(77),
		})
	})
	f.ledger.balances["4000001"] = decimal.NewFromInt(500)
}

func (f *fixture) charge() repo.Charge {
	var c repo.Charge
	f.store.View(func(doc *repo.Document) { c = *doc.FindCharge(1001) })
	return c
}

func (f *fixture) profile(personal string) repo.Profile {
	var p repo.Profile
	f.store.View(func(doc *repo.Document) { p = *doc.FindProfile(personal) })
	return p
}

func (f *fixture) notifications(personal string) []repo.Notification {
	var out []repo.Notification
	f.store.View(func(doc *repo.Document) { out = doc.NotificationsFor(personal) })
	return out
}

func TestCreditReplySucceeds(t *testing.T) {
	f := newFixture(t)
	f.seedCharge()

	if err := f.router.HandleUpdate(context.Background(), reply(1, 77, "الرصيد: 500 الرقم الشخصي: 4000001")); err != nil {
		t.Fatalf("HandleUpdate() error = %v", err)
	}

	c := f.charge()
	if c.Status != "تم تحويل الرصيد" || !c.Replied {
		t.Fatalf("charge = %+v", c)
	}
	if bal := f.profile("4000001").Balance; !bal.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("balance = %s, want 1000", bal)
	}
	notes := f.notifications("4000001")
	if len(notes) != 1 || !strings.Contains(notes[0].Text, "1,000") {
		t.Fatalf("notifications = %+v", notes)
	}

	// a repeated credit reply must not pay out twice
	if err := f.router.HandleUpdate(context.Background(), reply(2, 77, "الرصيد: 500 الرقم الشخصي: 4000001")); err != nil {
		t.Fatalf("HandleUpdate() error = %v", err)
	}
	if bal := f.profile("4000001").Balance; !bal.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("balance after duplicate = %s, want 1000", bal)
	}
}

func TestCreditReplyLedgerFailure(t *testing.T) {
	f := newFixture(t)
	f.seedCharge()
	f.ledger.updateErr = errors.New("sheets 500")

	err := f.router.HandleUpdate(context.Background(), reply(1, 77, "الرصيد: 500 الرقم الشخصي: 4000001"))
	if !errors.Is(err, reconcile.ErrReconciliationFailed) {
		t.Fatalf("HandleUpdate() error = %v, want ErrReconciliationFailed", err)
	}
	c := f.charge()
	if c.Status != "فشل تحديث الشيت" || !c.Replied {
		t.Fatalf("charge = %+v", c)
	}
	if bal := f.profile("4000001").Balance; !bal.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("balance = %s, want 500", bal)
	}
	if len(f.alerter.texts) != 1 {
		t.Fatalf("alerts = %v", f.alerter.texts)
	}
}

func TestCreditForUnknownProfileFallsBackToClassification(t *testing.T) {
	f := newFixture(t)
	f.seedCharge()

	text := "تم الرصيد: 500 الرقم الشخصي: 4999999"
	if err := f.router.HandleUpdate(context.Background(), reply(1, 77, text)); err != nil {
		t.Fatalf("HandleUpdate() error = %v", err)
	}
	c := f.charge()
	if c.Status != intent.ChargeStatuses.Approved {
		t.Fatalf("status = %q, want approve status", c.Status)
	}
	if bal := f.profile("4000001").Balance; !bal.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("balance = %s, want unchanged", bal)
	}
}

func TestChargeStatusInvariant(t *testing.T) {
	allowed := map[string]bool{
		intent.ChargeStatuses.Approved: true,
		intent.ChargeStatuses.Rejected: true,
		intent.StatusCredited:          true,
		intent.StatusLedgerFailed:      true,
	}
	allowed["بانتظار التحويل"] = true
	for _, text := range []string{"تم", "رفض", "بانتظار التحويل"} {
		f := newFixture(t)
		f.seedCharge()
		if c := f.charge(); c.Replied || c.Status != repo.StatusPendingReview {
			t.Fatalf("pending charge = %+v", c)
		}
		if err := f.router.HandleUpdate(context.Background(), reply(1, 77, text)); err != nil {
			t.Fatalf("HandleUpdate(%q) error = %v", text, err)
		}
		c := f.charge()
		if !c.Replied || !allowed[c.Status] {
			t.Fatalf("reply %q left charge %+v", text, c)
		}
		notes := f.notifications("4000001")
		if len(notes) != 1 || notes[0].Text != "تحديث حالة شحن الرصيد #1001: "+c.Status {
			t.Fatalf("notifications = %+v", notes)
		}
	}
}

func TestOrderReplies(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"accept", "تم قبول طلبك"},
		{"مرفوض", "تم رفض طلبك"},
		{"جاري التنفيذ", "جاري التنفيذ"},
	}
	for _, tc := range cases {
		f := newFixture(t)
		f.store.Mutate(func(doc *repo.Document) {
			doc.PrependOrder(&repo.Order{ID: 5, PersonalNumber: "4000002", Status: repo.StatusPendingReview, TelegramMessageID: msgID(9)})
		})
		if err := f.router.HandleUpdate(context.Background(), reply(3, 9, tc.text)); err != nil {
			t.Fatalf("HandleUpdate() error = %v", err)
		}
		var o repo.Order
		f.store.View(func(doc *repo.Document) { o = *doc.Orders[0] })
		if o.Status != tc.want || !o.Replied {
			t.Fatalf("reply %q: order = %+v", tc.text, o)
		}
		notes := f.notifications("4000002")
		if len(notes) != 1 || notes[0].Text != "تحديث حالة الطلب #5: "+tc.want {
			t.Fatalf("notifications = %+v", notes)
		}
	}
}

func TestProfileEditRequestConsumedOnce(t *testing.T) {
	f := newFixture(t)
	f.store.Mutate(func(doc *repo.Document) {
		doc.EnsureProfile("4000003")
		doc.ProfileEditRequests[repo.MessageKey(55)] = "4000003"
	})

	if err := f.router.HandleUpdate(context.Background(), reply(1, 55, " تم ")); err != nil {
		t.Fatalf("HandleUpdate() error = %v", err)
	}
	if !f.profile("4000003").CanEdit {
		t.Fatal("expected canEdit after approval")
	}
	notes := f.notifications("4000003")
	if len(notes) != 1 || notes[0].Text != EditApprovedText {
		t.Fatalf("notifications = %+v", notes)
	}

	f.store.Mutate(func(doc *repo.Document) { doc.FindProfile("4000003").CanEdit = false })
	if err := f.router.HandleUpdate(context.Background(), reply(2, 55, "تم")); err != nil {
		t.Fatalf("HandleUpdate() error = %v", err)
	}
	if f.profile("4000003").CanEdit {
		t.Fatal("second reply to a consumed request must have no effect")
	}
	if len(f.notifications("4000003")) != 1 {
		t.Fatal("second reply must not notify")
	}
}

func TestProfileEditRequestDiscardedOnOtherText(t *testing.T) {
	f := newFixture(t)
	f.store.Mutate(func(doc *repo.Document) {
		doc.EnsureProfile("4000004")
		doc.ProfileEditRequests[repo.MessageKey(56)] = "4000004"
	})
	if err := f.router.HandleUpdate(context.Background(), reply(1, 56, "تم التعديل")); err != nil {
		t.Fatalf("HandleUpdate() error = %v", err)
	}
	var pending int
	f.store.View(func(doc *repo.Document) { pending = len(doc.ProfileEditRequests) })
	if pending != 0 || f.profile("4000004").CanEdit {
		t.Fatalf("pending = %d canEdit = %v", pending, f.profile("4000004").CanEdit)
	}
}

func TestDirectNotificationAndOffers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.router.HandleUpdate(ctx, plain(1, "الرقم الشخصي: 4000005 تم تفعيل العرض")); err != nil {
		t.Fatalf("HandleUpdate() error = %v", err)
	}
	notes := f.notifications("4000005")
	if len(notes) != 1 || notes[0].Text != "تم تفعيل العرض" || !strings.HasSuffix(notes[0].ID, "-direct") {
		t.Fatalf("notifications = %+v", notes)
	}

	// unmatched reply falls through to the offer path
	if err := f.router.HandleUpdate(ctx, reply(2, 999, "هدية: رصيد مجاني")); err != nil {
		t.Fatalf("HandleUpdate() error = %v", err)
	}
	if err := f.router.HandleUpdate(ctx, plain(3, "مرحبا")); err != nil {
		t.Fatalf("HandleUpdate() error = %v", err)
	}
	var offers []repo.Offer
	f.store.View(func(doc *repo.Document) { offers = append(offers, doc.Offers...) })
	if len(offers) != 1 || offers[0].Text != "هدية: رصيد مجاني" {
		t.Fatalf("offers = %+v", offers)
	}

	if err := f.router.HandleUpdate(ctx, telegram.Update{UpdateID: 4}); err != nil {
		t.Fatalf("update without message: %v", err)
	}
}

func TestHandleAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.router.HandleAdmin(ctx, plain(1, "حظر الرقم الشخصي: 4000006")); err != nil {
		t.Fatalf("HandleAdmin() error = %v", err)
	}
	var blocked bool
	f.store.View(func(doc *repo.Document) { blocked = doc.IsBlocked("4000006") })
	if !blocked {
		t.Fatal("expected profile to be blocked")
	}

	if err := f.router.HandleAdmin(ctx, plain(2, "إلغاء الحظر الرقم الشخصي: 4000006")); err != nil {
		t.Fatalf("HandleAdmin() error = %v", err)
	}
	f.store.View(func(doc *repo.Document) { blocked = doc.IsBlocked("4000006") })
	if blocked {
		t.Fatal("expected profile to be unblocked")
	}
}
