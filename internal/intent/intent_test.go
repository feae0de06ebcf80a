package intent

import (
	"regexp"
	"testing"

	"github.com/shopspring/decimal"
)

func TestClassifierStatus(t *testing.T) {
	c := NewClassifier(nil)
	cases := []struct {
		name   string
		text   string
		table  Statuses
		want   string
		intent Intent
	}{
		{"order approve", "تم", OrderStatuses, "تم قبول طلبك", Approve},
		{"order approve prefix", "مقبول شكرا", OrderStatuses, "تم قبول طلبك", Approve},
		{"english accept any case", "  Accepted ", OrderStatuses, "تم قبول طلبك", Approve},
		{"order reject", "رفض", OrderStatuses, "تم رفض طلبك", Reject},
		{"charge reject english", "REJECT: blurry", ChargeStatuses, "تم رفض الطلب", Reject},
		{"charge approve", "تم الشحن", ChargeStatuses, "تم شحن الرصيد", Approve},
		{"literal", " قيد التنفيذ ", OrderStatuses, "قيد التنفيذ", Literal},
		{"approve lexeme mid-text is literal", "لم يتم", ChargeStatuses, "لم يتم", Literal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, in := c.Status(tc.text, tc.table)
			if got != tc.want || in != tc.intent {
				t.Fatalf("Status(%q) = %q, %v; want %q, %v", tc.text, got, in, tc.want, tc.intent)
			}
		})
	}
}

func TestClassifierCustomRules(t *testing.T) {
	c := NewClassifier([]Rule{{Intent: Reject, Pattern: regexp.MustCompile(`^no`)}})
	if got := c.Classify("تم"); got != Literal {
		t.Fatalf("Classify() = %v, want literal with custom table", got)
	}
	if got := c.Classify("no way"); got != Reject {
		t.Fatalf("Classify() = %v, want reject", got)
	}
}

func TestParseCredit(t *testing.T) {
	cases := []struct {
		text     string
		ok       bool
		amount   string
		personal string
	}{
		{"الرصيد: 500 الرقم الشخصي: 4000001", true, "500", "4000001"},
		{"تم الرصيد 1,500 الرقم الشخصي (4000002)", true, "1500", "4000002"},
		{"الرصيد: ١٢٠٠ الرقم الشخصي: ٤٠٠٠٠٠٣", true, "1200", "4000003"},
		{"الرصيد: 12.5 الرقم الشخصي- 4000004", true, "12.5", "4000004"},
		{"الرصيد: 500", false, "", ""},
		{"الرقم الشخصي: 4000001", false, "", ""},
		{"الرصيد: ... الرقم الشخصي: 4000001", false, "", ""},
		{"الرصيد: 0 الرقم الشخصي: 4000001", false, "", ""},
	}
	for _, tc := range cases {
		got, ok := ParseCredit(tc.text)
		if ok != tc.ok {
			t.Fatalf("ParseCredit(%q) ok = %v, want %v", tc.text, ok, tc.ok)
		}
		if !ok {
			continue
		}
		if !got.Amount.Equal(decimal.RequireFromString(tc.amount)) || got.Personal != tc.personal {
			t.Fatalf("ParseCredit(%q) = %+v", tc.text, got)
		}
	}
}

func TestIsEditApproval(t *testing.T) {
	if !IsEditApproval("  تم ") {
		t.Fatal("expected approval token to match")
	}
	for _, text := range []string{"تم التعديل", "مقبول", ""} {
		if IsEditApproval(text) {
			t.Fatalf("IsEditApproval(%q) = true", text)
		}
	}
}

func TestDirectNotification(t *testing.T) {
	personal, body, ok := DirectNotification("الرقم الشخصي: 4000001 تم تفعيل حسابك")
	if !ok || personal != "4000001" || body != "تم تفعيل حسابك" {
		t.Fatalf("DirectNotification() = %q, %q, %v", personal, body, ok)
	}

	personal, body, ok = DirectNotification("الرقم الشخصي: 4000001")
	if !ok || personal != "4000001" || body != "الرقم الشخصي: 4000001" {
		t.Fatalf("empty remainder should keep whole text, got %q, %q, %v", personal, body, ok)
	}

	if _, _, ok := DirectNotification("مرحبا"); ok {
		t.Fatal("plain text must not match")
	}
}

func TestIsOffer(t *testing.T) {
	if !IsOffer("عرض اليوم: خصم 10%") || !IsOffer(" هدية لكل عميل") {
		t.Fatal("expected offer lexemes to match")
	}
	if IsOffer("لدينا عرض") {
		t.Fatal("offer lexeme must start the text")
	}
}

func TestParseAdmin(t *testing.T) {
	cases := []struct {
		text     string
		action   AdminAction
		personal string
	}{
		{"حظر الرقم الشخصي: 4000001", AdminBlock, "4000001"},
		{"إلغاء الحظر الرقم الشخصي: 4000001", AdminUnblock, "4000001"},
		{"الغاء الحظر الرقم الشخصي 4000002", AdminUnblock, "4000002"},
		{"حظر", AdminNone, ""},
		{"مرحبا الرقم الشخصي: 1", AdminNone, ""},
	}
	for _, tc := range cases {
		action, personal := ParseAdmin(tc.text)
		if action != tc.action || personal != tc.personal {
			t.Fatalf("ParseAdmin(%q) = %v, %q; want %v, %q", tc.text, action, personal, tc.action, tc.personal)
		}
	}
}
