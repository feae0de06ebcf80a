package intent

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Intent is the coarse meaning of an operator reply.
type Intent int

const (
	// Literal means the reply text itself becomes the status.
	Literal Intent = iota
	Approve
	Reject
)

func (i Intent) String() string {
	switch i {
	case Approve:
		return "approve"
	case Reject:
		return "reject"
	default:
		return "literal"
	}
}

// Rule maps a pattern to an intent. Rules are evaluated in order.
type Rule struct {
	Intent  Intent
	Pattern *regexp.Regexp
}

// DefaultRules is the reply classification table. Anything unmatched is Literal.
var DefaultRules = []Rule{
	{Intent: Approve, Pattern: regexp.MustCompile(`(?i)^(تم|مقبول|accept)`)},
	{Intent: Reject, Pattern: regexp.MustCompile(`(?i)^(رفض|مرفوض|reject)`)},
}

// Statuses holds the canonical status texts of one record kind.
type Statuses struct {
	Approved string
	Rejected string
}

var (
	// OrderStatuses are written to orders on approve/reject replies.
	OrderStatuses = Statuses{Approved: "تم قبول طلبك", Rejected: "تم رفض طلبك"}
	// ChargeStatuses are written to charges on approve/reject replies.
	ChargeStatuses = Statuses{Approved: "تم شحن الرصيد", Rejected: "تم رفض الطلب"}
)

// Charge statuses set by the balance reconciler.
const (
	StatusCredited     = "تم تحويل الرصيد"
	StatusLedgerFailed = "فشل تحديث الشيت"
)

// EditApprovalToken is the only reply that grants a profile edit.
const EditApprovalToken = "تم"

var (
	creditAmountRe   = regexp.MustCompile(`الرصيد[:\s]*([0-9.,]+)`)
	creditPersonalRe = regexp.MustCompile(`الرقم الشخصي[:\s\-()]*([0-9]+)`)
	directPersonalRe = regexp.MustCompile(`الرقم\s*الشخصي[:\s\-()]*([0-9]+)`)
	offerRe          = regexp.MustCompile(`^(عرض|هدية)`)
	blockRe          = regexp.MustCompile(`^حظر`)
	unblockRe        = regexp.MustCompile(`^(الغاء|إلغاء) الحظر`)
)

var digitReplacer = strings.NewReplacer(
	"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
	"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
	"۰", "0", "۱", "1", "۲", "2", "۳", "3", "۴", "4",
	"۵", "5", "۶", "6", "۷", "7", "۸", "8", "۹", "9",
	"٫", ".", "٬", ",",
)

// Normalize trims text and rewrites Arabic-Indic digits as ASCII digits.
func Normalize(text string) string {
	return strings.TrimSpace(digitReplacer.Replace(text))
}

// Classifier evaluates a rule table with a Literal fallback.
type Classifier struct {
	rules []Rule
}

// NewClassifier builds a classifier; nil rules select DefaultRules.
func NewClassifier(rules []Rule) *Classifier {
	if rules == nil {
		rules = DefaultRules
	}
	return &Classifier{rules: rules}
}

// Classify returns the first matching intent for text.
func (c *Classifier) Classify(text string) Intent {
	text = Normalize(text)
	for _, r := range c.rules {
		if r.Pattern.MatchString(text) {
			return r.Intent
		}
	}
	return Literal
}

// Status resolves the status text for a reply against the kind's table.
func (c *Classifier) Status(text string, table Statuses) (string, Intent) {
	in := c.Classify(text)
	switch in {
	case Approve:
		return table.Approved, in
	case Reject:
		return table.Rejected, in
	default:
		return strings.TrimSpace(text), in
	}
}

// Credit is a structured balance-credit instruction.
type Credit struct {
	Amount   decimal.Decimal
	Personal string
}

// ParseCredit extracts an amount and personal id. It reports false unless
// both are present and the amount parses as a positive number.
func ParseCredit(text string) (Credit, bool) {
	text = Normalize(text)
	am := creditAmountRe.FindStringSubmatch(text)
	pm := creditPersonalRe.FindStringSubmatch(text)
	if am == nil || pm == nil {
		return Credit{}, false
	}
	raw := strings.NewReplacer(",", "", " ", "").Replace(am[1])
	amount, err := decimal.NewFromString(raw)
	if err != nil || !amount.IsPositive() {
		return Credit{}, false
	}
	return Credit{Amount: amount, Personal: pm[1]}, true
}

// IsEditApproval reports whether text is exactly the approval token.
func IsEditApproval(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), EditApprovalToken)
}

// DirectNotification extracts the addressed personal id and the remaining
// text. When nothing remains after stripping, the whole text is the body.
func DirectNotification(text string) (personal, body string, ok bool) {
	text = Normalize(text)
	loc := directPersonalRe.FindStringSubmatchIndex(text)
	if loc == nil {
		return "", "", false
	}
	personal = text[loc[2]:loc[3]]
	body = strings.TrimSpace(text[:loc[0]] + text[loc[1]:])
	if body == "" {
		body = text
	}
	return personal, body, true
}

// IsOffer reports whether text announces an offer or gift.
func IsOffer(text string) bool {
	return offerRe.MatchString(Normalize(text))
}

// AdminAction is a parsed admin bot command.
type AdminAction int

const (
	AdminNone AdminAction = iota
	AdminBlock
	AdminUnblock
)

// ParseAdmin parses block/unblock commands carrying a personal id.
func ParseAdmin(text string) (AdminAction, string) {
	text = Normalize(text)
	pm := directPersonalRe.FindStringSubmatch(text)
	if pm == nil {
		return AdminNone, ""
	}
	switch {
	case unblockRe.MatchString(text):
		return AdminUnblock, pm[1]
	case blockRe.MatchString(text):
		return AdminBlock, pm[1]
	default:
		return AdminNone, ""
	}
}
