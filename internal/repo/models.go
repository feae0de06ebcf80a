package repo

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status texts shared by orders and charges.
const (
	StatusPendingReview = "قيد المراجعة"
	GuestName           = "ضيف"
	NewUserName         = "مستخدم جديد"
	UnknownName         = "غير معروف"
)

// Profile is a customer account. Password is stored and echoed in plaintext.
type Profile struct {
	PersonalNumber string          `json:"personalNumber"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	Phone          string          `json:"phone"`
	Password       string          `json:"password"`
	Balance        decimal.Decimal `json:"balance"`
	LoginNumber    int64           `json:"loginNumber,omitempty"`
	CanEdit        bool            `json:"canEdit"`
	LastLogin      *time.Time      `json:"lastLogin,omitempty"`
}

// Order is a purchase request awaiting operator review.
type Order struct {
	ID                int64           `json:"id"`
	PersonalNumber    string          `json:"personalNumber"`
	Phone             string          `json:"phone"`
	Type              string          `json:"type"`
	Item              string          `json:"item"`
	IDField           string          `json:"idField"`
	FileLink          string          `json:"fileLink"`
	CashMethod        string          `json:"cashMethod"`
	Status            string          `json:"status"`
	Replied           bool            `json:"replied"`
	TelegramMessageID *int64          `json:"telegramMessageId"`
	PaidWithBalance   bool            `json:"paidWithBalance"`
	PaidAmount        decimal.Decimal `json:"paidAmount"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// Charge is a balance top-up request.
type Charge struct {
	ID                int64           `json:"id"`
	PersonalNumber    string          `json:"personalNumber"`
	Phone             string          `json:"phone"`
	Amount            decimal.Decimal `json:"amount"`
	Method            string          `json:"method"`
	FileLink          string          `json:"fileLink"`
	Status            string          `json:"status"`
	Replied           bool            `json:"replied"`
	TelegramMessageID *int64          `json:"telegramMessageId"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// Notification is a user-visible message appended by the core.
type Notification struct {
	ID        string    `json:"id"`
	Personal  string    `json:"personal"`
	Text      string    `json:"text"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// Offer is a global announcement posted through the offers bot.
type Offer struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}
