package repo

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Document is the whole persisted state of the service. It is loaded once,
// mutated in place under the Store lock and written back as one snapshot.
type Document struct {
	Profiles            []*Profile        `json:"profiles"`
	Orders              []*Order          `json:"orders"`
	Charges             []*Charge         `json:"charges"`
	Offers              []Offer           `json:"offers"`
	Notifications       []Notification    `json:"notifications"`
	ProfileEditRequests map[string]string `json:"profileEditRequests"`
	Blocked             []string          `json:"blocked"`
	Cursors             map[string]int64  `json:"botCursors"`
}

// NewDocument returns an empty, fully initialised document.
func NewDocument() *Document {
	d := &Document{}
	d.normalize()
	return d
}

func (d *Document) normalize() {
	if d.Profiles == nil {
		d.Profiles = []*Profile{}
	}
	if d.Orders == nil {
		d.Orders = []*Order{}
	}
	if d.Charges == nil {
		d.Charges = []*Charge{}
	}
	if d.Offers == nil {
		d.Offers = []Offer{}
	}
	if d.Notifications == nil {
		d.Notifications = []Notification{}
	}
	if d.ProfileEditRequests == nil {
		d.ProfileEditRequests = map[string]string{}
	}
	if d.Blocked == nil {
		d.Blocked = []string{}
	}
	if d.Cursors == nil {
		d.Cursors = map[string]int64{}
	}
}

// FindProfile returns the profile with the given personal number or nil.
func (d *Document) FindProfile(personal string) *Profile {
	personal = strings.TrimSpace(personal)
	for _, p := range d.Profiles {
		if p.PersonalNumber == personal {
			return p
		}
	}
	return nil
}

// FindProfileByEmail matches emails case-insensitively.
func (d *Document) FindProfileByEmail(email string) *Profile {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}
	for _, p := range d.Profiles {
		if p.Email != "" && strings.EqualFold(p.Email, email) {
			return p
		}
	}
	return nil
}

// EnsureProfile returns the existing profile or creates a guest one.
func (d *Document) EnsureProfile(personal string) *Profile {
	if p := d.FindProfile(personal); p != nil {
		return p
	}
	p := &Profile{
		PersonalNumber: strings.TrimSpace(personal),
		Name:           GuestName,
		Balance:        decimal.Zero,
	}
	d.Profiles = append(d.Profiles, p)
	return p
}

// MaxLoginNumber returns the highest login number assigned locally.
func (d *Document) MaxLoginNumber() int64 {
	var maxNum int64
	for _, p := range d.Profiles {
		if p.LoginNumber > maxNum {
			maxNum = p.LoginNumber
		}
	}
	return maxNum
}

// OrderByMessageID finds the order announced by the given outbound message.
func (d *Document) OrderByMessageID(messageID int64) *Order {
	for _, o := range d.Orders {
		if o.TelegramMessageID != nil && *o.TelegramMessageID == messageID {
			return o
		}
	}
	return nil
}

// ChargeByMessageID finds the charge announced by the given outbound message.
func (d *Document) ChargeByMessageID(messageID int64) *Charge {
	for _, c := range d.Charges {
		if c.TelegramMessageID != nil && *c.TelegramMessageID == messageID {
			return c
		}
	}
	return nil
}

// FindCharge returns the charge with the given id or nil.
func (d *Document) FindCharge(id int64) *Charge {
	for _, c := range d.Charges {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// FindOffer returns the offer with the given id or nil.
func (d *Document) FindOffer(id int64) *Offer {
	for i := range d.Offers {
		if d.Offers[i].ID == id {
			return &d.Offers[i]
		}
	}
	return nil
}

// NextRecordID derives an order/charge id from now, kept strictly above the
// newest existing id so two records created in the same millisecond never collide.
func (d *Document) NextRecordID(now time.Time) int64 {
	id := now.UnixMilli()
	if len(d.Orders) > 0 && d.Orders[0].ID >= id {
		id = d.Orders[0].ID + 1
	}
	if len(d.Charges) > 0 && d.Charges[0].ID >= id {
		id = d.Charges[0].ID + 1
	}
	return id
}

// PrependOrder stores the order as the newest one.
func (d *Document) PrependOrder(o *Order) {
	d.Orders = append([]*Order{o}, d.Orders...)
}

// PrependCharge stores the charge as the newest one.
func (d *Document) PrependCharge(c *Charge) {
	d.Charges = append([]*Charge{c}, d.Charges...)
}

// PrependOffer stores the offer as the newest one.
func (d *Document) PrependOffer(o Offer) {
	d.Offers = append([]Offer{o}, d.Offers...)
}

// Notify prepends an unread notification for personal. kind becomes the id suffix.
func (d *Document) Notify(personal, text, kind string, now time.Time) Notification {
	n := Notification{
		ID:        uuid.NewString() + "-" + kind,
		Personal:  strings.TrimSpace(personal),
		Text:      text,
		CreatedAt: now.UTC(),
	}
	d.Notifications = append([]Notification{n}, d.Notifications...)
	return n
}

// NotificationsFor lists the notifications addressed to personal, newest first.
func (d *Document) NotificationsFor(personal string) []Notification {
	var out []Notification
	for _, n := range d.Notifications {
		if n.Personal == personal {
			out = append(out, n)
		}
	}
	return out
}

// IsBlocked reports whether personal is on the admin block list.
func (d *Document) IsBlocked(personal string) bool {
	for _, b := range d.Blocked {
		if b == personal {
			return true
		}
	}
	return false
}

// Block adds personal to the block list. Returns false when already present.
func (d *Document) Block(personal string) bool {
	if d.IsBlocked(personal) {
		return false
	}
	d.Blocked = append(d.Blocked, personal)
	return true
}

// Unblock removes personal from the block list.
func (d *Document) Unblock(personal string) bool {
	kept := d.Blocked[:0]
	removed := false
	for _, b := range d.Blocked {
		if b == personal {
			removed = true
			continue
		}
		kept = append(kept, b)
	}
	d.Blocked = kept
	return removed
}

// Stats summarises collection sizes for the debug endpoint.
type Stats struct {
	Profiles      int              `json:"profiles"`
	Orders        int              `json:"orders"`
	Charges       int              `json:"charges"`
	Offers        int              `json:"offers"`
	Notifications int              `json:"notifications"`
	Cursors       map[string]int64 `json:"botCursors"`
}

// Stats returns a copy of the collection sizes and cursor positions.
func (d *Document) Stats() Stats {
	cursors := make(map[string]int64, len(d.Cursors))
	for k, v := range d.Cursors {
		cursors[k] = v
	}
	return Stats{
		Profiles:      len(d.Profiles),
		Orders:        len(d.Orders),
		Charges:       len(d.Charges),
		Offers:        len(d.Offers),
		Notifications: len(d.Notifications),
		Cursors:       cursors,
	}
}

// MessageKey renders an outbound message id as a profile-edit map key.
func MessageKey(messageID int64) string {
	return strconv.FormatInt(messageID, 10)
}
