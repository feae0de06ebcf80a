package service

import (
	"context"
	"fmt"
	"strings"

	"topup-bot/internal/repo"
)

// HelpInput is a support request.
type HelpInput struct {
	Personal string
	Issue    string
	Desc     string
	FileLink string
	Name     string
	Email    string
	Phone    string
}

// Help forwards a support request to the help bot.
func (s *Service) Help(ctx context.Context, in HelpInput) (int64, error) {
	in.Personal = strings.TrimSpace(in.Personal)
	if in.Personal == "" {
		return 0, missing("personal")
	}
	var prof repo.Profile
	s.store.Mutate(func(doc *repo.Document) { prof = *doc.EnsureProfile(in.Personal) })

	text := fmt.Sprintf("مشكلة من المستخدم:\nالاسم: %s\nالرقم الشخصي: %s\nالهاتف: %s\nالبريد: %s\nالمشكلة: %s\nالوصف: %s\nرابط الملف: %s",
		orDefault(in.Name, orDefault(prof.Name, repo.UnknownName)),
		in.Personal,
		orDefault(in.Phone, orDefault(prof.Phone, "لا يوجد")),
		orDefault(in.Email, orDefault(prof.Email, "لا يوجد")),
		in.Issue,
		in.Desc,
		orDefault(in.FileLink, "لا يوجد"),
	)
	sent, err := s.send(ctx, s.cfg.Help, text)
	if err != nil {
		s.metrics.IncError("service")
		return 0, fmt.Errorf("%w: %w", ErrChatSendFailed, err)
	}
	return sent.MessageID, nil
}

// AckOffer tells the offers bot that a customer claimed an offer.
func (s *Service) AckOffer(ctx context.Context, personal string, offerID int64) error {
	personal = strings.TrimSpace(personal)
	if personal == "" || offerID == 0 {
		return missing("personal", "offerId")
	}
	var (
		prof      repo.Profile
		offerText = repo.UnknownName
	)
	s.store.Mutate(func(doc *repo.Document) {
		prof = *doc.EnsureProfile(personal)
		if o := doc.FindOffer(offerID); o != nil {
			offerText = o.Text
		}
	})

	text := fmt.Sprintf("لقد حصل على العرض او الهدية\nالرقم الشخصي: %s\nالبريد: %s\nالهاتف: %s\nالعرض: %s",
		personal, orDefault(prof.Email, "لا يوجد"), orDefault(prof.Phone, "لا يوجد"), offerText)
	if _, err := s.send(ctx, s.cfg.Offers, text); err != nil {
		s.metrics.IncError("service")
		return fmt.Errorf("%w: %w", ErrChatSendFailed, err)
	}
	return nil
}

// Inbox is everything a customer sees on their notifications page.
type Inbox struct {
	Profile       repo.Profile        `json:"profile"`
	Offers        []repo.Offer        `json:"offers"`
	Orders        []repo.Order        `json:"orders"`
	Charges       []repo.Charge       `json:"charges"`
	Notifications []repo.Notification `json:"notifications"`
	CanEdit       bool                `json:"canEdit"`
}

// Inbox collects the profile's records. Offers are only shown to profiles
// with a seven character personal number.
func (s *Service) Inbox(personal string) (Inbox, error) {
	personal = strings.TrimSpace(personal)
	var (
		box   Inbox
		found bool
	)
	s.store.View(func(doc *repo.Document) {
		p := doc.FindProfile(personal)
		if p == nil {
			return
		}
		found = true
		box.Profile = *p
		box.CanEdit = p.CanEdit
		box.Offers = []repo.Offer{}
		if len(personal) == 7 {
			box.Offers = append(box.Offers, doc.Offers...)
		}
		box.Orders = []repo.Order{}
		for _, o := range doc.Orders {
			if o.PersonalNumber == personal {
				box.Orders = append(box.Orders, *o)
			}
		}
		box.Charges = []repo.Charge{}
		for _, c := range doc.Charges {
			if c.PersonalNumber == personal {
				box.Charges = append(box.Charges, *c)
			}
		}
		box.Notifications = append([]repo.Notification{}, doc.NotificationsFor(personal)...)
	})
	if !found {
		return Inbox{}, ErrNotFound
	}
	return box, nil
}

// MarkRead marks the profile's notifications read. Orders and charges keep
// their replied flag: a resolved record never reads as pending again.
func (s *Service) MarkRead(ctx context.Context, personal string) error {
	personal = strings.TrimSpace(personal)
	if personal == "" {
		return missing("personal")
	}
	return s.store.Update(ctx, func(doc *repo.Document) error {
		for i := range doc.Notifications {
			if doc.Notifications[i].Personal == personal {
				doc.Notifications[i].Read = true
			}
		}
		return nil
	})
}

// ClearNotifications drops every notification addressed to personal.
func (s *Service) ClearNotifications(ctx context.Context, personal string) error {
	personal = strings.TrimSpace(personal)
	if personal == "" {
		return missing("personal")
	}
	return s.store.Update(ctx, func(doc *repo.Document) error {
		kept := doc.Notifications[:0]
		for _, n := range doc.Notifications {
			if n.Personal != personal {
				kept = append(kept, n)
			}
		}
		doc.Notifications = kept
		return nil
	})
}

// Stats reports collection sizes and poll cursors.
func (s *Service) Stats() repo.Stats {
	var stats repo.Stats
	s.store.View(func(doc *repo.Document) { stats = doc.Stats() })
	return stats
}

// ResetCursors forgets every bot cursor so the next poll starts over.
func (s *Service) ResetCursors(ctx context.Context) error {
	return s.store.Update(ctx, func(doc *repo.Document) error {
		doc.Cursors = map[string]int64{}
		return nil
	})
}
