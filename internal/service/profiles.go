package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"

	"topup-bot/internal/ledger"
	"topup-bot/internal/repo"
)

var sevenDigits = regexp.MustCompile(`^\d{7}$`)

func randomPersonal() string {
	return strconv.Itoa(1000000 + rand.IntN(9000000))
}

// RegisterInput carries the fields of a registration form.
type RegisterInput struct {
	Personal string
	Name     string
	Email    string
	Password string
	Phone    string
}

// Register creates or updates a profile, mirrors it to the ledger and
// reports it to the login-report bot.
func (s *Service) Register(ctx context.Context, in RegisterInput) (repo.Profile, error) {
	in.Personal = strings.TrimSpace(in.Personal)
	if in.Personal == "" {
		return repo.Profile{}, missing("personalNumber")
	}

	var profile repo.Profile
	err := s.store.Update(ctx, func(doc *repo.Document) error {
		p := doc.FindProfile(in.Personal)
		if p == nil {
			p = doc.EnsureProfile(in.Personal)
			p.Name = repo.UnknownName
		}
		p.Name = orDefault(in.Name, p.Name)
		p.Email = orDefault(in.Email, p.Email)
		p.Password = orDefault(in.Password, p.Password)
		p.Phone = orDefault(in.Phone, p.Phone)
		profile = *p
		return nil
	})
	if err != nil {
		return repo.Profile{}, err
	}

	s.syncRow(ctx, profile)
	text := fmt.Sprintf("تسجيل مستخدم جديد:\nالاسم: %s\nالبريد: %s\nالهاتف: %s\nالرقم الشخصي: %s\nكلمة السر: %s",
		profile.Name, orDefault(profile.Email, "لا يوجد"), orDefault(profile.Phone, "لا يوجد"), profile.PersonalNumber, orDefault(profile.Password, "---"))
	if _, err := s.send(ctx, s.cfg.LoginReport, text); err != nil {
		s.logger.Warn("register report failed", "personal", profile.PersonalNumber, "error", err)
	}
	return profile, nil
}

// LoginInput identifies a profile by personal number or email.
type LoginInput struct {
	Personal string
	Email    string
	Password string
	Name     string
	Phone    string
}

// Login authenticates or creates a profile, syncs it from the ledger and
// makes sure it carries a login number.
func (s *Service) Login(ctx context.Context, in LoginInput) (repo.Profile, error) {
	in.Personal = strings.TrimSpace(in.Personal)

	var (
		profile repo.Profile
		created bool
	)
	err := s.store.Update(ctx, func(doc *repo.Document) error {
		var p *repo.Profile
		if in.Personal != "" {
			p = doc.FindProfile(in.Personal)
		} else {
			p = doc.FindProfileByEmail(in.Email)
		}

		if p != nil {
			if p.Password != "" && in.Password != p.Password {
				return ErrInvalidPassword
			}
			profile = *p
			return nil
		}

		personal := in.Personal
		for !sevenDigits.MatchString(personal) || doc.FindProfile(personal) != nil {
			personal = s.randID()
		}
		p = doc.EnsureProfile(personal)
		p.Name = orDefault(in.Name, repo.NewUserName)
		p.Email = strings.TrimSpace(in.Email)
		p.Password = in.Password
		p.Phone = in.Phone
		profile = *p
		created = true
		return nil
	})
	if err != nil {
		return repo.Profile{}, err
	}
	if created {
		s.logger.Info("profile created on login", "personal", profile.PersonalNumber)
	}

	personal := profile.PersonalNumber
	row, err := s.balances.PullBalance(ctx, personal)
	switch {
	case err == nil:
		s.store.Mutate(func(doc *repo.Document) {
			p := doc.EnsureProfile(personal)
			p.Name = orDefault(p.Name, row.Name)
			p.Email = orDefault(p.Email, row.Email)
			if row.LoginNumber > 0 {
				p.LoginNumber = row.LoginNumber
			}
		})
	case errors.Is(err, ledger.ErrRowNotFound):
		s.syncRow(ctx, profile)
	default:
		s.logger.Warn("ledger sync on login failed", "personal", personal, "error", err)
	}

	var loginNumber int64
	s.store.View(func(doc *repo.Document) { loginNumber = doc.EnsureProfile(personal).LoginNumber })
	if loginNumber == 0 {
		s.assignLoginNumber(ctx, personal)
	}

	err = s.store.Update(ctx, func(doc *repo.Document) error {
		p := doc.EnsureProfile(personal)
		now := s.now().UTC()
		p.LastLogin = &now
		profile = *p
		return nil
	})
	if err != nil {
		return repo.Profile{}, err
	}

	s.report(ctx, s.cfg.LoginReport, "login", loginText(profile))
	return profile, nil
}

// assignLoginNumber takes the number from the ledger when reachable and
// falls back to one above the highest local number.
func (s *Service) assignLoginNumber(ctx context.Context, personal string) {
	assigned, err := s.ledger.AssignLoginNumber(ctx, personal)
	if err != nil {
		s.logger.Warn("ledger login number unavailable, assigning locally", "personal", personal, "error", err)
	}
	s.store.Mutate(func(doc *repo.Document) {
		p := doc.EnsureProfile(personal)
		if p.LoginNumber != 0 {
			return
		}
		if err == nil && assigned > 0 {
			p.LoginNumber = assigned
			return
		}
		p.LoginNumber = doc.MaxLoginNumber() + 1
	})
}

func loginText(p repo.Profile) string {
	login := "---"
	if p.LoginNumber > 0 {
		login = strconv.FormatInt(p.LoginNumber, 10)
	}
	stamp := ""
	if p.LastLogin != nil {
		stamp = p.LastLogin.Format("2006-01-02T15:04:05.000Z07:00")
	}
	return fmt.Sprintf("تسجيل دخول/تسجيل جديد:\nالاسم: %s\nالرقم الشخصي: %s\nرقم الدخول: %s\nالهاتف: %s\nالبريد: %s\nالوقت: %s",
		orDefault(p.Name, repo.UnknownName), p.PersonalNumber, login, orDefault(p.Phone, "لا يوجد"), orDefault(p.Email, "لا يوجد"), stamp)
}

// Profile returns the stored profile.
func (s *Service) Profile(personal string) (repo.Profile, error) {
	var (
		profile repo.Profile
		found   bool
	)
	s.store.View(func(doc *repo.Document) {
		if p := doc.FindProfile(personal); p != nil {
			profile, found = *p, true
		}
	})
	if !found {
		return repo.Profile{}, ErrNotFound
	}
	return profile, nil
}

// RequestEdit asks operators to allow one profile edit. The returned message
// id is remembered so an approving reply can unlock the edit.
func (s *Service) RequestEdit(ctx context.Context, personal string) (int64, error) {
	personal = strings.TrimSpace(personal)
	if personal == "" {
		return 0, missing("personal")
	}
	var name string
	s.store.Mutate(func(doc *repo.Document) {
		name = orDefault(doc.EnsureProfile(personal).Name, repo.UnknownName)
	})

	text := fmt.Sprintf("طلب تعديل بيانات المستخدم:\nالاسم: %s\nالرقم الشخصي: %s\n(اكتب \"تم\" كرد هنا للموافقة على التعديل لمرة واحدة)", name, personal)
	sent, err := s.send(ctx, s.cfg.LoginReport, text)
	if err != nil {
		s.metrics.IncError("service")
		return 0, fmt.Errorf("%w: %w", ErrChatSendFailed, err)
	}

	err = s.store.Update(ctx, func(doc *repo.Document) error {
		doc.ProfileEditRequests[repo.MessageKey(sent.MessageID)] = personal
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("profile edit requested", "personal", personal, "message_id", sent.MessageID)
	return sent.MessageID, nil
}

// EditInput carries the fields a customer may change once approved.
type EditInput struct {
	Personal string
	Name     string
	Email    string
	Phone    string
	Password string
}

// SubmitEdit applies an approved edit and consumes the approval.
func (s *Service) SubmitEdit(ctx context.Context, in EditInput) (repo.Profile, error) {
	in.Personal = strings.TrimSpace(in.Personal)
	if in.Personal == "" {
		return repo.Profile{}, missing("personal")
	}

	var profile repo.Profile
	err := s.store.Update(ctx, func(doc *repo.Document) error {
		p := doc.FindProfile(in.Personal)
		if p == nil {
			return ErrNotFound
		}
		if !p.CanEdit {
			return ErrEditNotAllowed
		}
		p.Name = orDefault(in.Name, p.Name)
		p.Email = orDefault(in.Email, p.Email)
		p.Phone = orDefault(in.Phone, p.Phone)
		p.Password = orDefault(in.Password, p.Password)
		p.CanEdit = false
		profile = *p
		return nil
	})
	if err != nil {
		return repo.Profile{}, err
	}
	s.syncRow(ctx, profile)
	return profile, nil
}
