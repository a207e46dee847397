// Package admin contiene los services de administración V2.
package admin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/passgate/internal/domain/repository"
	dto "github.com/dropDatabas3/passgate/internal/http/v2/dto/admin"
	httperrors "github.com/dropDatabas3/passgate/internal/http/v2/errors"
	"github.com/dropDatabas3/passgate/internal/email"
	"github.com/dropDatabas3/passgate/internal/invite"
	"github.com/dropDatabas3/passgate/internal/observability/logger"
)

// InvitesService administra invitaciones desde la API.
type InvitesService interface {
	List(ctx context.Context, activeOnly bool) (*dto.ListInvitesResponse, error)
	Create(ctx context.Context, actor *repository.User, in dto.CreateInviteRequest) (*dto.CreateInviteResponse, error)
	Revoke(ctx context.Context, code string) error
}

type InvitesDeps struct {
	Registry *invite.Registry
	// Mailer nil => no hay SMTP; pedir email devuelve 503.
	Mailer *email.Mailer
	Clock  func() time.Time
}

type invitesService struct {
	deps InvitesDeps
}

func NewInvitesService(d InvitesDeps) InvitesService {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return &invitesService{deps: d}
}

func (s *invitesService) List(ctx context.Context, activeOnly bool) (*dto.ListInvitesResponse, error) {
	invs, err := s.deps.Registry.List(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	now := s.deps.Clock()
	out := &dto.ListInvitesResponse{Invites: make([]dto.InviteView, 0, len(invs))}
	for i := range invs {
		out.Invites = append(out.Invites, View(&invs[i], now))
	}
	return out, nil
}

func (s *invitesService) Create(ctx context.Context, actor *repository.User, in dto.CreateInviteRequest) (*dto.CreateInviteResponse, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("admin.invites"), logger.Op("Create"))

	wantMail := strings.TrimSpace(in.Email) != ""
	if wantMail && s.deps.Mailer == nil {
		return nil, httperrors.ErrServiceUnavailable.WithDetail("smtp no configurado")
	}

	var ttl time.Duration
	if t := strings.TrimSpace(in.TTL); t != "" {
		d, err := time.ParseDuration(t)
		if err != nil || d <= 0 {
			return nil, httperrors.ErrValidation.WithDetail("ttl must be a positive duration (e.g. 72h)")
		}
		ttl = d
	}

	inv, err := s.deps.Registry.Create(ctx, invite.CreateInput{
		Code:      in.Code,
		Format:    invite.Format(in.Format),
		Words:     in.Words,
		Length:    in.Length,
		Uses:      in.Uses,
		TTL:       ttl,
		NoExpiry:  in.NoExpiry,
		CreatedBy: "user:" + actor.ID.String(),
	})
	if err != nil {
		return nil, err
	}

	out := &dto.CreateInviteResponse{Invite: View(inv, s.deps.Clock())}
	if s.deps.Mailer != nil {
		out.Link = s.deps.Mailer.InviteLink(inv.Code)
	}
	if wantMail {
		// el invite ya existe: un fallo de SMTP no lo deshace
		err := s.deps.Mailer.SendInvite(in.Email, email.InviteVars{
			Code:      inv.Code,
			Uses:      inv.RemainingUses,
			ExpiresAt: inv.ExpiresAt,
		})
		if err != nil {
			log.Warn("invite email failed", logger.Invite(inv.Code), logger.Email(in.Email), logger.Err(err))
		} else {
			log.Info("invite email sent", logger.Invite(inv.Code), logger.Email(in.Email))
			out.EmailSent = true
		}
	}
	return out, nil
}

func (s *invitesService) Revoke(ctx context.Context, code string) error {
	if err := s.deps.Registry.Revoke(ctx, code); err != nil {
		return fmt.Errorf("admin: revoke invite: %w", err)
	}
	return nil
}

// View arma la vista de un invite con su estado en now.
func View(inv *repository.Invite, now time.Time) dto.InviteView {
	v := dto.InviteView{
		Code:          inv.Code,
		RemainingUses: inv.RemainingUses,
		ExpiresAt:     inv.ExpiresAt,
		CreatedBy:     inv.CreatedBy,
		CreatedAt:     inv.CreatedAt,
		RevokedAt:     inv.RevokedAt,
		Status:        Status(inv, now),
	}
	if inv.LinkUserID != nil {
		v.LinkUserID = inv.LinkUserID.String()
	}
	return v
}

// Status: revoked | expired | exhausted | active.
func Status(inv *repository.Invite, now time.Time) string {
	switch {
	case inv.RevokedAt != nil:
		return "revoked"
	case inv.Expired(now):
		return "expired"
	case inv.RemainingUses <= 0:
		return "exhausted"
	}
	return "active"
}
