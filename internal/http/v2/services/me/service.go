// Package me contiene el service de la cuenta del usuario autenticado.
package me

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/dropDatabas3/passgate/internal/ceremony"
	"github.com/dropDatabas3/passgate/internal/domain/repository"
	dto "github.com/dropDatabas3/passgate/internal/http/v2/dto/me"
	"github.com/dropDatabas3/passgate/internal/invite"
)

type Service interface {
	Get(ctx context.Context, u *repository.User) (*dto.MeResponse, error)
	// RemoveCredential recibe el id en base64url. Revoca todas las sesiones del usuario.
	RemoveCredential(ctx context.Context, u *repository.User, credentialID string) error
	// LinkInvite emite un invite de un uso para sumar una passkey a la cuenta.
	LinkInvite(ctx context.Context, u *repository.User) (*dto.LinkInviteResponse, error)
}

type Deps struct {
	Engine      *ceremony.Engine
	Invites     *invite.Registry
	Credentials repository.CredentialRepository
}

type service struct {
	deps Deps
}

func NewService(d Deps) Service {
	return &service{deps: d}
}

func (s *service) Get(ctx context.Context, u *repository.User) (*dto.MeResponse, error) {
	creds, err := s.deps.Credentials.ListByUser(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("me: list credentials: %w", err)
	}
	out := &dto.MeResponse{
		User: dto.UserView{
			ID:          u.ID.String(),
			DisplayName: u.DisplayName,
			Role:        string(u.Role),
			CreatedAt:   u.CreatedAt,
		},
		Credentials: make([]dto.CredentialView, 0, len(creds)),
	}
	for _, c := range creds {
		out.Credentials = append(out.Credentials, dto.CredentialView{
			ID:             base64.RawURLEncoding.EncodeToString(c.ID),
			Attachment:     c.Attachment,
			Transports:     c.Transports,
			BackupEligible: c.Flags.BackupEligible,
			BackupState:    c.Flags.BackupState,
			CloneWarning:   c.CloneWarning,
			CreatedAt:      c.CreatedAt,
			LastUsedAt:     c.LastUsedAt,
		})
	}
	return out, nil
}

func (s *service) RemoveCredential(ctx context.Context, u *repository.User, credentialID string) error {
	id, err := base64.RawURLEncoding.DecodeString(credentialID)
	if err != nil || len(id) == 0 {
		// id ilegible: indistinguible de uno ajeno
		return repository.ErrNotFound
	}
	return s.deps.Engine.RemoveCredential(ctx, u.ID, id)
}

func (s *service) LinkInvite(ctx context.Context, u *repository.User) (*dto.LinkInviteResponse, error) {
	inv, err := s.deps.Invites.CreateLink(ctx, u.ID, "user:"+u.ID.String())
	if err != nil {
		return nil, err
	}
	return &dto.LinkInviteResponse{Code: inv.Code, ExpiresAt: inv.ExpiresAt}, nil
}
