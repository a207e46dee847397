// Package auth contiene el service de ceremonias WebAuthn y sesiones V2.
package auth

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"

	"github.com/dropDatabas3/passgate/internal/ceremony"
	"github.com/dropDatabas3/passgate/internal/domain/repository"
	dto "github.com/dropDatabas3/passgate/internal/http/v2/dto/auth"
	"github.com/dropDatabas3/passgate/internal/observability/logger"
	"github.com/dropDatabas3/passgate/internal/session"
)

// Service orquesta engine + session manager. Los errores de dominio se
// devuelven tal cual; el mapeo a HTTP lo hace httperrors.FromError.
type Service interface {
	BeginRegistration(ctx context.Context, in dto.BeginRegistrationRequest) (*dto.BeginRegistrationResponse, error)
	FinishRegistration(ctx context.Context, in dto.FinishRequest, meta session.IssueMeta) (*dto.SessionResponse, error)
	BeginLogin(ctx context.Context, in dto.BeginLoginRequest) (*dto.BeginLoginResponse, error)
	FinishLogin(ctx context.Context, in dto.FinishRequest, meta session.IssueMeta) (*dto.SessionResponse, error)
	Logout(ctx context.Context, token string) error
	Status(ctx context.Context, token string) dto.StatusResponse
}

// Deps contiene las dependencias del service.
type Deps struct {
	Engine   *ceremony.Engine
	Sessions *session.Manager
	Users    repository.UserRepository
}

type service struct {
	deps Deps
}

func NewService(d Deps) Service {
	return &service{deps: d}
}

var b64 = base64.RawURLEncoding

func (s *service) BeginRegistration(ctx context.Context, in dto.BeginRegistrationRequest) (*dto.BeginRegistrationResponse, error) {
	res, err := s.deps.Engine.BeginRegistration(ctx, ceremony.BeginRegistrationInput{
		DisplayName: in.DisplayName,
		InviteCode:  in.InviteCode,
	})
	if err != nil {
		return nil, err
	}
	return &dto.BeginRegistrationResponse{CeremonyID: res.CeremonyID, ExpiresAt: res.ExpiresAt, Options: res.Options}, nil
}

// FinishRegistration completa el registro y abre sesión. Si la sesión falla
// el registro ya quedó confirmado: el usuario puede hacer login.
func (s *service) FinishRegistration(ctx context.Context, in dto.FinishRequest, meta session.IssueMeta) (*dto.SessionResponse, error) {
	res, err := s.deps.Engine.FinishRegistration(ctx, in.CeremonyID, in.Credential)
	if err != nil {
		return nil, err
	}
	out, err := s.issue(ctx, res.UserID, res.CredentialID, meta)
	if err != nil {
		return nil, err
	}
	out.LinkedExisting = res.LinkedExisting
	return out, nil
}

func (s *service) BeginLogin(ctx context.Context, in dto.BeginLoginRequest) (*dto.BeginLoginResponse, error) {
	res, err := s.deps.Engine.BeginAuthentication(ctx, ceremony.BeginAuthenticationInput{Identifier: in.Identifier})
	if err != nil {
		return nil, err
	}
	allowed := make([]string, 0, len(res.AllowedCredentials))
	for _, id := range res.AllowedCredentials {
		allowed = append(allowed, b64.EncodeToString(id))
	}
	return &dto.BeginLoginResponse{
		CeremonyID:         res.CeremonyID,
		ExpiresAt:          res.ExpiresAt,
		Options:            res.Options,
		AllowedCredentials: allowed,
	}, nil
}

func (s *service) FinishLogin(ctx context.Context, in dto.FinishRequest, meta session.IssueMeta) (*dto.SessionResponse, error) {
	res, err := s.deps.Engine.FinishAuthentication(ctx, in.CeremonyID, in.Credential)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, res.UserID, res.CredentialID, meta)
}

func (s *service) issue(ctx context.Context, userID uuid.UUID, credID []byte, meta session.IssueMeta) (*dto.SessionResponse, error) {
	iss, err := s.deps.Sessions.Issue(ctx, userID, meta)
	if err != nil {
		logger.From(ctx).Error("session issue failed",
			logger.Layer("service"), logger.Component("auth"), logger.UserID(userID), logger.Err(err))
		return nil, fmt.Errorf("auth: issue session: %w", err)
	}
	return &dto.SessionResponse{
		UserID:       userID.String(),
		CredentialID: b64.EncodeToString(credID),
		Token:        iss.Token,
		ExpiresAt:    iss.ExpiresAt,
	}, nil
}

// Logout es idempotente: sin token o con token desconocido no hace nada.
func (s *service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.deps.Sessions.Revoke(ctx, token)
}

func (s *service) Status(ctx context.Context, token string) dto.StatusResponse {
	if token == "" {
		return dto.StatusResponse{}
	}
	userID, ok := s.deps.Sessions.Validate(ctx, token)
	if !ok {
		return dto.StatusResponse{}
	}
	u, err := s.deps.Users.GetByID(ctx, userID)
	if err != nil {
		return dto.StatusResponse{}
	}
	return dto.StatusResponse{
		Authenticated: true,
		UserID:        u.ID.String(),
		DisplayName:   u.DisplayName,
		Role:          string(u.Role),
	}
}
