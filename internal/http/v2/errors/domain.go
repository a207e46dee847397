package errors

import (
	stderrors "errors"

	"github.com/dropDatabas3/passgate/internal/ceremony"
	"github.com/dropDatabas3/passgate/internal/domain/repository"
	"github.com/dropDatabas3/passgate/internal/invite"
	"github.com/dropDatabas3/passgate/internal/validation"
)

// FromDomain traduce los errores de ceremony/invite/repository al AppError
// correspondiente. Retorna nil si err no es un error de dominio conocido.
//
// Verificación fallida y rollback de contador salen con mensaje opaco: el
// detalle queda solo en la causa.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}

	var verr *validation.Error
	switch {
	case stderrors.As(err, &verr):
		return ErrValidation.WithDetail(verr.Error()).WithCause(err)

	// begin: cualquier motivo de rechazo del invite es INVITE_INVALID
	case stderrors.Is(err, ceremony.ErrInviteInvalid):
		return ErrInviteInvalid.WithDetail(inviteReason(err)).WithCause(err)

	case stderrors.Is(err, ceremony.ErrIdentityTaken):
		return ErrIdentityTaken.WithCause(err)
	case stderrors.Is(err, ceremony.ErrChallengeNotFound):
		return ErrChallengeNotFound.WithCause(err)
	case stderrors.Is(err, ceremony.ErrChallengeExpired):
		return ErrChallengeExpired.WithCause(err)
	case stderrors.Is(err, ceremony.ErrCounterRollback):
		return ErrCounterRollback.WithCause(err)
	case stderrors.Is(err, ceremony.ErrVerificationFailed):
		return ErrVerificationFailed.WithCause(err)
	case stderrors.Is(err, ceremony.ErrUserNotFound):
		return ErrUserNotFound.WithCause(err)
	case stderrors.Is(err, ceremony.ErrLastCredential):
		return ErrLastCredential.WithCause(err)

	// finish: el canje dentro de la transacción reporta el motivo exacto
	case stderrors.Is(err, invite.ErrInviteExhausted):
		return ErrInviteExhausted.WithCause(err)
	case stderrors.Is(err, invite.ErrInviteExpired):
		return ErrInviteExpired.WithCause(err)
	case stderrors.Is(err, invite.ErrInviteNotFound):
		return ErrInviteNotFound.WithCause(err)
	case stderrors.Is(err, invite.ErrInvalidCode):
		return ErrValidation.WithDetail(err.Error()).WithCause(err)

	case stderrors.Is(err, repository.ErrInvalidInput):
		return ErrBadRequest.WithDetail(err.Error()).WithCause(err)
	case stderrors.Is(err, repository.ErrNotFound):
		return ErrNotFound.WithCause(err)
	case stderrors.Is(err, repository.ErrConflict):
		return ErrConflict.WithCause(err)
	case stderrors.Is(err, repository.ErrNoDatabase):
		return ErrServiceUnavailable.WithCause(err)
	}
	return nil
}

func inviteReason(err error) string {
	switch {
	case stderrors.Is(err, invite.ErrInviteExhausted):
		return "exhausted"
	case stderrors.Is(err, invite.ErrInviteExpired):
		return "expired"
	case stderrors.Is(err, invite.ErrInviteNotFound):
		return "not_found"
	}
	return ""
}
