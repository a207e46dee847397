package ceremony

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/passgate/internal/audit"
	"github.com/dropDatabas3/passgate/internal/challenge"
	"github.com/dropDatabas3/passgate/internal/domain/repository"
	"github.com/dropDatabas3/passgate/internal/metrics"
	"github.com/dropDatabas3/passgate/internal/observability/logger"
)

// Verifier es la parte específica de cada tipo de ceremonia: verificar la
// respuesta del authenticator contra un challenge ya consumido y aplicar el efecto.
type Verifier interface {
	Kind() challenge.Kind
	Verify(ctx context.Context, ch *challenge.Challenge, body []byte) (*outcome, error)
}

type outcome struct {
	userID       uuid.UUID
	credentialID []byte
	linked       bool
}

// =================================================================================
// Registración
// =================================================================================

type registrationVerifier struct{ e *Engine }

func (v *registrationVerifier) Kind() challenge.Kind { return challenge.KindRegistration }

func (v *registrationVerifier) Verify(ctx context.Context, ch *challenge.Challenge, body []byte) (*outcome, error) {
	e := v.e
	parsed, err := protocol.ParseCredentialCreationResponseBytes(body)
	if err != nil {
		return nil, verificationError("parse attestation", err)
	}
	user := newWAUser(ch.UserID, ch.DisplayName, nil)
	waCred, err := e.wa.CreateCredential(user, ch.Session, parsed)
	if err != nil {
		return nil, verificationError("attestation", err)
	}

	now := e.now()
	cred := fromWebAuthn(ch.UserID, waCred)
	cred.CreatedAt = now

	err = e.store.InTx(ctx, func(tx repository.Repositories) error {
		if ch.LinkExisting {
			if _, err := tx.Users().GetByID(ctx, ch.UserID); err != nil {
				if repository.IsNotFound(err) {
					return verificationError("link target", err)
				}
				return err
			}
		} else {
			n, err := tx.Users().Count(ctx)
			if err != nil {
				return err
			}
			if n == 0 {
				// dos primeros registros simultáneos: solo uno ve la tabla vacía
				if err := tx.Users().LockEnrollment(ctx); err != nil {
					return err
				}
				if n, err = tx.Users().Count(ctx); err != nil {
					return err
				}
			}
			u := &repository.User{ID: ch.UserID, DisplayName: ch.DisplayName, Role: repository.RoleMember, CreatedAt: now}
			if n == 0 {
				u.Role = repository.RoleAdmin
			}
			if ch.InviteCode != "" {
				code := ch.InviteCode
				u.InviteCode = &code
			}
			if err := tx.Users().Create(ctx, u); err != nil {
				if repository.IsConflict(err) {
					return ErrIdentityTaken
				}
				return err
			}
		}

		if err := tx.Credentials().Create(ctx, &cred); err != nil {
			if repository.IsConflict(err) {
				return verificationError("credential already registered", err)
			}
			return err
		}

		if ch.InviteCode != "" {
			if _, err := e.invites.Redeem(ctx, tx, ch.InviteCode, ch.UserID); err != nil {
				metrics.InviteRedemptions.WithLabelValues(metrics.ResultRejected).Inc()
				return err
			}
			metrics.InviteRedemptions.WithLabelValues(metrics.ResultOK).Inc()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &outcome{userID: ch.UserID, credentialID: cred.ID, linked: ch.LinkExisting}, nil
}

// =================================================================================
// Autenticación
// =================================================================================

type authenticationVerifier struct{ e *Engine }

func (v *authenticationVerifier) Kind() challenge.Kind { return challenge.KindAuthentication }

// rollbackError lleva los contadores fuera de la transacción para el log.
type rollbackError struct {
	stored, presented uint32
}

func (r *rollbackError) Error() string {
	return fmt.Sprintf("sign counter %d <= stored %d", r.presented, r.stored)
}

func (r *rollbackError) Unwrap() error { return ErrCounterRollback }

// counterAdvances aplica la regla del sign counter: debe crecer, salvo que el
// authenticator no lo implemente (ambos en cero).
func counterAdvances(stored, presented uint32) bool {
	return presented > stored || (presented == 0 && stored == 0)
}

func (v *authenticationVerifier) Verify(ctx context.Context, ch *challenge.Challenge, body []byte) (*outcome, error) {
	e := v.e
	if ch.Decoy {
		return nil, verificationError("decoy", errors.New("unknown identifier"))
	}

	parsed, err := protocol.ParseCredentialRequestResponseBytes(body)
	if err != nil {
		return nil, verificationError("parse assertion", err)
	}

	cred, err := e.store.Credentials().Get(ctx, parsed.RawID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, verificationError("credential lookup", err)
		}
		return nil, err
	}
	if ch.UserID != uuid.Nil && cred.UserID != ch.UserID {
		return nil, verificationError("credential owner", errors.New("credential not bound to ceremony user"))
	}
	if e.cfg.BlockFlaggedCredentials && cred.CloneWarning {
		return nil, verificationError("flagged credential", errors.New("credential carries clone warning"))
	}

	owner, err := e.store.Users().GetByID(ctx, cred.UserID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, verificationError("credential owner", err)
		}
		return nil, err
	}
	creds, err := e.store.Credentials().ListByUser(ctx, owner.ID)
	if err != nil {
		return nil, err
	}
	user := newWAUser(owner.ID, owner.DisplayName, creds)

	if ch.UserID != uuid.Nil {
		_, err = e.wa.ValidateLogin(user, ch.Session, parsed)
	} else {
		_, err = e.wa.ValidateDiscoverableLogin(func(rawID, handle []byte) (webauthn.User, error) {
			if !bytes.Equal(rawID, cred.ID) || !bytes.Equal(handle, user.WebAuthnID()) {
				return nil, errors.New("user handle does not match credential owner")
			}
			return user, nil
		}, ch.Session, parsed)
	}
	if err != nil {
		return nil, verificationError("assertion", err)
	}

	authData := parsed.Response.AuthenticatorData
	presented := authData.Counter
	now := e.now()

	err = e.store.InTx(ctx, func(tx repository.Repositories) error {
		locked, err := tx.Credentials().LockForUpdate(ctx, cred.ID)
		if err != nil {
			return err
		}
		if !counterAdvances(locked.SignCount, presented) {
			return &rollbackError{stored: locked.SignCount, presented: presented}
		}
		return tx.Credentials().UpdateUsage(ctx, cred.ID, repository.CredentialUsage{
			SignCount:    presented,
			UserVerified: authData.Flags.HasUserVerified(),
			BackupState:  authData.Flags.HasBackupState(),
			UsedAt:       now,
		})
	})
	if err != nil {
		var rb *rollbackError
		if errors.As(err, &rb) {
			e.flagClone(ctx, owner.ID, cred.ID, rb)
		}
		return nil, err
	}
	return &outcome{userID: owner.ID, credentialID: cred.ID}, nil
}

// flagClone marca la credencial fuera de la transacción revertida.
func (e *Engine) flagClone(ctx context.Context, userID uuid.UUID, credID []byte, rb *rollbackError) {
	metrics.CounterRollbacks.Inc()
	audit.Log(ctx, audit.CounterRollback,
		logger.UserID(userID), logger.CredentialID(credID),
		zap.Uint32("stored_counter", rb.stored), zap.Uint32("presented_counter", rb.presented),
	)
	if err := e.store.Credentials().MarkCloneWarning(ctx, credID, e.now()); err != nil {
		logger.From(ctx).Error("no se pudo marcar la credencial", logger.CredentialID(credID), logger.Err(err))
	}
}
