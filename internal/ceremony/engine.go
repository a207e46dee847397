// Package ceremony implementa las ceremonias WebAuthn de registración y
// autenticación sobre go-webauthn. El begin emite un challenge de un solo uso;
// el finish lo consume, verifica la respuesta del authenticator y aplica los
// cambios en una transacción.
package ceremony

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/passgate/internal/audit"
	"github.com/dropDatabas3/passgate/internal/challenge"
	"github.com/dropDatabas3/passgate/internal/domain/repository"
	"github.com/dropDatabas3/passgate/internal/invite"
	"github.com/dropDatabas3/passgate/internal/metrics"
	"github.com/dropDatabas3/passgate/internal/observability/logger"
)

const maxDisplayName = 64

// Config del engine.
type Config struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string

	UserVerification        string
	ResidentKey             string
	Attestation             string
	AuthenticatorAttachment string

	ChallengeTTL          time.Duration
	InviteRequired        bool
	EnumerationResistance bool
	// DecoySecret vacío => secreto aleatorio por proceso.
	DecoySecret             []byte
	BlockFlaggedCredentials bool

	Clock func() time.Time
}

type Engine struct {
	cfg        Config
	wa         *webauthn.WebAuthn
	store      repository.Store
	challenges *challenge.Store
	invites    *invite.Registry
	decoys     *decoys

	registration   Verifier
	authentication Verifier
}

func New(cfg Config, store repository.Store, challenges *challenge.Store, invites *invite.Registry) (*Engine, error) {
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 2 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Attestation == "" {
		cfg.Attestation = string(protocol.PreferNoAttestation)
	}

	sel := protocol.AuthenticatorSelection{
		AuthenticatorAttachment: protocol.AuthenticatorAttachment(cfg.AuthenticatorAttachment),
		ResidentKey:             protocol.ResidentKeyRequirement(cfg.ResidentKey),
		UserVerification:        protocol.UserVerificationRequirement(cfg.UserVerification),
	}
	if sel.ResidentKey == protocol.ResidentKeyRequirementRequired {
		sel.RequireResidentKey = protocol.ResidentKeyRequired()
	}

	// el vencimiento lo controla el engine con su reloj, no go-webauthn
	timeout := webauthn.TimeoutConfig{Enforce: false, Timeout: cfg.ChallengeTTL, TimeoutUVD: cfg.ChallengeTTL}
	wa, err := webauthn.New(&webauthn.Config{
		RPID:                   cfg.RPID,
		RPDisplayName:          cfg.RPDisplayName,
		RPOrigins:              cfg.RPOrigins,
		AttestationPreference:  protocol.ConveyancePreference(cfg.Attestation),
		AuthenticatorSelection: sel,
		Timeouts:               webauthn.TimeoutsConfig{Login: timeout, Registration: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("ceremony: webauthn config: %w", err)
	}

	d, generated, err := newDecoys(cfg.DecoySecret)
	if err != nil {
		return nil, err
	}
	if generated && cfg.EnumerationResistance {
		logger.L().Warn("ceremony.decoy_secret vacío: los decoys cambian en cada reinicio", logger.Component("ceremony"))
	}

	e := &Engine{cfg: cfg, wa: wa, store: store, challenges: challenges, invites: invites, decoys: d}
	e.registration = &registrationVerifier{e: e}
	e.authentication = &authenticationVerifier{e: e}
	return e, nil
}

func (e *Engine) now() time.Time { return e.cfg.Clock().UTC() }

// =================================================================================
// Registración
// =================================================================================

type BeginRegistrationInput struct {
	DisplayName string
	InviteCode  string
}

type RegistrationBegin struct {
	CeremonyID string
	ExpiresAt  time.Time
	Options    *protocol.CredentialCreation
}

type RegistrationResult struct {
	UserID         uuid.UUID
	CredentialID   []byte
	LinkedExisting bool
}

// BeginRegistration valida el invite y emite las opciones de creación. Si el
// invite no sirve no se persiste nada.
func (e *Engine) BeginRegistration(ctx context.Context, in BeginRegistrationInput) (*RegistrationBegin, error) {
	log := logger.From(ctx).With(logger.Component("ceremony"), logger.CeremonyKind(string(challenge.KindRegistration)))

	name := strings.TrimSpace(in.DisplayName)
	if name == "" || utf8.RuneCountInString(name) > maxDisplayName {
		return nil, fmt.Errorf("%w: display name", repository.ErrInvalidInput)
	}
	code := invite.NormalizeCode(in.InviteCode)

	var inv *repository.Invite
	if e.cfg.InviteRequired || code != "" {
		var err error
		inv, err = e.invites.Validate(ctx, code)
		if err != nil {
			if invite.IsInviteError(err) {
				log.Info("invite rechazado", logger.Invite(code), logger.Err(err))
				e.count(challenge.KindRegistration, "begin", metrics.ResultRejected)
				return nil, fmt.Errorf("%w: %w", ErrInviteInvalid, err)
			}
			return nil, err
		}
	}

	var (
		user *waUser
		link bool
	)
	if inv != nil && inv.LinkUserID != nil {
		target, err := e.store.Users().GetByID(ctx, *inv.LinkUserID)
		if err != nil {
			if repository.IsNotFound(err) {
				return nil, fmt.Errorf("%w: %w", ErrInviteInvalid, invite.ErrInviteNotFound)
			}
			return nil, err
		}
		if target.DisplayName != name {
			e.count(challenge.KindRegistration, "begin", metrics.ResultRejected)
			return nil, fmt.Errorf("%w: el invite pertenece a otra cuenta", ErrInviteInvalid)
		}
		creds, err := e.store.Credentials().ListByUser(ctx, target.ID)
		if err != nil {
			return nil, err
		}
		user, link = newWAUser(target.ID, target.DisplayName, creds), true
	} else {
		_, err := e.store.Users().GetByName(ctx, name)
		switch {
		case err == nil:
			e.count(challenge.KindRegistration, "begin", metrics.ResultRejected)
			return nil, ErrIdentityTaken
		case !repository.IsNotFound(err):
			return nil, err
		}
		user = newWAUser(uuid.New(), name, nil)
	}

	opts, sess, err := e.wa.BeginRegistration(user, webauthn.WithExclusions(user.descriptors()))
	if err != nil {
		return nil, fmt.Errorf("ceremony: begin registration: %w", err)
	}

	now := e.now()
	ch := &challenge.Challenge{
		Kind:         challenge.KindRegistration,
		Session:      *sess,
		UserID:       user.id,
		DisplayName:  name,
		LinkExisting: link,
		IssuedAt:     now,
		ExpiresAt:    now.Add(e.cfg.ChallengeTTL),
	}
	if inv != nil {
		ch.InviteCode = inv.Code
	}
	if err := e.issue(ctx, ch); err != nil {
		return nil, err
	}
	e.count(challenge.KindRegistration, "begin", metrics.ResultOK)
	log.Debug("challenge emitido", logger.CeremonyID(ch.ID), zap.Bool("link", link))
	return &RegistrationBegin{CeremonyID: ch.ID, ExpiresAt: ch.ExpiresAt, Options: opts}, nil
}

// FinishRegistration verifica la attestation y, en una sola transacción, crea
// el usuario, la credencial y canjea el invite.
func (e *Engine) FinishRegistration(ctx context.Context, ceremonyID string, body []byte) (*RegistrationResult, error) {
	out, err := e.finish(ctx, e.registration, ceremonyID, body)
	if err != nil {
		return nil, err
	}
	return &RegistrationResult{UserID: out.userID, CredentialID: out.credentialID, LinkedExisting: out.linked}, nil
}

// =================================================================================
// Autenticación
// =================================================================================

type BeginAuthenticationInput struct {
	// Identifier vacío => modo discovery (passkey residente).
	Identifier string
}

type AuthenticationBegin struct {
	CeremonyID         string
	ExpiresAt          time.Time
	Options            *protocol.CredentialAssertion
	AllowedCredentials [][]byte
}

type AuthenticationResult struct {
	UserID       uuid.UUID
	CredentialID []byte
}

func (e *Engine) BeginAuthentication(ctx context.Context, in BeginAuthenticationInput) (*AuthenticationBegin, error) {
	log := logger.From(ctx).With(logger.Component("ceremony"), logger.CeremonyKind(string(challenge.KindAuthentication)))
	ident := strings.TrimSpace(in.Identifier)
	now := e.now()

	ch := &challenge.Challenge{Kind: challenge.KindAuthentication, IssuedAt: now, ExpiresAt: now.Add(e.cfg.ChallengeTTL)}
	var (
		opts *protocol.CredentialAssertion
		sess *webauthn.SessionData
		err  error
	)

	switch {
	case ident == "":
		opts, sess, err = e.wa.BeginDiscoverableLogin()

	default:
		var user *waUser
		user, err = e.loadUser(ctx, ident)
		if err != nil {
			return nil, err
		}
		if user != nil {
			opts, sess, err = e.wa.BeginLogin(user)
			ch.UserID = user.id
			break
		}
		if !e.cfg.EnumerationResistance {
			e.count(challenge.KindAuthentication, "begin", metrics.ResultRejected)
			return nil, ErrUserNotFound
		}
		var allow []protocol.CredentialDescriptor
		allow, err = e.decoys.descriptors(ident)
		if err != nil {
			return nil, fmt.Errorf("ceremony: decoy: %w", err)
		}
		opts, sess, err = e.wa.BeginDiscoverableLogin(webauthn.WithAllowedCredentials(allow))
		ch.Decoy = true
	}
	if err != nil {
		return nil, fmt.Errorf("ceremony: begin authentication: %w", err)
	}

	ch.Session = *sess
	if err := e.issue(ctx, ch); err != nil {
		return nil, err
	}
	e.count(challenge.KindAuthentication, "begin", metrics.ResultOK)
	log.Debug("challenge emitido", logger.CeremonyID(ch.ID), zap.Bool("discovery", ident == ""))
	return &AuthenticationBegin{
		CeremonyID:         ch.ID,
		ExpiresAt:          ch.ExpiresAt,
		Options:            opts,
		AllowedCredentials: sess.AllowedCredentialIDs,
	}, nil
}

// loadUser retorna nil si el usuario no existe o no tiene credenciales.
func (e *Engine) loadUser(ctx context.Context, name string) (*waUser, error) {
	u, err := e.store.Users().GetByName(ctx, name)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	creds, err := e.store.Credentials().ListByUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return nil, nil
	}
	return newWAUser(u.ID, u.DisplayName, creds), nil
}

// FinishAuthentication verifica la assertion y avanza el sign counter.
func (e *Engine) FinishAuthentication(ctx context.Context, ceremonyID string, body []byte) (*AuthenticationResult, error) {
	out, err := e.finish(ctx, e.authentication, ceremonyID, body)
	if err != nil {
		return nil, err
	}
	return &AuthenticationResult{UserID: out.userID, CredentialID: out.credentialID}, nil
}

// =================================================================================
// Credenciales
// =================================================================================

// RemoveCredential borra una credencial del usuario y revoca todas sus
// sesiones. No permite dejar al usuario sin credenciales.
func (e *Engine) RemoveCredential(ctx context.Context, userID uuid.UUID, credentialID []byte) error {
	now := e.now()
	var revoked int
	err := e.store.InTx(ctx, func(tx repository.Repositories) error {
		cred, err := tx.Credentials().Get(ctx, credentialID)
		if err != nil {
			return err
		}
		if cred.UserID != userID {
			return repository.ErrNotFound
		}
		n, err := tx.Credentials().CountByUser(ctx, userID)
		if err != nil {
			return err
		}
		if n <= 1 {
			return ErrLastCredential
		}
		if err := tx.Credentials().Delete(ctx, userID, credentialID); err != nil {
			return err
		}
		revoked, err = tx.Sessions().RevokeAllForUser(ctx, userID, now)
		return err
	})
	if err != nil {
		return err
	}
	audit.Log(ctx, audit.CredentialRemoved,
		logger.UserID(userID), logger.CredentialID(credentialID),
		zap.Int("sessions_revoked", revoked),
	)
	return nil
}

// =================================================================================
// Compartido
// =================================================================================

func (e *Engine) issue(ctx context.Context, ch *challenge.Challenge) error {
	id, err := challenge.NewID()
	if err != nil {
		return err
	}
	ch.ID = id
	return e.challenges.Put(ctx, ch)
}

// consume retira el challenge y resuelve los casos de falla comunes a ambos tipos.
func (e *Engine) consume(ctx context.Context, id string, kind challenge.Kind) (*challenge.Challenge, error) {
	ch, err := e.challenges.Consume(ctx, id)
	if err != nil {
		if errors.Is(err, challenge.ErrNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}
	if ch.Kind != kind {
		return nil, ErrChallengeNotFound
	}
	if ch.Expired(e.now()) {
		return nil, ErrChallengeExpired
	}
	return ch, nil
}

func (e *Engine) finish(ctx context.Context, v Verifier, ceremonyID string, body []byte) (*outcome, error) {
	kind := v.Kind()
	log := logger.From(ctx).With(logger.Component("ceremony"), logger.CeremonyKind(string(kind)), logger.CeremonyID(ceremonyID))

	ch, err := e.consume(ctx, ceremonyID, kind)
	if err != nil {
		e.count(kind, "finish", resultOf(err))
		log.Info("challenge inválido", logger.Err(err))
		return nil, err
	}

	out, err := v.Verify(ctx, ch, body)
	if err != nil {
		e.count(kind, "finish", resultOf(err))
		if errors.Is(err, ErrVerificationFailed) || errors.Is(err, ErrCounterRollback) {
			audit.Log(ctx, audit.VerificationFailed,
				logger.CeremonyKind(string(kind)), logger.CeremonyID(ceremonyID),
				zap.String("detail", devInfo(err)), logger.Err(err),
			)
		} else if invite.IsInviteError(err) || errors.Is(err, ErrIdentityTaken) {
			log.Info("registración rechazada", logger.Err(err))
		} else {
			log.Error("finish falló", logger.Err(err))
		}
		return nil, err
	}
	e.count(kind, "finish", metrics.ResultOK)
	log.Debug("ceremonia completada")
	audit.Log(ctx, outcomeEvent(kind, out), logger.UserID(out.userID), logger.CredentialID(out.credentialID))
	return out, nil
}

func outcomeEvent(kind challenge.Kind, out *outcome) audit.Event {
	switch {
	case kind == challenge.KindAuthentication:
		return audit.LoginSucceeded
	case out.linked:
		return audit.CredentialLinked
	}
	return audit.UserRegistered
}

func resultOf(err error) string {
	switch {
	case errors.Is(err, ErrChallengeNotFound), errors.Is(err, ErrChallengeExpired),
		errors.Is(err, ErrVerificationFailed), errors.Is(err, ErrCounterRollback),
		errors.Is(err, ErrIdentityTaken), invite.IsInviteError(err):
		return metrics.ResultRejected
	}
	return metrics.ResultError
}

func (e *Engine) count(kind challenge.Kind, phase, result string) {
	metrics.CeremonyTotal.WithLabelValues(string(kind), phase, result).Inc()
}
