package ceremony

import (
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/dropDatabas3/passgate/internal/domain/repository"
)

// waUser adapta un usuario del dominio a webauthn.User. El user handle son
// los 16 bytes del UUID.
type waUser struct {
	id    uuid.UUID
	name  string
	creds []webauthn.Credential
}

func newWAUser(id uuid.UUID, name string, creds []repository.Credential) *waUser {
	u := &waUser{id: id, name: name, creds: make([]webauthn.Credential, 0, len(creds))}
	for _, c := range creds {
		u.creds = append(u.creds, toWebAuthn(c))
	}
	return u
}

func (u *waUser) WebAuthnID() []byte                         { return userHandle(u.id) }
func (u *waUser) WebAuthnName() string                       { return u.name }
func (u *waUser) WebAuthnDisplayName() string                { return u.name }
func (u *waUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }

func (u *waUser) descriptors() []protocol.CredentialDescriptor {
	return webauthn.Credentials(u.creds).CredentialDescriptors()
}

func userHandle(id uuid.UUID) []byte {
	b := make([]byte, len(id))
	copy(b, id[:])
	return b
}

func toWebAuthn(c repository.Credential) webauthn.Credential {
	transports := make([]protocol.AuthenticatorTransport, 0, len(c.Transports))
	for _, t := range c.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	return webauthn.Credential{
		ID:              c.ID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			UserPresent:    c.Flags.UserPresent,
			UserVerified:   c.Flags.UserVerified,
			BackupEligible: c.Flags.BackupEligible,
			BackupState:    c.Flags.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:       c.AAGUID,
			SignCount:    c.SignCount,
			CloneWarning: c.CloneWarning,
			Attachment:   protocol.AuthenticatorAttachment(c.Attachment),
		},
	}
}

func fromWebAuthn(userID uuid.UUID, c *webauthn.Credential) repository.Credential {
	transports := make([]string, 0, len(c.Transport))
	for _, t := range c.Transport {
		transports = append(transports, string(t))
	}
	return repository.Credential{
		ID:              c.ID,
		UserID:          userID,
		PublicKey:       c.PublicKey,
		SignCount:       c.Authenticator.SignCount,
		AAGUID:          c.Authenticator.AAGUID,
		AttestationType: c.AttestationType,
		Transports:      transports,
		Attachment:      string(c.Authenticator.Attachment),
		Flags: repository.CredentialFlags{
			UserPresent:    c.Flags.UserPresent,
			UserVerified:   c.Flags.UserVerified,
			BackupEligible: c.Flags.BackupEligible,
			BackupState:    c.Flags.BackupState,
		},
	}
}
