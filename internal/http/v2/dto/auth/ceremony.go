// Package auth contiene los DTOs de las ceremonias WebAuthn y la sesión.
package auth

import (
	"encoding/json"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
)

// BeginRegistrationRequest POST /v2/auth/register/begin
type BeginRegistrationRequest struct {
	DisplayName string `json:"display_name" validate:"required,display_name,max=64"`
	// InviteCode puede omitirse solo si invites.required=false.
	InviteCode string `json:"invite_code" validate:"omitempty,invite_code"`
}

// BeginRegistrationResponse lleva las opciones para navigator.credentials.create().
type BeginRegistrationResponse struct {
	CeremonyID string                       `json:"ceremony_id"`
	ExpiresAt  time.Time                    `json:"expires_at"`
	Options    *protocol.CredentialCreation `json:"options"`
}

// FinishRequest es común a registro y login. Credential es el
// PublicKeyCredential serializado por el navegador, tal cual.
type FinishRequest struct {
	CeremonyID string          `json:"ceremony_id" validate:"required,max=128"`
	Credential json.RawMessage `json:"credential" validate:"required"`
}

// BeginLoginRequest POST /v2/auth/login/begin. Identifier vacío = discovery.
type BeginLoginRequest struct {
	Identifier string `json:"identifier" validate:"omitempty,max=64"`
}

// BeginLoginResponse lleva las opciones para navigator.credentials.get().
type BeginLoginResponse struct {
	CeremonyID string                        `json:"ceremony_id"`
	ExpiresAt  time.Time                     `json:"expires_at"`
	Options    *protocol.CredentialAssertion `json:"options"`
	// AllowedCredentials en base64url; vacío en modo discovery.
	AllowedCredentials []string `json:"allowed_credentials"`
}

// SessionResponse es la respuesta de los finish exitosos. El token también
// viaja en la cookie; se incluye para clientes que usan Bearer.
type SessionResponse struct {
	UserID         string    `json:"user_id"`
	CredentialID   string    `json:"credential_id"`
	Token          string    `json:"token"`
	ExpiresAt      time.Time `json:"expires_at"`
	LinkedExisting bool      `json:"linked_existing,omitempty"`
}

// StatusResponse GET /v2/auth/status
type StatusResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	DisplayName   string `json:"display_name,omitempty"`
	Role          string `json:"role,omitempty"`
}
