// Package me contiene los DTOs de la cuenta del usuario autenticado.
package me

import "time"

type UserView struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

type CredentialView struct {
	// ID en base64url, el mismo formato que usa DELETE /v2/me/credentials/{id}.
	ID             string     `json:"id"`
	Attachment     string     `json:"attachment,omitempty"`
	Transports     []string   `json:"transports,omitempty"`
	BackupEligible bool       `json:"backup_eligible"`
	BackupState    bool       `json:"backup_state"`
	CloneWarning   bool       `json:"clone_warning"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
}

// MeResponse GET /v2/me
type MeResponse struct {
	User        UserView         `json:"user"`
	Credentials []CredentialView `json:"credentials"`
}

// LinkInviteResponse POST /v2/me/link-invite
type LinkInviteResponse struct {
	Code      string     `json:"code"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
