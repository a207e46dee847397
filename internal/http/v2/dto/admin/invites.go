// Package admin contiene los DTOs de administración de invitaciones.
package admin

import "time"

// CreateInviteRequest POST /v2/admin/invites. Code vacío => se genera según Format.
type CreateInviteRequest struct {
	Code   string `json:"code" validate:"omitempty,invite_code"`
	Format string `json:"format" validate:"omitempty,oneof=words random"`
	Words  int    `json:"words" validate:"omitempty,gte=2,lte=6"`
	Length int    `json:"length" validate:"omitempty,gte=8,lte=128"`
	Uses   int    `json:"uses" validate:"omitempty,gte=1,lte=100000"`
	// TTL en formato Go (72h, 30m). Vacío => default de config.
	TTL      string `json:"ttl" validate:"omitempty,max=32"`
	NoExpiry bool   `json:"no_expiry"`
	// Email opcional: si hay SMTP configurado se envía la invitación.
	Email string `json:"email" validate:"omitempty,email,max=254"`
}

type InviteView struct {
	Code          string     `json:"code"`
	RemainingUses int        `json:"remaining_uses"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CreatedBy     string     `json:"created_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	LinkUserID    string     `json:"link_user_id,omitempty"`
	Status        string     `json:"status"`
}

type CreateInviteResponse struct {
	Invite InviteView `json:"invite"`
	// Link de registro si smtp.base_url está configurado.
	Link      string `json:"link,omitempty"`
	EmailSent bool   `json:"email_sent"`
}

type ListInvitesResponse struct {
	Invites []InviteView `json:"invites"`
}
