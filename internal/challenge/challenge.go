// Package challenge guarda los challenges WebAuthn pendientes entre el begin y
// el finish de una ceremonia. Cada challenge se consume a lo sumo una vez.
package challenge

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/dropDatabas3/passgate/internal/cache"
)

// Kind distingue registración de autenticación.
type Kind string

const (
	KindRegistration   Kind = "registration"
	KindAuthentication Kind = "authentication"
)

// ErrNotFound: id desconocido, mal formado o ya consumido.
var ErrNotFound = errors.New("challenge: not found")

// idBytes define la entropía del ceremony id (256 bits).
const idBytes = 32

// Challenge es el estado server-side de una ceremonia en curso.
type Challenge struct {
	ID   string `json:"-"`
	Kind Kind   `json:"kind"`

	// Session es lo que go-webauthn necesita para verificar la respuesta
	// (challenge, rp id, user handle, credenciales permitidas).
	Session webauthn.SessionData `json:"session"`

	// UserID: en registración el id a crear (o el existente si es un link);
	// en autenticación el usuario declarado, uuid.Nil en modo discovery.
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	InviteCode  string    `json:"invite_code,omitempty"`
	// LinkExisting marca una registración que agrega credencial a UserID.
	LinkExisting bool `json:"link_existing,omitempty"`
	// Decoy marca un challenge emitido para un identificador desconocido.
	Decoy bool `json:"decoy,omitempty"`

	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired indica si el challenge venció en now.
func (c *Challenge) Expired(now time.Time) bool { return !now.Before(c.ExpiresAt) }

// NewID genera un ceremony id aleatorio, base64url sin padding.
func NewID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("challenge: rand: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// validID filtra ids que no pudimos haber emitido.
func validID(id string) bool {
	if len(id) != base64.RawURLEncoding.EncodedLen(idBytes) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(id)
	return err == nil
}

// Store persiste challenges en un cache.Client.
type Store struct {
	c      cache.Client
	prefix string
	// grace extiende la retención más allá del vencimiento para poder
	// distinguir "expired" de "not found" en un finish tardío.
	grace time.Duration
}

func NewStore(c cache.Client, grace time.Duration) *Store {
	if grace < 0 {
		grace = 0
	}
	return &Store{c: c, prefix: "challenge:", grace: grace}
}

// Put guarda ch bajo ch.ID.
func (s *Store) Put(ctx context.Context, ch *Challenge) error {
	if !validID(ch.ID) {
		return fmt.Errorf("challenge: id inválido")
	}
	ttl := ch.ExpiresAt.Sub(ch.IssuedAt) + s.grace
	if ttl <= 0 {
		return fmt.Errorf("challenge: ttl no positivo")
	}
	b, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("challenge: encode: %w", err)
	}
	if err := s.c.Set(ctx, s.prefix+ch.ID, string(b), ttl); err != nil {
		return fmt.Errorf("challenge: put: %w", err)
	}
	return nil
}

// Consume obtiene y borra el challenge atómicamente. El vencimiento lo evalúa
// quien llama con su propio reloj.
func (s *Store) Consume(ctx context.Context, id string) (*Challenge, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	raw, err := s.c.GetDel(ctx, s.prefix+id)
	if cache.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("challenge: consume: %w", err)
	}
	var ch Challenge
	if err := json.Unmarshal([]byte(raw), &ch); err != nil {
		return nil, fmt.Errorf("challenge: decode: %w", err)
	}
	ch.ID = id
	return &ch, nil
}
