package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/passgate/internal/config"
	"github.com/dropDatabas3/passgate/internal/domain/repository"
	dto "github.com/dropDatabas3/passgate/internal/http/v2/dto/admin"
	"github.com/dropDatabas3/passgate/internal/invite"
	"github.com/dropDatabas3/passgate/internal/store/adapters/memory"
)

var cliNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type cliEnv struct {
	cfg   *config.Config
	store *memory.Store
}

func newCLIEnv() *cliEnv {
	cfg := config.Default()
	cfg.WebAuthn.RPID = "example.com"
	cfg.WebAuthn.RPOrigins = []string{"https://example.com"}
	return &cliEnv{cfg: cfg, store: memory.New()}
}

// run ejecuta un comando sobre un árbol nuevo: cobra conserva valores de flags
// entre Execute del mismo árbol.
func (e *cliEnv) run(args ...string) (string, error) {
	var out bytes.Buffer
	a := newApp(&out)
	a.cfg = e.cfg
	a.clock = func() time.Time { return cliNow }
	a.openStore = func(context.Context, *config.Config) (repository.Store, error) { return e.store, nil }

	root := a.rootCmd()
	root.SetArgs(args)
	root.SetErr(&out)
	err := root.Execute()
	return out.String(), err
}

func TestInvitesCreateListRevoke(t *testing.T) {
	e := newCLIEnv()

	out, err := e.run("invites", "create", "--code", "abc123", "--uses", "2", "--ttl", "48h", "--out", "json")
	require.NoError(t, err)
	var created dto.CreateInviteResponse
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	require.Equal(t, "abc123", created.Invite.Code)
	require.Equal(t, 2, created.Invite.RemainingUses)
	require.Equal(t, "active", created.Invite.Status)
	require.Equal(t, "cli", created.Invite.CreatedBy)
	require.NotNil(t, created.Invite.ExpiresAt)
	require.True(t, created.Invite.ExpiresAt.Equal(cliNow.Add(48*time.Hour)))
	require.False(t, created.EmailSent)

	out, err = e.run("invites", "list", "--active")
	require.NoError(t, err)
	require.Contains(t, out, "abc123")
	require.Contains(t, out, "usos:     2")

	out, err = e.run("invites", "revoke", "abc123")
	require.NoError(t, err)
	require.Contains(t, out, "revocado")

	out, err = e.run("invites", "list", "--active")
	require.NoError(t, err)
	require.Contains(t, out, "sin invites")

	out, err = e.run("invites", "list", "--out", "json")
	require.NoError(t, err)
	var list dto.ListInvitesResponse
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list.Invites, 1)
	require.Equal(t, "revoked", list.Invites[0].Status)

	_, err = e.run("invites", "revoke", "nope-nope-nope")
	require.ErrorIs(t, err, invite.ErrInviteNotFound)
}

func TestInvitesCreateGenerated(t *testing.T) {
	e := newCLIEnv()

	out, err := e.run("invites", "create", "--words", "4", "--no-expiry")
	require.NoError(t, err)
	code := strings.TrimSpace(strings.SplitN(out, "\n", 2)[0])
	require.Len(t, strings.Split(code, "-"), 4)
	require.Contains(t, out, "vence:    nunca")

	out, err = e.run("invites", "create", "--format", "random", "--length", "20", "--out", "json")
	require.NoError(t, err)
	var created dto.CreateInviteResponse
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	require.Len(t, created.Invite.Code, 20)

	_, err = e.run("invites", "create", "--code", "abc")
	require.Error(t, err)

	// sin smtp no hay envío
	_, err = e.run("invites", "create", "--email", "ana@example.com")
	require.ErrorContains(t, err, "smtp")

	out, err = e.run("invites", "stats", "--out", "json")
	require.NoError(t, err)
	var stats map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.EqualValues(t, 2, stats["total"])
	require.EqualValues(t, 2, stats["active"])
}

func TestUsersAndSessions(t *testing.T) {
	e := newCLIEnv()
	ctx := context.Background()

	u := &repository.User{ID: uuid.New(), DisplayName: "ana", Role: repository.RoleMember, CreatedAt: cliNow}
	require.NoError(t, e.store.Users().Create(ctx, u))

	out, err := e.run("users", "list")
	require.NoError(t, err)
	require.Contains(t, out, u.ID.String())
	require.Contains(t, out, "member")
	require.Contains(t, out, "passkeys=0")

	_, err = e.run("users", "set-role", u.ID.String(), "ADMIN")
	require.NoError(t, err)
	got, err := e.store.Users().GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, repository.RoleAdmin, got.Role)

	_, err = e.run("users", "set-role", u.ID.String(), "owner")
	require.ErrorContains(t, err, "rol inválido")
	_, err = e.run("users", "set-role", "not-a-uuid", "admin")
	require.ErrorContains(t, err, "user id inválido")

	out, err = e.run("sessions", "revoke-user", u.ID.String(), "--out", "json")
	require.NoError(t, err)
	require.JSONEq(t, fmt.Sprintf(`{"user_id":%q,"revoked":0}`, u.ID.String()), out)

	_, err = e.run("sessions", "revoke-user", uuid.NewString())
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestWordlistCheck(t *testing.T) {
	e := newCLIEnv()
	dir := t.TempDir()

	good := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		good = append(good, "word"+string(rune('a'+i/26))+string(rune('a'+i%26)))
	}
	goodPath := filepath.Join(dir, "good.txt")
	require.NoError(t, os.WriteFile(goodPath, []byte(strings.Join(good, "\n")), 0o600))

	out, err := e.run("wordlist", "check", goodPath)
	require.NoError(t, err)
	require.Contains(t, out, "palabras:  60")

	badPath := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(badPath, []byte("uno\ndos\ntres\n"), 0o600))
	_, err = e.run("wordlist", "check", badPath)
	require.ErrorContains(t, err, "mínimo")

	// sin argumento usa la embebida
	out, err = e.run("wordlist", "check")
	require.NoError(t, err)
	require.Contains(t, out, "ok: embedded")
}

func TestMigrateRequiresPostgres(t *testing.T) {
	e := newCLIEnv()
	_, err := e.run("migrate", "up")
	require.ErrorContains(t, err, "storage.driver=postgres")
}

func TestInvalidOutputFormat(t *testing.T) {
	e := newCLIEnv()
	_, err := e.run("invites", "list", "--out", "yaml")
	require.ErrorContains(t, err, "--out")
}
