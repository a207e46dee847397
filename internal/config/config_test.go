package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	return p
}

func TestLoad_DefaultsWhenMissingFile(t *testing.T) {
	t.Setenv("WEBAUTHN_RP_ID", "example.com")
	t.Setenv("WEBAUTHN_RP_ORIGINS", "https://example.com, https://login.example.com")

	c, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if c.Ceremony.ChallengeTTL != 2*time.Minute {
		t.Fatalf("challenge ttl default: %s", c.Ceremony.ChallengeTTL)
	}
	if len(c.WebAuthn.RPOrigins) != 2 || c.WebAuthn.RPOrigins[1] != "https://login.example.com" {
		t.Fatalf("origins: %v", c.WebAuthn.RPOrigins)
	}
	if !c.Invites.Required || !c.Ceremony.EnumerationResistance {
		t.Fatalf("defaults booleanos perdidos")
	}
}

func TestLoad_YAMLOverridesOnlyPresentKeys(t *testing.T) {
	p := writeYAML(t, `
webauthn:
  rp_id: example.com
  rp_origins: ["https://example.com"]
ceremony:
  challenge_ttl: 90s
sessions:
  idle_ttl: 1h
invites:
  wordlist_path: words.txt
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if c.Ceremony.ChallengeTTL != 90*time.Second {
		t.Fatalf("challenge ttl: %s", c.Ceremony.ChallengeTTL)
	}
	if c.Sessions.IdleTTL != time.Hour || c.Sessions.AbsoluteTTL != 720*time.Hour {
		t.Fatalf("sessions: idle=%s abs=%s", c.Sessions.IdleTTL, c.Sessions.AbsoluteTTL)
	}
	if c.Sessions.CookieName != "passgate_session" {
		t.Fatalf("cookie default perdido: %q", c.Sessions.CookieName)
	}
	if !filepath.IsAbs(c.Invites.WordlistPath) || filepath.Base(c.Invites.WordlistPath) != "words.txt" {
		t.Fatalf("wordlist path no resuelto: %q", c.Invites.WordlistPath)
	}
}

func TestLoad_EnvBeatsYAML(t *testing.T) {
	p := writeYAML(t, `
webauthn:
  rp_id: example.com
  rp_origins: ["https://example.com"]
ceremony:
  challenge_ttl: 90s
`)
	t.Setenv("CHALLENGE_TTL", "3m")
	t.Setenv("INVITES_REQUIRED", "false")
	c, err := Load(p)
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if c.Ceremony.ChallengeTTL != 3*time.Minute {
		t.Fatalf("env override ignorado: %s", c.Ceremony.ChallengeTTL)
	}
	if c.Invites.Required {
		t.Fatalf("INVITES_REQUIRED=false ignorado")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := Default()
		c.WebAuthn.RPID = "example.com"
		c.WebAuthn.RPOrigins = []string{"https://example.com"}
		return c
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("base inválida: %v", err)
	}

	cases := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{"sin rp id", func(c *Config) { c.WebAuthn.RPID = "" }, "rp_id"},
		{"postgres sin dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		{"driver raro", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"idle > absolute", func(c *Config) { c.Sessions.IdleTTL = 48 * time.Hour; c.Sessions.AbsoluteTTL = time.Hour }, "idle_ttl"},
		{"challenge ttl corto", func(c *Config) { c.Ceremony.ChallengeTTL = time.Second }, "challenge_ttl"},
		{"palabras", func(c *Config) { c.Invites.Words = 9 }, "invites.words"},
		{"decoy en prod", func(c *Config) { c.App.Env = "prod" }, "decoy_secret"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mut(c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("esperaba error con %q, got %v", tc.want, err)
			}
		})
	}
}
