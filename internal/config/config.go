package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env     string `yaml:"env"`
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Addr            string        `yaml:"addr"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		// TrustProxy habilita X-Forwarded-For / X-Real-IP para la IP del cliente.
		TrustProxy bool `yaml:"trust_proxy"`
	} `yaml:"server"`

	Storage struct {
		// postgres | memory
		Driver         string `yaml:"driver"`
		DSN            string `yaml:"dsn"`
		MigrateOnStart bool   `yaml:"migrate_on_start"`
		Postgres       struct {
			MaxConns        int32         `yaml:"max_conns"`
			MinConns        int32         `yaml:"min_conns"`
			ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		// memory | redis
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			CleanupInterval time.Duration `yaml:"cleanup_interval"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	WebAuthn struct {
		RPID          string   `yaml:"rp_id"`
		RPDisplayName string   `yaml:"rp_display_name"`
		RPOrigins     []string `yaml:"rp_origins"`
		// required | preferred | discouraged
		UserVerification string `yaml:"user_verification"`
		ResidentKey      string `yaml:"resident_key"`
		// none | indirect | direct
		Attestation             string `yaml:"attestation"`
		AuthenticatorAttachment string `yaml:"authenticator_attachment"`
	} `yaml:"webauthn"`

	Ceremony struct {
		ChallengeTTL time.Duration `yaml:"challenge_ttl"`
		// RetentionGrace mantiene el challenge vencido para poder responder "expired".
		RetentionGrace        time.Duration `yaml:"retention_grace"`
		EnumerationResistance bool          `yaml:"enumeration_resistance"`
		DecoySecret           string        `yaml:"decoy_secret"`
	} `yaml:"ceremony"`

	Sessions struct {
		IdleTTL          time.Duration `yaml:"idle_ttl"`
		AbsoluteTTL      time.Duration `yaml:"absolute_ttl"`
		Sliding          bool          `yaml:"sliding"`
		TouchInterval    time.Duration `yaml:"touch_interval"`
		SweepInterval    time.Duration `yaml:"sweep_interval"`
		RevokedRetention time.Duration `yaml:"revoked_retention"`
		CookieName       string        `yaml:"cookie_name"`
		CookieDomain     string        `yaml:"cookie_domain"`
		// Lax | Strict | None
		SameSite    string `yaml:"same_site"`
		Secure      bool   `yaml:"secure"`
		AllowBearer bool   `yaml:"allow_bearer"`
	} `yaml:"sessions"`

	Invites struct {
		Required     bool          `yaml:"required"`
		DefaultTTL   time.Duration `yaml:"default_ttl"`
		DefaultUses  int           `yaml:"default_uses"`
		WordlistPath string        `yaml:"wordlist_path"`
		Words        int           `yaml:"words"`
		LinkTTL      time.Duration `yaml:"link_ttl"`
	} `yaml:"invites"`

	Security struct {
		BlockFlaggedCredentials bool `yaml:"block_flagged_credentials"`
	} `yaml:"security"`

	Rate struct {
		Enabled     bool          `yaml:"enabled"`
		Window      time.Duration `yaml:"window"`
		MaxRequests int           `yaml:"max_requests"`
		Ceremony    struct {
			Limit  int           `yaml:"limit"`
			Window time.Duration `yaml:"window"`
		} `yaml:"ceremony"`
	} `yaml:"rate"`

	SMTP struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		From     string `yaml:"from"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		// auto | starttls | ssl | none
		TLS                string `yaml:"tls"`
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
		// BaseURL se usa para armar el link de registro en el mail de invitación.
		BaseURL string `yaml:"base_url"`
	} `yaml:"smtp"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
}

// Default retorna la configuración base. Load parte de acá y el YAML solo
// pisa las claves presentes.
func Default() *Config {
	c := &Config{}
	c.App.Env = "dev"
	c.App.Name = "passgate"
	c.App.Version = "dev"

	c.Server.Addr = ":8080"
	c.Server.ReadTimeout = 10 * time.Second
	c.Server.WriteTimeout = 30 * time.Second
	c.Server.ShutdownTimeout = 15 * time.Second

	c.Storage.Driver = "memory"
	c.Storage.Postgres.MaxConns = 10
	c.Storage.Postgres.ConnMaxLifetime = 30 * time.Minute

	c.Cache.Kind = "memory"
	c.Cache.Redis.Addr = "localhost:6379"
	c.Cache.Redis.Prefix = "passgate:"
	c.Cache.Memory.CleanupInterval = time.Minute

	c.WebAuthn.RPDisplayName = "passgate"
	c.WebAuthn.UserVerification = "preferred"
	c.WebAuthn.ResidentKey = "preferred"
	c.WebAuthn.Attestation = "none"

	c.Ceremony.ChallengeTTL = 2 * time.Minute
	c.Ceremony.RetentionGrace = 10 * time.Minute
	c.Ceremony.EnumerationResistance = true

	c.Sessions.IdleTTL = 24 * time.Hour
	c.Sessions.AbsoluteTTL = 720 * time.Hour // 30d
	c.Sessions.Sliding = true
	c.Sessions.TouchInterval = time.Minute
	c.Sessions.SweepInterval = 10 * time.Minute
	c.Sessions.RevokedRetention = 24 * time.Hour
	c.Sessions.CookieName = "passgate_session"
	c.Sessions.SameSite = "Lax"
	c.Sessions.Secure = true
	c.Sessions.AllowBearer = true

	c.Invites.Required = true
	c.Invites.DefaultTTL = 7 * 24 * time.Hour
	c.Invites.DefaultUses = 1
	c.Invites.Words = 3
	c.Invites.LinkTTL = 24 * time.Hour

	c.Rate.Enabled = true
	c.Rate.Window = time.Minute
	c.Rate.MaxRequests = 60
	c.Rate.Ceremony.Limit = 10
	c.Rate.Ceremony.Window = time.Minute

	c.SMTP.Port = 587
	c.SMTP.TLS = "auto"

	c.Log.Level = "info"

	c.Metrics.Enabled = true
	c.Metrics.Path = "/metrics"
	return c
}

// Load lee el YAML en path (si existe), aplica overrides de entorno y valida.
// Un archivo ausente no es error: se usan los defaults.
func Load(path string) (*Config, error) {
	c := Default()

	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, c); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
			c.resolvePaths(path)
		case errors.Is(err, os.ErrNotExist):
			// defaults + env
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	c.applyEnvOverrides()

	// Guardia dura: en prod la cookie siempre viaja con Secure.
	if strings.EqualFold(c.App.Env, "prod") {
		c.Sessions.Secure = true
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// rutas relativas del YAML se resuelven contra su directorio
func (c *Config) resolvePaths(cfgPath string) {
	if p := strings.TrimSpace(c.Invites.WordlistPath); p != "" && !filepath.IsAbs(p) {
		c.Invites.WordlistPath = filepath.Clean(filepath.Join(filepath.Dir(cfgPath), p))
	}
}

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}
func getEnvCSV(key string) ([]string, bool) {
	s, ok := getEnvStr(key)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, 4)
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, true
}

func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvBool("SERVER_TRUST_PROXY"); ok {
		c.Server.TrustProxy = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvBool("STORAGE_MIGRATE_ON_START"); ok {
		c.Storage.MigrateOnStart = v
	}

	// CACHE
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = strings.ToLower(v)
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}

	// WEBAUTHN
	if v, ok := getEnvStr("WEBAUTHN_RP_ID"); ok {
		c.WebAuthn.RPID = v
	}
	if v, ok := getEnvStr("WEBAUTHN_RP_NAME"); ok {
		c.WebAuthn.RPDisplayName = v
	}
	if v, ok := getEnvCSV("WEBAUTHN_RP_ORIGINS"); ok {
		c.WebAuthn.RPOrigins = v
	}

	// CEREMONY
	if v, ok := getEnvDur("CHALLENGE_TTL"); ok {
		c.Ceremony.ChallengeTTL = v
	}
	if v, ok := getEnvBool("ENUMERATION_RESISTANCE"); ok {
		c.Ceremony.EnumerationResistance = v
	}
	if v, ok := getEnvStr("DECOY_SECRET"); ok {
		c.Ceremony.DecoySecret = v
	}

	// SESSIONS
	if v, ok := getEnvDur("SESSION_IDLE_TTL"); ok {
		c.Sessions.IdleTTL = v
	}
	if v, ok := getEnvDur("SESSION_ABSOLUTE_TTL"); ok {
		c.Sessions.AbsoluteTTL = v
	}
	if v, ok := getEnvBool("SESSION_COOKIE_SECURE"); ok {
		c.Sessions.Secure = v
	}
	if v, ok := getEnvStr("SESSION_COOKIE_DOMAIN"); ok {
		c.Sessions.CookieDomain = v
	}

	// INVITES
	if v, ok := getEnvBool("INVITES_REQUIRED"); ok {
		c.Invites.Required = v
	}
	if v, ok := getEnvDur("INVITE_DEFAULT_TTL"); ok {
		c.Invites.DefaultTTL = v
	}
	if v, ok := getEnvStr("INVITE_WORDLIST_PATH"); ok {
		c.Invites.WordlistPath = v
	}

	// SECURITY
	if v, ok := getEnvBool("BLOCK_FLAGGED_CREDENTIALS"); ok {
		c.Security.BlockFlaggedCredentials = v
	}

	// RATE
	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}

	// SMTP
	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr("SMTP_FROM"); ok {
		c.SMTP.From = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.SMTP.Username = v
	}
	if v, ok := getEnvStr("SMTP_PASSWORD"); ok {
		c.SMTP.Password = v
	}
	if v, ok := getEnvStr("SMTP_TLS"); ok {
		c.SMTP.TLS = strings.ToLower(v)
	}
	if v, ok := getEnvStr("SMTP_BASE_URL"); ok {
		c.SMTP.BaseURL = v
	}
}

// Validate rechaza configuraciones que dejarían el servicio en un estado inseguro
// o inconsistente.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn requerido con driver postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver inválido: %q", c.Storage.Driver))
	}

	switch c.Cache.Kind {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Cache.Redis.Addr) == "" {
			errs = append(errs, errors.New("cache.redis.addr requerido con kind redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.kind inválido: %q", c.Cache.Kind))
	}

	if strings.TrimSpace(c.WebAuthn.RPID) == "" {
		errs = append(errs, errors.New("webauthn.rp_id requerido"))
	}
	if len(c.WebAuthn.RPOrigins) == 0 {
		errs = append(errs, errors.New("webauthn.rp_origins requiere al menos un origin"))
	}
	switch c.WebAuthn.UserVerification {
	case "required", "preferred", "discouraged":
	default:
		errs = append(errs, fmt.Errorf("webauthn.user_verification inválido: %q", c.WebAuthn.UserVerification))
	}
	switch c.WebAuthn.ResidentKey {
	case "required", "preferred", "discouraged":
	default:
		errs = append(errs, fmt.Errorf("webauthn.resident_key inválido: %q", c.WebAuthn.ResidentKey))
	}
	switch c.WebAuthn.Attestation {
	case "none", "indirect", "direct":
	default:
		errs = append(errs, fmt.Errorf("webauthn.attestation inválido: %q", c.WebAuthn.Attestation))
	}

	if c.Ceremony.ChallengeTTL < 30*time.Second || c.Ceremony.ChallengeTTL > 15*time.Minute {
		errs = append(errs, fmt.Errorf("ceremony.challenge_ttl fuera de rango (30s-15m): %s", c.Ceremony.ChallengeTTL))
	}
	if c.Ceremony.RetentionGrace < 0 {
		errs = append(errs, errors.New("ceremony.retention_grace negativo"))
	}
	if c.Ceremony.EnumerationResistance && strings.EqualFold(c.App.Env, "prod") && len(c.Ceremony.DecoySecret) < 16 {
		errs = append(errs, errors.New("ceremony.decoy_secret requiere 16+ caracteres en prod"))
	}

	if c.Sessions.IdleTTL <= 0 || c.Sessions.AbsoluteTTL <= 0 {
		errs = append(errs, errors.New("sessions: idle_ttl y absolute_ttl deben ser positivos"))
	} else if c.Sessions.IdleTTL > c.Sessions.AbsoluteTTL {
		errs = append(errs, errors.New("sessions.idle_ttl no puede superar absolute_ttl"))
	}
	switch strings.ToLower(c.Sessions.SameSite) {
	case "lax", "strict", "none":
	default:
		errs = append(errs, fmt.Errorf("sessions.same_site inválido: %q", c.Sessions.SameSite))
	}
	if strings.TrimSpace(c.Sessions.CookieName) == "" {
		errs = append(errs, errors.New("sessions.cookie_name requerido"))
	}

	if c.Invites.DefaultUses < 1 {
		errs = append(errs, errors.New("invites.default_uses debe ser >= 1"))
	}
	if c.Invites.Words < 2 || c.Invites.Words > 6 {
		errs = append(errs, fmt.Errorf("invites.words fuera de rango (2-6): %d", c.Invites.Words))
	}

	return errors.Join(errs...)
}
