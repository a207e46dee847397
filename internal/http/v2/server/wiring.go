// Package server cablea config, dominio y HTTP en un handler listo para servir.
package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dropDatabas3/passgate/internal/cache"
	"github.com/dropDatabas3/passgate/internal/ceremony"
	"github.com/dropDatabas3/passgate/internal/challenge"
	"github.com/dropDatabas3/passgate/internal/config"
	"github.com/dropDatabas3/passgate/internal/domain/repository"
	"github.com/dropDatabas3/passgate/internal/email"
	adminctrl "github.com/dropDatabas3/passgate/internal/http/v2/controllers/admin"
	authctrl "github.com/dropDatabas3/passgate/internal/http/v2/controllers/auth"
	healthctrl "github.com/dropDatabas3/passgate/internal/http/v2/controllers/health"
	mectrl "github.com/dropDatabas3/passgate/internal/http/v2/controllers/me"
	"github.com/dropDatabas3/passgate/internal/http/v2/helpers"
	"github.com/dropDatabas3/passgate/internal/http/v2/router"
	adminsvc "github.com/dropDatabas3/passgate/internal/http/v2/services/admin"
	authsvc "github.com/dropDatabas3/passgate/internal/http/v2/services/auth"
	healthsvc "github.com/dropDatabas3/passgate/internal/http/v2/services/health"
	mesvc "github.com/dropDatabas3/passgate/internal/http/v2/services/me"
	"github.com/dropDatabas3/passgate/internal/invite"
	"github.com/dropDatabas3/passgate/internal/metrics"
	"github.com/dropDatabas3/passgate/internal/rate"
	"github.com/dropDatabas3/passgate/internal/session"
	"github.com/dropDatabas3/passgate/internal/validation"
)

// Infra son las dependencias con estado que abre main (o el test).
type Infra struct {
	Store repository.Store
	Cache cache.Client
	// Mailer nil => sin envío de invitaciones.
	Mailer *email.Mailer
	// Clock nil => time.Now. Los tests lo fijan para controlar vencimientos.
	Clock func() time.Time
}

// App es el resultado del cableado.
type App struct {
	Handler  http.Handler
	Engine   *ceremony.Engine
	Sessions *session.Manager
	Invites  *invite.Registry
}

// Build arma engine, sesiones, invites, limiters, controllers y router.
func Build(cfg *config.Config, in Infra) (*App, error) {
	if in.Store == nil || in.Cache == nil {
		return nil, errors.New("server: store y cache son obligatorios")
	}
	clock := in.Clock
	if clock == nil {
		clock = time.Now
	}

	// ─── Dominio ───
	registry := invite.NewRegistry(in.Store, invite.NewGenerator(cfg.Invites.WordlistPath), invite.Options{
		DefaultTTL:   cfg.Invites.DefaultTTL,
		DefaultUses:  cfg.Invites.DefaultUses,
		DefaultWords: cfg.Invites.Words,
		LinkTTL:      cfg.Invites.LinkTTL,
		Clock:        clock,
	})

	engine, err := ceremony.New(ceremony.Config{
		RPID:                    cfg.WebAuthn.RPID,
		RPDisplayName:           cfg.WebAuthn.RPDisplayName,
		RPOrigins:               cfg.WebAuthn.RPOrigins,
		UserVerification:        cfg.WebAuthn.UserVerification,
		ResidentKey:             cfg.WebAuthn.ResidentKey,
		Attestation:             cfg.WebAuthn.Attestation,
		AuthenticatorAttachment: cfg.WebAuthn.AuthenticatorAttachment,
		ChallengeTTL:            cfg.Ceremony.ChallengeTTL,
		InviteRequired:          cfg.Invites.Required,
		EnumerationResistance:   cfg.Ceremony.EnumerationResistance,
		DecoySecret:             []byte(cfg.Ceremony.DecoySecret),
		BlockFlaggedCredentials: cfg.Security.BlockFlaggedCredentials,
		Clock:                   clock,
	}, in.Store, challenge.NewStore(in.Cache, cfg.Ceremony.RetentionGrace), registry)
	if err != nil {
		return nil, err
	}

	sessions, err := session.NewManager(in.Store, session.Options{
		IdleTTL:          cfg.Sessions.IdleTTL,
		AbsoluteTTL:      cfg.Sessions.AbsoluteTTL,
		Sliding:          cfg.Sessions.Sliding,
		TouchInterval:    cfg.Sessions.TouchInterval,
		RevokedRetention: cfg.Sessions.RevokedRetention,
		Clock:            clock,
	})
	if err != nil {
		return nil, err
	}

	// ─── Rate limiting ───
	var ceremonyLimiter, generalLimiter rate.Limiter
	if cfg.Rate.Enabled {
		ceremonyLimiter, err = rate.New(in.Cache, "rl:ceremony:", rate.Policy{Max: cfg.Rate.Ceremony.Limit, Window: cfg.Rate.Ceremony.Window})
		if err != nil {
			return nil, fmt.Errorf("server: ceremony limiter: %w", err)
		}
		generalLimiter, err = rate.New(in.Cache, "rl:general:", rate.Policy{Max: cfg.Rate.MaxRequests, Window: cfg.Rate.Window})
		if err != nil {
			return nil, fmt.Errorf("server: general limiter: %w", err)
		}
	}

	// ─── HTTP ───
	transport := helpers.SessionTransport{
		CookieName:   cfg.Sessions.CookieName,
		CookieDomain: cfg.Sessions.CookieDomain,
		SameSite:     helpers.ParseSameSite(cfg.Sessions.SameSite),
		Secure:       cfg.Sessions.Secure,
		AllowBearer:  cfg.Sessions.AllowBearer,
	}
	v := validation.New()

	authController := authctrl.NewAuthController(authctrl.Deps{
		Service: authsvc.NewService(authsvc.Deps{
			Engine:   engine,
			Sessions: sessions,
			Users:    in.Store.Users(),
		}),
		Validator:  v,
		Transport:  transport,
		TrustProxy: cfg.Server.TrustProxy,
	})
	meController := mectrl.NewMeController(mesvc.NewService(mesvc.Deps{
		Engine:      engine,
		Invites:     registry,
		Credentials: in.Store.Credentials(),
	}), transport)
	invitesController := adminctrl.NewInvitesController(adminsvc.NewInvitesService(adminsvc.InvitesDeps{
		Registry: registry,
		Mailer:   in.Mailer,
		Clock:    clock,
	}), v)
	healthController := healthctrl.NewHealthController(healthsvc.NewHealthService(healthsvc.Deps{
		Version: cfg.App.Version,
		Components: []healthsvc.Component{
			{Name: "store", Driver: in.Store.Driver(), Pinger: in.Store},
			{Name: "cache", Driver: cfg.Cache.Kind, Pinger: in.Cache},
		},
	}))

	deps := router.Deps{
		Auth:            authController,
		Me:              meController,
		Invites:         invitesController,
		Health:          healthController,
		Sessions:        sessions,
		Users:           in.Store.Users(),
		Transport:       transport,
		CeremonyLimiter: ceremonyLimiter,
		GeneralLimiter:  generalLimiter,
		TrustProxy:      cfg.Server.TrustProxy,
		CORSOrigins:     cfg.WebAuthn.RPOrigins,
	}
	if cfg.Metrics.Enabled {
		deps.MetricsPath = cfg.Metrics.Path
		deps.MetricsHandler = metrics.Handler()
	}

	return &App{
		Handler:  router.New(deps),
		Engine:   engine,
		Sessions: sessions,
		Invites:  registry,
	}, nil
}

// MailerFromConfig arma el mailer de invitaciones. Sin smtp.host retorna nil, nil.
func MailerFromConfig(cfg *config.Config) (*email.Mailer, error) {
	sender, err := email.NewSMTPSender(email.SMTPConfig{
		Host:               cfg.SMTP.Host,
		Port:               cfg.SMTP.Port,
		From:               cfg.SMTP.From,
		Username:           cfg.SMTP.Username,
		Password:           cfg.SMTP.Password,
		TLSMode:            cfg.SMTP.TLS,
		InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
	})
	if errors.Is(err, email.ErrNotConfigured) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return email.NewMailer(sender, cfg.WebAuthn.RPDisplayName, cfg.SMTP.BaseURL), nil
}
