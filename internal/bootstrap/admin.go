// Package bootstrap resuelve el primer arranque: sin usuarios y con invites
// obligatorios nadie podría registrarse, así que se emite un invite inicial.
// Quien lo canjee queda como admin (primer usuario).
package bootstrap

import (
	"context"
	"fmt"
	"io"

	"github.com/dropDatabas3/passgate/internal/domain/repository"
	"github.com/dropDatabas3/passgate/internal/invite"
	"github.com/dropDatabas3/passgate/internal/observability/logger"
)

// CreatedBy marca los invites emitidos en el arranque.
const CreatedBy = "bootstrap"

// Config del bootstrap.
type Config struct {
	Store    repository.Store
	Registry *invite.Registry
	// InvitesRequired refleja invites.required; en false no hace falta nada.
	InvitesRequired bool
	// Out recibe el código en texto plano (stderr en main). Nunca va al log.
	Out io.Writer
}

// ShouldRun indica si el sistema todavía no tiene usuarios.
func ShouldRun(ctx context.Context, st repository.Store) (bool, error) {
	n, err := st.Users().Count(ctx)
	if err != nil {
		return false, fmt.Errorf("bootstrap: count users: %w", err)
	}
	return n == 0, nil
}

// EnsureFirstInvite reutiliza un invite de bootstrap activo o crea uno de un
// uso sin vencimiento. Retorna nil si no corresponde bootstrap.
func EnsureFirstInvite(ctx context.Context, cfg Config) (*repository.Invite, error) {
	if !cfg.InvitesRequired {
		return nil, nil
	}
	empty, err := ShouldRun(ctx, cfg.Store)
	if err != nil || !empty {
		return nil, err
	}
	log := logger.From(ctx).With(logger.Component("bootstrap"))

	active, err := cfg.Registry.List(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: list invites: %w", err)
	}
	var inv *repository.Invite
	for i := range active {
		if active[i].CreatedBy == CreatedBy {
			inv = &active[i]
			break
		}
	}
	if inv == nil {
		inv, err = cfg.Registry.Create(ctx, invite.CreateInput{Uses: 1, NoExpiry: true, CreatedBy: CreatedBy})
		if err != nil {
			return nil, fmt.Errorf("bootstrap: create invite: %w", err)
		}
		log.Warn("sin usuarios: invite inicial emitido", logger.Invite(inv.Code))
	} else {
		log.Warn("sin usuarios: invite inicial pendiente de uso", logger.Invite(inv.Code))
	}

	if cfg.Out != nil {
		fmt.Fprintln(cfg.Out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		fmt.Fprintln(cfg.Out, "  Sin usuarios registrados.")
		fmt.Fprintf(cfg.Out, "  Invite inicial (admin): %s\n", inv.Code)
		fmt.Fprintln(cfg.Out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
	return inv, nil
}
