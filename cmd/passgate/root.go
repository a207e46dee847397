package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/passgate/internal/config"
	"github.com/dropDatabas3/passgate/internal/domain/repository"
	"github.com/dropDatabas3/passgate/internal/invite"
	"github.com/dropDatabas3/passgate/internal/observability/logger"
	"github.com/dropDatabas3/passgate/internal/store"
)

// app mantiene el estado compartido entre subcomandos. Config y store se abren
// a demanda: "wordlist check <file>" no necesita ninguno de los dos.
type app struct {
	out     io.Writer
	cfgPath string
	format  string
	timeout time.Duration

	cfg   *config.Config
	store repository.Store

	// hooks para tests
	openStore func(ctx context.Context, cfg *config.Config) (repository.Store, error)
	clock     func() time.Time
}

func newApp(out io.Writer) *app {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}
	return &app{
		out:       out,
		cfgPath:   cfgPath,
		format:    "text",
		timeout:   30 * time.Second,
		openStore: store.Open,
		clock:     time.Now,
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "passgate",
		Short:         "CLI de operación para passgate",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.format != "text" && a.format != "json" {
				return fmt.Errorf("--out inválido %q (json|text)", a.format)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.SetOut(a.out)

	root.PersistentFlags().StringVar(&a.cfgPath, "config", a.cfgPath, "Ruta del config YAML (env CONFIG_PATH)")
	root.PersistentFlags().StringVar(&a.format, "out", a.format, "Formato de salida: json|text")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", a.timeout, "Timeout de la operación")

	root.AddCommand(
		a.invitesCmd(),
		a.usersCmd(),
		a.sessionsCmd(),
		a.migrateCmd(),
		a.wordlistCmd(),
	)
	return root
}

// config carga el YAML + env una sola vez.
func (a *app) config() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "passgate-cli"})
	a.cfg = cfg
	return cfg, nil
}

func (a *app) repo(ctx context.Context) (repository.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	st, err := a.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = st
	return st, nil
}

func (a *app) registry(ctx context.Context) (*invite.Registry, error) {
	st, err := a.repo(ctx)
	if err != nil {
		return nil, err
	}
	cfg := a.cfg
	return invite.NewRegistry(st, invite.NewGenerator(cfg.Invites.WordlistPath), invite.Options{
		DefaultTTL:   cfg.Invites.DefaultTTL,
		DefaultUses:  cfg.Invites.DefaultUses,
		DefaultWords: cfg.Invites.Words,
		LinkTTL:      cfg.Invites.LinkTTL,
		Clock:        a.clock,
	}), nil
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
	_ = logger.Sync()
}

func (a *app) ctx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	return context.WithTimeout(base, a.timeout)
}

// print emite v como JSON indentado o usa text para el formato humano.
func (a *app) print(v any, text func(w io.Writer)) error {
	if a.format == "json" {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(a.out)
	return nil
}
