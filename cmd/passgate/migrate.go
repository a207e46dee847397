package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/passgate/internal/invite"
	"github.com/dropDatabas3/passgate/internal/store/adapters/pg"
	"github.com/dropDatabas3/passgate/internal/store/migrate"
)

func (a *app) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migraciones de PostgreSQL (storage.dsn)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Aplicar migraciones pendientes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.ctx(cmd)
			defer cancel()
			s, err := a.openPG(ctx)
			if err != nil {
				return err
			}
			defer s.Close()
			n, err := migrate.Up(ctx, s.Pool())
			if err != nil {
				return err
			}
			return a.print(map[string]int{"applied": n}, func(w io.Writer) {
				fmt.Fprintf(w, "%d migraciones aplicadas\n", n)
			})
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Revertir las últimas migraciones",
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 1 {
				return errors.New("--steps debe ser >= 1")
			}
			ctx, cancel := a.ctx(cmd)
			defer cancel()
			s, err := a.openPG(ctx)
			if err != nil {
				return err
			}
			defer s.Close()
			n, err := migrate.Down(ctx, s.Pool(), steps)
			if err != nil {
				return err
			}
			return a.print(map[string]int{"reverted": n}, func(w io.Writer) {
				fmt.Fprintf(w, "%d migraciones revertidas\n", n)
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "Cantidad de migraciones a revertir")
	cmd.AddCommand(down)
	return cmd
}

// openPG abre un pool directo: migrate no pasa por store.Open para no
// disparar migrate_on_start.
func (a *app) openPG(ctx context.Context) (*pg.Store, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Driver != "postgres" {
		return nil, fmt.Errorf("migrate requiere storage.driver=postgres (actual %q)", cfg.Storage.Driver)
	}
	return pg.Open(ctx, pg.Config{DSN: cfg.Storage.DSN, MaxConns: 2})
}

func (a *app) wordlistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wordlist",
		Short: "Utilidades de la wordlist de invites",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [file]",
		Short: "Validar una wordlist (default: invites.wordlist_path o la embebida)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				words, err := invite.ParseWordlist(f)
				if err != nil {
					return err
				}
				if err := invite.ValidateWordlist(words); err != nil {
					return err
				}
				stats := invite.NewGenerator(args[0]).Stats()
				return a.printWordlist(stats)
			}

			cfg, err := a.config()
			if err != nil {
				return err
			}
			stats := invite.NewGenerator(cfg.Invites.WordlistPath).Stats()
			if cfg.Invites.WordlistPath != "" && stats.Source != cfg.Invites.WordlistPath {
				return fmt.Errorf("wordlist %s inválida: se usaría la embebida", cfg.Invites.WordlistPath)
			}
			return a.printWordlist(stats)
		},
	})
	return cmd
}

func (a *app) printWordlist(s invite.WordlistStats) error {
	return a.print(s, func(w io.Writer) {
		fmt.Fprintf(w, "ok: %s\n", s.Source)
		fmt.Fprintf(w, "  palabras:  %d\n", s.WordCount)
		fmt.Fprintf(w, "  entropía:  %.2f bits/palabra\n", s.EntropyBits)
		fmt.Fprintf(w, "  largo med: %.1f\n", s.AvgLength)
	})
}
