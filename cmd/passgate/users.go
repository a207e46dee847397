package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/passgate/internal/domain/repository"
	"github.com/dropDatabas3/passgate/internal/session"
)

type userRow struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	Credentials int       `json:"credentials"`
	CreatedAt   time.Time `json:"created_at"`
}

func (a *app) usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Gestión de usuarios",
	}
	cmd.AddCommand(a.usersListCmd(), a.usersSetRoleCmd())
	return cmd
}

func (a *app) usersListCmd() *cobra.Command {
	var f repository.ListUsersFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Listar usuarios con su cantidad de passkeys",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.ctx(cmd)
			defer cancel()
			st, err := a.repo(ctx)
			if err != nil {
				return err
			}
			users, err := st.Users().List(ctx, f.Normalize())
			if err != nil {
				return err
			}
			rows := make([]userRow, 0, len(users))
			for _, u := range users {
				n, err := st.Credentials().CountByUser(ctx, u.ID)
				if err != nil {
					return err
				}
				rows = append(rows, userRow{
					ID:          u.ID.String(),
					DisplayName: u.DisplayName,
					Role:        string(u.Role),
					Credentials: n,
					CreatedAt:   u.CreatedAt,
				})
			}
			return a.print(rows, func(w io.Writer) {
				if len(rows) == 0 {
					fmt.Fprintln(w, "sin usuarios")
					return
				}
				for _, r := range rows {
					fmt.Fprintf(w, "%s  %-7s %-24s passkeys=%d\n", r.ID, r.Role, r.DisplayName, r.Credentials)
				}
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "Máximo de filas (hasta 500)")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "Desplazamiento")
	return cmd
}

func (a *app) usersSetRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-role <user-id> <admin|member>",
		Short: "Cambiar el rol de un usuario",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("user id inválido: %w", err)
			}
			role := repository.Role(strings.ToLower(strings.TrimSpace(args[1])))
			if !role.Valid() {
				return fmt.Errorf("rol inválido %q (admin|member)", args[1])
			}

			ctx, cancel := a.ctx(cmd)
			defer cancel()
			st, err := a.repo(ctx)
			if err != nil {
				return err
			}
			if err := st.Users().UpdateRole(ctx, id, role); err != nil {
				return err
			}
			return a.print(map[string]string{"user_id": id.String(), "role": string(role)}, func(w io.Writer) {
				fmt.Fprintf(w, "%s ahora es %s\n", id, role)
			})
		},
	}
}

func (a *app) sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Gestión de sesiones",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "revoke-user <user-id>",
		Short: "Revocar todas las sesiones activas de un usuario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("user id inválido: %w", err)
			}
			ctx, cancel := a.ctx(cmd)
			defer cancel()
			st, err := a.repo(ctx)
			if err != nil {
				return err
			}
			if _, err := st.Users().GetByID(ctx, id); err != nil {
				return err
			}
			mgr, err := session.NewManager(st, session.Options{
				IdleTTL:     a.cfg.Sessions.IdleTTL,
				AbsoluteTTL: a.cfg.Sessions.AbsoluteTTL,
				Clock:       a.clock,
			})
			if err != nil {
				return err
			}
			n, err := mgr.RevokeAllForUser(ctx, id)
			if err != nil {
				return err
			}
			return a.print(map[string]any{"user_id": id.String(), "revoked": n}, func(w io.Writer) {
				fmt.Fprintf(w, "%d sesiones revocadas\n", n)
			})
		},
	})
	return cmd
}
