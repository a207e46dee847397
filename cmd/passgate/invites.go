package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/passgate/internal/email"
	dto "github.com/dropDatabas3/passgate/internal/http/v2/dto/admin"
	"github.com/dropDatabas3/passgate/internal/http/v2/server"
	adminsvc "github.com/dropDatabas3/passgate/internal/http/v2/services/admin"
	"github.com/dropDatabas3/passgate/internal/invite"
)

func (a *app) invitesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invites",
		Short: "Gestión de códigos de invitación",
	}
	cmd.AddCommand(a.invitesCreateCmd(), a.invitesListCmd(), a.invitesRevokeCmd(), a.invitesStatsCmd())
	return cmd
}

func (a *app) invitesCreateCmd() *cobra.Command {
	var (
		in      invite.CreateInput
		format  string
		noExp   bool
		mailTo  string
		ttlFlag time.Duration
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Crear un invite (código propio, por palabras o aleatorio)",
		Example: `  passgate invites create
  passgate invites create --uses 5 --ttl 72h
  passgate invites create --code team-offsite-2026 --no-expiry
  passgate invites create --format random --length 24 --email ana@example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.ctx(cmd)
			defer cancel()

			if ttlFlag < 0 {
				return errors.New("--ttl debe ser positivo")
			}
			reg, err := a.registry(ctx)
			if err != nil {
				return err
			}

			mailer, err := server.MailerFromConfig(a.cfg)
			if err != nil {
				return err
			}
			wantMail := strings.TrimSpace(mailTo) != ""
			if wantMail && mailer == nil {
				return errors.New("--email requiere smtp.host configurado")
			}

			in.Format = invite.Format(format)
			in.TTL = ttlFlag
			in.NoExpiry = noExp
			in.CreatedBy = "cli"
			inv, err := reg.Create(ctx, in)
			if err != nil {
				return err
			}

			out := dto.CreateInviteResponse{Invite: adminsvc.View(inv, a.clock())}
			if mailer != nil {
				out.Link = mailer.InviteLink(inv.Code)
			}
			var mailErr error
			if wantMail {
				mailErr = mailer.SendInvite(mailTo, email.InviteVars{
					Code:      inv.Code,
					Uses:      inv.RemainingUses,
					ExpiresAt: inv.ExpiresAt,
				})
				out.EmailSent = mailErr == nil
			}

			if err := a.print(out, func(w io.Writer) {
				fmt.Fprintln(w, inv.Code)
				printInvite(w, out.Invite)
				if out.Link != "" {
					fmt.Fprintf(w, "  link:     %s\n", out.Link)
				}
				if out.EmailSent {
					fmt.Fprintf(w, "  enviado a %s\n", mailTo)
				}
			}); err != nil {
				return err
			}
			// el invite quedó creado aunque el mail falle
			if mailErr != nil {
				return fmt.Errorf("invite %s creado, envío falló: %w", inv.Code, mailErr)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Code, "code", "", "Código propio (6-128 caracteres)")
	f.StringVar(&format, "format", string(invite.FormatWords), "Formato generado: words|random")
	f.IntVar(&in.Words, "words", 0, "Cantidad de palabras (2-6, default del config)")
	f.IntVar(&in.Length, "length", 0, "Largo del código aleatorio (8-128, default 16)")
	f.IntVar(&in.Uses, "uses", 0, "Usos permitidos (default del config)")
	f.DurationVar(&ttlFlag, "ttl", 0, "Vigencia (ej. 72h; default del config)")
	f.BoolVar(&noExp, "no-expiry", false, "Invite sin vencimiento")
	f.StringVar(&mailTo, "email", "", "Enviar el código por mail a esta dirección")
	return cmd
}

func (a *app) invitesListCmd() *cobra.Command {
	var active bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Listar invites",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.ctx(cmd)
			defer cancel()
			reg, err := a.registry(ctx)
			if err != nil {
				return err
			}
			invs, err := reg.List(ctx, active)
			if err != nil {
				return err
			}
			now := a.clock()
			views := make([]dto.InviteView, 0, len(invs))
			for i := range invs {
				views = append(views, adminsvc.View(&invs[i], now))
			}
			return a.print(dto.ListInvitesResponse{Invites: views}, func(w io.Writer) {
				if len(views) == 0 {
					fmt.Fprintln(w, "sin invites")
					return
				}
				for _, v := range views {
					fmt.Fprintln(w, v.Code)
					printInvite(w, v)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&active, "active", false, "Solo invites canjeables")
	return cmd
}

func (a *app) invitesRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <code>",
		Short: "Revocar un invite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.ctx(cmd)
			defer cancel()
			reg, err := a.registry(ctx)
			if err != nil {
				return err
			}
			if err := reg.Revoke(ctx, args[0]); err != nil {
				return err
			}
			return a.print(map[string]any{"revoked": invite.NormalizeCode(args[0])}, func(w io.Writer) {
				fmt.Fprintln(w, "revocado")
			})
		},
	}
}

func (a *app) invitesStatsCmd() *cobra.Command {
	var code string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Totales de invites (o canjes de un código con --code)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.ctx(cmd)
			defer cancel()
			reg, err := a.registry(ctx)
			if err != nil {
				return err
			}

			if code != "" {
				reds, err := reg.Redemptions(ctx, code)
				if err != nil {
					return err
				}
				type redemption struct {
					UserID     string    `json:"user_id"`
					RedeemedAt time.Time `json:"redeemed_at"`
				}
				out := make([]redemption, 0, len(reds))
				for _, r := range reds {
					out = append(out, redemption{UserID: r.UserID.String(), RedeemedAt: r.RedeemedAt})
				}
				return a.print(map[string]any{"code": invite.NormalizeCode(code), "redemptions": out}, func(w io.Writer) {
					fmt.Fprintf(w, "%d canjes\n", len(out))
					for _, r := range out {
						fmt.Fprintf(w, "  %s  %s\n", r.RedeemedAt.Format(time.RFC3339), r.UserID)
					}
				})
			}

			st, err := reg.Stats(ctx)
			if err != nil {
				return err
			}
			ws := reg.Generator().Stats()
			out := map[string]any{
				"total":       st.Total,
				"active":      st.Active,
				"exhausted":   st.Exhausted,
				"expired":     st.Expired,
				"revoked":     st.Revoked,
				"redemptions": st.Redemptions,
				"wordlist":    ws,
			}
			return a.print(out, func(w io.Writer) {
				fmt.Fprintf(w, "total:       %d\n", st.Total)
				fmt.Fprintf(w, "activos:     %d\n", st.Active)
				fmt.Fprintf(w, "agotados:    %d\n", st.Exhausted)
				fmt.Fprintf(w, "vencidos:    %d\n", st.Expired)
				fmt.Fprintf(w, "revocados:   %d\n", st.Revoked)
				fmt.Fprintf(w, "canjes:      %d\n", st.Redemptions)
				fmt.Fprintf(w, "wordlist:    %s (%d palabras, %.1f bits/palabra)\n", ws.Source, ws.WordCount, ws.EntropyBits)
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "Mostrar los canjes de este código")
	return cmd
}

func printInvite(w io.Writer, v dto.InviteView) {
	fmt.Fprintf(w, "  estado:   %s\n", v.Status)
	fmt.Fprintf(w, "  usos:     %d\n", v.RemainingUses)
	if v.ExpiresAt != nil {
		fmt.Fprintf(w, "  vence:    %s\n", v.ExpiresAt.Format(time.RFC3339))
	} else {
		fmt.Fprintln(w, "  vence:    nunca")
	}
	if v.LinkUserID != "" {
		fmt.Fprintf(w, "  vincula:  %s\n", v.LinkUserID)
	}
}
