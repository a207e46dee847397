package email

import (
	"bytes"
	"fmt"
	htmltpl "html/template"
	"net/mail"
	"net/url"
	"strings"
	texttpl "text/template"
	"time"
)

// InviteVars variables de la plantilla de invitación.
type InviteVars struct {
	RPName    string
	Code      string
	Link      string
	Uses      int
	ExpiresAt *time.Time
	// Linking es true si el invite agrega una passkey a una cuenta existente.
	Linking bool
}

const inviteSubject = "Tu invitación a {{.RPName}}"

const inviteText = `Hola,

{{if .Linking}}Te enviaron un código para agregar una passkey a tu cuenta en {{.RPName}}.{{else}}Te invitaron a crear una cuenta en {{.RPName}}.{{end}}

Código: {{.Code}}
{{if .Link}}Link: {{.Link}}
{{end}}{{if .ExpiresAt}}Vence: {{.ExpiresAt.Format "2006-01-02 15:04 MST"}}
{{end}}`

const inviteHTML = `<!doctype html>
<html><body style="font-family:sans-serif">
<p>{{if .Linking}}Te enviaron un código para agregar una passkey a tu cuenta en <b>{{.RPName}}</b>.{{else}}Te invitaron a crear una cuenta en <b>{{.RPName}}</b>.{{end}}</p>
<p>Código: <code>{{.Code}}</code></p>
{{if .Link}}<p><a href="{{.Link}}">Continuar</a></p>{{end}}
{{if .ExpiresAt}}<p style="color:#666">Vence: {{.ExpiresAt.Format "2006-01-02 15:04 MST"}}</p>{{end}}
</body></html>`

var (
	subjectTpl = texttpl.Must(texttpl.New("subject").Parse(inviteSubject))
	textTpl    = texttpl.Must(texttpl.New("text").Parse(inviteText))
	htmlTpl    = htmltpl.Must(htmltpl.New("html").Parse(inviteHTML))
)

// Mailer envía invitaciones.
type Mailer struct {
	sender  Sender
	rpName  string
	baseURL string
}

func NewMailer(sender Sender, rpName, baseURL string) *Mailer {
	return &Mailer{sender: sender, rpName: rpName, baseURL: strings.TrimRight(baseURL, "/")}
}

// InviteLink arma el link de registro con el código precargado.
func (m *Mailer) InviteLink(code string) string {
	if m.baseURL == "" {
		return ""
	}
	return m.baseURL + "/register?invite=" + url.QueryEscape(code)
}

// RenderInvite devuelve subject, html y texto.
func (m *Mailer) RenderInvite(v InviteVars) (subject, html, text string, err error) {
	if v.RPName == "" {
		v.RPName = m.rpName
	}
	if v.Link == "" {
		v.Link = m.InviteLink(v.Code)
	}
	var sb, hb, tb bytes.Buffer
	if err = subjectTpl.Execute(&sb, v); err != nil {
		return
	}
	if err = htmlTpl.Execute(&hb, v); err != nil {
		return
	}
	if err = textTpl.Execute(&tb, v); err != nil {
		return
	}
	return sb.String(), hb.String(), tb.String(), nil
}

// SendInvite valida la dirección y envía la invitación.
func (m *Mailer) SendInvite(to string, v InviteVars) error {
	addr, err := mail.ParseAddress(to)
	if err != nil {
		return fmt.Errorf("email: destinatario inválido: %w", err)
	}
	subject, html, text, err := m.RenderInvite(v)
	if err != nil {
		return fmt.Errorf("email: render: %w", err)
	}
	return m.sender.Send(addr.Address, subject, html, text)
}
