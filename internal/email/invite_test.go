package email

import (
	"strings"
	"testing"
	"time"
)

type captureSender struct {
	to, subject, html, text string
}

func (c *captureSender) Send(to, subject, html, text string) error {
	c.to, c.subject, c.html, c.text = to, subject, html, text
	return nil
}

func TestSendInvite(t *testing.T) {
	cs := &captureSender{}
	m := NewMailer(cs, "Passgate", "https://id.example.com/")
	exp := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	if err := m.SendInvite("Ana <ana@example.com>", InviteVars{Code: "tiger-lamp-ocean", Uses: 1, ExpiresAt: &exp}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if cs.to != "ana@example.com" {
		t.Fatalf("to = %q", cs.to)
	}
	if cs.subject != "Tu invitación a Passgate" {
		t.Fatalf("subject = %q", cs.subject)
	}
	if !strings.Contains(cs.text, "https://id.example.com/register?invite=tiger-lamp-ocean") {
		t.Fatalf("text sin link: %s", cs.text)
	}
	if !strings.Contains(cs.text, "2026-07-01 12:00 UTC") {
		t.Fatalf("text sin vencimiento: %s", cs.text)
	}
	if !strings.Contains(cs.html, "<code>tiger-lamp-ocean</code>") {
		t.Fatalf("html sin código: %s", cs.html)
	}
}

func TestSendInviteRejectsBadAddress(t *testing.T) {
	m := NewMailer(&captureSender{}, "Passgate", "")
	if err := m.SendInvite("not-an-address", InviteVars{Code: "abc123"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestHTMLEscapesCode(t *testing.T) {
	m := NewMailer(&captureSender{}, "P", "")
	_, html, _, err := m.RenderInvite(InviteVars{Code: "<script>"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(html, "<script>") {
		t.Fatalf("html sin escapar: %s", html)
	}
}

func TestNewSMTPSenderRequiresHost(t *testing.T) {
	if _, err := NewSMTPSender(SMTPConfig{}); err != ErrNotConfigured {
		t.Fatalf("err = %v", err)
	}
	s, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", From: "no-reply@example.com", TLSMode: "ssl"})
	if err != nil {
		t.Fatal(err)
	}
	if d := s.dialer(); !d.SSL || d.Port != 587 {
		t.Fatalf("dialer = %+v", d)
	}
}
