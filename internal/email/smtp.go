// Package email envía invitaciones por SMTP (go-mail).
package email

import (
	"crypto/tls"
	"errors"
	"fmt"

	mail "github.com/go-mail/mail"
	"go.uber.org/zap"

	"github.com/dropDatabas3/passgate/internal/observability/logger"
)

// ErrNotConfigured indica que no hay host SMTP configurado.
var ErrNotConfigured = errors.New("email: smtp not configured")

// Sender envía un mail con versión HTML y texto plano.
type Sender interface {
	Send(to string, subject string, htmlBody string, textBody string) error
}

// SMTPConfig parámetros del servidor SMTP.
type SMTPConfig struct {
	Host               string
	Port               int
	From               string
	Username           string
	Password           string
	TLSMode            string // "auto" | "starttls" | "ssl" | "none"
	InsecureSkipVerify bool
}

// SMTPSender implementa Sender usando SMTP.
type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, ErrNotConfigured
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("email: smtp from vacío")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.TLSMode == "" {
		cfg.TLSMode = "auto"
	}
	return &SMTPSender{cfg: cfg}, nil
}

// message arma el mensaje multipart/alternative (txt + html).
func (s *SMTPSender) message(to, subject, htmlBody, textBody string) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)

	if textBody != "" {
		m.SetBody("text/plain", textBody)
	}
	if htmlBody != "" {
		if textBody == "" {
			m.SetBody("text/html", htmlBody)
		} else {
			m.AddAlternative("text/html", htmlBody)
		}
	}
	return m
}

func (s *SMTPSender) dialer() *mail.Dialer {
	d := mail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	d.TLSConfig = &tls.Config{
		ServerName:         s.cfg.Host,
		InsecureSkipVerify: s.cfg.InsecureSkipVerify, // solo dev
	}
	switch s.cfg.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.StartTLSPolicy = mail.NoStartTLS
	case "starttls":
		d.StartTLSPolicy = mail.MandatoryStartTLS
	default:
		// "auto": go-mail negocia STARTTLS si el server lo ofrece
	}
	return d
}

func (s *SMTPSender) Send(to, subject, htmlBody, textBody string) error {
	log := logger.L().With(
		logger.Component("email.smtp"),
		zap.String("host", s.cfg.Host),
		zap.Int("port", s.cfg.Port),
	)
	log.Debug("enviando email", zap.String("subject", subject), zap.String("tls_mode", s.cfg.TLSMode))

	if err := s.dialer().DialAndSend(s.message(to, subject, htmlBody, textBody)); err != nil {
		log.Error("smtp send falló", logger.Err(err))
		return fmt.Errorf("smtp send: %w", err)
	}
	log.Info("email enviado")
	return nil
}
