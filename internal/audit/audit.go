// Package audit registra eventos de seguridad con el logger "audit".
//
// Los eventos salen por el mismo zap del request (request_id incluido) con el
// campo event; los de rechazo van a WARN.
package audit

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dropDatabas3/passgate/internal/observability/logger"
)

type Event string

const (
	UserRegistered     Event = "user.registered"
	CredentialLinked   Event = "credential.linked"
	CredentialRemoved  Event = "credential.removed"
	LoginSucceeded     Event = "login.succeeded"
	VerificationFailed Event = "verification.failed"
	CounterRollback    Event = "credential.counter_rollback"
	InviteRevoked      Event = "invite.revoked"
	SessionsRevoked    Event = "sessions.revoked"
)

func (e Event) level() zapcore.Level {
	switch e {
	case VerificationFailed, CounterRollback, CredentialRemoved:
		return zapcore.WarnLevel
	}
	return zapcore.InfoLevel
}

// Log escribe el evento con fields extra.
func Log(ctx context.Context, ev Event, fields ...zap.Field) {
	l := logger.From(ctx).Named("audit")
	if ce := l.Check(ev.level(), string(ev)); ce != nil {
		ce.Write(append(fields, zap.String("event", string(ev)))...)
	}
}
