package audit

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dropDatabas3/passgate/internal/observability/logger"
)

func TestLogLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := logger.ToContext(context.Background(), zap.New(core).With(zap.String("request_id", "r1")))

	Log(ctx, LoginSucceeded, zap.String("user_id", "u1"))
	Log(ctx, CounterRollback, zap.Uint32("stored_counter", 5))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("esperaba 2 eventos, got %d", len(entries))
	}

	first := entries[0]
	if first.Level != zapcore.InfoLevel || first.LoggerName != "audit" {
		t.Fatalf("login: level=%s name=%q", first.Level, first.LoggerName)
	}
	fm := first.ContextMap()
	if fm["event"] != "login.succeeded" || fm["user_id"] != "u1" || fm["request_id"] != "r1" {
		t.Fatalf("campos inesperados: %v", fm)
	}

	if entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("rollback debería ser WARN, got %s", entries[1].Level)
	}
	if entries[1].ContextMap()["stored_counter"] != uint32(5) {
		t.Fatalf("stored_counter: %v", entries[1].ContextMap())
	}
}

func TestLogRespectsLevel(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	ctx := logger.ToContext(context.Background(), zap.New(core))

	Log(ctx, InviteRevoked)
	Log(ctx, VerificationFailed)

	if logs.Len() != 1 || logs.All()[0].Message != string(VerificationFailed) {
		t.Fatalf("solo el rechazo debería pasar el nivel: %v", logs.All())
	}
}
