package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestFromFallsBackToGlobal(t *testing.T) {
	if From(context.Background()) != L() {
		t.Fatalf("sin logger en ctx debería usarse el global")
	}
	scoped := L().With(zap.String("k", "v"))
	ctx := ToContext(context.Background(), scoped)
	if From(ctx) != scoped {
		t.Fatalf("From(ctx) no retornó el logger inyectado")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestRedact(t *testing.T) {
	if got := redact("abcdefghij", 4); got != "abcd***" {
		t.Fatalf("redact: %q", got)
	}
	if got := redact("ab", 4); got != "***" {
		t.Fatalf("redact corto: %q", got)
	}
}

func TestMaskEmail(t *testing.T) {
	cases := map[string]string{
		" Ana.Perez@Example.com ": "a…@e….com",
		"x@y.io":                  "x…@y.io",
		"sin-arroba":              "s***",
		"@example.com":            "@***",
		"":                        "***",
	}
	for in, want := range cases {
		if got := maskEmail(in); got != want {
			t.Fatalf("maskEmail(%q)=%q want %q", in, got, want)
		}
	}
}
