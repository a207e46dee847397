package pg

import (
	"context"
	"os"
	"testing"

	"github.com/dropDatabas3/passgate/internal/domain/repository"
	"github.com/dropDatabas3/passgate/internal/store/migrate"
	"github.com/dropDatabas3/passgate/internal/store/storetest"
)

// Requiere una base descartable: PASSGATE_TEST_DATABASE_URL=postgres://...
func TestPostgresStoreContract(t *testing.T) {
	dsn := os.Getenv("PASSGATE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PASSGATE_TEST_DATABASE_URL no configurada")
	}
	ctx := context.Background()

	s, err := Open(ctx, Config{DSN: dsn, MaxConns: 20})
	if err != nil {
		t.Fatalf("Open err: %v", err)
	}
	t.Cleanup(s.Close)

	if _, err := migrate.Up(ctx, s.Pool()); err != nil {
		t.Fatalf("migrate err: %v", err)
	}

	storetest.Run(t, func(t *testing.T) repository.Store {
		if _, err := s.Pool().Exec(ctx,
			`TRUNCATE sessions, invite_redemptions, invites, credentials, users CASCADE`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}
