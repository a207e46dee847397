package challenge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/dropDatabas3/passgate/internal/cache"
)

func newChallenge(t *testing.T) *Challenge {
	t.Helper()
	id, err := NewID()
	if err != nil {
		t.Fatalf("NewID err: %v", err)
	}
	now := time.Now()
	return &Challenge{
		ID:        id,
		Kind:      KindRegistration,
		Session:   webauthn.SessionData{Challenge: "abc", UserID: []byte("u")},
		UserID:    uuid.New(),
		IssuedAt:  now,
		ExpiresAt: now.Add(2 * time.Minute),
	}
}

func TestPutConsumeOnce(t *testing.T) {
	s := NewStore(cache.NewMemory("", time.Minute), time.Minute)
	ctx := context.Background()
	ch := newChallenge(t)
	if err := s.Put(ctx, ch); err != nil {
		t.Fatalf("Put err: %v", err)
	}

	got, err := s.Consume(ctx, ch.ID)
	if err != nil {
		t.Fatalf("Consume err: %v", err)
	}
	if got.Kind != KindRegistration || got.UserID != ch.UserID || got.Session.Challenge != "abc" {
		t.Fatalf("challenge distinto: %+v", got)
	}
	if _, err := s.Consume(ctx, ch.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("segundo consume debería fallar con ErrNotFound, got %v", err)
	}
}

func TestConsumeConcurrentSingleWinner(t *testing.T) {
	s := NewStore(cache.NewMemory("", time.Minute), 0)
	ctx := context.Background()
	ch := newChallenge(t)
	if err := s.Put(ctx, ch); err != nil {
		t.Fatalf("Put err: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Consume(ctx, ch.ID); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("esperaba exactamente 1 consumo, got %d", wins.Load())
	}
}

func TestConsumeMalformedID(t *testing.T) {
	s := NewStore(cache.NewMemory("", time.Minute), 0)
	for _, id := range []string{"", "short", strings.Repeat("*", 43), strings.Repeat("a", 44)} {
		if _, err := s.Consume(context.Background(), id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("id %q: esperaba ErrNotFound, got %v", id, err)
		}
	}
}

func TestExpired(t *testing.T) {
	ch := newChallenge(t)
	if ch.Expired(ch.IssuedAt.Add(time.Minute)) {
		t.Fatalf("no debería estar vencido a 1m")
	}
	if !ch.Expired(ch.ExpiresAt) {
		t.Fatalf("debería estar vencido en ExpiresAt")
	}
}
