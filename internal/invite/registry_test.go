package invite

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/passgate/internal/domain/repository"
	"github.com/dropDatabas3/passgate/internal/store/adapters/memory"
	"github.com/dropDatabas3/passgate/internal/store/storetest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newRegistry(t *testing.T) (*Registry, *memory.Store, *fakeClock) {
	t.Helper()
	st := memory.New()
	clk := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRegistry(st, NewGenerator(""), Options{DefaultTTL: 7 * 24 * time.Hour, DefaultUses: 1, Clock: clk.Now})
	return r, st, clk
}

func redeem(ctx context.Context, r *Registry, st repository.Store, code string, userID uuid.UUID) error {
	return st.InTx(ctx, func(tx repository.Repositories) error {
		_, err := r.Redeem(ctx, tx, code, userID)
		return err
	})
}

func TestCreateCustomAndValidate(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newRegistry(t)

	inv, err := r.Create(ctx, CreateInput{Code: "abc123", Uses: 1, CreatedBy: "cli"})
	require.NoError(t, err)
	assert.Equal(t, "abc123", inv.Code)
	require.NotNil(t, inv.ExpiresAt)

	got, err := r.Validate(ctx, "  abc123 ")
	require.NoError(t, err)
	assert.Equal(t, 1, got.RemainingUses)
	assert.True(t, r.CheckRedeemable(ctx, "abc123"))

	_, err = r.Create(ctx, CreateInput{Code: "abc123"})
	assert.True(t, repository.IsConflict(err))

	for _, bad := range []string{"abc", "has space", "semi;colon"} {
		_, err := r.Create(ctx, CreateInput{Code: bad})
		assert.ErrorIs(t, err, ErrInvalidCode, bad)
	}
}

func TestCreateGeneratedCodes(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newRegistry(t)

	words, err := r.Create(ctx, CreateInput{Words: 3})
	require.NoError(t, err)
	assert.Regexp(t, `^[a-z]+-[a-z]+-[a-z]+$`, words.Code)

	random, err := r.Create(ctx, CreateInput{Format: FormatRandom, Length: 24, NoExpiry: true, Uses: 5})
	require.NoError(t, err)
	assert.Regexp(t, `^[A-Z0-9]{24}$`, random.Code)
	assert.Nil(t, random.ExpiresAt)
	assert.Equal(t, 5, random.RemainingUses)

	_, err = r.Create(ctx, CreateInput{Format: "emoji"})
	assert.ErrorIs(t, err, ErrInvalidCode)
	_, err = r.Create(ctx, CreateInput{Uses: -1})
	assert.ErrorIs(t, err, repository.ErrInvalidInput)
}

func TestValidateReasons(t *testing.T) {
	ctx := context.Background()
	r, st, clk := newRegistry(t)

	_, err := r.Validate(ctx, "nope-nope")
	assert.ErrorIs(t, err, ErrInviteNotFound)

	_, err = r.Create(ctx, CreateInput{Code: "short-lived", TTL: time.Minute})
	require.NoError(t, err)
	clk.Advance(2 * time.Minute)
	_, err = r.Validate(ctx, "short-lived")
	assert.ErrorIs(t, err, ErrInviteExpired)

	_, err = r.Create(ctx, CreateInput{Code: "revoked1"})
	require.NoError(t, err)
	require.NoError(t, r.Revoke(ctx, "revoked1"))
	_, err = r.Validate(ctx, "revoked1")
	assert.ErrorIs(t, err, ErrInviteNotFound)
	assert.ErrorIs(t, r.Revoke(ctx, "missing1"), ErrInviteNotFound)

	u := storetest.MustUser(t, st, "ana")
	_, err = r.Create(ctx, CreateInput{Code: "oneshot"})
	require.NoError(t, err)
	require.NoError(t, redeem(ctx, r, st, "oneshot", u.ID))
	_, err = r.Validate(ctx, "oneshot")
	assert.ErrorIs(t, err, ErrInviteExhausted)
	assert.False(t, r.CheckRedeemable(ctx, "oneshot"))
}

func TestRedeemClassifiesFailures(t *testing.T) {
	ctx := context.Background()
	r, st, clk := newRegistry(t)
	u := storetest.MustUser(t, st, "bob")

	assert.ErrorIs(t, redeem(ctx, r, st, "ghost1", u.ID), ErrInviteNotFound)

	_, err := r.Create(ctx, CreateInput{Code: "abc123", Uses: 1})
	require.NoError(t, err)
	require.NoError(t, redeem(ctx, r, st, "abc123", u.ID))
	assert.ErrorIs(t, redeem(ctx, r, st, "abc123", u.ID), ErrInviteExhausted)

	reds, err := r.Redemptions(ctx, "abc123")
	require.NoError(t, err)
	require.Len(t, reds, 1)
	assert.Equal(t, u.ID, reds[0].UserID)

	_, err = r.Create(ctx, CreateInput{Code: "expiring", TTL: time.Hour, Uses: 3})
	require.NoError(t, err)
	clk.Advance(time.Hour)
	assert.ErrorIs(t, redeem(ctx, r, st, "expiring", u.ID), ErrInviteExpired)
}

func TestRedeemExactlyNConcurrent(t *testing.T) {
	ctx := context.Background()
	r, st, _ := newRegistry(t)
	u := storetest.MustUser(t, st, "carla")

	const uses = 4
	_, err := r.Create(ctx, CreateInput{Code: "party-time", Uses: uses})
	require.NoError(t, err)

	var ok, exhausted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := redeem(ctx, r, st, "party-time", u.ID)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrInviteExhausted):
				exhausted.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, uses, ok.Load())
	assert.EqualValues(t, 32-uses, exhausted.Load())

	reds, err := r.Redemptions(ctx, "party-time")
	require.NoError(t, err)
	assert.Len(t, reds, uses)
}

func TestRedeemRollsBackWithCaller(t *testing.T) {
	ctx := context.Background()
	r, st, _ := newRegistry(t)
	u := storetest.MustUser(t, st, "dario")
	_, err := r.Create(ctx, CreateInput{Code: "rollback1"})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = st.InTx(ctx, func(tx repository.Repositories) error {
		if _, err := r.Redeem(ctx, tx, "rollback1", u.ID); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	inv, err := r.Validate(ctx, "rollback1")
	require.NoError(t, err)
	assert.Equal(t, 1, inv.RemainingUses)
}

func TestCreateLinkAndStats(t *testing.T) {
	ctx := context.Background()
	r, st, _ := newRegistry(t)
	u := storetest.MustUser(t, st, "eva")

	link, err := r.CreateLink(ctx, u.ID, "eva")
	require.NoError(t, err)
	require.NotNil(t, link.LinkUserID)
	assert.Equal(t, u.ID, *link.LinkUserID)
	require.NotNil(t, link.ExpiresAt)
	assert.Equal(t, 24*time.Hour, link.ExpiresAt.Sub(link.CreatedAt))

	_, err = r.CreateLink(ctx, uuid.New(), "x")
	assert.True(t, repository.IsNotFound(err))

	_, err = r.Create(ctx, CreateInput{Code: "second"})
	require.NoError(t, err)
	require.NoError(t, r.Revoke(ctx, "second"))

	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.Revoked)

	active, err := r.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, link.Code, active[0].Code)
}

func TestNormalizeCode(t *testing.T) {
	cases := map[string]string{
		" Apple-Banana ": "apple-banana",
		"ABC123":         "ABC123",
		"abc-12":         "abc-12",
	}
	for in, want := range cases {
		if got := NormalizeCode(in); got != want {
			t.Fatalf("NormalizeCode(%q) = %q, want %q", in, got, want)
		}
	}
}
