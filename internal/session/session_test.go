package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/passgate/internal/domain/repository"
	"github.com/dropDatabas3/passgate/internal/store/adapters/memory"
	"github.com/dropDatabas3/passgate/internal/store/storetest"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newManager(t *testing.T, store repository.Store) (*Manager, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	m, err := NewManager(store, Options{
		IdleTTL:          time.Hour,
		AbsoluteTTL:      3 * time.Hour,
		Sliding:          true,
		TouchInterval:    time.Minute,
		RevokedRetention: time.Hour,
		Clock:            clk.Now,
	})
	require.NoError(t, err)
	return m, clk
}

func TestNewManagerRejectsBadTTLs(t *testing.T) {
	_, err := NewManager(memory.New(), Options{IdleTTL: 2 * time.Hour, AbsoluteTTL: time.Hour})
	assert.ErrorIs(t, err, ErrInvalidOptions)
	_, err = NewManager(memory.New(), Options{})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestIssueAndValidate(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	u := storetest.MustUser(t, st, "ana")
	m, _ := newManager(t, st)

	iss, err := m.Issue(ctx, u.ID, IssueMeta{UserAgent: "test", IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Len(t, iss.Token, 43)

	got, ok := m.Validate(ctx, iss.Token)
	require.True(t, ok)
	assert.Equal(t, u.ID, got)

	// solo se guarda el hash
	_, err = st.Sessions().GetByHash(ctx, iss.Token)
	assert.True(t, repository.IsNotFound(err))
}

func TestValidateFailsClosed(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	u := storetest.MustUser(t, st, "bob")
	m, _ := newManager(t, st)
	_, err := m.Issue(ctx, u.ID, IssueMeta{})
	require.NoError(t, err)

	for _, tok := range []string{"", "garbage", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"} {
		id, ok := m.Validate(ctx, tok)
		assert.False(t, ok, tok)
		assert.Equal(t, uuid.Nil, id)
	}
}

func TestSlidingIdleCappedAtAbsolute(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	u := storetest.MustUser(t, st, "carla")
	m, clk := newManager(t, st)

	iss, err := m.Issue(ctx, u.ID, IssueMeta{})
	require.NoError(t, err)

	// cada 50 minutos de uso mantiene viva la sesión más allá del idle original
	for i := 0; i < 3; i++ {
		clk.Advance(50 * time.Minute)
		_, ok := m.Validate(ctx, iss.Token)
		require.True(t, ok, "iteración %d", i)
	}
	// a las 2h30m el idle ya quedó pegado al techo absoluto (3h)
	s, err := st.Sessions().GetByHash(ctx, iss.IDHashForTest())
	require.NoError(t, err)
	assert.Equal(t, s.ExpiresAt, s.IdleExpiresAt)

	clk.Advance(40 * time.Minute)
	_, ok := m.Validate(ctx, iss.Token)
	assert.False(t, ok)
}

func TestIdleExpiry(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	u := storetest.MustUser(t, st, "dario")
	m, clk := newManager(t, st)

	iss, err := m.Issue(ctx, u.ID, IssueMeta{})
	require.NoError(t, err)
	clk.Advance(time.Hour)
	_, ok := m.Validate(ctx, iss.Token)
	assert.False(t, ok)
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	u := storetest.MustUser(t, st, "eva")
	m, _ := newManager(t, st)

	a, err := m.Issue(ctx, u.ID, IssueMeta{})
	require.NoError(t, err)
	b, err := m.Issue(ctx, u.ID, IssueMeta{})
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, a.Token))
	require.NoError(t, m.Revoke(ctx, a.Token))
	require.NoError(t, m.Revoke(ctx, "unknown"))
	_, ok := m.Validate(ctx, a.Token)
	assert.False(t, ok)
	_, ok = m.Validate(ctx, b.Token)
	assert.True(t, ok)

	n, err := m.RevokeAllForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok = m.Validate(ctx, b.Token)
	assert.False(t, ok)
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	u := storetest.MustUser(t, st, "fede")
	m, clk := newManager(t, st)

	expired, err := m.Issue(ctx, u.ID, IssueMeta{})
	require.NoError(t, err)
	revoked, err := m.Issue(ctx, u.ID, IssueMeta{})
	require.NoError(t, err)
	require.NoError(t, m.Revoke(ctx, revoked.Token))

	clk.Advance(90 * time.Minute)
	alive, err := m.Issue(ctx, u.ID, IssueMeta{})
	require.NoError(t, err)

	n, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = st.Sessions().GetByHash(ctx, expired.IDHashForTest())
	assert.True(t, repository.IsNotFound(err))
	_, ok := m.Validate(ctx, alive.Token)
	assert.True(t, ok)
}

func TestConcurrentValidate(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	u := storetest.MustUser(t, st, "gina")
	m, _ := newManager(t, st)
	iss, err := m.Issue(ctx, u.ID, IssueMeta{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, ok := m.Validate(ctx, iss.Token)
			if !ok || id != u.ID {
				t.Errorf("validate = %v %v", id, ok)
			}
		}()
	}
	wg.Wait()
}

// failingStore devuelve error en cada lectura de sesiones.
type failingStore struct {
	repository.Store
}

type failingSessions struct {
	repository.SessionRepository
}

func (f failingStore) Sessions() repository.SessionRepository {
	return failingSessions{f.Store.Sessions()}
}

func (failingSessions) GetByHash(context.Context, string) (*repository.Session, error) {
	return nil, errors.New("connection reset")
}

func TestValidateStoreErrorFailsClosed(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	u := storetest.MustUser(t, st, "hugo")

	good, _ := newManager(t, st)
	iss, err := good.Issue(ctx, u.ID, IssueMeta{})
	require.NoError(t, err)

	bad, _ := newManager(t, failingStore{st})
	id, ok := bad.Validate(ctx, iss.Token)
	assert.False(t, ok)
	assert.Equal(t, uuid.Nil, id)
}

// blockingSessions frena la primera lectura después de leer la fila, hasta
// que se cierre release.
type blockingSessions struct {
	repository.SessionRepository
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (b *blockingSessions) GetByHash(ctx context.Context, h string) (*repository.Session, error) {
	s, err := b.SessionRepository.GetByHash(ctx, h)
	first := false
	b.once.Do(func() { first = true })
	if first {
		close(b.read)
		<-b.release
	}
	return s, err
}

type blockingStore struct {
	repository.Store
	sessions *blockingSessions
}

func (b blockingStore) Sessions() repository.SessionRepository { return b.sessions }

func TestValidateAfterRevokeNeverSeesStaleRead(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	u := storetest.MustUser(t, st, "iris")

	bs := &blockingSessions{SessionRepository: st.Sessions(), read: make(chan struct{}), release: make(chan struct{})}
	m, _ := newManager(t, blockingStore{Store: st, sessions: bs})
	iss, err := m.Issue(ctx, u.ID, IssueMeta{})
	require.NoError(t, err)

	// validación en vuelo que ya leyó la sesión vigente
	inFlight := make(chan struct{})
	go func() {
		defer close(inFlight)
		m.Validate(ctx, iss.Token)
	}()
	<-bs.read

	require.NoError(t, m.Revoke(ctx, iss.Token))

	type result struct {
		id uuid.UUID
		ok bool
	}
	late := make(chan result, 1)
	go func() {
		id, ok := m.Validate(ctx, iss.Token)
		late <- result{id, ok}
	}()

	var got result
	select {
	case got = <-late:
	case <-time.After(2 * time.Second):
		close(bs.release)
		<-inFlight
		t.Fatal("la validación posterior quedó esperando a la que estaba en vuelo")
	}
	close(bs.release)
	<-inFlight

	assert.False(t, got.ok, "sesión revocada validada")
	assert.Equal(t, uuid.Nil, got.id)
}

func TestValidateIgnoresOtherCallersCancellation(t *testing.T) {
	st := memory.New()
	u := storetest.MustUser(t, st, "juan")
	m, _ := newManager(t, st)
	iss, err := m.Issue(context.Background(), u.ID, IssueMeta{})
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, _ = m.Validate(cancelled, iss.Token)

	id, ok := m.Validate(context.Background(), iss.Token)
	assert.True(t, ok)
	assert.Equal(t, u.ID, id)
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	ua := strings.Repeat("a", 511) + "ñandú"
	got := truncate(ua, 512)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 511), got)

	assert.Equal(t, "ok", truncate("o\xffk", 512))
	assert.Equal(t, "corto", truncate("corto", 512))
}

func TestIssueTruncatesUserAgentOnRuneBoundary(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	u := storetest.MustUser(t, st, "karen")
	m, _ := newManager(t, st)

	iss, err := m.Issue(ctx, u.ID, IssueMeta{UserAgent: strings.Repeat("é", 400)})
	require.NoError(t, err)
	s, err := st.Sessions().GetByHash(ctx, iss.IDHashForTest())
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(s.UserAgent))
	assert.Len(t, s.UserAgent, 512)
}
