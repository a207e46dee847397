package server_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/descope/virtualwebauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/passgate/internal/cache"
	"github.com/dropDatabas3/passgate/internal/config"
	"github.com/dropDatabas3/passgate/internal/http/v2/server"
	"github.com/dropDatabas3/passgate/internal/invite"
	"github.com/dropDatabas3/passgate/internal/store/adapters/memory"
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

type env struct {
	t   *testing.T
	app *server.App
	clk *clock
	rp  virtualwebauthn.RelyingParty
}

func newEnv(t *testing.T, mutate func(*config.Config)) *env {
	t.Helper()

	cfg := config.Default()
	cfg.WebAuthn.RPID = "example.com"
	cfg.WebAuthn.RPDisplayName = "Example Corp"
	cfg.WebAuthn.RPOrigins = []string{"https://example.com"}
	cfg.Ceremony.DecoySecret = "decoy-secret-for-tests"
	cfg.Sessions.Secure = false
	cfg.Metrics.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	c := cache.NewMemory("test:", time.Minute)
	t.Cleanup(func() { _ = c.Close() })

	clk := &clock{now: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)}
	app, err := server.Build(cfg, server.Infra{Store: memory.New(), Cache: c, Clock: clk.Now})
	require.NoError(t, err)

	return &env{
		t: t, app: app, clk: clk,
		rp: virtualwebauthn.RelyingParty{Name: cfg.WebAuthn.RPDisplayName, ID: cfg.WebAuthn.RPID, Origin: cfg.WebAuthn.RPOrigins[0]},
	}
}

func (e *env) invite(code string, uses int) {
	e.t.Helper()
	_, err := e.app.Invites.Create(context.Background(), invite.CreateInput{Code: code, Uses: uses})
	require.NoError(e.t, err)
}

// do ejecuta el request contra el handler. token != "" viaja como Bearer.
func (e *env) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.app.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, code, decode[errorBody](t, rec).Code)
}

type beginResponse struct {
	CeremonyID string `json:"ceremony_id"`
	Options    struct {
		PublicKey json.RawMessage `json:"publicKey"`
	} `json:"options"`
	AllowedCredentials []string `json:"allowed_credentials"`
}

type sessionResponse struct {
	UserID       string `json:"user_id"`
	CredentialID string `json:"credential_id"`
	Token        string `json:"token"`
}

type device struct {
	auth virtualwebauthn.Authenticator
	cred virtualwebauthn.Credential
}

func newDevice() *device {
	return &device{auth: virtualwebauthn.NewAuthenticator(), cred: virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)}
}

func (e *env) beginRegister(name, code string) beginResponse {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/v2/auth/register/begin", map[string]string{"display_name": name, "invite_code": code}, "")
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[beginResponse](e.t, rec)
}

func (e *env) attestation(d *device, b beginResponse) json.RawMessage {
	e.t.Helper()
	opts, err := virtualwebauthn.ParseAttestationOptions(string(b.Options.PublicKey))
	require.NoError(e.t, err)
	return json.RawMessage(virtualwebauthn.CreateAttestationResponse(e.rp, d.auth, d.cred, *opts))
}

func (e *env) assertion(d *device, b beginResponse) json.RawMessage {
	e.t.Helper()
	opts, err := virtualwebauthn.ParseAssertionOptions(string(b.Options.PublicKey))
	require.NoError(e.t, err)
	return json.RawMessage(virtualwebauthn.CreateAssertionResponse(e.rp, d.auth, d.cred, *opts))
}

func finishBody(id string, cred json.RawMessage) map[string]any {
	return map[string]any{"ceremony_id": id, "credential": cred}
}

// register completa un registro y devuelve el device y la sesión.
func (e *env) register(name, code string) (*device, sessionResponse) {
	e.t.Helper()
	d := newDevice()
	b := e.beginRegister(name, code)
	rec := e.do(http.MethodPost, "/v2/auth/register/finish", finishBody(b.CeremonyID, e.attestation(d, b)), "")
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	d.auth.AddCredential(d.cred)
	return d, decode[sessionResponse](e.t, rec)
}

func (e *env) login(name string, d *device) *httptest.ResponseRecorder {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/v2/auth/login/begin", map[string]string{"identifier": name}, "")
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	b := decode[beginResponse](e.t, rec)
	return e.do(http.MethodPost, "/v2/auth/login/finish", finishBody(b.CeremonyID, e.assertion(d, b)), "")
}

// =================================================================================
// Flujos
// =================================================================================

func TestRegisterLoginLogoutFlow(t *testing.T) {
	e := newEnv(t, nil)
	e.invite("abc123", 1)

	d := newDevice()
	b := e.beginRegister("alice", "abc123")
	require.NotEmpty(t, b.CeremonyID)
	require.NotEmpty(t, b.Options.PublicKey)
	body := finishBody(b.CeremonyID, e.attestation(d, b))

	rec := e.do(http.MethodPost, "/v2/auth/register/finish", body, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reg := decode[sessionResponse](t, rec)
	require.NotEmpty(t, reg.Token)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "passgate_session" {
			cookie = c
		}
	}
	require.NotNil(t, cookie, "cookie de sesión")
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, reg.Token, cookie.Value)

	// replay del mismo finish
	requireError(t, e.do(http.MethodPost, "/v2/auth/register/finish", body, ""), http.StatusNotFound, "CHALLENGE_NOT_FOUND")

	// status por cookie
	req := httptest.NewRequest(http.MethodGet, "/v2/auth/status", nil)
	req.AddCookie(cookie)
	st := httptest.NewRecorder()
	e.app.Handler.ServeHTTP(st, req)
	require.Equal(t, http.StatusOK, st.Code)
	status := decode[map[string]any](t, st)
	assert.Equal(t, true, status["authenticated"])
	assert.Equal(t, reg.UserID, status["user_id"])
	assert.Equal(t, "admin", status["role"], "el primer usuario es admin")

	// login
	d.auth.AddCredential(d.cred)
	rec = e.login("alice", d)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	login := decode[sessionResponse](t, rec)
	assert.Equal(t, reg.UserID, login.UserID)
	assert.NotEqual(t, reg.Token, login.Token)

	// logout revoca solo esa sesión
	rec = e.do(http.MethodPost, "/v2/auth/logout", nil, login.Token)
	require.Equal(t, http.StatusNoContent, rec.Code)
	status = decode[map[string]any](t, e.do(http.MethodGet, "/v2/auth/status", nil, login.Token))
	assert.Equal(t, false, status["authenticated"])
	status = decode[map[string]any](t, e.do(http.MethodGet, "/v2/auth/status", nil, reg.Token))
	assert.Equal(t, true, status["authenticated"])
}

func TestRegisterBeginErrors(t *testing.T) {
	e := newEnv(t, nil)
	e.invite("used-once", 1)
	e.register("alice", "used-once")

	cases := []struct {
		name   string
		body   map[string]string
		status int
		code   string
	}{
		{"invite desconocido", map[string]string{"display_name": "bob", "invite_code": "nope-nope"}, http.StatusBadRequest, "INVITE_INVALID"},
		{"invite agotado", map[string]string{"display_name": "bob", "invite_code": "used-once"}, http.StatusBadRequest, "INVITE_INVALID"},
		{"sin invite", map[string]string{"display_name": "bob"}, http.StatusBadRequest, "INVITE_INVALID"},
		{"nombre vacío", map[string]string{"display_name": "", "invite_code": "used-once"}, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"invite mal formado", map[string]string{"display_name": "bob", "invite_code": "a b"}, http.StatusBadRequest, "VALIDATION_FAILED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			requireError(t, e.do(http.MethodPost, "/v2/auth/register/begin", tc.body, ""), tc.status, tc.code)
		})
	}

	e.invite("second-one", 1)
	requireError(t,
		e.do(http.MethodPost, "/v2/auth/register/begin", map[string]string{"display_name": "alice", "invite_code": "second-one"}, ""),
		http.StatusConflict, "IDENTITY_TAKEN")
}

func TestRegisterFinishExhaustedInvite(t *testing.T) {
	e := newEnv(t, nil)
	e.invite("race-me", 1)

	// dos begins válidos para el mismo invite de un uso: solo un finish gana
	d1, d2 := newDevice(), newDevice()
	b1 := e.beginRegister("alice", "race-me")
	b2 := e.beginRegister("bob", "race-me")

	rec := e.do(http.MethodPost, "/v2/auth/register/finish", finishBody(b1.CeremonyID, e.attestation(d1, b1)), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	requireError(t,
		e.do(http.MethodPost, "/v2/auth/register/finish", finishBody(b2.CeremonyID, e.attestation(d2, b2)), ""),
		http.StatusConflict, "INVITE_EXHAUSTED")

	// bob no quedó creado
	e.invite("bob-again", 1)
	e.beginRegister("bob", "bob-again")
}

func TestChallengeExpired(t *testing.T) {
	e := newEnv(t, nil)
	e.invite("abc123", 1)

	d := newDevice()
	b := e.beginRegister("alice", "abc123")
	e.clk.Advance(3 * time.Minute)

	requireError(t,
		e.do(http.MethodPost, "/v2/auth/register/finish", finishBody(b.CeremonyID, e.attestation(d, b)), ""),
		http.StatusGone, "CHALLENGE_EXPIRED")
}

func TestLoginErrors(t *testing.T) {
	e := newEnv(t, nil)
	e.invite("abc123", 1)
	d, _ := e.register("alice", "abc123")

	// identificador desconocido: decoy con enumeration resistance
	rec := e.do(http.MethodPost, "/v2/auth/login/begin", map[string]string{"identifier": "mallory"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	b := decode[beginResponse](t, rec)
	assert.Len(t, b.AllowedCredentials, 1)

	rec = e.do(http.MethodPost, "/v2/auth/login/finish", finishBody(b.CeremonyID, e.assertion(d, b)), "")
	requireError(t, rec, http.StatusUnauthorized, "VERIFICATION_FAILED")
	assert.Empty(t, decode[errorBody](t, rec).Detail, "sin detalle hacia el cliente")

	// ceremony id basura
	requireError(t,
		e.do(http.MethodPost, "/v2/auth/login/finish", finishBody("not-a-ceremony", json.RawMessage(`{}`)), ""),
		http.StatusNotFound, "CHALLENGE_NOT_FOUND")

	// credential ausente
	requireError(t,
		e.do(http.MethodPost, "/v2/auth/login/finish", map[string]any{"ceremony_id": "x"}, ""),
		http.StatusBadRequest, "VALIDATION_FAILED")
}

func TestLoginUnknownUserWithoutEnumerationResistance(t *testing.T) {
	e := newEnv(t, func(c *config.Config) { c.Ceremony.EnumerationResistance = false })
	requireError(t,
		e.do(http.MethodPost, "/v2/auth/login/begin", map[string]string{"identifier": "mallory"}, ""),
		http.StatusNotFound, "USER_NOT_FOUND")
}

func TestCounterRollback(t *testing.T) {
	e := newEnv(t, nil)
	e.invite("abc123", 1)
	d, _ := e.register("alice", "abc123")

	d.cred.Counter = 5
	rec := e.login("alice", d)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	d.cred.Counter = 3
	rec = e.login("alice", d)
	requireError(t, rec, http.StatusUnauthorized, "COUNTER_ROLLBACK")
	assert.Empty(t, decode[errorBody](t, rec).Detail)
}

// =================================================================================
// Cuenta
// =================================================================================

func TestMeAndCredentialRemoval(t *testing.T) {
	e := newEnv(t, nil)
	e.invite("abc123", 1)
	_, s := e.register("alice", "abc123")

	requireError(t, e.do(http.MethodGet, "/v2/me", nil, ""), http.StatusUnauthorized, "UNAUTHORIZED")
	requireError(t, e.do(http.MethodGet, "/v2/me", nil, "garbage-token"), http.StatusUnauthorized, "UNAUTHORIZED")

	rec := e.do(http.MethodGet, "/v2/me", nil, s.Token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	me := decode[struct {
		User struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
		} `json:"user"`
		Credentials []struct {
			ID string `json:"id"`
		} `json:"credentials"`
	}](t, rec)
	assert.Equal(t, "alice", me.User.DisplayName)
	require.Len(t, me.Credentials, 1)
	assert.Equal(t, s.CredentialID, me.Credentials[0].ID)

	// no se puede borrar la única credencial
	requireError(t, e.do(http.MethodDelete, "/v2/me/credentials/"+s.CredentialID, nil, s.Token), http.StatusConflict, "LAST_CREDENTIAL")
	requireError(t, e.do(http.MethodDelete, "/v2/me/credentials/"+base64.RawURLEncoding.EncodeToString([]byte("other")), nil, s.Token), http.StatusNotFound, "NOT_FOUND")

	// sumar una segunda passkey con un link invite
	rec = e.do(http.MethodPost, "/v2/me/link-invite", nil, s.Token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	link := decode[map[string]any](t, rec)
	code, _ := link["code"].(string)
	require.NotEmpty(t, code)

	d2 := newDevice()
	b := e.beginRegister("alice", code)
	rec = e.do(http.MethodPost, "/v2/auth/register/finish", finishBody(b.CeremonyID, e.attestation(d2, b)), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	linked := decode[map[string]any](t, rec)
	assert.Equal(t, true, linked["linked_existing"])
	assert.Equal(t, me.User.ID, linked["user_id"])

	// ahora sí: borrar la primera revoca todas las sesiones
	rec = e.do(http.MethodDelete, "/v2/me/credentials/"+s.CredentialID, nil, s.Token)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	requireError(t, e.do(http.MethodGet, "/v2/me", nil, s.Token), http.StatusUnauthorized, "UNAUTHORIZED")
}

// =================================================================================
// Admin
// =================================================================================

func TestAdminInvites(t *testing.T) {
	e := newEnv(t, nil)
	e.invite("first-user", 1)
	_, admin := e.register("alice", "first-user")

	rec := e.do(http.MethodPost, "/v2/admin/invites", map[string]any{"uses": 2, "ttl": "48h"}, admin.Token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[struct {
		Invite struct {
			Code          string `json:"code"`
			RemainingUses int    `json:"remaining_uses"`
			Status        string `json:"status"`
		} `json:"invite"`
		EmailSent bool `json:"email_sent"`
	}](t, rec)
	assert.Equal(t, 2, created.Invite.RemainingUses)
	assert.Equal(t, "active", created.Invite.Status)
	assert.False(t, created.EmailSent)

	// sin SMTP no se puede pedir envío
	requireError(t, e.do(http.MethodPost, "/v2/admin/invites", map[string]any{"email": "bob@example.com"}, admin.Token),
		http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE")
	requireError(t, e.do(http.MethodPost, "/v2/admin/invites", map[string]any{"ttl": "forever"}, admin.Token),
		http.StatusBadRequest, "VALIDATION_FAILED")

	rec = e.do(http.MethodGet, "/v2/admin/invites?active=true", nil, admin.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Invites []struct {
			Code string `json:"code"`
		} `json:"invites"`
	}](t, rec)
	require.Len(t, list.Invites, 1, "el invite canjeado no está activo")
	assert.Equal(t, created.Invite.Code, list.Invites[0].Code)

	// un miembro no es admin
	_, member := e.register("bob", created.Invite.Code)
	requireError(t, e.do(http.MethodGet, "/v2/admin/invites", nil, member.Token), http.StatusForbidden, "FORBIDDEN")

	rec = e.do(http.MethodDelete, "/v2/admin/invites/"+created.Invite.Code, nil, admin.Token)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	requireError(t, e.do(http.MethodDelete, "/v2/admin/invites/missing-code", nil, admin.Token), http.StatusNotFound, "INVITE_NOT_FOUND")

	requireError(t, e.do(http.MethodPost, "/v2/auth/register/begin", map[string]string{"display_name": "carol", "invite_code": created.Invite.Code}, ""),
		http.StatusBadRequest, "INVITE_INVALID")
}

// =================================================================================
// Transporte
// =================================================================================

func TestRequestHandling(t *testing.T) {
	e := newEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v2/auth/login/begin", bytes.NewBufferString(`{"identifier":`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.app.Handler.ServeHTTP(rec, req)
	requireError(t, rec, http.StatusBadRequest, "INVALID_JSON")

	req = httptest.NewRequest(http.MethodPost, "/v2/auth/login/begin", bytes.NewBufferString(`identifier=x`))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	e.app.Handler.ServeHTTP(rec, req)
	requireError(t, rec, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE")

	big := bytes.NewBufferString(`{"identifier":"`)
	big.Write(bytes.Repeat([]byte("a"), 2<<20))
	big.WriteString(`"}`)
	req = httptest.NewRequest(http.MethodPost, "/v2/auth/login/begin", big)
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	e.app.Handler.ServeHTTP(rec, req)
	requireError(t, rec, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE")

	// campos desconocidos se ignoran
	rec = e.do(http.MethodPost, "/v2/auth/login/begin", map[string]any{"identifier": "", "extra": 1}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, decode[beginResponse](t, rec).AllowedCredentials, "discovery")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	requireError(t, e.do(http.MethodGet, "/v2/nope", nil, ""), http.StatusNotFound, "ROUTE_NOT_FOUND")

	rec = e.do(http.MethodGet, "/readyz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ready", decode[map[string]any](t, rec)["status"])
}

func TestCORSPreflight(t *testing.T) {
	e := newEnv(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/v2/auth/login/begin", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	e.app.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/v2/auth/status", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	e.app.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCeremonyRateLimit(t *testing.T) {
	e := newEnv(t, func(c *config.Config) {
		c.Rate.Ceremony.Limit = 2
		c.Rate.Ceremony.Window = time.Minute
	})

	for i := 0; i < 2; i++ {
		rec := e.do(http.MethodPost, "/v2/auth/login/begin", map[string]string{}, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec := e.do(http.MethodPost, "/v2/auth/login/begin", map[string]string{}, "")
	requireError(t, rec, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED")
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// otro endpoint tiene su propio cupo
	rec = e.do(http.MethodGet, "/v2/auth/status", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
