package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"github.com/isdelr/gatekeeper-be/internal/auth"
	"github.com/isdelr/gatekeeper-be/internal/database"
	"github.com/isdelr/gatekeeper-be/internal/services"
	"github.com/isdelr/gatekeeper-be/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	db, err := database.New("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))

	hub := websocket.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	users, err := services.NewUserService(db, bcrypt.MinCost)
	require.NoError(t, err)
	events := services.NewEventService(db)
	tokens := auth.NewTokenManager([]byte("test-secret"), time.Hour, "gatekeeper")
	sessions := services.NewSessionService(users, tokens, services.NewSQLBlacklist(db), events, services.SessionOptions{
		Notifier: hub,
		Revoked:  websocket.NewSessionRevokedMessage,
	})

	return NewRouter(Options{AllowedOrigins: []string{"*"}, UsersPerMinute: 3}, hub, sessions, users, events, db)
}

func do(t *testing.T, h http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

var registration = map[string]string{
	"name":                  "A",
	"email":                 "a@x.com",
	"password":              "secret123",
	"password_confirmation": "secret123",
}

func register(t *testing.T, h http.Handler) string {
	t.Helper()
	w := do(t, h, http.MethodPost, "/register", "", registration)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)["access_token"].(string)
}

func TestRegisterMeLogoutFlow(t *testing.T) {
	h := newTestRouter(t)

	w := do(t, h, http.MethodPost, "/register", "", registration)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "User successfully registered.", body["message"])
	assert.Equal(t, "Bearer", body["token_type"])
	assert.Equal(t, float64(3600), body["expires_in"])
	user := body["user"].(map[string]interface{})
	assert.Equal(t, "a@x.com", user["email"])
	assert.NotContains(t, user, "password")
	assert.NotContains(t, user, "password_hash")
	token := body["access_token"].(string)
	require.NotEmpty(t, token)

	w = do(t, h, http.MethodGet, "/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a@x.com", decode(t, w)["email"])

	w = do(t, h, http.MethodPost, "/logout", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Successfully logged out.", decode(t, w)["message"])

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/me"},
		{http.MethodPost, "/logout"},
		{http.MethodPost, "/refresh"},
		{http.MethodGet, "/me/events"},
	} {
		w = do(t, h, route.method, route.path, token, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, route.path)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	h := newTestRouter(t)
	register(t, h)

	w := do(t, h, http.MethodPost, "/register", "", registration)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	errs := decode(t, w)["errors"].(map[string]interface{})
	assert.Contains(t, errs, "email")
}

func TestRegister_FieldErrors(t *testing.T) {
	h := newTestRouter(t)

	w := do(t, h, http.MethodPost, "/register", "", map[string]string{
		"email":                 "bad",
		"password":              "short",
		"password_confirmation": "other",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.NotEmpty(t, body["message"])
	errs := body["errors"].(map[string]interface{})
	assert.Contains(t, errs, "name")
	assert.Contains(t, errs, "email")
	assert.Contains(t, errs, "password")
}

func TestRegister_PasswordTooLongForBcrypt(t *testing.T) {
	h := newTestRouter(t)

	long := strings.Repeat("a", 80)
	w := do(t, h, http.MethodPost, "/register", "", map[string]string{
		"name":                  "A",
		"email":                 "a@x.com",
		"password":              long,
		"password_confirmation": long,
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	errs := decode(t, w)["errors"].(map[string]interface{})
	assert.Equal(t, []interface{}{"the password may not be greater than 72 bytes"}, errs["password"])
}

func TestRegister_MalformedBody(t *testing.T) {
	h := newTestRouter(t)

	r := httptest.NewRequest(http.MethodPost, "/register", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogin_NoEnumerationLeak(t *testing.T) {
	h := newTestRouter(t)
	register(t, h)

	wrong := do(t, h, http.MethodPost, "/login", "", map[string]string{"email": "a@x.com", "password": "wrong-password"})
	unknown := do(t, h, http.MethodPost, "/login", "", map[string]string{"email": "nobody@x.com", "password": "wrong-password"})

	assert.Equal(t, http.StatusUnprocessableEntity, wrong.Code)
	assert.Equal(t, wrong.Code, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
	assert.Equal(t, "The provided credentials do not match our records.", decode(t, wrong)["message"])
}

func TestLogin_Success(t *testing.T) {
	h := newTestRouter(t)
	register(t, h)

	w := do(t, h, http.MethodPost, "/login", "", map[string]string{"email": "A@X.com", "password": "secret123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.NotContains(t, body, "message")
	token := body["access_token"].(string)

	w = do(t, h, http.MethodGet, "/me", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRefresh_RotatesToken(t *testing.T) {
	h := newTestRouter(t)
	token := register(t, h)

	w := do(t, h, http.MethodPost, "/refresh", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	fresh := decode(t, w)["access_token"].(string)
	assert.NotEqual(t, token, fresh)

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/me", token, nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/me", fresh, nil).Code)
}

func TestCookieFallback(t *testing.T) {
	h := newTestRouter(t)
	token := register(t, h)

	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.AddCookie(&http.Cookie{Name: auth.TokenCookie, Value: token})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUsers_Throttled(t *testing.T) {
	h := newTestRouter(t)
	register(t, h)

	for i := 0; i < 3; i++ {
		w := do(t, h, http.MethodGet, "/users", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var users []map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &users))
		assert.Len(t, users, 1)
	}

	w := do(t, h, http.MethodGet, "/api/users", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestEvents_ForCurrentUser(t *testing.T) {
	h := newTestRouter(t)
	token := register(t, h)

	w := do(t, h, http.MethodGet, "/me/events?limit=5", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, services.EventRegister, events[0]["type"])
}

func TestAPIPrefix(t *testing.T) {
	h := newTestRouter(t)

	w := do(t, h, http.MethodPost, "/api/register", "", registration)
	require.Equal(t, http.StatusCreated, w.Code)
	token := decode(t, w)["access_token"].(string)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/me", token, nil).Code)
}

func TestHealthz(t *testing.T) {
	h := newTestRouter(t)

	w := do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestWebSocket_PushesSessionRevoked(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(t))
	defer srv.Close()

	first := register(t, srv.Config.Handler)
	w := do(t, srv.Config.Handler, http.MethodPost, "/login", "", map[string]string{
		"email":    registration["email"],
		"password": registration["password"],
	})
	require.Equal(t, http.StatusOK, w.Code)
	second := decode(t, w)["access_token"].(string)

	header := http.Header{"Authorization": []string{"Bearer " + second}}
	conn, _, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", header)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	// A pong proves the connection is registered with the hub.
	require.NoError(t, conn.WriteJSON(map[string]string{"action": "ping"}))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "pong", msg["action"])

	firstClaims, err := auth.NewTokenManager([]byte("test-secret"), time.Hour, "gatekeeper").Parse(first)
	require.NoError(t, err)

	w = do(t, srv.Config.Handler, http.MethodPost, "/logout", first, nil)
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "session.revoked", msg["action"])
	payload := msg["payload"].(map[string]interface{})
	assert.Equal(t, firstClaims.ID, payload["jti"])
	assert.Equal(t, "logout", payload["reason"])

	// This connection was opened with a different token and stays up.
	require.NoError(t, conn.WriteJSON(map[string]string{"action": "ping"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "pong", msg["action"])
}

func TestWebSocket_ClosedWhenItsTokenIsRevoked(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(t))
	defer srv.Close()

	token := register(t, srv.Config.Handler)
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, _, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", header)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg map[string]interface{}
	require.NoError(t, conn.WriteJSON(map[string]string{"action": "ping"}))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "pong", msg["action"])

	w := do(t, srv.Config.Handler, http.MethodPost, "/logout", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "session.revoked", msg["action"])

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, gorillaws.IsCloseError(err, gorillaws.CloseNoStatusReceived), "got %v", err)
}

func TestWebSocket_RequiresToken(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(t))
	defer srv.Close()

	_, resp, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
