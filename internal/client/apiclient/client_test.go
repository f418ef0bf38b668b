package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/isdelr/gatekeeper-be/internal/api"
	"github.com/isdelr/gatekeeper-be/internal/auth"
	"github.com/isdelr/gatekeeper-be/internal/client/session"
	"github.com/isdelr/gatekeeper-be/internal/database"
	"github.com/isdelr/gatekeeper-be/internal/models"
	"github.com/isdelr/gatekeeper-be/internal/services"
	"github.com/isdelr/gatekeeper-be/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestServer(t *testing.T) *httptest.Server {
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
	sessions := services.NewSessionService(users, tokens, services.NewSQLBlacklist(db), events, services.SessionOptions{})

	srv := httptest.NewServer(api.NewRouter(api.Options{UsersPerMinute: 3}, hub, sessions, users, events, db))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, url string) *Client {
	t.Helper()
	return New(url+"/api", session.NewStore(session.NewMemoryStorage(), session.Options{}), WithRetries(0))
}

var jane = RegisterRequest{
	Name:                 "Jane",
	Email:                "jane@example.com",
	Password:             "secret123",
	PasswordConfirmation: "secret123",
}

func TestClient_RegisterMeLogout(t *testing.T) {
	srv := newTestServer(t)
	client := newClient(t, srv.URL)
	ctx := context.Background()

	resp, err := client.Register(ctx, jane)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.True(t, client.Store().IsAuthenticated())

	me, err := client.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", me.Email)

	token := client.Store().Token()
	require.NoError(t, client.Logout(ctx))
	assert.False(t, client.Store().IsAuthenticated())

	// The revoked token is rejected and the store is cleared again.
	require.NoError(t, client.Store().Login(me, token))
	_, err = client.Me(ctx)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.False(t, client.Store().IsAuthenticated())
}

func TestClient_LoginErrors(t *testing.T) {
	srv := newTestServer(t)
	client := newClient(t, srv.URL)
	ctx := context.Background()

	_, err := client.Register(ctx, jane)
	require.NoError(t, err)
	require.NoError(t, client.Logout(ctx))

	_, err = client.Login(ctx, "jane@example.com", "wrong-password")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, "The provided credentials do not match our records.", apiErr.Message)
	assert.Contains(t, apiErr.Errors, "email")
	assert.False(t, client.Store().IsAuthenticated())

	_, err = client.Login(ctx, "jane@example.com", "secret123")
	require.NoError(t, err)
	assert.True(t, client.Store().IsAuthenticated())
}

func TestClient_RegisterDuplicate(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, err := newClient(t, srv.URL).Register(ctx, jane)
	require.NoError(t, err)

	_, err = newClient(t, srv.URL).Register(ctx, jane)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, []string{"The email has already been taken."}, apiErr.Errors["email"])
}

func TestClient_Refresh(t *testing.T) {
	srv := newTestServer(t)
	client := newClient(t, srv.URL)
	ctx := context.Background()

	_, err := client.Register(ctx, jane)
	require.NoError(t, err)
	old := client.Store().Token()

	resp, err := client.Refresh(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, old, resp.AccessToken)
	assert.Equal(t, resp.AccessToken, client.Store().Token())

	_, err = client.Me(ctx)
	assert.NoError(t, err)
}

func TestClient_UsersThrottled(t *testing.T) {
	srv := newTestServer(t)
	client := newClient(t, srv.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := client.Users(ctx)
		require.NoError(t, err)
	}

	_, err := client.Users(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Positive(t, apiErr.RetryAfter)
}

func TestClient_UnauthenticatedWithoutToken(t *testing.T) {
	client := New("http://127.0.0.1:0", session.NewStore(session.NewMemoryStorage(), session.Options{}))

	_, err := client.Me(context.Background())
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = client.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.NoError(t, client.Logout(context.Background()))
}

func TestClient_LogoutClearsStoreWhenServerFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := session.NewStore(session.NewMemoryStorage(), session.Options{})
	require.NoError(t, store.Login(janeUser(), "tok"))

	err := New(srv.URL, store).Logout(context.Background())
	assert.Error(t, err)
	assert.False(t, store.IsAuthenticated())
}

func TestClient_RetriesGatewayErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := New(srv.URL, session.NewStore(session.NewMemoryStorage(), session.Options{}), WithRetries(3))
	users, err := client.Users(context.Background())
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryPosts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := New(srv.URL, session.NewStore(session.NewMemoryStorage(), session.Options{}), WithRetries(3))
	_, err := client.Login(context.Background(), "a@x.com", "secret123")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, int32(1), calls.Load())
}

func janeUser() models.User {
	return models.User{ID: "1", Name: "Jane", Email: "jane@example.com"}
}
