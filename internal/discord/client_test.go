package discord

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
	"github.com/M3-org/clanktank-sub000/internal/upstream"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := NewClient(Config{
		ClientID:     "app-id",
		ClientSecret: "app-secret",
		RedirectURI:  "https://clanktank.example/callback",
	}, upstream.NewRegistry())
	c.SetBaseURL(server.URL)
	return c
}

func TestAuthURL(t *testing.T) {
	c := NewClient(Config{ClientID: "app-id", RedirectURI: "https://x/cb"}, upstream.NewRegistry())

	u := c.AuthURL("xyz")
	assert.Contains(t, u, "client_id=app-id")
	assert.Contains(t, u, "state=xyz")
	assert.Contains(t, u, "scope=identify")
}

func TestExchangeCode(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v10/oauth2/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.FormValue("grant_type"))
		assert.Equal(t, "the-code", r.FormValue("code"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-123","token_type":"Bearer"}`))
	}))

	token, err := c.ExchangeCode(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)
}

func TestExchangeCodeRejected(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))

	_, err := c.ExchangeCode(context.Background(), "expired")
	require.Error(t, err)
	assert.True(t, apperr.IsUnauthorized(err))
}

func TestFetchUser(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v10/users/@me", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		w.Write([]byte(`{"id":"111222333","username":"hacker","avatar":"abcdef"}`))
	}))

	id, err := c.FetchUser(context.Background(), "tok-123")
	require.NoError(t, err)
	assert.Equal(t, "111222333", id.ID)
	assert.Equal(t, "hacker", id.Username)
	assert.Equal(t, "abcdef", id.Avatar)
}

func TestFetchUserBadToken(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.FetchUser(context.Background(), "garbage")
	require.Error(t, err)
	assert.True(t, apperr.IsUnauthorized(err))
}

func TestFetchGuildRoles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v10/guilds/G1/members/U1", r.URL.Path)
		assert.Equal(t, "Bot bot-secret", r.Header.Get("Authorization"))
		w.Write([]byte(`{"roles":["mod","holder"],"nick":"x"}`))
	}))
	defer server.Close()

	c := NewClient(Config{
		ClientID:     "app-id",
		ClientSecret: "app-secret",
		BotToken:     "bot-secret",
		GuildID:      "G1",
	}, upstream.NewRegistry())
	c.SetBaseURL(server.URL)

	roles, err := c.FetchGuildRoles(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, []string{"mod", "holder"}, roles)
}

func TestFetchGuildRolesDisabled(t *testing.T) {
	c := NewClient(Config{ClientID: "app-id"}, upstream.NewRegistry())

	roles, err := c.FetchGuildRoles(context.Background(), "U1")
	require.NoError(t, err)
	assert.Nil(t, roles)
}
