// Package discord talks to the Discord OAuth and guild APIs. The API
// surface authenticates bearer tokens against the identity endpoint and
// enriches logged-in users with guild roles when a bot token is
// configured.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
	"github.com/M3-org/clanktank-sub000/internal/upstream"
)

const defaultBaseURL = "https://discord.com"

// Config identifies the OAuth application.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	BotToken     string
	GuildID      string
}

// Identity is the subset of the Discord user object the service keeps.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// Client wraps the OAuth code exchange and the identity lookups used
// to validate bearer tokens.
type Client struct {
	cfg     Config
	oauth   *oauth2.Config
	http    *http.Client
	guard   *upstream.Guard
	baseURL string
}

func NewClient(cfg Config, guards *upstream.Registry) *Client {
	c := &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: 15 * time.Second},
		guard: guards.Guard(upstream.ProviderDiscord),
	}
	c.setBase(defaultBaseURL)
	return c
}

// SetBaseURL points the client at a test server.
func (c *Client) SetBaseURL(base string) { c.setBase(base) }

func (c *Client) setBase(base string) {
	c.baseURL = base
	c.oauth = &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  c.cfg.RedirectURI,
		Scopes:       []string{"identify"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   base + "/oauth2/authorize",
			TokenURL:  base + "/api/v10/oauth2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Enabled reports whether OAuth credentials are configured.
func (c *Client) Enabled() bool {
	return c.cfg.ClientID != "" && c.cfg.ClientSecret != ""
}

// AuthURL builds the authorization URL the frontend redirects to.
func (c *Client) AuthURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// ExchangeCode trades an authorization code for an access token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (string, error) {
	if !c.Enabled() {
		return "", apperr.Upstreamf("discord oauth is not configured")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	res, err := c.guard.Do(ctx, func() (interface{}, error) {
		tok, err := c.oauth.Exchange(ctx, code)
		if err != nil {
			var rerr *oauth2.RetrieveError
			if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode < 500 {
				return nil, apperr.Unauthorizedf("code exchange rejected: %d", rerr.Response.StatusCode)
			}
			return nil, apperr.Upstreamf("code exchange failed: %v", err)
		}
		return tok.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// FetchUser validates an access token against the identity endpoint
// and returns who it belongs to.
func (c *Client) FetchUser(ctx context.Context, accessToken string) (*Identity, error) {
	res, err := c.guard.Do(ctx, func() (interface{}, error) {
		return c.getJSON(ctx, "/api/v10/users/@me", "Bearer "+accessToken)
	})
	if err != nil {
		return nil, err
	}

	var id Identity
	if err := json.Unmarshal(res.([]byte), &id); err != nil {
		return nil, apperr.Upstreamf("identity payload unreadable: %v", err)
	}
	if id.ID == "" {
		return nil, apperr.Unauthorizedf("token resolves to no user")
	}
	return &id, nil
}

// FetchGuildRoles returns a member's role ids in the configured guild.
// Without a bot token or guild id this is a no-op.
func (c *Client) FetchGuildRoles(ctx context.Context, discordID string) ([]string, error) {
	if c.cfg.BotToken == "" || c.cfg.GuildID == "" {
		return nil, nil
	}

	path := fmt.Sprintf("/api/v10/guilds/%s/members/%s", url.PathEscape(c.cfg.GuildID), url.PathEscape(discordID))
	res, err := c.guard.Do(ctx, func() (interface{}, error) {
		return c.getJSON(ctx, path, "Bot "+c.cfg.BotToken)
	})
	if err != nil {
		return nil, err
	}

	var member struct {
		Roles []string `json:"roles"`
	}
	if err := json.Unmarshal(res.([]byte), &member); err != nil {
		return nil, apperr.Upstreamf("member payload unreadable: %v", err)
	}
	return member.Roles, nil
}

func (c *Client) getJSON(ctx context.Context, path, authorization string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", authorization)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Upstreamf("discord request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.Upstreamf("discord response read failed: %v", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperr.Unauthorizedf("discord rejected the token")
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperr.NotFoundf("discord resource %s", path)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: discord throttled", apperr.ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, apperr.Upstreamf("discord returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("discord returned %d", resp.StatusCode)
	}
	return body, nil
}
