package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
	"github.com/M3-org/clanktank-sub000/internal/cache"
	"github.com/M3-org/clanktank-sub000/internal/discord"
	"github.com/M3-org/clanktank-sub000/internal/store"
)

// Validated identities stay cached briefly so a burst of requests from
// one logged-in user hits Discord once.
const identityTTL = time.Minute

// testUserID is the identity behind the test auth token. Only honored
// outside production.
const testUserID = "test-user-1"

type authenticator struct {
	discord    *discord.Client
	store      *store.Store
	cache      cache.Cache
	testToken  string
	production bool
}

// authenticate resolves the bearer token to a user. The token is
// validated against the Discord identity endpoint unless it matches
// the configured test token in a non-production environment.
func (a *authenticator) authenticate(r *http.Request) (*store.User, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, apperr.Unauthorizedf("missing bearer token")
	}

	if a.testToken != "" && !a.production && token == a.testToken {
		return &store.User{DiscordID: testUserID, Username: "test-user"}, nil
	}

	if a.discord == nil || !a.discord.Enabled() {
		return nil, apperr.Unauthorizedf("authentication is not configured")
	}

	key := identityKey(token)
	if raw, ok := a.cache.Get(key); ok {
		var u store.User
		if err := json.Unmarshal(raw, &u); err == nil {
			return &u, nil
		}
	}

	id, err := a.discord.FetchUser(r.Context(), token)
	if err != nil {
		return nil, err
	}

	u := &store.User{DiscordID: id.ID, Username: id.Username, Avatar: id.Avatar}
	if raw, err := json.Marshal(u); err == nil {
		a.cache.Set(key, raw, identityTTL)
	}
	return u, nil
}

// optional resolves the user when a valid token is present and returns
// nil otherwise. Read endpoints use it to decide can_edit without
// demanding login.
func (a *authenticator) optional(r *http.Request) *store.User {
	if bearerToken(r) == "" {
		return nil
	}
	u, err := a.authenticate(r)
	if err != nil {
		return nil
	}
	return u
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// identityKey hashes the token so raw credentials never sit in the
// cache.
func identityKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "auth:" + hex.EncodeToString(sum[:8])
}
