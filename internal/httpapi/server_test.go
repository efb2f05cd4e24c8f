package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M3-org/clanktank-sub000/internal/config"
	"github.com/M3-org/clanktank-sub000/internal/discord"
	"github.com/M3-org/clanktank-sub000/internal/prizepool"
	"github.com/M3-org/clanktank-sub000/internal/schema"
	"github.com/M3-org/clanktank-sub000/internal/upstream"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment:   config.EnvDevelopment,
		TestAuthToken: "test-token",
		UploadsDir:    t.TempDir(),
		BackupsDir:    t.TempDir(),
	}
}

func pastDeadline() time.Time {
	return time.Now().Add(-time.Hour)
}

func newTestServer(t *testing.T, cfg *config.Config, deps Deps) *Server {
	t.Helper()
	if cfg == nil {
		cfg = testConfig(t)
	}
	if deps.Schemas == nil {
		deps.Schemas = schema.DefaultRegistry()
	}
	if deps.Guards == nil {
		deps.Guards = upstream.NewRegistry()
	}
	return NewServer(cfg, deps)
}

func doJSON(t *testing.T, s *Server, method, path, body string, header map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	decoded := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), "body: %s", rec.Body.String())
	}
	return rec, decoded
}

func TestVersionedWritesAreGone(t *testing.T) {
	s := newTestServer(t, nil, Deps{})

	rec, body := doJSON(t, s, http.MethodPost, "/api/v1/submissions", `{"project_name":"x"}`, nil)
	require.Equal(t, http.StatusGone, rec.Code)
	assert.Contains(t, body["message"], "/api/submissions")

	rec, _ = doJSON(t, s, http.MethodPut, "/api/v2/submissions/some-id", `{}`, nil)
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestVersionedReadsStillRoute(t *testing.T) {
	s := newTestServer(t, nil, Deps{})

	// No store behind the handler, but the route must resolve to the
	// v1 mount rather than the 410 or the 404 handler.
	rec, body := doJSON(t, s, http.MethodGet, "/api/v1/submission-schema", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v1", body["version"])
}

func TestConfigEndpoint(t *testing.T) {
	s := newTestServer(t, nil, Deps{})

	rec, body := doJSON(t, s, http.MethodGet, "/api/config", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "development", body["environment"])
	assert.Equal(t, true, body["submissions_open"])
	assert.Equal(t, "v2", body["latest_version"])
	assert.Equal(t, false, body["discord_login"])
	assert.NotContains(t, body, "submission_deadline")
}

func TestConfigClosedWindow(t *testing.T) {
	cfg := testConfig(t)
	cfg.SubmissionDeadline = pastDeadline()
	s := newTestServer(t, cfg, Deps{})

	rec, body := doJSON(t, s, http.MethodGet, "/api/config", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["submissions_open"])
	assert.Contains(t, body, "submission_deadline")
}

func TestCreateSubmissionClosedWindow(t *testing.T) {
	cfg := testConfig(t)
	cfg.SubmissionDeadline = pastDeadline()
	s := newTestServer(t, cfg, Deps{})

	// The window check runs before decode and storage, so no store is
	// needed to observe the rejection.
	rec, body := doJSON(t, s, http.MethodPost, "/api/submissions", `{"project_name":"late"}`, map[string]string{
		"Authorization": "Bearer test-token",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, body["message"], "submission window closed")
}

func TestSubmissionSchemaEndpoint(t *testing.T) {
	s := newTestServer(t, nil, Deps{})

	rec, body := doJSON(t, s, http.MethodGet, "/api/submission-schema", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v2", body["version"], "alias mount serves the latest version")

	fields, ok := body["fields"].([]interface{})
	require.True(t, ok)
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.(map[string]interface{})["name"].(string))
	}
	assert.Contains(t, names, "project_name")
	assert.Contains(t, names, "solana_address")
	assert.NotEmpty(t, body["categories"])
}

func TestHealthDegradedWithoutStore(t *testing.T) {
	s := newTestServer(t, nil, Deps{})

	rec, body := doJSON(t, s, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "not configured", body["database"])
	assert.Contains(t, body, "providers")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil, Deps{})

	rec, _ := doJSON(t, s, http.MethodGet, "/api/config", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	mrec := httptest.NewRecorder()
	s.Router().ServeHTTP(mrec, req)

	require.Equal(t, http.StatusOK, mrec.Code)
	assert.Contains(t, mrec.Body.String(), "clanktank_ws_clients")
	assert.Contains(t, mrec.Body.String(), "clanktank_http_requests_total")
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t, nil, Deps{})

	rec, _ := doJSON(t, s, http.MethodGet, "/api/config", "", nil)
	assert.Len(t, rec.Header().Get("X-Request-ID"), 8)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil, Deps{})

	req := httptest.NewRequest(http.MethodOptions, "/api/config", nil)
	req.Header.Set("Origin", "https://hackathon.example")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://hackathon.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestNotFoundIsJSON(t *testing.T) {
	s := newTestServer(t, nil, Deps{})

	rec, body := doJSON(t, s, http.MethodGet, "/api/no-such-thing", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", body["error"])
}

func TestAuthMeWithTestToken(t *testing.T) {
	s := newTestServer(t, nil, Deps{})

	rec, body := doJSON(t, s, http.MethodGet, "/api/auth/discord/me", "", map[string]string{
		"Authorization": "Bearer test-token",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testUserID, body["discord_id"])
}

func TestAuthMeRejections(t *testing.T) {
	t.Run("no token", func(t *testing.T) {
		s := newTestServer(t, nil, Deps{})
		rec, _ := doJSON(t, s, http.MethodGet, "/api/auth/discord/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong token without discord", func(t *testing.T) {
		s := newTestServer(t, nil, Deps{})
		rec, _ := doJSON(t, s, http.MethodGet, "/api/auth/discord/me", "", map[string]string{
			"Authorization": "Bearer nope",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("test token ignored in production", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Environment = config.EnvProduction
		s := newTestServer(t, cfg, Deps{})
		rec, _ := doJSON(t, s, http.MethodGet, "/api/auth/discord/me", "", map[string]string{
			"Authorization": "Bearer test-token",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestAuthLoginNotConfigured(t *testing.T) {
	s := newTestServer(t, nil, Deps{})

	rec, _ := doJSON(t, s, http.MethodGet, "/api/auth/discord/login", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuthLoginAndCallback(t *testing.T) {
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v10/oauth2/token":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"access_token":"tok-1","token_type":"Bearer"}`)
		case "/api/v10/users/@me":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id":"u1","username":"alice","avatar":"av"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer fake.Close()

	guards := upstream.NewRegistry()
	dc := discord.NewClient(discord.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "https://app.example/callback",
	}, guards)
	dc.SetBaseURL(fake.URL)

	s := newTestServer(t, nil, Deps{Discord: dc, Guards: guards})

	rec, body := doJSON(t, s, http.MethodGet, "/api/auth/discord/login?state=abc123", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	authURL, _ := body["url"].(string)
	assert.Contains(t, authURL, "client_id=client-id")
	assert.Contains(t, authURL, "state=abc123")

	rec, body = doJSON(t, s, http.MethodPost, "/api/auth/discord/callback", `{"code":"the-code"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %v", body)
	assert.Equal(t, "tok-1", body["access_token"])

	user, ok := body["user"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "u1", user["discord_id"])
	assert.Equal(t, "alice", user["username"])
}

func TestAuthCallbackNeedsCode(t *testing.T) {
	guards := upstream.NewRegistry()
	dc := discord.NewClient(discord.Config{ClientID: "id", ClientSecret: "secret"}, guards)
	s := newTestServer(t, nil, Deps{Discord: dc, Guards: guards})

	rec, _ := doJSON(t, s, http.MethodPost, "/api/auth/discord/callback", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWriteRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimitEnabled = true
	s := newTestServer(t, cfg, Deps{})

	// The bucket is charged before auth, so five unauthenticated posts
	// from one IP drain it.
	for i := 0; i < writeRateBurst; i++ {
		rec, _ := doJSON(t, s, http.MethodPost, "/api/submissions", `{}`, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "request %d", i+1)
	}

	rec, _ := doJSON(t, s, http.MethodPost, "/api/submissions", `{}`, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRateLimitDisabled(t *testing.T) {
	s := newTestServer(t, nil, Deps{})

	for i := 0; i < writeRateBurst+3; i++ {
		rec, _ := doJSON(t, s, http.MethodPost, "/api/submissions", `{}`, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestWebhookSecretRequired(t *testing.T) {
	cfg := testConfig(t)
	cfg.WebhookSecret = "hook-secret"
	s := newTestServer(t, cfg, Deps{})

	rec, _ := doJSON(t, s, http.MethodPost, "/webhook/helius", `[]`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = doJSON(t, s, http.MethodPost, "/webhook/helius", `[]`, map[string]string{
		"Authorization": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The right secret clears auth; the missing ingestor answers 503.
	rec, _ = doJSON(t, s, http.MethodPost, "/webhook/helius", `[]`, map[string]string{
		"Authorization": "hook-secret",
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebhookWithoutSecret(t *testing.T) {
	t.Run("development accepts", func(t *testing.T) {
		s := newTestServer(t, nil, Deps{})
		rec, _ := doJSON(t, s, http.MethodPost, "/webhook/helius", `[]`, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "auth passed, ingestor missing")
	})

	t.Run("production rejects", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Environment = config.EnvProduction
		s := newTestServer(t, cfg, Deps{})
		rec, _ := doJSON(t, s, http.MethodPost, "/webhook/helius", `[]`, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestTestWebhookHiddenInProduction(t *testing.T) {
	cfg := testConfig(t)
	cfg.Environment = config.EnvProduction
	s := newTestServer(t, cfg, Deps{})

	rec, _ := doJSON(t, s, http.MethodPost, "/webhook/helius-test", `[]`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s = newTestServer(t, nil, Deps{})
	rec, _ = doJSON(t, s, http.MethodPost, "/webhook/helius-test", `[]`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "visible outside production")
}

func TestPrizePoolWithoutWatcher(t *testing.T) {
	s := newTestServer(t, nil, Deps{})

	rec, _ := doJSON(t, s, http.MethodGet, "/api/prize-pool", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// fakeBalances serves the minimal helius balances shape the watcher
// reads.
func fakeBalances(t *testing.T, lamports int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"nativeBalance":%d,"tokens":[]}`, lamports)
	}))
}

func TestPrizePoolSnapshot(t *testing.T) {
	balances := fakeBalances(t, 2_500_000_000)
	defer balances.Close()

	guards := upstream.NewRegistry()
	watcher := prizepool.NewWatcher(prizepool.Config{
		Wallet:       "PrizeWallet",
		TargetNative: 100,
		RESTBase:     balances.URL,
	}, nil, guards)
	s := newTestServer(t, nil, Deps{Watcher: watcher, Guards: guards})

	require.NoError(t, watcher.Refresh(context.Background()))

	rec, body := doJSON(t, s, http.MethodGet, "/api/prize-pool", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 2.5, body["total_native"], 1e-9)
	assert.InDelta(t, 100.0, body["target_native"], 1e-9)
}

func TestPrizePoolWebSocket(t *testing.T) {
	balances := fakeBalances(t, 7_000_000_000)
	defer balances.Close()

	guards := upstream.NewRegistry()
	watcher := prizepool.NewWatcher(prizepool.Config{
		Wallet:   "PrizeWallet",
		RESTBase: balances.URL,
	}, nil, guards)
	s := newTestServer(t, nil, Deps{Watcher: watcher, Guards: guards})
	require.NoError(t, watcher.Refresh(context.Background()))

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/prize-pool"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snapshot prizepool.Snapshot
	require.NoError(t, conn.ReadJSON(&snapshot), "first frame is the current snapshot")
	assert.InDelta(t, 7.0, snapshot.TotalNative, 1e-9)

	// A refresh fans out to connected clients.
	require.NoError(t, watcher.Refresh(context.Background()))
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.InDelta(t, 7.0, snapshot.TotalNative, 1e-9)
}

func TestUploadRequiresAuth(t *testing.T) {
	s := newTestServer(t, nil, Deps{})

	rec, _ := doJSON(t, s, http.MethodPost, "/api/upload-image", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServeUploadRejectsBadNames(t *testing.T) {
	s := newTestServer(t, nil, Deps{})

	rec, _ := doJSON(t, s, http.MethodGet, "/api/uploads/evil..name.jpg", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, s, http.MethodGet, "/api/uploads/missing.jpg", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
