package prizepool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
	"github.com/M3-org/clanktank-sub000/internal/store"
	"github.com/M3-org/clanktank-sub000/internal/upstream"
	"github.com/M3-org/clanktank-sub000/internal/votes"
)

// reconnectDelay is the fixed backoff between stream reconnects.
const reconnectDelay = 5 * time.Second

const recentContributionCount = 10

// metadataTTL bounds how long a cached token descriptor is trusted
// before the asset index is asked again.
const metadataTTL = 24 * time.Hour

// Config identifies the wallet and its display context.
type Config struct {
	Wallet         string
	TargetNative   float64
	GovernanceMint string
	StableMint     string
	APIKey         string
	RESTBase       string
	WSURL          string
}

// Watcher owns the in-memory snapshot. All reads go through Snapshot()
// which returns a copy.
type Watcher struct {
	cfg    Config
	store  *store.Store
	client *http.Client
	guard  *upstream.Guard
	hub    *Hub

	mu       sync.RWMutex
	snapshot Snapshot
}

func NewWatcher(cfg Config, st *store.Store, guards *upstream.Registry) *Watcher {
	if cfg.RESTBase == "" {
		cfg.RESTBase = "https://api.helius.xyz"
	}
	return &Watcher{
		cfg:    cfg,
		store:  st,
		client: &http.Client{Timeout: 30 * time.Second},
		guard:  guards.Guard(upstream.ProviderHelius),
		hub:    NewHub(),
	}
}

// Hub exposes the subscriber registry for the WebSocket endpoint.
func (w *Watcher) Hub() *Hub { return w.hub }

// Snapshot returns a copy of the current state.
func (w *Watcher) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshot.Copy()
}

// Start fetches the initial snapshot and launches the stream loop.
// The loop runs until ctx is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.Refresh(ctx); err != nil {
		return fmt.Errorf("initial prize pool fetch failed: %w", err)
	}
	go w.streamLoop(ctx)
	return nil
}

// Refresh re-fetches wallet holdings, swaps the snapshot, and
// broadcasts it.
func (w *Watcher) Refresh(ctx context.Context) error {
	snapshot, err := w.fetchSnapshot(ctx)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.snapshot = snapshot
	w.mu.Unlock()

	w.hub.Broadcast(snapshot)
	log.Debug().
		Float64("total_native", snapshot.TotalNative).
		Int("tokens", len(snapshot.Tokens)).
		Msg("prize pool snapshot refreshed")
	return nil
}

// balancesResponse is the asset-index API shape.
type balancesResponse struct {
	NativeBalance int64 `json:"nativeBalance"`
	Tokens        []struct {
		Mint     string  `json:"mint"`
		Amount   float64 `json:"amount"`
		Decimals int     `json:"decimals"`
	} `json:"tokens"`
}

func (w *Watcher) fetchSnapshot(ctx context.Context) (Snapshot, error) {
	var body balancesResponse
	_, err := w.guard.Do(ctx, func() (interface{}, error) {
		u := fmt.Sprintf("%s/v0/addresses/%s/balances?api-key=%s", w.cfg.RESTBase, w.cfg.Wallet, w.cfg.APIKey)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		resp, err := w.client.Do(req)
		if err != nil {
			return nil, apperr.Upstreamf("balance fetch failed: %v", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, apperr.Upstreamf("balance response read failed: %v", err)
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("%w: asset index throttled", apperr.ErrRateLimited)
		case resp.StatusCode >= 500:
			return nil, apperr.Upstreamf("asset index returned %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("asset index returned %d", resp.StatusCode)
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, apperr.Upstreamf("asset index payload unreadable: %v", err)
		}
		return nil, nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	held := make(map[string]int)
	for _, t := range body.Tokens {
		if t.Amount > 0 {
			held[t.Mint] = t.Decimals
		}
	}
	w.refreshMetadata(ctx, held)

	snapshot := Snapshot{
		TotalNative:  float64(body.NativeBalance) / 1e9,
		TargetNative: w.cfg.TargetNative,
		UpdatedAt:    time.Now().UTC(),
	}

	if snapshot.TotalNative > 0 {
		snapshot.Tokens = append(snapshot.Tokens, TokenBalance{
			Mint:     votes.NativeMint,
			Symbol:   "SOL",
			Amount:   snapshot.TotalNative,
			Decimals: 9,
		})
	}
	for _, t := range body.Tokens {
		if t.Amount <= 0 {
			continue
		}
		tb := TokenBalance{
			Mint:     t.Mint,
			Amount:   t.Amount / math.Pow10(t.Decimals),
			Decimals: t.Decimals,
		}
		tb.Symbol, tb.Logo = w.describeMint(ctx, t.Mint)
		snapshot.Tokens = append(snapshot.Tokens, tb)
	}
	sortTokens(snapshot.Tokens, w.cfg.GovernanceMint, w.cfg.StableMint)

	if w.store != nil {
		recent, err := w.store.ListContributions(ctx, recentContributionCount)
		if err != nil {
			log.Warn().Err(err).Msg("recent contributions unavailable for snapshot")
		} else {
			snapshot.RecentContributions = recent
		}
	}

	return snapshot, nil
}

// refreshMetadata re-resolves descriptors for held mints that are
// missing from the cache or older than metadataTTL. Failures are
// swallowed, the snapshot still renders with shortened addresses.
func (w *Watcher) refreshMetadata(ctx context.Context, held map[string]int) {
	if w.store == nil || len(held) == 0 {
		return
	}

	var stale []string
	for mint := range held {
		meta, err := w.store.GetTokenMetadata(ctx, mint)
		if err == nil && time.Since(meta.LastUpdated) < metadataTTL {
			continue
		}
		stale = append(stale, mint)
	}
	if len(stale) == 0 {
		return
	}

	descriptors, err := w.fetchMetadata(ctx, stale)
	if err != nil {
		log.Debug().Err(err).Int("mints", len(stale)).Msg("token metadata fetch failed")
		return
	}
	for _, meta := range descriptors {
		meta.Decimals = held[meta.Mint]
		if err := w.store.UpsertTokenMetadata(ctx, &meta); err != nil {
			log.Warn().Err(err).Str("mint", meta.Mint).Msg("token metadata write failed")
		}
	}
}

// fetchMetadata batch-resolves mint descriptors from the asset index.
// On-chain fields win over legacy ones, and the NUL padding on-chain
// strings carry is stripped.
func (w *Watcher) fetchMetadata(ctx context.Context, mints []string) ([]store.TokenMetadata, error) {
	var descriptors []store.TokenMetadata
	_, err := w.guard.Do(ctx, func() (interface{}, error) {
		payload, err := json.Marshal(map[string][]string{"mintAccounts": mints})
		if err != nil {
			return nil, err
		}
		u := fmt.Sprintf("%s/v0/token-metadata?api-key=%s", w.cfg.RESTBase, w.cfg.APIKey)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := w.client.Do(req)
		if err != nil {
			return nil, apperr.Upstreamf("metadata fetch failed: %v", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, apperr.Upstreamf("metadata response read failed: %v", err)
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("%w: asset index throttled", apperr.ErrRateLimited)
		case resp.StatusCode >= 500:
			return nil, apperr.Upstreamf("asset index returned %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("asset index returned %d", resp.StatusCode)
		}

		var body []struct {
			Account         string `json:"account"`
			OnChainMetadata struct {
				Metadata struct {
					Data struct {
						Name   string `json:"name"`
						Symbol string `json:"symbol"`
					} `json:"data"`
				} `json:"metadata"`
			} `json:"onChainMetadata"`
			OffChainMetadata struct {
				Metadata struct {
					Image string `json:"image"`
				} `json:"metadata"`
			} `json:"offChainMetadata"`
			LegacyMetadata struct {
				Symbol  string `json:"symbol"`
				Name    string `json:"name"`
				LogoURI string `json:"logoURI"`
			} `json:"legacyMetadata"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, apperr.Upstreamf("metadata payload unreadable: %v", err)
		}

		for _, entry := range body {
			meta := store.TokenMetadata{
				Mint:    entry.Account,
				Symbol:  trimChainString(entry.OnChainMetadata.Metadata.Data.Symbol),
				Name:    trimChainString(entry.OnChainMetadata.Metadata.Data.Name),
				LogoURI: entry.OffChainMetadata.Metadata.Image,
			}
			if meta.Symbol == "" {
				meta.Symbol = entry.LegacyMetadata.Symbol
			}
			if meta.Name == "" {
				meta.Name = entry.LegacyMetadata.Name
			}
			if meta.LogoURI == "" {
				meta.LogoURI = entry.LegacyMetadata.LogoURI
			}
			if meta.Mint == "" || meta.Symbol == "" {
				continue
			}
			descriptors = append(descriptors, meta)
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return descriptors, nil
}

func trimChainString(s string) string {
	return strings.TrimSpace(strings.Trim(s, "\x00"))
}

// describeMint resolves symbol and logo from the metadata cache. An
// unknown mint displays as its shortened address.
func (w *Watcher) describeMint(ctx context.Context, mint string) (symbol, logo string) {
	if w.store != nil {
		if meta, err := w.store.GetTokenMetadata(ctx, mint); err == nil {
			return meta.Symbol, meta.LogoURI
		}
	}
	return shortMint(mint), ""
}

func shortMint(mint string) string {
	if len(mint) <= 8 {
		return mint
	}
	return mint[:4] + ".." + mint[len(mint)-4:]
}

// streamLoop keeps a transaction-stream subscription alive, refreshing
// the snapshot whenever an event touches the wallet. Disconnects
// retry on a fixed delay while the context lives.
func (w *Watcher) streamLoop(ctx context.Context) {
	if w.cfg.WSURL == "" {
		log.Warn().Msg("no stream URL configured, prize pool updates rely on webhook refreshes")
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}

		if err := w.streamOnce(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Dur("retry_in", reconnectDelay).Msg("prize pool stream disconnected")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (w *Watcher) streamOnce(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 30 * time.Second

	conn, _, err := dialer.DialContext(ctx, w.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("stream dial failed: %w", err)
	}
	defer conn.Close()

	sub := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "logsSubscribe",
		"params": []interface{}{
			map[string]interface{}{"mentions": []string{w.cfg.Wallet}},
			map[string]interface{}{"commitment": "confirmed"},
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("stream subscribe failed: %w", err)
	}
	log.Info().Str("wallet", w.cfg.Wallet).Msg("prize pool stream subscribed")

	// Drop the connection when the context dies so ReadMessage wakes.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var frame struct {
			Method string `json:"method"`
		}
		if err := json.Unmarshal(message, &frame); err != nil || frame.Method != "logsNotification" {
			continue
		}

		if err := w.Refresh(ctx); err != nil {
			log.Warn().Err(err).Msg("snapshot refresh after stream event failed")
		}
	}
}
