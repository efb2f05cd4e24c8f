package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/M3-org/clanktank-sub000/internal/cache"
	"github.com/M3-org/clanktank-sub000/internal/config"
	"github.com/M3-org/clanktank-sub000/internal/discord"
	"github.com/M3-org/clanktank-sub000/internal/httpapi"
	"github.com/M3-org/clanktank-sub000/internal/prizepool"
	"github.com/M3-org/clanktank-sub000/internal/votes"
)

const (
	shutdownGrace = 10 * time.Second

	// pollInterval is how often vote history is re-polled. The webhook
	// is the fast path; polling backstops dropped deliveries.
	pollInterval = 5 * time.Minute
)

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if host, _ := cmd.Flags().GetString("host"); host != "" {
		a.cfg.HTTPHost = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		a.cfg.HTTPPort = port
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Apply the schema on boot so a fresh database just works.
	if err := a.store.Migrate(ctx); err != nil {
		return err
	}

	holders := a.holders()
	ingestor := votes.NewIngestor(a.store, votes.Config{
		PrizeWallet:    a.cfg.PrizeWallet,
		GovernanceMint: a.cfg.GovernanceMint,
		VoteMinimum:    a.cfg.VoteMinimum,
		VoteCap:        a.cfg.VoteCap,
	}, holders)

	var watcher *prizepool.Watcher
	if a.cfg.PrizeWallet != "" {
		watcher = prizepool.NewWatcher(prizepool.Config{
			Wallet:         a.cfg.PrizeWallet,
			TargetNative:   a.cfg.PrizeTargetSOL,
			GovernanceMint: a.cfg.GovernanceMint,
			StableMint:     a.cfg.ReserveStableMint,
			APIKey:         a.cfg.HeliusAPIKey,
			RESTBase:       a.cfg.HeliusAPIBase,
			WSURL:          heliusWSURL(a.cfg),
		}, a.store, a.guards)
		if err := watcher.Start(ctx); err != nil {
			// The API should not stay down for a balance fetch.
			log.Warn().Err(err).Msg("prize pool watcher start failed, retrying in background")
			go retryWatcherStart(ctx, watcher)
		}
	} else {
		log.Info().Msg("no prize wallet configured, prize pool endpoints disabled")
	}

	dc := discord.NewClient(discord.Config{
		ClientID:     a.cfg.DiscordClientID,
		ClientSecret: a.cfg.DiscordClientSecret,
		RedirectURI:  a.cfg.DiscordRedirectURI,
		BotToken:     a.cfg.DiscordBotToken,
		GuildID:      a.cfg.DiscordGuildID,
	}, a.guards)

	srv := httpapi.NewServer(a.cfg, httpapi.Deps{
		Store:    a.store,
		Schemas:  a.schemas,
		Discord:  dc,
		Watcher:  watcher,
		Ingestor: ingestor,
		Holders:  holders,
		Cache:    cache.NewAuto(a.cfg.RedisAddr),
		Guards:   a.guards,
	})

	if a.cfg.HeliusAPIKey != "" && a.cfg.PrizeWallet != "" {
		poller := votes.NewPoller(ingestor, a.cfg.HeliusAPIKey, a.guards)
		poller.SetBaseURL(a.cfg.HeliusAPIBase)
		go pollLoop(ctx, poller, watcher)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func retryWatcherStart(ctx context.Context, watcher *prizepool.Watcher) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := watcher.Start(ctx); err != nil {
			log.Debug().Err(err).Msg("prize pool watcher retry failed")
			continue
		}
		log.Info().Msg("prize pool watcher started")
		return
	}
}

// heliusWSURL appends the API key to the stream endpoint when one is
// configured.
func heliusWSURL(cfg *config.Config) string {
	if cfg.HeliusAPIKey == "" {
		return cfg.HeliusWSURL
	}
	return cfg.HeliusWSURL + "/?api-key=" + cfg.HeliusAPIKey
}

func pollLoop(ctx context.Context, poller *votes.Poller, watcher *prizepool.Watcher) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stats, err := poller.Poll(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("vote history poll failed")
			continue
		}
		if stats.Votes == 0 && stats.Donations == 0 {
			continue
		}
		log.Info().
			Int("votes", stats.Votes).
			Int("donations", stats.Donations).
			Int("duplicates", stats.Duplicates).
			Msg("history poll ingested transactions")
		if watcher != nil {
			refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if err := watcher.Refresh(refreshCtx); err != nil {
				log.Debug().Err(err).Msg("prize pool refresh after poll failed")
			}
			cancel()
		}
	}
}
