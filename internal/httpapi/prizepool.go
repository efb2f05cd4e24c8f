package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
	"github.com/M3-org/clanktank-sub000/internal/votes"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

func (s *Server) handlePrizePool(w http.ResponseWriter, r *http.Request) {
	if s.watcher == nil {
		s.writeErr(w, r, apperr.Upstreamf("prize pool watcher is not running"))
		return
	}
	s.writeJSON(w, http.StatusOK, s.watcher.Snapshot())
}

// handlePrizePoolWS streams full snapshots: one on connect, one per
// change. Client messages are read and discarded to keep the
// connection's control frames flowing.
func (s *Server) handlePrizePoolWS(w http.ResponseWriter, r *http.Request) {
	if s.watcher == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "prize pool watcher is not running")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	s.metrics.WSClients.Inc()
	s.wsClients.Add(1)
	defer func() {
		s.metrics.WSClients.Dec()
		s.wsClients.Add(-1)
	}()

	updates, cancel := s.watcher.Hub().Subscribe()
	defer cancel()

	// Reader goroutine: discard client messages, notice disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(v interface{}) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(v)
	}
	if err := send(s.watcher.Snapshot()); err != nil {
		return
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case snapshot, ok := <-updates:
			if !ok {
				return
			}
			if err := send(snapshot); err != nil {
				log.Debug().Err(err).Msg("websocket send failed, dropping client")
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// verifyWebhookSecret checks the shared-secret header. With a secret
// configured the header must match; without one, only non-production
// environments accept the call.
func (s *Server) verifyWebhookSecret(r *http.Request) error {
	if s.cfg.WebhookSecret == "" {
		if s.cfg.IsProduction() {
			return apperr.Unauthorizedf("webhook secret is not configured")
		}
		return nil
	}

	header := r.Header.Get("Authorization")
	if subtle.ConstantTimeCompare([]byte(header), []byte(s.cfg.WebhookSecret)) != 1 {
		return apperr.Unauthorizedf("webhook authorization mismatch")
	}
	return nil
}

// handleWebhook ingests enhanced transaction events. The response goes
// out only after every derived row is persisted.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.verifyWebhookSecret(r); err != nil {
		if s.store != nil {
			s.store.Audit(r.Context(), "security_webhook_rejected", "", "", map[string]string{"ip": clientIP(r)})
		}
		s.writeErr(w, r, err)
		return
	}
	s.processWebhookEvents(w, r)
}

// handleTestWebhook mirrors the webhook without authentication for
// local integration testing. Production hides it entirely.
func (s *Server) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	if s.cfg.IsProduction() {
		s.writeError(w, r, http.StatusNotFound, "no such endpoint")
		return
	}
	s.processWebhookEvents(w, r)
}

func (s *Server) processWebhookEvents(w http.ResponseWriter, r *http.Request) {
	if s.ingestor == nil {
		s.writeErr(w, r, apperr.Upstreamf("vote ingestion is not configured"))
		return
	}

	var events []votes.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<20)).Decode(&events); err != nil {
		s.writeErr(w, r, apperr.Validationf("webhook payload unreadable: %v", err))
		return
	}

	summary := struct {
		Processed  int `json:"processed"`
		Votes      int `json:"votes"`
		Donations  int `json:"donations"`
		Duplicates int `json:"duplicates"`
		Skipped    int `json:"skipped"`
		Failed     int `json:"failed"`
	}{}

	for i := range events {
		outcome, err := s.ingestor.ProcessEvent(r.Context(), &events[i])
		if err != nil {
			summary.Failed++
			s.metrics.WebhookEvents.WithLabelValues("error").Inc()
			log.Warn().Err(err).Str("signature", events[i].Signature).Msg("webhook event failed")
			continue
		}
		summary.Processed++
		switch {
		case outcome.Duplicate:
			summary.Duplicates++
			s.metrics.WebhookEvents.WithLabelValues("duplicate").Inc()
		case outcome.VoteAmount > 0:
			summary.Votes++
			s.metrics.WebhookEvents.WithLabelValues("vote").Inc()
		case outcome.Donations > 0:
			summary.Donations++
			s.metrics.WebhookEvents.WithLabelValues("donation").Inc()
		default:
			summary.Skipped++
			s.metrics.WebhookEvents.WithLabelValues("skipped").Inc()
		}
	}

	// Rows are durable at this point; the snapshot can follow along.
	if s.watcher != nil && (summary.Votes > 0 || summary.Donations > 0) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.watcher.Refresh(ctx); err != nil {
				log.Warn().Err(err).Msg("snapshot refresh after webhook failed")
			}
		}()
	}

	s.writeJSON(w, http.StatusOK, summary)
}
