package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
	"github.com/M3-org/clanktank-sub000/internal/schema"
	"github.com/M3-org/clanktank-sub000/internal/store"
)

const healthPingTimeout = 2 * time.Second

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	database := "connected"

	if s.store == nil {
		status = "degraded"
		database = "not configured"
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			status = "degraded"
			database = "error: " + err.Error()
		}
	}

	body := map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"database":   database,
		"ws_clients": s.wsClients.Load(),
	}
	if s.guards != nil {
		body["providers"] = s.guards.Status()
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, body)
}

// handleConfig publishes the knobs the frontend needs to render forms
// and voting UI. Secrets never appear here.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	body := map[string]interface{}{
		"environment":      s.cfg.Environment,
		"submissions_open": s.cfg.SubmissionsOpen(now),
		"schema_versions":  s.schemas.Versions(),
		"latest_version":   s.schemas.Latest(),
		"vote_minimum":     s.cfg.VoteMinimum,
		"vote_cap":         s.cfg.VoteCap,
		"discord_login":    s.auth.discord != nil && s.auth.discord.Enabled(),
	}
	if !s.cfg.SubmissionDeadline.IsZero() {
		body["submission_deadline"] = s.cfg.SubmissionDeadline.UTC().Format(time.RFC3339)
	}
	if s.cfg.PrizeWallet != "" {
		body["prize_wallet"] = s.cfg.PrizeWallet
	}
	if s.cfg.GovernanceMint != "" {
		body["governance_mint"] = s.cfg.GovernanceMint
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleSubmissionSchema(w http.ResponseWriter, r *http.Request) {
	version := s.requestVersion(r)
	fields, err := s.schemas.Schema(version)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":          version,
		"fields":           fields,
		"categories":       schema.Categories,
		"submissions_open": s.cfg.SubmissionsOpen(time.Now()),
	})
}

func (s *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	if s.auth.discord == nil || !s.auth.discord.Enabled() {
		s.writeErr(w, r, apperr.Upstreamf("discord login is not configured"))
		return
	}
	state := r.URL.Query().Get("state")
	s.writeJSON(w, http.StatusOK, map[string]string{
		"url": s.auth.discord.AuthURL(state),
	})
}

// handleAuthCallback finishes the OAuth dance: code for token, token
// for identity, guild roles when a bot token is configured. The access
// token goes back to the client, which holds it as its bearer token.
func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	if s.auth.discord == nil || !s.auth.discord.Enabled() {
		s.writeErr(w, r, apperr.Upstreamf("discord login is not configured"))
		return
	}

	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil || body.Code == "" {
		s.writeErr(w, r, apperr.Validationf("request body must carry an oauth code"))
		return
	}

	token, err := s.auth.discord.ExchangeCode(r.Context(), body.Code)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	identity, err := s.auth.discord.FetchUser(r.Context(), token)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	user := &store.User{
		DiscordID: identity.ID,
		Username:  identity.Username,
		Avatar:    identity.Avatar,
	}

	// Roles gate nothing yet; losing them degrades display only.
	roles, err := s.auth.discord.FetchGuildRoles(r.Context(), identity.ID)
	if err != nil {
		log.Warn().Err(err).Str("discord_id", identity.ID).Msg("guild role lookup failed")
	} else if len(roles) > 0 {
		if raw, err := json.Marshal(roles); err == nil {
			user.Roles = raw
		}
	}

	if s.store != nil {
		if err := s.store.UpsertUser(r.Context(), user); err != nil {
			s.writeErr(w, r, err)
			return
		}
		s.store.Audit(r.Context(), "user_login", user.DiscordID, user.DiscordID, map[string]string{"username": user.Username})
	}

	log.Info().Str("discord_id", user.DiscordID).Str("username", user.Username).Msg("user logged in")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":         user,
		"access_token": token,
	})
}

func (s *Server) handleAuthMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.authenticate(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	// The stored record carries roles and last login; fall back to the
	// token identity when the user has not hit the callback yet.
	if s.store != nil {
		if stored, err := s.store.GetUser(r.Context(), user.DiscordID); err == nil {
			user = stored
		} else if !apperr.IsNotFound(err) {
			s.writeErr(w, r, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, user)
}
