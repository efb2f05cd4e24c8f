package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
	"github.com/M3-org/clanktank-sub000/internal/leaderboard"
	"github.com/M3-org/clanktank-sub000/internal/votes"
)

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	version := s.requestVersion(r)
	entries, err := leaderboard.Build(r.Context(), s.store, version, s.holders, s.voteScoreConfig())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"leaderboard": entries,
		"count":       len(entries),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	version := s.requestVersion(r)

	byStatus, err := s.store.CountByStatus(r.Context(), version)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	subs, err := s.store.ListSubmissions(r.Context(), version, "")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	byCategory := make(map[string]int)
	total := 0
	for _, sub := range subs {
		byCategory[sub.Field("category")]++
		total++
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":       total,
		"by_status":   byStatus,
		"by_category": byCategory,
	})
}

// handleFeedback serves the legacy emoji reaction summary.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	counts, err := s.store.ReactionCounts(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"submission_id": id,
		"reactions":     counts,
		"total":         total,
	})
}

func (s *Server) handleSetLikeDislike(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.authenticate(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	var body struct {
		VoteType string `json:"vote_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeErr(w, r, apperr.Validationf("request body unreadable: %v", err))
		return
	}

	id := mux.Vars(r)["id"]
	if _, err := s.store.GetSubmission(r.Context(), s.requestVersion(r), id); err != nil {
		s.writeErr(w, r, err)
		return
	}

	if err := s.store.SetLikeDislike(r.Context(), id, user.DiscordID, body.VoteType); err != nil {
		s.writeErr(w, r, err)
		return
	}

	likes, dislikes, err := s.store.LikeDislikeCounts(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"submission_id": id,
		"likes":         likes,
		"dislikes":      dislikes,
		"score":         likeDislikeScore(likes, dislikes),
		"user_action":   body.VoteType,
	})
}

func (s *Server) handleGetLikeDislike(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	likes, dislikes, err := s.store.LikeDislikeCounts(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	userAction := ""
	if user := s.auth.optional(r); user != nil {
		userAction, err = s.store.GetLikeDislike(r.Context(), id, user.DiscordID)
		if err != nil {
			s.writeErr(w, r, err)
			return
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"submission_id": id,
		"likes":         likes,
		"dislikes":      dislikes,
		"score":         likeDislikeScore(likes, dislikes),
		"user_action":   userAction,
	})
}

func (s *Server) handleCommunityScores(w http.ResponseWriter, r *http.Request) {
	voteRows, err := s.store.ListAllVotes(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	scores := votes.ComputeAll(voteRows, s.holders, s.voteScoreConfig())
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"scores": scores,
		"count":  len(scores),
	})
}

func (s *Server) handleCommunityVoteStats(w http.ResponseWriter, r *http.Request) {
	voteRows, err := s.store.ListAllVotes(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	totals := votes.ComputeTotals(voteRows)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"totals":        totals,
		"known_holders": s.holders.Size(),
	})
}
