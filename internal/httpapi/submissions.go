package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
	"github.com/M3-org/clanktank-sub000/internal/episode"
	"github.com/M3-org/clanktank-sub000/internal/store"
	"github.com/M3-org/clanktank-sub000/internal/votes"
)

// submissionView flattens a submission for API responses. Owner
// identity stays private; can_edit tells the frontend what it needs.
func submissionView(sub *store.Submission) map[string]interface{} {
	view := map[string]interface{}{
		"submission_id":  sub.ID,
		"schema_version": sub.Version,
		"status":         sub.Status,
		"created_at":     sub.CreatedAt,
		"updated_at":     sub.UpdatedAt,
	}
	for k, v := range sub.Fields {
		view[k] = v
	}
	return view
}

// decodeFields reads a JSON object of string fields. Numbers or nested
// objects are a validation error, matching the schema's text-only
// field types.
func decodeFields(r *http.Request) (map[string]string, error) {
	var fields map[string]string
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(&fields); err != nil {
		return nil, apperr.Validationf("request body must be a JSON object of string fields: %v", err)
	}
	return fields, nil
}

func (s *Server) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.authenticate(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if !s.cfg.SubmissionsOpen(time.Now()) {
		s.writeErr(w, r, apperr.Forbiddenf("submission window closed at %s", s.cfg.SubmissionDeadline.Format(time.RFC3339)))
		return
	}

	fields, err := decodeFields(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	version := s.requestVersion(r)
	fieldErrs, err := s.schemas.Validate(version, fields)
	if err != nil {
		s.writeErr(w, r, apperr.Validationf("%s", err))
		return
	}
	if len(fieldErrs) > 0 {
		s.writeFieldErrors(w, r, fieldErrs)
		return
	}

	sub, err := s.store.CreateSubmission(r.Context(), version, user.DiscordID, fields)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	episode.BackupSubmission(s.cfg.BackupsDir, sub)
	s.store.Audit(r.Context(), "submission_created", sub.ID, user.DiscordID, map[string]string{
		"project_name": sub.Field("project_name"),
		"version":      version,
	})
	log.Info().Str("submission", sub.ID).Str("owner", user.DiscordID).Msg("submission created")

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"submission_id": sub.ID,
		"status":        sub.Status,
		"message":       "submission received",
	})
}

func (s *Server) handleUpdateSubmission(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.authenticate(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	version := s.requestVersion(r)
	id := mux.Vars(r)["id"]
	sub, err := s.store.GetSubmission(r.Context(), version, id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	if sub.OwnerID != user.DiscordID {
		s.store.Audit(r.Context(), "security_unauthorized_edit_attempt", sub.ID, user.DiscordID, map[string]string{
			"owner": sub.OwnerID,
			"ip":    clientIP(r),
		})
		s.writeErr(w, r, apperr.Forbiddenf("only the submission owner can edit"))
		return
	}
	if !s.cfg.SubmissionsOpen(time.Now()) {
		s.writeErr(w, r, apperr.Forbiddenf("submission window closed at %s", s.cfg.SubmissionDeadline.Format(time.RFC3339)))
		return
	}

	fields, err := decodeFields(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	// Validate the row as it will look after the edit, so a partial
	// update cannot blank a required field.
	merged := make(map[string]string, len(sub.Fields)+len(fields))
	for k, v := range sub.Fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	fieldErrs, err := s.schemas.Validate(version, merged)
	if err != nil {
		s.writeErr(w, r, apperr.Validationf("%s", err))
		return
	}
	if len(fieldErrs) > 0 {
		s.writeFieldErrors(w, r, fieldErrs)
		return
	}

	if err := s.store.UpdateSubmissionFields(r.Context(), version, sub.ID, fields); err != nil {
		s.writeErr(w, r, err)
		return
	}

	updated, err := s.store.GetSubmission(r.Context(), version, sub.ID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	episode.BackupSubmission(s.cfg.BackupsDir, updated)
	s.store.Audit(r.Context(), "submission_updated", sub.ID, user.DiscordID, map[string]interface{}{
		"fields": keysOf(fields),
	})

	s.writeJSON(w, http.StatusOK, submissionView(updated))
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	version := s.requestVersion(r)
	status := r.URL.Query().Get("status")

	subs, err := s.store.ListSubmissions(r.Context(), version, status)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	include := parseInclude(r)
	views := make([]map[string]interface{}, 0, len(subs))
	for _, sub := range subs {
		view := submissionView(sub)
		if err := s.expandView(r, view, sub, include); err != nil {
			s.writeErr(w, r, err)
			return
		}
		views = append(views, view)
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"submissions": views,
		"count":       len(views),
	})
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	version := s.requestVersion(r)
	sub, err := s.store.GetSubmission(r.Context(), version, mux.Vars(r)["id"])
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	view := submissionView(sub)
	if err := s.expandView(r, view, sub, parseInclude(r)); err != nil {
		s.writeErr(w, r, err)
		return
	}

	canEdit := false
	if user := s.auth.optional(r); user != nil {
		canEdit = user.DiscordID == sub.OwnerID && s.cfg.SubmissionsOpen(time.Now())
	}
	view["can_edit"] = canEdit

	s.writeJSON(w, http.StatusOK, view)
}

// parseInclude reads the ?include= expansions.
func parseInclude(r *http.Request) map[string]bool {
	include := make(map[string]bool)
	for _, part := range strings.Split(r.URL.Query().Get("include"), ",") {
		if part = strings.TrimSpace(part); part != "" {
			include[part] = true
		}
	}
	return include
}

// expandView attaches the requested related records to a submission
// view.
func (s *Server) expandView(r *http.Request, view map[string]interface{}, sub *store.Submission, include map[string]bool) error {
	ctx := r.Context()

	if include["scores"] {
		scores, err := s.store.LatestScores(ctx, sub.ID)
		if err != nil {
			return err
		}
		view["scores"] = scores
	}
	if include["research"] {
		research, err := s.store.GetResearch(ctx, sub.ID)
		switch {
		case err == nil:
			view["research"] = research
		case apperr.IsNotFound(err):
			view["research"] = nil
		default:
			return err
		}
	}
	if include["community"] {
		voteRows, err := s.store.ListVotes(ctx, sub.ID)
		if err != nil {
			return err
		}
		likes, dislikes, err := s.store.LikeDislikeCounts(ctx, sub.ID)
		if err != nil {
			return err
		}
		view["community"] = map[string]interface{}{
			"vote_score":   votes.Compute(sub.ID, voteRows, s.holders, s.voteScoreConfig()),
			"likes":        likes,
			"dislikes":     dislikes,
			"rating_score": likeDislikeScore(likes, dislikes),
		}
	}
	return nil
}

func (s *Server) voteScoreConfig() votes.ScoreConfig {
	cfg := votes.DefaultScoreConfig()
	if s.cfg.VoteMultiplier > 0 {
		cfg.SenderMultiplier = s.cfg.VoteMultiplier
	}
	return cfg
}

// likeDislikeScore maps binary reactions onto a 0-10 scale. No
// reactions means no signal, reported as 0.
func likeDislikeScore(likes, dislikes int) float64 {
	total := likes + dislikes
	if total == 0 {
		return 0
	}
	return 10 * float64(likes) / float64(total)
}

// handleGone answers for deprecated versioned write paths.
func (s *Server) handleGone(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusGone, ErrorResponse{
		Error:     http.StatusText(http.StatusGone),
		Message:   "versioned submission writes were retired, use /api/submissions",
		RequestID: requestID(r),
	})
}

func keysOf(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
