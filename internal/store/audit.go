package store

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// SecurityPrefix marks audit actions that record auth failures and
// abuse signals.
const SecurityPrefix = "security_"

// Audit appends one event to the audit log. Failures are logged and
// swallowed; an audit write must never fail the operation it records.
// Empty resourceID and userID are stored as NULL.
func (s *Store) Audit(ctx context.Context, action, resourceID, userID string, details interface{}) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var detailsJSON interface{}
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			log.Warn().Err(err).Str("action", action).Msg("audit details not serializable, dropping them")
		} else {
			detailsJSON = raw
		}
	}

	query := `INSERT INTO audit_log (action, resource_id, user_id, details) VALUES ($1, $2, $3, $4)`
	_, err := s.db.ExecContext(ctx, query, action, nullString(resourceID), nullString(userID), detailsJSON)
	if err != nil {
		log.Warn().Err(err).Str("action", action).Msg("audit write failed, event dropped")
	}
}

// RecentAudit returns the latest audit entries, newest first. Used by
// the operator CLI.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	var entries []AuditEntry
	query := `
		SELECT id, ts, action, resource_id, user_id, details
		FROM audit_log
		ORDER BY ts DESC, id DESC
		LIMIT $1`
	if err := s.db.SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, err
	}
	return entries, nil
}
