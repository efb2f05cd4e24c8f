package episode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
	"github.com/M3-org/clanktank-sub000/internal/store"
)

// Recover restores a submission from its newest backup. The restored
// row keeps the backup's id, owner, status and fields so scores and
// votes stay attached; a live row with the same id is left alone unless
// force is set, in which case its fields are overwritten (status is
// never rolled back).
func Recover(ctx context.Context, st *store.Store, backupsDir, version, id string, force bool) (*store.Submission, error) {
	backup, path, err := LatestBackup(backupsDir, id)
	if err != nil {
		return nil, err
	}
	if backup.ID == "" {
		backup.ID = id
	}
	if backup.Version == "" {
		backup.Version = version
	}
	if backup.Version != version {
		return nil, apperr.Validationf("backup %s is schema %s, not %s", path, backup.Version, version)
	}

	existing, err := st.GetSubmission(ctx, version, id)
	switch {
	case apperr.IsNotFound(err):
		restored, err := st.RestoreSubmission(ctx, backup)
		if err != nil {
			return nil, fmt.Errorf("failed to restore submission: %w", err)
		}
		log.Info().Str("submission", restored.ID).Str("backup", path).Msg("submission restored from backup")
		st.Audit(ctx, "submission_recovered", restored.ID, backup.OwnerID, map[string]string{"backup": path})
		return restored, nil
	case err != nil:
		return nil, err
	}

	if !force {
		return nil, apperr.Conflictf("submission %s already exists, rerun with force to overwrite fields", id)
	}
	if err := st.UpdateSubmissionFields(ctx, version, id, backup.Fields); err != nil {
		return nil, fmt.Errorf("failed to overwrite submission fields: %w", err)
	}
	log.Info().Str("submission", id).Str("backup", path).Msg("submission fields overwritten from backup")
	st.Audit(ctx, "submission_recovered", id, existing.OwnerID, map[string]string{"backup": path, "mode": "overwrite"})
	return st.GetSubmission(ctx, version, id)
}
