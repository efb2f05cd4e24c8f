package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
)

// CreateSubmission inserts a new submission in the submitted state.
// Only schema-defined persisted fields are copied from the payload.
// v1 derives a slug id from the project name; v2 ids are assigned by
// the database.
func (s *Store) CreateSubmission(ctx context.Context, version, ownerID string, fields map[string]string) (*Submission, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	dbFields, err := s.schemas.DatabaseFields(version)
	if err != nil {
		return nil, apperr.Validationf("%s", err)
	}

	sub := &Submission{
		Version: version,
		OwnerID: ownerID,
		Status:  StatusSubmitted,
		Fields:  make(map[string]string, len(dbFields)),
	}
	for _, name := range dbFields {
		sub.Fields[name] = strings.TrimSpace(fields[name])
	}

	if version == "v1" {
		return s.insertSlugSubmission(ctx, sub, dbFields)
	}
	return s.insertSerialSubmission(ctx, sub, dbFields)
}

func (s *Store) insertSlugSubmission(ctx context.Context, sub *Submission, dbFields []string) (*Submission, error) {
	cols := append([]string{"submission_id", "owner_discord_id", "status"}, dbFields...)
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING created_at, updated_at",
		submissionTable(sub.Version), strings.Join(cols, ", "), placeholders(len(cols)))

	id := Slugify(sub.Fields["project_name"])
	for attempt := 0; attempt < 2; attempt++ {
		args := []interface{}{id, sub.OwnerID, sub.Status}
		for _, name := range dbFields {
			args = append(args, nullString(sub.Fields[name]))
		}

		err := s.db.QueryRowxContext(ctx, query, args...).Scan(&sub.CreatedAt, &sub.UpdatedAt)
		if err == nil {
			sub.ID = id
			return sub, nil
		}
		if !isDuplicate(err) {
			return nil, fmt.Errorf("failed to insert submission: %w", err)
		}
		// Slug taken; retry once with a random suffix.
		id = id + "-" + uuid.New().String()[:8]
	}
	return nil, apperr.Conflictf("submission id %q already exists", id)
}

func (s *Store) insertSerialSubmission(ctx context.Context, sub *Submission, dbFields []string) (*Submission, error) {
	cols := append([]string{"owner_discord_id", "status"}, dbFields...)
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING submission_id, created_at, updated_at",
		submissionTable(sub.Version), strings.Join(cols, ", "), placeholders(len(cols)))

	args := []interface{}{sub.OwnerID, sub.Status}
	for _, name := range dbFields {
		args = append(args, nullString(sub.Fields[name]))
	}

	var id int64
	if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&id, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert submission: %w", err)
	}
	sub.ID = strconv.FormatInt(id, 10)
	return sub, nil
}

// RestoreSubmission reinserts a submission under its original id so
// scores, votes and research keyed on that id stay attached. Recovery
// only; for v2 the identity sequence is advanced past the restored id
// so later inserts cannot collide with it.
func (s *Store) RestoreSubmission(ctx context.Context, sub *Submission) (*Submission, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	dbFields, err := s.schemas.DatabaseFields(sub.Version)
	if err != nil {
		return nil, apperr.Validationf("%s", err)
	}
	if !ValidStatus(sub.Status) {
		return nil, apperr.Validationf("unknown status %q", sub.Status)
	}
	idArg, err := submissionIDArg(sub.Version, sub.ID)
	if err != nil {
		return nil, apperr.Validationf("submission id %q does not fit schema %s", sub.ID, sub.Version)
	}

	table := submissionTable(sub.Version)
	cols := append([]string{"submission_id", "owner_discord_id", "status"}, dbFields...)
	override := ""
	if sub.Version != "v1" {
		override = " OVERRIDING SYSTEM VALUE"
	}
	query := fmt.Sprintf("INSERT INTO %s (%s)%s VALUES (%s) RETURNING created_at, updated_at",
		table, strings.Join(cols, ", "), override, placeholders(len(cols)))

	restored := &Submission{
		ID:      sub.ID,
		Version: sub.Version,
		OwnerID: sub.OwnerID,
		Status:  sub.Status,
		Fields:  make(map[string]string, len(dbFields)),
	}
	args := []interface{}{idArg, sub.OwnerID, sub.Status}
	for _, name := range dbFields {
		value := strings.TrimSpace(sub.Fields[name])
		if value != "" {
			restored.Fields[name] = value
		}
		args = append(args, nullString(value))
	}
	if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&restored.CreatedAt, &restored.UpdatedAt); err != nil {
		if isDuplicate(err) {
			return nil, apperr.Conflictf("submission %s already exists", sub.ID)
		}
		return nil, fmt.Errorf("failed to restore submission: %w", err)
	}

	if sub.Version != "v1" {
		bump := fmt.Sprintf(
			"SELECT setval(pg_get_serial_sequence('%s', 'submission_id'), (SELECT MAX(submission_id) FROM %s))",
			table, table)
		if _, err := s.db.ExecContext(ctx, bump); err != nil {
			return nil, fmt.Errorf("failed to advance id sequence: %w", err)
		}
	}
	return restored, nil
}

// GetSubmission loads one submission by id.
func (s *Store) GetSubmission(ctx context.Context, version, id string) (*Submission, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	dbFields, err := s.schemas.DatabaseFields(version)
	if err != nil {
		return nil, apperr.Validationf("%s", err)
	}

	idArg, err := submissionIDArg(version, id)
	if err != nil {
		return nil, apperr.NotFoundf("submission %s", id)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE submission_id = $1",
		selectColumns(dbFields), submissionTable(version))

	sub, err := s.scanSubmission(s.db.QueryRowxContext(ctx, query, idArg), version, dbFields)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFoundf("submission %s", id)
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return sub, nil
}

// ListSubmissions returns submissions for a version, oldest first,
// optionally filtered by status.
func (s *Store) ListSubmissions(ctx context.Context, version, status string) ([]*Submission, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	dbFields, err := s.schemas.DatabaseFields(version)
	if err != nil {
		return nil, apperr.Validationf("%s", err)
	}

	query := fmt.Sprintf("SELECT %s FROM %s", selectColumns(dbFields), submissionTable(version))
	var args []interface{}
	if status != "" {
		if !ValidStatus(status) {
			return nil, apperr.Validationf("unknown status %q", status)
		}
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += " ORDER BY created_at ASC, submission_id ASC"

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	var subs []*Submission
	for rows.Next() {
		sub, err := s.scanSubmission(rows, version, dbFields)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating submissions: %w", err)
	}
	return subs, nil
}

// UpdateSubmissionFields applies a partial edit to schema-defined
// fields. Keys outside the schema are ignored; validation happens at
// the API boundary.
func (s *Store) UpdateSubmissionFields(ctx context.Context, version, id string, fields map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	dbFields, err := s.schemas.DatabaseFields(version)
	if err != nil {
		return apperr.Validationf("%s", err)
	}

	idArg, err := submissionIDArg(version, id)
	if err != nil {
		return apperr.NotFoundf("submission %s", id)
	}

	var sets []string
	args := []interface{}{}
	for _, name := range dbFields {
		value, ok := fields[name]
		if !ok {
			continue
		}
		args = append(args, nullString(strings.TrimSpace(value)))
		sets = append(sets, fmt.Sprintf("%s = $%d", name, len(args)))
	}
	if len(sets) == 0 {
		return apperr.Validationf("no editable fields in payload")
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, idArg)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE submission_id = $%d",
		submissionTable(version), strings.Join(sets, ", "), len(args))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update submission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("submission %s", id)
	}
	return nil
}

// UpdateStatus moves a submission from one lifecycle state to the next.
// The transition is compare-and-swap on the current status so two
// pipeline runs cannot double-advance a row, and only forward moves are
// accepted.
func (s *Store) UpdateStatus(ctx context.Context, version, id, from, to string) error {
	if !CanTransition(from, to) {
		return apperr.Validationf("status cannot move from %q to %q", from, to)
	}
	return s.setStatus(ctx, version, id, from, to)
}

// ForceStatus sets a status without the forward-only check. Reserved
// for operator recovery; every call should be audited.
func (s *Store) ForceStatus(ctx context.Context, version, id, to string) error {
	if !ValidStatus(to) {
		return apperr.Validationf("unknown status %q", to)
	}
	return s.setStatus(ctx, version, id, "", to)
}

func (s *Store) setStatus(ctx context.Context, version, id, from, to string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	idArg, err := submissionIDArg(version, id)
	if err != nil {
		return apperr.NotFoundf("submission %s", id)
	}

	query := fmt.Sprintf("UPDATE %s SET status = $1, updated_at = now() WHERE submission_id = $2", submissionTable(version))
	args := []interface{}{to, idArg}
	if from != "" {
		query += " AND status = $3"
		args = append(args, from)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	// Distinguish a missing row from a lost CAS race.
	var current string
	err = s.db.QueryRowxContext(ctx,
		fmt.Sprintf("SELECT status FROM %s WHERE submission_id = $1", submissionTable(version)), idArg).
		Scan(&current)
	if err == sql.ErrNoRows {
		return apperr.NotFoundf("submission %s", id)
	}
	if err != nil {
		return fmt.Errorf("failed to read status: %w", err)
	}
	return apperr.Conflictf("submission %s is %s, expected %s", id, current, from)
}

// CountByStatus returns submission counts per lifecycle state.
func (s *Store) CountByStatus(ctx context.Context, version string) (map[string]int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf("SELECT status, COUNT(*) FROM %s GROUP BY status", submissionTable(version))
	rows, err := s.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count submissions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// SubmissionExists reports whether an id exists in any schema version.
// The vote ingestor uses this to validate memo targets.
func (s *Store) SubmissionExists(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for _, version := range s.schemas.Versions() {
		idArg, err := submissionIDArg(version, id)
		if err != nil {
			continue
		}
		var exists bool
		query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE submission_id = $1)", submissionTable(version))
		if err := s.db.QueryRowxContext(ctx, query, idArg).Scan(&exists); err != nil {
			return false, fmt.Errorf("failed to check submission: %w", err)
		}
		if exists {
			return true, nil
		}
	}
	return false, nil
}

// scanner covers *sqlx.Row and *sqlx.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanSubmission(row scanner, version string, dbFields []string) (*Submission, error) {
	sub := &Submission{Version: version, Fields: make(map[string]string, len(dbFields))}

	var idText string
	var idSerial int64
	dest := make([]interface{}, 0, len(dbFields)+5)
	if version == "v1" {
		dest = append(dest, &idText)
	} else {
		dest = append(dest, &idSerial)
	}
	dest = append(dest, &sub.OwnerID, &sub.Status)

	fieldDest := make([]sql.NullString, len(dbFields))
	for i := range fieldDest {
		dest = append(dest, &fieldDest[i])
	}
	dest = append(dest, &sub.CreatedAt, &sub.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if version == "v1" {
		sub.ID = idText
	} else {
		sub.ID = strconv.FormatInt(idSerial, 10)
	}
	for i, name := range dbFields {
		if fieldDest[i].Valid {
			sub.Fields[name] = fieldDest[i].String
		}
	}
	return sub, nil
}

func selectColumns(dbFields []string) string {
	cols := append([]string{"submission_id", "owner_discord_id", "status"}, dbFields...)
	cols = append(cols, "created_at", "updated_at")
	return strings.Join(cols, ", ")
}

func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "$" + strconv.Itoa(i+1)
	}
	return strings.Join(parts, ", ")
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// submissionIDArg converts the external string id into the column type
// for a version. Non-numeric ids against serial tables cannot match.
func submissionIDArg(version, id string) (interface{}, error) {
	if version == "v1" {
		return id, nil
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("submission id %q is not numeric", id)
	}
	return n, nil
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a v1 submission id from a project name.
func Slugify(name string) string {
	slug := slugRe.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 60 {
		slug = strings.Trim(slug[:60], "-")
	}
	if slug == "" {
		slug = "submission-" + uuid.New().String()[:8]
	}
	return slug
}
