package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/cogloop/core/internal/cogerr"
	"github.com/cogloop/core/internal/types"
)

// InsertReflex adds a new fast-path rule.
func (s *Store) InsertReflex(ctx context.Context, r *types.CognitiveReflex) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO cognitive_reflexes(id, name, classifier, pattern, target_mode, response, priority, enabled, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.ID, r.Name, r.Classifier, r.Pattern, r.TargetMode, r.Response, r.Priority, r.Enabled, r.CreatedAt)
	if err != nil {
		return cogerr.Transientf("postgres.InsertReflex", "insert: %w", err)
	}
	return nil
}

// EnabledReflexes returns every enabled reflex, highest priority first, the
// set the reflex engine reloads periodically (mirrors the teacher's
// file-watched reflex config, here backed by a table instead of YAML on
// disk).
func (s *Store) EnabledReflexes(ctx context.Context) ([]types.CognitiveReflex, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, name, classifier, pattern, target_mode, response, priority, enabled, created_at
FROM cognitive_reflexes WHERE enabled=true ORDER BY priority DESC`)
	if err != nil {
		return nil, cogerr.Transientf("postgres.EnabledReflexes", "query: %w", err)
	}
	defer rows.Close()

	var out []types.CognitiveReflex
	for rows.Next() {
		var r types.CognitiveReflex
		if err := rows.Scan(&r.ID, &r.Name, &r.Classifier, &r.Pattern, &r.TargetMode, &r.Response,
			&r.Priority, &r.Enabled, &r.CreatedAt); err != nil {
			return nil, cogerr.Transientf("postgres.EnabledReflexes", "scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetReflexEnabled toggles a reflex without deleting its row.
func (s *Store) SetReflexEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := s.pool.Exec(ctx, `UPDATE cognitive_reflexes SET enabled=$2 WHERE id=$1`, id, enabled)
	if err != nil {
		return cogerr.Transientf("postgres.SetReflexEnabled", "update: %w", err)
	}
	return nil
}

// InsertAutobiographyEntry appends a new versioned self-model entry; entries
// are never updated, only superseded by a higher version.
func (s *Store) InsertAutobiographyEntry(ctx context.Context, userID, content string, version int) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO autobiography_entries(id, user_id, content, version, created_at)
VALUES (gen_random_uuid(), $1, $2, $3, now())`, userID, content, version)
	if err != nil {
		return cogerr.Transientf("postgres.InsertAutobiographyEntry", "insert: %w", err)
	}
	return nil
}

// LatestAutobiography returns the highest-versioned entry for a user, the
// zero-cost "always include" layer context assembly can draw on.
func (s *Store) LatestAutobiography(ctx context.Context, userID string) (string, error) {
	var content string
	err := s.pool.QueryRow(ctx, `
SELECT content FROM autobiography_entries WHERE user_id=$1 ORDER BY version DESC LIMIT 1`, userID).Scan(&content)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", cogerr.Transientf("postgres.LatestAutobiography", "query: %w", err)
	}
	return content, nil
}
