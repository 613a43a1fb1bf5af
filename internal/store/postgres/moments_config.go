package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/cogloop/core/internal/cogerr"
	"github.com/cogloop/core/internal/types"
)

// InsertMoment creates a pinned bookmark in its initial "enriching" stage.
func (s *Store) InsertMoment(ctx context.Context, m *types.Moment) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO moments(id, thread_id, content, stage, created_at, sealed_at)
VALUES ($1,$2,$3,$4,$5,$6)`, m.ID, m.ThreadID, m.Content, m.Stage, m.CreatedAt, m.SealedAt)
	if err != nil {
		return cogerr.Transientf("postgres.InsertMoment", "insert: %w", err)
	}
	return nil
}

// AdvanceMomentStage moves a moment through its enriching -> sealed ->
// forgotten lifecycle.
func (s *Store) AdvanceMomentStage(ctx context.Context, id string, stage types.MomentStage, sealedAt *time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE moments SET stage=$2, sealed_at=$3 WHERE id=$1`, id, stage, sealedAt)
	if err != nil {
		return cogerr.Transientf("postgres.AdvanceMomentStage", "update: %w", err)
	}
	return nil
}

// MomentsByThread returns a thread's pinned moments, newest first.
func (s *Store) MomentsByThread(ctx context.Context, threadID string) ([]types.Moment, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, thread_id, content, stage, created_at, sealed_at FROM moments WHERE thread_id=$1 ORDER BY created_at DESC`, threadID)
	if err != nil {
		return nil, cogerr.Transientf("postgres.MomentsByThread", "query: %w", err)
	}
	defer rows.Close()

	var out []types.Moment
	for rows.Next() {
		var m types.Moment
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Content, &m.Stage, &m.CreatedAt, &m.SealedAt); err != nil {
			return nil, cogerr.Transientf("postgres.MomentsByThread", "scan: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetRecord implements config.ConfigStore: fetches a JSON config record by
// key (router_weights, topic_boundary_base_params, ...).
func (s *Store) GetRecord(key string) (map[string]any, bool, error) {
	ctx := context.Background()
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM config_records WHERE key=$1`, key).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, cogerr.Transientf("postgres.GetRecord", "query %s: %w", key, err)
	}
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, cogerr.Validationf("postgres.GetRecord", "unmarshal %s: %w", key, err)
	}
	return rec, true, nil
}

// PutRecord implements config.ConfigStore: the single-writer path the
// config package's ApplyRouterWeights/ApplyBoundaryParams route through.
func (s *Store) PutRecord(key string, value map[string]any) error {
	ctx := context.Background()
	data, err := json.Marshal(value)
	if err != nil {
		return cogerr.Validationf("postgres.PutRecord", "marshal %s: %w", key, err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO config_records(key, value, updated_at) VALUES ($1,$2,now())
ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=now()`, key, data)
	if err != nil {
		return cogerr.Transientf("postgres.PutRecord", "upsert %s: %w", key, err)
	}
	return nil
}

// InsertDocument registers a reference artifact before its chunks are
// embedded and stored.
func (s *Store) InsertDocument(ctx context.Context, id, userID, title, sourceURI string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO documents(id, user_id, title, source_uri) VALUES ($1,$2,$3,$4)`, id, userID, title, sourceURI)
	if err != nil {
		return cogerr.Transientf("postgres.InsertDocument", "insert: %w", err)
	}
	return nil
}

// InsertDocumentChunk stores one embedded chunk of a reference document
// (spec.md's supplemented Document entity).
func (s *Store) InsertDocumentChunk(ctx context.Context, documentID string, chunkIndex int, content string, embedding []float32) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO document_chunks(id, document_id, chunk_index, content, embedding) VALUES (gen_random_uuid(),$1,$2,$3,$4)`,
		documentID, chunkIndex, content, pgvector.NewVector(embedding))
	if err != nil {
		return cogerr.Transientf("postgres.InsertDocumentChunk", "insert: %w", err)
	}
	return nil
}

// SemanticSearchDocumentChunks returns the k chunks closest to query across
// all of a user's documents.
func (s *Store) SemanticSearchDocumentChunks(ctx context.Context, userID string, query []float32, k int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
SELECT dc.content FROM document_chunks dc
JOIN documents d ON d.id = dc.document_id
WHERE d.user_id=$1 ORDER BY dc.embedding <=> $2 LIMIT $3`, userID, pgvector.NewVector(query), k)
	if err != nil {
		return nil, cogerr.Transientf("postgres.SemanticSearchDocumentChunks", "query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, cogerr.Transientf("postgres.SemanticSearchDocumentChunks", "scan: %w", err)
		}
		out = append(out, content)
	}
	return out, rows.Err()
}
