// Package postgres is the persistent-store tier (spec.md §6): every durable
// entity (interaction log, threads/cycles, topics, episodes, the concept
// graph, traits/identity, routing decisions, scheduled items, persistent
// tasks, moments, config records) lives in Postgres, with embeddings
// indexed via pgvector.
//
// Grounded on intelligencedev-manifold's internal/auth/store.go: a
// pgxpool.Pool-backed Store, an idempotent InitSchema using CREATE TABLE IF
// NOT EXISTS plus ALTER TABLE ... ADD COLUMN IF NOT EXISTS for in-place
// migration, and plain SQL methods returning domain structs.
package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cogloop/core/internal/cogerr"
)

// Store is the shared connection pool every entity-specific method set below
// hangs off of (interactions.go, topics_episodes.go, concepts.go, traits.go,
// moments_config.go, scheduling.go, reflexes.go).
type Store struct {
	pool *pgxpool.Pool
	dim  int
}

// Open connects to dsn and returns a Store. dim is the embedding dimension
// used to size the vector columns when InitSchema runs for the first time.
func Open(ctx context.Context, dsn string, dim int) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, cogerr.Transientf("postgres.Open", "connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, cogerr.Transientf("postgres.Open", "ping: %w", err)
	}
	return &Store{pool: pool, dim: dim}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Dim reports the embedding dimension this store was opened with.
func (s *Store) Dim() int { return s.dim }

// InitSchema creates every table idempotently and ensures the pgvector
// extension is present. Safe to call on every boot.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		`CREATE TABLE IF NOT EXISTS interaction_events (
			id UUID PRIMARY KEY,
			event_type TEXT NOT NULL,
			topic TEXT NOT NULL DEFAULT '',
			exchange_id TEXT NOT NULL DEFAULT '',
			thread_id TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			payload JSONB NOT NULL DEFAULT '{}',
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_interaction_events_thread ON interaction_events(thread_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS threads (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			channel_id TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			current_topic TEXT NOT NULL DEFAULT '',
			topic_history JSONB NOT NULL DEFAULT '[]',
			exchange_count INT NOT NULL DEFAULT 0,
			last_activity TIMESTAMPTZ NOT NULL DEFAULT now(),
			summary TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_threads_user ON threads(user_id, last_activity)`,

		`CREATE TABLE IF NOT EXISTS message_cycles (
			id UUID PRIMARY KEY,
			parent_cycle_id UUID,
			root_cycle_id UUID NOT NULL,
			thread_id UUID NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
			topic TEXT NOT NULL DEFAULT '',
			cycle_type TEXT NOT NULL,
			status TEXT NOT NULL,
			depth INT NOT NULL DEFAULT 0,
			content TEXT NOT NULL DEFAULT '',
			intent JSONB NOT NULL DEFAULT '{}',
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_thread ON message_cycles(thread_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_root ON message_cycles(root_cycle_id)`,

		`CREATE TABLE IF NOT EXISTS topics (
			id UUID PRIMARY KEY,
			thread_id UUID NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
			name TEXT NOT NULL DEFAULT '',
			message_count INT NOT NULL DEFAULT 0,
			rolling_embedding vector(` + dimPlaceholder + `),
			avg_salience DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_topics_thread ON topics(thread_id, last_updated)`,

		`CREATE TABLE IF NOT EXISTS episodes (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			thread_id TEXT NOT NULL DEFAULT '',
			topic TEXT NOT NULL DEFAULT '',
			gist TEXT NOT NULL DEFAULT '',
			intent JSONB NOT NULL DEFAULT '{}',
			context JSONB NOT NULL DEFAULT '{}',
			action TEXT NOT NULL DEFAULT '',
			emotion JSONB NOT NULL DEFAULT '{}',
			outcome TEXT NOT NULL DEFAULT '',
			open_loops JSONB NOT NULL DEFAULT '[]',
			salience_factors JSONB NOT NULL DEFAULT '{}',
			salience DOUBLE PRECISION NOT NULL DEFAULT 0,
			freshness DOUBLE PRECISION NOT NULL DEFAULT 1,
			embedding vector(` + dimPlaceholder + `),
			access_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_accessed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_user ON episodes(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_embedding ON episodes USING hnsw (embedding vector_cosine_ops)`,
		`ALTER TABLE episodes ADD COLUMN IF NOT EXISTS search_vector tsvector GENERATED ALWAYS AS (to_tsvector('english', coalesce(gist,'') || ' ' || coalesce(outcome,''))) STORED`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_search ON episodes USING gin (search_vector)`,
		`ALTER TABLE episodes ADD COLUMN IF NOT EXISTS root_cycle_id UUID`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_episodes_root_cycle ON episodes(root_cycle_id) WHERE root_cycle_id IS NOT NULL`,

		`CREATE TABLE IF NOT EXISTS episode_outbox (
			id UUID PRIMARY KEY,
			episode_id UUID NOT NULL REFERENCES episodes(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			thread_id TEXT NOT NULL DEFAULT '',
			topic TEXT NOT NULL DEFAULT '',
			gist TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			processed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_episode_outbox_pending ON episode_outbox(created_at) WHERE processed_at IS NULL`,

		`CREATE TABLE IF NOT EXISTS concepts (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			concept_name TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT '',
			definition TEXT NOT NULL DEFAULT '',
			embedding vector(` + dimPlaceholder + `),
			abstraction_level INT NOT NULL DEFAULT 0,
			strength DOUBLE PRECISION NOT NULL DEFAULT 1,
			activation_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			access_count INT NOT NULL DEFAULT 0,
			consolidation_count INT NOT NULL DEFAULT 0,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			utility_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			decay_resistance DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			first_learned TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_accessed TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_reinforced TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_concepts_user_name ON concepts(user_id, concept_name)`,
		`CREATE INDEX IF NOT EXISTS idx_concepts_embedding ON concepts USING hnsw (embedding vector_cosine_ops)`,

		`CREATE TABLE IF NOT EXISTS concept_relationships (
			source_concept_id UUID NOT NULL REFERENCES concepts(id) ON DELETE CASCADE,
			target_concept_id UUID NOT NULL REFERENCES concepts(id) ON DELETE CASCADE,
			relationship_type TEXT NOT NULL,
			strength DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			bidirectional BOOLEAN NOT NULL DEFAULT false,
			PRIMARY KEY (source_concept_id, target_concept_id, relationship_type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_relationships_source ON concept_relationships(source_concept_id)`,
		`CREATE INDEX IF NOT EXISTS idx_relationships_target ON concept_relationships(target_concept_id)`,

		`CREATE TABLE IF NOT EXISTS user_traits (
			user_id TEXT NOT NULL,
			trait_key TEXT NOT NULL,
			trait_value TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			reinforcement_count INT NOT NULL DEFAULT 0,
			last_reinforced_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_conflict_at TIMESTAMPTZ,
			is_literal BOOLEAN NOT NULL DEFAULT false,
			source TEXT NOT NULL,
			embedding vector(` + dimPlaceholder + `),
			PRIMARY KEY (user_id, trait_key)
		)`,

		`CREATE TABLE IF NOT EXISTS identity_vectors (
			user_id TEXT NOT NULL,
			dimension TEXT NOT NULL,
			baseline_weight DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			current_activation DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			min_cap DOUBLE PRECISION NOT NULL DEFAULT 0,
			max_cap DOUBLE PRECISION NOT NULL DEFAULT 1,
			plasticity_rate DOUBLE PRECISION NOT NULL DEFAULT 0.02,
			inertia_rate DOUBLE PRECISION NOT NULL DEFAULT 0.8,
			drift_today DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, dimension)
		)`,

		`CREATE TABLE IF NOT EXISTS routing_decisions (
			id UUID PRIMARY KEY,
			topic TEXT NOT NULL DEFAULT '',
			exchange_id TEXT NOT NULL DEFAULT '',
			selected_mode TEXT NOT NULL,
			router_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			scores JSONB NOT NULL DEFAULT '{}',
			tiebreaker_used BOOLEAN NOT NULL DEFAULT false,
			margin DOUBLE PRECISION NOT NULL DEFAULT 0,
			effective_margin DOUBLE PRECISION NOT NULL DEFAULT 0,
			signal_snapshot JSONB NOT NULL DEFAULT '{}',
			weight_snapshot JSONB NOT NULL DEFAULT '{}',
			reflection JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_routing_exchange ON routing_decisions(exchange_id)`,
		`CREATE INDEX IF NOT EXISTS idx_routing_created ON routing_decisions(created_at)`,

		`CREATE TABLE IF NOT EXISTS persistent_tasks (
			id UUID PRIMARY KEY,
			account_id TEXT NOT NULL,
			thread_id TEXT NOT NULL DEFAULT '',
			goal TEXT NOT NULL,
			scope TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			priority INT NOT NULL DEFAULT 0,
			progress JSONB NOT NULL DEFAULT '{}',
			iterations_used INT NOT NULL DEFAULT 0,
			max_iterations INT NOT NULL DEFAULT 7,
			fatigue_budget DOUBLE PRECISION NOT NULL DEFAULT 2.5,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			expires_at TIMESTAMPTZ,
			next_run_after TIMESTAMPTZ,
			last_summary TEXT NOT NULL DEFAULT '',
			coverage_estimate DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_account_status ON persistent_tasks(account_id, status)`,

		`CREATE TABLE IF NOT EXISTS scheduled_items (
			id UUID PRIMARY KEY,
			thread_id TEXT NOT NULL DEFAULT '',
			item_type TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			due_at TIMESTAMPTZ,
			recurrence TEXT NOT NULL DEFAULT '',
			window_start TEXT NOT NULL DEFAULT '',
			window_end TEXT NOT NULL DEFAULT '',
			group_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			last_fired_at TIMESTAMPTZ,
			failure_count INT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_due ON scheduled_items(due_at)`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_group ON scheduled_items(group_id)`,

		`CREATE TABLE IF NOT EXISTS moments (
			id UUID PRIMARY KEY,
			thread_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			stage TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			sealed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_moments_thread ON moments(thread_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS config_records (
			key TEXT PRIMARY KEY,
			value JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS documents (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			source_uri TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS document_chunks (
			id UUID PRIMARY KEY,
			document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			chunk_index INT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(` + dimPlaceholder + `)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON document_chunks USING hnsw (embedding vector_cosine_ops)`,

		`CREATE TABLE IF NOT EXISTS cognitive_reflexes (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			classifier TEXT NOT NULL DEFAULT 'regex',
			pattern TEXT NOT NULL DEFAULT '',
			target_mode TEXT NOT NULL,
			response TEXT NOT NULL DEFAULT '',
			priority INT NOT NULL DEFAULT 0,
			enabled BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reflexes_enabled ON cognitive_reflexes(enabled, priority)`,

		`CREATE TABLE IF NOT EXISTS autobiography_entries (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			version INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_autobiography_user ON autobiography_entries(user_id, version DESC)`,
	}
	for _, raw := range stmts {
		stmt := substituteDim(raw, s.dim)
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return cogerr.Validationf("postgres.InitSchema", "exec %q: %w", truncate(stmt, 60), err)
		}
	}
	return nil
}

const dimPlaceholder = "__DIM__"

func substituteDim(stmt string, dim int) string {
	if dim <= 0 {
		dim = 768
	}
	return strings.ReplaceAll(stmt, dimPlaceholder, strconv.Itoa(dim))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// IntrospectEmbeddingDim reads vector_dims() off an existing populated
// column to detect the deployed dimension at boot (SPEC_FULL Open Question
// decision #3), falling back to the dimension Store was opened with when no
// rows exist yet.
func (s *Store) IntrospectEmbeddingDim(ctx context.Context) (int, error) {
	var dim *int
	err := s.pool.QueryRow(ctx, `SELECT vector_dims(embedding) FROM episodes WHERE embedding IS NOT NULL LIMIT 1`).Scan(&dim)
	if err != nil || dim == nil {
		return s.dim, nil
	}
	return *dim, nil
}
