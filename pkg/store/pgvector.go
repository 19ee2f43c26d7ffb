package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/stager/internal/models"
	"github.com/xhad/stager/pkg/stages"
)

var ErrRunNotFound = errors.New("run not found")

const ivfflatLists = 100

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type StageStoreConfig struct {
	ConnString  string
	TableName   string
	VectorDim   int
	SearchLimit int
	// Probes is the number of ivfflat lists scanned per search.
	Probes int
}

// StageStore persists staged runs in Postgres. Each run is a row in
// <table>_runs; each of its stages is a row in <table> with an optional
// pgvector embedding.
type StageStore struct {
	config StageStoreConfig
	pool   *pgxpool.Pool
}

func NewWithConfig(ctx context.Context, config StageStoreConfig) (*StageStore, error) {
	config, err := applyDefaults(config)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &StageStore{
		config: config,
		pool:   pool,
	}

	if err := s.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func applyDefaults(config StageStoreConfig) (StageStoreConfig, error) {
	if config.TableName == "" {
		config.TableName = "stages"
	}
	if !identifier.MatchString(config.TableName) {
		return config, fmt.Errorf("invalid table name %q", config.TableName)
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text
	}
	if config.VectorDim < 0 {
		return config, fmt.Errorf("vector dimension cannot be negative")
	}
	if config.SearchLimit == 0 {
		config.SearchLimit = 5
	}
	if config.Probes == 0 {
		config.Probes = 10
	}
	if config.Probes < 0 || config.Probes > ivfflatLists {
		return config, fmt.Errorf("probes must be between 1 and %d", ivfflatLists)
	}
	return config, nil
}

func (s *StageStore) runsTable() string {
	return s.config.TableName + "_runs"
}

func (s *StageStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createRuns := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			document_id TEXT,
			url TEXT,
			title TEXT,
			total_units INTEGER NOT NULL,
			is_complete BOOLEAN NOT NULL,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL
		)`, s.runsTable())
	if _, err := s.pool.Exec(ctx, createRuns); err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}

	createStages := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			run_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			stage_index INTEGER NOT NULL,
			stage_id TEXT NOT NULL,
			content TEXT NOT NULL,
			unit_count INTEGER NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT,
			result TEXT,
			embedding vector(%d),
			PRIMARY KEY (run_id, stage_index)
		)`, s.config.TableName, s.runsTable(), s.config.VectorDim)
	if _, err := s.pool.Exec(ctx, createStages); err != nil {
		return fmt.Errorf("failed to create stages table: %w", err)
	}

	// Create vector index
	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = %d)`,
		s.config.TableName, s.config.TableName, ivfflatLists)
	if _, err := s.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// SaveRun writes run and its stages in one transaction. An empty run ID is
// replaced with a new UUID.
func (s *StageStore) SaveRun(ctx context.Context, run *models.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insertRun := fmt.Sprintf(`
		INSERT INTO %s (id, document_id, url, title, total_units, is_complete, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			total_units = EXCLUDED.total_units,
			is_complete = EXCLUDED.is_complete,
			metadata = EXCLUDED.metadata`,
		s.runsTable())
	_, err = tx.Exec(ctx, insertRun,
		run.ID,
		run.Document.ID,
		run.Document.URL,
		sanitizeUTF8(run.Document.Title),
		run.TotalUnits,
		run.IsComplete,
		run.Document.Metadata,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	insertStage := fmt.Sprintf(`
		INSERT INTO %s (run_id, stage_index, stage_id, content, unit_count, status, error_message, result, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id, stage_index) DO UPDATE SET
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			result = EXCLUDED.result,
			embedding = EXCLUDED.embedding`,
		s.config.TableName)

	for i, stage := range run.Stages {
		var embedding interface{}
		if i < len(run.Embeddings) && run.Embeddings[i] != nil {
			if len(run.Embeddings[i]) != s.config.VectorDim {
				return fmt.Errorf("stage %s: embedding has %d dimensions, table expects %d",
					stage.ID, len(run.Embeddings[i]), s.config.VectorDim)
			}
			embedding = pgvector.NewVector(run.Embeddings[i])
		}
		var result string
		if i < len(run.Results) {
			result = sanitizeUTF8(run.Results[i])
		}

		_, err = tx.Exec(ctx, insertStage,
			run.ID,
			stage.Index,
			stage.ID,
			sanitizeUTF8(stage.Content),
			stage.UnitCount,
			string(stage.Status),
			stage.ErrorMessage,
			result,
			embedding,
		)
		if err != nil {
			return fmt.Errorf("failed to insert stage %s: %w", stage.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// LoadRun reads a run and its stages back. Embeddings are not loaded.
func (s *StageStore) LoadRun(ctx context.Context, id string) (models.Run, error) {
	run := models.Run{ID: id}

	query := fmt.Sprintf(`
		SELECT document_id, url, title, total_units, is_complete, metadata, created_at
		FROM %s WHERE id = $1`, s.runsTable())
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&run.Document.ID,
		&run.Document.URL,
		&run.Document.Title,
		&run.TotalUnits,
		&run.IsComplete,
		&run.Document.Metadata,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return models.Run{}, fmt.Errorf("failed to load run: %w", err)
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT stage_index, stage_id, content, unit_count, status, COALESCE(error_message, ''), COALESCE(result, '')
		FROM %s WHERE run_id = $1 ORDER BY stage_index`, s.config.TableName), id)
	if err != nil {
		return models.Run{}, fmt.Errorf("failed to load stages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var stage stages.Stage
		var status, result string
		if err := rows.Scan(&stage.Index, &stage.ID, &stage.Content, &stage.UnitCount, &status, &stage.ErrorMessage, &result); err != nil {
			return models.Run{}, fmt.Errorf("failed to scan stage: %w", err)
		}
		stage.Status = stages.Status(status)
		run.Stages = append(run.Stages, stage)
		run.Results = append(run.Results, result)
	}
	if err := rows.Err(); err != nil {
		return models.Run{}, fmt.Errorf("failed to load stages: %w", err)
	}

	return run, nil
}

// Similar returns the stored stages closest to embedding by cosine distance.
func (s *StageStore) Similar(ctx context.Context, embedding []float32, limit int) ([]models.StageMatch, error) {
	if limit <= 0 {
		limit = s.config.SearchLimit
	}

	query := fmt.Sprintf(`
		SELECT st.run_id, r.url, st.stage_index, st.stage_id, st.content, st.unit_count, st.status,
			COALESCE(st.result, ''), st.embedding <=> $1
		FROM %s st JOIN %s r ON r.id = st.run_id
		WHERE st.embedding IS NOT NULL
		ORDER BY st.embedding <=> $1
		LIMIT $2`,
		s.config.TableName, s.runsTable())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL ivfflat.probes = %d", s.config.Probes)); err != nil {
		return nil, fmt.Errorf("failed to set probes: %w", err)
	}

	rows, err := tx.Query(ctx, query, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stages: %w", err)
	}
	defer rows.Close()

	var matches []models.StageMatch
	for rows.Next() {
		var m models.StageMatch
		var status string
		err := rows.Scan(
			&m.RunID,
			&m.URL,
			&m.Stage.Index,
			&m.Stage.ID,
			&m.Stage.Content,
			&m.Stage.UnitCount,
			&status,
			&m.Result,
			&m.Distance,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		m.Stage.Status = stages.Status(status)
		matches = append(matches, m)
	}

	return matches, rows.Err()
}

func (s *StageStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
