package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/quizline/curator/internal/db"
	"github.com/quizline/curator/internal/errs"
	"github.com/quizline/curator/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const questionColumns = `id, text, style_id, tone_id, topic_id, status, total_shows, total_likes, total_thumbs_down, avg_view_duration_ms, last_shown_at, pruned_at, pool_status, pool_date, created_at, updated_at`

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations (selection path).
var preparedStatements = map[string]string{
	"get_question":       `SELECT ` + questionColumns + ` FROM questions WHERE id = $1`,
	"record_interaction": `INSERT INTO user_questions (consumer_key, question_id, status, assigned_at, updated_at) VALUES ($1, $2, $3, $4, $4) ON CONFLICT (consumer_key, question_id) DO UPDATE SET status = $3, updated_at = $4`,
	"next_pool_question": `SELECT q.id, q.text, q.style_id, q.tone_id, q.topic_id, q.status, q.total_shows, q.total_likes, q.total_thumbs_down, q.avg_view_duration_ms, q.last_shown_at, q.pruned_at, q.pool_status, q.pool_date, q.created_at, q.updated_at FROM user_questions uq JOIN questions q ON q.id = uq.question_id WHERE uq.consumer_key = $1 AND uq.status = 'unseen' ORDER BY uq.assigned_at ASC LIMIT 1`,
	"touch_shown":        `UPDATE questions SET total_shows = total_shows + 1, last_shown_at = $2, updated_at = $2 WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS questions (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	text                 TEXT NOT NULL,
	style_id             TEXT NOT NULL DEFAULT '',
	tone_id              TEXT NOT NULL DEFAULT '',
	topic_id             TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL DEFAULT 'pending',
	total_shows          INTEGER NOT NULL DEFAULT 0,
	total_likes          INTEGER NOT NULL DEFAULT 0,
	total_thumbs_down    INTEGER NOT NULL DEFAULT 0,
	avg_view_duration_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_shown_at        TIMESTAMPTZ,
	pruned_at            TIMESTAMPTZ,
	pool_status          TEXT NOT NULL DEFAULT '',
	pool_date            TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_questions_status ON questions(status);
CREATE INDEX IF NOT EXISTS idx_questions_pruned_at ON questions(pruned_at);

CREATE TABLE IF NOT EXISTS styles (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tones (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS embeddings (
	kind     TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	vec      VECTOR,
	PRIMARY KEY (kind, owner_id)
);

CREATE TABLE IF NOT EXISTS user_questions (
	consumer_key TEXT NOT NULL,
	question_id  TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'unseen',
	assigned_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (consumer_key, question_id)
);

CREATE INDEX IF NOT EXISTS idx_user_questions_consumer ON user_questions(consumer_key, status);
CREATE INDEX IF NOT EXISTS idx_user_questions_question_status ON user_questions(question_id, status);

CREATE TABLE IF NOT EXISTS consumer_prefs (
	consumer_key    TEXT PRIMARY KEY,
	preference_vec  VECTOR,
	hidden_style_ids JSONB NOT NULL DEFAULT '[]',
	hidden_tone_ids  JSONB NOT NULL DEFAULT '[]',
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reviewers (
	id    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	email TEXT NOT NULL UNIQUE,
	name  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS pruning_settings (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pruning_targets (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	question_id TEXT NOT NULL,
	reason      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	metrics     JSONB NOT NULL,
	pruned_at   TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_pruning_targets_pending ON pruning_targets(question_id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_pruning_targets_status ON pruning_targets(status);

CREATE TABLE IF NOT EXISTS duplicate_detections (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	question_ids  JSONB NOT NULL,
	unique_key    TEXT NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'pending',
	reject_reason TEXT NOT NULL DEFAULT '',
	reviewed_at   TIMESTAMPTZ,
	reviewed_by   TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_detections_active_key ON duplicate_detections(unique_key) WHERE status <> 'deleted';
CREATE INDEX IF NOT EXISTS idx_detections_status_confidence ON duplicate_detections(status, confidence DESC);

CREATE TABLE IF NOT EXISTS job_progress (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	kind            TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'running',
	total_units     INTEGER NOT NULL DEFAULT 0,
	total_batches   INTEGER NOT NULL DEFAULT 0,
	processed_units INTEGER NOT NULL DEFAULT 0,
	current_batch   INTEGER NOT NULL DEFAULT 0,
	results_found   INTEGER NOT NULL DEFAULT 0,
	errors          JSONB NOT NULL DEFAULT '[]',
	started_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at    TIMESTAMPTZ,
	last_updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_job_progress_kind_started ON job_progress(kind, started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Questions

func (s *PostgresStore) InsertQuestion(ctx context.Context, q *model.Question) (*model.Question, error) {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	q.CreatedAt = now
	q.UpdatedAt = now
	if q.Status == "" {
		q.Status = model.QuestionStatusPending
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO questions (id, text, style_id, tone_id, topic_id, status, total_shows, total_likes, total_thumbs_down, avg_view_duration_ms, last_shown_at, pruned_at, pool_status, pool_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		q.ID, q.Text, q.StyleID, q.ToneID, q.TopicID, string(q.Status),
		q.TotalShows, q.TotalLikes, q.TotalThumbsDown, q.AvgViewDurationMS,
		q.LastShownAt, q.PrunedAt, string(q.PoolStatus), q.PoolDate, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert question")
	}
	return q, nil
}

type pgScannable interface {
	Scan(dest ...any) error
}

func scanQuestion(row pgScannable) (*model.Question, error) {
	var q model.Question
	var status, poolStatus string
	err := row.Scan(&q.ID, &q.Text, &q.StyleID, &q.ToneID, &q.TopicID, &status,
		&q.TotalShows, &q.TotalLikes, &q.TotalThumbsDown, &q.AvgViewDurationMS,
		&q.LastShownAt, &q.PrunedAt, &poolStatus, &q.PoolDate, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	q.Status = model.QuestionStatus(status)
	q.PoolStatus = model.PoolStatus(poolStatus)
	return &q, nil
}

func (s *PostgresStore) GetQuestion(ctx context.Context, id string) (*model.Question, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1`, id)
	q, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("question", id)
		}
		return nil, eris.Wrapf(err, "postgres: get question %s", id)
	}
	return q, nil
}

func (s *PostgresStore) ListQuestionsByIDs(ctx context.Context, ids []string) ([]model.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list questions by ids")
	}
	defer rows.Close()
	return collectQuestions(rows)
}

func (s *PostgresStore) ListScorableQuestions(ctx context.Context) ([]model.Question, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+questionColumns+` FROM questions
		 WHERE pruned_at IS NULL AND status IN ('public', 'approved', '')
		 ORDER BY created_at ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list scorable questions")
	}
	defer rows.Close()
	return collectQuestions(rows)
}

func collectQuestions(rows pgx.Rows) ([]model.Question, error) {
	var out []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan question")
		}
		out = append(out, *q)
	}
	return out, eris.Wrap(rows.Err(), "postgres: questions iterate")
}

func (s *PostgresStore) DeleteQuestion(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM questions WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete question %s", id)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("question", id)
	}
	return nil
}

func (s *PostgresStore) SetQuestionStatus(ctx context.Context, id string, status model.QuestionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE questions SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set question status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("question", id)
	}
	return nil
}

func (s *PostgresStore) MarkQuestionPruned(ctx context.Context, id string) error {
	// pruned_at is a write-once marker.
	tag, err := s.pool.Exec(ctx,
		`UPDATE questions SET status = 'pruned', pruned_at = COALESCE(pruned_at, $1), updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark question pruned %s", id)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("question", id)
	}
	return nil
}

func (s *PostgresStore) TouchQuestionShown(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE questions SET total_shows = total_shows + 1, last_shown_at = $2, updated_at = $2 WHERE id = $1`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: touch question shown %s", id)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("question", id)
	}
	return nil
}

func (s *PostgresStore) RandomQuestion(ctx context.Context, excludeIDs []string) (*model.Question, error) {
	if excludeIDs == nil {
		excludeIDs = []string{}
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+questionColumns+` FROM questions
		 WHERE pruned_at IS NULL AND text <> '' AND status IN ('public', 'approved', '')
		   AND NOT (id = ANY($1))
		 ORDER BY random() LIMIT 1`,
		excludeIDs,
	)
	q, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: random question")
	}
	return q, nil
}

// Interactions and pool assignment

func (s *PostgresStore) RecordInteraction(ctx context.Context, consumerKey, questionID string, status model.InteractionStatus) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_questions (consumer_key, question_id, status, assigned_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (consumer_key, question_id) DO UPDATE SET status = $3, updated_at = $4`,
		consumerKey, questionID, string(status), time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: record interaction")
}

func (s *PostgresStore) ListInteractionQuestionIDs(ctx context.Context, consumerKey string, status model.InteractionStatus) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT question_id FROM user_questions WHERE consumer_key = $1 AND status = $2`,
		consumerKey, string(status),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list interactions")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan interaction")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: interactions iterate")
}

func (s *PostgresStore) HiddenCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT question_id, COUNT(*) FROM user_questions WHERE status = 'hidden' GROUP BY question_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: hidden counts")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan hidden count")
		}
		counts[id] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: hidden counts iterate")
}

func (s *PostgresStore) AssignQuestionToPool(ctx context.Context, consumerKey, questionID string) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_questions (consumer_key, question_id, status, assigned_at, updated_at)
		 VALUES ($1, $2, 'unseen', $3, $3)
		 ON CONFLICT (consumer_key, question_id) DO NOTHING`,
		consumerKey, questionID, now,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: assign to pool")
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE questions SET pool_status = 'assigned', pool_date = $1, updated_at = $1 WHERE id = $2`,
		now, questionID,
	)
	return eris.Wrap(err, "postgres: set pool status")
}

func (s *PostgresStore) NextPoolQuestion(ctx context.Context, consumerKey string) (*model.Question, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT q.id, q.text, q.style_id, q.tone_id, q.topic_id, q.status, q.total_shows, q.total_likes, q.total_thumbs_down, q.avg_view_duration_ms, q.last_shown_at, q.pruned_at, q.pool_status, q.pool_date, q.created_at, q.updated_at
		 FROM user_questions uq
		 JOIN questions q ON q.id = uq.question_id
		 WHERE uq.consumer_key = $1 AND uq.status = 'unseen'
		 ORDER BY uq.assigned_at ASC LIMIT 1`,
		consumerKey,
	)
	q, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: next pool question")
	}
	return q, nil
}

// Reference data and consumers

func (s *PostgresStore) ListStyles(ctx context.Context) ([]model.Style, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM styles`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list styles")
	}
	defer rows.Close()

	var styles []model.Style
	for rows.Next() {
		var st model.Style
		if err := rows.Scan(&st.ID, &st.Name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan style")
		}
		styles = append(styles, st)
	}
	return styles, eris.Wrap(rows.Err(), "postgres: styles iterate")
}

func (s *PostgresStore) ListTones(ctx context.Context) ([]model.Tone, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM tones`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tones")
	}
	defer rows.Close()

	var tones []model.Tone
	for rows.Next() {
		var tn model.Tone
		if err := rows.Scan(&tn.ID, &tn.Name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan tone")
		}
		tones = append(tones, tn)
	}
	return tones, eris.Wrap(rows.Err(), "postgres: tones iterate")
}

func (s *PostgresStore) UpsertStyle(ctx context.Context, st model.Style) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO styles (id, name) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		st.ID, st.Name,
	)
	return eris.Wrap(err, "postgres: upsert style")
}

func (s *PostgresStore) UpsertTone(ctx context.Context, tn model.Tone) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tones (id, name) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		tn.ID, tn.Name,
	)
	return eris.Wrap(err, "postgres: upsert tone")
}

func (s *PostgresStore) UpsertReviewer(ctx context.Context, r model.Reviewer) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reviewers (id, email, name) VALUES ($1, $2, $3)
		 ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name`,
		r.ID, r.Email, r.Name,
	)
	return eris.Wrap(err, "postgres: upsert reviewer")
}

func (s *PostgresStore) GetConsumerPrefs(ctx context.Context, consumerKey string) (*model.ConsumerPrefs, error) {
	var p model.ConsumerPrefs
	var vecLit *string
	var stylesJSON, tonesJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT consumer_key, preference_vec::text, hidden_style_ids, hidden_tone_ids FROM consumer_prefs WHERE consumer_key = $1`,
		consumerKey,
	).Scan(&p.ConsumerKey, &vecLit, &stylesJSON, &tonesJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get consumer prefs")
	}

	if vecLit != nil {
		p.PreferenceEmbedding, err = db.ParseVector(*vecLit)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: parse preference vector")
		}
	}
	if err := json.Unmarshal(stylesJSON, &p.HiddenStyleIDs); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal hidden styles")
	}
	if err := json.Unmarshal(tonesJSON, &p.HiddenToneIDs); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal hidden tones")
	}
	return &p, nil
}

func (s *PostgresStore) SaveConsumerPrefs(ctx context.Context, prefs model.ConsumerPrefs) error {
	stylesJSON, err := json.Marshal(nonNil(prefs.HiddenStyleIDs))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal hidden styles")
	}
	tonesJSON, err := json.Marshal(nonNil(prefs.HiddenToneIDs))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal hidden tones")
	}

	var vecLit *string
	if len(prefs.PreferenceEmbedding) > 0 {
		lit := db.EncodeVector(prefs.PreferenceEmbedding)
		vecLit = &lit
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO consumer_prefs (consumer_key, preference_vec, hidden_style_ids, hidden_tone_ids, updated_at)
		 VALUES ($1, $2::vector, $3, $4, $5)
		 ON CONFLICT (consumer_key) DO UPDATE SET preference_vec = $2::vector, hidden_style_ids = $3, hidden_tone_ids = $4, updated_at = $5`,
		prefs.ConsumerKey, vecLit, stylesJSON, tonesJSON, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: save consumer prefs")
}

func (s *PostgresStore) GetReviewerByEmail(ctx context.Context, email string) (*model.Reviewer, error) {
	var r model.Reviewer
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, name FROM reviewers WHERE email = $1`, email,
	).Scan(&r.ID, &r.Email, &r.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get reviewer")
	}
	return &r, nil
}

// Embeddings and vector search

func (s *PostgresStore) GetEmbedding(ctx context.Context, kind model.EmbeddingKind, ownerID string) ([]float32, error) {
	var lit *string
	err := s.pool.QueryRow(ctx,
		`SELECT vec::text FROM embeddings WHERE kind = $1 AND owner_id = $2`,
		string(kind), ownerID,
	).Scan(&lit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get embedding")
	}
	if lit == nil {
		return nil, nil
	}
	vec, err := db.ParseVector(*lit)
	return vec, eris.Wrap(err, "postgres: parse embedding")
}

func (s *PostgresStore) SetEmbedding(ctx context.Context, kind model.EmbeddingKind, ownerID string, vec []float32) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO embeddings (kind, owner_id, vec) VALUES ($1, $2, $3::vector)
		 ON CONFLICT (kind, owner_id) DO UPDATE SET vec = $3::vector`,
		string(kind), ownerID, db.EncodeVector(vec),
	)
	return eris.Wrap(err, "postgres: set embedding")
}

func (s *PostgresStore) ListEmbeddings(ctx context.Context, kind model.EmbeddingKind) (map[string][]float32, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT owner_id, vec::text FROM embeddings WHERE kind = $1`, string(kind))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list embeddings")
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var ownerID string
		var lit *string
		if err := rows.Scan(&ownerID, &lit); err != nil {
			return nil, eris.Wrap(err, "postgres: scan embedding")
		}
		if lit == nil {
			continue
		}
		vec, err := db.ParseVector(*lit)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: parse embedding %s", ownerID)
		}
		out[ownerID] = vec
	}
	return out, eris.Wrap(rows.Err(), "postgres: embeddings iterate")
}

func (s *PostgresStore) NearestQuestions(ctx context.Context, vec []float32, k int) ([]model.ScoredQuestion, error) {
	if k <= 0 {
		k = 100
	}
	// <=> is cosine distance; similarity = 1 - distance.
	rows, err := s.pool.Query(ctx,
		`SELECT e.owner_id, 1 - (e.vec <=> $1::vector) AS score
		 FROM embeddings e
		 JOIN questions q ON q.id = e.owner_id
		 WHERE e.kind = 'question' AND q.status = 'public'
		 ORDER BY e.vec <=> $1::vector
		 LIMIT $2`,
		db.EncodeVector(vec), k,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: nearest questions")
	}
	defer rows.Close()

	var out []model.ScoredQuestion
	for rows.Next() {
		var sq model.ScoredQuestion
		if err := rows.Scan(&sq.QuestionID, &sq.Score); err != nil {
			return nil, eris.Wrap(err, "postgres: scan nearest question")
		}
		out = append(out, sq)
	}
	return out, eris.Wrap(rows.Err(), "postgres: nearest questions iterate")
}

// Pruning settings and targets

func (s *PostgresStore) GetPruningSettings(ctx context.Context) (*model.PruningSettings, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM pruning_settings WHERE id = 1`).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get pruning settings")
	}
	var settings model.PruningSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal pruning settings")
	}
	return &settings, nil
}

func (s *PostgresStore) SavePruningSettings(ctx context.Context, settings model.PruningSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal pruning settings")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO pruning_settings (id, data, updated_at) VALUES (1, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET data = $1, updated_at = $2`,
		data, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: save pruning settings")
}

func (s *PostgresStore) UpsertPendingPruningTarget(ctx context.Context, t *model.PruningTarget) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()

	metricsJSON, err := json.Marshal(t.Metrics)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal target metrics")
	}

	// The partial unique index on (question_id) WHERE status = 'pending'
	// makes the upsert race-free across concurrent scorer runs.
	_, err = s.pool.Exec(ctx,
		`INSERT INTO pruning_targets (id, question_id, reason, status, metrics, created_at, updated_at)
		 VALUES ($1, $2, $3, 'pending', $4, $5, $5)
		 ON CONFLICT (question_id) WHERE status = 'pending'
		 DO UPDATE SET reason = $3, metrics = $4, updated_at = $5`,
		t.ID, t.QuestionID, t.Reason, metricsJSON, now,
	)
	return eris.Wrap(err, "postgres: upsert pruning target")
}

func scanTarget(row pgScannable) (*model.PruningTarget, error) {
	var t model.PruningTarget
	var status string
	var metricsJSON []byte
	err := row.Scan(&t.ID, &t.QuestionID, &t.Reason, &status, &metricsJSON,
		&t.PrunedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = model.PruningTargetStatus(status)
	if err := json.Unmarshal(metricsJSON, &t.Metrics); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal target metrics")
	}
	return &t, nil
}

const targetColumns = `id, question_id, reason, status, metrics, pruned_at, created_at, updated_at`

func (s *PostgresStore) GetPruningTarget(ctx context.Context, id string) (*model.PruningTarget, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+targetColumns+` FROM pruning_targets WHERE id = $1`, id)
	t, err := scanTarget(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("pruning_target", id)
		}
		return nil, eris.Wrapf(err, "postgres: get pruning target %s", id)
	}
	return t, nil
}

func (s *PostgresStore) ListPruningTargets(ctx context.Context, filter TargetFilter) ([]model.PruningTarget, error) {
	query := `SELECT ` + targetColumns + ` FROM pruning_targets WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pruning targets")
	}
	defer rows.Close()

	var targets []model.PruningTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan pruning target")
		}
		targets = append(targets, *t)
	}
	return targets, eris.Wrap(rows.Err(), "postgres: pruning targets iterate")
}

func (s *PostgresStore) ResolvePruningTarget(ctx context.Context, id string, status model.PruningTargetStatus, prunedAt *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pruning_targets SET status = $1, pruned_at = $2, updated_at = $3 WHERE id = $4`,
		string(status), prunedAt, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve pruning target %s", id)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("pruning_target", id)
	}
	return nil
}

// Duplicate detections

func (s *PostgresStore) InsertDetection(ctx context.Context, d *model.DuplicateDetection) (bool, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = model.DetectionStatusPending
	}
	now := time.Now().UTC()
	d.CreatedAt = now

	idsJSON, err := json.Marshal(d.QuestionIDs)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal detection members")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO duplicate_detections (id, question_ids, unique_key, reason, confidence, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (unique_key) WHERE status <> 'deleted' DO NOTHING`,
		d.ID, idsJSON, d.UniqueKey, d.Reason, d.Confidence, string(d.Status), now,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: insert detection")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) HasActiveDetection(ctx context.Context, uniqueKey string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM duplicate_detections WHERE unique_key = $1 AND status <> 'deleted')`,
		uniqueKey,
	).Scan(&exists)
	return exists, eris.Wrap(err, "postgres: has active detection")
}

const detectionColumns = `id, question_ids, unique_key, reason, confidence, status, reject_reason, reviewed_at, reviewed_by, created_at`

func scanDetection(row pgScannable) (*model.DuplicateDetection, error) {
	var d model.DuplicateDetection
	var status string
	var idsJSON []byte
	err := row.Scan(&d.ID, &idsJSON, &d.UniqueKey, &d.Reason, &d.Confidence,
		&status, &d.RejectReason, &d.ReviewedAt, &d.ReviewedBy, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.Status = model.DetectionStatus(status)
	if err := json.Unmarshal(idsJSON, &d.QuestionIDs); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal detection members")
	}
	return &d, nil
}

func (s *PostgresStore) GetDetection(ctx context.Context, id string) (*model.DuplicateDetection, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+detectionColumns+` FROM duplicate_detections WHERE id = $1`, id)
	d, err := scanDetection(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("detection", id)
		}
		return nil, eris.Wrapf(err, "postgres: get detection %s", id)
	}
	return d, nil
}

func (s *PostgresStore) ListDetections(ctx context.Context, filter DetectionFilter) ([]model.DuplicateDetection, error) {
	query := `SELECT ` + detectionColumns + ` FROM duplicate_detections WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY confidence DESC, created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list detections")
	}
	defer rows.Close()

	var detections []model.DuplicateDetection
	for rows.Next() {
		d, err := scanDetection(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan detection")
		}
		detections = append(detections, *d)
	}
	return detections, eris.Wrap(rows.Err(), "postgres: detections iterate")
}

func (s *PostgresStore) UpdateDetectionStatus(ctx context.Context, id string, status model.DetectionStatus, reviewedBy, rejectReason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE duplicate_detections SET status = $1, reviewed_by = $2, reject_reason = $3, reviewed_at = $4 WHERE id = $5`,
		string(status), reviewedBy, rejectReason, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update detection %s", id)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("detection", id)
	}
	return nil
}

// Job progress

func (s *PostgresStore) CreateJobProgress(ctx context.Context, kind string, totalUnits, totalBatches int) (*model.JobProgress, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_progress (id, kind, status, total_units, total_batches, processed_units, current_batch, results_found, errors, started_at, last_updated_at)
		 VALUES ($1, $2, $3, $4, $5, 0, 0, 0, '[]', $6, $6)`,
		id, kind, string(model.JobStatusRunning), totalUnits, totalBatches, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job progress")
	}

	return &model.JobProgress{
		ID:            id,
		Kind:          kind,
		Status:        model.JobStatusRunning,
		TotalUnits:    totalUnits,
		TotalBatches:  totalBatches,
		StartedAt:     now,
		LastUpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id string, processedUnits, currentBatch, resultsFound int, errList []string) error {
	errsJSON, err := json.Marshal(nonNil(errList))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal progress errors")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE job_progress SET processed_units = $1, current_batch = $2, results_found = $3, errors = $4, last_updated_at = $5 WHERE id = $6`,
		processedUnits, currentBatch, resultsFound, errsJSON, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job progress %s", id)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("job_progress", id)
	}
	return nil
}

func (s *PostgresStore) FinishJobProgress(ctx context.Context, id string, status model.JobStatus, processedUnits, resultsFound int, errList []string) error {
	errsJSON, err := json.Marshal(nonNil(errList))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal progress errors")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE job_progress SET status = $1, processed_units = $2, results_found = $3, errors = $4, completed_at = $5, last_updated_at = $5 WHERE id = $6`,
		string(status), processedUnits, resultsFound, errsJSON, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish job progress %s", id)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("job_progress", id)
	}
	return nil
}

const progressColumns = `id, kind, status, total_units, total_batches, processed_units, current_batch, results_found, errors, started_at, completed_at, last_updated_at`

func scanProgress(row pgScannable) (*model.JobProgress, error) {
	var p model.JobProgress
	var status string
	var errsJSON []byte
	err := row.Scan(&p.ID, &p.Kind, &status, &p.TotalUnits, &p.TotalBatches,
		&p.ProcessedUnits, &p.CurrentBatch, &p.ResultsFound, &errsJSON,
		&p.StartedAt, &p.CompletedAt, &p.LastUpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = model.JobStatus(status)
	if err := json.Unmarshal(errsJSON, &p.Errors); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal progress errors")
	}
	return &p, nil
}

func (s *PostgresStore) GetJobProgress(ctx context.Context, id string) (*model.JobProgress, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+progressColumns+` FROM job_progress WHERE id = $1`, id)
	p, err := scanProgress(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("job_progress", id)
		}
		return nil, eris.Wrapf(err, "postgres: get job progress %s", id)
	}
	return p, nil
}

func (s *PostgresStore) LatestJobProgress(ctx context.Context, kind string) (*model.JobProgress, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+progressColumns+` FROM job_progress WHERE kind = $1 ORDER BY started_at DESC LIMIT 1`,
		kind,
	)
	p, err := scanProgress(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: latest job progress")
	}
	return p, nil
}

func (s *PostgresStore) ListJobProgress(ctx context.Context, kind string, limit int) ([]model.JobProgress, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+progressColumns+` FROM job_progress WHERE kind = $1 ORDER BY started_at DESC LIMIT $2`,
		kind, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list job progress")
	}
	defer rows.Close()

	var records []model.JobProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job progress")
		}
		records = append(records, *p)
	}
	return records, eris.Wrap(rows.Err(), "postgres: job progress iterate")
}

func (s *PostgresStore) CleanupJobProgress(ctx context.Context, kind string, keep int) (int, error) {
	if keep <= 0 {
		keep = 10
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM job_progress
		 WHERE kind = $1 AND id NOT IN (
			SELECT id FROM job_progress WHERE kind = $1 ORDER BY started_at DESC LIMIT $2
		 )`,
		kind, keep,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: cleanup job progress")
	}
	return int(tag.RowsAffected()), nil
}

// Monitoring

func (s *PostgresStore) QuestionStatusCounts(ctx context.Context) (map[string]int, error) {
	return s.statusCounts(ctx, "questions")
}

func (s *PostgresStore) PruningTargetStatusCounts(ctx context.Context) (map[string]int, error) {
	return s.statusCounts(ctx, "pruning_targets")
}

func (s *PostgresStore) DetectionStatusCounts(ctx context.Context) (map[string]int, error) {
	return s.statusCounts(ctx, "duplicate_detections")
}

func (s *PostgresStore) statusCounts(ctx context.Context, table string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM `+table+` GROUP BY status`)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: count %s", table)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s count", table)
		}
		counts[status] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: counts iterate")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
