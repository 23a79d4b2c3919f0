package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/quizline/curator/internal/db"
	"github.com/quizline/curator/internal/errs"
	"github.com/quizline/curator/internal/model"
	"github.com/quizline/curator/internal/similarity"
)

// SQLiteStore implements Store using modernc.org/sqlite. Embeddings are
// stored as bracket-literal text and nearest-neighbor search is an in-memory
// cosine scan, which is fine for the pool sizes SQLite deployments see.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS questions (
	id                   TEXT PRIMARY KEY,
	text                 TEXT NOT NULL,
	style_id             TEXT NOT NULL DEFAULT '',
	tone_id              TEXT NOT NULL DEFAULT '',
	topic_id             TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL DEFAULT 'pending',
	total_shows          INTEGER NOT NULL DEFAULT 0,
	total_likes          INTEGER NOT NULL DEFAULT 0,
	total_thumbs_down    INTEGER NOT NULL DEFAULT 0,
	avg_view_duration_ms REAL NOT NULL DEFAULT 0,
	last_shown_at        DATETIME,
	pruned_at            DATETIME,
	pool_status          TEXT NOT NULL DEFAULT '',
	pool_date            DATETIME,
	created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_questions_status ON questions(status);

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
	vec      TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (kind, owner_id)
);

CREATE TABLE IF NOT EXISTS user_questions (
	consumer_key TEXT NOT NULL,
	question_id  TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'unseen',
	assigned_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (consumer_key, question_id)
);

CREATE INDEX IF NOT EXISTS idx_user_questions_consumer ON user_questions(consumer_key, status);
CREATE INDEX IF NOT EXISTS idx_user_questions_question_status ON user_questions(question_id, status);

CREATE TABLE IF NOT EXISTS consumer_prefs (
	consumer_key     TEXT PRIMARY KEY,
	preference_vec   TEXT,
	hidden_style_ids TEXT NOT NULL DEFAULT '[]',
	hidden_tone_ids  TEXT NOT NULL DEFAULT '[]',
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS reviewers (
	id    TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	name  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS pruning_settings (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	data       TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS pruning_targets (
	id          TEXT PRIMARY KEY,
	question_id TEXT NOT NULL,
	reason      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	metrics     TEXT NOT NULL,
	pruned_at   DATETIME,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_pruning_targets_pending ON pruning_targets(question_id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_pruning_targets_status ON pruning_targets(status);

CREATE TABLE IF NOT EXISTS duplicate_detections (
	id            TEXT PRIMARY KEY,
	question_ids  TEXT NOT NULL,
	unique_key    TEXT NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	confidence    REAL NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'pending',
	reject_reason TEXT NOT NULL DEFAULT '',
	reviewed_at   DATETIME,
	reviewed_by   TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_detections_active_key ON duplicate_detections(unique_key) WHERE status <> 'deleted';
CREATE INDEX IF NOT EXISTS idx_detections_status ON duplicate_detections(status);

CREATE TABLE IF NOT EXISTS job_progress (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'running',
	total_units     INTEGER NOT NULL DEFAULT 0,
	total_batches   INTEGER NOT NULL DEFAULT 0,
	processed_units INTEGER NOT NULL DEFAULT 0,
	current_batch   INTEGER NOT NULL DEFAULT 0,
	results_found   INTEGER NOT NULL DEFAULT 0,
	errors          TEXT NOT NULL DEFAULT '[]',
	started_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at    DATETIME,
	last_updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_job_progress_kind ON job_progress(kind, started_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Questions

func (s *SQLiteStore) InsertQuestion(ctx context.Context, q *model.Question) (*model.Question, error) {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	q.CreatedAt = now
	q.UpdatedAt = now
	if q.Status == "" {
		q.Status = model.QuestionStatusPending
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO questions (id, text, style_id, tone_id, topic_id, status, total_shows, total_likes, total_thumbs_down, avg_view_duration_ms, last_shown_at, pruned_at, pool_status, pool_date, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.Text, q.StyleID, q.ToneID, q.TopicID, string(q.Status),
		q.TotalShows, q.TotalLikes, q.TotalThumbsDown, q.AvgViewDurationMS,
		timePtr(q.LastShownAt), timePtr(q.PrunedAt), string(q.PoolStatus), timePtr(q.PoolDate), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert question")
	}
	return q, nil
}

func scanQuestionLite(row scannable) (*model.Question, error) {
	var q model.Question
	var status, poolStatus string
	var lastShown, pruned, poolDate sql.NullTime
	err := row.Scan(&q.ID, &q.Text, &q.StyleID, &q.ToneID, &q.TopicID, &status,
		&q.TotalShows, &q.TotalLikes, &q.TotalThumbsDown, &q.AvgViewDurationMS,
		&lastShown, &pruned, &poolStatus, &poolDate, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	q.Status = model.QuestionStatus(status)
	q.PoolStatus = model.PoolStatus(poolStatus)
	q.LastShownAt = nullTimePtr(lastShown)
	q.PrunedAt = nullTimePtr(pruned)
	q.PoolDate = nullTimePtr(poolDate)
	return &q, nil
}

func (s *SQLiteStore) GetQuestion(ctx context.Context, id string) (*model.Question, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = ?`, id)
	q, err := scanQuestionLite(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("question", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get question %s", id)
	}
	return q, nil
}

func (s *SQLiteStore) ListQuestionsByIDs(ctx context.Context, ids []string) ([]model.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list questions by ids")
	}
	defer rows.Close()
	return collectQuestionsLite(rows)
}

func (s *SQLiteStore) ListScorableQuestions(ctx context.Context) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+questionColumns+` FROM questions
		 WHERE pruned_at IS NULL AND status IN ('public', 'approved', '')
		 ORDER BY created_at ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list scorable questions")
	}
	defer rows.Close()
	return collectQuestionsLite(rows)
}

func collectQuestionsLite(rows *sql.Rows) ([]model.Question, error) {
	var out []model.Question
	for rows.Next() {
		q, err := scanQuestionLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan question")
		}
		out = append(out, *q)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: questions iterate")
}

func (s *SQLiteStore) DeleteQuestion(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete question %s", id)
	}
	return checkRowsAffected(res, "question", id)
}

func (s *SQLiteStore) SetQuestionStatus(ctx context.Context, id string, status model.QuestionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE questions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set question status %s", id)
	}
	return checkRowsAffected(res, "question", id)
}

func (s *SQLiteStore) MarkQuestionPruned(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE questions SET status = 'pruned', pruned_at = COALESCE(pruned_at, ?), updated_at = ? WHERE id = ?`,
		time.Now().UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark question pruned %s", id)
	}
	return checkRowsAffected(res, "question", id)
}

func (s *SQLiteStore) TouchQuestionShown(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE questions SET total_shows = total_shows + 1, last_shown_at = ?, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: touch question shown %s", id)
	}
	return checkRowsAffected(res, "question", id)
}

func (s *SQLiteStore) RandomQuestion(ctx context.Context, excludeIDs []string) (*model.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions
	 WHERE pruned_at IS NULL AND text <> '' AND status IN ('public', 'approved', '')`
	var args []any
	if len(excludeIDs) > 0 {
		query += ` AND id NOT IN (` + strings.TrimSuffix(strings.Repeat("?,", len(excludeIDs)), ",") + `)`
		for _, id := range excludeIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY random() LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, args...)
	q, err := scanQuestionLite(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: random question")
	}
	return q, nil
}

// Interactions and pool assignment

func (s *SQLiteStore) RecordInteraction(ctx context.Context, consumerKey, questionID string, status model.InteractionStatus) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_questions (consumer_key, question_id, status, assigned_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (consumer_key, question_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		consumerKey, questionID, string(status), now, now,
	)
	return eris.Wrap(err, "sqlite: record interaction")
}

func (s *SQLiteStore) ListInteractionQuestionIDs(ctx context.Context, consumerKey string, status model.InteractionStatus) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT question_id FROM user_questions WHERE consumer_key = ? AND status = ?`,
		consumerKey, string(status),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list interactions")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan interaction")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: interactions iterate")
}

func (s *SQLiteStore) HiddenCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT question_id, COUNT(*) FROM user_questions WHERE status = 'hidden' GROUP BY question_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: hidden counts")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan hidden count")
		}
		counts[id] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: hidden counts iterate")
}

func (s *SQLiteStore) AssignQuestionToPool(ctx context.Context, consumerKey, questionID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_questions (consumer_key, question_id, status, assigned_at, updated_at)
		 VALUES (?, ?, 'unseen', ?, ?)
		 ON CONFLICT (consumer_key, question_id) DO NOTHING`,
		consumerKey, questionID, now, now,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: assign to pool")
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE questions SET pool_status = 'assigned', pool_date = ?, updated_at = ? WHERE id = ?`,
		now, now, questionID,
	)
	return eris.Wrap(err, "sqlite: set pool status")
}

func (s *SQLiteStore) NextPoolQuestion(ctx context.Context, consumerKey string) (*model.Question, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT q.id, q.text, q.style_id, q.tone_id, q.topic_id, q.status, q.total_shows, q.total_likes, q.total_thumbs_down, q.avg_view_duration_ms, q.last_shown_at, q.pruned_at, q.pool_status, q.pool_date, q.created_at, q.updated_at
		 FROM user_questions uq
		 JOIN questions q ON q.id = uq.question_id
		 WHERE uq.consumer_key = ? AND uq.status = 'unseen'
		 ORDER BY uq.assigned_at ASC LIMIT 1`,
		consumerKey,
	)
	q, err := scanQuestionLite(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: next pool question")
	}
	return q, nil
}

// Reference data and consumers

func (s *SQLiteStore) ListStyles(ctx context.Context) ([]model.Style, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM styles`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list styles")
	}
	defer rows.Close()

	var styles []model.Style
	for rows.Next() {
		var st model.Style
		if err := rows.Scan(&st.ID, &st.Name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan style")
		}
		styles = append(styles, st)
	}
	return styles, eris.Wrap(rows.Err(), "sqlite: styles iterate")
}

func (s *SQLiteStore) ListTones(ctx context.Context) ([]model.Tone, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM tones`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tones")
	}
	defer rows.Close()

	var tones []model.Tone
	for rows.Next() {
		var tn model.Tone
		if err := rows.Scan(&tn.ID, &tn.Name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan tone")
		}
		tones = append(tones, tn)
	}
	return tones, eris.Wrap(rows.Err(), "sqlite: tones iterate")
}

func (s *SQLiteStore) UpsertStyle(ctx context.Context, st model.Style) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO styles (id, name) VALUES (?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name`,
		st.ID, st.Name,
	)
	return eris.Wrap(err, "sqlite: upsert style")
}

func (s *SQLiteStore) UpsertTone(ctx context.Context, tn model.Tone) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tones (id, name) VALUES (?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name`,
		tn.ID, tn.Name,
	)
	return eris.Wrap(err, "sqlite: upsert tone")
}

func (s *SQLiteStore) UpsertReviewer(ctx context.Context, r model.Reviewer) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reviewers (id, email, name) VALUES (?, ?, ?)
		 ON CONFLICT (email) DO UPDATE SET name = excluded.name`,
		r.ID, r.Email, r.Name,
	)
	return eris.Wrap(err, "sqlite: upsert reviewer")
}

func (s *SQLiteStore) GetConsumerPrefs(ctx context.Context, consumerKey string) (*model.ConsumerPrefs, error) {
	var p model.ConsumerPrefs
	var vecLit sql.NullString
	var stylesJSON, tonesJSON string

	err := s.db.QueryRowContext(ctx,
		`SELECT consumer_key, preference_vec, hidden_style_ids, hidden_tone_ids FROM consumer_prefs WHERE consumer_key = ?`,
		consumerKey,
	).Scan(&p.ConsumerKey, &vecLit, &stylesJSON, &tonesJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get consumer prefs")
	}

	if vecLit.Valid {
		p.PreferenceEmbedding, err = db.ParseVector(vecLit.String)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: parse preference vector")
		}
	}
	if err := json.Unmarshal([]byte(stylesJSON), &p.HiddenStyleIDs); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal hidden styles")
	}
	if err := json.Unmarshal([]byte(tonesJSON), &p.HiddenToneIDs); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal hidden tones")
	}
	return &p, nil
}

func (s *SQLiteStore) SaveConsumerPrefs(ctx context.Context, prefs model.ConsumerPrefs) error {
	stylesJSON, err := json.Marshal(nonNil(prefs.HiddenStyleIDs))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal hidden styles")
	}
	tonesJSON, err := json.Marshal(nonNil(prefs.HiddenToneIDs))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal hidden tones")
	}

	var vecLit any
	if len(prefs.PreferenceEmbedding) > 0 {
		vecLit = db.EncodeVector(prefs.PreferenceEmbedding)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO consumer_prefs (consumer_key, preference_vec, hidden_style_ids, hidden_tone_ids, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (consumer_key) DO UPDATE SET preference_vec = excluded.preference_vec, hidden_style_ids = excluded.hidden_style_ids, hidden_tone_ids = excluded.hidden_tone_ids, updated_at = excluded.updated_at`,
		prefs.ConsumerKey, vecLit, string(stylesJSON), string(tonesJSON), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: save consumer prefs")
}

func (s *SQLiteStore) GetReviewerByEmail(ctx context.Context, email string) (*model.Reviewer, error) {
	var r model.Reviewer
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, name FROM reviewers WHERE email = ?`, email,
	).Scan(&r.ID, &r.Email, &r.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get reviewer")
	}
	return &r, nil
}

// Embeddings and vector search

func (s *SQLiteStore) GetEmbedding(ctx context.Context, kind model.EmbeddingKind, ownerID string) ([]float32, error) {
	var lit string
	err := s.db.QueryRowContext(ctx,
		`SELECT vec FROM embeddings WHERE kind = ? AND owner_id = ?`,
		string(kind), ownerID,
	).Scan(&lit)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get embedding")
	}
	vec, err := db.ParseVector(lit)
	return vec, eris.Wrap(err, "sqlite: parse embedding")
}

func (s *SQLiteStore) SetEmbedding(ctx context.Context, kind model.EmbeddingKind, ownerID string, vec []float32) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embeddings (kind, owner_id, vec) VALUES (?, ?, ?)
		 ON CONFLICT (kind, owner_id) DO UPDATE SET vec = excluded.vec`,
		string(kind), ownerID, db.EncodeVector(vec),
	)
	return eris.Wrap(err, "sqlite: set embedding")
}

func (s *SQLiteStore) ListEmbeddings(ctx context.Context, kind model.EmbeddingKind) (map[string][]float32, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_id, vec FROM embeddings WHERE kind = ?`, string(kind))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list embeddings")
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var ownerID, lit string
		if err := rows.Scan(&ownerID, &lit); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan embedding")
		}
		vec, err := db.ParseVector(lit)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse embedding %s", ownerID)
		}
		out[ownerID] = vec
	}
	return out, eris.Wrap(rows.Err(), "sqlite: embeddings iterate")
}

func (s *SQLiteStore) NearestQuestions(ctx context.Context, vec []float32, k int) ([]model.ScoredQuestion, error) {
	if k <= 0 {
		k = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.owner_id, e.vec
		 FROM embeddings e
		 JOIN questions q ON q.id = e.owner_id
		 WHERE e.kind = 'question' AND q.status = 'public'`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: nearest questions")
	}
	defer rows.Close()

	var scored []model.ScoredQuestion
	for rows.Next() {
		var ownerID, lit string
		if err := rows.Scan(&ownerID, &lit); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		candidate, err := db.ParseVector(lit)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse candidate %s", ownerID)
		}
		scored = append(scored, model.ScoredQuestion{
			QuestionID: ownerID,
			Score:      similarity.Cosine(vec, candidate),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: nearest questions iterate")
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Pruning settings and targets

func (s *SQLiteStore) GetPruningSettings(ctx context.Context) (*model.PruningSettings, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM pruning_settings WHERE id = 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get pruning settings")
	}
	var settings model.PruningSettings
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal pruning settings")
	}
	return &settings, nil
}

func (s *SQLiteStore) SavePruningSettings(ctx context.Context, settings model.PruningSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal pruning settings")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pruning_settings (id, data, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		string(data), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: save pruning settings")
}

func (s *SQLiteStore) UpsertPendingPruningTarget(ctx context.Context, t *model.PruningTarget) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()

	metricsJSON, err := json.Marshal(t.Metrics)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal target metrics")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pruning_targets (id, question_id, reason, status, metrics, created_at, updated_at)
		 VALUES (?, ?, ?, 'pending', ?, ?, ?)
		 ON CONFLICT (question_id) WHERE status = 'pending'
		 DO UPDATE SET reason = excluded.reason, metrics = excluded.metrics, updated_at = excluded.updated_at`,
		t.ID, t.QuestionID, t.Reason, string(metricsJSON), now, now,
	)
	return eris.Wrap(err, "sqlite: upsert pruning target")
}

func scanTargetLite(row scannable) (*model.PruningTarget, error) {
	var t model.PruningTarget
	var status, metricsJSON string
	var prunedAt sql.NullTime
	err := row.Scan(&t.ID, &t.QuestionID, &t.Reason, &status, &metricsJSON,
		&prunedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = model.PruningTargetStatus(status)
	t.PrunedAt = nullTimePtr(prunedAt)
	if err := json.Unmarshal([]byte(metricsJSON), &t.Metrics); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal target metrics")
	}
	return &t, nil
}

func (s *SQLiteStore) GetPruningTarget(ctx context.Context, id string) (*model.PruningTarget, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+targetColumns+` FROM pruning_targets WHERE id = ?`, id)
	t, err := scanTargetLite(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("pruning_target", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get pruning target %s", id)
	}
	return t, nil
}

func (s *SQLiteStore) ListPruningTargets(ctx context.Context, filter TargetFilter) ([]model.PruningTarget, error) {
	query := `SELECT ` + targetColumns + ` FROM pruning_targets WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pruning targets")
	}
	defer rows.Close()

	var targets []model.PruningTarget
	for rows.Next() {
		t, err := scanTargetLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pruning target")
		}
		targets = append(targets, *t)
	}
	return targets, eris.Wrap(rows.Err(), "sqlite: pruning targets iterate")
}

func (s *SQLiteStore) ResolvePruningTarget(ctx context.Context, id string, status model.PruningTargetStatus, prunedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pruning_targets SET status = ?, pruned_at = ?, updated_at = ? WHERE id = ?`,
		string(status), timePtr(prunedAt), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve pruning target %s", id)
	}
	return checkRowsAffected(res, "pruning_target", id)
}

// Duplicate detections

func (s *SQLiteStore) InsertDetection(ctx context.Context, d *model.DuplicateDetection) (bool, error) {
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
		return false, eris.Wrap(err, "sqlite: marshal detection members")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO duplicate_detections (id, question_ids, unique_key, reason, confidence, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (unique_key) WHERE status <> 'deleted' DO NOTHING`,
		d.ID, string(idsJSON), d.UniqueKey, d.Reason, d.Confidence, string(d.Status), now,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert detection")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) HasActiveDetection(ctx context.Context, uniqueKey string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM duplicate_detections WHERE unique_key = ? AND status <> 'deleted'`,
		uniqueKey,
	).Scan(&n)
	return n > 0, eris.Wrap(err, "sqlite: has active detection")
}

func scanDetectionLite(row scannable) (*model.DuplicateDetection, error) {
	var d model.DuplicateDetection
	var status, idsJSON string
	var reviewedAt sql.NullTime
	err := row.Scan(&d.ID, &idsJSON, &d.UniqueKey, &d.Reason, &d.Confidence,
		&status, &d.RejectReason, &reviewedAt, &d.ReviewedBy, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.Status = model.DetectionStatus(status)
	d.ReviewedAt = nullTimePtr(reviewedAt)
	if err := json.Unmarshal([]byte(idsJSON), &d.QuestionIDs); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal detection members")
	}
	return &d, nil
}

func (s *SQLiteStore) GetDetection(ctx context.Context, id string) (*model.DuplicateDetection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+detectionColumns+` FROM duplicate_detections WHERE id = ?`, id)
	d, err := scanDetectionLite(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("detection", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get detection %s", id)
	}
	return d, nil
}

func (s *SQLiteStore) ListDetections(ctx context.Context, filter DetectionFilter) ([]model.DuplicateDetection, error) {
	query := `SELECT ` + detectionColumns + ` FROM duplicate_detections WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY confidence DESC, created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list detections")
	}
	defer rows.Close()

	var detections []model.DuplicateDetection
	for rows.Next() {
		d, err := scanDetectionLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan detection")
		}
		detections = append(detections, *d)
	}
	return detections, eris.Wrap(rows.Err(), "sqlite: detections iterate")
}

func (s *SQLiteStore) UpdateDetectionStatus(ctx context.Context, id string, status model.DetectionStatus, reviewedBy, rejectReason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE duplicate_detections SET status = ?, reviewed_by = ?, reject_reason = ?, reviewed_at = ? WHERE id = ?`,
		string(status), reviewedBy, rejectReason, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update detection %s", id)
	}
	return checkRowsAffected(res, "detection", id)
}

// Job progress

func (s *SQLiteStore) CreateJobProgress(ctx context.Context, kind string, totalUnits, totalBatches int) (*model.JobProgress, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_progress (id, kind, status, total_units, total_batches, processed_units, current_batch, results_found, errors, started_at, last_updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, 0, 0, '[]', ?, ?)`,
		id, kind, string(model.JobStatusRunning), totalUnits, totalBatches, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job progress")
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

func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, id string, processedUnits, currentBatch, resultsFound int, errList []string) error {
	errsJSON, err := json.Marshal(nonNil(errList))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal progress errors")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE job_progress SET processed_units = ?, current_batch = ?, results_found = ?, errors = ?, last_updated_at = ? WHERE id = ?`,
		processedUnits, currentBatch, resultsFound, string(errsJSON), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job progress %s", id)
	}
	return checkRowsAffected(res, "job_progress", id)
}

func (s *SQLiteStore) FinishJobProgress(ctx context.Context, id string, status model.JobStatus, processedUnits, resultsFound int, errList []string) error {
	errsJSON, err := json.Marshal(nonNil(errList))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal progress errors")
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_progress SET status = ?, processed_units = ?, results_found = ?, errors = ?, completed_at = ?, last_updated_at = ? WHERE id = ?`,
		string(status), processedUnits, resultsFound, string(errsJSON), now, now, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish job progress %s", id)
	}
	return checkRowsAffected(res, "job_progress", id)
}

func scanProgressLite(row scannable) (*model.JobProgress, error) {
	var p model.JobProgress
	var status, errsJSON string
	var completedAt sql.NullTime
	err := row.Scan(&p.ID, &p.Kind, &status, &p.TotalUnits, &p.TotalBatches,
		&p.ProcessedUnits, &p.CurrentBatch, &p.ResultsFound, &errsJSON,
		&p.StartedAt, &completedAt, &p.LastUpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = model.JobStatus(status)
	p.CompletedAt = nullTimePtr(completedAt)
	if err := json.Unmarshal([]byte(errsJSON), &p.Errors); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal progress errors")
	}
	return &p, nil
}

func (s *SQLiteStore) GetJobProgress(ctx context.Context, id string) (*model.JobProgress, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+progressColumns+` FROM job_progress WHERE id = ?`, id)
	p, err := scanProgressLite(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("job_progress", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job progress %s", id)
	}
	return p, nil
}

func (s *SQLiteStore) LatestJobProgress(ctx context.Context, kind string) (*model.JobProgress, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+progressColumns+` FROM job_progress WHERE kind = ? ORDER BY started_at DESC LIMIT 1`,
		kind,
	)
	p, err := scanProgressLite(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest job progress")
	}
	return p, nil
}

func (s *SQLiteStore) ListJobProgress(ctx context.Context, kind string, limit int) ([]model.JobProgress, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+progressColumns+` FROM job_progress WHERE kind = ? ORDER BY started_at DESC LIMIT ?`,
		kind, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list job progress")
	}
	defer rows.Close()

	var records []model.JobProgress
	for rows.Next() {
		p, err := scanProgressLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job progress")
		}
		records = append(records, *p)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: job progress iterate")
}

func (s *SQLiteStore) CleanupJobProgress(ctx context.Context, kind string, keep int) (int, error) {
	if keep <= 0 {
		keep = 10
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM job_progress
		 WHERE kind = ? AND id NOT IN (
			SELECT id FROM job_progress WHERE kind = ? ORDER BY started_at DESC LIMIT ?
		 )`,
		kind, kind, keep,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: cleanup job progress")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// Monitoring

func (s *SQLiteStore) QuestionStatusCounts(ctx context.Context) (map[string]int, error) {
	return s.statusCounts(ctx, "questions")
}

func (s *SQLiteStore) PruningTargetStatusCounts(ctx context.Context) (map[string]int, error) {
	return s.statusCounts(ctx, "pruning_targets")
}

func (s *SQLiteStore) DetectionStatusCounts(ctx context.Context) (map[string]int, error) {
	return s.statusCounts(ctx, "duplicate_detections")
}

func (s *SQLiteStore) statusCounts(ctx context.Context, table string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM `+table+` GROUP BY status`)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: count %s", table)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s count", table)
		}
		counts[status] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: counts iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errs.NotFound(entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func timePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
