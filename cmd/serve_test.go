package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quizline/curator/internal/config"
	"github.com/quizline/curator/internal/dedup"
	"github.com/quizline/curator/internal/model"
	"github.com/quizline/curator/internal/monitoring"
	"github.com/quizline/curator/internal/retrieval"
	"github.com/quizline/curator/internal/review"
	"github.com/quizline/curator/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestAPI(t *testing.T) (*apiServer, *store.SQLiteStore) {
	t.Helper()
	cfg = &config.Config{}

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	return &apiServer{
		store:   st,
		review:  review.NewService(st),
		monitor: monitoring.NewCollector(st, dedup.JobKind),
		cascade: retrieval.NewCascade(st, nil, retrieval.Config{}),
	}, st
}

func TestServe_Health(t *testing.T) {
	api, _ := newTestAPI(t)
	srv := httptest.NewServer(api.routes(""))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServe_AdminRequiresToken(t *testing.T) {
	api, _ := newTestAPI(t)
	srv := httptest.NewServer(api.routes("secret"))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/admin/status")
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/admin/status", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServe_SelectReturnsQuestion(t *testing.T) {
	api, st := newTestAPI(t)
	srv := httptest.NewServer(api.routes(""))
	defer srv.Close()

	_, err := st.InsertQuestion(context.Background(), &model.Question{
		ID: "Q1", Text: "What did you learn today?", Status: model.QuestionStatusPublic,
	})
	require.NoError(t, err)

	body := bytes.NewBufferString(`{"user_id": "u1"}`)
	resp, err := http.Post(srv.URL+"/api/select", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Tier     string         `json:"tier"`
		Question model.Question `json:"question"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "random", out.Tier)
	assert.Equal(t, "Q1", out.Question.ID)

	sent, err := st.ListInteractionQuestionIDs(context.Background(), "u1", model.InteractionSent)
	require.NoError(t, err)
	assert.Equal(t, []string{"Q1"}, sent)
}

func TestServe_SelectEmptyCorpus(t *testing.T) {
	api, _ := newTestAPI(t)
	srv := httptest.NewServer(api.routes(""))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/select", "application/json", bytes.NewBufferString(`{"user_id": "u1"}`))
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServe_SelectMissingIdentity(t *testing.T) {
	api, _ := newTestAPI(t)
	srv := httptest.NewServer(api.routes(""))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/select", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServe_GatherEndpoint(t *testing.T) {
	api, st := newTestAPI(t)
	srv := httptest.NewServer(api.routes(""))
	defer srv.Close()

	_, err := st.InsertQuestion(context.Background(), &model.Question{
		Text: "unloved", Status: model.QuestionStatusPublic, TotalShows: 100, TotalLikes: 0, AvgViewDurationMS: 5000,
	})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/admin/gather", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 1, out["targets_found"])
}

func TestServe_JobShowMissing(t *testing.T) {
	api, _ := newTestAPI(t)
	srv := httptest.NewServer(api.routes(""))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/admin/jobs/nope")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServe_MergeValidation(t *testing.T) {
	api, st := newTestAPI(t)
	srv := httptest.NewServer(api.routes(""))
	defer srv.Close()

	ctx := context.Background()
	_, err := st.InsertQuestion(ctx, &model.Question{ID: "A", Text: "a", Status: model.QuestionStatusPublic})
	require.NoError(t, err)
	_, err = st.InsertQuestion(ctx, &model.Question{ID: "B", Text: "b", Status: model.QuestionStatusPublic})
	require.NoError(t, err)

	d := &model.DuplicateDetection{
		QuestionIDs: []string{"A", "B"},
		UniqueKey:   "dd:test",
		Reason:      "same",
		Confidence:  0.9,
		Status:      model.DetectionStatusPending,
	}
	inserted, err := st.InsertDetection(ctx, d)
	require.NoError(t, err)
	require.True(t, inserted)

	// Missing keep_id: 400, nothing deleted.
	resp, err := http.Post(srv.URL+"/admin/detections/"+d.ID+"/merge", "application/json", bytes.NewBufferString(`{"delete_ids":["A"]}`))
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/admin/detections/"+d.ID+"/merge", "application/json", bytes.NewBufferString(`{"keep_id":"B","delete_ids":["A","B"]}`))
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = st.GetQuestion(ctx, "B")
	assert.NoError(t, err)
}
