package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quizline/curator/internal/dedup"
	"github.com/quizline/curator/internal/errs"
	"github.com/quizline/curator/internal/model"
	"github.com/quizline/curator/internal/monitoring"
	"github.com/quizline/curator/internal/retrieval"
	"github.com/quizline/curator/internal/review"
	"github.com/quizline/curator/internal/scoring"
	"github.com/quizline/curator/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the curation admin and selection API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		api := &apiServer{
			store:   st,
			review:  review.NewService(st),
			monitor: monitoring.NewCollector(st, dedup.JobKind),
			cascade: retrieval.NewCascade(st, generationModel(), retrieval.Config{
				SimilarityTopK: cfg.Retrieval.SimilarityTopK,
			}),
			detector: dedup.NewDetector(st, groupingModel(), dedup.Config{
				BatchSize:    cfg.Dedup.BatchSize,
				KeepRuns:     cfg.Dedup.KeepRuns,
				MaxBatchErrs: cfg.Dedup.MaxBatchErrs,
			}),
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: api.routes(cfg.Server.AdminToken),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(context.Background())
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

type apiServer struct {
	store    store.Store
	review   *review.Service
	monitor  *monitoring.Collector
	cascade  *retrieval.Cascade
	detector *dedup.Detector
}

func (s *apiServer) routes(adminToken string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/api/select", s.handleSelect)

	r.Route("/admin", func(r chi.Router) {
		r.Use(bearerAuth(adminToken))
		r.Get("/status", s.handleStatus)
		r.Post("/gather", s.handleGather)
		r.Post("/dedup", s.handleDedupStart)
		r.Get("/jobs", s.handleJobs)
		r.Get("/jobs/{id}", s.handleJobShow)
		r.Get("/detections", s.handleDetections)
		r.Post("/detections/{id}/merge", s.handleMerge)
		r.Post("/detections/{id}/reject", s.handleReject)
		r.Post("/detections/{id}/delete-all", s.handleDeleteAll)
		r.Get("/targets", s.handleTargets)
		r.Post("/targets/{id}/approve", s.handleApprovePruning)
		r.Post("/targets/{id}/reject", s.handleRejectPruning)
	})
	return r
}

// bearerAuth gates the admin surface behind a static token. An empty
// configured token disables the check (local development).
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *apiServer) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Email  string `json:"email"`
		Peek   bool   `json:"peek"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	ref := model.ConsumerRef{UserID: req.UserID, Email: req.Email}
	var (
		q    *model.Question
		tier retrieval.Tier
		err  error
	)
	if req.Peek {
		q, tier, err = s.cascade.Peek(r.Context(), ref)
	} else {
		q, tier, err = s.cascade.Select(r.Context(), ref)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tier": tier, "question": q})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.monitor.Collect(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *apiServer) handleGather(w http.ResponseWriter, r *http.Request) {
	settings, err := scoring.LoadSettings(r.Context(), s.store, cfg.Scoring.SettingsPath)
	if err != nil {
		writeError(w, err)
		return
	}
	found, err := scoring.NewEngine(s.store, settings).Gather(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"targets_found": found})
}

func (s *apiServer) handleDedupStart(w http.ResponseWriter, r *http.Request) {
	job, err := s.detector.Begin(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	// Batches outlive the request; poll the job id for progress.
	go func() {
		if err := job.Execute(context.Background()); err != nil {
			zap.L().Error("dedup job failed",
				zap.String("job_id", job.ID()),
				zap.Error(err),
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID()})
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = dedup.JobKind
	}
	runs, err := s.store.ListJobProgress(r.Context(), kind, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *apiServer) handleJobShow(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetJobProgress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *apiServer) handleDetections(w http.ResponseWriter, r *http.Request) {
	reviews, err := s.review.ListPendingDetections(r.Context(), 0)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"detections": reviews})
}

func (s *apiServer) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KeepID    string   `json:"keep_id"`
		DeleteIDs []string `json:"delete_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := s.review.ResolveMerge(r.Context(), chi.URLParam(r, "id"), req.KeepID, req.DeleteIDs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "merged"})
}

func (s *apiServer) handleReject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReviewerEmail string `json:"reviewer_email"`
		RejectReason  string `json:"reject_reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := s.review.ResolveRejectFully(r.Context(), chi.URLParam(r, "id"), req.ReviewerEmail, req.RejectReason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (s *apiServer) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	if err := s.review.ResolveDeleteAll(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *apiServer) handleTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.store.ListPruningTargets(r.Context(), store.TargetFilter{
		Status: model.PruningTargetStatusPending,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": targets})
}

func (s *apiServer) handleApprovePruning(w http.ResponseWriter, r *http.Request) {
	if err := s.review.ApprovePruning(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (s *apiServer) handleRejectPruning(w http.ResponseWriter, r *http.Request) {
	if err := s.review.RejectPruning(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errs.IsValidation(err):
		status = http.StatusBadRequest
	case errs.IsNotFound(err), errs.IsEmptyCorpus(err):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
