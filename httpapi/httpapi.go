// Package httpapi exposes the echo cave's admin and ingest surface: the
// .hash/.check/.compare/.fix family as JSON admin endpoints plus a
// submission ingest endpoint, wired with chi the way the teacher's
// cmd/chrc/main.go wires its own API routes.
package httpapi

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/echocave/blob"
	"github.com/hazyhaar/echocave/domain"
	"github.com/hazyhaar/echocave/hashutil"
	"github.com/hazyhaar/echocave/moderate"
	"github.com/hazyhaar/echocave/orchestrate"
	"github.com/hazyhaar/echocave/report"
	"github.com/hazyhaar/echocave/shield"
	"github.com/hazyhaar/echocave/store"
	"github.com/hazyhaar/echocave/trace"
)

// Server holds the collaborators the routes need.
type Server struct {
	Hashes       store.HashStore
	Submissions  store.SubmissionStore
	Orchestrator *orchestrate.Orchestrator
	Thresholds   moderate.Thresholds

	// AI and Blobs back .ai (handleAI); AI is nil when AI moderation is
	// disabled, in which case .ai reports 400.
	AI    *moderate.AIModerator
	Blobs blob.Store

	// TraceHub, if non-nil, mounts an endpoint for satellite echo caves to
	// forward their SQL trace entries into this instance's own trace store.
	TraceHub *trace.Store

	// Maintenance, if non-nil, gates every /api route behind a 503 while an
	// operator has flipped the flag on — e.g. during a bulk reindex or a
	// sqlite schema migration.
	Maintenance *shield.MaintenanceMode
}

// NewRouter builds the chi router for the echo cave's HTTP surface.
// ratelimitDB, if non-nil, enables per-IP rate limiting on every /api
// route that has a rule in its rate_limits table.
func NewRouter(s *Server, ratelimitDB *sql.DB) http.Handler {
	r := chi.NewRouter()
	r.Use(shield.HeadToGet)
	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
	r.Use(shield.MaxFormBody(16 << 20))
	r.Use(shield.TraceID)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		if ratelimitDB != nil {
			rl := shield.NewRateLimiter(ratelimitDB, "/health")
			r.Use(rl.Middleware)
		}
		if s.Maintenance != nil {
			r.Use(s.Maintenance.Middleware)
		}

		r.Post("/submissions", s.handleSubmit)
		r.Get("/submissions/{id}", s.handleGetSubmission)

		r.Get("/hash", s.handleHash)       // .hash <text>
		r.Get("/check", s.handleCheck)     // .check
		r.Get("/compare", s.handleCompare) // .compare <a> <b>
		r.Post("/fix", s.handleFix)        // .fix <id> <status>
		r.Post("/ai", s.handleAI)          // .ai <ids...>: re-run AI moderation

		if s.TraceHub != nil {
			r.Post("/admin/traces", trace.IngestHandler(s.TraceHub))
		}
	})

	return r
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChannelID string           `json:"channelId"`
		UserID    string           `json:"userId"`
		Elements  []domain.Element `json:"elements"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}

	sub := &domain.Submission{ChannelID: req.ChannelID, UserID: req.UserID, Elements: req.Elements}
	if err := s.Orchestrator.Submit(r.Context(), sub); err != nil {
		writeJSON(w, 422, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, 201, sub)
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	sub, err := s.Submissions.Get(r.Context(), id)
	if err != nil {
		writeError(w, 404, err)
		return
	}
	writeJSON(w, 200, sub)
}

// handleHash implements .hash: return the Simhash of ?text=.
func (s *Server) handleHash(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	if text == "" {
		writeError(w, 400, fmt.Errorf("text is required"))
		return
	}
	writeJSON(w, 200, map[string]string{"hash": hashutil.Simhash(text)})
}

// handleCheck implements .check: render a duplicate-cluster report across
// every persisted hash.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	records, err := s.Hashes.Get(r.Context(), store.HashFilter{})
	if err != nil {
		writeError(w, 500, err)
		return
	}
	out := report.Generate(records, s.Thresholds)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(out))
}

// handleCompare implements .compare: hamming-similarity between two
// existing cave entries' hashes of the same kind.
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	a, errA := strconv.ParseInt(r.URL.Query().Get("a"), 10, 64)
	b, errB := strconv.ParseInt(r.URL.Query().Get("b"), 10, 64)
	if errA != nil || errB != nil {
		writeError(w, 400, fmt.Errorf("a and b must be cave ids"))
		return
	}

	recsA, err := s.Hashes.Get(r.Context(), store.HashFilter{CaveID: a})
	if err != nil {
		writeError(w, 500, err)
		return
	}
	recsB, err := s.Hashes.Get(r.Context(), store.HashFilter{CaveID: b})
	if err != nil {
		writeError(w, 500, err)
		return
	}

	results := map[string]float64{}
	for _, ra := range recsA {
		for _, rb := range recsB {
			if ra.Kind != rb.Kind {
				continue
			}
			results[string(ra.Kind)] = hashutil.SimilarityPercent(ra.Hash, rb.Hash)
		}
	}
	writeJSON(w, 200, results)
}

// handleFix implements .fix: force a submission's status, bypassing the
// pipeline. For manual-review queues and moderator overrides.
func (s *Server) handleFix(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	status := domain.Status(req.Status)
	switch status {
	case domain.StatusActive, domain.StatusPending, domain.StatusDelete:
	default:
		writeError(w, 400, fmt.Errorf("invalid status %q", req.Status))
		return
	}
	if err := s.Submissions.UpdateStatus(r.Context(), req.ID, status, nil); err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

// aiResult reports one submission's outcome from handleAI's batch re-run.
type aiResult struct {
	CaveID     int64    `json:"caveId"`
	Rating     int      `json:"rating,omitempty"`
	Type       string   `json:"type,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Duplicates []int64  `json:"duplicates,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// handleAI implements .ai: re-run AI analysis and duplicate checking for a
// batch of existing cave IDs. Per spec.md:196, admin/batch operations are
// per-item best-effort — one item's failure is recorded on its own result
// and never aborts the rest of the batch.
func (s *Server) handleAI(w http.ResponseWriter, r *http.Request) {
	if s.AI == nil {
		writeError(w, 400, fmt.Errorf("AI moderation is disabled"))
		return
	}

	var req struct {
		IDs []int64 `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}

	ctx := r.Context()
	results := make([]aiResult, 0, len(req.IDs))
	failed := 0

	for _, id := range req.IDs {
		res := aiResult{CaveID: id}

		sub, err := s.Submissions.Get(ctx, id)
		if err != nil {
			res.Error = err.Error()
			failed++
			results = append(results, res)
			continue
		}

		mediaBuffers, err := s.loadMediaBuffers(sub)
		if err != nil {
			res.Error = err.Error()
			failed++
			results = append(results, res)
			continue
		}

		meta, err := s.AI.Analyze(ctx, sub, mediaBuffers)
		if err != nil {
			res.Error = err.Error()
			failed++
			results = append(results, res)
			continue
		}
		if meta == nil {
			results = append(results, res)
			continue
		}

		res.Rating = meta.Rating
		res.Type = meta.Type
		res.Keywords = meta.Keywords

		if dupIDs, err := s.AI.CheckDuplicates(ctx, meta, sub); err != nil {
			res.Error = err.Error()
			failed++
		} else {
			res.Duplicates = dupIDs
		}
		results = append(results, res)
	}

	writeJSON(w, 200, map[string]any{
		"processed": len(req.IDs),
		"failed":    failed,
		"results":   results,
	})
}

// loadMediaBuffers reads every media attachment a submission already has
// stored in blob storage, keyed by the canonical file name the orchestrator
// rewrote it to during ingest.
func (s *Server) loadMediaBuffers(sub *domain.Submission) (map[string][]byte, error) {
	buffers := make(map[string][]byte)
	for _, name := range sub.MediaFileNames() {
		data, err := s.Blobs.Read(name)
		if err != nil {
			return nil, fmt.Errorf("read media %s: %w", name, err)
		}
		buffers[name] = data
	}
	return buffers, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
