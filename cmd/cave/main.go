// Command cave runs the echo cave moderation pipeline: an HTTP ingest and
// admin surface backed by sqlite storage, local blob storage, and an
// optional LLM-backed AI moderator, wired the way the teacher's
// cmd/chrc/main.go wires its own services.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hazyhaar/echocave/blob"
	"github.com/hazyhaar/echocave/config"
	"github.com/hazyhaar/echocave/domain"
	"github.com/hazyhaar/echocave/httpapi"
	"github.com/hazyhaar/echocave/internal/dbopen"
	"github.com/hazyhaar/echocave/internal/idpool"
	"github.com/hazyhaar/echocave/llm"
	"github.com/hazyhaar/echocave/moderate"
	"github.com/hazyhaar/echocave/observability"
	"github.com/hazyhaar/echocave/orchestrate"
	"github.com/hazyhaar/echocave/shield"
	"github.com/hazyhaar/echocave/store/sqlite"
	"github.com/hazyhaar/echocave/trace"

	_ "modernc.org/sqlite"
)

func main() {
	var level slog.Level
	switch env("LOG_LEVEL", "info") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			logger.Error("db directory create failed", "error", err)
			os.Exit(1)
		}
	}

	traceDB, err := sql.Open("sqlite", traceDBPath(cfg.DBPath))
	if err != nil {
		logger.Error("trace db open failed", "error", err)
		os.Exit(1)
	}
	defer traceDB.Close()

	traceStore := trace.NewStore(traceDB)
	if err := traceStore.Init(); err != nil {
		logger.Error("trace schema init failed", "error", err)
		os.Exit(1)
	}
	defer traceStore.Close()

	if cfg.TraceForwardURL != "" {
		remoteTrace := trace.NewRemoteStore(cfg.TraceForwardURL, nil)
		trace.SetStore(remoteTrace)
		defer remoteTrace.Close()
		logger.Info("forwarding sql traces", "url", cfg.TraceForwardURL)
	} else {
		trace.SetStore(traceStore)
	}

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll(), dbopen.WithTrace())
	if err != nil {
		logger.Error("db open failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := sqlite.Migrate(db); err != nil {
		logger.Error("db migrate failed", "error", err)
		os.Exit(1)
	}
	if err := shield.Init(db); err != nil {
		logger.Error("shield schema init failed", "error", err)
		os.Exit(1)
	}
	if err := observability.Init(db); err != nil {
		logger.Error("audit schema init failed", "error", err)
		os.Exit(1)
	}
	auditLogger := observability.NewAuditLogger(db, 1000)
	defer auditLogger.Close()

	hashes := sqlite.NewHashStore(db)
	metas := sqlite.NewMetaStore(db)
	subs := sqlite.NewSubmissionStore(db)

	blobs, err := blob.NewLocalStore(cfg.BlobDir)
	if err != nil {
		logger.Error("blob store init failed", "error", err)
		os.Exit(1)
	}

	ids := idpool.New(1)
	if err := seedIDPool(context.Background(), subs, ids); err != nil {
		logger.Error("id pool seed failed", "error", err)
		os.Exit(1)
	}

	var similarity *moderate.SimilarityModerator
	if cfg.EnableSimilarity {
		similarity = moderate.NewSimilarityModerator(hashes)
	}

	var ai *moderate.AIModerator
	if cfg.EnableAI {
		if len(cfg.Endpoints) == 0 {
			logger.Error("AI moderation enabled but no LLM_ENDPOINTS configured")
			os.Exit(1)
		}
		client := llm.NewClient(cfg.Endpoints, 600*time.Second, logger)
		ai = moderate.NewAIModerator(client, metas, subs, cfg.SystemPrompt, logger)
	}

	orch := orchestrate.New(
		cfg.OrchestratorConfig(),
		blobDownloader{blobs},
		blobs,
		hashes,
		metas,
		subs,
		ids,
		similarity,
		ai,
		orchestrate.WithLogger(logger),
		orchestrate.WithAuditLogger(auditLogger),
	)

	maintenance := shield.NewMaintenanceMode(db, "/health")
	done := make(chan struct{})
	defer close(done)
	maintenance.StartReloader(done)

	srv := &httpapi.Server{
		Hashes:       hashes,
		Submissions:  subs,
		Orchestrator: orch,
		Thresholds:   cfg.Thresholds,
		TraceHub:     traceStore,
		Maintenance:  maintenance,
		AI:           ai,
		Blobs:        blobs,
	}

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httpapi.NewRouter(srv, db),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("echo cave listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// blobDownloader lets the local blob store double as the orchestrator's
// inbound transport for a standalone deployment where attachments are
// uploaded straight into blob storage ahead of ingest.
type blobDownloader struct {
	blobs *blob.LocalStore
}

func (b blobDownloader) Download(_ context.Context, fileName string) ([]byte, error) {
	return b.blobs.Read(fileName)
}

// seedIDPool reserves every still-live cave ID so Allocate never collides
// with a row ingested in a previous process, and harvests every already-
// tombstoned (delete-status) ID back into the recyclable free heap — the
// startup half of spec.md §4.7's ID-recycling sweep, since a process
// restart would otherwise lose every delete-status ID's recyclability.
func seedIDPool(ctx context.Context, subs *sqlite.SubmissionStore, ids *idpool.Pool) error {
	for _, status := range []domain.Status{domain.StatusPreload, domain.StatusPending, domain.StatusActive} {
		rows, err := subs.ListByStatus(ctx, status)
		if err != nil {
			return err
		}
		for _, row := range rows {
			ids.Reserve(row.ID)
		}
	}

	deleted, err := subs.ListByStatus(ctx, domain.StatusDelete)
	if err != nil {
		return err
	}
	for _, row := range deleted {
		ids.Seed(row.ID)
	}
	return nil
}

// traceDBPath derives the SQL trace database's path from the main
// database's path, e.g. "db/cave.db" -> "db/cave.traces.db". It must be a
// distinct file opened with the raw "sqlite" driver: tracing the trace
// writes themselves would recurse.
func traceDBPath(dbPath string) string {
	if dbPath == ":memory:" {
		return ":memory:"
	}
	if ext := filepath.Ext(dbPath); ext != "" {
		return strings.TrimSuffix(dbPath, ext) + ".traces" + ext
	}
	return dbPath + ".traces"
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
