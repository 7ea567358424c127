// Package orchestrate implements the ReviewOrchestrator: the ingest state
// machine that drives a submission from preload through similarity and AI
// moderation to its final status, with a strict rollback guarantee on any
// failure.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/echocave/blob"
	"github.com/hazyhaar/echocave/domain"
	"github.com/hazyhaar/echocave/hashutil"
	"github.com/hazyhaar/echocave/idgen"
	"github.com/hazyhaar/echocave/internal/idpool"
	"github.com/hazyhaar/echocave/moderate"
	"github.com/hazyhaar/echocave/observability"
	"github.com/hazyhaar/echocave/sanitize"
	"github.com/hazyhaar/echocave/store"
)

var (
	// ErrNoContent is returned when a submission has no text and no media.
	ErrNoContent = errors.New("orchestrate: no content to add")
)

// ReviewFailPolicy governs what happens to a submission whose AI rating
// falls below AutoApproveThreshold when no manual-review surface would
// otherwise see it (manual review disabled outright).
type ReviewFailPolicy string

const (
	OnAIReviewFailReject            ReviewFailPolicy = "reject"
	OnAIReviewFailFallthroughManual ReviewFailPolicy = "fallthrough-to-manual"
)

// Config holds every operator-facing knob from spec.md §6.
type Config struct {
	Thresholds           moderate.Thresholds
	AutoApproveThreshold int
	EnableSimilarity     bool
	EnableAI             bool
	EnablePend           bool
	EnableAutoApprove    bool
	OnAIReviewFail       ReviewFailPolicy
}

// Downloader fetches the raw bytes of a media descriptor by file name. This
// is distinct from the blob store: it is the inbound transport the
// submission's attachments arrive over, not the canonical post-moderation
// storage.
type Downloader interface {
	Download(ctx context.Context, fileName string) ([]byte, error)
}

// Notifier delivers a user-visible message about a submission's outcome.
type Notifier interface {
	Notify(ctx context.Context, sub *domain.Submission, message string)
}

// ReviewDispatcher hands a pending submission off to the manual-review
// surface.
type ReviewDispatcher interface {
	Dispatch(ctx context.Context, sub *domain.Submission) error
}

// Orchestrator wires every collaborator the ingest pipeline needs: the
// downloader, blob store, hash/meta/submission stores, the two moderators,
// the ID pool, and the notification/review-dispatch surfaces.
type Orchestrator struct {
	cfg Config

	downloader Downloader
	blobs      blob.Store
	hashes     store.HashStore
	metas      store.MetaStore
	subs       store.SubmissionStore
	ids        *idpool.Pool

	similarity *moderate.SimilarityModerator
	ai         *moderate.AIModerator

	notifier Notifier
	review   ReviewDispatcher
	logger   *slog.Logger
	blobKey  idgen.Generator
	audit    *observability.AuditLogger
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithNotifier sets the user-notification collaborator.
func WithNotifier(n Notifier) Option { return func(o *Orchestrator) { o.notifier = n } }

// WithReviewDispatcher sets the manual-review hand-off collaborator.
func WithReviewDispatcher(r ReviewDispatcher) Option {
	return func(o *Orchestrator) { o.review = r }
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithBlobKeyGenerator overrides the default generator used to mint
// collision-free blob storage keys for attachments.
func WithBlobKeyGenerator(gen idgen.Generator) Option {
	return func(o *Orchestrator) { o.blobKey = gen }
}

// WithAuditLogger records every Submit outcome (approved, pended, rejected,
// or rolled back) to a durable audit trail.
func WithAuditLogger(a *observability.AuditLogger) Option {
	return func(o *Orchestrator) { o.audit = a }
}

// New wires an Orchestrator. similarity and ai may independently be nil,
// in which case the corresponding Config.EnableX flag must be false.
func New(cfg Config, downloader Downloader, blobs blob.Store, hashes store.HashStore, metas store.MetaStore, subs store.SubmissionStore, ids *idpool.Pool, similarity *moderate.SimilarityModerator, ai *moderate.AIModerator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		downloader: downloader,
		blobs:      blobs,
		hashes:     hashes,
		metas:      metas,
		subs:       subs,
		ids:        ids,
		similarity: similarity,
		ai:         ai,
		logger:     slog.Default(),
		blobKey:    idgen.Prefixed("media_", idgen.NanoID(16)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit allocates an ID, inserts the preload row, and runs the ingest
// pipeline. On any failure after the row exists, the row is tombstoned and
// its ID returned to the pool before the error is reported.
func (o *Orchestrator) Submit(ctx context.Context, sub *domain.Submission) error {
	if sub.TextOf() == "" && len(sub.MediaFileNames()) == 0 {
		return ErrNoContent
	}

	start := time.Now()
	sub.ID = o.ids.Allocate()
	sub.Status = domain.StatusPreload
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	if err := o.subs.Insert(ctx, sub); err != nil {
		o.ids.Release(sub.ID)
		return fmt.Errorf("orchestrate: insert preload row: %w", err)
	}

	if err := o.ingest(ctx, sub); err != nil {
		o.rollback(ctx, sub, err)
		o.logAudit(ctx, "submit", sub.ID, nil, err, time.Since(start))
		return err
	}
	o.logAudit(ctx, string(sub.Status), sub.ID, nil, nil, time.Since(start))
	return nil
}

// logAudit records a Submit outcome if an audit logger is configured. It is
// a no-op otherwise, so wiring an AuditLogger is strictly additive.
func (o *Orchestrator) logAudit(ctx context.Context, operation string, caveID int64, result any, err error, d time.Duration) {
	if o.audit == nil {
		return
	}
	entry := o.audit.NewAuditEntry("orchestrator", operation, caveID, nil, result, err, d)
	o.audit.LogAsync(entry)
}

// ingest runs steps 1-7 of spec.md §4.7 against an already-inserted preload
// row. Any returned error triggers Submit's rollback.
func (o *Orchestrator) ingest(ctx context.Context, sub *domain.Submission) error {
	mediaBuffers, err := o.downloadAndDedupe(ctx, sub)
	if err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}

	var hashesToStore []domain.HashRecord
	if o.cfg.EnableSimilarity {
		dec, err := o.similarity.Check(ctx, sub, mediaBuffers, o.cfg.Thresholds)
		if err != nil {
			return fmt.Errorf("processing failed: %w", err)
		}
		if dec.Kind == moderate.Reject {
			msg := fmt.Sprintf("similarity rejection against id %d at %.2f%%", dec.PriorCaveID, dec.SimilarityPct)
			return errors.New(msg)
		}
		hashesToStore = dec.HashesToStore
	}

	var meta *domain.MetaRecord
	if o.cfg.EnableAI {
		meta, err = o.ai.Analyze(ctx, sub, mediaBuffers)
		if err != nil {
			return fmt.Errorf("processing failed: %w", err)
		}
		if meta != nil {
			dupIDs, err := o.ai.CheckDuplicates(ctx, meta, sub)
			if err != nil {
				return fmt.Errorf("processing failed: %w", err)
			}
			if len(dupIDs) > 0 {
				msg := fmt.Sprintf("semantic duplicate of ids %s", joinIDs(dupIDs))
				return errors.New(msg)
			}
		}
	}

	status, err := o.decideStatus(meta)
	if err != nil {
		return err
	}

	for name, buf := range mediaBuffers {
		if err := o.blobs.Save(name, buf); err != nil {
			return fmt.Errorf("processing failed: %w", err)
		}
	}
	if len(hashesToStore) > 0 {
		if err := o.hashes.Upsert(ctx, hashesToStore); err != nil {
			return fmt.Errorf("processing failed: %w", err)
		}
	}
	if meta != nil {
		if err := o.metas.Upsert(ctx, *meta); err != nil {
			return fmt.Errorf("processing failed: %w", err)
		}
	}

	sub.Status = status
	if err := o.subs.UpdateStatus(ctx, sub.ID, status, sub.Elements); err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}

	if status == domain.StatusPending && o.review != nil {
		if err := o.review.Dispatch(ctx, sub); err != nil {
			o.logger.ErrorContext(ctx, "orchestrate: manual review dispatch failed", "caveId", sub.ID, "error", err)
		}
	}
	return nil
}

// decideStatus applies the transition table from spec.md §4.7. meta is nil
// when AI moderation was disabled or skipped the submission as contentless.
func (o *Orchestrator) decideStatus(meta *domain.MetaRecord) (domain.Status, error) {
	if !o.cfg.EnablePend {
		if o.cfg.EnableAI && o.cfg.EnableAutoApprove && meta != nil {
			if meta.Rating >= o.cfg.AutoApproveThreshold {
				return domain.StatusActive, nil
			}
			if o.cfg.OnAIReviewFail == OnAIReviewFailFallthroughManual {
				return domain.StatusPending, nil
			}
			return "", fmt.Errorf("AI review failed rating %d", meta.Rating)
		}
		return domain.StatusActive, nil
	}

	if o.cfg.EnableAI && o.cfg.EnableAutoApprove && meta != nil && meta.Rating >= o.cfg.AutoApproveThreshold {
		return domain.StatusActive, nil
	}
	return domain.StatusPending, nil
}

// downloadAndDedupe implements step 1: fetch every media descriptor,
// sanitize it, pHash it, collapse duplicate attachments within this
// submission onto a single canonical storage key, and mint every surviving
// attachment a collision-free blob storage key (spec.md's file-name-keyed
// media elements arrive from the chat surface and cannot be trusted not to
// collide across unrelated submissions).
func (o *Orchestrator) downloadAndDedupe(ctx context.Context, sub *domain.Submission) (map[string][]byte, error) {
	buffers := make(map[string][]byte)
	canonical := make(map[string]string) // pHash -> canonical storage key
	names := sub.MediaFileNames()
	corrupt := 0

	for _, name := range names {
		raw, err := o.downloader.Download(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", name, err)
		}

		data := raw
		if isImageExt(name) {
			data = sanitize.Image(raw)
		}

		if isImageExt(name) {
			h, err := hashutil.Phash(data)
			if err != nil {
				// Corrupt-media: logged, not fatal unless it is the
				// submission's only content. Stored under its own key,
				// skipped for dedup and hashing.
				corrupt++
				key := o.storageKeyFor(name)
				sub.RewriteMediaFileName(name, key)
				o.logger.WarnContext(ctx, "orchestrate: corrupt media, skipping dedup", "fileName", name, "error", err)
				buffers[key] = data
				continue
			}
			if existing, ok := canonical[h]; ok {
				sub.RewriteMediaFileName(name, existing)
				continue
			}
			key := o.storageKeyFor(name)
			sub.RewriteMediaFileName(name, key)
			canonical[h] = key
			buffers[key] = data
			continue
		}

		key := o.storageKeyFor(name)
		sub.RewriteMediaFileName(name, key)
		buffers[key] = data
	}
	if corrupt > 0 && corrupt == len(names) && sub.TextOf() == "" {
		return nil, errors.New("corrupt media is the only content")
	}
	return buffers, nil
}

func (o *Orchestrator) storageKeyFor(originalName string) string {
	return o.blobKey() + strings.ToLower(filepath.Ext(originalName))
}

// rollback tombstones a preload row and returns its ID to the pool. Called
// on any failure after the row was inserted; never leaves a hash or meta
// row referencing the failed ID. Notifies the caller with cause's message
// per spec.md §4.7's Rollback invariant, regardless of which step failed.
func (o *Orchestrator) rollback(ctx context.Context, sub *domain.Submission, cause error) {
	if err := o.metas.Delete(ctx, sub.ID); err != nil {
		o.logger.ErrorContext(ctx, "orchestrate: rollback meta cleanup failed", "caveId", sub.ID, "error", err)
	}
	if err := o.hashes.DeleteByCaveID(ctx, sub.ID); err != nil {
		o.logger.ErrorContext(ctx, "orchestrate: rollback hash cleanup failed", "caveId", sub.ID, "error", err)
	}
	if err := o.subs.UpdateStatus(ctx, sub.ID, domain.StatusDelete, nil); err != nil {
		o.logger.ErrorContext(ctx, "orchestrate: tombstone failed", "caveId", sub.ID, "error", err)
	}
	o.ids.Release(sub.ID)
	o.notify(ctx, sub, cause.Error())
	o.logger.ErrorContext(ctx, "orchestrate: submission tombstoned", "caveId", sub.ID, "cause", cause)
}

func (o *Orchestrator) notify(ctx context.Context, sub *domain.Submission, msg string) {
	if o.notifier != nil {
		o.notifier.Notify(ctx, sub, msg)
	}
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ", ")
}

func isImageExt(fileName string) bool {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return true
	default:
		return false
	}
}
