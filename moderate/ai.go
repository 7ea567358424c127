package moderate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hazyhaar/echocave/domain"
	"github.com/hazyhaar/echocave/llm"
	"github.com/hazyhaar/echocave/store"
)

// ErrCorruptResponse means the LLM replied but its output could not be
// parsed into the expected JSON shape after all three extraction
// attempts. The orchestrator treats this as transient-external.
var ErrCorruptResponse = errors.New("ai moderator: corrupt LLM response")

// duplicateCheckPrompt is fixed per spec.md §6 ("the duplicate-check
// prompt is fixed"): the operator only customizes the analysis prompt.
const duplicateCheckPrompt = `You are deduplicating entries in a community quote archive. ` +
	`You will be shown one new entry and a list of candidate prior entries with the same ID tags. ` +
	`Respond with a JSON array of the integer IDs of every candidate that is a semantic duplicate of ` +
	`the new entry (same joke/meme/quote, possibly reworded or re-illustrated). If none are duplicates, ` +
	`respond with an empty JSON array.`

// AIModerator asks an LLM to rate/classify a submission, then checks
// keyword-similar prior entries for semantic duplication.
type AIModerator struct {
	llm          *llm.Client
	meta         store.MetaStore
	submissions  store.SubmissionStore
	systemPrompt string
	logger       *slog.Logger
}

// NewAIModerator wires the LLM transport, meta/submission stores, and the
// operator-supplied analysis prompt.
func NewAIModerator(client *llm.Client, meta store.MetaStore, submissions store.SubmissionStore, systemPrompt string, logger *slog.Logger) *AIModerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &AIModerator{llm: client, meta: meta, submissions: submissions, systemPrompt: systemPrompt, logger: logger}
}

type analysisResult struct {
	Rating   int      `json:"rating"`
	Type     string   `json:"type"`
	Keywords []string `json:"keywords"`
}

// Analyze builds a mixed text+image payload and asks the LLM to rate,
// classify, and extract keywords. Returns (nil, nil) when the submission
// has no text and no images. Returns (nil, ErrCorruptResponse) when the
// LLM's output cannot be parsed after all recovery attempts — callers
// treat that identically to a transport failure.
func (a *AIModerator) Analyze(ctx context.Context, sub *domain.Submission, mediaBuffers map[string][]byte) (*domain.MetaRecord, error) {
	text := sub.TextOf()
	mediaNames := sub.MediaFileNames()
	if text == "" && len(mediaNames) == 0 {
		return nil, nil
	}

	var parts []llm.ContentPart
	if text != "" {
		parts = append(parts, llm.TextPart(text))
	}
	for _, name := range mediaNames {
		buf, ok := mediaBuffers[name]
		if !ok {
			continue
		}
		parts = append(parts, llm.ImagePart(mimeForExt(name), buf))
	}

	reply, err := a.llm.Chat(ctx, []llm.Message{{Role: "user", Content: parts}}, a.systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("ai moderator: analyze: %w", err)
	}

	var result analysisResult
	if err := llm.ExtractJSON(reply, &result); err != nil {
		a.logger.WarnContext(ctx, "ai moderator: unparseable analyze response", "error", err)
		return nil, ErrCorruptResponse
	}

	rating := result.Rating
	if rating < 0 {
		rating = 0
	}
	if rating > 100 {
		rating = 100
	}

	return &domain.MetaRecord{
		CaveID:   sub.ID,
		Rating:   rating,
		Type:     result.Type,
		Keywords: result.Keywords,
	}, nil
}

// CheckDuplicates finds prior entries of the same type whose Jaccard
// similarity over {type} ∪ keywords is >= 80%, then asks the LLM which of
// those (if any) are semantic duplicates of newSubmission. Returns the
// confirmed duplicate cave IDs, which may be empty.
func (a *AIModerator) CheckDuplicates(ctx context.Context, newMeta *domain.MetaRecord, newSubmission *domain.Submission) ([]int64, error) {
	candidates, err := a.meta.GetByType(ctx, newMeta.Type)
	if err != nil {
		return nil, fmt.Errorf("ai moderator: load candidates: %w", err)
	}

	newSet := keywordSet(newMeta.Type, newMeta.Keywords)

	var similar []domain.MetaRecord
	for _, cand := range candidates {
		if cand.CaveID == newMeta.CaveID {
			continue
		}
		candSet := keywordSet(cand.Type, cand.Keywords)
		if jaccard(newSet, candSet)*100 >= 80 {
			similar = append(similar, cand)
		}
	}
	if len(similar) == 0 {
		return nil, nil
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "New entry (ID %d): %s\n\n", newSubmission.ID, newSubmission.TextOf())
	prompt.WriteString("Candidate prior entries:\n")
	for _, cand := range similar {
		orig, err := a.submissions.Get(ctx, cand.CaveID)
		if err != nil {
			a.logger.WarnContext(ctx, "ai moderator: failed to load candidate submission", "caveId", cand.CaveID, "error", err)
			continue
		}
		fmt.Fprintf(&prompt, "- ID %d: %s\n", cand.CaveID, orig.TextOf())
	}

	reply, err := a.llm.Chat(ctx, []llm.Message{{Role: "user", Content: prompt.String()}}, duplicateCheckPrompt)
	if err != nil {
		return nil, fmt.Errorf("ai moderator: check duplicates: %w", err)
	}

	var ids []int64
	if err := llm.ExtractJSON(reply, &ids); err != nil {
		a.logger.WarnContext(ctx, "ai moderator: unparseable duplicate-check response", "error", err)
		return nil, ErrCorruptResponse
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func keywordSet(typ string, keywords []string) map[string]bool {
	set := make(map[string]bool, len(keywords)+1)
	if typ != "" {
		set[typ] = true
	}
	for _, k := range keywords {
		set[k] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func mimeForExt(fileName string) string {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
