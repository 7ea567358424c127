// Package moderate implements the two hash/AI moderation gates a
// submission passes through before the orchestrator commits it: the
// SimilarityModerator (pHash/Simhash threshold check against persisted
// hashes) and the AIModerator (LLM rating/type/keyword analysis plus
// keyword-similarity-gated semantic duplicate confirmation).
package moderate

import "github.com/hazyhaar/echocave/domain"

// DecisionKind is a closed enum over the three outcomes a moderator can
// return. Moderators never throw for content reasons (spec.md §7); a
// rejection is always communicated through Decision.
type DecisionKind int

const (
	// Ok means the submission passed; HashesToStore (if any) should be
	// persisted by the caller once the rest of the pipeline also passes.
	Ok DecisionKind = iota
	// Reject means a prior entry crossed a similarity or semantic
	// threshold; the submission must be tombstoned.
	Reject
	// Skip means the moderator had nothing to evaluate (e.g. no text and
	// no images) and deferred without opinion.
	Skip
)

// RejectKind distinguishes why a Decision rejected a submission.
type RejectKind string

const (
	RejectText     RejectKind = "text"
	RejectImage    RejectKind = "image"
	RejectSemantic RejectKind = "semantic"
)

// Decision is the moderator sum type. Only the fields relevant to Kind are
// populated.
type Decision struct {
	Kind DecisionKind

	// Reject fields.
	RejectReason     RejectKind
	PriorCaveID      int64   // the cave ID that crossed threshold (text/image)
	SimilarityPct    float64 // similarity percentage that triggered rejection
	SemanticDupeIDs  []int64 // AI-confirmed duplicate IDs (RejectSemantic)

	// Ok fields.
	HashesToStore []domain.HashRecord
}
