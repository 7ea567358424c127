// Package domain holds the types shared across the echo-cave moderation
// pipeline: submissions, their elements, persisted hash/meta records, and
// the moderator decision sum type.
package domain

import "time"

// Status is a closed enum over a submission's lifecycle state.
type Status string

const (
	StatusPreload Status = "preload"
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusDelete  Status = "delete"
)

// ElementKind distinguishes the two kinds of submission element.
type ElementKind string

const (
	ElementText  ElementKind = "text"
	ElementMedia ElementKind = "media"
)

// Element is one piece of a submission: either inline text or a reference
// to a media file that has been (or will be) downloaded into a buffer.
type Element struct {
	Kind     ElementKind `json:"type"`
	Text     string      `json:"text,omitempty"`
	FileName string      `json:"fileName,omitempty"`
}

// Submission is a pending or committed cave entry.
type Submission struct {
	ID        int64     `json:"id"`
	ChannelID string    `json:"channelId"`
	UserID    string    `json:"userId"`
	Elements  []Element `json:"elements"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// TextOf concatenates every text element with a single space, the input
// Simhash is computed over (spec: "concatenation of all text elements
// joined by single spaces").
func (s *Submission) TextOf() string {
	var out string
	for _, el := range s.Elements {
		if el.Kind != ElementText || el.Text == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += el.Text
	}
	return out
}

// MediaFileNames returns the file names of every media element, in order.
func (s *Submission) MediaFileNames() []string {
	var out []string
	for _, el := range s.Elements {
		if el.Kind == ElementMedia && el.FileName != "" {
			out = append(out, el.FileName)
		}
	}
	return out
}

// RewriteMediaFileName replaces every element referencing oldName with
// newName. Used by the orchestrator's intra-submission pHash dedup pass.
func (s *Submission) RewriteMediaFileName(oldName, newName string) {
	for i := range s.Elements {
		if s.Elements[i].Kind == ElementMedia && s.Elements[i].FileName == oldName {
			s.Elements[i].FileName = newName
		}
	}
}

// HashKind is a closed enum over the two hash families a cave entry owns.
type HashKind string

const (
	HashText  HashKind = "text"
	HashImage HashKind = "image"
)

// HashRecord is a persisted fingerprint: (caveID, hash, kind) is the
// primary key. hash is always 16 lowercase hex characters.
type HashRecord struct {
	CaveID int64
	Hash   string
	Kind   HashKind
}

// MetaRecord is the AI-produced rating/type/keywords row for a cave entry.
// Primary key is CaveID; produced only by the AI moderator.
type MetaRecord struct {
	CaveID   int64
	Rating   int
	Type     string
	Keywords []string
}
