// Package llm implements the chat-completions transport the AI moderator
// consumes: multimodal message construction, endpoint round-robin, the
// process-wide retry barrier, and the three-stage JSON extraction
// discipline that recovers structured output from prose-wrapped replies.
package llm

// Endpoint is one configured chat-completions backend.
type Endpoint struct {
	URL   string
	Key   string
	Model string
}

// Message is one chat-completions message. Content is either a plain
// string (system prompts) or a []ContentPart (multimodal user turns).
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentPart is one item of a multimodal user message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL wraps a data: URI per the OpenAI-style multimodal schema.
type ImageURL struct {
	URL string `json:"url"`
}

// TextPart builds a {"type":"text", ...} content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// ImagePart builds a {"type":"image_url", ...} content part from raw image
// bytes, base64-encoding them into a data: URI.
func ImagePart(mime string, data []byte) ContentPart {
	return ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: dataURI(mime, data)}}
}
