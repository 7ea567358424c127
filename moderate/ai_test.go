package moderate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hazyhaar/echocave/domain"
	"github.com/hazyhaar/echocave/internal/dbopen"
	"github.com/hazyhaar/echocave/llm"
	"github.com/hazyhaar/echocave/store/sqlite"

	_ "modernc.org/sqlite"
)

// chatStub renders a chat-completions-shaped response whose single choice
// content is exactly content.
func chatStub(content string) []byte {
	payload := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	b, _ := json.Marshal(payload)
	return b
}

func newStores(t *testing.T) (*sqlite.MetaStore, *sqlite.SubmissionStore) {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := sqlite.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return sqlite.NewMetaStore(db), sqlite.NewSubmissionStore(db)
}

func TestAIModerator_AnalyzeSkipsEmptySubmission(t *testing.T) {
	meta, subs := newStores(t)
	mod := NewAIModerator(llm.NewClient(nil, time.Second, nil), meta, subs, "analyze this", nil)

	sub := &domain.Submission{ID: 1}
	rec, err := mod.Analyze(context.Background(), sub, nil)
	if err != nil {
		t.Fatalf("expected no error for empty submission, got %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record for empty submission, got %+v", rec)
	}
}

func TestAIModerator_AnalyzeParsesFencedResponse(t *testing.T) {
	content := "Sure!\n```json\n{\"rating\": 120, \"type\": \"ACG\", \"keywords\": [\"arknights\"]}\n```"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatStub(content))
	}))
	defer srv.Close()

	meta, subs := newStores(t)
	client := llm.NewClient([]llm.Endpoint{{URL: srv.URL, Key: "k", Model: "m"}}, time.Second, nil)
	mod := NewAIModerator(client, meta, subs, "analyze this", nil)

	sub := &domain.Submission{ID: 1, Elements: []domain.Element{{Kind: domain.ElementText, Text: "hi"}}}
	rec, err := mod.Analyze(context.Background(), sub, nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if rec.Rating != 100 {
		t.Fatalf("expected rating clamped to 100, got %d", rec.Rating)
	}
	if rec.Type != "ACG" || len(rec.Keywords) != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestAIModerator_AnalyzeUnparseableReturnsCorruptResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"I refuse to answer in JSON."}}]}`))
	}))
	defer srv.Close()

	meta, subs := newStores(t)
	client := llm.NewClient([]llm.Endpoint{{URL: srv.URL, Key: "k", Model: "m"}}, time.Second, nil)
	mod := NewAIModerator(client, meta, subs, "analyze this", nil)

	sub := &domain.Submission{ID: 1, Elements: []domain.Element{{Kind: domain.ElementText, Text: "hi"}}}
	_, err := mod.Analyze(context.Background(), sub, nil)
	if err != ErrCorruptResponse {
		t.Fatalf("expected ErrCorruptResponse, got %v", err)
	}
}

func TestAIModerator_CheckDuplicatesFiltersByJaccardThenAsksLLM(t *testing.T) {
	var lastPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		lastPrompt = string(body)
		w.Write([]byte(`{"choices":[{"message":{"content":"[1]"}}]}`))
	}))
	defer srv.Close()

	meta, subs := newStores(t)
	ctx := context.Background()

	// Prior entry 1: same type, overlapping keywords (high Jaccard).
	_ = subs.Insert(ctx, &domain.Submission{ID: 1, Elements: []domain.Element{{Kind: domain.ElementText, Text: "the meme"}}, Status: domain.StatusActive})
	_ = meta.Upsert(ctx, domain.MetaRecord{CaveID: 1, Rating: 50, Type: "ACG", Keywords: []string{"arknights", "amiya"}})

	// Prior entry 2: same type, no keyword overlap (low Jaccard, excluded).
	_ = subs.Insert(ctx, &domain.Submission{ID: 2, Elements: []domain.Element{{Kind: domain.ElementText, Text: "unrelated"}}, Status: domain.StatusActive})
	_ = meta.Upsert(ctx, domain.MetaRecord{CaveID: 2, Rating: 50, Type: "ACG", Keywords: []string{"genshin"}})

	client := llm.NewClient([]llm.Endpoint{{URL: srv.URL, Key: "k", Model: "m"}}, time.Second, nil)
	mod := NewAIModerator(client, meta, subs, "analyze this", nil)

	newMeta := &domain.MetaRecord{CaveID: 3, Rating: 60, Type: "ACG", Keywords: []string{"arknights", "amiya"}}
	newSub := &domain.Submission{ID: 3, Elements: []domain.Element{{Kind: domain.ElementText, Text: "same meme, different words"}}}

	ids, err := mod.CheckDuplicates(ctx, newMeta, newSub)
	if err != nil {
		t.Fatalf("check duplicates: %v", err)
	}
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("expected [1], got %v", ids)
	}
	if lastPrompt == "" {
		t.Fatal("expected a prompt to be sent")
	}
}

func TestAIModerator_CheckDuplicatesNoCandidatesSkipsLLM(t *testing.T) {
	meta, subs := newStores(t)
	ctx := context.Background()
	_ = meta.Upsert(ctx, domain.MetaRecord{CaveID: 1, Rating: 50, Type: "ACG", Keywords: []string{"totally-different"}})

	calledLLM := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calledLLM = true
		w.Write([]byte(`{"choices":[{"message":{"content":"[]"}}]}`))
	}))
	defer srv.Close()

	client := llm.NewClient([]llm.Endpoint{{URL: srv.URL, Key: "k", Model: "m"}}, time.Second, nil)
	mod := NewAIModerator(client, meta, subs, "analyze this", nil)

	newMeta := &domain.MetaRecord{CaveID: 2, Rating: 60, Type: "ACG", Keywords: []string{"arknights"}}
	newSub := &domain.Submission{ID: 2}
	ids, err := mod.CheckDuplicates(ctx, newMeta, newSub)
	if err != nil {
		t.Fatalf("check duplicates: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no duplicates, got %v", ids)
	}
	if calledLLM {
		t.Fatal("expected LLM not to be called when no candidates meet the Jaccard threshold")
	}
}
