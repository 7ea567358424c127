package observability

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func setupAuditDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestAuditLogger_Log_Synchronous(t *testing.T) {
	db := setupAuditDB(t)
	a := NewAuditLogger(db, 10)
	defer a.Close()

	entry := a.NewAuditEntry("similarity", "check", 42, map[string]string{"kind": "text"}, nil, nil, 5*time.Millisecond)
	if err := a.Log(context.Background(), entry); err != nil {
		t.Fatal(err)
	}

	got, err := a.Query(context.Background(), &AuditFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("entries: got %d, want 1", len(got))
	}
	if got[0].ComponentName != "similarity" || got[0].CaveID != 42 {
		t.Fatalf("entry mismatch: %+v", got[0])
	}
}

func TestAuditLogger_NewAuditEntry_RecordsError(t *testing.T) {
	a := NewAuditLogger(setupAuditDB(t), 10)
	defer a.Close()

	entry := a.NewAuditEntry("ai", "analyze", 7, nil, nil, errors.New("endpoint down"), time.Second)
	if entry.Status != "error" {
		t.Fatalf("status: got %q, want error", entry.Status)
	}
	if entry.ErrorMessage != "endpoint down" {
		t.Fatalf("error message: got %q", entry.ErrorMessage)
	}
}

func TestAuditLogger_LogAsync_FlushesOnClose(t *testing.T) {
	db := setupAuditDB(t)
	a := NewAuditLogger(db, 10)

	for i := 0; i < 5; i++ {
		a.LogAsync(a.NewAuditEntry("orchestrator", "approve", int64(i), nil, nil, nil, 0))
	}
	a.Close()

	got, err := a.Query(context.Background(), &AuditFilter{Limit: 100})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("entries: got %d, want 5", len(got))
	}
}

func TestAuditLogger_Query_FiltersByComponent(t *testing.T) {
	db := setupAuditDB(t)
	a := NewAuditLogger(db, 10)
	defer a.Close()

	a.Log(context.Background(), a.NewAuditEntry("similarity", "check", 1, nil, nil, nil, 0))
	a.Log(context.Background(), a.NewAuditEntry("ai", "analyze", 2, nil, nil, nil, 0))

	component := "ai"
	got, err := a.Query(context.Background(), &AuditFilter{ComponentName: &component})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ComponentName != "ai" {
		t.Fatalf("filtered query mismatch: %+v", got)
	}
}

func TestAuditLogger_Cleanup_DeletesOldEntries(t *testing.T) {
	db := setupAuditDB(t)
	a := NewAuditLogger(db, 10)
	defer a.Close()

	old := a.NewAuditEntry("orchestrator", "approve", 1, nil, nil, nil, 0)
	old.Timestamp = time.Now().AddDate(0, 0, -30)
	if err := a.Log(context.Background(), old); err != nil {
		t.Fatal(err)
	}
	if err := a.Log(context.Background(), a.NewAuditEntry("orchestrator", "approve", 2, nil, nil, nil, 0)); err != nil {
		t.Fatal(err)
	}

	n, err := a.Cleanup(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("cleaned up %d rows, want 1", n)
	}
}
