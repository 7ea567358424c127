package kit

import (
	"context"
	"testing"
)

func TestContext_TraceID(t *testing.T) {
	ctx := context.Background()
	if v := GetTraceID(ctx); v != "" {
		t.Fatalf("empty context: got %q", v)
	}

	ctx = WithTraceID(ctx, "trc_xyz")
	if v := GetTraceID(ctx); v != "trc_xyz" {
		t.Fatalf("after set: got %q", v)
	}
}

func TestContext_RequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req_abc")
	if v := GetRequestID(ctx); v != "req_abc" {
		t.Fatalf("request_id: got %q", v)
	}
}

func TestContext_Transport_Default(t *testing.T) {
	ctx := context.Background()
	if v := GetTransport(ctx); v != "http" {
		t.Fatalf("default transport: got %q, want 'http'", v)
	}
}
