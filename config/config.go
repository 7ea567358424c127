// Package config loads the echo cave's operator-facing knobs (spec.md §6)
// from the environment, following the teacher's env()-with-default
// pattern.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hazyhaar/echocave/llm"
	"github.com/hazyhaar/echocave/moderate"
	"github.com/hazyhaar/echocave/orchestrate"
)

// Config is every knob enumerated in spec.md §6, plus the server/storage
// wiring the teacher's cmd/chrc/main.go keeps alongside its service config.
type Config struct {
	Port     string
	DBPath   string
	BlobDir  string
	LogLevel string

	Thresholds           moderate.Thresholds
	AutoApproveThreshold int
	EnableSimilarity     bool
	EnableAI             bool
	EnablePend           bool
	EnableAutoApprove    bool
	OnAIReviewFail       orchestrate.ReviewFailPolicy

	Endpoints    []llm.Endpoint
	SystemPrompt string

	// TraceForwardURL, if set, ships this instance's SQL trace entries to a
	// central hub's /api/admin/traces instead of keeping them local — a
	// satellite deployment pattern for fleets of echo caves that want one
	// shared trace timeline.
	TraceForwardURL string
}

// Load builds a Config from the environment, applying spec.md §6's stated
// defaults wherever a variable is unset.
func Load() (Config, error) {
	cfg := Config{
		Port:     env("PORT", "8085"),
		DBPath:   env("CAVE_DB", "db/cave.db"),
		BlobDir:  env("BLOB_DIR", "data/blobs"),
		LogLevel: env("LOG_LEVEL", "info"),

		Thresholds: moderate.Thresholds{
			TextThreshold:  envFloat("TEXT_THRESHOLD", 90),
			ImageThreshold: envFloat("IMAGE_THRESHOLD", 95),
		},
		AutoApproveThreshold: envInt("AUTO_APPROVE_THRESHOLD", 60),
		EnableSimilarity:     envBool("ENABLE_SIMILARITY", true),
		EnableAI:             envBool("ENABLE_AI", true),
		EnablePend:           envBool("ENABLE_PEND", true),
		EnableAutoApprove:    envBool("ENABLE_AUTO_APPROVE", true),
		OnAIReviewFail:       orchestrate.ReviewFailPolicy(env("ON_AI_REVIEW_FAIL", string(orchestrate.OnAIReviewFailReject))),

		SystemPrompt: env("SYSTEM_PROMPT", defaultSystemPrompt),

		TraceForwardURL: env("TRACE_FORWARD_URL", ""),
	}

	endpoints, err := parseEndpoints(env("LLM_ENDPOINTS", ""))
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.Endpoints = endpoints

	if cfg.OnAIReviewFail != orchestrate.OnAIReviewFailReject && cfg.OnAIReviewFail != orchestrate.OnAIReviewFailFallthroughManual {
		return Config{}, fmt.Errorf("config: ON_AI_REVIEW_FAIL must be %q or %q, got %q",
			orchestrate.OnAIReviewFailReject, orchestrate.OnAIReviewFailFallthroughManual, cfg.OnAIReviewFail)
	}
	return cfg, nil
}

// OrchestratorConfig projects the operator knobs this Config carries onto
// orchestrate.Config.
func (c Config) OrchestratorConfig() orchestrate.Config {
	return orchestrate.Config{
		Thresholds:           c.Thresholds,
		AutoApproveThreshold: c.AutoApproveThreshold,
		EnableSimilarity:     c.EnableSimilarity,
		EnableAI:             c.EnableAI,
		EnablePend:           c.EnablePend,
		EnableAutoApprove:    c.EnableAutoApprove,
		OnAIReviewFail:       c.OnAIReviewFail,
	}
}

const defaultSystemPrompt = "Rate this submission's quality from 0-100, classify its type, and list a few keywords."

// parseEndpoints parses a semicolon-separated list of "url|key|model"
// triples. An empty string yields no endpoints (AI moderation must then be
// disabled).
func parseEndpoints(raw string) ([]llm.Endpoint, error) {
	if raw == "" {
		return nil, nil
	}
	var out []llm.Endpoint
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.SplitN(part, "|", 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed LLM_ENDPOINTS entry %q, want url|key|model", part)
		}
		out = append(out, llm.Endpoint{URL: fields[0], Key: fields[1], Model: fields[2]})
	}
	return out, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
