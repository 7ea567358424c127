// Package shield provides reusable HTTP security middleware for the echo
// cave's admin surface. It consolidates security headers, rate limiting,
// body limits, request tracing, maintenance-mode gating, and HEAD method
// handling into a single importable package.
//
// Usage:
//
//	r := chi.NewRouter()
//	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
//	r.Use(shield.MaxFormBody(64 * 1024))
//	r.Use(shield.TraceID)
//	r.Use(shield.NewRateLimiter(db).Middleware)
//	r.Use(shield.HeadToGet)
//
// Or apply the default stack in one call:
//
//	stack, mm := shield.DefaultFOStack(db)
//	mm.StartReloader(done)
//	for _, mw := range stack {
//	    r.Use(mw)
//	}
package shield

import (
	"database/sql"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultFOStack returns the standard middleware stack for the echo cave's
// publicly-reachable ingest surface.
// Middleware is ordered: Maintenance → HeadToGet → SecurityHeaders → MaxFormBody → TraceID → RateLimiter.
// The returned MaintenanceMode handle allows callers to set a custom page
// and call StartReloader. /health bypasses maintenance.
func DefaultFOStack(db *sql.DB) ([]func(http.Handler) http.Handler, *MaintenanceMode) {
	rl := NewRateLimiter(db)
	mm := NewMaintenanceMode(db, "/health")
	return []func(http.Handler) http.Handler{
		mm.Middleware,
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxFormBody(64 * 1024),
		TraceID,
		rl.Middleware,
	}, mm
}

// DefaultBOStack returns the standard middleware stack for the echo cave's
// internal/admin routes. Same as FO but without maintenance gating or rate
// limiting.
func DefaultBOStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxFormBody(64 * 1024),
		TraceID,
	}
}
