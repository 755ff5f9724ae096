// Package postgres implements every repository interface declared across
// engine/{agent,tool,workflow,orchestrator,agentexec,approval,schedule}
// against a single pgxpool-backed store: connection pool management,
// migrations, and scanning/query-building helpers. It intentionally
// contains only driver-specific code and must not leak pgx types outside
// of its public API.
package postgres
