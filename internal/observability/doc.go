// Package observability provides structured logging and Prometheus metrics
// for the legion runtime. Loggers redact secrets before emitting and carry
// run correlation fields from context; metrics cover reasoning runs, tool
// executions, AI calls, scheduler jobs, approvals, and notifications.
package observability
