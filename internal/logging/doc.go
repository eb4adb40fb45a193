// Package logging wraps log/slog with foundry's console and JSON handlers,
// config-driven construction, and shared attribute helpers so every component
// emits uniformly keyed structured logs.
package logging
