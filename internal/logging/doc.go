// Package logging configures structured slog output for amanrag. Logs are
// JSON lines written to a size-rotated file under ~/.amanrag/logs/, and
// optionally mirrored to stderr. Server mode never touches stdout or stderr
// because the MCP stdio transport owns them.
package logging
