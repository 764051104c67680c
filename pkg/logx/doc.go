// Package logx configures CloudGather's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output daily-rotated, JSON-structured, retained LOG_SAVE_DAYS
//   - An optional in-memory per-task log ring sink (internal/logring)
package logx
