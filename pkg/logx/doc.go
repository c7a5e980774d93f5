// Package logx configures xposter's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - The data-dir log file append-only JSON Lines ({ts, level, event, ...})
package logx
