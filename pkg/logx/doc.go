// Package logx is checktime's structured logging layer.
//
// A thin wrapper (logx.Logger) over zerolog keeps:
//   - console output readable (short timestamp + short caller)
//   - file output as JSON lines
//   - an optional operator-chat sink (min level + rate limit)
package logx
