// Package executors implements the internal (non-MCP) tools the Tool
// Dispatcher can route to directly: SSH command execution, SFTP upload,
// web search, and monitoring-task deployment.
package executors

import (
	"errors"
	"fmt"
)

var (
	ErrAssetNotFound  = errors.New("asset not found")
	ErrKeyNotFound    = errors.New("key not found")
	ErrKeyParseFailed = errors.New("private key could not be parsed with any supported algorithm")
)

// Result is the uniform shape returned by every internal executor. Errors
// never escape past this boundary — per §4.3, a failure is always
// {status:"error", message}, never a raised exception reaching the
// dispatcher.
type Result map[string]interface{}

func errResult(format string, args ...interface{}) Result {
	return Result{"status": "error", "message": fmt.Sprintf(format, args...)}
}
