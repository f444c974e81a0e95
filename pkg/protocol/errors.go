package protocol

// Error codes carried in RUN_ERROR messages and structured request
// rejections.
const (
	ErrInvalidRequest = "INVALID_REQUEST"
	ErrAlreadyRunning = "ALREADY_RUNNING"
	ErrNotFound       = "NOT_FOUND"
	ErrSessionClosed  = "SESSION_CLOSED"
	ErrToolTimeout    = "TOOL_CALL_TIMEOUT"
	ErrUpstream       = "UPSTREAM_ERROR"
	ErrRateLimited    = "RESOURCE_EXHAUSTED"
	ErrInternal       = "INTERNAL"
)
