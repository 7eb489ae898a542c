package schema

import "errors"

// Failure taxonomy. Components wrap these with context and callers match
// with errors.Is.
var (
	ErrUnreachable          = errors.New("device unreachable")
	ErrConnectTimeout       = errors.New("connect timeout")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAuthExhausted        = errors.New("authentication attempts exhausted")
	ErrTransport            = errors.New("transport error")
	ErrMonitorTimeout       = errors.New("monitor timeout")
	ErrConfigurationMissing = errors.New("configuration missing")
	ErrExtractionIncomplete = errors.New("extraction incomplete")
	ErrCancelled            = errors.New("cancelled")
)
