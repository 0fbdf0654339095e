// Package errs collects the sentinel error kinds shared across the
// tool-server fleet, the invoker and the reasoning pipeline. Callers
// should wrap these with fmt.Errorf("...: %w", ErrX) and compare with
// errors.Is.
package errs

import "errors"

var (
	// ErrConfigInvalid marks a tool-server or pipeline configuration
	// that failed validation. Fatal at startup.
	ErrConfigInvalid = errors.New("config_invalid")

	// ErrServerUnhealthy marks a tool server that failed to connect or
	// failed its health check.
	ErrServerUnhealthy = errors.New("server_unhealthy")

	// ErrProtocol marks a malformed wire message, a mismatched
	// response id, or any other JSON-RPC envelope violation.
	ErrProtocol = errors.New("protocol_error")

	// ErrTimeout marks a per-call, per-batch or handshake timeout.
	ErrTimeout = errors.New("timeout")

	// ErrNoServer marks a tool invocation for which no healthy server
	// is available.
	ErrNoServer = errors.New("no_server")

	// ErrDeniedByFilter marks a tool invocation rejected by a
	// registered filter or allow/deny policy before dispatch.
	ErrDeniedByFilter = errors.New("denied_by_filter")

	// ErrParse marks an LLM agent response that could not be parsed
	// as the expected JSON shape.
	ErrParse = errors.New("parse_error")

	// ErrUpstream marks a failure of the final call to the upstream
	// model.
	ErrUpstream = errors.New("upstream_failure")

	// ErrCancelled marks a call dropped because its context was
	// cancelled while in flight.
	ErrCancelled = errors.New("cancelled")
)
