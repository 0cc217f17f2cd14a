// Package modbus implements an asynchronous Modbus-style transaction
// engine: callers submit read/write requests for coils, discrete inputs,
// holding/input registers, file records and device identification against
// a remote unit addressed over a TCP or serial (RTU) carrier, and receive
// exactly one completion per accepted request.
//
// The engine serializes requests onto one carrier writer per device,
// correlates responses back to their originating request by transaction
// identity, enforces a bounded per-request response deadline via a
// constant-memory timeout wheel, and dispatches completions on a single
// response-dispatcher goroutine.
package modbus
