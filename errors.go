package modbus

import "errors"

// ErrorKind classifies a terminal failure by cause, not by exception
// type. Completions carry the kind alongside the protocol exception
// code (if any) so callers can branch with errors.Is instead of string
// matching.
type ErrorKind byte

const (
	// KindNone means the request completed with a decoded payload.
	KindNone ErrorKind = iota
	// KindInvalidInput is rejected at the submission boundary; no slot is consumed.
	KindInvalidInput
	// KindResourceExhaustion covers no-free-slot, full-queue and allocation failures.
	KindResourceExhaustion
	// KindTransportFault covers connect/send/read failures. The carrier is
	// not closed or reconnected when a request fails this way.
	KindTransportFault
	// KindTimeout means no response arrived before the deadline: the timeout
	// wheel retired the slot (TCP) or the port read deadline passed (serial).
	KindTimeout
	// KindProtocolException means the remote unit returned an exception frame.
	KindProtocolException
	// KindFrameIntegrity means a CRC mismatch or truncated read was observed.
	KindFrameIntegrity
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInvalidInput:
		return "invalid-input"
	case KindResourceExhaustion:
		return "resource-exhaustion"
	case KindTransportFault:
		return "transport-fault"
	case KindTimeout:
		return "timeout"
	case KindProtocolException:
		return "protocol-exception"
	case KindFrameIntegrity:
		return "frame-integrity"
	default:
		return "unknown"
	}
}

// Sentinel errors returned synchronously by the submission surface, or
// passed as a CompletionFunc's err argument. The engine wraps them with an
// ErrorKind (wrapKind), so callers can errors.Is against the sentinel and
// read the kind with KindOf.
var (
	ErrNoFreeSlot          = errors.New("modbus: no free request slot")
	ErrQueueFull           = errors.New("modbus: carrier work queue full")
	ErrInvalidParameter    = errors.New("modbus: invalid request parameter")
	ErrTransportFault      = errors.New("modbus: transport fault")
	ErrResponseTimeout     = errors.New("modbus: response timeout")
	ErrProtocolException   = errors.New("modbus: protocol exception")
	ErrCorrelationMismatch = errors.New("modbus: response did not correlate to an in-flight request")
	ErrFrameIntegrity      = errors.New("modbus: frame integrity check failed")
	ErrEngineClosed        = errors.New("modbus: engine is shut down")
	ErrUnknownContext      = errors.New("modbus: unknown context id")
	ErrInvalidConfig       = errors.New("modbus: invalid configuration")
	ErrMemoryExhausted     = errors.New("modbus: arena allocation exhausted")
)

// kindError pairs a sentinel with its ErrorKind for errors.Is-friendly wrapping.
type kindError struct {
	kind ErrorKind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }
func (e *kindError) Is(target error) bool {
	if ke, ok := target.(*kindError); ok {
		return ke.kind == e.kind
	}
	return errors.Is(e.err, target)
}

func wrapKind(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// KindOf extracts the ErrorKind carried by an error produced by this
// package, defaulting to KindNone for unrelated errors.
func KindOf(err error) ErrorKind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindNone
}
