package bridge

import "errors"

// Sentinel errors matching the taxonomy in the design: every recoverable
// condition becomes exactly one of these, which is translated into a
// protocol-specific wire encoding (BROP success:false, CDP error object via
// CDPErrorCode) when the reply to the client is built, either by the engine
// (errorFrame, failClient) or by a listener.
var (
	// ErrParse means the inbound frame was not valid JSON, or valid JSON
	// that did not match either protocol's frame shape.
	ErrParse = errors.New("parse-error")

	// ErrExtensionOffline means no extension connection exists to forward
	// the command to. Maps to CDP code -32000, BROP success:false.
	ErrExtensionOffline = errors.New("extension-offline")

	// ErrCommandTimeout means a pending request's deadline fired before a
	// matching response arrived from the extension.
	ErrCommandTimeout = errors.New("command-timeout")

	// ErrTransportLost means the extension disconnected while the request
	// was inflight and the request's keep-across-reconnect flag was unset.
	ErrTransportLost = errors.New("transport-lost")

	// ErrDuplicateEvent is never surfaced to a client; it exists so the
	// suppression path can log a structured reason via errors.Is.
	ErrDuplicateEvent = errors.New("duplicate-event")

	// ErrInvalidMessageID means a CDP frame's id was present but was
	// neither a JSON number nor a JSON string. CDP code -32600.
	ErrInvalidMessageID = errors.New("invalid-message-id")

	// ErrUnknownMethod is propagated verbatim from the extension; the
	// bridge does not validate method names itself.
	ErrUnknownMethod = errors.New("unknown-method")

	// ErrTransportClosed means send() was attempted on a connection whose
	// peer is already gone.
	ErrTransportClosed = errors.New("transport-closed")
)

// CDPErrorCode maps a sentinel error to the CDP JSON-RPC-shaped error code
// used in an outgoing {id, error:{code, message}} frame. Errors with no
// entry here are reported as -32603 (internal error), matching CDP's
// generic catch-all.
func CDPErrorCode(err error) int {
	switch {
	case errors.Is(err, ErrExtensionOffline):
		return -32000
	case errors.Is(err, ErrInvalidMessageID):
		return -32600
	case errors.Is(err, ErrCommandTimeout):
		return -32000
	case errors.Is(err, ErrTransportLost):
		return -32000
	default:
		return -32603
	}
}

// ExtensionOfflineMessage is the fixed human-readable text of the BROP error
// sent when a queued command expires before the extension reconnects. An
// immediate extension-offline reply carries ErrExtensionOffline's own text.
const ExtensionOfflineMessage = "Chrome extension not connected"
