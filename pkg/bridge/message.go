package bridge

import (
	"encoding/json"
	"fmt"
)

// CDPFrame is the wire shape exchanged with a downstream CDP client. Exactly
// one of three shapes is legal: a command carries method+id, an event
// carries method with no id, a response carries id with result or error.
// ParseCDPFrame validates the id at the boundary and IsCommand, IsEvent and
// IsResponse tell the shapes apart; a frame that mixes fields of several
// shapes is not rejected by the parser.
type CDPFrame struct {
	ID        *MessageID      `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *CDPError       `json:"error,omitempty"`
}

// CDPError is the {code, message} error object CDP expects in place of
// result.
type CDPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// MessageID preserves a CDP id's original JSON encoding (number or string)
// so responses echo it byte-for-byte, while still letting the bridge use it
// as a registry key.
type MessageID struct {
	raw json.RawMessage
}

// NewNumericID builds a MessageID from a bridge-assigned integer, used when
// the bridge assigns an id itself (e.g. to a BROP frame that arrived
// without one).
func NewNumericID(n int64) *MessageID {
	return &MessageID{raw: json.RawMessage(fmt.Sprintf("%d", n))}
}

// String returns the id's canonical form, used as a request registry key.
// Numeric and string ids never collide because numeric raw encodings never
// start with a quote.
func (m *MessageID) String() string {
	if m == nil {
		return ""
	}
	return string(m.raw)
}

func (m MessageID) MarshalJSON() ([]byte, error) {
	if len(m.raw) == 0 {
		return []byte("null"), nil
	}
	return m.raw, nil
}

func (m *MessageID) UnmarshalJSON(data []byte) error {
	m.raw = append(json.RawMessage(nil), data...)
	return nil
}

// Valid reports whether the id decodes as a JSON number or a JSON string,
// the only two shapes CDP permits.
func (m *MessageID) Valid() bool {
	if m == nil || len(m.raw) == 0 {
		return false
	}
	var asNumber float64
	if err := json.Unmarshal(m.raw, &asNumber); err == nil {
		return true
	}
	var asString string
	if err := json.Unmarshal(m.raw, &asString); err == nil {
		return true
	}
	return false
}

// cdpFrameWire mirrors CDPFrame but keeps id as a raw JSON value so
// ParseCDPFrame can tell an absent id apart from a present-but-null one.
// encoding/json never invokes a *MessageID field's UnmarshalJSON for a
// JSON null (it just leaves the pointer nil), so decoding straight into
// CDPFrame cannot distinguish {"method":"x"} from {"id":null,"method":"x"} -
// the latter must be rejected as an invalid id, not treated as an event.
type cdpFrameWire struct {
	ID        json.RawMessage `json:"id"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *CDPError       `json:"error,omitempty"`
}

// ParseCDPFrame decodes one CDP wire frame and classifies it. It returns
// ErrParse for invalid JSON and ErrInvalidMessageID when id is present but
// is neither a number nor a string - this includes a literal JSON null,
// which CDP does not accept as a command id.
func ParseCDPFrame(data []byte) (*CDPFrame, error) {
	var w cdpFrameWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	f := &CDPFrame{
		Method:    w.Method,
		Params:    w.Params,
		SessionID: w.SessionID,
		Result:    w.Result,
		Error:     w.Error,
	}

	switch {
	case len(w.ID) == 0:
		// id field absent entirely: legal for events.
	case string(w.ID) == "null":
		return nil, ErrInvalidMessageID
	default:
		id := &MessageID{raw: w.ID}
		if !id.Valid() {
			return nil, ErrInvalidMessageID
		}
		f.ID = id
	}

	return f, nil
}

// IsCommand reports whether f is a client-originated command (method+id).
func (f *CDPFrame) IsCommand() bool {
	return f.Method != "" && f.ID != nil
}

// IsEvent reports whether f is an event frame (method, no id). Outgoing
// events must always take this shape.
func (f *CDPFrame) IsEvent() bool {
	return f.Method != "" && f.ID == nil
}

// IsResponse reports whether f is a response frame (id, no method).
// Outgoing responses must always take this shape.
func (f *CDPFrame) IsResponse() bool {
	return f.ID != nil && f.Method == ""
}

// BROPFrame is the wire shape for the BROP command/response protocol.
// A legacy frame nests the method/params under "command"; ParseBROPFrame
// normalizes both shapes to the same struct.
type BROPFrame struct {
	ID     *MessageID      `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

type legacyBROPFrame struct {
	ID      *MessageID      `json:"id,omitempty"`
	Command *legacyCommand  `json:"command,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type legacyCommand struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ParseBROPFrame decodes a BROP request, accepting either the current
// {id?, method, params?} shape or the legacy {id?, command:{type,...}}
// shape used by older clients.
func ParseBROPFrame(data []byte) (*BROPFrame, error) {
	var f BROPFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if f.Method != "" {
		return &f, nil
	}

	var legacy legacyBROPFrame
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if legacy.Command == nil || legacy.Command.Type == "" {
		return nil, fmt.Errorf("%w: missing method", ErrParse)
	}
	return &BROPFrame{
		ID:     legacy.ID,
		Method: legacy.Command.Type,
		Params: legacy.Command.Params,
	}, nil
}

// BROPResponse is the wire shape returned to a BROP client.
type BROPResponse struct {
	ID      *MessageID      `json:"id"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}
