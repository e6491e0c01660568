package rpc

import (
	"encoding/json"
	"strconv"
)

// MessageKind classifies a parsed protocol line.
type MessageKind int

const (
	// KindInvalid marks bytes that do not parse as a JSON object. The
	// proxy forwards them verbatim without journaling.
	KindInvalid MessageKind = iota
	// KindRequest is an object with a method and an id.
	KindRequest
	// KindNotification is an object with a method and no id.
	KindNotification
	// KindResponse is an object without a method.
	KindResponse
)

// Message is a decoded protocol line. Payload fields stay raw so the
// proxy remains byte-transparent.
type Message struct {
	Kind    MessageKind
	ID      any
	Method  string
	Params  json.RawMessage
	Result  json.RawMessage
	Error   *Error
	Raw     []byte
}

// envelope is the superset shape used only for classification.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

// Parse classifies one protocol line. An object lacking a method is a
// response; one with a method is a request when an id is present and a
// notification otherwise.
func Parse(line []byte) *Message {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return &Message{Kind: KindInvalid, Raw: line}
	}
	msg := &Message{
		ID:     env.ID,
		Method: env.Method,
		Params: env.Params,
		Result: env.Result,
		Error:  env.Error,
		Raw:    line,
	}
	switch {
	case env.Method == "":
		msg.Kind = KindResponse
	case env.ID != nil:
		msg.Kind = KindRequest
	default:
		msg.Kind = KindNotification
	}
	return msg
}

// CorrelationKey stringifies a JSON-RPC id for in-flight correlation.
// JSON numbers arrive as float64; integral values render without a
// fraction so `1` and `1.0` correlate.
func CorrelationKey(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// ToolName extracts params.name from a tools/call request, or "" when
// absent or unparseable.
func ToolName(params json.RawMessage) string {
	if len(params) == 0 {
		return ""
	}
	var p CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ""
	}
	return p.Name
}
