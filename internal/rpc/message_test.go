package rpc

import "testing"

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name string
		line string
		want MessageKind
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, KindRequest},
		{"string id request", `{"jsonrpc":"2.0","id":"a","method":"ping"}`, KindRequest},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, KindNotification},
		{"response", `{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`, KindResponse},
		{"error response", `{"jsonrpc":"2.0","id":2,"error":{"code":-32601,"message":"no"}}`, KindResponse},
		{"not json", `hello world`, KindInvalid},
		{"truncated", `{"jsonrpc":"2.0","id":`, KindInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := Parse([]byte(tt.line))
			if msg.Kind != tt.want {
				t.Errorf("Parse(%q).Kind = %v, want %v", tt.line, msg.Kind, tt.want)
			}
		})
	}
}

func TestParseResponsePayloads(t *testing.T) {
	msg := Parse([]byte(`{"jsonrpc":"2.0","id":7,"error":{"code":-32602,"message":"bad params"}}`))
	if msg.Kind != KindResponse {
		t.Fatalf("Kind = %v, want KindResponse", msg.Kind)
	}
	if msg.Error == nil || msg.Error.Code != -32602 {
		t.Errorf("Error = %+v, want code -32602", msg.Error)
	}
	if CorrelationKey(msg.ID) != "7" {
		t.Errorf("CorrelationKey = %q, want %q", CorrelationKey(msg.ID), "7")
	}
}

func TestCorrelationKey(t *testing.T) {
	tests := []struct {
		name string
		id   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "req-9", "req-9"},
		{"float integral", float64(42), "42"},
		{"float fractional", 1.5, "1.5"},
		{"int", 3, "3"},
		{"int64", int64(99), "99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CorrelationKey(tt.id); got != tt.want {
				t.Errorf("CorrelationKey(%v) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestToolName(t *testing.T) {
	if got := ToolName([]byte(`{"name":"read_file","arguments":{"path":"/a"}}`)); got != "read_file" {
		t.Errorf("ToolName = %q, want read_file", got)
	}
	if got := ToolName(nil); got != "" {
		t.Errorf("ToolName(nil) = %q, want empty", got)
	}
	if got := ToolName([]byte(`not json`)); got != "" {
		t.Errorf("ToolName(garbage) = %q, want empty", got)
	}
}
