// Package rpc defines the line-delimited JSON-RPC 2.0 wire types spoken
// between an MCP client and a tool server, plus helpers for classifying
// raw protocol lines without interpreting tool semantics.
package rpc

import "encoding/json"

// ProtocolVersion is the MCP protocol revision sent during initialize.
const ProtocolVersion = "2024-11-05"

// MethodToolsCall is the request method that invokes a tool.
const MethodToolsCall = "tools/call"

// MethodToolsList is the request method that enumerates tools.
const MethodToolsList = "tools/list"

// MethodInitialize is the handshake request method.
const MethodInitialize = "initialize"

// MethodInitialized is the post-handshake notification method.
const MethodInitialized = "notifications/initialized"

// Request is a JSON-RPC 2.0 request or notification. A nil ID marks a
// notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Standard JSON-RPC error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Tool describes a tool exposed by an MCP server. InputSchema stays raw:
// the interceptor never interprets tool semantics.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListToolsResult holds the result of tools/list.
type ListToolsResult struct {
	Tools []*Tool `json:"tools"`
}

// CallToolParams holds parameters for tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ClientInfo identifies the client during initialize.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams holds parameters for the initialize request.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

// InitializeResult holds the result of the initialize request.
type InitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ServerInfo      ClientInfo      `json:"serverInfo"`
}
