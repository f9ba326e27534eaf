package toolhost

import "encoding/json"

// The wire protocol is newline-delimited JSON-RPC 2.0 over the
// provider's stdio. The host calls initialize, tools/list, and
// tools/call; a provider may call sampling/createMessage back into the
// host.
const (
	methodInitialize = "initialize"
	methodListTools  = "tools/list"
	methodCallTool   = "tools/call"
	methodSampling   = "sampling/createMessage"
)

// wireMessage covers both directions: requests carry Method, responses
// carry Result or Error for a previously seen ID.
type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeMethodNotFound = -32601
	codeInternalError  = -32603
)

type initializeParams struct {
	ClientName   string          `json:"client_name"`
	Version      string          `json:"version"`
	Capabilities map[string]bool `json:"capabilities"`
}

type initializeResult struct {
	ServerName   string          `json:"server_name"`
	Capabilities map[string]bool `json:"capabilities"`
}

type toolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type listToolsResult struct {
	Tools []toolInfo `json:"tools"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type callToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"isError,omitempty"`
}

type samplingParams struct {
	Prompt string `json:"prompt"`
}

type samplingResult struct {
	Content string `json:"content"`
}
