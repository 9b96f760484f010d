// Package refinetools provides the MCP tool surface of the refinement
// engine.
//
// Each tool handler follows the same pattern:
// - A struct with dependencies (refine.Manager, memory.Store) injected via constructor
// - Definition() returns the mcp.Tool schema
// - Handle() processes the request and returns a result
//
// Results are JSON envelopes discriminated by a top-level "type" field, so
// a calling agent can branch on the outcome without parsing prose. Errors
// use the {"type":"error","error":{"kind","message"}} envelope; the kind
// mirrors the engine's error taxonomy.
package refinetools

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dverbeek/memwarden/internal/refine"
)

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// jsonResult renders v as an indented JSON tool result.
func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Type  string    `json:"type"`
	Error errorBody `json:"error"`
}

// errorResult renders err as the error envelope. Engine errors keep their
// taxonomy kind; anything else is reported as a system error.
func errorResult(err error) *mcp.CallToolResult {
	kind, message := "system", err.Error()
	if e, ok := refine.AsError(err); ok {
		kind, message = string(e.Kind), e.Message
	}
	data, mErr := json.MarshalIndent(errorEnvelope{
		Type:  "error",
		Error: errorBody{Kind: kind, Message: message},
	}, "", "  ")
	if mErr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(data))
}

// validationResult is errorResult for input problems the engine never sees,
// such as unparseable tool arguments.
func validationResult(format string, args ...any) *mcp.CallToolResult {
	return errorResult(&refine.Error{
		Kind:    refine.ErrValidation,
		Message: fmt.Sprintf(format, args...),
	})
}

// noSessionResult is the envelope for session tools called before
// refine_begin.
func noSessionResult() *mcp.CallToolResult {
	return errorResult(&refine.Error{
		Kind:    refine.ErrConstraint,
		Message: "no refinement session; call refine_begin first",
	})
}

// runCommand executes cmd on the manager's current session and renders
// the outcome. A terminal session answers through the engine's terminated
// error, so post-completion calls still get a typed envelope.
func runCommand(manager *refine.Manager, cmd refine.Command) *mcp.CallToolResult {
	session := manager.Current()
	if session == nil {
		return noSessionResult()
	}
	outcome, err := session.Execute(cmd)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(outcome)
}
