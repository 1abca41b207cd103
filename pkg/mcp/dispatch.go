package mcp

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/mcpkit/mcpkit/pkg/errors"
	"github.com/mcpkit/mcpkit/pkg/sandbox"
)

const defaultPageSize = 50

// ToolCallParams is "tools/call"'s params shape.
type ToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolCallResult is "tools/call"'s result shape.
type ToolCallResult struct {
	Content json.RawMessage `json:"content"`
}

// toolListResult is "tools/list"'s result shape.
type toolListResult struct {
	PaginatedResult
	Tools []toolDescriptor `json:"tools"`
}

type toolDescriptor struct {
	Name string `json:"name"`
}

type namedResourceListResult struct {
	PaginatedResult
	Items []namedResourceDescriptor `json:"items"`
}

type namedResourceDescriptor struct {
	URI string `json:"uri"`
}

// Dispatch decodes one JSON-RPC request and routes it to host's gated
// trampolines, translating sandbox violations and errors into
// JSON-RPC error responses per spec.md §6. Dispatch never panics: a
// malformed request, an unknown method, or a sandbox error all
// produce a well-formed Response.
func Dispatch(ctx context.Context, host *sandbox.Host, req Request) Response {
	switch req.Method {
	case "tools/call":
		return dispatchToolCall(ctx, host, req)
	case "tools/list":
		return dispatchList(host, req, "mcp.tools")
	case "prompts/list":
		return dispatchList(host, req, "mcp.prompts")
	case "resources/list":
		return dispatchList(host, req, "mcp.resources")
	default:
		return errorResponse(req.ID, CodeMethodNotFound, "unknown method: "+req.Method)
	}
}

func dispatchToolCall(ctx context.Context, host *sandbox.Host, req Request) Response {
	var params ToolCallParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "malformed tools/call params")
		}
	}
	if params.Name == "" {
		return errorResponse(req.ID, CodeInvalidParams, "tools/call requires a name")
	}

	resp, err := host.Invoke(ctx, sandbox.Request{ToolName: params.Name, Payload: params.Arguments})
	if err != nil {
		return errorResponseForSandboxError(req.ID, err)
	}
	return resultResponse(req.ID, ToolCallResult{Content: resp.Payload})
}

func dispatchList(host *sandbox.Host, req Request, extensionID string) Response {
	var params PaginatedParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "malformed list params")
		}
	}

	names, err := extensionNames(host, extensionID)
	if err != nil {
		return errorResponse(req.ID, CodeInternalError, err.Error())
	}
	sort.Strings(names)

	page, next, err := paginate(names, params.Cursor, defaultPageSize)
	if err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "malformed cursor")
	}

	switch extensionID {
	case "mcp.tools":
		tools := make([]toolDescriptor, len(page))
		for i, name := range page {
			tools[i] = toolDescriptor{Name: name}
		}
		return resultResponse(req.ID, toolListResult{PaginatedResult: PaginatedResult{NextCursor: next}, Tools: tools})
	default:
		items := make([]namedResourceDescriptor, len(page))
		for i, name := range page {
			items[i] = namedResourceDescriptor{URI: name}
		}
		return resultResponse(req.ID, namedResourceListResult{PaginatedResult: PaginatedResult{NextCursor: next}, Items: items})
	}
}

// extensionNames looks up the compiled value for extensionID on
// host's policy and returns the names/patterns it declares. A policy
// with no such extension registered lists nothing, consistent with
// the default-deny posture the rest of the policy engine takes.
func extensionNames(host *sandbox.Host, extensionID string) ([]string, error) {
	value, ok := host.Policy().Extension(extensionID)
	if !ok {
		return nil, nil
	}
	switch v := value.(type) {
	case *compiledTools:
		return v.names(), nil
	case *compiledNamedResources:
		return v.names(), nil
	default:
		return nil, errors.New(errors.ErrInternal, "unexpected compiled extension value type").
			WithField("extension", extensionID)
	}
}

// errorResponseForSandboxError maps a pkg/sandbox error to the
// matching JSON-RPC error code, per spec.md §7's propagation rules:
// policy decisions never surface as anything but a structured
// MCPKitError from Invoke, which this function translates into the
// wire-level code a client can branch on.
func errorResponseForSandboxError(id json.RawMessage, err error) Response {
	switch {
	case errors.IsErrorCode(err, errors.ErrPolicyDenied):
		return errorResponse(id, CodePolicyDenied, err.Error())
	case errors.IsErrorCode(err, errors.ErrRateLimited):
		return errorResponse(id, CodeRateLimited, err.Error())
	default:
		return errorResponse(id, CodeInternalError, err.Error())
	}
}
