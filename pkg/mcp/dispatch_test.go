package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mcpkit/mcpkit/pkg/capability"
	"github.com/mcpkit/mcpkit/pkg/policy"
	"github.com/mcpkit/mcpkit/pkg/policy/compiled"
	"github.com/mcpkit/mcpkit/pkg/sandbox"
)

func mustCompilePolicy(t *testing.T, src string) *compiled.Policy {
	t.Helper()
	doc, err := policy.Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	model, _, err := policy.Validate(doc, Registry())
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	p, err := compiled.Compile(model)
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	return p
}

type fakeInstance struct {
	response sandbox.Response
	err      error
}

func (f *fakeInstance) Invoke(ctx context.Context, req sandbox.Request) (sandbox.Response, error) {
	return f.response, f.err
}

func (f *fakeInstance) Close(ctx context.Context) error { return nil }

type fakeModule struct {
	instance *fakeInstance
}

func (f *fakeModule) Instantiate(ctx context.Context, descriptor *capability.Descriptor, imports sandbox.HostImports) (sandbox.Instance, error) {
	return f.instance, nil
}

func (f *fakeModule) Close(ctx context.Context) error { return nil }

func newTestHost(t *testing.T, p *compiled.Policy, inst *fakeInstance) *sandbox.Host {
	t.Helper()
	descriptor := &capability.Descriptor{Env: capability.EnvDescriptor{Vars: map[string]string{}}}
	h := sandbox.NewHost(p, descriptor, &fakeModule{instance: inst})
	if err := h.Ready(context.Background()); err != nil {
		t.Fatalf("Ready error: %v", err)
	}
	return h
}

const toolsPolicy = `
version: "1.0"
mcp.tools:
  allow:
    - name: calc.add
      max_calls_per_minute: 2
`

func TestDispatchToolCallAllowed(t *testing.T) {
	p := mustCompilePolicy(t, toolsPolicy)
	host := newTestHost(t, p, &fakeInstance{response: sandbox.Response{Payload: []byte(`{"sum":3}`)}})

	params, _ := json.Marshal(ToolCallParams{Name: "calc.add", Arguments: json.RawMessage(`{"a":1,"b":2}`)})
	resp := Dispatch(context.Background(), host, Request{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: "tools/call", Params: params})

	if resp.Error != nil {
		t.Fatalf("unexpected error response: %+v", resp.Error)
	}
	var result ToolCallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if string(result.Content) != `{"sum":3}` {
		t.Errorf("unexpected content: %s", result.Content)
	}
}

func TestDispatchToolCallDeniedProducesPolicyDeniedCode(t *testing.T) {
	p := mustCompilePolicy(t, `version: "1.0"`)
	host := newTestHost(t, p, &fakeInstance{response: sandbox.Response{}})

	params, _ := json.Marshal(ToolCallParams{Name: "calc.add"})
	resp := Dispatch(context.Background(), host, Request{Method: "tools/call", Params: params})

	if resp.Error == nil {
		t.Fatal("expected an error response for a tool not in any allow list")
	}
	if resp.Error.Code != CodePolicyDenied {
		t.Errorf("expected CodePolicyDenied, got %d", resp.Error.Code)
	}
}

func TestDispatchToolCallMissingNameIsInvalidParams(t *testing.T) {
	p := mustCompilePolicy(t, `version: "1.0"`)
	host := newTestHost(t, p, &fakeInstance{})

	resp := Dispatch(context.Background(), host, Request{Method: "tools/call", Params: json.RawMessage(`{}`)})
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("expected CodeInvalidParams, got %+v", resp.Error)
	}
}

func TestDispatchUnknownMethod(t *testing.T) {
	p := mustCompilePolicy(t, `version: "1.0"`)
	host := newTestHost(t, p, &fakeInstance{})

	resp := Dispatch(context.Background(), host, Request{Method: "nonexistent/method"})
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("expected CodeMethodNotFound, got %+v", resp.Error)
	}
}

func TestDispatchToolsListReturnsAllowedNames(t *testing.T) {
	p := mustCompilePolicy(t, toolsPolicy)
	host := newTestHost(t, p, &fakeInstance{})

	resp := Dispatch(context.Background(), host, Request{Method: "tools/list"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	var result toolListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if len(result.Tools) != 1 || result.Tools[0].Name != "calc.add" {
		t.Errorf("unexpected tools: %+v", result.Tools)
	}
}

func TestDispatchToolsListFitsOnePageWithoutNextCursor(t *testing.T) {
	p := mustCompilePolicy(t, `
version: "1.0"
mcp.tools:
  allow:
    - name: a.one
    - name: a.two
    - name: a.three
`)
	host := newTestHost(t, p, &fakeInstance{})

	first := Dispatch(context.Background(), host, Request{Method: "tools/list", Params: json.RawMessage(`{}`)})
	var firstResult toolListResult
	if err := json.Unmarshal(first.Result, &firstResult); err != nil {
		t.Fatalf("failed to unmarshal first page: %v", err)
	}
	if len(firstResult.Tools) != 3 {
		t.Fatalf("expected all 3 tools on one page at default page size, got %d", len(firstResult.Tools))
	}
	if firstResult.NextCursor != "" {
		t.Errorf("expected no next cursor when every item fits on one page")
	}
}

func TestDispatchPromptsListReturnsConfiguredPatterns(t *testing.T) {
	p := mustCompilePolicy(t, `
version: "1.0"
mcp.prompts:
  allow:
    - uri: "prompt://greeting"
`)
	host := newTestHost(t, p, &fakeInstance{})

	resp := Dispatch(context.Background(), host, Request{Method: "prompts/list"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	var result namedResourceListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if len(result.Items) != 1 || result.Items[0].URI != "prompt://greeting" {
		t.Errorf("unexpected items: %+v", result.Items)
	}
}
