package policy

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/mcpkit/mcpkit/pkg/errors"
)

func TestParseMinimalDocument(t *testing.T) {
	doc, err := Parse([]byte(`version: "1.0"`))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if doc.Version != "1.0" {
		t.Errorf("expected version 1.0, got %q", doc.Version)
	}
}

func TestValidateUnrecognizedVersion(t *testing.T) {
	doc, err := Parse([]byte(`version: "9.9"`))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	_, _, err = Validate(doc, NewRegistry())
	if err == nil {
		t.Fatal("expected validation error for unrecognized version")
	}
	if !errors.IsErrorCode(err, errors.ErrPolicyValidate) {
		t.Errorf("expected ErrPolicyValidate, got %v", errors.GetErrorCode(err))
	}
}

func TestValidateDenyAllBaseline(t *testing.T) {
	doc, err := Parse([]byte(`version: "1.0"`))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	model, warnings, err := Validate(doc, NewRegistry())
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("expected no warnings, got %v", warnings)
	}
	if len(model.StorageAllow) != 0 {
		t.Error("expected empty storage allow list")
	}
}

func TestValidateStorageWithDenyOverride(t *testing.T) {
	src := `
version: "1.0"
core:
  storage:
    allow:
      - uri: "fs:///tmp/**"
        access: ["read", "write"]
    deny:
      - uri: "fs:///tmp/secret/**"
        access: ["read", "write", "create", "delete", "execute"]
`
	doc, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	model, _, err := Validate(doc, NewRegistry())
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if len(model.StorageAllow) != 1 || model.StorageAllow[0].Pattern != "/tmp/**" {
		t.Errorf("unexpected storage allow: %+v", model.StorageAllow)
	}
	if len(model.StorageDeny) != 1 || model.StorageDeny[0].Pattern != "/tmp/secret/**" {
		t.Errorf("unexpected storage deny: %+v", model.StorageDeny)
	}
}

func TestValidateShadowedAllowWarning(t *testing.T) {
	src := `
version: "1.0"
core:
  storage:
    allow:
      - uri: "fs:///tmp/secret/x"
        access: ["read"]
    deny:
      - uri: "fs:///tmp/secret/**"
        access: ["read", "write"]
`
	doc, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	_, warnings, err := Validate(doc, NewRegistry())
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected one shadowed-allow warning, got %d", len(warnings))
	}
	if !strings.Contains(warnings[0].Message, "shadowed") {
		t.Errorf("expected warning message to mention shadowing, got %q", warnings[0].Message)
	}
}

func TestValidateNetworkCIDR(t *testing.T) {
	src := `
version: "1.0"
core:
  network:
    allow:
      - host: "10.0.0.0/8"
        ports: [443]
`
	doc, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	model, _, err := Validate(doc, NewRegistry())
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if len(model.NetworkAllow) != 1 || !model.NetworkAllow[0].IsCIDR {
		t.Errorf("expected one CIDR network allow rule, got %+v", model.NetworkAllow)
	}
}

func TestValidateResources(t *testing.T) {
	src := `
version: "1.0"
core:
  resources:
    cpu: "1.5"
    memory: "64Mi"
    execution_time: "5s"
    fuel: 1000000
`
	doc, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	model, _, err := Validate(doc, NewRegistry())
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if model.Resources.MemoryBytes != 64*1024*1024 {
		t.Errorf("expected 64Mi to parse to %d bytes, got %d", 64*1024*1024, model.Resources.MemoryBytes)
	}
	if model.Resources.Fuel != 1000000 {
		t.Errorf("expected fuel 1000000, got %d", model.Resources.Fuel)
	}
}

func TestValidateUnknownExtension(t *testing.T) {
	doc, err := Parse([]byte(`
version: "1.0"
mcp.tools:
  allow: []
`))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	_, _, err = Validate(doc, NewRegistry())
	if err == nil {
		t.Fatal("expected validation error for unregistered extension")
	}
}

type stubExtension struct {
	rejectParse bool
}

func (s *stubExtension) Identifier() string { return "mcp.tools" }

func (s *stubExtension) ParseSubtree(node yaml.Node) (interface{}, error) {
	if s.rejectParse {
		return nil, errors.New(errors.ErrPolicyValidate, "stub rejection")
	}
	var raw map[string]interface{}
	_ = node.Decode(&raw)
	return raw, nil
}

func (s *stubExtension) CompileSubtree(parsed interface{}) (interface{}, error) {
	return parsed, nil
}

func TestValidateRegisteredExtension(t *testing.T) {
	doc, err := Parse([]byte(`
version: "1.0"
mcp.tools:
  allow:
    - name: "calc.add"
`))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	reg := NewRegistry()
	if err := reg.Register(&stubExtension{}); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	model, _, err := Validate(doc, reg)
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if _, ok := model.Extensions["mcp.tools"]; !ok {
		t.Error("expected mcp.tools extension to be compiled into the model")
	}
}

func TestValidateExtensionRejection(t *testing.T) {
	doc, err := Parse([]byte(`
version: "1.0"
mcp.tools:
  allow: []
`))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	reg := NewRegistry()
	if err := reg.Register(&stubExtension{rejectParse: true}); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if _, _, err := Validate(doc, reg); err == nil {
		t.Fatal("expected validation error when extension rejects its subtree")
	}
}

func TestRegistryDuplicateRegistration(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&stubExtension{}); err != nil {
		t.Fatalf("first Register error: %v", err)
	}
	if err := reg.Register(&stubExtension{}); err == nil {
		t.Fatal("expected error registering the same extension identifier twice")
	}
}
