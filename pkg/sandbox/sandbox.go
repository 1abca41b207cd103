// Package sandbox hosts a single request/response cycle against one
// WASM module. It owns the state machine, the capability-gated
// host-import trampolines, and the accumulated violation record,
// while delegating actual module compilation/instantiation to a
// pluggable Runtime implementation (see pkg/sandbox/wazerort for the
// default wazero-backed adapter).
package sandbox

import (
	"context"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/mcpkit/mcpkit/pkg/capability"
	"github.com/mcpkit/mcpkit/pkg/errors"
	"github.com/mcpkit/mcpkit/pkg/logger"
	"github.com/mcpkit/mcpkit/pkg/policy/compiled"
)

// netConnectTimeout bounds a net_connect host call so a guest cannot
// stall an invocation indefinitely waiting on a slow or filtered peer.
const netConnectTimeout = 5 * time.Second

var log = logger.New("sandbox")

// State is one point in the sandbox host's lifecycle.
type State string

const (
	StateCreated        State = "created"
	StateReady          State = "ready"
	StateRunning        State = "running"
	StateCompleted      State = "completed"
	StateFailedPolicy   State = "failed_policy"
	StateFailedResource State = "failed_resource"
	StateFailedTrap     State = "failed_trap"
	StateDestroyed      State = "destroyed"
)

// ViolationKind classifies a recorded violation.
type ViolationKind string

const (
	ViolationPolicyDenied     ViolationKind = "policy_denied"
	ViolationRateLimited      ViolationKind = "rate_limited"
	ViolationResourceExceeded ViolationKind = "resource_exceeded"
)

// Violation is a single denied or rate-limited host call, accumulated
// on the sandbox host for post-hoc inspection regardless of whether it
// terminated the invocation.
type Violation struct {
	Kind      ViolationKind
	Action    string
	Timestamp time.Time
	Detail    string
}

// Request is one tool invocation request delivered to the guest.
type Request struct {
	ToolName string
	Payload  []byte
}

// Response is the guest's structured reply to a Request.
type Response struct {
	Payload []byte
}

// Runtime compiles WASM bytes (or a precompiled sidecar) into a
// CompiledModule, bound to a set of HostImports the guest may call
// into. Implementations are expected to be safe for concurrent use to
// compile multiple modules, though a single CompiledModule's
// Instantiate is called from one goroutine per spec's single-threaded
// per-invocation scheduling model.
type Runtime interface {
	Compile(ctx context.Context, wasmBytes []byte) (CompiledModule, error)
	// ResolvesSymlinks reports whether Instantiate's preopens resolve
	// symlinks. Host does not consult it: storage decisions are always
	// made on the lexically canonicalized path text.
	ResolvesSymlinks() bool
}

// CompiledModule is a WASM module ready to be instantiated against one
// invocation's capability descriptor and host imports.
type CompiledModule interface {
	Instantiate(ctx context.Context, descriptor *capability.Descriptor, imports HostImports) (Instance, error)
	Close(ctx context.Context) error
}

// Instance is one running copy of a compiled module, isolated from
// every other invocation's instance.
type Instance interface {
	// Invoke calls the guest's request entrypoint with the request
	// payload and returns the guest's response payload.
	Invoke(ctx context.Context, req Request) (Response, error)
	Close(ctx context.Context) error
}

// HostImports is the set of trampoline callbacks a Runtime adapter
// wires up as guest-importable host functions. Each callback performs
// the full decode-consult-act cycle described in spec.md §4.5; the
// Runtime adapter's only job is marshaling arguments to and from guest
// linear memory around these calls.
type HostImports struct {
	ToolInvoke   func(ctx context.Context, name string, args []byte) ([]byte, error)
	FSRead       func(ctx context.Context, path string) ([]byte, error)
	FSWrite      func(ctx context.Context, path string, data []byte) error
	FSList       func(ctx context.Context, path string) ([]string, error)
	NetConnect   func(ctx context.Context, host string, port int, proto string) error
	EnvRead      func(ctx context.Context, key string) (string, bool)
	ResourceRead func(ctx context.Context, uri string) ([]byte, error)
}

// Host drives a single request/response cycle: attaching a capability
// descriptor, running the guest, gating every cross-boundary call
// against the compiled policy, and accumulating violations. A Host is
// not reused across invocations; spec.md §4.5 scopes it to exactly
// one module instance and one request payload.
type Host struct {
	mu         sync.Mutex
	state      State
	policy     *compiled.Policy
	descriptor *capability.Descriptor
	cache      *compiled.ThreadCache
	deadline   time.Time
	violations []Violation
	module     CompiledModule
	instance   Instance
}

// NewHost constructs a sandbox host for one invocation. The compiled
// module must already be produced by a Runtime's Compile call; the
// capability descriptor must already be derived from the same
// compiled policy (pkg/capability.DescriptorFrom).
func NewHost(policy *compiled.Policy, descriptor *capability.Descriptor, module CompiledModule) *Host {
	return &Host{
		state:      StateCreated,
		policy:     policy,
		descriptor: descriptor,
		cache:      compiled.NewThreadCache(0),
		module:     module,
	}
}

// State returns the host's current lifecycle state.
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Policy returns the compiled policy this host was constructed with,
// so a collaborator like pkg/mcp's Dispatch can enumerate
// extension-owned state (e.g. the "mcp.tools" allow list for a
// tools/list call) without pkg/sandbox exposing a bespoke accessor per
// extension.
func (h *Host) Policy() *compiled.Policy {
	return h.policy
}

// Violations returns every violation recorded so far, including ones
// that did not terminate the invocation.
func (h *Host) Violations() []Violation {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Violation, len(h.violations))
	copy(out, h.violations)
	return out
}

// Ready attaches the capability descriptor and instantiates the
// module, transitioning Created -> Ready.
func (h *Host) Ready(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateCreated {
		return errors.New(errors.ErrInvalidArgument, "sandbox host is not in the created state").
			WithField("state", string(h.state))
	}

	if limit := h.policy.ResourceLimits().ExecutionTime; limit > 0 {
		h.deadline = time.Now().Add(limit)
	}
	instance, err := h.module.Instantiate(ctx, h.descriptor, h.hostImports())
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to instantiate wasm module", err)
	}
	h.instance = instance
	h.state = StateReady
	return nil
}

// Invoke runs one request through the guest, transitioning
// Ready -> Running -> {Completed, Failed(policy|resource|trap)}. The
// compiled policy's tool predicate and rate limiter are consulted
// before the guest ever runs, per spec's "denial short-circuits"
// data flow: a denied or rate-limited tool name never reaches
// instance.Invoke.
func (h *Host) Invoke(ctx context.Context, req Request) (Response, error) {
	h.mu.Lock()
	if h.state != StateReady {
		h.mu.Unlock()
		return Response{}, errors.New(errors.ErrInvalidArgument, "sandbox host is not ready").
			WithField("state", string(h.state))
	}
	h.state = StateRunning
	deadline := h.deadline
	h.mu.Unlock()

	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	if err := h.gateTool(req.ToolName); err != nil {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.state = StateFailedPolicy
		return Response{}, err
	}

	resp, err := h.instance.Invoke(ctx, req)

	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case err == nil:
		h.state = StateCompleted
		return resp, nil
	case errors.IsErrorCode(err, errors.ErrPolicyDenied), errors.IsErrorCode(err, errors.ErrRateLimited):
		h.state = StateFailedPolicy
		return Response{}, err
	case errors.IsErrorCode(err, errors.ErrResourceExhausted):
		h.state = StateFailedResource
		return Response{}, err
	case errors.IsErrorCode(err, errors.ErrWasmTrap):
		h.state = StateFailedTrap
		return Response{}, err
	default:
		h.state = StateFailedTrap
		return Response{}, errors.Wrap(errors.ErrWasmTrap, "wasm module trapped", err)
	}
}

// Destroy releases the module instance. Safe to call from any state.
func (h *Host) Destroy(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.instance != nil {
		if err := h.instance.Close(ctx); err != nil {
			log.WithError(err).Warn("error closing sandbox instance")
		}
		h.instance = nil
	}
	h.state = StateDestroyed
	return nil
}

// recordViolation appends a violation under the host's lock. Callers
// already hold no lock; recordViolation acquires it itself so gate
// methods can be called directly from host-import trampolines.
func (h *Host) recordViolation(kind ViolationKind, action, detail string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.violations = append(h.violations, Violation{
		Kind:      kind,
		Action:    action,
		Timestamp: time.Now(),
		Detail:    detail,
	})
}

// checkResourceBudget enforces the wall-clock deadline ahead of any
// permission check, per spec.md §4.5's ordering rule (a): a module
// already over budget is terminated, not merely denied.
func (h *Host) checkResourceBudget() error {
	h.mu.Lock()
	deadline := h.deadline
	h.mu.Unlock()
	if !deadline.IsZero() && time.Now().After(deadline) {
		h.recordViolation(ViolationResourceExceeded, "deadline", "execution deadline exceeded")
		return errors.New(errors.ErrResourceExhausted, "execution deadline exceeded")
	}
	return nil
}

// gateStorage consults the compiled policy for a filesystem call,
// canonicalizing path per pkg/policy/compiled's rules, and records a
// violation on deny. It returns the canonicalized path so callers can
// reuse it for the actual host-side I/O without recomputing it.
func (h *Host) gateStorage(action string, access compiled.AccessBits, path string) (string, error) {
	if err := h.checkResourceBudget(); err != nil {
		return "", err
	}
	canonical := compiled.CanonicalizeStoragePath(path)
	if !h.policy.AllowedStorage(h.cache, canonical, access) {
		h.recordViolation(ViolationPolicyDenied, action, canonical)
		return "", errors.New(errors.ErrPolicyDenied, "storage access denied").WithField("path", canonical)
	}
	return canonical, nil
}

// gateNetwork consults the compiled policy for an outbound connect.
func (h *Host) gateNetwork(host string, port int, proto string) error {
	if err := h.checkResourceBudget(); err != nil {
		return err
	}
	if !h.policy.AllowedNetwork(h.cache, host, port, proto) {
		h.recordViolation(ViolationPolicyDenied, "net_connect", host)
		return errors.New(errors.ErrPolicyDenied, "network connection denied").WithField("host", host)
	}
	return nil
}

// gateEnv consults the compiled policy for an environment read.
func (h *Host) gateEnv(key string) (string, error) {
	if err := h.checkResourceBudget(); err != nil {
		return "", err
	}
	if !h.policy.AllowedEnv(h.cache, key) {
		h.recordViolation(ViolationPolicyDenied, "env_read", key)
		return "", errors.New(errors.ErrPolicyDenied, "environment variable denied").WithField("key", key)
	}
	value, ok := h.descriptor.Env.Vars[key]
	if !ok {
		return "", errors.New(errors.ErrInvalidArgument, "environment variable not set").WithField("key", key)
	}
	return value, nil
}

// gateTool consults the compiled policy's tool predicate and, if
// allowed, increments the tool's rate-limit counter *after* the allow
// decision per spec.md §4.5 ordering rule (c).
func (h *Host) gateTool(name string) error {
	if err := h.checkResourceBudget(); err != nil {
		return err
	}
	allowed, limiter := h.policy.AllowedTool(name)
	if !allowed {
		h.recordViolation(ViolationPolicyDenied, "tool_invoke", name)
		return errors.New(errors.ErrPolicyDenied, "tool invocation denied").WithField("tool", name)
	}
	if limiter != nil && !limiter.Allow(time.Now()) {
		h.recordViolation(ViolationRateLimited, "tool_invoke", name)
		return errors.New(errors.ErrRateLimited, "tool rate limit exceeded").WithField("tool", name)
	}
	return nil
}

// hostImports binds the gate methods into the HostImports surface a
// Runtime adapter installs as guest-importable functions, performing
// the actual operation on allow: the preopen set a Runtime adapter
// mounts for WASI and the canonical paths these gates decide against
// name the same host directories (capability.Preopen.HostPath ==
// GuestPath), so a canonicalized, allowed path is opened directly
// with the standard library rather than through a second filesystem
// abstraction.
func (h *Host) hostImports() HostImports {
	return HostImports{
		// ToolInvoke gates the call like any other tool invocation, but
		// has no resolver to dispatch to: a Host is scoped to exactly one
		// compiled module instance (spec's single-instance-per-invocation
		// rule), and cross-bundle tool composition would need a registry
		// of other sandboxes this package does not hold. Left as a
		// structured error rather than silently no-opping; see DESIGN.md.
		ToolInvoke: func(ctx context.Context, name string, args []byte) ([]byte, error) {
			if err := h.gateTool(name); err != nil {
				return nil, err
			}
			return nil, errors.New(errors.ErrInternal, "nested tool composition is not available to this sandbox host").
				WithField("tool", name)
		},
		FSRead: func(ctx context.Context, path string) ([]byte, error) {
			canonical, err := h.gateStorage("fs_read", compiled.AccessRead, path)
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(canonical)
			if err != nil {
				return nil, errors.Wrap(errors.ErrIO, "fs_read failed", err).WithField("path", canonical)
			}
			return data, nil
		},
		FSWrite: func(ctx context.Context, path string, data []byte) error {
			canonical, err := h.gateStorage("fs_write", compiled.AccessWrite, path)
			if err != nil {
				return err
			}
			if err := os.WriteFile(canonical, data, 0o644); err != nil {
				return errors.Wrap(errors.ErrIO, "fs_write failed", err).WithField("path", canonical)
			}
			return nil
		},
		FSList: func(ctx context.Context, path string) ([]string, error) {
			canonical, err := h.gateStorage("fs_list", compiled.AccessRead, path)
			if err != nil {
				return nil, err
			}
			entries, err := os.ReadDir(canonical)
			if err != nil {
				return nil, errors.Wrap(errors.ErrIO, "fs_list failed", err).WithField("path", canonical)
			}
			names := make([]string, len(entries))
			for i, entry := range entries {
				names[i] = entry.Name()
			}
			return names, nil
		},
		// NetConnect establishes and immediately closes a real TCP/UDP
		// connection to prove reachability through the gate. The guest
		// ABI's net_connect returns only a success/failure code (no
		// socket handle), so there is no further read/write import a
		// guest could use to keep the connection open; see DESIGN.md.
		NetConnect: func(ctx context.Context, host string, port int, proto string) error {
			if err := h.gateNetwork(host, port, proto); err != nil {
				return err
			}
			dialer := &net.Dialer{Timeout: netConnectTimeout}
			conn, err := dialer.DialContext(ctx, networkForProto(proto), net.JoinHostPort(host, strconv.Itoa(port)))
			if err != nil {
				return errors.Wrap(errors.ErrIO, "net_connect failed", err).
					WithField("host", host).WithField("port", port)
			}
			return conn.Close()
		},
		EnvRead: func(ctx context.Context, key string) (string, bool) {
			value, err := h.gateEnv(key)
			if err != nil {
				return "", false
			}
			return value, true
		},
		ResourceRead: func(ctx context.Context, uri string) ([]byte, error) {
			canonical, err := h.gateStorage("resource_read", compiled.AccessRead, uri)
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(canonical)
			if err != nil {
				return nil, errors.Wrap(errors.ErrIO, "resource_read failed", err).WithField("uri", canonical)
			}
			return data, nil
		},
	}
}

// networkForProto maps a policy protocol string to the network name
// net.Dialer expects, defaulting to "tcp" for an unrecognized or
// empty value rather than failing the dial outright.
func networkForProto(proto string) string {
	switch proto {
	case "udp":
		return "udp"
	default:
		return "tcp"
	}
}
