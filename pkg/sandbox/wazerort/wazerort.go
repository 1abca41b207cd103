// Package wazerort is the default pkg/sandbox.Runtime backed by
// github.com/tetratelabs/wazero, a CGo-free embeddable WASM runtime.
// It binds the sandbox host's gate methods to guest-importable "env"
// host functions and builds the wazero FSConfig/ModuleConfig from a
// capability.Descriptor.
package wazerort

import (
	"context"
	"crypto/rand"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/mcpkit/mcpkit/pkg/capability"
	"github.com/mcpkit/mcpkit/pkg/errors"
	"github.com/mcpkit/mcpkit/pkg/logger"
	"github.com/mcpkit/mcpkit/pkg/sandbox"
)

var log = logger.New("wazerort")

// Runtime is a pkg/sandbox.Runtime backed by a single wazero runtime
// instance, shared across every module it compiles.
type Runtime struct {
	rt    wazero.Runtime
	cache wazero.CompilationCache
}

// New creates a wazero-backed runtime. cacheDir, if non-empty, enables
// a persistent on-disk compilation cache (the reglet/vrclog examples'
// convention for avoiding repeated AOT compilation of the same
// module).
func New(ctx context.Context, cacheDir string) (*Runtime, error) {
	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)

	var cache wazero.CompilationCache
	if cacheDir != "" {
		c, err := wazero.NewCompilationCacheWithDir(cacheDir)
		if err != nil {
			log.WithError(err).Warn("failed to create wasm compilation cache, continuing without it")
		} else {
			rtConfig = rtConfig.WithCompilationCache(c)
			cache = c
		}
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, errors.Wrap(errors.ErrInternal, "failed to instantiate wasi_snapshot_preview1", err)
	}

	return &Runtime{rt: rt, cache: cache}, nil
}

// ResolvesSymlinks reports true: wazero's directory-mount FSConfig
// resolves symlinks within a preopen. pkg/sandbox's storage gate still
// decides on the lexical path text.
func (r *Runtime) ResolvesSymlinks() bool { return true }

// Close releases the underlying wazero runtime and compilation cache.
func (r *Runtime) Close(ctx context.Context) error {
	if r.cache != nil {
		r.cache.Close(ctx)
	}
	return r.rt.Close(ctx)
}

// Compile AOT-compiles wasmBytes against this runtime.
func (r *Runtime) Compile(ctx context.Context, wasmBytes []byte) (sandbox.CompiledModule, error) {
	compiled, err := r.rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Wrap(errors.ErrWasmTrap, "failed to compile wasm module", err)
	}
	return &compiledModule{rt: r.rt, module: compiled}, nil
}

type compiledModule struct {
	rt     wazero.Runtime
	module wazero.CompiledModule
}

func (c *compiledModule) Close(ctx context.Context) error {
	return c.module.Close(ctx)
}

// Instantiate builds the per-invocation "env" host module from
// imports, the FSConfig from descriptor's preopens, the projected
// environment, and instantiates a fresh guest instance. A fresh
// instance is created for every invocation, never cached, matching
// the reglet wasm-plugin example's isolation rule.
func (c *compiledModule) Instantiate(ctx context.Context, descriptor *capability.Descriptor, imports sandbox.HostImports) (sandbox.Instance, error) {
	envBuilder := c.rt.NewHostModuleBuilder("env")
	bindTrampolines(envBuilder, imports)
	if _, err := envBuilder.Instantiate(ctx); err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to register host import trampolines", err)
	}

	modConfig := moduleConfigFromDescriptor(descriptor)

	instance, err := c.rt.InstantiateModule(ctx, c.module, modConfig)
	if err != nil {
		return nil, errors.Wrap(errors.ErrWasmTrap, "failed to instantiate wasm module", err)
	}

	if initFn := instance.ExportedFunction("_initialize"); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			_ = instance.Close(ctx)
			return nil, errors.Wrap(errors.ErrWasmTrap, "guest _initialize failed", err)
		}
	}

	return &guestInstance{instance: instance}, nil
}

// moduleConfigFromDescriptor builds the wazero ModuleConfig whose
// FSConfig mounts exactly the capability descriptor's preopens and
// whose environment carries exactly the projected env map, mirroring
// the reglet wasm-plugin example's createModuleConfig/
// injectEnvironmentVariables pair.
func moduleConfigFromDescriptor(descriptor *capability.Descriptor) wazero.ModuleConfig {
	fsConfig := wazero.NewFSConfig()
	for _, preopen := range descriptor.Preopens {
		if preopen.ReadOnly {
			fsConfig = fsConfig.WithReadOnlyDirMount(preopen.HostPath, preopen.GuestPath)
		} else {
			fsConfig = fsConfig.WithDirMount(preopen.HostPath, preopen.GuestPath)
		}
	}

	config := wazero.NewModuleConfig().
		WithFSConfig(fsConfig).
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithRandSource(rand.Reader).
		WithStdout(nil).
		WithStderr(nil)

	for key, value := range descriptor.Env.Vars {
		config = config.WithEnv(key, value)
	}

	return config
}

type guestInstance struct {
	instance api.Module
}

// Invoke calls the guest's "handle_request" export with the request
// payload copied into guest memory through its "alloc" export, and
// reads the response back the same way, following the
// alloc/free-exported-function convention used across the retrieved
// TinyGo-targeting wasm host examples.
func (g *guestInstance) Invoke(ctx context.Context, req sandbox.Request) (sandbox.Response, error) {
	alloc := g.instance.ExportedFunction("alloc")
	free := g.instance.ExportedFunction("free")
	handle := g.instance.ExportedFunction("handle_request")
	if alloc == nil || handle == nil {
		return sandbox.Response{}, errors.New(errors.ErrWasmTrap, "guest module does not export alloc/handle_request")
	}

	payload := req.Payload
	results, err := alloc.Call(ctx, uint64(len(payload)))
	if err != nil {
		return sandbox.Response{}, errors.Wrap(errors.ErrWasmTrap, "guest alloc failed", err)
	}
	ptr := uint32(results[0])
	if free != nil {
		defer free.Call(ctx, uint64(ptr), uint64(len(payload)))
	}

	if !g.instance.Memory().Write(ptr, payload) {
		return sandbox.Response{}, errors.New(errors.ErrWasmTrap, "failed to write request payload into guest memory")
	}

	out, err := handle.Call(ctx, uint64(ptr), uint64(len(payload)))
	if err != nil {
		return sandbox.Response{}, errors.Wrap(errors.ErrWasmTrap, "guest handle_request failed", err)
	}
	if len(out) != 1 {
		return sandbox.Response{}, errors.New(errors.ErrWasmTrap, "guest handle_request returned an unexpected result shape")
	}

	outPtr := uint32(out[0] >> 32)
	outLen := uint32(out[0])
	respBytes, ok := g.instance.Memory().Read(outPtr, outLen)
	if !ok {
		return sandbox.Response{}, errors.New(errors.ErrWasmTrap, "failed to read response payload from guest memory")
	}

	respCopy := make([]byte, len(respBytes))
	copy(respCopy, respBytes)
	return sandbox.Response{Payload: respCopy}, nil
}

func (g *guestInstance) Close(ctx context.Context) error {
	return g.instance.Close(ctx)
}

// bindTrampolines registers every host-import trampoline on the "env"
// module. Each function follows a (ptr,len)-pair calling convention
// for variable-length data and returns a packed (ptr<<32|len) for
// variable-length results, the same convention the retrieved
// TinyGo-host examples use for passing strings across the boundary.
func bindTrampolines(b wazero.HostModuleBuilder, imports sandbox.HostImports) {
	b.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, namePtr, nameLen, argsPtr, argsLen uint32) uint64 {
			name := readString(m, namePtr, nameLen)
			args := readBytes(m, argsPtr, argsLen)
			result, err := imports.ToolInvoke(ctx, name, args)
			return writeResult(ctx, m, result, err)
		}).
		Export("tool_invoke")

	b.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, pathPtr, pathLen uint32) uint64 {
			path := readString(m, pathPtr, pathLen)
			result, err := imports.FSRead(ctx, path)
			return writeResult(ctx, m, result, err)
		}).
		Export("fs_read")

	b.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, pathPtr, pathLen, dataPtr, dataLen uint32) uint32 {
			path := readString(m, pathPtr, pathLen)
			data := readBytes(m, dataPtr, dataLen)
			if err := imports.FSWrite(ctx, path, data); err != nil {
				return 1
			}
			return 0
		}).
		Export("fs_write")

	b.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, pathPtr, pathLen uint32) uint64 {
			path := readString(m, pathPtr, pathLen)
			entries, err := imports.FSList(ctx, path)
			if err != nil {
				return writeResult(ctx, m, nil, err)
			}
			joined := []byte(joinLines(entries))
			return writeResult(ctx, m, joined, nil)
		}).
		Export("fs_list")

	b.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, hostPtr, hostLen uint32, port uint32, protoPtr, protoLen uint32) uint32 {
			host := readString(m, hostPtr, hostLen)
			proto := readString(m, protoPtr, protoLen)
			if err := imports.NetConnect(ctx, host, int(port), proto); err != nil {
				return 1
			}
			return 0
		}).
		Export("net_connect")

	b.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, keyPtr, keyLen uint32) uint64 {
			key := readString(m, keyPtr, keyLen)
			value, ok := imports.EnvRead(ctx, key)
			if !ok {
				return writeResult(ctx, m, nil, errors.New(errors.ErrPolicyDenied, "environment variable denied"))
			}
			return writeResult(ctx, m, []byte(value), nil)
		}).
		Export("env_read")

	b.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, uriPtr, uriLen uint32) uint64 {
			uri := readString(m, uriPtr, uriLen)
			result, err := imports.ResourceRead(ctx, uri)
			return writeResult(ctx, m, result, err)
		}).
		Export("resource_read")
}

func readBytes(m api.Module, ptr, length uint32) []byte {
	data, ok := m.Memory().Read(ptr, length)
	if !ok {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

func readString(m api.Module, ptr, length uint32) string {
	return string(readBytes(m, ptr, length))
}

func joinLines(entries []string) string {
	out := ""
	for i, e := range entries {
		if i > 0 {
			out += "\n"
		}
		out += e
	}
	return out
}

// writeResult allocates guest memory for result via the guest's
// exported "alloc" function and packs the returned (ptr,len) into a
// single i64, matching the ptr/len-pair ABI the bound trampolines use
// for replies. A non-nil err writes nothing and returns 0,
// distinguishable to the guest since every real payload has len > 0.
func writeResult(ctx context.Context, m api.Module, result []byte, err error) uint64 {
	if err != nil {
		return 0
	}
	if len(result) == 0 {
		return 0
	}
	alloc := m.ExportedFunction("alloc")
	if alloc == nil {
		return 0
	}
	out, allocErr := alloc.Call(ctx, uint64(len(result)))
	if allocErr != nil {
		return 0
	}
	ptr := uint32(out[0])
	if !m.Memory().Write(ptr, result) {
		return 0
	}
	return uint64(ptr)<<32 | uint64(len(result))
}
