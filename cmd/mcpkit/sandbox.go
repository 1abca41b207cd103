package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpkit/mcpkit/pkg/daemon"
	"github.com/mcpkit/mcpkit/pkg/errors"
	"github.com/mcpkit/mcpkit/pkg/mcp"
	"github.com/mcpkit/mcpkit/pkg/sandbox"
)

var (
	sandboxWasmPath   string
	sandboxPolicyPath string
	sandboxCacheDir   string
	sandboxToolName   string
	sandboxToolArgs   string
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Debug entrypoints that exercise a sandbox host directly",
}

var sandboxExecCmd = &cobra.Command{
	Use:   "exec",
	Short: "Run a single tool call through a sandbox host built from a raw wasm file and policy file",
	Long: `Builds a sandbox host directly from a wasm module and a policy
document on disk, with no bundle, store, or registry involved, and runs
one tool call through it. Intended for local debugging of a policy or
module before it is packaged into a bundle.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		wasmBytes, err := os.ReadFile(sandboxWasmPath)
		if err != nil {
			return errors.Wrap(errors.ErrIO, "failed to read wasm module", err).WithField("path", sandboxWasmPath)
		}
		policyYAML, err := os.ReadFile(sandboxPolicyPath)
		if err != nil {
			return errors.Wrap(errors.ErrIO, "failed to read policy document", err).WithField("path", sandboxPolicyPath)
		}

		ctx := context.Background()
		session, err := daemon.BuildSession(ctx, policyYAML, wasmBytes, mcp.Registry(), sandboxCacheDir)
		if err != nil {
			return err
		}
		defer session.Close(ctx)

		resp, err := session.Host.Invoke(ctx, sandbox.Request{ToolName: sandboxToolName, Payload: []byte(sandboxToolArgs)})
		if err != nil {
			return err
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(json.RawMessage(resp.Payload))
	},
}

func init() {
	sandboxExecCmd.Flags().StringVar(&sandboxWasmPath, "wasm", "", "Path to the compiled wasm module (required)")
	sandboxExecCmd.Flags().StringVar(&sandboxPolicyPath, "policy", "", "Path to the policy document (required)")
	sandboxExecCmd.Flags().StringVar(&sandboxCacheDir, "cache-dir", "", "Wasm compilation cache directory")
	sandboxExecCmd.Flags().StringVar(&sandboxToolName, "tool", "", "Tool name to invoke (required)")
	sandboxExecCmd.Flags().StringVar(&sandboxToolArgs, "args", "{}", "JSON-encoded tool arguments")
	sandboxExecCmd.MarkFlagRequired("wasm")
	sandboxExecCmd.MarkFlagRequired("policy")
	sandboxExecCmd.MarkFlagRequired("tool")

	sandboxCmd.AddCommand(sandboxExecCmd)
}
