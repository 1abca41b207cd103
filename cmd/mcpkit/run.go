package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpkit/mcpkit/pkg/daemon"
	"github.com/mcpkit/mcpkit/pkg/errors"
	"github.com/mcpkit/mcpkit/pkg/mcp"
	"github.com/mcpkit/mcpkit/pkg/ociclient"
	"github.com/mcpkit/mcpkit/pkg/store"
)

var (
	runStoreRoot  string
	runCacheDir   string
	runRequestRaw string
)

var runCmd = &cobra.Command{
	Use:   "run REF",
	Short: "Serve a single MCP request against a bundle",
	Long: `Resolves REF (from the local store, pulling it first if needed),
builds its sandbox host, dispatches one JSON-RPC request read from
--request or stdin, prints the response, and exits. Useful for
scripting and smoke-testing a bundle without running mcpkitd.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref := ociclient.ParseReference(args[0])
		client := newRegistryClient(ref)

		st, err := store.Open(runStoreRoot)
		if err != nil {
			return err
		}

		ctx := context.Background()
		b, err := daemon.ResolveBundle(ctx, st, client, ref)
		if err != nil {
			return err
		}

		session, err := daemon.BuildSessionFromBundle(ctx, b, runCacheDir)
		if err != nil {
			return err
		}
		defer session.Close(ctx)

		requestJSON, err := readRequest()
		if err != nil {
			return err
		}
		var req mcp.Request
		if err := json.Unmarshal(requestJSON, &req); err != nil {
			return errors.Wrap(errors.ErrInvalidArgument, "malformed JSON-RPC request", err)
		}

		resp := mcp.Dispatch(ctx, session.Host, req)
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(resp)
	},
}

func init() {
	runCmd.Flags().StringVar(&runStoreRoot, "store", store.DefaultRoot, "Local bundle store root")
	runCmd.Flags().StringVar(&runCacheDir, "cache-dir", "", "Wasm compilation cache directory")
	runCmd.Flags().StringVar(&runRequestRaw, "request", "", "JSON-RPC request to dispatch; reads stdin if omitted")
}

func readRequest() ([]byte, error) {
	if runRequestRaw != "" {
		return []byte(runRequestRaw), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, errors.Wrap(errors.ErrIO, "failed to read request from stdin", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("no request given: pass --request or pipe one on stdin")
	}
	return data, nil
}
