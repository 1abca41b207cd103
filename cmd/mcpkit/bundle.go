package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpkit/mcpkit/pkg/bundle"
	"github.com/mcpkit/mcpkit/pkg/daemon"
	"github.com/mcpkit/mcpkit/pkg/errors"
	"github.com/mcpkit/mcpkit/pkg/ociclient"
	"github.com/mcpkit/mcpkit/pkg/store"
)

var (
	bundleWasmPath   string
	bundleConfigPath string
	bundleStoreRoot  string
)

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Push, pull, and inspect mcpkit bundles",
}

var bundlePushCmd = &cobra.Command{
	Use:     "push REF",
	Short:   "Encode a wasm module and policy document and push them as a bundle",
	Example: `  mcpkit bundle push --wasm calc.wasm --config policy.yaml registry.example.com/calc:v1`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wasmBytes, err := os.ReadFile(bundleWasmPath)
		if err != nil {
			return errors.Wrap(errors.ErrIO, "failed to read wasm module", err).WithField("path", bundleWasmPath)
		}
		configYAML, err := os.ReadFile(bundleConfigPath)
		if err != nil {
			return errors.Wrap(errors.ErrIO, "failed to read policy document", err).WithField("path", bundleConfigPath)
		}

		manifest, blobs, err := bundle.Encode(wasmBytes, configYAML)
		if err != nil {
			return err
		}

		ref := ociclient.ParseReference(args[0])
		client := newRegistryClient(ref)

		if err := client.Push(context.Background(), ref, manifest, blobs); err != nil {
			return err
		}
		fmt.Printf("pushed %s\n", ref.String())
		return nil
	},
}

var bundlePullCmd = &cobra.Command{
	Use:   "pull REF",
	Short: "Pull a bundle from a registry into the local store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref := ociclient.ParseReference(args[0])
		client := newRegistryClient(ref)

		st, err := store.Open(bundleStoreRoot)
		if err != nil {
			return err
		}

		manifest, fetch, err := client.Pull(context.Background(), ref)
		if err != nil {
			return err
		}
		b, err := bundle.Decode(manifest, fetch)
		if err != nil {
			return err
		}
		if _, err := st.Put(ref, b); err != nil {
			return err
		}
		fmt.Printf("pulled %s into %s\n", ref.String(), bundleStoreRoot)
		return nil
	},
}

var bundleInspectCmd = &cobra.Command{
	Use:   "inspect REF",
	Short: "Print a locally stored bundle's manifest, pulling it first if necessary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref := ociclient.ParseReference(args[0])
		client := newRegistryClient(ref)

		st, err := store.Open(bundleStoreRoot)
		if err != nil {
			return err
		}

		b, err := daemon.ResolveBundle(context.Background(), st, client, ref)
		if err != nil {
			return err
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(b.Manifest)
	},
}

func init() {
	bundlePushCmd.Flags().StringVar(&bundleWasmPath, "wasm", "", "Path to the compiled wasm module (required)")
	bundlePushCmd.Flags().StringVar(&bundleConfigPath, "config", "", "Path to the policy document (required)")
	bundlePushCmd.MarkFlagRequired("wasm")
	bundlePushCmd.MarkFlagRequired("config")

	for _, c := range []*cobra.Command{bundlePullCmd, bundleInspectCmd} {
		c.Flags().StringVar(&bundleStoreRoot, "store", store.DefaultRoot, "Local bundle store root")
	}

	bundleCmd.AddCommand(bundlePushCmd)
	bundleCmd.AddCommand(bundlePullCmd)
	bundleCmd.AddCommand(bundleInspectCmd)
}

// newRegistryClient resolves credentials and builds an ociclient.Client
// for ref's registry host, defaulting to Docker Hub's registry host
// when ref names none, matching the teacher's DefaultClient fallback.
func newRegistryClient(ref *ociclient.Reference) *ociclient.Client {
	registryHost := ref.Registry
	if registryHost == "" {
		registryHost = "registry-1.docker.io"
	}
	creds, _ := ociclient.ResolveCredentials(registryHost,
		ociclient.DockerConfigCredentials{},
		ociclient.EnvCredentials{UsernameTemplate: "${MCPKIT_REGISTRY_USER}", PasswordTemplate: "${MCPKIT_REGISTRY_PASS}"},
	)
	return ociclient.NewClient(registryHost, creds)
}
