// Command mcpkitd is the long-running MCP server: it loads a
// configuration document, pulls (or reads from the local store) the
// bundle it is configured to serve, compiles that bundle's policy
// layer, and serves tool/prompt/resource calls over the configured
// transport until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mcpkit/mcpkit/pkg/config"
	"github.com/mcpkit/mcpkit/pkg/daemon"
	"github.com/mcpkit/mcpkit/pkg/logger"
	"github.com/mcpkit/mcpkit/pkg/ociclient"
	"github.com/mcpkit/mcpkit/pkg/store"
)

var (
	debugMode  bool
	logLevel   string
	configPath string
	bundleRef  string
	storeRoot  string
)

var rootCmd = &cobra.Command{
	Use:   "mcpkitd",
	Short: "Serve MCP tool calls against a policy-gated WASM bundle",
	Long: `mcpkitd loads a declarative configuration document, resolves the
bundle it names (from the local store or a registry pull), and serves
MCP tool/prompt/resource calls against that bundle's sandbox host for
as long as the process runs.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogger()
	},
	RunE: serve,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the configuration document (required)")
	rootCmd.Flags().StringVar(&bundleRef, "bundle", "", "Bundle reference to serve, e.g. registry.example.com/calc:v1 (required)")
	rootCmd.Flags().StringVar(&storeRoot, "store", store.DefaultRoot, "Local bundle store root")
	rootCmd.MarkFlagRequired("config")
	rootCmd.MarkFlagRequired("bundle")
}

// initLogger sets the default logger's level from the global flags,
// mirroring the teacher's cmd/containr root command's initLogger.
func initLogger() {
	log := logger.GetLogger()
	if debugMode {
		log.SetLevel(logger.DebugLevel)
		return
	}
	switch logLevel {
	case "debug":
		log.SetLevel(logger.DebugLevel)
	case "warn":
		log.SetLevel(logger.WarnLevel)
	case "error":
		log.SetLevel(logger.ErrorLevel)
	default:
		log.SetLevel(logger.InfoLevel)
	}
}

func serve(cmd *cobra.Command, args []string) error {
	log := logger.New("mcpkitd")

	doc, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}

	ref := ociclient.ParseReference(bundleRef)
	registryHost := ref.Registry
	if registryHost == "" {
		registryHost = "registry-1.docker.io"
	}
	creds, err := ociclient.ResolveCredentials(registryHost,
		ociclient.DockerConfigCredentials{},
		ociclient.EnvCredentials{UsernameTemplate: "${MCPKIT_REGISTRY_USER}", PasswordTemplate: "${MCPKIT_REGISTRY_PASS}"},
	)
	if err != nil {
		log.WithError(err).Warn("failed to resolve registry credentials, continuing unauthenticated")
	}
	client := ociclient.NewClient(registryHost, creds)

	st, err := store.Open(storeRoot)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	b, err := daemon.ResolveBundle(ctx, st, client, ref)
	if err != nil {
		return err
	}
	log.Infof("serving bundle %s", ref.String())

	session, err := daemon.BuildSessionFromBundle(ctx, b, doc.Runtime.CompilationCache)
	if err != nil {
		return err
	}
	defer session.Close(context.Background())

	switch doc.Transport.Kind {
	case "", "stdio":
		return daemon.ServeStdio(ctx, session.Host, os.Stdin, os.Stdout)
	case "http":
		path := "/mcp"
		if doc.Transport.HTTP != nil && doc.Transport.HTTP.Path != "" {
			path = doc.Transport.HTTP.Path
		}
		log.Infof("listening on %s%s", doc.Server.Address, path)
		return daemon.ServeHTTP(ctx, doc.Server.Address, path, session.Host)
	default:
		return fmt.Errorf("unsupported transport kind %q", doc.Transport.Kind)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
