package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpkit/mcpkit/pkg/errors"
	"github.com/mcpkit/mcpkit/pkg/mcp"
	"github.com/mcpkit/mcpkit/pkg/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Work with mcpkit policy documents",
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Parse and validate a policy document",
	Long: `Parses a policy document, validates every rule against the built-in
and mcp.* extension schemas, and reports shadowed-rule warnings
without compiling a decision engine.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return errors.Wrap(errors.ErrIO, "failed to read policy document", err).WithField("path", args[0])
		}

		doc, err := policy.Parse(data)
		if err != nil {
			return err
		}
		_, warnings, err := policy.Validate(doc, mcp.Registry())
		if err != nil {
			return err
		}

		for _, w := range warnings {
			fmt.Printf("warning: %s: %s\n", w.Path, w.Message)
		}
		fmt.Println("policy document is valid")
		return nil
	},
}

func init() {
	policyCmd.AddCommand(policyValidateCmd)
}
