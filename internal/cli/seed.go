package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// SeedResult reports what seed-templates changed.
type SeedResult struct {
	File    string `json:"file"`
	Created int    `json:"created"`
	Updated int    `json:"updated"`
}

// NewSeedTemplatesCommand creates the seed-templates command.
func NewSeedTemplatesCommand(rootOpts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed-templates",
		Short: "Create or sync workflow templates from a YAML file",
		Long: `Create or sync workflow templates from a YAML file.

Templates are matched by workflow_id: missing ones are created, existing
ones get their name, description, urls and active flag updated.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			if strings.TrimSpace(file) == "" {
				_ = formatter.Error(ErrCodeInvalid, "--file is required", nil)
				return NewExitError(ExitCommandError, "--file is required")
			}

			deps, err := rootOpts.openApp(cmd.Context())
			if err != nil {
				_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return err
			}
			defer deps.Close()

			formatter.VerboseLog("seeding workflow templates from %s", file)
			seeded, err := deps.SeedTemplates(cmd.Context(), file)
			if err != nil {
				_ = formatter.Error(ErrCodeInvalid, err.Error(), nil)
				return WrapExitError(ExitCommandError, "failed to seed templates", err)
			}

			result := SeedResult{File: file, Created: seeded.Created, Updated: seeded.Updated}
			return formatter.Success(result, func(w io.Writer) {
				fmt.Fprintf(w, "templates seeded from %s: %d created, %d updated\n", file, result.Created, result.Updated)
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML seed file")
	return cmd
}
