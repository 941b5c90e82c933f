package cli

import (
	"fmt"
	"io"

	"promoshot/internal/model"

	"github.com/spf13/cobra"
)

// MigrateResult reports the schema migration.
type MigrateResult struct {
	Database string   `json:"database"`
	Migrated bool     `json:"migrated"`
	Tables   []string `json:"tables"`
}

// NewMigrateCommand creates the migrate command. Opening the repository runs AutoMigrate.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "migrate",
		Short:         "Create or update the database schema",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			deps, err := rootOpts.openApp(cmd.Context())
			if err != nil {
				_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return err
			}
			defer deps.Close()

			result := MigrateResult{Database: deps.Config.DBType, Migrated: true, Tables: model.SchemaTables()}
			return formatter.Success(result, func(w io.Writer) {
				fmt.Fprintf(w, "schema migrated (%s)\n", displayOr(result.Database, "configured database"))
				for _, table := range result.Tables {
					fmt.Fprintf(w, "  %s\n", table)
				}
			})
		},
	}
}

func displayOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
