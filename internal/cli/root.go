package cli

import (
	"context"
	"fmt"

	"promoshot/internal/app"
	"promoshot/internal/config"

	"github.com/spf13/cobra"
)

// AppFactory builds the dependencies a command runs against.
type AppFactory func(ctx context.Context) (*app.App, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	newApp AppFactory
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command wired to the process configuration.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithFactory(defaultAppFactory)
}

// NewRootCommandWithFactory creates the root command with a custom dependency factory.
func NewRootCommandWithFactory(factory AppFactory) *cobra.Command {
	opts := &RootOptions{newApp: factory}

	cmd := &cobra.Command{
		Use:   "promoctl",
		Short: "promoctl - promoshot admin tool",
		Long:  "Administrative commands for the promoshot marketing image service: schema, templates, configurations and stuck requests.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedTemplatesCommand(opts))
	cmd.AddCommand(NewCheckConfigsCommand(opts))
	cmd.AddCommand(NewPollCommand(opts))
	cmd.AddCommand(NewRequestsCommand(opts))

	return cmd
}

func defaultAppFactory(ctx context.Context) (*app.App, error) {
	cfg, err := config.ParseConfig()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// openApp builds the dependencies, mapping failures to a command error.
func (o *RootOptions) openApp(ctx context.Context) (*app.App, error) {
	deps, err := o.newApp(ctx)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to initialise", err)
	}
	return deps, nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
