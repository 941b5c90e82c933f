package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// ConfigGap is a user missing a signup side effect.
type ConfigGap struct {
	UserID          uint   `json:"user_id"`
	Email           string `json:"email"`
	MissingWorkflow bool   `json:"missing_workflow"`
	MissingCredits  bool   `json:"missing_credits"`
	FixedWorkflow   bool   `json:"fixed_workflow,omitempty"`
	FixedCredits    bool   `json:"fixed_credits,omitempty"`
	FixError        string `json:"fix_error,omitempty"`
}

// CheckConfigsResult lists users whose signup side effects did not complete.
type CheckConfigsResult struct {
	Checked int         `json:"checked"`
	Gaps    []ConfigGap `json:"gaps"`
}

// NewCheckConfigsCommand creates the check-configs command.
func NewCheckConfigsCommand(rootOpts *RootOptions) *cobra.Command {
	var fix bool

	cmd := &cobra.Command{
		Use:   "check-configs",
		Short: "Find users without a workflow configuration or signup credits",
		Long: `Find users whose signup side effects did not complete.

Users without an active workflow configuration, or with a zero credit
balance, are listed. With --fix the missing steps are run again.`,
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

			ctx := cmd.Context()
			withoutWorkflow, err := deps.Repo.ListUsersWithoutWorkflowConfiguration(ctx)
			if err != nil {
				_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return WrapExitError(ExitCommandError, "failed to list users", err)
			}
			missingWorkflow := make(map[uint]bool, len(withoutWorkflow))
			for _, user := range withoutWorkflow {
				missingWorkflow[user.ID] = true
			}

			count, err := deps.Repo.CountUsers(ctx)
			if err != nil {
				_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return WrapExitError(ExitCommandError, "failed to count users", err)
			}

			result := CheckConfigsResult{Checked: int(count), Gaps: []ConfigGap{}}
			users, err := listAllUsers(ctx, deps.Repo)
			if err != nil {
				_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return WrapExitError(ExitCommandError, "failed to list users", err)
			}

			for idx := range users {
				user := &users[idx]
				balance, err := deps.Repo.SumCredits(ctx, user.ID)
				if err != nil {
					formatter.VerboseLog("failed to sum credits for user %d: %v", user.ID, err)
					continue
				}
				gap := ConfigGap{
					UserID:          user.ID,
					Email:           user.Email,
					MissingWorkflow: missingWorkflow[user.ID],
					MissingCredits:  balance <= 0,
				}
				if !gap.MissingWorkflow && !gap.MissingCredits {
					continue
				}

				if fix && deps.Accounts != nil {
					if gap.MissingWorkflow {
						if err := deps.Accounts.ProvisionWorkflowConfiguration(ctx, user); err != nil {
							gap.FixError = err.Error()
						} else {
							gap.FixedWorkflow = true
						}
					}
					if gap.MissingCredits {
						if err := deps.Accounts.GrantSignupBonus(ctx, user); err != nil {
							gap.FixError = err.Error()
						} else {
							gap.FixedCredits = true
						}
					}
				}
				result.Gaps = append(result.Gaps, gap)
			}

			if err := formatter.Success(result, func(w io.Writer) { printGaps(w, result, fix) }); err != nil {
				return err
			}
			if unresolved(result.Gaps, fix) {
				return NewExitError(ExitFailure, "users with incomplete signup found")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&fix, "fix", false, "run the missing signup steps again")
	return cmd
}

func printGaps(w io.Writer, result CheckConfigsResult, fix bool) {
	fmt.Fprintf(w, "checked %d users, %d incomplete\n", result.Checked, len(result.Gaps))
	for _, gap := range result.Gaps {
		fmt.Fprintf(w, "  #%d %s workflow_missing=%t credits_missing=%t", gap.UserID, gap.Email, gap.MissingWorkflow, gap.MissingCredits)
		if fix {
			fmt.Fprintf(w, " fixed_workflow=%t fixed_credits=%t", gap.FixedWorkflow, gap.FixedCredits)
			if gap.FixError != "" {
				fmt.Fprintf(w, " error=%q", gap.FixError)
			}
		}
		fmt.Fprintln(w)
	}
}

func unresolved(gaps []ConfigGap, fix bool) bool {
	for _, gap := range gaps {
		if !fix {
			return true
		}
		if (gap.MissingWorkflow && !gap.FixedWorkflow) || (gap.MissingCredits && !gap.FixedCredits) {
			return true
		}
	}
	return false
}
