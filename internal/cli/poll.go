package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"promoshot/internal/entity"
	"promoshot/internal/service"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// PollResult reports the terminal state reached by poll.
type PollResult struct {
	RequestID uint                    `json:"request_id"`
	Status    entity.GenerationStatus `json:"status"`
	Attempts  int                     `json:"attempts"`
	Artifacts []string                `json:"artifacts,omitempty"`
	ErrorKind service.ErrorKind       `json:"error_kind,omitempty"`
	Message   string                  `json:"message,omitempty"`
}

// NewPollCommand creates the poll command.
func NewPollCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		interval    time.Duration
		maxAttempts int
	)

	cmd := &cobra.Command{
		Use:   "poll <request-id>",
		Short: "Poll the executor until a stuck request reaches a terminal state",
		Long: `Poll the executor until a stuck request reaches a terminal state.

Used to resume requests whose background poll was lost, e.g. after a
restart. Terminal requests are reported without contacting the executor.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)

			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil || id == 0 {
				_ = formatter.Error(ErrCodeInvalid, "request id must be a positive integer", args[0])
				return NewExitError(ExitCommandError, "invalid request id")
			}

			deps, err := rootOpts.openApp(cmd.Context())
			if err != nil {
				_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return err
			}
			defer deps.Close()

			ctx := cmd.Context()
			req, err := deps.Repo.GetGenerationRequest(ctx, uint(id))
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("request %d not found", id), nil)
					return NewExitError(ExitCommandError, "request not found")
				}
				_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return WrapExitError(ExitCommandError, "failed to load request", err)
			}

			var result PollResult
			if req.Status.IsTerminal() {
				formatter.VerboseLog("request %d is already %s", req.ID, req.Status)
				result = resultFromRequest(req)
			} else {
				ref := req.ExecutionRef()
				if ref == "" {
					_ = formatter.Error(ErrCodeInvalid, "request has no execution reference to poll", nil)
					return NewExitError(ExitCommandError, "request has no execution reference")
				}
				formatter.VerboseLog("polling execution %s for request %d", ref, req.ID)
				outcome, err := deps.Resolver.PollUntilTerminal(ctx, req.ID, ref, service.PollOptions{
					Interval:    interval,
					MaxAttempts: maxAttempts,
				})
				if err != nil {
					_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
					return WrapExitError(ExitCommandError, "poll aborted", err)
				}
				result = PollResult{
					RequestID: outcome.RequestID,
					Status:    outcome.Status,
					Attempts:  outcome.Attempts,
					Artifacts: outcome.Artifacts,
					ErrorKind: outcome.Kind,
					Message:   outcome.Message,
				}
			}

			if err := formatter.Success(result, func(w io.Writer) { printPollResult(w, result) }); err != nil {
				return err
			}
			if result.Status == entity.GenerationStatusFailed {
				return NewExitError(ExitFailure, "request failed")
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", service.DefaultPollOptions.Interval, "delay between polls")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", service.DefaultPollOptions.MaxAttempts, "maximum number of polls")
	return cmd
}

func resultFromRequest(req *entity.DbGenerationRequest) PollResult {
	result := PollResult{
		RequestID: req.ID,
		Status:    req.Status,
		ErrorKind: service.ErrorKind(req.ErrorKind),
		Message:   req.ErrorMessage,
	}
	for _, artifact := range req.Artifacts {
		result.Artifacts = append(result.Artifacts, artifact.URL)
	}
	return result
}

func printPollResult(w io.Writer, result PollResult) {
	fmt.Fprintf(w, "request %d: %s", result.RequestID, result.Status)
	if result.Attempts > 0 {
		fmt.Fprintf(w, " after %d attempt(s)", result.Attempts)
	}
	fmt.Fprintln(w)
	if result.ErrorKind != "" {
		fmt.Fprintf(w, "  %s: %s\n", result.ErrorKind, result.Message)
	}
	for _, url := range result.Artifacts {
		fmt.Fprintf(w, "  %s\n", url)
	}
}
