package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"promoshot/internal/entity"
	"promoshot/internal/model"

	"github.com/spf13/cobra"
)

// RequestRow is one line of requests list.
type RequestRow struct {
	ID           uint                    `json:"id"`
	UserID       uint                    `json:"user_id"`
	ProductName  string                  `json:"product_name"`
	Status       entity.GenerationStatus `json:"status"`
	ExecutionRef string                  `json:"execution_ref,omitempty"`
	ErrorKind    string                  `json:"error_kind,omitempty"`
	Artifacts    int                     `json:"artifacts"`
	CreatedAt    string                  `json:"created_at"`
}

// NewRequestsCommand creates the requests command group.
func NewRequestsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Inspect generation requests",
	}
	cmd.AddCommand(newRequestsListCommand(rootOpts))
	return cmd
}

func newRequestsListCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		status string
		userID uint
		limit  int64
	)

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List generation requests, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)

			status = strings.ToLower(strings.TrimSpace(status))
			if status != "" && !entity.GenerationStatus(status).IsValid() {
				_ = formatter.Error(ErrCodeInvalid, fmt.Sprintf("invalid status %q", status), nil)
				return NewExitError(ExitCommandError, "invalid status")
			}

			deps, err := rootOpts.openApp(cmd.Context())
			if err != nil {
				_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return err
			}
			defer deps.Close()

			query := &entity.GenerationRequestQuery{
				BaseParams: entity.BaseParams{Page: 1, PageSize: limit},
				UserID:     userID,
				IncludeAll: userID == 0,
				Status:     status,
			}
			requests, meta, err := deps.Repo.ListGenerationRequests(cmd.Context(), query)
			if err != nil {
				_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return WrapExitError(ExitCommandError, "failed to list requests", err)
			}

			rows := make([]RequestRow, 0, len(requests))
			for _, req := range requests {
				rows = append(rows, RequestRow{
					ID:           req.ID,
					UserID:       req.UserID,
					ProductName:  req.ProductName,
					Status:       req.Status,
					ExecutionRef: req.ExecutionRef(),
					ErrorKind:    req.ErrorKind,
					Artifacts:    len(req.Artifacts),
					CreatedAt:    req.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
				})
			}

			var total int64
			if meta != nil {
				total = meta.Total
			}
			data := map[string]interface{}{"requests": rows, "total": total}
			return formatter.Success(data, func(w io.Writer) { printRequests(w, rows, total) })
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending|processing|completed|failed)")
	cmd.Flags().UintVar(&userID, "user", 0, "only requests of this user id")
	cmd.Flags().Int64Var(&limit, "limit", 50, "maximum number of rows")
	return cmd
}

func printRequests(w io.Writer, rows []RequestRow, total int64) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSER\tSTATUS\tARTIFACTS\tEXECUTION\tCREATED\tPRODUCT")
	for _, row := range rows {
		status := string(row.Status)
		if row.ErrorKind != "" {
			status += " (" + row.ErrorKind + ")"
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%s\t%s\t%s\n",
			row.ID, row.UserID, status, row.Artifacts, displayOr(row.ExecutionRef, "-"), row.CreatedAt, row.ProductName)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "%d of %d request(s)\n", len(rows), total)
}

// listAllUsers pages through every user.
func listAllUsers(ctx context.Context, repo model.Repository) ([]entity.DbUser, error) {
	const pageSize = 100
	var all []entity.DbUser
	for page := int64(1); ; page++ {
		users, meta, err := repo.ListUsers(ctx, &entity.UserQuery{
			BaseParams: entity.BaseParams{Page: page, PageSize: pageSize},
		})
		if err != nil {
			return nil, err
		}
		all = append(all, users...)
		if len(users) < pageSize || meta == nil || int64(len(all)) >= meta.Total {
			return all, nil
		}
	}
}
