package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/adminsync/internal/adminapi"
	"github.com/roach88/adminsync/internal/query"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Page     int
	PageSize int
	Search   string
	Filters  []string // key=value
	Sort     string
	Desc     bool
	Stats    bool
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Fetch one page of users (or the stats) once",
		Long: `Fetch one page of the user collection with the same client the engine
uses: retries, timeouts and error classification included.

Examples:
  adminsync query --page 2 --filter role=admin
  adminsync query --search ali --sort createdAt --desc
  adminsync query --stats --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Page, "page", 1, "page number (1-based)")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 0, "records per page (default from config)")
	cmd.Flags().StringVar(&opts.Search, "search", "", "search text")
	cmd.Flags().StringArrayVar(&opts.Filters, "filter", nil, "filter as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.Sort, "sort", "", "sort field")
	cmd.Flags().BoolVar(&opts.Desc, "desc", false, "sort descending")
	cmd.Flags().BoolVar(&opts.Stats, "stats", false, "fetch the dashboard stats instead of users")

	return cmd
}

// buildParams turns the flags into a query.
func (o *QueryOptions) buildParams(defaultPageSize int) (query.Params, error) {
	size := o.PageSize
	if size == 0 {
		size = defaultPageSize
	}
	q, err := query.Default(defaultPageSize).WithPageSize(size)
	if err != nil {
		return query.Params{}, err
	}
	for _, f := range o.Filters {
		key, value, ok := strings.Cut(f, "=")
		if !ok {
			return query.Params{}, fmt.Errorf("filter %q: want key=value", f)
		}
		if q, err = q.WithFilter(key, query.FilterValue(value)); err != nil {
			return query.Params{}, err
		}
	}
	q = q.WithSearch(o.Search)
	if o.Sort != "" {
		if q, err = q.WithSort(o.Sort); err != nil {
			return query.Params{}, err
		}
		if o.Desc {
			q.SortDirection = query.Desc
		}
	}
	// Page last: the other edits reset it.
	return q.WithPage(o.Page)
}

func runQuery(opts *QueryOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := opts.logger(cmd.ErrOrStderr())
	out := opts.formatter(cmd)

	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	if opts.Stats {
		stats, err := client.FetchStats(ctx)
		if err != nil {
			_ = out.Error(fetchErrorCode(err), err.Error(), nil)
			return WrapExitError(ExitFailure, "fetch stats failed", err)
		}
		return out.Success(statsResult(stats))
	}

	q, err := opts.buildParams(cfg.PageSize)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid query flags", err)
	}
	out.VerboseLog("GET %s%s?%s", cfg.BaseURL, cfg.CollectionPath, q.Signature())

	res, err := client.Fetch(ctx, q)
	if err != nil {
		_ = out.Error(fetchErrorCode(err), err.Error(), map[string]string{"query": q.Signature()})
		return WrapExitError(ExitFailure, "fetch failed", err)
	}
	return out.Success(pageResult{
		Query:      q.Signature(),
		Page:       q.Page,
		TotalPages: res.TotalPages,
		TotalCount: res.TotalCount,
		Records:    res.Records,
	})
}

// pageResult is the query command's payload.
type pageResult struct {
	Query      string            `json:"query"`
	Page       int               `json:"page"`
	TotalPages int               `json:"total_pages"`
	TotalCount int               `json:"total_count"`
	Records    []adminapi.Record `json:"records"`
}

// RenderText implements TextRenderer.
func (p pageResult) RenderText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tROLE\tSTATUS\tVERIFICATION\tLAST ACTIVE")
	for _, r := range p.Records {
		last := "-"
		if r.LastActive != nil {
			last = r.LastActive.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Name, r.Email, r.Role, r.Status, r.VerificationStatus, last)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "page %d of %d, %d users total\n", p.Page, p.TotalPages, p.TotalCount)
	return err
}

type statsResult adminapi.Stats

// RenderText implements TextRenderer.
func (s statsResult) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w,
		"total users:           %d\nactive users:          %d\npending verifications: %d\nsuspended users:       %d\nnew today:             %d\n",
		s.TotalUsers, s.ActiveUsers, s.PendingVerifications, s.SuspendedUsers, s.NewUsersToday)
	return err
}
