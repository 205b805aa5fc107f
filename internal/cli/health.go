package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// NewHealthCommand creates the health command.
func NewHealthCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the backend health endpoint once",
		Long: `Probe the configured health endpoint with the request timeout from config.

Exits 1 when the backend is unreachable or reports itself unhealthy.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(rootOpts, cmd)
		},
	}
}

func runHealth(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	out := opts.formatter(cmd)
	client, err := newClient(cfg, opts.logger(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	start := time.Now()
	perr := client.Probe(ctx)
	res := healthResult{
		URL:       cfg.BaseURL + cfg.HealthPath,
		Healthy:   perr == nil,
		ElapsedMS: time.Since(start).Milliseconds(),
	}
	if perr != nil {
		res.Error = perr.Error()
	}
	if err := out.Success(res); err != nil {
		return err
	}
	if perr != nil {
		return WrapExitError(ExitFailure, "backend unhealthy", perr)
	}
	return nil
}

type healthResult struct {
	URL       string `json:"url"`
	Healthy   bool   `json:"healthy"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Error     string `json:"error,omitempty"`
}

// RenderText implements TextRenderer.
func (h healthResult) RenderText(w io.Writer) error {
	if h.Healthy {
		_, err := fmt.Fprintf(w, "healthy (%s, %dms)\n", h.URL, h.ElapsedMS)
		return err
	}
	_, err := fmt.Fprintf(w, "unhealthy (%s, %dms): %s\n", h.URL, h.ElapsedMS, h.Error)
	return err
}
