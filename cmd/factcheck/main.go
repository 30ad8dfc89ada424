// Command factcheck retrieves evidence for claims from the command line,
// serves the evidence API over HTTP or MCP, and lists past runs.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/factcheck/evidence"
)

const version = "0.3.0"

type app struct {
	cfgFile  string
	logLevel string
	cfg      *evidence.Config
	logger   *slog.Logger
	stdout   io.Writer
	stderr   io.Writer
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a := &app{stdout: os.Stdout, stderr: os.Stderr}
	if err := a.rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "factcheck",
		Short: "Evidence retrieval for fact-checking",
		Long: `factcheck searches the web for a claim, keeps results from trusted publishers
that allow crawling, and returns the pages a relevance judge finds correlated
with the claim.

Example usage:
  factcheck retrieve "Greenland is for sale"
  factcheck serve --listen :8090
  factcheck serve --mcp
  factcheck history --limit 10`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (YAML); defaults apply when empty")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (default from config)")
	root.AddCommand(a.retrieveCmd(), a.serveCmd(), a.historyCmd())
	return root
}

// setup loads the configuration and installs the JSON logger on stderr.
func (a *app) setup(_ *cobra.Command, _ []string) error {
	var err error
	if a.cfgFile != "" {
		a.cfg, err = evidence.LoadConfig(a.cfgFile)
	} else {
		a.cfg = evidence.DefaultConfig()
		a.cfg.ApplyEnv()
		err = a.cfg.Validate()
	}
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if a.logLevel != "" {
		a.cfg.LogLevel = a.logLevel
	}
	a.logger = slog.New(slog.NewJSONHandler(a.stderr, &slog.HandlerOptions{Level: parseLevel(a.cfg.LogLevel)}))
	slog.SetDefault(a.logger)
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (a *app) retrieveCmd() *cobra.Command {
	var (
		query      string
		numResults int
		minSources int
		maxRetries int
		asJSON     bool
		noProgress bool
	)
	cmd := &cobra.Command{
		Use:   "retrieve <claim>",
		Short: "Gather evidence for a claim",
		Long: `Gather correlated evidence for a claim.

Examples:
  factcheck retrieve "Greenland is for sale"
  factcheck retrieve "Greenland is for sale" -q "greenland purchase" --min-sources 2 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []evidence.ServiceOption
			var bar *progressbar.ProgressBar
			if !noProgress {
				bar = newSpinner(a.stderr)
				opts = append(opts, evidence.WithObserver(progress(bar)))
			}
			svc, err := evidence.New(a.cfg, a.logger, opts...)
			if err != nil {
				return err
			}
			defer svc.Close()

			req := evidence.Request{
				Claim:           strings.Join(args, " "),
				Query:           query,
				NumResults:      numResults,
				MinValidSources: minSources,
			}
			if maxRetries >= 0 {
				req.MaxRetries = &maxRetries
			}
			ev, err := svc.RetrieveWith(cmd.Context(), req)
			if bar != nil {
				bar.Finish()
			}
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(a.stdout, ev)
			}
			printEvidence(a.stdout, ev)
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "search query (default: the claim)")
	cmd.Flags().IntVarP(&numResults, "num-results", "n", 0, "first search size (default from config)")
	cmd.Flags().IntVar(&minSources, "min-sources", 0, "correlated sources required (default from config)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", -1, "rate-limit backoffs allowed (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the progress spinner")
	return cmd
}

func newSpinner(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetDescription("starting"),
		progressbar.OptionClearOnFinish(),
	)
}

// progress describes each coordinator transition on the spinner.
func progress(bar *progressbar.ProgressBar) evidence.Observer {
	return func(x evidence.Transition) {
		desc := x.To.String()
		if x.Count > 0 {
			desc = fmt.Sprintf("%s (%d)", desc, x.Count)
		}
		if x.Attempt > 0 {
			desc += fmt.Sprintf(" top-up %d", x.Attempt)
		}
		if x.Retry > 0 {
			desc += fmt.Sprintf(" retry %d", x.Retry)
		}
		bar.Describe(desc)
		bar.Add(1)
	}
}

func printEvidence(w io.Writer, ev *evidence.Evidence) {
	status := ev.Outcome.String()
	if ev.Partial {
		status += ", partial"
	}
	fmt.Fprintf(w, "Claim: %s\nQuery: %s\nOutcome: %s (%d documents, %d top-ups, %d retries)\n",
		ev.Claim, ev.Query, status, len(ev.Documents), ev.Attempts, ev.Retries)
	if ev.RunID != "" {
		fmt.Fprintf(w, "Run: %s\n", ev.RunID)
	}
	for i, d := range ev.Documents {
		fmt.Fprintf(w, "\n%d. %s\n   %s (%s, trust %d)\n   %s\n", i+1, d.Title, d.URL, d.Site, d.Score, snippet(d.Body, 200))
	}
}

func snippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func (a *app) serveCmd() *cobra.Command {
	var (
		listen string
		useMCP bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the evidence API over HTTP, or MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := evidence.New(a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx := cmd.Context()
			if useMCP {
				srv := mcp.NewServer(&mcp.Implementation{Name: "factcheck", Version: version}, nil)
				svc.RegisterMCP(srv)
				a.logger.Info("mcp server starting", "transport", "stdio")
				if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("mcp: %w", err)
				}
				return nil
			}

			if listen == "" {
				listen = a.cfg.Listen
			}
			return serveHTTP(ctx, a.logger, listen, svc.Handler(), a.cfg.Retrieval.Timeout.Std())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (default from config)")
	cmd.Flags().BoolVar(&useMCP, "mcp", false, "serve MCP over stdio instead of HTTP")
	return cmd
}

func serveHTTP(ctx context.Context, logger *slog.Logger, addr string, h http.Handler, requestTimeout time.Duration) error {
	srv := newHTTPServer(addr, h, requestTimeout)

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

// newHTTPServer leaves the write deadline off when requests have no timeout,
// so a run waiting out rate-limit backoffs still gets its response.
func newHTTPServer(addr string, h http.Handler, requestTimeout time.Duration) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if requestTimeout > 0 {
		srv.WriteTimeout = requestTimeout + 30*time.Second
	}
	return srv
}

func (a *app) historyCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent runs, or show one run with its sources",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := evidence.OpenHistory(a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer h.Close()

			if len(args) == 1 {
				run, err := h.Run(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(a.stdout, run)
				}
				printRun(a.stdout, *run)
				for _, s := range run.Sources {
					fmt.Fprintf(a.stdout, "   %d. %s (%s, trust %d)\n", s.Position+1, s.URL, s.Site, s.Score)
				}
				return nil
			}

			runs, err := h.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(a.stdout, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(a.stdout, "No runs recorded.")
			}
			for _, r := range runs {
				printRun(a.stdout, r)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "max runs to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func printRun(w io.Writer, r evidence.Run) {
	fmt.Fprintf(w, "%s  %s  %-10s %d/%d  %s\n",
		r.StartedAt.Local().Format("2006-01-02 15:04"), r.ID, r.Outcome, r.Found, r.Required, snippet(r.Claim, 60))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
