package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/weaveflow-go/internal/domain/workflow"
	"github.com/weaveflow-go/internal/execution/adapters/memory"
	"github.com/weaveflow-go/internal/execution/app/engine"
	"github.com/weaveflow-go/internal/execution/app/scheduler"
	"github.com/weaveflow-go/internal/execution/app/tracker"
	"github.com/weaveflow-go/internal/executor"
	"github.com/weaveflow-go/internal/workflow/app/transfer"
	"github.com/weaveflow-go/pkg/config"
	"github.com/weaveflow-go/pkg/logger"
)

// ErrRunFailed is returned when a local run does not finish successfully.
var ErrRunFailed = errors.New("run did not succeed")

type runOptions struct {
	file    string
	scope   string
	nodes   []string
	output  string
	debug   bool
	noMedia bool
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run -f <workflow.yaml|json>",
		Short: "Run a workflow file once with an in-memory store",
		Example: `  # whole workflow
  weaveflow run -f examples/workflows/marketing-kit.yaml

  # one node, printed as JSON
  weaveflow run -f marketing-kit.yaml --node crop-hero -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(serviceName)
			if err != nil {
				return err
			}
			if opts.noMedia {
				cfg.Media.Enabled = false
			}

			level := "warn"
			if opts.debug {
				level = "debug"
			}
			log := logger.New(logger.Config{Level: level, Format: "console", Output: "stderr", Service: serviceName})
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runWorkflow(ctx, cmd.OutOrStdout(), cfg, log, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "workflow definition (.yaml, .yml or .json)")
	cmd.Flags().StringVar(&opts.scope, "scope", "", "full, partial or single (default depends on --node)")
	cmd.Flags().StringSliceVar(&opts.nodes, "node", nil, "node id to run; repeat for a partial run")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "table", "table or json")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	cmd.Flags().BoolVar(&opts.noMedia, "no-media", false, "pass media through instead of calling ffmpeg")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runWorkflow(ctx context.Context, out io.Writer, cfg *config.Config, log logger.Logger, opts *runOptions) error {
	def, err := transfer.NewImporter(log).ImportFile(opts.file, transfer.ImportOptions{})
	if err != nil {
		return err
	}

	req, err := buildRequest(def, opts.scope, opts.nodes)
	if err != nil {
		return err
	}

	nodeRegistry, err := executor.NewRegistry(cfg, log)
	if err != nil {
		return err
	}

	store := memory.NewStore()
	eng := engine.New(engine.Deps{
		Store:    store,
		Tracker:  tracker.New(store, log),
		Executor: nodeRegistry,
		Catalog:  nodeRegistry,
		Logger:   log,
	}, engine.Config{
		Scheduler: scheduler.Config{
			MaxConcurrency: cfg.Scheduler.MaxConcurrency,
			NodeTimeout:    cfg.Scheduler.NodeTimeout,
		},
		RunTimeout: cfg.Scheduler.RunTimeout,
	})
	defer eng.Stop(context.Background())

	run, err := eng.Submit(ctx, req)
	if err != nil {
		return err
	}

	select {
	case <-run.Done():
	case <-ctx.Done():
		_ = eng.Cancel(run.ID)
		<-run.Done()
	}

	detail, err := eng.GetRun(context.Background(), run.ID)
	if err != nil {
		return err
	}

	switch opts.output {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(detail); err != nil {
			return err
		}
	default:
		printTable(out, detail)
	}

	if detail.Status != workflow.RunSuccess {
		return fmt.Errorf("%w: %s", ErrRunFailed, detail.Status)
	}
	return nil
}

// buildRequest selects the nodes to run. Without --node every node runs;
// with one node the scope defaults to single, with several to partial.
func buildRequest(def *workflow.Definition, scope string, ids []string) (engine.SubmitRequest, error) {
	req := engine.SubmitRequest{
		WorkflowID: def.ID,
		Scope:      workflow.Scope(scope),
		Nodes:      def.Nodes,
		Edges:      def.Edges,
	}

	if len(ids) > 0 {
		nodes, missing := def.Subset(ids)
		if len(missing) > 0 {
			return req, fmt.Errorf("unknown node ids: %s", strings.Join(missing, ", "))
		}
		req.Nodes = nodes
	}

	if req.Scope == "" {
		switch {
		case len(ids) == 0:
			req.Scope = workflow.ScopeFull
		case len(ids) == 1:
			req.Scope = workflow.ScopeSingle
		default:
			req.Scope = workflow.ScopePartial
		}
	}
	return req, nil
}

func printTable(out io.Writer, detail *workflow.RunDetail) {
	fmt.Fprintf(out, "run %s  status=%s", detail.ID, detail.Status)
	if detail.DurationMs != nil {
		fmt.Fprintf(out, "  duration=%dms", *detail.DurationMs)
	}
	fmt.Fprintln(out)
	if detail.Error != "" {
		fmt.Fprintf(out, "error: %s\n", detail.Error)
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tTYPE\tSTATUS\tDURATION\tRESULT")
	for _, ne := range detail.Nodes {
		duration := "-"
		if ne.DurationMs != nil {
			duration = fmt.Sprintf("%dms", *ne.DurationMs)
		}
		result := ne.Error
		if result == "" && ne.Outputs != nil {
			result = fmt.Sprint(ne.Outputs["result"])
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", ne.NodeID, ne.NodeType, ne.Status, duration, truncate(result, 60))
	}
	w.Flush()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
