package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/app"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/metrics"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/orchestration"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/refinement"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/specsource"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/toolconfig"
)

const analysisPreviewLen = 200

type converter interface {
	Convert(ctx context.Context, in orchestration.ConvertInput, observers ...refinement.Observer) (*orchestration.Conversion, error)
}

type sourceLoader interface {
	Load(ctx context.Context, source string) (string, error)
}

type convertOptions struct {
	output        string
	docsOutput    string
	maxIterations int
	quiet         bool
}

func newConvertCmd(cc *cliContext) *cobra.Command {
	opts := convertOptions{}

	cmd := &cobra.Command{
		Use:   "convert <file-or-url>",
		Short: "Generate a tool configuration for one Swagger/OpenAPI document",
		Example: `  mcpgen convert ./swagger.yaml
  mcpgen convert https://github.com/acme/api/blob/main/openapi.yaml -o acme_tools.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cc.load(); err != nil {
				return err
			}
			defer cc.logger.Sync()
			if opts.maxIterations > 0 {
				cc.cfg.Refinement.MaxIterations = opts.maxIterations
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			set, err := app.LoadPrompts(cc.cfg.PromptsPath)
			if err != nil {
				return err
			}
			controller, err := app.NewController(cc.cfg, set, cc.logger)
			if err != nil {
				return err
			}
			cache, redisClient, err := app.NewCache(ctx, cc.cfg.Redis, cc.logger)
			if err != nil {
				cc.logger.Warn("result cache disabled", zap.Error(err))
			}
			if redisClient != nil {
				defer redisClient.Close()
			}

			service := orchestration.NewService(controller, orchestration.NewMemoryRunStore(), cache, nil,
				orchestration.ServiceConfig{MaxConcurrentRuns: 1, PromptVersion: set.Version, Models: cc.cfg.LLM.Models()}, cc.logger)

			return runConvert(ctx, service, specsource.NewLoader(cc.logger), args[0], opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "tools_config.json", "file to write the tool configuration to")
	cmd.Flags().StringVar(&opts.docsOutput, "docs", "", "also write the generated documentation to this file")
	cmd.Flags().IntVar(&opts.maxIterations, "max-iterations", 0, "override refinement.max_iterations")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "do not print progress")
	return cmd
}

func runConvert(ctx context.Context, conv converter, loader sourceLoader, source string, opts convertOptions, stdout, stderr io.Writer) error {
	content, err := loader.Load(ctx, source)
	if err != nil {
		return err
	}

	var observers []refinement.Observer
	if !opts.quiet {
		observers = append(observers, progressPrinter(stderr))
	}

	fmt.Fprintln(stdout, "Starting conversion...")
	result, err := conv.Convert(ctx, orchestration.ConvertInput{
		SourceSpec: content,
		Origin:     metrics.OriginCLI,
	}, observers...)
	if err != nil {
		if re, ok := refinement.IsRunError(err); ok && re.Critique != "" {
			fmt.Fprintf(stderr, "Last critique: %s\n", re.Critique)
		}
		return err
	}

	res := result.Result
	fmt.Fprintln(stdout, "Conversion completed!")
	fmt.Fprintf(stdout, "Everything correct: %t\n", res.Accepted)
	fmt.Fprintf(stdout, "Score: %d\n", res.Score)
	fmt.Fprintf(stdout, "Reason: %s\n", res.Critique)
	fmt.Fprintf(stdout, "Iterations: %d\n", res.Iterations)
	if result.Cached {
		fmt.Fprintln(stdout, "Served from cache")
	}
	if res.Analysis != "" {
		fmt.Fprintf(stdout, "Analysis: %s\n", preview(res.Analysis, analysisPreviewLen))
	}
	fmt.Fprintf(stdout, "Tool config length: %d characters\n", len(res.Configuration))

	data, err := toolconfig.Pretty(res.Configuration)
	switch {
	case errors.Is(err, toolconfig.ErrConfigurationDecode):
		fmt.Fprintf(stderr, "Warning: tool config is not valid JSON, writing it unchanged: %v\n", err)
	case err != nil:
		return err
	}
	if err := os.WriteFile(opts.output, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.output, err)
	}
	fmt.Fprintf(stdout, "Config saved to: %s\n", opts.output)

	if opts.docsOutput != "" && res.Documentation != "" {
		if err := os.WriteFile(opts.docsOutput, []byte(res.Documentation), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", opts.docsOutput, err)
		}
		fmt.Fprintf(stdout, "Documentation saved to: %s\n", opts.docsOutput)
	}
	return nil
}

func progressPrinter(w io.Writer) refinement.Observer {
	return func(ev refinement.Event) {
		switch ev.Phase {
		case refinement.PhaseGenerating:
			if ev.Accepted != nil && ev.Score != nil {
				fmt.Fprintf(w, "  rejected with score %d: %s\n", *ev.Score, preview(ev.Critique, analysisPreviewLen))
			}
			fmt.Fprintf(w, "[%d] generating configuration\n", ev.Iteration)
		case refinement.PhaseValidating:
			fmt.Fprintf(w, "[%d] validating configuration\n", ev.Iteration)
		case refinement.PhaseAccepted:
			fmt.Fprintf(w, "[%d] accepted\n", ev.Iteration)
		case refinement.PhaseFailed:
			fmt.Fprintf(w, "[%d] failed: %s\n", ev.Iteration, refinement.Kind(ev.Err))
		}
	}
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
