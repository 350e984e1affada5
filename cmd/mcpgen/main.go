package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/config"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cliContext is shared by the subcommands.
type cliContext struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	cc := &cliContext{}

	rootCmd := &cobra.Command{
		Use:   "mcpgen",
		Short: "Generate MCP tool configurations from Swagger/OpenAPI documents",
		Long: `mcpgen drafts an MCP tool configuration for an API description with one
model and has a second model review it, regenerating with the review's
critique until the draft is accepted.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&cc.configPath, "config", os.Getenv("MCPGEN_CONFIG"), "path to a YAML config file")

	rootCmd.AddCommand(newConvertCmd(cc), newSeedUserCmd(cc))
	return rootCmd
}

// load reads configuration and builds the logger. Subcommands call it from
// RunE so flag parsing errors surface before any config errors.
func (cc *cliContext) load() error {
	cfg, err := config.Load(cc.configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	cc.cfg, cc.logger = cfg, logger
	return nil
}
