// Package cli implements the image-loader command-line interface.
//
// # Commands
//
//   - mcp: Serve the MCP tools over stdin/stdout
//   - http: Serve the HTTP API
//   - load: Load one image and write it as PNG
//   - transformations: List the stock transformations
//
// Every command reads the optional --config TOML file and IMAGE_LOADER_*
// environment variables. --verbose forces debug logging. Logs always go to
// stderr because stdout carries MCP traffic.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/ironsheep/image-loader-mcp/internal/config"
	"github.com/ironsheep/image-loader-mcp/internal/loader"
)

const appName = "image-loader"

// Build information, set by main from ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger
	Config config.Config

	build      BuildInfo
	stdout     io.Writer
	configPath string
	verbose    bool
}

// New creates a CLI whose logs go to stderr and whose command output goes
// to stdout.
func New(stdout, stderr io.Writer, build BuildInfo) *CLI {
	if build.Version == "" {
		build.Version = "dev"
	}
	return &CLI{
		Logger: newLogger(stderr, log.InfoLevel),
		Config: config.Default(),
		build:  build,
		stdout: stdout,
	}
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "Image loader with request merging and two-tier caching",
		Long: `image-loader fetches images from files, data: URIs and http(s) URLs, resizes, rotates and
transforms them, and caches results in memory and on disk or in redis. Identical concurrent
requests share one decode.`,
		Version:           c.build.Version,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
	}

	root.SetVersionTemplate(fmt.Sprintf("%s %s\ncommit: %s\nbuilt: %s\n", appName, c.build.Version, c.build.Commit, c.build.BuildTime))
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "TOML config file")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(c.mcpCommand())
	root.AddCommand(c.httpCommand())
	root.AddCommand(c.loadCommand())
	root.AddCommand(c.transformationsCommand())

	return root
}

// setup loads configuration and attaches the logger to the command context.
func (c *CLI) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.Config = cfg

	level := cfg.Level()
	if c.verbose {
		level = log.DebugLevel
	}
	c.Logger.SetLevel(level)
	cmd.SetContext(withLogger(cmd.Context(), c.Logger))
	return nil
}

// newLoader starts a loader from the current configuration.
func (c *CLI) newLoader(ctx context.Context) (*loader.Loader, error) {
	l, err := loader.New(ctx, c.Config, c.Logger)
	if err != nil {
		return nil, fmt.Errorf("start loader: %w", err)
	}
	return l, nil
}

// Execute runs the CLI with ctx.
func Execute(ctx context.Context, stdout, stderr io.Writer, build BuildInfo) error {
	c := New(stdout, stderr, build)
	root := c.RootCommand()
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}
