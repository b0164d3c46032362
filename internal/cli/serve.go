package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ironsheep/image-loader-mcp/internal/httpapi"
	"github.com/ironsheep/image-loader-mcp/internal/server"
)

const shutdownTimeout = 5 * time.Second

func (c *CLI) mcpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools over stdin/stdout",
		Long: `Serve image_load, image_stats and the cache tools as an MCP server speaking JSON-RPC 2.0
over stdin/stdout. Configure it as a command in your MCP client.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := loggerFromContext(ctx)

			l, err := c.newLoader(ctx)
			if err != nil {
				return err
			}
			defer l.Close()

			logger.Debug("mcp server starting", "version", c.build.Version, "secondary", l.SecondaryName())
			srv := server.New(l, logger, c.build.Version)
			if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func (c *CLI) httpCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "http",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := loggerFromContext(ctx)
			if addr == "" {
				addr = c.Config.HTTP.Addr
			}

			l, err := c.newLoader(ctx)
			if err != nil {
				return err
			}
			defer l.Close()

			srv := &http.Server{
				Addr:              addr,
				Handler:           httpapi.NewRouter(l, logger),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe() }()
			logger.Info("listening", "addr", addr, "secondary", l.SecondaryName())

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			logger.Info("stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
