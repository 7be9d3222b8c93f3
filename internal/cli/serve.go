package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"taskschedule/internal/api"
	"taskschedule/internal/platform"
	schedmcp "taskschedule/internal/mcp"
	"taskschedule/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local engine and its HTTP API",
	Long: `Fires the daily triggers of the local registry and serves the HTTP API
(and MCP over HTTP at /mcp) until interrupted. Tasks scheduled by other
taskschedule processes are picked up as the registry changes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the scheduling tools over MCP on stdio",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	wf, backend, err := newWorkflow()
	if err != nil {
		return err
	}
	if backend != platform.BackendLocal {
		return usageError("serve runs the local registry; use --backend local")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := startEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Stop(cfg.ShutdownGrace)

	mcpServer := schedmcp.NewMCPServer(wf, engine.store, logger, cfg.Location())
	server := api.NewServer(api.Options{
		Addr:       cfg.Server.Addr,
		AuthToken:  cfg.Server.AuthToken,
		Store:      engine.store,
		Engine:     engine.scheduler,
		Workflow:   wf,
		MCPHandler: mcpServer.HTTPHandler(),
		Logger:     logger,
		Location:   cfg.Location(),
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverErr:
		return failure("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}
	return nil
}

func runMCP(cmd *cobra.Command, _ []string) error {
	wf, backend, err := newWorkflow()
	if err != nil {
		return err
	}

	var registry schedmcp.Registry
	if backend == platform.BackendLocal {
		st, err := store.Open(cmd.Context(), cfg.StateDir, cfg.Log.Retention)
		if err != nil {
			return failure("open local registry: %w", err)
		}
		defer st.Close()
		registry = st
	}

	if err := schedmcp.NewMCPServer(wf, registry, logger, cfg.Location()).Run(); err != nil {
		return failure("mcp server: %w", err)
	}
	return nil
}
