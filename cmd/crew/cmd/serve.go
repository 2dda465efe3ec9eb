package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/devcrewhq/crew/internal/events"
	"github.com/devcrewhq/crew/internal/queue"
	"github.com/devcrewhq/crew/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP status API",
	Long: `Serve the orchestration status over HTTP.

Endpoints:
  GET /                 service identity
  GET /health           liveness probe
  GET /api/v1/status    queue depths, projects, agents and recent events
  GET /api/v1/events    live event stream (SSE)

The server reads the same Redis queue and sqlite store a run writes to,
so it can watch a run started from another terminal.`,
	RunE: runServeCmd,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	rdb, err := openRedis(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	bus := events.NewBus(256)
	defer bus.Close()
	recorder := events.NewRecorder(bus, 50)

	webCfg := web.DefaultConfig()
	if cfg.Web.Addr != "" {
		webCfg.Addr = cfg.Web.Addr
	}
	if serveAddr != "" {
		webCfg.Addr = serveAddr
	}
	if len(cfg.Web.CORSOrigins) > 0 {
		webCfg.CORSOrigins = cfg.Web.CORSOrigins
	}

	server := web.New(webCfg, logger,
		web.WithVersion(appVersion),
		web.WithStore(st),
		web.WithQueue(queue.New(rdb, logger)),
		web.WithRecorder(recorder),
		web.WithBus(bus),
	)

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s\n", server.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	if err := server.Shutdown(context.Background()); err != nil {
		return err
	}
	return nil
}
