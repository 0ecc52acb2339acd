package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/blockedby/tg-archiver/internal/archiver"
	"github.com/blockedby/tg-archiver/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP control surface",
	Long: `serve exposes the archive api under /api/v1, streams progress events
over a websocket at /ws and serves the download tree read-only under /files.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("port", 0, "http port (default HTTP_PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.HTTPPort = port
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requireReady(); err != nil {
		log.Warn().Err(err).Msg("runs will fail until telegram is authorized")
	}

	runs := archiver.NewRunManager(a.service(), log.Component("runs"))
	handler := archiver.NewHandler(runs, a.recorder, cfg.DownloadPath)

	hub := web.NewHub()
	go hub.Run()
	go hub.Forward(ctx, a.bus)

	server := web.NewServer(&web.Config{Port: cfg.HTTPPort, StaticDir: cfg.DownloadPath}, hub)
	server.Mount("/api/v1", handler.Routes())

	log.Info().Int("port", cfg.HTTPPort).Msg("starting web server")
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error().Err(err).Msg("server error")
	}

	log.Info().Msg("shutting down services...")
	runs.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := runs.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("runs did not finish in time")
	}
	if err := server.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}

	log.Info().Msg("shutdown complete")
	return nil
}
