package main

import (
	"os/signal"
	"syscall"

	"manual-rag/internal/server"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve POST /chat/rag over HTTP",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := a.engine(ctx)
	if err != nil {
		return err
	}

	return server.New(engine, a.cfg.ListenAddr(), a.cfg.Server.ShutdownTimeout, a.logger).Run(ctx)
}
