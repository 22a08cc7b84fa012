package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/researchledger/internal/server"
)

var (
	servePort  int
	browseOnly bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server for jobs, approvals and ledgers",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		queue := server.NewApprovalQueue()
		var runner server.JobRunner
		if !browseOnly {
			if err := cfg.Validate(); err != nil {
				zap.S().Warnf("Starting jobs is disabled: %v", err)
			} else if orch, err := buildOrchestrator(cfg, db, queue); err != nil {
				zap.S().Warnf("Starting jobs is disabled: %v", err)
			} else {
				runner = orch
			}
		}

		srv, err := server.New(db, queue, runner)
		if err != nil {
			return err
		}

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		if err := server.Serve(ctx, srv, port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
	serveCmd.Flags().BoolVar(&browseOnly, "browse-only", false, "Serve stored jobs without starting new ones")
}
