package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/colwal/pkg/metrics"
	"github.com/cuemby/colwal/pkg/store"
	"github.com/cuemby/colwal/pkg/wal"
	"github.com/spf13/cobra"
)

var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics <dir>",
	Short: "Recover a data directory and serve its Prometheus metrics while idling",
	Args:  cobra.ExactArgs(1),
	RunE:  runServeMetrics,
}

func init() {
	serveMetricsCmd.Flags().String("addr", ":9090", "address to serve /metrics, /health, /ready, and /live on")
}

func runServeMetrics(cmd *cobra.Command, args []string) error {
	dir := args[0]
	addr, _ := cmd.Flags().GetString("addr")

	st := store.NewBoltColumnStore()
	if err := st.Open(dir); err != nil {
		return fmt.Errorf("open column store: %w", err)
	}
	defer st.Close()

	w, err := wal.Open(dir, st)
	if err != nil {
		return fmt.Errorf("recover %s: %w", dir, err)
	}
	defer w.Close()
	metrics.RegisterComponent("wal", true, "")

	collector := metrics.NewCollector(w)
	collector.Start()
	defer collector.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("serving metrics for %s on %s\n", dir, addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		fmt.Println("shutting down")
		return srv.Shutdown(context.Background())
	}
}
