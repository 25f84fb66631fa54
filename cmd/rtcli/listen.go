package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var listenMetricsAddr string

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().StringVar(&listenMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9464)")
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Connect and print every event as a JSON line",
	Long: "Connect to the endpoint, subscribe to the configured channels and print each event\n" +
		"as one JSON line until interrupted. The connection is re-established automatically.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		if listenMetricsAddr != "" {
			srv, err := serveMetrics(s, listenMetricsAddr)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		printer := newEventPrinter(cmd.OutOrStdout())
		for _, name := range printedEvents {
			s.manager.On(name, printer.handler(name))
		}

		if err := s.manager.Connect(ctx, s.identity); err != nil {
			return err
		}

		<-ctx.Done()
		return nil
	},
}

func serveMetrics(s *session, addr string) (*http.Server, error) {
	reg := prometheus.NewRegistry()
	if err := s.metrics.Register(reg); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.zl.Sugar().Errorf("metrics server: %s", err)
		}
	}()
	return srv, nil
}
