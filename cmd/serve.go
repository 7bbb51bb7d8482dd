package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pairlink/pairlink/internal/config"
	"github.com/pairlink/pairlink/internal/logging"
	"github.com/pairlink/pairlink/internal/server"
	"github.com/pairlink/pairlink/internal/signaling"
	"github.com/pairlink/pairlink/internal/version"
)

const shutdownTimeout = 10 * time.Second

var (
	flagAddress   string
	flagNoMetrics bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the rendezvous server",
	Long: `Run the rendezvous server. Clients connect over websocket at /ws; the server
also answers /health, /rooms/{roomID} and, unless disabled, /metrics.

Examples:
  pairlink serve
  pairlink serve --address :8080
  PAIRLINK_SERVER_ALLOWED_ORIGINS=https://example.com pairlink serve`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	cfg, err := LoadConfig(config.Options{Address: flagAddress})
	if err != nil {
		return err
	}
	if flagNoMetrics {
		cfg.Server.Metrics = false
	}
	log := newLogger(cfg, zerolog.InfoLevel)

	var (
		reg      prometheus.Registerer
		gatherer prometheus.Gatherer
	)
	if cfg.Server.Metrics {
		r := prometheus.NewRegistry()
		r.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		reg, gatherer = r, r
	}

	hub := signaling.NewHub(signaling.NewRegistry(), signaling.NewMetrics(reg), logging.Component(log, "hub"))
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           server.NewRouter(hub, cfg.Server, gatherer, logging.Component(log, "http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().
			Str("address", cfg.Server.Address).
			Str("version", version.Version).
			Bool("metrics", cfg.Server.Metrics).
			Msg("rendezvous server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen on %s: %w", cfg.Server.Address, err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)

	// Shutdown leaves hijacked websocket connections alone; stopping the hub
	// closes their send queues and the write pumps close the sockets.
	stopHub()
	<-hub.Done()
	log.Info().Msg("rendezvous server stopped")
	return err
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&flagAddress, "address", "a", "", "Listen address (default :3001)")
	serveCmd.Flags().BoolVar(&flagNoMetrics, "no-metrics", false, "Disable the /metrics endpoint")
}
