// Package run implements "flowbus run", the long-running flow host.
package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/touchon/flowbus/internal/application/flowhost"
	"github.com/touchon/flowbus/internal/infrastructure/config"
	"github.com/touchon/flowbus/internal/infrastructure/flowfile"
	"github.com/touchon/flowbus/internal/infrastructure/pubsub"
	"github.com/touchon/flowbus/internal/infrastructure/wsconn"
	httpRouter "github.com/touchon/flowbus/internal/interfaces/http"
	"github.com/touchon/flowbus/internal/shared/goroutine"
	"github.com/touchon/flowbus/internal/shared/logger"
	"github.com/touchon/flowbus/internal/shared/version"
)

const shutdownTimeout = 30 * time.Second

var (
	configFile string
	flowFile   string
	logLevel   string
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the flow host",
		Long:  `Load a flow definition, connect its nodes to their touchon servers and serve node status over HTTP.`,
		RunE:  run,
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Config file (default ./configs/config.yaml)")
	cmd.Flags().StringVarP(&flowFile, "flows", "f", "", "Flow definition file (overrides flow.file)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (overrides logger.level)")

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if flowFile != "" {
		cfg.Flow.File = flowFile
	}

	if err := logger.Init(&cfg.Logger); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if logLevel != "" {
		logger.SetLevel(logger.ParseLevel(logLevel))
	}
	log := logger.NewLogger()

	log.Infow("starting flow host",
		"version", version.Current(),
		"flows", cfg.Flow.File,
	)

	def, err := flowfile.Load(cfg.Flow.File)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	connMetrics, err := wsconn.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("failed to register connection metrics: %w", err)
	}
	flowMetrics, err := flowhost.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("failed to register flow metrics: %w", err)
	}

	registry := wsconn.NewRegistry(
		wsconn.WithLogger(logger.WithComponent("wsconn")),
		wsconn.WithReconnect(wsconn.ReconnectFromConfig(cfg.Reconnect)),
		wsconn.WithTransport(wsconn.TransportFromConfig(cfg.Transport)),
		wsconn.WithMetrics(connMetrics),
	)

	sinks := []flowhost.OutputSink{flowhost.NewLogSink(logger.WithComponent("flow"))}

	var relay *pubsub.Relay
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			// The relay subscriber keeps retrying; the host runs without it meanwhile.
			log.Warnw("redis not reachable", "addr", cfg.Redis.GetAddr(), "error", err)
		}

		relay = pubsub.NewRelay(client, logger.WithComponent("relay"))
		sinks = append(sinks, flowhost.NewRelaySink(relay, logger.WithComponent("relay")))
		log.Infow("redis relay enabled",
			"addr", cfg.Redis.GetAddr(),
			"instance_id", relay.InstanceID(),
		)
	}

	rt, err := flowhost.New(def,
		flowhost.WithRegistry(registry),
		flowhost.WithLogger(logger.WithComponent("flow")),
		flowhost.WithSinks(sinks...),
		flowhost.WithMetrics(flowMetrics),
		flowhost.WithStateTimeout(cfg.StateAPI.Timeout),
	)
	if err != nil {
		return err
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if relay != nil {
		goroutine.SafeGo(log, "relay-triggers", func() {
			if err := rt.ServeTriggers(ctx, relay); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorw("relay trigger subscription ended", "error", err)
			}
		})
	}

	gin.SetMode(cfg.Server.Mode)
	gin.DefaultWriter = io.Discard

	router := httpRouter.NewRouter(rt, reg, logger.WithComponent("http"))
	router.SetupRoutes()

	srv := &http.Server{
		Addr:         cfg.Server.GetAddr(),
		Handler:      router.GetEngine(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	goroutine.SafeGo(log, "http-server", func() {
		log.Infow("server starting",
			"address", cfg.Server.GetAddr(),
			"mode", cfg.Server.Mode)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		log.Infow("shutting down flow host...", "signal", sig.String())
	case err := <-serveErr:
		log.Errorw("http server failed", "error", err)
		runErr = fmt.Errorf("http server: %w", err)
	}

	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}
	if err := rt.Stop(shutdownCtx); err != nil {
		log.Errorw("flow runtime did not stop cleanly", "error", err)
	}
	if err := registry.CloseAll(shutdownCtx); err != nil {
		log.Errorw("connections did not close cleanly", "error", err)
	}

	log.Infow("flow host exited gracefully")
	return runErr
}
