// cmd/statestored is the long-running process that hosts a StoreRegistry:
// it serves the read-only admin HTTP surface and optionally runs the
// reference devcoordinator for local multi-process testing. The registry's
// shared maintenance ticker starts on the registry's first Get; this
// process itself never calls Get.
//
// Example — single node, no coordinator:
//
//	./statestored --data-dir /var/lib/statestore --admin-addr :8090
//
// Example — with the reference coordinator mounted on the same process:
//
//	./statestored --data-dir /var/lib/statestore --admin-addr :8090 \
//	              --dev-coordinator --host node1.internal --executor-id exec-1
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/streamkv/statestore/internal/adminapi"
	"github.com/streamkv/statestore/internal/coordinator"
	"github.com/streamkv/statestore/internal/devcoordinator"
	"github.com/streamkv/statestore/internal/registry"
	"github.com/streamkv/statestore/internal/store"
)

func main() {
	dataDir := flag.String("data-dir", "/tmp/statestore", "Root directory for all partitions")
	adminAddr := flag.String("admin-addr", ":8090", "Listen address for the admin HTTP surface")
	host := flag.String("host", "localhost", "Identity reported to the coordinator as this process's host")
	executorID := flag.String("executor-id", "exec-1", "Identity reported to the coordinator as this process's executor id")
	coordinatorAddr := flag.String("coordinator-addr", "", "Base URL of an external coordinator; empty uses a no-op coordinator")
	devCoordinatorFlag := flag.Bool("dev-coordinator", false, "Mount the reference devcoordinator on this process's admin server")
	numBatchesToRetain := flag.Int("num-batches-to-retain", store.DefaultConfig().NumBatchesToRetain, "Versions to retain behind the latest committed version")
	maxDeltaChain := flag.Int("max-delta-chain", store.DefaultConfig().MaxDeltaChainForSnapshots, "Delta-run length that triggers a compacting snapshot")
	maintenancePeriod := flag.Duration("maintenance-period", store.DefaultConfig().MaintenancePeriod, "Interval between shared maintenance ticks")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("component", "statestored").Logger()

	cfg := store.Config{
		NumBatchesToRetain:        *numBatchesToRetain,
		MaxDeltaChainForSnapshots: *maxDeltaChain,
		MaintenancePeriod:         *maintenancePeriod,
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	var coord coordinator.Client = coordinator.Noop{}
	if *coordinatorAddr != "" {
		coord = coordinator.NewHTTPClient(*coordinatorAddr, 10*time.Second)
	}
	identity := coordinator.StaticIdentity{HostValue: *host, ExecutorIDValue: *executorID}

	reg := registry.New(*dataDir, cfg, coord, identity, log)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(adminapi.NewMaintainerCollector(reg.Metrics()))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(adminapi.Logger(log), adminapi.Recovery(log))

	adminapi.NewHandler(reg).Register(router)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})))

	var devServer *devcoordinator.Server
	if *devCoordinatorFlag {
		devServer = devcoordinator.NewServer(*host)
		devServer.Register(router)
		log.Info().Msg("devcoordinator mounted; do not use this build in production")
	}

	srv := &http.Server{
		Addr:         *adminAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", *adminAddr).Str("data_dir", *dataDir).Msg("admin server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("admin server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	reg.ClearAll()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("admin server shutdown error")
	}
}
