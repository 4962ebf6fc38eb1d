// Command controlplane starts the External Infrastructure Control Plane:
// the durable store, the admission chain, the reconciler registry, the
// reconciliation scheduler, and the HTTP API, wired together and run until
// an interrupt signal triggers a graceful shutdown.
//
// run builds its registry locally and registers no reconciler plugins,
// and nothing outside run can reach that registry. A binary built from
// this command therefore rejects every resource CREATE with
// NoReconcilerForType; linking a plugin in means adding a reg.Register
// call to run before reg.StartAll.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wilsonge/no8s-operator/internal/admission"
	"github.com/wilsonge/no8s-operator/internal/api"
	"github.com/wilsonge/no8s-operator/internal/config"
	"github.com/wilsonge/no8s-operator/internal/eventbus"
	"github.com/wilsonge/no8s-operator/internal/gateway"
	"github.com/wilsonge/no8s-operator/internal/metrics"
	"github.com/wilsonge/no8s-operator/internal/registry"
	"github.com/wilsonge/no8s-operator/internal/scheduler"
	"github.com/wilsonge/no8s-operator/internal/store/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("CONTROLPLANE_CONFIG"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	zapLog, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer zapLog.Sync()
	log := zapr.NewLogger(zapLog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := postgres.Open(ctx, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	bus := eventbus.New(eventbus.WithDropObserver(func(subscriberID string, totalDropped uint64) {
		metrics.EventBusDropped.WithLabelValues(subscriberID).Inc()
		log.Info("event dropped for slow subscriber", "subscription_id", subscriberID, "total_dropped", totalDropped)
	}))
	defer bus.Close()

	chain := admission.New(st, nil, log.WithName("admission"))
	reg := registry.New(st, log.WithName("registry"))
	gw := gateway.New(st, chain, bus, reg, log.WithName("gateway"))
	sched := scheduler.New(st, bus, reg, cfg.Scheduler, log.WithName("scheduler"))
	srv := api.New(st, gw, bus, reg, log.WithName("api"))

	httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: srv}

	reg.StartAll(ctx)
	go sched.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Error(err, "http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownGrace())
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "http server shutdown failed")
	}
	reg.StopAll(shutdownCtx)
	sched.Wait(shutdownCtx)

	log.Info("shutdown complete")
	return nil
}
