package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stockledger/internal/api"
	"github.com/punchamoorthee/stockledger/internal/config"
	"github.com/punchamoorthee/stockledger/internal/logging"
	"github.com/punchamoorthee/stockledger/internal/service"
	"github.com/punchamoorthee/stockledger/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal(err)
	}
	log := logging.New(cfg.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("unable to open store")
	}
	defer st.Close()

	// Initialize Layers
	base := log.WithField("env", cfg.Env)
	handler := api.NewHandler(
		service.NewStockService(st, base.WithField("component", "stock")),
		service.NewProductService(st, base.WithField("component", "products")),
		service.NewQueryService(st, base.WithField("component", "queries")),
		base.WithField("component", "api"),
	)

	// Router
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	handler.Register(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("graceful shutdown failed")
		}
	}()

	log.WithFields(logrus.Fields{"port": cfg.Port, "driver": cfg.Driver}).Info("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server stopped")
	}
	log.Info("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (store.Store, error) {
	if cfg.Driver == config.DriverMemory {
		log.Warn("using in-memory store; data is lost on exit")
		return store.NewMemory(), nil
	}

	pg, err := store.NewPostgres(ctx, cfg.DBSource, cfg.DBMaxConns)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}
