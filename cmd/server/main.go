package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habitstreak/internal/config"
	"github.com/habitstreak/internal/db"
	"github.com/habitstreak/internal/handler"
	"github.com/habitstreak/internal/logger"
	"github.com/habitstreak/internal/router"
	"github.com/habitstreak/internal/scheduler"
	"github.com/habitstreak/internal/service"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLog, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer appLog.Sync()

	if err := run(cfg, appLog); err != nil {
		appLog.Error("server exited", "error", err)
		appLog.Sync()
		os.Exit(1)
	}
}

func run(cfg config.AppConfig, appLog *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化数据库
	if err := db.Init(cfg.DatabaseDriver, cfg.DatabasePath); err != nil {
		return err
	}
	defer db.Close(db.DB)

	registry := service.NewHabitRegistry(db.NewHabitStore(db.DB), service.WithLogger(appLog.With("component", "registry")))
	if err := registry.Load(ctx); err != nil {
		return err
	}

	// 启动时先追平停机期间错过的周期
	if report := registry.ReconcileAll(ctx, registry.Now()); report.Err() != nil {
		appLog.Warn("startup reconcile finished with failures", "error", report.Err())
	}

	sched, err := scheduler.New(registry, cfg.ReconcileSchedules, cfg.Location(), appLog.With("component", "scheduler"))
	if err != nil {
		return err
	}

	gin.SetMode(cfg.GinMode)
	api := handler.NewAPI(registry, sched, cfg.MissWindow(), appLog.With("component", "http"))
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.SetupRouter(api),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	httpStopped := make(chan struct{})

	// 先停 HTTP，再等待进行中的对账结束
	g.Go(func() error {
		sched.Start()
		<-gctx.Done()
		<-httpStopped
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return sched.Stop(stopCtx)
	})

	g.Go(func() error {
		appLog.Info("http server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		defer close(httpStopped)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		appLog.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
