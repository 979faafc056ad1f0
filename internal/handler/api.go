package handler

import (
	"context"
	"time"

	"github.com/habitstreak/internal/logger"
	"github.com/habitstreak/internal/service"
)

// ReconcileRunner 执行一轮手动对账，由 scheduler.Scheduler 实现
type ReconcileRunner interface {
	RunOnce(ctx context.Context) (service.ReconcileReport, error)
}

// API bundles shared dependencies for HTTP handlers.
type API struct {
	habits     *service.HabitRegistry
	reconciler ReconcileRunner
	missWindow time.Duration
	log        *logger.Logger
}

// NewAPI constructs a handler set around the habit registry.
// A nil reconciler makes the manual trigger call the registry directly.
func NewAPI(habits *service.HabitRegistry, reconciler ReconcileRunner, missWindow time.Duration, log *logger.Logger) *API {
	if missWindow <= 0 {
		missWindow = service.DefaultMissWindow
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &API{
		habits:     habits,
		reconciler: reconciler,
		missWindow: missWindow,
		log:        log,
	}
}

// Logger exposes the handler logger for middleware.
func (a *API) Logger() *logger.Logger {
	return a.log
}

func (a *API) runReconcile(ctx context.Context) (service.ReconcileReport, error) {
	if a.reconciler == nil {
		return a.habits.ReconcileAll(ctx, a.habits.Now()), nil
	}
	return a.reconciler.RunOnce(ctx)
}
