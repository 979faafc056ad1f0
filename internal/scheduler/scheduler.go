package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/habitstreak/internal/logger"
	"github.com/habitstreak/internal/service"
	"github.com/robfig/cron/v3"
)

// DefaultSchedules 每晚 23:59:57 对账一次，另每 30 分钟补跑一次，防止错过夜间任务
var DefaultSchedules = []string{"57 59 23 * * *", "@every 30m"}

// ErrStopped 调度器停止后不再接受新的对账
var ErrStopped = errors.New("scheduler stopped")

// Reconciler 是调度器驱动的对账入口，由 service.HabitRegistry 实现
type Reconciler interface {
	ReconcileAll(ctx context.Context, now time.Time) service.ReconcileReport
	Now() time.Time
}

// Scheduler 按 cron 表达式周期性地对全部习惯执行对账
//
// 同一时刻最多只有一轮对账在跑：定时触发遇到进行中的一轮会直接跳过，
// 手动触发则排队等待。
type Scheduler struct {
	cron       *cron.Cron
	reconciler Reconciler
	log        *logger.Logger

	passMu sync.Mutex

	stateMu sync.Mutex
	stopped bool
	running sync.WaitGroup

	jobCtx    context.Context
	cancelJob context.CancelFunc
}

// New 解析全部调度表达式（支持秒字段与 @every 描述符），loc 为空时使用 UTC
func New(reconciler Reconciler, schedules []string, loc *time.Location, log *logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	if len(schedules) == 0 {
		schedules = DefaultSchedules
	}

	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	jobCtx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:       c,
		reconciler: reconciler,
		log:        log,
		jobCtx:     jobCtx,
		cancelJob:  cancel,
	}

	for _, spec := range schedules {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		if _, err := c.AddFunc(spec, s.scheduledPass); err != nil {
			cancel()
			return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
		}
	}
	if len(c.Entries()) == 0 {
		cancel()
		return nil, errors.New("no reconcile schedule configured")
	}

	return s, nil
}

// Start 在后台启动调度，不阻塞
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, entry := range s.cron.Entries() {
		s.log.Info("reconcile scheduled", "entry", int(entry.ID), "next", entry.Next)
	}
}

// RunOnce 立即执行一轮对账；已有一轮在跑时等待其结束
func (s *Scheduler) RunOnce(ctx context.Context) (service.ReconcileReport, error) {
	if !s.enter() {
		return service.ReconcileReport{}, ErrStopped
	}
	defer s.running.Done()

	s.passMu.Lock()
	defer s.passMu.Unlock()

	return s.reconciler.ReconcileAll(ctx, s.reconciler.Now()), nil
}

// Stop 停止调度并等待进行中的对账结束
// ctx 先到期时取消进行中的对账并返回 ctx.Err()，对账会在处理完当前习惯后退出
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stateMu.Lock()
	s.stopped = true
	s.stateMu.Unlock()

	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancelJob()
		s.log.Info("reconcile scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancelJob()
		s.log.Warn("reconcile scheduler stop timed out", "error", ctx.Err())
		return ctx.Err()
	}
}

func (s *Scheduler) scheduledPass() {
	if !s.enter() {
		return
	}
	defer s.running.Done()

	if !s.passMu.TryLock() {
		s.log.Debug("reconcile pass skipped, another pass is running")
		return
	}
	defer s.passMu.Unlock()

	report := s.reconciler.ReconcileAll(s.jobCtx, s.reconciler.Now())
	if err := report.Err(); err != nil {
		s.log.Warn("scheduled reconcile finished with failures", "run_id", report.RunID, "error", err)
	}
}

func (s *Scheduler) enter() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.stopped {
		return false
	}
	s.running.Add(1)
	return true
}

// cronLogger 把 cron 的内部日志转到 zap
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
