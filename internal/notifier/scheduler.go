package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler запускает проходы рассылки по cron-расписанию.
type Scheduler struct {
	cron     *cron.Cron
	notifier *Notifier
	logger   *zap.Logger
	timeout  time.Duration
}

// NewScheduler регистрирует рассылку по выражению spec (с секундами) в часовом поясе loc.
// Проход, начавшийся при незавершённом предыдущем, пропускается.
func NewScheduler(n *Notifier, spec string, loc *time.Location, timeout time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}

	cl := cronLogger{logger.Named("cron")}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithSeconds(),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	s := &Scheduler{
		cron:     c,
		notifier: n,
		logger:   logger,
		timeout:  timeout,
	}

	if _, err := c.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("register notification job %q: %w", spec, err)
	}

	return s, nil
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if _, err := s.notifier.Run(ctx); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			s.logger.Info("notification run skipped: already running")
			return
		}
		s.logger.Error("notification run failed", zap.Error(err))
	}
}

// Start запускает планировщик.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("notification scheduler started")
}

// Stop останавливает планировщик и дожидается завершения текущего прохода.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("notification scheduler stopped")
}

// Next возвращает время следующего запуска.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
