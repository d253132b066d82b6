package auth

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRefreshInterval is the background refresh period while a user is
// authenticated.
const DefaultRefreshInterval = 10 * time.Minute

// refreshScheduler runs tick on a fixed interval. Overlapping ticks are
// skipped.
type refreshScheduler struct {
	mu       sync.Mutex
	interval time.Duration
	tick     func()
	logger   Logger
	cron     *cron.Cron
}

func newRefreshScheduler(interval time.Duration, tick func(), logger Logger) *refreshScheduler {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &refreshScheduler{
		interval: interval,
		tick:     tick,
		logger:   normalizeLogger(logger),
	}
}

// Start is a no-op when already running.
func (s *refreshScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return
	}

	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(cron.Every(s.interval), cron.FuncJob(s.tick))
	c.Start()
	s.cron = c
	s.logger.Debug("refresh scheduler started", "interval", s.interval.String())
}

// Stop does not wait for a running tick to finish.
func (s *refreshScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}
	s.cron.Stop()
	s.cron = nil
	s.logger.Debug("refresh scheduler stopped")
}

func (s *refreshScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// cronLogger adapts Logger to cron.Logger.
type cronLogger struct {
	logger Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
