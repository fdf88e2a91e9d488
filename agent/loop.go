package agent

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/ganwy2017/formation-control-1/formation"
	"github.com/ganwy2017/formation-control-1/transport"
)

// TimeSyncer is the clock-synchronization boundary waited on once before the
// first cycle fires. The stock implementation is a no-op placeholder; it must
// stay swappable.
type TimeSyncer interface {
	WaitForSync(ctx context.Context) error
}

type noopSyncer struct{}

func (noopSyncer) WaitForSync(ctx context.Context) error { return nil }

// NoopSyncer returns a TimeSyncer that is already synchronized.
func NoopSyncer() TimeSyncer { return noopSyncer{} }

// Loop fires the agent's algorithm cycle once per sample period and publishes
// the fresh estimate after each consensus step. Cycles run strictly
// sequentially on a single worker; inbound messages only ever append to or
// replace agent state between them.
type Loop struct {
	agent  *Agent
	pub    transport.Publisher
	syncer TimeSyncer
	clock  clock.Clock
	logger golog.Logger

	mu                      sync.Mutex
	running                 bool
	cancel                  context.CancelFunc
	activeBackgroundWorkers sync.WaitGroup
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithClock substitutes the wall clock, letting tests drive ticks.
func WithClock(c clock.Clock) LoopOption {
	return func(l *Loop) { l.clock = c }
}

// WithTimeSyncer substitutes the clock-synchronization boundary.
func WithTimeSyncer(s TimeSyncer) LoopOption {
	return func(l *Loop) { l.syncer = s }
}

// NewLoop builds a cycle scheduler for the given agent.
func NewLoop(a *Agent, pub transport.Publisher, logger golog.Logger, opts ...LoopOption) *Loop {
	l := &Loop{
		agent:  a,
		pub:    pub,
		syncer: NoopSyncer(),
		clock:  clock.New(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start waits for time synchronization and then begins firing cycles until
// Stop is called or ctx is canceled.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return errors.New("cycle loop already running")
	}
	if err := l.syncer.WaitForSync(ctx); err != nil {
		return errors.Wrap(err, "time synchronization failed")
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.running = true

	period := time.Duration(float64(time.Second) * l.agent.SampleTime())
	ticker := l.clock.Ticker(period)
	l.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				l.runCycle()
			}
		}
	}, l.activeBackgroundWorkers.Done)

	l.logger.Infow("cycle loop started", "agent", l.agent.ID(), "period", period)
	return nil
}

func (l *Loop) runCycle() {
	l.agent.Cycle(func(stats formation.Statistics) {
		msg := formation.NewStamped(l.agent.ID(), l.clock.Now(), stats)
		if err := l.pub.PublishEstimate(msg); err != nil {
			l.logger.Errorw("failed to publish estimated statistics", "agent", l.agent.ID(), "error", err)
		}
	})
}

// Stop halts the cycle scheduler and waits for the in-flight cycle, if any, to
// finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	l.cancel()
	l.activeBackgroundWorkers.Wait()
	l.running = false
	l.logger.Infow("cycle loop stopped", "agent", l.agent.ID())
}
