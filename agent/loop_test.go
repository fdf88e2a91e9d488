package agent

import (
	"context"
	"sync"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/ganwy2017/formation-control-1/formation"
)

type capturingPublisher struct {
	mu   sync.Mutex
	msgs []formation.StatisticsStamped
}

func (p *capturingPublisher) PublishEstimate(msg formation.StatisticsStamped) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *capturingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

type recordingSyncer struct {
	called bool
}

func (s *recordingSyncer) WaitForSync(ctx context.Context) error {
	s.called = true
	return nil
}

func TestLoopPublishesEveryCycle(t *testing.T) {
	logger := golog.NewTestLogger(t)
	cfg := fixedPoseConfig(7, 0, 0, 0)
	cfg.SampleTime = 0.005
	a, err := New(cfg, logger)
	test.That(t, err, test.ShouldBeNil)

	pub := &capturingPublisher{}
	syncer := &recordingSyncer{}
	loop := NewLoop(a, pub, logger, WithTimeSyncer(syncer))

	test.That(t, loop.Start(context.Background()), test.ShouldBeNil)
	test.That(t, syncer.called, test.ShouldBeTrue)
	// starting twice is an error
	test.That(t, loop.Start(context.Background()), test.ShouldNotBeNil)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		test.That(tb, pub.count(), test.ShouldBeGreaterThanOrEqualTo, 3)
	})
	loop.Stop()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	for _, msg := range pub.msgs {
		test.That(t, msg.AgentID, test.ShouldEqual, 7)
		test.That(t, msg.Time.IsZero(), test.ShouldBeFalse)
	}
}

func TestLoopStopIsIdempotent(t *testing.T) {
	logger := golog.NewTestLogger(t)
	a, err := New(fixedPoseConfig(1, 0, 0, 0), logger)
	test.That(t, err, test.ShouldBeNil)

	loop := NewLoop(a, &capturingPublisher{}, logger)
	loop.Stop() // never started

	test.That(t, loop.Start(context.Background()), test.ShouldBeNil)
	loop.Stop()
	loop.Stop()
	// restartable after a stop
	test.That(t, loop.Start(context.Background()), test.ShouldBeNil)
	loop.Stop()
}
