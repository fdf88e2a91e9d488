package transport

import (
	"sync"

	"github.com/edaniels/golog"

	"github.com/ganwy2017/formation-control-1/formation"
)

// Bus is an in-process broker standing in for the ground-station fan-out: an
// estimate published by one agent is delivered to every other registered
// agent, and a target replaces every agent's target wholesale. Delivery is
// synchronous; subscribers must only append or replace state.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]Subscriber
	logger golog.Logger
}

// NewBus returns an empty bus.
func NewBus(logger golog.Logger) *Bus {
	return &Bus{subs: map[int]Subscriber{}, logger: logger}
}

// Register adds an agent to the bus, replacing any previous subscriber with
// the same id.
func (b *Bus) Register(agentID int, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[agentID]; ok {
		b.logger.Warnf("agent %d already registered, replacing subscriber", agentID)
	}
	b.subs[agentID] = sub
}

// PublishEstimate delivers msg to every registered agent except its author.
// Neighbor filtering is the receiving agent's job.
func (b *Bus) PublishEstimate(msg formation.StatisticsStamped) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		if id == msg.AgentID {
			continue
		}
		sub.ReceiveStatistics(formation.StatisticsArray{Items: []formation.StatisticsStamped{msg}})
	}
	return nil
}

// PublishTarget replaces the target statistics of every registered agent.
func (b *Bus) PublishTarget(target formation.Statistics) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger.Infow("target statistics changed",
		"m_x", target.Mx, "m_y", target.My, "m_xx", target.Mxx, "m_xy", target.Mxy, "m_yy", target.Myy)
	for _, sub := range b.subs {
		sub.ReceiveTarget(target)
	}
}
