// Package agent implements a single formation-control agent: a dynamic
// consensus estimator of the formation's shape statistics feeding a two-stage
// motion controller, where a feedback-linearized control law drives a virtual
// reference agent and the physical agent tracks it through line-of-sight
// guidance on a unicycle model.
package agent

import (
	"math"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/ganwy2017/formation-control-1/formation"
)

// Pose is a planar pose: position plus heading in radians, wrapped to (-π, π].
type Pose struct {
	X     float64
	Y     float64
	Theta float64
}

// Twist is a planar velocity: linear components plus angular rate.
type Twist struct {
	VX    float64
	VY    float64
	Omega float64
}

// Agent owns the full mutable state of one formation-control agent. All state
// lives in this one aggregate; the cycle methods mutate it under a single
// mutex that also serializes the asynchronous inbound callbacks.
type Agent struct {
	mu     sync.Mutex
	cfg    Config
	logger golog.Logger

	pose         Pose
	twist        Twist
	poseVirtual  Pose
	twistVirtual Twist

	jacobPhi *mat.Dense

	estimated formation.Statistics
	target    formation.Statistics

	// statistics received from neighbors since the last consensus step,
	// drained atomically once per cycle
	neighborBuf []formation.Statistics
	neighborSet map[int]bool

	speedError    float64
	speedIntegral float64
	speedCmd      float64
	steerCmd      float64
}

// New validates the configuration and builds an agent with a zero initial
// estimate and twist. A non-invertible control-law matrix at the initial pose
// is a fatal configuration error.
func New(cfg Config, logger golog.Logger) (*Agent, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid agent configuration")
	}

	pose := cfg.initialPose()
	a := &Agent{
		cfg:         cfg,
		logger:      logger,
		pose:        pose,
		poseVirtual: pose,
		jacobPhi:    newMomentJacobian(),
		neighborSet: map[int]bool{},
	}
	for _, id := range cfg.Neighbours {
		a.neighborSet[id] = true
	}

	// the control law inverts B + Jᵀ·Lambda·J every cycle; prove it is
	// well-posed at the initial pose before the first tick can fire
	a.refreshJacobian()
	if _, err := a.controlMatrixInverse(); err != nil {
		return nil, errors.Wrap(err, "invalid agent configuration")
	}

	logger.Infow("agent initialized",
		"id", cfg.ID, "x", pose.X, "y", pose.Y, "theta", pose.Theta, "neighbours", cfg.Neighbours)
	return a, nil
}

// ID returns the agent's identifier.
func (a *Agent) ID() int {
	return a.cfg.ID
}

// Cycle runs one full algorithm cycle: consensus, estimate publication,
// control-law computation, guidance and physical dynamics, in that order.
// publish is invoked with the freshly estimated statistics between the
// consensus and control stages; it may be nil.
func (a *Agent) Cycle(publish func(formation.Statistics)) {
	dt := a.cfg.SampleTime

	a.mu.Lock()
	a.consensus(dt)
	estimated := a.estimated
	a.mu.Unlock()

	// publish outside the lock: transports may deliver synchronously into
	// other agents, and only buffer appends can interleave here anyway
	if publish != nil {
		publish(estimated)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.control(dt)
	a.guidance(dt)
	a.dynamics(dt)
}

// ReceiveStatistics buffers statistics estimated by other agents, keeping only
// those from the configured neighbor set. Messages arriving between cycles
// accumulate; an unconsumed buffer is worth a warning but nothing is dropped.
func (a *Agent) ReceiveStatistics(msgs formation.StatisticsArray) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.neighborBuf) > 0 {
		a.logger.Warnf("agent %d: last received statistics have not been used yet", a.cfg.ID)
	}
	for _, msg := range msgs.Items {
		if a.neighborSet[msg.AgentID] {
			a.neighborBuf = append(a.neighborBuf, msg.Stats)
		}
	}
	a.logger.Debugf("agent %d: %d neighbor statistics buffered", a.cfg.ID, len(a.neighborBuf))
}

// ReceiveTarget replaces the target shape statistics wholesale.
func (a *Agent) ReceiveTarget(target formation.Statistics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.target = target
	a.logger.Infow("target statistics changed", "agent", a.cfg.ID,
		"m_x", target.Mx, "m_y", target.My, "m_xx", target.Mxx, "m_xy", target.Mxy, "m_yy", target.Myy)
}

// Pose returns the physical pose.
func (a *Agent) Pose() Pose {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pose
}

// VirtualPose returns the virtual reference agent's pose.
func (a *Agent) VirtualPose() Pose {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.poseVirtual
}

// VirtualTwist returns the virtual reference agent's twist.
func (a *Agent) VirtualTwist() Twist {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.twistVirtual
}

// Estimated returns the current local estimate of the shape statistics.
func (a *Agent) Estimated() formation.Statistics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.estimated
}

// Commands returns the saturated speed and steer commands of the last cycle.
func (a *Agent) Commands() (speed, steer float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.speedCmd, a.steerCmd
}

// SampleTime returns the configured cycle period in seconds.
func (a *Agent) SampleTime() float64 {
	return a.cfg.SampleTime
}

func clamp(v, min, max float64) float64 {
	return math.Min(math.Max(v, min), max)
}
