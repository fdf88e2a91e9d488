// Package transport carries statistics and pose messages between a formation
// agent and its collaborators. The agent core only ever talks to the
// interfaces defined here; the wire format belongs to the implementations
// (the in-process bus, or the serial ground-station bridge).
package transport

import (
	"time"

	"github.com/edaniels/golog"
	"gonum.org/v1/gonum/num/quat"

	"github.com/ganwy2017/formation-control-1/formation"
	"github.com/ganwy2017/formation-control-1/spatialmath"
)

// Publisher emits an agent's freshly estimated statistics once per cycle.
type Publisher interface {
	PublishEstimate(msg formation.StatisticsStamped) error
}

// Subscriber receives the asynchronous inbound events of an agent: statistics
// estimated by other agents and wholesale target replacements. Implementations
// must only buffer or replace state; algorithm logic runs inside the cycle.
type Subscriber interface {
	ReceiveStatistics(msgs formation.StatisticsArray)
	ReceiveTarget(target formation.Statistics)
}

// PoseStamped is the pose message published for visualization and for the
// ground-station link. Orientation is the full rotation; producers build it
// from a scalar heading through the spatialmath codec.
type PoseStamped struct {
	Frame       string      `json:"frame"`
	Time        time.Time   `json:"time"`
	X           float64     `json:"x"`
	Y           float64     `json:"y"`
	Orientation quat.Number `json:"orientation"`
}

// PosePublisher emits agent poses.
type PosePublisher interface {
	PublishPose(msg PoseStamped) error
}

// LoggingPosePublisher writes poses to the log, for hosts with no
// visualization attached.
type LoggingPosePublisher struct {
	Logger golog.Logger
}

// PublishPose implements PosePublisher.
func (p LoggingPosePublisher) PublishPose(msg PoseStamped) error {
	p.Logger.Debugw("pose", "frame", msg.Frame, "x", msg.X, "y", msg.Y,
		"heading", spatialmath.HeadingFromQuat(msg.Orientation))
	return nil
}
