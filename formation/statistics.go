// Package formation defines the shape statistics exchanged between agents of a
// planar formation: the first- and second-order spatial moments that summarize
// the formation's shape as seen by a single agent, plus the stamped message
// forms carried by the transport layer.
package formation

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// NumStats is the dimension of the statistics vector.
const NumStats = 5

// Statistics holds the spatial moments of the formation in the fixed order
// [m_x, m_y, m_xx, m_xy, m_yy]. It is a value type; a fresh instance is
// produced every cycle.
type Statistics struct {
	Mx  float64 `json:"m_x"`
	My  float64 `json:"m_y"`
	Mxx float64 `json:"m_xx"`
	Mxy float64 `json:"m_xy"`
	Myy float64 `json:"m_yy"`
}

// Vector returns the statistics as a gonum column vector.
func (s Statistics) Vector() *mat.VecDense {
	return mat.NewVecDense(NumStats, []float64{s.Mx, s.My, s.Mxx, s.Mxy, s.Myy})
}

// FromVector converts a statistics vector back into its message form. A vector
// of the wrong length yields the zero Statistics and an error so that one
// malformed message can never halt a control cycle.
func FromVector(v mat.Vector) (Statistics, error) {
	if v.Len() != NumStats {
		return Statistics{}, errors.Errorf("wrong statistics vector size %d, expected %d", v.Len(), NumStats)
	}
	return Statistics{
		Mx:  v.AtVec(0),
		My:  v.AtVec(1),
		Mxx: v.AtVec(2),
		Mxy: v.AtVec(3),
		Myy: v.AtVec(4),
	}, nil
}

// StatisticsStamped tags a statistics sample with the id of the agent that
// estimated it and the time of estimation.
type StatisticsStamped struct {
	ID      string     `json:"id"`
	AgentID int        `json:"agent_id"`
	Time    time.Time  `json:"time"`
	Stats   Statistics `json:"stats"`
}

// NewStamped builds a stamped statistics message with a fresh unique id.
func NewStamped(agentID int, at time.Time, stats Statistics) StatisticsStamped {
	return StatisticsStamped{
		ID:      uuid.New().String(),
		AgentID: agentID,
		Time:    at,
		Stats:   stats,
	}
}

// StatisticsArray collects the stamped statistics received from other agents
// since the last consensus step.
type StatisticsArray struct {
	Items []StatisticsStamped `json:"items"`
}
