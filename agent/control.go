package agent

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/ganwy2017/formation-control-1/formation"
)

// newMomentJacobian allocates the Jacobian of the moment map phi(p) = [px, py,
// pxx, pxy, pyy] with its structural constants in place. The four
// position-dependent entries are refreshed each cycle.
func newMomentJacobian() *mat.Dense {
	j := mat.NewDense(formation.NumStats, DefaultNumVelocities, nil)
	j.Set(0, 0, 1)
	j.Set(1, 1, 1)
	return j
}

// refreshJacobian recomputes the position-dependent entries of the moment-map
// Jacobian at the virtual agent's current position.
func (a *Agent) refreshJacobian() {
	px, py := a.poseVirtual.X, a.poseVirtual.Y
	a.jacobPhi.Set(2, 0, 2*px)
	a.jacobPhi.Set(3, 0, py)
	a.jacobPhi.Set(3, 1, px)
	a.jacobPhi.Set(4, 1, 2*py)
}

// diagMulVec applies a diagonal matrix stored as its diagonal: y = diag(d)·v.
func diagMulVec(d []float64, v mat.Vector) *mat.VecDense {
	y := mat.NewVecDense(len(d), nil)
	for i := range d {
		y.SetVec(i, d[i]*v.AtVec(i))
	}
	return y
}

// controlMatrixInverse inverts B + Jᵀ·Lambda·J, the (control dimension sized)
// matrix at the heart of the feedback-linearizing law. It is singular only
// under pathological gain configuration, which New rejects at startup.
func (a *Agent) controlMatrixInverse() (*mat.Dense, error) {
	rows, cols := a.jacobPhi.Dims()

	// diag(Lambda)·J by scaling rows, then Jᵀ·(Lambda·J)
	lambdaJ := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for k := 0; k < cols; k++ {
			lambdaJ.Set(i, k, a.cfg.DiagLambda[i]*a.jacobPhi.At(i, k))
		}
	}
	m := mat.NewDense(cols, cols, nil)
	m.Mul(a.jacobPhi.T(), lambdaJ)
	for k := 0; k < cols; k++ {
		m.Set(k, k, m.At(k, k)+a.cfg.DiagB[k])
	}

	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return nil, errors.Wrap(err, "control-law matrix B + Jᵀ·Lambda·J is not invertible")
	}
	return &inv, nil
}

// control maps the statistics error into a virtual-agent velocity through the
// feedback-linearizing law
//
//	u = inv(B + Jᵀ·Lambda·J) · Jᵀ · Gamma · (target - estimate)
//
// saturates its norm to the virtual velocity threshold (direction preserved)
// and advances the virtual agent's pose and twist with the result.
func (a *Agent) control(dt float64) {
	statsError := mat.NewVecDense(formation.NumStats, nil)
	statsError.SubVec(a.target.Vector(), a.estimated.Vector())

	a.refreshJacobian()
	inv, err := a.controlMatrixInverse()
	if err != nil {
		// unreachable with a validated configuration; hold the virtual agent
		a.logger.Errorw("skipping control step", "agent", a.cfg.ID, "error", err)
		return
	}

	var jtge mat.VecDense
	jtge.MulVec(a.jacobPhi.T(), diagMulVec(a.cfg.DiagGamma, statsError))
	var u mat.VecDense
	u.MulVec(inv, &jtge)

	norm := math.Hypot(u.AtVec(0), u.AtVec(1))
	if norm > a.cfg.VelocityVirtualThreshold {
		u.ScaleVec(a.cfg.VelocityVirtualThreshold/norm, &u)
	}

	a.poseVirtual.X = integrate(a.poseVirtual.X, a.twistVirtual.VX, u.AtVec(0), 1, dt)
	a.poseVirtual.Y = integrate(a.poseVirtual.Y, a.twistVirtual.VY, u.AtVec(1), 1, dt)
	a.twistVirtual.VX = u.AtVec(0)
	a.twistVirtual.VY = u.AtVec(1)

	a.logger.Debugw("virtual agent advanced", "agent", a.cfg.ID,
		"x", a.poseVirtual.X, "y", a.poseVirtual.Y,
		"vx", a.twistVirtual.VX, "vy", a.twistVirtual.VY)
}
