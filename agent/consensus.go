package agent

import (
	"gonum.org/v1/gonum/mat"

	"github.com/ganwy2017/formation-control-1/formation"
)

// consensus performs one dynamic discrete consensus step on the local
// statistics estimate:
//
//	x_next = x + phi_dot*dt + dt * Σ_j (x_j - x)
//
// phi_dot is the time derivative of the moment map phi(p) = [px, py, pxx, pxy,
// pyy] evaluated at the virtual agent's current position and velocity, and the
// sum runs over every statistics vector buffered from neighbors since the last
// step. The consensus term is deliberately not normalized by the neighbor
// count. With an empty buffer the step degenerates to pure local-drift
// integration. The buffer is drained atomically here; its size is whatever
// actually arrived, never a fixed constant.
func (a *Agent) consensus(dt float64) {
	buffered := a.neighborBuf
	a.neighborBuf = nil

	px, py := a.poseVirtual.X, a.poseVirtual.Y
	vx, vy := a.twistVirtual.VX, a.twistVirtual.VY
	phiDot := mat.NewVecDense(formation.NumStats, []float64{
		vx,
		vy,
		2 * px * vx,
		py*vx + px*vy,
		2 * py * vy,
	})

	x := a.estimated.Vector()
	corr := mat.NewVecDense(formation.NumStats, nil)
	for _, nb := range buffered {
		corr.AddVec(corr, nb.Vector())
	}
	corr.AddScaledVec(corr, -float64(len(buffered)), x)

	x.AddScaledVec(x, dt, phiDot)
	x.AddScaledVec(x, dt, corr)

	est, err := formation.FromVector(x)
	if err != nil {
		a.logger.Errorw("dropping consensus update", "agent", a.cfg.ID, "error", err)
		return
	}
	a.estimated = est
	a.logger.Debugw("estimated statistics", "agent", a.cfg.ID, "neighbours", len(buffered),
		"m_x", est.Mx, "m_y", est.My, "m_xx", est.Mxx, "m_xy", est.Mxy, "m_yy", est.Myy)
}
