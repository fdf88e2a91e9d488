package agent

import (
	"math"

	"github.com/ganwy2017/formation-control-1/spatialmath"
)

// integrate is the trapezoidal integration primitive shared by the kinematic
// updates and the guidance PI integral:
//
//	out = old + gain*dt*(rate_old + rate_new)/2
//
// With a constant rate it reduces to exact integration.
func integrate(old, rateOld, rateNew, gain, dt float64) float64 {
	return old + gain*dt*(rateOld+rateNew)/2
}

// dynamics advances the physical agent's unicycle state under the saturated
// speed and steer commands of the current cycle:
//
//	x_dot = v·cosθ, y_dot = v·sinθ, θ_dot = (v/L)·tanδ
func (a *Agent) dynamics(dt float64) {
	theta := a.pose.Theta
	xDotNew := a.speedCmd * math.Cos(theta)
	yDotNew := a.speedCmd * math.Sin(theta)
	thetaDotNew := a.speedCmd / a.cfg.VehicleLength * math.Tan(a.steerCmd)

	a.pose.X = integrate(a.pose.X, a.twist.VX, xDotNew, 1, dt)
	a.pose.Y = integrate(a.pose.Y, a.twist.VY, yDotNew, 1, dt)
	a.pose.Theta = spatialmath.WrapAngle(integrate(theta, a.twist.Omega, thetaDotNew, 1, dt))
	a.twist.VX = xDotNew
	a.twist.VY = yDotNew
	a.twist.Omega = thetaDotNew

	a.logger.Debugw("physical agent advanced", "agent", a.cfg.ID,
		"x", a.pose.X, "y", a.pose.Y, "theta", a.pose.Theta)
}
