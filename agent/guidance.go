package agent

import (
	"math"
)

// guidance computes the physical agent's speed and steer commands by tracking
// the virtual agent along the line of sight: a proportional approach law with
// saturation feeds a PI speed loop, and a proportional bearing law steers.
//
// The steering error is reduced modulo π, not 2π: heading error is treated as
// axis-symmetric, collapsing the forward/backward ambiguity of the LOS
// bearing. This is a deliberate design choice and materially changes steering
// direction near the ±π/2 boundaries.
func (a *Agent) guidance(dt float64) {
	dx := a.poseVirtual.X - a.pose.X
	dy := a.poseVirtual.Y - a.pose.Y
	losDistance := math.Hypot(dx, dy)
	// atan2(0, 0) = 0, which is exactly the LOS angle we want at zero distance
	losAngle := math.Atan2(dy, dx)

	speedReference := math.Min(a.cfg.SpeedMax*losDistance/a.cfg.LOSDistanceThreshold, a.cfg.SpeedMax)
	speedErrorOld := a.speedError
	a.speedError = speedReference - math.Hypot(a.twist.VX, a.twist.VY)
	a.speedIntegral = integrate(a.speedIntegral, speedErrorOld, a.speedError, a.cfg.KiSpeed, dt)
	speedCommand := a.cfg.KpSpeed * (a.speedError + a.speedIntegral)
	a.speedCmd = clamp(speedCommand, a.cfg.SpeedMin, a.cfg.SpeedMax)

	steerCommand := a.cfg.KpSteer * math.Mod(losAngle-a.pose.Theta, math.Pi)
	a.steerCmd = clamp(steerCommand, a.cfg.SteerMin, a.cfg.SteerMax)

	a.logger.Debugw("guidance commands", "agent", a.cfg.ID,
		"los_distance", losDistance, "los_angle", losAngle,
		"speed", a.speedCmd, "steer", a.steerCmd)
}
