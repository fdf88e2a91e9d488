// Package spatialmath provides the planar orientation math used by the
// formation agents. Headings are scalars in radians wrapped to (-π, π];
// message boundaries that need a full 3D orientation go through the
// quaternion codec so the internal computation never round-trips.
package spatialmath

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// QuatFromHeading returns the unit quaternion for a rotation of theta radians
// about the world z axis.
func QuatFromHeading(theta float64) quat.Number {
	return quat.Number{Real: math.Cos(theta / 2), Kmag: math.Sin(theta / 2)}
}

// HeadingFromQuat extracts the z-axis (yaw) rotation of a unit quaternion.
func HeadingFromQuat(q quat.Number) float64 {
	return math.Atan2(2*(q.Real*q.Kmag+q.Imag*q.Jmag), 1-2*(q.Jmag*q.Jmag+q.Kmag*q.Kmag))
}

// WrapAngle maps an angle to (-π, π].
func WrapAngle(theta float64) float64 {
	for theta <= -math.Pi {
		theta += 2 * math.Pi
	}
	for theta > math.Pi {
		theta -= 2 * math.Pi
	}
	return theta
}
