package agent

import (
	"testing"

	"go.viam.com/test"
)

func TestIntegrateConstantRate(t *testing.T) {
	// trapezoidal rule is exact for a constant rate: n steps of size dt from 0
	// must land exactly on n*dt*r
	const (
		r  = 0.73
		dt = 0.05
		n  = 40
	)
	out := 0.0
	for i := 0; i < n; i++ {
		out = integrate(out, r, r, 1, dt)
	}
	test.That(t, out, test.ShouldAlmostEqual, n*dt*r, 1e-12)
}

func TestIntegrateGain(t *testing.T) {
	// the gain parameter scales the whole increment, as used by the PI loop
	test.That(t, integrate(1, 2, 4, 0.5, 0.1), test.ShouldAlmostEqual, 1+0.5*0.1*3, 1e-12)
	test.That(t, integrate(1, 2, 4, 0, 0.1), test.ShouldEqual, 1.0)
}

func TestClamp(t *testing.T) {
	test.That(t, clamp(0.5, 0, 1), test.ShouldEqual, 0.5)
	test.That(t, clamp(-0.5, 0, 1), test.ShouldEqual, 0.0)
	test.That(t, clamp(1.5, 0, 1), test.ShouldEqual, 1.0)
}
