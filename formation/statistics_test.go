package formation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestVectorOrdering(t *testing.T) {
	s := Statistics{Mx: 1, My: 2, Mxx: 3, Mxy: 4, Myy: 5}
	v := s.Vector()
	test.That(t, v.Len(), test.ShouldEqual, NumStats)
	for i, want := range []float64{1, 2, 3, 4, 5} {
		test.That(t, v.AtVec(i), test.ShouldEqual, want)
	}

	back, err := FromVector(v)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back, test.ShouldResemble, s)
}

func TestFromVectorWrongDimension(t *testing.T) {
	for _, n := range []int{1, 4, 6} {
		s, err := FromVector(mat.NewVecDense(n, nil))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "wrong statistics vector size")
		test.That(t, s, test.ShouldResemble, Statistics{})
	}
}

func TestNewStamped(t *testing.T) {
	now := time.Now()
	msg := NewStamped(3, now, Statistics{Mx: 1})
	test.That(t, msg.AgentID, test.ShouldEqual, 3)
	test.That(t, msg.Time.Equal(now), test.ShouldBeTrue)
	test.That(t, msg.Stats.Mx, test.ShouldEqual, 1.0)
	_, err := uuid.Parse(msg.ID)
	test.That(t, err, test.ShouldBeNil)
}
