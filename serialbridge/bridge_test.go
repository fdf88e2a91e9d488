package serialbridge

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/ganwy2017/formation-control-1/formation"
	"github.com/ganwy2017/formation-control-1/spatialmath"
	"github.com/ganwy2017/formation-control-1/transport"
)

type fakePort struct {
	reader *io.PipeReader

	mu    sync.Mutex
	wrote []byte
}

func (f *fakePort) Read(p []byte) (int, error) { return f.reader.Read(p) }

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wrote = append(f.wrote, p...)
	return len(p), nil
}

func (f *fakePort) Close() error { return f.reader.Close() }

func (f *fakePort) written() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte{}, f.wrote...)
}

type recordingPub struct {
	mu    sync.Mutex
	stats []formation.StatisticsStamped
	poses []transport.PoseStamped
}

func (r *recordingPub) PublishEstimate(msg formation.StatisticsStamped) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = append(r.stats, msg)
	return nil
}

func (r *recordingPub) PublishPose(msg transport.PoseStamped) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.poses = append(r.poses, msg)
	return nil
}

func (r *recordingPub) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stats), len(r.poses)
}

// newTestBridge wires a bridge to an in-memory pipe standing in for the
// serial device.
func newTestBridge(t *testing.T, cfg Config, pub *recordingPub) (*Bridge, *io.PipeWriter, *fakePort) {
	t.Helper()
	reader, writer := io.Pipe()
	port := &fakePort{reader: reader}

	restore := OpenPort
	OpenPort = func(path string, baudRate int) (io.ReadWriteCloser, error) { return port, nil }
	t.Cleanup(func() { OpenPort = restore })

	bridge, err := New(cfg, pub, pub, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return bridge, writer, port
}

func TestBridgePublishesInboundAgentPackets(t *testing.T) {
	pub := &recordingPub{}
	bridge, writer, _ := newTestBridge(t, Config{Port: "fake", Timeout: time.Minute}, pub)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- bridge.Run(ctx) }()

	packet := AgentPacket{
		AgentID: 2,
		Stats:   formation.Statistics{Mx: 1, Myy: -2},
		X:       3, Y: 4, Theta: 0.5,
		XVirtual: 5, YVirtual: 6, ThetaVirtual: -0.5,
	}
	_, err := writer.Write(packet.EncodeAgent())
	test.That(t, err, test.ShouldBeNil)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		nStats, nPoses := pub.counts()
		test.That(tb, nStats, test.ShouldEqual, 1)
		test.That(tb, nPoses, test.ShouldEqual, 2)
	})
	cancel()
	test.That(t, <-errCh, test.ShouldBeError, context.Canceled)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	test.That(t, pub.stats[0].AgentID, test.ShouldEqual, 2)
	test.That(t, pub.stats[0].Stats.Mx, test.ShouldEqual, 1.0)
	test.That(t, pub.poses[0].Frame, test.ShouldEqual, "agent_2")
	test.That(t, pub.poses[1].Frame, test.ShouldEqual, "agent_2_virtual")
	test.That(t, spatialmath.HeadingFromQuat(pub.poses[0].Orientation), test.ShouldAlmostEqual, 0.5, 1e-6)
	test.That(t, pub.poses[1].X, test.ShouldEqual, 5.0)
}

func TestBridgeLinkTimeout(t *testing.T) {
	bridge, _, _ := newTestBridge(t, Config{Port: "fake", Timeout: 40 * time.Millisecond}, &recordingPub{})

	errCh := make(chan error, 1)
	go func() { errCh <- bridge.Run(context.Background()) }()

	select {
	case err := <-errCh:
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "serial link timeout")
	case <-time.After(5 * time.Second):
		t.Fatal("bridge never timed out")
	}
}

func TestBridgeForwardsTargetAndReceivedSums(t *testing.T) {
	bridge, _, port := newTestBridge(t, Config{Port: "fake"}, &recordingPub{})

	bridge.ReceiveTarget(formation.Statistics{Mx: 1, My: 2, Mxx: 3, Mxy: 4, Myy: 5})
	now := time.Now()
	bridge.ReceiveStatistics(formation.StatisticsArray{Items: []formation.StatisticsStamped{
		formation.NewStamped(2, now, formation.Statistics{Mx: 1, Myy: 0.5}),
		formation.NewStamped(3, now, formation.Statistics{Mx: 2, Myy: 0.25}),
	}})

	var dec Decoder
	var frames []*Frame
	for _, b := range port.written() {
		frame, err := dec.Feed(b)
		test.That(t, err, test.ShouldBeNil)
		if frame != nil {
			frames = append(frames, frame)
		}
	}
	test.That(t, frames, test.ShouldHaveLength, 2)
	test.That(t, frames[0].Type, test.ShouldEqual, PacketTarget)
	test.That(t, frames[1].Type, test.ShouldEqual, PacketReceived)
	// count byte then the component-wise sums
	test.That(t, frames[1].Payload[0], test.ShouldEqual, byte(2))
	sum, rest := getFloat32(frames[1].Payload[1:])
	test.That(t, sum, test.ShouldEqual, 3.0)
	test.That(t, rest, test.ShouldHaveLength, 4*4)
}

func TestNewFailsOnUnopenablePort(t *testing.T) {
	restore := OpenPort
	OpenPort = func(path string, baudRate int) (io.ReadWriteCloser, error) {
		return nil, io.ErrClosedPipe
	}
	t.Cleanup(func() { OpenPort = restore })

	_, err := New(Config{Port: "/dev/nope"}, &recordingPub{}, &recordingPub{}, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "cannot open serial port")
}
