package serialbridge

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	ser "go.bug.st/serial"
	"go.viam.com/utils"

	"github.com/ganwy2017/formation-control-1/formation"
	"github.com/ganwy2017/formation-control-1/spatialmath"
	"github.com/ganwy2017/formation-control-1/transport"
)

// Config holds the serial link parameters.
type Config struct {
	Port string `json:"port"`
	// BaudRate defaults to 57600.
	BaudRate int `json:"baud_rate"`
	// Timeout is how long the link may stay silent before Run gives up.
	// Defaults to 5s.
	Timeout time.Duration `json:"timeout"`
	// FramePrefix names the world frames in published poses, default "agent_".
	FramePrefix string `json:"frame_prefix"`
	// VirtualSuffix marks the virtual body's frame, default "_virtual".
	VirtualSuffix string `json:"virtual_suffix"`
}

// OpenPort opens the serial device. It's a variable so tests can substitute
// an in-memory pipe.
var OpenPort = func(path string, baudRate int) (io.ReadWriteCloser, error) {
	return ser.Open(path, &ser.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   ser.NoParity,
		StopBits: ser.OneStopBit,
	})
}

// Bridge shuttles packets between the serial ground-station link and the
// agent messaging boundary: inbound agent reports become statistics and pose
// messages, outbound targets and neighbor sums become frames.
type Bridge struct {
	cfg     Config
	port    io.ReadWriteCloser
	pub     transport.Publisher
	posePub transport.PosePublisher
	clock   clock.Clock
	logger  golog.Logger

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error

	lastPacketMu sync.Mutex
	lastPacket   time.Time
}

// New opens the configured serial port. An unopenable port is fatal; the
// error lists the ports that do exist to ease misconfiguration triage.
func New(cfg Config, pub transport.Publisher, posePub transport.PosePublisher, logger golog.Logger) (*Bridge, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 57600
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FramePrefix == "" {
		cfg.FramePrefix = "agent_"
	}
	if cfg.VirtualSuffix == "" {
		cfg.VirtualSuffix = "_virtual"
	}

	port, err := OpenPort(cfg.Port, cfg.BaudRate)
	if err != nil {
		if ports, listErr := ser.GetPortsList(); listErr == nil && len(ports) > 0 {
			return nil, errors.Wrapf(err, "cannot open serial port %q (available: %v)", cfg.Port, ports)
		}
		return nil, errors.Wrapf(err, "cannot open serial port %q", cfg.Port)
	}

	b := &Bridge{
		cfg:     cfg,
		port:    port,
		pub:     pub,
		posePub: posePub,
		clock:   clock.New(),
		logger:  logger,
	}
	b.lastPacket = b.clock.Now()
	return b, nil
}

// Run pumps the link until ctx is canceled or the link times out. A silent
// link longer than the configured timeout is unrecoverable at this layer and
// surfaces as an error; reconnection policy belongs to the host.
func (b *Bridge) Run(ctx context.Context) error {
	frames := make(chan *Frame)
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	var workers sync.WaitGroup
	workers.Add(1)
	utils.ManagedGo(func() {
		b.readFrames(readCtx, frames)
	}, workers.Done)
	defer workers.Wait()
	// closing the port unblocks the reader
	defer utils.UncheckedErrorFunc(b.Close)

	ticker := b.clock.Ticker(b.cfg.Timeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			silence := b.clock.Now().Sub(b.lastPacketTime())
			if silence > b.cfg.Timeout {
				return errors.Errorf("serial link timeout: last packet received %v ago", silence)
			}
		case frame, ok := <-frames:
			if !ok {
				return errors.New("serial port closed")
			}
			b.markPacket()
			b.handleFrame(frame)
		}
	}
}

func (b *Bridge) readFrames(ctx context.Context, frames chan<- *Frame) {
	defer close(frames)
	var dec Decoder
	buf := make([]byte, 256)
	for ctx.Err() == nil {
		n, err := b.port.Read(buf)
		if err != nil {
			if ctx.Err() == nil {
				b.logger.Debugw("serial read ended", "error", err)
			}
			return
		}
		b.logger.Debugf("received %d bytes from the serial link", n)
		for _, c := range buf[:n] {
			frame, err := dec.Feed(c)
			if err != nil {
				b.logger.Errorw("dropping malformed frame", "error", err)
				continue
			}
			if frame == nil {
				continue
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (b *Bridge) handleFrame(frame *Frame) {
	if frame.Type != PacketAgent {
		b.logger.Warnf("ignoring unexpected inbound packet type %#x", byte(frame.Type))
		return
	}
	packet, err := DecodeAgent(frame.Payload)
	if err != nil {
		b.logger.Errorw("dropping undecodable agent packet", "error", err)
		return
	}

	now := b.clock.Now()
	agentFrame := fmt.Sprintf("%s%d", b.cfg.FramePrefix, packet.AgentID)
	virtualFrame := agentFrame + b.cfg.VirtualSuffix

	if err := b.pub.PublishEstimate(formation.NewStamped(packet.AgentID, now, packet.Stats)); err != nil {
		b.logger.Errorw("failed to publish statistics from the link", "error", err)
	}
	for _, pose := range []transport.PoseStamped{
		{Frame: agentFrame, Time: now, X: packet.X, Y: packet.Y, Orientation: spatialmath.QuatFromHeading(packet.Theta)},
		{Frame: virtualFrame, Time: now, X: packet.XVirtual, Y: packet.YVirtual, Orientation: spatialmath.QuatFromHeading(packet.ThetaVirtual)},
	} {
		if err := b.posePub.PublishPose(pose); err != nil {
			b.logger.Errorw("failed to publish pose from the link", "error", err)
		}
	}
	b.logger.Infof("received data from %s", agentFrame)
}

// SendTarget forwards a target statistics update to the ground station.
func (b *Bridge) SendTarget(target formation.Statistics) error {
	return b.write(EncodeTarget(target))
}

// SendReceivedSum forwards the component-wise sum of the statistics received
// from count other agents this cycle.
func (b *Bridge) SendReceivedSum(count int, sum formation.Statistics) error {
	return b.write(EncodeReceivedSum(count, sum))
}

// ReceiveStatistics implements transport.Subscriber: statistics shared by
// other agents are summed component-wise and forwarded over the link, the
// layout the ground-station firmware expects.
func (b *Bridge) ReceiveStatistics(msgs formation.StatisticsArray) {
	var sum formation.Statistics
	for _, msg := range msgs.Items {
		sum.Mx += msg.Stats.Mx
		sum.My += msg.Stats.My
		sum.Mxx += msg.Stats.Mxx
		sum.Mxy += msg.Stats.Mxy
		sum.Myy += msg.Stats.Myy
	}
	if err := b.SendReceivedSum(len(msgs.Items), sum); err != nil {
		b.logger.Errorw("failed to forward received statistics", "error", err)
	}
	b.logger.Debugf("forwarded statistics from %d other agents", len(msgs.Items))
}

// ReceiveTarget implements transport.Subscriber, forwarding target changes to
// the ground station.
func (b *Bridge) ReceiveTarget(target formation.Statistics) {
	if err := b.SendTarget(target); err != nil {
		b.logger.Errorw("failed to forward target statistics", "error", err)
	}
	b.logger.Info("target statistics forwarded over the link")
}

func (b *Bridge) write(frame []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	n, err := b.port.Write(frame)
	if err != nil {
		return errors.Wrap(err, "serial write failed")
	}
	b.logger.Debugf("sent %d bytes over the serial link", n)
	return nil
}

// Close releases the serial port. Safe to call more than once and after Run
// has returned.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() { b.closeErr = b.port.Close() })
	return b.closeErr
}

func (b *Bridge) markPacket() {
	b.lastPacketMu.Lock()
	defer b.lastPacketMu.Unlock()
	b.lastPacket = b.clock.Now()
}

func (b *Bridge) lastPacketTime() time.Time {
	b.lastPacketMu.Lock()
	defer b.lastPacketMu.Unlock()
	return b.lastPacket
}
