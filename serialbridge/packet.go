// Package serialbridge links a formation agent's statistics and pose topics
// to a ground station over a binary serial packet protocol. Frames are
// start-delimited with an additive checksum; payload scalars travel as
// little-endian float32, matching the ground-station firmware.
package serialbridge

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/ganwy2017/formation-control-1/formation"
)

// PacketType identifies the payload layout of a frame.
type PacketType byte

// The packet types spoken on the link.
const (
	PacketAgent    PacketType = 0x01 // agent state report: id, stats, pose, virtual pose
	PacketTarget   PacketType = 0x02 // target statistics for the ground station
	PacketReceived PacketType = 0x03 // per-cycle sum of the statistics received from other agents
)

const frameStart byte = 0xA5

// maxPayload bounds a frame so a corrupted length byte cannot stall the
// decoder for long.
const maxPayload = 64

// Frame is one decoded link-layer frame.
type Frame struct {
	Type    PacketType
	Payload []byte
}

// AppendFrame appends the framed encoding of a payload to dst: start byte,
// type, payload length, payload, additive checksum over everything but the
// start byte.
func AppendFrame(dst []byte, typ PacketType, payload []byte) []byte {
	dst = append(dst, frameStart, byte(typ), byte(len(payload)))
	dst = append(dst, payload...)
	sum := byte(typ) + byte(len(payload))
	for _, b := range payload {
		sum += b
	}
	return append(dst, sum)
}

// Decoder is the byte-at-a-time frame reassembler. Garbage between frames is
// skipped while hunting for the start byte; a checksum mismatch surfaces as
// an error and resynchronization is automatic.
type Decoder struct {
	state   decodeState
	typ     PacketType
	need    int
	payload []byte
}

type decodeState int

const (
	stateStart decodeState = iota
	stateType
	stateLength
	statePayload
	stateChecksum
)

// Feed consumes one byte and returns a complete frame when one ends here.
func (d *Decoder) Feed(b byte) (*Frame, error) {
	switch d.state {
	case stateStart:
		if b == frameStart {
			d.state = stateType
		}
	case stateType:
		d.typ = PacketType(b)
		d.state = stateLength
	case stateLength:
		if int(b) > maxPayload {
			d.state = stateStart
			return nil, errors.Errorf("frame payload length %d exceeds limit %d", b, maxPayload)
		}
		d.need = int(b)
		d.payload = d.payload[:0]
		if d.need == 0 {
			d.state = stateChecksum
		} else {
			d.state = statePayload
		}
	case statePayload:
		d.payload = append(d.payload, b)
		if len(d.payload) == d.need {
			d.state = stateChecksum
		}
	case stateChecksum:
		d.state = stateStart
		sum := byte(d.typ) + byte(d.need)
		for _, p := range d.payload {
			sum += p
		}
		if sum != b {
			return nil, errors.Errorf("frame checksum mismatch: got %#x, want %#x", b, sum)
		}
		frame := &Frame{Type: d.typ, Payload: append([]byte{}, d.payload...)}
		return frame, nil
	}
	return nil, nil
}

// AgentPacket is the ground-station agent record: who it is, what shape it
// currently estimates, and where both its bodies are.
type AgentPacket struct {
	AgentID      int
	Stats        formation.Statistics
	X            float64
	Y            float64
	Theta        float64
	XVirtual     float64
	YVirtual     float64
	ThetaVirtual float64
}

func putFloat32(dst []byte, v float64) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], math.Float32bits(float32(v)))
	return append(dst, buf[:]...)
}

func getFloat32(src []byte) (float64, []byte) {
	v := math.Float32frombits(binary.LittleEndian.Uint32(src))
	return float64(v), src[4:]
}

// EncodeAgent frames an agent state report.
func (p AgentPacket) EncodeAgent() []byte {
	payload := []byte{byte(p.AgentID)}
	for _, v := range []float64{
		p.Stats.Mx, p.Stats.My, p.Stats.Mxx, p.Stats.Mxy, p.Stats.Myy,
		p.X, p.Y, p.Theta,
		p.XVirtual, p.YVirtual, p.ThetaVirtual,
	} {
		payload = putFloat32(payload, v)
	}
	return AppendFrame(nil, PacketAgent, payload)
}

// DecodeAgent parses the payload of a PacketAgent frame.
func DecodeAgent(payload []byte) (AgentPacket, error) {
	const want = 1 + 11*4
	if len(payload) != want {
		return AgentPacket{}, errors.Errorf("agent packet payload must be %d bytes, got %d", want, len(payload))
	}
	p := AgentPacket{AgentID: int(payload[0])}
	rest := payload[1:]
	fields := []*float64{
		&p.Stats.Mx, &p.Stats.My, &p.Stats.Mxx, &p.Stats.Mxy, &p.Stats.Myy,
		&p.X, &p.Y, &p.Theta,
		&p.XVirtual, &p.YVirtual, &p.ThetaVirtual,
	}
	for _, f := range fields {
		*f, rest = getFloat32(rest)
	}
	return p, nil
}

// EncodeTarget frames a target statistics update for the ground station.
func EncodeTarget(target formation.Statistics) []byte {
	var payload []byte
	for _, v := range []float64{target.Mx, target.My, target.Mxx, target.Mxy, target.Myy} {
		payload = putFloat32(payload, v)
	}
	return AppendFrame(nil, PacketTarget, payload)
}

// EncodeReceivedSum frames the component-wise sum of the statistics received
// from count other agents this cycle.
func EncodeReceivedSum(count int, sum formation.Statistics) []byte {
	payload := []byte{byte(count)}
	for _, v := range []float64{sum.Mx, sum.My, sum.Mxx, sum.Mxy, sum.Myy} {
		payload = putFloat32(payload, v)
	}
	return AppendFrame(nil, PacketReceived, payload)
}
