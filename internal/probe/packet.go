package probe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// PacketSize is the size of a probe on the wire, and the minimum size of a
// datagram the reflector will echo.
const PacketSize = 20

// DefaultPort is the IANA TWAMP port.
const DefaultPort = 862

var ErrShortPacket = errors.New("probe packet too short")

// LayerTypeProbe is the gopacket layer type of the simplified TWAMP-Light probe.
var LayerTypeProbe = gopacket.RegisterLayerType(2862, gopacket.LayerTypeMetadata{
	Name:    "TWAMPLightProbe",
	Decoder: gopacket.DecodeFunc(decodeProbe),
})

// Packet is the probe payload:
// sequence(4) | originate timestamp in µs since epoch(8) | reserved(8), big-endian.
type Packet struct {
	layers.BaseLayer
	Sequence  uint32
	Timestamp uint64
	Reserved  uint64
}

// NewPacket returns a probe with the originate timestamp set from t.
func NewPacket(seq uint32, t time.Time) *Packet {
	return &Packet{Sequence: seq, Timestamp: uint64(t.UnixMicro())}
}

func (p *Packet) LayerType() gopacket.LayerType { return LayerTypeProbe }

func (p *Packet) CanDecode() gopacket.LayerClass { return LayerTypeProbe }

func (p *Packet) NextLayerType() gopacket.LayerType { return gopacket.LayerTypePayload }

// OriginateTime returns the sender timestamp as a time.Time.
func (p *Packet) OriginateTime() time.Time {
	return time.UnixMicro(int64(p.Timestamp))
}

func (p *Packet) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < PacketSize {
		df.SetTruncated()
		return fmt.Errorf("%w: %d bytes", ErrShortPacket, len(data))
	}
	p.Sequence = binary.BigEndian.Uint32(data[0:4])
	p.Timestamp = binary.BigEndian.Uint64(data[4:12])
	p.Reserved = binary.BigEndian.Uint64(data[12:20])
	p.BaseLayer = layers.BaseLayer{Contents: data[:PacketSize], Payload: data[PacketSize:]}
	return nil
}

func (p *Packet) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	buf, err := b.PrependBytes(PacketSize)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(buf[0:4], p.Sequence)
	binary.BigEndian.PutUint64(buf[4:12], p.Timestamp)
	binary.BigEndian.PutUint64(buf[12:20], p.Reserved)
	return nil
}

func decodeProbe(data []byte, pb gopacket.PacketBuilder) error {
	p := &Packet{}
	if err := p.DecodeFromBytes(data, pb); err != nil {
		return err
	}
	pb.AddLayer(p)
	return pb.NextDecoder(p.NextLayerType())
}

// ParseSequence returns the sequence number of a probe without a full decode.
func ParseSequence(data []byte) (uint32, bool) {
	if len(data) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(data[0:4]), true
}

// Encode serializes p into a fresh PacketSize byte slice.
func (p *Packet) Encode() ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
