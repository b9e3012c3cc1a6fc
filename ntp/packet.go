package ntp

import (
	"encoding/binary"
	"fmt"
	"math"
	"net/netip"
	"strings"
	"time"
)

// PacketSize is the length of an NTP header without extension fields.
const PacketSize = 48

// Port is the well-known NTP port.
const Port = 123

// LeapIndicator warns of an impending leap second.
type LeapIndicator uint8

const (
	LeapNone LeapIndicator = iota
	LeapInsertSecond
	LeapDeleteSecond
	LeapNotSynchronized
)

// Mode is the association mode carried in the low three header bits.
type Mode uint8

const (
	ModeReserved Mode = iota
	ModeSymmetricActive
	ModeSymmetricPassive
	ModeClient
	ModeServer
	ModeBroadcast
	ModeControl
	ModePrivate
)

func (m Mode) String() string {
	switch m {
	case ModeSymmetricActive:
		return "symmetric-active"
	case ModeSymmetricPassive:
		return "symmetric-passive"
	case ModeClient:
		return "client"
	case ModeServer:
		return "server"
	case ModeBroadcast:
		return "broadcast"
	case ModeControl:
		return "control"
	case ModePrivate:
		return "private"
	default:
		return "reserved"
	}
}

const maxStratum = 15

// Packet is an NTP message. Reference, Originate (T1), Receive (T2) and
// Transmit (T3) travel on the wire; Destination (T4) is stamped locally
// when the reply arrives.
type Packet struct {
	Leap           LeapIndicator
	Version        uint8
	Mode           Mode
	Stratum        uint8
	Poll           int8
	Precision      int8
	RootDelay      Short
	RootDispersion Short
	ReferenceID    uint32

	Reference Timestamp
	Originate Timestamp
	Receive   Timestamp
	Transmit  Timestamp

	Destination time.Time
}

// DecodePacket parses a 48 byte message and stamps its destination time
// with dst.
func DecodePacket(b []byte, dst time.Time) (*Packet, error) {
	var p Packet
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	p.Destination = dst
	return &p, nil
}

// UnmarshalBinary decodes the wire fields. Destination is left untouched.
func (p *Packet) UnmarshalBinary(b []byte) error {
	if len(b) != PacketSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedPacket, len(b), PacketSize)
	}

	p.Leap = LeapIndicator(b[0] >> 6)
	p.Version = (b[0] >> 3) & 0x07
	p.Mode = Mode(b[0] & 0x07)
	p.Stratum = b[1]
	p.Poll = int8(b[2])
	p.Precision = int8(b[3])
	p.RootDelay = Short(binary.BigEndian.Uint32(b[4:8]))
	p.RootDispersion = Short(binary.BigEndian.Uint32(b[8:12]))
	p.ReferenceID = binary.BigEndian.Uint32(b[12:16])
	p.Reference = Timestamp(binary.BigEndian.Uint64(b[16:24]))
	p.Originate = Timestamp(binary.BigEndian.Uint64(b[24:32]))
	p.Receive = Timestamp(binary.BigEndian.Uint64(b[32:40]))
	p.Transmit = Timestamp(binary.BigEndian.Uint64(b[40:48]))
	return nil
}

// MarshalBinary encodes the wire fields into a 48 byte message.
func (p *Packet) MarshalBinary() ([]byte, error) {
	b := make([]byte, PacketSize)
	b[0] = byte(p.Leap&0x03)<<6 | (p.Version&0x07)<<3 | byte(p.Mode&0x07)
	b[1] = p.Stratum
	b[2] = byte(p.Poll)
	b[3] = byte(p.Precision)
	binary.BigEndian.PutUint32(b[4:8], uint32(p.RootDelay))
	binary.BigEndian.PutUint32(b[8:12], uint32(p.RootDispersion))
	binary.BigEndian.PutUint32(b[12:16], p.ReferenceID)
	binary.BigEndian.PutUint64(b[16:24], uint64(p.Reference))
	binary.BigEndian.PutUint64(b[24:32], uint64(p.Originate))
	binary.BigEndian.PutUint64(b[32:40], uint64(p.Receive))
	binary.BigEndian.PutUint64(b[40:48], uint64(p.Transmit))
	return b, nil
}

// Validate returns nil for a usable server reply: server mode, stratum
// between 1 and 15, and a non-zero transmit timestamp. Failures wrap
// ErrInvalidServerResponse.
func (p *Packet) Validate() error {
	switch {
	case p.Mode != ModeServer:
		return fmt.Errorf("%w: mode %s", ErrInvalidServerResponse, p.Mode)
	case p.Stratum == 0:
		return fmt.Errorf("%w: code %q", ErrKissOfDeath, p.KissCode())
	case p.Stratum > maxStratum:
		return fmt.Errorf("%w: stratum %d", ErrInvalidServerResponse, p.Stratum)
	case p.Transmit.IsZero():
		return fmt.Errorf("%w: zero transmit timestamp", ErrInvalidServerResponse)
	}
	return nil
}

// IsValid reports whether Validate accepts the packet.
func (p *Packet) IsValid() bool { return p.Validate() == nil }

// LocalClockOffset is ((T2-T1) + (T3-T4)) / 2, the amount to add to the
// local clock to match the server.
func (p *Packet) LocalClockOffset() time.Duration {
	t1, t2, t3, t4 := p.Originate.Time(), p.Receive.Time(), p.Transmit.Time(), p.Destination
	return (t2.Sub(t1) + t3.Sub(t4)) / 2
}

// RoundTripDelay is (T4-T1) - (T3-T2).
func (p *Packet) RoundTripDelay() time.Duration {
	t1, t2, t3, t4 := p.Originate.Time(), p.Receive.Time(), p.Transmit.Time(), p.Destination
	return t4.Sub(t1) - t3.Sub(t2)
}

// CreationTime is the local time at which the reply was accepted.
func (p *Packet) CreationTime() time.Time { return p.Destination }

// PrecisionDuration converts the log2 precision field into a duration.
func (p *Packet) PrecisionDuration() time.Duration {
	return time.Duration(math.Ldexp(float64(time.Second), int(p.Precision)))
}

// KissCode returns the four character kiss code of a stratum 0 reply.
func (p *Packet) KissCode() string {
	if p.Stratum != 0 {
		return ""
	}
	return refIDASCII(p.ReferenceID)
}

// ReferenceName renders the reference identifier: an ASCII clock source
// for stratum 0 and 1, an IPv4 address (or hash) for higher strata.
func (p *Packet) ReferenceName() string {
	if p.Stratum <= 1 {
		return refIDASCII(p.ReferenceID)
	}
	var a [4]byte
	binary.BigEndian.PutUint32(a[:], p.ReferenceID)
	return netip.AddrFrom4(a).String()
}

func refIDASCII(id uint32) string {
	var a [4]byte
	binary.BigEndian.PutUint32(a[:], id)
	return strings.TrimRight(string(a[:]), "\x00 ")
}
