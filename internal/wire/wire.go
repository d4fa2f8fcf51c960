// Package wire implements the DSP0236 v1.3.1 packet encoding: the 4-byte
// MCTP transport header followed by a 64-byte baseline transmission unit.
// All multi-byte fields are big-endian per the specification; the header
// itself is defined bit-by-bit, so packing is explicit rather than
// binary.Read-driven.
package wire

import (
	"errors"
	"time"
)

const (
	// HdrLen is the serialized length of the MCTP transport header.
	HdrLen = 4

	// BTU is the baseline transmission unit, the fixed per-packet payload.
	BTU = 64

	// PktLen is the serialized length of one packet on the stream.
	PktLen = HdrLen + BTU

	// HdrVersion is the only header version this transport accepts.
	HdrVersion = 1

	// NumTags is the number of message tags usable for reassembly and
	// outstanding-request tracking (3-bit tag field).
	NumTags = 8

	// MaxMsgPayload is the largest reassembled message payload carried.
	MaxMsgPayload = 8192
)

// ErrShortBuffer is returned when a packet buffer is smaller than PktLen.
var ErrShortBuffer = errors.New("wire: buffer shorter than packet")

// Header is the MCTP transport header, DSP0236 1.3.1 Table 1.
type Header struct {
	Ver   uint8 // header version, 4 bits, always 1
	Dest  uint8 // destination endpoint ID
	Src   uint8 // source endpoint ID
	SOM   bool  // start of message
	EOM   bool  // end of message
	Seq   uint8 // packet sequence number modulo 4
	Owner bool  // set when the source endpoint originated the exchange
	Tag   uint8 // message tag, 3 bits
}

// Packet is one on-wire MCTP packet.
type Packet struct {
	Hdr     Header
	Payload [BTU]byte
}

// Wrapper carries a Packet plus transport-local bookkeeping. Wrappers are
// pool-owned; while an outbound action holds a chain of them the chain is
// the action's exclusive extent.
type Wrapper struct {
	TS  time.Time // receive timestamp
	Pkt Packet
}

// Pack serializes the header into the first HdrLen bytes of buf.
func (h *Header) Pack(buf []byte) error {
	if len(buf) < HdrLen {
		return ErrShortBuffer
	}
	buf[0] = h.Ver & 0x0F
	buf[1] = h.Dest
	buf[2] = h.Src
	b := h.Tag & 0x07
	if h.Owner {
		b |= 1 << 3
	}
	b |= (h.Seq & 0x03) << 4
	if h.EOM {
		b |= 1 << 6
	}
	if h.SOM {
		b |= 1 << 7
	}
	buf[3] = b
	return nil
}

// Unpack parses the header from the first HdrLen bytes of buf.
func (h *Header) Unpack(buf []byte) error {
	if len(buf) < HdrLen {
		return ErrShortBuffer
	}
	h.Ver = buf[0] & 0x0F
	h.Dest = buf[1]
	h.Src = buf[2]
	h.Tag = buf[3] & 0x07
	h.Owner = buf[3]&(1<<3) != 0
	h.Seq = (buf[3] >> 4) & 0x03
	h.EOM = buf[3]&(1<<6) != 0
	h.SOM = buf[3]&(1<<7) != 0
	return nil
}

// Pack serializes the packet into buf, which must hold at least PktLen
// bytes.
func (p *Packet) Pack(buf []byte) error {
	if len(buf) < PktLen {
		return ErrShortBuffer
	}
	if err := p.Hdr.Pack(buf[:HdrLen]); err != nil {
		return err
	}
	copy(buf[HdrLen:PktLen], p.Payload[:])
	return nil
}

// Unpack parses the packet from buf, which must hold at least PktLen bytes.
func (p *Packet) Unpack(buf []byte) error {
	if len(buf) < PktLen {
		return ErrShortBuffer
	}
	if err := p.Hdr.Unpack(buf[:HdrLen]); err != nil {
		return err
	}
	copy(p.Payload[:], buf[HdrLen:PktLen])
	return nil
}

// Reset clears the wrapper for return to its pool.
func (w *Wrapper) Reset() {
	*w = Wrapper{}
}
