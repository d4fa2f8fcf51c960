package mctp

import "time"

// Message is a reassembled MCTP message. The message type is held apart
// from the payload: on the wire it occupies the first payload byte of the
// start-of-message packet, while Payload holds only the post-type bytes.
//
// Messages are pool-owned. A message checked out of the pool belongs to
// exactly one queue, worker, or action at a time until it is released.
type Message struct {
	Dst   uint8
	Src   uint8
	Type  uint8 // 7-bit message type with IC bit
	Owner bool  // set when this message's source originated the exchange
	Tag   uint8
	Len   int       // payload length in bytes
	TS    time.Time // receive or creation timestamp

	Payload [MaxMsgPayload]byte
}

// SetHeader fills the transport addressing fields.
func (m *Message) SetHeader(dst, src uint8, owner bool, tag uint8) {
	m.Dst = dst
	m.Src = src
	m.Owner = owner
	m.Tag = tag
}

// Body returns the valid portion of the payload.
func (m *Message) Body() []byte {
	n := m.Len
	if n < 0 {
		n = 0
	}
	if n > len(m.Payload) {
		n = len(m.Payload)
	}
	return m.Payload[:n]
}

// PacketCount returns how many packets this message fragments into.
// Control messages always fit one packet; data types need ceil(Len/BTU).
// Unknown types report 0 and are not transmitted.
func (m *Message) PacketCount() int {
	switch m.Type {
	case MsgTypeControl:
		return 1
	case MsgTypePLDM, MsgTypeNCSI, MsgTypeEthernet, MsgTypeNVMeMI,
		MsgTypeSPDM, MsgTypeSecure, MsgTypeCXLFMAPI, MsgTypeCXLCCI,
		MsgTypeCSE, MsgTypeVDMPCI, MsgTypeVDMIANA:
		n := m.Len / BTU
		if m.Len%BTU > 0 {
			n++
		}
		return n
	}
	return 0
}
