package mctp

import (
	"time"

	"github.com/JackrabbitLabs/mctp/internal/wire"
)

// MCTP message type codes, DSP0239 v1.9.0 Table 1.
const (
	MsgTypeControl  uint8 = 0x00
	MsgTypePLDM     uint8 = 0x01
	MsgTypeNCSI     uint8 = 0x02
	MsgTypeEthernet uint8 = 0x03
	MsgTypeNVMeMI   uint8 = 0x04
	MsgTypeSPDM     uint8 = 0x05
	MsgTypeSecure   uint8 = 0x06
	MsgTypeCXLFMAPI uint8 = 0x07
	MsgTypeCXLCCI   uint8 = 0x08
	MsgTypeCSE      uint8 = 0x70
	MsgTypeVDMPCI   uint8 = 0x7E
	MsgTypeVDMIANA  uint8 = 0x7F

	// MsgTypeBase addresses the MCTP base specification itself in the
	// Get Version Support command; it is not a carriable message type.
	MsgTypeBase uint8 = 0xFF
)

// Special endpoint IDs, DSP0236 v1.3.1 Table 2.
const (
	EIDNull      uint8 = 0x00
	EIDBroadcast uint8 = 0xFF
)

// Wire geometry, re-exported from the codec package.
const (
	// BTU is the baseline transmission unit carried by each packet.
	BTU = wire.BTU

	// PacketLen is the serialized length of one packet on the stream.
	PacketLen = wire.PktLen

	// NumTags is the number of concurrent message tags (3-bit field).
	NumTags = wire.NumTags

	// MaxMsgPayload is the reassembly buffer size. Because the message
	// type byte occupies the first payload byte of the start-of-message
	// packet, the largest payload that survives fragmentation intact is
	// MaxMsgPayload-1 bytes.
	MaxMsgPayload = wire.MaxMsgPayload
)

// Fixed pool sizes.
const (
	PacketPoolSize  = 1024
	MessagePoolSize = 128
	ActionPoolSize  = 128
)

// Queue capacities.
const (
	rpqSize = 1024
	tpqSize = 1024
	rmqSize = 128
	tmqSize = 128
	taqSize = 128
	acqSize = 128
)

// Defaults for the endpoint configuration.
const (
	// DefaultPort is the TCP port the transport binds or connects to.
	DefaultPort = 2508

	// DefaultRetryMax is the number of transmission attempts before an
	// unanswered request is failed.
	DefaultRetryMax = 8

	// DefaultRetryInterval is how long an outstanding request may sit
	// unanswered before the submitter re-transmits it.
	DefaultRetryInterval = 100 * time.Millisecond

	// DefaultSubmitTick is the submitter's polling period.
	DefaultSubmitTick = time.Millisecond

	// startupTimeout bounds the non-blocking Run handshake.
	startupTimeout = time.Second

	// listenBacklog is advisory only; Go's listener manages its own
	// backlog, but the value documents the wire contract.
	listenBacklog = 5
)

// Verbosity bits. Only the packet and message bits are consulted: they
// hex-dump traffic at debug level. The error, thread and step bits are
// accepted but have no effect; that logging follows the logger's level.
const (
	VerboseError   uint32 = 1 << 0
	VerboseThreads uint32 = 1 << 1
	VerboseSteps   uint32 = 1 << 2
	VerbosePacket  uint32 = 1 << 3
	VerboseMessage uint32 = 1 << 4
)

// Mode selects how the endpoint obtains its stream connection.
type Mode int

const (
	// ModeServer binds, listens, and serves one connection at a time.
	ModeServer Mode = iota

	// ModeClient dials the configured address once.
	ModeClient
)

func (m Mode) String() string {
	switch m {
	case ModeServer:
		return "Server"
	case ModeClient:
		return "Client"
	}
	return "Unknown"
}

var msgTypeNames = map[uint8]string{
	MsgTypeControl:  "CONTROL",
	MsgTypePLDM:     "PLDM",
	MsgTypeNCSI:     "NCSI",
	MsgTypeEthernet: "ETHERNET",
	MsgTypeNVMeMI:   "NVMEMI",
	MsgTypeSPDM:     "SPDM",
	MsgTypeSecure:   "SECURE",
	MsgTypeCXLFMAPI: "CXLFMAPI",
	MsgTypeCXLCCI:   "CXLCCI",
	MsgTypeCSE:      "CSE",
	MsgTypeVDMPCI:   "VDM_PCI",
	MsgTypeVDMIANA:  "VDM_IANA",
	MsgTypeBase:     "BASE",
}

// MsgTypeName returns the display name for an MCTP message type code.
func MsgTypeName(t uint8) string {
	if s, ok := msgTypeNames[t]; ok {
		return s
	}
	return "UNKNOWN"
}
