// Package ctrl implements the MCTP Control message encoding (message type
// 0x00): the 2-byte control header of DSP0236 1.3.1 Table 10 and the
// request/response bodies of the commands this endpoint services. The
// package speaks raw message payloads; routing and endpoint state live in
// the transport core.
package ctrl

import (
	"errors"

	"github.com/JackrabbitLabs/mctp/internal/version"
)

// HdrLen is the serialized length of the control header.
const HdrLen = 2

// UUIDLen is the serialized length of an endpoint UUID.
const UUIDLen = 16

// Command is an MCTP Control command ID, DSP0236 1.3.0 Table 12.
type Command uint8

const (
	CmdReserved            Command = 0x00
	CmdSetEndpointID       Command = 0x01
	CmdGetEndpointID       Command = 0x02
	CmdGetEndpointUUID     Command = 0x03
	CmdGetVersionSupport   Command = 0x04
	CmdGetMessageTypes     Command = 0x05
	CmdGetVendorMessages   Command = 0x06
	CmdResolveEndpointID   Command = 0x07
	CmdAllocateEndpointIDs Command = 0x08
	CmdRoutingInfoUpdate   Command = 0x09
	CmdGetRoutingTable     Command = 0x0A
	CmdPrepareDiscovery    Command = 0x0B
	CmdEndpointDiscovery   Command = 0x0C
	CmdDiscoveryNotify     Command = 0x0D
	CmdGetNetworkID        Command = 0x0E
	CmdQueryHop            Command = 0x0F
	CmdResolveUUID         Command = 0x10
	CmdQueryRateLimit      Command = 0x11
	CmdRequestTXRateLimit  Command = 0x12
	CmdUpdateRateLimit     Command = 0x13
	CmdQueryInterfaces     Command = 0x14
)

var cmdNames = map[Command]string{
	CmdReserved:            "Reserved",
	CmdSetEndpointID:       "Set Endpoint ID",
	CmdGetEndpointID:       "Get Endpoint ID",
	CmdGetEndpointUUID:     "Get Endpoint UUID",
	CmdGetVersionSupport:   "Get Version Support",
	CmdGetMessageTypes:     "Get Message Type Support",
	CmdGetVendorMessages:   "Get Vendor Message Support",
	CmdResolveEndpointID:   "Resolve Endpoint ID",
	CmdAllocateEndpointIDs: "Allocate Endpoint IDs",
	CmdRoutingInfoUpdate:   "Routing Info Update",
	CmdGetRoutingTable:     "Get Routing Table Entries",
	CmdPrepareDiscovery:    "Prepare Endpoint Discovery",
	CmdEndpointDiscovery:   "Endpoint Discovery",
	CmdDiscoveryNotify:     "Discovery Notify",
	CmdGetNetworkID:        "Get Network ID",
	CmdQueryHop:            "Query Hop",
	CmdResolveUUID:         "Resolve UUID",
	CmdQueryRateLimit:      "Query Rate Limit",
	CmdRequestTXRateLimit:  "Request TX Rate Limit",
	CmdUpdateRateLimit:     "Update Rate Limit",
	CmdQueryInterfaces:     "Query Supported Interfaces",
}

func (c Command) String() string {
	if s, ok := cmdNames[c]; ok {
		return s
	}
	return "Unknown"
}

// CompletionCode, DSP0236 1.3.0 Table 13. Codes 0x80-0xFF are
// command-specific; Get Version Support uses 0x80 for "type unsupported".
type CompletionCode uint8

const (
	CCSuccess          CompletionCode = 0x00
	CCError            CompletionCode = 0x01
	CCInvalidData      CompletionCode = 0x02
	CCInvalidLength    CompletionCode = 0x03
	CCNotReady         CompletionCode = 0x04
	CCUnsupportedCmd   CompletionCode = 0x05
	CCVersionsNotFound CompletionCode = 0x80
)

var ccNames = map[CompletionCode]string{
	CCSuccess:        "Success",
	CCError:          "Error",
	CCInvalidData:    "Error Invalid Data",
	CCInvalidLength:  "Error Invalid Length",
	CCNotReady:       "Error Not Ready",
	CCUnsupportedCmd: "Error Unsupported CMD",
}

func (c CompletionCode) String() string {
	if s, ok := ccNames[c]; ok {
		return s
	}
	return "Command Specific"
}

// SetEIDOp, DSP0236 1.3.1 Table 14.
type SetEIDOp uint8

const (
	SetEIDSet      SetEIDOp = 0
	SetEIDForce    SetEIDOp = 1
	SetEIDReset    SetEIDOp = 2
	SetEIDDiscover SetEIDOp = 3
)

func (o SetEIDOp) String() string {
	switch o {
	case SetEIDSet:
		return "Set"
	case SetEIDForce:
		return "Force"
	case SetEIDReset:
		return "Reset"
	case SetEIDDiscover:
		return "Discover"
	}
	return "Unknown"
}

// Set EID assignment status, DSP0236 1.3.1 Table 14.
const (
	SetEIDAccepted = 0
	SetEIDRejected = 1
)

// Endpoint types and EID types, DSP0236 1.3.1 Table 15.
const (
	EndpointSimple = 0
	EndpointBridge = 1

	IDTypeDynamic         = 0
	IDTypeStatic          = 1
	IDTypeStaticCurrent   = 2
	IDTypeStaticDifferent = 3
)

// Request and response body lengths, not counting the control header, per
// the request/response tables of DSP0236. Response lengths include the
// 1-byte completion code.
const (
	SetEIDReqLen   = 2
	SetEIDRespLen  = 4
	GetEIDReqLen   = 0
	GetEIDRespLen  = 4
	GetUUIDReqLen  = 0
	GetUUIDRespLen = 17
	GetVerReqLen   = 1
	GetVerRespLen  = 2
	GetTypeReqLen  = 0
	GetTypeRespLen = 2
)

// ErrTruncated is returned when a control payload is shorter than the
// command's fixed body.
var ErrTruncated = errors.New("ctrl: truncated control message")

// Header is the MCTP Control message header.
type Header struct {
	Request    bool    // Rq bit: message is a request
	Datagram   bool    // D bit: no response expected
	InstanceID uint8   // 5-bit correlation field echoed in the response
	Cmd        Command // command code
}

// Pack serializes the header into the first HdrLen bytes of buf.
func (h *Header) Pack(buf []byte) error {
	if len(buf) < HdrLen {
		return ErrTruncated
	}
	b := h.InstanceID & 0x1F
	if h.Datagram {
		b |= 1 << 6
	}
	if h.Request {
		b |= 1 << 7
	}
	buf[0] = b
	buf[1] = byte(h.Cmd)
	return nil
}

// Unpack parses the header from the first HdrLen bytes of buf.
func (h *Header) Unpack(buf []byte) error {
	if len(buf) < HdrLen {
		return ErrTruncated
	}
	h.InstanceID = buf[0] & 0x1F
	h.Datagram = buf[0]&(1<<6) != 0
	h.Request = buf[0]&(1<<7) != 0
	h.Cmd = Command(buf[1])
	return nil
}

// ResponseHeader derives the header a response to h must carry: same
// instance ID and command, Rq cleared.
func (h Header) ResponseHeader() Header {
	h.Request = false
	return h
}

// SetEIDReq is the Set Endpoint ID request body.
type SetEIDReq struct {
	Op  SetEIDOp
	EID uint8
}

func (r *SetEIDReq) Pack(buf []byte) error {
	if len(buf) < SetEIDReqLen {
		return ErrTruncated
	}
	buf[0] = byte(r.Op) & 0x03
	buf[1] = r.EID
	return nil
}

func (r *SetEIDReq) Unpack(buf []byte) error {
	if len(buf) < SetEIDReqLen {
		return ErrTruncated
	}
	r.Op = SetEIDOp(buf[0] & 0x03)
	r.EID = buf[1]
	return nil
}

// SetEIDResp is the Set Endpoint ID response body.
type SetEIDResp struct {
	CC         CompletionCode
	Assignment uint8 // SetEIDAccepted or SetEIDRejected, bits 5:4
	Allocation uint8 // EID pool allocation status, bits 1:0
	EID        uint8
	PoolSize   uint8
}

func (r *SetEIDResp) Pack(buf []byte) error {
	if len(buf) < SetEIDRespLen {
		return ErrTruncated
	}
	buf[0] = byte(r.CC)
	buf[1] = (r.Allocation & 0x03) | (r.Assignment&0x03)<<4
	buf[2] = r.EID
	buf[3] = r.PoolSize
	return nil
}

func (r *SetEIDResp) Unpack(buf []byte) error {
	if len(buf) < SetEIDRespLen {
		return ErrTruncated
	}
	r.CC = CompletionCode(buf[0])
	r.Allocation = buf[1] & 0x03
	r.Assignment = (buf[1] >> 4) & 0x03
	r.EID = buf[2]
	r.PoolSize = buf[3]
	return nil
}

// GetEIDResp is the Get Endpoint ID response body.
type GetEIDResp struct {
	CC           CompletionCode
	EID          uint8
	IDType       uint8 // bits 1:0
	EndpointType uint8 // bits 5:4
	Medium       uint8
}

func (r *GetEIDResp) Pack(buf []byte) error {
	if len(buf) < GetEIDRespLen {
		return ErrTruncated
	}
	buf[0] = byte(r.CC)
	buf[1] = r.EID
	buf[2] = (r.IDType & 0x03) | (r.EndpointType&0x03)<<4
	buf[3] = r.Medium
	return nil
}

func (r *GetEIDResp) Unpack(buf []byte) error {
	if len(buf) < GetEIDRespLen {
		return ErrTruncated
	}
	r.CC = CompletionCode(buf[0])
	r.EID = buf[1]
	r.IDType = buf[2] & 0x03
	r.EndpointType = (buf[2] >> 4) & 0x03
	r.Medium = buf[3]
	return nil
}

// GetUUIDResp is the Get Endpoint UUID response body.
type GetUUIDResp struct {
	CC   CompletionCode
	UUID [UUIDLen]byte
}

func (r *GetUUIDResp) Pack(buf []byte) error {
	if len(buf) < GetUUIDRespLen {
		return ErrTruncated
	}
	buf[0] = byte(r.CC)
	copy(buf[1:GetUUIDRespLen], r.UUID[:])
	return nil
}

func (r *GetUUIDResp) Unpack(buf []byte) error {
	if len(buf) < GetUUIDRespLen {
		return ErrTruncated
	}
	r.CC = CompletionCode(buf[0])
	copy(r.UUID[:], buf[1:GetUUIDRespLen])
	return nil
}

// GetVerReq is the Get Version Support request body.
type GetVerReq struct {
	Type uint8
}

func (r *GetVerReq) Pack(buf []byte) error {
	if len(buf) < GetVerReqLen {
		return ErrTruncated
	}
	buf[0] = r.Type
	return nil
}

func (r *GetVerReq) Unpack(buf []byte) error {
	if len(buf) < GetVerReqLen {
		return ErrTruncated
	}
	r.Type = buf[0]
	return nil
}

// GetVerResp is the Get Version Support response body. Each version entry
// serializes as four BCD bytes.
type GetVerResp struct {
	CC       CompletionCode
	Versions []version.Entry
}

// Len returns the serialized body length.
func (r *GetVerResp) Len() int { return GetVerRespLen + 4*len(r.Versions) }

func (r *GetVerResp) Pack(buf []byte) error {
	if len(buf) < r.Len() {
		return ErrTruncated
	}
	buf[0] = byte(r.CC)
	buf[1] = byte(len(r.Versions))
	for i, v := range r.Versions {
		off := GetVerRespLen + 4*i
		buf[off] = v.Major
		buf[off+1] = v.Minor
		buf[off+2] = v.Update
		buf[off+3] = v.Alpha
	}
	return nil
}

func (r *GetVerResp) Unpack(buf []byte) error {
	if len(buf) < GetVerRespLen {
		return ErrTruncated
	}
	r.CC = CompletionCode(buf[0])
	count := int(buf[1])
	if len(buf) < GetVerRespLen+4*count {
		return ErrTruncated
	}
	r.Versions = make([]version.Entry, count)
	for i := range r.Versions {
		off := GetVerRespLen + 4*i
		r.Versions[i] = version.Entry{
			Major:  buf[off],
			Minor:  buf[off+1],
			Update: buf[off+2],
			Alpha:  buf[off+3],
		}
	}
	return nil
}

// GetTypeResp is the Get Message Type Support response body.
type GetTypeResp struct {
	CC    CompletionCode
	Types []uint8
}

// Len returns the serialized body length.
func (r *GetTypeResp) Len() int { return GetTypeRespLen + len(r.Types) }

func (r *GetTypeResp) Pack(buf []byte) error {
	if len(buf) < r.Len() {
		return ErrTruncated
	}
	buf[0] = byte(r.CC)
	buf[1] = byte(len(r.Types))
	copy(buf[GetTypeRespLen:], r.Types)
	return nil
}

func (r *GetTypeResp) Unpack(buf []byte) error {
	if len(buf) < GetTypeRespLen {
		return ErrTruncated
	}
	r.CC = CompletionCode(buf[0])
	count := int(buf[1])
	if len(buf) < GetTypeRespLen+count {
		return ErrTruncated
	}
	r.Types = make([]uint8, count)
	copy(r.Types, buf[GetTypeRespLen:GetTypeRespLen+count])
	return nil
}

// MsgLen returns the total control message length (header plus body) for a
// serialized control payload, using the per-command fixed-length table.
// Variable-length responses read their entry count from the body. Commands
// this endpoint does not service report 0.
func MsgLen(payload []byte) int {
	var h Header
	if h.Unpack(payload) != nil {
		return 0
	}
	body := payload[HdrLen:]

	n := 0
	switch h.Cmd {
	case CmdSetEndpointID:
		if h.Request {
			n = SetEIDReqLen
		} else {
			n = SetEIDRespLen
		}
	case CmdGetEndpointID:
		if h.Request {
			n = GetEIDReqLen
		} else {
			n = GetEIDRespLen
		}
	case CmdGetEndpointUUID:
		if h.Request {
			n = GetUUIDReqLen
		} else {
			n = GetUUIDRespLen
		}
	case CmdGetVersionSupport:
		if h.Request {
			n = GetVerReqLen
		} else {
			if len(body) < GetVerRespLen {
				return 0
			}
			n = GetVerRespLen + int(body[1])*4
		}
	case CmdGetMessageTypes:
		if h.Request {
			n = GetTypeReqLen
		} else {
			if len(body) < GetTypeRespLen {
				return 0
			}
			n = GetTypeRespLen + int(body[1])
		}
	default:
		return 0
	}
	return HdrLen + n
}
