package mctp

import (
	"fmt"
	"time"

	"github.com/JackrabbitLabs/mctp/internal/ctrl"
)

// ctrlHandler services MCTP Control (type 0x00) requests. Requests that
// fail validation are dropped by returning an error; the dispatcher
// retires the action. Rejections that the protocol answers (unsupported
// Set EID operations, invalid EIDs) go back to the peer as completion
// codes instead.
func (ep *Endpoint) ctrlHandler(a *Action) error {
	// A completed outbound control exchange with no consumer ends here.
	if a.Rsp != nil {
		ep.Retire(a)
		return nil
	}

	req := a.Req
	if !req.Owner {
		return fmt.Errorf("control message not from tag owner")
	}

	var h ctrl.Header
	if err := h.Unpack(req.Body()); err != nil {
		return err
	}
	if !h.Request {
		return fmt.Errorf("control message is not a request")
	}

	// Endpoint ID filter: a directed request must name this endpoint.
	if req.Dst != EIDNull && req.Dst != EIDBroadcast && req.Dst != ep.EID() {
		return fmt.Errorf("request for eid 0x%02x, not ours", req.Dst)
	}

	switch h.Cmd {
	case ctrl.CmdSetEndpointID:
		return ep.ctrlSetEID(a, h)
	case ctrl.CmdGetEndpointID:
		return ep.ctrlGetEID(a, h)
	case ctrl.CmdGetEndpointUUID:
		return ep.ctrlGetUUID(a, h)
	case ctrl.CmdGetVersionSupport:
		return ep.ctrlGetVersions(a, h)
	case ctrl.CmdGetMessageTypes:
		return ep.ctrlGetTypes(a, h)
	}

	// Commands 0x06-0x14 are recognized but not serviced; no response
	// is generated.
	return fmt.Errorf("control command %q not serviced", h.Cmd)
}

// ctrlResponse acquires and addresses a response message for a: control
// header echoed with Rq cleared, src/dst swapped, same tag, no tag
// ownership. The returned slice is where the body packs.
func (ep *Endpoint) ctrlResponse(a *Action, h ctrl.Header, bodyLen int) ([]byte, error) {
	rsp, err := ep.AcquireMessage()
	if err != nil {
		return nil, err
	}

	rsp.SetHeader(a.Req.Src, a.Req.Dst, false, a.Req.Tag)
	rsp.Type = a.Req.Type
	rsp.Len = ctrl.HdrLen + bodyLen
	rsp.TS = time.Now()

	rh := h.ResponseHeader()
	if err := rh.Pack(rsp.Payload[:]); err != nil {
		return nil, err
	}

	a.Rsp = rsp
	return rsp.Payload[ctrl.HdrLen : ctrl.HdrLen+bodyLen], nil
}

// ctrlSetEID implements Set Endpoint ID (0x01). This endpoint only
// supports dynamic EIDs: Reset and Discover operations are rejected, as
// are the reserved Null and Broadcast values.
func (ep *Endpoint) ctrlSetEID(a *Action, h ctrl.Header) error {
	var req ctrl.SetEIDReq
	if err := req.Unpack(a.Req.Body()[ctrl.HdrLen:]); err != nil {
		return err
	}

	body, err := ep.ctrlResponse(a, h, ctrl.SetEIDRespLen)
	if err != nil {
		return err
	}

	resp := ctrl.SetEIDResp{}
	switch {
	case req.Op == ctrl.SetEIDReset || req.Op == ctrl.SetEIDDiscover:
		resp.CC = ctrl.CCInvalidData
		resp.Assignment = ctrl.SetEIDRejected
		resp.EID = ep.EID()
	case req.EID == EIDNull || req.EID == EIDBroadcast:
		resp.CC = ctrl.CCInvalidData
		resp.Assignment = ctrl.SetEIDRejected
		resp.EID = ep.EID()
	default:
		ep.stateMu.Lock()
		ep.state.EID = req.EID
		ep.state.BusOwnerEID = a.Req.Src
		ep.stateMu.Unlock()
		ep.log.Info("endpoint id assigned",
			"eid", fmt.Sprintf("0x%02x", req.EID),
			"bus_owner", fmt.Sprintf("0x%02x", a.Req.Src))

		resp.CC = ctrl.CCSuccess
		resp.Assignment = ctrl.SetEIDAccepted
		resp.EID = req.EID
	}

	if err := resp.Pack(body); err != nil {
		return err
	}
	return ep.Respond(a)
}

// ctrlGetEID implements Get Endpoint ID (0x02).
func (ep *Endpoint) ctrlGetEID(a *Action, h ctrl.Header) error {
	body, err := ep.ctrlResponse(a, h, ctrl.GetEIDRespLen)
	if err != nil {
		return err
	}

	resp := ctrl.GetEIDResp{
		CC:           ctrl.CCSuccess,
		EID:          ep.EID(),
		EndpointType: ctrl.EndpointSimple,
		IDType:       ctrl.IDTypeDynamic,
	}
	if err := resp.Pack(body); err != nil {
		return err
	}
	return ep.Respond(a)
}

// ctrlGetUUID implements Get Endpoint UUID (0x03).
func (ep *Endpoint) ctrlGetUUID(a *Action, h ctrl.Header) error {
	body, err := ep.ctrlResponse(a, h, ctrl.GetUUIDRespLen)
	if err != nil {
		return err
	}

	resp := ctrl.GetUUIDResp{CC: ctrl.CCSuccess}
	u := ep.State().UUID
	copy(resp.UUID[:], u[:])
	if err := resp.Pack(body); err != nil {
		return err
	}
	return ep.Respond(a)
}

// ctrlGetVersions implements Get Version Support (0x04). An unknown type
// answers with the command-specific 0x80 code and zero entries.
func (ep *Endpoint) ctrlGetVersions(a *Action, h ctrl.Header) error {
	var req ctrl.GetVerReq
	if err := req.Unpack(a.Req.Body()[ctrl.HdrLen:]); err != nil {
		return err
	}

	resp := ctrl.GetVerResp{Versions: ep.versions.Lookup(req.Type)}
	if len(resp.Versions) > 0 {
		resp.CC = ctrl.CCSuccess
	} else {
		resp.CC = ctrl.CCVersionsNotFound
	}

	body, err := ep.ctrlResponse(a, h, resp.Len())
	if err != nil {
		return err
	}
	if err := resp.Pack(body); err != nil {
		return err
	}
	return ep.Respond(a)
}

// ctrlGetTypes implements Get Message Type Support (0x05); this endpoint
// advertises the CXL FM API and CXL CCI application types.
func (ep *Endpoint) ctrlGetTypes(a *Action, h ctrl.Header) error {
	resp := ctrl.GetTypeResp{
		CC:    ctrl.CCSuccess,
		Types: []uint8{MsgTypeCXLFMAPI, MsgTypeCXLCCI},
	}

	body, err := ep.ctrlResponse(a, h, resp.Len())
	if err != nil {
		return err
	}
	if err := resp.Pack(body); err != nil {
		return err
	}
	return ep.Respond(a)
}

// buildControl assembles a control request payload for Submit.
func buildControl(inst uint8, cmd ctrl.Command, body []byte) []byte {
	h := ctrl.Header{Request: true, InstanceID: inst, Cmd: cmd}
	buf := make([]byte, ctrl.HdrLen+len(body))
	_ = h.Pack(buf)
	copy(buf[ctrl.HdrLen:], body)
	return buf
}

// BuildSetEID builds a Set Endpoint ID request payload assigning eid.
func BuildSetEID(inst uint8, eid uint8) []byte {
	var req ctrl.SetEIDReq
	req.Op = ctrl.SetEIDSet
	req.EID = eid
	body := make([]byte, ctrl.SetEIDReqLen)
	_ = req.Pack(body)
	return buildControl(inst, ctrl.CmdSetEndpointID, body)
}

// BuildGetEID builds a Get Endpoint ID request payload.
func BuildGetEID(inst uint8) []byte {
	return buildControl(inst, ctrl.CmdGetEndpointID, nil)
}

// BuildGetUUID builds a Get Endpoint UUID request payload.
func BuildGetUUID(inst uint8) []byte {
	return buildControl(inst, ctrl.CmdGetEndpointUUID, nil)
}

// BuildGetVersionSupport builds a Get Version Support request payload for
// one message type (MsgTypeBase queries the base specification).
func BuildGetVersionSupport(inst uint8, typ uint8) []byte {
	return buildControl(inst, ctrl.CmdGetVersionSupport, []byte{typ})
}

// BuildGetMessageTypes builds a Get Message Type Support request payload.
func BuildGetMessageTypes(inst uint8) []byte {
	return buildControl(inst, ctrl.CmdGetMessageTypes, nil)
}
