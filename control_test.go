package mctp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JackrabbitLabs/mctp/internal/ctrl"
)

// newControlAction wraps a control request payload in a pool-backed
// action, the way the message handler would present it.
func newControlAction(t *testing.T, ep *Endpoint, dst, src uint8, payload []byte) *Action {
	t.Helper()

	mm, err := ep.msgs.Acquire(false)
	require.NoError(t, err)
	mm.SetHeader(dst, src, true, 0)
	mm.Type = MsgTypeControl
	mm.Len = copy(mm.Payload[:], payload)

	ma, err := ep.actions.Acquire(false)
	require.NoError(t, err)
	ma.reset()
	ma.Req = mm
	return ma
}

// popResponse fetches the handler's response from the transmit queue.
func popResponse(t *testing.T, ep *Endpoint) (*Action, ctrl.Header, []byte) {
	t.Helper()

	ma, err := ep.tmq.Pop(false)
	require.NoError(t, err)
	require.NotNil(t, ma.Rsp)

	var h ctrl.Header
	require.NoError(t, h.Unpack(ma.Rsp.Body()))
	return ma, h, ma.Rsp.Body()[ctrl.HdrLen:]
}

func TestSetEIDAssignsIdentity(t *testing.T) {
	ep := newTestEndpoint(t)

	ma := newControlAction(t, ep, EIDNull, 0x01, BuildSetEID(0x0A, 0x02))
	require.NoError(t, ep.ctrlHandler(ma))

	out, h, body := popResponse(t, ep)
	require.Same(t, ma, out)

	assert.False(t, h.Request, "response clears the Rq bit")
	assert.Equal(t, uint8(0x0A), h.InstanceID, "instance id echoed")
	assert.Equal(t, ctrl.CmdSetEndpointID, h.Cmd)

	var resp ctrl.SetEIDResp
	require.NoError(t, resp.Unpack(body))
	assert.Equal(t, ctrl.CCSuccess, resp.CC)
	assert.Equal(t, uint8(ctrl.SetEIDAccepted), resp.Assignment)
	assert.Equal(t, uint8(0x02), resp.EID)

	// Endpoint identity updated.
	assert.Equal(t, uint8(0x02), ep.EID())
	assert.Equal(t, uint8(0x01), ep.State().BusOwnerEID)

	// MCTP header swapped, tag preserved, no tag ownership.
	assert.Equal(t, uint8(0x01), out.Rsp.Dst)
	assert.Equal(t, EIDNull, out.Rsp.Src)
	assert.False(t, out.Rsp.Owner)
	assert.Equal(t, out.Req.Tag, out.Rsp.Tag)
	assert.Equal(t, ctrl.HdrLen+ctrl.SetEIDRespLen, out.Rsp.Len)

	ep.Retire(out)
}

func TestSetEIDRejectsUnsupportedOps(t *testing.T) {
	for _, op := range []ctrl.SetEIDOp{ctrl.SetEIDReset, ctrl.SetEIDDiscover} {
		ep := newTestEndpoint(t)

		var req ctrl.SetEIDReq
		req.Op = op
		req.EID = 0x05
		body := make([]byte, ctrl.SetEIDReqLen)
		require.NoError(t, req.Pack(body))
		payload := make([]byte, ctrl.HdrLen+len(body))
		h := ctrl.Header{Request: true, Cmd: ctrl.CmdSetEndpointID}
		require.NoError(t, h.Pack(payload))
		copy(payload[ctrl.HdrLen:], body)

		ma := newControlAction(t, ep, EIDNull, 0x01, payload)
		require.NoError(t, ep.ctrlHandler(ma))

		out, _, respBody := popResponse(t, ep)
		var resp ctrl.SetEIDResp
		require.NoError(t, resp.Unpack(respBody))
		assert.Equal(t, ctrl.CCInvalidData, resp.CC, "op=%s", op)
		assert.Equal(t, uint8(ctrl.SetEIDRejected), resp.Assignment, "op=%s", op)

		// Local state unchanged.
		assert.Equal(t, EIDNull, ep.EID(), "op=%s", op)
		ep.Retire(out)
	}
}

func TestSetEIDRejectsReservedEIDs(t *testing.T) {
	for _, eid := range []uint8{EIDNull, EIDBroadcast} {
		ep := newTestEndpoint(t)

		ma := newControlAction(t, ep, EIDNull, 0x01, BuildSetEID(0, eid))
		require.NoError(t, ep.ctrlHandler(ma))

		out, _, respBody := popResponse(t, ep)
		var resp ctrl.SetEIDResp
		require.NoError(t, resp.Unpack(respBody))
		assert.Equal(t, ctrl.CCInvalidData, resp.CC, "eid=0x%02x", eid)
		assert.Equal(t, uint8(ctrl.SetEIDRejected), resp.Assignment)
		assert.Equal(t, EIDNull, ep.EID())
		ep.Retire(out)
	}
}

func TestGetEID(t *testing.T) {
	ep := newTestEndpoint(t)
	ep.stateMu.Lock()
	ep.state.EID = 0x0B
	ep.stateMu.Unlock()

	ma := newControlAction(t, ep, 0x0B, 0x01, BuildGetEID(3))
	require.NoError(t, ep.ctrlHandler(ma))

	out, h, body := popResponse(t, ep)
	assert.Equal(t, ctrl.CmdGetEndpointID, h.Cmd)

	var resp ctrl.GetEIDResp
	require.NoError(t, resp.Unpack(body))
	assert.Equal(t, ctrl.CCSuccess, resp.CC)
	assert.Equal(t, uint8(0x0B), resp.EID)
	assert.Equal(t, uint8(ctrl.EndpointSimple), resp.EndpointType)
	assert.Equal(t, uint8(ctrl.IDTypeDynamic), resp.IDType)
	ep.Retire(out)
}

func TestGetUUID(t *testing.T) {
	ep := newTestEndpoint(t)

	ma := newControlAction(t, ep, EIDNull, 0x01, BuildGetUUID(0))
	require.NoError(t, ep.ctrlHandler(ma))

	out, _, body := popResponse(t, ep)
	var resp ctrl.GetUUIDResp
	require.NoError(t, resp.Unpack(body))
	assert.Equal(t, ctrl.CCSuccess, resp.CC)

	u := ep.State().UUID
	assert.Equal(t, u[:], resp.UUID[:], "response carries the endpoint UUID")
	assert.Equal(t, ctrl.HdrLen+ctrl.GetUUIDRespLen, out.Rsp.Len)
	ep.Retire(out)
}

func TestGetVersionSupport(t *testing.T) {
	ep := newTestEndpoint(t)

	// The base specification version registered at initialization.
	ma := newControlAction(t, ep, EIDNull, 0x01, BuildGetVersionSupport(0, MsgTypeBase))
	require.NoError(t, ep.ctrlHandler(ma))

	out, _, body := popResponse(t, ep)
	var resp ctrl.GetVerResp
	require.NoError(t, resp.Unpack(body))
	assert.Equal(t, ctrl.CCSuccess, resp.CC)
	require.Len(t, resp.Versions, 1)
	assert.Equal(t, uint8(0xF1), resp.Versions[0].Major)
	assert.Equal(t, uint8(0xF3), resp.Versions[0].Minor)
	assert.Equal(t, uint8(0xF1), resp.Versions[0].Update)
	assert.Equal(t, uint8(0x00), resp.Versions[0].Alpha)
	assert.Equal(t, ctrl.HdrLen+ctrl.GetVerRespLen+4, out.Rsp.Len)
	ep.Retire(out)

	// An unregistered type answers with the command-specific code.
	ma = newControlAction(t, ep, EIDNull, 0x01, BuildGetVersionSupport(0, MsgTypeSPDM))
	require.NoError(t, ep.ctrlHandler(ma))

	out, _, body = popResponse(t, ep)
	require.NoError(t, resp.Unpack(body))
	assert.Equal(t, ctrl.CCVersionsNotFound, resp.CC)
	assert.Empty(t, resp.Versions)
	ep.Retire(out)
}

func TestGetMessageTypeSupport(t *testing.T) {
	ep := newTestEndpoint(t)

	ma := newControlAction(t, ep, EIDNull, 0x01, BuildGetMessageTypes(0))
	require.NoError(t, ep.ctrlHandler(ma))

	out, _, body := popResponse(t, ep)
	var resp ctrl.GetTypeResp
	require.NoError(t, resp.Unpack(body))
	assert.Equal(t, ctrl.CCSuccess, resp.CC)
	assert.Equal(t, []uint8{MsgTypeCXLFMAPI, MsgTypeCXLCCI}, resp.Types)
	ep.Retire(out)
}

func TestControlDropsMismatchedEID(t *testing.T) {
	ep := newTestEndpoint(t)
	ep.stateMu.Lock()
	ep.state.EID = 0x0B
	ep.stateMu.Unlock()

	// Directed at a different endpoint: dropped without a response.
	ma := newControlAction(t, ep, 0x0C, 0x01, BuildGetEID(0))
	assert.Error(t, ep.ctrlHandler(ma))
	assert.Equal(t, 0, ep.tmq.Len())
	ep.Retire(ma)

	// Broadcast always reaches the endpoint.
	ma = newControlAction(t, ep, EIDBroadcast, 0x01, BuildGetEID(0))
	require.NoError(t, ep.ctrlHandler(ma))
	out, _, _ := popResponse(t, ep)
	ep.Retire(out)
}

func TestControlDropsNonRequests(t *testing.T) {
	ep := newTestEndpoint(t)

	// Response-flavored control message (Rq clear).
	payload := make([]byte, ctrl.HdrLen)
	h := ctrl.Header{Request: false, Cmd: ctrl.CmdGetEndpointID}
	require.NoError(t, h.Pack(payload))

	ma := newControlAction(t, ep, EIDNull, 0x01, payload)
	assert.Error(t, ep.ctrlHandler(ma))
	assert.Equal(t, 0, ep.tmq.Len())
	ep.Retire(ma)

	// Message not from the tag owner.
	ma = newControlAction(t, ep, EIDNull, 0x01, BuildGetEID(0))
	ma.Req.Owner = false
	assert.Error(t, ep.ctrlHandler(ma))
	assert.Equal(t, 0, ep.tmq.Len())
	ep.Retire(ma)
}

func TestControlUnservicedCommands(t *testing.T) {
	ep := newTestEndpoint(t)

	for _, cmd := range []ctrl.Command{
		ctrl.CmdGetVendorMessages, ctrl.CmdResolveEndpointID,
		ctrl.CmdRoutingInfoUpdate, ctrl.CmdQueryInterfaces,
	} {
		payload := make([]byte, ctrl.HdrLen)
		h := ctrl.Header{Request: true, Cmd: cmd}
		require.NoError(t, h.Pack(payload))

		ma := newControlAction(t, ep, EIDNull, 0x01, payload)
		assert.Error(t, ep.ctrlHandler(ma), "cmd=%s", cmd)
		assert.Equal(t, 0, ep.tmq.Len(), "no response for cmd=%s", cmd)
		ep.Retire(ma)
	}

	// Every pool object came back.
	assert.Equal(t, MessagePoolSize, ep.msgs.Available())
	assert.Equal(t, ActionPoolSize, ep.actions.Available())
}
