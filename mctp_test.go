package mctp

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JackrabbitLabs/mctp/internal/ctrl"
)

const testTimeout = 5 * time.Second

func startServer(t *testing.T) *Endpoint {
	t.Helper()
	cfg := Config{
		Mode:             ModeServer,
		BindAddress:      "127.0.0.1",
		Port:             0,
		NonBlockingStart: true,
	}
	ep, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, ep.Run())
	t.Cleanup(func() { ep.Stop() })
	return ep
}

func startClient(t *testing.T, server *Endpoint, mutate func(*Config)) *Endpoint {
	t.Helper()
	cfg := Config{
		Mode:             ModeClient,
		BindAddress:      "127.0.0.1",
		Port:             server.Port(),
		NonBlockingStart: true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ep, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, ep.Run())
	t.Cleanup(func() { ep.Stop() })
	return ep
}

func TestEndToEndSetEndpointID(t *testing.T) {
	server := startServer(t)
	client := startClient(t, server, nil)

	// S1: assign the server EID 0x02.
	a, err := client.Submit(MsgTypeControl, EIDNull, BuildSetEID(0, 0x02),
		&SubmitOptions{Timeout: testTimeout})
	require.NoError(t, err)
	require.NotNil(t, a.Rsp)

	var resp ctrl.SetEIDResp
	require.NoError(t, resp.Unpack(a.Rsp.Body()[ctrl.HdrLen:]))
	assert.Equal(t, ctrl.CCSuccess, resp.CC)
	assert.Equal(t, uint8(ctrl.SetEIDAccepted), resp.Assignment)
	assert.Equal(t, uint8(0x02), resp.EID)
	client.Retire(a)

	assert.Equal(t, uint8(0x02), server.EID())

	// S2: a Reset operation is rejected and the EID stays put.
	var req ctrl.SetEIDReq
	req.Op = ctrl.SetEIDReset
	req.EID = 0x07
	body := make([]byte, ctrl.SetEIDReqLen)
	require.NoError(t, req.Pack(body))
	h := ctrl.Header{Request: true, Cmd: ctrl.CmdSetEndpointID}
	payload := make([]byte, ctrl.HdrLen+len(body))
	require.NoError(t, h.Pack(payload))
	copy(payload[ctrl.HdrLen:], body)

	a, err = client.Submit(MsgTypeControl, 0x02, payload,
		&SubmitOptions{Timeout: testTimeout})
	require.NoError(t, err)
	require.NoError(t, resp.Unpack(a.Rsp.Body()[ctrl.HdrLen:]))
	assert.Equal(t, ctrl.CCInvalidData, resp.CC)
	assert.Equal(t, uint8(ctrl.SetEIDRejected), resp.Assignment)
	client.Retire(a)

	assert.Equal(t, uint8(0x02), server.EID())
}

func TestEndToEndVersionSupport(t *testing.T) {
	server := startServer(t)
	client := startClient(t, server, nil)

	// S3: the registry holds only F1.F3.F1 for the base specification.
	a, err := client.Submit(MsgTypeControl, EIDNull, BuildGetVersionSupport(0, MsgTypeBase),
		&SubmitOptions{Timeout: testTimeout})
	require.NoError(t, err)

	var resp ctrl.GetVerResp
	require.NoError(t, resp.Unpack(a.Rsp.Body()[ctrl.HdrLen:]))
	assert.Equal(t, ctrl.CCSuccess, resp.CC)
	require.Len(t, resp.Versions, 1)
	assert.Equal(t, uint8(0xF1), resp.Versions[0].Major)
	assert.Equal(t, uint8(0xF3), resp.Versions[0].Minor)
	assert.Equal(t, uint8(0xF1), resp.Versions[0].Update)
	client.Retire(a)

	_ = server
}

func TestEndToEndMultiPacketMessage(t *testing.T) {
	server := startServer(t)

	// Echo handler: the response body mirrors the request body.
	server.SetHandler(MsgTypeCXLFMAPI, func(ep *Endpoint, a *Action) error {
		rsp, err := ep.AcquireMessage()
		if err != nil {
			return err
		}
		rsp.SetHeader(a.Req.Src, a.Req.Dst, false, a.Req.Tag)
		rsp.Type = a.Req.Type
		rsp.Len = copy(rsp.Payload[:], a.Req.Body())
		a.Rsp = rsp
		return ep.Respond(a)
	})

	client := startClient(t, server, nil)

	// S4: a 130-byte FM API message crosses in three packets and comes
	// back intact.
	payload := make([]byte, 130)
	for i := range payload {
		payload[i] = byte(255 - i)
	}

	a, err := client.Submit(MsgTypeCXLFMAPI, 0x02, payload,
		&SubmitOptions{Timeout: testTimeout})
	require.NoError(t, err)
	require.NotNil(t, a.Rsp)
	assert.Equal(t, MsgTypeCXLFMAPI, a.Rsp.Type)
	assert.Equal(t, payload, a.Rsp.Body()[:len(payload)])
	client.Retire(a)
}

func TestEndToEndRetryExhaustion(t *testing.T) {
	server := startServer(t)
	// No handler for SPDM on the server: requests are discarded.

	client := startClient(t, server, func(c *Config) {
		c.RetryInterval = 25 * time.Millisecond
	})

	failed := make(chan *Action, 1)
	_, err := client.Submit(MsgTypeSPDM, EIDNull, []byte{1, 2, 3, 4}, &SubmitOptions{
		Retry: 3,
		OnFailed: func(ep *Endpoint, a *Action) {
			failed <- a
		},
	})
	require.NoError(t, err)

	select {
	case a := <-failed:
		assert.Equal(t, 3, a.Num, "three transmission attempts")
		assert.NotZero(t, a.CompletionCode)
		client.Retire(a)
	case <-time.After(testTimeout):
		t.Fatal("request never failed")
	}
	assert.Equal(t, uint64(1), client.Metrics().FailedActions.Load())
	_ = server
}

func TestEndToEndSynchronousTimeout(t *testing.T) {
	server := startServer(t)
	client := startClient(t, server, func(c *Config) {
		c.RetryInterval = 20 * time.Millisecond
	})

	// SPDM is unhandled on the server; the synchronous wait times out
	// before the retries run dry.
	_, err := client.Submit(MsgTypeSPDM, EIDNull, []byte{9, 9}, &SubmitOptions{
		Retry:   -1,
		Timeout: 100 * time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)

	// The client pipeline survives a timed-out request.
	a, err := client.Submit(MsgTypeControl, EIDNull, BuildGetEID(0),
		&SubmitOptions{Timeout: testTimeout})
	require.NoError(t, err)
	client.Retire(a)
}

func TestServerReacceptsAfterClientDrop(t *testing.T) {
	server := startServer(t)

	first := startClient(t, server, nil)
	a, err := first.Submit(MsgTypeControl, EIDNull, BuildSetEID(0, 0x02),
		&SubmitOptions{Timeout: testTimeout})
	require.NoError(t, err)
	first.Retire(a)
	require.NoError(t, first.Stop())

	// The server loops back into accept and keeps its assigned EID.
	second := startClient(t, server, nil)
	a, err = second.Submit(MsgTypeControl, 0x02, BuildGetEID(0),
		&SubmitOptions{Timeout: testTimeout})
	require.NoError(t, err)

	var resp ctrl.GetEIDResp
	require.NoError(t, resp.Unpack(a.Rsp.Body()[ctrl.HdrLen:]))
	assert.Equal(t, uint8(0x02), resp.EID, "EID survives reconnects")
	second.Retire(a)

	assert.GreaterOrEqual(t, server.Metrics().Connections.Load(), uint64(2))
}

func TestSubmitValidation(t *testing.T) {
	server := startServer(t)
	client := startClient(t, server, nil)

	_, err := client.Submit(MsgTypeControl, EIDNull, nil, nil)
	assert.True(t, IsCode(err, ErrCodeInvalidParams))

	big := make([]byte, MaxMsgPayload)
	_, err = client.Submit(MsgTypeCXLFMAPI, EIDNull, big, nil)
	assert.True(t, IsCode(err, ErrCodeInvalidParams))
}

func TestSubmitAfterStop(t *testing.T) {
	server := startServer(t)
	client := startClient(t, server, nil)
	require.NoError(t, client.Stop())

	_, err := client.Submit(MsgTypeControl, EIDNull, BuildGetEID(0), nil)
	assert.True(t, errors.Is(err, ErrStopped), "got %v", err)
}
