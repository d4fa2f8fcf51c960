package mctp

import (
	"time"

	"github.com/JackrabbitLabs/mctp/internal/wire"
)

// Handler services a message of one MCTP type. For an inbound request the
// handler owns action.Req; it is expected to produce action.Rsp from the
// message pool and hand the action to the transmit path via
// Endpoint.Respond. A handler that returns a non-nil error relinquishes
// the action; the transport retires it and the request is dropped.
type Handler func(ep *Endpoint, a *Action) error

// Callback observes an action lifecycle event. Completion and failure
// callbacks take ownership of the action and must end its life with
// Endpoint.Retire.
type Callback func(ep *Endpoint, a *Action)

// Action tracks one request/response exchange from submission through
// transmission, reply, and retirement. An outbound request keeps its
// outbound tag slot from admission until its reply or failure, and passes
// through the transmit queues while it holds that slot; apart from that an
// action sits in at most one queue at a time. Retirement ends its life
// exactly once.
type Action struct {
	// Req is the request message. For outbound actions it is filled by
	// Submit; for inbound ones by the message handler.
	Req *Message

	// Rsp is the response message. It stays nil until a reply arrives
	// or a handler generates one locally.
	Rsp *Message

	// pw is the chain of packets fragmented from the outgoing message.
	// The wrappers remain pool-owned but the chain is this action's
	// exclusive extent between the packet writer and retirement.
	pw []*wire.Wrapper

	Created   time.Time // when the action was created
	Submitted time.Time // last transmission attempt
	Completed time.Time // when the exchange finished

	// Num counts transmission attempts; Max bounds them. Max < 0 means
	// retry forever.
	Num int
	Max int

	// CompletionCode is 0 on success, non-zero on failure.
	CompletionCode int

	// UserData rides along with the action until completion.
	UserData any

	// Lifecycle callbacks, all optional. OnCompleted and OnFailed are
	// mutually exclusive per action.
	OnSubmitted Callback
	OnCompleted Callback
	OnFailed    Callback

	// done is the single-shot completion signal for synchronous
	// submits. The terminal path sends the action exactly once; the
	// receiver owns it afterwards.
	done chan *Action
}

// reset clears the action for return to its pool.
func (a *Action) reset() {
	*a = Action{}
}

// Retire ends an action's life: the request, response, and every packet in
// the transmit chain return to their pools and the zeroed action returns
// to the action pool. Retiring twice is a caller bug; the first retirement
// transfers ownership away.
func (ep *Endpoint) Retire(a *Action) {
	ep.qmu.RLock()
	msgs, pkts, actions := ep.msgs, ep.pkts, ep.actions
	ep.qmu.RUnlock()

	if a.Req != nil {
		_ = msgs.Release(a.Req)
	}
	if a.Rsp != nil {
		_ = msgs.Release(a.Rsp)
	}
	for _, w := range a.pw {
		w.Reset()
		_ = pkts.Release(w)
	}
	a.reset()
	_ = actions.Release(a)
}

// completeResponse runs the success path for an outbound action whose
// reply just arrived. Priority order: synchronous waiter, completion
// callback, then the registered handler for the response type; with none
// of those the action is retired.
func (ep *Endpoint) completeResponse(a *Action) {
	ep.metrics.CompletedActions.Add(1)
	ep.metrics.SuccessfulActions.Add(1)

	if a.done != nil {
		a.done <- a
		return
	}
	if a.OnCompleted != nil {
		a.OnCompleted(ep, a)
		return
	}
	if a.Rsp != nil {
		if h := ep.handler(a.Rsp.Type); h != nil {
			if err := h(ep, a); err != nil {
				ep.Retire(a)
			}
			return
		}
	}
	ep.Retire(a)
}

// completeLocal runs the success path for an action whose transmission
// finished with no reply expected (a locally generated response). The
// type handler is deliberately not consulted here: the action's Req is an
// inbound request that has already been handled.
func (ep *Endpoint) completeLocal(a *Action) {
	ep.metrics.CompletedActions.Add(1)
	ep.metrics.SuccessfulActions.Add(1)

	if a.done != nil {
		a.done <- a
		return
	}
	if a.OnCompleted != nil {
		a.OnCompleted(ep, a)
		return
	}
	ep.Retire(a)
}

// fail runs the failure path: transmission error or retry exhaustion. The
// synchronous waiter, if any, receives the action with a non-zero
// completion code; otherwise the failure callback or default retirement
// ends its life.
func (ep *Endpoint) fail(a *Action) {
	ep.metrics.CompletedActions.Add(1)
	ep.metrics.FailedActions.Add(1)

	if a.CompletionCode == 0 {
		a.CompletionCode = 1
	}
	if a.done != nil {
		a.done <- a
		return
	}
	if a.OnFailed != nil {
		a.OnFailed(ep, a)
		return
	}
	ep.Retire(a)
}
