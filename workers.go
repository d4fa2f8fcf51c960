package mctp

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/JackrabbitLabs/mctp/internal/queue"
	"github.com/JackrabbitLabs/mctp/internal/wire"
)

// generation binds one connection's workers to that connection's queues
// and pools. Workers capture the generation at spawn, so a later configure
// swapping the endpoint's queue pointers cannot race them.
type generation struct {
	ep   *Endpoint
	id   string
	conn net.Conn

	pkts    *queue.Pool[*wire.Wrapper]
	msgs    *queue.Pool[*Message]
	actions *queue.Pool[*Action]

	rpq *queue.Queue[*wire.Wrapper]
	tpq *queue.Queue[*Action]
	rmq *queue.Queue[*Message]
	tmq *queue.Queue[*Action]
	taq *queue.Queue[*Action]
	acq *queue.Queue[*Action]

	stopCh chan struct{}
}

func (g *generation) stopping() bool {
	select {
	case <-g.stopCh:
		return true
	default:
		return false
	}
}

// exit is the shared tail of every worker: a worker that ends while the
// connection is still considered live exited abnormally and asks the
// orchestrator to tear the connection down.
func (g *generation) exit(worker string) {
	if !g.stopping() {
		g.ep.log.Debug("worker requesting stop", "conn", g.id, "worker", worker)
		g.ep.requestStop()
	}
}

// socketReader pulls packets off the stream: acquire a wrapper, read
// exactly one packet, stamp it, hand it to the receive packet queue. Any
// read error tears the connection down.
func (g *generation) socketReader() {
	defer g.exit("socket-reader")

	log := g.ep.log
	buf := make([]byte, wire.PktLen)

	for {
		pw, err := g.pkts.Acquire(true)
		if err != nil {
			return
		}

		if _, err := io.ReadFull(g.conn, buf); err != nil {
			_ = g.pkts.Release(pw)
			if !g.stopping() {
				log.Debug("socket read ended", "conn", g.id, "err", err)
			}
			return
		}

		pw.TS = time.Now()
		if err := pw.Pkt.Unpack(buf); err != nil {
			_ = g.pkts.Release(pw)
			return
		}
		g.ep.metrics.RxPackets.Add(1)

		if g.ep.cfg.Verbosity&VerbosePacket != 0 {
			log.Dump("rx packet", buf, "conn", g.id)
		}

		if err := g.rpq.Push(pw); err != nil {
			if errors.Is(err, queue.ErrClosed) {
				_ = g.pkts.Release(pw)
				return
			}
			// Receive queue full: count the drop and keep reading.
			g.ep.metrics.RxQueueDrops.Add(1)
			_ = g.pkts.Release(pw)
		}
	}
}

// packetReader reassembles messages. It holds one partial message per tag
// and a single expected-sequence counter shared across tags, mirroring the
// on-wire ordering of the stream.
func (g *generation) packetReader() {
	defer g.exit("packet-reader")

	m := g.ep.metrics
	var tags [NumTags]*Message
	var expectSeq uint8

	// Return any partial still held when the worker exits.
	defer func() {
		for i, mm := range tags {
			if mm != nil {
				_ = g.msgs.Release(mm)
				tags[i] = nil
			}
		}
	}()

	for {
		pw, err := g.rpq.Pop(true)
		if err != nil {
			return
		}

		hdr := pw.Pkt.Hdr
		accept := true

		if hdr.Ver != wire.HdrVersion {
			m.DroppedVersion.Add(1)
			accept = false
		}

		tag := hdr.Tag & (NumTags - 1)

		if accept && hdr.Seq != expectSeq {
			// A packet was lost. Cancel any partial for this tag and
			// resynchronize only on a start-of-message packet.
			if tags[tag] != nil {
				_ = g.msgs.Release(tags[tag])
				tags[tag] = nil
			}
			m.DroppedSeqnum.Add(1)
			if !hdr.SOM {
				accept = false
			} else {
				expectSeq = hdr.Seq
			}
		}

		if accept && tags[tag] != nil && tags[tag].Owner != hdr.Owner {
			// Tag owner flipped mid-message: the partial belongs to a
			// different exchange. Discard it and re-evaluate the packet
			// against an empty slot.
			_ = g.msgs.Release(tags[tag])
			tags[tag] = nil
			m.DroppedWrongOwner.Add(1)
		}

		if accept && hdr.SOM && tags[tag] != nil {
			// New message began before the old one ended: the EOM was
			// lost. Drop the partial and accept the new start.
			_ = g.msgs.Release(tags[tag])
			tags[tag] = nil
			m.DroppedNoEOM.Add(1)
		}

		if accept && !hdr.SOM && tags[tag] == nil {
			m.DroppedNoSOM.Add(1)
			accept = false
		}

		if accept {
			if hdr.SOM {
				mm, err := g.msgs.Acquire(true)
				if err != nil {
					_ = g.pkts.Release(pw)
					return
				}
				mm.Dst = hdr.Dest
				mm.Src = hdr.Src
				mm.Owner = hdr.Owner
				mm.Tag = tag
				mm.Type = pw.Pkt.Payload[0]
				mm.TS = pw.TS
				mm.Len = copy(mm.Payload[:], pw.Pkt.Payload[1:])
				tags[tag] = mm
			} else {
				mm := tags[tag]
				if mm.Len+wire.BTU > MaxMsgPayload {
					_ = g.msgs.Release(mm)
					tags[tag] = nil
					m.DroppedOverflow.Add(1)
					accept = false
				} else {
					copy(mm.Payload[mm.Len:], pw.Pkt.Payload[:])
					mm.Len += wire.BTU
				}
			}
		}

		if accept && hdr.EOM {
			mm := tags[tag]
			if g.ep.cfg.Verbosity&VerboseMessage != 0 {
				g.ep.log.Dump("rx message", mm.Body(),
					"conn", g.id, "type", MsgTypeName(mm.Type), "tag", mm.Tag)
			}
			if err := g.rmq.Push(mm); err != nil {
				_ = g.msgs.Release(mm)
				tags[tag] = nil
				_ = g.pkts.Release(pw)
				return
			}
			tags[tag] = nil
			m.RxMessages.Add(1)
		}

		// Every packet, accepted or dropped, advances the expected
		// sequence and returns its wrapper to the pool.
		expectSeq = (expectSeq + 1) % 4
		pw.Reset()
		_ = g.pkts.Release(pw)
	}
}

// messageHandler dispatches reassembled messages: inbound requests go to
// the per-type handler wrapped in a fresh action; responses are matched
// against the outbound tag table.
func (g *generation) messageHandler() {
	defer g.exit("message-handler")

	ep := g.ep
	for {
		mm, err := g.rmq.Pop(true)
		if err != nil {
			return
		}

		if mm.Owner {
			// Inbound request: wrap in an action and dispatch.
			ma, err := g.actions.Acquire(true)
			if err != nil {
				_ = g.msgs.Release(mm)
				return
			}
			ma.reset()
			ma.Req = mm
			ma.Created = mm.TS

			h := ep.handler(mm.Type)
			if h == nil {
				ep.log.Debug("no handler for message type",
					"conn", g.id, "type", MsgTypeName(mm.Type))
				ep.Retire(ma)
				continue
			}
			if err := h(ep, ma); err != nil {
				ep.log.Debug("handler dropped request",
					"conn", g.id, "type", MsgTypeName(mm.Type), "err", err)
				ep.Retire(ma)
			}
			continue
		}

		// Response: find the outstanding action for this tag.
		ep.tagsMu.Lock()
		ma := ep.tags[mm.Tag&(NumTags-1)]
		ep.tags[mm.Tag&(NumTags-1)] = nil
		ep.tagsMu.Unlock()

		if ma == nil {
			// Stray response with no outstanding request.
			_ = g.msgs.Release(mm)
			continue
		}

		ma.Rsp = mm
		ma.Completed = time.Now()
		ep.completeResponse(ma)
	}
}

// packetWriter fragments outgoing messages into packet chains. The chain
// hangs off the action so a transmit failure can return every wrapper.
func (g *generation) packetWriter() {
	defer g.exit("packet-writer")

	var seq uint8
	for {
		ma, err := g.tmq.Pop(true)
		if err != nil {
			return
		}

		// A response, when present, is what gets transmitted.
		mm := ma.Req
		if ma.Rsp != nil {
			mm = ma.Rsp
		}
		if mm == nil {
			// A late response retired this action between the retry
			// push and now; nothing left to send.
			continue
		}

		if g.ep.cfg.Verbosity&VerboseMessage != 0 {
			g.ep.log.Dump("tx message", mm.Body(),
				"conn", g.id, "type", MsgTypeName(mm.Type), "tag", mm.Tag)
		}
		g.ep.metrics.TxMessages.Add(1)

		// A retry re-fragments the message; wrappers from the previous
		// attempt have been sent and go back to the pool first.
		for _, w := range ma.pw {
			w.Reset()
			_ = g.pkts.Release(w)
		}
		ma.pw = ma.pw[:0]

		n := mm.PacketCount()
		for i := 0; i < n; i++ {
			pw, err := g.pkts.Acquire(true)
			if err != nil {
				return
			}

			pw.Pkt.Hdr = wire.Header{
				Ver:   wire.HdrVersion,
				Dest:  mm.Dst,
				Src:   mm.Src,
				Owner: mm.Owner,
				Tag:   mm.Tag,
				Seq:   seq,
				SOM:   i == 0,
				EOM:   i == n-1,
			}
			seq = (seq + 1) % 4

			if i == 0 {
				// The first payload byte of the SOM packet carries the
				// message type; the payload follows one byte shifted.
				pw.Pkt.Payload[0] = mm.Type
				copy(pw.Pkt.Payload[1:], mm.Payload[:wire.BTU-1])
			} else {
				copy(pw.Pkt.Payload[:], mm.Payload[i*wire.BTU-1:i*wire.BTU-1+wire.BTU])
			}

			ma.pw = append(ma.pw, pw)
			g.ep.metrics.TxPackets.Add(1)
		}

		if err := g.tpq.Push(ma); err != nil {
			return
		}
	}
}

// socketWriter sends each action's packet chain in order. Write failures
// fail the action and tear the connection down; locally generated
// responses complete here because no reply will arrive for them.
func (g *generation) socketWriter() {
	defer g.exit("socket-writer")

	buf := make([]byte, wire.PktLen)
	for {
		ma, err := g.tpq.Pop(true)
		if err != nil {
			return
		}

		sendErr := false
		for _, pw := range ma.pw {
			if err := pw.Pkt.Pack(buf); err != nil {
				sendErr = true
				break
			}
			if _, err := g.conn.Write(buf); err != nil {
				if !g.stopping() {
					g.ep.log.Debug("socket write ended", "conn", g.id, "err", err)
				}
				sendErr = true
				break
			}
			if g.ep.cfg.Verbosity&VerbosePacket != 0 {
				g.ep.log.Dump("tx packet", buf, "conn", g.id)
			}
		}

		if sendErr {
			ma.CompletionCode = 1
			_ = g.acq.Push(ma)
			return
		}

		ma.Completed = time.Now()

		// A message with a response attached is a locally generated
		// reply: nothing further will arrive, retire it via the
		// completion queue. Requests stay owned by the tag table.
		if ma.Rsp != nil {
			if err := g.acq.Push(ma); err != nil {
				return
			}
		}
	}
}

// submitter owns tag allocation. Each tick it retries or retires
// outstanding requests, then admits new submissions into free tag slots.
func (g *generation) submitter() {
	defer g.exit("submitter")

	ep := g.ep
	ticker := time.NewTicker(ep.cfg.SubmitTick)
	defer ticker.Stop()

	for {
		var failed, admitted []*Action

		ep.tagsMu.Lock()
		now := time.Now()

		// Pass 1: retry or retire outstanding requests.
		for i, ma := range ep.tags {
			if ma == nil {
				continue
			}
			if now.Sub(ma.Submitted) < ep.cfg.RetryInterval {
				continue
			}
			if ma.Max >= 0 && ma.Num >= ma.Max {
				ep.tags[i] = nil
				failed = append(failed, ma)
				continue
			}
			ma.Num++
			ma.Submitted = now
			ep.metrics.Retries.Add(1)
			if err := g.tmq.Push(ma); err != nil {
				if errors.Is(err, queue.ErrClosed) {
					ep.tagsMu.Unlock()
					return
				}
				// Transmit queue full: leave the action in its slot.
				// The attempt still counts, and the next one comes
				// after another retry interval.
			}
		}

		// Pass 2: admit queued submissions into free slots.
		for i := range ep.tags {
			if ep.tags[i] != nil {
				continue
			}
			ma, err := g.taq.Pop(false)
			if err != nil {
				if errors.Is(err, queue.ErrClosed) {
					ep.tagsMu.Unlock()
					return
				}
				break
			}
			ma.Num = 1
			ma.Submitted = now
			ma.Req.Tag = uint8(i)
			ep.tags[i] = ma
			ep.metrics.SubmittedActions.Add(1)
			if err := g.tmq.Push(ma); err != nil {
				if errors.Is(err, queue.ErrClosed) {
					ep.tagsMu.Unlock()
					return
				}
			}
			admitted = append(admitted, ma)
		}
		ep.tagsMu.Unlock()

		for _, ma := range failed {
			ep.fail(ma)
		}
		for _, ma := range admitted {
			if ma.OnSubmitted != nil {
				ma.OnSubmitted(ep, ma)
			}
		}

		select {
		case <-ticker.C:
		case <-ep.submitWake:
		case <-g.stopCh:
			return
		}
	}
}

// completer retires actions that reached a terminal state through the
// completion queue.
func (g *generation) completer() {
	defer g.exit("completer")

	ep := g.ep
	for {
		ma, err := g.acq.Pop(true)
		if err != nil {
			return
		}

		ma.Completed = time.Now()
		if ma.CompletionCode != 0 {
			ep.fail(ma)
		} else {
			ep.completeLocal(ma)
		}
	}
}
