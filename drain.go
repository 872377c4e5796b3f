package a314mux

// tryDirectOrEnqueue attempts to append the socket's head-of-line
// frame straight to a2r when the send queue is empty and there is
// room; otherwise it stashes the required length and joins the send
// queue, to be picked up by drainOutbound once space frees up (§4.5).
func (e *Engine) tryDirectOrEnqueue(s *Socket, payloadLen int) {
	if e.sendQ.empty() && e.com.A2R.roomFor(payloadLen) {
		e.emitOne(s)
		return
	}
	s.sendQueueRequiredLength = payloadLen
	e.sendQ.push(s)
}

// drainOutbound implements handle_room_in_a2r (§4.4): while the send
// queue is non-empty and the head socket's frame fits, pop and emit
// it. This is intentionally head-of-line blocking (I6): a socket
// further back is never considered while the front one is stuck.
func (e *Engine) drainOutbound() {
	for {
		front := e.sendQ.front()
		if front == nil {
			return
		}
		if !e.com.A2R.roomFor(front.sendQueueRequiredLength) {
			return
		}
		e.sendQ.remove(front)
		e.emitOne(front)
	}
}

// emitOne appends exactly one frame for s, chosen by priority:
// pending_connect, then pending_write (DATA or EOS), then a trailing
// RESET. It is used both for the direct-append fast path and for
// drainOutbound.
func (e *Engine) emitOne(s *Socket) {
	switch {
	case s.pendingConnect != nil:
		// CONNECT is not completed here: the request stays pending
		// until a CONNECT_RESPONSE arrives from the peer (§4.3). This
		// call only gets the CONNECT frame onto the wire.
		e.com.A2R.append(ptConnect, s.streamID, s.pendingConnect.Buffer)
		e.com.Remote.publish(EdgeA2RTail)

	case s.pendingWrite != nil && s.writeKind == writeKindData:
		req := s.pendingWrite
		e.com.A2R.append(ptData, s.streamID, req.Buffer)
		e.com.Remote.publish(EdgeA2RTail)
		s.pendingWrite = nil
		e.complete(req, Reply{Code: WriteOK, Length: len(req.Buffer)})

	case s.pendingWrite != nil && s.writeKind == writeKindEOS:
		req := s.pendingWrite
		e.com.A2R.append(ptEOS, s.streamID, nil)
		e.com.Remote.publish(EdgeA2RTail)
		s.pendingWrite = nil
		s.flags |= flagSentEOSToPeer
		e.complete(req, Reply{Code: EOSOK})
		if s.flags.has(flagSentEOSToClient) {
			e.closeSocket(s, false)
		}

	case s.flags.has(flagShouldSendReset):
		e.com.A2R.append(ptReset, s.streamID, nil)
		e.com.Remote.publish(EdgeA2RTail)
		e.sockets.delete(s)

	default:
		// Fatal invariant violation (§4.4, §7): this socket should
		// never have been in the send queue with nothing to emit. The
		// offending stream is reset, as for other fatal violations.
		e.log.WithField("stream_id", s.streamID).Error("a314mux: invariant violation: send-queue socket has nothing to send")
		e.closeSocket(s, true)
	}
}
