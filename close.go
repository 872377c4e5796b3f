package a314mux

// closeSocket implements close_socket(s, send_reset) from §4.6: it
// completes and clears any pending request, frees the receive queue,
// removes s from the send queue, and marks it CLOSED. If send_reset is
// set it either emits the RESET frame immediately (when nothing else
// is queued and there is room) or defers it behind
// flagShouldSendReset, per I2/I3 -- a socket may not be deleted until
// any owed RESET frame is actually in the ring.
func (e *Engine) closeSocket(s *Socket, sendReset bool) {
	if s.isClosed() {
		return // idempotent: a socket may be closed from more than one call site
	}

	e.completePending(s)
	s.dropReceived()
	e.sendQ.remove(s)
	s.flags |= flagClosed

	if !sendReset {
		e.sockets.delete(s)
		return
	}

	if e.sendQ.empty() && e.com.A2R.roomFor(0) {
		e.com.A2R.append(ptReset, s.streamID, nil)
		e.com.Remote.publish(EdgeA2RTail)
		e.sockets.delete(s)
		return
	}

	s.flags |= flagShouldSendReset
	s.sendQueueRequiredLength = 0
	e.sendQ.push(s)
}
