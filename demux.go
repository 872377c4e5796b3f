package a314mux

// demuxInbound implements handle_packets_received_r2a (§4.3): drains
// every fully-framed record currently sitting in r2a and dispatches it
// to the addressed socket.
func (e *Engine) demuxInbound() {
	for e.com.R2A.used() > 0 {
		hdr := e.com.R2A.peekHeader()
		payload := e.com.R2A.peekPayload(hdr.length)
		e.com.R2A.consume(headerSize + int(hdr.length))
		// Consuming r2a frees room for whatever writes it on the other
		// end; tell it.
		e.com.Remote.publish(EdgeR2AHead)

		e.dispatchInbound(hdr.typ, hdr.sid, payload)
	}
}

func (e *Engine) dispatchInbound(typ PacketType, sid byte, payload []byte) {
	if typ == ptReset {
		if s, ok := e.sockets.findByStreamID(sid); ok {
			e.closeSocket(s, false)
		}
		return
	}

	s, ok := e.sockets.findByStreamID(sid)
	if !ok || s.isClosed() {
		// Only CONNECT could create a socket on first sight, and
		// inbound CONNECT is unimplemented by this engine (§4.3) --
		// the remote side exposing named services is out of scope
		// here. Anything else addressed to an unknown/closed stream
		// is simply stale and ignored.
		return
	}

	switch typ {
	case ptConnectResponse:
		e.handleConnectResponse(s, payload)
	case ptData:
		e.handleDataFrame(s, payload)
	case ptEOS:
		e.handleEOSFrame(s)
	default:
		e.log.WithField("type", typ.String()).Warn("a314mux: unexpected frame type from peer")
	}
}

func (e *Engine) handleConnectResponse(s *Socket, payload []byte) {
	if s.pendingConnect == nil || len(payload) != 1 {
		// Fatal invariant violation (§7, §9): resets the offending
		// stream rather than leaving a half-protocol-violating stream
		// alive to wedge both peers indefinitely.
		e.log.WithField("stream_id", s.streamID).Error("a314mux: CONNECT_RESPONSE without a matching pending connect")
		e.closeSocket(s, true)
		return
	}

	req := s.pendingConnect
	s.pendingConnect = nil
	if payload[0] == 0 {
		e.complete(req, Reply{Code: ConnectOK})
		return
	}
	e.complete(req, Reply{Code: ConnectUnknownService})
	e.closeSocket(s, false)
}

func (e *Engine) handleDataFrame(s *Socket, payload []byte) {
	if s.pendingRead != nil {
		req := s.pendingRead
		if len(payload) > len(req.Buffer) {
			s.pendingRead = nil
			e.complete(req, Reply{Code: ReadReset})
			e.closeSocket(s, true)
			return
		}
		n := copy(req.Buffer, payload)
		s.pendingRead = nil
		e.complete(req, Reply{Code: ReadOK, Length: n})
		return
	}

	buf := defaultAllocator.get(len(payload))
	copy(buf, payload)
	s.enqueueReceived(buf)
}

func (e *Engine) handleEOSFrame(s *Socket) {
	if s.pendingRead != nil {
		req := s.pendingRead
		s.pendingRead = nil
		e.complete(req, Reply{Code: ReadEOS})
		s.flags |= flagSentEOSToClient
		if s.flags.has(flagSentEOSToPeer) {
			e.closeSocket(s, false)
		}
		return
	}
	s.flags |= flagRcvdEOSFromPeer
}
