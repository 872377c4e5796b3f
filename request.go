package a314mux

// Command identifies which of the five client operations a Request
// represents (§6 client request ABI).
type Command int

const (
	CmdConnect Command = iota
	CmdRead
	CmdWrite
	CmdEOS
	CmdReset
)

func (c Command) String() string {
	switch c {
	case CmdConnect:
		return "CONNECT"
	case CmdRead:
		return "READ"
	case CmdWrite:
		return "WRITE"
	case CmdEOS:
		return "EOS"
	case CmdReset:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}

// Request is one client request message: command, addressing, and a
// buffer whose meaning depends on the command (input capacity for
// READ, payload for everything else that carries one).
type Request struct {
	Command   Command
	OwnerTask uint32
	SocketID  uint32 // locally unique together with OwnerTask
	Buffer    []byte // service name (CONNECT), payload (WRITE), destination (READ, sized by len(Buffer))

	reply chan Reply
}

// Reply is the completion of a Request: a reply code plus, for READ,
// how many bytes were placed into Buffer, and for WRITE, how many
// bytes were sent (the ABI's a314_Length field).
type Reply struct {
	Code   ReplyCode
	Length int
}

func (e *Engine) handleRequest(req *Request) {
	switch req.Command {
	case CmdConnect:
		e.handleConnect(req)
	case CmdRead:
		e.handleRead(req)
	case CmdWrite:
		e.handleWrite(req)
	case CmdEOS:
		e.handleEOS(req)
	case CmdReset:
		e.handleReset(req)
	default:
		e.complete(req, Reply{Code: NoCmd})
	}
}

func (e *Engine) complete(req *Request, rep Reply) {
	if req == nil || req.reply == nil {
		return
	}
	select {
	case req.reply <- rep:
	default:
		// Already replied; P4 requires exactly one reply and every
		// call site is written to honor that, so this would indicate
		// a bug upstream rather than a legitimate race.
		e.log.Error("a314mux: attempted to reply to a request twice")
	}
}

// handleConnect implements §4.5 CONNECT.
func (e *Engine) handleConnect(req *Request) {
	key := socketKey{ownerTask: req.OwnerTask, localID: req.SocketID}
	if _, exists := e.sockets.findByKey(key); exists {
		e.complete(req, Reply{Code: ConnectSocketInUse})
		return
	}
	if len(req.Buffer)+headerSize > 255 {
		e.complete(req, Reply{Code: ConnectReset})
		return
	}

	s, err := e.sockets.create(key)
	if err != nil {
		e.log.WithError(err).Warn("a314mux: connect failed to allocate a stream id")
		e.complete(req, Reply{Code: ConnectReset})
		return
	}

	s.pendingConnect = req
	e.tryDirectOrEnqueue(s, len(req.Buffer))
}

// handleRead implements §4.5 READ.
func (e *Engine) handleRead(req *Request) {
	key := socketKey{ownerTask: req.OwnerTask, localID: req.SocketID}
	s, ok := e.sockets.findByKey(key)
	if !ok || s.isClosed() {
		e.complete(req, Reply{Code: ReadReset})
		return
	}
	if s.pendingConnect != nil || s.pendingRead != nil {
		e.complete(req, Reply{Code: ReadReset})
		e.closeSocket(s, true)
		return
	}

	if payload, ok := s.popReceived(); ok {
		if len(payload) > len(req.Buffer) {
			e.complete(req, Reply{Code: ReadReset})
			e.closeSocket(s, true)
			return
		}
		n := copy(req.Buffer, payload)
		defaultAllocator.put(payload)
		e.complete(req, Reply{Code: ReadOK, Length: n})
		return
	}

	if s.flags.has(flagRcvdEOSFromPeer) {
		e.complete(req, Reply{Code: ReadEOS})
		s.flags |= flagSentEOSToClient
		if s.flags.has(flagSentEOSToPeer) {
			e.closeSocket(s, false)
		}
		return
	}

	s.pendingRead = req
}

// handleWrite implements §4.5 WRITE.
func (e *Engine) handleWrite(req *Request) {
	key := socketKey{ownerTask: req.OwnerTask, localID: req.SocketID}
	s, ok := e.sockets.findByKey(key)
	if !ok || s.isClosed() {
		e.complete(req, Reply{Code: WriteReset})
		return
	}
	if s.pendingConnect != nil || s.pendingWrite != nil || s.flags.has(flagRcvdEOSFromClient) {
		e.complete(req, Reply{Code: WriteReset})
		return
	}
	if len(req.Buffer)+headerSize > 255 {
		e.complete(req, Reply{Code: WriteReset})
		return
	}

	s.pendingWrite = req
	s.writeKind = writeKindData
	e.tryDirectOrEnqueue(s, len(req.Buffer))
}

// handleEOS implements §4.5 EOS (client half-close).
func (e *Engine) handleEOS(req *Request) {
	key := socketKey{ownerTask: req.OwnerTask, localID: req.SocketID}
	s, ok := e.sockets.findByKey(key)
	if !ok || s.isClosed() {
		e.complete(req, Reply{Code: EOSReset})
		return
	}
	if s.pendingConnect != nil || s.pendingWrite != nil || s.flags.has(flagRcvdEOSFromClient) {
		e.complete(req, Reply{Code: EOSReset})
		e.closeSocket(s, true)
		return
	}

	s.flags |= flagRcvdEOSFromClient
	s.pendingWrite = req
	s.writeKind = writeKindEOS
	e.tryDirectOrEnqueue(s, 0)
}

// handleReset implements §4.5 RESET.
func (e *Engine) handleReset(req *Request) {
	key := socketKey{ownerTask: req.OwnerTask, localID: req.SocketID}
	if s, ok := e.sockets.findByKey(key); ok && !s.isClosed() {
		e.closeSocket(s, true)
	}
	e.complete(req, Reply{Code: ResetOK})
}

// completePending replies and clears whichever of the three pending
// request slots are occupied, each with its *_RESET code, as required
// by close_socket (§4.6).
func (e *Engine) completePending(s *Socket) {
	if s.pendingConnect != nil {
		e.complete(s.pendingConnect, Reply{Code: ConnectReset})
		s.pendingConnect = nil
	}
	if s.pendingRead != nil {
		e.complete(s.pendingRead, Reply{Code: ReadReset})
		s.pendingRead = nil
	}
	if s.pendingWrite != nil {
		code := WriteReset
		if s.writeKind == writeKindEOS {
			code = EOSReset
		}
		e.complete(s.pendingWrite, Reply{Code: code})
		s.pendingWrite = nil
	}
}
