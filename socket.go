package a314mux

import "container/list"

// socketFlags are the independent bits of Socket.flags (§3).
type socketFlags uint8

const (
	flagClosed socketFlags = 1 << iota
	flagRcvdEOSFromPeer
	flagSentEOSToPeer
	flagSentEOSToClient
	flagRcvdEOSFromClient
	flagShouldSendReset
)

func (f socketFlags) has(bit socketFlags) bool { return f&bit != 0 }

// writeKind distinguishes the two things a pendingWrite request can
// represent: an actual WRITE, or an EOS stashed as a deferred send
// (§4.5 EOS, when the frame cannot be appended directly).
type writeKind int

const (
	writeKindData writeKind = iota
	writeKindEOS
)

// socketKey is the client-facing identity of a socket: locally unique,
// chosen by whichever task owns it.
type socketKey struct {
	ownerTask uint32
	localID   uint32
}

// Socket is one multiplexed stream's full state, as described in §3.
type Socket struct {
	streamID byte
	owner    socketKey

	flags socketFlags

	pendingConnect *Request
	pendingRead    *Request
	pendingWrite   *Request
	writeKind      writeKind // meaningful only while pendingWrite != nil

	rq [][]byte // FIFO of payloads received but not yet read by a client

	sendQueueRequiredLength int           // bytes needed in a2r before this socket's head-of-line frame fits
	queueElem               *list.Element // this socket's node in the engine's send queue, nil if not queued
}

func newSocket(streamID byte, owner socketKey) *Socket {
	return &Socket{streamID: streamID, owner: owner}
}

func (s *Socket) isClosed() bool { return s.flags.has(flagClosed) }

func (s *Socket) inSendQueue() bool { return s.queueElem != nil }

func (s *Socket) enqueueReceived(payload []byte) {
	s.rq = append(s.rq, payload)
}

func (s *Socket) popReceived() ([]byte, bool) {
	if len(s.rq) == 0 {
		return nil, false
	}
	head := s.rq[0]
	s.rq = s.rq[1:]
	return head, true
}

// dropReceived frees all queued receive data, as required on close
// (I2, B4).
func (s *Socket) dropReceived() {
	for _, buf := range s.rq {
		defaultAllocator.put(buf)
	}
	s.rq = nil
}
