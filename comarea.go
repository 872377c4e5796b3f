package a314mux

import "sync/atomic"

// EdgeSet is a bitmask of peer-signalling edges, mirroring the wire
// "events"/"enable" register file described by the protocol: writing to
// events publishes edges to the other side, writing to enable arms
// which published edges should wake this side.
type EdgeSet uint32

const (
	EdgeA2RTail EdgeSet = 1 << iota // local wrote a2r (peer should notice)
	EdgeA2RHead                     // peer consumed a2r (local's writer should notice room)
	EdgeR2ATail                     // peer wrote r2a (local should notice)
	EdgeR2AHead                     // local consumed r2a (peer's writer should notice room)
)

// ring is one direction of the ComArea: a 256-byte SPSC byte ring with
// free-running 8-bit head/tail counters. head is advanced only by the
// reader, tail only by the writer; both are stored as atomics so the
// race detector accepts genuine concurrent access from the two sides
// standing in for independent processes sharing memory.
type ring struct {
	buf  [256]byte
	head atomic.Uint32 // logical value is byte(head.Load())
	tail atomic.Uint32
}

func (r *ring) used() int {
	return int(byte(r.tail.Load() - r.head.Load()))
}

// roomFor reports whether a frame carrying payloadLen bytes fits
// without exceeding the 255-byte usable capacity (one slot reserved so
// full and empty remain distinguishable).
func (r *ring) roomFor(payloadLen int) bool {
	return r.used()+headerSize+payloadLen <= 255
}

// append writes one frame and advances tail. Callers must have already
// checked roomFor; append itself never blocks and never partially
// writes.
func (r *ring) append(typ PacketType, sid byte, payload []byte) {
	tail := byte(r.tail.Load())
	r.buf[tail] = byte(len(payload))
	r.buf[tail+1] = byte(typ)
	r.buf[tail+2] = sid
	for i, b := range payload {
		r.buf[byte(int(tail)+headerSize+i)] = b
	}
	r.tail.Store(uint32(byte(int(tail) + headerSize + len(payload))))
}

// peekHeader decodes the frame header at head without consuming it.
func (r *ring) peekHeader() frameHeader {
	head := byte(r.head.Load())
	return frameHeader{
		length: r.buf[head],
		typ:    PacketType(r.buf[head+1]),
		sid:    r.buf[head+2],
	}
}

// peekPayload copies out length bytes immediately following the header
// at head, without consuming anything.
func (r *ring) peekPayload(length byte) []byte {
	head := byte(r.head.Load())
	out := make([]byte, length)
	for i := range out {
		out[i] = r.buf[byte(int(head)+headerSize+int(i))]
	}
	return out
}

// consume advances head by n bytes (header + payload of the frame just
// read).
func (r *ring) consume(n int) {
	r.head.Store(uint32(byte(int(r.head.Load()) + n)))
}

// signaler is one side's view of the peer-signalling register file: a
// pending-edges register ("events") and an armed-edges register
// ("enable"), gated by a mutex so arming and publication are atomic
// with respect to each other -- the Go stand-in for briefly disabling
// the peer interrupt source.
type signaler struct {
	gate    chan struct{} // 1-buffered mutex; see lock/unlock below
	enable  EdgeSet
	pending EdgeSet
	wake    chan struct{} // 1-buffered; closed-over by the owning engine's select loop
}

func newSignaler() *signaler {
	s := &signaler{
		gate: make(chan struct{}, 1),
		wake: make(chan struct{}, 1),
	}
	s.gate <- struct{}{}
	return s
}

func (s *signaler) lock()   { <-s.gate }
func (s *signaler) unlock() { s.gate <- struct{}{} }

// arm ORs edges into the enable register. If any newly-armed edge is
// already pending, the owner is woken immediately rather than waiting
// for the next publish -- this closes the race window the gate exists
// to prevent (an edge published between "drain finished" and "arm"
// must not be lost). The matched edges are consumed out of pending so
// a once-fired edge doesn't keep re-firing on every later arm of the
// same edge.
func (s *signaler) arm(edges EdgeSet) {
	s.lock()
	s.enable |= edges
	fired := s.pending & edges
	if fired != 0 {
		s.pending &^= fired
	}
	s.unlock()
	if fired != 0 {
		s.notify()
	}
}

// disableAll clears the enable register and returns its previous
// value.
func (s *signaler) disableAll() EdgeSet {
	s.lock()
	e := s.enable
	s.enable = 0
	s.unlock()
	return e
}

// publish ORs edges into the pending register (as the peer side would
// by writing the shared events address) and wakes the owner if any of
// the newly-pending edges are currently armed. Only the edges that
// actually fired are disarmed (one-shot, matching edge-triggered
// interrupts -- the owner must re-arm after handling them); edges
// armed for an unrelated condition are left alone so two independent
// waiters sharing one signaler don't disarm each other.
func (s *signaler) publish(edges EdgeSet) {
	s.lock()
	s.pending |= edges
	fired := edges & s.enable
	if fired != 0 {
		s.enable &^= fired
	}
	s.unlock()
	if fired != 0 {
		s.notify()
	}
}

func (s *signaler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// ComArea is the shared-memory mailbox: two independent rings plus the
// signalling registers each side uses to wake the other. Local is the
// signalling register belonging to the local (client-serving) side;
// Remote belongs to whatever sits on the other end of the link.
type ComArea struct {
	A2R ring // local -> remote
	R2A ring // remote -> local

	Local  *signaler
	Remote *signaler
}

// NewComArea allocates a fresh, empty mailbox.
func NewComArea() *ComArea {
	return &ComArea{
		Local:  newSignaler(),
		Remote: newSignaler(),
	}
}

// The methods below are the exported surface a transport bridge (or
// any other out-of-package stand-in for "the peer") needs: enough to
// play reader-of-a2r / writer-of-r2a without reaching into the
// engine's own framing logic.

// Arm exposes arm for callers outside this package.
func (s *signaler) Arm(edges EdgeSet) { s.arm(edges) }

// Publish exposes publish for callers outside this package.
func (s *signaler) Publish(edges EdgeSet) { s.publish(edges) }

// Wake returns the channel that fires when an armed edge occurs.
func (s *signaler) Wake() <-chan struct{} { return s.wake }

// Used reports how many bytes are currently readable.
func (r *ring) Used() int { return r.used() }

// Room reports how many bytes may still be written before the ring is
// full (I1: one slot stays reserved).
func (r *ring) Room() int { return 255 - r.used() }

// UsedSegments returns the currently readable bytes as one or two
// contiguous slices (two iff the data wraps past index 255), without
// consuming them. Suitable for vectorised writes.
func (r *ring) UsedSegments() [][]byte {
	used := r.used()
	if used == 0 {
		return nil
	}
	head := int(byte(r.head.Load()))
	if head+used <= 256 {
		seg := make([]byte, used)
		copy(seg, r.buf[head:head+used])
		return [][]byte{seg}
	}
	first := make([]byte, 256-head)
	copy(first, r.buf[head:256])
	second := make([]byte, used-len(first))
	copy(second, r.buf[0:len(second)])
	return [][]byte{first, second}
}

// Consume exposes consume for callers outside this package.
func (r *ring) Consume(n int) { r.consume(n) }

// Fill writes raw bytes at tail, advancing it, without constructing a
// frame header -- used by a transport bridge relaying already-framed
// bytes verbatim. Callers must not exceed Room().
func (r *ring) Fill(data []byte) {
	tail := int(byte(r.tail.Load()))
	for i, b := range data {
		r.buf[byte(tail+i)] = b
	}
	r.tail.Store(uint32(byte(tail + len(data))))
}
