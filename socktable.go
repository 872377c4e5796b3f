package a314mux

import "fmt"

// socketTable is the dual-indexed set of active streams (§4.2): by
// stream_id for inbound dispatch, and by (owner_task, local_id) for
// client requests.
type socketTable struct {
	byStreamID map[byte]*Socket
	byKey      map[socketKey]*Socket

	nextID uint32 // monotonic; low bit pinned to parity
	parity byte   // 0 or 1 -- must differ from the peer's allocator
}

// newSocketTable builds an empty table. parity must be 0 or 1 and must
// be the opposite of whatever the peer side uses to allocate its own
// (future, currently unimplemented per §4.3) inbound-CONNECT stream
// ids, so the two id spaces never collide (§4.2, §9).
func newSocketTable(parity byte) *socketTable {
	return &socketTable{
		byStreamID: make(map[byte]*Socket),
		byKey:      make(map[socketKey]*Socket),
		parity:     parity & 1,
	}
}

// create allocates a fresh stream id and registers the new socket
// under both indices. Returns an error if a socket already exists for
// owner, or in the pathological case where every id of this side's
// parity is already in use.
func (t *socketTable) create(owner socketKey) (*Socket, error) {
	if _, exists := t.byKey[owner]; exists {
		return nil, fmt.Errorf("a314mux: socket already exists for owner=%d local=%d", owner.ownerTask, owner.localID)
	}

	for i := 0; i < 128; i++ {
		id := byte(t.nextID<<1) | t.parity
		t.nextID++
		if _, taken := t.byStreamID[id]; taken {
			continue
		}
		s := newSocket(id, owner)
		t.byStreamID[id] = s
		t.byKey[owner] = s
		return s, nil
	}
	return nil, fmt.Errorf("a314mux: stream id space exhausted for parity %d", t.parity)
}

func (t *socketTable) findByKey(owner socketKey) (*Socket, bool) {
	s, ok := t.byKey[owner]
	return s, ok
}

func (t *socketTable) findByStreamID(id byte) (*Socket, bool) {
	s, ok := t.byStreamID[id]
	return s, ok
}

// delete severs both index links. It does not touch send-queue
// linkage or receive-queue contents -- callers (close.go) are
// responsible for those per I2/I3 ordering.
func (t *socketTable) delete(s *Socket) {
	delete(t.byStreamID, s.streamID)
	delete(t.byKey, s.owner)
}

func (t *socketTable) len() int { return len(t.byStreamID) }
