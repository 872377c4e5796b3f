package a314mux

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingUsedAndRoomFor(t *testing.T) {
	var r ring
	require.Equal(t, 0, r.used())
	require.True(t, r.roomFor(252))
	require.False(t, r.roomFor(253))

	r.append(ptData, 1, make([]byte, 252))
	require.Equal(t, 255, r.used())
	require.False(t, r.roomFor(0)) // I1: one slot reserved, 255 used is full
}

func TestRingAppendConsumeRoundTrip(t *testing.T) {
	var r ring
	r.append(ptData, 42, []byte("hello"))
	hdr := r.peekHeader()
	require.Equal(t, byte(5), hdr.length)
	require.Equal(t, ptData, hdr.typ)
	require.Equal(t, byte(42), hdr.sid)
	require.Equal(t, []byte("hello"), r.peekPayload(hdr.length))
	r.consume(headerSize + int(hdr.length))
	require.Equal(t, 0, r.used())
}

// B2: a ring wrap across the 256-byte boundary reads back correctly.
func TestRingWrap(t *testing.T) {
	var r ring
	r.head.Store(250)
	r.tail.Store(250)

	r.append(ptData, 7, []byte("0123456789"))
	require.Equal(t, 13, r.used())

	hdr := r.peekHeader()
	require.Equal(t, byte(10), hdr.length)
	require.Equal(t, []byte("0123456789"), r.peekPayload(hdr.length))
	r.consume(headerSize + int(hdr.length))
	require.Equal(t, 0, r.used())
}

func TestRingMultipleFramesWrap(t *testing.T) {
	var r ring
	r.head.Store(254)
	r.tail.Store(254)

	r.append(ptData, 1, []byte("ab"))
	r.append(ptData, 2, []byte("cdef"))

	h1 := r.peekHeader()
	require.Equal(t, byte(2), h1.length)
	require.Equal(t, []byte("ab"), r.peekPayload(h1.length))
	r.consume(headerSize + int(h1.length))

	h2 := r.peekHeader()
	require.Equal(t, byte(4), h2.length)
	require.Equal(t, byte(2), h2.sid)
	require.Equal(t, []byte("cdef"), r.peekPayload(h2.length))
	r.consume(headerSize + int(h2.length))

	require.Equal(t, 0, r.used())
}

func TestSignalerArmFiresOnAlreadyPendingEdge(t *testing.T) {
	s := newSignaler()
	s.publish(EdgeR2ATail) // pending before anything is armed
	s.arm(EdgeR2ATail)     // should fire immediately, not wait for a future publish

	select {
	case <-s.wake:
	default:
		t.Fatal("expected arm to fire immediately for an already-pending edge")
	}
}

func TestSignalerPublishOnlyFiresArmedEdges(t *testing.T) {
	s := newSignaler()
	s.arm(EdgeR2ATail)
	s.publish(EdgeA2RHead) // different edge, should not fire

	select {
	case <-s.wake:
		t.Fatal("publish of an unarmed edge must not wake the owner")
	default:
	}

	s.publish(EdgeR2ATail)
	select {
	case <-s.wake:
	default:
		t.Fatal("publish of an armed edge must wake the owner")
	}
}

func TestSignalerDisableAll(t *testing.T) {
	s := newSignaler()
	s.arm(EdgeR2ATail | EdgeA2RHead)
	prev := s.disableAll()
	require.Equal(t, EdgeR2ATail|EdgeA2RHead, prev)

	s.publish(EdgeR2ATail)
	select {
	case <-s.wake:
		t.Fatal("no edges should be armed after disableAll")
	default:
	}
}
