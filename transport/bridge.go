// Package transport carries a ComArea's two rings across a real
// net.Conn, standing in for the remote side of the link when there is
// no actual shared memory to map. It plays exactly the role the
// protocol core expects of "the peer": it drains a2r and republishes
// room on it, and it fills r2a and announces new data on it.
package transport

import (
	"io"
	"net"

	"github.com/pkg/errors"
	"github.com/sagernet/sing/common/bufio"

	"github.com/a314x/a314mux"
)

// Options configures the wire encoding a Bridge applies on top of the
// raw byte stream copied out of/into a ComArea. None of this affects
// the in-memory ComArea representation, which always stays raw: frame
// payloads are capped at 252 bytes, so compressing or authenticating
// them individually buys nothing -- these options apply to the
// *bridge's* outer connection as a whole.
type Options struct {
	// Compress, if true, wraps the connection in snappy's streaming
	// frame format.
	Compress bool

	// PSK, if non-empty, derives a chacha20 stream cipher key and
	// encrypts the bridged connection end-to-end.
	PSK []byte
}

// Bridge pumps one ComArea across one net.Conn. It takes no context;
// it stops only through its pump loops returning (see Run).
type Bridge struct {
	com  *a314mux.ComArea
	conn net.Conn

	// outWake and inWake are private, per-direction stand-ins for
	// com.Remote.Wake(). Both pump loops arm edges on the same Remote
	// signaler (EdgeA2RTail belongs to pumpOutbound, EdgeR2AHead to
	// pumpInbound), but Remote.Wake() is a single 1-buffered channel
	// with a single reader in mind -- two independent goroutines
	// blocking on the same receive would race over whichever one of
	// them happens to consume a given wakeup, and the loser would stay
	// parked with its own edge already consumed. fanoutRemote
	// forwards every Remote wake to both loops instead, so neither can
	// steal the other's.
	outWake, inWake chan struct{}
	stopFanout      chan struct{}
}

// New wraps conn per opts and returns a Bridge ready to Run.
func New(com *a314mux.ComArea, conn net.Conn, opts Options) (*Bridge, error) {
	wrapped := conn
	if len(opts.PSK) > 0 {
		c, err := newCryptoConn(conn, opts.PSK)
		if err != nil {
			return nil, errors.Wrap(err, "transport: wrap connection with cipher")
		}
		wrapped = c
	}
	if opts.Compress {
		wrapped = newSnappyConn(wrapped)
	}
	return &Bridge{
		com:        com,
		conn:       wrapped,
		outWake:    make(chan struct{}, 1),
		inWake:     make(chan struct{}, 1),
		stopFanout: make(chan struct{}),
	}, nil
}

// poke performs a non-blocking send, matching signaler.notify's
// drop-if-already-pending semantics: a queued wakeup makes another one
// redundant.
func poke(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// fanoutRemote relays every Remote wakeup to both pump loops. Without
// it, the two loops would compete for the single wakeup Remote.Wake()
// delivers and one of them could be starved indefinitely; see the
// Bridge.outWake/inWake comment.
func (b *Bridge) fanoutRemote() {
	for {
		select {
		case <-b.com.Remote.Wake():
			poke(b.outWake)
			poke(b.inWake)
		case <-b.stopFanout:
			return
		}
	}
}

// Run blocks, pumping bytes in both directions. Once either pump
// returns (typically because the connection closed), Run closes the
// connection, waits for the other pump to return as well, and then
// returns the first pump's error.
func (b *Bridge) Run() error {
	go b.fanoutRemote()
	errCh := make(chan error, 2)
	go func() { errCh <- b.pumpOutbound() }()
	go func() { errCh <- b.pumpInbound() }()
	err := <-errCh
	b.conn.Close()
	<-errCh
	close(b.stopFanout)
	return err
}

// pumpOutbound plays the remote reader of a2r: it waits for the
// engine's EdgeA2RTail announcements, copies whatever is newly used
// out to the wire with a vectorised write (the ring may have wrapped,
// giving up to two contiguous segments -- exactly the scatter-gather
// shape sing's writer exists for, mirroring smux's own sendLoop
// vectorised write), then advances a2r.head and tells the engine room
// freed up.
func (b *Bridge) pumpOutbound() error {
	bw, vectorised := bufio.CreateVectorisedWriter(b.conn)
	for {
		b.com.Remote.Arm(a314mux.EdgeA2RTail)
		segments := b.com.A2R.UsedSegments()
		if len(segments) == 0 {
			<-b.outWake
			continue
		}
		var err error
		if vectorised {
			_, err = bufio.WriteVectorised(bw, segments)
		} else {
			for _, seg := range segments {
				if _, werr := b.conn.Write(seg); werr != nil {
					err = werr
					break
				}
			}
		}
		if err != nil {
			return errors.Wrap(err, "transport: write a2r segment")
		}
		consumed := 0
		for _, seg := range segments {
			consumed += len(seg)
		}
		b.com.A2R.Consume(consumed)
		b.com.Local.Publish(a314mux.EdgeA2RHead)
	}
}

// pumpInbound plays the remote writer of r2a: it reads as many bytes
// as currently fit in r2a's free space, copies them in, advances
// r2a.tail, and tells the engine new data arrived.
func (b *Bridge) pumpInbound() error {
	tmp := make([]byte, 256)
	for {
		room := b.com.R2A.Room()
		if room == 0 {
			// Wait for the engine to drain r2a and announce the room it
			// freed (see demux.go's publish to Remote after consuming a
			// frame), not for anything on our own Local signaler.
			b.com.Remote.Arm(a314mux.EdgeR2AHead)
			<-b.inWake
			continue
		}
		if room > len(tmp) {
			room = len(tmp)
		}
		n, err := b.conn.Read(tmp[:room])
		if n > 0 {
			b.com.R2A.Fill(tmp[:n])
			b.com.Local.Publish(a314mux.EdgeR2ATail)
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "transport: read into r2a")
		}
	}
}
