package transport

import (
	"crypto/rand"
	"crypto/sha256"
	"io"
	"net"
	"sync"

	"golang.org/x/crypto/chacha20"
)

// cryptoConn wraps a net.Conn with a chacha20 stream cipher keyed off
// a pre-shared secret, mirroring kcptun's practice of encrypting the
// link a multiplexed session rides on. It is a simple stream cipher,
// not an AEAD: frame integrity is the wire protocol's own concern
// (length-prefixed, fixed-ABI frames), this only obscures the bytes
// moving across a real network.
//
// Each direction gets its own randomly generated nonce, sent as a
// cleartext preamble ahead of that direction's ciphertext: reusing a
// fixed nonce under a fixed key would let two sessions' ciphertexts be
// XORed together to cancel the keystream and recover the XOR of their
// plaintexts. Sending the preamble is deferred to the first Write (and
// reading the peer's is deferred to the first Read) so construction
// never blocks waiting on the other side to be ready.
type cryptoConn struct {
	net.Conn
	key   [32]byte
	nonce []byte

	encOnce sync.Once
	enc     *chacha20.Cipher
	encErr  error

	decOnce sync.Once
	dec     *chacha20.Cipher
	decErr  error
}

func newCryptoConn(conn net.Conn, psk []byte) (*cryptoConn, error) {
	key := sha256.Sum256(psk)
	nonce := make([]byte, chacha20.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return &cryptoConn{Conn: conn, key: key, nonce: nonce}, nil
}

func (c *cryptoConn) initEnc() error {
	c.encOnce.Do(func() {
		enc, err := chacha20.NewUnauthenticatedCipher(c.key[:], c.nonce)
		if err != nil {
			c.encErr = err
			return
		}
		if _, err := c.Conn.Write(c.nonce); err != nil {
			c.encErr = err
			return
		}
		c.enc = enc
	})
	return c.encErr
}

// initDec reads the peer's own nonce preamble on the first Read and
// sets up the receive-direction cipher from it.
func (c *cryptoConn) initDec() error {
	c.decOnce.Do(func() {
		nonce := make([]byte, chacha20.NonceSize)
		if _, err := io.ReadFull(c.Conn, nonce); err != nil {
			c.decErr = err
			return
		}
		c.dec, c.decErr = chacha20.NewUnauthenticatedCipher(c.key[:], nonce)
	})
	return c.decErr
}

func (c *cryptoConn) Write(p []byte) (int, error) {
	if err := c.initEnc(); err != nil {
		return 0, err
	}
	out := make([]byte, len(p))
	c.enc.XORKeyStream(out, p)
	return c.Conn.Write(out)
}

func (c *cryptoConn) Read(p []byte) (int, error) {
	if err := c.initDec(); err != nil {
		return 0, err
	}
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.dec.XORKeyStream(p[:n], p[:n])
	}
	return n, err
}
