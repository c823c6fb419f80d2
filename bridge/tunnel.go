package bridge

import (
	"io"
	"net"
	"sync"
	"time"
)

// tunnelConn carries raw upgraded-stream bytes over the bridge socket.
// Reads unwrap tunnel-chunk frames; writes wrap bytes into them. Close
// sends tunnel-close so the peer can end its side cleanly.
type tunnelConn struct {
	conn net.Conn

	readMu  sync.Mutex
	buf     []byte
	rest    []byte
	readEOF bool

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newTunnelConn(conn net.Conn) *tunnelConn {
	return &tunnelConn{conn: conn}
}

func (t *tunnelConn) Read(p []byte) (int, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	for len(t.rest) == 0 {
		if t.readEOF {
			return 0, io.EOF
		}
		ok, err := readFrame(t.conn, &t.buf)
		if err != nil {
			return 0, err
		}
		if !ok {
			t.readEOF = true
			return 0, io.EOF
		}
		ft, err := peekFrameType(t.buf)
		if err != nil {
			return 0, err
		}
		switch ft {
		case frameTunnelChunk:
			chunk, err := decodeChunk(t.buf, frameTunnelChunk)
			if err != nil {
				return 0, err
			}
			t.rest = chunk
		case frameTunnelClose:
			if err := decodeBare(t.buf, frameTunnelClose); err != nil {
				return 0, err
			}
			t.readEOF = true
			return 0, io.EOF
		default:
			return 0, decodeError("unexpected bridge tunnel frame type: %d", ft)
		}
	}
	n := copy(p, t.rest)
	t.rest = t.rest[n:]
	return n, nil
}

func (t *tunnelConn) Write(p []byte) (int, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	written := 0
	for len(p) > 0 {
		part := p
		if len(part) > chunkBytes {
			part = part[:chunkBytes]
		}
		if err := writeFrame(t.conn, encodeChunk(frameTunnelChunk, part)); err != nil {
			return written, err
		}
		written += len(part)
		p = p[len(part):]
	}
	return written, nil
}

func (t *tunnelConn) Close() error {
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		writeFrame(t.conn, encodeBare(frameTunnelClose))
		t.writeMu.Unlock()
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

func (t *tunnelConn) LocalAddr() net.Addr                { return t.conn.LocalAddr() }
func (t *tunnelConn) RemoteAddr() net.Addr               { return t.conn.RemoteAddr() }
func (t *tunnelConn) SetDeadline(d time.Time) error      { return t.conn.SetDeadline(d) }
func (t *tunnelConn) SetReadDeadline(d time.Time) error  { return t.conn.SetReadDeadline(d) }
func (t *tunnelConn) SetWriteDeadline(d time.Time) error { return t.conn.SetWriteDeadline(d) }
