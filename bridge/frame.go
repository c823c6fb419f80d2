// Package bridge implements the framed binary protocol a native front-end
// uses to drive the engine over a Unix or TCP socket. Every frame is a
// u32 big-endian length followed by a payload that starts with a one-byte
// protocol version and a one-byte frame type.
package bridge

import (
	"encoding/binary"
	"fmt"
	"io"
	"net/http"

	routederr "github.com/routed/routed/errors"
)

const protocolVersion = 1

// Frame types. The tokenized variants carry header names as u16 tokens
// instead of literal strings.
const (
	frameLegacyRequest     = 1
	frameLegacyResponse    = 2
	frameRequestStart      = 3
	frameRequestChunk      = 4
	frameRequestEnd        = 5
	frameResponseStart     = 6
	frameResponseChunk     = 7
	frameResponseEnd       = 8
	frameTunnelChunk       = 9
	frameTunnelClose       = 10
	frameLegacyRequestTok  = 11
	frameLegacyResponseTok = 12
	frameRequestStartTok   = 13
	frameResponseStartTok  = 14
)

const (
	// maxFrameBytes caps one frame payload. Oversize frames are a protocol
	// violation and drop the connection.
	maxFrameBytes = 64 << 20
	// chunkBytes is the target size for body and tunnel chunks.
	chunkBytes = 64 << 10
	// literalToken escapes a tokenized header name to its literal form.
	literalToken = 0xFFFF
)

// headerTokens is the fixed header-name token table. Index is the token
// value; names are the lowercase wire forms.
var headerTokens = [...]string{
	"host",
	"connection",
	"user-agent",
	"accept",
	"accept-encoding",
	"accept-language",
	"content-type",
	"content-length",
	"transfer-encoding",
	"cookie",
	"set-cookie",
	"cache-control",
	"pragma",
	"upgrade",
	"authorization",
	"origin",
	"referer",
	"location",
	"server",
	"date",
	"x-forwarded-for",
	"x-forwarded-proto",
	"x-forwarded-host",
	"x-forwarded-port",
	"x-request-id",
	"sec-websocket-key",
	"sec-websocket-version",
	"sec-websocket-protocol",
	"sec-websocket-extensions",
}

var tokenByName = func() map[string]uint16 {
	m := make(map[string]uint16, len(headerTokens))
	for i, name := range headerTokens {
		m[name] = uint16(i)
	}
	return m
}()

// decodeError builds a BridgeDecodeError. The peer gets a 400 text
// response; the connection is closed afterwards because frame sync is
// lost.
func decodeError(format string, args ...any) *routederr.Error {
	return routederr.NewKind(routederr.KindBridgeDecode, http.StatusBadRequest, fmt.Sprintf(format, args...))
}

// errFrameTooLarge and errVersionMismatch mark protocol violations that
// drop the connection without a 400 response.
var (
	errFrameTooLarge   = routederr.NewKind(routederr.KindBridgeDecode, http.StatusBadRequest, "bridge frame too large")
	errVersionMismatch = routederr.NewKind(routederr.KindBridgeDecode, http.StatusBadRequest, "unsupported bridge protocol version")
)

// byteWriter builds one frame payload.
type byteWriter struct {
	buf []byte
}

func newByteWriter(capacity int) *byteWriter {
	return &byteWriter{buf: make([]byte, 0, capacity)}
}

func (w *byteWriter) putU8(v byte) {
	w.buf = append(w.buf, v)
}

func (w *byteWriter) putU16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *byteWriter) putU32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *byteWriter) putString(s string) {
	w.putU32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *byteWriter) putBytes(b []byte) {
	w.putU32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// reserveU32 leaves room for a u32 written later with patchU32. Used for
// header counts that are only known after filtering.
func (w *byteWriter) reserveU32() int {
	pos := len(w.buf)
	w.buf = append(w.buf, 0, 0, 0, 0)
	return pos
}

func (w *byteWriter) patchU32(pos int, v uint32) {
	binary.BigEndian.PutUint32(w.buf[pos:pos+4], v)
}

func (w *byteWriter) bytes() []byte { return w.buf }

// byteReader walks one frame payload.
type byteReader struct {
	buf []byte
	off int
}

func newByteReader(payload []byte) *byteReader {
	return &byteReader{buf: payload}
}

func (r *byteReader) take(n int) ([]byte, error) {
	if r.off+n > len(r.buf) {
		return nil, decodeError("truncated bridge payload")
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *byteReader) u8() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *byteReader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *byteReader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *byteReader) lengthPrefixed() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	return r.take(int(n))
}

func (r *byteReader) str() (string, error) {
	b, err := r.lengthPrefixed()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *byteReader) done() error {
	if r.off != len(r.buf) {
		return decodeError("unexpected trailing bridge payload bytes: %d", len(r.buf)-r.off)
	}
	return nil
}

// readFrame reads one length-prefixed frame into buf, growing it as
// needed. It returns false on a clean EOF at a frame boundary.
func readFrame(r io.Reader, buf *[]byte) (bool, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return false, nil
		}
		return false, fmt.Errorf("read frame header: %w", err)
	}
	n := int(binary.BigEndian.Uint32(header[:]))
	if n > maxFrameBytes {
		return false, errFrameTooLarge
	}
	if cap(*buf) < n {
		*buf = make([]byte, n)
	}
	*buf = (*buf)[:n]
	if _, err := io.ReadFull(r, *buf); err != nil {
		return false, fmt.Errorf("read frame payload: %w", err)
	}
	return true, nil
}

// writeFrame writes one length-prefixed frame.
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameBytes {
		return errFrameTooLarge
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	out := make([]byte, 0, 4+len(payload))
	out = append(out, header[:]...)
	out = append(out, payload...)
	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// peekFrameType validates the version byte and returns the frame type.
func peekFrameType(payload []byte) (byte, error) {
	if len(payload) < 2 {
		return 0, decodeError("truncated bridge payload")
	}
	if payload[0] != protocolVersion {
		return 0, errVersionMismatch
	}
	return payload[1], nil
}
