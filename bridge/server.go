package bridge

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"

	"go.uber.org/zap"

	routederr "github.com/routed/routed/errors"
	"github.com/routed/routed/logging"
)

// Server accepts bridge connections and drives an http.Handler with the
// decoded requests. One request is in flight per connection; the peer
// holds a pool of connections for concurrency.
type Server struct {
	handler http.Handler

	mu     sync.Mutex
	ln     net.Listener
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates a bridge server over the given handler, normally an
// engine.
func NewServer(h http.Handler) *Server {
	return &Server{handler: h}
}

// Listen binds the server to a unix or tcp address and starts serving.
// A stale unix socket file left by a previous run is removed first.
func (s *Server) Listen(network, addr string) error {
	if network == "unix" {
		if fi, err := os.Stat(addr); err == nil && fi.Mode()&os.ModeSocket != 0 {
			os.Remove(addr)
		}
	}
	ln, err := net.Listen(network, addr)
	if err != nil {
		return fmt.Errorf("bridge listen %s %s: %w", network, addr, err)
	}
	return s.Serve(ln)
}

// Serve runs the accept loop until the listener closes.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return net.ErrClosed
	}
	s.ln = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("bridge accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

// Close stops the listener and waits for in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	ln := s.ln
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	s.wg.Wait()
	return nil
}

// serveConn reads request frames off one connection in a loop. A hijack
// hands the connection to the tunnel and ends the loop.
func (s *Server) serveConn(conn net.Conn) {
	hijacked := false
	defer func() {
		if !hijacked {
			conn.Close()
		}
	}()

	var buf []byte
	for {
		ok, err := readFrame(conn, &buf)
		if err != nil {
			logging.Debug("bridge connection read failed",
				zap.String("peer", conn.RemoteAddr().String()), zap.Error(err))
			return
		}
		if !ok {
			return
		}

		took, err := s.handleRequest(conn, buf)
		hijacked = took
		if err != nil {
			if fe, isFramework := routederr.AsError(err); isFramework &&
				fe.Kind() == routederr.KindBridgeDecode &&
				!errors.Is(err, errVersionMismatch) && !errors.Is(err, errFrameTooLarge) {
				s.writeDecodeFailure(conn, err)
			}
			logging.Debug("bridge request failed",
				zap.String("peer", conn.RemoteAddr().String()), zap.Error(err))
			return
		}
		if hijacked {
			return
		}
	}
}

// handleRequest decodes one request head, runs the handler and streams
// the response back. It reports whether the connection was hijacked into
// a tunnel.
func (s *Server) handleRequest(conn net.Conn, payload []byte) (bool, error) {
	breq, err := decodeRequest(payload)
	if err != nil {
		return false, err
	}

	var body io.ReadCloser
	var stream *requestBody
	ft, _ := peekFrameType(payload)
	if ft == frameRequestStart || ft == frameRequestStartTok {
		stream = &requestBody{conn: conn}
		body = stream
	} else {
		body = io.NopCloser(bytes.NewReader(breq.Body))
	}

	req := httpRequest(breq, body, conn.RemoteAddr().String())
	rw := &responseWriter{conn: conn, header: make(http.Header)}
	s.handler.ServeHTTP(rw, req)

	if rw.hijacked {
		return true, rw.err
	}
	if err := rw.finish(); err != nil {
		return false, err
	}
	// Drain unread request chunks so the next frame on the connection is
	// a request head again.
	if stream != nil {
		if err := stream.Close(); err != nil {
			return false, err
		}
	}
	return false, nil
}

// writeDecodeFailure answers a malformed request with a plain-text 400.
// The connection is dropped afterwards because frame sync is lost.
func (s *Server) writeDecodeFailure(conn net.Conn, decodeErr error) {
	header := make(http.Header, 1)
	header.Set("Content-Type", "text/plain; charset=utf-8")
	payload := encodeResponse(http.StatusBadRequest, header, []byte(decodeErr.Error()))
	if err := writeFrame(conn, payload); err != nil {
		logging.Debug("bridge decode failure response not written", zap.Error(err))
	}
}

// httpRequest rebuilds a pipeline-compatible request from a decoded head.
func httpRequest(breq *Request, body io.ReadCloser, remote string) *http.Request {
	major, minor := parseProtocol(breq.Protocol)
	req := &http.Request{
		Method:     breq.Method,
		Proto:      "HTTP/" + breq.Protocol,
		ProtoMajor: major,
		ProtoMinor: minor,
		URL: &url.URL{
			Scheme:   breq.Scheme,
			Host:     breq.Authority,
			Path:     breq.Path,
			RawQuery: breq.Query,
		},
		Host:          breq.Authority,
		Header:        make(http.Header, len(breq.Headers)),
		Body:          body,
		RemoteAddr:    remote,
		RequestURI:    breq.Path,
		ContentLength: -1,
	}
	if breq.Query != "" {
		req.RequestURI += "?" + breq.Query
	}
	for _, h := range breq.Headers {
		req.Header.Add(canonicalHeader(h.Name), h.Value)
	}
	if breq.Body != nil {
		req.ContentLength = int64(len(breq.Body))
	} else if cl := req.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			req.ContentLength = n
		}
	}
	return req
}

func parseProtocol(proto string) (int, int) {
	switch proto {
	case "0.9":
		return 0, 9
	case "1.0":
		return 1, 0
	case "2":
		return 2, 0
	case "3":
		return 3, 0
	default:
		return 1, 1
	}
}

// requestBody streams a request body out of chunk frames. Close drains
// to the end frame so the connection can carry the next request.
type requestBody struct {
	conn io.Reader
	buf  []byte
	rest []byte
	done bool
	err  error
}

func (b *requestBody) Read(p []byte) (int, error) {
	for len(b.rest) == 0 {
		if b.err != nil {
			return 0, b.err
		}
		if b.done {
			return 0, io.EOF
		}
		if err := b.next(); err != nil {
			b.err = err
			return 0, err
		}
	}
	n := copy(p, b.rest)
	b.rest = b.rest[n:]
	return n, nil
}

func (b *requestBody) next() error {
	ok, err := readFrame(b.conn, &b.buf)
	if err != nil {
		return err
	}
	if !ok {
		return decodeError("bridge closed connection before request end")
	}
	ft, err := peekFrameType(b.buf)
	if err != nil {
		return err
	}
	switch ft {
	case frameRequestChunk:
		chunk, err := decodeChunk(b.buf, frameRequestChunk)
		if err != nil {
			return err
		}
		b.rest = chunk
		return nil
	case frameRequestEnd:
		if err := decodeBare(b.buf, frameRequestEnd); err != nil {
			return err
		}
		b.done = true
		return nil
	default:
		return decodeError("unexpected bridge request frame type: %d", ft)
	}
}

func (b *requestBody) Close() error {
	b.rest = nil
	for !b.done {
		if b.err != nil {
			return b.err
		}
		if err := b.next(); err != nil {
			b.err = err
			return err
		}
		b.rest = nil
	}
	return nil
}

// responseWriter emits the handler's response as tokenized start, chunk
// and end frames. Hijack switches the connection to tunnel mode after a
// 101 start/end pair.
type responseWriter struct {
	conn        net.Conn
	header      http.Header
	status      int
	wroteHeader bool
	hijacked    bool
	err         error
}

func (w *responseWriter) Header() http.Header { return w.header }

func (w *responseWriter) WriteHeader(status int) {
	if w.wroteHeader || w.err != nil {
		return
	}
	w.wroteHeader = true
	w.status = status
	w.err = writeFrame(w.conn, encodeResponseStart(status, w.header))
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.err != nil {
		return 0, w.err
	}
	written := 0
	for len(b) > 0 {
		part := b
		if len(part) > chunkBytes {
			part = part[:chunkBytes]
		}
		if err := writeFrame(w.conn, encodeChunk(frameResponseChunk, part)); err != nil {
			w.err = err
			return written, err
		}
		written += len(part)
		b = b[len(part):]
	}
	return written, nil
}

// Flush is a no-op: chunks go to the socket as they are written.
func (w *responseWriter) Flush() {}

// Hijack detaches the connection for an upgraded tunnel. The 101 head is
// framed first; afterwards raw bytes flow as tunnel chunks.
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if w.hijacked {
		return nil, nil, http.ErrHijacked
	}
	if !w.wroteHeader {
		w.WriteHeader(http.StatusSwitchingProtocols)
	}
	if w.err == nil {
		w.err = writeFrame(w.conn, encodeBare(frameResponseEnd))
	}
	if w.err != nil {
		return nil, nil, w.err
	}
	w.hijacked = true
	tc := newTunnelConn(w.conn)
	return tc, bufio.NewReadWriter(bufio.NewReader(tc), bufio.NewWriter(tc)), nil
}

func (w *responseWriter) finish() error {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.err != nil {
		return w.err
	}
	return writeFrame(w.conn, encodeBare(frameResponseEnd))
}
