package bridge

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	routederr "github.com/routed/routed/errors"
)

const (
	defaultMaxIdle     = 16
	defaultDialTimeout = 5 * time.Second
)

// Client is the front-end side of the bridge: it pools connections to a
// runtime and performs one request-response exchange per connection at a
// time. A hot idle slot keeps the common single-caller path off the
// shared idle list.
type Client struct {
	network     string
	addr        string
	dialTimeout time.Duration
	maxIdle     int

	mu     sync.Mutex
	hot    net.Conn
	idle   []net.Conn
	closed bool
}

// NewClient creates a client for a bridge runtime at the given unix or
// tcp address.
func NewClient(network, addr string) *Client {
	return &Client{
		network:     network,
		addr:        addr,
		dialTimeout: defaultDialTimeout,
		maxIdle:     defaultMaxIdle,
	}
}

// Response is one decoded bridge response. Tunnel is non-nil after a 101
// exchange on an upgrade request; the caller then owns the connection.
type Response struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
	Tunnel net.Conn
}

// Do performs one exchange. A nil body sends the legacy single-frame
// request and retries once on a fresh connection after a transport
// failure; a streamed body cannot be replayed, so transport failures
// surface immediately. Both cases report transport failures as a 502
// kind error.
func (c *Client) Do(ctx context.Context, req *Request, body io.Reader) (*Response, error) {
	upgrade := wantsUpgrade(req.Headers)

	if body == nil {
		payload := encodeRequest(req, nil)
		conn, err := c.get(ctx)
		if err != nil {
			return nil, transportError(err)
		}
		resp, err := c.exchange(conn, payload, nil, upgrade)
		if err == nil {
			return resp, nil
		}
		if isDecodeError(err) {
			conn.Close()
			return nil, err
		}
		conn.Close()

		// The pooled connection may have gone stale; one retry on a
		// fresh dial is safe because nothing was consumed.
		conn, dialErr := c.dial(ctx)
		if dialErr != nil {
			return nil, transportError(dialErr)
		}
		resp, err = c.exchange(conn, payload, nil, upgrade)
		if err != nil {
			conn.Close()
			if isDecodeError(err) {
				return nil, err
			}
			return nil, transportError(err)
		}
		return resp, nil
	}

	conn, err := c.get(ctx)
	if err != nil {
		return nil, transportError(err)
	}
	resp, err := c.exchange(conn, encodeRequestStart(req), body, upgrade)
	if err != nil {
		conn.Close()
		if isDecodeError(err) {
			return nil, err
		}
		return nil, transportError(err)
	}
	return resp, nil
}

// exchange writes the request frames and decodes the response off the
// same connection.
func (c *Client) exchange(conn net.Conn, head []byte, body io.Reader, upgrade bool) (*Response, error) {
	if err := writeFrame(conn, head); err != nil {
		return nil, err
	}
	if body != nil {
		buf := make([]byte, chunkBytes)
		for {
			n, err := body.Read(buf)
			if n > 0 {
				if werr := writeFrame(conn, encodeChunk(frameRequestChunk, buf[:n])); werr != nil {
					return nil, werr
				}
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
		}
		if err := writeFrame(conn, encodeBare(frameRequestEnd)); err != nil {
			return nil, err
		}
	}
	return c.readResponse(conn, upgrade)
}

func (c *Client) readResponse(conn net.Conn, upgrade bool) (*Response, error) {
	var buf []byte
	ok, err := readFrame(conn, &buf)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}

	status, headers, body, streaming, err := decodeResponseHead(buf)
	if err != nil {
		return nil, err
	}
	resp := &Response{Status: status, Header: make(http.Header, len(headers))}
	for _, h := range headers {
		resp.Header.Add(canonicalHeader(h.Name), h.Value)
	}

	if !streaming {
		if upgrade && status == http.StatusSwitchingProtocols {
			resp.Body = http.NoBody
			resp.Tunnel = newTunnelConn(conn)
			return resp, nil
		}
		resp.Body = io.NopCloser(bytes.NewReader(body))
		c.release(conn)
		return resp, nil
	}

	if upgrade && status == http.StatusSwitchingProtocols {
		// The end frame follows the 101 start immediately; afterwards the
		// connection belongs to the tunnel.
		ok, err := readFrame(conn, &buf)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, io.ErrUnexpectedEOF
		}
		if err := decodeBare(buf, frameResponseEnd); err != nil {
			return nil, err
		}
		resp.Body = http.NoBody
		resp.Tunnel = newTunnelConn(conn)
		return resp, nil
	}

	resp.Body = &responseBody{client: c, conn: conn}
	return resp, nil
}

func (c *Client) get(ctx context.Context) (net.Conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, net.ErrClosed
	}
	if conn := c.hot; conn != nil {
		c.hot = nil
		c.mu.Unlock()
		return conn, nil
	}
	if n := len(c.idle); n > 0 {
		conn := c.idle[n-1]
		c.idle = c.idle[:n-1]
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()
	return c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.dialTimeout}
	return d.DialContext(ctx, c.network, c.addr)
}

func (c *Client) release(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		conn.Close()
		return
	}
	if c.hot == nil {
		c.hot = conn
		return
	}
	if len(c.idle) < c.maxIdle {
		c.idle = append(c.idle, conn)
		return
	}
	conn.Close()
}

// Close drops all pooled connections. In-flight exchanges keep their
// connections until they finish.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.hot != nil {
		c.hot.Close()
		c.hot = nil
	}
	for _, conn := range c.idle {
		conn.Close()
	}
	c.idle = nil
	return nil
}

// responseBody streams chunk frames out of a response. The connection
// goes back to the pool once the end frame arrives; closing early drops
// it instead, since frame sync cannot be recovered mid-stream.
type responseBody struct {
	client *Client
	conn   net.Conn
	buf    []byte
	rest   []byte
	done   bool
	err    error
}

func (b *responseBody) Read(p []byte) (int, error) {
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

func (b *responseBody) next() error {
	ok, err := readFrame(b.conn, &b.buf)
	if err != nil {
		return err
	}
	if !ok {
		return decodeError("bridge closed connection before response end")
	}
	ft, err := peekFrameType(b.buf)
	if err != nil {
		return err
	}
	switch ft {
	case frameResponseChunk:
		chunk, err := decodeChunk(b.buf, frameResponseChunk)
		if err != nil {
			return err
		}
		b.rest = chunk
		return nil
	case frameResponseEnd:
		if err := decodeBare(b.buf, frameResponseEnd); err != nil {
			return err
		}
		b.done = true
		b.client.release(b.conn)
		b.conn = nil
		return nil
	default:
		return decodeError("unexpected bridge response frame type: %d", ft)
	}
}

func (b *responseBody) Close() error {
	if b.conn != nil && !b.done {
		b.conn.Close()
		b.conn = nil
	}
	return nil
}

func wantsUpgrade(headers []Header) bool {
	hasUpgrade, websocket := false, false
	for _, h := range headers {
		switch h.Name {
		case "connection":
			if strings.Contains(strings.ToLower(h.Value), "upgrade") {
				hasUpgrade = true
			}
		case "upgrade":
			if strings.EqualFold(h.Value, "websocket") {
				websocket = true
			}
		}
	}
	return hasUpgrade && websocket
}

func isDecodeError(err error) bool {
	fe, ok := routederr.AsError(err)
	return ok && fe.Kind() == routederr.KindBridgeDecode
}

func transportError(err error) error {
	return routederr.WrapKind(err, routederr.KindTransport, http.StatusBadGateway, "bridge unavailable")
}
