package bridge

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"testing/iotest"
	"time"
)

func startBridge(t *testing.T, h http.Handler) *Client {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(h)
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	client := NewClient("tcp", ln.Addr().String())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRequestCodecRoundTrip(t *testing.T) {
	in := &Request{
		Method:    "POST",
		Scheme:    "https",
		Authority: "api.example.com",
		Path:      "/orders",
		Query:     "expand=items",
		Protocol:  "1.1",
		Headers: []Header{
			{Name: "content-type", Value: "application/json"},
			{Name: "x-custom-thing", Value: "yes"},
		},
	}
	payload := encodeRequest(in, []byte(`{"n":1}`))

	out, err := decodeRequest(payload)
	if err != nil {
		t.Fatal(err)
	}
	if out.Method != "POST" || out.Path != "/orders" || out.Query != "expand=items" {
		t.Errorf("head = %+v", out)
	}
	if len(out.Headers) != 2 || out.Headers[0].Name != "content-type" || out.Headers[1].Name != "x-custom-thing" {
		t.Errorf("headers = %+v", out.Headers)
	}
	if string(out.Body) != `{"n":1}` {
		t.Errorf("body = %q", out.Body)
	}
}

func TestRequestDecodeNormalizesEmptyFields(t *testing.T) {
	payload := encodeRequest(&Request{}, nil)
	out, err := decodeRequest(payload)
	if err != nil {
		t.Fatal(err)
	}
	if out.Method != "GET" || out.Scheme != "http" || out.Authority != "127.0.0.1" ||
		out.Path != "/" || out.Protocol != "1.1" {
		t.Errorf("normalized = %+v", out)
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	payload := encodeRequest(&Request{Method: "GET"}, nil)
	payload[0] = 9
	if _, err := decodeRequest(payload); err == nil {
		t.Fatal("want version error")
	}
}

func TestDecodeRejectsTruncatedPayload(t *testing.T) {
	payload := encodeRequest(&Request{Method: "GET"}, nil)
	if _, err := decodeRequest(payload[:len(payload)-3]); err == nil {
		t.Fatal("want truncation error")
	}
}

func TestWriteFrameRejectsOversize(t *testing.T) {
	var sink bytes.Buffer
	if err := writeFrame(&sink, make([]byte, maxFrameBytes+1)); err == nil {
		t.Fatal("want oversize error")
	}
}

func TestResponseHeadCodec(t *testing.T) {
	header := make(http.Header)
	header.Set("Content-Type", "text/plain")
	header.Add("Set-Cookie", "a=1")
	header.Add("Set-Cookie", "b=2")
	payload := encodeResponseStart(http.StatusCreated, header)

	status, headers, body, streaming, err := decodeResponseHead(payload)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusCreated || !streaming || body != nil {
		t.Fatalf("status = %d, streaming = %v", status, streaming)
	}
	cookies := 0
	for _, h := range headers {
		if h.Name == "set-cookie" {
			cookies++
		}
	}
	if cookies != 2 {
		t.Errorf("set-cookie count = %d", cookies)
	}
}

func TestBridgeLegacyRequest(t *testing.T) {
	client := startBridge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" || r.URL.Path != "/hello" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("hello"))
	}))

	for i := 0; i < 2; i++ {
		resp, err := client.Do(context.Background(), &Request{Method: "GET", Path: "/hello"}, nil)
		if err != nil {
			t.Fatal(err)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.Status != 200 || string(body) != "hello" {
			t.Fatalf("status = %d, body = %q", resp.Status, body)
		}
		if resp.Header.Get("Content-Type") != "text/plain" {
			t.Errorf("content type = %q", resp.Header.Get("Content-Type"))
		}
	}
}

func TestBridgeChunkedEcho(t *testing.T) {
	client := startBridge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(w, r.Body)
	}))

	// OneByteReader forces one chunk frame per body byte.
	resp, err := client.Do(context.Background(), &Request{
		Method: "POST",
		Path:   "/echo",
	}, iotest.OneByteReader(strings.NewReader("abc")))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != 200 || string(body) != "abc" {
		t.Fatalf("status = %d, body = %q", resp.Status, body)
	}
}

func TestBridgeUnreadBodyDrained(t *testing.T) {
	client := startBridge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	// Two streamed requests back to back: the server must drain the first
	// body to keep the connection usable for the second.
	for i := 0; i < 2; i++ {
		resp, err := client.Do(context.Background(), &Request{
			Method: "POST",
			Path:   "/ignore",
		}, strings.NewReader("discarded body"))
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if string(body) != "ok" {
			t.Fatalf("body = %q", body)
		}
	}
}

func TestBridgeTunnelEcho(t *testing.T) {
	client := startBridge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		go func() {
			defer conn.Close()
			buf := make([]byte, 1024)
			for {
				n, err := conn.Read(buf)
				if n > 0 {
					conn.Write(buf[:n])
				}
				if err != nil {
					return
				}
			}
		}()
	}))

	resp, err := client.Do(context.Background(), &Request{
		Method: "GET",
		Path:   "/ws",
		Headers: []Header{
			{Name: "connection", Value: "Upgrade"},
			{Name: "upgrade", Value: "websocket"},
		},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != http.StatusSwitchingProtocols {
		t.Fatalf("status = %d", resp.Status)
	}
	if resp.Tunnel == nil {
		t.Fatal("no tunnel connection")
	}
	defer resp.Tunnel.Close()

	resp.Tunnel.SetDeadline(time.Now().Add(3 * time.Second))
	if _, err := resp.Tunnel.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(resp.Tunnel, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "ping" {
		t.Errorf("echo = %q", buf)
	}
}

func TestBridgeDecodeFailureGets400(t *testing.T) {
	client := startBridge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("unreachable"))
	}))

	conn, err := net.Dial("tcp", client.addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(3 * time.Second))

	// Valid version, bogus frame type.
	if err := writeFrame(conn, []byte{protocolVersion, 99}); err != nil {
		t.Fatal(err)
	}

	var buf []byte
	ok, err := readFrame(conn, &buf)
	if err != nil || !ok {
		t.Fatalf("response frame: ok = %v, err = %v", ok, err)
	}
	status, _, body, streaming, err := decodeResponseHead(buf)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusBadRequest || streaming {
		t.Fatalf("status = %d, streaming = %v", status, streaming)
	}
	if len(body) == 0 {
		t.Error("empty 400 body")
	}

	// Connection is dropped after the 400.
	if ok, _ := readFrame(conn, &buf); ok {
		t.Error("connection still open after decode failure")
	}
}

func TestBridgeVersionMismatchDropsConnection(t *testing.T) {
	client := startBridge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	conn, err := net.Dial("tcp", client.addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(3 * time.Second))

	if err := writeFrame(conn, []byte{42, frameLegacyRequestTok}); err != nil {
		t.Fatal(err)
	}

	var buf []byte
	if ok, _ := readFrame(conn, &buf); ok {
		t.Error("got a response for an unsupported protocol version")
	}
}

func TestBridgeRetryAfterStaleConnection(t *testing.T) {
	client := startBridge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	// Park a dead connection in the hot slot; the bodyless request must
	// recover on a fresh one.
	left, right := net.Pipe()
	right.Close()
	left.Close()
	client.release(left)

	resp, err := client.Do(context.Background(), &Request{Method: "GET", Path: "/"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Errorf("body = %q", body)
	}
}

func TestReadFrameHonorsCap(t *testing.T) {
	var raw bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], maxFrameBytes+1)
	raw.Write(header[:])

	var buf []byte
	if _, err := readFrame(&raw, &buf); err == nil {
		t.Fatal("want oversize error")
	}
}
