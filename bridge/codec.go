package bridge

import (
	"net/http"
	"net/textproto"
	"strings"
)

// Header is one decoded header pair. Names are kept in their lowercase
// wire form and re-cased on emit.
type Header struct {
	Name  string
	Value string
}

// Request is a decoded bridge request head. Body carries the payload for
// the legacy single-frame path; streamed requests deliver the body as
// chunk frames instead.
type Request struct {
	Method    string
	Scheme    string
	Authority string
	Path      string
	Query     string
	Protocol  string
	Headers   []Header
	Body      []byte
}

// normalize fills the defaults the protocol allows peers to omit.
func (r *Request) normalize() {
	if r.Method == "" {
		r.Method = "GET"
	}
	if r.Scheme == "" {
		r.Scheme = "http"
	}
	if r.Authority == "" {
		r.Authority = "127.0.0.1"
	}
	if r.Path == "" {
		r.Path = "/"
	}
	if r.Protocol == "" {
		r.Protocol = "1.1"
	}
}

func isRequestHeadFrame(ft byte) bool {
	return ft == frameLegacyRequest || ft == frameLegacyRequestTok ||
		ft == frameRequestStart || ft == frameRequestStartTok
}

func isTokenizedFrame(ft byte) bool {
	switch ft {
	case frameLegacyRequestTok, frameLegacyResponseTok, frameRequestStartTok, frameResponseStartTok:
		return true
	}
	return false
}

// decodeRequest decodes a legacy request (frames 1/11) or a request-start
// (frames 3/13). Only the legacy forms carry a body.
func decodeRequest(payload []byte) (*Request, error) {
	ft, err := peekFrameType(payload)
	if err != nil {
		return nil, err
	}
	if !isRequestHeadFrame(ft) {
		return nil, decodeError("invalid bridge request frame type: %d", ft)
	}

	r := newByteReader(payload)
	r.off = 2 // version and frame type already checked

	req := &Request{}
	if req.Method, err = r.str(); err != nil {
		return nil, err
	}
	if req.Scheme, err = r.str(); err != nil {
		return nil, err
	}
	if req.Authority, err = r.str(); err != nil {
		return nil, err
	}
	if req.Path, err = r.str(); err != nil {
		return nil, err
	}
	if req.Query, err = r.str(); err != nil {
		return nil, err
	}
	if req.Protocol, err = r.str(); err != nil {
		return nil, err
	}
	if req.Headers, err = decodeHeaders(r, isTokenizedFrame(ft)); err != nil {
		return nil, err
	}
	if ft == frameLegacyRequest || ft == frameLegacyRequestTok {
		body, err := r.lengthPrefixed()
		if err != nil {
			return nil, err
		}
		req.Body = append([]byte(nil), body...)
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	req.normalize()
	return req, nil
}

// decodeResponseHead decodes a legacy response (frames 2/12) or a
// response-start (frames 6/14). The body slice is nil for start frames.
func decodeResponseHead(payload []byte) (status int, headers []Header, body []byte, streaming bool, err error) {
	ft, err := peekFrameType(payload)
	if err != nil {
		return 0, nil, nil, false, err
	}
	legacy := ft == frameLegacyResponse || ft == frameLegacyResponseTok
	start := ft == frameResponseStart || ft == frameResponseStartTok
	if !legacy && !start {
		return 0, nil, nil, false, decodeError("invalid bridge response frame type: %d", ft)
	}

	r := newByteReader(payload)
	r.off = 2
	st, err := r.u16()
	if err != nil {
		return 0, nil, nil, false, err
	}
	headers, err = decodeHeaders(r, isTokenizedFrame(ft))
	if err != nil {
		return 0, nil, nil, false, err
	}
	if legacy {
		raw, err := r.lengthPrefixed()
		if err != nil {
			return 0, nil, nil, false, err
		}
		body = append([]byte(nil), raw...)
	}
	if err := r.done(); err != nil {
		return 0, nil, nil, false, err
	}
	return int(st), headers, body, start, nil
}

func decodeHeaders(r *byteReader, tokenized bool) ([]Header, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	headers := make([]Header, 0, count)
	for i := uint32(0); i < count; i++ {
		var name string
		if tokenized {
			token, err := r.u16()
			if err != nil {
				return nil, err
			}
			switch {
			case token == literalToken:
				if name, err = r.str(); err != nil {
					return nil, err
				}
			case int(token) < len(headerTokens):
				name = headerTokens[token]
			default:
				return nil, decodeError("invalid bridge header name token: %d", token)
			}
		} else {
			if name, err = r.str(); err != nil {
				return nil, err
			}
		}
		value, err := r.str()
		if err != nil {
			return nil, err
		}
		headers = append(headers, Header{Name: strings.ToLower(name), Value: value})
	}
	return headers, nil
}

// decodeChunk unwraps a request, response or tunnel chunk frame.
func decodeChunk(payload []byte, wantType byte) ([]byte, error) {
	ft, err := peekFrameType(payload)
	if err != nil {
		return nil, err
	}
	if ft != wantType {
		return nil, decodeError("invalid bridge chunk frame type: %d", ft)
	}
	r := newByteReader(payload)
	r.off = 2
	chunk, err := r.lengthPrefixed()
	if err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return chunk, nil
}

// decodeBare validates an end or close frame that carries no fields.
func decodeBare(payload []byte, wantType byte) error {
	ft, err := peekFrameType(payload)
	if err != nil {
		return err
	}
	if ft != wantType {
		return decodeError("invalid bridge frame type: %d", ft)
	}
	r := newByteReader(payload)
	r.off = 2
	return r.done()
}

// encodeRequest builds a legacy tokenized request frame (type 11) with
// the full body inline.
func encodeRequest(req *Request, body []byte) []byte {
	w := newByteWriter(64 + len(req.Headers)*32 + len(body))
	encodeRequestHead(w, req, frameLegacyRequestTok)
	w.putBytes(body)
	return w.bytes()
}

// encodeRequestStart builds a tokenized request-start frame (type 13).
// Body chunks follow as separate frames.
func encodeRequestStart(req *Request) []byte {
	w := newByteWriter(64 + len(req.Headers)*32)
	encodeRequestHead(w, req, frameRequestStartTok)
	return w.bytes()
}

func encodeRequestHead(w *byteWriter, req *Request, frameType byte) {
	w.putU8(protocolVersion)
	w.putU8(frameType)
	w.putString(req.Method)
	w.putString(req.Scheme)
	w.putString(req.Authority)
	w.putString(req.Path)
	w.putString(req.Query)
	w.putString(req.Protocol)
	w.putU32(uint32(len(req.Headers)))
	for _, h := range req.Headers {
		writeHeaderName(w, h.Name)
		w.putString(h.Value)
	}
}

// encodeResponse builds a legacy tokenized response frame (type 12).
func encodeResponse(status int, header http.Header, body []byte) []byte {
	w := newByteWriter(32 + len(header)*32 + len(body))
	w.putU8(protocolVersion)
	w.putU8(frameLegacyResponseTok)
	w.putU16(uint16(status))
	writeResponseHeaders(w, header)
	w.putBytes(body)
	return w.bytes()
}

// encodeResponseStart builds a tokenized response-start frame (type 14).
func encodeResponseStart(status int, header http.Header) []byte {
	w := newByteWriter(32 + len(header)*32)
	w.putU8(protocolVersion)
	w.putU8(frameResponseStartTok)
	w.putU16(uint16(status))
	writeResponseHeaders(w, header)
	return w.bytes()
}

func writeResponseHeaders(w *byteWriter, header http.Header) {
	countPos := w.reserveU32()
	count := uint32(0)
	for name, values := range header {
		lower := strings.ToLower(name)
		for _, v := range values {
			writeHeaderName(w, lower)
			w.putString(v)
			count++
		}
	}
	w.patchU32(countPos, count)
}

func writeHeaderName(w *byteWriter, lower string) {
	if token, ok := tokenByName[lower]; ok {
		w.putU16(token)
		return
	}
	w.putU16(literalToken)
	w.putString(lower)
}

// encodeChunk builds a request, response or tunnel chunk frame.
func encodeChunk(frameType byte, chunk []byte) []byte {
	w := newByteWriter(6 + len(chunk))
	w.putU8(protocolVersion)
	w.putU8(frameType)
	w.putBytes(chunk)
	return w.bytes()
}

// encodeBare builds an end or close frame.
func encodeBare(frameType byte) []byte {
	return []byte{protocolVersion, frameType}
}

// canonicalHeader re-cases a lowercase wire name for the http.Header map.
func canonicalHeader(name string) string {
	return textproto.CanonicalMIMEHeaderKey(name)
}
