// Package compression negotiates and applies response body compression.
package compression

import (
	"compress/gzip"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"

	"github.com/routed/routed/router"
)

// DisableKey set on the context skips compression for that request.
const DisableKey = "compression.disable"

// Disable marks the request as non-compressible from a handler.
func Disable(c *router.Context) {
	c.Set(DisableKey, true)
}

// Config mirrors the compression block of the engine configuration.
type Config struct {
	Enabled bool
	// Level applies to all encoders; gzip caps it at 9.
	Level int
	// MinLength is the smallest body worth compressing. Default 1024.
	MinLength int
	// Algorithms restricts the offered encodings. Default gzip, br, zstd.
	Algorithms []string
	// ContentTypes is the compressible allow-list. Empty uses a default set
	// of text and structured types.
	ContentTypes []string
	// DeniedTypes always bypass compression, even when allow-listed.
	DeniedTypes []string
}

// serverOrder is the preference when client q values tie.
var serverOrder = []string{"br", "zstd", "gzip"}

// Compressor negotiates an encoding per request and wraps the response
// writer while the rest of the chain runs.
type Compressor struct {
	enabled    bool
	level      int
	minLength  int
	algorithms map[string]bool
	algoOrder  []string
	allowed    map[string]bool
	denied     map[string]bool
	zstdPool   sync.Pool
}

// New compiles a Config into a Compressor.
func New(cfg Config) *Compressor {
	c := &Compressor{
		enabled:    cfg.Enabled,
		level:      cfg.Level,
		minLength:  cfg.MinLength,
		algorithms: make(map[string]bool, 3),
		allowed:    make(map[string]bool, 16),
		denied:     make(map[string]bool, len(cfg.DeniedTypes)),
	}
	if c.level <= 0 || c.level > 11 {
		c.level = 6
	}
	if c.minLength <= 0 {
		c.minLength = 1024
	}

	if len(cfg.Algorithms) > 0 {
		for _, a := range cfg.Algorithms {
			c.algorithms[a] = true
		}
	} else {
		c.algorithms["gzip"] = true
		c.algorithms["br"] = true
		c.algorithms["zstd"] = true
	}
	for _, a := range serverOrder {
		if c.algorithms[a] {
			c.algoOrder = append(c.algoOrder, a)
		}
	}

	types := cfg.ContentTypes
	if len(types) == 0 {
		types = []string{
			"text/html", "text/css", "text/plain", "text/javascript",
			"text/xml", "application/javascript", "application/json",
			"application/xml", "image/svg+xml",
		}
	}
	for _, ct := range types {
		c.allowed[ct] = true
	}
	for _, ct := range cfg.DeniedTypes {
		c.denied[ct] = true
	}

	zstdLevel := zstd.EncoderLevelFromZstd(c.level)
	c.zstdPool = sync.Pool{
		New: func() any {
			enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel))
			return enc
		},
	}
	return c
}

// Middleware returns the chain handler.
func (c *Compressor) Middleware() router.HandlerFunc {
	return func(ctx *router.Context) {
		if !c.enabled || ctx.Request.Method == http.MethodHead {
			ctx.Next()
			return
		}
		algo := c.negotiate(ctx.Request)
		if algo == "" {
			ctx.Next()
			return
		}

		cw := &compressWriter{comp: c, ctx: ctx, algo: algo}
		cw.dst = ctx.SwapWriter(cw)
		ctx.Next()
		ctx.SwapWriter(cw.dst)
		cw.finish()
	}
}

type encodingPref struct {
	encoding string
	quality  float64
}

// parseAcceptEncoding parses Accept-Encoding per RFC 7231 §5.3.4.
func parseAcceptEncoding(header string) []encodingPref {
	parts := strings.Split(header, ",")
	prefs := make([]encodingPref, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		enc := part
		q := 1.0
		if idx := strings.IndexByte(part, ';'); idx >= 0 {
			enc = strings.TrimSpace(part[:idx])
			params := strings.TrimSpace(part[idx+1:])
			if strings.HasPrefix(params, "q=") {
				if v, err := strconv.ParseFloat(params[2:], 64); err == nil {
					q = v
				}
			}
		}
		prefs = append(prefs, encodingPref{encoding: enc, quality: q})
	}
	return prefs
}

// negotiate picks the encoding with the highest client q value; ties break
// in server preference order.
func (c *Compressor) negotiate(r *http.Request) string {
	ae := r.Header.Get("Accept-Encoding")
	if ae == "" {
		return ""
	}
	prefs := parseAcceptEncoding(ae)
	if len(prefs) == 0 {
		return ""
	}

	clientQ := make(map[string]float64, len(prefs))
	hasWildcard := false
	wildcardQ := 0.0
	for _, p := range prefs {
		if p.encoding == "*" {
			hasWildcard = true
			wildcardQ = p.quality
			continue
		}
		clientQ[p.encoding] = p.quality
	}

	best := ""
	bestQ := -1.0
	for _, algo := range c.algoOrder {
		q, explicit := clientQ[algo]
		if !explicit {
			if !hasWildcard {
				continue
			}
			q = wildcardQ
		}
		if q <= 0 {
			continue
		}
		if q > bestQ {
			bestQ = q
			best = algo
		}
	}
	return best
}

func (c *Compressor) compressibleType(contentType string) bool {
	ct := contentType
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	if c.denied[ct] {
		return false
	}
	return c.allowed[ct]
}

func (c *Compressor) newEncoder(w io.Writer, algo string) io.WriteCloser {
	switch algo {
	case "br":
		return brotli.NewWriterLevel(w, c.level)
	case "zstd":
		enc := c.zstdPool.Get().(*zstd.Encoder)
		enc.Reset(w)
		return &pooledZstd{enc: enc, pool: &c.zstdPool}
	default:
		level := c.level
		if level > gzip.BestCompression {
			level = gzip.BestCompression
		}
		gz, _ := gzip.NewWriterLevel(w, level)
		return gz
	}
}

type pooledZstd struct {
	enc  *zstd.Encoder
	pool *sync.Pool
}

func (p *pooledZstd) Write(b []byte) (int, error) { return p.enc.Write(b) }

func (p *pooledZstd) Close() error {
	err := p.enc.Close()
	p.pool.Put(p.enc)
	return err
}
