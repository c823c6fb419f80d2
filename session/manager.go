package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/routed/routed/router"
)

// ContextKey is the attribute key the session is stored under.
const ContextKey = "session"

// Options configure the manager. Zero values fall back to defaults.
type Options struct {
	// CookieName defaults to "routed_session".
	CookieName string
	// Lifetime defaults to 2h.
	Lifetime time.Duration
	// Store defaults to an in-memory LRU.
	Store Store
	// CookiePath defaults to "/".
	CookiePath string
}

// Manager loads and saves sessions around the handler chain.
type Manager struct {
	opts Options
}

// NewManager creates a manager, filling unset options.
func NewManager(opts Options) *Manager {
	if opts.CookieName == "" {
		opts.CookieName = "routed_session"
	}
	if opts.Lifetime <= 0 {
		opts.Lifetime = 2 * time.Hour
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore(0, opts.Lifetime)
	}
	if opts.CookiePath == "" {
		opts.CookiePath = "/"
	}
	return &Manager{opts: opts}
}

// Start loads the session named by the request cookie, creating a fresh one
// when the cookie is absent or stale.
func (m *Manager) Start(c *router.Context) (*Session, error) {
	if cookie, err := c.Request.Cookie(m.opts.CookieName); err == nil && cookie.Value != "" {
		data, ok, err := m.opts.Store.Read(cookie.Value)
		if err != nil {
			return nil, err
		}
		if ok {
			return newSession(cookie.Value, data), nil
		}
	}
	return newSession(uuid.NewString(), nil), nil
}

// Save persists the session. New and regenerated sessions always write;
// untouched existing ones do not.
func (m *Manager) Save(s *Session) error {
	id, prev, data, dirty := s.snapshot()
	if prev != "" {
		if err := m.opts.Store.Destroy(prev); err != nil {
			return err
		}
	}
	if dirty || prev != "" {
		return m.opts.Store.Write(id, data, m.opts.Lifetime)
	}
	return nil
}

func (m *Manager) setCookie(c *router.Context, id string) {
	secure := c.Scheme() == "https"
	sameSite := http.SameSiteLaxMode
	if secure {
		sameSite = http.SameSiteStrictMode
	}
	// Replace, not append: the cookie may be rewritten after Regenerate.
	hdr := c.Writer.Header()
	kept := hdr.Values("Set-Cookie")[:0:0]
	for _, v := range hdr.Values("Set-Cookie") {
		if !strings.HasPrefix(v, m.opts.CookieName+"=") {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		hdr.Del("Set-Cookie")
	} else {
		hdr["Set-Cookie"] = kept
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    id,
		Path:     m.opts.CookiePath,
		MaxAge:   int(m.opts.Lifetime.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	})
}

// Middleware starts the session before the chain and saves it afterwards.
// The cookie is set before the chain runs so it survives handlers that
// stream the body; Regenerate updates it as long as headers are unsent.
func (m *Manager) Middleware() router.HandlerFunc {
	return func(c *router.Context) {
		s, err := m.Start(c)
		if err != nil {
			c.Error(err)
			c.Next()
			return
		}
		c.Set(ContextKey, s)
		m.setCookie(c, s.ID())

		c.Next()

		id, prev, _, _ := s.snapshot()
		if prev != "" && !c.Writer.Written() {
			m.setCookie(c, id)
		}
		if err := m.Save(s); err != nil {
			c.Error(err)
		}
	}
}

// FromContext returns the request's session, or nil when the middleware is
// not installed.
func FromContext(c *router.Context) *Session {
	if v, ok := c.Get(ContextKey); ok {
		if s, ok := v.(*Session); ok {
			return s
		}
	}
	return nil
}
