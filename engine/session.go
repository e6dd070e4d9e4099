package engine

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"
)

// SessionCookie names the cookie carrying the session token
const SessionCookie = "vidfrompdf_session"

const sessionContextKey = "session"

// Sessions maps session tokens to the project each session is working on.
// It holds identifiers only; project state lives in the Store.
type Sessions struct {
	mu      sync.Mutex
	current map[string]ulid.ULID
}

// NewSessions creates an empty registry
func NewSessions() *Sessions {
	return &Sessions{current: make(map[string]ulid.ULID)}
}

// Bind makes id the session's current project
func (s *Sessions) Bind(session string, id ulid.ULID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current[session] = id
}

// Current returns the session's bound project
func (s *Sessions) Current(session string) (ulid.ULID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.current[session]
	return id, ok
}

// Forget drops every binding to id
func (s *Sessions) Forget(id ulid.ULID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for session, bound := range s.current {
		if bound == id {
			delete(s.current, session)
		}
	}
}

// SessionMiddleware makes sure every request carries a session token,
// issuing a cookie on first contact.
func SessionMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := ""
			if cookie, err := c.Cookie(SessionCookie); err == nil {
				if _, err := uuid.Parse(cookie.Value); err == nil {
					token = cookie.Value
				}
			}
			if token == "" {
				token = uuid.NewString()
				c.SetCookie(&http.Cookie{
					Name:     SessionCookie,
					Value:    token,
					Path:     "/",
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
					Expires:  time.Now().Add(30 * 24 * time.Hour),
				})
			}
			c.Set(sessionContextKey, token)
			return next(c)
		}
	}
}

// SessionFrom returns the token set by SessionMiddleware
func SessionFrom(c echo.Context) string {
	token, _ := c.Get(sessionContextKey).(string)
	return token
}
