package model

import "context"

// SessionCookie is the cookie name the backend uses for its session token.
const SessionCookie = "session_id"

// Session is the opaque credential returned by authenticate and required by
// every other backend call. It is owned by the host's request scope and is
// never cached by the pipeline.
type Session struct {
	ID        string            `json:"-"`
	UID       int64             `json:"uid"`
	Database  string            `json:"database,omitempty"`
	ServerURL string            `json:"-"`
	Cookies   map[string]string `json:"-"`
}

// WithServerURL returns a copy of the session bound to the given server URL.
// An empty url leaves the session unchanged.
func (s *Session) WithServerURL(url string) *Session {
	if url == "" {
		return s
	}
	cp := *s
	cp.ServerURL = url
	return &cp
}

type sessionKey struct{}

// WithSession attaches a Session to the given context.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom extracts the Session from the context, or returns nil if not
// present.
func SessionFrom(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}
