// Package resource exposes configured backend models as REST resources. It
// turns a host-neutral Request into the parameter dict of each operation and
// leaves every validation decision to the operation pipeline.
package resource

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pitabwire/odoorest/model"
)

// MaxBodyBytes bounds the JSON bodies hosts read.
const MaxBodyBytes = 1 << 20

// Request is the part of an inbound HTTP request the handlers read.
type Request struct {
	Query url.Values
	// ID is the {id} path segment of item routes.
	ID   string
	Body []byte
}

// object decodes the body as a JSON object, keeping numbers as json.Number.
// An empty body decodes to an empty object.
func (r Request) object() (map[string]any, error) {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(r.Body))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil || out == nil {
		return nil, model.NewValidationError("body", "request body must be a JSON object")
	}
	return out, nil
}

// id returns the path identifier as an int64 when it parses, or the raw
// string so that the contract reports the type error.
func (r Request) id() any {
	if n, err := strconv.ParseInt(r.ID, 10, 64); err == nil {
		return n
	}
	return r.ID
}

// integer is like id for query values.
func integer(raw string) any {
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return raw
}

// fieldList splits a comma separated field list, dropping blanks.
func fieldList(raw string) []any {
	parts := strings.Split(raw, ",")
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SessionFromCookies builds the backend session carried by the request
// cookies, or nil when there is no session_id cookie.
func SessionFromCookies(cookies []*http.Cookie) *model.Session {
	var sess *model.Session
	all := make(map[string]string, len(cookies))
	for _, c := range cookies {
		all[c.Name] = c.Value
		if c.Name == model.SessionCookie && c.Value != "" {
			sess = &model.Session{ID: c.Value}
		}
	}
	if sess == nil {
		return nil
	}
	delete(all, model.SessionCookie)
	sess.Cookies = all
	return sess
}

// SessionCookies returns the cookies a host sets after a successful
// authenticate: session_id plus every other backend cookie.
func SessionCookies(sess *model.Session, secure bool) []*http.Cookie {
	if sess == nil {
		return nil
	}
	out := []*http.Cookie{sessionCookie(model.SessionCookie, sess.ID, secure)}
	for _, name := range sortedNames(sess.Cookies) {
		if name == model.SessionCookie {
			continue
		}
		out = append(out, sessionCookie(name, sess.Cookies[name], secure))
	}
	return out
}

func sessionCookie(name, value string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
