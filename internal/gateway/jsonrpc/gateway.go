package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/pitabwire/odoorest/model"
)

type callKW struct {
	Model  string         `json:"model"`
	Method string         `json:"method"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

func (c *Client) execute(ctx context.Context, sess *model.Session, entity, method string, args []any, kwargs map[string]any) (gjson.Result, error) {
	if sess == nil || sess.ID == "" {
		return gjson.Result{}, model.NewSessionMissingError()
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	r, err := c.call(ctx, c.serverURL(sess), callKWPath, callKW{
		Model:  entity,
		Method: method,
		Args:   args,
		Kwargs: kwargs,
	}, sessionCookies(sess))
	if err != nil {
		return gjson.Result{}, err
	}
	return r.result, nil
}

// SearchRead calls search_read on entity.
func (c *Client) SearchRead(ctx context.Context, sess *model.Session, entity string, q model.SearchQuery) ([]model.Record, error) {
	kwargs := map[string]any{"offset": q.Offset}
	if q.Fields != nil {
		kwargs["fields"] = q.Fields
	}
	if q.Limit != nil {
		kwargs["limit"] = *q.Limit
	}
	if q.Order != "" {
		kwargs["order"] = q.Order
	}

	res, err := c.execute(ctx, sess, entity, "search_read", []any{q.Domain.Triples()}, kwargs)
	if err != nil {
		return nil, err
	}
	return decodeRecords(res)
}

// Read fetches ids through search_read and returns them in the order of ids.
// Identifiers the backend does not return are omitted.
func (c *Client) Read(ctx context.Context, sess *model.Session, entity string, ids []int64, fields []string) ([]model.Record, error) {
	kwargs := map[string]any{}
	if fields != nil {
		kwargs["fields"] = fields
	}
	domain := model.Domain{{Field: "id", Operator: "in", Value: ids}}

	res, err := c.execute(ctx, sess, entity, "search_read", []any{domain.Triples()}, kwargs)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]gjson.Result)
	res.ForEach(func(_, rec gjson.Result) bool {
		byID[rec.Get("id").Int()] = rec
		return true
	})

	out := make([]model.Record, 0, len(ids))
	for _, id := range ids {
		rec, ok := byID[id]
		if !ok {
			continue
		}
		r, err := decodeRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Create calls create with a single values mapping.
func (c *Client) Create(ctx context.Context, sess *model.Session, entity string, values map[string]any) (int64, error) {
	res, err := c.execute(ctx, sess, entity, "create", []any{values}, nil)
	if err != nil {
		return 0, err
	}
	// Recent servers answer a list even for a single mapping.
	if res.IsArray() {
		res = res.Get("0")
	}
	if res.Type != gjson.Number {
		return 0, model.NewTransportError(fmt.Errorf("create returned %s, want an identifier", res.Raw))
	}
	return res.Int(), nil
}

// Write calls write on ids.
func (c *Client) Write(ctx context.Context, sess *model.Session, entity string, ids []int64, values map[string]any) (bool, error) {
	res, err := c.execute(ctx, sess, entity, "write", []any{ids, values}, nil)
	if err != nil {
		return false, err
	}
	return res.Bool(), nil
}

// Unlink calls unlink on ids.
func (c *Client) Unlink(ctx context.Context, sess *model.Session, entity string, ids []int64) (bool, error) {
	res, err := c.execute(ctx, sess, entity, "unlink", []any{ids}, nil)
	if err != nil {
		return false, err
	}
	return res.Bool(), nil
}

// Authenticate opens a session. Empty serverURL or database fall back to
// the configured defaults. Every failure, including an unreachable server,
// is reported as an authentication error.
func (c *Client) Authenticate(ctx context.Context, serverURL, database, username, password string) (*model.Session, error) {
	if serverURL == "" {
		serverURL = c.cfg.URL
	}
	if database == "" {
		database = c.cfg.Database
	}

	r, err := c.call(ctx, serverURL, authenticatePath, map[string]any{
		"db":       database,
		"login":    username,
		"password": password,
	}, nil)
	if err != nil {
		if me := model.AsError(err); me != nil && me.Kind() == model.KindTransport {
			return nil, &model.Error{
				Code:    model.ErrAuthentication,
				Message: "Network error: " + me.Message,
				Err:     err,
			}
		}
		return nil, err
	}

	uid := r.result.Get("uid")
	if !r.result.IsObject() || uid.Type != gjson.Number {
		return nil, model.NewAuthenticationError("Authentication failed.")
	}

	sess := &model.Session{
		UID:       uid.Int(),
		Database:  database,
		ServerURL: serverURL,
		Cookies:   make(map[string]string),
	}
	for _, ck := range r.cookies {
		sess.Cookies[ck.Name] = ck.Value
	}
	sess.ID = sess.Cookies[model.SessionCookie]
	if sess.ID == "" {
		return nil, model.NewAuthenticationError("No session ID found in the response cookies.")
	}
	return sess, nil
}

func decodeRecords(res gjson.Result) ([]model.Record, error) {
	if !res.IsArray() {
		return nil, model.NewTransportError(fmt.Errorf("search_read returned %s, want a list", truncate(res.Raw)))
	}
	out := make([]model.Record, 0, len(res.Array()))
	for _, rec := range res.Array() {
		r, err := decodeRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func decodeRecord(rec gjson.Result) (model.Record, error) {
	var out model.Record
	if err := json.Unmarshal([]byte(rec.Raw), &out); err != nil {
		return nil, model.NewTransportError(fmt.Errorf("decode record: %w", err))
	}
	return out, nil
}

func truncate(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}

var _ model.Gateway = (*Client)(nil)
