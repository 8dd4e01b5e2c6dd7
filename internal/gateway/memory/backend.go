// Package memory is the in-process realization of model.Gateway. Records
// live in per-model tables guarded by a single RWMutex; sessions are issued
// by Authenticate and checked on every other call.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/pitabwire/odoorest/model"
)

// missingRecordMessage is the text the backend reports for write and unlink
// on identifiers that do not exist.
const missingRecordMessage = "Record does not exist or has been deleted."

type user struct {
	uid      int64
	login    string
	password string
}

type table struct {
	nextID int64
	rows   map[int64]model.Record
}

// Backend is an in-memory object store implementing model.Gateway.
type Backend struct {
	mu       sync.RWMutex
	database string
	tables   map[string]*table
	users    map[string]user
	nextUID  int64
	sessions map[string]*model.Session
}

// Option configures a Backend.
type Option func(*Backend)

// WithDatabase restricts Authenticate to the named database.
func WithDatabase(name string) Option {
	return func(b *Backend) { b.database = name }
}

// WithUser registers a login that Authenticate accepts.
func WithUser(login, password string) Option {
	return func(b *Backend) { b.addUser(login, password) }
}

// WithRecords seeds entity with the given records.
func WithRecords(entity string, records ...model.Record) Option {
	return func(b *Backend) { b.insert(entity, records...) }
}

// New creates an empty Backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		tables:   make(map[string]*table),
		users:    make(map[string]user),
		nextUID:  1,
		sessions: make(map[string]*model.Session),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddUser registers a login and returns its uid.
func (b *Backend) AddUser(login, password string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addUser(login, password)
}

func (b *Backend) addUser(login, password string) int64 {
	if u, ok := b.users[login]; ok {
		u.password = password
		b.users[login] = u
		return u.uid
	}
	uid := b.nextUID
	b.nextUID++
	b.users[login] = user{uid: uid, login: login, password: password}
	return uid
}

// Seed inserts records into entity without a session and returns their ids.
func (b *Backend) Seed(entity string, records ...model.Record) []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.insert(entity, records...)
}

func (b *Backend) insert(entity string, records ...model.Record) []int64 {
	t := b.table(entity)
	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		t.nextID++
		row := copyValues(rec)
		row["id"] = t.nextID
		t.rows[t.nextID] = row
		ids = append(ids, t.nextID)
	}
	return ids
}

// Expire invalidates a session; later calls with it fail with SESSION_EXPIRED.
func (b *Backend) Expire(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sessionID)
}

// HealthCheck always succeeds unless ctx is done.
func (b *Backend) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

// Len returns the number of records stored for entity.
func (b *Backend) Len(entity string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if t, ok := b.tables[entity]; ok {
		return len(t.rows)
	}
	return 0
}

// table returns the table for entity, creating it. Callers hold the write lock.
func (b *Backend) table(entity string) *table {
	t, ok := b.tables[entity]
	if !ok {
		t = &table{rows: make(map[int64]model.Record)}
		b.tables[entity] = t
	}
	return t
}

// checkCall rejects cancelled contexts and unknown sessions. Callers hold
// at least the read lock.
func (b *Backend) checkCall(ctx context.Context, sess *model.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sess == nil || sess.ID == "" {
		return model.NewSessionMissingError()
	}
	if _, ok := b.sessions[sess.ID]; !ok {
		return model.NewSessionExpiredError("")
	}
	return nil
}

// SearchRead returns the records of entity matching q.
func (b *Backend) SearchRead(ctx context.Context, sess *model.Session, entity string, q model.SearchQuery) ([]model.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkCall(ctx, sess); err != nil {
		return nil, err
	}

	keys, err := parseOrder(q.Order)
	if err != nil {
		return nil, err
	}

	var matched []model.Record
	if t, ok := b.tables[entity]; ok {
		for _, row := range t.rows {
			ok, err := matchDomain(row, q.Domain)
			if err != nil {
				return nil, err
			}
			if ok {
				matched = append(matched, row)
			}
		}
	}
	sortRecords(matched, keys)

	if q.Offset >= len(matched) {
		return []model.Record{}, nil
	}
	matched = matched[q.Offset:]
	if q.Limit != nil && *q.Limit > 0 && *q.Limit < len(matched) {
		matched = matched[:*q.Limit]
	}

	out := make([]model.Record, len(matched))
	for i, row := range matched {
		out[i] = project(row, q.Fields)
	}
	return out, nil
}

// Read returns the records for ids in the order given, omitting missing ids.
func (b *Backend) Read(ctx context.Context, sess *model.Session, entity string, ids []int64, fields []string) ([]model.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkCall(ctx, sess); err != nil {
		return nil, err
	}

	out := make([]model.Record, 0, len(ids))
	t, ok := b.tables[entity]
	if !ok {
		return out, nil
	}
	for _, id := range ids {
		if row, ok := t.rows[id]; ok {
			out = append(out, project(row, fields))
		}
	}
	return out, nil
}

// Create inserts a record and returns its new id.
func (b *Backend) Create(ctx context.Context, sess *model.Session, entity string, values map[string]any) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkCall(ctx, sess); err != nil {
		return 0, err
	}
	return b.insert(entity, values)[0], nil
}

// Write updates every record in ids. Nothing is changed if any id is missing.
func (b *Backend) Write(ctx context.Context, sess *model.Session, entity string, ids []int64, values map[string]any) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkCall(ctx, sess); err != nil {
		return false, err
	}
	if _, ok := values["id"]; ok {
		return false, model.NewDomainError("The id field cannot be written")
	}

	t, err := b.existing(entity, ids)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		for k, v := range values {
			t.rows[id][k] = v
		}
	}
	return true, nil
}

// Unlink deletes every record in ids. Nothing is deleted if any id is missing.
func (b *Backend) Unlink(ctx context.Context, sess *model.Session, entity string, ids []int64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkCall(ctx, sess); err != nil {
		return false, err
	}

	t, err := b.existing(entity, ids)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		delete(t.rows, id)
	}
	return true, nil
}

func (b *Backend) existing(entity string, ids []int64) (*table, error) {
	t, ok := b.tables[entity]
	if !ok {
		return nil, model.NewNotFoundError(missingRecordMessage)
	}
	for _, id := range ids {
		if _, ok := t.rows[id]; !ok {
			return nil, model.NewNotFoundError(missingRecordMessage)
		}
	}
	return t, nil
}

// Authenticate checks the credentials and issues a new session.
func (b *Backend) Authenticate(ctx context.Context, serverURL, database, username, password string) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.database != "" && database != b.database {
		return nil, model.NewAuthenticationError(fmt.Sprintf("database %q does not exist", database))
	}
	u, ok := b.users[username]
	if !ok || u.password != password {
		return nil, model.NewAuthenticationError("Access Denied")
	}

	sess := &model.Session{
		ID:        uuid.NewString(),
		UID:       u.uid,
		Database:  database,
		ServerURL: serverURL,
	}
	sess.Cookies = map[string]string{model.SessionCookie: sess.ID}
	b.sessions[sess.ID] = sess
	return sess, nil
}

// project copies row keeping only fields, plus id. A nil fields keeps all.
func project(row model.Record, fields []string) model.Record {
	if fields == nil {
		return copyValues(row)
	}
	out := make(model.Record, len(fields)+1)
	out["id"] = row["id"]
	for _, f := range fields {
		out[f] = row[f]
	}
	return out
}

func copyValues(m map[string]any) model.Record {
	out := make(model.Record, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

