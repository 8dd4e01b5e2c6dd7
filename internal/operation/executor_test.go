package operation

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pitabwire/odoorest/internal/contract"
	"github.com/pitabwire/odoorest/internal/gateway/memory"
	"github.com/pitabwire/odoorest/model"
)

// fakeGateway records calls into a shared log and delegates to fn fields.
type fakeGateway struct {
	calls *[]string

	searchReadFn   func(sess *model.Session, entity string, q model.SearchQuery) ([]model.Record, error)
	readFn         func(sess *model.Session, entity string, ids []int64, fields []string) ([]model.Record, error)
	createFn       func(entity string, values map[string]any) (int64, error)
	writeFn        func(ids []int64, values map[string]any) (bool, error)
	unlinkFn       func(ids []int64) (bool, error)
	authenticateFn func(serverURL, database, username, password string) (*model.Session, error)
}

func (f *fakeGateway) record(name string) {
	if f.calls != nil {
		*f.calls = append(*f.calls, name)
	}
}

func (f *fakeGateway) SearchRead(_ context.Context, sess *model.Session, entity string, q model.SearchQuery) ([]model.Record, error) {
	f.record("search_read")
	if f.searchReadFn != nil {
		return f.searchReadFn(sess, entity, q)
	}
	return []model.Record{}, nil
}

func (f *fakeGateway) Read(_ context.Context, sess *model.Session, entity string, ids []int64, fields []string) ([]model.Record, error) {
	f.record("read")
	if f.readFn != nil {
		return f.readFn(sess, entity, ids, fields)
	}
	return []model.Record{}, nil
}

func (f *fakeGateway) Create(_ context.Context, _ *model.Session, entity string, values map[string]any) (int64, error) {
	f.record("create")
	if f.createFn != nil {
		return f.createFn(entity, values)
	}
	return 1, nil
}

func (f *fakeGateway) Write(_ context.Context, _ *model.Session, _ string, ids []int64, values map[string]any) (bool, error) {
	f.record("write")
	if f.writeFn != nil {
		return f.writeFn(ids, values)
	}
	return true, nil
}

func (f *fakeGateway) Unlink(_ context.Context, _ *model.Session, _ string, ids []int64) (bool, error) {
	f.record("unlink")
	if f.unlinkFn != nil {
		return f.unlinkFn(ids)
	}
	return true, nil
}

func (f *fakeGateway) Authenticate(_ context.Context, serverURL, database, username, password string) (*model.Session, error) {
	f.record("authenticate")
	if f.authenticateFn != nil {
		return f.authenticateFn(serverURL, database, username, password)
	}
	return &model.Session{ID: "s1", UID: 2}, nil
}

type recordingObserver struct {
	events []Event
}

func (o *recordingObserver) OnOperation(_ context.Context, e Event) {
	o.events = append(o.events, e)
}

func sessionCtx() context.Context {
	return model.WithSession(context.Background(), &model.Session{ID: "s1", UID: 2})
}

func op(kind model.OperationKind) Operation {
	return Operation{Kind: kind, Entity: "res.partner"}
}

func TestExecute_missingRequiredKeyNeverCallsBackend(t *testing.T) {
	var calls []string
	e := NewExecutor(&fakeGateway{calls: &calls})

	tests := []struct {
		kind model.OperationKind
		raw  model.ParamDict
	}{
		{model.OpRead, model.ParamDict{"fields": []string{"name"}}},
		{model.OpWrite, model.ParamDict{"ids": []int{1}}},
		{model.OpUnlink, model.ParamDict{}},
		{model.OpAuthenticate, model.ParamDict{"username": "admin"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			resp := e.Execute(sessionCtx(), op(tt.kind), tt.raw)
			if resp.Status != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.Status)
			}
			env, ok := resp.Body.(model.Envelope)
			if !ok {
				t.Fatalf("body = %T, want model.Envelope", resp.Body)
			}
			if env.Code != model.ErrMissingRequiredField {
				t.Errorf("code = %q, want %q", env.Code, model.ErrMissingRequiredField)
			}
		})
	}
	if len(calls) != 0 {
		t.Errorf("backend calls = %v, want none", calls)
	}
}

func TestExecute_searchReadWithoutDomain(t *testing.T) {
	var got model.SearchQuery
	gw := &fakeGateway{
		searchReadFn: func(_ *model.Session, _ string, q model.SearchQuery) ([]model.Record, error) {
			got = q
			return []model.Record{{"id": 1}}, nil
		},
	}
	o := op(model.OpSearchRead)
	o.Options = contract.Options{AllowedFields: []string{"name", "email"}}

	resp := NewExecutor(gw).Execute(sessionCtx(), o, model.ParamDict{})
	if resp.Status != http.StatusOK {
		t.Fatalf("status = %d, want 200: %+v", resp.Status, resp.Body)
	}
	if len(got.Domain) != 0 {
		t.Errorf("domain = %v, want empty", got.Domain)
	}
	if want := []string{"name", "email"}; !reflect.DeepEqual(got.Fields, want) {
		t.Errorf("fields = %v, want %v", got.Fields, want)
	}
}

func TestExecute_hookOrder(t *testing.T) {
	var calls []string
	gw := &fakeGateway{
		calls: &calls,
		searchReadFn: func(_ *model.Session, _ string, _ model.SearchQuery) ([]model.Record, error) {
			return []model.Record{{"id": 1}}, nil
		},
	}
	e := NewExecutor(gw)

	var afterGot, customGot any
	var afterParams, customParams model.Params
	raw := model.ParamDict{
		"domain": []any{},
		"after_execution": func(result any, p model.Params) (any, error) {
			calls = append(calls, "after_execution")
			afterGot, afterParams = result, p
			return "transformed", nil
		},
		"custom_response": func(result any, p model.Params) (any, error) {
			calls = append(calls, "custom_response")
			customGot, customParams = result, p
			return map[string]any{"custom": result}, nil
		},
	}

	resp := e.Execute(sessionCtx(), op(model.OpSearchRead), raw)

	want := []string{"search_read", "after_execution", "custom_response"}
	if !reflect.DeepEqual(calls, want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	if !reflect.DeepEqual(afterGot, []model.Record{{"id": 1}}) {
		t.Errorf("after_execution got %v, want the backend result", afterGot)
	}
	if customGot != "transformed" {
		t.Errorf("custom_response got %v, want the after_execution output", customGot)
	}
	sr, ok := afterParams.(model.SearchReadParams)
	if !ok {
		t.Fatalf("hook params = %T", afterParams)
	}
	if !sr.Hooks.Empty() {
		t.Error("hooks must be stripped from the params handed to hooks")
	}
	if !reflect.DeepEqual(afterParams, customParams) {
		t.Error("both hooks should receive the same params")
	}

	if !reflect.DeepEqual(resp.Body, map[string]any{"custom": "transformed"}) {
		t.Errorf("body = %#v, want the custom_response value verbatim", resp.Body)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.Status)
	}
}

func TestExecute_customResponseEnvelopeStatus(t *testing.T) {
	e := NewExecutor(&fakeGateway{})
	raw := model.ParamDict{
		"ids": []int{1},
		"custom_response": func(result any, _ model.Params) (any, error) {
			return model.Envelope{Data: result, Status: http.StatusCreated}, nil
		},
	}

	resp := e.Execute(sessionCtx(), op(model.OpUnlink), raw)
	if resp.Status != http.StatusCreated {
		t.Errorf("status = %d, want 201", resp.Status)
	}
}

func TestExecute_noHooksWrapsRawResult(t *testing.T) {
	records := []model.Record{{"id": int64(5), "name": "Bob"}}
	gw := &fakeGateway{
		readFn: func(_ *model.Session, _ string, _ []int64, _ []string) ([]model.Record, error) {
			return records, nil
		},
	}
	resp := NewExecutor(gw).Execute(sessionCtx(), op(model.OpRead), model.ParamDict{"ids": []int{5}})

	env, ok := resp.Body.(model.Envelope)
	if !ok {
		t.Fatalf("body = %T, want model.Envelope", resp.Body)
	}
	if env.Status != http.StatusOK || resp.Status != http.StatusOK {
		t.Errorf("status = %d/%d, want 200", env.Status, resp.Status)
	}
	if !reflect.DeepEqual(env.Data, records) {
		t.Errorf("data = %v, want %v", env.Data, records)
	}
}

func TestExecute_domainErrorBecomes400(t *testing.T) {
	gw := &fakeGateway{
		writeFn: func(_ []int64, _ map[string]any) (bool, error) {
			return false, model.NewNotFoundError("Record does not exist or has been deleted.")
		},
	}
	resp := NewExecutor(gw).Execute(sessionCtx(), op(model.OpWrite), model.ParamDict{
		"ids":    []int{42},
		"values": map[string]any{"name": "X"},
	})

	env := resp.Body.(model.Envelope)
	if resp.Status != http.StatusBadRequest || env.Status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.Status)
	}
	if env.Error != "Record does not exist or has been deleted." {
		t.Errorf("error = %q, want the backend text", env.Error)
	}
}

func TestExecute_backendErrorClasses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"access", model.NewAccessDeniedError("nope"), 403, model.ErrAccessDenied},
		{"expired", model.NewSessionExpiredError(""), 401, model.ErrSessionExpired},
		{"unavailable", model.NewBackendUnavailableError(nil), 503, model.ErrBackendUnavailable},
		{"deadline", context.DeadlineExceeded, 503, model.ErrBackendTimeout},
		{"unclassified", errors.New("kaboom"), 500, model.ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{unlinkFn: func(_ []int64) (bool, error) { return false, tt.err }}
			resp := NewExecutor(gw).Execute(sessionCtx(), op(model.OpUnlink), model.ParamDict{"ids": []int{1}})
			env := resp.Body.(model.Envelope)
			if resp.Status != tt.status || env.Code != tt.code {
				t.Errorf("got %d %s, want %d %s", resp.Status, env.Code, tt.status, tt.code)
			}
		})
	}
}

func TestExecute_hookFailures(t *testing.T) {
	tests := []struct {
		name   string
		raw    model.ParamDict
		prefix string
	}{
		{
			name: "after_execution error",
			raw: model.ParamDict{"ids": []int{1}, "after_execution": func(any, model.Params) (any, error) {
				return nil, errors.New("bad transform")
			}},
			prefix: "hook after_execution failed: bad transform",
		},
		{
			name: "after_execution panic",
			raw: model.ParamDict{"ids": []int{1}, "after_execution": func(any, model.Params) (any, error) {
				panic("oops")
			}},
			prefix: "hook after_execution failed: panic: oops",
		},
		{
			name: "custom_response error",
			raw: model.ParamDict{"ids": []int{1}, "custom_response": func(any, model.Params) (any, error) {
				return nil, model.NewDomainError("looks like a backend error")
			}},
			prefix: "hook custom_response failed:",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := NewExecutor(&fakeGateway{}).Execute(sessionCtx(), op(model.OpRead), tt.raw)
			env, ok := resp.Body.(model.Envelope)
			if !ok {
				t.Fatalf("body = %T, want model.Envelope", resp.Body)
			}
			if resp.Status != http.StatusInternalServerError {
				t.Errorf("status = %d, want 500", resp.Status)
			}
			if env.Code != model.ErrHook {
				t.Errorf("code = %q, want %q", env.Code, model.ErrHook)
			}
			if !strings.HasPrefix(env.Error, tt.prefix) {
				t.Errorf("error = %q, want prefix %q", env.Error, tt.prefix)
			}
		})
	}
}

func TestExecute_afterExecutionFailureSkipsCustomResponse(t *testing.T) {
	customCalled := false
	raw := model.ParamDict{
		"ids":             []int{1},
		"after_execution": func(any, model.Params) (any, error) { return nil, errors.New("x") },
		"custom_response": func(r any, _ model.Params) (any, error) { customCalled = true; return r, nil },
	}
	NewExecutor(&fakeGateway{}).Execute(sessionCtx(), op(model.OpRead), raw)
	if customCalled {
		t.Error("custom_response must not run after a failed after_execution")
	}
}

func TestExecute_missingSession(t *testing.T) {
	var calls []string
	resp := NewExecutor(&fakeGateway{calls: &calls}).Execute(context.Background(), op(model.OpRead), model.ParamDict{"ids": []int{1}})

	env := resp.Body.(model.Envelope)
	if resp.Status != http.StatusUnauthorized || env.Code != model.ErrSessionMissing {
		t.Errorf("got %d %s, want 401 SESSION_MISSING", resp.Status, env.Code)
	}
	if env.Error != "Odoo session not provided." {
		t.Errorf("error = %q", env.Error)
	}
	if len(calls) != 0 {
		t.Errorf("backend calls = %v, want none", calls)
	}
}

func TestExecute_baseURLOverridesSessionServer(t *testing.T) {
	var got *model.Session
	gw := &fakeGateway{
		readFn: func(sess *model.Session, _ string, _ []int64, _ []string) ([]model.Record, error) {
			got = sess
			return nil, nil
		},
	}
	NewExecutor(gw).Execute(sessionCtx(), op(model.OpRead), model.ParamDict{"ids": []int{1}, "base_url": "http://other"})
	if got == nil || got.ServerURL != "http://other" {
		t.Errorf("session = %+v, want ServerURL http://other", got)
	}
}

func TestExecute_searchReadForwardsNormalizedQuery(t *testing.T) {
	var gotQuery model.SearchQuery
	var gotEntity string
	gw := &fakeGateway{
		searchReadFn: func(_ *model.Session, entity string, q model.SearchQuery) ([]model.Record, error) {
			gotEntity, gotQuery = entity, q
			return nil, nil
		},
	}
	NewExecutor(gw).Execute(sessionCtx(), op(model.OpSearchRead), model.ParamDict{
		"domain": []any{[]any{"is_company", "=", true}},
		"limit":  float64(5),
	})

	if gotEntity != "res.partner" {
		t.Errorf("entity = %q", gotEntity)
	}
	if gotQuery.Limit == nil || *gotQuery.Limit != 5 {
		t.Errorf("limit = %v, want 5", gotQuery.Limit)
	}
	if gotQuery.Offset != 0 || gotQuery.Order != "" || gotQuery.Fields != nil {
		t.Errorf("defaults not applied: %+v", gotQuery)
	}
	want := model.Domain{{Field: "is_company", Operator: "=", Value: true}}
	if !reflect.DeepEqual(gotQuery.Domain, want) {
		t.Errorf("domain = %v, want %v", gotQuery.Domain, want)
	}
}

func TestExecute_disallowedField(t *testing.T) {
	var calls []string
	o := op(model.OpRead)
	o.Options = contract.Options{AllowedFields: []string{"name"}}

	resp := NewExecutor(&fakeGateway{calls: &calls}).Execute(sessionCtx(), o, model.ParamDict{
		"ids":    []int{1},
		"fields": []string{"name", "salary"},
	})
	if resp.Status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.Status)
	}
	if len(calls) != 0 {
		t.Errorf("backend calls = %v, want none", calls)
	}
}

func TestExecute_authenticate(t *testing.T) {
	var gotURL, gotDB string
	gw := &fakeGateway{
		authenticateFn: func(serverURL, database, username, password string) (*model.Session, error) {
			gotURL, gotDB = serverURL, database
			if password != "secret" {
				return nil, model.NewAuthenticationError("Access Denied")
			}
			return &model.Session{ID: "abc", UID: 7}, nil
		},
	}
	e := NewExecutor(gw)
	o := Operation{Kind: model.OpAuthenticate, ServerURL: "http://odoo", Database: "prod"}

	resp := e.Execute(context.Background(), o, model.ParamDict{"username": "admin", "password": "secret"})
	if resp.Status != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Status)
	}
	if gotURL != "http://odoo" || gotDB != "prod" {
		t.Errorf("authenticate got %q %q", gotURL, gotDB)
	}
	if resp.Session == nil || resp.Session.ID != "abc" {
		t.Errorf("session = %+v", resp.Session)
	}
	env := resp.Body.(model.Envelope)
	want := map[string]any{"message": "Authentication successful", "uid": int64(7)}
	if !reflect.DeepEqual(env.Data, want) {
		t.Errorf("data = %v, want %v", env.Data, want)
	}

	resp = e.Execute(context.Background(), o, model.ParamDict{"username": "admin", "password": "wrong"})
	if resp.Status != http.StatusUnauthorized || resp.Session != nil {
		t.Errorf("got %d session=%v, want 401 without session", resp.Status, resp.Session)
	}
}

func TestExecute_observerAndLogs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	obs := &recordingObserver{}
	gw := &fakeGateway{unlinkFn: func(_ []int64) (bool, error) {
		return false, model.NewBackendUnavailableError(nil)
	}}
	e := NewExecutor(gw, WithLogger(zap.New(core)), WithObserver(obs))

	e.Execute(sessionCtx(), op(model.OpUnlink), model.ParamDict{"ids": []int{1}})
	e.Execute(sessionCtx(), op(model.OpUnlink), model.ParamDict{"bogus": true})

	if len(obs.events) != 2 {
		t.Fatalf("events = %d, want 2", len(obs.events))
	}
	first := obs.events[0]
	if first.Stage != StageBackend || first.Status != 503 || first.Code != model.ErrBackendUnavailable {
		t.Errorf("first event = %+v", first)
	}
	second := obs.events[1]
	if second.Stage != StageValidate || second.Status != 400 {
		t.Errorf("second event = %+v", second)
	}

	if n := logs.FilterMessage("operation failed").Len(); n != 1 {
		t.Errorf("error logs = %d, want 1", n)
	}
	if n := logs.FilterMessage("operation rejected").Len(); n != 1 {
		t.Errorf("warn logs = %d, want 1", n)
	}
}

func TestExecute_paramsNotLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e := NewExecutor(&fakeGateway{}, WithLogger(zap.New(core)))
	e.Execute(context.Background(), Operation{Kind: model.OpAuthenticate}, model.ParamDict{"username": "admin", "password": "hunter2"})

	for _, entry := range logs.All() {
		for _, f := range entry.Context {
			if strings.Contains(f.String, "hunter2") {
				t.Errorf("password leaked in log field %q", f.Key)
			}
		}
	}
}

func TestExecute_span(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	e := NewExecutor(&fakeGateway{}, WithTracer(tp.Tracer("test")))
	e.Execute(sessionCtx(), op(model.OpUnlink), model.ParamDict{"ids": []int{1}})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != SpanName {
		t.Errorf("span name = %q", spans[0].Name)
	}
	attrs := map[string]string{}
	for _, a := range spans[0].Attributes {
		attrs[string(a.Key)] = a.Value.Emit()
	}
	if attrs["odoorest.kind"] != "unlink" || attrs["odoorest.entity"] != "res.partner" || attrs["odoorest.status"] != "200" {
		t.Errorf("attributes = %v", attrs)
	}
}

// The remaining properties run against the in-memory backend.

func memoryCtx(t *testing.T, e *Executor) context.Context {
	t.Helper()
	resp := e.Execute(context.Background(), Operation{Kind: model.OpAuthenticate, Database: "odoo"},
		model.ParamDict{"username": "admin", "password": "admin"})
	if resp.Session == nil {
		t.Fatalf("authenticate failed: %+v", resp.Body)
	}
	return model.WithSession(context.Background(), resp.Session)
}

func TestMemory_readMissingIDIsNotAnError(t *testing.T) {
	b := memory.New(memory.WithUser("admin", "admin"))
	for i := 0; i < 5; i++ {
		b.Seed("res.partner", model.Record{"name": "p"})
	}
	e := NewExecutor(b)
	ctx := memoryCtx(t, e)

	resp := e.Execute(ctx, op(model.OpRead), model.ParamDict{"ids": []int{5, 99}})
	env := resp.Body.(model.Envelope)
	records, ok := env.Data.([]model.Record)
	if resp.Status != 200 || !ok || len(records) != 1 || records[0]["id"] != int64(5) {
		t.Errorf("got %d %v", resp.Status, env.Data)
	}
}

func TestMemory_createTwiceGivesTwoIDs(t *testing.T) {
	b := memory.New(memory.WithUser("admin", "admin"))
	e := NewExecutor(b)
	ctx := memoryCtx(t, e)

	first := e.Execute(ctx, op(model.OpCreate), model.ParamDict{"name": "Same"}).Body.(model.Envelope)
	second := e.Execute(ctx, op(model.OpCreate), model.ParamDict{"name": "Same"}).Body.(model.Envelope)
	if first.Data == second.Data {
		t.Errorf("create returned the same id twice: %v", first.Data)
	}
}

func TestMemory_writeThenRead(t *testing.T) {
	b := memory.New(memory.WithUser("admin", "admin"), memory.WithRecords("res.partner", model.Record{"name": "Old"}))
	e := NewExecutor(b)
	ctx := memoryCtx(t, e)

	w := e.Execute(ctx, op(model.OpWrite), model.ParamDict{"ids": []int{1}, "values": map[string]any{"name": "X"}})
	if w.Status != 200 {
		t.Fatalf("write status = %d: %+v", w.Status, w.Body)
	}
	r := e.Execute(ctx, op(model.OpRead), model.ParamDict{"ids": []int{1}, "fields": []string{"name"}})
	records := r.Body.(model.Envelope).Data.([]model.Record)
	if len(records) != 1 || records[0]["name"] != "X" {
		t.Errorf("read = %v, want name X", records)
	}
}

func TestMemory_writeMissingIDIs400(t *testing.T) {
	b := memory.New(memory.WithUser("admin", "admin"))
	e := NewExecutor(b)
	ctx := memoryCtx(t, e)

	resp := e.Execute(ctx, op(model.OpWrite), model.ParamDict{"ids": []int{404}, "values": map[string]any{"name": "X"}})
	env := resp.Body.(model.Envelope)
	if resp.Status != 400 || env.Error != "Record does not exist or has been deleted." {
		t.Errorf("got %d %q", resp.Status, env.Error)
	}
}
