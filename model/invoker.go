package model

import "context"

// Record is one backend record as a field-value mapping.
type Record = map[string]any

// SearchQuery carries the normalized search_read arguments to a Gateway.
type SearchQuery struct {
	Domain Domain
	Fields []string
	Limit  *int
	Offset int
	Order  string
}

// Gateway is the uniform call surface to the remote object backend. Both
// realizations (in-process and JSON-RPC) implement it identically.
//
// Backend business failures are reported as *Error values with a domain,
// authentication or authorization code; network failures as transport codes.
type Gateway interface {
	// SearchRead returns the records matching q.
	SearchRead(ctx context.Context, sess *Session, entity string, q SearchQuery) ([]Record, error)

	// Read returns the records for ids, in the order of ids. Identifiers
	// without a matching record are omitted.
	Read(ctx context.Context, sess *Session, entity string, ids []int64, fields []string) ([]Record, error)

	// Create inserts one record and returns its identifier.
	Create(ctx context.Context, sess *Session, entity string, values map[string]any) (int64, error)

	// Write updates the records identified by ids.
	Write(ctx context.Context, sess *Session, entity string, ids []int64, values map[string]any) (bool, error)

	// Unlink deletes the records identified by ids.
	Unlink(ctx context.Context, sess *Session, entity string, ids []int64) (bool, error)

	// Authenticate performs the session handshake.
	Authenticate(ctx context.Context, serverURL, database, username, password string) (*Session, error)
}
