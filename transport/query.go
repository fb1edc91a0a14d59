package transport

import "net/url"

// Query holds the handshake query parameters of a connection. Repeated keys
// keep their first value.
type Query map[string]string

// QueryFromValues flattens url.Values into a Query.
func QueryFromValues(values url.Values) Query {
	q := make(Query, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			q[key] = vals[0]
		}
	}
	return q
}

// Lookup returns the value for name and whether it was present.
func (q Query) Lookup(name string) (string, bool) {
	v, ok := q[name]
	return v, ok
}

// Get returns the value for name or "".
func (q Query) Get(name string) string {
	return q[name]
}

// Clone returns a shallow copy; a nil Query clones to an empty one.
func (q Query) Clone() Query {
	cloned := make(Query, len(q))
	for k, v := range q {
		cloned[k] = v
	}
	return cloned
}
