package metadata

import (
	"strings"
	"time"

	"github.com/drblury/sockflow/transport"
)

// Header keys used on broker messages.
const (
	KeyConnectionID = "sockflow_connection_id"
	KeyNamespace    = "sockflow_namespace"
	KeyEvent        = "sockflow_event"
	KeyReason       = "sockflow_reason"
	KeyAddress      = "sockflow_address"
	KeyURL          = "sockflow_url"
	KeyConnectedAt  = "sockflow_connected_at"

	// QueryPrefix namespaces handshake query parameters.
	QueryPrefix = "sockflow_query_"
	// HeaderPrefix namespaces handshake HTTP headers.
	HeaderPrefix = "sockflow_header_"
)

// Envelope is the decoded form of the sockflow headers on one message.
type Envelope struct {
	ConnectionID string
	Namespace    string
	Event        string
	Reason       string
	Address      string
	URL          string
	ConnectedAt  time.Time
	Query        transport.Query
	Headers      map[string]string
}

// Metadata encodes e. Empty fields are left out.
func (e Envelope) Metadata() Metadata {
	md := make(Metadata, 8+len(e.Query)+len(e.Headers))
	set := func(key, value string) {
		if value != "" {
			md[key] = value
		}
	}
	set(KeyConnectionID, e.ConnectionID)
	set(KeyNamespace, e.Namespace)
	set(KeyEvent, e.Event)
	set(KeyReason, e.Reason)
	set(KeyAddress, e.Address)
	set(KeyURL, e.URL)
	if !e.ConnectedAt.IsZero() {
		md[KeyConnectedAt] = e.ConnectedAt.UTC().Format(time.RFC3339Nano)
	}
	for k, v := range e.Query {
		md[QueryPrefix+k] = v
	}
	for k, v := range e.Headers {
		md[HeaderPrefix+strings.ToLower(k)] = v
	}
	return md
}

// Handshake rebuilds the handshake an edge gateway forwarded.
func (e Envelope) Handshake() transport.Handshake {
	hs := transport.Handshake{
		Query:   e.Query.Clone(),
		Address: e.Address,
		URL:     e.URL,
		Time:    e.ConnectedAt,
	}
	if len(e.Headers) > 0 {
		hs.Headers = make(map[string][]string, len(e.Headers))
		for k, v := range e.Headers {
			hs.Headers.Set(k, v)
		}
	}
	return hs
}

// EnvelopeFrom decodes the sockflow headers in md. Unknown keys are ignored;
// an unparsable timestamp leaves ConnectedAt zero.
func EnvelopeFrom(md Metadata) Envelope {
	e := Envelope{
		ConnectionID: md[KeyConnectionID],
		Namespace:    md[KeyNamespace],
		Event:        md[KeyEvent],
		Reason:       md[KeyReason],
		Address:      md[KeyAddress],
		URL:          md[KeyURL],
		Query:        transport.Query{},
	}
	if ts := md[KeyConnectedAt]; ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.ConnectedAt = parsed
		}
	}
	for k, v := range md.Prefixed(QueryPrefix) {
		e.Query[k] = v
	}
	e.Headers = md.Prefixed(HeaderPrefix)
	return e
}
