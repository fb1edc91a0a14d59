package metadata

import (
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/sockflow/transport"
)

func TestPrefixedStripsPrefix(t *testing.T) {
	md := Metadata{
		KeyConnectionID:        "01hx",
		QueryPrefix + "room":   "lobby",
		QueryPrefix + "nick":   "ada",
		QueryPrefix:            "dangling",
		HeaderPrefix + "agent": "curl",
	}

	query := md.Prefixed(QueryPrefix)
	if len(query) != 2 || query["room"] != "lobby" || query["nick"] != "ada" {
		t.Fatalf("unexpected query entries: %v", query)
	}
	if got := md.Prefixed(HeaderPrefix); got["agent"] != "curl" {
		t.Fatalf("unexpected header entries: %v", got)
	}
	if got := (Metadata{KeyNamespace: "/chat"}).Prefixed(QueryPrefix); got != nil {
		t.Fatalf("expected nil without matching keys, got %v", got)
	}
}

func TestToWatermillCopiesEnvelope(t *testing.T) {
	md := Metadata{KeyNamespace: "/chat"}
	wm := ToWatermill(md)
	if wm[KeyNamespace] != "/chat" {
		t.Fatalf("expected watermill metadata to copy entries")
	}
	wm[KeyNamespace] = "/mutated"
	if md[KeyNamespace] != "/chat" {
		t.Fatalf("expected original metadata to be immutable to watermill changes")
	}

	if wm := ToWatermill(nil); wm == nil || len(wm) != 0 {
		t.Fatal("expected nil input to return empty metadata")
	}
}

func TestFromWatermillKeepsSockflowHeaders(t *testing.T) {
	md := FromWatermill(message.Metadata{
		KeyEvent:         "join",
		KeyConnectionID:  "01hx",
		"correlation_id": "abc",
		"_watermill_ack": "1",
	})
	if md[KeyEvent] != "join" || md[KeyConnectionID] != "01hx" {
		t.Fatalf("expected sockflow headers to survive, got %v", md)
	}
	if len(md) != 2 {
		t.Fatalf("expected foreign headers to be dropped, got %v", md)
	}

	if empty := FromWatermill(nil); empty == nil || len(empty) != 0 {
		t.Fatal("expected nil input to return empty metadata")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env := Envelope{
		ConnectionID: "01hx",
		Namespace:    "/chat",
		Event:        "message",
		Address:      "10.0.0.1:5000",
		URL:          "/chat?token=abc",
		ConnectedAt:  at,
		Query:        transport.Query{"token": "abc"},
		Headers:      map[string]string{"X-Forwarded-For": "1.2.3.4"},
	}

	md := env.Metadata()
	if md[KeyConnectionID] != "01hx" || md[QueryPrefix+"token"] != "abc" {
		t.Fatalf("unexpected metadata: %v", md)
	}
	if _, ok := md[KeyReason]; ok {
		t.Fatal("empty fields must be omitted")
	}
	if md[HeaderPrefix+"x-forwarded-for"] != "1.2.3.4" {
		t.Fatalf("expected lower-cased header key, got %v", md)
	}

	decoded := EnvelopeFrom(FromWatermill(ToWatermill(md)))
	if decoded.ConnectionID != "01hx" || decoded.Namespace != "/chat" || decoded.Event != "message" {
		t.Fatalf("unexpected envelope: %+v", decoded)
	}
	if !decoded.ConnectedAt.Equal(at) {
		t.Fatalf("expected %v, got %v", at, decoded.ConnectedAt)
	}
	if decoded.Query.Get("token") != "abc" {
		t.Fatalf("expected query to survive, got %v", decoded.Query)
	}

	hs := decoded.Handshake()
	if hs.Headers.Get("X-Forwarded-For") != "1.2.3.4" {
		t.Fatalf("expected canonical header lookup to work, got %v", hs.Headers)
	}
	if hs.Address != "10.0.0.1:5000" || hs.URL != "/chat?token=abc" {
		t.Fatalf("unexpected handshake: %+v", hs)
	}
}

func TestEnvelopeFromIgnoresBadTimestamp(t *testing.T) {
	env := EnvelopeFrom(Metadata{KeyConnectedAt: "yesterday", KeyConnectionID: "c"})
	if !env.ConnectedAt.IsZero() {
		t.Fatalf("expected zero time, got %v", env.ConnectedAt)
	}
	if env.Query == nil {
		t.Fatal("expected non-nil query")
	}
	if env.Headers != nil {
		t.Fatalf("expected no headers, got %v", env.Headers)
	}
}
