// Package metadata describes the headers carried by broker messages that
// bridge socket connections over a pub/sub backend.
package metadata

import "strings"

// Metadata holds the headers of one broker message.
type Metadata map[string]string

// Prefixed returns the entries whose key starts with prefix, keyed by the
// remainder. It returns nil when there are none.
func (m Metadata) Prefixed(prefix string) map[string]string {
	var out map[string]string
	for k, v := range m {
		rest, ok := strings.CutPrefix(k, prefix)
		if !ok || rest == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[rest] = v
	}
	return out
}
