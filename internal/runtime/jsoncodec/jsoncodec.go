package jsoncodec

import (
	"io"
	"sync"

	"github.com/bytedance/sonic"
)

// DecodeOptions tunes how payloads are decoded into Go values. The zero value
// matches encoding/json behaviour.
type DecodeOptions struct {
	// UseNumber decodes numbers inside generic values as json.Number.
	UseNumber bool
	// UseInt64 decodes integral numbers inside generic values as int64.
	UseInt64 bool
	// DisallowUnknownFields rejects object keys with no matching struct field.
	DisallowUnknownFields bool
}

// EncodeOptions tunes how values emitted back to connections are encoded.
type EncodeOptions struct {
	EscapeHTML       bool
	SortMapKeys      bool
	NoNullSliceOrMap bool
}

// DefaultEncodeOptions mirrors encoding/json.
var DefaultEncodeOptions = EncodeOptions{EscapeHTML: true, SortMapKeys: true}

var defaultConfig = sonic.ConfigStd

var (
	apiCacheMu sync.RWMutex
	apiCache   = map[apiKey]sonic.API{}
)

type apiKey struct {
	dec DecodeOptions
	enc EncodeOptions
}

// API returns a frozen sonic API for the option pair. Frozen configs are
// cached because freezing compiles codec tables.
func API(dec DecodeOptions, enc EncodeOptions) sonic.API {
	key := apiKey{dec: dec, enc: enc}

	apiCacheMu.RLock()
	api, ok := apiCache[key]
	apiCacheMu.RUnlock()
	if ok {
		return api
	}

	api = sonic.Config{
		EscapeHTML:            enc.EscapeHTML,
		SortMapKeys:           enc.SortMapKeys,
		NoNullSliceOrMap:      enc.NoNullSliceOrMap,
		CompactMarshaler:      true,
		UseNumber:             dec.UseNumber,
		UseInt64:              dec.UseInt64,
		DisallowUnknownFields: dec.DisallowUnknownFields,
		CopyString:            true,
		ValidateString:        true,
	}.Froze()

	apiCacheMu.Lock()
	apiCache[key] = api
	apiCacheMu.Unlock()
	return api
}

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	enc := defaultConfig.NewEncoder(w)
	return enc.Encode(v)
}

func Decode(r io.Reader, v any) error {
	dec := defaultConfig.NewDecoder(r)
	return dec.Decode(v)
}
