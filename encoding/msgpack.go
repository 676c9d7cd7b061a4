// Package encoding provides centralized serialization for pubkit.
// Everything written to a baggage store goes through EncodeRecord so that the
// checksum and compression rules apply uniformly.
//
// Thread Safety: all functions and Codec methods are safe for concurrent use.
//
// Type Preservation: when decoding into interface{}, msgpack strings decode as
// Go strings (not []byte), so kits over interface{} payloads round-trip text.
package encoding

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	// Struct fields without a msgpack tag keep their Go name; sorted map keys
	// make the encoding (and therefore the checksum) deterministic.
	enc.SetSortMapKeys(true)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data using loose interface decoding.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}
