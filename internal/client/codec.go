package client

import "github.com/vmihailenco/msgpack/v5"

// decodeBytes unmarshals raw wire bytes into dst, shared by TypedView's
// Get/All and anywhere else a raw cache entry needs projecting without
// going through the JSON-facing Registry.
func decodeBytes(raw []byte, dst any) error {
	return msgpack.Unmarshal(raw, dst)
}
