package service

import (
	"bytes"
	"encoding/json"
)

// jsonCodec lets Connect carry plain Go structs as application/json.
// Numbers decode as json.Number so money keeps its decimal text.
type jsonCodec struct{}

// Codec is the codec every handler and client must use.
var Codec = jsonCodec{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
