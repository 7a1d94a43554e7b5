package api

import "encoding/json"

// Decoder turns a response body into a value.
type Decoder interface {
	Decode(data []byte, v any) error
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(data []byte, v any) error

func (f DecoderFunc) Decode(data []byte, v any) error { return f(data, v) }

// JSONDecoder decodes with encoding/json.
type JSONDecoder struct{}

func (JSONDecoder) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
