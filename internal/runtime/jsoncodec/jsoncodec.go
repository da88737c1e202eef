// Package jsoncodec renders structured log payloads and status documents.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

// ConfigStd keeps map keys sorted, so equal payloads render identically.
var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	return defaultConfig.NewEncoder(w).Encode(v)
}

// MarshalPayload renders a record payload as a log message. Strings and byte
// slices are taken verbatim; anything else is encoded as JSON.
func MarshalPayload(v any) (string, error) {
	switch p := v.(type) {
	case string:
		return p, nil
	case []byte:
		return string(p), nil
	}
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
