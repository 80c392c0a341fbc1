// Package jsoncodec backs the protocol envelope codec with sonic's
// std-compatible configuration.
package jsoncodec

import "github.com/bytedance/sonic"

var defaultConfig = sonic.ConfigStd

// Marshal encodes v as JSON.
func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}
