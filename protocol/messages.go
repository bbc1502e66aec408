package protocol

import (
	"encoding/json"
	"io"
)

// Marshal serializes a message to JSON bytes.
func Marshal[T any](msg *T) ([]byte, error) {
	return json.Marshal(msg)
}

// Unmarshal deserializes a message from JSON bytes.
func Unmarshal[T any](data []byte) (*T, error) {
	var msg T
	err := json.Unmarshal(data, &msg)
	return &msg, err
}

// Decode deserializes a message from a JSON reader.
func Decode[T any](reader io.Reader) (*T, error) {
	var msg T
	err := json.NewDecoder(reader).Decode(&msg)
	return &msg, err
}
