package dagmigrate

import (
	"fmt"

	"github.com/google/uuid"
)

// Codec converts migration IDs to and from the bytes an adapter persists in
// its bookkeeping records.
type Codec[I comparable] interface {
	Encode(id I) ([]byte, error)
	Decode(b []byte) (I, error)
}

// StringCodec stores string IDs verbatim.
type StringCodec struct{}

func (StringCodec) Encode(id string) ([]byte, error) {
	if id == "" {
		return nil, fmt.Errorf("encoding migration id: empty id")
	}
	return []byte(id), nil
}

func (StringCodec) Decode(b []byte) (string, error) {
	if len(b) == 0 {
		return "", fmt.Errorf("decoding migration id: empty id")
	}
	return string(b), nil
}

// UUIDCodec stores UUID IDs as their 16 raw bytes.
type UUIDCodec struct{}

func (UUIDCodec) Encode(id uuid.UUID) ([]byte, error) {
	b, err := id.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encoding migration id: %w", err)
	}
	return b, nil
}

func (UUIDCodec) Decode(b []byte) (uuid.UUID, error) {
	id, err := uuid.FromBytes(b)
	if err != nil {
		return uuid.Nil, fmt.Errorf("decoding migration id: %w", err)
	}
	return id, nil
}
