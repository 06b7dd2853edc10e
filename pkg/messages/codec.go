package messages

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Frame flags. Small frames travel as plain JSON; larger ones are
// zstd-compressed.
const (
	frameJSON       = 0x00
	frameCompressed = 0x01

	// compressThreshold is the encoded size above which frames are
	// compressed.
	compressThreshold = 512
)

// Codec encodes and decodes message frames. Safe for concurrent use.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewCodec() (*Codec, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %v", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %v", err)
	}
	return &Codec{encoder: encoder, decoder: decoder}, nil
}

// Encode frames a serialized message, compressing it when it is large
// enough to benefit.
func (c *Codec) Encode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if len(payload) < compressThreshold {
		return append([]byte{frameJSON}, payload...), nil
	}
	compressed := c.encoder.EncodeAll(payload, []byte{frameCompressed})
	return compressed, nil
}

// Decode unframes a received message.
func (c *Codec) Decode(frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, fmt.Errorf("frame too short")
	}
	switch frame[0] {
	case frameJSON:
		return frame[1:], nil
	case frameCompressed:
		payload, err := c.decoder.DecodeAll(frame[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress frame: %v", err)
		}
		return payload, nil
	default:
		return nil, fmt.Errorf("unknown frame flag 0x%02x", frame[0])
	}
}
