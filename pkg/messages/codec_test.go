package messages

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodec_SmallFrame(t *testing.T) {
	codec, err := NewCodec()
	assert.NoError(t, err)

	payload := []byte(`{"type":"ping"}`)
	frame, err := codec.Encode(payload)
	assert.NoError(t, err)
	assert.Equal(t, byte(frameJSON), frame[0])
	assert.Equal(t, len(payload)+1, len(frame))

	decoded, err := codec.Decode(frame)
	assert.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestCodec_LargeFrameCompresses(t *testing.T) {
	codec, err := NewCodec()
	assert.NoError(t, err)

	payload := bytes.Repeat([]byte(`{"k":"v"}`), 200)
	frame, err := codec.Encode(payload)
	assert.NoError(t, err)
	assert.Equal(t, byte(frameCompressed), frame[0])
	assert.Less(t, len(frame), len(payload), "repetitive payloads shrink")

	decoded, err := codec.Decode(frame)
	assert.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestCodec_EncodeEmpty(t *testing.T) {
	codec, err := NewCodec()
	assert.NoError(t, err)

	_, err = codec.Encode(nil)
	assert.Error(t, err)
}

func TestCodec_DecodeErrors(t *testing.T) {
	codec, err := NewCodec()
	assert.NoError(t, err)

	_, err = codec.Decode([]byte{frameJSON})
	assert.EqualError(t, err, "frame too short")

	_, err = codec.Decode([]byte{0x7f, 0x01, 0x02})
	assert.Error(t, err)

	_, err = codec.Decode([]byte{frameCompressed, 0xde, 0xad})
	assert.Error(t, err, "garbage is not a zstd stream")
}
