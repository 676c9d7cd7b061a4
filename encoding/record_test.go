package encoding

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	Seq    uint64 `msgpack:"seq"`
	Status uint8  `msgpack:"status"`
	Value  string `msgpack:"value"`
}

func TestRecordRoundTrip(t *testing.T) {
	in := testRecord{Seq: 3, Status: 1, Value: "done"}

	data, err := EncodeRecord(in)
	require.NoError(t, err)
	assert.Equal(t, byte(0), data[0], "small records are not compressed")

	var out testRecord
	require.NoError(t, DecodeRecord(data, &out))
	assert.Equal(t, in, out)
}

func TestRecordCompression(t *testing.T) {
	codec := NewCodec(64)
	in := testRecord{Seq: 1, Value: strings.Repeat("abcdefgh", 512)}

	data, err := codec.Encode(in)
	require.NoError(t, err)
	assert.Equal(t, flagCompressed, data[0]&flagCompressed)
	assert.Less(t, len(data), len(in.Value), "repetitive payload should shrink")

	// Any codec can decode, the flag travels with the record
	var out testRecord
	require.NoError(t, NewCodec(0).Decode(data, &out))
	assert.Equal(t, in, out)
}

func TestRecordCompressionDisabled(t *testing.T) {
	codec := NewCodec(0)
	in := testRecord{Value: strings.Repeat("x", 10000)}

	data, err := codec.Encode(in)
	require.NoError(t, err)
	assert.Equal(t, byte(0), data[0])
}

func TestRecordDetectsCorruption(t *testing.T) {
	data, err := EncodeRecord(testRecord{Seq: 42, Value: "payload"})
	require.NoError(t, err)

	t.Run("flipped body byte", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[len(bad)-1] ^= 0xFF
		var out testRecord
		err := DecodeRecord(bad, &out)
		assert.True(t, errors.Is(err, ErrCorruptRecord), "got %v", err)
	})

	t.Run("truncated", func(t *testing.T) {
		var out testRecord
		err := DecodeRecord(data[:len(data)-2], &out)
		assert.ErrorIs(t, err, ErrCorruptRecord)
	})

	t.Run("shorter than header", func(t *testing.T) {
		var out testRecord
		err := DecodeRecord(data[:4], &out)
		assert.ErrorIs(t, err, ErrCorruptRecord)
	})

	t.Run("unknown flags", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[0] = 0x80
		var out testRecord
		err := DecodeRecord(bad, &out)
		assert.ErrorIs(t, err, ErrCorruptRecord)
	})
}
