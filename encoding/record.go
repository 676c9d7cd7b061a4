package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

// Record layout: [flags:1][xxhash64(body):8][body]
const (
	recordHeaderSize = 9

	flagCompressed byte = 1 << 0
	knownFlags          = flagCompressed
)

// DefaultCompressThreshold is used by EncodeRecord/DecodeRecord
const DefaultCompressThreshold = 4096

// ErrCorruptRecord is returned when a stored record fails validation.
// A record that was only partially written always fails the checksum.
var ErrCorruptRecord = errors.New("corrupt record")

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

// zstdCodecs lazily builds the shared encoder and decoder.
// EncodeAll/DecodeAll are safe for concurrent use on a single instance.
func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec, zstdErr
}

// Codec wraps msgpack bodies in a checksummed record envelope.
type Codec struct {
	// CompressThreshold is the body size in bytes above which the body is
	// zstd compressed. Zero disables compression.
	CompressThreshold int
}

// NewCodec creates a record codec with the given compression threshold.
func NewCodec(compressThreshold int) *Codec {
	if compressThreshold < 0 {
		compressThreshold = 0
	}
	return &Codec{CompressThreshold: compressThreshold}
}

var defaultCodec = NewCodec(DefaultCompressThreshold)

// EncodeRecord encodes v with the default codec.
func EncodeRecord(v interface{}) ([]byte, error) {
	return defaultCodec.Encode(v)
}

// DecodeRecord decodes a record produced by any Codec.
func DecodeRecord(data []byte, v interface{}) error {
	return defaultCodec.Decode(data, v)
}

// Encode marshals v and frames it as a record.
func (c *Codec) Encode(v interface{}) ([]byte, error) {
	body, err := Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	var flags byte
	if c.CompressThreshold > 0 && len(body) > c.CompressThreshold {
		enc, _, err := zstdCodecs()
		if err != nil {
			return nil, fmt.Errorf("failed to init zstd: %w", err)
		}
		body = enc.EncodeAll(body, make([]byte, 0, len(body)/2))
		flags |= flagCompressed
	}

	out := make([]byte, recordHeaderSize+len(body))
	out[0] = flags
	binary.BigEndian.PutUint64(out[1:recordHeaderSize], xxhash.Sum64(body))
	copy(out[recordHeaderSize:], body)
	return out, nil
}

// Decode validates the envelope and unmarshals the body into v.
// The compression flag travels with the record, so the threshold of the
// decoding codec does not matter.
func (c *Codec) Decode(data []byte, v interface{}) error {
	if len(data) < recordHeaderSize {
		return fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorruptRecord, len(data))
	}

	flags := data[0]
	if flags&^knownFlags != 0 {
		return fmt.Errorf("%w: unknown flags 0x%02x", ErrCorruptRecord, flags)
	}

	body := data[recordHeaderSize:]
	want := binary.BigEndian.Uint64(data[1:recordHeaderSize])
	if got := xxhash.Sum64(body); got != want {
		return fmt.Errorf("%w: checksum mismatch (%016x != %016x)", ErrCorruptRecord, got, want)
	}

	if flags&flagCompressed != 0 {
		_, dec, err := zstdCodecs()
		if err != nil {
			return fmt.Errorf("failed to init zstd: %w", err)
		}
		body, err = dec.DecodeAll(body, nil)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptRecord, err)
		}
	}

	if err := Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return nil
}
