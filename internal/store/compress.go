package store

import (
	"github.com/klauspost/compress/zstd"
)

// Encoder and decoder are safe for concurrent EncodeAll/DecodeAll.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

func compress(raw string) []byte {
	if raw == "" {
		return nil
	}
	return encoder.EncodeAll([]byte(raw), nil)
}

func decompress(b []byte) (string, error) {
	if len(b) == 0 {
		return "", nil
	}
	out, err := decoder.DecodeAll(b, nil)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
