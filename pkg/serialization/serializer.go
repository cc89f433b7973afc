// Package serialization turns checkpoints into bytes for durable stores.
// A payload is encoded by a Codec, optionally compressed and optionally
// sealed with AES-GCM, in that order.
package serialization

import (
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrUnknownCodec       = errors.New("unknown codec")
	ErrUnknownCompression = errors.New("unknown compression")
	ErrInvalidKey         = errors.New("encryption key must be 16, 24 or 32 bytes")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
)

// Codec encodes values to bytes and back.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Name() string
}

// Compression names a compression algorithm.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// ParseCompression accepts "", "none", "gzip" and "zstd".
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(s); c {
	case "":
		return CompressionNone, nil
	case CompressionNone, CompressionGzip, CompressionZstd:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCompression, s)
}

// CodecByName returns the codec registered under name ("json" or "msgpack").
func CodecByName(name string) (Codec, error) {
	switch name {
	case "json":
		return JSONCodec{}, nil
	case "", "msgpack":
		return MsgPackCodec{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

// Config selects the payload pipeline.
type Config struct {
	// Codec defaults to MessagePack.
	Codec       Codec
	Compression Compression
	// Key enables AES-GCM when set.
	Key []byte
}

// Serializer runs the encode, compress, encrypt pipeline and its inverse.
// It is safe for concurrent use.
type Serializer struct {
	codec       Codec
	compression Compression
	aead        cipher.AEAD
}

// New validates cfg and builds a Serializer.
func New(cfg Config) (*Serializer, error) {
	s := &Serializer{codec: cfg.Codec, compression: cfg.Compression}
	if s.codec == nil {
		s.codec = MsgPackCodec{}
	}
	if _, err := ParseCompression(string(s.compression)); err != nil {
		return nil, err
	}
	if s.compression == "" {
		s.compression = CompressionNone
	}
	if len(cfg.Key) > 0 {
		switch len(cfg.Key) {
		case 16, 24, 32:
		default:
			return nil, ErrInvalidKey
		}
		block, err := aes.NewCipher(cfg.Key)
		if err != nil {
			return nil, err
		}
		if s.aead, err = cipher.NewGCM(block); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Default returns the MessagePack + zstd serializer durable stores use
// unless configured otherwise.
func Default() *Serializer {
	return &Serializer{codec: MsgPackCodec{}, compression: CompressionZstd}
}

// Codec returns the configured codec name.
func (s *Serializer) Codec() string { return s.codec.Name() }

// Serialize encodes, compresses and encrypts v.
func (s *Serializer) Serialize(v any) ([]byte, error) {
	data, err := s.codec.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("%s encode: %w", s.codec.Name(), err)
	}
	if data, err = s.compress(data); err != nil {
		return nil, fmt.Errorf("%s compress: %w", s.compression, err)
	}
	if s.aead != nil {
		nonce := make([]byte, s.aead.NonceSize())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return nil, fmt.Errorf("encrypt: %w", err)
		}
		data = s.aead.Seal(nonce, nonce, data, nil)
	}
	return data, nil
}

// Deserialize reverses Serialize into v.
func (s *Serializer) Deserialize(data []byte, v any) error {
	if s.aead != nil {
		n := s.aead.NonceSize()
		if len(data) < n {
			return fmt.Errorf("decrypt: %w", ErrCiphertextTooShort)
		}
		plain, err := s.aead.Open(nil, data[:n], data[n:], nil)
		if err != nil {
			return fmt.Errorf("decrypt: %w", err)
		}
		data = plain
	}
	data, err := s.decompress(data)
	if err != nil {
		return fmt.Errorf("%s decompress: %w", s.compression, err)
	}
	if err := s.codec.Decode(data, v); err != nil {
		return fmt.Errorf("%s decode: %w", s.codec.Name(), err)
	}
	return nil
}

// zstd encoders and decoders are safe for concurrent EncodeAll/DecodeAll.
var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) { return zstd.NewWriter(nil) })
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) { return zstd.NewReader(nil) })
)

func (s *Serializer) compress(data []byte) ([]byte, error) {
	switch s.compression {
	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(data, nil), nil
	}
	return data, nil
}

func (s *Serializer) decompress(data []byte) ([]byte, error) {
	switch s.compression {
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompressionZstd:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, err
		}
		return dec.DecodeAll(data, nil)
	}
	return data, nil
}

// JSONCodec encodes with encoding/json. Numbers in untyped state fields
// decode as float64.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error)    { return json.Marshal(v) }
func (JSONCodec) Decode(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSONCodec) Name() string                    { return "json" }

// MsgPackCodec encodes with MessagePack, reading struct field names from
// json tags so both codecs share one schema. Integers in untyped state
// fields decode as int64 or uint64 and floats as float64.
type MsgPackCodec struct{}

func (MsgPackCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (MsgPackCodec) Decode(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode(v)
}

func (MsgPackCodec) Name() string { return "msgpack" }
