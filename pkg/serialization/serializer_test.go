package serialization

import (
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	ID      string         `json:"id"`
	Step    uint64         `json:"step"`
	State   map[string]any `json:"state"`
	Tags    []string       `json:"tags,omitempty"`
	Written time.Time      `json:"written"`
}

func samplePayload() payload {
	return payload{
		ID:   "cp-1",
		Step: 7,
		State: map[string]any{
			"log":   []any{"prepare", "review"},
			"count": int64(3),
			"score": 0.5,
			"meta":  map[string]any{"approved": true},
		},
		Tags:    []string{"batch"},
		Written: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func assertPayload(t *testing.T, want, got payload) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Step, got.Step)
	assert.Equal(t, want.Tags, got.Tags)
	assert.True(t, want.Written.Equal(got.Written), "written %v != %v", want.Written, got.Written)
	assert.Equal(t, want.State["log"], got.State["log"])
	assert.Equal(t, want.State["meta"], got.State["meta"])
	assert.EqualValues(t, 0.5, got.State["score"])
}

func TestPipelines(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"msgpack", Config{}},
		{"msgpack gzip", Config{Compression: CompressionGzip}},
		{"msgpack zstd encrypted", Config{Compression: CompressionZstd, Key: key}},
		{"json", Config{Codec: JSONCodec{}}},
		{"json zstd", Config{Codec: JSONCodec{}, Compression: CompressionZstd}},
		{"json encrypted", Config{Codec: JSONCodec{}, Key: key[:16]}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.cfg)
			require.NoError(t, err)

			data, err := s.Serialize(samplePayload())
			require.NoError(t, err)

			var got payload
			require.NoError(t, s.Deserialize(data, &got))
			assertPayload(t, samplePayload(), got)
		})
	}
}

func TestMsgPackKeepsIntegers(t *testing.T) {
	data, err := Default().Serialize(samplePayload())
	require.NoError(t, err)

	var got payload
	require.NoError(t, Default().Deserialize(data, &got))
	assert.Equal(t, int64(3), got.State["count"])
}

func TestMsgPackUsesJSONNames(t *testing.T) {
	data, err := MsgPackCodec{}.Encode(samplePayload())
	require.NoError(t, err)
	assert.Contains(t, string(data), "written")
	assert.NotContains(t, string(data), "Written")
}

func TestEncryptionHidesPlaintext(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	s, err := New(Config{Codec: JSONCodec{}, Key: key})
	require.NoError(t, err)

	data, err := s.Serialize(samplePayload())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "prepare")

	other := make([]byte, 32)
	_, err = rand.Read(other)
	require.NoError(t, err)
	wrong, err := New(Config{Codec: JSONCodec{}, Key: other})
	require.NoError(t, err)
	var got payload
	assert.ErrorContains(t, wrong.Deserialize(data, &got), "decrypt")
	assert.ErrorIs(t, s.Deserialize([]byte("x"), &got), ErrCiphertextTooShort)
}

func TestZstdShrinksRepetitiveState(t *testing.T) {
	big := samplePayload()
	big.State["blob"] = strings.Repeat("checkpoint ", 2000)

	plain, err := New(Config{})
	require.NoError(t, err)
	raw, err := plain.Serialize(big)
	require.NoError(t, err)
	packed, err := Default().Serialize(big)
	require.NoError(t, err)
	assert.Less(t, len(packed), len(raw)/4)
}

func TestConfigErrors(t *testing.T) {
	_, err := New(Config{Key: []byte("short")})
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = New(Config{Compression: "lz4"})
	assert.ErrorIs(t, err, ErrUnknownCompression)

	_, err = CodecByName("xml")
	assert.ErrorIs(t, err, ErrUnknownCodec)

	c, err := CodecByName("json")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())

	comp, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, comp)
}

func BenchmarkDefaultSerializer(b *testing.B) {
	s := Default()
	p := samplePayload()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, _ := s.Serialize(p)
		var out payload
		_ = s.Deserialize(data, &out)
	}
}
