package delta

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDelta() *Delta {
	return &Delta{
		SourceSize: 13,
		Ops: []Op{
			{Kind: OpCopy, DestOffset: 0, Length: 5},
			{Kind: OpLiteral, Literal: []byte("XYZ")},
			{Kind: OpCopy, DestOffset: 5, Length: 5},
		},
	}
}

func TestEncodeDecode_PlainRoundTrips(t *testing.T) {
	d := sampleDelta()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, d, false))

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestEncodeDecode_CompressedRoundTrips(t *testing.T) {
	d := sampleDelta()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, d, true))

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestEncode_CompressedAndPlainUseDistinctMagic(t *testing.T) {
	d := sampleDelta()
	var plain, compressed bytes.Buffer
	require.NoError(t, Encode(&plain, d, false))
	require.NoError(t, Encode(&compressed, d, true))

	assert.NotEqual(t, plain.Bytes()[:4], compressed.Bytes()[:4])
}

func TestDecode_EmptyOpsRoundTrips(t *testing.T) {
	d := &Delta{SourceSize: 0, Ops: nil}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, d, false))

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.SourceSize)
	assert.Empty(t, got.Ops)
}
