package delta

import (
	"bytes"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply_CopyThenLiteralReconstructsInOrder(t *testing.T) {
	old := []byte("0123456789")
	d := &Delta{
		Ops: []Op{
			{Kind: OpCopy, DestOffset: 0, Length: 5},
			{Kind: OpLiteral, Literal: []byte("XYZ")},
			{Kind: OpCopy, DestOffset: 5, Length: 5},
		},
	}

	var buf bytes.Buffer
	digest, err := Apply(&buf, bytes.NewReader(old), d)
	require.NoError(t, err)
	assert.Equal(t, "01234XYZ56789", buf.String())
	assert.Equal(t, xxhash.Sum64(buf.Bytes()), digest)
}

func TestApply_DigestReflectsExactBytesWritten(t *testing.T) {
	old := []byte("hello world")
	d := &Delta{Ops: []Op{{Kind: OpCopy, DestOffset: 0, Length: int64(len(old))}}}

	var buf bytes.Buffer
	digest, err := Apply(&buf, bytes.NewReader(old), d)
	require.NoError(t, err)
	assert.Equal(t, xxhash.Sum64([]byte("hello world")), digest)
}

func TestApply_CopyPastEndOfOldFileStopsAtEOFWithoutError(t *testing.T) {
	old := []byte("short")
	d := &Delta{Ops: []Op{{Kind: OpCopy, DestOffset: 0, Length: 100}}}

	// simulates the old file having shrunk out from under the applier
	// between signature-build and apply: Apply doesn't treat this as an
	// error, it just stops short. The divergence is caught afterward by
	// the caller comparing Apply's returned digest against a fresh
	// digest of the source (see internal/engine/transfer.go).
	var buf bytes.Buffer
	_, err := Apply(&buf, bytes.NewReader(old), d)
	require.NoError(t, err)
	assert.Equal(t, "short", buf.String())
}
