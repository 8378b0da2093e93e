package delta

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_UnchangedFileIsAllCopyOps(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 10) // 100 bytes
	sig, err := BuildSignatureTable(bytes.NewReader(data), int64(len(data)), 10)
	require.NoError(t, err)

	d, err := Generate(bytes.NewReader(data), sig)
	require.NoError(t, err)

	for _, op := range d.Ops {
		assert.Equal(t, OpCopy, op.Kind)
	}
	assert.Zero(t, d.EstimatedLiteralBytes())
}

func TestGenerate_SingleByteEditProducesLiteralAroundIt(t *testing.T) {
	old := bytes.Repeat([]byte("a"), 40)
	sig, err := BuildSignatureTable(bytes.NewReader(old), int64(len(old)), 10)
	require.NoError(t, err)

	edited := make([]byte, len(old))
	copy(edited, old)
	edited[15] = 'X'

	d, err := Generate(bytes.NewReader(edited), sig)
	require.NoError(t, err)

	reconstructed, err := applyToBytes(d, old)
	require.NoError(t, err)
	assert.Equal(t, edited, reconstructed)
	assert.True(t, d.EstimatedLiteralBytes() > 0, "expected some literal bytes around the edit")
}

func TestGenerate_AppendedTailIsLiteral(t *testing.T) {
	old := bytes.Repeat([]byte("y"), 32)
	sig, err := BuildSignatureTable(bytes.NewReader(old), int64(len(old)), 8)
	require.NoError(t, err)

	appended := append(append([]byte{}, old...), []byte("new-tail-bytes")...)
	d, err := Generate(bytes.NewReader(appended), sig)
	require.NoError(t, err)

	reconstructed, err := applyToBytes(d, old)
	require.NoError(t, err)
	assert.Equal(t, appended, reconstructed)
}

func TestGenerate_ShrunkFileReconstructsExactly(t *testing.T) {
	old := bytes.Repeat([]byte("z"), 64)
	sig, err := BuildSignatureTable(bytes.NewReader(old), int64(len(old)), 8)
	require.NoError(t, err)

	shrunk := old[:20]
	d, err := Generate(bytes.NewReader(shrunk), sig)
	require.NoError(t, err)

	reconstructed, err := applyToBytes(d, old)
	require.NoError(t, err)
	assert.Equal(t, shrunk, reconstructed)
}

// applyToBytes is a small test-only helper that runs Apply against an
// in-memory old file and returns the reconstructed bytes.
func applyToBytes(d *Delta, old []byte) ([]byte, error) {
	var buf bytes.Buffer
	_, err := Apply(&buf, bytes.NewReader(old), d)
	return buf.Bytes(), err
}
