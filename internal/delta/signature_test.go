package delta

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSignatureTable_CoversWholeFileInFixedBlocks(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 5) // 50 bytes
	sig, err := BuildSignatureTable(bytes.NewReader(data), int64(len(data)), 10)
	require.NoError(t, err)

	assert.Equal(t, 10, sig.BlockSize)
	assert.Equal(t, int64(len(data)), sig.FileSize)

	block := data[10:20]
	match, ok := sig.Lookup(RollsumOf(block), block)
	require.True(t, ok)
	assert.Equal(t, 1, match.Index)
	assert.Equal(t, 10, match.Size)
}

func TestBuildSignatureTable_PartialFinalBlockKeepsItsOwnSize(t *testing.T) {
	data := []byte("0123456789abcde") // 15 bytes, block size 10 -> last block is 5 bytes
	sig, err := BuildSignatureTable(bytes.NewReader(data), int64(len(data)), 10)
	require.NoError(t, err)

	last := data[10:15]
	match, ok := sig.Lookup(RollsumOf(last), last)
	require.True(t, ok)
	assert.Equal(t, 5, match.Size)
}

func TestSignatureTable_LookupRejectsWeakCollisionWithDifferentStrong(t *testing.T) {
	sig, err := BuildSignatureTable(bytes.NewReader([]byte("abcdefgh")), 8, 8)
	require.NoError(t, err)

	// Force a weak-checksum hit (the weak value of the indexed block) with
	// different block bytes: the strong compare must reject it.
	_, ok := sig.Lookup(RollsumOf([]byte("abcdefgh")), []byte("zzzzzzzz"))
	assert.False(t, ok)
}
