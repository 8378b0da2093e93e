package delta

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRollingChecksum_MatchesRollsumOfAfterSliding(t *testing.T) {
	data := []byte("abcdefgh")
	window := 4

	r := NewRollingChecksum(data[:window])
	assert.Equal(t, RollsumOf(data[:window]), r.Sum())

	for i := window; i < len(data); i++ {
		r.Roll(data[i-window], data[i])
		want := RollsumOf(data[i-window+1 : i+1])
		assert.Equal(t, want, r.Sum(), "mismatch sliding to offset %d", i)
	}
}

func TestRollingChecksum_IdenticalBlocksMatch(t *testing.T) {
	a := RollsumOf([]byte("block123"))
	b := RollsumOf([]byte("block123"))
	assert.Equal(t, a, b)
}

func TestRollingChecksum_DifferentBlocksUsuallyDiffer(t *testing.T) {
	a := RollsumOf([]byte("aaaaaaaa"))
	b := RollsumOf([]byte("aaaaaaab"))
	assert.NotEqual(t, a, b)
}
