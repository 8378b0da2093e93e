package delta

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanSameHost_IdenticalFilesHaveNoDiffingBlocks(t *testing.T) {
	data := bytes.Repeat([]byte("same"), 20) // 80 bytes
	plan, err := PlanSameHost(bytes.NewReader(data), bytes.NewReader(data), int64(len(data)), 10)
	require.NoError(t, err)
	assert.Empty(t, plan.DiffingBlocks)
}

func TestPlanSameHost_FlagsOnlyTheChangedBlock(t *testing.T) {
	old := bytes.Repeat([]byte("a"), 40)
	newData := make([]byte, len(old))
	copy(newData, old)
	copy(newData[20:30], bytes.Repeat([]byte("b"), 10))

	plan, err := PlanSameHost(bytes.NewReader(newData), bytes.NewReader(old), int64(len(newData)), 10)
	require.NoError(t, err)
	require.Len(t, plan.DiffingBlocks, 1)
	assert.Equal(t, int64(20), plan.DiffingBlocks[0])
}

func TestPlanSameHost_ShorterDestinationFlagsTrailingBlocks(t *testing.T) {
	src := bytes.Repeat([]byte("x"), 30)
	dst := src[:10] // destination only has the first block

	plan, err := PlanSameHost(bytes.NewReader(src), bytes.NewReader(dst), int64(len(src)), 10)
	require.NoError(t, err)
	assert.Contains(t, plan.DiffingBlocks, int64(10))
	assert.Contains(t, plan.DiffingBlocks, int64(20))
	assert.NotContains(t, plan.DiffingBlocks, int64(0))
}
