package plan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nijaru/sy/internal/entry"
)

func regularEntry(path string, size int64, mtime time.Time) entry.Entry {
	return entry.Entry{
		RelativePath: path,
		Kind:         entry.KindRegular,
		Size:         size,
		ModTime:      mtime,
	}
}

func TestPlan_CreatesMissingFiles(t *testing.T) {
	now := time.Now()
	src := []entry.Entry{regularEntry("a.txt", 10, now)}

	result, err := Plan(src, nil, defaultOptions())
	require.NoError(t, err)
	require.Len(t, result.Tasks, 1)
	assert.Equal(t, ActionCopyFile, result.Tasks[0].Action)
	assert.Equal(t, "a.txt", result.Tasks[0].RelativePath)
}

func TestPlan_SkipsIdenticalFiles(t *testing.T) {
	now := time.Now()
	src := []entry.Entry{regularEntry("a.txt", 10, now)}
	dst := []entry.Entry{regularEntry("a.txt", 10, now)}

	result, err := Plan(src, dst, defaultOptions())
	require.NoError(t, err)
	require.Len(t, result.Tasks, 1)
	assert.Equal(t, ActionSkip, result.Tasks[0].Action)
}

func TestPlan_UpdatesChangedSize(t *testing.T) {
	now := time.Now()
	src := []entry.Entry{regularEntry("a.txt", 20, now)}
	dst := []entry.Entry{regularEntry("a.txt", 10, now)}

	result, err := Plan(src, dst, defaultOptions())
	require.NoError(t, err)
	require.Len(t, result.Tasks, 1)
	assert.Equal(t, ActionUpdateFile, result.Tasks[0].Action)
}

func TestPlan_SizeOnlyIgnoresMtime(t *testing.T) {
	now := time.Now()
	src := []entry.Entry{regularEntry("a.txt", 10, now)}
	dst := []entry.Entry{regularEntry("a.txt", 10, now.Add(-time.Hour))}

	opts := defaultOptions()
	opts.Compare = CompareSizeOnly
	result, err := Plan(src, dst, opts)
	require.NoError(t, err)
	assert.Equal(t, ActionSkip, result.Tasks[0].Action)
}

func TestPlan_FastModeRespectsGranularity(t *testing.T) {
	now := time.Now()
	src := regularEntry("a.txt", 10, now)
	src.MTimeGranularity = entry.GranularityFAT
	dst := regularEntry("a.txt", 10, now.Add(time.Second))

	result, err := Plan([]entry.Entry{src}, []entry.Entry{dst}, defaultOptions())
	require.NoError(t, err)
	assert.Equal(t, ActionSkip, result.Tasks[0].Action, "1s drift is within FAT granularity")
}

func TestPlan_DeletesLeftoverDestinationEntries(t *testing.T) {
	now := time.Now()
	src := []entry.Entry{regularEntry("keep.txt", 10, now)}
	dst := []entry.Entry{
		regularEntry("keep.txt", 10, now),
		regularEntry("stale.txt", 5, now),
	}

	opts := defaultOptions()
	opts.DeleteEnabled = true
	result, err := Plan(src, dst, opts)
	require.NoError(t, err)

	var deletes []Task
	for _, task := range result.Tasks {
		if task.Action == ActionDelete {
			deletes = append(deletes, task)
		}
	}
	require.Len(t, deletes, 1)
	assert.Equal(t, "stale.txt", deletes[0].RelativePath)
}

func TestPlan_RefusesDeletionBeyondCeiling(t *testing.T) {
	now := time.Now()
	dst := []entry.Entry{
		regularEntry("a.txt", 1, now),
		regularEntry("b.txt", 1, now),
		regularEntry("c.txt", 1, now),
	}

	opts := defaultOptions()
	opts.DeleteEnabled = true
	opts.DeleteCeiling = 0.2

	_, err := Plan(nil, dst, opts)
	require.Error(t, err, "deleting 100% of destination should exceed a 20% ceiling")
}

func TestPlan_ForceDeleteBypassesCeiling(t *testing.T) {
	now := time.Now()
	dst := []entry.Entry{regularEntry("a.txt", 1, now)}

	opts := defaultOptions()
	opts.DeleteEnabled = true
	opts.DeleteCeiling = 0.1
	opts.ForceDelete = true

	result, err := Plan(nil, dst, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesToDelete)
}

func TestPlan_KindMismatchRecreates(t *testing.T) {
	now := time.Now()
	src := []entry.Entry{regularEntry("node", 10, now)}
	dst := []entry.Entry{{RelativePath: "node", Kind: entry.KindDirectory}}

	result, err := Plan(src, dst, defaultOptions())
	require.NoError(t, err)
	require.Len(t, result.Tasks, 1)
	assert.Equal(t, ActionCopyFile, result.Tasks[0].Action)
	assert.NotNil(t, result.Tasks[0].Dest)
}

func TestPlan_HardlinkFamilyPropagatesToSecondary(t *testing.T) {
	now := time.Now()
	link := entry.LinkID{Device: 1, Inode: 42}
	primary := regularEntry("a/one.txt", 10, now)
	primary.Link = link
	primary.LinkCount = 2
	secondary := regularEntry("b/two.txt", 10, now)
	secondary.Link = link
	secondary.LinkCount = 2

	opts := defaultOptions()
	opts.PreserveHardlinks = true
	result, err := Plan([]entry.Entry{primary, secondary}, nil, opts)
	require.NoError(t, err)
	require.Len(t, result.Tasks, 2)
	assert.Equal(t, ActionCopyFile, result.Tasks[0].Action)
	assert.Equal(t, ActionHardlink, result.Tasks[1].Action)
	assert.Equal(t, "a/one.txt", result.Tasks[1].PrimaryPath)
}

func TestPlan_ChecksumModeUsesChecksumFunc(t *testing.T) {
	now := time.Now()
	src := []entry.Entry{regularEntry("a.txt", 10, now)}
	dst := []entry.Entry{regularEntry("a.txt", 10, now.Add(time.Hour))}

	opts := defaultOptions()
	opts.Compare = CompareChecksum
	opts.ChecksumFunc = func(relPath string, side Side) (string, error) {
		if side == SideSource {
			return "same", nil
		}
		return "same", nil
	}

	result, err := Plan(src, dst, opts)
	require.NoError(t, err)
	assert.Equal(t, ActionSkip, result.Tasks[0].Action, "identical checksums should skip despite mtime drift")
}

func TestPlan_LargeFileSelectsDeltaStrategy(t *testing.T) {
	now := time.Now()
	src := regularEntry("big.bin", 10<<20, now)
	dst := regularEntry("big.bin", 5<<20, now)

	result, err := Plan([]entry.Entry{src}, []entry.Entry{dst}, defaultOptions())
	require.NoError(t, err)
	assert.Equal(t, StrategyDeltaInPlace, result.Tasks[0].Strategy)
}
