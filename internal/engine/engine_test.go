package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nijaru/sy/internal/entry"
	"github.com/nijaru/sy/internal/events"
	"github.com/nijaru/sy/internal/plan"
	"github.com/nijaru/sy/internal/resume"
)

func nopEmitter() *events.Emitter { return events.NewEmitter(nil) }

func TestDirDepOf(t *testing.T) {
	assert.Equal(t, "", dirDepOf("a.txt"))
	assert.Equal(t, "a", dirDepOf("a/b.txt"))
	assert.Equal(t, "a/b", dirDepOf("a/b/c.txt"))
}

func TestRootFingerprint_StableForSamePath(t *testing.T) {
	a := rootFingerprint("/tmp/x")
	b := rootFingerprint("/tmp/x")
	assert.Equal(t, a, b)
}

func TestRootFingerprint_DiffersAcrossPaths(t *testing.T) {
	a := rootFingerprint("/tmp/x")
	b := rootFingerprint("/tmp/y")
	assert.NotEqual(t, a, b)
}

func TestOptionsDigest_ChangesWithDeleteCeiling(t *testing.T) {
	c1 := Config{DeleteCeiling: 0.5}
	c2 := Config{DeleteCeiling: 0.9}
	assert.NotEqual(t, optionsDigest(c1), optionsDigest(c2))
}

func TestOptionsDigest_StableAcrossUnrelatedFields(t *testing.T) {
	c1 := Config{SourceRoot: "/a", DeleteCeiling: 0.5}
	c2 := Config{SourceRoot: "/b", DeleteCeiling: 0.5}
	assert.Equal(t, optionsDigest(c1), optionsDigest(c2), "SourceRoot doesn't change sync semantics")
}

func TestDowngradeResumedTasks_SkipsMatchingCompletion(t *testing.T) {
	root := t.TempDir()
	state, _, err := resume.Load(root, "s", "d", "o")
	require.NoError(t, err)

	mtime := time.Unix(1_700_000_000, 0)
	state.RecordCompletion("a.txt", 10, mtime, "x")

	tasks := []plan.Task{
		{RelativePath: "a.txt", Action: plan.ActionUpdateFile, Source: &entry.Entry{Size: 10, ModTime: mtime}},
		{RelativePath: "b.txt", Action: plan.ActionCopyFile, Source: &entry.Entry{Size: 5, ModTime: mtime}},
	}
	downgradeResumedTasks(tasks, state)

	assert.Equal(t, plan.ActionSkip, tasks[0].Action)
	assert.Equal(t, plan.ActionCopyFile, tasks[1].Action)
}

func TestSummarizeDryRun_CountsByAction(t *testing.T) {
	tasks := []plan.Task{
		{RelativePath: "a.txt", Action: plan.ActionCopyFile, Source: &entry.Entry{Size: 10}},
		{RelativePath: "b.txt", Action: plan.ActionSkip},
		{RelativePath: "c.txt", Action: plan.ActionDelete},
	}
	summary := summarizeDryRun(tasks, nopEmitter())
	assert.Equal(t, int64(1), summary.FilesTransferred)
	assert.Equal(t, int64(1), summary.FilesSkipped)
	assert.Equal(t, int64(1), summary.FilesDeleted)
}
