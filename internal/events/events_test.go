package events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitter_ProducesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf)

	e.Start("/src", "/dst")
	e.Create("a.txt", 10, "full-copy")
	e.Skip("b.txt")
	e.Summary(Summary{FilesTransferred: 1, FilesSkipped: 1, ExitCode: 0})

	scanner := bufio.NewScanner(&buf)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 4)

	var last Event
	require.NoError(t, json.Unmarshal([]byte(lines[3]), &last))
	assert.Equal(t, TypeSummary, last.Type)
	assert.Equal(t, int64(1), last.FilesTransferred)
}

func TestEmitter_NilWriterIsNoOp(t *testing.T) {
	e := NewEmitter(nil)
	assert.NotPanics(t, func() {
		e.Create("a.txt", 1, "full-copy")
	})
}
