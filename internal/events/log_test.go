package events

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T, opts LogOptions) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.log")
	l, err := OpenLog(path, opts)
	require.NoError(t, err)
	return l, path
}

func TestLog_AppendAndReadAll(t *testing.T) {
	l, _ := openTestLog(t, LogOptions{})

	for i := 0; i < 3; i++ {
		require.NoError(t, l.AppendEvent(New(NodeCreated, map[string]interface{}{"nodeId": fmt.Sprintf("task/n%d-aaaaaa", i)}), nil))
	}

	entries, err := l.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "task/n0-aaaaaa", entries[0].Event.Payload["nodeId"])
	assert.Equal(t, []string{}, entries[0].TriggersActivated)
	assert.NotEmpty(t, entries[0].ProcessedAt)
}

func TestLog_RotationByLineCount(t *testing.T) {
	l, path := openTestLog(t, LogOptions{MaxLines: 5, RotateCount: 3})

	for i := 0; i < 23; i++ {
		require.NoError(t, l.AppendEvent(New(NodeCreated, map[string]interface{}{"seq": float64(i)}), nil))
	}

	// At most rotateCount+1 files exist
	files := 1
	for n := 1; n <= 5; n++ {
		if _, err := os.Stat(fmt.Sprintf("%s.%d", path, n)); err == nil {
			require.LessOrEqual(t, n, 3, "no rotation beyond .3")
			files++
		}
	}
	assert.LessOrEqual(t, files, 4)

	// Entries survive in chronological order across the chain
	entries, err := l.ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	var prev float64 = -1
	for _, e := range entries {
		seq := e.Event.Payload["seq"].(float64)
		assert.Greater(t, seq, prev)
		prev = seq
	}
	assert.Equal(t, float64(22), prev, "newest entry is last")
}

func TestLog_RotationBySize(t *testing.T) {
	l, path := openTestLog(t, LogOptions{MaxBytes: 512, RotateCount: 2})

	for i := 0; i < 30; i++ {
		require.NoError(t, l.AppendEvent(New(NodeUpdated, map[string]interface{}{"filler": "0123456789abcdef0123456789abcdef"}), nil))
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(1024), "current file stays near the limit")
	_, err = os.Stat(path + ".1")
	assert.NoError(t, err, "rotation produced a tail file")
}

func TestLog_ReadByType(t *testing.T) {
	l, _ := openTestLog(t, LogOptions{})
	require.NoError(t, l.AppendEvent(New(NodeCreated, nil), nil))
	require.NoError(t, l.AppendEvent(New(NodeDeleted, nil), nil))
	require.NoError(t, l.AppendEvent(New(NodeCreated, nil), nil))

	entries, err := l.ReadByType(NodeCreated, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = l.ReadByType(NodeCreated, 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLog_ReadByNode(t *testing.T) {
	l, _ := openTestLog(t, LogOptions{})
	require.NoError(t, l.AppendEvent(New(NodeUpdated, map[string]interface{}{"nodeId": "task/a-111111"}), nil))
	require.NoError(t, l.AppendEvent(New(NodeDeleted, map[string]interface{}{"node": map[string]interface{}{"id": "task/b-222222"}}), nil))
	require.NoError(t, l.AppendEvent(New(NodeUpdated, map[string]interface{}{"nodeId": "task/c-333333"}), nil))

	entries, err := l.ReadByNode("task/b-222222", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, NodeDeleted, entries[0].Event.Type)
}

func TestLog_ReadByTimeRange(t *testing.T) {
	l, _ := openTestLog(t, LogOptions{})
	e1 := New(NodeCreated, nil)
	require.NoError(t, l.AppendEvent(e1, nil))

	entries, err := l.ReadByTimeRange(e1.Timestamp.Add(-time.Minute), e1.Timestamp.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	entries, err = l.ReadByTimeRange(e1.Timestamp.Add(time.Hour), e1.Timestamp.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLog_CorruptLinesDropped(t *testing.T) {
	l, path := openTestLog(t, LogOptions{})
	require.NoError(t, l.AppendEvent(New(NodeCreated, nil), nil))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{half a json line\n")
	require.NoError(t, err)
	f.Close()
	require.NoError(t, l.AppendEvent(New(NodeDeleted, nil), nil))

	entries, err := l.ReadAll()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestLog_Stats(t *testing.T) {
	l, _ := openTestLog(t, LogOptions{})
	require.NoError(t, l.AppendEvent(New(NodeCreated, nil), []string{"trigger-1"}))
	require.NoError(t, l.AppendEvent(New(NodeUpdated, nil), nil))

	stats, err := l.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Lines)
	assert.Greater(t, stats.Bytes, int64(0))
	assert.False(t, stats.Oldest.IsZero())
	assert.False(t, stats.Newest.Before(stats.Oldest))
}

func TestLog_ReopenCountsLines(t *testing.T) {
	l, path := openTestLog(t, LogOptions{MaxLines: 4})
	for i := 0; i < 3; i++ {
		require.NoError(t, l.AppendEvent(New(NodeCreated, nil), nil))
	}

	reopened, err := OpenLog(path, LogOptions{MaxLines: 4})
	require.NoError(t, err)
	stats, err := reopened.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Lines)
}
